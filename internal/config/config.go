// Package config implements InnerFS's configuration reconciliation
// component: a YAML-loadable Configuration describing which blob backends,
// naming scheme, encryption, compression and replication a mount uses, and
// a Reconcile step that locks a subset of those choices into the metadata
// store's persistent_settings table the first time a repository is opened,
// refusing a later mount that disagrees with them.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/innerfs/innerfs/internal/blob"
	"github.com/innerfs/innerfs/internal/metadata"
	ifserrors "github.com/innerfs/innerfs/pkg/errors"
	"github.com/innerfs/innerfs/pkg/retry"
)

// Configuration is the complete, YAML-serializable description of a mount.
type Configuration struct {
	Mount             MountConfig       `yaml:"mount"`
	Backend           BackendConfig     `yaml:"backend"`
	Replicas          []BackendConfig   `yaml:"replicas"`
	UseHashAsFilename bool              `yaml:"use_hash_as_filename"`
	Encryption        EncryptionConfig  `yaml:"encryption"`
	Compression       CompressionConfig `yaml:"compression"`
	ChangeJournal     bool              `yaml:"change_journal"`
	PathCache         PathCacheConfig   `yaml:"path_cache"`
	Retry             retry.Config      `yaml:"retry"`
	Logging           LoggingConfig     `yaml:"logging"`
}

// MountConfig locates the repository: where its metadata database lives and
// where it is mounted.
type MountConfig struct {
	DatabasePath string `yaml:"database_path"`
	Mountpoint   string `yaml:"mountpoint"`
}

// BackendConfig selects and configures one blob backend. Kind is one of
// "local", "s3", "sqlar", "kv".
type BackendConfig struct {
	Kind string         `yaml:"kind"`
	Path string         `yaml:"path,omitempty"`
	S3   *blob.S3Config `yaml:"s3,omitempty"`
}

// EncryptionConfig turns on per-blob AES-256-GCM encryption under a
// PBKDF2-derived key.
type EncryptionConfig struct {
	Enabled bool   `yaml:"enabled"`
	Key     string `yaml:"key,omitempty"`
}

// CompressionConfig sets the gzip level newly-written bodies get by
// default; encryption still forces it to 0 regardless of this setting.
type CompressionConfig struct {
	Enabled bool `yaml:"enabled"`
	Level   int  `yaml:"level"`
}

// PathCacheConfig sizes the name resolver's path cache.
type PathCacheConfig struct {
	Capacity int           `yaml:"capacity"`
	TTL      time.Duration `yaml:"ttl"`
}

// LoggingConfig selects the ambient structured logger's level and format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// NewDefault returns a configuration usable as a starting point for
// generate-config: a single local-directory backend, no replicas, no
// encryption, light compression, hash-based naming.
func NewDefault() *Configuration {
	return &Configuration{
		Mount: MountConfig{
			DatabasePath: "./innerfs.db",
			Mountpoint:   "./mnt",
		},
		Backend: BackendConfig{
			Kind: "local",
			Path: "./blobs",
		},
		UseHashAsFilename: true,
		Encryption: EncryptionConfig{
			Enabled: false,
		},
		Compression: CompressionConfig{
			Enabled: true,
			Level:   6,
		},
		ChangeJournal: true,
		PathCache: PathCacheConfig{
			Capacity: 4096,
			TTL:      5 * time.Minute,
		},
		Retry:   retry.DefaultConfig(),
		Logging: LoggingConfig{Level: "INFO", Format: "text"},
	}
}

// LoadFromFile loads a Configuration from a YAML file.
func LoadFromFile(filename string) (*Configuration, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	c := NewDefault()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return c, nil
}

// SaveToFile writes c to filename as YAML, creating parent directories as
// needed.
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

var validBackendKinds = map[string]bool{"local": true, "s3": true, "sqlar": true, "kv": true}

// Validate checks that c describes a loadable configuration. It does not
// touch the metadata store; see Reconcile for the locked-settings check.
func (c *Configuration) Validate() error {
	if !validBackendKinds[c.Backend.Kind] {
		return fmt.Errorf("invalid backend kind: %q", c.Backend.Kind)
	}
	for i, r := range c.Replicas {
		if !validBackendKinds[r.Kind] {
			return fmt.Errorf("invalid replica[%d] kind: %q", i, r.Kind)
		}
	}
	if c.Compression.Level < 0 || c.Compression.Level > 9 {
		return fmt.Errorf("compression level must be 0..9, got %d", c.Compression.Level)
	}
	if c.Encryption.Enabled && c.Encryption.Key == "" {
		return fmt.Errorf("encryption is enabled but no key is set")
	}
	return nil
}

// schemaVersion is the persistent_settings schema-version marker bumped
// whenever the locked-setting set changes shape.
const schemaVersion = "1"

// lockedSettings returns the subset of c that is locked into
// persistent_settings the first time a repository is opened: storage
// backend kind, the naming scheme, whether encryption is on, and the
// compression algorithm family. Compression level and backend endpoints are
// free to change between mounts and are not included here.
func (c *Configuration) lockedSettings() map[string]string {
	family := "none"
	if c.Compression.Enabled {
		family = "gzip"
	}
	return map[string]string{
		"schema_version":       schemaVersion,
		"storage_backend":      c.Backend.Kind,
		"use_hash_as_filename": strconv.FormatBool(c.UseHashAsFilename),
		"encryption_enabled":   strconv.FormatBool(c.Encryption.Enabled),
		"compression_family":   family,
	}
}

// Reconcile locks c's naming/backend/encryption/compression-family choices
// into store's persistent_settings on first open, and fails with
// KindIncompatibleConfig if a later mount disagrees with an already-locked
// value. Encrypted stores must use hash-based naming (path-form names would
// leak the plaintext directory structure); Reconcile enforces that by
// forcing UseHashAsFilename on rather than failing startup over it.
func Reconcile(ctx context.Context, store *metadata.Store, c *Configuration) error {
	if c.Encryption.Enabled && !c.UseHashAsFilename {
		c.UseHashAsFilename = true
	}
	if err := c.Validate(); err != nil {
		return ifserrors.Wrap(ifserrors.KindIncompatibleConfig, err, "validate configuration").WithComponent("config")
	}
	for key, value := range c.lockedSettings() {
		if err := store.SetSettingOnce(ctx, key, value); err != nil {
			return err
		}
	}
	return nil
}
