// Package pipeline implements the replicated blob pipeline component: it
// turns an inode's in-memory body into content-addressed, codec-chained
// objects written synchronously to a primary backend and, in order, every
// configured replica, with dedup against an existing unencrypted twin and
// reference-counted orphan body cleanup on overwrite or delete.
package pipeline

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"strconv"

	"github.com/innerfs/innerfs/internal/blob"
	"github.com/innerfs/innerfs/internal/circuit"
	"github.com/innerfs/innerfs/internal/codec"
	"github.com/innerfs/innerfs/internal/metadata"
	ifserrors "github.com/innerfs/innerfs/pkg/errors"
	"github.com/innerfs/innerfs/pkg/retry"
)

// Config carries the reconciled, persistent-settings-locked knobs the
// pipeline needs: whether bodies are named by content hash or by path,
// whether (and under which key) bodies are encrypted, the default
// compression level newly-written bodies get, and whether directory/body
// mutations are journaled.
type Config struct {
	UseHashAsFilename bool
	EncryptionKey     string
	DefaultCompress   int
	ChangeJournal     bool
}

// Pipeline coordinates one primary backend and zero or more replicas behind
// a single content-addressed write path.
type Pipeline struct {
	primary  blob.Backend
	replicas []blob.Backend
	store    *metadata.Store
	cfg      Config
	retryer  *retry.Retryer
	breakers *circuit.Manager
}

// New builds a Pipeline. retryConfig governs both the primary and replica
// upload attempts; pass retry.DefaultConfig() for the default backoff
// policy.
func New(primary blob.Backend, replicas []blob.Backend, store *metadata.Store, cfg Config, retryConfig retry.Config) *Pipeline {
	return &Pipeline{
		primary:  primary,
		replicas: replicas,
		store:    store,
		cfg:      cfg,
		retryer:  retry.New(retryConfig),
		breakers: circuit.NewManager(circuit.Config{}),
	}
}

func hashAndSize(body []byte) (string, int64) {
	sum := sha512.Sum512(body)
	return hex.EncodeToString(sum[:]), int64(len(body))
}

// Flush encodes body through the codec chain, uploads it to the primary and
// every replica (skipping the upload entirely on a dedup hit), then updates
// the inode row. inode must be the caller's most recently read copy; Flush
// does not re-fetch it.
func (p *Pipeline) Flush(ctx context.Context, inode *metadata.Inode, body []byte) error {
	var sha string
	var size int64
	if len(body) > 0 {
		sha, size = hashAndSize(body)
	}

	// Self-shortcut: re-flushing byte-identical content (including staying
	// empty) is a no-op upload even under encryption, since the existing
	// object and its per-blob key are already correct.
	if sha == inode.SHA512 && size == inode.Size {
		return p.store.WithTx(ctx, func(tx *metadata.Tx) error {
			return tx.UpdateBody(ctx, inode.ID, inode.SHA512, inode.Size, inode.EncryptionKey, inode.Compression, metadata.Now())
		})
	}

	oldObjectName := ""
	if inode.SHA512 != "" {
		name, err := p.objectName(ctx, inode.SHA512, inode.ID)
		if err != nil {
			return err
		}
		oldObjectName = name
	}

	var descriptor, token, newObjectName string
	if len(body) > 0 {
		level := p.cfg.DefaultCompress
		if inode.Compression != "" {
			parsed, err := codec.ParseDescriptor(inode.Compression)
			if err != nil {
				return err
			}
			level = parsed
		}

		var dedupTwin *metadata.Inode
		if p.cfg.EncryptionKey == "" && p.cfg.UseHashAsFilename {
			err := p.store.WithTx(ctx, func(tx *metadata.Tx) error {
				twin, err := tx.FindDedupTwin(ctx, sha, size, codec.Descriptor(level), inode.ID)
				if err != nil {
					return err
				}
				dedupTwin = twin
				return nil
			})
			if err != nil {
				return err
			}
		}

		if dedupTwin != nil {
			descriptor, token = dedupTwin.Compression, dedupTwin.EncryptionKey
			name, err := p.objectName(ctx, sha, inode.ID)
			if err != nil {
				return err
			}
			newObjectName = name
		} else {
			encoded, desc, tok, err := codec.Chain(body, level, p.cfg.EncryptionKey)
			if err != nil {
				return err
			}
			descriptor, token = desc, tok

			name, err := p.objectName(ctx, sha, inode.ID)
			if err != nil {
				return err
			}
			newObjectName = name
			if err := p.upload(ctx, name, encoded); err != nil {
				return err
			}
		}
	}
	// An empty body stores no object and, per the inode invariant, a bare
	// sha512/encryption_key/compression of "".

	if err := p.store.WithTx(ctx, func(tx *metadata.Tx) error {
		if err := tx.UpdateBody(ctx, inode.ID, sha, size, token, descriptor, metadata.Now()); err != nil {
			return err
		}
		if p.cfg.ChangeJournal {
			if err := tx.AppendChange(ctx, inode.ID, inode.Version+1, metadata.ChangeUpdated, sha, metadata.Now()); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return err
	}

	// The inode's body identity just changed (its content, hence object
	// name under hash-form naming, or simply became empty). The previous
	// object, if any and if distinct from the new one, may now be
	// referenced by no other inode.
	if oldObjectName != "" && oldObjectName != newObjectName {
		if err := p.PurgeOrphanBody(ctx, inode.SHA512, inode.EncryptionKey, inode.Compression, oldObjectName); err != nil {
			return err
		}
	}
	return nil
}

// Read fetches an inode's body from the primary backend, decodes it through
// the codec chain, and verifies the plaintext SHA-512 still matches the
// inode row, surfacing any mismatch as KindIntegrityFailure.
func (p *Pipeline) Read(ctx context.Context, inode *metadata.Inode) ([]byte, error) {
	if inode.SHA512 == "" {
		return nil, nil
	}
	name, err := p.objectName(ctx, inode.SHA512, inode.ID)
	if err != nil {
		return nil, err
	}

	encoded, err := p.primary.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	plain, err := codec.Unchain(encoded, inode.Compression, inode.EncryptionKey, p.cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}

	sum := sha512.Sum512(plain)
	if hex.EncodeToString(sum[:]) != inode.SHA512 {
		return nil, ifserrors.New(ifserrors.KindIntegrityFailure, "stored body does not match recorded checksum").
			WithComponent("pipeline").WithPath(name)
	}
	return plain, nil
}

// objectName derives the flat object-namespace name a body is stored under:
// the hex content hash, or the inode's current path with UseHashAsFilename
// off.
func (p *Pipeline) objectName(ctx context.Context, sha512 string, inodeID uint64) (string, error) {
	if p.cfg.UseHashAsFilename {
		return sha512, nil
	}
	return p.store.PathOf(ctx, inodeID)
}

// upload writes encoded to the primary, then to every replica in
// configuration order, each attempt wrapped in a retryer and a per-backend
// circuit breaker. Any failure aborts without touching metadata; a later
// retry safely re-uploads the same content-addressed bytes.
func (p *Pipeline) upload(ctx context.Context, name string, encoded []byte) error {
	if err := p.callWithBreaker(ctx, "primary", func(ctx context.Context) error {
		return p.primary.Put(ctx, name, encoded)
	}); err != nil {
		return err
	}
	for i, replica := range p.replicas {
		r := replica
		breakerName := replicaBreakerName(i)
		if err := p.callWithBreaker(ctx, breakerName, func(ctx context.Context) error {
			return r.Put(ctx, name, encoded)
		}); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) callWithBreaker(ctx context.Context, name string, fn func(context.Context) error) error {
	breaker := p.breakers.GetBreaker(name)
	err := breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		return p.retryer.Do(ctx, fn)
	})
	if err == circuit.ErrOpenState || err == circuit.ErrTooManyRequests {
		return ifserrors.Wrap(ifserrors.KindBackendIO, err, "backend unavailable").
			WithComponent("pipeline").WithOp(name)
	}
	return err
}

func replicaBreakerName(i int) string {
	return "replica-" + strconv.Itoa(i)
}

// FreeSpace reports the primary backend's free space on a best-effort
// basis, or zero if the backend doesn't know (object stores, the sqlar and
// embedded KV backends), per the statfs operation's contract.
func (p *Pipeline) FreeSpace(ctx context.Context) uint64 {
	reporter, ok := p.primary.(blob.SpaceReporter)
	if !ok {
		return 0
	}
	bytes, ok := reporter.FreeSpace(ctx)
	if !ok {
		return 0
	}
	return bytes
}

// PurgeOrphanBody deletes a deleted inode's body from the primary and every
// replica if no other live inode still references it by (sha512,
// encryptionKey, compression). Called by the façade after resolver.Unlink
// or resolver.Rename report an orphaned inode, and by Flush for a body's
// previous object name.
func (p *Pipeline) PurgeOrphanBody(ctx context.Context, sha512, encryptionKey, compression, objectName string) error {
	if sha512 == "" {
		return nil
	}
	n, err := p.store.CountBodyReferences(ctx, sha512, encryptionKey, compression, 0)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if err := p.primary.Delete(ctx, objectName); err != nil {
		return err
	}
	for _, r := range p.replicas {
		if err := r.Delete(ctx, objectName); err != nil {
			return err
		}
	}
	return nil
}
