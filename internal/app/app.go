// Package app wires the core components (metadata store, blob backends,
// codec-aware replicated pipeline, name resolver, handle table, façade)
// into one open repository, the assembly every cmd/innerfs subcommand
// needs before it can call into the filesystem operations façade. nuke and
// export-index do not go through Open: they open the metadata store (and,
// for nuke, the blob backends) directly.
package app

import (
	"context"

	"github.com/innerfs/innerfs/internal/config"
	"github.com/innerfs/innerfs/internal/filesystem"
	"github.com/innerfs/innerfs/internal/metadata"
	"github.com/innerfs/innerfs/internal/metrics"
	"github.com/innerfs/innerfs/internal/pipeline"
	"github.com/innerfs/innerfs/internal/resolver"
	"github.com/innerfs/innerfs/pkg/logging"
)

// App is an opened InnerFS repository: its metadata store, backends,
// pipeline and façade, plus everything needed to close it cleanly.
type App struct {
	Config   *config.Configuration
	Store    *metadata.Store
	Facade   *filesystem.Facade
	Pipeline *pipeline.Pipeline
	Resolver *resolver.Resolver
	Logger   *logging.Logger
	Metrics  *metrics.Collector

	primary  primaryCloser
	replicas []primaryCloser
}

type primaryCloser interface{ Close() error }

// Open loads cfg, opens the metadata store, reconciles persistent settings
// against it, builds the configured backends and assembles the façade.
// Callers must call Close when done.
func Open(ctx context.Context, cfg *config.Configuration) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	level, err := logging.ParseLogLevel(cfg.Logging.Level)
	if err != nil {
		level = logging.INFO
	}
	format := logging.FormatText
	if cfg.Logging.Format == "json" {
		format = logging.FormatJSON
	}
	log := logging.New(&logging.Config{Level: level, Format: format, IncludeCaller: false})

	store, err := metadata.Open(cfg.Mount.DatabasePath)
	if err != nil {
		return nil, err
	}

	if err := config.Reconcile(ctx, store, cfg); err != nil {
		store.Close()
		return nil, err
	}

	primary, replicas, err := config.BuildBackends(ctx, cfg)
	if err != nil {
		store.Close()
		return nil, err
	}

	mc, err := metrics.NewCollector(&metrics.Config{Enabled: true, Namespace: "innerfs", Path: "/metrics"})
	if err != nil {
		log.Warn("metrics collector disabled", map[string]interface{}{"error": err.Error()})
		mc = nil
	}

	encryptionKey := ""
	if cfg.Encryption.Enabled {
		encryptionKey = cfg.Encryption.Key
	}
	compressLevel := 0
	if cfg.Compression.Enabled {
		compressLevel = cfg.Compression.Level
	}

	pl := pipeline.New(primary, replicas, store, pipeline.Config{
		UseHashAsFilename: cfg.UseHashAsFilename,
		EncryptionKey:     encryptionKey,
		DefaultCompress:   compressLevel,
		ChangeJournal:     cfg.ChangeJournal,
	}, cfg.Retry)

	cache := resolver.NewPathCache(cfg.PathCache.Capacity, cfg.PathCache.TTL)
	res := resolver.New(store, cache, cfg.UseHashAsFilename, cfg.ChangeJournal, mc)

	facade := filesystem.New(store, res, pl, log, mc)

	replicaClosers := make([]primaryCloser, len(replicas))
	for i, r := range replicas {
		replicaClosers[i] = r
	}

	return &App{
		Config: cfg, Store: store, Facade: facade, Pipeline: pl, Resolver: res,
		Logger: log, Metrics: mc, primary: primary, replicas: replicaClosers,
	}, nil
}

// Close releases the metadata store and every backend's resources.
func (a *App) Close() error {
	var firstErr error
	if err := a.primary.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	for _, r := range a.replicas {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := a.Store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
