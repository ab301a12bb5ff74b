package config

import (
	"context"

	"github.com/innerfs/innerfs/internal/blob"
	ifserrors "github.com/innerfs/innerfs/pkg/errors"
)

// BuildBackend constructs the concrete blob.Backend a BackendConfig
// describes, dispatching on its Kind exactly as Validate already checked it
// must be one of "local", "s3", "sqlar", "kv".
func BuildBackend(ctx context.Context, c BackendConfig) (blob.Backend, error) {
	switch c.Kind {
	case "local":
		return blob.NewLocalBackend(c.Path)
	case "s3":
		if c.S3 == nil {
			return nil, ifserrors.New(ifserrors.KindIncompatibleConfig, "backend kind s3 requires an s3 section").WithComponent("config")
		}
		return blob.NewS3Backend(ctx, c.Path, *c.S3)
	case "sqlar":
		return blob.NewSQLArBackend(c.Path)
	case "kv":
		return blob.NewKVBackend(c.Path)
	default:
		return nil, ifserrors.New(ifserrors.KindIncompatibleConfig, "unknown backend kind: "+c.Kind).WithComponent("config")
	}
}

// BuildBackends constructs the primary backend and every configured
// replica, in declared order, matching the replicated blob pipeline's
// fan-out ordering.
func BuildBackends(ctx context.Context, c *Configuration) (primary blob.Backend, replicas []blob.Backend, err error) {
	primary, err = BuildBackend(ctx, c.Backend)
	if err != nil {
		return nil, nil, err
	}
	for _, rc := range c.Replicas {
		r, err := BuildBackend(ctx, rc)
		if err != nil {
			return nil, nil, err
		}
		replicas = append(replicas, r)
	}
	return primary, replicas, nil
}
