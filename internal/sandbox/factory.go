package sandbox

import (
	"context"
	"path"

	"github.com/Iron-Ham/boltkit/internal/backend"
	"github.com/Iron-Ham/boltkit/internal/backend/local"
	"github.com/Iron-Ham/boltkit/internal/backend/remote"
	"github.com/Iron-Ham/boltkit/internal/config"
	"github.com/Iron-Ham/boltkit/internal/errors"
	"github.com/Iron-Ham/boltkit/internal/logging"
)

// Factory boots a backend. It is called at most once per Holder.
type Factory func(ctx context.Context) (backend.Backend, error)

// FromConfig returns a Factory building the backend cfg selects.
func FromConfig(cfg *config.Config, logger *logging.Logger) Factory {
	return func(ctx context.Context) (backend.Backend, error) {
		switch cfg.Backend.Kind {
		case config.BackendLocal, "":
			root, err := cfg.ResolveWorkDir()
			if err != nil {
				return nil, errors.Wrap(err, "failed to resolve workdir")
			}
			return local.New(local.Options{
				Root:    root,
				Shell:   cfg.Local.Shell,
				UsePTY:  cfg.Local.UsePTY,
				PTYCols: cfg.Local.PTYCols,
				PTYRows: cfg.Local.PTYRows,
				Ignore:  cfg.Watch.Ignore,
				Logger:  logger,
			})

		case config.BackendRemote:
			// A relative workdir only makes sense on the host; the remote
			// sandbox then uses its own default.
			workDir := cfg.WorkDir
			if !path.IsAbs(workDir) {
				workDir = ""
			}
			return remote.New(remote.Options{
				BaseURL: cfg.Remote.BaseURL,
				APIKey:  cfg.Remote.APIKey,
				WorkDir: workDir,
				Retry: remote.RetryPolicy{
					MaxAttempts:    cfg.Remote.MaxAttempts,
					InitialBackoff: cfg.Remote.InitialBackoff(),
					Multiplier:     cfg.Remote.BackoffMultiplier,
				},
				PollInterval:  cfg.Remote.PollInterval(),
				WatchInterval: cfg.Watch.PollInterval(),
				QuickTimeout:  cfg.Remote.QuickTimeout(),
				LongTimeout:   cfg.Remote.LongTimeout(),
				Ignore:        cfg.Watch.Ignore,
				Logger:        logger,
			})
		}
		return nil, errors.NewBackendError(errors.KindNotSupported, "boot", nil).
			WithBackend(cfg.Backend.Kind).
			WithMessage("unknown backend kind " + cfg.Backend.Kind)
	}
}
