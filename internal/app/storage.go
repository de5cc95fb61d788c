package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/acolita/rotinas/internal/config"
	"github.com/acolita/rotinas/internal/ports"
	"github.com/acolita/rotinas/internal/repository"
	"github.com/acolita/rotinas/internal/storage"
)

// openRepository builds the script repository for the configured backend.
func (a *App) openRepository(ctx context.Context) (ports.ScriptRepository, error) {
	st := a.cfg.Storage
	switch st.Backend {
	case config.BackendDir:
		rc := a.cfg.Repository
		opts := []repository.DirOption{repository.WithDirLogger(a.logger)}
		if rc.WritablePublic {
			opts = append(opts, repository.WithWritablePublic())
		}
		a.repoDir = repository.NewDir(config.ExpandHome(rc.UserDir), config.ExpandHome(rc.PublicDir), opts...)
		return a.repoDir, nil

	case config.BackendFile:
		return repository.NewKV(storage.NewFileStore(a.fs, config.ExpandHome(st.File))), nil

	case config.BackendRedis:
		rs := storage.NewRedisStore(st.Redis.Addr, a.secret(st.Redis.PasswordEnv), st.Redis.DB,
			storage.WithPrefix(st.Redis.Prefix))
		if err := rs.Ping(ctx); err != nil {
			rs.Close()
			return nil, fmt.Errorf("redis %s: %w", st.Redis.Addr, err)
		}
		a.addCloser(rs.Close)
		a.logger.Info("scripts stored in redis", slog.String("addr", st.Redis.Addr))
		return repository.NewKV(rs), nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", st.Backend)
	}
}
