// internal/store/store.go
package store

import (
	"context"
	"time"

	"quotagate/internal/common/config"
	"quotagate/internal/common/logger"
	"quotagate/internal/common/metrics"
)

// Backend identifies which persistence implementation was selected at startup.
type Backend string

const (
	BackendPostgres Backend = "postgres"
	BackendFile     Backend = "file"
)

// Store is the persistence gateway over user ledger records and plan
// definitions. Absent records are reported as (nil, nil), never as an error.
// Implementations convert raw I/O failures into errors at this boundary; the
// policy and lifecycle layers never see driver-level errors.
type Store interface {
	GetUser(ctx context.Context, userID int64) (*UserRecord, error)
	CreateUser(ctx context.Context, userID int64) (*UserRecord, error)
	UpdateUser(ctx context.Context, userID int64, upd UserUpdate) error
	Plans(ctx context.Context) (map[string]Plan, error)
	AddPurchasedTokens(ctx context.Context, userID int64, amount int) error
	AddPurchasedVisionRequests(ctx context.Context, userID int64, amount int) error
	UpdateProfile(ctx context.Context, userID int64, fullName, profileLink, phone string) error
	Backend() Backend
	Close() error
}

// Open selects the persistence backend for the process lifetime. It attempts
// the pooled Postgres backend first and, if construction or schema setup
// fails, permanently switches to the flat-file backend. The failover is
// one-time and one-directional: it is never re-attempted live.
func Open(cfg *config.Config, log logger.Logger) Store {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pg, err := NewPostgresStore(ctx, cfg.Database.Postgres, log)
	if err == nil {
		log.Info("postgres backend selected", map[string]interface{}{
			"host": cfg.Database.Postgres.Host,
			"db":   cfg.Database.Postgres.Database,
		})
		metrics.StorageBackend.WithLabelValues(string(BackendPostgres)).Set(1)
		return pg
	}

	log.Warn("postgres unavailable, switching to file backend", map[string]interface{}{
		"error": err.Error(),
		"file":  cfg.Storage.UsersFile,
	})

	fs := NewFileStore(cfg.Storage.UsersFile, log)
	metrics.StorageBackend.WithLabelValues(string(BackendFile)).Set(1)
	return fs
}
