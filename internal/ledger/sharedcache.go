// internal/ledger/sharedcache.go
package ledger

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"quotagate/internal/common/logger"
	"quotagate/internal/store"
)

// SharedCache mirrors ledger records in redis so multiple instances see each
// other's writes sooner than their next database read. It is an optional
// scope extension: single-instance deployments run without it and accept the
// documented cross-instance incoherence window instead.
type SharedCache struct {
	client *redis.Client
	ttl    time.Duration
	logger logger.Logger
}

func NewSharedCache(client *redis.Client, ttl time.Duration, log logger.Logger) *SharedCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &SharedCache{client: client, ttl: ttl, logger: log}
}

func sharedKey(userID int64) string {
	return "ledger:user:" + strconv.FormatInt(userID, 10)
}

// Get returns the mirrored record, or ok=false on miss or any redis error.
// The shared cache only ever reduces database reads; it never blocks a
// request.
func (s *SharedCache) Get(ctx context.Context, userID int64) (*store.UserRecord, bool) {
	val, err := s.client.Get(ctx, sharedKey(userID)).Result()
	if err != nil {
		return nil, false
	}

	var rec store.UserRecord
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		s.logger.Warn("corrupt shared cache entry, ignoring", map[string]interface{}{
			"userId": userID, "error": err.Error(),
		})
		return nil, false
	}
	return &rec, true
}

func (s *SharedCache) Set(ctx context.Context, rec *store.UserRecord) {
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := s.client.Set(ctx, sharedKey(rec.UserID), data, s.ttl).Err(); err != nil {
		s.logger.Warn("shared cache write failed", map[string]interface{}{
			"userId": rec.UserID, "error": err.Error(),
		})
	}
}

func (s *SharedCache) Delete(ctx context.Context, userID int64) {
	if err := s.client.Del(ctx, sharedKey(userID)).Err(); err != nil {
		s.logger.Warn("shared cache delete failed", map[string]interface{}{
			"userId": userID, "error": err.Error(),
		})
	}
}
