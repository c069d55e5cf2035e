package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rpattn/crmimport/internal/repository"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "crmimport:workspace:"

// RedisStore keeps workspaces as JSON values with an expiry, so several
// service instances can share sessions.
type RedisStore struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// NewRedisStore wraps an existing client. A non-positive ttl uses DefaultTTL.
func NewRedisStore(rdb redis.UniversalClient, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func redisKey(sessionID int64) string {
	return redisKeyPrefix + strconv.FormatInt(sessionID, 10)
}

func (s *RedisStore) Save(ctx context.Context, ws Workspace) error {
	payload, err := json.Marshal(ws)
	if err != nil {
		return fmt.Errorf("marshal workspace %d: %w", ws.SessionID, err)
	}
	if err := s.rdb.Set(ctx, redisKey(ws.SessionID), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("save workspace %d: %w: %w", ws.SessionID, repository.ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, sessionID int64) (Workspace, error) {
	payload, err := s.rdb.GetEx(ctx, redisKey(sessionID), s.ttl).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Workspace{}, ErrWorkspaceNotFound
		}
		return Workspace{}, fmt.Errorf("load workspace %d: %w: %w", sessionID, repository.ErrUnavailable, err)
	}
	var ws Workspace
	if err := json.Unmarshal(payload, &ws); err != nil {
		return Workspace{}, fmt.Errorf("decode workspace %d: %w", sessionID, err)
	}
	return ws, nil
}

func (s *RedisStore) Delete(ctx context.Context, sessionID int64) error {
	if err := s.rdb.Del(ctx, redisKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("delete workspace %d: %w: %w", sessionID, repository.ErrUnavailable, err)
	}
	return nil
}
