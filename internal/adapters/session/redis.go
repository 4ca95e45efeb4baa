package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/dkeye/voicehub/internal/core"
	"github.com/dkeye/voicehub/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const DefaultKeyPrefix = "session:"

// redisClient is the part of go-redis the validator needs.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisValidator resolves an opaque cookie token through Redis.
type RedisValidator struct {
	client redisClient
	cookie string
	prefix string
}

func NewRedisValidator(client redisClient, cookieName, prefix string) (*RedisValidator, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisValidator{client: client, cookie: cookieName, prefix: prefix}, nil
}

func (v *RedisValidator) Validate(ctx context.Context, r *http.Request) (domain.UserID, error) {
	c, err := r.Cookie(v.cookie)
	if err != nil || c.Value == "" {
		return 0, core.ErrMissingCredential
	}

	val, err := v.client.Get(ctx, v.prefix+c.Value).Result()
	if errors.Is(err, redis.Nil) {
		return 0, core.ErrInvalidSession
	}
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.session").Msg("redis get")
		return 0, fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err)
	}

	uid, err := domain.ParseUserID(val)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", core.ErrInvalidSession, err)
	}
	return uid, nil
}

// NewRedisClient opens a client and checks it with PING.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
