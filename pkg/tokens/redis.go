package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"github.com/polisai/taskgate/pkg/domain"
)

// DefaultRedisKey is the key the pair is stored under when none is configured.
const DefaultRedisKey = "taskgate:tokens"

// RedisConfig holds connection settings for the shared token store.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	Key          string        `yaml:"key"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	MaxRetries   uint64        `yaml:"max_retries"`
}

// NewRedisClient connects to redis and waits for it to answer PING, retrying with
// exponential backoff.
func NewRedisClient(ctx context.Context, cfg RedisConfig, logger *slog.Logger) (*redis.Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Addr == "" {
		return nil, fmt.Errorf("%w: redis address is required", domain.ErrConfigInvalid)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	retries := cfg.MaxRetries
	if retries == 0 {
		retries = 5
	}

	attempt := 0
	ping := func() error {
		attempt++
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis not reachable, retrying", "addr", cfg.Addr, "attempt", attempt, "error", err)
			return err
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), retries), ctx)
	if err := backoff.Retry(ping, policy); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Addr, err)
	}

	logger.Info("connected to redis", "addr", cfg.Addr, "db", cfg.DB)
	return client, nil
}

// RedisPersistence stores the pair as a JSON value so several gateway replicas share
// one session.
type RedisPersistence struct {
	client redis.UniversalClient
	key    string
}

// NewRedisPersistence wraps an existing client.
func NewRedisPersistence(client redis.UniversalClient, key string) *RedisPersistence {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisPersistence{client: client, key: key}
}

// Load reads the stored pair.
func (r *RedisPersistence) Load(ctx context.Context) (domain.TokenPair, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.TokenPair{}, ErrNoTokens
	}
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("redis get %s: %w", r.key, err)
	}

	var pair domain.TokenPair
	if err := json.Unmarshal(data, &pair); err != nil {
		return domain.TokenPair{}, fmt.Errorf("decode tokens from redis: %w", err)
	}
	if pair.IsZero() {
		return domain.TokenPair{}, ErrNoTokens
	}
	return pair, nil
}

// Save overwrites the stored pair. The key has no expiry; the backend decides when the
// refresh token stops working.
func (r *RedisPersistence) Save(ctx context.Context, pair domain.TokenPair) error {
	data, err := json.Marshal(pair)
	if err != nil {
		return fmt.Errorf("encode tokens: %w", err)
	}
	if err := r.client.Set(ctx, r.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", r.key, err)
	}
	return nil
}

// Delete removes the stored pair.
func (r *RedisPersistence) Delete(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", r.key, err)
	}
	return nil
}

// Ping reports whether redis answers.
func (r *RedisPersistence) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
