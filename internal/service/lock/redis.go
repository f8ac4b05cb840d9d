package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const lockPrefix = "submission:lock:"

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript refreshes the TTL only while the key still holds our token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

type RedisConfig struct {
	TTL          time.Duration
	RetryBackoff time.Duration
}

// redisLocker is a Locker shared between service replicas. The TTL bounds how
// long a crashed holder can block an assignment; a live holder keeps
// extending it every TTL/3 until release.
type redisLocker struct {
	client redis.UniversalClient
	config RedisConfig
	logger zerolog.Logger
}

func NewRedisLocker(client redis.UniversalClient, config RedisConfig, logger zerolog.Logger) Locker {
	if config.TTL <= 0 {
		config.TTL = 30 * time.Second
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = 50 * time.Millisecond
	}

	return &redisLocker{
		client: client,
		config: config,
		logger: logger,
	}
}

func (l *redisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := lockPrefix + key
	token := uuid.New().String()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.config.TTL).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.Join(ErrLockTimeout, ctx.Err())
			}
			return nil, fmt.Errorf("failed to acquire lock: %w", err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(l.config.RetryBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errors.Join(ErrLockTimeout, ctx.Err())
		case <-timer.C:
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(redisKey, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			l.release(redisKey, token)
		})
	}, nil
}

func (l *redisLocker) keepAlive(redisKey, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(l.config.TTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), l.config.TTL/3)
		held, err := extendScript.Run(ctx, l.client, []string{redisKey}, token, l.config.TTL.Milliseconds()).Int()
		cancel()

		if err != nil {
			l.logger.Warn().Err(err).Str("key", redisKey).Msg("Failed to extend assignment lock")
			continue
		}
		if held == 0 {
			l.logger.Error().Str("key", redisKey).Msg("Assignment lock lost before release")
			return
		}
	}
}

func (l *redisLocker) release(redisKey, token string) {
	releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := releaseScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		l.logger.Error().Err(err).Str("key", redisKey).Msg("Failed to release assignment lock")
	}
}
