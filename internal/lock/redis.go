package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var ErrLockTimeout = errors.New("lock wait timed out")

// releaseScript deletes the key only when it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a SET NX PX lock shared by every replica pointed at the same server.
type Redis struct {
	Client *redis.Client
	Prefix string
	TTL    time.Duration
	Wait   time.Duration
	Logger *zap.Logger
}

func NewRedis(opt *redis.Options, prefix string, ttl, wait time.Duration, logger *zap.Logger) *Redis {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if wait <= 0 {
		wait = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{Client: redis.NewClient(opt), Prefix: prefix, TTL: ttl, Wait: wait, Logger: logger}
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	fullKey := r.Prefix + key
	token := uuid.NewString()
	deadline := time.Now().Add(r.Wait)
	backoff := 10 * time.Millisecond
	for {
		ok, err := r.Client.SetNX(ctx, fullKey, token, r.TTL).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		if backoff < 200*time.Millisecond {
			backoff *= 2
		}
	}
	return func() {
		// Release must outlive a cancelled request context.
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, r.Client, []string{fullKey}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			r.Logger.Warn("redis unlock failed", zap.String("key", fullKey), zap.Error(err))
		}
	}, nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.Client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.Client.Close()
}
