package worker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// Locker is a Redis lease lock: SET NX with a random token, released
// only by the holder of that token.
type Locker struct {
	client *redis.Client
	script *redis.Script
	prefix string
}

func NewLocker(client *redis.Client, prefix string) *Locker {
	if client == nil {
		return nil
	}
	if prefix == "" {
		prefix = "commissions"
	}
	return &Locker{
		client: client,
		script: redis.NewScript(lockReleaseScript),
		prefix: prefix,
	}
}

func (l *Locker) key(name string) string {
	return l.prefix + ":lock:" + name
}

func (l *Locker) TryLock(ctx context.Context, name string, ttl time.Duration) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", false, errors.New("lock client not configured")
	}
	if name == "" {
		return "", false, errors.New("lock key is empty")
	}
	if ttl <= 0 {
		return "", false, errors.New("lock ttl must be positive")
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key(name), token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

func (l *Locker) Release(ctx context.Context, name, token string) error {
	if l == nil || l.client == nil {
		return nil
	}
	if name == "" || token == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{l.key(name)}, token).Err()
}
