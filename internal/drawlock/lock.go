// Package drawlock serializes draws per event with a Redis lock:
//
//	Key:   drawlock:<event_id>
//	Value: <owner token>
//	TTL:   lock duration
//
// The TTL bounds how long a crashed matcher can block an event.
package drawlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// LockPrefix is the Redis key prefix for draw locks.
	LockPrefix = "drawlock:"

	// DefaultTTL is long enough for a draw of a few thousand participants.
	DefaultTTL = 30 * time.Second
)

// ErrNotHeld is returned by Release when the lock expired or belongs to
// another owner.
var ErrNotHeld = errors.New("drawlock: lock not held")

// Locker manages draw locks in Redis.
type Locker struct {
	client        *redis.Client
	ttl           time.Duration
	releaseScript *redis.Script
}

// NewLocker creates a Locker using the provided Redis client. A zero ttl
// selects DefaultTTL.
func NewLocker(client *redis.Client, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Locker{
		client:        client,
		ttl:           ttl,
		releaseScript: redis.NewScript(releaseLua),
	}
}

// Acquire tries to take the lock for eventID. It returns the owner token and
// true on success, or false if somebody else holds the lock.
func (l *Locker) Acquire(ctx context.Context, eventID string) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, LockPrefix+eventID, token, l.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("drawlock: acquire %s: %w", eventID, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release drops the lock if token still owns it.
func (l *Locker) Release(ctx context.Context, eventID, token string) error {
	n, err := l.releaseScript.Run(ctx, l.client, []string{LockPrefix + eventID}, token).Int()
	if err != nil {
		return fmt.Errorf("drawlock: release %s: %w", eventID, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

// releaseLua deletes the key only when its value matches the caller's token,
// so an expired owner cannot release a lock taken over by someone else.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`
