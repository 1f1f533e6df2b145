// Package ratelimit throttles API actions with Redis fixed windows
// (INCR + EXPIRE). Organizer actions that fan out work, such as draws that
// send notifications, are limited per event; anonymous actions per client IP.
package ratelimit

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rule defines a rate limiting policy: the Redis key prefix, maximum number of
// requests allowed in the window, and the window duration.
type Rule struct {
	Key    string        // Redis key prefix (e.g., "rl:draw:")
	Limit  int           // max count in the window
	Window time.Duration // time window
}

var (
	// RuleDraw allows 5 draw requests per 10 minutes per event.
	RuleDraw = Rule{Key: "rl:draw:", Limit: 5, Window: 10 * time.Minute}

	// RuleCreateEvent allows 20 new events per hour per client IP.
	RuleCreateEvent = Rule{Key: "rl:event:", Limit: 20, Window: time.Hour}
)

// Decision is the outcome of a rate limit check.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration // zero when allowed
}

// Limiter performs rate limiting checks against Redis.
type Limiter struct {
	client *redis.Client
}

// NewLimiter creates a Limiter backed by the given Redis client.
func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

// Allow counts one request for identifier under rule.
//
// On Redis errors the method fails open (Allowed is true) and returns the
// error so the caller can log it; a Redis outage must not block organizers.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (Decision, error) {
	key := rule.Key + identifier
	open := Decision{Allowed: true, Remaining: rule.Limit}

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		log.Printf("[ratelimit] redis INCR error key=%s: %v (failing open)", key, err)
		return open, err
	}

	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			log.Printf("[ratelimit] redis EXPIRE error key=%s: %v (failing open)", key, err)
			// Without a TTL the key would never reset.
			l.client.Del(ctx, key)
			return open, err
		}
	}

	remaining := rule.Limit - int(count)
	if remaining >= 0 {
		return Decision{Allowed: true, Remaining: remaining}, nil
	}

	ttl, err := l.client.TTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		ttl = rule.Window
	}
	return Decision{Allowed: false, Remaining: 0, RetryAfter: ttl}, nil
}

// Remaining returns the number of requests the identifier has left in the
// current window. Returns the full limit if the key does not exist yet or
// Redis is unreachable.
func (l *Limiter) Remaining(ctx context.Context, identifier string, rule Rule) (int, error) {
	key := rule.Key + identifier

	count, err := l.client.Get(ctx, key).Int()
	if errors.Is(err, redis.Nil) {
		return rule.Limit, nil
	}
	if err != nil {
		log.Printf("[ratelimit] redis GET error key=%s: %v (failing open)", key, err)
		return rule.Limit, err
	}

	return max(rule.Limit-count, 0), nil
}
