package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	failKeyPrefix    = "auth:fail:"
	lockKeyPrefix    = "auth:lock:"
	revokedKeyPrefix = "auth:revoked:"
)

// Lockout counts failed logins per email in Redis and locks the account once
// MaxAttempts failures happen inside Window.
type Lockout struct {
	redis       *redis.Client
	maxAttempts int
	window      time.Duration
	duration    time.Duration
}

func NewLockout(rdb *redis.Client, maxAttempts int, window, duration time.Duration) *Lockout {
	return &Lockout{
		redis:       rdb,
		maxAttempts: maxAttempts,
		window:      window,
		duration:    duration,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// LockedFor returns the remaining lock time, zero when the account is not locked.
func (l *Lockout) LockedFor(ctx context.Context, email string) (time.Duration, error) {
	ttl, err := l.redis.PTTL(ctx, lockKeyPrefix+normalizeEmail(email)).Result()
	if err != nil {
		return 0, fmt.Errorf("lockout status: %w", err)
	}
	if ttl <= 0 {
		return 0, nil
	}
	return ttl, nil
}

// RegisterFailure records a failed attempt. It returns the lock duration when this
// failure tripped the lock, zero otherwise.
func (l *Lockout) RegisterFailure(ctx context.Context, email string) (time.Duration, error) {
	email = normalizeEmail(email)
	failKey := failKeyPrefix + email

	attempts, err := l.redis.Incr(ctx, failKey).Result()
	if err != nil {
		return 0, fmt.Errorf("record failed login: %w", err)
	}
	if attempts == 1 {
		if err := l.redis.Expire(ctx, failKey, l.window).Err(); err != nil {
			return 0, fmt.Errorf("record failed login: %w", err)
		}
	}

	if attempts < int64(l.maxAttempts) {
		return 0, nil
	}

	pipe := l.redis.TxPipeline()
	pipe.Set(ctx, lockKeyPrefix+email, attempts, l.duration)
	pipe.Del(ctx, failKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("lock account: %w", err)
	}
	return l.duration, nil
}

// Reset clears the failure counter after a successful login.
func (l *Lockout) Reset(ctx context.Context, email string) error {
	return l.redis.Del(ctx, failKeyPrefix+normalizeEmail(email)).Err()
}

// Unlock removes an active lock and the failure counter.
func (l *Lockout) Unlock(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	return l.redis.Del(ctx, lockKeyPrefix+email, failKeyPrefix+email).Err()
}

// Denylist holds revoked token ids until the token would have expired anyway.
type Denylist struct {
	redis *redis.Client
}

func NewDenylist(rdb *redis.Client) *Denylist {
	return &Denylist{redis: rdb}
}

func (d *Denylist) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	return d.redis.Set(ctx, revokedKeyPrefix+tokenID, "1", ttl).Err()
}

func (d *Denylist) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := d.redis.Exists(ctx, revokedKeyPrefix+tokenID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
