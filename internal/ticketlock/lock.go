// Package ticketlock provides short-lived, fail-fast mutation locks scoped
// to a single ticket. Scanning is the latency-critical path: if another
// workflow (a simultaneous transfer, a marketplace settlement) already holds
// the ticket, the caller gets an immediate conflict instead of blocking.
package ticketlock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

type Redis struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &Redis{Client: client, TTL: ttl}
}

func key(ticketID string) string {
	return "ticket_lock:" + ticketID
}

// Lock attempts to take the per-ticket lock for holderID. It never waits:
// a held lock returns (false, nil) immediately. The TTL guards against a
// crashed holder wedging the ticket.
func (r *Redis) Lock(ctx context.Context, ticketID, holderID string) (bool, error) {
	ok, err := r.Client.SetNX(ctx, key(ticketID), holderID, r.TTL).Result()
	if err != nil {
		return false, fmt.Errorf("ticket lock: %w", err)
	}
	return ok, nil
}

// Unlock releases the lock only if holderID still owns it, so an expired
// lock re-acquired by someone else is never stolen back.
func (r *Redis) Unlock(ctx context.Context, ticketID, holderID string) error {
	val, err := r.Client.Get(ctx, key(ticketID)).Result()
	if err == redis.Nil {
		return nil // already expired
	}
	if err != nil {
		return fmt.Errorf("ticket unlock: %w", err)
	}
	if val == holderID {
		_, err = r.Client.Del(ctx, key(ticketID)).Result()
		return err
	}
	return nil
}

// IsLocked reports whether any holder currently owns the ticket's lock.
func (r *Redis) IsLocked(ctx context.Context, ticketID string) (bool, error) {
	_, err := r.Client.Get(ctx, key(ticketID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
