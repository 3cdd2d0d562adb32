package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const keyPrefix = "lottery:confirm_cooldown:"

// Cooldown remembers, per ticket, that a payment check recently came back
// without a confirmation so the next check can wait before asking the oracle
// again. Entries expire on their own.
type Cooldown struct {
	Client redis.Cmdable
}

func NewCooldown(client redis.Cmdable) *Cooldown {
	return &Cooldown{Client: client}
}

func key(ticketID string) string {
	return keyPrefix + ticketID
}

// Start records a cooldown for ticketID. reason is stored as the value and
// only used for debugging.
func (c *Cooldown) Start(ctx context.Context, ticketID, reason string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := c.Client.Set(ctx, key(ticketID), reason, ttl).Err(); err != nil {
		return fmt.Errorf("set cooldown for %s: %w", ticketID, err)
	}
	return nil
}

// Remaining returns how long the cooldown for ticketID still runs; zero when
// none is active.
func (c *Cooldown) Remaining(ctx context.Context, ticketID string) (time.Duration, error) {
	ttl, err := c.Client.PTTL(ctx, key(ticketID)).Result()
	if err != nil {
		return 0, fmt.Errorf("read cooldown for %s: %w", ticketID, err)
	}
	// -2: no key, -1: no expiry
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// Clear drops the cooldown, used once the ticket is paid.
func (c *Cooldown) Clear(ctx context.Context, ticketID string) error {
	if err := c.Client.Del(ctx, key(ticketID)).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("clear cooldown for %s: %w", ticketID, err)
	}
	return nil
}
