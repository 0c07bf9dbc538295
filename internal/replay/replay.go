// Package replay rejects provider callbacks that were already accepted
package replay

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Guard remembers callback keys in Redis with SET NX
type Guard struct {
	client *goredis.Client
	prefix string
}

// NewGuard creates a Redis-backed replay guard
func NewGuard(client *goredis.Client) *Guard {
	return &Guard{
		client: client,
		prefix: "callback:",
	}
}

// Seen atomically records key and reports whether it had been recorded
// before. Keys expire after ttl.
func (g *Guard) Seen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	err := g.client.SetArgs(ctx, g.prefix+key, 1, goredis.SetArgs{
		Mode: "NX",
		TTL:  ttl,
	}).Err()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return true, nil
		}
		return false, fmt.Errorf("redis replay check: %w", err)
	}
	return false, nil
}

// Forget drops key so the same callback can be processed again
func (g *Guard) Forget(ctx context.Context, key string) error {
	if err := g.client.Del(ctx, g.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis replay release: %w", err)
	}
	return nil
}

// NewClient creates a Redis client and verifies connectivity
func NewClient(ctx context.Context, addr, password string, db int, log zerolog.Logger) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	log.Info().Str("addr", addr).Int("db", db).Msg("Redis connection established")

	return client, nil
}
