package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps carts as JSON documents with a sliding TTL.
type RedisStore struct {
	Client redis.Cmdable
	Prefix string
	TTL    time.Duration
	Now    func() time.Time
}

func (s *RedisStore) key(sessionID string) string {
	prefix := s.Prefix
	if prefix == "" {
		prefix = "cart:"
	}
	return prefix + sessionID
}

func (s *RedisStore) ttl() time.Duration {
	if s.TTL <= 0 {
		return 72 * time.Hour
	}
	return s.TTL
}

func (s *RedisStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Get loads the session cart.
func (s *RedisStore) Get(ctx context.Context, sessionID string) (Cart, error) {
	if s == nil || s.Client == nil {
		return Cart{}, errors.New("cart store not configured")
	}
	if sessionID == "" {
		return Cart{}, ErrNotFound
	}
	raw, err := s.Client.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Cart{}, ErrNotFound
		}
		return Cart{}, err
	}
	var c Cart
	if err := json.Unmarshal(raw, &c); err != nil {
		return Cart{}, fmt.Errorf("decode cart: %w", err)
	}
	c.SessionID = sessionID
	return c, nil
}

// Put replaces the session cart and refreshes its TTL.
func (s *RedisStore) Put(ctx context.Context, c Cart) error {
	if s == nil || s.Client == nil {
		return errors.New("cart store not configured")
	}
	if c.SessionID == "" {
		return errors.New("cart session id required")
	}
	c.UpdatedAt = s.now().UTC()
	raw, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return s.Client.Set(ctx, s.key(c.SessionID), raw, s.ttl()).Err()
}

// Clear removes the session cart. Clearing a missing cart is not an error.
func (s *RedisStore) Clear(ctx context.Context, sessionID string) error {
	if s == nil || s.Client == nil {
		return errors.New("cart store not configured")
	}
	if sessionID == "" {
		return nil
	}
	return s.Client.Del(ctx, s.key(sessionID)).Err()
}
