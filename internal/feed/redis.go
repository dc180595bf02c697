package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisClient rides the platform's Redis pub/sub: every feed channel maps to a
// Redis channel carrying JSON row events published by the backend's triggers.
type RedisClient struct {
	rdb *redis.Client

	mu   sync.Mutex
	subs map[Handle]*redisSub
}

type redisSub struct {
	pubsub *redis.PubSub
	cancel context.CancelFunc
}

// NewRedisClient wraps an established Redis connection.
func NewRedisClient(rdb *redis.Client) *RedisClient {
	return &RedisClient{
		rdb:  rdb,
		subs: make(map[Handle]*redisSub),
	}
}

// Subscribe opens a Redis subscription on channel and pumps matched row events
// into cb. It blocks until the subscription is confirmed or ctx expires, so
// callers control the bound on connection setup.
func (c *RedisClient) Subscribe(ctx context.Context, channel string, matchers []Matcher, cb Callback) (Handle, error) {
	if c.rdb == nil {
		return "", fmt.Errorf("redis client not configured")
	}

	pubsub := c.rdb.Subscribe(ctx, channel)

	// Wait for the subscription confirmation within the caller's deadline
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return "", fmt.Errorf("subscribe to %s: %w", channel, err)
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	handle := Handle(uuid.NewString())

	c.mu.Lock()
	c.subs[handle] = &redisSub{pubsub: pubsub, cancel: cancel}
	c.mu.Unlock()

	go c.pump(pumpCtx, channel, pubsub, matchers, cb)

	return handle, nil
}

func (c *RedisClient) pump(ctx context.Context, channel string, pubsub *redis.PubSub, matchers []Matcher, cb Callback) {
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev RowEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Printf("[FEED] invalid row event on %s: %v", channel, err)
				continue
			}
			for _, m := range matchers {
				if m.Matches(ev) {
					cb(ev)
					break
				}
			}
		}
	}
}

// Unsubscribe tears down the subscription identified by handle. Unknown
// handles are a no-op so teardown is safe to repeat.
func (c *RedisClient) Unsubscribe(handle Handle) error {
	c.mu.Lock()
	sub, ok := c.subs[handle]
	delete(c.subs, handle)
	c.mu.Unlock()

	if !ok {
		return nil
	}
	sub.cancel()
	return sub.pubsub.Close()
}
