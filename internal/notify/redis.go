// Package notify forwards engine notifications to Redis pub/sub.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/R3E-Network/raffle_layer/internal/engine/events"
	"github.com/R3E-Network/raffle_layer/pkg/logger"
)

// DefaultChannel is used when no channel is configured.
const DefaultChannel = "raffle:events"

const publishTimeout = 2 * time.Second

// Publisher is the part of a Redis client used here.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Subscriber is an event source.
type Subscriber interface {
	Subscribe(handler events.EventHandler) func()
}

// RedisPublisher publishes every event as JSON on one channel. Delivery is
// best effort; failures are logged and counted.
type RedisPublisher struct {
	client  Publisher
	channel string
	log     *logger.Logger

	published atomic.Int64
	failed    atomic.Int64
}

// NewRedisPublisher wraps client.
func NewRedisPublisher(client Publisher, channel string, log *logger.Logger) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	if log == nil {
		log = logger.NewDefault("notify")
	}
	return &RedisPublisher{client: client, channel: channel, log: log}
}

// Dial connects to Redis at addr and checks the connection.
func Dial(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

// Attach subscribes the publisher and returns the unsubscribe function.
func (p *RedisPublisher) Attach(sub Subscriber) func() {
	return sub.Subscribe(p.handle)
}

func (p *RedisPublisher) handle(e events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := p.Publish(ctx, e); err != nil {
		p.log.WithError(err).WithField("event", string(e.Type)).Warn("publish event failed")
	}
}

// Publish sends one event.
func (p *RedisPublisher) Publish(ctx context.Context, e events.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		p.failed.Add(1)
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		p.failed.Add(1)
		return fmt.Errorf("publish to %s: %w", p.channel, err)
	}
	p.published.Add(1)
	return nil
}

// Stats returns the number of published and failed events.
func (p *RedisPublisher) Stats() (published, failed int64) {
	return p.published.Load(), p.failed.Load()
}
