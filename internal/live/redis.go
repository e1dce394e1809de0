package live

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultChannelPrefix prefixes the per-user redis channel name.
const DefaultChannelPrefix = "bosgateway:live:"

// RedisConfig holds connection parameters for the redis client.
type RedisConfig struct {
	Addr       string `mapstructure:"addr"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	PoolSize   int    `mapstructure:"pool_size"`
	MaxRetries int    `mapstructure:"max_retries"`
	TLSEnabled bool   `mapstructure:"tls_enabled"`
}

// NewRedisClient dials redis and verifies connectivity with PING.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return rdb, nil
}

type outbound struct {
	channel string
	data    []byte
}

// RedisPublisher publishes events on a per-user redis channel so every
// gateway instance can reach the user's viewers. Emit only enqueues; Run
// performs the PUBLISH calls.
type RedisPublisher struct {
	rdb    *redis.Client
	prefix string
	queue  chan outbound
	logger zerolog.Logger

	// OnDrop, when set, is called for every event dropped on a full queue.
	OnDrop func()
}

// NewRedisPublisher builds a publisher. queueSize bounds pending events.
func NewRedisPublisher(rdb *redis.Client, prefix string, queueSize int, logger zerolog.Logger) *RedisPublisher {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &RedisPublisher{
		rdb:    rdb,
		prefix: prefix,
		queue:  make(chan outbound, queueSize),
		logger: logger.With().Str("component", "live_redis_publisher").Logger(),
	}
}

// Emit encodes and enqueues; a full queue drops the event.
func (p *RedisPublisher) Emit(userID, event string, payload any) {
	data, err := encode(userID, event, payload)
	if err != nil {
		p.logger.Error().Err(err).Str("user_id", userID).Msg("encode live event")
		return
	}
	select {
	case p.queue <- outbound{channel: p.prefix + userID, data: data}:
	default:
		p.logger.Warn().Str("user_id", userID).Msg("redis publish queue full; dropping event")
		if p.OnDrop != nil {
			p.OnDrop()
		}
	}
}

// Run drains the queue until ctx is cancelled.
func (p *RedisPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-p.queue:
			if err := p.rdb.Publish(ctx, msg.channel, msg.data).Err(); err != nil {
				p.logger.Error().Err(err).Str("channel", msg.channel).Msg("redis publish failed")
			}
		}
	}
}

// Drain publishes whatever is still queued and returns once the queue is empty.
// Call it after Run has returned.
func (p *RedisPublisher) Drain(ctx context.Context) error {
	for {
		select {
		case msg := <-p.queue:
			if err := p.rdb.Publish(ctx, msg.channel, msg.data).Err(); err != nil {
				return fmt.Errorf("redis publish: %w", err)
			}
		default:
			return nil
		}
	}
}

// Message is one event received from redis.
type Message struct {
	UserID string
	Data   []byte
}

// RedisBridge subscribes to every per-user channel and hands events to a
// local Deliverer, normally the Hub.
type RedisBridge struct {
	rdb    *redis.Client
	prefix string
	target Deliverer
	logger zerolog.Logger
}

// NewRedisBridge 创建 redis -> 本地 hub 的桥接。
func NewRedisBridge(rdb *redis.Client, prefix string, target Deliverer, logger zerolog.Logger) *RedisBridge {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	return &RedisBridge{
		rdb:    rdb,
		prefix: prefix,
		target: target,
		logger: logger.With().Str("component", "live_redis_bridge").Logger(),
	}
}

// Subscribe establishes the pattern subscription and returns the message
// stream. The stream closes when ctx is cancelled.
func (b *RedisBridge) Subscribe(ctx context.Context) (<-chan Message, error) {
	pattern := b.prefix + "*"
	pubsub := b.rdb.PSubscribe(ctx, pattern)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: psubscribe %s: %w", pattern, err)
	}

	out := make(chan Message, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				userID := strings.TrimPrefix(msg.Channel, b.prefix)
				select {
				case out <- Message{UserID: userID, Data: []byte(msg.Payload)}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Run forwards subscribed events to the target until ctx is cancelled.
func (b *RedisBridge) Run(ctx context.Context) error {
	msgs, err := b.Subscribe(ctx)
	if err != nil {
		return err
	}
	b.logger.Info().Str("pattern", b.prefix+"*").Msg("live bridge subscribed")

	for msg := range msgs {
		b.target.Deliver(msg.UserID, msg.Data)
	}
	return ctx.Err()
}

var _ Publisher = (*RedisPublisher)(nil)
