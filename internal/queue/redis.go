package queue

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unclebandit/drip-campaign-backend/internal/logger"
)

const redisPublishTimeout = 2 * time.Second

// RedisNotifier broadcasts hints over a Redis pub/sub channel. Unlike the
// AMQP queue every subscribed worker sees every hint.
type RedisNotifier struct {
	rdb     *goredis.Client
	channel string
	log     *logger.Logger
}

// DialRedis connects to addr and pings it before returning.
func DialRedis(addr, channel string, baseLog *logger.Logger) (*RedisNotifier, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisNotifier{
		rdb:     rdb,
		channel: channel,
		log:     baseLog.With("component", "RedisNotifier", "redis_channel", channel),
	}, nil
}

func (n *RedisNotifier) Notify(queue string) error {
	body, err := encodeWake(queue)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisPublishTimeout)
	defer cancel()
	return n.rdb.Publish(ctx, n.channel, body).Err()
}

func (n *RedisNotifier) Subscribe(ctx context.Context, fn func(queue string)) error {
	sub := n.rdb.Subscribe(ctx, n.channel)

	// wait for the subscription confirmation
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					n.log.Warn("Wake-up subscription closed")
					return
				}
				queue, err := decodeWake([]byte(m.Payload))
				if err != nil {
					n.log.Warn("Dropping malformed wake-up", "error", err)
					continue
				}
				fn(queue)
			}
		}
	}()
	return nil
}

func (n *RedisNotifier) Close() error {
	if n == nil || n.rdb == nil {
		return nil
	}
	return n.rdb.Close()
}

var _ Notifier = (*RedisNotifier)(nil)
