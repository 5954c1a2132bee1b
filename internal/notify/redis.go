package notify

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const defaultQueue = "maiguru:notifications"

// listPusher is the subset of *redis.Client used by RedisNotifier.
type listPusher interface {
	LPush(ctx context.Context, key string, values ...any) *redis.IntCmd
}

// RedisNotifier pushes notifications as JSON onto a Redis list consumed by
// the mail/SMS workers.
type RedisNotifier struct {
	client listPusher
	queue  string
}

func NewRedisNotifier(client *redis.Client, queue string) *RedisNotifier {
	return newRedisNotifier(client, queue)
}

func newRedisNotifier(client listPusher, queue string) *RedisNotifier {
	if queue == "" {
		queue = defaultQueue
	}
	return &RedisNotifier{client: client, queue: queue}
}

// NewRedisClient builds a client from connection settings.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func (r *RedisNotifier) Notify(ctx context.Context, n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return errors.Wrap(err, "marshal notification")
	}
	if err := r.client.LPush(ctx, r.queue, data).Err(); err != nil {
		return errors.Wrapf(err, "redis lpush %s", r.queue)
	}
	return nil
}
