package redis

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/redis/go-redis/v9"

	"github.com/zlnvch/webnotes/cache"
	"github.com/zlnvch/webnotes/logger/slogx"
	"github.com/zlnvch/webnotes/models"
)

type RedisNotesCache struct {
	client redis.UniversalClient
}

func NewRedisNotesCache(ctx context.Context, devMode bool, redisEndpoint string) (*RedisNotesCache, error) {
	var client redis.UniversalClient
	if devMode {
		client = redis.NewClient(&redis.Options{
			Addr: redisEndpoint,
		})
	} else {
		client = redis.NewClient(&redis.Options{
			Addr: redisEndpoint,
			// AWS elasticache endpoints require TLS
			TLSConfig: &tls.Config{},
		})
	}

	err := retry.Do(
		func() error {
			return client.Ping(ctx).Err()
		},
		retry.Context(ctx),
		retry.Attempts(5),
		retry.Delay(500*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			slogx.Warn(ctx, "redis not reachable, retrying", slogx.Err(err))
		}),
	)
	if err != nil {
		client.Close()
		return nil, err
	}

	return &RedisNotesCache{client: client}, nil
}

func (redisCache *RedisNotesCache) Close() error {
	return redisCache.client.Close()
}

func (redisCache *RedisNotesCache) Publish(ctx context.Context, channel string, message []byte) error {
	return redisCache.client.Publish(ctx, channel, message).Err()
}

// Subscribe delivers messages to handler until ctx is done. It returns once the
// subscription is confirmed by the server.
func (redisCache *RedisNotesCache) Subscribe(ctx context.Context, channel string, handler func(message []byte)) error {
	pubsub := redisCache.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return err
	}

	ch := pubsub.Channel()

	go func() {
		defer pubsub.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					slogx.Debug(ctx, "pubsub channel closed", slogx.Channel(channel))
					return
				}
				handler([]byte(msg.Payload))
			}
		}
	}()

	return nil
}

// Profiles change rarely; deletion invalidates explicitly
const userTTL = 10 * time.Minute

func buildUserKey(userId string) string {
	return "user:{" + userId + "}:profile"
}

func (redisCache *RedisNotesCache) GetUser(ctx context.Context, userId string) (models.User, error) {
	data, err := redisCache.client.Get(ctx, buildUserKey(userId)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.User{}, cache.ErrCacheMiss
		}
		return models.User{}, err
	}

	var user models.User
	if err := json.Unmarshal(data, &user); err != nil {
		return models.User{}, err
	}
	return user, nil
}

func (redisCache *RedisNotesCache) SetUser(ctx context.Context, user models.User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return err
	}
	return redisCache.client.Set(ctx, buildUserKey(user.Id), data, userTTL).Err()
}

func (redisCache *RedisNotesCache) InvalidateUser(ctx context.Context, userId string) error {
	return redisCache.client.Del(ctx, buildUserKey(userId)).Err()
}
