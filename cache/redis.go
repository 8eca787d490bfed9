package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// RedisCache is the optional distributed replay tier shared by all worker
// processes. SET NX with a TTL gives the same set-if-not-exists semantics as
// the in-process cache, across restarts and horizontal scaling.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(config RedisConfig) (*RedisCache, error) {
	addr := config.Host + ":" + strconv.Itoa(config.Port)
	if config.Port == 0 {
		addr = config.Host + ":6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, err
	}

	return &RedisCache{client: client}, nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// SetIfAbsent claims key for ttl. Returns false when another delivery already
// holds it.
func (c *RedisCache) SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, key, time.Now().Unix(), ttl).Result()
}

func (c *RedisCache) Forget(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}
