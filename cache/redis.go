package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"motoshop-payments/config"
)

func InitRedis(cfg config.Config, logger *zap.Logger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Redis connection established")
	return rdb, nil
}

// InvalidateProduct drops the storefront's cached product entry after a
// stock mutation so catalog pages don't keep serving a stale count.
func InvalidateProduct(ctx context.Context, rdb *redis.Client, productID int) error {
	key := fmt.Sprintf("product:%d", productID)
	return rdb.Del(ctx, key).Err()
}
