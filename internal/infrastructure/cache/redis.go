package cache

import (
	"context"
	"fmt"
	"log"
	"time"

	"loancore/internal/config"

	"github.com/go-redis/redis/v8"
)

var RedisClient *redis.Client

// InitRedis 初始化 Redis 连接。
// Redis 在这里只承担贷款锁（见 infrastructure/lock），不做业务缓存，
// 连不上直接启动失败，不降级
func InitRedis(cfg *config.RedisConfig) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  3 * time.Second,
		MinIdleConns: 2,
	})

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Fatalf("[Redis] 连接失败: %v", err)
	}

	RedisClient = client
	log.Println("[Redis] 连接成功")
	return client
}
