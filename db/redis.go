package db

import (
	"context"
	"fmt"
	"time"

	"EVote/config"

	"github.com/go-redis/redis/v8"
)

// NewRedis 创建 redis 客户端并做连接测试
func NewRedis(conf config.RedisConf) (*redis.Client, error) {
	addr := fmt.Sprintf("%s:%d", conf.Host, conf.Port)
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: conf.PassWord,
		DB:       conf.DB,
		PoolSize: conf.PoolSize,
	})

	// 连接测试以确保与 Redis 服务器的通信正常。
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", addr, err)
	}
	return rdb, nil
}
