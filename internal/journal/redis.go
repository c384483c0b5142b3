package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	cfgpkg "github.com/badgecmd/badgebus/internal/config"
)

// NewRedisClient 创建 Redis 客户端并测试连接
func NewRedisClient(cfg cfgpkg.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

// Redis 以 list 保存最近记录：LPUSH 新记录，LTRIM 截断到容量
type Redis struct {
	client   *redis.Client
	key      string
	capacity int
	breaker  *Breaker
}

func NewRedis(client *redis.Client, key string, capacity int) *Redis {
	if capacity <= 0 {
		capacity = 500
	}
	return &Redis{client: client, key: key, capacity: capacity, breaker: NewBreaker(5, 30*time.Second)}
}

func (s *Redis) Append(ctx context.Context, r Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	return s.breaker.Call(func() error {
		pipe := s.client.TxPipeline()
		pipe.LPush(ctx, s.key, data)
		pipe.LTrim(ctx, s.key, 0, int64(s.capacity-1))
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("append record: %w", err)
		}
		return nil
	})
}

func (s *Redis) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 || limit > s.capacity {
		limit = s.capacity
	}
	items, err := s.client.LRange(ctx, s.key, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}
	out := make([]Record, 0, len(items))
	for _, it := range items {
		var r Record
		if err := json.Unmarshal([]byte(it), &r); err != nil {
			return nil, fmt.Errorf("unmarshal record: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}

// Ping 就绪检查
func (s *Redis) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }

// Breaker 写入熔断器
func (s *Redis) Breaker() *Breaker { return s.breaker }

func (s *Redis) Close() error { return s.client.Close() }
