package app

import (
	"fmt"

	"go.uber.org/zap"

	cfgpkg "github.com/badgecmd/badgebus/internal/config"
	"github.com/badgecmd/badgebus/internal/health"
	"github.com/badgecmd/badgebus/internal/journal"
)

// NewJournal 按 journal.backend 创建记录存储；redis 时同时返回对应的健康检查器
func NewJournal(cfg cfgpkg.JournalConfig, rcfg cfgpkg.RedisConfig, log *zap.Logger) (journal.Store, health.Checker, error) {
	switch cfg.Backend {
	case "redis":
		client, err := journal.NewRedisClient(rcfg)
		if err != nil {
			return nil, nil, fmt.Errorf("journal redis: %w", err)
		}
		log.Info("journal on redis",
			zap.String("addr", rcfg.Addr),
			zap.String("key", cfg.Key),
			zap.Int("capacity", cfg.Capacity))
		store := journal.NewRedis(client, cfg.Key, cfg.Capacity)
		return store, health.NewJournalChecker(store), nil
	default:
		log.Info("journal in memory", zap.Int("capacity", cfg.Capacity))
		return journal.NewMemory(cfg.Capacity), nil, nil
	}
}
