package bootstrap

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/badgecmd/badgebus/internal/api"
	"github.com/badgecmd/badgebus/internal/app"
	cfgpkg "github.com/badgecmd/badgebus/internal/config"
	"github.com/badgecmd/badgebus/internal/health"
	"github.com/badgecmd/badgebus/internal/httpserver"
	"github.com/badgecmd/badgebus/internal/journal"
	"github.com/badgecmd/badgebus/internal/link"
	"github.com/badgecmd/badgebus/internal/metrics"
)

// Serve 链路 + 记录 + 控制台，阻塞直到 ctx 取消
func Serve(ctx context.Context, cfg *cfgpkg.Config, log *zap.Logger) error {
	log.Info("starting badgebus",
		zap.String("env", cfg.App.Env),
		zap.String("mode", cfg.Link.Mode))

	// ========== 阶段1: 指标与记录存储 ==========
	reg := metrics.NewRegistry()
	lm := metrics.NewLinkMetrics(reg)

	store, storeChecker, err := app.NewJournal(cfg.Journal, cfg.Redis, log)
	if err != nil {
		return err
	}
	defer store.Close()
	rec := journal.NewRecorder(store, 0, log)
	defer rec.Close()

	// ========== 阶段2: 设备链路 ==========
	bus := app.NewBus(cfg.Link, lm, log)
	bus.Subscribe(rec.Observe)
	bus.Subscribe(func(ev link.Event) {
		log.Info("frame",
			zap.String("dir", string(ev.Dir)),
			zap.String("link", ev.Link),
			zap.Stringer("frame", ev.Frame))
	})

	// ========== 阶段3: 健康检查与 HTTP ==========
	agg := health.NewAggregator(health.NewLinkChecker(bus.Links))
	if storeChecker != nil {
		agg.AddChecker(storeChecker)
	}

	var metricsHandler = metrics.Handler(reg)
	if !cfg.Metrics.Enable {
		metricsHandler = nil
	}
	httpSrv := httpserver.New(cfg.HTTP, cfg.Metrics.Path, metricsHandler, agg, log)
	api.RegisterConsoleRoutes(httpSrv.Engine(),
		api.NewConsoleHandler(bus, store, cfg.Link.ReplyTimeout+cfg.Link.WriteTimeout, log),
		cfg.HTTP.APIKeys, log)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errC := make(chan error, 2)
	go func() {
		if err := httpSrv.Start(); err != nil {
			errC <- err
		}
	}()
	go func() {
		if err := bus.Run(ctx); err != nil {
			errC <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errC:
		log.Error("component failed", zap.Error(runErr))
		cancel()
	}

	// ========== 优雅关闭 ==========
	sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer scancel()
	if err := httpSrv.Shutdown(sctx); err != nil {
		runErr = errors.Join(runErr, err)
	}
	log.Info("badgebus stopped")
	return runErr
}
