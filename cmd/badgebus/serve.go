package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/badgecmd/badgebus/internal/app/bootstrap"
	cfgpkg "github.com/badgecmd/badgebus/internal/config"
	"github.com/badgecmd/badgebus/internal/logging"
)

func runServe(args []string, e env) error {
	fs := newFlagSet("serve", e)
	configPath := addServiceFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 0 {
		return usageErr(fs, e.stderr, "unexpected arguments %v", fs.Args())
	}

	// 1) 加载配置
	cfg, err := cfgpkg.Load(*configPath, fs)
	if err != nil {
		return err
	}

	// 2) 初始化日志
	logger, err := logging.InitLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	// 3) 信号处理，收到后优雅关闭
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return bootstrap.Serve(ctx, cfg, logger)
}
