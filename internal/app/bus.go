package app

import (
	"context"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	cfgpkg "github.com/badgecmd/badgebus/internal/config"
	"github.com/badgecmd/badgebus/internal/link"
	"github.com/badgecmd/badgebus/internal/metrics"
	"github.com/badgecmd/badgebus/internal/protocol/badge"
	"github.com/badgecmd/badgebus/internal/tcpserver"
)

const (
	minRedial = 500 * time.Millisecond
	maxRedial = 30 * time.Second
)

// Bus 运行中的设备侧：主动链路（带重连）或监听桥接
type Bus interface {
	link.Bus
	Subscribe(fn func(link.Event))
	Register(cmd byte, h badge.Handler)
	Links() []link.Stats
	// Run 阻塞直到 ctx 取消
	Run(ctx context.Context) error
}

type openFunc func(ctx context.Context, cfg cfgpkg.LinkConfig) (io.ReadWriteCloser, string, error)

// NewBus 按 link.mode 创建，订阅与处理器需在 Run 之前注册
func NewBus(cfg cfgpkg.LinkConfig, m *metrics.LinkMetrics, log *zap.Logger) Bus {
	if log == nil {
		log = zap.NewNop()
	}
	opts := link.OptionsFromConfig(cfg)
	if cfg.Mode == cfgpkg.LinkModeListen {
		s := tcpserver.New(cfg.Addr, cfg.MaxConnections, opts)
		s.SetLogger(log)
		s.SetMetrics(m)
		return &listenBus{Server: s}
	}
	return newDialBus(cfg, opts, m, log, link.Open)
}

type listenBus struct {
	*tcpserver.Server
}

func (b *listenBus) Run(ctx context.Context) error {
	if err := b.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return b.Shutdown(sctx)
}

// dialBus 串口或 TCP 主动链路，断开后指数退避重连
type dialBus struct {
	cfg     cfgpkg.LinkConfig
	opts    link.Options
	metrics *metrics.LinkMetrics
	logger  *zap.Logger
	open    openFunc

	mu       sync.RWMutex
	cur      *link.Link
	last     link.Stats
	subs     []func(link.Event)
	handlers map[byte]badge.Handler
}

func newDialBus(cfg cfgpkg.LinkConfig, opts link.Options, m *metrics.LinkMetrics, log *zap.Logger, open openFunc) *dialBus {
	return &dialBus{
		cfg:      cfg,
		opts:     opts,
		metrics:  m,
		logger:   log,
		open:     open,
		handlers: make(map[byte]badge.Handler),
	}
}

func (b *dialBus) Subscribe(fn func(link.Event)) {
	b.mu.Lock()
	b.subs = append(b.subs, fn)
	b.mu.Unlock()
}

func (b *dialBus) Register(cmd byte, h badge.Handler) {
	b.mu.Lock()
	b.handlers[cmd] = h
	b.mu.Unlock()
}

func (b *dialBus) current() *link.Link {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cur
}

func (b *dialBus) Send(ctx context.Context, f badge.Frame) error {
	l := b.current()
	if l == nil {
		return tcpserver.ErrNoLink
	}
	return l.Send(ctx, f)
}

func (b *dialBus) Request(ctx context.Context, f badge.Frame) (badge.Frame, error) {
	l := b.current()
	if l == nil {
		return badge.Frame{}, tcpserver.ErrNoLink
	}
	return l.Request(ctx, f)
}

// Links 断开期间返回最后一次的统计（Closed=true）
func (b *dialBus) Links() []link.Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.cur != nil {
		return []link.Stats{b.cur.Stats()}
	}
	if b.last.Name != "" {
		return []link.Stats{b.last}
	}
	return nil
}

func (b *dialBus) Run(ctx context.Context) error {
	backoff := minRedial
	for {
		conn, name, err := b.open(ctx, b.cfg)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			b.logger.Warn("open link failed", zap.String("mode", b.cfg.Mode), zap.Error(err), zap.Duration("retry_in", backoff))
		} else {
			backoff = minRedial
			b.serve(ctx, conn, name)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxRedial)
	}
}

func (b *dialBus) serve(ctx context.Context, conn io.ReadWriteCloser, name string) {
	opts := b.opts
	opts.Name = name
	l := link.New(conn, opts)
	l.SetLogger(b.logger)
	l.SetMetrics(b.metrics)

	b.mu.Lock()
	for _, fn := range b.subs {
		l.Subscribe(fn)
	}
	for cmd, h := range b.handlers {
		l.Register(cmd, h)
	}
	b.cur = l
	b.mu.Unlock()

	b.logger.Info("link open", zap.String("link", name), zap.String("mode", b.cfg.Mode))
	err := l.Run(ctx)

	b.mu.Lock()
	b.cur = nil
	b.last = l.Stats()
	b.mu.Unlock()

	if err != nil {
		b.logger.Warn("link lost", zap.String("link", name), zap.Error(err))
		return
	}
	b.logger.Info("link closed", zap.String("link", name))
}

// WaitLink 等待至少一条链路可用
func WaitLink(ctx context.Context, b Bus) error {
	t := time.NewTicker(20 * time.Millisecond)
	defer t.Stop()
	for {
		for _, st := range b.Links() {
			if !st.Closed {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}
