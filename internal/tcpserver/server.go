package tcpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/badgecmd/badgebus/internal/link"
	"github.com/badgecmd/badgebus/internal/metrics"
	"github.com/badgecmd/badgebus/internal/protocol/badge"
)

var ErrNoLink = errors.New("no device link connected")

// Server 监听桥接：串口服务器反向接入，每个连接一条 link.Link
type Server struct {
	addr    string
	opts    link.Options
	limiter *Limiter
	logger  *zap.Logger
	metrics *metrics.LinkMetrics

	ln    net.Listener
	wg    sync.WaitGroup
	stopC chan struct{}
	once  sync.Once

	mu       sync.RWMutex
	nextID   uint64
	links    map[uint64]*link.Link
	subs     []func(link.Event)
	handlers map[byte]badge.Handler
	fallback badge.Handler
}

// New 创建监听桥接，opts 作为每条接入链路的运行参数
func New(addr string, maxLinks int, opts link.Options) *Server {
	return &Server{
		addr:     addr,
		opts:     opts,
		limiter:  NewLimiter(maxLinks),
		logger:   zap.NewNop(),
		stopC:    make(chan struct{}),
		links:    make(map[uint64]*link.Link),
		handlers: make(map[byte]badge.Handler),
	}
}

func (s *Server) SetLogger(l *zap.Logger) {
	if l != nil {
		s.logger = l
	}
}

func (s *Server) SetMetrics(m *metrics.LinkMetrics) { s.metrics = m }

// Subscribe 对所有（包括之后接入的）链路生效
func (s *Server) Subscribe(fn func(link.Event)) {
	s.mu.Lock()
	s.subs = append(s.subs, fn)
	s.mu.Unlock()
}

// Register 对之后接入的链路生效，需在 Start 前调用
func (s *Server) Register(cmd byte, h badge.Handler) {
	s.mu.Lock()
	s.handlers[cmd] = h
	s.mu.Unlock()
}

func (s *Server) SetFallback(h badge.Handler) {
	s.mu.Lock()
	s.fallback = h
	s.mu.Unlock()
}

// Start 监听并接受连接（非阻塞，内部 goroutine）
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.ln = ln
	s.logger.Info("link bridge listening", zap.String("addr", ln.Addr().String()))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				select {
				case <-s.stopC:
					return
				default:
				}
				// 短暂错误等待后重试
				time.Sleep(50 * time.Millisecond)
				continue
			}
			if err := s.limiter.TryAcquire(); err != nil {
				s.logger.Warn("link rejected", zap.String("remote", conn.RemoteAddr().String()), zap.Error(err))
				_ = conn.Close()
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				defer s.limiter.Release()
				s.serve(c)
			}(conn)
		}
	}()
	return nil
}

// Addr 实际监听地址（addr 使用 :0 时有用）
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) serve(c net.Conn) {
	opts := s.opts
	opts.Name = c.RemoteAddr().String()
	l := link.New(c, opts)
	l.SetLogger(s.logger)
	l.SetMetrics(s.metrics)

	s.mu.Lock()
	for _, fn := range s.subs {
		l.Subscribe(fn)
	}
	for cmd, h := range s.handlers {
		l.Register(cmd, h)
	}
	if s.fallback != nil {
		l.SetFallback(s.fallback)
	}
	s.nextID++
	id := s.nextID
	s.links[id] = l
	s.mu.Unlock()

	s.logger.Info("link connected", zap.String("remote", opts.Name), zap.Uint64("id", id))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-s.stopC:
			cancel()
		case <-l.Done():
		}
	}()
	err := l.Run(ctx)
	cancel()

	s.mu.Lock()
	delete(s.links, id)
	s.mu.Unlock()
	if err != nil {
		s.logger.Warn("link closed with error", zap.String("remote", opts.Name), zap.Error(err))
		return
	}
	s.logger.Info("link disconnected", zap.String("remote", opts.Name))
}

// snapshot 按接入顺序返回当前链路
func (s *Server) snapshot() []*link.Link {
	s.mu.RLock()
	ids := make([]uint64, 0, len(s.links))
	for id := range s.links {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]*link.Link, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.links[id])
	}
	s.mu.RUnlock()
	return out
}

// Links 当前链路统计
func (s *Server) Links() []link.Stats {
	links := s.snapshot()
	out := make([]link.Stats, 0, len(links))
	for _, l := range links {
		out = append(out, l.Stats())
	}
	return out
}

// LimiterStats 接入限制统计
func (s *Server) LimiterStats() LimiterStats { return s.limiter.Stats() }

// Send 广播到所有已接入链路，任一成功即视为成功
func (s *Server) Send(ctx context.Context, f badge.Frame) error {
	links := s.snapshot()
	if len(links) == 0 {
		return ErrNoLink
	}
	var errs []error
	for _, l := range links {
		if err := l.Send(ctx, f); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == len(links) {
		return errors.Join(errs...)
	}
	return nil
}

// Request 走最近接入的链路
func (s *Server) Request(ctx context.Context, f badge.Frame) (badge.Frame, error) {
	links := s.snapshot()
	if len(links) == 0 {
		return badge.Frame{}, ErrNoLink
	}
	return links[len(links)-1].Request(ctx, f)
}

// Shutdown 关闭监听与所有链路并等待退出
func (s *Server) Shutdown(ctx context.Context) error {
	s.once.Do(func() {
		close(s.stopC)
		if s.ln != nil {
			_ = s.ln.Close()
		}
	})
	ch := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(ch)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
		return nil
	}
}
