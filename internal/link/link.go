package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/badgecmd/badgebus/internal/metrics"
	"github.com/badgecmd/badgebus/internal/protocol/adapter"
	"github.com/badgecmd/badgebus/internal/protocol/badge"
)

var (
	ErrClosed       = errors.New("link closed")
	ErrReplyTimeout = errors.New("no reply from device")
)

// Direction 帧方向
type Direction string

const (
	DirRx Direction = "rx"
	DirTx Direction = "tx"
)

// Event 链路上收发的一帧
type Event struct {
	Dir   Direction
	Link  string
	Frame badge.Frame
	Raw   []byte
	Time  time.Time
}

// Bus 下行发送能力，Link 与监听桥接都实现它
type Bus interface {
	Send(ctx context.Context, f badge.Frame) error
	Request(ctx context.Context, f badge.Frame) (badge.Frame, error)
}

// Options 链路运行参数
type Options struct {
	Name          string
	ForceChecksum bool
	ReadTimeout   time.Duration // 空闲超时，到期丢弃半帧；0 表示不设
	WriteTimeout  time.Duration
	ReplyTimeout  time.Duration
	TxRate        int
	TxBurst       int
}

// Stats 链路统计
type Stats struct {
	Name     string             `json:"name"`
	BytesIn  uint64             `json:"bytes_in"`
	BytesOut uint64             `json:"bytes_out"`
	Decoder  badge.DecoderStats `json:"decoder"`
	Throttle ThrottleStats      `json:"throttle"`
	Closed   bool               `json:"closed"`
}

type deadliner interface {
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// Link 一条到设备的字节流链路（串口或 TCP），负责读循环、流式解码与下行发送
type Link struct {
	conn     io.ReadWriteCloser
	opts     Options
	codec    *badge.Adapter
	proto    adapter.Adapter
	throttle *Throttle
	logger   *zap.Logger
	metrics  *metrics.LinkMetrics

	writeMu sync.Mutex

	mu       sync.Mutex
	subs     []func(Event)
	waiters  map[byte][]chan badge.Frame
	decStats badge.DecoderStats

	bytesIn  atomic.Uint64
	bytesOut atomic.Uint64
	closed   atomic.Bool
	doneC    chan struct{}
	closeMu  sync.Once
}

// New 包装已打开的连接，调用 Run 后开始读取
func New(conn io.ReadWriteCloser, opts Options) *Link {
	a := badge.NewAdapter()
	l := &Link{
		conn:     conn,
		opts:     opts,
		codec:    a,
		proto:    a,
		throttle: NewThrottle(opts.TxRate, opts.TxBurst),
		logger:   zap.NewNop(),
		waiters:  make(map[byte][]chan badge.Frame),
		doneC:    make(chan struct{}),
	}
	a.OnFrame(l.onFrame)
	return l
}

// SetLogger 同时设置解码器的诊断日志
func (l *Link) SetLogger(lg *zap.Logger) {
	if lg == nil {
		return
	}
	l.logger = lg.With(zap.String("link", l.opts.Name))
	l.codec.SetLogger(l.logger)
}

// SetMetrics 可为 nil
func (l *Link) SetMetrics(m *metrics.LinkMetrics) { l.metrics = m }

// Name 链路名称（设备路径或远端地址）
func (l *Link) Name() string { return l.opts.Name }

// Subscribe 注册收发事件观察者，在读循环或发送方 goroutine 中同步调用
func (l *Link) Subscribe(fn func(Event)) {
	l.mu.Lock()
	l.subs = append(l.subs, fn)
	l.mu.Unlock()
}

// Register 注册上行指令处理器
func (l *Link) Register(cmd byte, h badge.Handler) { l.codec.Register(cmd, h) }

// SetFallback 未注册指令的处理器
func (l *Link) SetFallback(h badge.Handler) { l.codec.SetFallback(h) }

// Done 链路关闭通知
func (l *Link) Done() <-chan struct{} { return l.doneC }

// Closed 链路是否已关闭
func (l *Link) Closed() bool { return l.closed.Load() }

// Stats 统计快照
func (l *Link) Stats() Stats {
	l.mu.Lock()
	dec := l.decStats
	l.mu.Unlock()
	return Stats{
		Name:     l.opts.Name,
		BytesIn:  l.bytesIn.Load(),
		BytesOut: l.bytesOut.Load(),
		Decoder:  dec,
		Throttle: l.throttle.Stats(),
		Closed:   l.closed.Load(),
	}
}

// Run 读循环，阻塞直到连接结束或 ctx 取消。对端正常关闭返回 nil。
func (l *Link) Run(ctx context.Context) error {
	defer l.Close()
	if l.metrics != nil {
		l.metrics.ActiveLinks.Inc()
		defer l.metrics.ActiveLinks.Dec()
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = l.Close()
		case <-stop:
		}
	}()

	dl, _ := l.conn.(deadliner)
	sniffed := false
	buf := make([]byte, 4096)
	for {
		if dl != nil && l.opts.ReadTimeout > 0 {
			_ = dl.SetReadDeadline(time.Now().Add(l.opts.ReadTimeout))
		}
		n, err := l.conn.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if !sniffed {
				sniffed = true
				if n >= 2 && !l.proto.Sniff(chunk) {
					l.logger.Warn("unexpected first bytes", zap.String("prefix", badge.ByteList(chunk[:min(n, 4)])))
				}
			}
			l.onBytes(chunk)
			continue
		}
		if err == nil {
			// 串口读超时返回 (0, nil)
			l.idle()
			continue
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			l.idle()
			continue
		}
		if ctx.Err() != nil || errors.Is(err, io.EOF) || l.closed.Load() {
			return nil
		}
		return fmt.Errorf("read %s: %w", l.opts.Name, err)
	}
}

func (l *Link) idle() {
	if l.codec.Buffered() > 0 {
		l.logger.Debug("idle timeout, partial frame discarded", zap.Int("buffered", l.codec.Buffered()))
	}
	l.proto.Reset()
}

func (l *Link) onBytes(p []byte) {
	l.bytesIn.Add(uint64(len(p)))
	if l.metrics != nil {
		l.metrics.BytesReceived.Add(float64(len(p)))
	}
	if err := l.proto.ProcessBytes(p); err != nil {
		l.logger.Warn("frame handler failed", zap.Error(err))
	}

	st := l.codec.Stats()
	l.mu.Lock()
	prev := l.decStats
	l.decStats = st
	l.mu.Unlock()
	if l.metrics != nil {
		l.metrics.DroppedBytes.Add(float64(st.DroppedBytes - prev.DroppedBytes))
		l.metrics.RejectedRequests.Add(float64(st.RejectedRequests - prev.RejectedRequests))
		l.metrics.DecodeErrors.Add(float64(st.DecodeErrors - prev.DecodeErrors))
	}
}

// onFrame 读循环中每解出一帧调用（路由之前）
func (l *Link) onFrame(f badge.Frame) {
	if l.metrics != nil {
		l.metrics.FramesReceived.WithLabelValues(f.ChecksumState().String()).Inc()
	}
	l.logger.Debug("frame received", zap.Stringer("frame", f))
	l.publish(Event{Dir: DirRx, Link: l.opts.Name, Frame: f, Raw: f.Raw(), Time: time.Now()})

	if !f.SlaveReply() {
		return
	}
	l.mu.Lock()
	q := l.waiters[f.Command()]
	var ch chan badge.Frame
	if len(q) > 0 {
		ch = q[0]
		l.waiters[f.Command()] = q[1:]
	}
	l.mu.Unlock()
	if ch != nil {
		select {
		case ch <- f:
		default:
		}
	}
}

func (l *Link) publish(ev Event) {
	l.mu.Lock()
	subs := l.subs
	l.mu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}

// Send 编码并写出一帧，受发送限速与写超时约束
func (l *Link) Send(ctx context.Context, f badge.Frame) error {
	if l.closed.Load() {
		return ErrClosed
	}
	if err := l.throttle.Wait(ctx); err != nil {
		return fmt.Errorf("throttle: %w", err)
	}
	raw := f.Encode(l.opts.ForceChecksum)

	l.writeMu.Lock()
	if dl, ok := l.conn.(deadliner); ok && l.opts.WriteTimeout > 0 {
		_ = dl.SetWriteDeadline(time.Now().Add(l.opts.WriteTimeout))
	}
	_, err := l.conn.Write(raw)
	l.writeMu.Unlock()
	if err != nil {
		if l.closed.Load() {
			return ErrClosed
		}
		return fmt.Errorf("write %s: %w", l.opts.Name, err)
	}

	l.bytesOut.Add(uint64(len(raw)))
	if l.metrics != nil {
		l.metrics.BytesSent.Add(float64(len(raw)))
		l.metrics.FramesSent.WithLabelValues(fmt.Sprintf("0x%02X", f.Command())).Inc()
	}
	l.logger.Debug("frame sent", zap.Stringer("frame", f))
	l.publish(Event{Dir: DirTx, Link: l.opts.Name, Frame: f, Raw: raw, Time: time.Now()})
	return nil
}

// Await 登记等待 cmd 的下一条从机应答，返回的 cancel 用于撤销登记
func (l *Link) Await(cmd byte, ch chan badge.Frame) (cancel func()) {
	l.mu.Lock()
	l.waiters[cmd] = append(l.waiters[cmd], ch)
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		q := l.waiters[cmd]
		for i, c := range q {
			if c == ch {
				l.waiters[cmd] = append(q[:i:i], q[i+1:]...)
				break
			}
		}
		if len(l.waiters[cmd]) == 0 {
			delete(l.waiters, cmd)
		}
	}
}

// Request 发送请求并等待同一命令的从机应答
func (l *Link) Request(ctx context.Context, f badge.Frame) (badge.Frame, error) {
	ch := make(chan badge.Frame, 1)
	cancel := l.Await(f.Command(), ch)
	defer cancel()

	if err := l.Send(ctx, f); err != nil {
		return badge.Frame{}, err
	}

	var timeout <-chan time.Time
	if l.opts.ReplyTimeout > 0 {
		t := time.NewTimer(l.opts.ReplyTimeout)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case reply := <-ch:
		return reply, nil
	case <-timeout:
		if l.metrics != nil {
			l.metrics.ReplyTimeouts.Inc()
		}
		return badge.Frame{}, fmt.Errorf("%w: cmd=0x%02X after %s", ErrReplyTimeout, f.Command(), l.opts.ReplyTimeout)
	case <-ctx.Done():
		return badge.Frame{}, ctx.Err()
	case <-l.doneC:
		return badge.Frame{}, ErrClosed
	}
}

// Close 关闭底层连接，可重复调用
func (l *Link) Close() error {
	var err error
	l.closeMu.Do(func() {
		l.closed.Store(true)
		err = l.conn.Close()
		close(l.doneC)
	})
	return err
}
