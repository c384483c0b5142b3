package journal

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/badgecmd/badgebus/internal/link"
)

// Recorder 异步写入记录，队列满时丢弃，不阻塞链路读循环
type Recorder struct {
	store   Store
	logger  *zap.Logger
	queue   chan Record
	dropped atomic.Int64
	failed  atomic.Int64
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewRecorder(store Store, queueSize int, logger *zap.Logger) *Recorder {
	if queueSize <= 0 {
		queueSize = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Recorder{store: store, logger: logger, queue: make(chan Record, queueSize)}
	r.wg.Add(1)
	go r.loop()
	return r
}

// Observe 可直接作为 link.Link.Subscribe 的回调
func (r *Recorder) Observe(ev link.Event) {
	rec := NewRecord(ev)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.dropped.Add(1)
		return
	}
	select {
	case r.queue <- rec:
	default:
		r.dropped.Add(1)
	}
}

func (r *Recorder) loop() {
	defer r.wg.Done()
	for rec := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := r.store.Append(ctx, rec)
		cancel()
		if err == nil {
			continue
		}
		// 后端故障时每 100 条记一次
		if n := r.failed.Add(1); n == 1 || n%100 == 0 {
			r.logger.Warn("journal append failed", zap.Error(err), zap.Int64("failed_total", n))
		}
	}
}

// Dropped 因队列满被丢弃的记录数
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

// Failed 写入失败的记录数
func (r *Recorder) Failed() int64 { return r.failed.Load() }

// Close 刷完队列后返回
func (r *Recorder) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	r.wg.Wait()
}
