package tcpserver

import (
	"errors"
	"sync/atomic"
)

var ErrTooManyLinks = errors.New("too many device links")

// Limiter 同时接入的链路数上限（信号量）。监听桥接场景下超限直接拒绝，不排队。
type Limiter struct {
	sem      chan struct{}
	max      int
	active   atomic.Int64
	rejected atomic.Int64
}

// NewLimiter max <= 0 时取 16
func NewLimiter(max int) *Limiter {
	if max <= 0 {
		max = 16
	}
	return &Limiter{sem: make(chan struct{}, max), max: max}
}

// TryAcquire 非阻塞获取许可
func (l *Limiter) TryAcquire() error {
	select {
	case l.sem <- struct{}{}:
		l.active.Add(1)
		return nil
	default:
		l.rejected.Add(1)
		return ErrTooManyLinks
	}
}

// Release 归还许可
func (l *Limiter) Release() {
	select {
	case <-l.sem:
		l.active.Add(-1)
	default:
	}
}

// Stats 获取统计信息
func (l *Limiter) Stats() LimiterStats {
	cur := int(l.active.Load())
	return LimiterStats{
		MaxLinks:      l.max,
		ActiveLinks:   cur,
		RejectedTotal: l.rejected.Load(),
		Utilization:   float64(cur) / float64(l.max),
	}
}

// LimiterStats 接入限制统计
type LimiterStats struct {
	MaxLinks      int     `json:"max_links"`
	ActiveLinks   int     `json:"active_links"`
	RejectedTotal int64   `json:"rejected_total"`
	Utilization   float64 `json:"utilization"` // 0.0 - 1.0
}
