package link

import (
	"context"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// Throttle 下行发送的令牌桶限速（设备端串口缓冲很小，连发容易溢出）
type Throttle struct {
	limiter       *rate.Limiter
	ratePerSec    int
	burst         int
	allowedCount  atomic.Int64
	rejectedCount atomic.Int64
}

// NewThrottle ratePerSec <= 0 表示不限速
func NewThrottle(ratePerSec int, burst int) *Throttle {
	if ratePerSec <= 0 {
		return &Throttle{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst <= 0 {
		burst = 1
	}
	return &Throttle{
		limiter:    rate.NewLimiter(rate.Limit(ratePerSec), burst),
		ratePerSec: ratePerSec,
		burst:      burst,
	}
}

// Allow 非阻塞检查
func (t *Throttle) Allow() bool {
	if t.limiter.Allow() {
		t.allowedCount.Add(1)
		return true
	}
	t.rejectedCount.Add(1)
	return false
}

// Wait 阻塞直到拿到令牌或 ctx 结束
func (t *Throttle) Wait(ctx context.Context) error {
	if err := t.limiter.Wait(ctx); err != nil {
		t.rejectedCount.Add(1)
		return err
	}
	t.allowedCount.Add(1)
	return nil
}

// Stats 获取统计信息
func (t *Throttle) Stats() ThrottleStats {
	return ThrottleStats{
		RatePerSecond: t.ratePerSec,
		Burst:         t.burst,
		AllowedTotal:  t.allowedCount.Load(),
		RejectedTotal: t.rejectedCount.Load(),
	}
}

// ThrottleStats 限速统计信息
type ThrottleStats struct {
	RatePerSecond int   `json:"rate_per_second"`
	Burst         int   `json:"burst"`
	AllowedTotal  int64 `json:"allowed_total"`
	RejectedTotal int64 `json:"rejected_total"`
}
