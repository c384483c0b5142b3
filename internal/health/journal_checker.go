package health

import (
	"context"
	"fmt"
	"time"

	"github.com/badgecmd/badgebus/internal/journal"
)

// Pinger 远端记录存储
type Pinger interface {
	Ping(ctx context.Context) error
	Breaker() *journal.Breaker
}

// JournalChecker 记录存储检查。存储故障不影响收发，只会降级。
type JournalChecker struct {
	store Pinger
}

func NewJournalChecker(store Pinger) *JournalChecker {
	return &JournalChecker{store: store}
}

func (c *JournalChecker) Name() string { return "journal" }

func (c *JournalChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	b := c.store.Breaker()
	details := map[string]any{
		"breaker": b.State().String(),
		"trips":   b.Trips(),
	}
	if err := c.store.Ping(ctx); err != nil {
		return CheckResult{
			Status:  StatusDegraded,
			Message: fmt.Sprintf("ping failed: %v", err),
			Details: details,
			Latency: time.Since(start),
		}
	}
	if b.State() == journal.BreakerOpen {
		return CheckResult{Status: StatusDegraded, Message: "breaker open", Details: details, Latency: time.Since(start)}
	}
	return CheckResult{Status: StatusHealthy, Message: "ok", Details: details, Latency: time.Since(start)}
}
