package health

import (
	"context"

	"github.com/badgecmd/badgebus/internal/link"
)

// LinkChecker 设备链路检查：没有存活链路即不健康
type LinkChecker struct {
	links func() []link.Stats
}

// NewLinkChecker links 返回当前所有链路的统计快照
func NewLinkChecker(links func() []link.Stats) *LinkChecker {
	return &LinkChecker{links: links}
}

func (c *LinkChecker) Name() string { return "link" }

func (c *LinkChecker) Check(_ context.Context) CheckResult {
	stats := c.links()
	open := 0
	details := make(map[string]any, len(stats))
	for _, st := range stats {
		if !st.Closed {
			open++
		}
		details[st.Name] = map[string]any{
			"closed":        st.Closed,
			"frames":        st.Decoder.Frames,
			"dropped_bytes": st.Decoder.DroppedBytes,
			"bytes_in":      st.BytesIn,
			"bytes_out":     st.BytesOut,
		}
	}
	if open == 0 {
		return CheckResult{Status: StatusUnhealthy, Message: "no device link", Details: details}
	}
	return CheckResult{Status: StatusHealthy, Message: "ok", Details: details}
}
