package journal

import (
	"context"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/badgecmd/badgebus/internal/link"
	"github.com/badgecmd/badgebus/internal/protocol/badge"
)

// Record 一条收发记录（JSON 存储，字节以大写十六进制表示）
type Record struct {
	ID       string      `json:"id"`
	Time     time.Time   `json:"time"`
	Link     string      `json:"link"`
	Dir      string      `json:"dir"`
	Command  byte        `json:"command"`
	Flags    badge.Flags `json:"flags"`
	Checksum string      `json:"checksum"`
	Payload  string      `json:"payload"`
	Raw      string      `json:"raw"`
	Text     string      `json:"text"`
}

// NewRecord 由链路事件生成记录
func NewRecord(ev link.Event) Record {
	ts := ev.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return Record{
		ID:       uuid.NewString(),
		Time:     ts,
		Link:     ev.Link,
		Dir:      string(ev.Dir),
		Command:  ev.Frame.Command(),
		Flags:    ev.Frame.Flags(),
		Checksum: ev.Frame.ChecksumState().String(),
		Payload:  upperHex(ev.Frame.Payload()),
		Raw:      upperHex(ev.Raw),
		Text:     ev.Frame.String(),
	}
}

func upperHex(b []byte) string { return strings.ToUpper(hex.EncodeToString(b)) }

// Store 记录存储，Recent 按时间倒序返回
type Store interface {
	Append(ctx context.Context, r Record) error
	Recent(ctx context.Context, limit int) ([]Record, error)
	Close() error
}
