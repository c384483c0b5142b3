package api

import (
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/badgecmd/badgebus/internal/journal"
	"github.com/badgecmd/badgebus/internal/link"
	"github.com/badgecmd/badgebus/internal/protocol/badge"
	"github.com/badgecmd/badgebus/internal/tcpserver"
)

const (
	defaultListLimit = 50
	maxListLimit     = 1000
)

// ConsoleHandler 调试控制台：查看收发记录、构造并下发帧、离线解码
type ConsoleHandler struct {
	bus     link.Bus
	store   journal.Store
	timeout time.Duration
	logger  *zap.Logger
}

// NewConsoleHandler bus 为 nil 时发送接口返回 503
func NewConsoleHandler(bus link.Bus, store journal.Store, timeout time.Duration, logger *zap.Logger) *ConsoleHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ConsoleHandler{bus: bus, store: store, timeout: timeout, logger: logger}
}

// FrameView 帧的 JSON 表示
type FrameView struct {
	Command  byte        `json:"command"`
	Flags    badge.Flags `json:"flags"`
	Payload  string      `json:"payload"`
	Checksum string      `json:"checksum,omitempty"`
	Hex      string      `json:"hex"`
	Text     string      `json:"text"`
}

func viewOf(f badge.Frame, forceChecksum bool) FrameView {
	v := FrameView{
		Command: f.Command(),
		Flags:   f.Flags(),
		Payload: badge.ByteList(f.Payload()),
		Hex:     f.Hex(forceChecksum),
		Text:    f.String(),
	}
	if raw := f.Raw(); raw != nil {
		v.Hex = upperHex(raw)
		v.Checksum = f.ChecksumState().String()
	}
	return v
}

func upperHex(b []byte) string { return strings.ToUpper(hex.EncodeToString(b)) }

// SendFrameRequest 下发帧请求
type SendFrameRequest struct {
	Command    *int        `json:"command" binding:"required,min=0,max=255"`
	Payload    string      `json:"payload"` // 十六进制，逗号或空白分隔
	Flags      badge.Flags `json:"flags"`
	AwaitReply bool        `json:"await_reply"`
}

// DecodeRequest 离线解码请求
type DecodeRequest struct {
	Data string `json:"data" binding:"required"`
}

// ListFrames GET /api/frames?limit=N
func (h *ConsoleHandler) ListFrames(c *gin.Context) {
	limit := defaultListLimit
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = min(n, maxListLimit)
	}
	if h.store == nil {
		c.JSON(http.StatusOK, gin.H{"frames": []journal.Record{}, "count": 0})
		return
	}

	records, err := h.store.Recent(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("list frames failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read journal", "detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"frames": records, "count": len(records)})
}

// SendFrame POST /api/frames
func (h *ConsoleHandler) SendFrame(c *gin.Context) {
	var req SendFrameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "detail": err.Error()})
		return
	}
	payload, err := badge.ParseHexBytes(req.Payload)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload", "detail": err.Error()})
		return
	}
	f, err := badge.NewFrame(byte(*req.Command), badge.Options{Payload: payload, Flags: req.Flags})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid frame", "detail": err.Error()})
		return
	}
	if h.bus == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no device link"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	if !req.AwaitReply {
		if err := h.bus.Send(ctx, f); err != nil {
			h.fail(c, f, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"sent": viewOf(f, false)})
		return
	}

	reply, err := h.bus.Request(ctx, f)
	if err != nil {
		h.fail(c, f, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sent": viewOf(f, false), "reply": viewOf(reply, false)})
}

func (h *ConsoleHandler) fail(c *gin.Context, f badge.Frame, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, link.ErrReplyTimeout), errors.Is(err, context.DeadlineExceeded):
		code = http.StatusGatewayTimeout
	case errors.Is(err, tcpserver.ErrNoLink), errors.Is(err, link.ErrClosed):
		code = http.StatusServiceUnavailable
	}
	h.logger.Warn("send frame failed", zap.Stringer("frame", f), zap.Error(err))
	c.JSON(code, gin.H{"error": "send failed", "detail": err.Error()})
}

// DecodeFrames POST /api/decode，用全新的流式解码器解析任意字节
func (h *ConsoleHandler) DecodeFrames(c *gin.Context) {
	var req DecodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "detail": err.Error()})
		return
	}
	data, err := badge.ParseHexBytes(req.Data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid data", "detail": err.Error()})
		return
	}

	d := badge.NewStreamDecoder()
	frames := d.Feed(data)
	views := make([]FrameView, 0, len(frames))
	for _, f := range frames {
		views = append(views, viewOf(f, false))
	}
	c.JSON(http.StatusOK, gin.H{
		"frames":   views,
		"count":    len(views),
		"stats":    d.Stats(),
		"state":    d.State().String(),
		"buffered": d.Buffered(),
	})
}
