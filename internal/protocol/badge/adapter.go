package badge

import (
	"bytes"

	"go.uber.org/zap"
)

// Adapter badge 协议适配器：逐字节流式解码 + 路由表
type Adapter struct {
	decoder *StreamDecoder
	table   *Table
	onFrame func(Frame)
}

func NewAdapter() *Adapter {
	return &Adapter{decoder: NewStreamDecoder(), table: NewTable()}
}

// SetLogger 设置解码诊断日志
func (a *Adapter) SetLogger(l *zap.Logger) { a.decoder.SetLogger(l) }

// Register 注册指令处理器
func (a *Adapter) Register(cmd byte, h Handler) { a.table.Register(cmd, h) }

// SetFallback 未注册指令的处理器
func (a *Adapter) SetFallback(h Handler) { a.table.SetFallback(h) }

// OnFrame 每解出一帧先回调（路由之前），用于日志、指标与应答匹配
func (a *Adapter) OnFrame(fn func(Frame)) { a.onFrame = fn }

// Reset 丢弃半帧，例如外部检测到读超时
func (a *Adapter) Reset() { a.decoder.Reset() }

// Buffered 解码器中尚未成帧的字节数
func (a *Adapter) Buffered() int { return a.decoder.Buffered() }

// Stats 解码统计
func (a *Adapter) Stats() DecoderStats { return a.decoder.Stats() }

// ProcessBytes 处理上行字节流，返回第一个处理器错误（其余帧仍会继续处理）
func (a *Adapter) ProcessBytes(p []byte) error {
	var firstErr error
	for _, b := range p {
		f, ok := a.decoder.Process(b)
		if !ok {
			continue
		}
		if a.onFrame != nil {
			a.onFrame(f)
		}
		if err := a.table.Route(f); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Sniff 粗略判断是否为 badge 协议（前缀与同步前导一致）
func (a *Adapter) Sniff(prefix []byte) bool {
	if len(prefix) < 2 {
		return false
	}
	n := len(prefix)
	if n > len(preamble) {
		n = len(preamble)
	}
	return bytes.Equal(prefix[:n], preamble[:n])
}
