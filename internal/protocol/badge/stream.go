package badge

import (
	"go.uber.org/zap"
)

// State 流式解码状态机的状态
type State uint8

const (
	StateWaitSync1      State = iota // 空闲，等待 0x55
	StateWaitSync2                   // 等待第二个 0x55
	StateWaitSync3                   // 等待 0x42
	StateWaitSync4                   // 等待第二个 0x42
	StateWaitStatus                  // 等待 status
	StateWaitCommand                 // 等待 cmd
	StateWaitLength                  // 等待 len
	StateWaitPayload                 // 接收载荷
	StateWaitChecksumHi              // 帧尾第一个字节
	StateWaitChecksumLo              // 帧尾第二个字节，收完即出帧
)

func (s State) String() string {
	switch s {
	case StateWaitSync1:
		return "wait_sync1"
	case StateWaitSync2:
		return "wait_sync2"
	case StateWaitSync3:
		return "wait_sync3"
	case StateWaitSync4:
		return "wait_sync4"
	case StateWaitStatus:
		return "wait_status"
	case StateWaitCommand:
		return "wait_command"
	case StateWaitLength:
		return "wait_length"
	case StateWaitPayload:
		return "wait_payload"
	case StateWaitChecksumHi:
		return "wait_checksum_hi"
	case StateWaitChecksumLo:
		return "wait_checksum_lo"
	default:
		return "unknown"
	}
}

// dropReason 丢弃当前字节（及已累积的半帧）的原因
type dropReason uint8

const (
	dropNone       dropReason = iota
	dropNoise                 // 空闲态收到非同步字节
	dropSync                  // 同步序列中途不匹配
	dropBadRequest            // 主机请求携带了只允许出现在应答中的错误位
	dropUnexpected            // 非法状态
)

func (r dropReason) String() string {
	switch r {
	case dropNoise:
		return "noise"
	case dropSync:
		return "sync_mismatch"
	case dropBadRequest:
		return "bad_request_flags"
	case dropUnexpected:
		return "unexpected"
	default:
		return "none"
	}
}

// transition 单字节的处理结果
type transition struct {
	next   State
	accept bool       // 字节写入累积缓冲
	emit   bool       // 缓冲已构成完整帧
	drop   dropReason // 非 dropNone 时丢弃并回到空闲
}

// DecoderStats 解码统计
type DecoderStats struct {
	Frames           uint64 `json:"frames"`            // 完整出帧数
	DecodeErrors     uint64 `json:"decode_errors"`     // 缓冲组帧失败（理论上不会发生）
	DroppedBytes     uint64 `json:"dropped_bytes"`     // 被丢弃的字节数（含半帧）
	RejectedRequests uint64 `json:"rejected_requests"` // 因非法请求标志被丢弃的帧
}

// StreamDecoder 逐字节解码器。每条字节流独占一个实例，非并发安全。
type StreamDecoder struct {
	state             State
	buf               []byte
	remaining         int
	expectingChecksum bool

	stats  DecoderStats
	logger *zap.Logger
}

// NewStreamDecoder 创建流式解码器
func NewStreamDecoder() *StreamDecoder {
	return &StreamDecoder{
		buf:    make([]byte, 0, Overhead+MaxPayloadLen),
		logger: zap.NewNop(),
	}
}

// SetLogger 设置诊断日志输出
func (d *StreamDecoder) SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	d.logger = l
}

// State 当前状态
func (d *StreamDecoder) State() State { return d.state }

// ExpectingChecksum 当前半帧的 status 是否声明携带校验
func (d *StreamDecoder) ExpectingChecksum() bool { return d.expectingChecksum }

// Buffered 已累积的半帧字节数
func (d *StreamDecoder) Buffered() int { return len(d.buf) }

// Stats 返回统计快照
func (d *StreamDecoder) Stats() DecoderStats { return d.stats }

// Reset 放弃当前半帧回到空闲态，可重复调用
func (d *StreamDecoder) Reset() {
	d.buf = d.buf[:0]
	d.remaining = 0
	d.expectingChecksum = false
	d.state = StateWaitSync1
}

// step 状态转移函数：对每个状态穷举“推进”与“丢弃”
func (d *StreamDecoder) step(b byte) transition {
	switch d.state {
	case StateWaitSync1:
		if b == Sync1 {
			return transition{next: StateWaitSync2, accept: true}
		}
		return transition{next: StateWaitSync1, drop: dropNoise}
	case StateWaitSync2:
		if b == Sync2 {
			return transition{next: StateWaitSync3, accept: true}
		}
		return transition{next: StateWaitSync1, drop: dropSync}
	case StateWaitSync3:
		if b == Sync3 {
			return transition{next: StateWaitSync4, accept: true}
		}
		return transition{next: StateWaitSync1, drop: dropSync}
	case StateWaitSync4:
		if b == Sync4 {
			return transition{next: StateWaitStatus, accept: true}
		}
		return transition{next: StateWaitSync1, drop: dropSync}
	case StateWaitStatus:
		if b&StatusSlaveReply == 0 && b&statusReplyOnly != 0 {
			return transition{next: StateWaitSync1, drop: dropBadRequest}
		}
		return transition{next: StateWaitCommand, accept: true}
	case StateWaitCommand:
		return transition{next: StateWaitLength, accept: true}
	case StateWaitLength:
		if b == 0 {
			return transition{next: StateWaitChecksumHi, accept: true}
		}
		return transition{next: StateWaitPayload, accept: true}
	case StateWaitPayload:
		if d.remaining == 1 {
			return transition{next: StateWaitChecksumHi, accept: true}
		}
		return transition{next: StateWaitPayload, accept: true}
	case StateWaitChecksumHi:
		return transition{next: StateWaitChecksumLo, accept: true}
	case StateWaitChecksumLo:
		return transition{next: StateWaitSync1, accept: true, emit: true}
	default:
		return transition{next: StateWaitSync1, drop: dropUnexpected}
	}
}

// Process 输入一个字节；仅当该字节补全一帧时返回 (frame, true)。
// 返回 false 表示“尚未成帧”，不是错误。
func (d *StreamDecoder) Process(b byte) (Frame, bool) {
	prev := d.state
	t := d.step(b)

	if t.drop != dropNone {
		d.discard(prev, b, t.drop)
		return Frame{}, false
	}

	if t.accept {
		d.buf = append(d.buf, b)
	}
	switch prev {
	case StateWaitStatus:
		d.expectingChecksum = b&StatusIncludesChecksum != 0
	case StateWaitLength:
		d.remaining = int(b)
	case StateWaitPayload:
		d.remaining--
	}
	d.state = t.next

	if !t.emit {
		return Frame{}, false
	}

	f, err := Decode(d.buf)
	n := len(d.buf)
	d.Reset()
	if err != nil {
		d.stats.DecodeErrors++
		d.stats.DroppedBytes += uint64(n)
		d.logger.Error("decode assembled frame failed", zap.Int("len", n), zap.Error(err))
		return Frame{}, false
	}
	d.stats.Frames++
	if f.ChecksumState() == ChecksumInvalid {
		d.logger.Warn("frame checksum mismatch",
			zap.Uint8("cmd", f.Command()),
			zap.Int("payload_len", f.PayloadLen()),
		)
	}
	return f, true
}

// Feed 将一段字节逐个送入 Process，返回期间补全的所有帧
func (d *StreamDecoder) Feed(p []byte) []Frame {
	var out []Frame
	for _, b := range p {
		if f, ok := d.Process(b); ok {
			out = append(out, f)
		}
	}
	return out
}

func (d *StreamDecoder) discard(at State, b byte, reason dropReason) {
	n := len(d.buf) + 1
	d.stats.DroppedBytes += uint64(n)
	switch reason {
	case dropBadRequest:
		// 非法请求直接丢弃，不输出诊断
		d.stats.RejectedRequests++
	case dropNoise:
		d.logger.Debug("dropped", zap.String("byte", hexByte(b)))
	default:
		d.logger.Warn("dropped",
			zap.String("byte", hexByte(b)),
			zap.Stringer("state", at),
			zap.Stringer("reason", reason),
			zap.Int("discarded", n),
		)
	}
	d.Reset()
}
