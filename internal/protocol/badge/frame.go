package badge

import (
	"bytes"
	"errors"
	"fmt"
)

var (
	ErrTooShort        = errors.New("frame too short")
	ErrLengthMismatch  = errors.New("frame length mismatch")
	ErrPayloadTooLong  = errors.New("payload exceeds 255 bytes")
	errFramingSentinel = []error{ErrTooShort, ErrLengthMismatch}
)

// IsFramingError 判断是否为缓冲区级别的成帧错误（与“尚未收全”区分）
func IsFramingError(err error) bool {
	for _, s := range errFramingSentinel {
		if errors.Is(err, s) {
			return true
		}
	}
	return false
}

// ChecksumState 解码时得到的校验结果（三态）
type ChecksumState uint8

const (
	ChecksumUnknown ChecksumState = iota // 帧未携带校验
	ChecksumValid
	ChecksumInvalid
)

func (s ChecksumState) String() string {
	switch s {
	case ChecksumValid:
		return "valid"
	case ChecksumInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Flags status 字节中的七个独立标志位
type Flags struct {
	IncludesChecksum    bool `json:"includes_checksum" yaml:"includes_checksum" toml:"includes_checksum"`
	SlaveReply          bool `json:"slave_reply" yaml:"slave_reply" toml:"slave_reply"`
	InvalidData         bool `json:"invalid_data" yaml:"invalid_data" toml:"invalid_data"`
	CommandNotSupported bool `json:"command_not_supported" yaml:"command_not_supported" toml:"command_not_supported"`
	ChecksumNotValid    bool `json:"checksum_not_valid" yaml:"checksum_not_valid" toml:"checksum_not_valid"`
	TooLongTmp          bool `json:"too_long_tmp" yaml:"too_long_tmp" toml:"too_long_tmp"`
	TooLong             bool `json:"too_long" yaml:"too_long" toml:"too_long"`
}

// StatusByte 按线上格式组装 status 字节。
// 注意：ChecksumNotValid 会覆盖之前已置的位（设备端行为如此，未经实机确认前不要修正），
// TooLongTmp/TooLong 在其之后仍会叠加。
func (fl Flags) StatusByte(forceChecksum bool) byte {
	var status byte
	if fl.IncludesChecksum || forceChecksum {
		status |= StatusIncludesChecksum
	}
	if fl.SlaveReply {
		status |= StatusSlaveReply
	}
	if fl.InvalidData {
		status |= StatusInvalidData
	}
	if fl.CommandNotSupported {
		status |= StatusCommandNotSupported
	}
	if fl.ChecksumNotValid {
		status = StatusChecksumNotValid
	}
	if fl.TooLongTmp {
		status |= StatusTooLongTmp
	}
	if fl.TooLong {
		status |= StatusTooLong
	}
	return status
}

// FlagsFromStatus 逐位解析 status 字节，保留位 5 被忽略
func FlagsFromStatus(status byte) Flags {
	return Flags{
		IncludesChecksum:    status&StatusIncludesChecksum != 0,
		SlaveReply:          status&StatusSlaveReply != 0,
		InvalidData:         status&StatusInvalidData != 0,
		CommandNotSupported: status&StatusCommandNotSupported != 0,
		ChecksumNotValid:    status&StatusChecksumNotValid != 0,
		TooLongTmp:          status&StatusTooLongTmp != 0,
		TooLong:             status&StatusTooLong != 0,
	}
}

// Options 构造下行帧的全部可选项
type Options struct {
	Payload []byte
	Flags   Flags
}

// DefaultOptions 空载荷，默认携带校验，其余标志为 false
func DefaultOptions() Options {
	return Options{Flags: Flags{IncludesChecksum: true}}
}

// Frame 一个完整协议单元。构造后不可修改，载荷在进出时复制。
type Frame struct {
	command  byte
	payload  []byte
	flags    Flags
	checksum ChecksumState
	raw      []byte // 解码来源的原始字节
}

// NewFrame 由应用侧构造帧
func NewFrame(command byte, opts Options) (Frame, error) {
	if len(opts.Payload) > MaxPayloadLen {
		return Frame{}, fmt.Errorf("%w: got %d", ErrPayloadTooLong, len(opts.Payload))
	}
	return Frame{command: command, payload: clone(opts.Payload), flags: opts.Flags}, nil
}

// MustFrame 同 NewFrame，载荷超长时 panic，仅用于常量化的帧
func MustFrame(command byte, opts Options) Frame {
	f, err := NewFrame(command, opts)
	if err != nil {
		panic(err)
	}
	return f
}

func (f Frame) Command() byte { return f.command }

// Payload 返回载荷副本
func (f Frame) Payload() []byte { return clone(f.payload) }

func (f Frame) PayloadLen() int { return len(f.payload) }

func (f Frame) Flags() Flags { return f.flags }

func (f Frame) IncludesChecksum() bool    { return f.flags.IncludesChecksum }
func (f Frame) SlaveReply() bool          { return f.flags.SlaveReply }
func (f Frame) InvalidData() bool         { return f.flags.InvalidData }
func (f Frame) CommandNotSupported() bool { return f.flags.CommandNotSupported }
func (f Frame) ChecksumNotValid() bool    { return f.flags.ChecksumNotValid }
func (f Frame) TooLongTmp() bool          { return f.flags.TooLongTmp }
func (f Frame) TooLong() bool             { return f.flags.TooLong }

// ChecksumState 仅对解码得到且携带校验位的帧有意义
func (f Frame) ChecksumState() ChecksumState { return f.checksum }

// Raw 解码得到的帧返回原始线上字节，应用构造的帧返回 nil
func (f Frame) Raw() []byte {
	if f.raw == nil {
		return nil
	}
	return clone(f.raw)
}

// Len 编码后的字节数
func (f Frame) Len() int { return Overhead + len(f.payload) }

// Equal 比较线上可见的内容（命令、载荷、标志），忽略解码得到的校验状态
func (f Frame) Equal(o Frame) bool {
	return f.command == o.command && f.flags == o.flags && bytes.Equal(f.payload, o.payload)
}

// Encode 编码为线上字节。forceChecksum 为 true 时无论标志如何都计算校验。
func (f Frame) Encode(forceChecksum bool) []byte {
	doChecksum := f.flags.IncludesChecksum || forceChecksum

	buf := make([]byte, 0, f.Len())
	buf = append(buf, preamble[:]...)
	buf = append(buf, f.flags.StatusByte(forceChecksum), f.command, byte(len(f.payload)))
	buf = append(buf, f.payload...)
	if doChecksum {
		sum := Checksum(buf[checksumOffset:])
		buf = append(buf, sum[0], sum[1])
	} else {
		buf = append(buf, 0x00, 0x00)
	}
	return buf
}

// Decode 解析一帧完整字节。前导字节不做检查（由流式解码器保证）。
// 校验不一致不会返回错误，只记录在 ChecksumState 中。
func Decode(raw []byte) (Frame, error) {
	if len(raw) < Overhead {
		return Frame{}, fmt.Errorf("%w: got %d bytes, need at least %d", ErrTooShort, len(raw), Overhead)
	}
	status := raw[4]
	command := raw[5]
	length := int(raw[6])
	if len(raw) != length+Overhead {
		return Frame{}, fmt.Errorf("%w: got %d expected %d", ErrLengthMismatch, len(raw), length+Overhead)
	}

	f := Frame{
		command: command,
		payload: clone(raw[HeaderLen : HeaderLen+length]),
		flags:   FlagsFromStatus(status),
		raw:     clone(raw),
	}
	if f.flags.IncludesChecksum {
		var got [2]byte
		copy(got[:], raw[len(raw)-TrailerLen:])
		if VerifyChecksum(raw[checksumOffset:len(raw)-TrailerLen], got) {
			f.checksum = ChecksumValid
		} else {
			f.checksum = ChecksumInvalid
		}
	}
	return f, nil
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
