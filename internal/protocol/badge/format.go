package badge

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrBadHex = errors.New("bad hex input")

// String 人类可读的单行表示，仅用于展示：
// [ic=1 sr=0 id=0 ns=0 ci=0 tt=0 tl=0 cs=1 0x01 0x0A,0x0B]
func (f Frame) String() string {
	var sb strings.Builder
	fl := f.flags
	fmt.Fprintf(&sb, "[ic=%d sr=%d id=%d ns=%d ci=%d tt=%d tl=%d ",
		bit(fl.IncludesChecksum), bit(fl.SlaveReply), bit(fl.InvalidData),
		bit(fl.CommandNotSupported), bit(fl.ChecksumNotValid), bit(fl.TooLongTmp), bit(fl.TooLong))
	switch f.checksum {
	case ChecksumValid:
		sb.WriteString("cs=1 ")
	case ChecksumInvalid:
		sb.WriteString("cs=0 ")
	}
	fmt.Fprintf(&sb, "0x%02X ", f.command)
	if len(f.payload) == 0 {
		sb.WriteString("-")
	} else {
		sb.WriteString(ByteList(f.payload))
	}
	sb.WriteString("]")
	return sb.String()
}

// Hex 编码后的大写十六进制串（无分隔符）
func (f Frame) Hex(forceChecksum bool) string {
	return strings.ToUpper(hex.EncodeToString(f.Encode(forceChecksum)))
}

// ByteList 以 0xNN,0xNN 形式输出字节
func ByteList(b []byte) string {
	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = hexByte(v)
	}
	return strings.Join(parts, ",")
}

// ParseHexBytes 解析逗号/空白分隔的十六进制输入。
// 单个 token 可以是 "55"、"0x55"，或连续的偶数位十六进制串 "5555424200"。
func ParseHexBytes(s string) ([]byte, error) {
	tokens := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	out := make([]byte, 0, len(tokens))
	for _, tok := range tokens {
		t := strings.TrimPrefix(strings.TrimPrefix(tok, "0x"), "0X")
		if len(t) > 2 {
			if len(t)%2 != 0 {
				return nil, fmt.Errorf("%w: odd length token %q", ErrBadHex, tok)
			}
			b, err := hex.DecodeString(t)
			if err != nil {
				return nil, fmt.Errorf("%w: %q", ErrBadHex, tok)
			}
			out = append(out, b...)
			continue
		}
		v, err := strconv.ParseUint(t, 16, 8)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrBadHex, tok)
		}
		out = append(out, byte(v))
	}
	return out, nil
}

func hexByte(b byte) string { return fmt.Sprintf("0x%02X", b) }

func bit(v bool) int {
	if v {
		return 1
	}
	return 0
}
