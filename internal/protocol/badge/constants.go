package badge

// 帧布局（大端）：
// sync[4] 55 55 42 42 | status[1] | cmd[1] | len[1] | data[len] | crc16/填充[2]
const (
	Sync1 byte = 0x55
	Sync2 byte = 0x55
	Sync3 byte = 0x42
	Sync4 byte = 0x42

	// HeaderLen 前导 + status + cmd + len
	HeaderLen = 7
	// TrailerLen 末尾校验（或 00 00 填充）
	TrailerLen = 2
	// Overhead 帧固定开销，帧长 = Overhead + len(payload)
	Overhead = HeaderLen + TrailerLen
	// MaxPayloadLen 长度字段只有一个字节
	MaxPayloadLen = 255

	// checksumOffset 校验覆盖范围从第三个同步字节开始
	checksumOffset = 2
)

// status 位定义
const (
	StatusIncludesChecksum    byte = 0x80
	StatusSlaveReply          byte = 0x40
	StatusInvalidData         byte = 0x10
	StatusCommandNotSupported byte = 0x08
	StatusChecksumNotValid    byte = 0x04
	StatusTooLongTmp          byte = 0x02
	StatusTooLong             byte = 0x01

	// statusReplyOnly 仅允许出现在从机应答中的错误位
	statusReplyOnly = StatusInvalidData | StatusCommandNotSupported |
		StatusChecksumNotValid | StatusTooLongTmp | StatusTooLong
)

var preamble = [4]byte{Sync1, Sync2, Sync3, Sync4}

// Preamble 返回同步前导的副本
func Preamble() []byte { return append([]byte(nil), preamble[:]...) }
