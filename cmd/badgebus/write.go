package main

import (
	"fmt"
	"strconv"

	"github.com/badgecmd/badgebus/internal/protocol/badge"
)

// runWrite 构造一帧并打印线上编码（大写十六进制，无分隔）。
// 命令与数据按十进制解析，也接受 0x 前缀。默认强制携带校验。
//
//	badgebus write 1                 -> 555542428001002FBA
//	badgebus write --slave-reply 0x20 1 2 3
func runWrite(args []string, e env) error {
	fs := newFlagSet("write", e)
	var fl badge.Flags
	fs.BoolVar(&fl.IncludesChecksum, "include-checksum", false, "set the includes-checksum flag")
	fs.BoolVar(&fl.SlaveReply, "slave-reply", false, "set the slave-reply flag")
	fs.BoolVar(&fl.InvalidData, "invalid-data", false, "set the invalid-data flag")
	fs.BoolVar(&fl.CommandNotSupported, "command-not-supported", false, "set the command-not-supported flag")
	fs.BoolVar(&fl.ChecksumNotValid, "checksum-not-valid", false, "set the checksum-not-valid flag (replaces the other status bits)")
	fs.BoolVar(&fl.TooLongTmp, "too-long-tmp", false, "set the too-long-tmp flag")
	fs.BoolVar(&fl.TooLong, "too-long", false, "set the too-long flag")
	noForce := fs.Bool("no-force-checksum", false, "emit a checksum only when --include-checksum is set")
	text := fs.Bool("text", false, "also print the readable form to stderr")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return usageErr(fs, e.stderr, "missing command")
	}

	cmd, err := parseByte(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("command: %w", err)
	}
	payload := make([]byte, 0, fs.NArg()-1)
	for _, a := range fs.Args()[1:] {
		b, err := parseByte(a)
		if err != nil {
			return fmt.Errorf("data: %w", err)
		}
		payload = append(payload, b)
	}

	f, err := badge.NewFrame(cmd, badge.Options{Payload: payload, Flags: fl})
	if err != nil {
		return err
	}
	fmt.Fprintln(e.stdout, f.Hex(!*noForce))
	if *text {
		fmt.Fprintln(e.stderr, f)
	}
	return nil
}

// parseByte 默认十进制（前导零不按八进制），0x/0X 前缀按十六进制
func parseByte(s string) (byte, error) {
	text, base := s, 10
	if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
		text, base = s[2:], 16
	}
	v, err := strconv.ParseUint(text, base, 8)
	if err != nil {
		return 0, fmt.Errorf("%q is not a byte value", s)
	}
	return byte(v), nil
}
