package main

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/badgecmd/badgebus/internal/protocol/badge"
)

func runCLI(t *testing.T, stdin string, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code = execute(args, env{stdin: strings.NewReader(stdin), stdout: &out, stderr: &errOut})
	return code, out.String(), errOut.String()
}

func TestExecute_Usage(t *testing.T) {
	code, _, stderr := runCLI(t, "")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "usage: badgebus")

	code, _, stderr = runCLI(t, "", "bogus")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, `unknown command "bogus"`)

	code, _, _ = runCLI(t, "", "help")
	assert.Equal(t, 0, code)
}

func TestWrite(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"默认强制校验", []string{"1"}, "555542428001002FBA"},
		{"应答带载荷", []string{"--slave-reply", "0x20", "1", "2", "3"}, "55554242C020030102036929"},
		{"不强制且无校验", []string{"--no-force-checksum", "1"}, "555542420001000000"},
		{"前导零按十进制", []string{"--no-force-checksum", "010", "010"}, "55554242000A010A0000"},
		{"十六进制前缀", []string{"--no-force-checksum", "0X0a", "0x10"}, "55554242000A01100000"},
		{"校验错误位覆盖", []string{"--no-force-checksum", "--slave-reply", "--checksum-not-valid", "--too-long", "2"}, "555542420502000000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, stdout, stderr := runCLI(t, "", append([]string{"write"}, tt.args...)...)
			require.Equal(t, 0, code, stderr)
			assert.Equal(t, tt.want+"\n", stdout)
		})
	}
}

func TestWrite_Errors(t *testing.T) {
	code, _, _ := runCLI(t, "", "write")
	assert.Equal(t, 2, code)

	code, _, stderr := runCLI(t, "", "write", "256")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "not a byte value")

	code, _, _ = runCLI(t, "", "write", "1", "x")
	assert.Equal(t, 1, code)

	code, _, _ = runCLI(t, "", "write", "0x")
	assert.Equal(t, 1, code)

	code, _, _ = runCLI(t, "", "write", "0b1")
	assert.Equal(t, 1, code)
}

func TestRead(t *testing.T) {
	code, stdout, stderr := runCLI(t, "", "read", "--stats", "00,55,55,42,42,80,01,00,2F,BA", "55 55 42 42 C0 20 03 01 02 03 69 29")
	require.Equal(t, 0, code, stderr)
	assert.Equal(t,
		"[ic=1 sr=0 id=0 ns=0 ci=0 tt=0 tl=0 cs=1 0x01 -]\n"+
			"[ic=1 sr=1 id=0 ns=0 ci=0 tt=0 tl=0 cs=1 0x20 0x01,0x02,0x03]\n",
		stdout)
	assert.Contains(t, stderr, "frames=2")
	assert.Contains(t, stderr, "dropped_bytes=1")
}

func TestRead_Stdin(t *testing.T) {
	// 帧跨行拆分
	code, stdout, stderr := runCLI(t, "55 55 42 42\n80 01 00\n2F BA\n", "read", "--stdin")
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, "[ic=1 sr=0 id=0 ns=0 ci=0 tt=0 tl=0 cs=1 0x01 -]\n", stdout)
}

func TestRead_Errors(t *testing.T) {
	code, _, _ := runCLI(t, "", "read")
	assert.Equal(t, 2, code)

	code, _, stderr := runCLI(t, "", "read", "zz")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "bad hex input")
}

// fakeDevice 对每个请求回一帧同命令的从机应答
func fakeDevice(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		d := badge.NewStreamDecoder()
		buf := make([]byte, 256)
		for {
			n, err := c.Read(buf)
			if err != nil {
				return
			}
			for _, f := range d.Feed(buf[:n]) {
				reply := badge.MustFrame(f.Command(), badge.Options{
					Payload: []byte{0x01},
					Flags:   badge.Flags{IncludesChecksum: true, SlaveReply: true},
				})
				if _, err := c.Write(reply.Encode(true)); err != nil {
					return
				}
			}
		}
	}()
	return ln.Addr().String()
}

func TestRunScript(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("BADGE_CONFIG", "")
	t.Setenv("BADGE_LOGGING_LEVEL", "error")
	t.Setenv("BADGE_LOGGING_FILE_FILENAME", filepath.Join(dir, "badgebus.log"))

	path := filepath.Join(dir, "probe.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: probe
steps:
  - name: version
    command: 1
    expect_reply: true
    expect:
      payload: "01"
      no_errors: true
  - name: fire
    command: 0x20
    payload: "0A 0B"
`), 0o600))

	addr := fakeDevice(t)
	code, stdout, stderr := runCLI(t, "", "run", "--mode", "tcp", "--addr", addr, "--wait", "2s", path)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "version")
	assert.Contains(t, stdout, "probe: 2 passed, 0 failed")
}

func TestRunScript_NoLink(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("BADGE_CONFIG", "")
	t.Setenv("BADGE_LOGGING_LEVEL", "error")
	t.Setenv("BADGE_LOGGING_FILE_FILENAME", filepath.Join(dir, "badgebus.log"))

	path := filepath.Join(dir, "one.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: one\nsteps:\n  - command: 1\n"), 0o600))

	// 拿到一个空闲端口后立即释放，保证无人监听
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	code, _, stderr := runCLI(t, "", "run", "--mode", "tcp", "--addr", addr, "--wait", "200ms", path)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "link not available")
}

func TestRunScript_Usage(t *testing.T) {
	code, _, _ := runCLI(t, "", "run")
	assert.Equal(t, 2, code)
}
