package script

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/badgecmd/badgebus/internal/link"
	"github.com/badgecmd/badgebus/internal/protocol/badge"
)

func TestLoad(t *testing.T) {
	s, err := Load("testdata/ping.yaml")
	require.NoError(t, err)

	assert.Equal(t, "ping", s.Name)
	assert.True(t, s.StopOnError)
	require.Len(t, s.Steps, 2)

	v := s.Steps[0]
	assert.Equal(t, byte(0x01), v.Frame().Command())
	assert.True(t, v.ExpectReply)
	require.NotNil(t, v.Expect)
	assert.True(t, v.Expect.NoErrors)
	assert.Equal(t, 1, v.Repeat)

	d := s.Steps[1]
	assert.Equal(t, []byte("HELLO"), d.Frame().Payload())
	assert.True(t, d.Frame().IncludesChecksum())
	assert.Equal(t, 10*time.Millisecond, d.Delay)
	assert.Equal(t, 2, d.Repeat)
}

func TestLoad_TOMLMatchesYAML(t *testing.T) {
	y, err := Load("testdata/ping.yaml")
	require.NoError(t, err)
	tm, err := Load("testdata/ping.toml")
	require.NoError(t, err)

	assert.Equal(t, y.Name, tm.Name)
	assert.Equal(t, y.StopOnError, tm.StopOnError)
	require.Len(t, tm.Steps, len(y.Steps))
	for i := range y.Steps {
		assert.True(t, y.Steps[i].Frame().Equal(tm.Steps[i].Frame()), "step %d", i)
		assert.Equal(t, y.Steps[i].Delay, tm.Steps[i].Delay)
		assert.Equal(t, y.Steps[i].Repeat, tm.Steps[i].Repeat)
		assert.Equal(t, y.Steps[i].ExpectReply, tm.Steps[i].ExpectReply)
	}
}

func TestParseTOML_Errors(t *testing.T) {
	_, err := ParseTOML([]byte("[[steps]]\ncommand = 1\ncolour = \"red\"\n"))
	assert.ErrorIs(t, err, ErrInvalidScript)

	_, err = ParseTOML([]byte("steps = ["))
	assert.ErrorIs(t, err, ErrInvalidScript)

	_, err = ParseTOML([]byte("name = \"empty\"\n"))
	assert.ErrorIs(t, err, ErrInvalidScript)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("testdata/nope.yaml")
	assert.Error(t, err)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"无步骤", "name: x\nsteps: []\n"},
		{"命令越界", "steps:\n  - command: 256\n"},
		{"负数命令", "steps:\n  - command: -1\n"},
		{"载荷非法", "steps:\n  - command: 1\n    payload: zz\n"},
		{"未知字段", "steps:\n  - command: 1\n    colour: red\n"},
		{"重复次数为负", "steps:\n  - command: 1\n    repeat: -2\n"},
		{"期望载荷非法", "steps:\n  - command: 1\n    expect:\n      payload: q\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidScript), "got %v", err)
		})
	}
}

func TestParse_DefaultStepNames(t *testing.T) {
	s, err := Parse([]byte("steps:\n  - command: 1\n  - command: 2\n"))
	require.NoError(t, err)
	assert.Equal(t, "step-1", s.Steps[0].Name)
	assert.Equal(t, "step-2", s.Steps[1].Name)
	assert.False(t, s.Steps[0].Frame().IncludesChecksum())
}

type scriptedBus struct {
	sent    []badge.Frame
	replies map[byte]badge.Frame
	err     error
}

func (b *scriptedBus) Send(_ context.Context, f badge.Frame) error {
	b.sent = append(b.sent, f)
	return b.err
}

func (b *scriptedBus) Request(ctx context.Context, f badge.Frame) (badge.Frame, error) {
	if err := b.Send(ctx, f); err != nil {
		return badge.Frame{}, err
	}
	r, ok := b.replies[f.Command()]
	if !ok {
		return badge.Frame{}, link.ErrReplyTimeout
	}
	return r, nil
}

func reply(cmd byte, fl badge.Flags, payload ...byte) badge.Frame {
	fl.SlaveReply = true
	fl.IncludesChecksum = true
	raw := badge.MustFrame(cmd, badge.Options{Payload: payload, Flags: fl}).Encode(false)
	f, _ := badge.Decode(raw)
	return f
}

func TestRunner_Run(t *testing.T) {
	s, err := Load("testdata/ping.yaml")
	require.NoError(t, err)
	bus := &scriptedBus{replies: map[byte]badge.Frame{0x01: reply(0x01, badge.Flags{}, 0x02)}}

	var seen []Result
	r := NewRunner(bus, nil)
	r.OnResult = func(res Result) { seen = append(seen, res) }

	rep, err := r.Run(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Passed)
	assert.Zero(t, rep.Failed)
	assert.Len(t, seen, 3)
	require.Len(t, bus.sent, 3)
	assert.Equal(t, byte(0x20), bus.sent[2].Command())
	assert.Equal(t, 2, rep.Results[2].Attempt)
	assert.Contains(t, rep.Results[0].Reply, "sr=1")
}

func TestRunner_StopOnError(t *testing.T) {
	s, err := Load("testdata/ping.yaml")
	require.NoError(t, err)
	bus := &scriptedBus{replies: map[byte]badge.Frame{0x01: reply(0x01, badge.Flags{CommandNotSupported: true})}}

	rep, err := NewRunner(bus, nil).Run(context.Background(), s)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStepFailed))
	assert.Equal(t, 1, rep.Failed)
	assert.Len(t, bus.sent, 1)
	assert.Contains(t, rep.Results[0].Error, "error flags")
}

func TestRunner_ContinuesWithoutStopOnError(t *testing.T) {
	s, err := Parse([]byte(`
steps:
  - command: 0x05
    expect_reply: true
    expect:
      payload: "AA"
  - command: 0x06
`))
	require.NoError(t, err)
	bus := &scriptedBus{replies: map[byte]badge.Frame{0x05: reply(0x05, badge.Flags{}, 0xBB)}}

	rep, err := NewRunner(bus, nil).Run(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Passed)
	assert.Equal(t, 1, rep.Failed)
	assert.Contains(t, rep.Results[0].Error, "payload mismatch")
}

func TestRunner_ReplyTimeout(t *testing.T) {
	s, err := Parse([]byte("steps:\n  - command: 9\n    expect_reply: true\n"))
	require.NoError(t, err)

	rep, err := NewRunner(&scriptedBus{}, nil).Run(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Failed)
	assert.Contains(t, rep.Results[0].Error, link.ErrReplyTimeout.Error())
}

func TestRunner_CancelDuringDelay(t *testing.T) {
	s, err := Parse([]byte("steps:\n  - command: 1\n    delay: 1h\n"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	bus := &scriptedBus{}
	_, err = NewRunner(bus, nil).Run(ctx, s)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, bus.sent)
}
