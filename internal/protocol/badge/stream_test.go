package badge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// feedEach 逐字节输入，要求只有最后一个字节出帧
func feedEach(t *testing.T, d *StreamDecoder, raw []byte) Frame {
	t.Helper()
	for i, b := range raw[:len(raw)-1] {
		if f, ok := d.Process(b); ok {
			t.Fatalf("unexpected frame at byte %d: %s", i, f)
		}
	}
	f, ok := d.Process(raw[len(raw)-1])
	require.True(t, ok, "last byte should complete the frame")
	return f
}

func TestStreamDecoder_SingleFrame(t *testing.T) {
	d := NewStreamDecoder()
	want := MustFrame(0x01, DefaultOptions())

	got := feedEach(t, d, want.Encode(true))
	assert.True(t, got.Equal(want))
	assert.Equal(t, ChecksumValid, got.ChecksumState())
	assert.Equal(t, StateWaitSync1, d.State())
	assert.Zero(t, d.Buffered())
}

func TestStreamDecoder_AllLengths(t *testing.T) {
	d := NewStreamDecoder()
	for n := 0; n <= MaxPayloadLen; n++ {
		want := MustFrame(byte(n), Options{
			Payload: seqPayload(n),
			Flags:   Flags{IncludesChecksum: true, SlaveReply: n%2 == 0},
		})
		got := feedEach(t, d, want.Encode(false))
		if !got.Equal(want) {
			t.Fatalf("len=%d got %s want %s", n, got, want)
		}
		if got.ChecksumState() != ChecksumValid {
			t.Fatalf("len=%d checksum=%s", n, got.ChecksumState())
		}
	}
	assert.Equal(t, uint64(MaxPayloadLen+1), d.Stats().Frames)
	assert.Zero(t, d.Stats().DroppedBytes)
}

func TestStreamDecoder_SlaveReplyErrorFlags(t *testing.T) {
	d := NewStreamDecoder()
	want := MustFrame(0x42, Options{
		Payload: []byte{0x00},
		Flags: Flags{
			IncludesChecksum:    true,
			SlaveReply:          true,
			InvalidData:         true,
			CommandNotSupported: true,
			TooLongTmp:          true,
			TooLong:             true,
		},
	})
	got := feedEach(t, d, want.Encode(false))
	assert.True(t, got.Equal(want))
}

func TestStreamDecoder_States(t *testing.T) {
	d := NewStreamDecoder()
	raw := MustFrame(0x05, Options{Payload: []byte{0xAA, 0xBB}, Flags: Flags{IncludesChecksum: true}}).Encode(false)
	wantStates := []State{
		StateWaitSync2, StateWaitSync3, StateWaitSync4, StateWaitStatus,
		StateWaitCommand, StateWaitLength, StateWaitPayload, StateWaitPayload,
		StateWaitChecksumHi, StateWaitChecksumLo, StateWaitSync1,
	}
	require.Len(t, raw, len(wantStates))
	for i, b := range raw {
		d.Process(b)
		assert.Equal(t, wantStates[i], d.State(), "after byte %d", i)
		if i == 4 {
			assert.True(t, d.ExpectingChecksum())
		}
	}
	assert.False(t, d.ExpectingChecksum())
}

func TestStreamDecoder_ZeroLengthSkipsPayload(t *testing.T) {
	d := NewStreamDecoder()
	for _, b := range []byte{0x55, 0x55, 0x42, 0x42, 0x00, 0x07, 0x00} {
		d.Process(b)
	}
	assert.Equal(t, StateWaitChecksumHi, d.State())
}

// 主机请求不允许携带错误位：静默丢弃，回到空闲
func TestStreamDecoder_RejectsRequestWithErrorFlags(t *testing.T) {
	for _, bit := range []byte{StatusInvalidData, StatusCommandNotSupported, StatusChecksumNotValid, StatusTooLongTmp, StatusTooLong} {
		core, logs := observer.New(zapcore.DebugLevel)
		d := NewStreamDecoder()
		d.SetLogger(zap.New(core))

		frames := d.Feed([]byte{0x55, 0x55, 0x42, 0x42, StatusIncludesChecksum | bit})
		assert.Empty(t, frames)
		assert.Equal(t, StateWaitSync1, d.State())
		assert.Zero(t, d.Buffered())
		assert.False(t, d.ExpectingChecksum())
		assert.Equal(t, uint64(1), d.Stats().RejectedRequests)
		assert.Zero(t, logs.Len(), "bad request must be dropped without diagnostics")
	}
}

func TestStreamDecoder_SyncMismatchResync(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	d := NewStreamDecoder()
	d.SetLogger(zap.New(core))

	want := MustFrame(0x09, Options{Payload: []byte{0x01}, Flags: Flags{IncludesChecksum: true}})
	stream := append([]byte{0x55, 0x55, 0x41}, want.Encode(false)...)

	frames := d.Feed(stream)
	require.Len(t, frames, 1)
	assert.True(t, frames[0].Equal(want))
	assert.Equal(t, ChecksumValid, frames[0].ChecksumState())
	assert.Equal(t, uint64(3), d.Stats().DroppedBytes)

	entries := logs.FilterMessage("dropped").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "wait_sync3", entries[0].ContextMap()["state"])
}

func TestStreamDecoder_MismatchAtEachSyncState(t *testing.T) {
	prefixes := [][]byte{
		{0x55, 0x00},
		{0x55, 0x55, 0x00},
		{0x55, 0x55, 0x42, 0x00},
	}
	for _, p := range prefixes {
		d := NewStreamDecoder()
		assert.Empty(t, d.Feed(p))
		assert.Equal(t, StateWaitSync1, d.State())
		assert.Zero(t, d.Buffered())
	}
}

// 错位的 0x55：第二个同步位置收到非 0x55 时整段丢弃，不回溯
func TestStreamDecoder_NoiseBeforeFrame(t *testing.T) {
	d := NewStreamDecoder()
	want := MustFrame(0x7F, DefaultOptions())
	noise := []byte{0x00, 0xFF, 0x42, 0x13}

	frames := d.Feed(append(noise, want.Encode(true)...))
	require.Len(t, frames, 1)
	assert.True(t, frames[0].Equal(want))
	assert.Equal(t, uint64(len(noise)), d.Stats().DroppedBytes)
}

func TestStreamDecoder_ResetAbandonsPartial(t *testing.T) {
	d := NewStreamDecoder()
	assert.Empty(t, d.Feed([]byte{0x55, 0x55, 0x42, 0x42}))
	assert.Equal(t, StateWaitStatus, d.State())

	d.Reset()
	d.Reset()
	assert.Equal(t, StateWaitSync1, d.State())
	assert.Zero(t, d.Buffered())

	want := MustFrame(0x02, Options{Payload: []byte{0x10, 0x20}, Flags: Flags{IncludesChecksum: true}})
	got := feedEach(t, d, want.Encode(false))
	assert.True(t, got.Equal(want))
	assert.Equal(t, ChecksumValid, got.ChecksumState())
}

func TestStreamDecoder_ResetMidPayload(t *testing.T) {
	d := NewStreamDecoder()
	partial := MustFrame(0x03, Options{Payload: seqPayload(10)}).Encode(true)[:12]
	d.Feed(partial)
	assert.Equal(t, StateWaitPayload, d.State())

	d.Reset()
	want := MustFrame(0x04, DefaultOptions())
	got := feedEach(t, d, want.Encode(true))
	assert.True(t, got.Equal(want))
}

// 校验区固定两个字节，是否为真实校验在解码时才判定
func TestStreamDecoder_FillerTrailer(t *testing.T) {
	d := NewStreamDecoder()
	want := MustFrame(0x11, Options{Payload: []byte{0x01, 0x02}})
	got := feedEach(t, d, want.Encode(false))
	assert.True(t, got.Equal(want))
	assert.Equal(t, ChecksumUnknown, got.ChecksumState())
}

func TestStreamDecoder_BadChecksumStillEmits(t *testing.T) {
	d := NewStreamDecoder()
	raw := MustFrame(0x01, DefaultOptions()).Encode(true)
	raw[len(raw)-2] ^= 0x01

	got := feedEach(t, d, raw)
	assert.Equal(t, ChecksumInvalid, got.ChecksumState())
}

func TestStreamDecoder_ArbitraryChunking(t *testing.T) {
	var stream []byte
	var want []Frame
	for i := 0; i < 20; i++ {
		f := MustFrame(byte(i), Options{
			Payload: seqPayload(i * 3),
			Flags:   Flags{IncludesChecksum: i%3 != 0, SlaveReply: i%2 == 1},
		})
		want = append(want, f)
		stream = append(stream, f.Encode(false)...)
		stream = append(stream, 0x00) // 帧间噪声
	}

	for _, size := range []int{1, 2, 3, 7, 64, len(stream)} {
		d := NewStreamDecoder()
		var got []Frame
		for off := 0; off < len(stream); off += size {
			end := off + size
			if end > len(stream) {
				end = len(stream)
			}
			got = append(got, d.Feed(stream[off:end])...)
		}
		require.Len(t, got, len(want), "chunk=%d", size)
		for i := range want {
			assert.True(t, got[i].Equal(want[i]), "chunk=%d frame=%d", size, i)
		}
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "wait_sync1", StateWaitSync1.String())
	assert.Equal(t, "wait_checksum_lo", StateWaitChecksumLo.String())
	assert.Equal(t, "unknown", State(42).String())
}
