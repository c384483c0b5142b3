package journal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/badgecmd/badgebus/internal/link"
	"github.com/badgecmd/badgebus/internal/protocol/badge"
)

func sampleEvent(cmd byte) link.Event {
	f := badge.MustFrame(cmd, badge.Options{Payload: []byte{0x0A, 0xFF}, Flags: badge.Flags{IncludesChecksum: true}})
	raw := f.Encode(false)
	got, _ := badge.Decode(raw)
	return link.Event{Dir: link.DirRx, Link: "/dev/ttyUSB0", Frame: got, Raw: raw, Time: time.Unix(1700000000, 0)}
}

func TestNewRecord(t *testing.T) {
	r := NewRecord(sampleEvent(0x01))
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, "rx", r.Dir)
	assert.Equal(t, "/dev/ttyUSB0", r.Link)
	assert.Equal(t, byte(0x01), r.Command)
	assert.Equal(t, "0AFF", r.Payload)
	assert.Equal(t, "valid", r.Checksum)
	assert.True(t, r.Flags.IncludesChecksum)
	assert.Equal(t, "55554242800102"+"0AFF", r.Raw[:18])
	assert.Equal(t, "[ic=1 sr=0 id=0 ns=0 ci=0 tt=0 tl=0 cs=1 0x01 0x0A,0xFF]", r.Text)

	assert.NotEqual(t, r.ID, NewRecord(sampleEvent(0x01)).ID)
}

func TestMemory_RecentNewestFirst(t *testing.T) {
	m := NewMemory(3)
	ctx := context.Background()

	got, err := m.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	for i := 1; i <= 5; i++ {
		require.NoError(t, m.Append(ctx, Record{ID: fmt.Sprint(i)}))
	}
	assert.Equal(t, 3, m.Len())

	got, err = m.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"5", "4", "3"}, []string{got[0].ID, got[1].ID, got[2].ID})

	got, err = m.Recent(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"5", "4"}, []string{got[0].ID, got[1].ID})
}

func TestMemory_PartiallyFilled(t *testing.T) {
	m := NewMemory(4)
	ctx := context.Background()
	require.NoError(t, m.Append(ctx, Record{ID: "a"}))
	require.NoError(t, m.Append(ctx, Record{ID: "b"}))

	got, err := m.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "a", got[1].ID)
}

func TestRecorder_WritesAndFlushesOnClose(t *testing.T) {
	m := NewMemory(100)
	r := NewRecorder(m, 64, nil)
	for i := 0; i < 10; i++ {
		r.Observe(sampleEvent(byte(i)))
	}
	r.Close()
	r.Close()

	assert.Equal(t, 10, m.Len())
	r.Observe(sampleEvent(0x01))
	assert.Equal(t, int64(1), r.Dropped())
}

type failingStore struct {
	mu    sync.Mutex
	calls int
}

func (s *failingStore) Append(context.Context, Record) error {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return errors.New("backend down")
}
func (s *failingStore) Recent(context.Context, int) ([]Record, error) { return nil, nil }
func (s *failingStore) Close() error                                  { return nil }

func TestRecorder_CountsFailures(t *testing.T) {
	st := &failingStore{}
	r := NewRecorder(st, 8, nil)
	r.Observe(sampleEvent(0x01))
	r.Observe(sampleEvent(0x02))
	r.Close()
	assert.Equal(t, int64(2), r.Failed())
	assert.Equal(t, 2, st.calls)
}

func TestBreaker(t *testing.T) {
	now := time.Unix(0, 0)
	b := NewBreaker(2, time.Minute)
	b.now = func() time.Time { return now }
	boom := errors.New("boom")

	assert.ErrorIs(t, b.Call(func() error { return boom }), boom)
	assert.Equal(t, BreakerClosed, b.State())
	assert.ErrorIs(t, b.Call(func() error { return boom }), boom)
	assert.Equal(t, BreakerOpen, b.State())
	assert.Equal(t, int64(1), b.Trips())

	called := false
	assert.ErrorIs(t, b.Call(func() error { called = true; return nil }), ErrBreakerOpen)
	assert.False(t, called)

	// 冷却后试探失败，重新打开
	now = now.Add(2 * time.Minute)
	assert.ErrorIs(t, b.Call(func() error { return boom }), boom)
	assert.Equal(t, BreakerOpen, b.State())
	assert.Equal(t, int64(2), b.Trips())

	// 试探成功，恢复
	now = now.Add(2 * time.Minute)
	assert.NoError(t, b.Call(func() error { return nil }))
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreakerState_String(t *testing.T) {
	assert.Equal(t, "closed", BreakerClosed.String())
	assert.Equal(t, "open", BreakerOpen.String())
	assert.Equal(t, "half_open", BreakerHalfOpen.String())
	assert.Equal(t, "unknown", BreakerState(9).String())
}
