package journal

import (
	"context"
	"sync"
)

// Memory 固定容量环形缓冲，写满后覆盖最旧记录
type Memory struct {
	mu   sync.RWMutex
	buf  []Record
	next int
	full bool
}

func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = 500
	}
	return &Memory{buf: make([]Record, capacity)}
}

func (m *Memory) Append(_ context.Context, r Record) error {
	m.mu.Lock()
	m.buf[m.next] = r
	m.next = (m.next + 1) % len(m.buf)
	if m.next == 0 {
		m.full = true
	}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Recent(_ context.Context, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := m.next
	if m.full {
		n = len(m.buf)
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Record, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (m.next - i + len(m.buf)) % len(m.buf)
		out = append(out, m.buf[idx])
	}
	return out, nil
}

// Len 当前保存的记录数
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.full {
		return len(m.buf)
	}
	return m.next
}

func (m *Memory) Close() error { return nil }
