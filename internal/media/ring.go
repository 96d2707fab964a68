package media

import (
	"strings"
	"sync"
)

// tailBuffer keeps the last bytes written to it, for encoder stderr capture
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	cap int
}

func newTailBuffer(capacity int) *tailBuffer {
	return &tailBuffer{buf: make([]byte, 0, capacity), cap: capacity}
}

func (r *tailBuffer) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(p) >= r.cap {
		r.buf = append(r.buf[:0], p[len(p)-r.cap:]...)
		return len(p), nil
	}
	if len(r.buf)+len(p) > r.cap {
		r.buf = append(r.buf[:0], r.buf[len(r.buf)+len(p)-r.cap:]...)
	}
	r.buf = append(r.buf, p...)
	return len(p), nil
}

// Tail returns at most the last n lines
func (r *tailBuffer) Tail(n int) string {
	r.mu.Lock()
	s := strings.TrimRight(string(r.buf), "\n")
	r.mu.Unlock()

	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}

// StderrTail is an io.Writer that remembers the end of a process's stderr
type StderrTail = tailBuffer

// NewStderrTail returns a writer keeping the last 8KB
func NewStderrTail() *StderrTail {
	return newTailBuffer(8 * 1024)
}
