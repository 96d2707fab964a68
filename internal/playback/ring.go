package playback

import (
	"sync"

	"github.com/therealutkarshpriyadarshi/montage/internal/media"
)

// Ring is a bounded FIFO of interleaved stereo float32 sample frames at
// 44.1 kHz. Write and Read are short critical sections under the ring's own
// lock, so the audio loop and the device never wait on the engine.
type Ring struct {
	mu    sync.Mutex
	buf   []float32
	head  int // next frame to read
	count int // frames buffered
}

// NewRing creates a ring holding up to frames stereo frames
func NewRing(frames int) *Ring {
	if frames < 1 {
		frames = 1
	}
	return &Ring{buf: make([]float32, frames*2)}
}

// Cap returns the capacity in frames
func (r *Ring) Cap() int {
	return len(r.buf) / 2
}

// Len returns the number of buffered frames
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Seconds returns the buffered duration
func (r *Ring) Seconds() float64 {
	return float64(r.Len()) / media.SampleRate
}

// Write appends as many whole frames of samples as fit and returns how many
// frames were written
func (r *Ring) Write(samples []float32) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	capacity := r.Cap()
	n := min(len(samples)/2, capacity-r.count)
	tail := (r.head + r.count) % capacity
	for i := 0; i < n; i++ {
		j := (tail + i) % capacity
		r.buf[2*j] = samples[2*i]
		r.buf[2*j+1] = samples[2*i+1]
	}
	r.count += n
	return n
}

// Read moves up to len(dst)/2 frames into dst and returns how many were read
func (r *Ring) Read(dst []float32) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	capacity := r.Cap()
	n := min(len(dst)/2, r.count)
	for i := 0; i < n; i++ {
		j := (r.head + i) % capacity
		dst[2*i] = r.buf[2*j]
		dst[2*i+1] = r.buf[2*j+1]
	}
	r.head = (r.head + n) % capacity
	r.count -= n
	return n
}

// Clear drops everything buffered
func (r *Ring) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.head, r.count = 0, 0
}
