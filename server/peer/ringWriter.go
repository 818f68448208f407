package peer

import (
	"github.com/touka-aoi/low-level-relay/core/buffer"
	terrr "github.com/touka-aoi/low-level-relay/core/errors"
)

const defaultQueueSize = 4096

// RingWriter holds bytes the kernel has not accepted yet, in send order.
// The ring is allocated on the first Queue, so peers that never fall behind cost nothing.
type RingWriter struct {
	size int
	ring *buffer.RingBuffer
}

func NewRingWriter(size int) *RingWriter {
	if size <= 0 {
		size = defaultQueueSize
	}
	return &RingWriter{size: size}
}

// Queue appends all of b or returns ErrQueueFull without queuing anything.
func (w *RingWriter) Queue(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	if w.ring == nil {
		w.ring = buffer.NewRingBuffer(w.size)
	}
	if _, err := w.ring.Write(b); err != nil {
		return terrr.ErrQueueFull
	}
	return nil
}

func (w *RingWriter) QueuedBytes() int {
	if w.ring == nil {
		return 0
	}
	return w.ring.Len()
}

// Allocated reports whether the backing ring exists.
func (w *RingWriter) Allocated() bool {
	return w.ring != nil
}

// Pending returns the queued bytes as at most two segments.
func (w *RingWriter) Pending() ([]byte, []byte) {
	if w.ring == nil {
		return nil, nil
	}
	a, b, _ := w.ring.View(w.ring.Len())
	return a, b
}

func (w *RingWriter) Advance(n int) {
	if w.ring == nil {
		return
	}
	w.ring.Advance(n)
}

// Reset drops everything queued and releases the ring.
func (w *RingWriter) Reset() {
	w.ring = nil
}
