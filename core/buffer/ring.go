package buffer

import (
	"errors"
	"log/slog"
)

var (
	ErrBufferFull = errors.New("buffer is full")
)

// RingBuffer は容量が2の累乗のバイトリングです。
// head と tail は単調増加し、mask で実際の位置に変換します。
type RingBuffer struct {
	buf  []byte
	mask uint64
	head uint64
	tail uint64
}

func nextPow2(n int) int {
	if n <= 1 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}

func NewRingBuffer(size int) *RingBuffer {
	capacity := nextPow2(size)
	return &RingBuffer{
		buf:  make([]byte, capacity),
		mask: uint64(capacity) - 1,
	}
}

func (r *RingBuffer) Len() int {
	return int(r.tail - r.head)
}

func (r *RingBuffer) Cap() int {
	return len(r.buf)
}

func (r *RingBuffer) Free() int {
	return r.Cap() - r.Len()
}

// Advance drops n bytes from the front.
func (r *RingBuffer) Advance(n int) {
	if n <= 0 {
		slog.Warn("Invalid advance value", "n", n)
		return
	}
	if n > r.Len() {
		slog.Warn("Invalid advance value exceeds buffer length", "n", n, "length", r.Len())
		n = r.Len()
	}
	r.head += uint64(n)
	if r.head == r.tail {
		r.head, r.tail = 0, 0
	}
}

// Write appends all of b or nothing.
func (r *RingBuffer) Write(b []byte) (int, error) {
	if len(b) > r.Free() {
		return 0, ErrBufferFull
	}
	i := int(r.tail & r.mask)
	n1 := copy(r.buf[i:], b)
	n2 := copy(r.buf, b[n1:])
	r.tail += uint64(n1 + n2)
	return n1 + n2, nil
}

// View returns the first n queued bytes as at most two segments without copying.
// The segments are valid until the next Write or Advance.
func (r *RingBuffer) View(n int) (a, b []byte, ok bool) {
	if n > r.Len() {
		return nil, nil, false
	}
	i := int(r.head & r.mask)
	if i+n <= len(r.buf) {
		return r.buf[i : i+n : i+n], nil, true
	}
	n1 := len(r.buf) - i
	return r.buf[i:len(r.buf):len(r.buf)], r.buf[: n-n1 : n-n1], true
}

func (r *RingBuffer) Reset() {
	r.head, r.tail = 0, 0
}
