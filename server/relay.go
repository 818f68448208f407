//go:build linux

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/touka-aoi/low-level-relay/core/engine"
	terrr "github.com/touka-aoi/low-level-relay/core/errors"
	"github.com/touka-aoi/low-level-relay/middleware"
	"github.com/touka-aoi/low-level-relay/server/peer"
	"golang.org/x/sys/unix"
)

const (
	retryBackoffMin = 50 * time.Microsecond
	retryBackoffMax = 5 * time.Millisecond
)

type RelayStats struct {
	Broadcasts uint64
	BytesOut   uint64
	Queued     uint64
	Shortfalls uint64
}

func (s RelayStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("broadcasts", s.Broadcasts),
		slog.Uint64("bytesOut", s.BytesOut),
		slog.Uint64("queued", s.Queued),
		slog.Uint64("shortfalls", s.Shortfalls),
	)
}

// Relay reads from a ready peer and fans the bytes out to every other registered peer.
type Relay struct {
	registry   *Registry
	poller     engine.Poller
	pipeline   *middleware.Pipeline
	policy     string
	maxRetries int
	buf        []byte
	clock      func() time.Time
	sleep      func(time.Duration)
	stats      RelayStats
}

func NewRelay(registry *Registry, poller engine.Poller, pipeline *middleware.Pipeline, config NetworkServerConfig) *Relay {
	return &Relay{
		registry:   registry,
		poller:     poller,
		pipeline:   pipeline,
		policy:     config.WritePolicy,
		maxRetries: config.MaxWriteRetries,
		buf:        make([]byte, config.ReadBufferSize),
		clock:      time.Now,
		sleep:      time.Sleep,
	}
}

func (r *Relay) Stats() RelayStats {
	return r.stats
}

// OnReadable reads once from src and broadcasts what it got.
// It reports true when src hung up or failed and must be removed.
func (r *Relay) OnReadable(ctx context.Context, src *peer.Peer) (remove bool) {
	n, err := readRetry(src, r.buf)
	switch {
	case errors.Is(err, unix.EAGAIN):
		return false
	case err != nil:
		slog.ErrorContext(ctx, "Failed to read from peer", "fd", src.Fd(), "remote", src.RemoteAddr(), "error", err)
		return true
	case n == 0:
		slog.InfoContext(ctx, "Peer closed connection", "fd", src.Fd(), "remote", src.RemoteAddr())
		return true
	}

	src.Touch(r.clock())
	data := r.buf[:n]

	if r.pipeline != nil {
		if err := r.pipeline.Execute(middleware.NewContext(data, src)); err != nil {
			slog.ErrorContext(ctx, "Pipeline execution failed", "fd", src.Fd(), "error", err)
			return false
		}
	}

	r.Broadcast(ctx, src, data)
	return false
}

// Broadcast writes data to every registered peer except src, in registry order.
// A failed delivery never removes the peer and never affects the others.
func (r *Relay) Broadcast(ctx context.Context, src *peer.Peer, data []byte) {
	r.stats.Broadcasts++
	r.registry.ForEach(func(dst *peer.Peer) bool {
		if dst == src {
			return false
		}
		switch r.policy {
		case WritePolicyRetry:
			r.deliverRetry(ctx, dst, data)
		default:
			r.deliverQueued(ctx, dst, data)
		}
		return false
	})
}

func (r *Relay) deliverQueued(ctx context.Context, dst *peer.Peer, data []byte) {
	// 先に積まれているデータを追い越さない
	if dst.Writer.QueuedBytes() > 0 {
		r.enqueue(ctx, dst, data, len(data))
		return
	}

	sent, err := r.writeSome(dst, data)
	if sent == len(data) {
		return
	}
	if errors.Is(err, unix.EAGAIN) {
		r.enqueue(ctx, dst, data[sent:], len(data))
		return
	}
	r.shortfall(ctx, dst, sent, len(data), err)
}

func (r *Relay) enqueue(ctx context.Context, dst *peer.Peer, rest []byte, total int) {
	if err := dst.Writer.Queue(rest); err != nil {
		r.shortfall(ctx, dst, total-len(rest), total, err)
		return
	}
	r.stats.Queued += uint64(len(rest))
	if err := r.poller.SetWriteInterest(dst.Fd(), true); err != nil {
		slog.ErrorContext(ctx, "Failed to register write interest", "fd", dst.Fd(), "error", err)
	}
}

// Flush writes queued bytes to dst until the queue is empty or the socket is full again.
func (r *Relay) Flush(ctx context.Context, dst *peer.Peer) {
	for dst.Writer.QueuedBytes() > 0 {
		seg, _ := dst.Writer.Pending()
		n, err := dst.Write(seg)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			if errors.Is(err, unix.EAGAIN) {
				return
			}
			dropped := dst.Writer.QueuedBytes()
			dst.Writer.Reset()
			r.stats.Shortfalls++
			slog.ErrorContext(ctx, "Failed to flush queued data", "fd", dst.Fd(), "dropped", dropped, "error", err)
			break
		}
		if n <= 0 {
			return
		}
		dst.Writer.Advance(n)
		r.stats.BytesOut += uint64(n)
	}

	if err := r.poller.SetWriteInterest(dst.Fd(), false); err != nil {
		slog.ErrorContext(ctx, "Failed to clear write interest", "fd", dst.Fd(), "error", err)
	}
}

// deliverRetry blocks the loop while it retries, with exponential backoff between
// would-block attempts, giving up after maxRetries of them.
func (r *Relay) deliverRetry(ctx context.Context, dst *peer.Peer, data []byte) {
	sent := 0
	attempts := 0
	backoff := retryBackoffMin
	for sent < len(data) {
		n, err := r.writeSome(dst, data[sent:])
		sent += n
		if err == nil {
			continue
		}
		if !errors.Is(err, unix.EAGAIN) {
			r.shortfall(ctx, dst, sent, len(data), err)
			return
		}
		attempts++
		if attempts > r.maxRetries {
			r.shortfall(ctx, dst, sent, len(data), fmt.Errorf("%w after %d retries", terrr.ErrWouldBlock, r.maxRetries))
			return
		}
		r.sleep(backoff)
		backoff = min(backoff*2, retryBackoffMax)
	}
}

// writeSome writes until data is exhausted or the socket refuses more.
func (r *Relay) writeSome(dst *peer.Peer, data []byte) (int, error) {
	sent := 0
	for sent < len(data) {
		n, err := dst.Write(data[sent:])
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return sent, err
		}
		if n <= 0 {
			return sent, unix.EAGAIN
		}
		sent += n
		r.stats.BytesOut += uint64(n)
	}
	return sent, nil
}

func (r *Relay) shortfall(ctx context.Context, dst *peer.Peer, sent, total int, err error) {
	r.stats.Shortfalls++
	slog.ErrorContext(ctx, "Failed to send full message", "fd", dst.Fd(), "remote", dst.RemoteAddr(), "sent", sent, "total", total, "error", err)
}

func readRetry(p *peer.Peer, buf []byte) (int, error) {
	for {
		n, err := p.Read(buf)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return n, err
	}
}
