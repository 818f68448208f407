//go:build linux

package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/touka-aoi/low-level-relay/server/peer"
)

// IdleReaper evicts peers that stayed silent for longer than the timeout.
type IdleReaper struct {
	timeout time.Duration
}

func NewIdleReaper(timeout time.Duration) IdleReaper {
	return IdleReaper{timeout: timeout}
}

// Check reports whether p must be evicted. Only called for peers that were not readable this iteration.
func (r IdleReaper) Check(ctx context.Context, p *peer.Peer, now time.Time) bool {
	if p.Active(now, r.timeout) {
		return false
	}
	p.MarkIdle()
	slog.InfoContext(ctx, "Idle timeout exceeded", "fd", p.Fd(), "remote", p.RemoteAddr(), "idle", now.Sub(p.LastActivity()))
	return true
}
