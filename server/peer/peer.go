//go:build linux

package peer

import (
	"net/netip"
	"time"

	"github.com/google/uuid"
	"github.com/touka-aoi/low-level-relay/core/core"
)

// Peer is one accepted connection. It is owned by the event loop goroutine.
type Peer struct {
	SessionID    string
	socket       *core.Socket
	localAddr    netip.AddrPort
	remoteAddr   netip.AddrPort
	state        ConnState
	connectedAt  time.Time
	lastActivity time.Time

	Writer *RingWriter
}

func NewPeer(socket *core.Socket, localAddr netip.AddrPort, remoteAddr netip.AddrPort, now time.Time, queueSize int) *Peer {
	sessionID := uuid.NewString()
	return &Peer{
		SessionID:    sessionID,
		socket:       socket,
		localAddr:    localAddr,
		remoteAddr:   remoteAddr,
		state:        StateNew,
		connectedAt:  now,
		lastActivity: now,
		Writer:       NewRingWriter(queueSize),
	}
}

func (p *Peer) Fd() int32 {
	return p.socket.Fd
}

func (p *Peer) LocalAddr() netip.AddrPort {
	return p.localAddr
}

func (p *Peer) RemoteAddr() netip.AddrPort {
	return p.remoteAddr
}

func (p *Peer) Status() string {
	return p.state.String()
}

func (p *Peer) State() ConnState {
	return p.state
}

func (p *Peer) ConnectedAt() time.Time {
	return p.connectedAt
}

func (p *Peer) LastActivity() time.Time {
	return p.lastActivity
}

// Touch records readable activity.
func (p *Peer) Touch(now time.Time) {
	p.lastActivity = now
	p.state = StateActive
}

// Active reports whether the peer has been idle for no longer than timeout.
// An idle period exactly equal to timeout is still active.
func (p *Peer) Active(now time.Time, timeout time.Duration) bool {
	return now.Sub(p.lastActivity) <= timeout
}

func (p *Peer) MarkIdle() {
	p.state = StateIdle
}

func (p *Peer) Read(b []byte) (int, error) {
	return p.socket.Read(b)
}

func (p *Peer) Write(b []byte) (int, error) {
	return p.socket.Write(b)
}

// Close closes the socket once. Later calls are no-ops.
func (p *Peer) Close() error {
	if p.state == StateClosed {
		return nil
	}
	p.state = StateClosed
	p.Writer.Reset()
	return p.socket.Close()
}
