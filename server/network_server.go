//go:build linux

package server

import (
	"context"
	"errors"
	"log/slog"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/touka-aoi/low-level-relay/core/engine"
	terrr "github.com/touka-aoi/low-level-relay/core/errors"
	"github.com/touka-aoi/low-level-relay/core/event"
	"github.com/touka-aoi/low-level-relay/middleware"
	"github.com/touka-aoi/low-level-relay/server/peer"
)

type SrvStatus int

const (
	Running SrvStatus = iota
	ShuttingDown
	Stopped
)

var stateName = map[SrvStatus]string{
	Running:      "running",
	ShuttingDown: "shutting down",
	Stopped:      "stopped",
}

func (s SrvStatus) String() string {
	return stateName[s]
}

var errNotListening = errors.New("server is not listening")

type Option func(ns *NetworkServer)

func WithPipeline(pipeline *middleware.Pipeline) Option {
	return func(ns *NetworkServer) {
		ns.pipeline = pipeline
	}
}

// WithPoller replaces the backend chosen by NetworkServerConfig.Poller.
func WithPoller(poller engine.Poller) Option {
	return func(ns *NetworkServer) {
		ns.poller = poller
	}
}

func WithClock(clock func() time.Time) Option {
	return func(ns *NetworkServer) {
		ns.clock = clock
	}
}

// NetworkServer はシングルゴルーチンのイベントループです。
// レジストリ、ポーラー、全てのピアはこのループだけが触ります。
type NetworkServer struct {
	config   NetworkServerConfig
	listener engine.Listener
	poller   engine.Poller
	registry *Registry
	relay    *Relay
	reaper   IdleReaper
	pipeline *middleware.Pipeline
	status   SrvStatus
	clock    func() time.Time

	// 他のゴルーチンから読むための接続数
	connections atomic.Int64
}

func NewNetworkServer(config NetworkServerConfig, opts ...Option) (*NetworkServer, error) {
	config = config.Sanitize()
	ns := &NetworkServer{
		config: config,
		clock:  time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ns)
		}
	}

	if ns.poller == nil {
		poller, err := engine.NewPoller(config.Poller)
		if err != nil {
			return nil, err
		}
		ns.poller = poller
	}

	ns.registry = NewRegistry(config.InitialCapacity, config.MaxConnections)
	ns.relay = NewRelay(ns.registry, ns.poller, ns.pipeline, config)
	ns.relay.clock = ns.clock
	ns.reaper = NewIdleReaper(config.IdleTimeout)
	return ns, nil
}

func (ns *NetworkServer) Listen(ctx context.Context) error {
	listener, err := engine.Listen(ctx, ns.config.Host, ns.config.Port, ns.config.Backlog)
	if err != nil {
		return err
	}
	if err := ns.poller.Add(listener.Fd()); err != nil {
		_ = listener.Close()
		return err
	}
	ns.listener = listener

	slog.InfoContext(ctx, "Listening on", "address", listener.Addr(), "timeout", ns.config.IdleTimeout, "poller", ns.config.Poller, "writePolicy", ns.config.WritePolicy)
	return nil
}

func (ns *NetworkServer) Addr() netip.AddrPort {
	if ns.listener == nil {
		return netip.AddrPort{}
	}
	return ns.listener.Addr()
}

func (ns *NetworkServer) Status() SrvStatus {
	return ns.status
}

// Connections is safe to call from any goroutine.
func (ns *NetworkServer) Connections() int {
	return int(ns.connections.Load())
}

func (ns *NetworkServer) RelayStats() RelayStats {
	return ns.relay.Stats()
}

// Serve runs the loop until ctx is cancelled (returns nil) or waiting for
// readiness fails (returns an error wrapping ErrWaitFailure). Either way every
// socket is closed before it returns. There is no drain phase.
func (ns *NetworkServer) Serve(ctx context.Context) error {
	if ns.listener == nil {
		return errNotListening
	}
	ns.status = Running

	woken := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(woken)
		if err := ns.poller.Wake(); err != nil {
			slog.ErrorContext(ctx, "Failed to wake event loop", "error", err)
		}
	})

	var fatal error
	for ns.status == Running {
		ready, err := ns.poller.Wait(ns.config.IdleTimeout)
		if err != nil {
			slog.ErrorContext(ctx, "Server failed to wait", "error", err)
			if !errors.Is(err, terrr.ErrWaitFailure) {
				err = errors.Join(terrr.ErrWaitFailure, err)
			}
			fatal = err
			ns.status = ShuttingDown
			break
		}

		if ctx.Err() != nil {
			slog.InfoContext(ctx, "Server stop requested")
			ns.status = ShuttingDown
			break
		}

		if ready.Get(ns.listener.Fd()).Readable() {
			ns.handleAccept(ctx)
		}

		now := ns.clock()
		ns.registry.ForEach(func(p *peer.Peer) bool {
			return ns.dispatch(ctx, p, ready.Get(p.Fd()), now)
		})
		ns.connections.Store(int64(ns.registry.Len()))
	}

	// Wake が走っている最中にポーラーを閉じない
	if !stop() {
		<-woken
	}
	ns.shutdown(ctx)
	return fatal
}

func (ns *NetworkServer) dispatch(ctx context.Context, p *peer.Peer, et event.EventType, now time.Time) (remove bool) {
	if et.Writable() {
		ns.relay.Flush(ctx, p)
	}

	if et.Readable() {
		if ns.relay.OnReadable(ctx, p) {
			ns.closePeer(ctx, p)
			return true
		}
		return false
	}

	if ns.reaper.Check(ctx, p, now) {
		ns.closePeer(ctx, p)
		return true
	}
	return false
}

func (ns *NetworkServer) handleAccept(ctx context.Context) {
	socket, remote, err := ns.listener.AcceptOne()
	if errors.Is(err, terrr.ErrWouldBlock) {
		return
	}
	if err != nil {
		slog.ErrorContext(ctx, "Failed to accept", "error", err)
		return
	}

	local, err := socket.LocalAddrPort()
	if err != nil {
		slog.ErrorContext(ctx, "Failed to get local address", "fd", socket.Fd, "error", err)
	}
	connPeer := peer.NewPeer(socket, local, remote, ns.clock(), ns.config.WriteQueueSize)

	if err := ns.registry.Add(connPeer); err != nil {
		slog.ErrorContext(ctx, "Failed to add client", "fd", connPeer.Fd(), "remote", remote, "error", err)
		_ = connPeer.Close()
		return
	}

	// 新しい接続に対してREADを監視する
	if err := ns.poller.Add(connPeer.Fd()); err != nil {
		slog.ErrorContext(ctx, "Failed to watch client", "fd", connPeer.Fd(), "error", err)
		ns.registry.Remove(connPeer.Fd())
		_ = connPeer.Close()
		return
	}

	ns.connections.Store(int64(ns.registry.Len()))
	slog.InfoContext(ctx, "New connection", "fd", connPeer.Fd(), "remote", remote, "session", connPeer.SessionID, "connections", ns.registry.Len())
}

// closePeer releases the socket. The caller removes the registry entry.
func (ns *NetworkServer) closePeer(ctx context.Context, p *peer.Peer) {
	if err := ns.poller.Remove(p.Fd()); err != nil {
		slog.ErrorContext(ctx, "Failed to unwatch peer", "fd", p.Fd(), "error", err)
	}
	fd := p.Fd()
	if err := p.Close(); err != nil {
		slog.ErrorContext(ctx, "Failed to close peer", "fd", fd, "error", err)
	}
	slog.InfoContext(ctx, "Connection closed", "fd", fd, "session", p.SessionID, "connected", ns.clock().Sub(p.ConnectedAt()).Round(time.Millisecond), "connections", ns.registry.Len()-1)
}

func (ns *NetworkServer) shutdown(ctx context.Context) {
	ns.status = ShuttingDown
	closed := ns.registry.Len()
	ns.registry.Drain(func(p *peer.Peer) {
		_ = ns.poller.Remove(p.Fd())
		_ = p.Close()
	})

	_ = ns.poller.Remove(ns.listener.Fd())
	if err := ns.listener.Close(); err != nil {
		slog.ErrorContext(ctx, "Failed to close listener", "error", err)
	}
	if err := ns.poller.Close(); err != nil {
		slog.ErrorContext(ctx, "Failed to close poller", "error", err)
	}

	ns.connections.Store(0)
	ns.status = Stopped
	slog.InfoContext(ctx, "Server stopped", "closedConnections", closed, "relay", ns.relay.Stats())
}
