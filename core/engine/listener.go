//go:build linux

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"

	"github.com/touka-aoi/low-level-relay/core/core"
	terrr "github.com/touka-aoi/low-level-relay/core/errors"
)

type Listener interface {
	Fd() int32
	Addr() netip.AddrPort
	AcceptOne() (*core.Socket, netip.AddrPort, error)
	Close() error
}

type TCPListener struct {
	socket *core.Socket
	addr   netip.AddrPort
}

// Listen は候補アドレスを順に試し、最初に bind と listen に成功したソケットを返します。
// host が空ならIPv4のワイルドカードで待ち受けます。
func Listen(ctx context.Context, host string, port uint16, backlog int) (*TCPListener, error) {
	candidates, err := resolveCandidates(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve %q: %w", terrr.ErrBindFailure, host, err)
	}

	var lastErr error
	for _, candidate := range candidates {
		addr := netip.AddrPortFrom(candidate, port)
		l, err := listenOn(addr, backlog)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to listen on candidate", "address", addr, "error", err)
			lastErr = err
			continue
		}
		return l, nil
	}

	if lastErr == nil {
		lastErr = errors.New("no candidate address")
	}
	return nil, fmt.Errorf("%w: %s: %w", terrr.ErrBindFailure, net.JoinHostPort(host, fmt.Sprint(port)), lastErr)
}

func listenOn(addr netip.AddrPort, backlog int) (*TCPListener, error) {
	s, err := core.CreateTCPSocket(addr.Addr())
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	if err := s.Bind(addr); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("bind: %w", err)
	}
	if err := s.Listen(backlog); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("listen: %w", err)
	}

	// port 0 の場合はカーネルが選んだポートを反映する
	bound, err := s.LocalAddrPort()
	if err != nil {
		bound = addr
	}
	return &TCPListener{socket: s, addr: bound}, nil
}

func resolveCandidates(ctx context.Context, host string) ([]netip.Addr, error) {
	if host == "" {
		return []netip.Addr{netip.IPv4Unspecified()}, nil
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return []netip.Addr{addr}, nil
	}
	return net.DefaultResolver.LookupNetIP(ctx, "ip", host)
}

// AcceptOne accepts exactly one pending connection.
// It returns ErrWouldBlock when nothing is pending.
func (l *TCPListener) AcceptOne() (*core.Socket, netip.AddrPort, error) {
	return l.socket.Accept()
}

func (l *TCPListener) Addr() netip.AddrPort {
	return l.addr
}

func (l *TCPListener) Close() error {
	return l.socket.Close()
}

func (l *TCPListener) Fd() int32 {
	return l.socket.Fd
}
