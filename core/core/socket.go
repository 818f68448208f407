//go:build linux

package core

import (
	"errors"
	"log/slog"
	"net/netip"

	terrr "github.com/touka-aoi/low-level-relay/core/errors"
	"golang.org/x/sys/unix"
)

type Socket struct {
	Fd        int32
	LocalAddr string
}

// CreateTCPSocket は非ブロッキングかつ close-on-exec な TCP ソケットを作成します
func CreateTCPSocket(addr netip.Addr) (*Socket, error) {
	family := unix.AF_INET
	if addr.Is6() && !addr.Is4In6() {
		family = unix.AF_INET6
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		slog.Error("Failed to create socket", "err", err)
		return nil, err
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		slog.Error("Failed to set socket option", "err", err)
		_ = unix.Close(fd)
		return nil, err
	}

	return &Socket{Fd: int32(fd)}, nil
}

// NewSocket wraps an fd that is already open, e.g. one side of a socketpair.
func NewSocket(fd int) *Socket {
	return &Socket{Fd: int32(fd)}
}

func (s *Socket) Bind(address netip.AddrPort) error {
	// https://man7.org/linux/man-pages/man2/bind.2.html
	sa := AddrPortToSockaddr(address)
	if err := unix.Bind(int(s.Fd), sa); err != nil {
		return err
	}

	s.LocalAddr = address.String()
	return nil
}

func (s *Socket) Listen(maxConn int) error {
	res, _, errno := unix.Syscall6(
		unix.SYS_LISTEN,
		uintptr(s.Fd),
		uintptr(maxConn),
		0,
		0,
		0,
		0)

	if res != 0 {
		return errno
	}

	return nil
}

// Accept は保留中の接続を一つだけ受け付けます。
// 保留中の接続がなければ ErrWouldBlock を返します。
func (s *Socket) Accept() (*Socket, netip.AddrPort, error) {
	for {
		nfd, sa, err := unix.Accept4(int(s.Fd), unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		switch {
		case err == nil:
			remote, _ := SockaddrToAddrPort(sa)
			return &Socket{Fd: int32(nfd)}, remote, nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.ECONNABORTED):
			return nil, netip.AddrPort{}, terrr.ErrWouldBlock
		default:
			return nil, netip.AddrPort{}, err
		}
	}
}

func (s *Socket) Read(p []byte) (int, error) {
	return unix.Read(int(s.Fd), p)
}

func (s *Socket) Write(p []byte) (int, error) {
	return unix.Write(int(s.Fd), p)
}

func (s *Socket) LocalAddrPort() (netip.AddrPort, error) {
	sa, err := unix.Getsockname(int(s.Fd))
	if err != nil {
		return netip.AddrPort{}, err
	}
	return SockaddrToAddrPort(sa)
}

func (s *Socket) Close() error {
	return unix.Close(int(s.Fd))
}

func SockaddrToAddrPort(sa unix.Sockaddr) (netip.AddrPort, error) {
	switch addr := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(addr.Addr), uint16(addr.Port)), nil
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(addr.Addr).Unmap(), uint16(addr.Port)), nil
	default:
		return netip.AddrPort{}, unix.EAFNOSUPPORT
	}
}

func AddrPortToSockaddr(address netip.AddrPort) unix.Sockaddr {
	addr := address.Addr()
	if addr.Is4() || addr.Is4In6() {
		return &unix.SockaddrInet4{Port: int(address.Port()), Addr: addr.Unmap().As4()}
	}
	return &unix.SockaddrInet6{Port: int(address.Port()), Addr: addr.As16()}
}
