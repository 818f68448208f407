//go:build linux

package server

import (
	"errors"
	"net/netip"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/touka-aoi/low-level-relay/core/core"
	"github.com/touka-aoi/low-level-relay/core/engine"
	"github.com/touka-aoi/low-level-relay/server/peer"
	"golang.org/x/sys/unix"
)

// fakePeer builds a peer around an fd number that is never opened or closed.
func fakePeer(fd int) *peer.Peer {
	return peer.NewPeer(core.NewSocket(fd), netip.AddrPort{}, netip.AddrPort{}, time.Unix(0, 0), 16)
}

type pairedPeer struct {
	peer   *peer.Peer
	client int
}

// socketPeer returns a peer backed by one end of a socketpair and the other end as the client.
func socketPeer(t *testing.T, now time.Time) pairedPeer {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err, "socketpair")
	p := peer.NewPeer(core.NewSocket(fds[0]), netip.AddrPort{}, netip.MustParseAddrPort("127.0.0.1:1"), now, 64*1024)
	t.Cleanup(func() {
		p.Close()
		unix.Close(fds[1])
	})
	return pairedPeer{peer: p, client: fds[1]}
}

// readAvailable drains everything currently readable from fd.
func readAvailable(t *testing.T, fd int) []byte {
	t.Helper()
	var out []byte
	buf := make([]byte, 4096)
	for {
		n, err := unix.Read(fd, buf)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if errors.Is(err, unix.EAGAIN) || n == 0 {
			return out
		}
		require.NoError(t, err, "read")
		out = append(out, buf[:n]...)
	}
}

// fillSendBuffer writes into fd until the kernel refuses even a single byte.
func fillSendBuffer(t *testing.T, fd int32) int {
	t.Helper()
	require.NoError(t, unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, 4096), "setsockopt")
	total := 0
	chunk := make([]byte, 1024)
	for _, size := range []int{len(chunk), 1} {
		for {
			n, err := unix.Write(int(fd), chunk[:size])
			if errors.Is(err, unix.EINTR) {
				continue
			}
			if errors.Is(err, unix.EAGAIN) {
				break
			}
			require.NoError(t, err, "fill write")
			total += n
		}
	}
	return total
}

// recordingPoller is an engine.Poller that only remembers interest.
type recordingPoller struct {
	watched map[int32]bool
	writers map[int32]bool
}

func newRecordingPoller() *recordingPoller {
	return &recordingPoller{watched: map[int32]bool{}, writers: map[int32]bool{}}
}

func (p *recordingPoller) Add(fd int32) error { p.watched[fd] = true; return nil }
func (p *recordingPoller) Remove(fd int32) error {
	delete(p.watched, fd)
	delete(p.writers, fd)
	return nil
}
func (p *recordingPoller) SetWriteInterest(fd int32, enabled bool) error {
	if enabled {
		p.writers[fd] = true
	} else {
		delete(p.writers, fd)
	}
	return nil
}
func (p *recordingPoller) Wait(time.Duration) (*engine.ReadySet, error) {
	return nil, errors.New("recordingPoller cannot wait")
}
func (p *recordingPoller) Wake() error  { return nil }
func (p *recordingPoller) Close() error { return nil }

// failingPoller delegates to a real poller until fail is set.
type failingPoller struct {
	engine.Poller
	fail atomic.Bool
}

func (p *failingPoller) Wait(timeout time.Duration) (*engine.ReadySet, error) {
	if p.fail.Load() {
		return nil, unix.EBADF
	}
	return p.Poller.Wait(timeout)
}

var errDropForTest = errors.New("dropped by test middleware")
