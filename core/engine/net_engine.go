//go:build linux

package engine

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	terrr "github.com/touka-aoi/low-level-relay/core/errors"
	"github.com/touka-aoi/low-level-relay/core/event"
	"golang.org/x/sys/unix"
)

const (
	PollerEpoll = "epoll"
	PollerPoll  = "poll"
)

// Poller は fd 群の準備状態を待つ多重化器です。
// イベントループのゴルーチンだけが呼び出せます。Wake だけは別のゴルーチンから呼んでも安全です。
type Poller interface {
	// Add watches fd for readability.
	Add(fd int32) error
	Remove(fd int32) error
	// SetWriteInterest toggles writability notifications for an already watched fd.
	SetWriteInterest(fd int32, enabled bool) error
	// Wait blocks until a watched fd is ready, Wake is called or timeout elapses.
	// A timeout yields an empty set. The returned set is reused by the next Wait.
	Wait(timeout time.Duration) (*ReadySet, error)
	Wake() error
	Close() error
}

func NewPoller(kind string) (Poller, error) {
	switch kind {
	case PollerEpoll, "":
		return NewEpollPoller()
	case PollerPoll:
		return NewPollPoller()
	}
	return nil, fmt.Errorf("unknown poller %q", kind)
}

type ReadySet struct {
	events map[int32]event.EventType
	Woken  bool
}

func newReadySet() ReadySet {
	return ReadySet{events: make(map[int32]event.EventType)}
}

func (r *ReadySet) Get(fd int32) event.EventType {
	return r.events[fd]
}

func (r *ReadySet) Len() int {
	return len(r.events)
}

func (r *ReadySet) add(fd int32, et event.EventType) {
	if et == 0 {
		return
	}
	r.events[fd] |= et
}

func (r *ReadySet) reset() {
	clear(r.events)
	r.Woken = false
}

// waitMillis converts timeout for epoll_wait/poll, which take a C int.
// Negative means wait forever; anything beyond MaxInt32 ms is clamped.
func waitMillis(timeout time.Duration) int {
	if timeout < 0 {
		return -1
	}
	msec := timeout / time.Millisecond
	if msec > math.MaxInt32 {
		return math.MaxInt32
	}
	if msec == 0 && timeout > 0 {
		return 1
	}
	return int(msec)
}

func newWakeFd() (int, error) {
	return unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
}

func signalWakeFd(fd int) error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(fd, buf[:])
	if errors.Is(err, unix.EAGAIN) {
		// カウンタが溢れているなら既に起床済み
		return nil
	}
	return err
}

func drainWakeFd(fd int) {
	var buf [8]byte
	_, _ = unix.Read(fd, buf[:])
}

func waitFailure(err error) error {
	return fmt.Errorf("%w: %w", terrr.ErrWaitFailure, err)
}
