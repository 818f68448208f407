//go:build linux

package engine

import (
	"errors"
	"time"

	"github.com/touka-aoi/low-level-relay/core/event"
	"golang.org/x/sys/unix"
)

const (
	readEvents      = unix.EPOLLIN | unix.EPOLLRDHUP
	readWriteEvents = readEvents | unix.EPOLLOUT
	initialEvents   = 128
)

// EpollPoller is a level-triggered epoll backend.
// Registration is persistent, so a wait costs O(ready) rather than O(watched).
type EpollPoller struct {
	epfd     int
	wakeFd   int
	interest map[int32]uint32
	events   []unix.EpollEvent
	ready    ReadySet
}

func NewEpollPoller() (*EpollPoller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	wakeFd, err := newWakeFd()
	if err != nil {
		_ = unix.Close(epfd)
		return nil, err
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeFd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFd, &ev); err != nil {
		_ = unix.Close(wakeFd)
		_ = unix.Close(epfd)
		return nil, err
	}

	return &EpollPoller{
		epfd:     epfd,
		wakeFd:   wakeFd,
		interest: make(map[int32]uint32),
		events:   make([]unix.EpollEvent, initialEvents),
		ready:    newReadySet(),
	}, nil
}

func (p *EpollPoller) Add(fd int32) error {
	if _, ok := p.interest[fd]; ok {
		return p.ctl(unix.EPOLL_CTL_MOD, fd, readEvents)
	}
	return p.ctl(unix.EPOLL_CTL_ADD, fd, readEvents)
}

func (p *EpollPoller) Remove(fd int32) error {
	if _, ok := p.interest[fd]; !ok {
		return nil
	}
	delete(p.interest, fd)
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, int(fd), nil)
	if errors.Is(err, unix.EBADF) || errors.Is(err, unix.ENOENT) {
		// 先に close されていれば epoll からは自動で外れている
		return nil
	}
	return err
}

func (p *EpollPoller) SetWriteInterest(fd int32, enabled bool) error {
	current, ok := p.interest[fd]
	if !ok {
		return unix.ENOENT
	}
	want := uint32(readEvents)
	if enabled {
		want = readWriteEvents
	}
	if current == want {
		return nil
	}
	return p.ctl(unix.EPOLL_CTL_MOD, fd, want)
}

func (p *EpollPoller) ctl(op int, fd int32, events uint32) error {
	ev := unix.EpollEvent{Events: events, Fd: fd}
	if err := unix.EpollCtl(p.epfd, op, int(fd), &ev); err != nil {
		return err
	}
	p.interest[fd] = events
	return nil
}

func (p *EpollPoller) Wait(timeout time.Duration) (*ReadySet, error) {
	p.ready.reset()

	n, err := unix.EpollWait(p.epfd, p.events, waitMillis(timeout))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return &p.ready, nil
		}
		return nil, waitFailure(err)
	}

	for _, ev := range p.events[:n] {
		if int(ev.Fd) == p.wakeFd {
			drainWakeFd(p.wakeFd)
			p.ready.Woken = true
			continue
		}
		p.ready.add(ev.Fd, epollEventType(ev.Events))
	}

	// 取りこぼしが続かないようにイベント配列を広げる
	if n == len(p.events) && len(p.events) < len(p.interest)+1 {
		p.events = make([]unix.EpollEvent, 2*len(p.events))
	}

	return &p.ready, nil
}

func epollEventType(events uint32) event.EventType {
	var et event.EventType
	if events&unix.EPOLLIN != 0 {
		et |= event.EVENT_TYPE_READ
	}
	if events&unix.EPOLLOUT != 0 {
		et |= event.EVENT_TYPE_WRITE
	}
	if events&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		et |= event.EVENT_TYPE_HANGUP
	}
	if events&unix.EPOLLERR != 0 {
		et |= event.EVENT_TYPE_ERROR
	}
	return et
}

func (p *EpollPoller) Wake() error {
	return signalWakeFd(p.wakeFd)
}

func (p *EpollPoller) Close() error {
	err := unix.Close(p.epfd)
	if wakeErr := unix.Close(p.wakeFd); err == nil {
		err = wakeErr
	}
	return err
}
