//go:build linux

package engine

import (
	"errors"
	"time"

	"github.com/touka-aoi/low-level-relay/core/event"
	"golang.org/x/sys/unix"
)

const (
	pollReadEvents      = unix.POLLIN | unix.POLLRDHUP
	pollReadWriteEvents = pollReadEvents | unix.POLLOUT
)

// PollPoller rebuilds its pollfd array on every Wait, the way select(2) loops do.
// It has no descriptor ceiling but costs O(watched) per wait.
type PollPoller struct {
	wakeFd   int
	interest map[int32]int16
	fds      []unix.PollFd
	ready    ReadySet
}

func NewPollPoller() (*PollPoller, error) {
	wakeFd, err := newWakeFd()
	if err != nil {
		return nil, err
	}
	return &PollPoller{
		wakeFd:   wakeFd,
		interest: make(map[int32]int16),
		ready:    newReadySet(),
	}, nil
}

func (p *PollPoller) Add(fd int32) error {
	p.interest[fd] = pollReadEvents
	return nil
}

func (p *PollPoller) Remove(fd int32) error {
	delete(p.interest, fd)
	return nil
}

func (p *PollPoller) SetWriteInterest(fd int32, enabled bool) error {
	if _, ok := p.interest[fd]; !ok {
		return unix.ENOENT
	}
	if enabled {
		p.interest[fd] = pollReadWriteEvents
	} else {
		p.interest[fd] = pollReadEvents
	}
	return nil
}

func (p *PollPoller) Wait(timeout time.Duration) (*ReadySet, error) {
	p.ready.reset()

	p.fds = p.fds[:0]
	p.fds = append(p.fds, unix.PollFd{Fd: int32(p.wakeFd), Events: unix.POLLIN})
	for fd, events := range p.interest {
		p.fds = append(p.fds, unix.PollFd{Fd: fd, Events: events})
	}

	n, err := unix.Poll(p.fds, waitMillis(timeout))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return &p.ready, nil
		}
		return nil, waitFailure(err)
	}
	if n == 0 {
		return &p.ready, nil
	}

	for _, pfd := range p.fds {
		if pfd.Revents == 0 {
			continue
		}
		if int(pfd.Fd) == p.wakeFd {
			drainWakeFd(p.wakeFd)
			p.ready.Woken = true
			continue
		}
		p.ready.add(pfd.Fd, pollEventType(pfd.Revents))
	}

	return &p.ready, nil
}

func pollEventType(revents int16) event.EventType {
	var et event.EventType
	if revents&unix.POLLIN != 0 {
		et |= event.EVENT_TYPE_READ
	}
	if revents&unix.POLLOUT != 0 {
		et |= event.EVENT_TYPE_WRITE
	}
	if revents&(unix.POLLHUP|unix.POLLRDHUP) != 0 {
		et |= event.EVENT_TYPE_HANGUP
	}
	if revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
		et |= event.EVENT_TYPE_ERROR
	}
	return et
}

func (p *PollPoller) Wake() error {
	return signalWakeFd(p.wakeFd)
}

func (p *PollPoller) Close() error {
	return unix.Close(p.wakeFd)
}
