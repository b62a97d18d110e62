//go:build linux

package netpoll

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// Epoll is a Poller over a Linux epoll instance.
type Epoll struct {
	fd  int
	raw []unix.EpollEvent
}

var _ Poller = (*Epoll)(nil)

func NewEpoll() (*Epoll, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	return &Epoll{fd: fd}, nil
}

func (e *Epoll) Register(fd int, interest Interest, token uint64) error {
	ev := makeEvent(interest, token)
	if err := unix.EpollCtl(e.fd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll add fd %d: %w", fd, err)
	}
	return nil
}

func (e *Epoll) Modify(fd int, interest Interest, token uint64) error {
	ev := makeEvent(interest, token)
	if err := unix.EpollCtl(e.fd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("epoll mod fd %d: %w", fd, err)
	}
	return nil
}

func (e *Epoll) Unregister(fd int) error {
	if err := unix.EpollCtl(e.fd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll del fd %d: %w", fd, err)
	}
	return nil
}

func (e *Epoll) Wait(events []Event, timeout time.Duration) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	if cap(e.raw) < len(events) {
		e.raw = make([]unix.EpollEvent, len(events))
	}
	raw := e.raw[:len(events)]

	n, err := unix.EpollWait(e.fd, raw, timeoutMillis(timeout))
	if err == unix.EINTR {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("epoll wait: %w", err)
	}

	for i := 0; i < n; i++ {
		ev := raw[i]
		events[i] = Event{
			Token:    uint64(uint32(ev.Fd)) | uint64(uint32(ev.Pad))<<32,
			Readable: ev.Events&unix.EPOLLIN != 0,
			Writable: ev.Events&unix.EPOLLOUT != 0,
			Hangup:   ev.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0,
		}
	}
	return n, nil
}

func (e *Epoll) Close() error {
	return unix.Close(e.fd)
}

// makeEvent stores the 64-bit token across the Fd and Pad fields, which
// together cover the kernel's epoll_data union.
func makeEvent(interest Interest, token uint64) unix.EpollEvent {
	var mask uint32
	if interest&Readable != 0 {
		mask |= unix.EPOLLIN
	}
	if interest&Writable != 0 {
		mask |= unix.EPOLLOUT
	}
	return unix.EpollEvent{
		Events: mask,
		Fd:     int32(uint32(token)),
		Pad:    int32(uint32(token >> 32)),
	}
}
