// Package netpoll exposes the OS readiness multiplexer and non-blocking TCP
// sockets that the crawl loop drives from a single goroutine.
package netpoll

import (
	"errors"
	"time"
)

// Interest is the set of readiness conditions a handle is registered for.
// Error and hangup conditions are always reported.
type Interest uint32

const (
	Readable Interest = 1 << iota
	Writable
)

func (i Interest) String() string {
	switch i {
	case 0:
		return "none"
	case Readable:
		return "read"
	case Writable:
		return "write"
	case Readable | Writable:
		return "read|write"
	default:
		return "invalid"
	}
}

// Event is one readiness notification for a registered handle.
type Event struct {
	Token    uint64
	Readable bool
	Writable bool
	Hangup   bool // error or hangup
}

var (
	ErrWouldBlock  = errors.New("netpoll: operation would block")
	ErrUnsupported = errors.New("netpoll: not supported on this platform")
)

type Poller interface {
	Register(fd int, interest Interest, token uint64) error
	Modify(fd int, interest Interest, token uint64) error
	Unregister(fd int) error
	// Wait blocks for at most timeout and fills events. A negative timeout
	// blocks until something is ready.
	Wait(events []Event, timeout time.Duration) (int, error)
	Close() error
}

func timeoutMillis(timeout time.Duration) int {
	if timeout < 0 {
		return -1
	}
	ms := timeout / time.Millisecond
	if timeout%time.Millisecond != 0 {
		ms++
	}
	return int(ms)
}
