//go:build !linux

package netpoll

import (
	"net/netip"
	"time"
)

type Epoll struct{}

func NewEpoll() (*Epoll, error) { return nil, ErrUnsupported }

func (*Epoll) Register(int, Interest, uint64) error     { return ErrUnsupported }
func (*Epoll) Modify(int, Interest, uint64) error       { return ErrUnsupported }
func (*Epoll) Unregister(int) error                     { return ErrUnsupported }
func (*Epoll) Wait([]Event, time.Duration) (int, error) { return 0, ErrUnsupported }
func (*Epoll) Close() error                             { return nil }

type Socket struct{}

func DialTCP(netip.AddrPort) (*Socket, error) { return nil, ErrUnsupported }

func (*Socket) Fd() int                   { return -1 }
func (*Socket) Read([]byte) (int, error)  { return 0, ErrUnsupported }
func (*Socket) Write([]byte) (int, error) { return 0, ErrUnsupported }
func (*Socket) Close() error              { return nil }
