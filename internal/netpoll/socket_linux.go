//go:build linux

package netpoll

import (
	"fmt"
	"io"
	"net/netip"

	"golang.org/x/sys/unix"
)

// Socket is a non-blocking TCP socket. Read and Write return ErrWouldBlock
// instead of blocking; Read returns io.EOF when the peer closed.
type Socket struct {
	fd int
}

// DialTCP starts a non-blocking connect. Completion (or failure) is reported
// by the poller as write readiness (or error/hangup).
func DialTCP(addr netip.AddrPort) (*Socket, error) {
	ip := addr.Addr().Unmap()

	var (
		family int
		sa     unix.Sockaddr
	)
	switch {
	case ip.Is4():
		family = unix.AF_INET
		sa = &unix.SockaddrInet4{Port: int(addr.Port()), Addr: ip.As4()}
	case ip.Is6():
		family = unix.AF_INET6
		sa = &unix.SockaddrInet6{Port: int(addr.Port()), Addr: ip.As16()}
	default:
		return nil, fmt.Errorf("dial %s: invalid address", addr)
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}

	err = unix.Connect(fd, sa)
	if err != nil && err != unix.EINPROGRESS && err != unix.EINTR {
		unix.Close(fd)
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}
	return &Socket{fd: fd}, nil
}

func (s *Socket) Fd() int { return s.fd }

func (s *Socket) Read(p []byte) (int, error) {
	for {
		n, err := unix.Read(s.fd, p)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return 0, ErrWouldBlock
		case err != nil:
			return 0, fmt.Errorf("read: %w", err)
		case n == 0 && len(p) > 0:
			return 0, io.EOF
		}
		return n, nil
	}
}

func (s *Socket) Write(p []byte) (int, error) {
	for {
		n, err := unix.Write(s.fd, p)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return 0, ErrWouldBlock
		case err != nil:
			return 0, fmt.Errorf("write: %w", err)
		}
		return n, nil
	}
}

func (s *Socket) Close() error {
	if s.fd < 0 {
		return nil
	}
	err := unix.Close(s.fd)
	s.fd = -1
	return err
}
