package crawler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Drahflow/crawler/internal/agent"
	"github.com/Drahflow/crawler/internal/netpoll"
	"github.com/Drahflow/crawler/internal/report"
)

// fakeNet is an in-memory network: every connection answers one request with
// whatever the handler returns for its Host header and path, then closes.
type fakeNet struct {
	handler  func(host, path string) string
	conns    map[int]*memConn
	nextFd   int
	requests []string
}

func newFakeNet(handler func(host, path string) string) *fakeNet {
	return &fakeNet{handler: handler, conns: map[int]*memConn{}, nextFd: 10}
}

func (n *fakeNet) dial(addr netip.AddrPort) (agent.Conn, error) {
	c := &memConn{net: n, fd: n.nextFd}
	n.nextFd++
	n.conns[c.fd] = c
	return c, nil
}

type memConn struct {
	net       *fakeNet
	fd        int
	req       bytes.Buffer
	resp      []byte
	responded bool
}

func (c *memConn) Fd() int { return c.fd }

func (c *memConn) Write(p []byte) (int, error) {
	c.req.Write(p)
	if !c.responded && bytes.Contains(c.req.Bytes(), []byte("\r\n\r\n")) {
		path, host := parseRequest(c.req.String())
		c.net.requests = append(c.net.requests, host+path)
		c.resp = []byte(c.net.handler(host, path))
		c.responded = true
	}
	return len(p), nil
}

func (c *memConn) Read(p []byte) (int, error) {
	if !c.responded {
		return 0, netpoll.ErrWouldBlock
	}
	if len(c.resp) == 0 {
		return 0, io.EOF
	}
	n := copy(p, c.resp)
	c.resp = c.resp[n:]
	return n, nil
}

func (c *memConn) Close() error {
	delete(c.net.conns, c.fd)
	return nil
}

func parseRequest(req string) (path, host string) {
	lines := strings.Split(req, "\r\n")
	path = strings.TrimSuffix(strings.TrimPrefix(lines[0], "GET "), " HTTP/1.1")
	for _, l := range lines[1:] {
		if v, ok := strings.CutPrefix(l, "Host: "); ok {
			host = v
		}
	}
	return path, host
}

type registration struct {
	interest netpoll.Interest
	token    uint64
}

// fakePoller reports writable registrations immediately and readable ones
// once the connection has a response. Wait never sleeps.
type fakePoller struct {
	net    *fakeNet
	regs   map[int]registration
	closed bool
}

func newFakePoller(n *fakeNet) *fakePoller {
	return &fakePoller{net: n, regs: map[int]registration{}}
}

func (p *fakePoller) Register(fd int, interest netpoll.Interest, token uint64) error {
	if _, ok := p.regs[fd]; ok {
		return fmt.Errorf("fd %d already registered", fd)
	}
	p.regs[fd] = registration{interest, token}
	return nil
}

func (p *fakePoller) Modify(fd int, interest netpoll.Interest, token uint64) error {
	if _, ok := p.regs[fd]; !ok {
		return fmt.Errorf("fd %d not registered", fd)
	}
	p.regs[fd] = registration{interest, token}
	return nil
}

func (p *fakePoller) Unregister(fd int) error {
	if _, ok := p.regs[fd]; !ok {
		return fmt.Errorf("fd %d not registered", fd)
	}
	delete(p.regs, fd)
	return nil
}

func (p *fakePoller) Wait(events []netpoll.Event, _ time.Duration) (int, error) {
	fds := make([]int, 0, len(p.regs))
	for fd := range p.regs {
		fds = append(fds, fd)
	}
	sort.Ints(fds)

	n := 0
	for _, fd := range fds {
		if n == len(events) {
			break
		}
		r := p.regs[fd]
		c := p.net.conns[fd]
		ev := netpoll.Event{Token: r.token}
		if r.interest&netpoll.Writable != 0 {
			ev.Writable = true
		}
		if r.interest&netpoll.Readable != 0 && c != nil && c.responded {
			ev.Readable = true
		}
		if ev.Readable || ev.Writable {
			events[n] = ev
			n++
		}
	}
	return n, nil
}

func (p *fakePoller) Close() error {
	p.closed = true
	return nil
}

type memSink struct {
	markers []string
	lines   []string
	failOn  error
}

func (s *memSink) WriteRequestMarker(hostname, path string) error {
	s.markers = append(s.markers, "http://"+hostname+path)
	return nil
}

func (s *memSink) AppendLine(line []byte) error {
	if s.failOn != nil {
		return s.failOn
	}
	s.lines = append(s.lines, string(line))
	return nil
}

func (s *memSink) Close() error { return nil }

type memSinks struct {
	byHost map[string]*memSink
	failOn error
}

func (m *memSinks) open(hostname string) (agent.Sink, error) {
	if m.byHost == nil {
		m.byHost = map[string]*memSink{}
	}
	s := &memSink{failOn: m.failOn}
	m.byHost[hostname] = s
	return s, nil
}

type memRecorder struct {
	mu   sync.Mutex
	rows []report.DomainSummary
}

func (r *memRecorder) Record(_ context.Context, s report.DomainSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, s)
	return nil
}

func (r *memRecorder) Close() error { return nil }

func (r *memRecorder) byDomain() map[string]report.DomainSummary {
	out := map[string]report.DomainSummary{}
	for _, row := range r.rows {
		out[row.Domain] = row
	}
	return out
}

func staticLookup(hosts map[string]string) func(context.Context, string) (netip.Addr, error) {
	return func(_ context.Context, host string) (netip.Addr, error) {
		if a, ok := hosts[host]; ok {
			return netip.MustParseAddr(a), nil
		}
		return netip.Addr{}, errors.New("no such host")
	}
}
