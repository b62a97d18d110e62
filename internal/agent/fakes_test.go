package agent

import (
	"bytes"
	"errors"
	"io"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Drahflow/crawler/internal/bloom"
	"github.com/Drahflow/crawler/internal/netpoll"
	"github.com/Drahflow/crawler/internal/rules"
)

type fakeConn struct {
	fd       int
	written  bytes.Buffer
	writeMax int
	pending  []byte
	chunk    int
	eof      bool
	readErr  error
	closed   bool
	interest netpoll.Interest
	watched  bool
}

func (c *fakeConn) Fd() int { return c.fd }

func (c *fakeConn) Read(p []byte) (int, error) {
	if c.readErr != nil {
		return 0, c.readErr
	}
	if len(c.pending) == 0 {
		if c.eof {
			return 0, io.EOF
		}
		return 0, netpoll.ErrWouldBlock
	}
	n := len(p)
	if c.chunk > 0 && n > c.chunk {
		n = c.chunk
	}
	n = copy(p[:n], c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

func (c *fakeConn) Write(p []byte) (int, error) {
	if c.writeMax > 0 && len(p) > c.writeMax {
		p = p[:c.writeMax]
	}
	return c.written.Write(p)
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func (c *fakeConn) requestPath() string {
	line, _, _ := strings.Cut(c.written.String(), "\r\n")
	line = strings.TrimPrefix(line, "GET ")
	return strings.TrimSuffix(line, " HTTP/1.1")
}

type fakeTransport struct {
	conns   []*fakeConn
	dialErr error
	chunk   int
}

func (t *fakeTransport) Dial(addr netip.AddrPort) (Conn, error) {
	if t.dialErr != nil {
		return nil, t.dialErr
	}
	c := &fakeConn{fd: len(t.conns) + 3, chunk: t.chunk}
	t.conns = append(t.conns, c)
	return c, nil
}

func (t *fakeTransport) Watch(c Conn, interest netpoll.Interest) error {
	fc := c.(*fakeConn)
	fc.watched = true
	fc.interest = interest
	return nil
}

func (t *fakeTransport) Rewatch(c Conn, interest netpoll.Interest) error {
	c.(*fakeConn).interest = interest
	return nil
}

func (t *fakeTransport) Unwatch(c Conn) error {
	c.(*fakeConn).watched = false
	return nil
}

func (t *fakeTransport) last() *fakeConn {
	if len(t.conns) == 0 {
		return nil
	}
	return t.conns[len(t.conns)-1]
}

type fakeSink struct {
	markers  []string
	lines    []string
	closed   bool
	writeErr error
}

func (s *fakeSink) WriteRequestMarker(hostname, path string) error {
	if s.writeErr != nil {
		return s.writeErr
	}
	s.markers = append(s.markers, "http://"+hostname+path)
	return nil
}

func (s *fakeSink) AppendLine(line []byte) error {
	if s.writeErr != nil {
		return s.writeErr
	}
	s.lines = append(s.lines, string(line))
	return nil
}

func (s *fakeSink) Close() error {
	s.closed = true
	return nil
}

type harness struct {
	agent     *Agent
	transport *fakeTransport
	sink      *fakeSink
	now       time.Time
}

func newHarness(t *testing.T, seed string, fetches uint64, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{
		transport: &fakeTransport{},
		sink:      &fakeSink{},
		now:       time.Unix(1700000000, 0),
	}
	opts := Options{
		Lines:  bloom.New(10000),
		Ignore: rules.NewSuffix(".jpg", ".png"),
		OpenSink: func(string) (Sink, error) {
			return h.sink, nil
		},
		Now: func() time.Time { return h.now },
	}
	if mutate != nil {
		mutate(&opts)
	}
	a, err := New(seed, fetches, opts)
	require.NoError(t, err)
	h.agent = a
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.agent.Start(netip.MustParseAddrPort("192.0.2.10:80"), h.transport))
}

// serve answers the request on the newest connection with body and closes
// it, returning the requested path.
func (h *harness) serve(t *testing.T, body string) string {
	t.Helper()
	c := h.transport.last()
	require.NotNil(t, c, "no connection open")
	require.False(t, c.closed, "connection already closed")

	for i := 0; i < 100 && c.interest == netpoll.Writable; i++ {
		h.agent.HandleOutput()
	}
	require.Equal(t, netpoll.Readable, c.interest, "request not fully written")

	c.pending = append(c.pending, body...)
	c.eof = true
	for i := 0; i < 10000 && !c.closed; i++ {
		h.agent.HandleInput()
	}
	require.True(t, c.closed, "connection not closed after EOF")
	return c.requestPath()
}

var errBoom = errors.New("boom")
