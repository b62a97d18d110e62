package crawler

import (
	"net/netip"

	"github.com/Drahflow/crawler/internal/agent"
	"github.com/Drahflow/crawler/internal/netpoll"
)

// slotTransport binds an agent's connections to its downloading slot. Every
// Watch and Unwatch bumps the slot generation, so a token handed to the
// poller names exactly one connection.
type slotTransport struct {
	c   *Crawler
	idx int
}

var _ agent.Transport = (*slotTransport)(nil)

func (t *slotTransport) Dial(addr netip.AddrPort) (agent.Conn, error) {
	return t.c.dial(addr)
}

func (t *slotTransport) Watch(conn agent.Conn, interest netpoll.Interest) error {
	s := &t.c.slots[t.idx]
	s.gen++
	return t.c.poller.Register(conn.Fd(), interest, makeToken(t.idx, s.gen))
}

func (t *slotTransport) Rewatch(conn agent.Conn, interest netpoll.Interest) error {
	return t.c.poller.Modify(conn.Fd(), interest, makeToken(t.idx, t.c.slots[t.idx].gen))
}

func (t *slotTransport) Unwatch(conn agent.Conn) error {
	t.c.slots[t.idx].gen++
	return t.c.poller.Unregister(conn.Fd())
}
