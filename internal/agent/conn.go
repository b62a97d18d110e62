package agent

import (
	"errors"
	"fmt"
	"io"
	"net/netip"
	"time"

	"github.com/Drahflow/crawler/internal/bloom"
	"github.com/Drahflow/crawler/internal/netpoll"
)

// Start begins fetching against a resolved address. It opens the domain's
// output sink, creates the per-domain URL set and issues the first request.
// An agent with an empty frontier retires immediately.
func (a *Agent) Start(addr netip.AddrPort, t Transport) error {
	if a.state == StateDone {
		return nil
	}
	a.addr = addr
	a.transport = t

	if len(a.frontier) == 0 || a.draining {
		a.finish()
		return nil
	}

	if a.opts.OpenSink != nil {
		s, err := a.opts.OpenSink(a.seed.Host)
		if err != nil {
			a.fail(err)
			return err
		}
		a.sink = s
	}

	a.urls = bloom.New(a.remaining)
	for _, p := range a.frontier {
		a.urls.InsertString(p)
	}

	a.in = make([]byte, bufferSize)
	a.out = make([]byte, 0, 512)

	a.advance(true)
	return a.err
}

// Drain lets the current request run to completion and then retires the
// agent instead of issuing the next one.
func (a *Agent) Drain() {
	a.draining = true
	if a.conn == nil && a.state != StateDone {
		a.finish()
	}
}

// Abort drops any open connection and closes the sink without processing
// further input.
func (a *Agent) Abort() {
	if a.state == StateDone {
		return
	}
	a.closeConn()
	a.closeSink()
	a.state = StateDone
}

// HandleOutput is called when the connection is writable. The first call
// confirms the connect; the request is sent, possibly over several calls.
func (a *Agent) HandleOutput() {
	if a.conn == nil || a.err != nil {
		return
	}
	if a.state == StateConnecting {
		a.state = StateAwaitingResponse
	}
	if a.outPos >= len(a.out) {
		return
	}

	n, err := a.conn.Write(a.out[a.outPos:])
	if errors.Is(err, netpoll.ErrWouldBlock) {
		return
	}
	if err != nil {
		a.requestFailed("request write failed", err)
		return
	}
	a.lastActivity = a.opts.Now()
	a.outPos += n

	if a.outPos == len(a.out) {
		if err := a.transport.Rewatch(a.conn, netpoll.Readable); err != nil {
			a.requestFailed("switch to read interest failed", err)
		}
	}
}

// HandleInput is called when the connection is readable.
func (a *Agent) HandleInput() {
	if a.conn == nil || a.err != nil {
		return
	}
	a.lastActivity = a.opts.Now()

	if a.inFill == len(a.in) {
		a.compact()
	}

	n, err := a.conn.Read(a.in[a.inFill:])
	switch {
	case errors.Is(err, netpoll.ErrWouldBlock):
		return
	case errors.Is(err, io.EOF), err == nil && n == 0:
		a.endRequest(true)
		return
	case err != nil:
		a.requestFailed("response read failed", err)
		return
	}

	a.state = StateReading
	a.reportDownloaded += uint64(n)
	a.stats.Bytes += uint64(n)
	a.currentDownloaded += int64(n)
	if a.currentDownloaded > a.opts.MaxResponseBytes {
		a.stats.Oversized++
		a.opts.Logger.Warn("response too large, dropping connection", a.fields(map[string]interface{}{
			"path":  a.current(),
			"bytes": a.currentDownloaded,
		}))
		a.endRequest(false)
		return
	}

	a.inFill += n
	a.scanLines()
}

// HandleError is called on connection errors and hangups.
func (a *Agent) HandleError(err error) {
	if a.conn == nil {
		return
	}
	if err == nil {
		err = errors.New("connection error")
	}
	a.requestFailed("connection failed", err)
}

// Tick drives time-based transitions: reopening after the cooldown and
// abandoning connections that have been silent for too long.
func (a *Agent) Tick(now time.Time) {
	switch {
	case a.state == StateDone || a.transport == nil || a.err != nil:
		return
	case a.conn == nil:
		if a.draining || len(a.frontier) == 0 {
			a.finish()
			return
		}
		if now.Sub(a.lastActivity) > a.opts.Cooldown {
			a.advance(true)
		}
	case now.Sub(a.lastActivity) > a.opts.InactivityTimeout:
		a.requestFailed("connection inactive", fmt.Errorf("no activity for %s", now.Sub(a.lastActivity).Round(time.Second)))
	}
}

func (a *Agent) requestFailed(msg string, err error) {
	a.stats.Failures++
	a.opts.Logger.Warn(msg, a.fields(map[string]interface{}{
		"path":  a.current(),
		"error": err,
	}))
	a.endRequest(false)
}

// endRequest finishes the request in flight, if any, and moves on.
// A partial final line is only kept when the peer closed cleanly.
func (a *Agent) endRequest(clean bool) {
	if a.conn != nil {
		if clean {
			a.flushPartialLine()
		}
		a.closeConn()
		a.finishRequest()
	}
	a.advance(a.opts.Cooldown == 0)
}

// advance retires the agent once the frontier is exhausted, otherwise it
// either opens the next request right away or idles until Tick reopens.
// Entries whose connect fails outright are consumed.
func (a *Agent) advance(immediate bool) {
	for a.err == nil {
		if len(a.frontier) == 0 || a.draining {
			a.finish()
			return
		}
		if !immediate {
			a.state = StateIdle
			a.lastActivity = a.opts.Now()
			return
		}

		err := a.open()
		if err == nil || a.err != nil {
			return
		}
		a.stats.Failures++
		a.opts.Logger.Warn("connect failed", a.fields(map[string]interface{}{
			"path":  a.current(),
			"error": err,
		}))
		a.finishRequest()
		immediate = a.opts.Cooldown == 0
	}
}

// open dials the address and queues the request for the frontier head.
func (a *Agent) open() error {
	conn, err := a.transport.Dial(a.addr)
	if err != nil {
		return err
	}
	if err := a.transport.Watch(conn, netpoll.Writable); err != nil {
		conn.Close()
		return err
	}

	path := a.frontier[0]
	a.conn = conn
	a.state = StateConnecting
	a.lastActivity = a.opts.Now()
	a.currentDownloaded = 0
	a.inPos, a.inScan, a.inFill = 0, 0, 0
	a.truncating = false
	a.out = appendRequest(a.out[:0], a.seed.Host, path)
	a.outPos = 0
	a.stats.Fetches++

	a.opts.Logger.Trace("fetching", a.fields(map[string]interface{}{"path": path}))

	if a.sink != nil {
		if err := a.sink.WriteRequestMarker(a.seed.Host, path); err != nil {
			a.fail(err)
			a.closeConn()
		}
	}
	return nil
}

func appendRequest(b []byte, host, path string) []byte {
	b = append(b, "GET "...)
	b = append(b, path...)
	b = append(b, " HTTP/1.1\r\nHost: "...)
	b = append(b, host...)
	b = append(b, "\r\nConnection: close\r\n\r\n"...)
	return b
}

// finishRequest pops the frontier head. After the robots fetch, the derived
// rules are applied to everything already queued.
func (a *Agent) finishRequest() {
	if len(a.frontier) > 0 {
		a.frontier = a.frontier[1:]
	}
	if !a.robotsActive {
		return
	}
	a.robotsActive = false
	a.stats.RobotsRules = a.robots.Len()

	if a.robots.Len() == 0 {
		return
	}
	kept := a.frontier[:0]
	for _, p := range a.frontier {
		if !a.robots.Matches(p) {
			kept = append(kept, p)
		}
	}
	a.frontier = kept
	a.opts.Logger.Trace("robots rules applied", a.fields(map[string]interface{}{
		"rules":    a.robots.Len(),
		"frontier": len(a.frontier),
	}))
}

func (a *Agent) closeConn() {
	if a.conn == nil {
		return
	}
	if err := a.transport.Unwatch(a.conn); err != nil {
		a.opts.Logger.Trace("unwatch failed", a.fields(map[string]interface{}{"error": err}))
	}
	a.conn.Close()
	a.conn = nil
	a.out = a.out[:0]
	a.outPos = 0
}

func (a *Agent) closeSink() {
	if a.sink == nil {
		return
	}
	if err := a.sink.Close(); err != nil {
		a.fail(err)
	}
	a.sink = nil
}

func (a *Agent) finish() {
	if a.state == StateDone {
		return
	}
	a.closeConn()
	a.closeSink()
	a.in = nil
	a.out = nil
	a.urls = nil
	a.state = StateDone

	a.opts.Logger.Info("domain finished", a.fields(map[string]interface{}{
		"fetches":  a.stats.Fetches,
		"failures": a.stats.Failures,
		"bytes":    a.stats.Bytes,
		"new":      a.stats.NewBytes,
		"drained":  a.draining,
	}))
}

func (a *Agent) current() string {
	if len(a.frontier) == 0 {
		return ""
	}
	return a.frontier[0]
}
