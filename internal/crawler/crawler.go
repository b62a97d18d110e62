// Package crawler runs the single-threaded crawl loop: it admits domain
// agents, resolves their hostnames in the background, multiplexes all open
// connections over one readiness poller and halts once the shared line
// filter is saturated.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/google/uuid"

	"github.com/Drahflow/crawler/internal/agent"
	"github.com/Drahflow/crawler/internal/bloom"
	"github.com/Drahflow/crawler/internal/config"
	"github.com/Drahflow/crawler/internal/logging"
	"github.com/Drahflow/crawler/internal/netpoll"
	"github.com/Drahflow/crawler/internal/report"
	"github.com/Drahflow/crawler/internal/resolve"
	"github.com/Drahflow/crawler/internal/rules"
	"github.com/Drahflow/crawler/internal/sink"
)

const maxEvents = 256

type Dialer func(addr netip.AddrPort) (agent.Conn, error)

type SinkOpener func(hostname string) (agent.Sink, error)

type Option func(*Crawler)

// WithPoller replaces the epoll poller. The crawler closes it when Run returns.
func WithPoller(p netpoll.Poller) Option { return func(c *Crawler) { c.poller = p } }

func WithDialer(d Dialer) Option { return func(c *Crawler) { c.dial = d } }

func WithLookup(l resolve.LookupFunc) Option { return func(c *Crawler) { c.lookup = l } }

func WithRecorder(r report.Recorder) Option { return func(c *Crawler) { c.recorder = r } }

func WithSinkOpener(o SinkOpener) Option { return func(c *Crawler) { c.openSink = o } }

func WithClock(now func() time.Time) Option { return func(c *Crawler) { c.now = now } }

// Summary describes a finished (or aborted) run.
type Summary struct {
	RunID         string
	Seeds         int
	InvalidSeeds  int
	Retired       int
	ResolveFailed int
	Unstarted     int
	Fetches       int
	Bytes         uint64
	NewBytes      uint64
	Fill          int
	Halted        bool
	HaltReason    string
}

type entry struct {
	agent   *agent.Agent
	started time.Time
}

// slot is one entry of the downloading table. gen changes on every
// (re)registration so that events queued for an earlier connection, or an
// earlier occupant, are recognised as stale.
type slot struct {
	entry *entry
	gen   uint32
}

type Crawler struct {
	cfg    *config.Config
	logger *logging.Logger
	runID  string

	poller   netpoll.Poller
	lookup   resolve.LookupFunc
	resolver *resolve.Resolver
	dial     Dialer
	openSink SinkOpener
	recorder report.Recorder
	now      func() time.Time

	lines  *bloom.Set
	ignore *rules.Suffix

	fresh      []*entry
	resolving  map[uint64]*entry
	nextLookup uint64
	slots      []slot
	free       []int
	active     int

	events     []netpoll.Event
	fatal      error
	halted     bool
	lastReport time.Time
	summary    Summary
}

func New(cfg *config.Config, logger *logging.Logger, opts ...Option) (*Crawler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = logging.Nop()
	}

	c := &Crawler{
		cfg:       cfg,
		logger:    logger,
		runID:     uuid.NewString(),
		recorder:  report.Nop{},
		now:       time.Now,
		lines:     bloom.New(cfg.ExpectedLines),
		ignore:    rules.NewSuffix(cfg.Ignore...),
		resolving: make(map[uint64]*entry),
		events:    make([]netpoll.Event, maxEvents),
	}
	c.dial = func(addr netip.AddrPort) (agent.Conn, error) {
		s, err := netpoll.DialTCP(addr)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	openStream := sink.DirOpener(cfg.OutputDir)
	c.openSink = func(hostname string) (agent.Sink, error) {
		s, err := openStream(hostname)
		if err != nil {
			return nil, err
		}
		c.logger.Trace("output stream opened", map[string]interface{}{
			"domain": hostname,
			"file":   s.Name(),
		})
		return s, nil
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.poller == nil {
		p, err := netpoll.NewEpoll()
		if err != nil {
			return nil, fmt.Errorf("create poller: %w", err)
		}
		c.poller = p
	}
	c.resolver = resolve.New(resolve.Config{
		MaxOutstanding: cfg.MaxResolving,
		Rate:           cfg.ResolveRate,
		Timeout:        cfg.ResolveTimeout,
		Lookup:         c.lookup,
	})

	c.summary.RunID = c.runID
	c.summary.Seeds = len(cfg.Fetch)
	agentOpts := agent.Options{
		Lines:             c.lines,
		Ignore:            c.ignore,
		OpenSink:          c.openSink,
		Logger:            logger,
		Cooldown:          cfg.Cooldown,
		MaxURLLength:      cfg.MaxURLLength,
		MaxResponseBytes:  cfg.MaxResponseBytes,
		InactivityTimeout: cfg.InactivityTimeout,
		Now:               c.now,
	}
	for _, seed := range cfg.Fetch {
		a, err := agent.New(seed, cfg.FetchesPerDomain, agentOpts)
		if err != nil {
			c.summary.InvalidSeeds++
			logger.Warn("skipping seed", map[string]interface{}{"seed": seed, "error": err})
			continue
		}
		c.fresh = append(c.fresh, &entry{agent: a})
	}
	return c, nil
}

func (c *Crawler) RunID() string { return c.runID }

// Summary is complete once Run has returned.
func (c *Crawler) Summary() Summary { return c.summary }

// Run drives the crawl until every agent has retired. Cancelling ctx, like a
// saturated line filter, stops scheduling new work and lets open requests
// finish. Run returns an error only when output can no longer be persisted
// or the poller fails.
func (c *Crawler) Run(ctx context.Context) (err error) {
	c.logger.Info("starting crawler", map[string]interface{}{
		"run":            c.runID,
		"domains":        len(c.fresh),
		"active_domains": c.cfg.ActiveDomains,
		"fetches":        c.cfg.FetchesPerDomain,
		"cooldown":       c.cfg.Cooldown.String(),
		"filter_bits":    c.lines.Bits(),
		"ignore_rules":   c.ignore.Len(),
	})
	defer func() {
		if cerr := c.shutdown(); err == nil {
			err = cerr
		}
	}()

	for c.pending() {
		if ctx.Err() != nil && !c.halted {
			c.halt("shutdown requested")
		}

		now := c.now()
		fill := c.lines.EstimateFill()
		c.report(now, fill)
		if fill > c.cfg.FillThreshold && !c.halted {
			c.halt("line filter full")
		}

		if !c.halted {
			c.admit()
		}
		c.drainResolutions()
		if err := c.pump(); err != nil {
			return err
		}
		c.sweep(c.now())
		if c.fatal != nil {
			return c.fatal
		}
	}

	c.summary.Fill = c.lines.EstimateFill()
	c.logger.Info("crawler finished", map[string]interface{}{
		"retired":        c.summary.Retired,
		"resolve_failed": c.summary.ResolveFailed,
		"fetches":        c.summary.Fetches,
		"fill":           c.summary.Fill,
		"halted":         c.summary.Halted,
	})
	return nil
}

func (c *Crawler) pending() bool {
	return len(c.fresh) > 0 || len(c.resolving) > 0 || c.active > 0
}

// admit moves agents from the new pool into resolution while the
// concurrency ceiling and the resolver allow it.
func (c *Crawler) admit() {
	for len(c.fresh) > 0 && len(c.resolving)+c.active < c.cfg.ActiveDomains {
		e := c.fresh[0]
		c.nextLookup++
		if !c.resolver.Submit(e.agent.DialHost(), c.nextLookup) {
			return
		}
		c.resolving[c.nextLookup] = e
		c.fresh[0] = nil
		c.fresh = c.fresh[1:]
	}
}

func (c *Crawler) drainResolutions() {
	for c.fatal == nil {
		res, ok := c.resolver.Poll()
		if !ok {
			return
		}
		e, ok := c.resolving[res.Token]
		if !ok {
			continue
		}
		delete(c.resolving, res.Token)

		a := e.agent
		if res.Err != nil {
			c.summary.ResolveFailed++
			c.logger.Warn("domain resolution failed", map[string]interface{}{
				"domain": a.Hostname(),
				"error":  res.Err,
			})
			c.record(e, report.ReasonResolveFailed, res.Err)
			continue
		}

		addr := netip.AddrPortFrom(res.Addr, a.Port())
		c.logger.Trace("domain resolved", map[string]interface{}{
			"domain":  a.Hostname(),
			"address": addr.String(),
		})
		c.start(e, addr)
	}
}

func (c *Crawler) start(e *entry, addr netip.AddrPort) {
	idx := c.allocSlot(e)
	e.started = c.now()
	if err := e.agent.Start(addr, &slotTransport{c: c, idx: idx}); err != nil {
		c.fatal = fmt.Errorf("domain %s: %w", e.agent.Hostname(), err)
	}
	c.settle(idx)
}

func (c *Crawler) allocSlot(e *entry) int {
	c.active++
	if n := len(c.free); n > 0 {
		idx := c.free[n-1]
		c.free = c.free[:n-1]
		c.slots[idx].entry = e
		return idx
	}
	c.slots = append(c.slots, slot{entry: e})
	return len(c.slots) - 1
}

// settle checks an agent after it ran: a persistence failure aborts the run,
// a finished agent frees its slot.
func (c *Crawler) settle(idx int) {
	e := c.slots[idx].entry
	if e == nil {
		return
	}
	a := e.agent
	if err := a.Err(); err != nil && c.fatal == nil {
		c.fatal = fmt.Errorf("domain %s: %w", a.Hostname(), err)
	}
	if !a.Done() {
		return
	}

	s := &c.slots[idx]
	s.entry = nil
	s.gen++
	c.free = append(c.free, idx)
	c.active--

	st := a.Stats()
	c.summary.Retired++
	c.summary.Fetches += st.Fetches
	c.summary.Bytes += st.Bytes
	c.summary.NewBytes += st.NewBytes

	reason := report.ReasonCompleted
	if a.Draining() {
		reason = report.ReasonDrained
	}
	c.record(e, reason, a.Err())
}

// pump services readiness events in bounded slices, polling the resolver
// between slices so lookups that finish meanwhile are not left waiting.
func (c *Crawler) pump() error {
	passes := c.cfg.PumpPasses
	if c.active == 0 && len(c.resolving) == 0 {
		if len(c.fresh) == 0 {
			return nil
		}
		// Only admission is pending; wait one slice before retrying.
		passes = 1
	}

	for pass := 0; pass < passes; pass++ {
		n, err := c.poller.Wait(c.events, c.cfg.PumpSlice)
		if err != nil {
			return fmt.Errorf("poll: %w", err)
		}
		for _, ev := range c.events[:n] {
			c.dispatch(ev)
			if c.fatal != nil {
				return nil
			}
		}
		if len(c.resolving) > 0 {
			c.drainResolutions()
		}
		if c.fatal != nil || !c.pending() {
			return nil
		}
	}
	return nil
}

func (c *Crawler) dispatch(ev netpoll.Event) {
	idx, gen := splitToken(ev.Token)
	if idx >= len(c.slots) {
		return
	}
	s := &c.slots[idx]
	if s.entry == nil || s.gen != gen {
		return
	}

	a := s.entry.agent
	switch {
	case ev.Readable:
		a.HandleInput()
	case ev.Writable && !ev.Hangup:
		a.HandleOutput()
	case ev.Hangup:
		a.HandleError(errors.New("connection error or hangup"))
	}
	c.settle(idx)
}

// sweep advances cooldown timers and inactivity watchdogs.
func (c *Crawler) sweep(now time.Time) {
	for idx := range c.slots {
		if c.slots[idx].entry == nil {
			continue
		}
		c.slots[idx].entry.agent.Tick(now)
		c.settle(idx)
	}
}

// halt stops scheduling: unstarted and resolving domains are dropped and
// downloading agents retire after their current request.
func (c *Crawler) halt(reason string) {
	c.halted = true
	c.summary.Halted = true
	c.summary.HaltReason = reason
	c.summary.Unstarted = len(c.fresh) + len(c.resolving)

	c.logger.Info("halting crawl", map[string]interface{}{
		"reason":      reason,
		"unstarted":   c.summary.Unstarted,
		"downloading": c.active,
	})

	c.fresh = nil
	c.resolving = make(map[uint64]*entry)
	for idx := range c.slots {
		if c.slots[idx].entry == nil {
			continue
		}
		c.slots[idx].entry.agent.Drain()
		c.settle(idx)
	}
}

// shutdown aborts whatever is still running (only after a fatal error) and
// releases the resolver and poller.
func (c *Crawler) shutdown() error {
	for idx := range c.slots {
		e := c.slots[idx].entry
		if e == nil {
			continue
		}
		e.agent.Abort()
		c.slots[idx].entry = nil
		c.active--
		c.record(e, report.ReasonAborted, e.agent.Err())
	}
	c.resolver.Close()
	if err := c.poller.Close(); err != nil {
		return fmt.Errorf("close poller: %w", err)
	}
	return nil
}

func (c *Crawler) record(e *entry, reason string, cause error) {
	a := e.agent
	st := a.Stats()
	s := report.DomainSummary{
		RunID:          c.runID,
		Domain:         a.Hostname(),
		Reason:         reason,
		Started:        e.started,
		Finished:       c.now(),
		Fetches:        st.Fetches,
		Failures:       st.Failures,
		Oversized:      st.Oversized,
		TruncatedLines: st.TruncatedLines,
		Discovered:     st.Discovered,
		RobotsRules:    st.RobotsRules,
		Bytes:          st.Bytes,
		NewBytes:       st.NewBytes,
	}
	if addr := a.Addr(); addr.IsValid() {
		s.Address = addr.String()
	}
	if cause != nil {
		s.Error = cause.Error()
	}
	if err := c.recorder.Record(context.Background(), s); err != nil {
		c.logger.Warn("failed to record domain summary", map[string]interface{}{
			"domain": a.Hostname(),
			"error":  err,
		})
	}
}

func makeToken(idx int, gen uint32) uint64 {
	return uint64(idx)<<32 | uint64(gen)
}

func splitToken(token uint64) (int, uint32) {
	return int(token >> 32), uint32(token)
}
