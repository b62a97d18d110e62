// Package agent implements the per-domain crawl agent: a FIFO frontier of
// paths, robots.txt rule derivation, a non-blocking fetch state machine,
// line-oriented response handling and same-host link discovery.
//
// An Agent is driven from a single goroutine. It shares the global line set
// and the ignore list with every other agent, so callers must not run two
// agents concurrently.
package agent

import (
	"io"
	"net/netip"
	"time"

	"github.com/Drahflow/crawler/internal/bloom"
	"github.com/Drahflow/crawler/internal/logging"
	"github.com/Drahflow/crawler/internal/netpoll"
	"github.com/Drahflow/crawler/internal/rules"
)

const (
	robotsPath = "/robots.txt"
	bufferSize = 64 * 1024

	DefaultMaxURLLength      = 256
	DefaultMaxResponseBytes  = 2000000
	DefaultInactivityTimeout = 60 * time.Second
)

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateAwaitingResponse
	StateReading
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAwaitingResponse:
		return "awaiting-response"
	case StateReading:
		return "reading"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Conn is a non-blocking connection. Read and Write report
// netpoll.ErrWouldBlock instead of blocking; Read reports io.EOF on close.
type Conn interface {
	io.ReadWriteCloser
	Fd() int
}

// Transport dials connections and keeps their readiness registration in
// sync with what the agent wants to hear about next.
type Transport interface {
	Dial(addr netip.AddrPort) (Conn, error)
	Watch(c Conn, interest netpoll.Interest) error
	Rewatch(c Conn, interest netpoll.Interest) error
	Unwatch(c Conn) error
}

// Sink receives the persisted records of one domain.
type Sink interface {
	WriteRequestMarker(hostname, path string) error
	AppendLine(line []byte) error
	Close() error
}

type Options struct {
	// Lines is the crawl-wide set of lines already persisted.
	Lines *bloom.Set
	// Ignore rejects discovered paths by suffix. May be nil.
	Ignore   *rules.Suffix
	OpenSink func(hostname string) (Sink, error)
	Logger   *logging.Logger

	Cooldown          time.Duration
	MaxURLLength      int
	MaxResponseBytes  int64
	InactivityTimeout time.Duration

	Now func() time.Time
}

func (o *Options) defaults() {
	if o.MaxURLLength <= 0 {
		o.MaxURLLength = DefaultMaxURLLength
	}
	if o.MaxResponseBytes <= 0 {
		o.MaxResponseBytes = DefaultMaxResponseBytes
	}
	if o.InactivityTimeout <= 0 {
		o.InactivityTimeout = DefaultInactivityTimeout
	}
	if o.Lines == nil {
		o.Lines = bloom.New(0)
	}
	if o.Logger == nil {
		o.Logger = logging.Nop()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Stats are cumulative over the agent's lifetime.
type Stats struct {
	Fetches        int
	Failures       int
	Oversized      int
	TruncatedLines int
	RobotsRules    int
	Discovered     int
	Bytes          uint64
	NewBytes       uint64
}

// Throughput is the per-interval report; counters reset when it is taken.
type Throughput struct {
	Downloaded    uint64
	DownloadedNew uint64
	Remaining     uint64
	Frontier      int
	Current       string
}

type Agent struct {
	seed Seed
	opts Options
	addr netip.AddrPort

	frontier       []string
	robots         rules.Prefix
	robotsActive   bool
	robotsRelevant bool
	remaining      uint64
	urls           *bloom.Set

	state        State
	transport    Transport
	conn         Conn
	sink         Sink
	draining     bool
	err          error
	lastActivity time.Time

	in         []byte
	inPos      int
	inScan     int
	inFill     int
	truncating bool
	out        []byte
	outPos     int

	currentDownloaded int64
	reportDownloaded  uint64
	reportNew         uint64
	stats             Stats
}

// New creates an agent for a seed URL with the given fetch quota. The frontier
// starts as /robots.txt followed by the seed path, trimmed to the quota.
func New(seedURL string, fetches uint64, opts Options) (*Agent, error) {
	seed, err := ParseSeed(seedURL)
	if err != nil {
		return nil, err
	}
	opts.defaults()

	a := &Agent{
		seed:           seed,
		opts:           opts,
		robotsActive:   true,
		robotsRelevant: true,
		lastActivity:   opts.Now(),
	}
	a.frontier = append(a.frontier, robotsPath)
	if seed.Path != robotsPath {
		a.frontier = append(a.frontier, seed.Path)
	}
	a.setRemainingFetches(fetches)
	return a, nil
}

func (a *Agent) setRemainingFetches(n uint64) {
	for uint64(len(a.frontier)) > n {
		a.frontier = a.frontier[:len(a.frontier)-1]
	}
	a.remaining = n - uint64(len(a.frontier))
}

func (a *Agent) Hostname() string { return a.seed.Host }
func (a *Agent) DialHost() string { return a.seed.Name }
func (a *Agent) Port() uint16     { return a.seed.Port }
func (a *Agent) Addr() netip.AddrPort {
	return a.addr
}
func (a *Agent) State() State      { return a.state }
func (a *Agent) Done() bool        { return a.state == StateDone }
func (a *Agent) Err() error        { return a.err }
func (a *Agent) Remaining() uint64 { return a.remaining }
func (a *Agent) Stats() Stats      { return a.stats }
func (a *Agent) Draining() bool    { return a.draining }

func (a *Agent) Frontier() []string {
	return append([]string(nil), a.frontier...)
}

// RobotsRules returns the disallow prefixes derived so far.
func (a *Agent) RobotsRules() []string { return a.robots.Patterns() }

func (a *Agent) TakeReport() Throughput {
	t := Throughput{
		Downloaded:    a.reportDownloaded,
		DownloadedNew: a.reportNew,
		Remaining:     a.remaining,
		Frontier:      len(a.frontier),
	}
	if len(a.frontier) > 0 {
		t.Current = a.frontier[0]
	}
	a.reportDownloaded = 0
	a.reportNew = 0
	return t
}

func (a *Agent) fields(extra map[string]interface{}) map[string]interface{} {
	f := map[string]interface{}{"domain": a.seed.Host}
	for k, v := range extra {
		f[k] = v
	}
	return f
}

// fail records a fatal persistence error. The agent stops processing input;
// the owner is expected to abort the run.
func (a *Agent) fail(err error) {
	if a.err == nil {
		a.err = err
		a.opts.Logger.Error("output sink failed", a.fields(map[string]interface{}{"error": err}))
	}
}
