// Package resolve runs hostname lookups in the background and hands the
// answers back through a non-blocking Poll, so the crawl loop never waits on
// DNS.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Result is a finished lookup. Exactly one of Addr / Err is meaningful.
type Result struct {
	Token uint64
	Host  string
	Addr  netip.Addr
	Err   error
}

type LookupFunc func(ctx context.Context, host string) (netip.Addr, error)

var ErrNoAddress = errors.New("no IPv4 address")

// SystemLookup resolves A records with the given resolver (nil means the
// default one). IP literals are returned as-is.
func SystemLookup(r *net.Resolver) LookupFunc {
	if r == nil {
		r = net.DefaultResolver
	}
	return func(ctx context.Context, host string) (netip.Addr, error) {
		if ip, err := netip.ParseAddr(host); err == nil {
			return ip, nil
		}
		addrs, err := r.LookupNetIP(ctx, "ip4", host)
		if err != nil {
			return netip.Addr{}, err
		}
		for _, a := range addrs {
			if a.Unmap().Is4() {
				return a.Unmap(), nil
			}
		}
		return netip.Addr{}, ErrNoAddress
	}
}

type Config struct {
	// MaxOutstanding caps lookups that are submitted but not yet polled.
	MaxOutstanding int
	// Rate limits submissions per second; zero means unlimited.
	Rate    float64
	Timeout time.Duration
	Lookup  LookupFunc
}

func (c *Config) defaults() {
	if c.MaxOutstanding <= 0 {
		c.MaxOutstanding = 32
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.Lookup == nil {
		c.Lookup = SystemLookup(nil)
	}
}

type Resolver struct {
	lookup  LookupFunc
	timeout time.Duration
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	results chan Result
	pending int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config) *Resolver {
	cfg.defaults()

	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Resolver{
		lookup:  cfg.Lookup,
		timeout: cfg.Timeout,
		sem:     semaphore.NewWeighted(int64(cfg.MaxOutstanding)),
		limiter: rate.NewLimiter(limit, cfg.MaxOutstanding),
		results: make(chan Result, cfg.MaxOutstanding),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Submit starts a lookup. It returns false, without starting anything, when
// the outstanding cap or the submission rate is exhausted; the caller simply
// tries again on a later loop iteration.
func (r *Resolver) Submit(host string, token uint64) bool {
	if r.ctx.Err() != nil {
		return false
	}
	if !r.sem.TryAcquire(1) {
		return false
	}
	if !r.limiter.Allow() {
		r.sem.Release(1)
		return false
	}

	r.pending++
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
		defer cancel()

		addr, err := r.lookup(ctx, host)
		if err != nil {
			err = fmt.Errorf("resolve %s: %w", host, err)
		}
		// results has room for every outstanding lookup, so this never blocks.
		r.results <- Result{Token: token, Host: host, Addr: addr, Err: err}
	}()
	return true
}

// Poll returns a finished lookup if one is ready. It never blocks.
func (r *Resolver) Poll() (Result, bool) {
	select {
	case res := <-r.results:
		r.pending--
		r.sem.Release(1)
		return res, true
	default:
		return Result{}, false
	}
}

// Pending counts submitted lookups that have not been polled yet.
func (r *Resolver) Pending() int { return r.pending }

// Close cancels in-flight lookups and waits for their goroutines. Results
// still buffered are discarded.
func (r *Resolver) Close() {
	r.cancel()
	r.wg.Wait()
}
