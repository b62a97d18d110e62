package resolve

import (
	"context"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func drain(t *testing.T, r *Resolver, want int) []Result {
	t.Helper()
	var out []Result
	deadline := time.Now().Add(5 * time.Second)
	for len(out) < want && time.Now().Before(deadline) {
		if res, ok := r.Poll(); ok {
			out = append(out, res)
			continue
		}
		time.Sleep(time.Millisecond)
	}
	require.Len(t, out, want)
	return out
}

func TestSubmitAndPoll(t *testing.T) {
	r := New(Config{
		MaxOutstanding: 4,
		Lookup: func(ctx context.Context, host string) (netip.Addr, error) {
			if host == "bad.example" {
				return netip.Addr{}, errors.New("nxdomain")
			}
			return netip.MustParseAddr("192.0.2.1"), nil
		},
	})
	defer r.Close()

	_, ok := r.Poll()
	assert.False(t, ok)

	require.True(t, r.Submit("good.example", 1))
	require.True(t, r.Submit("bad.example", 2))
	assert.Equal(t, 2, r.Pending())

	byToken := map[uint64]Result{}
	for _, res := range drain(t, r, 2) {
		byToken[res.Token] = res
	}
	assert.Equal(t, 0, r.Pending())

	assert.NoError(t, byToken[1].Err)
	assert.Equal(t, netip.MustParseAddr("192.0.2.1"), byToken[1].Addr)
	assert.Equal(t, "good.example", byToken[1].Host)

	require.Error(t, byToken[2].Err)
	assert.Contains(t, byToken[2].Err.Error(), "bad.example")
}

func TestOutstandingCap(t *testing.T) {
	release := make(chan struct{})
	r := New(Config{
		MaxOutstanding: 2,
		Lookup: func(ctx context.Context, host string) (netip.Addr, error) {
			select {
			case <-release:
			case <-ctx.Done():
				return netip.Addr{}, ctx.Err()
			}
			return netip.MustParseAddr("192.0.2.2"), nil
		},
	})
	defer r.Close()

	assert.True(t, r.Submit("a", 1))
	assert.True(t, r.Submit("b", 2))
	assert.False(t, r.Submit("c", 3), "third lookup exceeds the cap")

	close(release)
	drain(t, r, 2)

	assert.True(t, r.Submit("c", 3), "polling frees capacity")
	drain(t, r, 1)
}

func TestRateLimit(t *testing.T) {
	r := New(Config{
		MaxOutstanding: 1,
		Rate:           0.001,
		Lookup: func(ctx context.Context, host string) (netip.Addr, error) {
			return netip.MustParseAddr("192.0.2.3"), nil
		},
	})
	defer r.Close()

	require.True(t, r.Submit("a", 1))
	drain(t, r, 1)
	assert.False(t, r.Submit("b", 2), "burst of one is spent")
	assert.Equal(t, 0, r.Pending())
}

func TestCloseCancelsLookups(t *testing.T) {
	r := New(Config{
		MaxOutstanding: 1,
		Timeout:        time.Hour,
		Lookup: func(ctx context.Context, host string) (netip.Addr, error) {
			<-ctx.Done()
			return netip.Addr{}, ctx.Err()
		},
	})
	require.True(t, r.Submit("slow", 1))
	r.Close()
	assert.False(t, r.Submit("after-close", 2))
}

func TestSystemLookupLiteral(t *testing.T) {
	lookup := SystemLookup(nil)
	addr, err := lookup(context.Background(), "127.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("127.0.0.1"), addr)
}
