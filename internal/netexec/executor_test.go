package netexec

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func okCached() (any, bool) { return nil, false }

func TestExecuteSuccessRecordsBreakerSuccess(t *testing.T) {
	e := New(Config{FailureThreshold: 3, RecoveryTimeout: 10 * time.Millisecond})
	calls := 0
	_, _, err := e.Execute(context.Background(), "hub.example", "k", func(ctx context.Context) (*http.Response, error) {
		calls++
		return &http.Response{StatusCode: 200, Header: http.Header{}}, nil
	}, okCached)
	require.NoError(t, err)
	require.Equal(t, 1, calls)
	require.Equal(t, StateClosed, e.breakers.get("hub.example").State())
}

func TestCircuitOpensAfterConsecutiveFailures(t *testing.T) {
	e := New(Config{FailureThreshold: 3, RecoveryTimeout: time.Minute})
	fail := func(ctx context.Context) (*http.Response, error) {
		return nil, errors.New("boom")
	}
	for i := 0; i < 3; i++ {
		_, _, err := e.Execute(context.Background(), "flaky.example", "k", fail, okCached)
		require.Error(t, err)
	}
	require.Equal(t, StateOpen, e.breakers.get("flaky.example").State())

	// Further calls are refused locally without invoking fetch.
	calls := 0
	_, _, err := e.Execute(context.Background(), "flaky.example", "k", func(ctx context.Context) (*http.Response, error) {
		calls++
		return nil, nil
	}, okCached)
	require.Error(t, err)
	require.Equal(t, 0, calls)
}

func TestRateLimitedDoesNotTripBreaker(t *testing.T) {
	e := New(Config{FailureThreshold: 1, RecoveryTimeout: time.Minute})
	resp := &http.Response{StatusCode: 429, Header: http.Header{"Retry-After": []string{"30"}}}
	_, _, err := e.Execute(context.Background(), "hub.example", "k", func(ctx context.Context) (*http.Response, error) {
		return resp, errors.New("429")
	}, okCached)
	require.Error(t, err)
	require.NotEqual(t, StateOpen, e.breakers.get("hub.example").State())
}

func TestCancelledNeverRecordsFailure(t *testing.T) {
	e := New(Config{FailureThreshold: 1, RecoveryTimeout: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := e.Execute(ctx, "hub.example", "k", func(ctx context.Context) (*http.Response, error) {
		return nil, ctx.Err()
	}, okCached)
	require.Error(t, err)
	require.NotEqual(t, StateOpen, e.breakers.get("hub.example").State())
}

func TestCachedFallbackOnFailure(t *testing.T) {
	e := New(Config{FailureThreshold: 1, RecoveryTimeout: time.Minute})
	cached := "stale-data"
	_, v, err := e.Execute(context.Background(), "hub.example", "k", func(ctx context.Context) (*http.Response, error) {
		return nil, errors.New("down")
	}, func() (any, bool) { return cached, true })
	require.NoError(t, err)
	require.Equal(t, cached, v)
}
