package llm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient scripts the wrapped client's behaviour for throttle tests.
type fakeClient struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

func (f *fakeClient) GenerateChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(ctx, req)
	}
	return &ChatResponse{Content: "ok"}, nil
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// testThrottle builds a throttled client with an injected clock. Sleeps
// advance the clock instead of blocking.
func testThrottle(inner Client, opts ThrottleOptions) (*ThrottledClient, *time.Time) {
	tc := NewThrottledClient(inner, opts)
	clock := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	tc.now = func() time.Time { return clock }
	tc.sleep = func(ctx context.Context, d time.Duration) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		clock = clock.Add(d)
		return nil
	}
	return tc, &clock
}

func TestCircuitOpensOnExactThreshold(t *testing.T) {
	inner := &fakeClient{fn: func(context.Context, ChatRequest) (*ChatResponse, error) {
		return nil, &LLMError{Code: ErrTimeout, Message: "request timeout"}
	}}
	tc, _ := testThrottle(inner, ThrottleOptions{FailureThreshold: 3})

	for i := 0; i < 2; i++ {
		_, err := tc.GenerateChatCompletion(context.Background(), ChatRequest{})
		require.Error(t, err)
		assert.Equal(t, CircuitClosed, tc.State(), "circuit stays closed before the threshold")
	}

	_, err := tc.GenerateChatCompletion(context.Background(), ChatRequest{})
	require.Error(t, err)
	assert.Equal(t, CircuitOpen, tc.State(), "third consecutive failure opens the circuit")

	// The fourth call is rejected without reaching the wrapped client.
	_, err = tc.GenerateChatCompletion(context.Background(), ChatRequest{})
	require.Error(t, err)
	assert.Equal(t, ErrCircuitOpen, CodeOf(err))
	assert.Equal(t, 3, inner.callCount())

	stats := tc.Stats()
	assert.Equal(t, int64(3), stats.Failures)
	assert.Equal(t, int64(1), stats.Rejections)
}

func TestCircuitRecoversThroughHalfOpen(t *testing.T) {
	fail := true
	inner := &fakeClient{fn: func(context.Context, ChatRequest) (*ChatResponse, error) {
		if fail {
			return nil, &LLMError{Code: ErrUnavailable, Message: "boom"}
		}
		return &ChatResponse{Content: "ok"}, nil
	}}
	tc, clock := testThrottle(inner, ThrottleOptions{
		FailureThreshold: 2,
		RecoveryTimeout:  30 * time.Second,
		HalfOpenRequests: 2,
	})

	for i := 0; i < 2; i++ {
		tc.GenerateChatCompletion(context.Background(), ChatRequest{})
	}
	require.Equal(t, CircuitOpen, tc.State())

	// Before the recovery timeout: still rejected.
	*clock = clock.Add(10 * time.Second)
	_, err := tc.GenerateChatCompletion(context.Background(), ChatRequest{})
	assert.Equal(t, ErrCircuitOpen, CodeOf(err))

	// After the recovery timeout the breaker admits trial requests.
	fail = false
	*clock = clock.Add(30 * time.Second)
	_, err = tc.GenerateChatCompletion(context.Background(), ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, CircuitHalfOpen, tc.State())

	_, err = tc.GenerateChatCompletion(context.Background(), ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, CircuitClosed, tc.State(), "required trial successes close the circuit")
}

func TestHalfOpenFailureReopens(t *testing.T) {
	inner := &fakeClient{fn: func(context.Context, ChatRequest) (*ChatResponse, error) {
		return nil, &LLMError{Code: ErrUnavailable, Message: "boom"}
	}}
	tc, clock := testThrottle(inner, ThrottleOptions{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Second,
		HalfOpenRequests: 2,
	})

	tc.GenerateChatCompletion(context.Background(), ChatRequest{})
	require.Equal(t, CircuitOpen, tc.State())

	*clock = clock.Add(2 * time.Second)
	tc.GenerateChatCompletion(context.Background(), ChatRequest{})
	assert.Equal(t, CircuitOpen, tc.State(), "any half-open failure reopens")
}

func TestRateWindowWaitsForOldestRequest(t *testing.T) {
	inner := &fakeClient{}
	tc, clock := testThrottle(inner, ThrottleOptions{RequestsPerMinute: 2})
	start := *clock

	for i := 0; i < 2; i++ {
		_, err := tc.GenerateChatCompletion(context.Background(), ChatRequest{})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, tc.Stats().RequestsLastMinute)

	// The third request must wait until the first falls out of the window.
	_, err := tc.GenerateChatCompletion(context.Background(), ChatRequest{})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, clock.Sub(start), time.Minute)
}

func TestAdaptiveDelayReactsToResponseTimes(t *testing.T) {
	slow := true
	var tc *ThrottledClient
	var clock *time.Time
	inner := &fakeClient{fn: func(context.Context, ChatRequest) (*ChatResponse, error) {
		if slow {
			*clock = clock.Add(500 * time.Millisecond)
		} else {
			*clock = clock.Add(10 * time.Millisecond)
		}
		return &ChatResponse{Content: "ok"}, nil
	}}
	tc, clock = testThrottle(inner, ThrottleOptions{
		RequestsPerMinute:  10_000,
		TargetResponseTime: 100 * time.Millisecond,
		AdaptationRate:     0.1,
		MaxDelay:           5 * time.Second,
	})

	for i := 0; i < 5; i++ {
		_, err := tc.GenerateChatCompletion(context.Background(), ChatRequest{})
		require.NoError(t, err)
	}
	raised := tc.Stats().CurrentDelayMs
	assert.Positive(t, raised, "delay grows when responses run over target")

	slow = false
	for i := 0; i < 20; i++ {
		_, err := tc.GenerateChatCompletion(context.Background(), ChatRequest{})
		require.NoError(t, err)
	}
	assert.Less(t, tc.Stats().CurrentDelayMs, raised, "delay shrinks when responses run under target")
}

func TestCancellationIsNeutral(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	inner := &fakeClient{fn: func(ctx context.Context, _ ChatRequest) (*ChatResponse, error) {
		cancel()
		return nil, ctx.Err()
	}}
	tc, _ := testThrottle(inner, ThrottleOptions{FailureThreshold: 1})

	_, err := tc.GenerateChatCompletion(ctx, ChatRequest{})
	require.Error(t, err)

	stats := tc.Stats()
	assert.Equal(t, CircuitClosed, tc.State(), "cancellation never trips the breaker")
	assert.Equal(t, int64(1), stats.Cancellations)
	assert.Equal(t, int64(0), stats.Failures)
	assert.Equal(t, 0, stats.ConsecutiveFailures)
}

func TestUpdateLimits(t *testing.T) {
	tc, _ := testThrottle(&fakeClient{}, ThrottleOptions{MaxConcurrent: 2, RequestsPerMinute: 10})

	mc, rpm, delay := 8, 120, 250*time.Millisecond
	require.NoError(t, tc.UpdateLimits(&mc, &rpm, &delay))

	stats := tc.Stats()
	assert.Equal(t, 8, stats.SemaphoreFree)
	assert.Equal(t, int64(250), stats.CurrentDelayMs)

	bad := 0
	assert.Error(t, tc.UpdateLimits(&bad, nil, nil))
}

func TestConcurrencyBound(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	inner := &fakeClient{fn: func(context.Context, ChatRequest) (*ChatResponse, error) {
		started <- struct{}{}
		<-release
		return &ChatResponse{Content: "ok"}, nil
	}}

	tc := NewThrottledClient(inner, ThrottleOptions{MaxConcurrent: 1, RequestsPerMinute: 1000, RequestDelay: 0})

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tc.GenerateChatCompletion(context.Background(), ChatRequest{})
		}()
	}

	<-started
	select {
	case <-started:
		t.Fatal("second request ran while the first held the only slot")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	wg.Wait()
	assert.Equal(t, 2, inner.callCount())
}
