package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/casemark/lexext-cli/pkg/logging"
)

// CircuitState is the circuit breaker state.
type CircuitState string

const (
	CircuitClosed   CircuitState = "CLOSED"
	CircuitOpen     CircuitState = "OPEN"
	CircuitHalfOpen CircuitState = "HALF_OPEN"
)

// rateWindow is the span of the sliding request-rate window.
const rateWindow = time.Minute

// adaptiveSampleSize is how many recent response times feed the adaptive
// delay controller.
const adaptiveSampleSize = 10

// ewmaAlpha smooths the average response time statistic.
const ewmaAlpha = 0.1

// ThrottleOptions configures a ThrottledClient.
type ThrottleOptions struct {
	MaxConcurrent      int
	RequestsPerMinute  int
	RequestDelay       time.Duration
	TargetResponseTime time.Duration
	AdaptationRate     float64
	MinDelay           time.Duration
	MaxDelay           time.Duration
	FailureThreshold   int
	RecoveryTimeout    time.Duration
	HalfOpenRequests   int
	Logger             logging.Logger
}

func (o *ThrottleOptions) applyDefaults() {
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = 4
	}
	if o.RequestsPerMinute <= 0 {
		o.RequestsPerMinute = 60
	}
	if o.TargetResponseTime <= 0 {
		o.TargetResponseTime = 8 * time.Second
	}
	if o.AdaptationRate <= 0 {
		o.AdaptationRate = 0.1
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 5 * time.Second
	}
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = 5
	}
	if o.RecoveryTimeout <= 0 {
		o.RecoveryTimeout = 30 * time.Second
	}
	if o.HalfOpenRequests <= 0 {
		o.HalfOpenRequests = 2
	}
	if o.Logger == nil {
		o.Logger = logging.NewNopLogger()
	}
}

// ThrottleStats is a snapshot of the throttled client's counters.
type ThrottleStats struct {
	TotalRequests       int64        `json:"total_requests"`
	Successes           int64        `json:"successes"`
	Failures            int64        `json:"failures"`
	Rejections          int64        `json:"rejections"`
	Cancellations       int64        `json:"cancellations"`
	AvgResponseTimeMs   float64      `json:"avg_response_time_ms"`
	RequestsLastMinute  int          `json:"requests_last_minute"`
	QueueSize           int64        `json:"queue_size"`
	SemaphoreFree       int          `json:"semaphore_free"`
	CurrentDelayMs      int64        `json:"current_delay_ms"`
	CircuitState        CircuitState `json:"circuit_state"`
	CircuitTransitions  int64        `json:"circuit_transitions"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
}

// ThrottledClient wraps a Client with bounded concurrency, a sliding
// rate-limit window, an adaptive inter-request delay and a circuit breaker.
// It is the only client the extraction orchestrator talks to. All methods
// are safe for concurrent use.
type ThrottledClient struct {
	inner  Client
	logger logging.Logger

	mu sync.Mutex

	sem      *semaphore.Weighted
	semCap   int64
	inFlight int64

	rpm    int
	window []time.Time

	delay          time.Duration
	minDelay       time.Duration
	maxDelay       time.Duration
	targetResponse time.Duration
	adaptationRate float64
	samples        []time.Duration

	failureThreshold int
	recoveryTimeout  time.Duration
	halfOpenRequests int

	state               CircuitState
	consecutiveFailures int
	lastFailure         time.Time
	halfOpenStarted     int
	halfOpenSuccesses   int
	transitions         int64

	totalRequests int64
	successes     int64
	failures      int64
	rejections    int64
	cancellations int64
	avgResponseMs float64
	queued        int64

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewThrottledClient wraps inner with the given throttle settings.
func NewThrottledClient(inner Client, opts ThrottleOptions) *ThrottledClient {
	opts.applyDefaults()
	return &ThrottledClient{
		inner:            inner,
		logger:           opts.Logger,
		sem:              semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		semCap:           int64(opts.MaxConcurrent),
		rpm:              opts.RequestsPerMinute,
		delay:            clampDelay(opts.RequestDelay, opts.MinDelay, opts.MaxDelay),
		minDelay:         opts.MinDelay,
		maxDelay:         opts.MaxDelay,
		targetResponse:   opts.TargetResponseTime,
		adaptationRate:   opts.AdaptationRate,
		failureThreshold: opts.FailureThreshold,
		recoveryTimeout:  opts.RecoveryTimeout,
		halfOpenRequests: opts.HalfOpenRequests,
		state:            CircuitClosed,
		now:              time.Now,
		sleep:            sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func clampDelay(d, min, max time.Duration) time.Duration {
	if d < min {
		return min
	}
	if max > 0 && d > max {
		return max
	}
	return d
}

// GenerateChatCompletion applies the admission pipeline (circuit check,
// semaphore, rate window, delay) and forwards to the wrapped client.
func (t *ThrottledClient) GenerateChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if err := t.admitCircuit(); err != nil {
		return nil, err
	}

	// The semaphore in effect at acquire time must also be the one
	// released; UpdateLimits may swap it mid-flight.
	t.mu.Lock()
	sem := t.sem
	t.mu.Unlock()

	t.addQueued(1)
	err := sem.Acquire(ctx, 1)
	t.addQueued(-1)
	if err != nil {
		t.recordCancellation()
		return nil, ctxError(ctx)
	}
	defer sem.Release(1)

	t.mu.Lock()
	t.inFlight++
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.inFlight--
		t.mu.Unlock()
	}()

	if err := t.waitRateWindow(ctx); err != nil {
		t.recordCancellation()
		return nil, ctxError(ctx)
	}
	if err := t.sleep(ctx, t.currentDelay()); err != nil {
		t.recordCancellation()
		return nil, ctxError(ctx)
	}

	start := t.now()
	resp, callErr := t.inner.GenerateChatCompletion(ctx, req)
	elapsed := t.now().Sub(start)

	switch {
	case callErr == nil:
		t.recordSuccess(elapsed)
		return resp, nil
	case isCancellation(ctx, callErr):
		// Caller-initiated cancellation is neutral for the circuit and
		// the statistics.
		t.recordCancellation()
		return nil, callErr
	default:
		t.recordFailure()
		return nil, callErr
	}
}

func isCancellation(ctx context.Context, err error) bool {
	return errors.Is(err, context.Canceled) && errors.Is(ctx.Err(), context.Canceled)
}

// admitCircuit rejects immediately while the circuit is open. An open
// circuit moves to half-open after the recovery timeout, which admits a
// bounded number of trial requests.
func (t *ThrottledClient) admitCircuit() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == CircuitOpen {
		if t.now().Sub(t.lastFailure) >= t.recoveryTimeout {
			t.setStateLocked(CircuitHalfOpen)
			t.halfOpenStarted = 0
			t.halfOpenSuccesses = 0
		} else {
			t.rejections++
			return &LLMError{Code: ErrCircuitOpen, Message: "circuit breaker is open"}
		}
	}

	if t.state == CircuitHalfOpen {
		if t.halfOpenStarted >= t.halfOpenRequests {
			t.rejections++
			return &LLMError{Code: ErrCircuitOpen, Message: "circuit breaker is half-open and at trial capacity"}
		}
		t.halfOpenStarted++
	}
	return nil
}

// waitRateWindow blocks until the sliding window has room, then records the
// request in the window.
func (t *ThrottledClient) waitRateWindow(ctx context.Context) error {
	for {
		t.mu.Lock()
		now := t.now()
		t.pruneWindowLocked(now)
		if len(t.window) < t.rpm {
			t.window = append(t.window, now)
			t.mu.Unlock()
			return nil
		}
		wait := t.window[0].Add(rateWindow).Sub(now)
		t.mu.Unlock()

		if err := t.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (t *ThrottledClient) pruneWindowLocked(now time.Time) {
	cutoff := now.Add(-rateWindow)
	i := 0
	for i < len(t.window) && !t.window[i].After(cutoff) {
		i++
	}
	if i > 0 {
		t.window = append(t.window[:0], t.window[i:]...)
	}
}

func (t *ThrottledClient) currentDelay() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.delay
}

func (t *ThrottledClient) recordSuccess(elapsed time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.totalRequests++
	t.successes++
	t.consecutiveFailures = 0
	t.observeResponseLocked(elapsed)

	if t.state == CircuitHalfOpen {
		t.halfOpenSuccesses++
		if t.halfOpenSuccesses >= t.halfOpenRequests {
			t.setStateLocked(CircuitClosed)
			t.consecutiveFailures = 0
		}
	}
}

func (t *ThrottledClient) recordFailure() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.totalRequests++
	t.failures++
	t.consecutiveFailures++
	t.lastFailure = t.now()

	if t.state == CircuitHalfOpen {
		t.setStateLocked(CircuitOpen)
		return
	}
	if t.state == CircuitClosed && t.consecutiveFailures >= t.failureThreshold {
		t.setStateLocked(CircuitOpen)
	}
}

func (t *ThrottledClient) recordCancellation() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalRequests++
	t.cancellations++
	if t.state == CircuitHalfOpen && t.halfOpenStarted > 0 {
		// The trial slot was never exercised; return it.
		t.halfOpenStarted--
	}
}

func (t *ThrottledClient) setStateLocked(s CircuitState) {
	if t.state == s {
		return
	}
	t.logger.Info("circuit state change",
		logging.F("from", string(t.state)),
		logging.F("to", string(s)))
	t.state = s
	t.transitions++
}

// observeResponseLocked feeds the adaptive delay controller and the EWMA
// response-time statistic.
func (t *ThrottledClient) observeResponseLocked(elapsed time.Duration) {
	ms := float64(elapsed.Milliseconds())
	if t.avgResponseMs == 0 {
		t.avgResponseMs = ms
	} else {
		t.avgResponseMs = t.avgResponseMs*(1-ewmaAlpha) + ms*ewmaAlpha
	}

	t.samples = append(t.samples, elapsed)
	if len(t.samples) > adaptiveSampleSize {
		t.samples = t.samples[len(t.samples)-adaptiveSampleSize:]
	}

	var sum time.Duration
	for _, s := range t.samples {
		sum += s
	}
	avg := sum / time.Duration(len(t.samples))

	if avg > t.targetResponse {
		t.delay += time.Duration(float64(avg-t.targetResponse) * t.adaptationRate)
	} else {
		t.delay -= time.Duration(float64(t.targetResponse-avg) * t.adaptationRate / 2)
	}
	t.delay = clampDelay(t.delay, t.minDelay, t.maxDelay)
}

func (t *ThrottledClient) addQueued(d int64) {
	t.mu.Lock()
	t.queued += d
	t.mu.Unlock()
}

// UpdateLimits atomically reconfigures concurrency, rate and base delay.
// Nil arguments leave the current value in place. In-flight requests keep
// the semaphore they acquired.
func (t *ThrottledClient) UpdateLimits(maxConcurrent, requestsPerMinute *int, requestDelay *time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if maxConcurrent != nil {
		if *maxConcurrent <= 0 {
			return fmt.Errorf("max_concurrent must be positive, got %d", *maxConcurrent)
		}
		t.sem = semaphore.NewWeighted(int64(*maxConcurrent))
		t.semCap = int64(*maxConcurrent)
	}
	if requestsPerMinute != nil {
		if *requestsPerMinute <= 0 {
			return fmt.Errorf("requests_per_minute must be positive, got %d", *requestsPerMinute)
		}
		t.rpm = *requestsPerMinute
	}
	if requestDelay != nil {
		t.delay = clampDelay(*requestDelay, t.minDelay, t.maxDelay)
	}
	return nil
}

// Stats returns a snapshot of the throttle counters.
func (t *ThrottledClient) Stats() ThrottleStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pruneWindowLocked(t.now())
	free := int(t.semCap - t.inFlight)
	if free < 0 {
		free = 0
	}
	return ThrottleStats{
		TotalRequests:       t.totalRequests,
		Successes:           t.successes,
		Failures:            t.failures,
		Rejections:          t.rejections,
		Cancellations:       t.cancellations,
		AvgResponseTimeMs:   t.avgResponseMs,
		RequestsLastMinute:  len(t.window),
		QueueSize:           t.queued,
		SemaphoreFree:       free,
		CurrentDelayMs:      t.delay.Milliseconds(),
		CircuitState:        t.state,
		CircuitTransitions:  t.transitions,
		ConsecutiveFailures: t.consecutiveFailures,
	}
}

// State returns the current breaker state.
func (t *ThrottledClient) State() CircuitState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}
