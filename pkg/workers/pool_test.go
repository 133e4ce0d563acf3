package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lexerrors "github.com/casemark/lexext-cli/pkg/errors"
	"github.com/casemark/lexext-cli/pkg/queues"
)

// memQueue is an in-memory Queue for worker tests.
type memQueue struct {
	mu         sync.Mutex
	pending    []*queues.QueuedMessage
	acked      []string
	nacked     []string
	deadLetter map[string]string
}

func newMemQueue() *memQueue {
	return &memQueue{deadLetter: make(map[string]string)}
}

func (q *memQueue) push(id string, msg queues.Message) {
	raw, _ := json.Marshal(msg)
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, &queues.QueuedMessage{
		ID:          id,
		Message:     raw,
		MessageType: msg.GetMessageType(),
		Priority:    msg.GetPriority(),
		EnqueuedAt:  time.Now(),
	})
}

func (q *memQueue) pushRaw(id string, messageType queues.MessageType, raw []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, &queues.QueuedMessage{ID: id, Message: raw, MessageType: messageType})
}

func (q *memQueue) Name() string                         { return "test" }
func (q *memQueue) Enqueue(msg queues.Message) error     { q.push(fmt.Sprintf("m%d", time.Now().UnixNano()), msg); return nil }
func (q *memQueue) EnqueueBatch(msgs []queues.Message) error {
	for _, m := range msgs {
		q.Enqueue(m)
	}
	return nil
}

func (q *memQueue) Dequeue(max int, timeout time.Duration) ([]*queues.QueuedMessage, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, nil
	}
	if max > len(q.pending) {
		max = len(q.pending)
	}
	out := q.pending[:max]
	q.pending = q.pending[max:]
	return out, nil
}

func (q *memQueue) Ack(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked = append(q.acked, id)
	return nil
}

func (q *memQueue) Nack(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nacked = append(q.nacked, id)
	return nil
}

func (q *memQueue) MoveToDeadLetter(id, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.deadLetter[id] = reason
	return nil
}

func (q *memQueue) Depth() (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.pending)), nil
}

func (q *memQueue) Close() error { return nil }

func (q *memQueue) snapshot() (acked, nacked []string, dlq map[string]string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	acked = append([]string(nil), q.acked...)
	nacked = append([]string(nil), q.nacked...)
	dlq = make(map[string]string, len(q.deadLetter))
	for k, v := range q.deadLetter {
		dlq[k] = v
	}
	return acked, nacked, dlq
}

func testConfig() WorkerConfig {
	cfg := DefaultWorkerConfig()
	cfg.Count = 2
	cfg.PollInterval = 10 * time.Millisecond
	cfg.ShutdownTimeout = time.Second
	cfg.RecoveryInterval = 0
	return cfg
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func TestPoolProcessesAndAcks(t *testing.T) {
	q := newMemQueue()
	for i := 0; i < 5; i++ {
		q.push(fmt.Sprintf("m%d", i), &queues.ExtractionMessage{DocumentID: fmt.Sprintf("doc-%d", i)})
	}

	var mu sync.Mutex
	var handled []string
	pool := NewPool(testConfig(), q, func(ctx context.Context, msg queues.Message) error {
		mu.Lock()
		handled = append(handled, msg.GetDocumentID())
		mu.Unlock()
		return nil
	}, nil)

	pool.Start()
	defer pool.Stop()

	waitFor(t, func() bool {
		acked, _, _ := q.snapshot()
		return len(acked) == 5
	})

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, handled, 5)

	stats := pool.Stats()
	assert.Equal(t, int64(5), stats.Processed)
	assert.Equal(t, int64(0), stats.Failed)
	assert.Equal(t, 2, stats.WorkerCount)
}

func TestPoolRetryableFailureNacks(t *testing.T) {
	q := newMemQueue()
	q.push("m1", &queues.ExtractionMessage{DocumentID: "doc-1"})

	pool := NewPool(testConfig(), q, func(ctx context.Context, msg queues.Message) error {
		return lexerrors.NewTransientError(lexerrors.ErrorCodeServiceUnavailable, "llm down", nil)
	}, nil)

	pool.Start()
	defer pool.Stop()

	waitFor(t, func() bool {
		_, nacked, _ := q.snapshot()
		return len(nacked) == 1
	})

	_, nacked, dlq := q.snapshot()
	assert.Equal(t, []string{"m1"}, nacked)
	assert.Empty(t, dlq)
}

func TestPoolPermanentFailureDeadLetters(t *testing.T) {
	q := newMemQueue()
	q.push("m1", &queues.ExtractionMessage{DocumentID: "doc-1"})

	pool := NewPool(testConfig(), q, func(ctx context.Context, msg queues.Message) error {
		return lexerrors.NewPermanentError(lexerrors.ErrorCodeInvalidInput, "binary document", nil)
	}, nil)

	pool.Start()
	defer pool.Stop()

	waitFor(t, func() bool {
		_, _, dlq := q.snapshot()
		return len(dlq) == 1
	})

	acked, nacked, dlq := q.snapshot()
	assert.Empty(t, acked)
	assert.Empty(t, nacked)
	assert.Contains(t, dlq["m1"], "binary document")
}

func TestPoolUnparseableMessageDeadLetters(t *testing.T) {
	q := newMemQueue()
	q.pushRaw("bad", "nonsense", []byte(`{}`))

	pool := NewPool(testConfig(), q, func(ctx context.Context, msg queues.Message) error {
		t.Fatal("handler must not run for an unparseable message")
		return nil
	}, nil)

	pool.Start()
	defer pool.Stop()

	waitFor(t, func() bool {
		_, _, dlq := q.snapshot()
		return len(dlq) == 1
	})

	_, _, dlq := q.snapshot()
	assert.Contains(t, dlq["bad"], "parse error")
}

func TestWorkerStopDrains(t *testing.T) {
	q := newMemQueue()
	q.push("m1", &queues.ExtractionMessage{DocumentID: "doc-1"})

	started := make(chan struct{})
	w := NewWorker(testConfig(), q, func(ctx context.Context, msg queues.Message) error {
		close(started)
		time.Sleep(50 * time.Millisecond)
		return nil
	}, nil)

	w.Start()
	<-started
	w.Stop()

	require.Equal(t, WorkerStatusStopped, w.Status)
	acked, _, _ := q.snapshot()
	assert.Equal(t, []string{"m1"}, acked, "in-flight message completed before shutdown")
}
