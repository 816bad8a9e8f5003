package relmq

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClaim struct {
	msg       *OutboxMessage
	succeeded bool
	failed    bool
	released  bool
	failCause error
	nextRetry time.Time

	succeedErr error
	failErr    error
}

func (c *fakeClaim) Message() *OutboxMessage { return c.msg }

func (c *fakeClaim) Succeed(context.Context) error {
	c.succeeded = true

	return c.succeedErr
}

func (c *fakeClaim) Fail(_ context.Context, cause error, nextRetry time.Time) error {
	c.failed = true
	c.failCause = cause
	c.nextRetry = nextRetry

	return c.failErr
}

func (c *fakeClaim) Release() error {
	c.released = true

	return nil
}

type fakeSource struct {
	mu     sync.Mutex
	claims []*fakeClaim
	err    error
}

func (s *fakeSource) Claim(context.Context) (OutboxClaim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}
	if len(s.claims) == 0 {
		return nil, ErrNoOutboxWork
	}
	claim := s.claims[0]
	s.claims = s.claims[1:]

	return claim, nil
}

type publishCall struct {
	exchange   string
	routingKey string
	body       []byte
	header     *MessageHeader
}

type fakeBroker struct {
	mu       sync.Mutex
	calls    []publishCall
	errs     []error
	declared []string
}

func (b *fakeBroker) Publish(_ context.Context, exchange, routingKey string, body []byte, header *MessageHeader) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.calls = append(b.calls, publishCall{exchange: exchange, routingKey: routingKey, body: body, header: header})
	if len(b.errs) > 0 {
		err := b.errs[0]
		b.errs = b.errs[1:]

		return err
	}

	return nil
}

func (b *fakeBroker) Subscribe(context.Context, string, int) (<-chan Delivery, error) {
	return nil, errors.New("not implemented")
}

func (b *fakeBroker) DeclareQueue(_ context.Context, queue string, _ time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.declared = append(b.declared, "queue:"+queue)

	return nil
}

func (b *fakeBroker) DeclareExchange(_ context.Context, exchange, kind string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.declared = append(b.declared, "exchange:"+exchange+":"+kind)

	return nil
}

func (b *fakeBroker) BindQueue(_ context.Context, queue, exchange, routingKey string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.declared = append(b.declared, "bind:"+queue+":"+exchange+":"+routingKey)

	return nil
}

func (b *fakeBroker) publishCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.calls)
}

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

func outboxRow(id string, retryCount int) *OutboxMessage {
	header := &MessageHeader{ID: id, ContentType: ContentTypeJSON}
	props, _ := EncodeHeader(header)

	return &OutboxMessage{
		MessageID:  id,
		Exchange:   "orders",
		RoutingKey: "order.created",
		Body:       []byte(`{"n":1}`),
		Properties: props,
		RetryCount: retryCount,
	}
}

func zeroBackoff(int) time.Duration { return 0 }

func TestProcessOnceNoWork(t *testing.T) {
	relay := NewRelay(&fakeSource{}, &fakeBroker{})

	processed, err := relay.ProcessOnce(context.Background())
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if processed {
		t.Fatal("expected no work")
	}
}

func TestProcessOncePublishesAndSucceeds(t *testing.T) {
	claim := &fakeClaim{msg: outboxRow("m1", 0)}
	broker := &fakeBroker{}
	relay := NewRelay(&fakeSource{claims: []*fakeClaim{claim}}, broker, WithBackoff(zeroBackoff))

	processed, err := relay.ProcessOnce(context.Background())
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !processed {
		t.Fatal("expected work to be processed")
	}
	if !claim.succeeded {
		t.Fatal("expected claim to be marked succeeded")
	}
	if claim.failed || claim.released {
		t.Fatal("expected exactly one resolution")
	}
	if broker.publishCount() != 1 {
		t.Fatalf("publish count = %d, want 1", broker.publishCount())
	}
	call := broker.calls[0]
	if call.exchange != "orders" || call.routingKey != "order.created" {
		t.Fatalf("published to %s/%s", call.exchange, call.routingKey)
	}
	if call.header == nil || call.header.ID != "m1" {
		t.Fatalf("header not restored: %+v", call.header)
	}
}

func TestProcessOnceRecordsFailureWithBackoff(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	boom := errors.New("broker unreachable")
	claim := &fakeClaim{msg: outboxRow("m1", 0)}
	broker := &fakeBroker{errs: []error{boom}}
	relay := NewRelay(&fakeSource{claims: []*fakeClaim{claim}}, broker,
		WithRelayClock(fixedClock{now: now}),
	)

	if _, err := relay.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("process: %v", err)
	}
	if !claim.failed {
		t.Fatal("expected claim to be marked failed")
	}
	if claim.succeeded {
		t.Fatal("row must not succeed on publish error")
	}
	if !errors.Is(claim.failCause, boom) {
		t.Fatalf("fail cause = %v, want %v", claim.failCause, boom)
	}
	// First failure schedules the next attempt one DefaultBackoff(1) later.
	if want := now.Add(time.Second); !claim.nextRetry.Equal(want) {
		t.Fatalf("next retry = %v, want %v", claim.nextRetry, want)
	}
}

func TestProcessOnceFailThenSucceed(t *testing.T) {
	broker := &fakeBroker{errs: []error{
		errors.New("attempt 1"),
		errors.New("attempt 2"),
		errors.New("attempt 3"),
	}}
	source := &fakeSource{}
	for i := 0; i < 4; i++ {
		source.claims = append(source.claims, &fakeClaim{msg: outboxRow("m1", i)})
	}
	relay := NewRelay(source, broker, WithBackoff(zeroBackoff))

	for i := 0; i < 4; i++ {
		if _, err := relay.ProcessOnce(context.Background()); err != nil {
			t.Fatalf("process %d: %v", i, err)
		}
	}

	if broker.publishCount() != 4 {
		t.Fatalf("publish count = %d, want 4", broker.publishCount())
	}
	// Three failed claims, then the fourth succeeds.
	if got := broker.calls[3].header.ID; got != "m1" {
		t.Fatalf("final publish header id = %q", got)
	}
}

func TestProcessOncePermanentFailure(t *testing.T) {
	boom := errors.New("still down")
	metrics := &recordingMetrics{}
	claim := &fakeClaim{msg: outboxRow("m1", 4)}
	relay := NewRelay(&fakeSource{claims: []*fakeClaim{claim}}, &fakeBroker{errs: []error{boom}},
		WithBackoff(zeroBackoff),
		WithMaxRetry(5),
		WithRelayMetrics(metrics),
	)

	if _, err := relay.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("process: %v", err)
	}
	if !claim.failed {
		t.Fatal("expected claim marked failed")
	}
	if metrics.permanentFailures.Load() != 1 {
		t.Fatalf("permanent failures = %d, want 1", metrics.permanentFailures.Load())
	}
	if metrics.publishFailures.Load() != 1 {
		t.Fatalf("publish failures = %d, want 1", metrics.publishFailures.Load())
	}
}

func TestProcessOnceFailureHook(t *testing.T) {
	boom := errors.New("boom")
	var hookMsg *OutboxMessage
	var hookErr error
	claim := &fakeClaim{msg: outboxRow("m1", 0)}
	relay := NewRelay(&fakeSource{claims: []*fakeClaim{claim}}, &fakeBroker{errs: []error{boom}},
		WithBackoff(zeroBackoff),
		WithFailureHook(func(_ context.Context, msg *OutboxMessage, err error) {
			hookMsg = msg
			hookErr = err
		}),
	)

	if _, err := relay.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("process: %v", err)
	}
	if hookMsg == nil || hookMsg.MessageID != "m1" {
		t.Fatalf("hook message = %+v", hookMsg)
	}
	if !errors.Is(hookErr, boom) {
		t.Fatalf("hook error = %v", hookErr)
	}
}

func TestProcessOnceReleasesOnCanceledBackoffWait(t *testing.T) {
	claim := &fakeClaim{msg: outboxRow("m1", 2)}
	relay := NewRelay(&fakeSource{claims: []*fakeClaim{claim}}, &fakeBroker{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := relay.ProcessOnce(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !claim.released {
		t.Fatal("expected claim released when wait is interrupted")
	}
	if claim.succeeded || claim.failed {
		t.Fatal("claim must not resolve after cancellation")
	}
}

func TestRunDrainsBacklogBeforeSleeping(t *testing.T) {
	source := &fakeSource{}
	for i := 0; i < 5; i++ {
		source.claims = append(source.claims, &fakeClaim{msg: outboxRow("m", 0)})
	}
	broker := &fakeBroker{}
	relay := NewRelay(source, broker,
		WithBackoff(zeroBackoff),
		// Long idle interval: all five rows must publish well before one
		// scan interval elapses, proving the loop drains without sleeping.
		WithScanInterval(time.Hour),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for broker.publishCount() < 5 {
		select {
		case <-deadline:
			t.Fatalf("published %d of 5 before deadline", broker.publishCount())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestRunSurvivesResolveErrors(t *testing.T) {
	// A claim with no message is an infrastructure defect; the worker logs
	// it and keeps polling until the context ends.
	source := &fakeSource{claims: []*fakeClaim{{msg: nil}}}
	relay := NewRelay(source, &fakeBroker{}, WithScanInterval(time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := relay.Run(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("run: %v", err)
	}
}

type recordingMetrics struct {
	acked             atomic.Int64
	requeued          atomic.Int64
	deadLettered      atomic.Int64
	executeRetries    atomic.Int64
	published         atomic.Int64
	publishFailures   atomic.Int64
	permanentFailures atomic.Int64
}

func (m *recordingMetrics) ObserveConsume(string, time.Duration) {}

func (m *recordingMetrics) AddAcked(_ string, count int) {
	m.acked.Add(int64(count))
}

func (m *recordingMetrics) AddRequeued(_ string, count int) {
	m.requeued.Add(int64(count))
}

func (m *recordingMetrics) AddDeadLettered(_ string, count int) {
	m.deadLettered.Add(int64(count))
}

func (m *recordingMetrics) AddExecuteRetries(_ string, count int) {
	m.executeRetries.Add(int64(count))
}

func (m *recordingMetrics) AddPublished(count int) {
	m.published.Add(int64(count))
}

func (m *recordingMetrics) AddPublishFailures(count int) {
	m.publishFailures.Add(int64(count))
}

func (m *recordingMetrics) AddPermanentFailures(count int) {
	m.permanentFailures.Add(int64(count))
}
