package relmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// FaultHandler receives fatal per-message errors: Exception dispositions and
// idempotency contract violations. It must not block.
type FaultHandler func(queue string, header *MessageHeader, err error)

// Dispatcher binds queues, applies QoS, and runs every delivery through the
// queue's retry schedule and circuit breaker before applying exactly one
// terminal disposition.
//
// Subscriptions are dynamic: Start registers a queue and Stop cancels it.
// Up to ConsumerOptions.Qos messages run concurrently per queue; ordering
// across messages within one queue is not guaranteed once Qos > 1.
type Dispatcher struct {
	broker BrokerChannel
	cfg    DispatcherConfig

	mu     sync.Mutex
	subs   map[string]*subscription
	closed bool
}

type subscription struct {
	opts   ConsumerOptions
	cancel context.CancelFunc
	done   chan struct{}
}

// NewDispatcher constructs a dispatcher with defaults and optional settings.
func NewDispatcher(broker BrokerChannel, opts ...DispatcherOption) *Dispatcher {
	if broker == nil {
		panic("relmq: nil BrokerChannel")
	}

	var cfg DispatcherConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	return &Dispatcher{
		broker: broker,
		cfg:    cfg,
		subs:   make(map[string]*subscription),
	}
}

// Start declares the queue's topology when configured, registers the
// subscription, and launches its consume loop. Registering the same queue
// twice fails with ErrDuplicateQueue.
func (d *Dispatcher) Start(ctx context.Context, options ConsumerOptions, handler MessageHandler) error {
	if handler == nil {
		return ErrHandlerRequired
	}
	if err := options.validate(); err != nil {
		return err
	}
	options = options.withDefaults()
	handler = withDefaultFallback(handler, options)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()

		return ErrDispatcherClosed
	}
	if _, ok := d.subs[options.Queue]; ok {
		d.mu.Unlock()

		return fmt.Errorf("%w: %s", ErrDuplicateQueue, options.Queue)
	}
	sub := &subscription{opts: options, done: make(chan struct{})}
	d.subs[options.Queue] = sub
	d.mu.Unlock()

	if err := d.declareTopology(ctx, options); err != nil {
		d.forget(options.Queue)

		return err
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub.cancel = cancel

	deliveries, err := d.broker.Subscribe(subCtx, options.Queue, options.Qos)
	if err != nil {
		cancel()
		d.forget(options.Queue)

		return err
	}

	go d.consumeLoop(subCtx, sub, handler, deliveries)
	d.cfg.Logger.Info("consumer started", "queue", options.Queue, "qos", options.Qos)

	return nil
}

// Stop cancels one queue's subscription and waits for in-flight messages.
func (d *Dispatcher) Stop(queue string) error {
	d.mu.Lock()
	sub, ok := d.subs[queue]
	if ok {
		delete(d.subs, queue)
	}
	d.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownQueue, queue)
	}

	sub.cancel()
	<-sub.done
	d.cfg.Logger.Info("consumer stopped", "queue", queue)

	return nil
}

// Close stops all subscriptions and rejects further registrations.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	subs := make([]*subscription, 0, len(d.subs))
	for queue, sub := range d.subs {
		delete(d.subs, queue)
		subs = append(subs, sub)
	}
	d.mu.Unlock()

	for _, sub := range subs {
		sub.cancel()
		<-sub.done
	}
}

func (d *Dispatcher) declareTopology(ctx context.Context, options ConsumerOptions) error {
	if err := d.broker.DeclareQueue(ctx, options.Queue, options.Expiration); err != nil {
		return fmt.Errorf("relmq: declare queue %s: %w", options.Queue, err)
	}
	if options.BindExchange == "" {
		return nil
	}
	if err := d.broker.DeclareExchange(ctx, options.BindExchange, options.ExchangeType); err != nil {
		return fmt.Errorf("relmq: declare exchange %s: %w", options.BindExchange, err)
	}
	if err := d.broker.BindQueue(ctx, options.Queue, options.BindExchange, options.RoutingKey); err != nil {
		return fmt.Errorf("relmq: bind %s to %s: %w", options.Queue, options.BindExchange, err)
	}

	return nil
}

func (d *Dispatcher) forget(queue string) {
	d.mu.Lock()
	if sub, ok := d.subs[queue]; ok {
		close(sub.done)
		delete(d.subs, queue)
	}
	d.mu.Unlock()
}

func (d *Dispatcher) consumeLoop(ctx context.Context, sub *subscription, handler MessageHandler, deliveries <-chan Delivery) {
	// On exit, release the queue registration so the queue can be started
	// again after an external context cancellation, not only after Stop.
	defer func() {
		d.mu.Lock()
		if cur, ok := d.subs[sub.opts.Queue]; ok && cur == sub {
			delete(d.subs, sub.opts.Queue)
		}
		d.mu.Unlock()
		close(sub.done)
	}()

	var breaker *gobreaker.CircuitBreaker
	if d.cfg.Breakers != nil {
		breaker = d.cfg.Breakers.Get(sub.opts.Queue)
	}

	sem := make(chan struct{}, sub.opts.Qos)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		// An open breaker pauses consumption for the queue instead of
		// burning redeliveries against a broken dependency.
		if breaker != nil {
			if err := d.waitBreakerReady(ctx, breaker); err != nil {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case delivery, ok := <-deliveries:
			if !ok {
				d.cfg.Logger.Warn("delivery stream closed", "queue", sub.opts.Queue)

				return
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				d.handleDelivery(ctx, sub.opts, handler, breaker, delivery)
			}()
		}
	}
}

func (d *Dispatcher) waitBreakerReady(ctx context.Context, breaker *gobreaker.CircuitBreaker) error {
	for breaker.State() == gobreaker.StateOpen {
		timer := time.NewTimer(d.cfg.BreakerPoll)
		select {
		case <-ctx.Done():
			timer.Stop()

			return ctx.Err()
		case <-timer.C:
		}
	}

	return nil
}

func (d *Dispatcher) handleDelivery(ctx context.Context, options ConsumerOptions, handler MessageHandler, breaker *gobreaker.CircuitBreaker, delivery Delivery) {
	start := d.cfg.Clock.Now()
	header := delivery.Header
	if header == nil {
		header = &MessageHeader{}
	}
	finish := d.cfg.Telemetry.ConsumeStart(options.Queue, header)

	msg, decodeErr := d.decode(handler, header, delivery.Body)

	lastErr := d.executeWithRetry(ctx, options, handler, breaker, header, msg, decodeErr)
	if ctx.Err() != nil && lastErr != nil {
		// Shutdown mid-message: issue no acknowledgment and rely on
		// broker redelivery-on-disconnect.
		finish(Exception, ctx.Err())

		return
	}

	state := Ack
	if lastErr != nil {
		if decodeErr != nil {
			msg = nil
		}
		state = handler.Fallback(ctx, header, msg, lastErr)
		d.cfg.Telemetry.FallbackInvoked(options.Queue, header.ID, state)
	}

	d.applyState(ctx, options, delivery, header, state, lastErr)
	finish(state, lastErr)
	d.cfg.Metrics.ObserveConsume(options.Queue, d.cfg.Clock.Now().Sub(start))
}

func (d *Dispatcher) decode(handler MessageHandler, header *MessageHeader, body []byte) (any, error) {
	target := handler.NewMessage()
	if target == nil {
		// Handler consumes raw bytes.
		return body, nil
	}

	codec, err := d.cfg.Codecs.Lookup(header.ContentType)
	if err != nil {
		return nil, err
	}
	if err := codec.Decode(body, target); err != nil {
		return nil, fmt.Errorf("relmq: decode %s: %w", header.ContentType, err)
	}

	return target, nil
}

// executeWithRetry runs the handler under the queue's retry schedule. A
// decode failure is itself an execution failure and flows through the same
// machinery. The returned error is nil on success and the last failure
// otherwise.
func (d *Dispatcher) executeWithRetry(ctx context.Context, options ConsumerOptions, handler MessageHandler, breaker *gobreaker.CircuitBreaker, header *MessageHeader, msg any, decodeErr error) error {
	schedule, err := d.cfg.Retry.Create(ctx, options.Queue, header.ID)
	if err != nil {
		d.cfg.Logger.Warn("retry schedule unavailable, single attempt", "queue", options.Queue, "err", err)
		schedule = expSchedule{attempts: 1, base: defaultBaseDelay}
	}

	execOnce := func() error {
		if decodeErr != nil {
			return decodeErr
		}

		return handler.Execute(ctx, header, msg)
	}

	attempts := schedule.Attempts()
	if attempts <= 0 {
		return ErrRetryExhausted
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := d.sleep(ctx, schedule.Delay(attempt-1)); err != nil {
				return err
			}
		}

		var execErr error
		if breaker != nil {
			_, execErr = breaker.Execute(func() (any, error) {
				return nil, execOnce()
			})
			if errors.Is(execErr, gobreaker.ErrOpenState) || errors.Is(execErr, gobreaker.ErrTooManyRequests) {
				// The breaker refused the call: resolve the message
				// through the fallback now.
				return execErr
			}
		} else {
			execErr = execOnce()
		}

		if execErr == nil {
			return nil
		}
		lastErr = execErr

		d.cfg.Metrics.AddExecuteRetries(options.Queue, 1)
		d.cfg.Telemetry.RetryAttempt(options.Queue, header.ID, attempt, execErr)
		handler.OnAttemptFailed(ctx, execErr, attempt)
		if recorder, ok := schedule.(FailureRecorder); ok {
			if err := recorder.RecordFailure(ctx); err != nil {
				d.cfg.Logger.Warn("attempt store update failed", "queue", options.Queue, "err", err)
			}
		}
	}

	return lastErr
}

// applyState issues exactly one acknowledgment action per delivery tag,
// except for Exception which issues none.
func (d *Dispatcher) applyState(ctx context.Context, options ConsumerOptions, delivery Delivery, header *MessageHeader, state ConsumerState, lastErr error) {
	var ackErr error
	switch state {
	case Ack:
		ackErr = delivery.Acker.Ack(delivery.Tag)
		d.cfg.Metrics.AddAcked(options.Queue, 1)
	case Nack:
		ackErr = delivery.Acker.Nack(delivery.Tag, false)
	case NackAndRequeue:
		ackErr = delivery.Acker.Nack(delivery.Tag, true)
		d.cfg.Metrics.AddRequeued(options.Queue, 1)
	case NackAndNoRequeue:
		if options.DeadExchange != "" || options.DeadRoutingKey != "" {
			d.republishDead(ctx, options, header, delivery.Body)
			d.cfg.Metrics.AddDeadLettered(options.Queue, 1)
		}
		ackErr = delivery.Acker.Nack(delivery.Tag, false)
	case Exception:
		err := lastErr
		if err == nil {
			err = errors.New("relmq: handler returned Exception")
		}
		d.cfg.Logger.Error("fatal consumer state", "queue", options.Queue, "message_id", header.ID, "err", err)
		d.cfg.FaultHandler(options.Queue, header, err)

		return
	}

	if ackErr != nil {
		d.cfg.Logger.Error("acknowledgment failed",
			"queue", options.Queue,
			"message_id", header.ID,
			"state", state.String(),
			"err", ackErr)
	}
}

// republishDead sends the original body and header to the configured
// dead-letter target, on top of any broker-level DLX policy.
func (d *Dispatcher) republishDead(ctx context.Context, options ConsumerOptions, header *MessageHeader, body []byte) {
	finish := d.cfg.Telemetry.PublishStart(options.DeadExchange, options.DeadRoutingKey, header.ID)
	err := d.broker.Publish(ctx, options.DeadExchange, options.DeadRoutingKey, body, header)
	finish(err)
	if err != nil {
		d.cfg.Logger.Error("dead-letter republish failed",
			"queue", options.Queue,
			"message_id", header.ID,
			"dead_exchange", options.DeadExchange,
			"err", err)
	}
}

func (d *Dispatcher) sleep(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func withDefaultFallback(handler MessageHandler, options ConsumerOptions) MessageHandler {
	funcs, ok := handler.(*HandlerFuncs)
	if !ok || funcs.FallbackFunc != nil {
		return handler
	}

	clone := *funcs
	if clone.ExhaustedState == Ack {
		clone.ExhaustedState = options.exhaustedState()
	}

	return &clone
}
