package relmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// FailureHook is called after every failed publish attempt, once the row's
// retry bookkeeping has been computed. It lets callers wire alerting or
// compensation without altering the relay state machine.
type FailureHook func(ctx context.Context, msg *OutboxMessage, err error)

// Relay is the outbox dispatcher: a background loop that claims due outbox
// rows from an OutboxSource and publishes them through a BrokerChannel.
//
// A crash between claim and commit leaves the row locked only while the
// claiming transaction is open; on rollback the row reverts to its pre-claim
// state and is retried on a later scan. This yields at-least-once delivery.
type Relay struct {
	source OutboxSource
	broker BrokerChannel
	cfg    RelayConfig
}

// NewRelay constructs a Relay with defaults and optional settings.
func NewRelay(source OutboxSource, broker BrokerChannel, opts ...RelayOption) *Relay {
	if source == nil {
		panic("relmq: nil OutboxSource")
	}
	if broker == nil {
		panic("relmq: nil BrokerChannel")
	}

	var cfg RelayConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	return &Relay{source: source, broker: broker, cfg: cfg}
}

// Run starts the polling loop with the configured number of workers and
// blocks until the context is canceled or a worker panics.
func (r *Relay) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, r.cfg.Workers)
	var wg sync.WaitGroup

	for i := 0; i < r.cfg.Workers; i++ {
		wg.Add(1)
		workerID := i
		go func() {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					err := fmt.Errorf("%w: %v", ErrRelayWorkerPanic, rec)
					r.cfg.Logger.Error("outbox relay worker panic", "worker", workerID, "panic", rec)
					errCh <- err
					cancel()
				}
			}()

			if err := r.runWorker(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.cfg.Logger.Error("outbox relay worker error", "worker", workerID, "err", err)
				errCh <- err
				cancel()
			}
		}()
	}

	wg.Wait()
	close(errCh)

	if err := <-errCh; err != nil {
		return err
	}
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

// ProcessOnce claims and resolves a single outbox row. It reports whether a
// row was processed.
func (r *Relay) ProcessOnce(ctx context.Context) (bool, error) {
	claim, err := r.source.Claim(ctx)
	if err != nil {
		if errors.Is(err, ErrNoOutboxWork) {
			return false, nil
		}

		return false, err
	}

	if err := r.resolveClaim(ctx, claim); err != nil {
		return false, err
	}

	return true, nil
}

func (r *Relay) runWorker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		claim, err := r.source.Claim(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !errors.Is(err, ErrNoOutboxWork) {
				// Infrastructure errors keep the polling cadence.
				r.cfg.Logger.Warn("outbox claim failed", "err", err)
			}
			if sleepErr := r.sleep(ctx, r.cfg.ScanInterval); sleepErr != nil {
				return sleepErr
			}

			continue
		}

		// Work was found: resolve it and loop immediately to drain the
		// backlog before sleeping again.
		if err := r.resolveClaim(ctx, claim); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.cfg.Logger.Warn("outbox resolve failed", "err", err)
			if sleepErr := r.sleep(ctx, r.cfg.ScanInterval); sleepErr != nil {
				return sleepErr
			}
		}
	}
}

func (r *Relay) resolveClaim(ctx context.Context, claim OutboxClaim) error {
	msg := claim.Message()
	if msg == nil {
		rollbackErr := claim.Release()

		return errors.Join(errors.New("relmq: claim has no message"), rollbackErr)
	}

	if msg.RetryCount > 0 {
		if err := r.sleep(ctx, r.cfg.Backoff(msg.RetryCount)); err != nil {
			rollbackErr := claim.Release()

			return errors.Join(err, rollbackErr)
		}
	}

	header, err := DecodeHeader(msg.Properties)
	if err != nil {
		header = &MessageHeader{ID: msg.MessageID, Exchange: msg.Exchange, RoutingKey: msg.RoutingKey}
	}

	finish := r.cfg.Telemetry.PublishStart(msg.Exchange, msg.RoutingKey, msg.MessageID)
	publishErr := r.broker.Publish(ctx, msg.Exchange, msg.RoutingKey, msg.Body, header)
	finish(publishErr)

	if publishErr == nil {
		if err := claim.Succeed(ctx); err != nil {
			return fmt.Errorf("relmq: outbox succeed failed: %w", err)
		}
		r.cfg.Metrics.AddPublished(1)
		r.cfg.Logger.Debug("outbox row published", "message_id", msg.MessageID, "exchange", msg.Exchange, "routing_key", msg.RoutingKey)

		return nil
	}

	r.cfg.Metrics.AddPublishFailures(1)
	retryCount := msg.RetryCount + 1
	nextRetry := r.cfg.Clock.Now().Add(r.cfg.Backoff(retryCount))

	if retryCount >= r.cfg.MaxRetry {
		r.cfg.Metrics.AddPermanentFailures(1)
		r.cfg.Logger.Error("outbox row failed permanently",
			"message_id", msg.MessageID,
			"retry_count", retryCount,
			"err", publishErr)
	} else {
		r.cfg.Logger.Warn("outbox publish failed",
			"message_id", msg.MessageID,
			"retry_count", retryCount,
			"err", publishErr)
	}

	if err := claim.Fail(ctx, publishErr, nextRetry); err != nil {
		return fmt.Errorf("relmq: outbox fail update failed: %w", err)
	}
	if r.cfg.FailureHook != nil {
		r.cfg.FailureHook(ctx, msg, publishErr)
	}

	return nil
}

func (r *Relay) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
