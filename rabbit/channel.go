package rabbit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/relmq/relmq"
)

var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("rabbit: client is closed")
	// ErrURLRequired is returned when Dial is called with an empty URL.
	ErrURLRequired = errors.New("rabbit: broker url is required")
)

// Client is a pooled RabbitMQ connection implementing relmq.BrokerChannel.
type Client struct {
	url string
	cfg Config

	mu     sync.Mutex
	conn   *amqp.Connection
	pool   chan *amqp.Channel
	closed bool
}

var _ relmq.BrokerChannel = (*Client)(nil)

// Dial connects to the broker and prepares the channel pool.
func Dial(url string, opts ...Option) (*Client, error) {
	if url == "" {
		return nil, ErrURLRequired
	}

	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	c := &Client{
		url:  url,
		cfg:  cfg,
		pool: make(chan *amqp.Channel, cfg.PoolSize),
	}
	if err := c.connect(); err != nil {
		return nil, err
	}

	return c, nil
}

// Publish sends one message. The pooled channel used is returned to the pool
// on success and discarded on failure.
func (c *Client) Publish(ctx context.Context, exchange, routingKey string, body []byte, header *relmq.MessageHeader) error {
	ch, err := c.borrow()
	if err != nil {
		return err
	}

	err = ch.PublishWithContext(ctx, exchange, routingKey, false, false, toPublishing(header, body, c.cfg.AppID))
	if err != nil {
		_ = ch.Close()

		return fmt.Errorf("rabbit: publish failed: %w", err)
	}
	c.giveBack(ch)

	return nil
}

// Subscribe consumes a queue on a dedicated channel with the given prefetch
// cap. The returned stream closes when the context is canceled or the broker
// closes the channel.
func (c *Client) Subscribe(ctx context.Context, queue string, qos int) (<-chan relmq.Delivery, error) {
	ch, err := c.channel()
	if err != nil {
		return nil, err
	}
	if err := ch.Qos(qos, 0, false); err != nil {
		_ = ch.Close()

		return nil, fmt.Errorf("rabbit: set qos failed: %w", err)
	}

	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()

		return nil, fmt.Errorf("rabbit: consume failed: %w", err)
	}

	out := make(chan relmq.Delivery)
	acker := channelAcker{ch: ch}
	go func() {
		defer close(out)
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				delivery := relmq.Delivery{
					Tag:    d.DeliveryTag,
					Header: fromDelivery(d),
					Body:   d.Body,
					Acker:  acker,
				}
				select {
				case out <- delivery:
				case <-ctx.Done():
					// Shutdown with an unsettled delivery: leave it
					// unacked so the broker redelivers.
					return
				}
			}
		}
	}()

	return out, nil
}

// DeclareQueue declares a durable queue, with an optional per-queue message
// TTL.
func (c *Client) DeclareQueue(ctx context.Context, queue string, ttl time.Duration) error {
	var args amqp.Table
	if ttl > 0 {
		args = amqp.Table{"x-message-ttl": ttl.Milliseconds()}
	}

	return c.withChannel(ctx, func(ch *amqp.Channel) error {
		_, err := ch.QueueDeclare(queue, true, false, false, false, args)

		return err
	})
}

// DeclareExchange declares a durable exchange.
func (c *Client) DeclareExchange(ctx context.Context, exchange, kind string) error {
	return c.withChannel(ctx, func(ch *amqp.Channel) error {
		return ch.ExchangeDeclare(exchange, kind, true, false, false, false, nil)
	})
}

// BindQueue binds a queue to an exchange.
func (c *Client) BindQueue(ctx context.Context, queue, exchange, routingKey string) error {
	return c.withChannel(ctx, func(ch *amqp.Channel) error {
		return ch.QueueBind(queue, routingKey, exchange, false, nil)
	})
}

// Close shuts the pool and the connection down.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	close(c.pool)
	for ch := range c.pool {
		_ = ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}

	return nil
}

func (c *Client) connect() error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("rabbit: dial failed: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.cfg.Logger.Info("connected to broker")

	return nil
}

// channel opens a fresh channel, redialing a dead connection first.
func (c *Client) channel() (*amqp.Channel, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()

		return nil, ErrClosed
	}
	conn := c.conn
	c.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		c.cfg.Logger.Warn("broker connection lost, reconnecting")
		if err := c.connect(); err != nil {
			return nil, err
		}
		c.mu.Lock()
		conn = c.conn
		c.mu.Unlock()
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("rabbit: open channel failed: %w", err)
	}

	return ch, nil
}

func (c *Client) borrow() (*amqp.Channel, error) {
	select {
	case ch, ok := <-c.pool:
		if !ok {
			return nil, ErrClosed
		}
		if !ch.IsClosed() {
			return ch, nil
		}
	default:
	}

	return c.channel()
}

func (c *Client) giveBack(ch *amqp.Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || ch.IsClosed() {
		_ = ch.Close()

		return
	}

	select {
	case c.pool <- ch:
	default:
		_ = ch.Close()
	}
}

func (c *Client) withChannel(_ context.Context, fn func(ch *amqp.Channel) error) error {
	ch, err := c.borrow()
	if err != nil {
		return err
	}
	if err := fn(ch); err != nil {
		_ = ch.Close()

		return err
	}
	c.giveBack(ch)

	return nil
}

type channelAcker struct {
	ch *amqp.Channel
}

// Ack implements relmq.Acknowledger.
func (a channelAcker) Ack(tag uint64) error {
	return a.ch.Ack(tag, false)
}

// Nack implements relmq.Acknowledger.
func (a channelAcker) Nack(tag uint64, requeue bool) error {
	return a.ch.Nack(tag, false, requeue)
}
