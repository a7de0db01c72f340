package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"piggy/internal/log"
)

// Circuit breaker states
const (
	StateClosed int32 = iota
	StateOpen
	StateHalfOpen
)

const (
	maxFailures = 5
	// openTimeout caps how long the circuit stays open before a trial publish.
	openTimeout    = 30 * time.Second
	publishTimeout = 5 * time.Second
)

// ErrCircuitOpen is returned while the broker is considered unavailable.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// AMQPPublisher publishes events as persistent JSON messages on a durable
// direct exchange. It connects lazily and stops trying for a while after
// repeated failures, so a missing broker never slows the application down.
type AMQPPublisher struct {
	url          string
	exchangeName string
	routingKey   string
	logger       *log.Logger

	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel

	state        int32
	failureCount int64
	lastFailure  time.Time
	// trips counts consecutive openings; retryAfter is the current open delay.
	trips      int
	retryAfter time.Duration
}

// NewAMQPPublisher creates a publisher. No connection is made until the first
// Publish.
func NewAMQPPublisher(url, exchangeName, routingKey string, logger *log.Logger) *AMQPPublisher {
	if logger == nil {
		logger = log.Discard()
	}
	return &AMQPPublisher{
		url:          url,
		exchangeName: exchangeName,
		routingKey:   routingKey,
		logger:       logger.WithComponent(log.ComponentAMQP),
	}
}

func (p *AMQPPublisher) connect() error {
	if p.channel != nil && !p.channel.IsClosed() {
		return nil
	}
	p.closeLocked()

	conn, err := amqp091.Dial(p.url)
	if err != nil {
		return fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	if err := setup(channel, p.exchangeName, p.routingKey); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("setup exchange and queue: %w", err)
	}

	p.conn = conn
	p.channel = channel
	return nil
}

func setup(channel *amqp091.Channel, exchangeName, queueName string) error {
	// Declare exchange
	err := channel.ExchangeDeclare(
		exchangeName, // name
		"direct",     // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	// Declare queue
	_, err = channel.QueueDeclare(
		queueName, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	// Bind queue to exchange
	err = channel.QueueBind(
		queueName,    // queue name
		queueName,    // routing key
		exchangeName, // exchange
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	return nil
}

// Publish sends e. A publish that fails on a dropped connection is retried
// once on a fresh connection.
func (p *AMQPPublisher) Publish(ctx context.Context, e Event) error {
	if p.isCircuitOpen() {
		return fmt.Errorf("publish %s: %w", e.Type, ErrCircuitOpen)
	}

	body, err := e.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.publishLocked(ctx, e, body)
	if err != nil && isConnectionError(err) {
		p.closeLocked()
		err = p.publishLocked(ctx, e, body)
	}
	if err != nil {
		p.recordFailure()
		return err
	}

	p.recordSuccess()
	p.logger.DebugContext(ctx, "Published event",
		log.FieldOperation, log.OpPublish,
		log.FieldEventType, e.Type,
		"event_id", e.ID,
		"exchange", p.exchangeName)
	return nil
}

func (p *AMQPPublisher) publishLocked(ctx context.Context, e Event, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.connect(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err := p.channel.PublishWithContext(
		ctx,
		p.exchangeName, // exchange
		p.routingKey,   // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    e.ID,
			Type:         e.Type,
			Timestamp:    e.Timestamp,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

func (p *AMQPPublisher) isCircuitOpen() bool {
	if atomic.LoadInt32(&p.state) != StateOpen {
		return false
	}
	p.mu.Lock()
	last, wait := p.lastFailure, p.retryAfter
	p.mu.Unlock()
	if time.Since(last) > wait {
		atomic.CompareAndSwapInt32(&p.state, StateOpen, StateHalfOpen)
		return false
	}
	return true
}

// recordSuccess must be called with p.mu held.
func (p *AMQPPublisher) recordSuccess() {
	p.trips = 0
	atomic.StoreInt64(&p.failureCount, 0)
	atomic.StoreInt32(&p.state, StateClosed)
}

// recordFailure must be called with p.mu held.
func (p *AMQPPublisher) recordFailure() {
	p.lastFailure = time.Now()
	failures := atomic.AddInt64(&p.failureCount, 1)
	if failures >= maxFailures || atomic.LoadInt32(&p.state) == StateHalfOpen {
		if atomic.SwapInt32(&p.state, StateOpen) != StateOpen {
			p.trips++
			p.retryAfter = exponentialBackoff(p.trips)
			p.logger.Warn("AMQP circuit opened", "failures", failures, "retry_in", p.retryAfter)
		}
	}
}

// Close closes the channel and connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeLocked()
}

func (p *AMQPPublisher) closeLocked() error {
	if p.channel != nil {
		p.channel.Close()
		p.channel = nil
	}
	if p.conn != nil {
		err := p.conn.Close()
		p.conn = nil
		if err != nil && !errors.Is(err, amqp091.ErrClosed) {
			return err
		}
	}
	return nil
}

// exponentialBackoff returns 1s, 2s, 4s... capped at openTimeout.
func exponentialBackoff(attempt int) time.Duration {
	if attempt > 5 {
		return openTimeout
	}
	d := time.Duration(1<<uint(attempt)) * time.Second
	if d > openTimeout {
		return openTimeout
	}
	return d
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp091.ErrClosed) {
		return true
	}
	msg := err.Error()
	for _, s := range []string{
		"connection refused",
		"connection closed",
		"unexpected EOF",
		"broken pipe",
		"use of closed network connection",
		"channel/connection is not open",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
