// Package amqp publishes growth events to a RabbitMQ exchange.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"expensewatch/internal/core"
	applog "expensewatch/internal/log"

	"github.com/rabbitmq/amqp091-go"
	"github.com/sony/gobreaker"
)

const (
	publishTimeout = 5 * time.Second
	maxBackoff     = 30 * time.Second
	maxFailures    = 5
	openTimeout    = 30 * time.Second
	dialAttempts   = 3
)

// Channel is the part of *amqp091.Channel the publisher uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// Dialer opens a channel and returns it together with its connection.
type Dialer func(url string) (Channel, io.Closer, error)

// Config holds publisher settings
type Config struct {
	URL        string
	Exchange   string
	RoutingKey string

	// Dial overrides the real broker connection, mainly for tests
	Dial Dialer

	// Backoff overrides the wait between initial dial attempts
	Backoff func(attempt int) time.Duration
}

// Publisher sends GrowthMessages to a direct exchange. A dropped
// connection is re-dialled on the next publish.
type Publisher struct {
	url        string
	exchange   string
	routingKey string
	dial       Dialer
	backoff    func(attempt int) time.Duration
	breaker    *gobreaker.CircuitBreaker
	logger     *applog.Logger

	mu      sync.Mutex
	channel Channel
	conn    io.Closer
}

func dialBroker(url string) (Channel, io.Closer, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial AMQP: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	return channel, conn, nil
}

// NewPublisher connects to the broker and declares the exchange.
func NewPublisher(ctx context.Context, cfg Config, logger *applog.Logger) (*Publisher, error) {
	if cfg.Exchange == "" || cfg.RoutingKey == "" {
		return nil, fmt.Errorf("exchange and routing key are required")
	}
	if logger == nil {
		logger = applog.Discard()
	}
	dial := cfg.Dial
	if dial == nil {
		dial = dialBroker
	}
	backoff := cfg.Backoff
	if backoff == nil {
		backoff = exponentialBackoff
	}

	p := &Publisher{
		url:        cfg.URL,
		exchange:   cfg.Exchange,
		routingKey: cfg.RoutingKey,
		dial:       dial,
		backoff:    backoff,
		logger:     logger.WithComponent(applog.ComponentAMQP),
	}
	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "amqp-publisher",
		Timeout: openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.logger.Warn("Circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	if err := p.connectWithRetry(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Publisher) connectWithRetry(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt < dialAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.backoff(attempt - 1)):
			}
		}
		p.mu.Lock()
		lastErr = p.connectLocked()
		p.mu.Unlock()
		if lastErr == nil {
			return nil
		}
		p.logger.WarnContext(ctx, "AMQP connection attempt failed", "attempt", attempt+1, applog.FieldError, lastErr)
	}
	return fmt.Errorf("connect to AMQP after %d attempts: %w", dialAttempts, lastErr)
}

func (p *Publisher) connectLocked() error {
	channel, conn, err := p.dial(p.url)
	if err != nil {
		return err
	}
	err = channel.ExchangeDeclare(
		p.exchange, // name
		"direct",   // type
		true,       // durable
		false,      // auto-deleted
		false,      // internal
		false,      // no-wait
		nil,        // arguments
	)
	if err != nil {
		channel.Close()
		if conn != nil {
			conn.Close()
		}
		return fmt.Errorf("declare exchange: %w", err)
	}
	p.channel, p.conn = channel, conn
	return nil
}

// Name identifies the publisher in logs and metrics.
func (p *Publisher) Name() string {
	return "amqp"
}

// NotifyGrowth publishes ev as a persistent JSON message.
func (p *Publisher) NotifyGrowth(ctx context.Context, ev core.GrowthEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := NewGrowthMessage(ev).ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	_, err = p.breaker.Execute(func() (interface{}, error) {
		return nil, p.publish(ctx, ev.ID, body)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("circuit breaker is open: %w", err)
	}
	if err != nil {
		return err
	}

	p.logger.InfoContext(ctx, "Published growth message",
		applog.FieldEventID, ev.ID,
		applog.FieldNewRecords, ev.NewRecords,
		"exchange", p.exchange,
		"routing_key", p.routingKey)
	return nil
}

func (p *Publisher) publish(ctx context.Context, messageID string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel == nil {
		if err := p.connectLocked(); err != nil {
			return fmt.Errorf("reconnect: %w", err)
		}
		p.logger.InfoContext(ctx, "Reconnected to AMQP broker")
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err := p.channel.PublishWithContext(
		ctx,
		p.exchange,   // exchange
		p.routingKey, // routing key
		false,        // mandatory
		false,        // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    messageID,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		if isConnectionError(err) {
			p.closeLocked()
		}
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// Close closes the channel and connection
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeLocked()
}

func (p *Publisher) closeLocked() error {
	var err error
	if p.channel != nil {
		p.channel.Close()
		p.channel = nil
	}
	if p.conn != nil {
		err = p.conn.Close()
		p.conn = nil
	}
	return err
}

// exponentialBackoff doubles from one second and caps at maxBackoff.
func exponentialBackoff(attempt int) time.Duration {
	if attempt > 5 {
		return maxBackoff
	}
	d := time.Second << uint(attempt)
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp091.ErrClosed) || errors.Is(err, io.EOF) {
		return true
	}
	msg := err.Error()
	for _, s := range []string{"connection refused", "connection closed", "EOF", "broken pipe", "use of closed network connection"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
