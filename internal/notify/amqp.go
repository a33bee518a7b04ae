package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// maxDialDelay caps the reconnect backoff.
const maxDialDelay = 60 * time.Second

// Envelope wraps every published event.
type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

// Meta identifies a published event.
type Meta struct {
	ID            string    `json:"id"`
	CorrelationID *string   `json:"correlation_id,omitempty"`
	Producer      *string   `json:"producer,omitempty"`
	Time          time.Time `json:"time"`
	Type          string    `json:"type"`
}

// AMQPOptions configures the broker publisher.
type AMQPOptions struct {
	URL           string
	Exchange      string
	RoutingKey    string
	Producer      string
	RetryAttempts int
	Delay         time.Duration
	Logger        *slog.Logger
}

type publishChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes waiting notices to a topic exchange. A channel is
// opened per publish so a broken channel never poisons later notices.
type AMQPPublisher struct {
	open       func() (publishChannel, error)
	closeConn  func() error
	exchange   string
	routingKey string
	producer   string
	log        *slog.Logger
	now        func() time.Time
}

// DialAMQP connects with exponential backoff, declares the exchange and
// returns a publisher. Dialing honors ctx cancellation.
func DialAMQP(ctx context.Context, opts AMQPOptions) (*AMQPPublisher, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 1
	}
	if opts.Delay <= 0 {
		opts.Delay = time.Second
	}

	conn, err := dialWithRetry(ctx, opts)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	defer func() { _ = ch.Close() }()
	if err := ch.ExchangeDeclare(opts.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", opts.Exchange, err)
	}

	open := func() (publishChannel, error) { return conn.Channel() }
	return newAMQPPublisher(open, conn.Close, opts), nil
}

func newAMQPPublisher(open func() (publishChannel, error), closeConn func() error, opts AMQPOptions) *AMQPPublisher {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	key := opts.RoutingKey
	if key == "" {
		key = EventType
	}
	return &AMQPPublisher{
		open:       open,
		closeConn:  closeConn,
		exchange:   opts.Exchange,
		routingKey: key,
		producer:   opts.Producer,
		log:        logger,
		now:        time.Now,
	}
}

func dialWithRetry(ctx context.Context, opts AMQPOptions) (*amqp.Connection, error) {
	var lastErr error
	for i := 1; i <= opts.RetryAttempts; i++ {
		conn, err := amqp.Dial(opts.URL)
		if err == nil {
			if i > 1 {
				opts.Logger.Info("broker connected", "attempt", i)
			}
			return conn, nil
		}
		lastErr = err
		if i == opts.RetryAttempts {
			break
		}

		sleep := opts.Delay << (i - 1)
		if sleep > maxDialDelay {
			sleep = maxDialDelay
		}
		opts.Logger.Warn("broker dial failed", "attempt", i, "sleep", sleep, "error", err)

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errors.New("dial cancelled: " + ctx.Err().Error())
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("failed to connect to broker after %d attempts: %w", opts.RetryAttempts, lastErr)
}

// NotifyWaiting publishes n wrapped in an Envelope. The conversation id is
// used as correlation id so consumers can group notices per conversation.
func (p *AMQPPublisher) NotifyWaiting(ctx context.Context, n WaitingNotice) error {
	ch, err := p.open()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	now := p.now()
	if n.At.IsZero() {
		n.At = now
	}
	correlation := n.ConversationID
	env := Envelope{
		Meta: Meta{
			ID:            uuid.NewString(),
			CorrelationID: &correlation,
			Time:          now.UTC(),
			Type:          EventType,
		},
		Data: n,
	}
	if p.producer != "" {
		producer := p.producer
		env.Meta.Producer = &producer
	}
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}

	err = ch.PublishWithContext(ctx, p.exchange, p.routingKey, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     env.Meta.ID,
		CorrelationId: correlation,
		Timestamp:     now,
		Body:          body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", p.routingKey, err)
	}
	p.log.Debug("published", "key", p.routingKey, "exchange", p.exchange, "conversation", n.ConversationID)
	return nil
}

// Close closes the broker connection.
func (p *AMQPPublisher) Close() error {
	if p.closeConn == nil {
		return nil
	}
	return p.closeConn()
}
