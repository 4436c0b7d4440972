package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/iliyamo/book-catalog/internal/metrics"
)

const (
	dialTimeout = 2 * time.Second
	sendTimeout = 3 * time.Second

	// DefaultBuffer is how many events may wait for the broker before new
	// ones are dropped.
	DefaultBuffer = 256
)

var (
	ErrEventDropped    = errors.New("queue: event buffer full, event dropped")
	ErrPublisherClosed = errors.New("queue: publisher closed")
)

// Publisher sends AuthEvents to the auth.events queue. Publish only enqueues;
// a single worker owns the AMQP connection, opens it lazily and re-dials
// after the broker drops it. Safe for concurrent use.
type Publisher struct {
	url string
	log *zap.Logger

	events chan AuthEvent
	quit   chan struct{}
	done   chan struct{}
	once   sync.Once

	// owned by the worker
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewPublisher starts a publisher for url with DefaultBuffer slots. Nothing
// is dialed until the first event arrives.
func NewPublisher(url string, log *zap.Logger) *Publisher {
	return newPublisher(url, log, DefaultBuffer)
}

func newPublisher(url string, log *zap.Logger, buffer int) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	if buffer < 1 {
		buffer = 1
	}
	p := &Publisher{
		url:    url,
		log:    log,
		events: make(chan AuthEvent, buffer),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

// Publish queues ev for delivery and returns at once. A full buffer drops
// the event with ErrEventDropped; delivery failures are logged by the worker.
func (p *Publisher) Publish(ctx context.Context, ev AuthEvent) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	select {
	case <-p.quit:
		return ErrPublisherClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case p.events <- ev:
		return nil
	default:
		metrics.EventsDropped.Inc()
		return ErrEventDropped
	}
}

// Close stops the worker and releases the connection. Events still
// buffered are discarded.
func (p *Publisher) Close() error {
	p.once.Do(func() { close(p.quit) })
	<-p.done

	var err error
	if p.ch != nil {
		err = p.ch.Close()
	}
	if p.conn != nil {
		err = errors.Join(err, p.conn.Close())
	}
	p.ch, p.conn = nil, nil
	return err
}

func (p *Publisher) run() {
	defer close(p.done)
	for {
		select {
		case <-p.quit:
			return
		case ev := <-p.events:
			if err := p.send(ev); err != nil {
				metrics.EventsFailed.Inc()
				p.log.Warn("rabbitmq: publish failed", zap.String("event", ev.Type), zap.Error(err))
			}
		}
	}
}

func (p *Publisher) send(ev AuthEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	ch, err := p.channel()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	err = ch.PublishWithContext(ctx,
		"",              // default exchange
		AuthEventsQueue, // routing key = queue name
		false,           // mandatory
		false,           // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    ev.OccurredAt,
			Type:         ev.Type,
			Body:         body,
		},
	)
	if err != nil {
		p.reset()
	}
	return err
}

// channel returns an open channel, dialing when needed.
func (p *Publisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() && p.conn != nil && !p.conn.IsClosed() {
		return p.ch, nil
	}
	p.reset()

	conn, err := amqp.DialConfig(p.url, amqp.Config{Dial: amqp.DefaultDial(dialTimeout)})
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("channel open: %w", err)
	}
	// durable so messages survive broker restarts
	if _, err := ch.QueueDeclare(AuthEventsQueue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("queue declare: %w", err)
	}
	p.conn, p.ch = conn, ch
	return ch, nil
}

func (p *Publisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.ch, p.conn = nil, nil
}
