// Package queue is the message broker client of the notification service.
//
// Every channel has its own durable queue bound to one direct exchange, and
// every queue dead-letters into a durable "<queue>.dlq". Deliveries are
// consumed with manual acknowledgement: the consumer settles each Envelope
// with Ack or Nack.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/wb-go/wbf/rabbitmq"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/notification-service/internal/config"
	"github.com/aliskhannn/notification-service/internal/model"
)

var (
	ErrPublishFailed  = errors.New("publish failed")
	ErrConsumerClosed = errors.New("consumer closed")
	ErrUnknownQueue   = errors.New("unknown queue")
	ErrNotStarted     = errors.New("broker client not started")
)

// Handler is invoked once per delivered envelope. It must settle the envelope
// or leave it unsettled for the broker to redeliver.
type Handler func(ctx context.Context, env *Envelope)

// amqpChannel is the part of an AMQP channel the client drives directly.
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
}

// NotificationQueue is a RabbitMQ backed broker client.
type NotificationQueue struct {
	cfg    config.RabbitMQ
	routes routes

	mu      sync.RWMutex
	conn    *rabbitmq.Connection
	pubCh   *rabbitmq.Channel
	consCh  *rabbitmq.Channel
	pub     amqpChannel
	cons    amqpChannel
	started bool
}

// New creates a client for the configured topology. It performs no I/O;
// call Start to connect.
func New(cfg config.RabbitMQ) *NotificationQueue {
	return &NotificationQueue{
		cfg:    cfg,
		routes: routesFromConfig(cfg.Queues),
	}
}

// newWithChannels creates an already started client over the given channels.
func newWithChannels(cfg config.RabbitMQ, pub, cons amqpChannel) *NotificationQueue {
	return &NotificationQueue{
		cfg:     cfg,
		routes:  routesFromConfig(cfg.Queues),
		pub:     pub,
		cons:    cons,
		started: true,
	}
}

// Start connects to the broker, opens a publishing and a consuming channel
// and declares the exchange, the channel queues and their dead-letter queues.
func (q *NotificationQueue) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	conn, err := rabbitmq.Connect(q.cfg.URL(), q.cfg.Retries, q.cfg.Pause)
	if err != nil {
		return fmt.Errorf("connect to rabbitmq: %w", err)
	}

	pubCh, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open publish channel: %w", err)
	}

	consCh, err := conn.Channel()
	if err != nil {
		_ = pubCh.Close()
		_ = conn.Close()
		return fmt.Errorf("open consume channel: %w", err)
	}

	if err := q.declare(pubCh); err != nil {
		_ = consCh.Close()
		_ = pubCh.Close()
		_ = conn.Close()
		return err
	}

	if err := consCh.Qos(q.prefetch(), 0, false); err != nil {
		_ = consCh.Close()
		_ = pubCh.Close()
		_ = conn.Close()
		return fmt.Errorf("set prefetch: %w", err)
	}

	q.mu.Lock()
	q.conn, q.pubCh, q.consCh = conn, pubCh, consCh
	q.pub, q.cons = pubCh, consCh
	q.started = true
	q.mu.Unlock()

	zlog.Logger.Info().
		Str("exchange", q.cfg.Exchange).
		Strs("queues", q.Queues()).
		Msg("rabbitmq topology declared")

	return nil
}

func (q *NotificationQueue) declare(ch *rabbitmq.Channel) error {
	exchange := rabbitmq.NewExchange(q.cfg.Exchange, "direct")
	if err := exchange.BindToChannel(ch); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", q.cfg.Exchange, err)
	}

	qm := rabbitmq.NewQueueManager(ch)

	for _, name := range q.Queues() {
		dlq := DeadLetterName(name)
		if _, err := qm.DeclareQueue(dlq, rabbitmq.QueueConfig{Durable: true}); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", dlq, err)
		}

		args := map[string]interface{}{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": dlq,
		}

		declared, err := qm.DeclareQueue(name, rabbitmq.QueueConfig{Durable: true, Args: args})
		if err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", name, err)
		}

		if err := ch.QueueBind(declared.Name, name, exchange.Name(), false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %s: %w", name, err)
		}
	}

	return nil
}

func (q *NotificationQueue) prefetch() int {
	if q.cfg.Prefetch < 1 {
		return 1
	}

	return q.cfg.Prefetch
}

// QueueFor returns the queue notifications of channel c are published to.
func (q *NotificationQueue) QueueFor(c model.Channel) (string, error) {
	return q.routes.queueFor(c)
}

// Queues returns every channel queue name in channel order.
func (q *NotificationQueue) Queues() []string {
	return q.routes.names()
}

// Publish hands msg to the broker as a persistent message routed to queue.
// Failures after the retry strategy is exhausted wrap ErrPublishFailed.
func (q *NotificationQueue) Publish(ctx context.Context, queue string, msg NotificationMessage, strategy retry.Strategy) error {
	if !q.routes.has(queue) {
		return fmt.Errorf("%w: %s", ErrUnknownQueue, queue)
	}

	q.mu.RLock()
	pub, started := q.pub, q.started
	q.mu.RUnlock()

	if !started {
		return fmt.Errorf("%w: %w", ErrPublishFailed, ErrNotStarted)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID.String(),
		Body:         body,
	}

	err = retry.Do(func() error {
		if err := ctx.Err(); err != nil {
			return err
		}

		return pub.PublishWithContext(ctx, q.cfg.Exchange, queue, false, false, publishing)
	}, normalize(strategy))
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, queue, err)
	}

	return nil
}

// Consume delivers envelopes from queue to h one at a time until ctx is done
// or the broker closes the delivery stream.
//
// Envelopes left unsettled when the consumer stops are redelivered by the broker.
func (q *NotificationQueue) Consume(ctx context.Context, queue string, h Handler) error {
	if !q.routes.has(queue) {
		return fmt.Errorf("%w: %s", ErrUnknownQueue, queue)
	}

	q.mu.RLock()
	cons, started := q.cons, q.started
	q.mu.RUnlock()

	if !started {
		return ErrNotStarted
	}

	tag := fmt.Sprintf("%s-%s", queue, uuid.NewString())

	deliveries, err := cons.Consume(queue, tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume %s: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			if err := cons.Cancel(tag, false); err != nil {
				zlog.Logger.Warn().Err(err).Str("queue", queue).Msg("failed to cancel consumer")
			}

			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("%w: %s", ErrConsumerClosed, queue)
			}

			h(ctx, NewEnvelope(queue, d))
		}
	}
}

// Ack acknowledges env; the broker drops the message.
func (q *NotificationQueue) Ack(env *Envelope) error {
	return env.ack()
}

// Nack rejects env. With requeue the broker redelivers the message with the
// redelivery flag set; without it the message goes to the dead-letter queue.
func (q *NotificationQueue) Nack(env *Envelope, requeue bool) error {
	return env.nack(requeue)
}

// Close closes both channels and the connection.
func (q *NotificationQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.started {
		return nil
	}
	q.started = false

	var errs []error

	if q.consCh != nil {
		if err := q.consCh.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close consume channel: %w", err))
		}
	}

	if q.pubCh != nil {
		if err := q.pubCh.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close publish channel: %w", err))
		}
	}

	if q.conn != nil {
		if err := q.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}

	return errors.Join(errs...)
}

// DeadLetterName returns the dead-letter queue of queue.
func DeadLetterName(queue string) string {
	return queue + ".dlq"
}

// normalize makes sure the strategy runs its function at least once.
func normalize(s retry.Strategy) retry.Strategy {
	if s.Attempts < 1 {
		s.Attempts = 1
	}

	if s.Backoff < 1 {
		s.Backoff = 1
	}

	return s
}
