package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/wb-go/wbf/retry"

	"github.com/aliskhannn/notification-service/internal/config"
	"github.com/aliskhannn/notification-service/internal/model"
)

// MemoryBroker is an in-process broker with the delivery semantics of the
// RabbitMQ topology: a nack with requeue puts the message back with the
// redelivery flag set, a nack without requeue moves it to the dead-letter list.
//
// It is meant for tests and local runs; nothing survives the process and
// envelopes a handler leaves unsettled are dropped.
type MemoryBroker struct {
	routes routes

	mu         sync.Mutex
	ready      map[string][]memMessage
	dead       map[string][][]byte
	acked      map[string]int
	nextTag    uint64
	publishErr error
	signals    map[string]chan struct{}
}

type memMessage struct {
	body        []byte
	redelivered bool
}

// NewMemoryBroker creates a broker with one queue per configured channel.
func NewMemoryBroker(queues config.Queues) *MemoryBroker {
	b := &MemoryBroker{
		routes:  routesFromConfig(queues),
		ready:   make(map[string][]memMessage),
		dead:    make(map[string][][]byte),
		acked:   make(map[string]int),
		signals: make(map[string]chan struct{}),
	}

	for _, name := range b.routes.names() {
		b.signals[name] = make(chan struct{}, 1)
	}

	return b
}

// FailPublish makes every following Publish fail with err; nil restores publishing.
func (b *MemoryBroker) FailPublish(err error) {
	b.mu.Lock()
	b.publishErr = err
	b.mu.Unlock()
}

func (b *MemoryBroker) QueueFor(c model.Channel) (string, error) {
	return b.routes.queueFor(c)
}

func (b *MemoryBroker) Queues() []string {
	return b.routes.names()
}

func (b *MemoryBroker) Publish(ctx context.Context, queue string, msg NotificationMessage, _ retry.Strategy) error {
	if !b.routes.has(queue) {
		return fmt.Errorf("%w: %s", ErrUnknownQueue, queue)
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, queue, err)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	b.mu.Lock()
	if b.publishErr != nil {
		err := b.publishErr
		b.mu.Unlock()
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, queue, err)
	}
	b.ready[queue] = append(b.ready[queue], memMessage{body: body})
	b.mu.Unlock()

	b.notify(queue)

	return nil
}

// Consume delivers envelopes from queue to h until ctx is done.
func (b *MemoryBroker) Consume(ctx context.Context, queue string, h Handler) error {
	if !b.routes.has(queue) {
		return fmt.Errorf("%w: %s", ErrUnknownQueue, queue)
	}

	for {
		if env, ok := b.next(queue); ok {
			h(ctx, env)
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-b.signals[queue]:
		}
	}
}

// Drain delivers envelopes from queue to h until the queue is empty, requeued
// messages included, and returns the number of deliveries made.
func (b *MemoryBroker) Drain(ctx context.Context, queue string, h Handler) int {
	n := 0
	for ctx.Err() == nil {
		env, ok := b.next(queue)
		if !ok {
			break
		}

		h(ctx, env)
		n++
	}

	return n
}

func (b *MemoryBroker) Ack(env *Envelope) error {
	return env.ack()
}

func (b *MemoryBroker) Nack(env *Envelope, requeue bool) error {
	return env.nack(requeue)
}

// Ready returns the number of messages waiting in queue.
func (b *MemoryBroker) Ready(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.ready[queue])
}

// Acked returns the number of envelopes acked on queue.
func (b *MemoryBroker) Acked(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.acked[queue]
}

// DeadLettered returns the bodies dead-lettered from queue.
func (b *MemoryBroker) DeadLettered(queue string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([][]byte(nil), b.dead[queue]...)
}

func (b *MemoryBroker) next(queue string) (*Envelope, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	msgs := b.ready[queue]
	if len(msgs) == 0 {
		return nil, false
	}

	m := msgs[0]
	b.ready[queue] = msgs[1:]
	b.nextTag++

	d := amqp.Delivery{
		Acknowledger: &memAcknowledger{broker: b, queue: queue, msg: m},
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		DeliveryTag:  b.nextTag,
		Redelivered:  m.redelivered,
		RoutingKey:   queue,
		Body:         m.body,
	}

	return NewEnvelope(queue, d), true
}

func (b *MemoryBroker) notify(queue string) {
	select {
	case b.signals[queue] <- struct{}{}:
	default:
	}
}

// memAcknowledger settles one in-memory delivery.
type memAcknowledger struct {
	broker *MemoryBroker
	queue  string
	msg    memMessage
}

func (a *memAcknowledger) Ack(uint64, bool) error {
	a.broker.mu.Lock()
	a.broker.acked[a.queue]++
	a.broker.mu.Unlock()

	return nil
}

func (a *memAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	a.broker.mu.Lock()
	if requeue {
		a.broker.ready[a.queue] = append(a.broker.ready[a.queue], memMessage{body: a.msg.body, redelivered: true})
	} else {
		a.broker.dead[a.queue] = append(a.broker.dead[a.queue], a.msg.body)
	}
	a.broker.mu.Unlock()

	if requeue {
		a.broker.notify(a.queue)
	}

	return nil
}

func (a *memAcknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}
