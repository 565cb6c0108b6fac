package queue

import (
	"errors"
	"sync/atomic"

	amqp "github.com/rabbitmq/amqp091-go"
)

var ErrAlreadySettled = errors.New("envelope already settled")

// Envelope is one broker delivery of a notification message.
type Envelope struct {
	Queue       string
	Body        []byte
	Redelivered bool   // broker is re-presenting a message after a prior non-ack
	DeliveryTag uint64 // identifies this delivery on its channel

	delivery amqp.Delivery
	settled  atomic.Bool
}

// NewEnvelope wraps a broker delivery received from queue.
func NewEnvelope(queue string, d amqp.Delivery) *Envelope {
	return &Envelope{
		Queue:       queue,
		Body:        d.Body,
		Redelivered: d.Redelivered,
		DeliveryTag: d.DeliveryTag,
		delivery:    d,
	}
}

// Settled reports whether the envelope was already acked or nacked.
func (e *Envelope) Settled() bool {
	return e.settled.Load()
}

func (e *Envelope) ack() error {
	if !e.settled.CompareAndSwap(false, true) {
		return ErrAlreadySettled
	}

	return e.delivery.Ack(false)
}

func (e *Envelope) nack(requeue bool) error {
	if !e.settled.CompareAndSwap(false, true) {
		return ErrAlreadySettled
	}

	return e.delivery.Nack(false, requeue)
}
