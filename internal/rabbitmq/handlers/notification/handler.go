// Package notification turns broker deliveries into dispatch attempts and
// decides how each envelope is settled.
//
// An envelope ends in one of three ways: acked after the notification was
// recorded as sent, requeued once after a retryable failure, or dead-lettered
// with the notification recorded as failed. The status write always happens
// before the envelope is settled.
package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/notification-service/internal/dispatcher"
	"github.com/aliskhannn/notification-service/internal/model"
	"github.com/aliskhannn/notification-service/internal/rabbitmq/queue"
	"github.com/aliskhannn/notification-service/internal/repository/notification"
)

//go:generate mockgen -source=handler.go -destination=../../../mocks/rabbitmq/handlers/notification/mock.go -package=mocks
type notificationService interface {
	SetStatus(ctx context.Context, strategy retry.Strategy, id uuid.UUID, status model.Status, retriesDelta int) error
	GetNotificationStatusByID(ctx context.Context, strategy retry.Strategy, id uuid.UUID) (model.Status, error)
}

type sender interface {
	Send(ctx context.Context, n model.Notification) error
}

type settler interface {
	Ack(env *queue.Envelope) error
	Nack(env *queue.Envelope, requeue bool) error
}

// Outcome is how an envelope left the handler.
type Outcome int

const (
	Unsettled    Outcome = iota // left for the broker to redeliver
	Acked                       // notification recorded as sent (or already settled)
	Requeued                    // first retryable failure, broker will redeliver
	DeadLettered                // notification recorded as failed, no further delivery
)

func (o Outcome) String() string {
	switch o {
	case Acked:
		return "acked"
	case Requeued:
		return "requeued"
	case DeadLettered:
		return "dead-lettered"
	default:
		return "unsettled"
	}
}

// Options tune the handler.
type Options struct {
	Retry                   retry.Strategy // used for every status write
	SendTimeout             time.Duration  // per-send deadline, zero disables it
	SkipSettledRedeliveries bool           // ack redeliveries whose notification is already terminal
}

// Handler runs the delivery state machine for one envelope at a time.
type Handler struct {
	service notificationService
	sender  sender
	broker  settler
	opts    Options
}

// NewHandler creates a Handler.
func NewHandler(svc notificationService, s sender, b settler, opts Options) *Handler {
	return &Handler{
		service: svc,
		sender:  s,
		broker:  b,
		opts:    opts,
	}
}

// HandleEnvelope processes env; it has the signature of queue.Handler.
func (h *Handler) HandleEnvelope(ctx context.Context, env *queue.Envelope) {
	h.Process(ctx, env)
}

// Process decodes env, dispatches the notification it carries, records the
// result and settles env accordingly.
func (h *Handler) Process(ctx context.Context, env *queue.Envelope) Outcome {
	log := zlog.Logger.With().
		Str("queue", env.Queue).
		Uint64("delivery_tag", env.DeliveryTag).
		Bool("redelivered", env.Redelivered).
		Logger()

	msg, err := queue.DecodeMessage(env.Body)
	if err != nil {
		return h.deadLetterMalformed(ctx, env, msg.ID, err, log)
	}

	log = log.With().Str("id", msg.ID.String()).Str("channel", msg.Channel.String()).Logger()

	if env.Redelivered && h.opts.SkipSettledRedeliveries {
		status, err := h.service.GetNotificationStatusByID(ctx, h.opts.Retry, msg.ID)
		if err == nil && status.Terminal() {
			log.Info().Str("status", status.String()).Msg("redelivered notification already settled, skipping")
			return h.ack(env, log)
		}
	}

	sendErr := h.send(ctx, msg.Notification())
	if sendErr != nil && ctx.Err() != nil {
		log.Warn().Err(sendErr).Msg("shutting down during send, leaving envelope for redelivery")
		return Unsettled
	}

	switch {
	case sendErr == nil:
		log.Info().Msg("notification sent")
		return h.settle(ctx, env, msg.ID, model.StatusSent, 0, log)

	case dispatcher.IsPermanent(sendErr):
		log.Error().Err(sendErr).Msg("permanent dispatch failure, dead-lettering")
		return h.settle(ctx, env, msg.ID, model.StatusError, 0, log)

	case !env.Redelivered:
		log.Warn().Err(sendErr).Msg("dispatch failed, requeueing once")
		return h.settle(ctx, env, msg.ID, model.StatusPending, 1, log)

	default:
		log.Error().Err(sendErr).Msg("redelivered dispatch failed, dead-lettering")
		return h.settle(ctx, env, msg.ID, model.StatusError, 1, log)
	}
}

// send calls the dispatcher under the per-send deadline. A deadline hit is
// reported as a retryable transport failure.
func (h *Handler) send(ctx context.Context, n model.Notification) error {
	sendCtx := ctx
	if h.opts.SendTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, h.opts.SendTimeout)
		defer cancel()
	}

	err := h.sender.Send(sendCtx, n)
	if err != nil && ctx.Err() == nil && errors.Is(sendCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: send timed out after %s: %w", dispatcher.ErrTransportUnavailable, h.opts.SendTimeout, err)
	}

	return err
}

// settle records status and then acks, requeues or dead-letters env.
func (h *Handler) settle(ctx context.Context, env *queue.Envelope, id uuid.UUID, status model.Status, delta int, log zerolog.Logger) Outcome {
	err := h.persist(ctx, id, status, delta, log)

	switch {
	case errors.Is(err, notification.ErrNotificationNotFound):
		log.Error().Err(err).Msg("notification is not in the store, dead-lettering")
		return h.nack(env, false, log)
	case errors.Is(err, notification.ErrInvalidTransition):
		log.Warn().Err(err).Str("status", status.String()).Msg("status already moved on, keeping stored status")
		if status == model.StatusPending {
			return h.ack(env, log)
		}
	case err != nil:
		log.Warn().Err(err).Msg("status not recorded, leaving envelope for redelivery")
		return Unsettled
	}

	switch status {
	case model.StatusSent:
		return h.ack(env, log)
	case model.StatusPending:
		return h.nack(env, true, log)
	default:
		return h.nack(env, false, log)
	}
}

// persist writes the status until the store answers or ctx is done.
// ErrNotificationNotFound and ErrInvalidTransition are final answers.
func (h *Handler) persist(ctx context.Context, id uuid.UUID, status model.Status, delta int, log zerolog.Logger) error {
	delay := h.opts.Retry.Delay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}

	for {
		err := h.service.SetStatus(ctx, h.opts.Retry, id, status, delta)
		if err == nil ||
			errors.Is(err, notification.ErrNotificationNotFound) ||
			errors.Is(err, notification.ErrInvalidTransition) {
			return err
		}

		log.Warn().Err(err).
			Str("status", status.String()).
			Int("retries_delta", delta).
			Msg("failed to record status, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (h *Handler) deadLetterMalformed(ctx context.Context, env *queue.Envelope, id uuid.UUID, cause error, log zerolog.Logger) Outcome {
	log.Error().Err(cause).Msg("malformed envelope, dead-lettering")

	if id == uuid.Nil {
		return h.nack(env, false, log)
	}

	log = log.With().Str("id", id.String()).Logger()

	return h.settle(ctx, env, id, model.StatusError, 0, log)
}

func (h *Handler) ack(env *queue.Envelope, log zerolog.Logger) Outcome {
	if err := h.broker.Ack(env); err != nil {
		log.Error().Err(err).Msg("failed to ack envelope")
	}

	return Acked
}

func (h *Handler) nack(env *queue.Envelope, requeue bool, log zerolog.Logger) Outcome {
	if err := h.broker.Nack(env, requeue); err != nil {
		log.Error().Err(err).Bool("requeue", requeue).Msg("failed to nack envelope")
	}

	if requeue {
		return Requeued
	}

	return DeadLettered
}
