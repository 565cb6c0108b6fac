// Package notification is the ingestion side of the service: it accepts
// notifications, records them as pending, queues them for delivery and
// answers status queries through a read-through cache.
package notification

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/notification-service/internal/model"
	"github.com/aliskhannn/notification-service/internal/rabbitmq/queue"
)

// ErrValidation is returned by Submit when a required field is missing or the channel is unknown.
var ErrValidation = errors.New("validation error")

//go:generate mockgen -source=service.go -destination=../../mocks/service/notification/mock.go -package=mocks

type notificationRepository interface {
	CreateNotification(context.Context, model.Notification) (uuid.UUID, error)
	GetNotificationStatusByID(context.Context, uuid.UUID) (model.Status, error)
	GetNotificationByID(context.Context, uuid.UUID) (model.Notification, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.Status, retriesDelta int) error
	GetAllNotifications(context.Context) ([]model.Notification, error)
}

type notificationPublisher interface {
	QueueFor(channel model.Channel) (string, error)
	Publish(ctx context.Context, name string, msg queue.NotificationMessage, strategy retry.Strategy) error
}

type cache interface {
	SetWithRetry(ctx context.Context, strategy retry.Strategy, key string, value interface{}) error
	GetWithRetry(ctx context.Context, strategy retry.Strategy, key string) (string, error)
}

// submission holds the fields every notification must carry.
type submission struct {
	Channel   string `validate:"required,oneof=email sms push"`
	Recipient string `validate:"required"`
	Message   string `validate:"required"`
}

type Service struct {
	repo      notificationRepository
	queue     notificationPublisher
	cache     cache
	validator *validator.Validate
}

func NewService(
	repo notificationRepository,
	q notificationPublisher,
	c cache,
	v *validator.Validate,
) *Service {
	return &Service{repo: repo, queue: q, cache: c, validator: v}
}

// Submit validates n, stores it as pending and publishes it to the queue of its channel.
//
// When publishing fails the notification stays pending with nothing queued:
// Submit then returns the stored id together with an error wrapping
// queue.ErrPublishFailed. The status is never moved past pending here.
func (s *Service) Submit(ctx context.Context, strategy retry.Strategy, n model.Notification) (uuid.UUID, error) {
	err := s.validator.Struct(submission{
		Channel:   n.Channel.String(),
		Recipient: n.Recipient,
		Message:   n.Message,
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrValidation, err.Error())
	}

	queueName, err := s.queue.QueueFor(n.Channel)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrValidation, err.Error())
	}

	n.Status = model.StatusPending

	id, err := s.repo.CreateNotification(ctx, n)
	if err != nil {
		return uuid.Nil, fmt.Errorf("create notification: %w", err)
	}

	n.ID = id
	s.cacheStatus(ctx, strategy, id, model.StatusPending)

	if err := s.queue.Publish(ctx, queueName, queue.NewMessage(n), strategy); err != nil {
		zlog.Logger.Error().
			Err(err).
			Str("id", id.String()).
			Str("queue", queueName).
			Msg("notification stored but not queued, it stays pending")

		return id, fmt.Errorf("publish notification %s: %w", id, err)
	}

	return id, nil
}

// GetNotificationStatusByID reads the status from the cache and falls back to the store on a miss.
func (s *Service) GetNotificationStatusByID(ctx context.Context, strategy retry.Strategy, id uuid.UUID) (model.Status, error) {
	cached, err := s.cache.GetWithRetry(ctx, strategy, id.String())
	if err == nil {
		return model.Status(cached), nil
	}

	if !errors.Is(err, redis.Nil) {
		zlog.Logger.Error().Err(err).Str("id", id.String()).Msg("failed to get notification status from cache")
	}

	status, err := s.repo.GetNotificationStatusByID(ctx, id)
	if err != nil {
		return "", fmt.Errorf("get notification status: %w", err)
	}

	s.cacheStatus(ctx, strategy, id, status)

	return status, nil
}

func (s *Service) GetNotificationByID(ctx context.Context, id uuid.UUID) (model.Notification, error) {
	n, err := s.repo.GetNotificationByID(ctx, id)
	if err != nil {
		return model.Notification{}, fmt.Errorf("get notification: %w", err)
	}

	return n, nil
}

func (s *Service) GetAllNotifications(ctx context.Context) ([]model.Notification, error) {
	notifications, err := s.repo.GetAllNotifications(ctx)
	if err != nil {
		return nil, fmt.Errorf("get all notifications: %w", err)
	}

	return notifications, nil
}

// SetStatus records status in the store, adds retriesDelta to the retry
// counter and refreshes the cached status.
func (s *Service) SetStatus(ctx context.Context, strategy retry.Strategy, id uuid.UUID, status model.Status, retriesDelta int) error {
	if err := s.repo.UpdateStatus(ctx, id, status, retriesDelta); err != nil {
		return fmt.Errorf("update notification status: %w", err)
	}

	s.cacheStatus(ctx, strategy, id, status)

	return nil
}

// MarkDelivered records a delivery receipt for a sent notification.
func (s *Service) MarkDelivered(ctx context.Context, strategy retry.Strategy, id uuid.UUID) error {
	return s.SetStatus(ctx, strategy, id, model.StatusDelivered, 0)
}

func (s *Service) cacheStatus(ctx context.Context, strategy retry.Strategy, id uuid.UUID, status model.Status) {
	if err := s.cache.SetWithRetry(ctx, strategy, id.String(), status.String()); err != nil {
		zlog.Logger.Error().Err(err).Str("id", id.String()).Msg("failed to cache notification status")
	}
}
