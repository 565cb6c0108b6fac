package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/notification-service/internal/api/respond"
	"github.com/aliskhannn/notification-service/internal/config"
	"github.com/aliskhannn/notification-service/internal/model"
	"github.com/aliskhannn/notification-service/internal/rabbitmq/queue"
	"github.com/aliskhannn/notification-service/internal/repository/notification"
	svc "github.com/aliskhannn/notification-service/internal/service/notification"
)

// notificationService defines the interface that the Handler depends on.
//
//go:generate mockgen -source=handler.go -destination=../../../mocks/api/handlers/notification/mock.go -package=mocks
type notificationService interface {
	Submit(ctx context.Context, strategy retry.Strategy, n model.Notification) (uuid.UUID, error)
	GetNotificationStatusByID(ctx context.Context, strategy retry.Strategy, id uuid.UUID) (model.Status, error)
	GetAllNotifications(ctx context.Context) ([]model.Notification, error)
	MarkDelivered(ctx context.Context, strategy retry.Strategy, id uuid.UUID) error
}

// Handler handles HTTP requests related to notifications.
type Handler struct {
	service   notificationService
	validator *validator.Validate
	cfg       *config.Config
}

// NewHandler creates a new Handler instance.
//
// Parameters:
//   - s: implementation of notificationService
//   - v: validator instance for request validation
//   - cfg: application configuration (its retry strategy is passed to the service)
func NewHandler(s notificationService, v *validator.Validate, cfg *config.Config) *Handler {
	return &Handler{service: s, validator: v, cfg: cfg}
}

// CreateRequest represents the JSON body expected in a notification creation request.
type CreateRequest struct {
	Channel   string `json:"channel" validate:"required,oneof=email sms push"`
	Recipient string `json:"recipient" validate:"required"`
	Message   string `json:"message" validate:"required"`
	Media     string `json:"media,omitempty"`
}

// StatusResponse is returned by every endpoint that reports a single notification.
type StatusResponse struct {
	ID     uuid.UUID    `json:"id"`
	Status model.Status `json:"status"`
}

// Create handles POST requests that name the channel in the body.
func (h *Handler) Create(c *ginext.Context) {
	var req CreateRequest

	// Decode JSON request body into CreateRequest struct.
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to decode request body")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid request body"))
		return
	}

	h.submit(c, req)
}

// CreateFor returns a handler for POST requests to a channel-specific route.
// The channel of the route overrides any channel in the body.
func (h *Handler) CreateFor(channel model.Channel) func(c *ginext.Context) {
	return func(c *ginext.Context) {
		var req CreateRequest

		if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
			zlog.Logger.Error().Err(err).Str("channel", channel.String()).Msg("failed to decode request body")
			respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid request body"))
			return
		}

		req.Channel = channel.String()
		h.submit(c, req)
	}
}

func (h *Handler) submit(c *ginext.Context, req CreateRequest) {
	// Validate request fields using go-playground/validator.
	if err := h.validator.Struct(req); err != nil {
		zlog.Logger.Warn().Err(err).Msg("failed to validate request body")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("validation error: %s", err.Error()))
		return
	}

	n := model.Notification{
		Channel:   model.Channel(req.Channel),
		Recipient: req.Recipient,
		Message:   req.Message,
		Media:     req.Media,
	}

	id, err := h.service.Submit(c.Request.Context(), h.cfg.Retry, n)
	if err != nil {
		switch {
		case errors.Is(err, svc.ErrValidation):
			respond.Fail(c.Writer, http.StatusBadRequest, err)
		case errors.Is(err, queue.ErrPublishFailed):
			// Stored but not queued: hand the id back so the caller can follow it up.
			respond.FailWith(c.Writer, http.StatusServiceUnavailable,
				fmt.Errorf("notification stored but not queued"),
				StatusResponse{ID: id, Status: model.StatusPending})
		default:
			zlog.Logger.Error().Err(err).Str("channel", req.Channel).Msg("failed to create notification")
			respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		}
		return
	}

	respond.Created(c.Writer, StatusResponse{ID: id, Status: model.StatusPending})
}

// GetStatus handles GET requests for the status of one notification.
func (h *Handler) GetStatus(c *ginext.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	status, err := h.service.GetNotificationStatusByID(c.Request.Context(), h.cfg.Retry, id)
	if err != nil {
		if errors.Is(err, notification.ErrNotificationNotFound) {
			zlog.Logger.Warn().Interface("id", id).Err(err).Msg("notification not found")
			respond.Fail(c.Writer, http.StatusNotFound, fmt.Errorf("notification not found"))
			return
		}

		zlog.Logger.Error().Err(err).Interface("id", id).Msg("failed to get notification status")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.OK(c.Writer, StatusResponse{ID: id, Status: status})
}

// GetAll handles GET requests for every notification, newest first.
func (h *Handler) GetAll(c *ginext.Context) {
	notifications, err := h.service.GetAllNotifications(c.Request.Context())
	if err != nil {
		if errors.Is(err, notification.ErrNoNotificationsFound) {
			zlog.Logger.Warn().Err(err).Msg("no notifications found")
			respond.Fail(c.Writer, http.StatusNotFound, fmt.Errorf("no notifications found"))
			return
		}

		zlog.Logger.Error().Err(err).Msg("failed to get notifications")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.OK(c.Writer, notifications)
}

// MarkDelivered handles POST requests carrying a delivery receipt for a sent notification.
func (h *Handler) MarkDelivered(c *ginext.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	err := h.service.MarkDelivered(c.Request.Context(), h.cfg.Retry, id)
	if err != nil {
		switch {
		case errors.Is(err, notification.ErrNotificationNotFound):
			respond.Fail(c.Writer, http.StatusNotFound, fmt.Errorf("notification not found"))
		case errors.Is(err, notification.ErrInvalidTransition):
			respond.Fail(c.Writer, http.StatusConflict, fmt.Errorf("notification has not been sent"))
		default:
			zlog.Logger.Error().Err(err).Interface("id", id).Msg("failed to mark notification delivered")
			respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		}
		return
	}

	respond.OK(c.Writer, StatusResponse{ID: id, Status: model.StatusDelivered})
}

func parseID(c *ginext.Context) (uuid.UUID, bool) {
	idStr := c.Param("id")

	id, err := uuid.Parse(idStr)
	if err != nil || id == uuid.Nil {
		zlog.Logger.Warn().Str("id", idStr).Msg("invalid id")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid id"))
		return uuid.Nil, false
	}

	return id, true
}
