package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aliskhannn/notification-service/internal/model"
)

var ErrMalformedMessage = errors.New("malformed notification message")

// NotificationMessage is the payload carried inside an envelope.
type NotificationMessage struct {
	ID        uuid.UUID     `json:"id"`
	Channel   model.Channel `json:"channel"`
	Recipient string        `json:"recipient"`
	Message   string        `json:"message"`
	Media     string        `json:"media,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// NewMessage builds the queue payload for a stored notification.
func NewMessage(n model.Notification) NotificationMessage {
	return NotificationMessage{
		ID:        n.ID,
		Channel:   n.Channel,
		Recipient: n.Recipient,
		Message:   n.Message,
		Media:     n.Media,
		CreatedAt: n.CreatedAt,
	}
}

// Notification converts the payload back into the model handed to dispatchers.
func (m NotificationMessage) Notification() model.Notification {
	return model.Notification{
		ID:        m.ID,
		Channel:   m.Channel,
		Recipient: m.Recipient,
		Message:   m.Message,
		Media:     m.Media,
		Status:    model.StatusPending,
		CreatedAt: m.CreatedAt,
	}
}

// DecodeMessage parses an envelope body.
//
// On failure the returned error wraps ErrMalformedMessage and the message
// still carries the notification id when one could be recovered from the body.
func DecodeMessage(body []byte) (NotificationMessage, error) {
	var msg NotificationMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return NotificationMessage{ID: salvageID(body)}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	if msg.ID == uuid.Nil {
		return msg, fmt.Errorf("%w: missing id", ErrMalformedMessage)
	}

	if !msg.Channel.Valid() {
		return msg, fmt.Errorf("%w: unknown channel %q", ErrMalformedMessage, msg.Channel)
	}

	return msg, nil
}

func salvageID(body []byte) uuid.UUID {
	var partial struct {
		ID string `json:"id"`
	}

	if err := json.Unmarshal(body, &partial); err != nil {
		return uuid.Nil
	}

	id, err := uuid.Parse(partial.ID)
	if err != nil {
		return uuid.Nil
	}

	return id
}
