package model

import (
	"time"

	"github.com/google/uuid"
)

// Notification represents a notification entity in the system.
type Notification struct {
	ID        uuid.UUID `json:"id"`              // store-assigned identifier, never reused
	Channel   Channel   `json:"channel"`         // delivery channel: email, sms or push
	Recipient string    `json:"recipient"`       // email address, phone number or push subscription JSON
	Message   string    `json:"message"`         // text body
	Media     string    `json:"media,omitempty"` // optional attachment reference, used by push only
	Status    Status    `json:"status"`          // current lifecycle status
	Retries   int       `json:"retries"`         // failed delivery attempts observed by the worker
	CreatedAt time.Time `json:"created_at"`      // timestamp when the notification was created
	UpdatedAt time.Time `json:"updated_at"`      // refreshed on every status change
}
