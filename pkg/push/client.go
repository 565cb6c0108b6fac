// Package push delivers Web Push messages signed with VAPID keys.
package push

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
)

var (
	// ErrSubscriptionGone is returned when the push service no longer knows the subscription (404, 410).
	ErrSubscriptionGone = errors.New("push: subscription expired or unsubscribed")
	// ErrRejected is returned when the push service refuses the request itself (400, 413).
	ErrRejected = errors.New("push: message rejected")
	// ErrUnavailable is returned for any other non-success answer or network failure.
	ErrUnavailable = errors.New("push: service unavailable")
)

// Subscription is the browser-issued push subscription (endpoint + keys).
type Subscription = webpush.Subscription

// Client sends encrypted payloads to push service endpoints.
type Client struct {
	options webpush.Options
}

// NewClient creates a Client. subscriber is the contact (an email address or https: URL) reported to push services.
func NewClient(vapidPublicKey, vapidPrivateKey, subscriber string, ttl int, httpClient webpush.HTTPClient) *Client {
	return &Client{
		options: webpush.Options{
			HTTPClient:      httpClient,
			Subscriber:      subscriber,
			TTL:             ttl,
			Urgency:         webpush.UrgencyNormal,
			VAPIDPublicKey:  vapidPublicKey,
			VAPIDPrivateKey: vapidPrivateKey,
		},
	}
}

// Send encrypts payload for sub and posts it to the subscription endpoint.
func (c *Client) Send(ctx context.Context, sub *Subscription, payload []byte) error {
	opts := c.options

	resp, err := webpush.SendNotificationWithContext(ctx, payload, sub, &opts)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return fmt.Errorf("%w: %s", ErrSubscriptionGone, resp.Status)
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusRequestEntityTooLarge:
		return fmt.Errorf("%w: %s", ErrRejected, resp.Status)
	default:
		return fmt.Errorf("%w: %s", ErrUnavailable, resp.Status)
	}
}
