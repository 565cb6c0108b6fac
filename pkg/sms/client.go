// Package sms provides a client for an HTTP SMS gateway.
//
// The gateway accepts a JSON body with the destination number and text and
// answers 2xx on acceptance. Designed to be used as the SMS transport of the
// notification service.
package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrRejected is returned when the gateway refuses the message for good (4xx other than 429).
	ErrRejected = errors.New("sms gateway: message rejected")
	// ErrUnavailable is returned for gateway failures worth retrying (5xx, 429).
	ErrUnavailable = errors.New("sms gateway: unavailable")
)

// Client represents an SMS gateway client.
type Client struct {
	url    string       // gateway endpoint
	token  string       // bearer token, optional
	sender string       // sender id shown to the recipient, optional
	client *http.Client // HTTP client used to make requests
}

// NewClient creates a new gateway Client.
func NewClient(url, token, sender string, timeout time.Duration) *Client {
	return &Client{
		url:    url,
		token:  token,
		sender: sender,
		client: &http.Client{Timeout: timeout},
	}
}

// sendMessageRequest represents the payload for the gateway send API.
type sendMessageRequest struct {
	To   string `json:"to"`             // recipient phone number
	From string `json:"from,omitempty"` // sender id
	Text string `json:"text"`           // message text
}

// Send sends msg to the phone number to.
//
// It returns ErrRejected or ErrUnavailable (wrapped) depending on the gateway status code.
func (c *Client) Send(ctx context.Context, to string, msg string) error {
	body, err := json.Marshal(sendMessageRequest{
		To:   to,
		From: c.sender,
		Text: msg,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s", ErrUnavailable, resp.Status)
	default:
		return fmt.Errorf("%w: %s", ErrRejected, resp.Status)
	}
}
