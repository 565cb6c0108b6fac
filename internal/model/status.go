package model

import "fmt"

// Channel identifies the transport a notification is delivered through.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
)

// Channels lists every supported channel in a stable order.
var Channels = []Channel{ChannelEmail, ChannelSMS, ChannelPush}

// Valid reports whether c is one of the supported channels.
func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelPush:
		return true
	default:
		return false
	}
}

func (c Channel) String() string {
	return string(c)
}

// ParseChannel converts a raw channel name into a Channel.
func ParseChannel(s string) (Channel, error) {
	c := Channel(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown channel %q", s)
	}

	return c, nil
}

// Status is the lifecycle state of a notification.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusError     Status = "error"
)

func (s Status) String() string {
	return string(s)
}

// Terminal reports whether no further automatic processing is expected.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusDelivered || s == StatusError
}

// transitions maps a target status to the statuses it may be reached from.
// Writing the current status again is always allowed.
var transitions = map[Status][]Status{
	StatusPending:   {StatusPending},
	StatusSent:      {StatusPending, StatusSent},
	StatusError:     {StatusPending, StatusError},
	StatusDelivered: {StatusSent, StatusDelivered},
}

// Predecessors returns the statuses from which next may be written.
func Predecessors(next Status) []Status {
	return transitions[next]
}

// CanTransition reports whether a notification in status from may move to status to.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[to] {
		if s == from {
			return true
		}
	}

	return false
}
