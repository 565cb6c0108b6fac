package queue

import (
	"fmt"

	"github.com/aliskhannn/notification-service/internal/config"
	"github.com/aliskhannn/notification-service/internal/model"
)

// routes maps every channel to its queue.
type routes map[model.Channel]string

func routesFromConfig(q config.Queues) routes {
	return routes{
		model.ChannelEmail: q.Email,
		model.ChannelSMS:   q.SMS,
		model.ChannelPush:  q.Push,
	}
}

func (r routes) queueFor(c model.Channel) (string, error) {
	name, ok := r[c]
	if !ok || name == "" {
		return "", fmt.Errorf("%w: no queue for channel %q", ErrUnknownQueue, c)
	}

	return name, nil
}

func (r routes) names() []string {
	names := make([]string, 0, len(r))
	for _, c := range model.Channels {
		if name := r[c]; name != "" {
			names = append(names, name)
		}
	}

	return names
}

func (r routes) has(queue string) bool {
	for _, name := range r {
		if name != "" && name == queue {
			return true
		}
	}

	return false
}
