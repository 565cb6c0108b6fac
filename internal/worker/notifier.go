package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/wb-go/wbf/zlog"
	"golang.org/x/sync/errgroup"

	"github.com/aliskhannn/notification-service/internal/rabbitmq/queue"
)

var ErrNoQueues = errors.New("no queues to consume")

//go:generate mockgen -source=notifier.go -destination=../mocks/worker/mock.go -package=mocks
type notificationConsumer interface {
	Consume(ctx context.Context, name string, h queue.Handler) error
	Queues() []string
}

type envelopeHandler interface {
	HandleEnvelope(ctx context.Context, env *queue.Envelope)
}

// Notifier runs the delivery consumers: consumersPerQueue sequential loops on
// every channel queue.
type Notifier struct {
	consumer          notificationConsumer
	handler           envelopeHandler
	consumersPerQueue int
}

func NewNotifier(c notificationConsumer, h envelopeHandler, consumersPerQueue int) *Notifier {
	if consumersPerQueue < 1 {
		consumersPerQueue = 1
	}

	return &Notifier{
		consumer:          c,
		handler:           h,
		consumersPerQueue: consumersPerQueue,
	}
}

// Run blocks until ctx is done or a consumer fails. A failing consumer stops
// the others and its error is returned.
func (n *Notifier) Run(ctx context.Context) error {
	queues := n.consumer.Queues()
	if len(queues) == 0 {
		return ErrNoQueues
	}

	g, gctx := errgroup.WithContext(ctx)

	for _, q := range queues {
		for i := 0; i < n.consumersPerQueue; i++ {
			q, i := q, i
			g.Go(func() error {
				log := zlog.Logger.With().Str("queue", q).Int("consumer", i).Logger()
				log.Info().Msg("consumer started")

				err := n.consumer.Consume(gctx, q, n.handler.HandleEnvelope)
				if err != nil && gctx.Err() == nil {
					log.Error().Err(err).Msg("consumer stopped")
					return fmt.Errorf("consume %s: %w", q, err)
				}

				log.Info().Msg("consumer shutting down")
				return nil
			})
		}
	}

	err := g.Wait()
	zlog.Logger.Info().Msg("notifier stopped")

	return err
}
