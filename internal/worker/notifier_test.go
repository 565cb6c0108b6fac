package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mocks "github.com/aliskhannn/notification-service/internal/mocks/worker"
	"github.com/aliskhannn/notification-service/internal/rabbitmq/queue"
)

func TestNotifier_Run_HandlesEnvelopes(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockConsumer := mocks.NewMocknotificationConsumer(ctrl)
	mockHandler := mocks.NewMockenvelopeHandler(ctrl)

	n := NewNotifier(mockConsumer, mockHandler, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := queue.NewEnvelope("email", amqp.Delivery{DeliveryTag: 1, Body: []byte(`{}`)})

	mockConsumer.EXPECT().Queues().Return([]string{"email"})
	mockConsumer.EXPECT().Consume(gomock.Any(), "email", gomock.Any()).DoAndReturn(
		func(ctx context.Context, _ string, h queue.Handler) error {
			h(ctx, env)
			<-ctx.Done()
			return nil
		},
	)

	handled := make(chan struct{})
	mockHandler.EXPECT().HandleEnvelope(gomock.Any(), env).Do(func(context.Context, *queue.Envelope) {
		close(handled)
	})

	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	select {
	case <-handled:
	case <-time.After(time.Second):
		t.Fatal("envelope was not handled")
	}

	cancel()
	require.NoError(t, <-done)
}

func TestNotifier_Run_OneLoopPerQueue(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockConsumer := mocks.NewMocknotificationConsumer(ctrl)
	mockHandler := mocks.NewMockenvelopeHandler(ctrl)

	n := NewNotifier(mockConsumer, mockHandler, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu      sync.Mutex
		started = map[string]int{}
	)

	mockConsumer.EXPECT().Queues().Return([]string{"email", "sms", "push"})
	mockConsumer.EXPECT().Consume(gomock.Any(), gomock.Any(), gomock.Any()).Times(6).DoAndReturn(
		func(ctx context.Context, name string, _ queue.Handler) error {
			mu.Lock()
			started[name]++
			mu.Unlock()

			<-ctx.Done()
			return nil
		},
	)

	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return started["email"] == 2 && started["sms"] == 2 && started["push"] == 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestNotifier_Run_ConsumerFailureStopsOthers(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockConsumer := mocks.NewMocknotificationConsumer(ctrl)
	mockHandler := mocks.NewMockenvelopeHandler(ctrl)

	n := NewNotifier(mockConsumer, mockHandler, 1)

	mockConsumer.EXPECT().Queues().Return([]string{"email", "sms"})
	mockConsumer.EXPECT().Consume(gomock.Any(), "email", gomock.Any()).Return(queue.ErrConsumerClosed)
	mockConsumer.EXPECT().Consume(gomock.Any(), "sms", gomock.Any()).DoAndReturn(
		func(ctx context.Context, _ string, _ queue.Handler) error {
			<-ctx.Done()
			return nil
		},
	)

	err := n.Run(context.Background())
	assert.ErrorIs(t, err, queue.ErrConsumerClosed)
}

func TestNotifier_Run_NoQueues(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockConsumer := mocks.NewMocknotificationConsumer(ctrl)
	n := NewNotifier(mockConsumer, mocks.NewMockenvelopeHandler(ctrl), 0)

	mockConsumer.EXPECT().Queues().Return(nil)

	assert.ErrorIs(t, n.Run(context.Background()), ErrNoQueues)
}
