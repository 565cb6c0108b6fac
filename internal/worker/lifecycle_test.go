package worker

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/retry"

	"github.com/aliskhannn/notification-service/internal/config"
	"github.com/aliskhannn/notification-service/internal/dispatcher"
	"github.com/aliskhannn/notification-service/internal/model"
	delivery "github.com/aliskhannn/notification-service/internal/rabbitmq/handlers/notification"
	"github.com/aliskhannn/notification-service/internal/rabbitmq/queue"
	notifrepo "github.com/aliskhannn/notification-service/internal/repository/notification"
	ingestion "github.com/aliskhannn/notification-service/internal/service/notification"
	"github.com/aliskhannn/notification-service/pkg/push"
)

var lifecycleRetry = retry.Strategy{Attempts: 1, Delay: time.Millisecond, Backoff: 1}

// memoryStore keeps notifications in a map and applies the same transition
// rules as the SQL repository.
type memoryStore struct {
	mu    sync.Mutex
	rows  map[uuid.UUID]model.Notification
	order []uuid.UUID
}

func newMemoryStore() *memoryStore {
	return &memoryStore{rows: make(map[uuid.UUID]model.Notification)}
}

func (s *memoryStore) CreateNotification(_ context.Context, n model.Notification) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n.ID = uuid.New()
	n.Status = model.StatusPending
	n.Retries = 0
	n.CreatedAt = time.Now()
	n.UpdatedAt = n.CreatedAt

	s.rows[n.ID] = n
	s.order = append(s.order, n.ID)

	return n.ID, nil
}

func (s *memoryStore) UpdateStatus(_ context.Context, id uuid.UUID, status model.Status, retriesDelta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.rows[id]
	if !ok {
		return notifrepo.ErrNotificationNotFound
	}

	if !model.CanTransition(n.Status, status) {
		return notifrepo.ErrInvalidTransition
	}

	n.Status = status
	n.Retries += retriesDelta
	n.UpdatedAt = time.Now()
	s.rows[id] = n

	return nil
}

func (s *memoryStore) GetNotificationStatusByID(_ context.Context, id uuid.UUID) (model.Status, error) {
	n, err := s.get(id)
	return n.Status, err
}

func (s *memoryStore) GetNotificationByID(_ context.Context, id uuid.UUID) (model.Notification, error) {
	return s.get(id)
}

func (s *memoryStore) GetAllNotifications(context.Context) ([]model.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.order) == 0 {
		return nil, notifrepo.ErrNoNotificationsFound
	}

	out := make([]model.Notification, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		out = append(out, s.rows[s.order[i]])
	}

	return out, nil
}

func (s *memoryStore) get(id uuid.UUID) (model.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.rows[id]
	if !ok {
		return model.Notification{}, notifrepo.ErrNotificationNotFound
	}

	return n, nil
}

type memoryCache struct {
	mu     sync.Mutex
	values map[string]string
}

func (c *memoryCache) SetWithRetry(_ context.Context, _ retry.Strategy, key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.values[key] = fmt.Sprint(value)
	return nil
}

func (c *memoryCache) GetWithRetry(_ context.Context, _ retry.Strategy, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.values[key]
	if !ok {
		return "", redis.Nil
	}

	return v, nil
}

// scriptedTransport answers text sends with the queued errors, then succeeds.
type scriptedTransport struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (s *scriptedTransport) Send(context.Context, string, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if len(s.errs) == 0 {
		return nil
	}

	err := s.errs[0]
	s.errs = s.errs[1:]

	return err
}

type pushTransport struct {
	calls   int
	payload []byte
}

func (p *pushTransport) Send(_ context.Context, _ *push.Subscription, payload []byte) error {
	p.calls++
	p.payload = payload
	return nil
}

// countingSender counts dispatcher invocations per notification.
type countingSender struct {
	mu    sync.Mutex
	next  dispatcher.Sender
	calls map[uuid.UUID]int
}

func (c *countingSender) Send(ctx context.Context, n model.Notification) error {
	c.mu.Lock()
	c.calls[n.ID]++
	c.mu.Unlock()

	return c.next.Send(ctx, n)
}

func (c *countingSender) count(id uuid.UUID) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.calls[id]
}

type lifecycle struct {
	store   *memoryStore
	broker  *queue.MemoryBroker
	service *ingestion.Service
	handler *delivery.Handler
	sender  *countingSender
	email   *scriptedTransport
	sms     *scriptedTransport
	push    *pushTransport
}

func newLifecycle(t *testing.T) *lifecycle {
	t.Helper()

	l := &lifecycle{
		store:  newMemoryStore(),
		broker: queue.NewMemoryBroker(config.Queues{Email: "email", SMS: "sms", Push: "push"}),
		email:  &scriptedTransport{},
		sms:    &scriptedTransport{},
		push:   &pushTransport{},
	}

	l.sender = &countingSender{
		calls: make(map[uuid.UUID]int),
		next: dispatcher.NewRouter(map[model.Channel]dispatcher.Sender{
			model.ChannelEmail: dispatcher.NewEmailSender(l.email),
			model.ChannelSMS:   dispatcher.NewSMSSender(l.sms),
			model.ChannelPush:  dispatcher.NewPushSender(l.push, "New Notification"),
		}),
	}

	cache := &memoryCache{values: make(map[string]string)}
	l.service = ingestion.NewService(l.store, l.broker, cache, validator.New())
	l.handler = delivery.NewHandler(l.service, l.sender, l.broker, delivery.Options{
		Retry:       lifecycleRetry,
		SendTimeout: time.Second,
	})

	return l
}

func (l *lifecycle) submit(t *testing.T, channel model.Channel, recipient, message string) uuid.UUID {
	t.Helper()

	id, err := l.service.Submit(context.Background(), lifecycleRetry, model.Notification{
		Channel:   channel,
		Recipient: recipient,
		Message:   message,
	})
	require.NoError(t, err)

	status, err := l.service.GetNotificationStatusByID(context.Background(), lifecycleRetry, id)
	require.NoError(t, err)
	require.Equal(t, model.StatusPending, status)

	return id
}

func (l *lifecycle) drain(channel model.Channel) int {
	name, _ := l.broker.QueueFor(channel)
	return l.broker.Drain(context.Background(), name, l.handler.HandleEnvelope)
}

func (l *lifecycle) stored(t *testing.T, id uuid.UUID) model.Notification {
	t.Helper()

	n, err := l.service.GetNotificationByID(context.Background(), id)
	require.NoError(t, err)

	return n
}

func validSubscriptionJSON(t *testing.T) string {
	t.Helper()

	key, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)

	auth := make([]byte, 16)
	_, err = rand.Read(auth)
	require.NoError(t, err)

	b, err := json.Marshal(map[string]any{
		"endpoint": "https://fcm.googleapis.com/fcm/send/abc123",
		"keys": map[string]string{
			"p256dh": base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()),
			"auth":   base64.RawURLEncoding.EncodeToString(auth),
		},
	})
	require.NoError(t, err)

	return string(b)
}

func TestLifecycle_SentOnFirstAttempt(t *testing.T) {
	l := newLifecycle(t)
	id := l.submit(t, model.ChannelEmail, "user@example.com", "hello")

	assert.Equal(t, 1, l.drain(model.ChannelEmail))

	n := l.stored(t, id)
	assert.Equal(t, model.StatusSent, n.Status)
	assert.Zero(t, n.Retries)
	assert.Equal(t, 1, l.sender.count(id))
	assert.Equal(t, 1, l.broker.Acked("email"))
}

func TestLifecycle_RetryThenSent(t *testing.T) {
	l := newLifecycle(t)
	l.email.errs = []error{errors.New("dial tcp: i/o timeout")}
	id := l.submit(t, model.ChannelEmail, "user@example.com", "hello")

	assert.Equal(t, 2, l.drain(model.ChannelEmail))

	n := l.stored(t, id)
	assert.Equal(t, model.StatusSent, n.Status)
	assert.Equal(t, 1, n.Retries)
	assert.Equal(t, 2, l.sender.count(id))
	assert.Empty(t, l.broker.DeadLettered("email"))
}

func TestLifecycle_TwoRetryableFailuresDeadLetter(t *testing.T) {
	l := newLifecycle(t)
	l.sms.errs = []error{errors.New("gateway timeout"), errors.New("gateway timeout")}
	id := l.submit(t, model.ChannelSMS, "+15550001111", "hello")

	assert.Equal(t, 2, l.drain(model.ChannelSMS))

	n := l.stored(t, id)
	assert.Equal(t, model.StatusError, n.Status)
	assert.Equal(t, 2, n.Retries)
	assert.Equal(t, 2, l.sender.count(id))
	assert.Len(t, l.broker.DeadLettered("sms"), 1)
	assert.Zero(t, l.broker.Ready("sms"))

	status, err := l.service.GetNotificationStatusByID(context.Background(), lifecycleRetry, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusError, status)
}

func TestLifecycle_InvalidPhoneDeadLettersImmediately(t *testing.T) {
	for _, recipient := range []string{"abc", "not-a-number"} {
		t.Run(recipient, func(t *testing.T) {
			l := newLifecycle(t)
			id := l.submit(t, model.ChannelSMS, recipient, "hi")

			assert.Equal(t, 1, l.drain(model.ChannelSMS))

			n := l.stored(t, id)
			assert.Equal(t, model.StatusError, n.Status)
			assert.Zero(t, n.Retries)
			assert.Equal(t, 1, l.sender.count(id))
			assert.Zero(t, l.sms.calls)
			assert.Len(t, l.broker.DeadLettered("sms"), 1)
		})
	}
}

func TestLifecycle_PushSent(t *testing.T) {
	l := newLifecycle(t)
	id := l.submit(t, model.ChannelPush, validSubscriptionJSON(t), "hi")

	assert.Equal(t, 1, l.drain(model.ChannelPush))

	assert.Equal(t, model.StatusSent, l.stored(t, id).Status)
	assert.Equal(t, 1, l.push.calls)
	assert.JSONEq(t, `{"title":"New Notification","body":"hi"}`, string(l.push.payload))
}

func TestLifecycle_InvalidSubscriptionDeadLetters(t *testing.T) {
	l := newLifecycle(t)
	id := l.submit(t, model.ChannelPush, `{"endpoint":"https://push.example.com","keys":{"p256dh":"short","auth":"short"}}`, "hi")

	assert.Equal(t, 1, l.drain(model.ChannelPush))

	n := l.stored(t, id)
	assert.Equal(t, model.StatusError, n.Status)
	assert.Zero(t, n.Retries)
	assert.Zero(t, l.push.calls)
}

func TestLifecycle_DuplicateDeliverySendsTwice(t *testing.T) {
	l := newLifecycle(t)
	id := l.submit(t, model.ChannelEmail, "user@example.com", "hello")

	// The same message queued twice, as after a crash between the status write and the ack.
	n := l.stored(t, id)
	require.NoError(t, l.broker.Publish(context.Background(), "email", queue.NewMessage(n), lifecycleRetry))

	assert.Equal(t, 2, l.drain(model.ChannelEmail))

	n = l.stored(t, id)
	assert.Equal(t, model.StatusSent, n.Status)
	assert.Zero(t, n.Retries)
	assert.Equal(t, 2, l.sender.count(id))
	assert.Equal(t, 2, l.broker.Acked("email"))
}

func TestLifecycle_PublishFailedStaysPending(t *testing.T) {
	l := newLifecycle(t)
	l.broker.FailPublish(errors.New("connection closed"))

	id, err := l.service.Submit(context.Background(), lifecycleRetry, model.Notification{
		Channel:   model.ChannelEmail,
		Recipient: "user@example.com",
		Message:   "hello",
	})
	require.ErrorIs(t, err, queue.ErrPublishFailed)
	require.NotEqual(t, uuid.Nil, id)

	assert.Zero(t, l.drain(model.ChannelEmail))
	assert.Equal(t, model.StatusPending, l.stored(t, id).Status)
}

func TestLifecycle_DeliveredAfterSent(t *testing.T) {
	l := newLifecycle(t)
	id := l.submit(t, model.ChannelSMS, "+15550001111", "hello")

	require.ErrorIs(t, l.service.MarkDelivered(context.Background(), lifecycleRetry, id), notifrepo.ErrInvalidTransition)

	l.drain(model.ChannelSMS)
	require.NoError(t, l.service.MarkDelivered(context.Background(), lifecycleRetry, id))
	assert.Equal(t, model.StatusDelivered, l.stored(t, id).Status)
}

func TestLifecycle_UpdateStatusIsIdempotent(t *testing.T) {
	l := newLifecycle(t)
	id := l.submit(t, model.ChannelEmail, "user@example.com", "hello")
	ctx := context.Background()

	require.NoError(t, l.store.UpdateStatus(ctx, id, model.StatusSent, 0))
	first := l.stored(t, id)

	require.NoError(t, l.store.UpdateStatus(ctx, id, model.StatusSent, 0))
	second := l.stored(t, id)

	assert.Equal(t, model.StatusSent, second.Status)
	assert.Equal(t, first.Retries, second.Retries)
	assert.False(t, second.UpdatedAt.Before(first.UpdatedAt))
}

func TestLifecycle_WorkerRun(t *testing.T) {
	l := newLifecycle(t)
	id := l.submit(t, model.ChannelSMS, "+15550001111", "hello")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- NewNotifier(l.broker, l.handler, 1).Run(ctx) }()

	require.Eventually(t, func() bool {
		n, err := l.store.get(id)
		return err == nil && n.Status == model.StatusSent
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
