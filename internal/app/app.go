// Package app assembles the notification service from its configuration.
//
// Construction is split in two: New only validates and wires values, Start
// opens every connection and may fail, Run blocks until ctx is done and Close
// releases whatever Start opened.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/redis"
	"github.com/wb-go/wbf/zlog"
	"golang.org/x/sync/errgroup"

	"github.com/aliskhannn/notification-service/internal/api/handlers/notification"
	"github.com/aliskhannn/notification-service/internal/api/router"
	"github.com/aliskhannn/notification-service/internal/api/server"
	"github.com/aliskhannn/notification-service/internal/config"
	"github.com/aliskhannn/notification-service/internal/dispatcher"
	"github.com/aliskhannn/notification-service/internal/migrations"
	"github.com/aliskhannn/notification-service/internal/model"
	notifmsg "github.com/aliskhannn/notification-service/internal/rabbitmq/handlers/notification"
	"github.com/aliskhannn/notification-service/internal/rabbitmq/queue"
	notifrepo "github.com/aliskhannn/notification-service/internal/repository/notification"
	notifsvc "github.com/aliskhannn/notification-service/internal/service/notification"
	"github.com/aliskhannn/notification-service/internal/worker"
	"github.com/aliskhannn/notification-service/pkg/email"
	"github.com/aliskhannn/notification-service/pkg/push"
	"github.com/aliskhannn/notification-service/pkg/sms"
)

var ErrNotStarted = errors.New("app not started")

// App owns every long-lived component of the process.
type App struct {
	cfg    *config.Config
	broker *queue.NotificationQueue

	mu       sync.Mutex
	started  bool
	closers  []func() error
	server   *http.Server
	notifier *worker.Notifier
}

// New validates cfg and prepares an App. It performs no I/O.
func New(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &App{
		cfg:    cfg,
		broker: queue.New(cfg.RabbitMQ),
	}, nil
}

// Start connects to the store, applies migrations, declares the broker
// topology, connects to the cache and builds the components of the
// configured role. On failure everything opened so far is closed.
func (a *App) Start(ctx context.Context) (err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return nil
	}

	defer func() {
		if err != nil {
			a.closeAll()
		}
	}()

	opts := &dbpg.Options{
		MaxOpenConns:    a.cfg.Database.MaxOpenConns,
		MaxIdleConns:    a.cfg.Database.MaxIdleConns,
		ConnMaxLifetime: a.cfg.Database.ConnMaxLifetime,
	}

	slaveDSNs := make([]string, 0, len(a.cfg.Database.Slaves))
	for _, s := range a.cfg.Database.Slaves {
		slaveDSNs = append(slaveDSNs, s.DSN())
	}

	db, err := dbpg.New(a.cfg.Database.Master.DSN(), slaveDSNs, opts)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	a.closers = append(a.closers, func() error { return closeDB(db) })

	migrationLog := zlog.Logger.With().Str("component", "migrations").Logger()
	if err := migrations.Up(ctx, db.Master, migrationLog); err != nil {
		return err
	}

	if err := a.broker.Start(ctx); err != nil {
		return fmt.Errorf("start broker: %w", err)
	}
	a.closers = append(a.closers, a.broker.Close)

	rdb := redis.New(a.cfg.Redis.Address, a.cfg.Redis.Password, a.cfg.Redis.Database)
	a.closers = append(a.closers, rdb.Close)

	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}

	repo := notifrepo.NewRepository(db)
	service := notifsvc.NewService(repo, a.broker, rdb, validator.New())

	if a.cfg.RunsAPI() {
		handler := notification.NewHandler(service, validator.New(), a.cfg)
		a.server = server.New(a.cfg.Server.HTTPPort, router.New(handler))
	}

	if a.cfg.RunsWorker() {
		delivery := notifmsg.NewHandler(service, a.dispatcher(), a.broker, notifmsg.Options{
			Retry:                   a.cfg.Retry,
			SendTimeout:             a.cfg.Worker.SendTimeout,
			SkipSettledRedeliveries: a.cfg.Worker.SkipSettledRedeliveries,
		})
		a.notifier = worker.NewNotifier(a.broker, delivery, a.cfg.Worker.ConsumersPerQueue)
	}

	a.started = true
	zlog.Logger.Info().Str("role", a.cfg.Role).Strs("queues", a.broker.Queues()).Msg("app started")

	return nil
}

func (a *App) dispatcher() *dispatcher.Router {
	emailClient := email.NewClient(
		a.cfg.Email.SMTPHost,
		a.cfg.Email.SMTPPort,
		a.cfg.Email.Username,
		a.cfg.Email.Password,
		a.cfg.Email.From,
		a.cfg.Email.Subject,
		a.cfg.Email.Timeout,
	)
	smsClient := sms.NewClient(a.cfg.SMS.GatewayURL, a.cfg.SMS.Token, a.cfg.SMS.Sender, a.cfg.SMS.Timeout)
	pushClient := push.NewClient(
		a.cfg.Push.VAPIDPublicKey,
		a.cfg.Push.VAPIDPrivateKey,
		a.cfg.Push.Subscriber,
		a.cfg.Push.TTL,
		&http.Client{Timeout: a.cfg.Worker.SendTimeout},
	)

	return dispatcher.NewRouter(map[model.Channel]dispatcher.Sender{
		model.ChannelEmail: dispatcher.NewEmailSender(emailClient),
		model.ChannelSMS:   dispatcher.NewSMSSender(smsClient),
		model.ChannelPush:  dispatcher.NewPushSender(pushClient, a.cfg.Push.Title),
	})
}

// Run serves the API and runs the delivery workers, depending on the role,
// until ctx is done or one of them fails.
func (a *App) Run(ctx context.Context) error {
	a.mu.Lock()
	started, srv, notifier := a.started, a.server, a.notifier
	a.mu.Unlock()

	if !started {
		return ErrNotStarted
	}

	g, gctx := errgroup.WithContext(ctx)

	if srv != nil {
		g.Go(func() error {
			zlog.Logger.Info().Str("addr", srv.Addr).Msg("starting http server")

			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve http: %w", err)
			}

			return nil
		})

		g.Go(func() error {
			<-gctx.Done()
			zlog.Logger.Info().Msg("shutting down server")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				zlog.Logger.Error().Err(err).Msg("failed to shutdown server")
			}

			if errors.Is(shutdownCtx.Err(), context.DeadlineExceeded) {
				zlog.Logger.Info().Msg("timeout exceeded, forcing shutdown")
			}

			return nil
		})
	}

	if notifier != nil {
		g.Go(func() error {
			return notifier.Run(gctx)
		})
	}

	return g.Wait()
}

// Close releases every resource opened by Start, in reverse order.
func (a *App) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.started = false
	return a.closeAll()
}

func (a *App) closeAll() error {
	var errs []error

	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil

	return errors.Join(errs...)
}

func closeDB(db *dbpg.DB) error {
	var errs []error

	if err := db.Master.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close master db: %w", err))
	}

	for i, s := range db.Slaves {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close slave db %d: %w", i, err))
		}
	}

	return errors.Join(errs...)
}
