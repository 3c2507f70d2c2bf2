package container

import (
	"context"
	"fmt"

	"github.com/lyzr/toolcrib/cmd/coordinator/service"
	"github.com/lyzr/toolcrib/common/bootstrap"
	"github.com/lyzr/toolcrib/common/cache"
	"github.com/lyzr/toolcrib/common/clock"
	"github.com/lyzr/toolcrib/common/metrics"
	"github.com/lyzr/toolcrib/common/notify"
	"github.com/lyzr/toolcrib/common/policy"
	"github.com/lyzr/toolcrib/common/queue"
	"github.com/lyzr/toolcrib/common/ratelimit"
	"github.com/lyzr/toolcrib/common/repository"
	"github.com/lyzr/toolcrib/common/store"
	"github.com/lyzr/toolcrib/common/store/memory"
)

// Container holds all initialized services and repositories (singleton pattern)
type Container struct {
	// Components
	Components *bootstrap.Components
	Clock      clock.Clock
	Host       metrics.HostInfo

	// Persistence
	Store   store.Store
	Journal queue.Journal

	// Services
	Notifier     notify.Notifier
	Locker       *service.KeyedLocker
	Assets       *service.AssetStateMachine
	Reservations *service.ReservationCoordinator
	Dashboard    *service.DashboardService
	Queue        *queue.OfflineSyncQueue
	Watcher      *queue.ConnectivityWatcher
	RateLimiter  *ratelimit.RateLimiter
}

// Option overrides a dependency, mostly for tests
type Option func(*options)

type options struct {
	clock     clock.Clock
	scheduler clock.Scheduler
	store     store.Store
	journal   queue.Journal
	notifier  notify.Notifier
}

// WithClock replaces the wall clock and timer scheduler
func WithClock(clk clock.Clock, scheduler clock.Scheduler) Option {
	return func(o *options) {
		o.clock = clk
		o.scheduler = scheduler
	}
}

// WithStore uses st instead of the configured backend
func WithStore(st store.Store) Option {
	return func(o *options) {
		o.store = st
	}
}

// WithJournal uses j instead of the configured queue journal
func WithJournal(j queue.Journal) Option {
	return func(o *options) {
		o.journal = j
	}
}

// WithNotifier uses n instead of the configured notification sinks
func WithNotifier(n notify.Notifier) Option {
	return func(o *options) {
		o.notifier = n
	}
}

// NewContainer initializes all services once. Resources it opens are
// registered as cleanups on components.
func NewContainer(ctx context.Context, components *bootstrap.Components, opts ...Option) (*Container, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	cfg := components.Config
	log := components.Logger

	clk := o.clock
	if clk == nil {
		clk = clock.NewSystem()
	}
	scheduler := o.scheduler
	if scheduler == nil {
		scheduler = clock.NewScheduler()
	}

	// Store: postgres when bootstrap opened a pool, memory otherwise
	st := o.store
	if st == nil {
		if components.DB != nil {
			st = repository.NewStore(components.DB)
		} else {
			log.Warn("using in-memory store; data is lost on restart")
			st = memory.New()
		}
	}

	notifier := o.notifier
	if notifier == nil {
		notifier = buildNotifier(components)
	}

	journal := o.journal
	if journal == nil {
		var err error
		journal, err = openJournal(ctx, components)
		if err != nil {
			return nil, err
		}
	}

	approval, err := policy.NewApprovalPolicy(cfg.Reservation.AutoApprovalExpr)
	if err != nil {
		return nil, fmt.Errorf("failed to compile auto-approval policy: %w", err)
	}

	// A nil *TTLCache must not reach the services as a non-nil interface
	var shared cache.Cache
	if components.Cache != nil {
		shared = components.Cache
	}

	locker := service.NewKeyedLocker()

	assets := service.NewAssetStateMachine(
		st,
		locker,
		shared,
		components.Monitor,
		notifier,
		clk,
		log,
	)

	reservations := service.NewReservationCoordinator(
		st,
		assets,
		locker,
		approval,
		scheduler,
		clk,
		notifier,
		components.Monitor,
		shared,
		service.ReservationOptions{
			ReminderLead:   cfg.Reservation.ReminderLead,
			AutoExtendStep: cfg.Reservation.AutoExtendStep,
		},
		log,
	)

	dashboard := service.NewDashboardService(st, components.Cache, service.DefaultDashboardTTL, clk, log)

	// queued asset writes serialize with checkout and checkin
	applier := service.NewLockedApplier(st, locker)
	syncQueue, err := queue.New(ctx, journal, applier, notifier, queue.Options{
		MaxRetries: cfg.Queue.MaxRetries,
		Clock:      clk,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to restore offline queue: %w", err)
	}

	watcher := queue.NewConnectivityWatcher(syncQueue, st.Ping, cfg.Queue.PingInterval, log)

	var limiter *ratelimit.RateLimiter
	if cfg.RateLimit.Enabled && components.Redis != nil {
		limiter = ratelimit.NewRateLimiter(components.Redis.GetUnderlying(), log)
	}

	return &Container{
		Components:   components,
		Clock:        clk,
		Host:         metrics.CaptureHostInfo(),
		Store:        st,
		Journal:      journal,
		Notifier:     notifier,
		Locker:       locker,
		Assets:       assets,
		Reservations: reservations,
		Dashboard:    dashboard,
		Queue:        syncQueue,
		Watcher:      watcher,
		RateLimiter:  limiter,
	}, nil
}

// buildNotifier fans out to the log plus whichever remote sinks are configured
func buildNotifier(components *bootstrap.Components) notify.Notifier {
	cfg := components.Config
	log := components.Logger

	sinks := notify.Multi{notify.NewLogNotifier(log)}

	if components.Redis != nil && cfg.Notify.RedisChannel != "" {
		sinks = append(sinks, notify.NewRedisNotifier(components.Redis, cfg.Notify.RedisChannel, log))
	}

	if cfg.Notify.AMQPURL != "" {
		amqpNotifier, err := notify.DialAMQP(cfg.Notify.AMQPURL, cfg.Notify.AMQPExchange, log)
		if err != nil {
			// Notifications are fire and forget; a missing broker is not fatal
			log.Warn("amqp notifier disabled", "error", err)
		} else {
			sinks = append(sinks, amqpNotifier)
			components.AddCleanup(func(context.Context) error {
				log.Info("closing amqp notifier")
				return amqpNotifier.Close()
			})
		}
	}

	return sinks
}

func openJournal(ctx context.Context, components *bootstrap.Components) (queue.Journal, error) {
	cfg := components.Config

	switch cfg.Queue.JournalBackend {
	case "sqlite":
		j, err := queue.OpenSQLiteJournal(ctx, cfg.Queue.JournalPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open offline journal: %w", err)
		}
		components.AddCleanup(func(context.Context) error {
			components.Logger.Info("closing offline journal")
			return j.Close()
		})
		return j, nil

	case "redis":
		if components.Redis == nil {
			return nil, fmt.Errorf("redis offline journal needs a redis client")
		}
		return queue.NewRedisJournal(components.Redis, cfg.Queue.JournalKey), nil

	default:
		return nil, fmt.Errorf("unknown offline journal backend: %s", cfg.Queue.JournalBackend)
	}
}
