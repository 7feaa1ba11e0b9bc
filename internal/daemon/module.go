package daemon

import (
	"context"
	"time"

	"github.com/matheus3301/clinichat/internal/api"
	"github.com/matheus3301/clinichat/internal/backend"
	"github.com/matheus3301/clinichat/internal/broker"
	"github.com/matheus3301/clinichat/internal/bus"
	"github.com/matheus3301/clinichat/internal/config"
	"github.com/matheus3301/clinichat/internal/inbox"
	"github.com/matheus3301/clinichat/internal/lock"
	"github.com/matheus3301/clinichat/internal/logging"
	"github.com/matheus3301/clinichat/internal/realtime"
	"github.com/matheus3301/clinichat/internal/status"
	"github.com/matheus3301/clinichat/internal/store"
	intsync "github.com/matheus3301/clinichat/internal/sync"
	"github.com/matheus3301/clinichat/internal/tenant"
	"github.com/matheus3301/clinichat/internal/wa"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved tenant configuration passed to the fx module.
type Params struct {
	TenantName string
	SocketPath string // optional override for testing; empty = use default
}

const (
	brokerDialAttempts = 5
	brokerDialDelay    = time.Second
)

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideAdapter,
			provideSyncEngine,
			provideBackend,
			provideBroker,
			provideInbox,
			provideService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() (*config.Config, error) {
	return config.LoadOrDefault(tenant.ConfigPath())
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	return logging.New(tenant.LogPath(p.TenantName), p.TenantName, logging.Options{Level: cfg.LogLevel})
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := tenant.EnsureDir(p.TenantName); err != nil {
		return nil, err
	}
	logger.Info("acquiring tenant lock", zap.String("tenant", p.TenantName))
	l, err := lock.Acquire(tenant.Dir(p.TenantName))
	if err != nil {
		return nil, err
	}
	logger.Info("tenant lock acquired")
	return l, nil
}

// provideStore depends on the lock so that only the lock holder migrates.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := tenant.CacheDBPath(p.TenantName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("from", result.From), zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideAdapter(p Params, _ *lock.Lock, b *bus.Bus, logger *zap.Logger) (*wa.Adapter, error) {
	return wa.NewAdapter(context.Background(), p.TenantName, b, logger)
}

func provideSyncEngine(db *store.DB, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, b, logger)
}

func provideBackend(db *store.DB, adapter *wa.Adapter, engine *intsync.Engine, b *bus.Bus, logger *zap.Logger) *backend.Backend {
	return backend.New(db, adapter, engine, b, logger.Named("backend"))
}

// brokerLink is the optional AMQP channel. It is nil when no URL is configured.
type brokerLink struct {
	conn      *amqp091.Connection
	publisher *broker.Publisher
	source    *broker.Source
}

func provideBroker(p Params, cfg *config.Config, be *backend.Backend, logger *zap.Logger) (*brokerLink, error) {
	if cfg.AMQPURL == "" {
		return nil, nil
	}
	logger = logger.Named("broker")
	conn, err := broker.Dial(context.Background(), cfg.AMQPURL, brokerDialAttempts, brokerDialDelay, logger)
	if err != nil {
		return nil, err
	}
	pub, err := broker.NewPublisher(conn, cfg.AMQPExchange, p.TenantName, logger)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &brokerLink{
		conn:      conn,
		publisher: pub,
		source:    broker.NewSource(conn, cfg.AMQPExchange, p.TenantName, be, logger),
	}, nil
}

func provideInbox(cfg *config.Config, db *store.DB, be *backend.Backend, bl *brokerLink, b *bus.Bus, logger *zap.Logger) (*inbox.Inbox, error) {
	var (
		src     realtime.Source = be
		watcher inbox.Watcher   = be
	)
	if bl != nil {
		src, watcher = bl.source, bl.source
	}
	in := inbox.New(be, src, watcher, b, logger.Named("inbox"), inbox.Options{
		PageSize:        cfg.PageSize,
		RefreshInterval: cfg.ListRefreshInterval,
		Feed: realtime.Options{
			PollInterval:  cfg.PollInterval,
			PollSize:      cfg.PollSize,
			BaselineSize:  cfg.BaselineSize,
			DedupCapacity: cfg.DedupCapacity,
		},
	})
	if cfg.PersistReadCursors {
		if err := in.List().UseCursorStore(db); err != nil {
			return nil, err
		}
	}
	return in, nil
}

func provideService(p Params, m *status.Machine, adapter *wa.Adapter, db *store.DB, in *inbox.Inbox, b *bus.Bus) *api.Service {
	return api.NewService(p.TenantName, m, adapter, db, in, b)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, db *store.DB, adapter *wa.Adapter, engine *intsync.Engine, in *inbox.Inbox, bl *brokerLink, machine *status.Machine, b *bus.Bus, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Start sync engine (subscribes to wa.* bus events).
			engine.Start(context.Background())

			// Register event handler for whatsmeow events.
			handler := wa.NewEventHandler(b, machine, adapter, logger)
			adapter.RegisterEventHandler(handler.Handle)

			// Start gRPC server in background.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			in.Start(context.Background())
			if bl != nil {
				bl.publisher.Start(context.Background(), b)
			}

			// Transition state based on auth status.
			if adapter.IsLoggedIn() {
				_ = machine.Transition(status.Connecting)
				go func() {
					if err := adapter.Connect(); err != nil {
						logger.Error("auto-connect failed", zap.Error(err))
						_ = machine.Transition(status.Error)
						return
					}
					adapter.PublishContacts(context.Background())
				}()
			} else {
				logger.Info("no credentials found, auth required")
				_ = machine.Transition(status.AuthRequired)
			}

			return nil
		},
		OnStop: func(ctx context.Context) error {
			in.Stop()
			if bl != nil {
				if err := bl.publisher.Stop(); err != nil {
					logger.Warn("error closing broker publisher", zap.Error(err))
				}
				_ = bl.conn.Close()
			}
			engine.Stop()
			adapter.Disconnect()
			srv.Stop(ctx)
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
