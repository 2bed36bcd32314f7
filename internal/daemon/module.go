package daemon

import (
	"context"
	"io"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matheus3301/vksync/internal/bus"
	"github.com/matheus3301/vksync/internal/captcha"
	"github.com/matheus3301/vksync/internal/config"
	"github.com/matheus3301/vksync/internal/conn"
	"github.com/matheus3301/vksync/internal/lock"
	"github.com/matheus3301/vksync/internal/logging"
	"github.com/matheus3301/vksync/internal/outbox"
	"github.com/matheus3301/vksync/internal/session"
	"github.com/matheus3301/vksync/internal/status"
	"github.com/matheus3301/vksync/internal/store"
	"github.com/matheus3301/vksync/internal/vk"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	// Binary names the log file and the lock owner.
	Binary     string
	SocketPath string // optional override for testing; empty = use default
	ConfigPath string // empty = session.ConfigPath()
	// Console receives human-readable log lines; nil disables them.
	Console io.Writer
	Debug   bool
}

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
			provideClient,
			providePrompt,
			provideConn,
			NewRunner,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = session.ConfigPath()
	}
	return config.LoadOrDefault(path)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(logging.Options{
		Path:    session.LogPath(p.SessionName, p.Binary),
		Session: p.SessionName,
		Console: p.Console,
		Debug:   p.Debug,
	})
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName), p.Binary)
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

// provideStore depends on the lock so the database is only opened by the
// lock holder.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.SessionName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	change, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if change.Applied() {
		logger.Info("schema migrated", zap.Uint("from", change.From), zap.Uint("to", change.To))
	} else {
		logger.Debug("schema up to date", zap.Uint("version", change.To))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideClient(cfg *config.Config, logger *zap.Logger) (*vk.Client, error) {
	return vk.NewClient(vk.ClientConfig{
		BaseURL:           cfg.Account.APIURL,
		AccessToken:       cfg.Account.AccessToken,
		Version:           cfg.Account.APIVersion,
		Timeout:           cfg.Sync.RequestTimeout.Duration,
		RequestsPerSecond: cfg.Sync.RequestsPerSecond,
		Logger:            logger.Named("vk"),
	})
}

func providePrompt(cfg *config.Config, b *bus.Bus, logger *zap.Logger) *captcha.Prompt {
	return captcha.NewPrompt(b, cfg.Sync.CaptchaTimeout.Duration, logger.Named("captcha"))
}

func provideConn(client *vk.Client, db *store.DB, prompt *captcha.Prompt, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *conn.Conn {
	return conn.New(client, db, prompt, b, conn.Config{
		SelfID:          cfg.Account.UserID,
		FriendsOnly:     cfg.Sync.FriendsOnly,
		DefaultGroup:    cfg.Sync.DefaultGroup,
		DialogPageSize:  cfg.Sync.DialogPageSize,
		MessagePageSize: cfg.Sync.MessagePageSize,
		Outbox: outbox.Options{
			MaxChunkBytes:      cfg.Sync.MaxChunkBytes,
			MaxCaptchaAttempts: cfg.Sync.MaxCaptchaAttempts,
		},
	}, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, db *store.DB, c *conn.Conn, runner *Runner, machine *status.Machine, b *bus.Bus, logger *zap.Logger) {
	var stopWatch func()
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Sends are not resumed across restarts.
			if n, err := db.FailPendingOutbox("daemon restarted"); err != nil {
				logger.Warn("failed to expire outbox", zap.Error(err))
			} else if n > 0 {
				logger.Info("expired pending sends", zap.Int64("count", n))
			}

			stopWatch = srv.Watch(b)

			// Start gRPC server in background.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			runner.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			c.Close()
			if err := machine.Transition(status.Closed); err != nil {
				logger.Warn("state transition rejected", zap.Error(err))
			}
			if stopWatch != nil {
				stopWatch()
			}
			srv.Stop(ctx)
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped", zap.Uint64("dropped_events", b.Dropped()))
			_ = logger.Sync()
			return nil
		},
	})
}
