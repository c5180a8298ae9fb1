package daemon

import (
	"context"
	"time"

	"github.com/matheus3301/yarning/internal/auth"
	"github.com/matheus3301/yarning/internal/config"
	"github.com/matheus3301/yarning/internal/lock"
	"github.com/matheus3301/yarning/internal/logging"
	"github.com/matheus3301/yarning/internal/mongostore"
	"github.com/matheus3301/yarning/internal/profile"
	"github.com/matheus3301/yarning/internal/ratelimit"
	"github.com/matheus3301/yarning/internal/relay"
	"github.com/matheus3301/yarning/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved startup options passed to the fx module.
type Params struct {
	DataDir    string
	ConfigPath string // optional; empty = <data>/yarnd.toml
	Listen     string // optional override of the configured address
	// Logger replaces the file and stderr logger; used by tests.
	Logger *zap.Logger
}

// Module returns the fx module for the relay daemon, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideLock,
			provideStore,
			provideJWT,
			provideLimiters,
			relay.NewHub,
			provideRelay,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (config.Relay, error) {
	path := p.ConfigPath
	if path == "" {
		path = profile.RelayConfigPath(p.DataDir)
	}
	cfg, err := config.LoadRelay(path)
	if err != nil {
		return config.Relay{}, err
	}
	if p.Listen != "" {
		cfg.Listen = p.Listen
	}
	if cfg.Store.SQLitePath == "" {
		cfg.Store.SQLitePath = profile.RelayDBPath(p.DataDir)
	}
	return cfg, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	if p.Logger != nil {
		return p.Logger, nil
	}
	return logging.New(profile.RelayLogPath(p.DataDir), "yarnd")
}

func provideLock(p Params, cfg config.Relay, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring data directory lock", zap.String("dir", p.DataDir))
	l, err := lock.Acquire(p.DataDir, cfg.Listen)
	if err != nil {
		return nil, err
	}
	logger.Info("data directory lock acquired")
	return l, nil
}

// relayStore is the configured backend plus the way to shut it down.
type relayStore struct {
	relay.Store
	close func(context.Context) error
}

func provideStore(cfg config.Relay, logger *zap.Logger) (*relayStore, error) {
	if cfg.Store.Driver == config.DriverMongo {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		ms, err := mongostore.Open(ctx, cfg.Store.MongoURI, cfg.Store.MongoDatabase)
		if err != nil {
			return nil, err
		}
		logger.Info("store initialized", zap.String("driver", config.DriverMongo), zap.String("database", cfg.Store.MongoDatabase))
		return &relayStore{Store: ms, close: ms.Close}, nil
	}

	db, err := store.Open(cfg.Store.SQLitePath)
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
	logger.Info("store initialized", zap.String("driver", config.DriverSQLite), zap.String("path", cfg.Store.SQLitePath))
	return &relayStore{Store: db, close: func(context.Context) error { return db.Close() }}, nil
}

func provideJWT(cfg config.Relay) *auth.JWTManager {
	return auth.NewJWTManager(cfg.Auth.Secret, cfg.Auth.TokenTTL)
}

// Limiters splits the per-user send budget from the unary call budget.
type Limiters struct {
	Send  *ratelimit.Store
	Unary *ratelimit.Store
}

func provideLimiters(cfg config.Relay) Limiters {
	return Limiters{
		Send:  ratelimit.New(cfg.Limits.SendPerMinute, cfg.Limits.SendBurst, time.Minute),
		Unary: ratelimit.New(cfg.Limits.UnaryPerMinute, cfg.Limits.UnaryPerMinute/10+1, time.Minute),
	}
}

func provideRelay(st *relayStore, hub *relay.Hub, limits Limiters, cfg config.Relay, logger *zap.Logger) *relay.Service {
	return relay.NewService(st, hub, limits.Send, relay.Config{
		MaxContentLength: cfg.Limits.MaxContentLength,
		ChannelBuffer:    cfg.Limits.ChannelBuffer,
	}, logger.Named("relay"))
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, st *relayStore, srv *Server, hub *relay.Hub, limits Limiters, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if n := hub.CloseAll(); n > 0 {
				logger.Info("closed channels", zap.Int("count", n))
			}
			srv.Stop(ctx)
			limits.Send.Stop()
			limits.Unary.Stop()
			if err := st.close(ctx); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("relay stopped")
			return nil
		},
	})
}
