package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/minutes/migrations"
	"github.com/dmitrymomot/minutes/modules/api"
	"github.com/dmitrymomot/minutes/pkg/config"
	"github.com/dmitrymomot/minutes/pkg/httpserver"
	"github.com/dmitrymomot/minutes/pkg/logger"
	mongodb "github.com/dmitrymomot/minutes/pkg/mongo"
	"github.com/dmitrymomot/minutes/pkg/outbox"
	"github.com/dmitrymomot/minutes/pkg/pg"
	"github.com/dmitrymomot/minutes/pkg/redis"
	"github.com/dmitrymomot/minutes/svc/billing"
	"github.com/dmitrymomot/minutes/svc/identity"
	"github.com/dmitrymomot/minutes/svc/minutes"
	"github.com/dmitrymomot/minutes/svc/profile"
)

type appConfig struct {
	Env           string   `env:"APP_ENV" envDefault:"development"`
	ServiceName   string   `env:"SERVICE_NAME" envDefault:"minutes"`
	LogLevel      string   `env:"LOG_LEVEL"`
	StorageDriver string   `env:"STORAGE_DRIVER" envDefault:"memory"`
	EnvFiles      []string `env:"ENV_FILES" envSeparator:","`
	BillingOff    bool     `env:"BILLING_DISABLED"`
}

const (
	driverMemory   = "memory"
	driverPostgres = "postgres"
	driverMongo    = "mongo"
)

var errUnknownDriver = errors.New("unknown storage driver")

type outboxStorage interface {
	outbox.Inserter
	outbox.RelayStorage
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var app appConfig
	if err := config.Load(&app); err != nil {
		return err
	}
	if err := config.LoadEnv(app.EnvFiles...); err != nil {
		return err
	}

	logOpts := []logger.Option{
		logger.WithEnvironment(app.Env, app.ServiceName),
		logger.WithContextExtractors(logger.RequestIDExtractor(), identity.LoggerExtractor()),
	}
	if app.LogLevel != "" {
		lvl, err := logger.ParseLevel(app.LogLevel)
		if err != nil {
			return err
		}
		logOpts = append(logOpts, logger.WithLevel(lvl))
	}
	log := logger.New(logOpts...)
	logger.SetAsDefault(log)

	checks := map[string]httpserver.Check{}

	st, err := openStorage(ctx, app.StorageDriver, log, checks)
	if err != nil {
		return err
	}
	defer st.close()

	var outboxCfg outbox.Config
	if err := config.Load(&outboxCfg); err != nil {
		return err
	}
	outboxStore, err := openOutbox(outboxCfg, st)
	if err != nil {
		return err
	}
	enq, err := outbox.NewEnqueuer(outboxStore, outbox.WithDefaultMaxAttempts(outboxCfg.MaxAttempts))
	if err != nil {
		return err
	}
	relay, err := outbox.NewRelay(outboxStore, append(outbox.FromConfig(outboxCfg), outbox.WithLogger(log))...)
	if err != nil {
		return err
	}

	var idCfg identity.Config
	if err := config.Load(&idCfg); err != nil {
		return err
	}
	clerk, err := identity.NewClerkProvider(ctx, idCfg, identity.WithLogger(log))
	if err != nil {
		return err
	}

	profiles := profile.NewService(st.profiles, profile.WithLogger(log))
	if err := relay.Register(billing.NewReconciler(profiles, clerk, log).Handler()); err != nil {
		return err
	}

	var apiCfg api.Config
	if err := config.Load(&apiCfg); err != nil {
		return err
	}
	opts := api.RouterOptions{
		Config:   apiCfg,
		Logger:   log,
		Identity: clerk,
		Profiles: profiles,
		Minutes:  minutes.NewService(st.minutes, log),
		Checks:   checks,
	}

	if !app.BillingOff {
		svc, closeBilling, err := newBilling(ctx, log, enq, checks)
		if err != nil {
			return err
		}
		defer closeBilling()
		opts.Billing = svc
	}

	var srvCfg httpserver.Config
	if err := config.Load(&srvCfg); err != nil {
		return err
	}
	srv := httpserver.New(srvCfg, httpserver.WithLogger(log))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Runner(gctx, api.NewRouter(opts)))
	g.Go(relay.Run(gctx))
	return g.Wait()
}

type storage struct {
	pool     *pgxpool.Pool
	mongo    *mongo.Database
	profiles profile.Store
	minutes  minutes.Store
}

func (s *storage) close() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.mongo != nil {
		_ = s.mongo.Client().Disconnect(context.Background())
	}
}

func openStorage(ctx context.Context, driver string, log *slog.Logger, checks map[string]httpserver.Check) (*storage, error) {
	switch driver {
	case driverMemory, "":
		log.Warn("using in-memory storage, data is lost on restart")
		return &storage{
			profiles: profile.NewMemoryStore(),
			minutes:  minutes.NewMemoryStore(),
		}, nil

	case driverPostgres:
		var cfg pg.Config
		if err := config.Load(&cfg); err != nil {
			return nil, err
		}
		pool, err := pg.Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx, pool, migrations.FS, cfg, log); err != nil {
			pool.Close()
			return nil, err
		}
		checks["postgres"] = pg.Healthcheck(pool)
		return &storage{
			pool:     pool,
			profiles: profile.NewPostgresStore(pool),
			minutes:  minutes.NewPostgresStore(pool),
		}, nil

	case driverMongo:
		var cfg mongodb.Config
		if err := config.Load(&cfg); err != nil {
			return nil, err
		}
		db, err := mongodb.ConnectDatabase(ctx, cfg)
		if err != nil {
			return nil, err
		}
		profiles, err := profile.NewMongoStore(ctx, db)
		if err != nil {
			_ = db.Client().Disconnect(context.Background())
			return nil, err
		}
		checks["mongo"] = mongodb.Healthcheck(db.Client())
		return &storage{
			mongo:    db,
			profiles: profiles,
			minutes:  minutes.NewMongoStore(db),
		}, nil
	}
	return nil, fmt.Errorf("%w: %q", errUnknownDriver, driver)
}

// openOutbox returns the relay storage. The postgres outbox shares the
// application pool so plan changes land in the same database as profiles.
func openOutbox(cfg outbox.Config, st *storage) (outboxStorage, error) {
	switch cfg.Driver {
	case driverMemory, "":
		return outbox.NewMemoryStorage(), nil
	case driverPostgres:
		if st.pool == nil {
			return nil, fmt.Errorf("%w: postgres outbox requires STORAGE_DRIVER=postgres", errUnknownDriver)
		}
		return outbox.NewPostgresStorage(st.pool), nil
	}
	return nil, fmt.Errorf("%w: outbox %q", errUnknownDriver, cfg.Driver)
}

func newBilling(ctx context.Context, log *slog.Logger, enq *outbox.Enqueuer, checks map[string]httpserver.Check) (*billing.Service, func(), error) {
	var cfg billing.Config
	if err := config.Load(&cfg); err != nil {
		return nil, nil, err
	}

	var provider billing.Provider
	switch cfg.Provider {
	case billing.LemonSqueezyName:
		var lsCfg billing.LemonSqueezyConfig
		if err := config.Load(&lsCfg); err != nil {
			return nil, nil, err
		}
		p, err := billing.NewLemonSqueezyProvider(ctx, lsCfg,
			billing.WithLogger(log), billing.WithCheckoutTTL(cfg.CheckoutTTL))
		if err != nil {
			return nil, nil, err
		}
		provider = p
	case billing.PaddleName:
		var pCfg billing.PaddleConfig
		if err := config.Load(&pCfg); err != nil {
			return nil, nil, err
		}
		p, err := billing.NewPaddleProvider(pCfg,
			billing.WithLogger(log), billing.WithCheckoutTTL(cfg.CheckoutTTL))
		if err != nil {
			return nil, nil, err
		}
		provider = p
	default:
		return nil, nil, fmt.Errorf("%w: %q", billing.ErrUnknownProvider, cfg.Provider)
	}

	var redisCfg redis.Config
	if err := config.Load(&redisCfg); err != nil {
		return nil, nil, err
	}
	deduper := billing.Deduper(billing.NewMemoryDeduper(cfg.DedupTTL))
	closeFn := func() {}
	if redisCfg.Enabled() {
		client, err := redis.Connect(ctx, redisCfg)
		if err != nil {
			return nil, nil, err
		}
		checks["redis"] = redis.Healthcheck(client)
		deduper = billing.NewRedisDeduper(client, cfg.DedupTTL)
		closeFn = func() { _ = client.Close() }
	}

	svc := billing.NewService(provider, enq,
		billing.WithServiceLogger(log),
		billing.WithDeduper(deduper),
		billing.WithCheckoutRedirectURL(cfg.CheckoutRedirectURL))
	return svc, closeFn, nil
}
