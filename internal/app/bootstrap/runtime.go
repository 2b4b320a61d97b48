package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	cacheadapter "github.com/viralforge/mesh/services/core-platform/M98-tenant-access-service/internal/adapters/cache"
	eventadapter "github.com/viralforge/mesh/services/core-platform/M98-tenant-access-service/internal/adapters/events"
	grpcadapter "github.com/viralforge/mesh/services/core-platform/M98-tenant-access-service/internal/adapters/grpc"
	httpadapter "github.com/viralforge/mesh/services/core-platform/M98-tenant-access-service/internal/adapters/http"
	"github.com/viralforge/mesh/services/core-platform/M98-tenant-access-service/internal/adapters/memory"
	"github.com/viralforge/mesh/services/core-platform/M98-tenant-access-service/internal/adapters/postgres"
	"github.com/viralforge/mesh/services/core-platform/M98-tenant-access-service/internal/adapters/security"
	"github.com/viralforge/mesh/services/core-platform/M98-tenant-access-service/internal/application"
	"github.com/viralforge/mesh/services/core-platform/M98-tenant-access-service/internal/observability"
	"github.com/viralforge/mesh/services/core-platform/M98-tenant-access-service/internal/ports"
	"github.com/viralforge/mesh/services/core-platform/M98-tenant-access-service/internal/rbac"
)

type Runtime struct {
	cfg          Config
	logger       *slog.Logger
	service      *application.Service
	httpServer   *http.Server
	grpcServer   *grpc.Server
	grpcHealth   *health.Server
	outbox       *eventadapter.OutboxWorker
	cleanupFuncs []func()
}

// storage is the driver-neutral set of repositories the service runs on.
type storage struct {
	identities   ports.IdentityRepository
	tenants      ports.TenantRepository
	registration ports.RegistrationRepository
	policies     ports.PolicyRepository
	outbox       ports.OutboxRepository
	lockouts     ports.LockoutStore
	revocations  ports.TokenRevocationStore
	redis        *redis.Client
	ready        func(context.Context) error
}

func NewRuntime(ctx context.Context, configPath string) (*Runtime, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)
	logger.Info("bootstrapping tenant access service",
		"service", cfg.ServiceID,
		"http_port", cfg.HTTPPort,
		"grpc_port", cfg.GRPCPort,
		"storage_driver", cfg.StorageDriver,
	)

	r := &Runtime{cfg: cfg, logger: logger}
	store, err := r.openStorage(ctx)
	if err != nil {
		r.cleanup()
		return nil, err
	}

	metrics := observability.NewMetrics()
	var matcher rbac.Matcher = rbac.LiteralMatcher{}
	if cfg.PolicyMatcher == "regex" {
		matcher, err = rbac.NewRegexMatcher(cfg.PatternCacheSize)
		if err != nil {
			r.cleanup()
			return nil, fmt.Errorf("init pattern matcher: %w", err)
		}
	}
	engine, err := rbac.NewEngine(store.policies,
		rbac.WithMatcher(matcher),
		rbac.WithLogger(logger),
		rbac.WithMetrics(metrics),
	)
	if err != nil {
		r.cleanup()
		return nil, fmt.Errorf("init rbac engine: %w", err)
	}
	if store.redis != nil {
		watcher, err := cacheadapter.NewPolicyWatcher(ctx, store.redis, cfg.PolicyChannel, logger)
		if err != nil {
			r.cleanup()
			return nil, fmt.Errorf("subscribe policy channel: %w", err)
		}
		r.cleanupFuncs = append(r.cleanupFuncs, watcher.Close)
		if err := engine.SetWatcher(watcher); err != nil {
			r.cleanup()
			return nil, fmt.Errorf("attach policy watcher: %w", err)
		}
	}

	tokens, err := security.NewJWTIssuer(cfg.JWTSecret, cfg.JWTIssuer, cfg.TokenTTL)
	if err != nil {
		r.cleanup()
		return nil, fmt.Errorf("init jwt issuer: %w", err)
	}

	r.service = application.NewService(application.Dependencies{
		Config: application.Config{
			FailedLoginThreshold: cfg.FailedThreshold,
			LockoutDuration:      cfg.LockoutDuration,
		},
		Identities:   store.identities,
		Tenants:      store.tenants,
		Registration: store.registration,
		Policies:     store.policies,
		Enforcer:     engine,
		Lockouts:     store.lockouts,
		Revocations:  store.revocations,
		Hasher:       security.NewBcryptHasher(cfg.BcryptCost, cfg.HashWorkers),
		Tokens:       tokens,
		Metrics:      metrics,
	})

	handler := httpadapter.NewHandler(r.service,
		httpadapter.WithMetrics(metrics),
		httpadapter.WithRateLimit(cfg.AuthRateLimitPerSecond, cfg.AuthRateLimitBurst),
		httpadapter.WithTrustedProxies(cfg.TrustedProxies),
		httpadapter.WithReadiness(store.ready),
	)
	r.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           httpadapter.NewRouter(handler),
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.grpcServer, r.grpcHealth = grpcadapter.NewServer(r.service)

	publisher, err := r.newPublisher()
	if err != nil {
		r.cleanup()
		return nil, err
	}
	r.outbox = eventadapter.NewOutboxWorker(
		logger,
		store.outbox,
		publisher,
		cfg.OutboxPollInterval,
		cfg.OutboxBatchSize,
		cfg.OutboxClaimTTL,
		cfg.OutboxMaxRetries,
	)
	return r, nil
}

func (r *Runtime) openStorage(ctx context.Context) (storage, error) {
	if r.cfg.StorageDriver == StorageDriverMemory {
		r.logger.Warn("using in-memory storage; state is lost on restart")
		repos := memory.NewRepositories(memory.NewStore())
		return storage{
			identities:   repos.Identities,
			tenants:      repos.Tenants,
			registration: repos.Registration,
			policies:     repos.Policies,
			outbox:       repos.Outbox,
			lockouts:     memory.NewLockoutStore(),
			revocations:  memory.NewRevocationStore(),
		}, nil
	}

	db, err := postgres.Connect(ctx, r.cfg.DatabaseURL, r.cfg.MaxDBConns)
	if err != nil {
		return storage{}, fmt.Errorf("connect postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return storage{}, fmt.Errorf("gorm sql db: %w", err)
	}
	r.cleanupFuncs = append(r.cleanupFuncs, func() { _ = sqlDB.Close() })

	if err := postgres.RunMigrations(ctx, db); err != nil {
		return storage{}, fmt.Errorf("run migrations: %w", err)
	}

	redisClient, err := cacheadapter.Connect(ctx, r.cfg.RedisURL)
	if err != nil {
		return storage{}, fmt.Errorf("connect redis: %w", err)
	}
	r.cleanupFuncs = append(r.cleanupFuncs, func() { _ = redisClient.Close() })
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return storage{}, fmt.Errorf("ping redis: %w", err)
	}

	repos := postgres.NewRepositories(db)
	return storage{
		identities:   repos.Identities,
		tenants:      repos.Tenants,
		registration: repos.Registration,
		policies:     repos.Policies,
		outbox:       repos.Outbox,
		lockouts:     cacheadapter.NewRedisLockoutStore(redisClient),
		revocations:  cacheadapter.NewRedisTokenRevocationStore(redisClient),
		redis:        redisClient,
		ready: func(ctx context.Context) error {
			if err := postgres.Ping(ctx, db); err != nil {
				return err
			}
			return redisClient.Ping(ctx).Err()
		},
	}, nil
}

func (r *Runtime) newPublisher() (ports.EventPublisher, error) {
	if len(r.cfg.KafkaBrokers) == 0 {
		return eventadapter.NewLoggingPublisher(r.logger), nil
	}
	publisher, err := eventadapter.NewKafkaPublisher(r.cfg.KafkaBrokers, map[string]string{
		application.EventTenantRegistered:        r.cfg.OutboxTopic,
		application.EventTenantMemberAdded:       r.cfg.OutboxTopic,
		application.EventTenantMemberDeactivated: r.cfg.OutboxTopic,
		application.EventTenantRoleCreated:       r.cfg.OutboxTopic,
	})
	if err != nil {
		return nil, fmt.Errorf("init kafka publisher: %w", err)
	}
	r.cleanupFuncs = append(r.cleanupFuncs, func() { _ = publisher.Close() })
	return publisher, nil
}

func (r *Runtime) cleanup() {
	for i := len(r.cleanupFuncs) - 1; i >= 0; i-- {
		r.cleanupFuncs[i]()
	}
	r.cleanupFuncs = nil
}

func (r *Runtime) RunAPI(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer r.cleanup()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", r.cfg.GRPCPort))
	if err != nil {
		return fmt.Errorf("listen gRPC: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		r.logger.Info("http server started", "addr", r.httpServer.Addr)
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		r.logger.Info("grpc server started", "addr", lis.Addr().String())
		if err := r.grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	// The in-memory driver has no shared outbox consumer, so the API relays it.
	if r.cfg.StorageDriver == StorageDriverMemory {
		go func() {
			if err := r.outbox.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("outbox worker: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		r.logger.Info("shutdown signal received")
	case runErr = <-errCh:
		r.logger.Error("server failure", "error", runErr)
	}

	r.grpcHealth.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = r.httpServer.Shutdown(shutdownCtx)
	r.grpcServer.GracefulStop()
	return runErr
}

func (r *Runtime) RunWorker(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer r.cleanup()

	if r.cfg.StorageDriver == StorageDriverMemory {
		return errors.New("outbox worker requires the postgres storage driver")
	}

	r.logger.Info("outbox worker started")
	err := r.outbox.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
