package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/utafrali/authcore/internal/captcha"
	"github.com/utafrali/authcore/internal/config"
	handler "github.com/utafrali/authcore/internal/handler/http"
	"github.com/utafrali/authcore/internal/hasher"
	"github.com/utafrali/authcore/internal/notifier"
	"github.com/utafrali/authcore/internal/oauth"
	"github.com/utafrali/authcore/internal/repository"
	"github.com/utafrali/authcore/internal/repository/memory"
	"github.com/utafrali/authcore/internal/repository/postgres"
	"github.com/utafrali/authcore/internal/service"
	"github.com/utafrali/authcore/internal/token"
	"github.com/utafrali/authcore/migrations"
	"github.com/utafrali/authcore/pkg/database"
	"github.com/utafrali/authcore/pkg/health"
	"github.com/utafrali/authcore/pkg/httpclient"
	pkgkafka "github.com/utafrali/authcore/pkg/kafka"
	"github.com/utafrali/authcore/pkg/logger"
	"github.com/utafrali/authcore/pkg/middleware"
	"github.com/utafrali/authcore/pkg/tracing"
)

const serviceName = "auth"

// App wires together all dependencies and runs the auth service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *redis.Client
	producer       *pkgkafka.Producer
	service        *service.AuthService
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, log *slog.Logger) (_ *App, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: log}
	defer func() {
		if err != nil {
			a.closeBackends()
		}
	}()

	a.tracerShutdown, err = tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
		Insecure:       cfg.OTELInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	registry.MustRegister(httpclient.Collectors()...)

	healthHandler := health.NewHandler()

	store, err := a.newStore(ctx, registry, healthHandler)
	if err != nil {
		return nil, err
	}

	mailer, err := a.newNotifier(healthHandler)
	if err != nil {
		return nil, err
	}

	google, err := a.newGoogle(ctx, healthHandler)
	if err != nil {
		return nil, err
	}

	signer, err := token.NewSigner(token.Config{
		AccessSecret:  cfg.JWTSecret,
		AccessTTL:     cfg.JWTAccessTTL,
		RefreshSecret: cfg.RefreshJWTSecret,
		RefreshTTL:    cfg.JWTRefreshTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("create token signer: %w", err)
	}

	a.service, err = service.NewAuthService(service.Config{
		VerificationTokenTTL:  cfg.VerificationTokenTTL,
		PasswordResetTokenTTL: cfg.PasswordResetTokenTTL,
		PendingTermsAccessTTL: cfg.PendingTermsAccessTTL,
		UnsubscribeTokenTTL:   cfg.UnsubscribeTokenTTL,
		NotifyTimeout:         cfg.NotifyTimeout,
	}, service.Deps{
		Store: store,
		Hasher: hasher.New(hasher.Params{
			Time:      cfg.Argon2Time,
			MemoryKiB: cfg.Argon2MemoryKiB,
			Threads:   cfg.Argon2Threads,
		}),
		Signer:   signer,
		Notifier: mailer,
		Captcha:  a.newCaptcha(),
		Logger:   log,
	}, service.WithMetrics(service.NewMetrics(registry)))
	if err != nil {
		return nil, fmt.Errorf("create auth service: %w", err)
	}

	router := handler.NewRouter(handler.RouterConfig{
		Service:     a.service,
		Google:      google,
		Health:      healthHandler,
		Logger:      log,
		CORS:        middleware.DefaultCORSConfig(cfg.CORSAllowedOrigins...),
		FrontendURL: cfg.FrontendURL,
		ServiceName: serviceName,
		Registerer:  registry,
		Gatherer:    registry,
	})

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

func (a *App) newStore(ctx context.Context, reg prometheus.Registerer, h *health.Handler) (repository.AccountStore, error) {
	cfg := a.cfg
	if cfg.StoreDriver == config.StoreMemory {
		a.logger.Warn("using in-memory account store; accounts are lost on restart")
		return memory.NewAccountStore(), nil
	}

	pool, err := database.NewPostgresPool(ctx, &database.PostgresConfig{
		Host:            cfg.PostgresHost,
		Port:            cfg.PostgresPort,
		User:            cfg.PostgresUser,
		Password:        cfg.PostgresPass,
		DBName:          cfg.PostgresDB,
		SSLMode:         cfg.PostgresSSL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnLifetime: time.Duration(cfg.DBMaxConnLifetimeMins) * time.Minute,
		MaxConnIdleTime: time.Duration(cfg.DBMaxConnIdleTimeMins) * time.Minute,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	a.pool = pool
	a.logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)

	if err := database.RunMigrations(ctx, pool, migrations.FS, a.logger); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	a.logger.Info("database migrations completed")

	reg.MustRegister(database.NewPoolStatsCollector(pool, serviceName))
	h.Register("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})

	return postgres.NewAccountStore(pool, a.logger), nil
}

func (a *App) newNotifier(h *health.Handler) (notifier.Notifier, error) {
	cfg := a.cfg
	links := notifier.Links{FrontendURL: cfg.FrontendURL}

	switch cfg.NotifierDriver {
	case config.NotifierKafka:
		a.producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), a.logger)
		a.logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
		h.RegisterNonCritical("kafka", func(ctx context.Context) error {
			return a.producer.Ping(ctx)
		})
		return notifier.NewKafka(a.producer, links), nil

	case config.NotifierPostmark:
		pm, err := notifier.NewPostmark(notifier.PostmarkConfig{
			ServerToken:  cfg.PostmarkServerToken,
			AccountToken: cfg.PostmarkAccountToken,
			SenderEmail:  cfg.SenderEmail,
			SupportEmail: cfg.SupportEmail,
		}, links)
		if err != nil {
			return nil, fmt.Errorf("create postmark notifier: %w", err)
		}
		return pm, nil

	default:
		a.logger.Warn("emails are logged, not delivered")
		return notifier.NewLog(a.logger, links), nil
	}
}

// newGoogle returns nil when Google sign-in is not configured. The interface
// return keeps a nil provider untyped for the router.
func (a *App) newGoogle(ctx context.Context, h *health.Handler) (handler.OAuthProvider, error) {
	cfg := a.cfg
	if !cfg.GoogleEnabled() {
		return nil, nil
	}

	client, err := database.NewRedisClient(ctx, database.RedisConfig{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		PoolSize: cfg.RedisPoolSize,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	a.redis = client
	a.logger.Info("connected to Redis", slog.String("addr", fmt.Sprintf("%s:%d", cfg.RedisHost, cfg.RedisPort)))
	h.Register("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})

	return oauth.NewGoogle(oauth.GoogleConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		StateTTL:     cfg.GoogleStateTTL,
		VerifiedOnly: true,
	}, oauth.NewStateStore(client), httpclient.New(httpclient.DefaultConfig()).HTTPClient(), a.logger), nil
}

func (a *App) newCaptcha() captcha.Verifier {
	if !a.cfg.RecaptchaEnabled {
		return captcha.Disabled{}
	}
	client := httpclient.NewCircuitBreakerClient(
		httpclient.New(httpclient.DefaultConfig()),
		httpclient.DefaultCircuitBreakerConfig("recaptcha"),
		a.logger,
	)
	return captcha.NewRecaptcha(client, captcha.RecaptchaConfig{
		Secret:    a.cfg.RecaptchaSecretKey,
		VerifyURL: a.cfg.RecaptchaVerifyURL,
		MinScore:  a.cfg.RecaptchaMinScore,
	}, a.logger)
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server", slog.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return errors.Join(err, a.Shutdown())
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components in order:
// 1. HTTP server (drain in-flight requests)
// 2. Pending notifications
// 3. Tracer
// 4. Kafka producer, Redis and PostgreSQL
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", logger.Err(err))
		errs = append(errs, err)
	}

	// Notifications still in flight are bounded by NOTIFY_TIMEOUT.
	a.service.Wait()

	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", logger.Err(err))
			errs = append(errs, err)
		}
	}

	errs = append(errs, a.closeBackends())

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeBackends() error {
	var errs []error
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", logger.Err(err))
			errs = append(errs, err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("redis close error", logger.Err(err))
			errs = append(errs, err)
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	return errors.Join(errs...)
}
