package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/xmoney-bridge/internal/auth"
	"github.com/noah-isme/xmoney-bridge/internal/cart"
	"github.com/noah-isme/xmoney-bridge/internal/common"
	"github.com/noah-isme/xmoney-bridge/internal/config"
	"github.com/noah-isme/xmoney-bridge/internal/db"
	"github.com/noah-isme/xmoney-bridge/internal/events"
	"github.com/noah-isme/xmoney-bridge/internal/health"
	"github.com/noah-isme/xmoney-bridge/internal/obs"
	"github.com/noah-isme/xmoney-bridge/internal/order"
	"github.com/noah-isme/xmoney-bridge/internal/payment"
	"github.com/noah-isme/xmoney-bridge/internal/ratelimit"
	"github.com/noah-isme/xmoney-bridge/internal/security"
	"github.com/noah-isme/xmoney-bridge/internal/settings"
	"github.com/noah-isme/xmoney-bridge/internal/xmoney"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "xmoney")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		sampling := envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0)
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "xmoney-bridge",
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			Exporter:      envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			SamplingRatio: sampling,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	if cfg.RunMigrations {
		if err := runMigrations(cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("run migrations")
		}
		logger.Info().Msg("migrations applied")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "xmoney-bridge"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metricsEnabled {
		if err := redisotel.InstrumentMetrics(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}

	settingsStore := settings.PGStore{Pool: pool}
	seeded, err := settings.Seed(ctx, settingsStore, cfg.BootstrapPublicKey, cfg.BootstrapSecretKey)
	if err != nil {
		logger.Error().Err(err).Msg("seed xmoney credentials")
	} else if seeded {
		logger.Info().Msg("xmoney credentials seeded from environment")
	}
	resolver := settings.Resolver{Store: settingsStore}
	validate := settings.NewValidator()

	orders := order.PGStore{Pool: pool}
	carts := &cart.RedisStore{Client: redisClient, TTL: cfg.CartTTL}

	notifiers := []events.Notifier{}
	if len(cfg.KafkaBrokers) > 0 {
		writer := events.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer func() {
			if err := writer.Close(); err != nil {
				logger.Error().Err(err).Msg("close kafka writer")
			}
		}()
		notifiers = append(notifiers, events.KafkaNotifier{Writer: writer, Timeout: 5 * time.Second})
	}
	bus := &events.Bus{Store: events.PGStore{Pool: pool}, Notifiers: notifiers}

	verifier := xmoney.NewClient(xmoney.ClientConfig{
		Settings:            resolver,
		LiveURL:             cfg.XMoneyLiveURL,
		TestURL:             cfg.XMoneyTestURL,
		Timeout:             cfg.VerifyTimeout,
		MaxAttempts:         cfg.VerifyMaxAttempts,
		Backoff:             cfg.VerifyBackoff,
		BreakerMinRequests:  cfg.BreakerMinRequests,
		BreakerFailureRatio: cfg.BreakerFailureRatio,
		BreakerOpenFor:      cfg.BreakerOpenFor,
		Logger:              logger.With().Str("component", "xmoney").Logger(),
	})

	builder := &payment.Builder{
		Settings:    resolver,
		Orders:      orders,
		Carts:       carts,
		CheckoutURL: cfg.CheckoutURL,
		SiteName:    cfg.SiteName,
		Logger:      logger.With().Str("component", "intent").Logger(),
	}
	reconciler := &payment.Reconciler{
		Orders:   orders,
		Carts:    carts,
		Verifier: verifier,
		Events:   bus,
		Logger:   logger.With().Str("component", "reconcile").Logger(),
	}
	paymentHandler := &payment.Handler{
		Builder:          builder,
		Reconciler:       reconciler,
		Gateway:          resolver,
		Validate:         validate,
		CheckoutURL:      cfg.CheckoutURL,
		OrderReceivedURL: cfg.OrderReceivedURL,
		Logger:           logger,
	}
	ipnHandler := &payment.IPNHandler{
		Reconciler: reconciler,
		Replay:     payment.RedisReplayGuard{Client: redisClient},
		ReplayTTL:  cfg.IPNReplayTTL,
		Logger:     logger.With().Str("component", "ipn").Logger(),
	}
	ipnLimit := security.BodyLimit{
		Max:      cfg.IPNBodyLimitBytes,
		OnReject: func(*http.Request) { obs.ObserveNotification("too_large") },
	}

	settingsHandler := &settings.Handler{
		Resolver:     resolver,
		Validate:     validate,
		SDKURL:       cfg.XMoneySDKURL,
		StoreCountry: cfg.StoreCountry,
		Logger:       logger,
	}
	cartHandler := &cart.Handler{Store: carts, Validate: validate}

	var admin *auth.Admin
	if cfg.AdminJWTSecret != "" {
		admin, err = auth.NewAdmin(auth.Config{
			Secret:   cfg.AdminJWTSecret,
			Issuer:   cfg.AdminJWTIssuer,
			Audience: cfg.AdminJWTAudience,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("initialise admin auth")
		}
	} else {
		logger.Warn().Msg("ADMIN_JWT_SECRET not set; admin routes disabled")
	}
	adminMiddleware := auth.Middleware{Admin: admin, Logger: logger}
	idem := common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL}

	checkoutLimit := ratelimit.Handler{
		Limiter: ratelimit.Limiter{Client: redisClient},
		Config: ratelimit.Config{
			Key:    ratelimit.ClientIPKey("checkout"),
			Window: cfg.CheckoutRateWindow,
			Max:    cfg.CheckoutRateLimitMax,
		},
		OnError: func(err error) { logger.Warn().Err(err).Msg("rate limiter unavailable") },
	}
	csrf := security.CSRF{Header: cfg.CSRFHeader, Secure: cfg.IsProduction()}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, buckets, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if metricsEnabled && httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{
		Enable:     envBool("SECURE_HEADERS_ENABLED", true),
		EnableHSTS: cfg.IsProduction(),
		HSTSMaxAge: envInt("SECURE_HSTS_MAX_AGE", 31536000),
	}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", csrf.Header, cart.SessionHeader, common.IdempotencyHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if envBool("OBS_ENABLE_PPROF", false) {
		user := envOrDefault("SECURE_PPROF_BASIC_AUTH_USER", "")
		pass := envOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", "")
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), user, pass))
	}

	healthHandler := health.Handler{
		Checker:      readinessChecker{db: pool, redis: redisClient},
		DBTimeout:    envDurationMillis("HEALTH_READY_DB_TIMEOUT_MS", 500),
		RedisTimeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
		Settings:     resolver,
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	// Notification URL registered on existing processor accounts.
	r.With(ipnLimit.Middleware).Post("/xmoney-wc-ipn", ipnHandler.ServeHTTP)

	r.Route("/api/v1", func(v chi.Router) {
		v.With(ipnLimit.Middleware).Post("/webhooks/xmoney", ipnHandler.ServeHTTP)

		v.Route("/xmoney", func(x chi.Router) {
			x.Use(security.NoStore)
			x.Use(cart.Session(cfg.SessionCookieName, cfg.IsProduction()))
			x.Get("/csrf", csrf.Issue)
			x.Get("/checkout-config", settingsHandler.CheckoutConfig)
			x.Get("/tentative", paymentHandler.Tentative)
			x.Get("/orders/{id}/status", paymentHandler.OrderStatus)
			x.Get("/cart", cartHandler.Get)

			x.Group(func(g chi.Router) {
				g.Use(csrf.Middleware)
				g.Use(checkoutLimit.Middleware)
				g.Put("/cart", cartHandler.Put)
				g.Post("/intent/order", paymentHandler.OrderIntent)
				g.Post("/intent/cart", paymentHandler.CartIntent)
				g.Post("/complete", paymentHandler.Complete)
				g.Post("/process", paymentHandler.Process)
			})
		})

		v.Route("/admin/xmoney", func(a chi.Router) {
			a.Use(security.NoStore)
			a.Use(adminMiddleware.RequireAdmin)
			a.Get("/settings", settingsHandler.Get)
			a.With(idem.Middleware).Put("/settings", settingsHandler.Save)
		})
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	case <-sigCtx.Done():
		shutdownServer(srv, logger)
	}
}

func shutdownServer(srv *http.Server, logger zerolog.Logger) {
	health.SetReady(false)
	grace := envDurationMillis("SHUTDOWN_GRACE_MS", 10000)
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	logger.Info().Dur("grace", grace).Msg("server draining")
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server shutdown")
	}
}

func runMigrations(databaseURL string) error {
	m, err := db.New(databaseURL)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close(m) }()
	return db.Up(m)
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

type readinessChecker struct {
	db    *pgxpool.Pool
	redis *redis.Client
}

func (c readinessChecker) PingDB(ctx context.Context, timeout time.Duration) error {
	if c.db == nil {
		return errors.New("db not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.db.Ping(ctx)
}

func (c readinessChecker) PingRedis(ctx context.Context, timeout time.Duration) error {
	if c.redis == nil {
		return errors.New("redis not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.redis.Ping(ctx).Err()
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDurationMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
