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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	limiter "github.com/ulule/limiter/v3"

	"github.com/lapak-dev/backend-lapak/internal/app"
	"github.com/lapak-dev/backend-lapak/internal/auth"
	"github.com/lapak-dev/backend-lapak/internal/cart"
	"github.com/lapak-dev/backend-lapak/internal/catalog"
	"github.com/lapak-dev/backend-lapak/internal/checkout"
	"github.com/lapak-dev/backend-lapak/internal/common"
	"github.com/lapak-dev/backend-lapak/internal/config"
	"github.com/lapak-dev/backend-lapak/internal/events"
	"github.com/lapak-dev/backend-lapak/internal/health"
	"github.com/lapak-dev/backend-lapak/internal/lock"
	"github.com/lapak-dev/backend-lapak/internal/notify"
	"github.com/lapak-dev/backend-lapak/internal/obs"
	"github.com/lapak-dev/backend-lapak/internal/order"
	"github.com/lapak-dev/backend-lapak/internal/payment"
	"github.com/lapak-dev/backend-lapak/internal/ratelimit"
	"github.com/lapak-dev/backend-lapak/internal/resilience"
	"github.com/lapak-dev/backend-lapak/internal/security"
	"github.com/lapak-dev/backend-lapak/internal/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "lapak")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "lapak-api",
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			Exporter:      envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			SamplingRatio: envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0),
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

	buildCtx, cancelBuild := context.WithTimeout(context.Background(), 10*time.Second)
	deps, err := app.Build(buildCtx, cfg, logger)
	cancelBuild()
	if err != nil {
		logger.Fatal().Err(err).Msg("build dependencies")
	}
	defer deps.Close(logger)

	var notifiers []events.Notifier
	if endpoint := envOrDefault("WEBHOOK_ENDPOINT", ""); endpoint != "" {
		webhook, err := notify.NewWebhook(
			endpoint,
			envOrDefault("WEBHOOK_SECRET", ""),
			strings.Split(envOrDefault("WEBHOOK_TOPICS", ""), ","),
			resilience.HTTPClient{
				Client:      notify.HTTPClient(5 * time.Second),
				Breaker:     resilience.NewBreaker(5, 0.5, 30*time.Second).WithTarget("webhook").WithLogger(logger),
				BaseBackoff: 200 * time.Millisecond,
				MaxAttempts: 3,
				Jitter:      0.2,
			},
		)
		if err != nil {
			logger.Fatal().Err(err).Msg("configure webhook notifier")
		}
		notifiers = append(notifiers, webhook)
	}
	bus := &events.Bus{
		Store:     deps.Queries,
		Scheduler: tasks.Scheduler{Client: deps.Tasks},
		Notifiers: notifiers,
	}

	authSvc, err := auth.NewService(auth.Config{
		Queries:         deps.Queries,
		Bus:             bus,
		Secret:          cfg.JWTSecret,
		AccessTokenTTL:  cfg.AccessTokenTTL,
		RefreshTokenTTL: cfg.RefreshTokenTTL,
		Issuer:          cfg.JWTIssuer,
		Audience:        cfg.JWTAudience,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise auth service")
	}
	accessCookie := envOrDefault("AUTH_ACCESS_COOKIE", "lapak_access")
	authHandler := &auth.Handler{
		Service:           authSvc,
		AccessCookieName:  accessCookie,
		RefreshCookieName: envOrDefault("AUTH_REFRESH_COOKIE", "lapak_refresh"),
		CookieDomain:      cfg.CookieDomain,
		CookieSecure:      cfg.CookieSecure,
		CookieSameSite:    cfg.CookieSameSite,
	}
	authMW := auth.Middleware{Service: authSvc, AccessCookie: accessCookie}

	catalogSvc, err := catalog.NewService(catalog.ServiceConfig{
		Queries:  deps.Queries,
		Cache:    catalog.NewCache(deps.Redis, cfg.CatalogCacheTTL),
		Bus:      bus,
		Validate: deps.Validator,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise catalog service")
	}
	catalogHandler := catalog.NewHandler(catalog.HandlerConfig{Service: catalogSvc})

	cartHandler := &cart.Handler{Svc: &cart.Service{Q: deps.Queries}}

	gateway := buildGateway(cfg, logger)
	checkoutHandler := &checkout.Handler{Svc: &checkout.Service{
		Runner:  checkout.PoolRunner{Pool: deps.Pool, Q: deps.Queries},
		Gateway: gateway,
		Events:  bus,
		Locker:  &lock.Locker{Client: deps.Redis},
	}}

	orderHandler := &order.Handler{Q: deps.Queries}

	idem := common.Idem{R: deps.Redis, TTL: cfg.CheckoutIdemTTL}
	authLimit := func(action string) func(http.Handler) http.Handler {
		return ratelimit.Handler{
			Limiter: ratelimit.Limiter{Client: deps.Redis, Prefix: "ratelimit:auth:"},
			Config: ratelimit.Config{
				Key:    ratelimit.KeyByIP(action),
				Window: cfg.LoginRateWindow,
				Max:    cfg.LoginRateMax,
			},
			OnError: func(err error) { logger.Error().Err(err).Msg("auth rate limit") },
		}.Middleware
	}

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
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"X-Total-Count", "X-RateLimit-Remaining"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(security.Headers{
		Enable:     envBool("SECURE_HEADERS_ENABLED", true),
		EnableHSTS: envBool("SECURE_HSTS_ENABLED", cfg.AppEnv == "production"),
	}.Middleware)
	r.Use(security.BodyLimit{Max: int64(envInt("SECURE_MAX_BODY_BYTES", 1<<20))}.Middleware)

	healthHandler := health.Handler{
		Checker:      deps,
		DBTimeout:    envDurationMillis("HEALTH_READY_DB_TIMEOUT_MS", 500),
		RedisTimeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
	}
	r.Get("/healthz", healthHandler.Live)
	r.Get("/readyz", healthHandler.Ready)
	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(globalRateLimit(deps.Limiter, logger))

		v.Get("/products", catalogHandler.Products)
		v.Get("/products/{productID}", catalogHandler.ProductDetail)
		v.Get("/categories", catalogHandler.Categories)

		v.Route("/auth", func(a chi.Router) {
			a.With(authLimit("register")).Post("/register", authHandler.Register)
			a.With(authLimit("login")).Post("/login", authHandler.Login)
			a.Post("/refresh", authHandler.Refresh)
			a.Post("/logout", authHandler.Logout)
			a.With(authMW.RequireAuth).Get("/me", authHandler.Me)
		})

		v.Route("/cart", func(c chi.Router) {
			c.Use(authMW.RequireAuth)
			c.Get("/", cartHandler.Get)
			c.Delete("/", cartHandler.Clear)
			c.Post("/items", cartHandler.AddItem)
			c.Put("/items/{productID}", cartHandler.UpdateItem)
			c.Delete("/items/{productID}", cartHandler.RemoveItem)
		})

		v.With(authMW.RequireAuth, idem.Middleware).Post("/checkout", checkoutHandler.Checkout)

		v.Group(func(g chi.Router) {
			g.Use(authMW.RequireAuth)
			g.Get("/orders", orderHandler.List)
			g.Get("/orders/{orderID}", orderHandler.Get)
		})

		v.Route("/admin", func(ad chi.Router) {
			ad.Use(authMW.RequireRole(auth.RoleAdmin))
			ad.Post("/products", catalogHandler.CreateProduct)
		})
	})

	if envBool("OBS_ENABLE_PPROF", true) {
		pprofSrv := &http.Server{
			Addr: envOrDefault("OBS_PPROF_ADDR", ":6060"),
			Handler: protectPprof(
				http.StripPrefix("/debug/pprof", newPprofMux()),
				envOrDefault("SECURE_PPROF_BASIC_AUTH_USER", ""),
				envOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", ""),
			),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info().Str("addr", pprofSrv.Addr).Msg("pprof listening")
			if err := pprofSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("pprof server")
			}
		}()
		defer func() { _ = pprofSrv.Close() }()
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	case <-ctx.Done():
	}

	health.SetReady(false)
	logger.Info().Dur("timeout", cfg.ShutdownTimeout).Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown")
	}
}

// buildGateway selects the configured payment provider. Only the sandbox ships;
// unknown names fall back to it rather than refusing to boot.
func buildGateway(cfg *config.Config, logger zerolog.Logger) payment.Gateway {
	var gw payment.Gateway
	switch strings.ToLower(strings.TrimSpace(cfg.PaymentProvider)) {
	case "", "sandbox":
		gw = payment.NewSandboxGateway(declineAmounts(envOrDefault("PAYMENT_DECLINE_AMOUNTS", ""))...)
	default:
		logger.Warn().Str("provider", cfg.PaymentProvider).Msg("unknown payment provider, using sandbox")
		gw = payment.NewSandboxGateway()
	}
	breaker := resilience.NewBreaker(
		envInt("PAYMENT_BREAKER_MIN_REQUESTS", 10),
		envFloat("PAYMENT_BREAKER_FAILURE_RATIO", 0.6),
		envDurationMillis("PAYMENT_BREAKER_OPEN_MS", 20000),
	).WithTarget("payment").WithLogger(logger)
	return payment.Guard(gw, breaker)
}

// declineAmounts parses a comma separated list of amounts in minor units.
func declineAmounts(csv string) []int64 {
	var amounts []int64
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		amount, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			continue
		}
		amounts = append(amounts, amount)
	}
	return amounts
}

// globalRateLimit applies the shared per-IP limit. Store errors fail open so a
// Redis hiccup does not take the API down with it.
func globalRateLimit(l *limiter.Limiter, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if l == nil {
				next.ServeHTTP(w, r)
				return
			}
			lctx, err := l.Get(r.Context(), l.GetIPKey(r))
			if err != nil {
				logger.Error().Err(err).Msg("global rate limit")
				next.ServeHTTP(w, r)
				return
			}
			headers := w.Header()
			headers.Set("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
			headers.Set("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
			headers.Set("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))
			if lctx.Reached {
				common.JSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests, slow down", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
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
	mux.Handle("/allocs", pprof.Handler("allocs"))
	mux.Handle("/block", pprof.Handler("block"))
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	mux.Handle("/mutex", pprof.Handler("mutex"))
	mux.Handle("/threadcreate", pprof.Handler("threadcreate"))
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
