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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/backend-dompet/internal/app"
	"github.com/noah-isme/backend-dompet/internal/auth"
	"github.com/noah-isme/backend-dompet/internal/category"
	"github.com/noah-isme/backend-dompet/internal/common"
	"github.com/noah-isme/backend-dompet/internal/config"
	"github.com/noah-isme/backend-dompet/internal/draft"
	"github.com/noah-isme/backend-dompet/internal/family"
	"github.com/noah-isme/backend-dompet/internal/health"
	"github.com/noah-isme/backend-dompet/internal/obs"
	"github.com/noah-isme/backend-dompet/internal/ocr"
	"github.com/noah-isme/backend-dompet/internal/ratelimit"
	"github.com/noah-isme/backend-dompet/internal/resilience"
	"github.com/noah-isme/backend-dompet/internal/security"
	"github.com/noah-isme/backend-dompet/internal/stats"
	"github.com/noah-isme/backend-dompet/internal/transaction"
)

const metricsNamespace = "dompet"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("env", cfg.AppEnv).Logger()

	obs.MustRegisterDomainMetrics(metricsNamespace, nil)
	resilience.MustRegister(prometheus.DefaultRegisterer)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", cfg.OTLPEndpoint != "")
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "dompet-api",
			Endpoint:      cfg.OTLPEndpoint,
			Exporter:      envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			SamplingRatio: cfg.SamplingRatio,
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

	deps, err := app.Open(context.Background(), cfg, logger, "dompet-api")
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise dependencies")
	}
	defer deps.Close()

	authHandler := &auth.Handler{Service: deps.Auth}
	authMiddleware := auth.Middleware{Tokens: deps.Auth}
	categoryHandler := &category.Handler{Service: deps.Categories}
	familyHandler := &family.Handler{Service: deps.Families}
	transactionHandler := &transaction.Handler{Service: deps.Transactions}
	statsHandler := &stats.Handler{Service: deps.Stats}
	ocrHandler := &ocr.Handler{Service: deps.OCR, MaxImageBytes: cfg.MaxBodyBytes}
	draftHandler := &draft.Handler{Service: deps.Drafts, Images: ocrHandler.Images}

	idem := common.Idem{R: deps.Redis, TTL: cfg.IdempotencyTTL}

	limiterErr := func(err error) { logger.Warn().Err(err).Msg("rate limiter unavailable") }
	authStore, err := ratelimit.NewRedisStore(deps.Redis, "dompet:ratelimit:auth")
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise auth rate limit store")
	}
	authLimiter, err := ratelimit.NewFixed(authStore, cfg.RateLimitAuth)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse RATE_LIMIT_AUTH")
	}
	authLimit := ratelimit.Handler{Limiter: authLimiter, Key: ratelimit.ByIP("auth"), OnError: limiterErr}

	scanLimiter, err := ratelimit.NewSliding(deps.Redis, "dompet:ratelimit:scan", cfg.RateLimitScan)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse RATE_LIMIT_SCAN")
	}
	scanLimit := ratelimit.Handler{Limiter: scanLimiter, Key: ratelimit.ByUser("scan"), OnError: limiterErr}

	buckets := obs.ParseBucketsCSV(cfg.MetricsBuckets)
	httpMetrics := obs.NewHTTPMetrics(metricsNamespace, buckets, nil)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Retry-After", "X-RateLimit-Remaining"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(security.BodyLimit{Max: cfg.MaxBodyBytes}.Middleware)

	r.Handle("/metrics", promhttp.Handler())
	if cfg.PprofEnabled {
		user := envOrDefault("SECURE_PPROF_BASIC_AUTH_USER", "")
		pass := envOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", "")
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), user, pass))
	}

	healthHandler := health.Handler{
		Checker:      deps,
		DBTimeout:    envDurationMillis("HEALTH_READY_DB_TIMEOUT_MS", 500),
		RedisTimeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Handle("/uploads/*", deps.Uploads.Handler())

	r.Route("/api", func(v chi.Router) {
		v.Use(security.Headers{
			Enable:     true,
			EnableHSTS: cfg.IsProduction(),
			HSTSMaxAge: 31536000,
			NoStore:    true,
		}.Middleware)

		v.Route("/auth", func(a chi.Router) {
			a.Group(func(public chi.Router) {
				public.Use(authLimit.Middleware)
				public.Post("/register", authHandler.Register)
				public.Post("/login", authHandler.Login)
				public.Post("/refresh", authHandler.Refresh)
			})
			a.Post("/logout", authHandler.Logout)

			a.Group(func(protected chi.Router) {
				protected.Use(authMiddleware.RequireAuth)
				protected.Get("/me", authHandler.Me)
				protected.Put("/profile", authHandler.UpdateProfile)
			})
		})

		v.Group(func(authR chi.Router) {
			authR.Use(authMiddleware.RequireAuth)

			authR.Route("/categories", func(c chi.Router) {
				c.Get("/", categoryHandler.List)
				c.Post("/", categoryHandler.Create)
			})

			authR.Route("/families", func(f chi.Router) {
				f.Post("/", familyHandler.Create)
				f.Put("/", familyHandler.Update)
				f.Post("/join", familyHandler.Join)
				f.Post("/leave", familyHandler.Leave)
				f.Get("/members", familyHandler.Members)
				f.Delete("/members/{memberID}", familyHandler.Kick)
			})

			authR.Route("/transactions", func(t chi.Router) {
				t.Get("/", transactionHandler.List)
				t.Get("/recent", transactionHandler.Recent)
				t.Get("/{id}", transactionHandler.Get)
				t.Delete("/{id}", transactionHandler.Delete)
				t.Group(func(g chi.Router) {
					g.Use(idem.Middleware)
					g.Post("/", transactionHandler.Create)
					g.Put("/{id}", transactionHandler.Update)
				})
			})

			authR.Get("/stats/dashboard", statsHandler.Dashboard)
			authR.Get("/stats/report", statsHandler.Report)

			authR.With(scanLimit.Middleware).Post("/ocr/scan", ocrHandler.Scan)

			authR.Mount("/drafts", draftHandler.Routes(scanLimit.Middleware, idem.Middleware))

			authR.Post("/compose", draftHandler.Compose)
		})
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	}()

	<-ctx.Done()
	health.SetReady(false)
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), envDurationMillis("SHUTDOWN_TIMEOUT_MS", 15000))
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown")
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
