package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"

	"github.com/vyakhyaagoyal/Techmentorx-Cybirbs/pkg/auth"
	"github.com/vyakhyaagoyal/Techmentorx-Cybirbs/pkg/engagement"
	"github.com/vyakhyaagoyal/Techmentorx-Cybirbs/pkg/httpx"
	"github.com/vyakhyaagoyal/Techmentorx-Cybirbs/pkg/metrics"
	"github.com/vyakhyaagoyal/Techmentorx-Cybirbs/pkg/policy"
	"github.com/vyakhyaagoyal/Techmentorx-Cybirbs/pkg/ratelimit"
	"github.com/vyakhyaagoyal/Techmentorx-Cybirbs/pkg/routes"
	"github.com/vyakhyaagoyal/Techmentorx-Cybirbs/pkg/store"
	"github.com/vyakhyaagoyal/Techmentorx-Cybirbs/pkg/stream"
	"github.com/vyakhyaagoyal/Techmentorx-Cybirbs/pkg/telemetry"
)

type Server struct {
	DB                  apiDB
	Cache               store.Cache
	Metrics             *metrics.Registry
	Events              *stream.Hub
	Engagement          *engagement.Client
	Limits              ratelimit.Store
	Tiers               map[string]policy.Tier
	Verifier            auth.Verifier
	AuthTimeout         time.Duration
	TrustedProxyCIDRs   []*net.IPNet
	EngagementCacheTTL  time.Duration
	MaxRequestBodyBytes int64
	WeakTopicThreshold  float64
}

type apiDB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type apiDBCloser interface {
	apiDB
	Close()
}

type apiInitTelemetryFunc func(ctx context.Context, service string) (func(context.Context) error, error)
type apiOpenDBFunc func(ctx context.Context) (apiDBCloser, error)
type apiOpenRedisFunc func(ctx context.Context) (*redis.Client, error)
type apiListenFunc func(server *http.Server) error
type apiStartLoopsFunc func(s *Server)

// Testable variables for main()
var (
	logFatalf     = log.Fatalf
	initTelemetry = telemetry.Init
	openRedisFn   = store.NewRedis
	listenFn      = func(server *http.Server) error { return server.ListenAndServe() }
	startLoopsFn  = func(s *Server) { s.startEngagementConsumer(context.Background()) }
	openDBFn      = func(ctx context.Context) (apiDBCloser, error) {
		pool, err := store.NewPostgresPool(ctx)
		if err != nil {
			return nil, err
		}
		return pool, nil
	}
)

func main() {
	if err := runAPI(initTelemetry, openDBFn, openRedisFn, listenFn, startLoopsFn); err != nil {
		logFatalf("api: %v", err)
	}
}

func runAPI(
	initTelemetry apiInitTelemetryFunc,
	openDB apiOpenDBFunc,
	openRedis apiOpenRedisFunc,
	listen apiListenFunc,
	startLoops apiStartLoopsFunc,
) error {
	ctx := context.Background()
	shutdown, err := initTelemetry(ctx, "dashboard-api")
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	pool, err := openDB(ctx)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer pool.Close()

	redisClient, err := openRedis(ctx)
	if err != nil {
		log.Printf("redis unavailable, falling back to in-memory cache/limits: %v", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	secret := strings.TrimSpace(env("AUTH_HS256_SECRET", ""))
	if secret == "" {
		return errors.New("AUTH_HS256_SECRET is required")
	}

	maxRequestBodyBytes := int64(envInt("MAX_REQUEST_BODY_BYTES", 1<<20))
	if maxRequestBodyBytes <= 0 {
		maxRequestBodyBytes = 1 << 20
	}
	engagementCacheTTL := time.Second * time.Duration(envInt("ENGAGEMENT_CACHE_TTL_SEC", 300))
	if engagementCacheTTL <= 0 {
		engagementCacheTTL = 5 * time.Minute
	}

	s := &Server{
		DB:      pool,
		Cache:   store.NewCache(ctx, redisClient),
		Metrics: metrics.NewRegistry(),
		Events:  stream.NewHub(),
		Engagement: &engagement.Client{
			BaseURL:    strings.TrimRight(env("ENGAGEMENT_URL", "http://localhost:8000"), "/"),
			HTTP:       telemetry.InstrumentClient(&http.Client{Timeout: time.Millisecond * time.Duration(envInt("ENGAGEMENT_TIMEOUT_MS", 3000))}),
			AuthHeader: env("ENGAGEMENT_AUTH_HEADER", ""),
			AuthToken:  env("ENGAGEMENT_AUTH_TOKEN", ""),
			Retries:    envInt("ENGAGEMENT_RETRIES", 1),
			RetryDelay: time.Millisecond * time.Duration(envInt("ENGAGEMENT_RETRY_DELAY_MS", 50)),
		},
		Tiers: loadTiers(),
		Verifier: auth.JWTVerifier{
			Secret:   []byte(secret),
			Issuer:   env("AUTH_ISSUER", ""),
			Audience: env("AUTH_AUDIENCE", ""),
			Leeway:   time.Second * time.Duration(envInt("AUTH_LEEWAY_SEC", 30)),
		},
		AuthTimeout:         time.Millisecond * time.Duration(envInt("AUTH_TIMEOUT_MS", 5000)),
		TrustedProxyCIDRs:   httpx.ParseCIDRs(env("TRUSTED_PROXY_CIDRS", "")),
		EngagementCacheTTL:  engagementCacheTTL,
		MaxRequestBodyBytes: maxRequestBodyBytes,
		WeakTopicThreshold:  envFloat("WEAK_TOPIC_THRESHOLD", 0.6),
	}
	if env("RATE_LIMIT_ENABLED", "true") == "true" {
		if redisClient != nil {
			s.Limits = ratelimit.NewRedis(redisClient)
		} else {
			s.Limits = ratelimit.NewInMemory()
		}
	} else {
		log.Printf("rate limiting disabled by RATE_LIMIT_ENABLED=false")
	}

	r := chi.NewRouter()
	r.Use(httpx.CORSMiddleware(env("CORS_ALLOWED_ORIGINS", "")))
	r.Use(httpx.SecurityHeadersMiddleware)
	r.Use(s.metricsMiddleware)
	r.Use(telemetry.HTTPMiddleware("dashboard-api"))
	r.Use(s.limitRequestBodyMiddleware)
	r.NotFound(httpx.NotFoundHandler())
	r.MethodNotAllowed(httpx.MethodNotAllowedHandler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, 200, map[string]string{"status": "ok", "service": "dashboard-api"})
	})

	registry := &routes.Registry{
		Verifier:       s.Verifier,
		AuthTimeout:    s.AuthTimeout,
		Limits:         s.Limits,
		Tiers:          s.Tiers,
		TrustedProxies: s.TrustedProxyCIDRs,
	}
	if err := registry.Mount(r, s.modules()); err != nil {
		return err
	}

	if startLoops != nil {
		startLoops(s)
	}

	addr := env("ADDR", ":8080")
	log.Printf("dashboard api listening on %s", addr)
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: envDurationSec("HTTP_READ_HEADER_TIMEOUT_SEC", 5),
		ReadTimeout:       envDurationSec("HTTP_READ_TIMEOUT_SEC", 15),
		WriteTimeout:      envDurationSec("HTTP_WRITE_TIMEOUT_SEC", 30),
		IdleTimeout:       envDurationSec("HTTP_IDLE_TIMEOUT_SEC", 120),
	}
	if listen == nil {
		return errors.New("listen function required")
	}
	return listen(server)
}

// modules is the explicit, enumerable registration list the route table is
// built from. Adding an endpoint means adding it here; there is no implicit
// discovery.
func (s *Server) modules() []routes.Module {
	return []routes.Module{
		s.studentsModule(),
		s.quizzesModule(),
		s.performanceModule(),
		s.lecturesModule(),
		s.publicModule(),
		s.streamModule(),
		s.opsModule(),
	}
}

// loadTiers returns the process-wide rate-limit tier table. Limits are
// tunable by env but fixed for the process lifetime.
func loadTiers() map[string]policy.Tier {
	tiers := policy.DefaultTiers()
	for name, tier := range tiers {
		if v := envInt("RATE_LIMIT_"+name+"_MAX", 0); v > 0 {
			tier.Limit = v
		}
		if v := envInt("RATE_LIMIT_"+name+"_WINDOW_SEC", 0); v > 0 {
			tier.Window = time.Second * time.Duration(v)
		}
		tiers[name] = tier
	}
	return tiers
}

func (s *Server) startEngagementConsumer(ctx context.Context) {
	brokers := strings.TrimSpace(env("KAFKA_BROKERS", ""))
	if brokers == "" {
		return
	}
	consumer, err := engagement.NewKafkaConsumer(engagement.KafkaConfig{
		Brokers: strings.Split(brokers, ","),
		Topic:   env("KAFKA_ENGAGEMENT_TOPIC", "engagement.reports"),
		GroupID: env("KAFKA_GROUP_ID", "dashboard-api"),
	})
	if err != nil {
		log.Printf("engagement consumer disabled: %v", err)
		return
	}
	loop := &engagement.Loop{Bus: consumer, DB: s.DB, Hub: s.Events}
	go loop.Run(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		s.Metrics.Observe(r.Method+" "+path, rec.status, time.Since(start))
		s.Metrics.IncAdmission(admissionCode(rec.status))
	})
}

func admissionCode(status int) string {
	switch {
	case status < 400:
		return "OK"
	case status == http.StatusBadRequest:
		return "BAD_REQUEST"
	case status == http.StatusUnauthorized:
		return "UNAUTHORIZED"
	case status == http.StatusForbidden:
		return "FORBIDDEN"
	case status == http.StatusNotFound:
		return "NOT_FOUND"
	case status == http.StatusTooManyRequests:
		return "RATE_LIMITED"
	case status < 500:
		// 4xx outside the taxonomy (405, 413, ...) is still the client's.
		return "CLIENT_ERROR"
	default:
		return "INTERNAL_ERROR"
	}
}

func (s *Server) limitRequestBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.MaxRequestBodyBytes > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.MaxRequestBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envFloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envDurationSec(k string, def int) time.Duration {
	return time.Second * time.Duration(envInt(k, def))
}
