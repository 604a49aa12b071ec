package http

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/robertarktes/venue-bookings/internal/idempotency"
	"github.com/robertarktes/venue-bookings/internal/observability"
	"github.com/robertarktes/venue-bookings/internal/rateLimit"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
)

const (
	IdempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"
	adminRole         = "admin"
)

func RequestIDMiddleware(next http.Handler) http.Handler {
	return middleware.RequestID(next)
}

// LoggerMiddleware puts a request-scoped logger in the context and records
// one access log line and one request metric per request.
func LoggerMiddleware(logger observability.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := middleware.GetReqID(r.Context())
			entry := logger.WithField("request_id", reqID)
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r.WithContext(observability.WithLogger(r.Context(), entry)))

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			observability.RequestsTotal.WithLabelValues(route, strconv.Itoa(status), r.Method).Inc()
			entry.WithFields(map[string]interface{}{
				"method":      r.Method,
				"route":       route,
				"status":      status,
				"duration_ms": time.Since(start).Milliseconds(),
			}).Info("request handled")
		})
	}
}

func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		tracer := otel.Tracer("http")
		ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path)
		defer span.End()

		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.url", r.URL.String()),
			attribute.String("request_id", middleware.GetReqID(r.Context())),
		)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type actorKey struct{}

// ActorFromContext returns "admin:<subject>" for requests that passed AdminAuth.
func ActorFromContext(ctx context.Context) string {
	actor, _ := ctx.Value(actorKey{}).(string)
	return actor
}

type adminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// NewAdminAuth verifies bearer tokens with the RS256 public key when one is
// configured, HS256 with the shared secret otherwise. With neither, every
// admin request is refused.
func NewAdminAuth(publicKeyPEM, secret string, logger observability.Logger) (func(next http.Handler) http.Handler, error) {
	var (
		key    interface{}
		method string
	)
	switch {
	case publicKeyPEM != "":
		pub, err := jwt.ParseRSAPublicKeyFromPEM([]byte(publicKeyPEM))
		if err != nil {
			return nil, errors.Wrap(err, "parse JWT_PUBLIC_KEY")
		}
		key, method = pub, jwt.SigningMethodRS256.Alg()
	case secret != "":
		key, method = []byte(secret), jwt.SigningMethodHS256.Alg()
	default:
		logger.Warn("no JWT key configured, admin routes are disabled")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{method}), jwt.WithExpirationRequired())

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log := observability.FromContext(r.Context(), logger)
			if key == nil {
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "admin access is not configured", Code: "UNAUTHORIZED"})
				return
			}
			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || raw == "" {
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing bearer token", Code: "UNAUTHORIZED"})
				return
			}
			var claims adminClaims
			_, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) { return key, nil })
			if err != nil {
				log.WithError(err).Warn("admin token rejected")
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid token", Code: "UNAUTHORIZED"})
				return
			}
			if claims.Role != adminRole {
				writeJSON(w, http.StatusForbidden, errorBody{Error: "admin role required", Code: "FORBIDDEN"})
				return
			}
			ctx := context.WithValue(r.Context(), actorKey{}, "admin:"+claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}, nil
}

func RateLimitMiddleware(rl *rateLimit.RateLimiter, limit int, period time.Duration) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.Allow(r.Context(), "ip:"+clientIP(r), limit, period) {
				observability.RateLimitExceeded.Inc()
				writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate limit exceeded", Code: "RATE_LIMITED"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP drops the ephemeral port so every connection from one host shares
// a bucket. RealIP has already replaced RemoteAddr when a proxy header is set.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type captureWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *captureWriter) WriteHeader(status int) {
	c.status = status
	c.ResponseWriter.WriteHeader(status)
}

func (c *captureWriter) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

// IdempotencyMiddleware replays the recorded response of a POST carrying an
// Idempotency-Key already seen on the same route. Requests without the
// header are executed normally.
func IdempotencyMiddleware(idemp *idempotency.Idempotency, logger observability.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(IdempotencyHeader)
			if r.Method != http.MethodPost || key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) < 16 || len(key) > 128 {
				writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid Idempotency-Key", Code: "VALIDATION_ERROR"})
				return
			}
			log := observability.FromContext(r.Context(), logger)
			scoped := r.URL.Path + ":" + key

			existing, err := idemp.Get(r.Context(), scoped)
			if err != nil {
				log.WithError(err).Warn("idempotency lookup failed")
			}
			if existing != nil {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set(replayedHeader, "true")
				w.WriteHeader(existing.Status)
				w.Write(existing.Result)
				return
			}

			cw := &captureWriter{ResponseWriter: w}
			next.ServeHTTP(cw, r)
			if cw.status == 0 {
				return
			}
			if err := idemp.Set(r.Context(), scoped, idempotency.Response{Status: cw.status, Result: cw.body.Bytes()}); err != nil {
				log.WithError(err).Warn("idempotency record failed")
			}
		})
	}
}
