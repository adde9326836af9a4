package router

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-election-auth/internal/account"
	"github.com/ovaphlow/pitchfork/service-election-auth/internal/audit"
	"github.com/ovaphlow/pitchfork/service-election-auth/internal/auth"
	"github.com/ovaphlow/pitchfork/service-election-auth/internal/gate"
	"github.com/ovaphlow/pitchfork/service-election-auth/internal/views"
)

// loggingResponseWriter wraps http.ResponseWriter to capture status and size.
type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.status = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lrw.status == 0 {
		lrw.status = http.StatusOK
	}
	n, err := lrw.ResponseWriter.Write(b)
	lrw.size += n
	return n, err
}

// LoggingMiddleware returns a middleware that logs requests at debug level using the provided sugared logger.
func LoggingMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lrw := &loggingResponseWriter{ResponseWriter: w}
			next.ServeHTTP(lrw, r)
			status := lrw.status
			if status == 0 {
				status = http.StatusOK
			}
			logger.Debugw("http request",
				"request_id", middleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
				"status", status,
				"duration_ms", float64(time.Since(start).Microseconds())/1000.0,
				"size", lrw.size,
			)
		})
	}
}

// SecurityHeadersMiddleware returns a middleware that sets common HTTP security headers.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			// callbackUrl values must not leak to third parties through Referer
			w.Header().Set("Referrer-Policy", "same-origin")
			w.Header().Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			if w.Header().Get("Content-Security-Policy") == "" {
				w.Header().Set("Content-Security-Policy", "default-src 'self'; object-src 'none'; base-uri 'self'; form-action 'self';")
			}
			// HSTS only over TLS.
			if r.TLS != nil {
				w.Header().Set("Strict-Transport-Security", "max-age=2592000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}

type Deps struct {
	Logger         *zap.SugaredLogger
	Gate           *gate.Gate
	Auth           *auth.Handler
	Accounts       *account.Handler
	Audit          *audit.Handler
	RequestTimeout time.Duration
	// Health reports backing store liveness; nil means always healthy.
	Health func(ctx context.Context) error
}

// RegisterRoutes mounts every route behind the authorization gate.
func RegisterRoutes(d Deps) http.Handler {
	r := chi.NewRouter()
	timeout := d.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware(d.Logger))
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeadersMiddleware())
	r.Use(middleware.Timeout(timeout))
	r.Use(d.Gate.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if d.Health != nil {
			if err := d.Health(r.Context()); err != nil {
				d.Logger.Warnw("health check failed", "err", err)
				http.Error(w, "unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/favicon.ico", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Get("/", views.Landing)

	r.Get("/auth/signin", d.Auth.SignInPage)
	r.Get("/auth/error", d.Auth.ErrorPage)

	r.Route("/api/auth", func(r chi.Router) {
		r.Get("/signin/google", d.Auth.GoogleStart)
		r.Get("/callback/google", d.Auth.GoogleCallback)
		r.Post("/callback/student-number", d.Auth.CredentialsCallback)
		r.Get("/csrf", d.Auth.CSRFToken)
		r.Get("/signout", d.Auth.SignOutPage)
		r.Post("/signout", d.Auth.SignOut)
		r.Get("/session", d.Auth.Session)
		r.Get("/error", d.Auth.ErrorRedirect)
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Post("/accounts", d.Accounts.Provision)
		r.Patch("/accounts/{id}/role", d.Accounts.ChangeRole)
		r.Patch("/accounts/{id}/active", d.Accounts.SetActive)
		r.Get("/logs", d.Audit.List)
	})

	for _, area := range []string{"admin", "officer", "candidate", "voter"} {
		r.Get("/"+area, views.Home(area))
	}
	return r
}
