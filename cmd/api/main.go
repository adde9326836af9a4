package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-election-auth/internal/account"
	accountrepo "github.com/ovaphlow/pitchfork/service-election-auth/internal/account/repo"
	"github.com/ovaphlow/pitchfork/service-election-auth/internal/audit"
	auditrepo "github.com/ovaphlow/pitchfork/service-election-auth/internal/audit/repo"
	"github.com/ovaphlow/pitchfork/service-election-auth/internal/auth"
	"github.com/ovaphlow/pitchfork/service-election-auth/internal/config"
	"github.com/ovaphlow/pitchfork/service-election-auth/internal/gate"
	"github.com/ovaphlow/pitchfork/service-election-auth/internal/mail"
	"github.com/ovaphlow/pitchfork/service-election-auth/internal/oidc"
	"github.com/ovaphlow/pitchfork/service-election-auth/internal/router"
	"github.com/ovaphlow/pitchfork/service-election-auth/internal/session"
	sessionrepo "github.com/ovaphlow/pitchfork/service-election-auth/internal/session/repo"
	"github.com/ovaphlow/pitchfork/service-election-auth/pkg/database"
	"github.com/ovaphlow/pitchfork/service-election-auth/pkg/utilities"
)

func main() {
	// load .env file if present so os.Getenv picks values from it
	// this is best-effort: if no .env exists, continue (use defaults or real env)
	_ = godotenv.Load()

	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	cfg := config.Load()
	sugar.Infow("starting election auth service", "addr", cfg.HTTPAddr, "session_backend", cfg.SessionBackend)

	db, err := database.ConnectSqlx(database.ConfigFromEnv())
	if err != nil {
		sugar.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	accounts := accountrepo.NewAccountRepo(db)
	logs := auditrepo.NewLogRepo(db)
	if err := accounts.EnsureTable(ctx); err != nil {
		sugar.Fatalf("ensure users table: %v", err)
	}
	if err := logs.EnsureTable(ctx); err != nil {
		sugar.Fatalf("ensure system_logs table: %v", err)
	}

	sessions, closeSessions, err := sessionStore(ctx, cfg, db, sugar)
	if err != nil {
		sugar.Fatalf("session store: %v", err)
	}
	defer closeSessions()

	var mailer mail.Mailer = mail.NewLogMailer(sugar)
	if cfg.SMTPAddr != "" {
		smtpMailer, err := mail.NewSMTPMailer(mail.SMTPConfig{
			Addr:     cfg.SMTPAddr,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.MailFrom,
			TLS:      cfg.SMTPTLS,
		})
		if err != nil {
			sugar.Fatalf("smtp mailer: %v", err)
		}
		mailer = smtpMailer
	}

	auditSvc := audit.NewService(logs, sugar)
	accountSvc := account.NewService(accounts, account.BcryptHasher{Cost: cfg.BcryptCost}, mailer, auditSvc, sugar, cfg.InstitutionDomain)
	accountSvc.MaxFailed = cfg.LoginMaxFailed
	accountSvc.LockFor = cfg.LoginLockFor
	sessionSvc := session.NewService(sessions, accounts, sugar, cfg.SessionMaxAge, cfg.SessionUpdateAge)
	cookie := session.Cookie{Name: cfg.SessionCookieName, Secure: cfg.SessionCookieSecure}

	var provider oidc.Provider
	var state *oidc.StateSigner
	if cfg.GoogleConfigured() {
		google, err := oidc.NewGoogleProvider(oidc.GoogleConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
			HostedDomain: cfg.InstitutionDomain,
		})
		if err != nil {
			sugar.Fatalf("google provider: %v", err)
		}
		provider = google
		state, err = oidc.NewStateSigner(cfg.AuthSecret, 10*time.Minute)
		if err != nil {
			sugar.Fatalf("oauth state: %v", err)
		}
	} else {
		sugar.Warn("google sign-in disabled: GOOGLE_CLIENT_ID, GOOGLE_CLIENT_SECRET and AUTH_SECRET are required")
	}

	if cfg.AuthSecret == "" {
		sugar.Warn("AUTH_SECRET not set: csrf tokens use a per-process key")
	}
	csrf, err := auth.NewCSRF(cfg.AuthSecret, cfg.SessionCookieSecure)
	if err != nil {
		sugar.Fatalf("csrf: %v", err)
	}

	policy, err := gate.NewPolicy()
	if err != nil {
		sugar.Fatalf("role policy: %v", err)
	}

	handler := router.RegisterRoutes(router.Deps{
		Logger:         sugar,
		Gate:           gate.New(sessionSvc, policy, cookie, cfg.StoreTimeout, sugar),
		Auth:           auth.NewHandler(accountSvc, sessionSvc, provider, state, csrf, cookie, auditSvc, sugar),
		Accounts:       account.NewHandler(accountSvc, sugar),
		Audit:          audit.NewHandler(auditSvc, sugar),
		RequestTimeout: cfg.RequestTimeout,
		Health:         db.PingContext,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("http server failed: %v", err)
		}
	}()
	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				sugar.Errorw("metrics listener failed", "err", err)
			}
		}()
		sugar.Infow("internal metrics listener", "addr", cfg.MetricsAddr)
	}
	sugar.Info("service is running; press Ctrl+C to stop")

	<-ctx.Done()

	sugar.Info("shutting down")

	// give a short grace period for cleanup
	doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(doneCtx)
	}

	sugar.Info("goodbye")
}

// sessionStore picks the configured backend. The returned func releases it.
func sessionStore(ctx context.Context, cfg config.Config, db *sqlx.DB, logger *zap.SugaredLogger) (session.Store, func(), error) {
	switch cfg.SessionBackend {
	case config.BackendRedis:
		client, err := database.ConnectRedis(database.RedisConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, Timeout: cfg.StoreTimeout})
		if err != nil {
			return nil, nil, err
		}
		return sessionrepo.NewRedisRepo(client), func() {
			if err := client.Close(); err != nil {
				logger.Warnw("redis close error", "err", err)
			}
		}, nil
	case config.BackendMemory:
		logger.Warn("in-memory sessions: every restart signs everyone out")
		return sessionrepo.NewMemoryRepo(), func() {}, nil
	case config.BackendPostgres:
		r := sessionrepo.NewSessionRepo(db)
		if err := r.EnsureTable(ctx); err != nil {
			return nil, nil, err
		}
		go sweepExpired(ctx, r, logger)
		return r, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown SESSION_BACKEND %q", cfg.SessionBackend)
	}
}

// sweepExpired removes dead session rows hourly; Redis expires them itself.
func sweepExpired(ctx context.Context, r *sessionrepo.SessionRepo, logger *zap.SugaredLogger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.DeleteExpired(ctx)
			if err != nil {
				logger.Warnw("expired session sweep failed", "err", err)
				continue
			}
			if n > 0 {
				logger.Debugw("expired sessions removed", "count", n)
			}
		}
	}
}
