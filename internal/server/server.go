package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/ticketeer/internal/auth"
	"github.com/dukerupert/ticketeer/internal/handler"
	"github.com/dukerupert/ticketeer/internal/middleware"
	"github.com/dukerupert/ticketeer/internal/model"
	"github.com/dukerupert/ticketeer/internal/observability"
	"github.com/dukerupert/ticketeer/internal/store"
	"github.com/dukerupert/ticketeer/internal/ticket"
	ws "github.com/dukerupert/ticketeer/internal/websocket"
)

const (
	authRateLimit  = 10
	authRateWindow = time.Minute
)

// Options carries the settings and collaborators the server is built from.
type Options struct {
	JWTSecret        string
	TicketSecret     string
	SessionTTL       time.Duration
	OTPTTL           time.Duration
	ResetTTL         time.Duration
	AllowAdminSignup bool
	AllowedOrigins   []string
	TrustedProxies   []string
	Notifier         auth.Notifier
	// Hasher defaults to bcrypt at the default cost.
	Hasher auth.PasswordHasher
}

type Server struct {
	hub            *ws.Hub
	authH          *handler.AuthHandler
	eventH         *handler.EventHandler
	ticketH        *handler.TicketHandler
	tokens         *auth.TokenService
	userStore      *store.UserStore
	otpStore       *store.OTPStore
	resetStore     *store.PasswordResetStore
	revokedStore   *store.RevokedTokenStore
	rateLimiter    *middleware.RateLimiter
	proxies        *middleware.ProxyTrust
	registry       *prometheus.Registry
	metrics        *observability.Metrics
	allowedOrigins []string
	logger         *slog.Logger
}

// New wires stores, services and handlers over db. A missing signing
// secret or a malformed trusted proxy fails with a CONFIGURATION error.
func New(db *sql.DB, opts Options, logger *slog.Logger) (*Server, error) {
	hub := ws.NewHub(logger)

	userStore := store.NewUserStore(db)
	eventStore := store.NewEventStore(db)
	ticketStore := store.NewTicketStore(db)
	otpStore := store.NewOTPStore(db)
	resetStore := store.NewPasswordResetStore(db)
	revokedStore := store.NewRevokedTokenStore(db)

	tokens, err := auth.NewTokenService(opts.JWTSecret, opts.SessionTTL, revokedStore)
	if err != nil {
		return nil, err
	}
	signer, err := ticket.NewSigner(opts.TicketSecret)
	if err != nil {
		return nil, err
	}

	proxies, err := middleware.NewProxyTrust(opts.TrustedProxies)
	if err != nil {
		return nil, err
	}

	hasher := opts.Hasher
	if hasher == nil {
		hasher = auth.NewBcryptHasher(bcrypt.DefaultCost)
	}
	credentials := auth.NewCredentialService(userStore, hasher, opts.AllowAdminSignup)
	resets := auth.NewResetService(userStore, otpStore, resetStore, credentials, opts.Notifier, opts.OTPTTL, opts.ResetTTL)
	tickets := ticket.NewService(ticketStore, eventStore, userStore, signer, logger)

	registry := observability.NewRegistry()
	metrics := observability.NewMetrics(registry)
	observability.RegisterClientGauge(registry, hub.ClientCount)

	return &Server{
		hub:            hub,
		authH:          handler.NewAuthHandler(credentials, tokens, resets, userStore, metrics, logger),
		eventH:         handler.NewEventHandler(eventStore, hub, logger),
		ticketH:        handler.NewTicketHandler(tickets, hub, metrics, logger),
		tokens:         tokens,
		userStore:      userStore,
		otpStore:       otpStore,
		resetStore:     resetStore,
		revokedStore:   revokedStore,
		rateLimiter:    middleware.NewRateLimiter(),
		proxies:        proxies,
		registry:       registry,
		metrics:        metrics,
		allowedOrigins: opts.AllowedOrigins,
		logger:         logger,
	}, nil
}

// Hub returns the websocket hub for broadcasts outside request handling.
func (s *Server) Hub() *ws.Hub {
	return s.hub
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	// Accounts
	mux.HandleFunc("POST /register", s.rateLimitedHandler("register", s.authH.Register))
	mux.HandleFunc("POST /login", s.rateLimitedHandler("login", s.authH.Login))
	mux.HandleFunc("POST /logout", s.authH.Logout)
	mux.HandleFunc("GET /profile", s.authH.Profile)

	// Password reset
	mux.HandleFunc("POST /forgot-password", s.rateLimitedHandler("forgot-password", s.authH.ForgotPassword))
	mux.HandleFunc("POST /verify-otp", s.rateLimitedHandler("verify-otp", s.authH.VerifyOTP))
	mux.HandleFunc("POST /reset-password", s.rateLimitedHandler("reset-password", s.authH.ResetPassword))

	staff := middleware.Authorize(s.tokens, s.userStore, s.logger, model.RoleAdmin, model.RoleOrganizer)

	// Events
	mux.Handle("POST /createEvent", staff(http.HandlerFunc(s.eventH.Create)))
	mux.HandleFunc("GET /createEvent", s.eventH.List)
	mux.HandleFunc("GET /events", s.eventH.List)
	mux.HandleFunc("GET /event/{id}", s.eventH.Get)
	mux.HandleFunc("GET /event/{id}/ordersummary", s.eventH.Get)
	mux.HandleFunc("GET /event/{id}/ordersummary/paymentsummary", s.eventH.Get)
	mux.HandleFunc("POST /event/{id}", s.eventH.Like)

	// Tickets
	mux.HandleFunc("POST /tickets", s.ticketH.Purchase)
	mux.HandleFunc("GET /tickets/{id}", s.ticketH.Get)
	mux.HandleFunc("GET /tickets/user/{userId}", s.ticketH.ListByUser)
	mux.HandleFunc("DELETE /tickets/{id}", s.ticketH.Delete)
	mux.Handle("POST /tickets/verify", staff(http.HandlerFunc(s.ticketH.Verify)))
	mux.Handle("POST /tickets/redeem", staff(http.HandlerFunc(s.ticketH.Redeem)))

	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub, s.allowedOrigins))
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.Handle("GET /metrics", observability.Handler(s.registry))

	var h http.Handler = mux
	h = middleware.Instrument(s.metrics)(h)
	h = middleware.CORS(s.allowedOrigins)(h)
	return middleware.RequestLogger(s.logger.With("component", "http"), s.proxies)(h)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) rateLimitedHandler(name string, h http.HandlerFunc) http.HandlerFunc {
	rl := middleware.RateLimit(s.rateLimiter, middleware.ByIP(s.proxies, name), authRateLimit, authRateWindow)
	return rl(h).ServeHTTP
}

// Cleanup purges expired reset codes, reset tokens, denylisted sessions
// and stale rate limit windows.
func (s *Server) Cleanup(ctx context.Context) error {
	now := time.Now().UTC()

	otps, otpErr := s.otpStore.DeleteExpired(ctx, now)
	resets, resetErr := s.resetStore.DeleteExpired(ctx, now)
	revoked, revokedErr := s.revokedStore.DeleteExpired(ctx, now)
	windows := s.rateLimiter.Cleanup()

	s.logger.Info("cleanup complete",
		"otp_codes", otps,
		"reset_tokens", resets,
		"revoked_tokens", revoked,
		"rate_limit_windows", windows,
	)
	return errors.Join(otpErr, resetErr, revokedErr)
}
