// Package server is the HTTP surface of this identity provider: the
// OAuth2/OIDC protocol endpoints (components H–M), the admin CRUD
// surface (O), observability (Q), and the background garbage
// collection sweeper (R). Its route-wiring, CORS, and
// instrumentation idioms are generalized directly from dexidp/dex's
// server/server.go.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"sync"
	"time"

	gosundheit "github.com/AppsFlyer/go-sundheit"
	"github.com/AppsFlyer/go-sundheit/checks"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lumenid/issuer/account"
	"github.com/lumenid/issuer/authcode"
	"github.com/lumenid/issuer/clientregistry"
	"github.com/lumenid/issuer/federation"
	"github.com/lumenid/issuer/idpstate"
	"github.com/lumenid/issuer/keys"
	"github.com/lumenid/issuer/ratelimit"
	"github.com/lumenid/issuer/refreshtoken"
	"github.com/lumenid/issuer/session"
	"github.com/lumenid/issuer/storage"
)

// Sweeper purges expired rows. storage/memgw.Gateway and
// storage/dynamogw.Gateway both provide one (the latter as a no-op).
type Sweeper interface {
	GarbageCollect(ctx context.Context) (map[string]int, error)
}

// Config holds everything a Server needs to construct its route
// table. Multiple Server instances sharing the same Storage are
// expected to be configured identically, mirroring dex's Config
// contract.
type Config struct {
	Issuer string

	Storage       storage.Gateway
	Sweeper       Sweeper
	Keys          *keys.Manager
	Clients       *clientregistry.Store
	Accounts      *account.Store
	AuthCodes     *authcode.Store
	RefreshTokens *refreshtoken.Store
	Sessions      *session.Manager
	IdPState      *idpstate.Store
	Federation    *federation.Registry
	RateLimit     ratelimit.Limiter

	// HealthChecker backs /readyz. Defaults to a gosundheit.Health with a
	// single periodic storage check registered.
	HealthChecker gosundheit.Health

	AccessTokenTTL time.Duration
	GCInterval     time.Duration // Defaults to 5 minutes.

	AllowedOrigins []string
	AllowedHeaders []string

	AdminToken string

	Now func() time.Time

	Logger             *slog.Logger
	PrometheusRegistry *prometheus.Registry
}

func value(d, def time.Duration) time.Duration {
	if d == 0 {
		return def
	}
	return d
}

// Server is the top-level HTTP handler and background-task owner.
type Server struct {
	issuer string

	storage       storage.Gateway
	sweeper       Sweeper
	keys          *keys.Manager
	clients       *clientregistry.Store
	accounts      *account.Store
	authCodes     *authcode.Store
	refreshTokens *refreshtoken.Store
	sessions      *session.Manager
	idpState      *idpstate.Store
	federation    *federation.Registry
	rateLimit     ratelimit.Limiter
	healthChecker gosundheit.Health

	accessTokenTTL time.Duration
	gcInterval     time.Duration

	adminToken string

	now func() time.Time

	logger  *slog.Logger
	metrics *metrics

	mux http.Handler

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New constructs a Server from cfg and wires its full route table.
func New(cfg Config) (*Server, error) {
	if cfg.Storage == nil {
		return nil, errors.New("server: storage cannot be nil")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("server: issuer cannot be empty")
	}
	if len(cfg.AllowedHeaders) == 0 {
		cfg.AllowedHeaders = []string{"Authorization", "Content-Type"}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	healthChecker := cfg.HealthChecker
	if healthChecker == nil {
		healthChecker = gosundheit.New()
		err := healthChecker.RegisterCheck(&gosundheit.Config{
			Check: &checks.CustomCheck{
				CheckName: "storage",
				CheckFunc: storageHealthCheckFunc(cfg.Storage, now),
			},
			ExecutionPeriod:  30 * time.Second,
			InitiallyPassing: true,
		})
		if err != nil {
			return nil, fmt.Errorf("server: register storage health check: %w", err)
		}
	}

	s := &Server{
		issuer:         cfg.Issuer,
		storage:        cfg.Storage,
		sweeper:        cfg.Sweeper,
		keys:           cfg.Keys,
		clients:        cfg.Clients,
		accounts:       cfg.Accounts,
		authCodes:      cfg.AuthCodes,
		refreshTokens:  cfg.RefreshTokens,
		sessions:       cfg.Sessions,
		idpState:       cfg.IdPState,
		federation:     cfg.Federation,
		rateLimit:      cfg.RateLimit,
		healthChecker:  healthChecker,
		accessTokenTTL: value(cfg.AccessTokenTTL, time.Hour),
		gcInterval:     value(cfg.GCInterval, 5*time.Minute),
		adminToken:     cfg.AdminToken,
		now:            now,
		logger:         logger,
		metrics:        newMetrics(cfg.PrometheusRegistry),
	}

	s.mux = s.routes(cfg.AllowedOrigins, cfg.AllowedHeaders)
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Run starts the background garbage-collection sweeper. It returns
// immediately; call Shutdown (or cancel ctx) to stop the sweeper.
func (s *Server) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go s.gcLoop(ctx)
}

// Shutdown stops the background sweeper and waits for it to exit.
func (s *Server) Shutdown() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Server) routes(allowedOrigins, allowedHeaders []string) http.Handler {
	r := mux.NewRouter().SkipClean(true).UseEncodedPath()

	instrument := func(routeName string, h http.HandlerFunc) http.Handler {
		return s.metrics.wrap(routeName, h)
	}

	withCORS := func(h http.Handler) http.Handler {
		if len(allowedOrigins) == 0 {
			return h
		}
		return handlers.CORS(
			handlers.AllowedOrigins(allowedOrigins),
			handlers.AllowedHeaders(allowedHeaders),
		)(h)
	}

	handle := func(p, routeName string, h http.HandlerFunc) {
		r.Handle(p, instrument(routeName, h))
	}
	handleCORS := func(p, routeName string, h http.HandlerFunc) {
		r.Handle(p, withCORS(instrument(routeName, h)))
	}

	handleCORS("/.well-known/openid-configuration", "discovery", s.handleDiscovery)
	handleCORS("/.well-known/jwks.json", "jwks", s.handleJWKS)
	handleCORS("/token", "token", s.rateLimited("token", s.handleToken))
	handleCORS("/introspect", "introspect", s.handleIntrospect)
	handleCORS("/revoke", "revoke", s.handleRevoke)
	handleCORS("/userinfo", "userinfo", s.requireBearer(s.handleUserInfo))

	handle("/authorize", "authorize", s.rateLimited("authorize", s.handleAuthorize))
	handle("/login", "login", s.rateLimited("login", s.handleLogin))

	handle("/auth/{provider}", "federated_start", s.handleFederatedStart)
	handle("/auth/{provider}/callback", "federated_callback", s.handleFederatedCallback)

	handle("/admin/clients", "admin_clients_collection", s.requireAdmin(s.handleAdminClientsCollection))
	handle("/admin/clients/{id}", "admin_clients_item", s.requireAdmin(s.handleAdminClientsItem))

	handle("/healthz", "healthz", s.handleHealthz)
	handle("/readyz", "readyz", s.handleReadyz)

	if s.metrics.registry != nil {
		r.Handle("/metrics", s.metrics.handler())
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeOAuthError(w, http.StatusNotFound, newOAuthError(errInvalidRequest, "not found"))
	})

	return r
}

func issuerJoin(issuer, p string) string {
	return fmt.Sprintf("%s%s", issuer, path.Clean("/"+p))
}
