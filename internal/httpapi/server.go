// Package httpapi exposes the savings gateway over HTTP.
package httpapi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/savings_layer/internal/chain"
	"github.com/R3E-Network/savings_layer/internal/httputil"
	"github.com/R3E-Network/savings_layer/internal/logging"
	"github.com/R3E-Network/savings_layer/internal/metrics"
	"github.com/R3E-Network/savings_layer/internal/middleware"
	"github.com/R3E-Network/savings_layer/services/aggregator"
	"github.com/R3E-Network/savings_layer/services/directory"
	"github.com/R3E-Network/savings_layer/services/identity"
	"github.com/R3E-Network/savings_layer/services/recommend"
	"github.com/R3E-Network/savings_layer/services/relay"
	"github.com/R3E-Network/savings_layer/services/yield"
)

// ServiceName labels HTTP metrics.
const ServiceName = "savings-gateway"

// ObjectReader reads live ledger objects.
type ObjectReader interface {
	GetObject(ctx context.Context, id string) (*chain.Object, error)
}

// Server routes HTTP requests to the gateway services.
type Server struct {
	relay      *relay.Service
	aggregator *aggregator.Service
	directory  directory.Store
	yield      *yield.Engine
	ledger     ObjectReader
	identity   *identity.Service
	recommend  *recommend.Service

	auth     *middleware.AuthMiddleware
	limiter  *middleware.RateLimiter
	origins  []string
	adminKey string
	metrics  *metrics.Metrics
	logger   *logging.Logger
}

// Config wires the server. Identity and Recommend are optional; their routes
// answer 401 and fallback-only respectively when absent.
type Config struct {
	Relay      *relay.Service
	Aggregator *aggregator.Service
	Directory  directory.Store
	Yield      *yield.Engine
	Ledger     ObjectReader
	Identity   *identity.Service
	Recommend  *recommend.Service

	Auth        *middleware.AuthMiddleware
	RateLimiter *middleware.RateLimiter
	CORSOrigins []string
	AdminKey    string
	Metrics     *metrics.Metrics
	Logger      *logging.Logger
}

// New creates a server.
func New(cfg Config) (*Server, error) {
	switch {
	case cfg.Relay == nil:
		return nil, fmt.Errorf("httpapi: relay is required")
	case cfg.Aggregator == nil:
		return nil, fmt.Errorf("httpapi: aggregator is required")
	case cfg.Directory == nil:
		return nil, fmt.Errorf("httpapi: directory is required")
	case cfg.Yield == nil:
		return nil, fmt.Errorf("httpapi: yield engine is required")
	case cfg.Ledger == nil:
		return nil, fmt.Errorf("httpapi: ledger is required")
	case cfg.Auth == nil:
		return nil, fmt.Errorf("httpapi: auth middleware is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	rec := cfg.Recommend
	if rec == nil {
		rec = recommend.New(recommend.Config{Strategies: cfg.Yield.Strategies(), Logger: logger})
	}

	return &Server{
		relay:      cfg.Relay,
		aggregator: cfg.Aggregator,
		directory:  cfg.Directory,
		yield:      cfg.Yield,
		ledger:     cfg.Ledger,
		identity:   cfg.Identity,
		recommend:  rec,
		auth:       cfg.Auth,
		limiter:    cfg.RateLimiter,
		origins:    cfg.CORSOrigins,
		adminKey:   cfg.AdminKey,
		metrics:    cfg.Metrics,
		logger:     logger,
	}, nil
}

// =============================================================================
// Routing
// =============================================================================

// Handler returns the router wrapped in CORS handling. CORS sits outside the
// router so preflight requests are answered for every route.
func (s *Server) Handler() http.Handler {
	router := s.Router()
	if len(s.origins) == 0 {
		return router
	}
	return middleware.NewCORSMiddleware(s.origins).Handler(router)
}

// Router builds the route table with the middleware chain applied.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.LoggingMiddleware(s.logger))
	if s.metrics != nil {
		r.Use(middleware.MetricsMiddleware(ServiceName, s.metrics))
	}
	r.Use(s.auth.Optional)
	if s.limiter != nil {
		r.Use(s.limiter.Handler)
	}

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	// Identity
	r.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)
	r.Handle("/auth/me", middleware.RequireAddress(http.HandlerFunc(s.handleMe))).Methods(http.MethodGet)

	// Room writes
	r.HandleFunc("/room/create", s.handleCreateRoom).Methods(http.MethodPost)
	r.HandleFunc("/room/join", s.handleSponsored(s.relay.Join)).Methods(http.MethodPost)
	r.HandleFunc("/room/deposit", s.handleSponsored(s.relay.Deposit)).Methods(http.MethodPost)
	r.HandleFunc("/room/claim", s.handleSponsored(s.relay.Claim)).Methods(http.MethodPost)
	r.HandleFunc("/room/find-by-password", s.handleFindByPassword).Methods(http.MethodPost)

	admin := middleware.AdminKey(s.adminKey, s.logger)
	r.Handle("/room/start", admin(http.HandlerFunc(s.handleStartRoom))).Methods(http.MethodPost)
	r.Handle("/room/finalize", admin(http.HandlerFunc(s.handleFinalizeRoom))).Methods(http.MethodPost)
	r.Handle("/room/fund-reward", admin(http.HandlerFunc(s.handleFundReward))).Methods(http.MethodPost)
	r.Handle("/admin/rooms", admin(http.HandlerFunc(s.handleWipeRooms))).Methods(http.MethodDelete)
	r.Handle("/admin/rooms/recover", admin(http.HandlerFunc(s.handleRecoverRoom))).Methods(http.MethodPost)

	// Room reads
	r.HandleFunc("/rooms", s.handleListRooms).Methods(http.MethodGet)
	r.HandleFunc("/room/user/{address}/joined", s.handleUserJoined).Methods(http.MethodGet)
	r.HandleFunc("/room/user/{address}/created", s.handleUserCreated).Methods(http.MethodGet)
	r.HandleFunc("/room/{id}", s.handleGetRoom).Methods(http.MethodGet)
	r.HandleFunc("/room/{id}/participants", s.handleParticipants).Methods(http.MethodGet)
	r.HandleFunc("/room/{id}/history", s.handleHistory).Methods(http.MethodGet)
	r.HandleFunc("/room/{id}/position/{address}", s.handlePosition).Methods(http.MethodGet)

	// Test token, strategies, sponsor
	r.HandleFunc("/usdc/mint", s.handleMint).Methods(http.MethodPost)
	r.HandleFunc("/strategies", s.handleStrategies).Methods(http.MethodGet)
	r.HandleFunc("/strategy/recommend", s.handleRecommend).Methods(http.MethodPost)
	r.HandleFunc("/sponsor", s.handleSponsor).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.NotFound(w, "route not found")
	})
	return r
}

// handleHealth reports the sponsor address and the number of recorded rooms.
// An unreachable directory turns the check into a 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status":  "ok",
		"sponsor": s.relay.SponsorAddress(),
	}
	rooms, err := s.directory.Count(r.Context())
	if err != nil {
		s.logger.Warn(r.Context(), "health check: directory unavailable", map[string]interface{}{"error": err.Error()})
		body["status"] = "degraded"
		body["directory"] = "unavailable"
		httputil.WriteJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	body["rooms"] = rooms
	httputil.WriteJSON(w, http.StatusOK, body)
}
