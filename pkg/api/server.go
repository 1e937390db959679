package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/riverbase/authgate/pkg/menu"
	"github.com/riverbase/authgate/pkg/middleware"
	"github.com/riverbase/authgate/pkg/observability"
	"github.com/riverbase/authgate/pkg/oidc"
	"github.com/riverbase/authgate/pkg/remote"
	"github.com/riverbase/authgate/pkg/session"
	"github.com/riverbase/authgate/pkg/token"
)

// Deps wires the server to its collaborators. All fields except Metrics and
// Sheets are required.
type Deps struct {
	Codec      *token.Codec
	Store      *session.Store
	Caller     remote.Caller
	Sheets     menu.SheetSource
	SheetNames []string
	// NewExchange builds a fresh per-login-attempt exchange; each login gets
	// its own instance.
	NewExchange func() *oidc.Exchange
	Logger      *observability.Logger
	Metrics     *observability.Metrics

	OIDC       oidc.Config
	RefreshTTL time.Duration
}

// Server is the gateway's HTTP surface.
type Server struct {
	router      *mux.Router
	codec       *token.Codec
	store       *session.Store
	caller      remote.Caller
	gate        *middleware.Authenticator
	sheets      menu.SheetSource
	sheetNames  []string
	newExchange func() *oidc.Exchange
	logger      *observability.Logger
	metrics     *observability.Metrics

	oidcConfig oidc.Config
	refreshTTL time.Duration
}

// NewServer creates the API server and registers its routes.
func NewServer(deps Deps) *Server {
	s := &Server{
		router:      mux.NewRouter(),
		codec:       deps.Codec,
		store:       deps.Store,
		caller:      deps.Caller,
		gate:        middleware.NewAuthenticator(deps.Codec, deps.Store, deps.Caller, deps.Logger, deps.Metrics),
		sheets:      deps.Sheets,
		sheetNames:  deps.SheetNames,
		newExchange: deps.NewExchange,
		logger:      deps.Logger,
		metrics:     deps.Metrics,
		oidcConfig:  deps.OIDC,
		refreshTTL:  deps.RefreshTTL,
	}
	if s.newExchange == nil {
		s.newExchange = func() *oidc.Exchange { return oidc.NewExchange(deps.OIDC) }
	}
	if s.refreshTTL <= 0 {
		s.refreshTTL = 600 * time.Second
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes.
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.AccessLog(s.logger, s.metrics))

	// Public routes
	s.router.HandleFunc("/auth/getOidc", s.getOidc).Methods("GET")
	s.router.HandleFunc("/auth/authenticate", s.authenticate).Methods("POST")
	s.router.HandleFunc("/auth/supervisor", s.supervisor).Methods("POST")
	s.router.HandleFunc("/auth/online", s.online).Methods("GET")

	// Authenticated routes
	authed := s.router.NewRoute().Subrouter()
	authed.Use(s.gate.Authenticate)
	authed.HandleFunc("/auth/whoami", s.profile).Methods("GET")
	authed.HandleFunc("/auth/profile", s.profile).Methods("GET")
	authed.HandleFunc("/auth/permissions", s.permissions).Methods("GET")
	authed.HandleFunc("/auth/logout", s.logout).Methods("POST")
	authed.HandleFunc("/auth/refresh", s.refresh).Methods("POST")
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router exposes the underlying router for additional wrapping (tracing).
func (s *Server) Router() *mux.Router {
	return s.router
}
