// Package web provides the HTTP surface of the automation daemon: the
// status page, Prometheus metrics and a small JSON API.
package web

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/sweeney/boiler-automation/internal/coordination"
	"github.com/sweeney/boiler-automation/internal/maintenance"
	"github.com/sweeney/boiler-automation/internal/preferences"
	"github.com/sweeney/boiler-automation/internal/status"
)

// Coordinator is the coordination state machine.
type Coordinator interface {
	State(ctx context.Context) (coordination.State, error)
	ManualChange(ctx context.Context, reason coordination.PauseReason) (coordination.Decision, error)
	Reset(ctx context.Context) error
}

// Maintenance is the maintenance accrual engine.
type Maintenance interface {
	Record(ctx context.Context) (maintenance.Record, bool, error)
	CanIgnite(ctx context.Context) bool
	TrackUsageHours(ctx context.Context, status string) maintenance.Result
	MarkCleaned(ctx context.Context) (maintenance.Record, error)
	SetTargetHours(ctx context.Context, hours float64) (maintenance.Record, error)
}

// Preferences is the per-user preferences store.
type Preferences interface {
	Get(ctx context.Context, userID string) (preferences.Preferences, error)
	Update(ctx context.Context, userID string, patch []byte) (preferences.Preferences, error)
}

// Deps are the collaborators the server exposes. Nil collaborators leave
// their routes unregistered.
type Deps struct {
	Tracker     *status.Tracker
	Coordinator Coordinator
	Maintenance Maintenance
	Preferences Preferences
	Metrics     http.Handler
	LiveTopic   string // MQTT topic the status page subscribes to
	WSBroker    string // websocket broker for live updates; empty disables
	Log         zerolog.Logger
}

// Server serves the status page and API over HTTP.
type Server struct {
	httpServer *http.Server
	deps       Deps
}

// New creates a Server listening on addr.
func New(addr string, deps Deps) *Server {
	s := &Server{deps: deps}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/index.html", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/index.json", s.handleJSON).Methods(http.MethodGet)
	if s.deps.Metrics != nil {
		r.Handle("/metrics", s.deps.Metrics).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()
	if s.deps.Preferences != nil {
		api.HandleFunc("/preferences/{user}", s.handleGetPreferences).Methods(http.MethodGet)
		api.HandleFunc("/preferences/{user}", s.handlePutPreferences).Methods(http.MethodPut, http.MethodPatch)
	}
	if s.deps.Coordinator != nil {
		api.HandleFunc("/coordination", s.handleCoordination).Methods(http.MethodGet)
		api.HandleFunc("/coordination/override", s.handleOverride).Methods(http.MethodPost)
		api.HandleFunc("/coordination/reset", s.handleReset).Methods(http.MethodPost)
	}
	if s.deps.Maintenance != nil {
		api.HandleFunc("/maintenance", s.handleMaintenance).Methods(http.MethodGet)
		api.HandleFunc("/maintenance/can-ignite", s.handleCanIgnite).Methods(http.MethodGet)
		api.HandleFunc("/maintenance/track", s.handleTrack).Methods(http.MethodPost)
		api.HandleFunc("/maintenance/clean", s.handleClean).Methods(http.MethodPost)
		api.HandleFunc("/maintenance/target", s.handleTarget).Methods(http.MethodPut)
	}
	return r
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.deps.Log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("took", time.Since(start)).
			Msg("http request")
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, page{
		Snapshot:  s.deps.Tracker.Snapshot(),
		LiveTopic: s.deps.LiveTopic,
		WSBroker:  s.deps.WSBroker,
	}); err != nil {
		s.deps.Log.Warn().Err(err).Msg("render status page")
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(s.deps.Tracker.Snapshot()))
}
