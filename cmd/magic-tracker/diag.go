package main

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gravitational/trace"
	jsoniter "github.com/json-iterator/go"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/toolbar-labs/magic-tracker/lib/logger"
	"github.com/toolbar-labs/magic-tracker/lifecycle"
)

// StateSource reports the current tracking state.
type StateSource interface {
	State() lifecycle.State
}

// Health is the /healthz response body.
type Health struct {
	Phase     lifecycle.Phase `json:"phase"`
	JobID     string          `json:"job_id,omitempty"`
	JobURL    string          `json:"job_url,omitempty"`
	Progress  int             `json:"progress"`
	LastError string          `json:"last_error,omitempty"`
}

// DiagServer serves health and metrics over plain HTTP. It is meant for
// localhost only.
type DiagServer struct {
	*httprouter.Router
	listener net.Listener
	server   http.Server
	state    StateSource
}

// NewDiagServer binds addr right away so that Addr is known before Run.
func NewDiagServer(addr string, gatherer prometheus.Gatherer, state StateSource) (*DiagServer, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	router := httprouter.New()
	s := &DiagServer{
		Router:   router,
		listener: listener,
		server:   http.Server{Handler: router, ReadHeaderTimeout: 5 * time.Second},
		state:    state,
	}
	router.GET("/healthz", s.health)
	router.Handler(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return s, nil
}

// Addr is the address the server listens on.
func (s *DiagServer) Addr() string {
	return s.listener.Addr().String()
}

// Run serves until ctx is done.
func (s *DiagServer) Run(ctx context.Context) error {
	log := logger.Get(ctx)
	defer log.Debug("Diag server terminated")

	s.server.BaseContext = func(_ net.Listener) context.Context {
		return ctx
	}
	go func() {
		<-ctx.Done()
		s.server.Close()
	}()

	err := s.server.Serve(s.listener)
	if err == http.ErrServerClosed {
		return nil
	}
	return trace.Wrap(err)
}

func (s *DiagServer) health(rw http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	st := s.state.State()
	health := Health{Phase: st.Phase, Progress: st.Progress}
	if st.Job != nil {
		health.JobID = st.Job.ID
		health.JobURL = st.Job.URL
	}
	if st.LastError != nil {
		health.LastError = st.LastError.Error()
	}

	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(http.StatusOK)
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(rw).Encode(health); err != nil {
		logger.Get(r.Context()).WithError(err).Warn("Failed to write health response")
	}
}
