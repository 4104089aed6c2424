package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/copyleftdev/extrema/internal/config"
	"github.com/copyleftdev/extrema/internal/functions"
	"github.com/copyleftdev/extrema/internal/logging"
	"github.com/copyleftdev/extrema/internal/objective"
	"github.com/copyleftdev/extrema/internal/optimization"
	"github.com/copyleftdev/extrema/internal/optimization/techniques"
	"github.com/copyleftdev/extrema/internal/session"
)

// Logger defines the logging interface used by the server
// This allows us to be flexible with our logging implementation
type Logger interface {
	Debug(msg string, fields ...map[string]interface{})
	Info(msg string, fields ...map[string]interface{})
	Warn(msg string, fields ...map[string]interface{})
	Error(msg string, fields ...map[string]interface{})
	Fatal(msg string, fields ...map[string]interface{})
	WithFields(fields map[string]interface{}) *logging.Logger
}

// errInvalidRequest tags malformed request bodies and parameters.
var errInvalidRequest = errors.New("invalid request")

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", errInvalidRequest, fmt.Sprintf(format, args...))
}

// Dependencies are the domain services the server exposes.
type Dependencies struct {
	Factory   *techniques.Factory
	Functions *functions.Set
	Sessions  *session.Manager
}

// Server implements the HTTP and JSON-RPC surface over the function set
// and the session manager.
type Server struct {
	cfg         *config.Config
	logger      Logger
	factory     *techniques.Factory
	techniques  []string
	functions   *functions.Set
	sessions    *session.Manager
	broadcaster *Broadcaster
	tracers     map[string]objective.Observer
}

// NewServer creates a server. The configured technique list is resolved
// up front so a typo in OPTIMIZERS fails at startup.
func NewServer(cfg *config.Config, logger Logger, deps Dependencies) (*Server, error) {
	offered, err := deps.Factory.Resolve(cfg.Optimization.Techniques)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:         cfg,
		logger:      logger,
		factory:     deps.Factory,
		techniques:  offered,
		functions:   deps.Functions,
		sessions:    deps.Sessions,
		broadcaster: NewBroadcaster(),
		tracers:     make(map[string]objective.Observer),
	}

	deps.Functions.Each(func(key string, fn *objective.Function) {
		t := &tracer{key: key, fn: fn, broadcaster: s.broadcaster}
		fn.RegisterObserver(t)
		s.tracers[key] = t
	})
	deps.Sessions.OnFinish(func(st session.Status) {
		s.broadcaster.Publish(st.Function, eventSession, st)
	})

	return s, nil
}

func (s *Server) RegisterRoutes(r chi.Router) {
	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/techniques", s.handleTechniques)

		r.Route("/functions", func(r chi.Router) {
			r.Get("/", s.handleListFunctions)
			r.Route("/{key}", func(r chi.Router) {
				r.Get("/", s.handleGetFunction)
				r.Put("/inputs", s.handleSetInputs)
				r.Put("/direction", s.handleSetDirection)
				r.Post("/evaluate", s.handleEvaluate)
				r.Post("/optimize", s.handleOptimize)
				r.Get("/stream", s.handleStream)
			})
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.handleListSessions)
			r.Get("/{id}", s.handleGetSession)
			r.Delete("/{id}", s.handleCancelSession)
		})
	})

	// JSON-RPC 2.0 endpoint
	r.Post("/rpc", s.handleJSONRPC)
}

// Techniques returns the identifiers offered to callers.
func (s *Server) Techniques() []string {
	return append([]string(nil), s.techniques...)
}

// offered resolves name against the configured list. An empty name picks
// the first configured technique.
func (s *Server) offered(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return s.techniques[0], nil
	}
	canonical, ok := s.factory.Canonical(name)
	if ok {
		for _, t := range s.techniques {
			if t == canonical {
				return t, nil
			}
		}
	}
	return "", optimization.UnknownTechnique(name).WithComponent("server")
}

// Close detaches the trace observers and ends every open stream.
func (s *Server) Close() error {
	for key, t := range s.tracers {
		if fn, err := s.functions.Get(key); err == nil {
			fn.RemoveObserver(t)
		}
	}
	s.broadcaster.Close()
	return nil
}

// statusFor maps an error to the HTTP status reported to clients.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errInvalidRequest),
		errors.Is(err, optimization.ErrDimensionMismatch),
		errors.Is(err, optimization.ErrUnknownTechnique):
		return http.StatusBadRequest
	case errors.Is(err, functions.ErrUnknownFunction),
		errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, optimization.ErrSessionBusy),
		errors.Is(err, optimization.ErrIllegalStateTransition):
		return http.StatusConflict
	case errors.Is(err, optimization.ErrRemoteFailure):
		return http.StatusBadGateway
	case errors.Is(err, session.ErrShutdown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// JSON-RPC error codes. The -3200x range is reserved for the server.
const (
	rpcParseError     = -32700
	rpcInvalidRequest = -32600
	rpcMethodNotFound = -32601
	rpcInvalidParams  = -32602
	rpcInternalError  = -32603
	rpcRemoteFailure  = -32001
	rpcConflict       = -32002
	rpcNotFound       = -32003
	rpcUnavailable    = -32004
)

// rpcCodeFor maps an error to a JSON-RPC error code.
func rpcCodeFor(err error) int {
	switch statusFor(err) {
	case http.StatusBadRequest:
		return rpcInvalidParams
	case http.StatusNotFound:
		return rpcNotFound
	case http.StatusConflict:
		return rpcConflict
	case http.StatusBadGateway:
		return rpcRemoteFailure
	case http.StatusServiceUnavailable:
		return rpcUnavailable
	default:
		return rpcInternalError
	}
}

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes {"error": ...} with the status derived from err.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request error", map[string]interface{}{
			"status": status,
			"path":   r.URL.Path,
			"error":  err.Error(),
		})
	}
	writeJSON(w, status, map[string]interface{}{
		"error": err.Error(),
	})
}
