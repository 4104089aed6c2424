package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/copyleftdev/extrema/internal/objective"
	"github.com/copyleftdev/extrema/internal/session"
)

// FunctionView is the wire form of a function.
type FunctionView struct {
	Key string `json:"key"`
	objective.Snapshot
}

// OptimizeRequest starts a session.
type OptimizeRequest struct {
	Technique     string `json:"technique"`
	MaxIterations int    `json:"max_iterations,omitempty"`
	Seed          int64  `json:"seed,omitempty"`
	// Timeout is a Go duration string such as "5s".
	Timeout string `json:"timeout,omitempty"`
}

// options validates r and converts it to session options.
func (s *Server) options(r OptimizeRequest) (session.Options, error) {
	technique, err := s.offered(r.Technique)
	if err != nil {
		return session.Options{}, err
	}
	if r.MaxIterations < 0 {
		return session.Options{}, invalidf("max_iterations must be non-negative, got %d", r.MaxIterations)
	}
	opts := session.Options{
		Technique:     technique,
		MaxIterations: r.MaxIterations,
		Seed:          r.Seed,
	}
	if r.Timeout != "" {
		d, err := time.ParseDuration(r.Timeout)
		if err != nil || d < 0 {
			return session.Options{}, invalidf("timeout %q is not a valid duration", r.Timeout)
		}
		opts.Timeout = d
	}
	return opts, nil
}

// StartResponse is returned when a session is accepted.
type StartResponse struct {
	SessionID string        `json:"session_id"`
	Function  string        `json:"function"`
	Technique string        `json:"technique"`
	State     session.State `json:"state"`
}

// EvaluateResponse carries the result of a manual evaluation.
type EvaluateResponse struct {
	Function string    `json:"function"`
	Inputs   []float64 `json:"inputs"`
	Output   float64   `json:"output"`
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return invalidf("decode body: %v", err)
	}
	return nil
}

// lookup resolves the {key} URL parameter.
func (s *Server) lookup(r *http.Request) (string, *objective.Function, error) {
	key := chi.URLParam(r, "key")
	fn, err := s.functions.Get(key)
	return key, fn, err
}

func (s *Server) handleTechniques(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"techniques": s.techniques,
	})
}

func (s *Server) handleListFunctions(w http.ResponseWriter, r *http.Request) {
	views := make([]FunctionView, 0, s.functions.Len())
	s.functions.Each(func(key string, fn *objective.Function) {
		views = append(views, FunctionView{Key: key, Snapshot: fn.Snapshot()})
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"functions": views,
	})
}

func (s *Server) handleGetFunction(w http.ResponseWriter, r *http.Request) {
	key, fn, err := s.lookup(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, FunctionView{Key: key, Snapshot: fn.Snapshot()})
}

func (s *Server) handleSetInputs(w http.ResponseWriter, r *http.Request) {
	key, fn, err := s.lookup(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var body struct {
		Values []float64 `json:"values"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.setInputs(fn, body.Values); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, FunctionView{Key: key, Snapshot: fn.Snapshot()})
}

func (s *Server) setInputs(fn *objective.Function, values []float64) error {
	return fn.Manual(func() error {
		return fn.SetInputValues(values)
	})
}

func (s *Server) handleSetDirection(w http.ResponseWriter, r *http.Request) {
	key, fn, err := s.lookup(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var body struct {
		Minimize *bool `json:"minimize"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if body.Minimize == nil {
		s.writeError(w, r, invalidf("minimize is required"))
		return
	}
	if err := fn.SetMinimize(*body.Minimize); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, FunctionView{Key: key, Snapshot: fn.Snapshot()})
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	key, fn, err := s.lookup(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp, err := s.evaluate(r.Context(), key, fn)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) evaluate(ctx context.Context, key string, fn *objective.Function) (*EvaluateResponse, error) {
	resp := &EvaluateResponse{Function: key}
	err := fn.Manual(func() error {
		out, err := fn.Evaluate(ctx)
		if err != nil {
			return err
		}
		resp.Inputs, resp.Output = fn.InputValues(), out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	key, fn, err := s.lookup(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req OptimizeRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	resp, err := s.start(key, fn, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/sessions/"+resp.SessionID)
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) start(key string, fn *objective.Function, req OptimizeRequest) (*StartResponse, error) {
	opts, err := s.options(req)
	if err != nil {
		return nil, err
	}
	sess, err := s.sessions.Start(key, fn, opts)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Optimization started", map[string]interface{}{
		"session_id": sess.ID(),
		"function":   key,
		"technique":  sess.Technique(),
	})
	return &StartResponse{
		SessionID: sess.ID(),
		Function:  key,
		Technique: sess.Technique(),
		State:     sess.State(),
	}, nil
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": s.sessions.List(),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Status())
}

func (s *Server) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Cancel(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("Optimization cancelled", map[string]interface{}{
		"session_id": sess.ID(),
	})
	writeJSON(w, http.StatusAccepted, sess.Status())
}
