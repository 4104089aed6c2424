package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/copyleftdev/extrema/internal/session"
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type functionParams struct {
	Function string `json:"function"`
}

type setInputsParams struct {
	Function string    `json:"function"`
	Values   []float64 `json:"values"`
}

type startParams struct {
	Function string `json:"function"`
	OptimizeRequest
}

type sessionParams struct {
	SessionID string `json:"session_id"`
}

// handleJSONRPC handles JSON-RPC 2.0 requests. Params may be an object or a
// single-element array holding the object.
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var request rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		s.respondWithError(w, rpcParseError, "Parse error", nil)
		return
	}

	// Validate JSON-RPC 2.0 request
	if request.JSONRPC != "2.0" || request.Method == "" {
		s.respondWithError(w, rpcInvalidRequest, "Invalid Request", request.ID)
		return
	}

	handler, ok := s.rpcMethods()[request.Method]
	if !ok {
		s.respondWithError(w, rpcMethodNotFound, "Method not found", request.ID)
		return
	}

	result, err := handler(r.Context(), request.Params)
	if err != nil {
		code := rpcCodeFor(err)
		if code == rpcInternalError {
			s.logger.Error("JSON-RPC method failed", map[string]interface{}{
				"method": request.Method,
				"error":  err.Error(),
			})
		}
		s.respondWithError(w, code, err.Error(), request.ID)
		return
	}

	response := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      request.ID,
		"result":  result,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

type rpcHandler func(ctx context.Context, params json.RawMessage) (interface{}, error)

func (s *Server) rpcMethods() map[string]rpcHandler {
	return map[string]rpcHandler{
		"function.list":           s.rpcFunctionList,
		"function.get":            s.rpcFunctionGet,
		"function.evaluate":       s.rpcFunctionEvaluate,
		"function.setInputs":      s.rpcFunctionSetInputs,
		"optimization.start":      s.rpcOptimizationStart,
		"optimization.status":     s.rpcOptimizationStatus,
		"optimization.cancel":     s.rpcOptimizationCancel,
		"optimization.techniques": s.rpcTechniques,
		"optimization.sessions":   s.rpcSessions,
	}
}

// decodeParams unmarshals an object or a one-element array of objects.
func decodeParams(raw json.RawMessage, v interface{}) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return invalidf("missing required parameters")
	}
	if raw[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil {
			return invalidf("invalid parameter format: %v", err)
		}
		if len(list) == 0 {
			return invalidf("missing required parameters")
		}
		raw = list[0]
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return invalidf("invalid parameter format, expected object: %v", err)
	}
	return nil
}

func (s *Server) rpcFunctionList(_ context.Context, _ json.RawMessage) (interface{}, error) {
	views := make([]FunctionView, 0, s.functions.Len())
	for _, key := range s.functions.Keys() {
		fn, err := s.functions.Get(key)
		if err != nil {
			return nil, err
		}
		views = append(views, FunctionView{Key: key, Snapshot: fn.Snapshot()})
	}
	return views, nil
}

func (s *Server) rpcFunctionGet(_ context.Context, raw json.RawMessage) (interface{}, error) {
	var p functionParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	fn, err := s.functions.Get(p.Function)
	if err != nil {
		return nil, err
	}
	return FunctionView{Key: p.Function, Snapshot: fn.Snapshot()}, nil
}

func (s *Server) rpcFunctionEvaluate(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p functionParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	fn, err := s.functions.Get(p.Function)
	if err != nil {
		return nil, err
	}
	return s.evaluate(ctx, p.Function, fn)
}

func (s *Server) rpcFunctionSetInputs(_ context.Context, raw json.RawMessage) (interface{}, error) {
	var p setInputsParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	fn, err := s.functions.Get(p.Function)
	if err != nil {
		return nil, err
	}
	if err := s.setInputs(fn, p.Values); err != nil {
		return nil, err
	}
	return FunctionView{Key: p.Function, Snapshot: fn.Snapshot()}, nil
}

func (s *Server) rpcOptimizationStart(_ context.Context, raw json.RawMessage) (interface{}, error) {
	var p startParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	fn, err := s.functions.Get(p.Function)
	if err != nil {
		return nil, err
	}
	return s.start(p.Function, fn, p.OptimizeRequest)
}

func (s *Server) rpcOptimizationStatus(_ context.Context, raw json.RawMessage) (interface{}, error) {
	sess, err := s.sessionFromParams(raw)
	if err != nil {
		return nil, err
	}
	return sess.Status(), nil
}

func (s *Server) rpcOptimizationCancel(_ context.Context, raw json.RawMessage) (interface{}, error) {
	sess, err := s.sessionFromParams(raw)
	if err != nil {
		return nil, err
	}
	sess.Cancel()
	return sess.Status(), nil
}

func (s *Server) rpcTechniques(_ context.Context, _ json.RawMessage) (interface{}, error) {
	return s.Techniques(), nil
}

func (s *Server) rpcSessions(_ context.Context, _ json.RawMessage) (interface{}, error) {
	return s.sessions.List(), nil
}

func (s *Server) sessionFromParams(raw json.RawMessage) (*session.Session, error) {
	var p sessionParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.SessionID == "" {
		return nil, invalidf("session_id is required")
	}
	return s.sessions.Get(p.SessionID)
}

// respondWithError sends a JSON-RPC error response
func (s *Server) respondWithError(w http.ResponseWriter, code int, message string, id interface{}) {
	response := map[string]interface{}{
		"jsonrpc": "2.0",
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
		"id": id,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}
