package server

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/extrema/internal/session"
)

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (f *fixture) rpc(t *testing.T, body string) rpcResponse {
	t.Helper()
	rr := f.do(t, http.MethodPost, "/rpc", body)
	require.Equal(t, http.StatusOK, rr.Code)
	return decode[rpcResponse](t, rr)
}

func TestJSONRPCProtocolErrors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"parse error", `{"jsonrpc":`, rpcParseError},
		{"wrong version", `{"jsonrpc":"1.0","id":1,"method":"optimization.techniques"}`, rpcInvalidRequest},
		{"missing method", `{"jsonrpc":"2.0","id":1}`, rpcInvalidRequest},
		{"unknown method", `{"jsonrpc":"2.0","id":1,"method":"optimization.pause"}`, rpcMethodNotFound},
		{"missing params", `{"jsonrpc":"2.0","id":1,"method":"function.evaluate"}`, rpcInvalidParams},
		{"empty params", `{"jsonrpc":"2.0","id":1,"method":"function.evaluate","params":[]}`, rpcInvalidParams},
		{"unknown function", `{"jsonrpc":"2.0","id":1,"method":"function.evaluate","params":{"function":"nope"}}`, rpcNotFound},
		{"unknown session", `{"jsonrpc":"2.0","id":1,"method":"optimization.status","params":{"session_id":"nope"}}`, rpcNotFound},
		{"blank session", `{"jsonrpc":"2.0","id":1,"method":"optimization.cancel","params":{}}`, rpcInvalidParams},
		{"dimension mismatch", `{"jsonrpc":"2.0","id":1,"method":"function.setInputs","params":{"function":"dell","values":[1]}}`, rpcInvalidParams},
		{"unknown technique", `{"jsonrpc":"2.0","id":1,"method":"optimization.start","params":{"function":"dell","technique":"Simplex"}}`, rpcInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.rpc(t, tt.body)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code, resp.Error.Message)
			assert.Equal(t, "2.0", resp.JSONRPC)
		})
	}
}

func TestJSONRPCFunctionMethods(t *testing.T) {
	f := newFixture(t)

	// Positional form: a single object inside an array.
	resp := f.rpc(t, `{"jsonrpc":"2.0","id":"a","method":"function.setInputs","params":[{"function":"minAbsSum","values":[1,-1,2,-2]}]}`)
	require.Nil(t, resp.Error)
	assert.Equal(t, "a", resp.ID)

	var view FunctionView
	require.NoError(t, json.Unmarshal(resp.Result, &view))
	assert.Equal(t, []float64{1, -1, 2, -2}, view.InputValues)

	resp = f.rpc(t, `{"jsonrpc":"2.0","id":2,"method":"function.evaluate","params":{"function":"minAbsSum"}}`)
	require.Nil(t, resp.Error)
	var eval EvaluateResponse
	require.NoError(t, json.Unmarshal(resp.Result, &eval))
	assert.Equal(t, 6.0, eval.Output)

	resp = f.rpc(t, `{"jsonrpc":"2.0","id":3,"method":"function.get","params":{"function":"minAbsSum"}}`)
	require.Nil(t, resp.Error)
	require.NoError(t, json.Unmarshal(resp.Result, &view))
	assert.True(t, view.HasOutput)
	assert.Equal(t, 6.0, view.Output)

	resp = f.rpc(t, `{"jsonrpc":"2.0","id":4,"method":"function.list"}`)
	require.Nil(t, resp.Error)
	var views []FunctionView
	require.NoError(t, json.Unmarshal(resp.Result, &views))
	assert.Len(t, views, 3)

	resp = f.rpc(t, `{"jsonrpc":"2.0","id":5,"method":"optimization.techniques"}`)
	require.Nil(t, resp.Error)
	var names []string
	require.NoError(t, json.Unmarshal(resp.Result, &names))
	assert.Equal(t, []string{"RandomWalk", "Powell"}, names)
}

func TestJSONRPCOptimization(t *testing.T) {
	f := newFixture(t)

	resp := f.rpc(t, `{"jsonrpc":"2.0","id":1,"method":"optimization.start","params":{"function":"dell","technique":"POWELL","max_iterations":100}}`)
	require.Nil(t, resp.Error, "%+v", resp.Error)

	var start StartResponse
	require.NoError(t, json.Unmarshal(resp.Result, &start))
	assert.Equal(t, "Powell", start.Technique)

	sess, err := f.sessions.Get(start.SessionID)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err = sess.Wait(ctx)
	require.NoError(t, err)

	resp = f.rpc(t, `{"jsonrpc":"2.0","id":2,"method":"optimization.status","params":{"session_id":"`+start.SessionID+`"}}`)
	require.Nil(t, resp.Error)
	var st session.Status
	require.NoError(t, json.Unmarshal(resp.Result, &st))
	assert.Equal(t, session.Completed, st.State)
	assert.InDelta(t, 100.0, st.Output, 1e-3)

	// Cancelling a finished session leaves it unchanged.
	resp = f.rpc(t, `{"jsonrpc":"2.0","id":3,"method":"optimization.cancel","params":{"session_id":"`+start.SessionID+`"}}`)
	require.Nil(t, resp.Error)
	require.NoError(t, json.Unmarshal(resp.Result, &st))
	assert.Equal(t, session.Completed, st.State)

	resp = f.rpc(t, `{"jsonrpc":"2.0","id":4,"method":"optimization.sessions"}`)
	require.Nil(t, resp.Error)
	var all []session.Status
	require.NoError(t, json.Unmarshal(resp.Result, &all))
	assert.Len(t, all, 1)
}

func TestDecodeParams(t *testing.T) {
	var p functionParams
	require.NoError(t, decodeParams(json.RawMessage(`{"function":"dell"}`), &p))
	assert.Equal(t, "dell", p.Function)

	p = functionParams{}
	require.NoError(t, decodeParams(json.RawMessage(` [{"function":"samsClub"}, {"function":"ignored"}]`), &p))
	assert.Equal(t, "samsClub", p.Function)

	assert.ErrorIs(t, decodeParams(nil, &p), errInvalidRequest)
	assert.ErrorIs(t, decodeParams(json.RawMessage(`null`), &p), errInvalidRequest)
	assert.ErrorIs(t, decodeParams(json.RawMessage(`"dell"`), &p), errInvalidRequest)
}
