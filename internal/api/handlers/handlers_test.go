package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/SolLabsHQ/solserver/internal/api"
	"github.com/SolLabsHQ/solserver/internal/api/handlers"
	"github.com/SolLabsHQ/solserver/internal/config"
	"github.com/SolLabsHQ/solserver/internal/driverblock"
	"github.com/SolLabsHQ/solserver/internal/envelope"
	"github.com/SolLabsHQ/solserver/internal/evidence"
	"github.com/SolLabsHQ/solserver/internal/gates"
	"github.com/SolLabsHQ/solserver/internal/lattice"
	"github.com/SolLabsHQ/solserver/internal/orchestrator"
	"github.com/SolLabsHQ/solserver/internal/provider"
	"github.com/SolLabsHQ/solserver/internal/sse"
	"github.com/SolLabsHQ/solserver/internal/store"
	"github.com/SolLabsHQ/solserver/pkg/contracts"
)

func newTestRouter(t *testing.T, internalToken string) http.Handler {
	t.Helper()
	return newTestRouterWithProvider(t, internalToken, provider.FakeDriver{})
}

func newTestRouterWithProvider(t *testing.T, internalToken string, prov contracts.LLMProviderDriver) http.Handler {
	t.Helper()
	cfg := &config.Config{Env: "development", InternalToken: internalToken}
	st := store.NewMemoryStore("", 0)
	lat := lattice.NewRetriever(config.LatticeConfig{Enabled: false}, nil, nil, nil)

	orch := orchestrator.New(cfg, st, prov, gates.NewDefaultChain(), lat,
		evidence.NewNormalizer(nil), envelope.NewValidator(), driverblock.NewBundle(""), sse.NewHub())

	h := &handlers.Handlers{Orchestrator: orch, Store: st, Hub: orch.Hub, Cfg: cfg}
	return api.NewRouter(cfg, h)
}

// brokenProvider always returns text that fails envelope parsing, to drive
// the 422 output_contract_failed path through the HTTP layer.
type brokenProvider struct{}

func (brokenProvider) Kind() string { return "broken" }

func (brokenProvider) Call(_ context.Context, _ contracts.ProviderRequest) (*contracts.ProviderResponse, error) {
	return &contracts.ProviderResponse{RawText: "not json at all"}, nil
}

func TestChatHandlerHappyPath(t *testing.T) {
	router := newTestRouter(t, "")

	body, err := json.Marshal(map[string]interface{}{"threadId": "thread-1", "message": "hello"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, true, resp["ok"])
	require.NotEmpty(t, resp["transmissionId"])
}

func TestChatHandlerAsyncAck(t *testing.T) {
	router := newTestRouter(t, "")

	body, err := json.Marshal(map[string]interface{}{"threadId": "thread-2", "message": "hello", "simulate": 202})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)

	var ack map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ack))
	require.Equal(t, true, ack["pending"])
	require.Equal(t, true, ack["simulated"])
}

func TestTopologyHandlerGating(t *testing.T) {
	router := newTestRouter(t, "secret")

	req := httptest.NewRequest(http.MethodGet, "/internal/topology", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	req2 := httptest.NewRequest(http.MethodGet, "/internal/topology", nil)
	req2.Header.Set("x-sol-internal-token", "secret")
	w2 := httptest.NewRecorder()
	router.ServeHTTP(w2, req2)
	require.Equal(t, http.StatusOK, w2.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &body))
	require.NotEmpty(t, body["topologyKey"])
}

func TestChatHandlerGateFailureIncludesTransmissionAndTraceIDs(t *testing.T) {
	router := newTestRouterWithProvider(t, "", brokenProvider{})

	body, err := json.Marshal(map[string]interface{}{"threadId": "thread-3", "message": "hello"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "output_contract_failed", resp["error"])
	require.NotEmpty(t, resp["transmissionId"])
	require.Equal(t, resp["transmissionId"], resp["traceRunId"])
	require.NotEmpty(t, resp["assistant"])
}

func TestChatHandlerValidationFailureUsesInvalidRequestShape(t *testing.T) {
	router := newTestRouter(t, "")

	captures := make([]map[string]string, 26)
	for i := range captures {
		captures[i] = map[string]string{"id": "c", "kind": "manual"}
	}
	body, err := json.Marshal(map[string]interface{}{
		"threadId": "thread-4", "message": "hello",
		"evidence": map[string]interface{}{"captures": captures},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "invalid_request", resp["error"])
	require.Equal(t, "captures_exceeded", resp["code"])
	require.NotEmpty(t, resp["message"])
	require.NotEmpty(t, resp["details"])
}

func TestHealthAndVersion(t *testing.T) {
	router := newTestRouter(t, "")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	req2 := httptest.NewRequest(http.MethodGet, "/version", nil)
	w2 := httptest.NewRecorder()
	router.ServeHTTP(w2, req2)
	require.Equal(t, http.StatusOK, w2.Code)
}
