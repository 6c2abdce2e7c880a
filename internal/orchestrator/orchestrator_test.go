package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/SolLabsHQ/solserver/internal/config"
	"github.com/SolLabsHQ/solserver/internal/driverblock"
	"github.com/SolLabsHQ/solserver/internal/envelope"
	"github.com/SolLabsHQ/solserver/internal/evidence"
	"github.com/SolLabsHQ/solserver/internal/gates"
	"github.com/SolLabsHQ/solserver/internal/lattice"
	"github.com/SolLabsHQ/solserver/internal/sse"
	"github.com/SolLabsHQ/solserver/internal/store"
	"github.com/SolLabsHQ/solserver/pkg/contracts"
	"github.com/SolLabsHQ/solserver/pkg/models"
)

type scriptedProvider struct {
	responses []string
	calls     int
}

func (p *scriptedProvider) Kind() string { return "fake" }

func (p *scriptedProvider) Call(_ context.Context, _ contracts.ProviderRequest) (*contracts.ProviderResponse, error) {
	idx := p.calls
	if idx >= len(p.responses) {
		idx = len(p.responses) - 1
	}
	p.calls++
	return &contracts.ProviderResponse{RawText: p.responses[idx]}, nil
}

func newTestOrchestrator(t *testing.T, provider contracts.LLMProviderDriver) (*Orchestrator, store.Store) {
	t.Helper()
	s := store.NewMemoryStore("", 0)
	cfg := &config.Config{Env: "development"}

	lat := lattice.NewRetriever(config.LatticeConfig{Enabled: false}, nil, nil, nil)
	orch := New(cfg, s, provider, gates.NewDefaultChain(), lat, evidence.NewNormalizer(nil), envelope.NewValidator(), driverblock.NewBundle(""), sse.NewHub())
	return orch, s
}

func TestHandleChatHappyPath(t *testing.T) {
	provider := &scriptedProvider{responses: []string{`{"assistant_text":"hello there"}`}}
	orch, s := newTestOrchestrator(t, provider)

	resp, apiErr := orch.HandleChat(context.Background(), &models.PacketInput{
		ThreadID: "thread-1",
		Message:  "hi",
	})
	require.Nil(t, apiErr)
	require.True(t, resp.OK)
	require.Equal(t, "hello there", resp.Assistant)
	require.Equal(t, 1, provider.calls)

	tr, err := s.GetTransmission(context.Background(), resp.TransmissionID)
	require.NoError(t, err)
	require.Equal(t, models.TransmissionCompleted, tr.Status)
}

func TestHandleChatSchemaInvalidFailsClosedWithoutRetryByDefault(t *testing.T) {
	provider := &scriptedProvider{responses: []string{`not json at all`}}
	orch, _ := newTestOrchestrator(t, provider)

	resp, apiErr := orch.HandleChat(context.Background(), &models.PacketInput{
		ThreadID: "thread-2",
		Message:  "hi",
	})
	require.Nil(t, resp)
	require.NotNil(t, apiErr)
	require.Equal(t, "output_contract_failed", apiErr.Code)
	require.Equal(t, 422, apiErr.HTTPStatus)
	require.Equal(t, 1, provider.calls)
	require.NotEmpty(t, apiErr.TransmissionID)
	require.Equal(t, apiErr.TransmissionID, apiErr.TraceRunID)
}

func TestHandleChatContractRetryUsesSecondAttemptWhenEnabled(t *testing.T) {
	provider := &scriptedProvider{responses: []string{
		`not json at all`,
		`{"assistant_text":"recovered"}`,
	}}
	orch, _ := newTestOrchestrator(t, provider)
	orch.Cfg.Provider.ContractRetryEnabled = true
	orch.Cfg.Provider.Kind = "openai"
	orch.Cfg.Provider.ContractRetryOn = "schema_invalid,invalid_json"

	resp, apiErr := orch.HandleChat(context.Background(), &models.PacketInput{
		ThreadID: "thread-3",
		Message:  "hi",
	})
	require.Nil(t, apiErr)
	require.Equal(t, "recovered", resp.Assistant)
	require.Equal(t, 2, provider.calls)
}

func TestHandleChatBoundedAtTwoAttemptsOnRepeatedFailure(t *testing.T) {
	provider := &scriptedProvider{responses: []string{
		`not json`,
		`still not json`,
		`definitely not json`,
	}}
	orch, _ := newTestOrchestrator(t, provider)
	orch.Cfg.Provider.ContractRetryEnabled = true
	orch.Cfg.Provider.Kind = "openai"
	orch.Cfg.Provider.ContractRetryOn = "schema_invalid,invalid_json"

	_, apiErr := orch.HandleChat(context.Background(), &models.PacketInput{
		ThreadID: "thread-4",
		Message:  "hi",
	})
	require.NotNil(t, apiErr)
	require.LessOrEqual(t, provider.calls, maxModelAttempts)
}

func TestHandleChatPersistsMementoOnFirstTurn(t *testing.T) {
	provider := &scriptedProvider{responses: []string{
		`{"assistant_text":"ok","meta":{"shape":{"arc":"exploring","active":["thing"]}}}`,
	}}
	orch, s := newTestOrchestrator(t, provider)

	resp, apiErr := orch.HandleChat(context.Background(), &models.PacketInput{
		ThreadID: "thread-5",
		Message:  "hi",
	})
	require.Nil(t, apiErr)
	require.NotNil(t, resp.ThreadMemento)

	stored, err := s.GetThreadMementoLatest(context.Background(), "thread-5")
	require.NoError(t, err)
	require.Equal(t, "exploring", stored.Arc)
}

func TestHandleChatValidationErrorCarriesStructuredDetails(t *testing.T) {
	provider := &scriptedProvider{responses: []string{`{"assistant_text":"unused"}`}}
	orch, _ := newTestOrchestrator(t, provider)

	captures := make([]models.Capture, models.MaxCaptures+1)
	for i := range captures {
		captures[i] = models.Capture{ID: "c", Kind: "manual"}
	}

	resp, apiErr := orch.HandleChat(context.Background(), &models.PacketInput{
		ThreadID: "thread-7",
		Message:  "hi",
		Evidence: &models.EvidenceInput{Captures: captures},
	})
	require.Nil(t, resp)
	require.NotNil(t, apiErr)
	require.Equal(t, 400, apiErr.HTTPStatus)
	require.Equal(t, "captures_exceeded", apiErr.Code)
	require.NotNil(t, apiErr.Details)
	require.Equal(t, models.MaxCaptures+1, apiErr.Details["count"])
	require.Equal(t, 0, provider.calls)
}

func TestHandleChatAsyncReturnsImmediatelyAndCompletesInBackground(t *testing.T) {
	provider := &scriptedProvider{responses: []string{`{"assistant_text":"done later"}`}}
	orch, s := newTestOrchestrator(t, provider)

	ack, apiErr := orch.HandleChatAsync(context.Background(), &models.PacketInput{
		ThreadID: "thread-6",
		Message:  "hi",
		Simulate: 202,
	})
	require.Nil(t, apiErr)
	require.True(t, ack.Pending)
	require.True(t, ack.Simulated)

	require.Eventually(t, func() bool {
		tr, err := s.GetTransmission(context.Background(), ack.TransmissionID)
		return err == nil && tr.Status == models.TransmissionCompleted
	}, 2*time.Second, 10*time.Millisecond, "transmission never completed")
}
