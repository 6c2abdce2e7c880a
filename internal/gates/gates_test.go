package gates

import (
	"context"
	"testing"

	"github.com/SolLabsHQ/solserver/pkg/contracts"
	"github.com/SolLabsHQ/solserver/pkg/models"
	"github.com/stretchr/testify/require"
)

func TestChainRunsInFixedOrder(t *testing.T) {
	c := NewDefaultChain()
	result, err := c.Run(context.Background(), &contracts.GateInput{Message: "hello"})
	require.NoError(t, err)
	require.Len(t, result.Outputs, 4)
	names := []string{result.Outputs[0].GateName, result.Outputs[1].GateName, result.Outputs[2].GateName, result.Outputs[3].GateName}
	require.Equal(t, []string{"normalize_modality", "url_extraction", "intent", "sentinel"}, names)
}

func TestSentinelIsExclusiveUrgencySource(t *testing.T) {
	c := NewDefaultChain()
	result, err := c.Run(context.Background(), &contracts.GateInput{Message: "I feel suicidal"})
	require.NoError(t, err)
	require.True(t, result.SafetyIsUrgent)
	require.Equal(t, "high", result.Risk)
}

func TestNonSentinelUrgencyNeverEscalates(t *testing.T) {
	urgentGate := &stubGate{name: "url_extraction", out: &models.GateOutput{GateName: "url_extraction", Status: models.GatePass, IsUrgent: true}}
	c := &Chain{URLExtraction: urgentGate, Intent: &IntentGate{}, Sentinel: &SentinelGate{}}
	result, err := c.Run(context.Background(), &contracts.GateInput{Message: "hello"})
	require.NoError(t, err)
	require.False(t, result.SafetyIsUrgent)
}

type stubGate struct {
	name string
	out  *models.GateOutput
}

func (s *stubGate) Name() string { return s.name }
func (s *stubGate) Run(_ context.Context, _ *contracts.GateInput) (*models.GateOutput, error) {
	return s.out, nil
}
