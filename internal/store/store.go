// Package store defines the persistence contract the orchestrator depends
// on and an in-memory implementation of it.
package store

import (
	"context"
	"fmt"

	"github.com/SolLabsHQ/solserver/pkg/models"
)

// ErrNotFound is returned when a lookup by key finds nothing.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.Key)
}

// ChatResult is the persisted, client-facing outcome of one transmission.
type ChatResult struct {
	TransmissionID string                 `json:"transmission_id"`
	AssistantText  string                 `json:"assistant_text"`
	Envelope       *models.OutputEnvelope `json:"envelope,omitempty"`
}

// Store is the minimum set of persistence operations the orchestrator and
// its components depend on (spec §6). Implementations must serialize
// writes per transmission/thread (single-writer assumption).
type Store interface {
	// Transmission lifecycle
	CreateTransmission(ctx context.Context, t *models.Transmission) error
	GetTransmission(ctx context.Context, id string) (*models.Transmission, error)
	UpdateTransmissionStatus(ctx context.Context, id string, status models.TransmissionStatus, statusCode int, retryable bool, errorCode, errorDetail string) error
	UpdateTransmissionPolicy(ctx context.Context, id string, policy models.NotificationPolicy) error
	SetTransmissionOutputEnvelope(ctx context.Context, id string, env *models.OutputEnvelope) error
	SetChatResult(ctx context.Context, result *ChatResult) error
	GetChatResult(ctx context.Context, transmissionID string) (*ChatResult, error)

	// Delivery / usage
	AppendDeliveryAttempt(ctx context.Context, attempt *models.DeliveryAttempt) error
	RecordUsage(ctx context.Context, usage *models.UsageRecord) error

	// Trace
	AppendTraceEvent(ctx context.Context, ev *models.TraceEvent) error
	GetTraceEvents(ctx context.Context, transmissionID string, limit int) ([]models.TraceEvent, error)
	GetTraceSummary(ctx context.Context, transmissionID string) (*models.TraceSummary, error)

	// Evidence
	SaveEvidence(ctx context.Context, transmissionID string, ev *models.Evidence) error
	GetEvidence(ctx context.Context, transmissionID string) (*models.Evidence, error)

	// Memory artifacts (lattice retrieval)
	SearchMemoryArtifactsLexical(ctx context.Context, userID string, terms []string, limit int) ([]models.MemoryArtifact, error)
	SearchMemoryArtifactsVector(ctx context.Context, userID string, queryVec []float32, limit int, maxDistance float64) ([]models.MemoryArtifact, error)
	UpsertMemoryArtifact(ctx context.Context, a *models.MemoryArtifact) error

	// Thread memento
	GetThreadMementoLatest(ctx context.Context, threadID string) (*models.ThreadMementoLatest, error)
	UpsertThreadMementoLatest(ctx context.Context, m *models.ThreadMementoLatest) error

	// Topology guard
	EnsureTopologyKeyPrimary(ctx context.Context, createdBy, dbPath string) (*models.TopologyGuardRecord, error)

	Close() error
}
