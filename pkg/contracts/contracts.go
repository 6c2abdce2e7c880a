// Package contracts defines the interfaces through which the orchestration
// core consumes its external collaborators: the LLM provider adapter, URL
// extraction, the envelope schema validator, the pluggable input gates,
// memory-artifact/vector/embedding lookups, and the affect rollup. The
// persistence store interface lives in internal/store.
// Each interface ships a small default ("community") implementation so the
// module runs standalone; production deployments swap in their own.
package contracts

import (
	"context"

	"github.com/SolLabsHQ/solserver/pkg/models"
)

// ── LLM provider adapter ─────────────────────────────────────

// ProviderRequest is the model-call contract: prompt text, the resolved
// mode label, and the model name to invoke.
type ProviderRequest struct {
	PromptText string
	ModeLabel  string
	Model      string
}

// ProviderResponse is the raw model output plus any memento draft the
// provider surfaced inline (some providers echo structured state).
type ProviderResponse struct {
	RawText      string
	MementoDraft *models.ThreadMementoLatest
	Usage        ProviderUsage
}

type ProviderUsage struct {
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
	CostUSD          float64
}

// ProviderError is a typed, retryable-aware error from a provider call.
type ProviderError struct {
	Code      string
	Message   string
	Retryable bool
}

func (e *ProviderError) Error() string { return e.Message }

// LLMProviderDriver is the out-of-scope LLM provider adapter contract:
// {promptText, modeLabel, model} -> {rawText, mementoDraft}.
type LLMProviderDriver interface {
	Kind() string
	Call(ctx context.Context, req ProviderRequest) (*ProviderResponse, error)
}

// ── URL extraction ───────────────────────────────────────────

// URLExtractor pulls URLs out of a free-text message for evidence
// auto-capture (C2).
type URLExtractor interface {
	Extract(text string) []string
}

// ── Envelope schema validation ───────────────────────────────

// ParseFailureCode enumerates C1's typed failure reasons.
type ParseFailureCode string

const (
	ParseInvalidJSON     ParseFailureCode = "invalid_json"
	ParseSchemaInvalid   ParseFailureCode = "schema_invalid"
	ParsePayloadTooLarge ParseFailureCode = "payload_too_large"
)

// ParseIssue is one schema validation complaint.
type ParseIssue struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ParseFailure is C1's typed failure result.
type ParseFailure struct {
	Code   ParseFailureCode
	Issues []ParseIssue
}

func (f *ParseFailure) Error() string { return string(f.Code) }

// SchemaValidator accepts raw model output bytes and produces either a
// typed envelope or a typed parse error — the schema-validation contract
// named as an external collaborator in the core's scope statement.
type SchemaValidator interface {
	Validate(raw []byte, attempt int) (*models.OutputEnvelope, *ParseFailure)
}

// ── Gate collaborators ───────────────────────────────────────

// GateInput is what a pluggable gate receives.
type GateInput struct {
	Kitchen string
	Message string
	UserID  string
	Risk    string
}

// Gate is the contract shared by the pluggable input gates (url_extraction,
// intent, sentinel) that the core's Gate Chain invokes in fixed order.
// normalize_modality and lattice are implemented directly by the core.
type Gate interface {
	Name() string
	Run(ctx context.Context, in *GateInput) (*models.GateOutput, error)
}

// ── Memory artifact / vector search ──────────────────────────

// MemoryArtifactStore serves lattice retrieval's lexical search.
type MemoryArtifactStore interface {
	SearchLexical(ctx context.Context, userID string, terms []string, limit int) ([]models.MemoryArtifact, error)
}

// VectorStoreDriver serves lattice retrieval's optional vector search path.
type VectorStoreDriver interface {
	Kind() string
	Upsert(ctx context.Context, userID string, artifacts []models.MemoryArtifact) error
	Search(ctx context.Context, userID string, queryVec []float32, limit int, maxDistance float64) ([]models.MemoryArtifact, error)
}

// EmbeddingDriver computes a deterministic embedding for lattice's optional
// vector search path.
type EmbeddingDriver interface {
	Kind() string
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ── Affect rollup ────────────────────────────────────────────

// AffectRollupFunc computes {phase, intensityBucket} from the bounded
// affect point history. Spec §9: "referenced but injected; treat it as a
// pure function dependency."
type AffectRollupFunc func(points []models.AffectPoint) models.AffectRollup
