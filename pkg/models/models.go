// Package models holds the wire and persistence types shared across the
// control plane: transmissions, traces, evidence, envelopes, and the
// per-thread memento state.
package models

import "time"

// ── Transmission ─────────────────────────────────────────────

type TransmissionStatus string

const (
	TransmissionCreated    TransmissionStatus = "created"
	TransmissionProcessing TransmissionStatus = "processing"
	TransmissionCompleted  TransmissionStatus = "completed"
	TransmissionFailed     TransmissionStatus = "failed"
)

// Transmission is one attempt to deliver an assistant response for a chat
// packet. It is mutated only by the orchestrator and persisted on every
// status change.
type Transmission struct {
	ID              string             `json:"id" db:"id"`
	ThreadID        string             `json:"thread_id" db:"thread_id"`
	ClientRequestID string             `json:"client_request_id,omitempty" db:"client_request_id"`
	ForcedPersona   string             `json:"forced_persona,omitempty" db:"forced_persona"`
	Policy          NotificationPolicy `json:"notification_policy" db:"notification_policy"`
	Status          TransmissionStatus `json:"status" db:"status"`
	StatusCode      int                `json:"status_code,omitempty" db:"status_code"`
	Retryable       bool               `json:"retryable" db:"retryable"`
	ErrorCode       string             `json:"error_code,omitempty" db:"error_code"`
	ErrorDetail     string             `json:"error_detail,omitempty" db:"error_detail"`
	CreatedAt       time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at" db:"updated_at"`
}

// NotificationPolicy is the derived delivery urgency for a transmission.
type NotificationPolicy struct {
	Level  string `json:"level"` // silent | alert | urgent
	Reason string `json:"reason,omitempty"`
}

const (
	NotificationSilent = "silent"
	NotificationAlert  = "alert"
	NotificationUrgent = "urgent"
)

// ModeDecision is the result of resolving which persona/mode handles a turn.
type ModeDecision struct {
	ModeLabel    string   `json:"modeLabel"`
	PersonaLabel string   `json:"personaLabel,omitempty"`
	Reasons      []string `json:"reasons,omitempty"`
}

// ── TraceRun / TraceEvent ────────────────────────────────────

// TraceEvent is one append-only entry in a transmission's audit trail.
type TraceEvent struct {
	TransmissionID string                 `json:"transmission_id" db:"transmission_id"`
	Seq            int64                  `json:"seq" db:"seq"`
	Actor          string                 `json:"actor"`
	Phase          string                 `json:"phase"`
	Status         string                 `json:"status"` // started | completed | failed, or a gate's pass | fail | warn
	Summary        string                 `json:"summary,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt      time.Time              `json:"created_at" db:"created_at"`
}

// TraceSummary is a bounded rollup of a transmission's trace events.
type TraceSummary struct {
	TransmissionID string   `json:"transmission_id"`
	Phases         []string `json:"phases"`
	EventCount     int      `json:"event_count"`
	FailedPhase    string   `json:"failed_phase,omitempty"`
}

// ── PacketInput ──────────────────────────────────────────────

// ThreadContextMode controls whether the memento/corrective regeneration
// loop is engaged for a request.
type ThreadContextMode string

const (
	ThreadContextAuto ThreadContextMode = "auto"
	ThreadContextOff  ThreadContextMode = "off"
)

// PacketInput is the request envelope accepted by POST /v1/chat.
type PacketInput struct {
	ThreadID            string             `json:"threadId"`
	PacketType          string             `json:"packetType,omitempty"`
	Message             string             `json:"message"`
	Evidence            *EvidenceInput     `json:"evidence,omitempty"`
	ThreadMementoRef     string            `json:"threadMementoRef,omitempty"`
	ThreadMementoInline  *ThreadMementoLatest `json:"threadMementoInline,omitempty"`
	ProviderHints       map[string]string  `json:"providerHints,omitempty"`
	NotificationPolicy  string             `json:"notificationPolicy,omitempty"`
	TraceConfig         map[string]interface{} `json:"traceConfig,omitempty"`
	ThreadContextMode   ThreadContextMode  `json:"threadContextMode,omitempty"`
	UserID              string             `json:"userId,omitempty"`
	ForcedPersona       string             `json:"forcedPersona,omitempty"`
	ForceEvidence       bool               `json:"forceEvidence,omitempty"`
	Simulate            int                `json:"simulate,omitempty"` // 202 triggers async branch
	ClientRequestID     string             `json:"clientRequestId,omitempty"`
}

// ── Evidence ─────────────────────────────────────────────────

// EvidenceInput is the client-submitted portion of Evidence before merge
// with server-side auto-captures.
type EvidenceInput struct {
	Captures []Capture `json:"captures,omitempty"`
	Supports []Support `json:"supports,omitempty"`
	Claims   []EvidenceClaim `json:"claims,omitempty"`
}

type Capture struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"` // url | manual | ...
	URL        string    `json:"url,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
	Source     string    `json:"source,omitempty"` // user_provided | auto
}

type Support struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"` // url_capture | text_snippet
	CaptureID string    `json:"captureId,omitempty"`
	Text      string    `json:"text,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// EvidenceClaim is a user-submitted claim prior to server processing.
// (Distinct from Claim, which lives inside an OutputEnvelope's meta.)
type EvidenceClaim struct {
	ID         string   `json:"id"`
	Text       string   `json:"text"`
	SupportIDs []string `json:"supportIds"`
	CreatedAt  time.Time `json:"created_at"`
}

// Evidence is the normalized, validated result of evidence intake (C2).
type Evidence struct {
	Captures []Capture       `json:"captures"`
	Supports []Support       `json:"supports"`
	Claims   []EvidenceClaim `json:"claims"`
}

const (
	MaxCaptures = 25
	MaxSupports = 50
	MaxClaims   = 50
)

// EvidencePack is the allowed-evidence-pack resolved for output gating.
type EvidencePack struct {
	PackID string            `json:"packId"`
	Items  []EvidencePackItem `json:"items"`
}

type EvidencePackItem struct {
	EvidenceID    string           `json:"evidenceId"`
	Kind          string           `json:"kind"`
	Spans         []EvidenceSpan   `json:"spans,omitempty"`
	ExcerptText   string           `json:"excerptText,omitempty"`
}

type EvidenceSpan struct {
	SpanID string `json:"spanId"`
	Text   string `json:"text"`
}

// ── OutputEnvelope ───────────────────────────────────────────

// OutputEnvelope is the model's parsed, validated output.
type OutputEnvelope struct {
	AssistantText string        `json:"assistant_text"`
	Meta          *EnvelopeMeta `json:"meta,omitempty"`

	// SchemaWarnings holds full-schema validation complaints (ghost-card
	// shape, capture-suggestion field combinations) that were not serious
	// enough to block the envelope. Never serialized; the orchestrator
	// drains it into a warning trace event and discards it.
	SchemaWarnings []string `json:"-"`
}

// EnvelopeMeta holds only allowlisted keys. At egress only populated
// fields are emitted; at ingress unknown top-level keys are rejected but
// meta's own keys are aliased/normalized first.
type EnvelopeMeta struct {
	MetaVersion        string                 `json:"meta_version,omitempty"`
	Claims             []Claim                `json:"claims,omitempty"`
	UsedEvidenceIDs    []string               `json:"used_evidence_ids,omitempty"`
	EvidencePackID     string                 `json:"evidence_pack_id,omitempty"`
	CaptureSuggestion  *CaptureSuggestion     `json:"capture_suggestion,omitempty"`
	Shape              *MementoShape          `json:"shape,omitempty"`
	AffectSignal       *AffectSignal          `json:"affect_signal,omitempty"`
	LibrarianGate      *LibrarianGateResult   `json:"librarian_gate,omitempty"`
	Lattice            *LatticeMeta           `json:"lattice,omitempty"`
	JournalOffer       *JournalOfferRecord    `json:"journalOffer,omitempty"`
	DisplayHint        string                 `json:"display_hint,omitempty"`
	GhostKind          string                 `json:"ghost_kind,omitempty"`
	GhostPayload       map[string]interface{} `json:"ghost_payload,omitempty"`
}

// Claim is a model-asserted statement bound to evidence references.
type Claim struct {
	ClaimID      string        `json:"claim_id"`
	ClaimText    string        `json:"claim_text"`
	EvidenceRefs []EvidenceRef `json:"evidence_refs"`
}

type EvidenceRef struct {
	EvidenceID string `json:"evidence_id"`
	SpanID     string `json:"span_id,omitempty"`
}

// CaptureSuggestion proposes an action derived from the conversation.
type CaptureSuggestion struct {
	SuggestionID     string `json:"suggestion_id,omitempty"`
	Kind             string `json:"kind"` // calendar_event | journal_entry | reminder
	SuggestedStartAt string `json:"suggested_start_at,omitempty"`
	SuggestedDate    string `json:"suggested_date,omitempty"`
}

// ── ThreadMementoLatest ──────────────────────────────────────

const MementoListCap = 5

// MementoShape is the active/parked/decisions/next view of a thread.
type MementoShape struct {
	Arc       string   `json:"arc"`
	Active    []string `json:"active"`
	Parked    []string `json:"parked"`
	Decisions []string `json:"decisions"`
	Next      []string `json:"next"`
}

// AffectSignal is the model-reported emotional read for the turn.
type AffectSignal struct {
	Label      string  `json:"label"`
	Intensity  float64 `json:"intensity"`
	Confidence string  `json:"confidence,omitempty"` // low | med | high
}

// AffectPoint is one recorded affect observation for a thread.
type AffectPoint struct {
	EndMessageID string    `json:"endMessageId"`
	Label        string    `json:"label"`
	Intensity    float64   `json:"intensity"`
	Confidence   string    `json:"confidence"`
	Source       string    `json:"source"`
	Timestamp    time.Time `json:"ts"`
}

// AffectRollup is the recomputed phase/intensity summary after each turn.
type AffectRollup struct {
	Phase           string    `json:"phase"`
	IntensityBucket string    `json:"intensityBucket"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Affect bundles the bounded point history with its rollup.
type Affect struct {
	Points []AffectPoint `json:"points"`
	Rollup AffectRollup  `json:"rollup"`
}

// ThreadMementoLatest is the per-thread state cached in-process and
// persisted only when memento.ShouldPersist reports a meaningful change.
type ThreadMementoLatest struct {
	MementoID string       `json:"mementoId"`
	ThreadID  string       `json:"-"`
	CreatedTs time.Time    `json:"createdTs"`
	UpdatedAt time.Time    `json:"updatedAt"`
	Shape     MementoShape `json:"-"`
	Arc       string       `json:"arc"`
	Active    []string     `json:"active"`
	Parked    []string     `json:"parked"`
	Decisions []string     `json:"decisions"`
	Next      []string     `json:"next"`
	Affect    Affect       `json:"affect"`
}

// ── Journal offer ────────────────────────────────────────────

type JournalOfferRecord struct {
	OfferEligible   bool     `json:"offerEligible"`
	Phase           string   `json:"phase,omitempty"`
	Risk            string   `json:"risk,omitempty"`
	Label           string   `json:"label,omitempty"`
	IntensityBucket string   `json:"intensityBucket,omitempty"`
	Mode            string   `json:"mode,omitempty"` // vent | insight | gratitude | decision
	EvidenceSpan    string   `json:"evidenceSpan,omitempty"`
	ReasonCodes     []string `json:"reasonCodes,omitempty"`
}

// ── Driver blocks ────────────────────────────────────────────

// DriverBlock is a policy-authored text block constraining assistant output.
type DriverBlock struct {
	ID         string `json:"id"`
	Title      string `json:"title,omitempty"`
	Definition string `json:"definition"`
}

// ── Gate output ──────────────────────────────────────────────

type GateStatus string

const (
	GatePass GateStatus = "pass"
	GateFail GateStatus = "fail"
	GateWarn GateStatus = "warn"
)

// GateOutput is produced by every input gate in the chain (C3).
type GateOutput struct {
	GateName string                 `json:"gateName"`
	Status   GateStatus             `json:"status"`
	Summary  string                 `json:"summary,omitempty"`
	IsUrgent bool                   `json:"is_urgent,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ── Lattice ──────────────────────────────────────────────────

type LatticeItem struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"` // memory | policy | memento | bookmark
	Summary string `json:"summary"`
}

type LatticeMeta struct {
	Status         string                 `json:"status"` // hit | miss | fail
	RetrievalTrace string                 `json:"retrieval_trace,omitempty"`
	Counts         map[string]int         `json:"counts,omitempty"`
	BytesTotal     int                    `json:"bytes_total"`
	Scores         map[string]float64     `json:"scores,omitempty"`
	Warnings       []string               `json:"warnings,omitempty"`
}

// MemoryArtifact is a row searched by lattice retrieval's lexical/vector
// search; it backs contracts.MemoryArtifactStore.
type MemoryArtifact struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Text      string    `json:"text" db:"text"`
	Tags      []string  `json:"tags,omitempty" db:"tags"`
	Lifecycle string    `json:"lifecycle" db:"lifecycle"` // pinned | archived | ...
	Embedding []float32 `json:"embedding,omitempty" db:"embedding"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// PolicyCapsule is a policy snippet loaded from the policy bundle file.
type PolicyCapsule struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Snippet string   `json:"snippet"`
	Tags    []string `json:"tags"`
}

// ── Librarian gate ───────────────────────────────────────────

type LibrarianVerdict string

const (
	LibrarianPass  LibrarianVerdict = "pass"
	LibrarianPrune LibrarianVerdict = "prune"
	LibrarianFlag  LibrarianVerdict = "flag"
)

type LibrarianGateResult struct {
	Version           string           `json:"version"`
	PrunedRefs        int              `json:"pruned_refs"`
	UnsupportedClaims int              `json:"unsupported_claims"`
	SupportScore      float64          `json:"support_score"`
	Verdict           LibrarianVerdict `json:"verdict"`
	ReasonCodes       []string         `json:"reasonCodes,omitempty"`
}

// ── Usage / delivery ─────────────────────────────────────────

type DeliveryAttempt struct {
	TransmissionID string    `json:"transmission_id" db:"transmission_id"`
	Attempt        int       `json:"attempt" db:"attempt"`
	Status         string    `json:"status" db:"status"` // succeeded | failed
	ProviderUsed   string    `json:"provider_used,omitempty" db:"provider_used"`
	Model          string    `json:"model,omitempty" db:"model"`
	LatencyMs      int64     `json:"latency_ms" db:"latency_ms"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

type UsageRecord struct {
	TransmissionID   string    `json:"transmission_id" db:"transmission_id"`
	Attempt          int       `json:"attempt" db:"attempt"`
	PromptTokens     int64     `json:"prompt_tokens" db:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens" db:"completion_tokens"`
	TotalTokens      int64     `json:"total_tokens" db:"total_tokens"`
	CostUSD          float64   `json:"cost_usd" db:"cost_usd"`
	Provider         string    `json:"provider" db:"provider"`
	Model            string    `json:"model" db:"model"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// ── Topology guard ───────────────────────────────────────────

// TopologyGuardRecord is the topology key record the store creates once
// and returns unchanged on later calls. Creating it performs no check of
// storage durability or of the process group.
type TopologyGuardRecord struct {
	TopologyKey string `json:"topologyKey"`
	CreatedAtMs int64  `json:"createdAtMs"`
	CreatedBy   string `json:"createdBy"`
	DBPath      string `json:"dbPath"`
}
