// Package memento implements the Memento State Engine (C7): the per-thread
// cache of shape/affect state, the breakpoint/peak-freeze/shape-merge rules,
// the affect rollup, and the persistence and quality-repair predicates.
package memento

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/SolLabsHQ/solserver/internal/store"
	"github.com/SolLabsHQ/solserver/pkg/contracts"
	"github.com/SolLabsHQ/solserver/pkg/models"
)

// BreakpointDecision classifies how much a turn should move the thread's
// state forward.
type BreakpointDecision string

const (
	BreakpointMust   BreakpointDecision = "must"
	BreakpointShould BreakpointDecision = "should"
	BreakpointSkip   BreakpointDecision = "skip"
)

var mustSignals = map[string]bool{
	"decision_made": true, "scope_changed": true, "pivot": true, "answer_provided": true,
}

var shouldSignals = map[string]bool{
	"open_loop_created": true, "open_loop_resolved": true, "risk_or_conflict": true,
}

var ackOnlyTokens = map[string]bool{
	"ok": true, "okay": true, "thanks": true, "thank": true, "you": true, "k": true,
	"sure": true, "yep": true, "yes": true, "cool": true, "alright": true, "got": true, "it": true,
}

var decisionLockIntentRe = regexp.MustCompile(`(?i)\b(decide|decided|lock|choose|should i)\b`)
var recommendationLineRe = regexp.MustCompile(`(?im)^\s*(Recommendation|Decision|Choose)\s*:\s*(.+)$`)

// DecideBreakpoint applies spec §4.7's breakpoint decision rule.
func DecideBreakpoint(message string, signalKinds []string, summaryChanged bool, contextDriftPressure bool) BreakpointDecision {
	kinds := make(map[string]bool, len(signalKinds))
	for _, k := range signalKinds {
		kinds[k] = true
	}

	if summaryChanged {
		return BreakpointMust
	}
	for k := range mustSignals {
		if kinds[k] {
			return BreakpointMust
		}
	}

	if isAckOnly(message) || kinds["ack_only"] {
		return BreakpointSkip
	}

	for k := range shouldSignals {
		if kinds[k] {
			return BreakpointShould
		}
	}
	if contextDriftPressure {
		return BreakpointShould
	}

	return BreakpointShould
}

func isAckOnly(message string) bool {
	fields := strings.FieldsFunc(strings.ToLower(message), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	if len(fields) == 0 {
		return false
	}
	for _, f := range fields {
		if !ackOnlyTokens[f] {
			return false
		}
	}
	return true
}

// PeakFreeze reports whether the model's shape should be ignored this turn
// because the thread is at an emotional peak and the breakpoint is not a
// hard "must".
func PeakFreeze(previousPhase string, previousIntensityBucket string, decision BreakpointDecision) bool {
	if decision == BreakpointMust {
		return false
	}
	return previousPhase == "peak" || previousIntensityBucket == "high"
}

// MergeShape implements the shape-merge rule: model shape wins unless
// frozen or absent, decisions/next inherit from previous when the model's
// are empty, and a decision-lock fallback line is extracted from the
// assistant text when the message shows decision-lock intent.
func MergeShape(modelShape *models.MementoShape, previous *models.MementoShape, frozen bool, message, assistantText string) models.MementoShape {
	var merged models.MementoShape
	switch {
	case modelShape != nil && !frozen:
		merged = *modelShape
	case previous != nil:
		merged = *previous
	default:
		merged = models.MementoShape{Arc: "support"}
	}

	if len(merged.Decisions) == 0 && previous != nil && len(previous.Decisions) > 0 {
		merged.Decisions = previous.Decisions
	}
	if len(merged.Next) == 0 && previous != nil && len(previous.Next) > 0 {
		merged.Next = previous.Next
	}

	if decisionLockIntentRe.MatchString(message) && len(merged.Decisions) == 0 {
		if line := extractDecisionLine(assistantText); line != "" {
			merged.Decisions = append(merged.Decisions, line)
		}
	}
	if len(merged.Decisions) > models.MementoListCap {
		merged.Decisions = merged.Decisions[:models.MementoListCap]
	}

	return merged
}

func extractDecisionLine(assistantText string) string {
	m := recommendationLineRe.FindStringSubmatch(assistantText)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[2])
}

func bucketConfidence(intensity float64) string {
	switch {
	case intensity >= 0.7:
		return "high"
	case intensity >= 0.35:
		return "med"
	default:
		return "low"
	}
}

// UpdateAffect clamps, buckets, and appends a new affect point (when the
// label is not neutral), keeps the newest models.MementoListCap points, and
// recomputes the rollup via the injected rollup function.
func UpdateAffect(previous models.Affect, signal *models.AffectSignal, endMessageID string, rollupFn contracts.AffectRollupFunc) models.Affect {
	if signal == nil || strings.EqualFold(signal.Label, "neutral") {
		return previous
	}

	intensity := signal.Intensity
	if intensity < 0 {
		intensity = 0
	}
	if intensity > 1 {
		intensity = 1
	}
	confidence := signal.Confidence
	if confidence == "" {
		confidence = bucketConfidence(intensity)
	}

	point := models.AffectPoint{
		EndMessageID: endMessageID,
		Label:        signal.Label,
		Intensity:    intensity,
		Confidence:   confidence,
		Source:       "model",
		Timestamp:    time.Now().UTC(),
	}

	points := append(append([]models.AffectPoint{}, previous.Points...), point)
	if len(points) > models.MementoListCap {
		points = points[len(points)-models.MementoListCap:]
	}

	rollup := previous.Rollup
	if rollupFn != nil {
		rollup = rollupFn(points)
	}

	return models.Affect{Points: points, Rollup: rollup}
}

// DefaultAffectRollup implements the "most-recent-point-wins" rollup rule
// decided for the injected affect-rollup dependency.
func DefaultAffectRollup(points []models.AffectPoint) models.AffectRollup {
	if len(points) == 0 {
		return models.AffectRollup{}
	}
	last := points[len(points)-1]
	phase := "settled"
	switch {
	case last.Intensity >= 0.7:
		phase = "peak"
	case last.Intensity >= 0.4:
		phase = "downshift"
	}
	return models.AffectRollup{
		Phase:           phase,
		IntensityBucket: bucketConfidence(last.Intensity),
		UpdatedAt:       last.Timestamp,
	}
}

// ShouldPersist reports whether a meaningful change occurred: a new affect
// point, a non-trivial shape change, or this being the thread's first turn.
func ShouldPersist(previous *models.ThreadMementoLatest, newAffectPointAdded bool, shapeChanged bool) bool {
	if previous == nil {
		return true
	}
	return newAffectPointAdded || shapeChanged
}

// Quality describes the three checks the quality-and-repair predicate uses.
type Quality struct {
	ShapePresent          bool
	ShapeDecisionsEmpty   bool
	AffectSignalPresent   bool
}

// NeedsCorrection reports whether the main attempt's quality is poor enough
// to warrant the single corrective regeneration allowed by spec §4.7.
func NeedsCorrection(q Quality, threadContextMode string) bool {
	if threadContextMode != "auto" {
		return false
	}
	return !q.ShapePresent || q.ShapeDecisionsEmpty || !q.AffectSignalPresent
}

// Cache is the process-local thread-state cache, grounded on the
// teacher's session store: a single RWMutex guarding a map keyed by thread.
type Cache struct {
	mu      sync.RWMutex
	threads map[string]*models.ThreadMementoLatest
}

func NewCache() *Cache {
	return &Cache{threads: make(map[string]*models.ThreadMementoLatest)}
}

// Get returns the cached state, loading it from the store on a cache miss.
// A thread with no prior state returns (nil, nil) — the caller treats that
// as "first turn".
func (c *Cache) Get(ctx context.Context, s mementoLoader, threadID string) (*models.ThreadMementoLatest, error) {
	c.mu.RLock()
	cached, ok := c.threads[threadID]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	loaded, err := s.GetThreadMementoLatest(ctx, threadID)
	if err != nil {
		if _, notFound := err.(*store.ErrNotFound); notFound {
			return nil, nil
		}
		return nil, err
	}

	c.mu.Lock()
	c.threads[threadID] = loaded
	c.mu.Unlock()
	return loaded, nil
}

// Put always updates the cache, regardless of whether the caller persists.
func (c *Cache) Put(threadID string, m *models.ThreadMementoLatest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.threads[threadID] = m
}

type mementoLoader interface {
	GetThreadMementoLatest(ctx context.Context, threadID string) (*models.ThreadMementoLatest, error)
}
