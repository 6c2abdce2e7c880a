package store

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/SolLabsHQ/solserver/pkg/models"
	"github.com/rs/zerolog/log"
)

// MemoryStore is a thread-safe in-memory Store with debounced JSON snapshot
// persistence to disk and background TTL eviction of trace events.
type MemoryStore struct {
	mu sync.RWMutex

	transmissions map[string]*models.Transmission
	chatResults   map[string]*ChatResult
	traceEvents   map[string][]models.TraceEvent // keyed by transmissionID
	traceSeq      int64
	evidence      map[string]*models.Evidence
	memoryArts    map[string][]models.MemoryArtifact // keyed by userID
	mementos      map[string]*models.ThreadMementoLatest
	deliveries    map[string][]models.DeliveryAttempt
	usage         map[string][]models.UsageRecord
	topology      *models.TopologyGuardRecord

	snapshotPath string
	saveMu       sync.Mutex
	saveCh       chan struct{}
	doneCh       chan struct{}
	closed       bool

	traceTTL time.Duration
}

type snapshot struct {
	Transmissions map[string]*models.Transmission         `json:"transmissions"`
	ChatResults   map[string]*ChatResult                  `json:"chat_results"`
	TraceEvents   map[string][]models.TraceEvent          `json:"trace_events"`
	Evidence      map[string]*models.Evidence              `json:"evidence"`
	MemoryArts    map[string][]models.MemoryArtifact       `json:"memory_artifacts"`
	Mementos      map[string]*models.ThreadMementoLatest    `json:"mementos"`
	Deliveries    map[string][]models.DeliveryAttempt      `json:"deliveries"`
	Usage         map[string][]models.UsageRecord          `json:"usage"`
	Topology      *models.TopologyGuardRecord               `json:"topology,omitempty"`
}

// NewMemoryStore creates a new in-memory store. dataDir, if non-empty,
// enables debounced JSON snapshot persistence and is created if missing.
// ttlDays bounds how long trace events are retained (0 disables eviction).
func NewMemoryStore(dataDir string, ttlDays int) *MemoryStore {
	s := &MemoryStore{
		transmissions: make(map[string]*models.Transmission),
		chatResults:   make(map[string]*ChatResult),
		traceEvents:   make(map[string][]models.TraceEvent),
		evidence:      make(map[string]*models.Evidence),
		memoryArts:    make(map[string][]models.MemoryArtifact),
		mementos:      make(map[string]*models.ThreadMementoLatest),
		deliveries:    make(map[string][]models.DeliveryAttempt),
		usage:         make(map[string][]models.UsageRecord),
		saveCh:        make(chan struct{}, 1),
		doneCh:        make(chan struct{}),
	}
	if ttlDays > 0 {
		s.traceTTL = time.Duration(ttlDays) * 24 * time.Hour
	}
	if dataDir != "" {
		_ = os.MkdirAll(dataDir, 0o755)
		s.snapshotPath = filepath.Join(dataDir, "data.json")
		s.load()
		go s.saveLoop()
	}
	if s.traceTTL > 0 {
		go s.evictLoop()
	}
	return s
}

func (s *MemoryStore) load() {
	data, err := os.ReadFile(s.snapshotPath)
	if err != nil {
		return
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Warn().Err(err).Msg("failed to parse store snapshot, starting empty")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap.Transmissions != nil {
		s.transmissions = snap.Transmissions
	}
	if snap.ChatResults != nil {
		s.chatResults = snap.ChatResults
	}
	if snap.TraceEvents != nil {
		s.traceEvents = snap.TraceEvents
		for _, evs := range snap.TraceEvents {
			for _, ev := range evs {
				if ev.Seq > s.traceSeq {
					s.traceSeq = ev.Seq
				}
			}
		}
	}
	if snap.Evidence != nil {
		s.evidence = snap.Evidence
	}
	if snap.MemoryArts != nil {
		s.memoryArts = snap.MemoryArts
	}
	if snap.Mementos != nil {
		s.mementos = snap.Mementos
	}
	if snap.Deliveries != nil {
		s.deliveries = snap.Deliveries
	}
	if snap.Usage != nil {
		s.usage = snap.Usage
	}
	s.topology = snap.Topology
}

func (s *MemoryStore) requestSave() {
	if s.snapshotPath == "" {
		return
	}
	select {
	case s.saveCh <- struct{}{}:
	default:
	}
}

func (s *MemoryStore) saveLoop() {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	pending := false
	for {
		select {
		case <-s.saveCh:
			pending = true
		case <-ticker.C:
			if pending {
				s.flush()
				pending = false
			}
		case <-s.doneCh:
			if pending {
				s.flush()
			}
			return
		}
	}
}

func (s *MemoryStore) flush() {
	s.mu.RLock()
	snap := snapshot{
		Transmissions: s.transmissions,
		ChatResults:   s.chatResults,
		TraceEvents:   s.traceEvents,
		Evidence:      s.evidence,
		MemoryArts:    s.memoryArts,
		Mementos:      s.mementos,
		Deliveries:    s.deliveries,
		Usage:         s.usage,
		Topology:      s.topology,
	}
	s.mu.RUnlock()

	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal store snapshot")
		return
	}
	tmp := s.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		log.Error().Err(err).Msg("failed to write store snapshot")
		return
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		log.Error().Err(err).Msg("failed to rename store snapshot")
	}
}

func (s *MemoryStore) evictLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.evictExpiredTraces()
		case <-s.doneCh:
			return
		}
	}
}

func (s *MemoryStore) evictExpiredTraces() {
	cutoff := time.Now().Add(-s.traceTTL)
	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := false
	for id, evs := range s.traceEvents {
		kept := evs[:0:0]
		for _, ev := range evs {
			if ev.CreatedAt.After(cutoff) {
				kept = append(kept, ev)
			} else {
				evicted = true
			}
		}
		if len(kept) == 0 {
			delete(s.traceEvents, id)
		} else {
			s.traceEvents[id] = kept
		}
	}
	if evicted {
		s.requestSave()
	}
}

// Close flushes any pending snapshot and stops background goroutines.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	close(s.doneCh)
	if s.snapshotPath != "" {
		s.flush()
	}
	return nil
}

// ── Transmission lifecycle ───────────────────────────────────

func (s *MemoryStore) CreateTransmission(_ context.Context, t *models.Transmission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.transmissions[t.ID] = &cp
	s.requestSave()
	return nil
}

func (s *MemoryStore) GetTransmission(_ context.Context, id string) (*models.Transmission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.transmissions[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "transmission", Key: id}
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) UpdateTransmissionStatus(_ context.Context, id string, status models.TransmissionStatus, statusCode int, retryable bool, errorCode, errorDetail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transmissions[id]
	if !ok {
		return &ErrNotFound{Entity: "transmission", Key: id}
	}
	t.Status = status
	t.StatusCode = statusCode
	t.Retryable = retryable
	t.ErrorCode = errorCode
	t.ErrorDetail = errorDetail
	t.UpdatedAt = time.Now().UTC()
	s.requestSave()
	return nil
}

func (s *MemoryStore) UpdateTransmissionPolicy(_ context.Context, id string, policy models.NotificationPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transmissions[id]
	if !ok {
		return &ErrNotFound{Entity: "transmission", Key: id}
	}
	t.Policy = policy
	t.UpdatedAt = time.Now().UTC()
	s.requestSave()
	return nil
}

func (s *MemoryStore) SetTransmissionOutputEnvelope(_ context.Context, id string, env *models.OutputEnvelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transmissions[id]
	if !ok {
		return &ErrNotFound{Entity: "transmission", Key: id}
	}
	_ = t
	result, ok := s.chatResults[id]
	if !ok {
		result = &ChatResult{TransmissionID: id}
		s.chatResults[id] = result
	}
	result.Envelope = env
	s.requestSave()
	return nil
}

func (s *MemoryStore) SetChatResult(_ context.Context, result *ChatResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *result
	s.chatResults[result.TransmissionID] = &cp
	s.requestSave()
	return nil
}

func (s *MemoryStore) GetChatResult(_ context.Context, transmissionID string) (*ChatResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.chatResults[transmissionID]
	if !ok {
		return nil, &ErrNotFound{Entity: "chat_result", Key: transmissionID}
	}
	cp := *r
	return &cp, nil
}

// ── Delivery / usage ──────────────────────────────────────────

func (s *MemoryStore) AppendDeliveryAttempt(_ context.Context, attempt *models.DeliveryAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *attempt
	s.deliveries[attempt.TransmissionID] = append(s.deliveries[attempt.TransmissionID], cp)
	s.requestSave()
	return nil
}

func (s *MemoryStore) RecordUsage(_ context.Context, usage *models.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *usage
	s.usage[usage.TransmissionID] = append(s.usage[usage.TransmissionID], cp)
	s.requestSave()
	return nil
}

// ── Trace ─────────────────────────────────────────────────────

func (s *MemoryStore) AppendTraceEvent(_ context.Context, ev *models.TraceEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.traceSeq++
	cp := *ev
	cp.Seq = s.traceSeq
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.traceEvents[ev.TransmissionID] = append(s.traceEvents[ev.TransmissionID], cp)
	s.requestSave()
	return nil
}

func (s *MemoryStore) GetTraceEvents(_ context.Context, transmissionID string, limit int) ([]models.TraceEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	evs := s.traceEvents[transmissionID]
	out := make([]models.TraceEvent, len(evs))
	copy(out, evs)
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) GetTraceSummary(_ context.Context, transmissionID string) (*models.TraceSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	evs := s.traceEvents[transmissionID]
	summary := &models.TraceSummary{TransmissionID: transmissionID}
	seen := make(map[string]bool)
	for _, ev := range evs {
		if !seen[ev.Phase] {
			seen[ev.Phase] = true
			summary.Phases = append(summary.Phases, ev.Phase)
		}
		summary.EventCount++
		if ev.Status == "failed" && summary.FailedPhase == "" {
			summary.FailedPhase = ev.Phase
		}
	}
	return summary, nil
}

// ── Evidence ──────────────────────────────────────────────────

func (s *MemoryStore) SaveEvidence(_ context.Context, transmissionID string, ev *models.Evidence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ev
	s.evidence[transmissionID] = &cp
	s.requestSave()
	return nil
}

func (s *MemoryStore) GetEvidence(_ context.Context, transmissionID string) (*models.Evidence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.evidence[transmissionID]
	if !ok {
		return nil, &ErrNotFound{Entity: "evidence", Key: transmissionID}
	}
	cp := *ev
	return &cp, nil
}

// ── Memory artifacts ──────────────────────────────────────────

func (s *MemoryStore) UpsertMemoryArtifact(_ context.Context, a *models.MemoryArtifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.memoryArts[a.UserID]
	cp := *a
	for i, existing := range list {
		if existing.ID == a.ID {
			list[i] = cp
			s.memoryArts[a.UserID] = list
			s.requestSave()
			return nil
		}
	}
	s.memoryArts[a.UserID] = append(list, cp)
	s.requestSave()
	return nil
}

func (s *MemoryStore) SearchMemoryArtifactsLexical(_ context.Context, userID string, terms []string, limit int) ([]models.MemoryArtifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		art   models.MemoryArtifact
		score int
	}
	var hits []scored
	for _, a := range s.memoryArts[userID] {
		if a.Lifecycle != "pinned" {
			continue
		}
		score := termOverlapScore(a.Text, terms)
		if score > 0 {
			hits = append(hits, scored{art: a, score: score})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]models.MemoryArtifact, len(hits))
	for i, h := range hits {
		out[i] = h.art
	}
	return out, nil
}

func termOverlapScore(text string, terms []string) int {
	lower := toLowerASCII(text)
	score := 0
	for _, t := range terms {
		if containsASCII(lower, t) {
			score++
		}
	}
	return score
}

func (s *MemoryStore) SearchMemoryArtifactsVector(_ context.Context, userID string, queryVec []float32, limit int, maxDistance float64) ([]models.MemoryArtifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		art   models.MemoryArtifact
		score float64
	}
	var hits []scored
	for _, a := range s.memoryArts[userID] {
		if len(a.Embedding) == 0 {
			continue
		}
		sim := cosineSimilarity(queryVec, a.Embedding)
		if maxDistance > 0 && (1-sim) > maxDistance {
			continue
		}
		hits = append(hits, scored{art: a, score: sim})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]models.MemoryArtifact, len(hits))
	for i, h := range hits {
		out[i] = h.art
	}
	return out, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// ── Thread memento ────────────────────────────────────────────

func (s *MemoryStore) GetThreadMementoLatest(_ context.Context, threadID string) (*models.ThreadMementoLatest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.mementos[threadID]
	if !ok {
		return nil, &ErrNotFound{Entity: "thread_memento", Key: threadID}
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) UpsertThreadMementoLatest(_ context.Context, m *models.ThreadMementoLatest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.mementos[m.ThreadID] = &cp
	s.requestSave()
	return nil
}

// ── Topology guard ────────────────────────────────────────────

func (s *MemoryStore) EnsureTopologyKeyPrimary(_ context.Context, createdBy, dbPath string) (*models.TopologyGuardRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.topology != nil {
		cp := *s.topology
		return &cp, nil
	}
	rec := &models.TopologyGuardRecord{
		TopologyKey: "topology-" + createdBy,
		CreatedAtMs: time.Now().UnixMilli(),
		CreatedBy:   createdBy,
		DBPath:      dbPath,
	}
	s.topology = rec
	s.requestSave()
	cp := *rec
	return &cp, nil
}

// ── small ASCII helpers (avoid importing strings for two trivial ops) ──

func toLowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

func containsASCII(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	if len(needle) > len(haystack) {
		return false
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}

var _ Store = (*MemoryStore)(nil)
