// Package lattice implements Lattice Retrieval (C4): per-user memory
// lookup (lexical + optional vector), policy capsule matching, and
// byte-budgeted assembly.
package lattice

import (
	"context"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"encoding/json"

	"github.com/SolLabsHQ/solserver/internal/config"
	"github.com/SolLabsHQ/solserver/pkg/contracts"
	"github.com/SolLabsHQ/solserver/pkg/models"
)

const (
	maxQueryTerms   = 12
	minTermLen      = 3
	lexicalLimit    = 6
	byteCap         = 8 * 1024
	adrCap          = 4
	policyCap       = 4
)

var policyKeywords = []string{
	"policy", "safety", "constraint", "governance", "rule", "journal",
	"consent", "self-harm", "suicide", "violence", "abuse", "hate",
	"escalate", "crisis", "privacy", "security",
}

// Request bundles the inputs lattice retrieval needs.
type Request struct {
	UserID  string
	Message string
	Risk    string // low | med | high
	Intent  string
}

// Result bundles the retrieved items with their meta record.
type Result struct {
	Items []models.LatticeItem
	Meta  models.LatticeMeta
}

// Retriever runs lattice retrieval.
type Retriever struct {
	cfg        config.LatticeConfig
	memArtifacts contracts.MemoryArtifactStore
	vectorStore  contracts.VectorStoreDriver
	embedder     contracts.EmbeddingDriver

	capsuleMu    sync.RWMutex
	capsules     []models.PolicyCapsule
	capsuleMtime time.Time
}

func NewRetriever(cfg config.LatticeConfig, mem contracts.MemoryArtifactStore, vec contracts.VectorStoreDriver, emb contracts.EmbeddingDriver) *Retriever {
	return &Retriever{cfg: cfg, memArtifacts: mem, vectorStore: vec, embedder: emb}
}

// Retrieve runs the full C4 procedure.
func (r *Retriever) Retrieve(ctx context.Context, req Request) Result {
	if !r.cfg.Enabled || req.UserID == "" {
		return Result{Meta: models.LatticeMeta{Status: "miss"}}
	}

	terms := queryTerms(req.Message)
	if len(terms) == 0 {
		return Result{Meta: models.LatticeMeta{Status: "miss"}}
	}

	warnings := []string{}
	counts := map[string]int{}

	memHits, err := r.memArtifacts.SearchLexical(ctx, req.UserID, terms, lexicalLimit)
	if err != nil {
		return Result{Meta: models.LatticeMeta{Status: "fail", Warnings: []string{"lexical_search_failed"}}}
	}
	counts["lexical"] = len(memHits)

	usedVector := false
	if r.cfg.VecEnabled && r.cfg.VecQueryEnabled && r.embedder != nil && r.vectorStore != nil {
		vec, embedErr := r.embedder.Embed(ctx, req.Message)
		if embedErr == nil {
			vecHits, searchErr := r.vectorStore.Search(ctx, req.UserID, vec, lexicalLimit, r.cfg.VecMaxDistance)
			if searchErr == nil && len(vecHits) > 0 {
				memHits = vecHits
				usedVector = true
				counts["vector"] = len(vecHits)
			}
		}
	}

	var items []models.LatticeItem
	for _, a := range memHits {
		items = append(items, models.LatticeItem{ID: a.ID, Kind: "memory", Summary: summarize(a.Text)})
	}

	if r.shouldLoadCapsules(req) {
		capsules := r.loadCapsules()
		adr, other := scoreAndSplitCapsules(capsules, terms)
		for _, c := range adr {
			items = append(items, models.LatticeItem{ID: c.ID, Kind: "policy", Summary: c.Snippet})
		}
		for _, c := range other {
			items = append(items, models.LatticeItem{ID: c.ID, Kind: "policy", Summary: c.Snippet})
		}
		counts["policy"] = len(adr) + len(other)
	}

	items, bytesTotal, capped := assembleWithByteCap(items, byteCap)
	if capped {
		warnings = append(warnings, "lattice_bytes_capped")
	}

	status := "miss"
	if len(items) > 0 {
		status = "hit"
	}

	retrievalTrace := "lexical"
	if usedVector {
		retrievalTrace = "vector"
	}

	return Result{
		Items: items,
		Meta: models.LatticeMeta{
			Status:         status,
			RetrievalTrace: retrievalTrace,
			Counts:         counts,
			BytesTotal:     bytesTotal,
			Warnings:       warnings,
		},
	}
}

func (r *Retriever) shouldLoadCapsules(req Request) bool {
	if req.Risk == "med" || req.Risk == "high" {
		return true
	}
	lower := strings.ToLower(req.Message)
	for _, kw := range policyKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	if req.Intent == "support" && strings.Contains(lower, "should i") {
		return true
	}
	return false
}

func (r *Retriever) loadCapsules() []models.PolicyCapsule {
	if r.cfg.PolicyBundlePath == "" {
		return nil
	}
	info, err := os.Stat(r.cfg.PolicyBundlePath)
	if err != nil {
		return nil
	}

	r.capsuleMu.RLock()
	if r.capsuleMtime.Equal(info.ModTime()) && r.capsules != nil {
		cached := r.capsules
		r.capsuleMu.RUnlock()
		return cached
	}
	r.capsuleMu.RUnlock()

	data, err := os.ReadFile(r.cfg.PolicyBundlePath)
	if err != nil {
		return nil
	}
	var capsules []models.PolicyCapsule
	if err := json.Unmarshal(data, &capsules); err != nil {
		return nil
	}

	r.capsuleMu.Lock()
	r.capsules = capsules
	r.capsuleMtime = info.ModTime()
	r.capsuleMu.Unlock()

	return capsules
}

func scoreAndSplitCapsules(capsules []models.PolicyCapsule, terms []string) (adr, other []models.PolicyCapsule) {
	type scored struct {
		c     models.PolicyCapsule
		score int
	}
	var scoredList []scored
	for _, c := range capsules {
		score := 0
		haystack := strings.ToLower(c.Title + " " + c.Snippet + " " + strings.Join(c.Tags, " "))
		for _, t := range terms {
			if strings.Contains(haystack, t) {
				score++
			}
		}
		if score > 0 {
			scoredList = append(scoredList, scored{c: c, score: score})
		}
	}
	sort.Slice(scoredList, func(i, j int) bool { return scoredList[i].score > scoredList[j].score })

	for _, s := range scoredList {
		if strings.HasPrefix(s.c.ID, "ADR-") {
			if len(adr) < adrCap {
				adr = append(adr, s.c)
			}
		} else {
			if len(other) < policyCap {
				other = append(other, s.c)
			}
		}
	}
	return adr, other
}

func assembleWithByteCap(items []models.LatticeItem, cap int) ([]models.LatticeItem, int, bool) {
	var out []models.LatticeItem
	total := 0
	for _, item := range items {
		size := len(item.Summary)
		if total+size > cap {
			return out, total, true
		}
		total += size
		out = append(out, item)
	}
	return out, total, false
}

func queryTerms(message string) []string {
	lower := strings.ToLower(message)
	fields := strings.FieldsFunc(lower, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	seen := make(map[string]bool, len(fields))
	var terms []string
	for _, f := range fields {
		if len(f) < minTermLen || seen[f] {
			continue
		}
		seen[f] = true
		terms = append(terms, f)
		if len(terms) >= maxQueryTerms {
			break
		}
	}
	return terms
}

func summarize(text string) string {
	const max = 160
	if len(text) <= max {
		return text
	}
	return text[:max]
}
