// Package driverblock implements the Post-Output Linter (C6): it parses a
// driver block's "Validators:" section into Must/Must-not/Must-have rules
// and evaluates them against the assistant's output text.
package driverblock

import (
	"encoding/json"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rs/zerolog/log"

	"github.com/SolLabsHQ/solserver/pkg/models"
)

// Bundle loads a driver-block JSON file from disk, cached by mtime, the
// same pattern lattice retrieval uses for its policy bundle.
type Bundle struct {
	path  string
	mu    sync.RWMutex
	items []models.DriverBlock
	mtime time.Time
}

func NewBundle(path string) *Bundle {
	return &Bundle{path: path}
}

// Load returns the current driver blocks, re-reading the file only when its
// mtime has changed.
func (b *Bundle) Load() []models.DriverBlock {
	if b.path == "" {
		return nil
	}
	info, err := os.Stat(b.path)
	if err != nil {
		return nil
	}

	b.mu.RLock()
	if b.mtime.Equal(info.ModTime()) && b.items != nil {
		cached := b.items
		b.mu.RUnlock()
		return cached
	}
	b.mu.RUnlock()

	data, err := os.ReadFile(b.path)
	if err != nil {
		return nil
	}
	var blocks []models.DriverBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		log.Error().Err(err).Str("path", b.path).Msg("driver block bundle failed to parse")
		return nil
	}

	b.mu.Lock()
	b.items = blocks
	b.mtime = info.ModTime()
	b.mu.Unlock()
	return blocks
}

type RuleKind string

const (
	MustNot  RuleKind = "must-not"
	MustHave RuleKind = "must-have"
)

// Rule is one parsed Validators: line. Alternatives holds the slash-expanded
// pattern list; a rule passes (for must-have) or fails (for must-not) if any
// alternative matches.
type Rule struct {
	Kind         RuleKind
	Alternatives []string
}

var (
	validatorLineRe = regexp.MustCompile(`(?i)^\s*-\s*(Must-not|Must-have|Must)\s*:\s*(.+)$`)
	quotedRe        = regexp.MustCompile(`"([^"]*)"`)
)

// ParseValidators extracts rules from a driver block's Validators: section.
// Lines outside that section are ignored.
func ParseValidators(definition string) []Rule {
	lines := strings.Split(definition, "\n")
	inSection := false
	var rules []Rule

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.EqualFold(trimmed, "Validators:") {
			inSection = true
			continue
		}
		if !inSection {
			continue
		}
		if trimmed == "" {
			continue
		}
		m := validatorLineRe.FindStringSubmatch(line)
		if m == nil {
			// A non-matching line that does not start with "-" ends the
			// section; non-matching "-" lines are skipped.
			if !strings.HasPrefix(trimmed, "-") {
				inSection = false
			}
			continue
		}

		kindWord := strings.ToLower(m[1])
		kind := MustHave
		if kindWord == "must-not" {
			kind = MustNot
		}

		rules = append(rules, Rule{Kind: kind, Alternatives: expandAlternatives(m[2])})
	}
	return rules
}

// expandAlternatives parses the quoted patterns on a rule line. Each quoted
// segment may itself contain slash-delimited alternatives; when the first
// such segment has a space, the text before the last space is treated as a
// shared prefix applied to the remaining alternatives.
func expandAlternatives(rest string) []string {
	var alternatives []string
	for _, q := range quotedRe.FindAllStringSubmatch(rest, -1) {
		alternatives = append(alternatives, expandSlash(q[1])...)
	}
	return alternatives
}

func expandSlash(pattern string) []string {
	segments := strings.Split(pattern, "/")
	if len(segments) == 1 {
		return []string{strings.TrimSpace(pattern)}
	}

	first := segments[0]
	if idx := strings.LastIndex(first, " "); idx >= 0 {
		prefix := first[:idx+1]
		out := []string{strings.TrimSpace(first[idx+1:])}
		for _, s := range segments[1:] {
			out = append(out, prefix+strings.TrimSpace(s))
		}
		return out
	}

	out := make([]string, len(segments))
	for i, s := range segments {
		out[i] = strings.TrimSpace(s)
	}
	return out
}

// Violation records one failed rule.
type Violation struct {
	DriverBlockID string
	RuleKind      RuleKind
	Alternatives  []string
}

// LintResult is the outcome of a post-output lint pass.
type LintResult struct {
	Mode       string
	Violations []Violation
	Passed     bool
}

type ruleEnv struct {
	Text         string
	Alternatives []string
}

func (e ruleEnv) ContainsCI(pattern string) bool {
	return strings.Contains(strings.ToLower(e.Text), strings.ToLower(pattern))
}

const anyPresentExpr = `any(Alternatives, {ContainsCI(#)})`

func anyAlternativePresent(text string, alternatives []string) bool {
	if len(alternatives) == 0 {
		return false
	}
	program, err := expr.Compile(anyPresentExpr, expr.Env(ruleEnv{}))
	if err != nil {
		log.Error().Err(err).Msg("driver block rule expression failed to compile")
		return false
	}
	out, err := vm.Run(program, ruleEnv{Text: text, Alternatives: alternatives})
	if err != nil {
		log.Error().Err(err).Msg("driver block rule expression failed to run")
		return false
	}
	present, _ := out.(bool)
	return present
}

// Lint evaluates every block's Validators: rules against text. mode is
// "strict", "warn", or "off" (from config.EnforcementModeFor).
func Lint(blocks []models.DriverBlock, text string, mode string) LintResult {
	result := LintResult{Mode: mode, Passed: true}
	if mode == "off" {
		return result
	}

	for _, block := range blocks {
		for _, rule := range ParseValidators(block.Definition) {
			present := anyAlternativePresent(text, rule.Alternatives)
			violated := (rule.Kind == MustNot && present) || (rule.Kind == MustHave && !present)
			if !violated {
				continue
			}
			result.Violations = append(result.Violations, Violation{
				DriverBlockID: block.ID,
				RuleKind:      rule.Kind,
				Alternatives:  rule.Alternatives,
			})
		}
	}

	if len(result.Violations) == 0 {
		return result
	}

	if mode == "warn" {
		for _, v := range result.Violations {
			log.Warn().Str("driver_block_id", v.DriverBlockID).Str("rule", string(v.RuleKind)).Msg("driver block validator violated")
		}
		return result
	}

	result.Passed = false
	return result
}
