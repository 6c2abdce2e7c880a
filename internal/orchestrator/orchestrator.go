// Package orchestrator drives the Orchestrator (C9): mode/notification
// resolution, the intake-gates-lattice sequence, the model call and its
// bounded contract/correction retries, output gating, memento and journal
// updates, and persistence + SSE emission.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/SolLabsHQ/solserver/internal/apierr"
	"github.com/SolLabsHQ/solserver/internal/config"
	"github.com/SolLabsHQ/solserver/internal/driverblock"
	"github.com/SolLabsHQ/solserver/internal/evidence"
	"github.com/SolLabsHQ/solserver/internal/evidenceprovider"
	"github.com/SolLabsHQ/solserver/internal/gates"
	"github.com/SolLabsHQ/solserver/internal/journal"
	"github.com/SolLabsHQ/solserver/internal/lattice"
	"github.com/SolLabsHQ/solserver/internal/memento"
	"github.com/SolLabsHQ/solserver/internal/sse"
	"github.com/SolLabsHQ/solserver/internal/store"
	"github.com/SolLabsHQ/solserver/pkg/contracts"
	"github.com/SolLabsHQ/solserver/pkg/models"
)

const stubAssistantText = "I wasn't able to put together a safe response to that. Please try again or rephrase."

const maxModelAttempts = 2

// Orchestrator wires every component into the single-request pipeline
// described in spec §4.9.
type Orchestrator struct {
	Store        store.Store
	Provider     contracts.LLMProviderDriver
	Gates        *gates.Chain
	Lattice      *lattice.Retriever
	Evidence     *evidence.Normalizer
	Validator    contracts.SchemaValidator
	DriverBlocks *driverblock.Bundle
	MementoCache *memento.Cache
	AffectRollup contracts.AffectRollupFunc
	Hub          *sse.Hub
	Cfg          *config.Config

	mu       sync.Mutex
	inFlight map[string]struct{}
}

func New(cfg *config.Config, s store.Store, p contracts.LLMProviderDriver, g *gates.Chain, l *lattice.Retriever, ev *evidence.Normalizer, v contracts.SchemaValidator, db *driverblock.Bundle, hub *sse.Hub) *Orchestrator {
	return &Orchestrator{
		Store:        s,
		Provider:     p,
		Gates:        g,
		Lattice:      l,
		Evidence:     ev,
		Validator:    v,
		DriverBlocks: db,
		MementoCache: memento.NewCache(),
		AffectRollup: memento.DefaultAffectRollup,
		Hub:          hub,
		Cfg:          cfg,
		inFlight:     make(map[string]struct{}),
	}
}

// Response is the 200-path payload for POST /v1/chat.
type Response struct {
	OK                 bool                      `json:"ok"`
	TransmissionID     string                    `json:"transmissionId"`
	ModeDecision       models.ModeDecision       `json:"modeDecision"`
	Assistant          string                    `json:"assistant"`
	OutputEnvelope     *models.OutputEnvelope    `json:"outputEnvelope"`
	ThreadMemento      *models.ThreadMementoLatest `json:"threadMemento,omitempty"`
	DriverBlocks       []models.DriverBlock      `json:"driverBlocks,omitempty"`
	Evidence           *models.Evidence          `json:"evidence,omitempty"`
	EvidenceSummary    map[string]int            `json:"evidenceSummary"`
	EvidenceWarnings   []string                  `json:"evidenceWarnings,omitempty"`
	Trace              []models.TraceEvent       `json:"trace"`
	NotificationPolicy models.NotificationPolicy `json:"notification_policy"`
	ForcedPersona      string                    `json:"forced_persona,omitempty"`
}

// AsyncAck is the 202-path payload for simulate=202 requests.
type AsyncAck struct {
	OK               bool                        `json:"ok"`
	TransmissionID   string                      `json:"transmissionId"`
	Status           string                      `json:"status"`
	Pending          bool                        `json:"pending"`
	Simulated        bool                        `json:"simulated"`
	CheckAfterMs     int                         `json:"checkAfterMs"`
	DriverBlocks     []models.DriverBlock        `json:"driverBlocks,omitempty"`
	Evidence         *models.Evidence            `json:"evidence,omitempty"`
	EvidenceSummary  map[string]int              `json:"evidenceSummary"`
	EvidenceWarnings []string                    `json:"evidenceWarnings,omitempty"`
	ThreadMemento    *models.ThreadMementoLatest `json:"threadMemento,omitempty"`
}

// HandleChatAsync implements the simulate=202 branch: it returns
// immediately and runs the full pipeline in the background under an
// in-flight dedupe set.
func (o *Orchestrator) HandleChatAsync(ctx context.Context, in *models.PacketInput) (*AsyncAck, *apierr.Error) {
	transmissionID := uuid.NewString()

	ev, apiErr := o.intake(ctx, in)
	if apiErr != nil {
		return nil, apiErr
	}

	o.mu.Lock()
	if _, exists := o.inFlight[transmissionID]; exists {
		o.mu.Unlock()
		return nil, apierr.SimulatedFailure()
	}
	o.inFlight[transmissionID] = struct{}{}
	o.mu.Unlock()

	go func() {
		bgCtx := context.Background()
		defer func() {
			o.mu.Lock()
			delete(o.inFlight, transmissionID)
			o.mu.Unlock()
		}()
		if _, apiErr := o.run(bgCtx, transmissionID, in, ev); apiErr != nil {
			apiErr.TransmissionID = transmissionID
			apiErr.TraceRunID = transmissionID
			log.Warn().Str("transmission_id", transmissionID).Str("code", apiErr.Code).Msg("async simulated pipeline failed")
		}
	}()

	return &AsyncAck{
		OK:               true,
		TransmissionID:   transmissionID,
		Status:           "created",
		Pending:          true,
		Simulated:        true,
		CheckAfterMs:     500,
		EvidenceSummary:  evidenceSummary(ev),
	}, nil
}

// HandleChat runs the full synchronous pipeline for one packet.
func (o *Orchestrator) HandleChat(ctx context.Context, in *models.PacketInput) (*Response, *apierr.Error) {
	transmissionID := uuid.NewString()

	ev, apiErr := o.intake(ctx, in)
	if apiErr != nil {
		return nil, apiErr
	}

	resp, apiErr := o.run(ctx, transmissionID, in, ev)
	if apiErr != nil {
		apiErr.TransmissionID = transmissionID
		apiErr.TraceRunID = transmissionID
	}
	return resp, apiErr
}

func (o *Orchestrator) intake(ctx context.Context, in *models.PacketInput) (*models.Evidence, *apierr.Error) {
	ev, err := o.Evidence.Normalize(ctx, in)
	if err != nil {
		if ve, ok := err.(*evidence.ValidationError); ok {
			return nil, apierr.Validation(ve.Code, ve.Message, ve.Detail)
		}
		return nil, apierr.Validation("invalid_request", err.Error(), nil)
	}
	return ev, nil
}

func evidenceSummary(ev *models.Evidence) map[string]int {
	if ev == nil {
		return map[string]int{"captures": 0, "supports": 0, "claims": 0}
	}
	return map[string]int{"captures": len(ev.Captures), "supports": len(ev.Supports), "claims": len(ev.Claims)}
}

type pipelineState struct {
	transmissionID string
	seq            int64
	traces         []models.TraceEvent
}

func (p *pipelineState) trace(actor, phase, status, summary string, metadata map[string]interface{}) models.TraceEvent {
	p.seq++
	ev := models.TraceEvent{
		TransmissionID: p.transmissionID,
		Seq:            p.seq,
		Actor:          actor,
		Phase:          phase,
		Status:         status,
		Summary:        summary,
		Metadata:       metadata,
		CreatedAt:      time.Now().UTC(),
	}
	p.traces = append(p.traces, ev)
	return ev
}

func (o *Orchestrator) run(ctx context.Context, transmissionID string, in *models.PacketInput, ev *models.Evidence) (*Response, *apierr.Error) {
	ps := &pipelineState{transmissionID: transmissionID}

	modeDecision := resolveModeDecision(in)

	transmission := &models.Transmission{
		ID:              transmissionID,
		ThreadID:        in.ThreadID,
		ClientRequestID: in.ClientRequestID,
		ForcedPersona:   in.ForcedPersona,
		Policy:          defaultNotificationPolicy(in),
		Status:          models.TransmissionCreated,
		CreatedAt:       time.Now().UTC(),
		UpdatedAt:       time.Now().UTC(),
	}
	if err := o.Store.CreateTransmission(ctx, transmission); err != nil {
		return nil, apierr.EvidenceProviderFailed(err.Error())
	}

	o.appendTrace(ctx, ps.trace("system", "evidence_intake", "completed", "evidence normalized", map[string]interface{}{
		"captures": len(ev.Captures), "supports": len(ev.Supports), "claims": len(ev.Claims),
	}))

	chainResult, err := o.Gates.Run(ctx, &contracts.GateInput{Message: in.Message, UserID: in.UserID})
	if err != nil {
		return nil, apierr.EvidenceProviderFailed(err.Error())
	}
	for _, out := range chainResult.Outputs {
		o.appendTrace(ctx, ps.trace("gate", "gate_"+out.GateName, string(out.Status), out.Summary, out.Metadata))
	}

	latticeResult := o.Lattice.Retrieve(ctx, lattice.Request{UserID: in.UserID, Message: in.Message, Risk: chainResult.Risk, Intent: chainResult.Intent})
	o.appendTrace(ctx, ps.trace("system", "gate_lattice", "completed", latticeResult.Meta.Status, map[string]interface{}{
		"counts": latticeResult.Meta.Counts, "bytes_total": latticeResult.Meta.BytesTotal,
	}))

	policy := resolveNotificationPolicy(in, chainResult.SafetyIsUrgent)
	if policy != transmission.Policy {
		transmission.Policy = policy
		_ = o.Store.UpdateTransmissionPolicy(ctx, transmissionID, policy)
	}

	pack := o.resolveEvidencePack(in, ev)
	driverBlocks := o.DriverBlocks.Load()
	promptText := buildPromptPack(in, chainResult, latticeResult, driverBlocks, "")

	envelope, apiErr := o.modelAndGateLoop(ctx, ps, transmissionID, in, promptText, driverBlocks, pack)
	if apiErr != nil {
		stub := stubAssistantText
		_ = o.Store.SetChatResult(ctx, &store.ChatResult{TransmissionID: transmissionID, AssistantText: stub})
		_ = o.Store.UpdateTransmissionStatus(ctx, transmissionID, models.TransmissionFailed, apiErr.HTTPStatus, apiErr.Retryable, apiErr.Code, apiErr.Detail)
		_ = o.Store.AppendDeliveryAttempt(ctx, &models.DeliveryAttempt{TransmissionID: transmissionID, Attempt: 0, Status: "failed", CreatedAt: time.Now().UTC()})
		o.Hub.Publish(transmissionID, sse.Event{Name: "assistant_failed", Data: map[string]interface{}{
			"code": apiErr.Code, "detail": apiErr.Detail, "retryable": apiErr.Retryable,
		}})
		return nil, apiErr
	}

	threadMemento := o.updateMemento(ctx, in, envelope, chainResult.Risk)

	if envelope.Meta != nil {
		envelope.Meta.Lattice = &latticeResult.Meta
	}
	evidenceprovider.Finalize(envelope.Meta, pack, transmissionID)

	if err := o.Store.SetTransmissionOutputEnvelope(ctx, transmissionID, envelope); err != nil {
		log.Warn().Err(err).Msg("failed to persist output envelope")
	}
	_ = o.Store.SetChatResult(ctx, &store.ChatResult{TransmissionID: transmissionID, AssistantText: envelope.AssistantText, Envelope: envelope})
	_ = o.Store.UpdateTransmissionStatus(ctx, transmissionID, models.TransmissionCompleted, 200, false, "", "")
	_ = o.Store.AppendDeliveryAttempt(ctx, &models.DeliveryAttempt{TransmissionID: transmissionID, Attempt: 0, Status: "succeeded", ProviderUsed: o.Provider.Kind(), CreatedAt: time.Now().UTC()})

	o.Hub.Publish(transmissionID, sse.Event{Name: "assistant_final_ready", Data: map[string]interface{}{"transmission_status": "completed"}})

	return &Response{
		OK:                 true,
		TransmissionID:     transmissionID,
		ModeDecision:       modeDecision,
		Assistant:          envelope.AssistantText,
		OutputEnvelope:     envelope,
		ThreadMemento:      threadMemento,
		DriverBlocks:       driverBlocks,
		Evidence:           ev,
		EvidenceSummary:    evidenceSummary(ev),
		Trace:              ps.traces,
		NotificationPolicy: policy,
		ForcedPersona:      in.ForcedPersona,
	}, nil
}

func (o *Orchestrator) appendTrace(ctx context.Context, ev models.TraceEvent) {
	if err := o.Store.AppendTraceEvent(ctx, &ev); err != nil {
		log.Warn().Err(err).Msg("failed to append trace event")
	}
}

// modelAndGateLoop runs the bounded attempt0 -> gates -> attempt1 (contract
// or correction) -> gates state machine, capped at maxModelAttempts total.
func (o *Orchestrator) modelAndGateLoop(ctx context.Context, ps *pipelineState, transmissionID string, in *models.PacketInput, promptText string, driverBlocks []models.DriverBlock, pack *models.EvidencePack) (*models.OutputEnvelope, *apierr.Error) {
	o.Hub.Publish(transmissionID, sse.Event{Name: "run_started", Data: map[string]interface{}{"provider": o.Provider.Kind()}})

	attempt := 0
	model := ""
	contractRetryUsed := false
	qualityRetryUsed := false

	for {
		resp, err := o.Provider.Call(ctx, contracts.ProviderRequest{PromptText: promptText, ModeLabel: string(in.ThreadContextMode), Model: model})
		o.appendTrace(ctx, ps.trace("model", "model_call", statusFor(err), "", map[string]interface{}{"attempt": attempt}))
		if err != nil {
			return nil, mapProviderError(err)
		}
		_ = o.Store.RecordUsage(ctx, &models.UsageRecord{
			TransmissionID: transmissionID, Attempt: attempt,
			PromptTokens: resp.Usage.PromptTokens, CompletionTokens: resp.Usage.CompletionTokens, TotalTokens: resp.Usage.TotalTokens,
			Provider: o.Provider.Kind(), Model: model, CreatedAt: time.Now().UTC(),
		})

		envelope, parseFail := o.Validator.Validate([]byte(resp.RawText), attempt)
		if parseFail != nil {
			o.appendTrace(ctx, ps.trace("system", "output_gates", "failed", "output_contract_failed", map[string]interface{}{
				"kind": "output_envelope", "reason": parseFail.Code, "issues": len(parseFail.Issues),
			}))

			if canContractRetry(o.Cfg, string(parseFail.Code)) && !contractRetryUsed && attempt+1 < maxModelAttempts {
				contractRetryUsed = true
				attempt++
				model = o.Cfg.Provider.ContractRetryModel
				continue
			}
			return nil, apierr.OutputContractFailed(fmt.Sprintf("%s:issues=%d", parseFail.Code, len(parseFail.Issues)))
		}

		if len(envelope.SchemaWarnings) > 0 {
			o.appendTrace(ctx, ps.trace("system", "output_gates", "completed", "output_envelope", map[string]interface{}{
				"kind": "output_envelope", "warnings": envelope.SchemaWarnings,
			}))
		}

		if apiErr := o.runOutputGates(ctx, ps, envelope, pack); apiErr != nil {
			return nil, apiErr
		}

		lintResult := driverblock.Lint(driverBlocks, envelope.AssistantText, o.Cfg.EnforcementModeFor())
		o.appendTrace(ctx, ps.trace("system", "output_gates", statusForBool(lintResult.Passed), "post_linter", map[string]interface{}{
			"kind": "post_linter", "violations": len(lintResult.Violations),
		}))
		if lintResult.Passed {
			quality := memento.Quality{
				ShapePresent:        envelope.Meta != nil && envelope.Meta.Shape != nil,
				ShapeDecisionsEmpty: envelope.Meta != nil && envelope.Meta.Shape != nil && len(envelope.Meta.Shape.Decisions) == 0,
				AffectSignalPresent: envelope.Meta != nil && envelope.Meta.AffectSignal != nil,
			}
			if !qualityRetryUsed && attempt+1 < maxModelAttempts && memento.NeedsCorrection(quality, string(in.ThreadContextMode)) {
				qualityRetryUsed = true
				attempt++
				o.appendTrace(ctx, ps.trace("system", "memento_quality", "failed", "quality_repair_regeneration", map[string]interface{}{
					"kind": "memento_quality", "shapePresent": quality.ShapePresent,
					"shapeDecisionsEmpty": quality.ShapeDecisionsEmpty, "affectSignalPresent": quality.AffectSignalPresent,
				}))
				promptText = buildQualityCorrectionPrompt(promptText)
				model = ""
				continue
			}
			return envelope, nil
		}

		if attempt+1 >= maxModelAttempts {
			return nil, apierr.DriverBlockEnforcementFailed(fmt.Sprintf("%d violations", len(lintResult.Violations)))
		}
		attempt++
		promptText = buildCorrectionPrompt(promptText, lintResult)
		model = ""
	}
}

func statusFor(err error) string {
	if err != nil {
		return "failed"
	}
	return "completed"
}

func statusForBool(ok bool) string {
	if ok {
		return "completed"
	}
	return "failed"
}

func canContractRetry(cfg *config.Config, code string) bool {
	if !cfg.Provider.ContractRetryEnabled || cfg.Provider.Kind != "openai" {
		return false
	}
	if code == string(contracts.ParsePayloadTooLarge) {
		return false
	}
	for _, allowed := range strings.Split(cfg.Provider.ContractRetryOn, ",") {
		if strings.TrimSpace(allowed) == code {
			return true
		}
	}
	return false
}

func mapProviderError(err error) *apierr.Error {
	perr, ok := err.(*contracts.ProviderError)
	if !ok {
		return apierr.ProviderFailed(err.Error())
	}
	switch perr.Code {
	case "openai_api_key_missing":
		return apierr.OpenAIAPIKeyMissing()
	case "openai_model_missing":
		return apierr.OpenAIModelMissing()
	case "provider_invalid_request":
		return apierr.ProviderInvalidRequest(perr.Message)
	case "provider_upstream_failed":
		return apierr.ProviderUpstreamFailed(perr.Message)
	default:
		return apierr.ProviderFailed(perr.Message)
	}
}

func (o *Orchestrator) runOutputGates(ctx context.Context, ps *pipelineState, envelope *models.OutputEnvelope, pack *models.EvidencePack) *apierr.Error {
	if envelope.Meta == nil {
		return nil
	}

	if envelope.Meta.DisplayHint == "ghost_card" {
		result := evidenceprovider.RunLibrarian(envelope.Meta, pack)
		envelope.Meta.LibrarianGate = result
		o.appendTrace(ctx, ps.trace("system", "output_gates", "completed", "librarian_gate", map[string]interface{}{
			"kind": "librarian_gate", "verdict": result.Verdict, "pruned_refs": result.PrunedRefs,
		}))
	}

	if bindingErr := evidenceprovider.RunBinding(envelope.Meta, pack); bindingErr != nil {
		o.appendTrace(ctx, ps.trace("system", "output_gates", "failed", "evidence_binding", map[string]interface{}{
			"kind": "evidence_binding", "ok": false, "reason": bindingErr.Code,
		}))
		if bindingErr.Code == "claims_without_evidence" {
			return apierr.ClaimsWithoutEvidence(bindingErr.Message)
		}
		return apierr.EvidenceBindingFailed(bindingErr.Message)
	}

	rawMeta, _ := json.Marshal(envelope.Meta)
	if budgetErr := evidenceprovider.RunBudget(envelope.Meta, pack, rawMeta); budgetErr != nil {
		o.appendTrace(ctx, ps.trace("system", "output_gates", "failed", "evidence_budget", map[string]interface{}{
			"kind": "evidence_budget", "reason": budgetErr.Code,
		}))
		return apierr.EvidenceBudgetExceeded(budgetErr.Code)
	}

	return nil
}

func (o *Orchestrator) resolveEvidencePack(in *models.PacketInput, ev *models.Evidence) *models.EvidencePack {
	decision := evidenceprovider.Decide(evidenceprovider.DecideInput{
		ForceEvidence: in.ForceEvidence,
		EnvForce:      o.Cfg.Evidence.ProviderForce,
		IsProduction:  o.Cfg.Env == "production",
		HasIntake:     len(ev.Captures) > 0 || len(ev.Supports) > 0 || len(ev.Claims) > 0,
	})
	if decision != evidenceprovider.DecisionAllow {
		return nil
	}
	return buildEvidencePack(ev)
}

func buildEvidencePack(ev *models.Evidence) *models.EvidencePack {
	if len(ev.Supports) == 0 {
		return nil
	}
	pack := &models.EvidencePack{PackID: "pack_" + uuid.NewString()}
	for _, s := range ev.Supports {
		excerpt := s.Text
		if excerpt == "" {
			for _, c := range ev.Captures {
				if c.ID == s.CaptureID {
					excerpt = c.URL
					break
				}
			}
		}
		pack.Items = append(pack.Items, models.EvidencePackItem{EvidenceID: s.ID, Kind: s.Type, ExcerptText: excerpt})
	}
	return pack
}

func buildPromptPack(in *models.PacketInput, chainResult *gates.ChainResult, latticeResult lattice.Result, driverBlocks []models.DriverBlock, correction string) string {
	var sb strings.Builder
	sb.WriteString("SYSTEM FRAME\n")
	for _, db := range driverBlocks {
		sb.WriteString("DRIVER BLOCK ")
		sb.WriteString(db.ID)
		sb.WriteString(":\n")
		sb.WriteString(db.Definition)
		sb.WriteString("\n")
	}
	for _, item := range latticeResult.Items {
		sb.WriteString("RETRIEVAL [" + item.Kind + "]: " + item.Summary + "\n")
	}
	if correction != "" {
		sb.WriteString("CORRECTION: " + correction + "\n")
	}
	sb.WriteString("USER MESSAGE:\n")
	sb.WriteString(in.Message)
	return sb.String()
}

func buildCorrectionPrompt(prior string, lint driverblock.LintResult) string {
	var sb strings.Builder
	sb.WriteString("Your previous answer violated required constraints: ")
	for i, v := range lint.Violations {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(fmt.Sprintf("%s rule on block %s", v.RuleKind, v.DriverBlockID))
	}
	sb.WriteString(". Revise accordingly.\n\n")
	sb.WriteString(prior)
	return sb.String()
}

// buildQualityCorrectionPrompt prepends the single corrective-regeneration
// preamble spec §4.7's quality-and-repair predicate calls for: the reply
// landed without a thread shape, without any decisions, or without an
// affect read.
func buildQualityCorrectionPrompt(prior string) string {
	var sb strings.Builder
	sb.WriteString("Your previous answer was missing required structure: include a thread shape ")
	sb.WriteString("(arc, active/parked topics, decisions, next steps) and an affect read for this turn. Revise accordingly.\n\n")
	sb.WriteString(prior)
	return sb.String()
}

func resolveModeDecision(in *models.PacketInput) models.ModeDecision {
	if in.ForcedPersona != "" {
		return models.ModeDecision{ModeLabel: "System-mode", PersonaLabel: in.ForcedPersona, Reasons: []string{"forced_persona"}}
	}
	return models.ModeDecision{ModeLabel: "default", Reasons: []string{"routed"}}
}

func defaultNotificationPolicy(in *models.PacketInput) models.NotificationPolicy {
	if in.PacketType == "worker" || in.Simulate == 202 {
		return models.NotificationPolicy{Level: models.NotificationSilent}
	}
	return models.NotificationPolicy{Level: models.NotificationAlert}
}

func resolveNotificationPolicy(in *models.PacketInput, sentinelUrgent bool) models.NotificationPolicy {
	base := defaultNotificationPolicy(in)

	wantsUrgent := sentinelUrgent || in.ForcedPersona == "cassandra"
	requestedUrgent := in.NotificationPolicy == models.NotificationUrgent

	if wantsUrgent {
		return models.NotificationPolicy{Level: models.NotificationUrgent, Reason: "sentinel_urgent"}
	}
	if requestedUrgent {
		return models.NotificationPolicy{Level: base.Level, Reason: "urgent_downgraded"}
	}
	return base
}

func (o *Orchestrator) updateMemento(ctx context.Context, in *models.PacketInput, envelope *models.OutputEnvelope, risk string) *models.ThreadMementoLatest {
	previous, err := o.MementoCache.Get(ctx, o.Store, in.ThreadID)
	if err != nil {
		log.Warn().Err(err).Msg("failed to load previous memento state")
	}

	var previousShape *models.MementoShape
	previousAffect := models.Affect{}
	previousPhase, previousBucket := "", ""
	if previous != nil {
		previousShape = &models.MementoShape{Arc: previous.Arc, Active: previous.Active, Parked: previous.Parked, Decisions: previous.Decisions, Next: previous.Next}
		previousAffect = previous.Affect
		previousPhase = previous.Affect.Rollup.Phase
		previousBucket = previous.Affect.Rollup.IntensityBucket
	}

	var signalKinds []string
	var modelShape *models.MementoShape
	var affectSignal *models.AffectSignal
	if envelope.Meta != nil {
		modelShape = envelope.Meta.Shape
		affectSignal = envelope.Meta.AffectSignal
	}

	decision := memento.DecideBreakpoint(in.Message, signalKinds, false, false)
	frozen := memento.PeakFreeze(previousPhase, previousBucket, decision)
	mergedShape := memento.MergeShape(modelShape, previousShape, frozen, in.Message, envelope.AssistantText)

	endMessageID := in.ClientRequestID
	if endMessageID == "" {
		endMessageID = uuid.NewString()
	}
	beforeCount := len(previousAffect.Points)
	newAffect := memento.UpdateAffect(previousAffect, affectSignal, endMessageID, o.AffectRollup)
	newAffectPointAdded := len(newAffect.Points) != beforeCount

	shapeChanged := previousShape == nil || !shapeEqual(*previousShape, mergedShape)

	updated := &models.ThreadMementoLatest{
		MementoID: "mem_" + in.ThreadID,
		ThreadID:  in.ThreadID,
		CreatedTs: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
		Arc:       mergedShape.Arc,
		Active:    mergedShape.Active,
		Parked:    mergedShape.Parked,
		Decisions: mergedShape.Decisions,
		Next:      mergedShape.Next,
		Affect:    newAffect,
	}
	if previous != nil {
		updated.CreatedTs = previous.CreatedTs
	}

	o.MementoCache.Put(in.ThreadID, updated)

	if memento.ShouldPersist(previous, newAffectPointAdded, shapeChanged) {
		if err := o.Store.UpsertThreadMementoLatest(ctx, updated); err != nil {
			log.Warn().Err(err).Msg("failed to persist thread memento")
		}
	}

	if risk == "" {
		risk = "low"
	}
	if envelope.Meta != nil {
		offer := journal.Classify(journal.Input{
			MoodLabel: latestLabel(newAffect),
			Risk:      risk,
			Phase:     newAffect.Rollup.Phase,
			Intensity: latestIntensity(newAffect),
		})
		if offer.OfferEligible {
			envelope.Meta.JournalOffer = &offer
		}
	}

	return updated
}

func latestIntensity(affect models.Affect) float64 {
	if len(affect.Points) == 0 {
		return 0
	}
	return affect.Points[len(affect.Points)-1].Intensity
}

func latestLabel(affect models.Affect) string {
	if len(affect.Points) == 0 {
		return ""
	}
	return affect.Points[len(affect.Points)-1].Label
}

func shapeEqual(a, b models.MementoShape) bool {
	if a.Arc != b.Arc {
		return false
	}
	return stringSliceEqual(a.Active, b.Active) && stringSliceEqual(a.Parked, b.Parked) &&
		stringSliceEqual(a.Decisions, b.Decisions) && stringSliceEqual(a.Next, b.Next)
}

func stringSliceEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
