// Package apierr defines the control plane's error taxonomy (spec §7):
// typed errors carrying an HTTP status, a stable code, and a retryable
// flag, so the orchestrator and HTTP layer agree on one vocabulary.
package apierr

import "fmt"

// Error is the typed error every orchestrator-visible failure is wrapped
// in before it reaches the HTTP layer.
type Error struct {
	Code       string
	HTTPStatus int
	Retryable  bool
	Detail     string

	// Details carries a bounded structured-detail map for 400 validation
	// failures (spec §6's `details` field); nil for every other error kind.
	Details map[string]interface{}

	// TransmissionID and TraceRunID are filled in by the orchestrator once a
	// transmission exists, so the HTTP layer can surface them on 422/500/502
	// responses. Empty for errors raised before a transmission is created
	// (request validation).
	TransmissionID string
	TraceRunID     string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

func gateFailure(code, detail string) *Error {
	return &Error{Code: code, HTTPStatus: 422, Retryable: false, Detail: detail}
}

// Validation (400) — not retried. code is the specific violation
// (e.g. "captures_exceeded"); details is the bounded structured-detail map
// evidence.ValidationError carries, forwarded verbatim for the HTTP layer's
// `details` field. The response's own `error` field is always the literal
// "invalid_request" per spec §6; code is surfaced separately.
func Validation(code, detail string, details map[string]interface{}) *Error {
	return &Error{Code: code, HTTPStatus: 400, Retryable: false, Detail: detail, Details: details}
}

// Gate failure (422) — not retried; always accompanied by a persisted stub
// assistant text.
func OutputContractFailed(reason string) *Error {
	return gateFailure("output_contract_failed", reason)
}

func EvidenceBindingFailed(detail string) *Error {
	return gateFailure("evidence_binding_failed", detail)
}

func ClaimsWithoutEvidence(detail string) *Error {
	return gateFailure("claims_without_evidence", detail)
}

func EvidenceBudgetExceeded(reason string) *Error {
	return gateFailure("evidence_budget_exceeded", reason)
}

func DriverBlockEnforcementFailed(detail string) *Error {
	return gateFailure("driver_block_enforcement_failed", detail)
}

// Provider (502/408/504/500).
func ProviderInvalidRequest(detail string) *Error {
	return &Error{Code: "provider_invalid_request", HTTPStatus: 502, Retryable: false, Detail: detail}
}

func ProviderUpstreamFailed(detail string) *Error {
	return &Error{Code: "provider_upstream_failed", HTTPStatus: 502, Retryable: true, Detail: detail}
}

func ProviderFailed(detail string) *Error {
	return &Error{Code: "provider_failed", HTTPStatus: 500, Retryable: true, Detail: detail}
}

func ProviderTimeout(detail string) *Error {
	return &Error{Code: "PROVIDER_TIMEOUT", HTTPStatus: 504, Retryable: true, Detail: detail}
}

// Config (500) — not retryable.
func OpenAIAPIKeyMissing() *Error {
	return &Error{Code: "openai_api_key_missing", HTTPStatus: 500, Retryable: false}
}

func OpenAIModelMissing() *Error {
	return &Error{Code: "openai_model_missing", HTTPStatus: 500, Retryable: false}
}

// Evidence provider (500) — retryable.
func EvidenceProviderContractFailed(detail string) *Error {
	return &Error{Code: "evidence_provider_contract_failed", HTTPStatus: 500, Retryable: true, Detail: detail}
}

func EvidenceProviderFailed(detail string) *Error {
	return &Error{Code: "evidence_provider_failed", HTTPStatus: 500, Retryable: true, Detail: detail}
}

// Simulated (500) — retryable dev hook.
func SimulatedFailure() *Error {
	return &Error{Code: "simulated_failure", HTTPStatus: 500, Retryable: true}
}
