// Package handlers implements the HTTP surface (spec §6): POST /v1/chat,
// GET /internal/topology, the SSE stream, and health/version, grounded on
// the teacher's SendSessionMessage decode/validate/respond shape and its
// RouteModelStream/MCPSSEEndpoint flusher idiom.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/SolLabsHQ/solserver/internal/apierr"
	"github.com/SolLabsHQ/solserver/internal/config"
	"github.com/SolLabsHQ/solserver/internal/orchestrator"
	"github.com/SolLabsHQ/solserver/internal/sse"
	"github.com/SolLabsHQ/solserver/internal/store"
	"github.com/SolLabsHQ/solserver/pkg/models"
)

// Handlers wires the orchestrator, store, and SSE hub into HTTP handlers.
type Handlers struct {
	Orchestrator *orchestrator.Orchestrator
	Store        store.Store
	Hub          *sse.Hub
	Cfg          *config.Config
}

// Chat handles POST /v1/chat. A request with simulate=202 runs the pipeline
// in the background and acknowledges immediately; every other request runs
// synchronously.
func (h *Handlers) Chat(w http.ResponseWriter, r *http.Request) {
	var in models.PacketInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid_request", "code": "invalid_json", "message": err.Error(),
		})
		return
	}

	if in.Simulate == 202 {
		ack, apiErr := h.Orchestrator.HandleChatAsync(r.Context(), &in)
		if apiErr != nil {
			writeError(w, apiErr)
			return
		}
		respondJSON(w, http.StatusAccepted, ack)
		return
	}

	resp, apiErr := h.Orchestrator.HandleChat(r.Context(), &in)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// Topology handles GET /internal/topology. Access is gated upstream by
// middleware.InternalTokenGuard.
func (h *Handlers) Topology(w http.ResponseWriter, r *http.Request) {
	record, err := h.Store.EnsureTopologyKeyPrimary(r.Context(), "solserver", h.Cfg.Store.DataDir)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, record)
}

// Stream handles GET /v1/chat/stream/{transmissionId} (falling back to a
// transmissionId query parameter) by attaching the caller to the SSE hub
// for that transmission.
func (h *Handlers) Stream(w http.ResponseWriter, r *http.Request) {
	transmissionID := chi.URLParam(r, "transmissionId")
	if transmissionID == "" {
		transmissionID = r.URL.Query().Get("transmissionId")
	}
	if transmissionID == "" {
		respondError(w, http.StatusBadRequest, "transmissionId required")
		return
	}
	h.Hub.ServeStream(w, r, transmissionID)
}

// Health handles GET /health.
func Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "solserver-control-plane"})
}

// Version returns GET /version, closing over the running config.
func Version(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"version": cfg.Version, "service": "solserver-control-plane"})
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// writeError maps a typed apierr.Error onto the HTTP response shapes
// described in spec §6/§7.
func writeError(w http.ResponseWriter, err *apierr.Error) {
	if err.HTTPStatus == http.StatusBadRequest {
		body := map[string]interface{}{
			"error":   "invalid_request",
			"code":    err.Code,
			"message": err.Detail,
		}
		if err.Details != nil {
			body["details"] = err.Details
		}
		respondJSON(w, err.HTTPStatus, body)
		return
	}

	body := map[string]interface{}{
		"error":     err.Code,
		"retryable": err.Retryable,
	}
	if err.TransmissionID != "" {
		body["transmissionId"] = err.TransmissionID
	}
	if err.TraceRunID != "" {
		body["traceRunId"] = err.TraceRunID
	}

	if err.HTTPStatus == http.StatusUnprocessableEntity {
		body["assistant"] = stubAssistantText
		respondJSON(w, err.HTTPStatus, body)
		return
	}
	body["message"] = err.Detail
	respondJSON(w, err.HTTPStatus, body)
}

const stubAssistantText = "I wasn't able to put together a safe response to that. Please try again or rephrase."
