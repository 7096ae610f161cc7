// Package httpapi is the gateway's HTTP surface: POST /tool/{toolName},
// the approval callback GETs, /health, and /metrics. Grounded on the
// teacher's internal/adapter/inbound/http transport (stdlib
// http.NewServeMux with Go 1.22 method-and-wildcard patterns, prometheus's
// promhttp for /metrics) rather than a third-party router, since the
// teacher itself never reaches for one.
package httpapi

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/runestone-labs/gatekeeper/internal/domain/approval"
	"github.com/runestone-labs/gatekeeper/internal/gatewayerr"
	"github.com/runestone-labs/gatekeeper/internal/service"
)

const maxBodyBytes = 1 << 20 // 1 MiB

// Handler wires the orchestrator into an http.Handler.
type Handler struct {
	Orchestrator *service.Orchestrator
	Logger       *slog.Logger
	Version      string
}

// New constructs the gateway's top-level http.Handler.
func New(orch *service.Orchestrator, logger *slog.Logger, version string) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{Orchestrator: orch, Logger: logger, Version: version}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /tool/{toolName}", h.handleToolCall)
	mux.HandleFunc("GET /approve/{id}", h.handleApprovalCallback(approval.ActionApprove))
	mux.HandleFunc("GET /deny/{id}", h.handleApprovalCallback(approval.ActionDeny))
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

func (h *Handler) handleToolCall(w http.ResponseWriter, r *http.Request) {
	toolName := r.PathValue("toolName")
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, gatewayerr.New(gatewayerr.KindInvalidInput, gatewayerr.ReasonInvalidEnvelope, "failed to read request body"))
		return
	}

	status, resp, err := h.Orchestrator.HandleToolCall(r.Context(), toolName, body)
	if err != nil {
		h.writeOrchestratorError(w, err)
		return
	}
	writeJSON(w, status, resp)
}

func (h *Handler) handleApprovalCallback(action approval.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		sig := r.URL.Query().Get("sig")
		exp, err := parseExp(r.URL.Query().Get("exp"))
		if err != nil {
			writeError(w, gatewayerr.New(gatewayerr.KindInvalidInput, gatewayerr.ReasonInvalidEnvelope, "exp must be a unix timestamp"))
			return
		}

		status, resp, err := h.Orchestrator.HandleApprovalCallback(r.Context(), id, action, sig, exp)
		if err != nil {
			h.writeOrchestratorError(w, err)
			return
		}
		writeJSON(w, status, resp)
	}
}

// HealthResponse is the JSON body of GET /health, grounded on the teacher's
// HealthChecker.Check response shape.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Version: h.Version})
}

func (h *Handler) writeOrchestratorError(w http.ResponseWriter, err error) {
	ge, ok := gatewayerr.As(err)
	if !ok {
		h.Logger.Error("unexpected orchestrator error", "error", err)
		writeError(w, gatewayerr.New(gatewayerr.KindInternal, gatewayerr.ReasonInternal, "an unexpected error occurred"))
		return
	}
	writeError(w, ge)
}

// errorStatus maps a gatewayerr.Kind onto its HTTP status code per §6.
func errorStatus(kind gatewayerr.Kind) int {
	switch kind {
	case gatewayerr.KindInvalidInput:
		return http.StatusBadRequest
	case gatewayerr.KindForbidden:
		return http.StatusForbidden
	case gatewayerr.KindNotFound:
		return http.StatusNotFound
	case gatewayerr.KindConflict:
		return http.StatusConflict
	case gatewayerr.KindExpired:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, ge *gatewayerr.Error) {
	writeJSON(w, errorStatus(ge.Kind), map[string]interface{}{
		"reasonCode":       ge.ReasonCode,
		"humanExplanation": ge.Message,
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func parseExp(raw string) (int64, error) {
	return strconv.ParseInt(raw, 10, 64)
}
