package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/akash-network/provider-console-api/internal/deployment"
	"github.com/akash-network/provider-console-api/internal/remote"
	"github.com/akash-network/provider-console-api/internal/runs"
	"github.com/akash-network/provider-console-api/internal/verification"
)

type Handlers struct {
	runService *runs.Service
	logger     *slog.Logger
}

func NewHandlers(runService *runs.Service, logger *slog.Logger) *Handlers {
	return &Handlers{
		runService: runService,
		logger:     logger,
	}
}

func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Post("/v1/verify", h.HandleStartVerification)
	r.Post("/v1/deploy", h.HandleStartDeployment)
	r.Get("/v1/verifications/{runID}", h.HandleGetVerificationReport)
	r.Get("/v1/deployments/{runID}", h.HandleGetDeploymentStatus)
	r.Get("/v1/runs", h.HandleListRuns)
	r.Delete("/v1/runs/{runID}", h.HandleCancelRun)
}

// TargetRequest carries the SSH coordinates and key material for a
// provider host. The key is accepted over the wire, encrypted at rest
// and never echoed back in any response.
type TargetRequest struct {
	Host       string `json:"host"`
	Port       int    `json:"port,omitempty"`
	User       string `json:"user"`
	PrivateKey string `json:"private_key"`
	Passphrase string `json:"passphrase,omitempty"`
}

func (t TargetRequest) target() remote.Target {
	return remote.Target{
		Host:       t.Host,
		Port:       t.Port,
		User:       t.User,
		PrivateKey: []byte(t.PrivateKey),
		Passphrase: t.Passphrase,
	}
}

type StartVerificationRequest struct {
	Target  TargetRequest                 `json:"target"`
	Options verification.ChecklistOptions `json:"options"`
}

type StartDeploymentRequest struct {
	Target TargetRequest   `json:"target"`
	Plan   deployment.Plan `json:"plan"`
}

type RunResponse struct {
	RunID string `json:"run_id"`
}

func (h *Handlers) HandleStartVerification(w http.ResponseWriter, r *http.Request) {
	var req StartVerificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "failed to parse request body", http.StatusBadRequest)
		return
	}

	runID, err := h.runService.StartVerification(r.Context(), req.Target.target(), req.Options)
	if err != nil {
		h.writeStartError(w, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(RunResponse{RunID: runID})
}

func (h *Handlers) HandleStartDeployment(w http.ResponseWriter, r *http.Request) {
	var req StartDeploymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "failed to parse request body", http.StatusBadRequest)
		return
	}

	runID, err := h.runService.StartDeployment(r.Context(), req.Target.target(), req.Plan)
	if err != nil {
		h.writeStartError(w, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(RunResponse{RunID: runID})
}

func (h *Handlers) writeStartError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, runs.ErrRunActive):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.logger.Error("failed to start run", "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}

func (h *Handlers) HandleGetVerificationReport(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	report, err := h.runService.GetVerificationReport(r.Context(), runID)
	if err != nil {
		if errors.Is(err, runs.ErrNotFound) {
			http.Error(w, "run not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to load verification report", "runID", runID, "error", err)
		http.Error(w, "failed to load report", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(report)
}

func (h *Handlers) HandleGetDeploymentStatus(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	run, err := h.runService.GetDeploymentStatus(r.Context(), runID)
	if err != nil {
		if errors.Is(err, runs.ErrNotFound) {
			http.Error(w, "run not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to load deployment status", "runID", runID, "error", err)
		http.Error(w, "failed to load status", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(run)
}

func (h *Handlers) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	targets := r.URL.Query()["target"]
	if len(targets) == 0 {
		http.Error(w, "at least one target query parameter is required", http.StatusBadRequest)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	history, err := h.runService.ListRuns(r.Context(), targets, limit)
	if err != nil {
		h.logger.Error("failed to list runs", "error", err)
		http.Error(w, "failed to list runs", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(history)
}

func (h *Handlers) HandleCancelRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	err := h.runService.CancelRun(r.Context(), runID)
	switch {
	case err == nil:
		json.NewEncoder(w).Encode(map[string]string{"run_id": runID, "status": "canceling"})
	case errors.Is(err, runs.ErrRollbackInProgress):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, runs.ErrNotFound):
		http.Error(w, "run not found", http.StatusNotFound)
	default:
		h.logger.Error("failed to cancel run", "runID", runID, "error", err)
		http.Error(w, "failed to cancel run", http.StatusInternalServerError)
	}
}
