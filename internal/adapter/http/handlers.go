package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mediaforge/mediaforge/internal/domain"
	"github.com/mediaforge/mediaforge/internal/infrastructure/logger"
	"github.com/mediaforge/mediaforge/internal/service"
)

type Handlers struct {
	jobSvc *service.JobService
}

func NewHandlers(jobSvc *service.JobService) *Handlers {
	return &Handlers{jobSvc: jobSvc}
}

type submitRequest struct {
	Kind     domain.JobKind  `json:"kind"`
	InputRef string          `json:"input_ref"`
	Params   json.RawMessage `json:"params"`
}

type jobResponse struct {
	ID           string  `json:"id"`
	Kind         string  `json:"kind"`
	Status       string  `json:"status"`
	Progress     float64 `json:"progress"`
	InputRef     string  `json:"input_ref"`
	OutputRef    string  `json:"output_ref,omitempty"`
	OutputSize   int64   `json:"output_size,omitempty"`
	ErrorMessage string  `json:"error,omitempty"`
	CreatedAt    string  `json:"created_at"`
}

func toJobResponse(j *domain.Job) jobResponse {
	return jobResponse{
		ID:           j.ID,
		Kind:         string(j.Kind),
		Status:       string(j.Status),
		Progress:     j.Progress,
		InputRef:     j.InputRef,
		OutputRef:    j.OutputRef,
		OutputSize:   j.OutputSize,
		ErrorMessage: j.ErrorMessage,
		CreatedAt:    j.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error.Printf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (h *Handlers) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, err := h.jobSvc.Submit(req.Kind, req.InputRef, req.Params)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, toJobResponse(job))
}

func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, err := h.jobSvc.Snapshot(id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job))
}

func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.jobSvc.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	out := make([]jobResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, toJobResponse(j))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	err := h.jobSvc.Cancel(id)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, domain.ErrAlreadyTerminal):
		writeError(w, http.StatusConflict, "job already finished")
	default:
		writeError(w, http.StatusInternalServerError, "failed to cancel job")
	}
}

func (h *Handlers) DeleteJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.jobSvc.Delete(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		logger.Error.Printf("Failed to delete job %s: %v", logger.SanitizeForLog(id), err)
		writeError(w, http.StatusInternalServerError, "failed to delete job")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
