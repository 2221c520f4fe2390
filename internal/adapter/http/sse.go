package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/mediaforge/mediaforge/internal/domain"
	"github.com/mediaforge/mediaforge/internal/service"
)

const keepAliveInterval = 30 * time.Second

type SSEHandler struct {
	jobSvc *service.JobService
}

func NewSSEHandler(jobSvc *service.JobService) *SSEHandler {
	return &SSEHandler{jobSvc: jobSvc}
}

// sseWrite writes an SSE event, handling multi-line data correctly.
func sseWrite(w http.ResponseWriter, eventName string, data string) {
	_, _ = fmt.Fprintf(w, "event: %s\n", eventName)
	for _, line := range strings.Split(data, "\n") {
		_, _ = fmt.Fprintf(w, "data: %s\n", line)
	}
	_, _ = fmt.Fprint(w, "\n")
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// sendKeepAlive writes an SSE comment to keep the connection active.
func sendKeepAlive(w http.ResponseWriter) {
	_, _ = fmt.Fprint(w, ": keep-alive\n\n")
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func sendProgress(w http.ResponseWriter, event domain.ProgressEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	sseWrite(w, "progress", string(payload))
}

// Events streams progress for one job. The current state is sent first so
// late subscribers never miss where the job stands; the stream closes after
// the terminal event.
func (h *SSEHandler) Events(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	job, err := h.jobSvc.Snapshot(id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load job", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	snapshot := domain.ProgressEventFor(job)
	sendProgress(w, snapshot)
	if snapshot.Terminal() {
		return
	}

	ch := h.jobSvc.Subscribe(id)
	defer h.jobSvc.Unsubscribe(id, ch)

	// A terminal publish between the snapshot and Subscribe lands on neither
	// the snapshot nor the fresh channel. Re-read the state now that we are
	// attached; anything terminal from here on arrives through the channel.
	if job, err := h.jobSvc.Snapshot(id); err == nil {
		event := domain.ProgressEventFor(job)
		if event.Terminal() {
			sendProgress(w, event)
			return
		}
	}

	ctx := r.Context()
	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			sendKeepAlive(w)
		case event, ok := <-ch:
			if !ok {
				// Bus closed the channel on a terminal publish we may have
				// consumed already; resend the final state to be safe.
				if job, err := h.jobSvc.Snapshot(id); err == nil {
					sendProgress(w, domain.ProgressEventFor(job))
				}
				return
			}
			sendProgress(w, event)
			if event.Terminal() {
				return
			}
		}
	}
}
