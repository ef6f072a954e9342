package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/chat-copilot/backend/telemetry"
)

// Handlers carries the dependencies for all HTTP endpoints.
type Handlers struct {
	deps Deps
}

// HandleHealthz is a liveness probe.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz reports readiness: the database must answer a ping.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	if h.deps.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.deps.DB.PingContext(ctx); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// statusResponse is the /status payload.
type statusResponse struct {
	Channel       string `json:"channel"`
	Suspended     bool   `json:"suspended"`
	Watching      bool   `json:"watching"`
	Role          string `json:"role,omitempty"`
	Provider      uint32 `json:"provider_hash"`
	DialogueQueue int    `json:"dialogue_queue"`
	DigestBuffer  int    `json:"digest_buffer"`
	DigestPeriod  string `json:"digest_period"`
}

// HandleStatus reports the bot's runtime state.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Channel: h.deps.Channel}
	if h.deps.Suspended != nil {
		resp.Suspended = h.deps.Suspended.Load()
	}
	if h.deps.Router != nil {
		resp.Watching = h.deps.Router.Watching()
	}
	if h.deps.Dialogue != nil {
		resp.DialogueQueue = h.deps.Dialogue.QueueDepth()
		resp.Provider = h.deps.Dialogue.Client().ProviderHash()
		if role := h.deps.Dialogue.Client().Role(); role != nil {
			resp.Role = role.Name
		}
	}
	if h.deps.Digest != nil {
		resp.DigestBuffer = h.deps.Digest.BufferDepth()
		resp.DigestPeriod = h.deps.Digest.Period().String()
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Warn("status encode failed", slog.Any("err", err))
	}
}

// HandleAdminSuspend pauses both consumers.
func (h *Handlers) HandleAdminSuspend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.deps.Suspended != nil {
		h.deps.Suspended.Store(true)
		telemetry.UpdateSuspendedGauge(true)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("suspended"))
}

// HandleAdminResume resumes both consumers.
func (h *Handlers) HandleAdminResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.deps.Suspended != nil {
		h.deps.Suspended.Store(false)
		telemetry.UpdateSuspendedGauge(false)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("resumed"))
}

// HandleAdminReload refreshes roles, the ignore list, and the announcement
// rotation from the database.
func (h *Handlers) HandleAdminReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	if h.deps.Roles != nil {
		if err := h.deps.Roles.Reload(ctx); err != nil {
			slog.Warn("role reload failed", slog.Any("err", err))
			http.Error(w, "role reload failed", http.StatusInternalServerError)
			return
		}
	}
	if h.deps.Router != nil {
		if err := h.deps.Router.ReloadIgnores(ctx); err != nil {
			slog.Warn("ignore reload failed", slog.Any("err", err))
			http.Error(w, "ignore reload failed", http.StatusInternalServerError)
			return
		}
	}
	if h.deps.Announcer != nil {
		h.deps.Announcer.Refresh()
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("reloaded"))
}
