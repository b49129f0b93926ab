package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hyperengineering/tempo/internal/pull"
	"github.com/hyperengineering/tempo/internal/push"
	"github.com/hyperengineering/tempo/internal/session"
	"github.com/hyperengineering/tempo/internal/store"
	"github.com/hyperengineering/tempo/internal/sync"
)

// Handler implements the API handlers
type Handler struct {
	store    *store.Store
	puller   *pull.Puller
	pusher   *push.Pusher
	sessions *session.Registry
	version  string
}

func NewHandler(st *store.Store, puller *pull.Puller, pusher *push.Pusher, sessions *session.Registry, version string) *Handler {
	return &Handler{
		store:    st,
		puller:   puller,
		pusher:   pusher,
		sessions: sessions,
		version:  version,
	}
}

// HealthResponse is the body of GET /api/v1/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// Health returns the health status
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "healthy",
		Version: h.version,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// Pull handles POST /api/v1/sync/pull
func (h *Handler) Pull(w http.ResponseWriter, r *http.Request) {
	userID := MustUserIDFromContext(r.Context())

	var req sync.PullRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}
	if req.ClientGroupID == "" {
		WriteProblem(w, r, http.StatusBadRequest, "clientGroupID is required")
		return
	}

	resp, err := h.puller.Pull(r.Context(), userID, req)
	if err != nil {
		slog.Error("pull failed", "error", err, "client_group_id", req.ClientGroupID)
		MapSyncError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// Push handles POST /api/v1/sync/push
func (h *Handler) Push(w http.ResponseWriter, r *http.Request) {
	userID := MustUserIDFromContext(r.Context())

	var req sync.PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}
	if req.ClientGroupID == "" {
		WriteProblem(w, r, http.StatusBadRequest, "clientGroupID is required")
		return
	}

	resp, err := h.pusher.Push(r.Context(), userID, req)
	if err != nil {
		slog.Error("push failed", "error", err, "client_group_id", req.ClientGroupID)
		MapSyncError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// pokeHeartbeat keeps idle poke streams alive through proxies.
const pokeHeartbeat = 30 * time.Second

// Poke handles GET /api/v1/sync/poke: a server-sent event stream that fires
// whenever another replica of the same user pushes. The client reacts by
// pulling.
func (h *Handler) Poke(w http.ResponseWriter, r *http.Request) {
	userID := MustUserIDFromContext(r.Context())

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteProblem(w, r, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	sess, release := h.sessions.Register(userID)
	defer release()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(pokeHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case _, open := <-sess.Poke():
			if !open {
				return
			}
			fmt.Fprint(w, "event: poke\ndata: {}\n\n")
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}
