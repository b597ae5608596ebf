package gateway

import (
	"net/http"

	"github.com/engramd/engramd/internal/memory"
)

// consolidateRequest is the body of POST /api/admin/consolidate.
type consolidateRequest struct {
	UserID string `json:"user_id"`
	Type   string `json:"type,omitempty"`
}

// consolidateResponse reports merges performed.
type consolidateResponse struct {
	Merges []memory.MergeResult `json:"merges"`
	Count  int                  `json:"count"`
}

// handleConsolidate merges near-duplicate memories for one user.
func (g *Gateway) handleConsolidate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eng, ok := g.engine()
		if !ok {
			errorJSON(w, http.StatusServiceUnavailable, "engine not ready")
			return
		}

		var req consolidateRequest
		if !readJSON(w, r, &req) {
			return
		}
		if req.UserID == "" {
			errorJSON(w, http.StatusBadRequest, "user_id is required")
			return
		}
		typeFilter := memory.Type(req.Type)
		if typeFilter != "" && !typeFilter.Valid() {
			errorJSON(w, http.StatusBadRequest, "unknown memory type")
			return
		}

		merges, err := eng.Consolidate(r.Context(), req.UserID, typeFilter)
		if err != nil {
			g.logger.Error("consolidation failed", "user", req.UserID, "error", err)
			errorJSON(w, http.StatusInternalServerError, "consolidation failed")
			return
		}
		if merges == nil {
			merges = []memory.MergeResult{}
		}

		writeJSON(w, http.StatusOK, consolidateResponse{Merges: merges, Count: len(merges)})
	}
}

// cleanupRequest is the body of POST /api/admin/cleanup. Zero limits fall
// back to the engine's configured cap and floor.
type cleanupRequest struct {
	UserID        string  `json:"user_id"`
	MaxMemories   int     `json:"max_memories,omitempty"`
	MinImportance float64 `json:"min_importance,omitempty"`
}

// handleCleanup evicts low-value memories for one user.
func (g *Gateway) handleCleanup() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eng, ok := g.engine()
		if !ok {
			errorJSON(w, http.StatusServiceUnavailable, "engine not ready")
			return
		}

		var req cleanupRequest
		if !readJSON(w, r, &req) {
			return
		}
		if req.UserID == "" {
			errorJSON(w, http.StatusBadRequest, "user_id is required")
			return
		}
		if req.MinImportance < 0 || req.MinImportance > 1 {
			errorJSON(w, http.StatusBadRequest, "min_importance must be in [0, 1]")
			return
		}

		result, err := eng.CleanupWith(r.Context(), req.UserID, req.MaxMemories, req.MinImportance)
		if err != nil {
			g.logger.Error("cleanup failed", "user", req.UserID, "error", err)
			errorJSON(w, http.StatusInternalServerError, "cleanup failed")
			return
		}

		writeJSON(w, http.StatusOK, result)
	}
}

// historyRequest is the body of POST /api/admin/history.
type historyRequest struct {
	ChatID string `json:"chat_id"`
}

// handleHistoryBackfill extracts memories from a chat's full history.
// Runs synchronously; the backfill self-throttles in batches, so large
// chats can take a while.
func (g *Gateway) handleHistoryBackfill() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eng, ok := g.engine()
		if !ok {
			errorJSON(w, http.StatusServiceUnavailable, "engine not ready")
			return
		}

		var req historyRequest
		if !readJSON(w, r, &req) {
			return
		}
		if req.ChatID == "" {
			errorJSON(w, http.StatusBadRequest, "chat_id is required")
			return
		}

		result, err := eng.ProcessChatHistory(r.Context(), req.ChatID)
		if err != nil {
			g.logger.Error("history backfill failed", "chat", req.ChatID, "error", err)
			errorJSON(w, http.StatusInternalServerError, "history backfill failed")
			return
		}

		writeJSON(w, http.StatusOK, result)
	}
}
