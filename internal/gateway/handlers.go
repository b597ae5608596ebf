package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/engramd/engramd/internal/memory"
)

// maxBodySize bounds request bodies (1 MB). Chat messages and admin
// payloads are small.
const maxBodySize = 1 << 20

// writeJSON encodes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// errorJSON writes a JSON error body.
func errorJSON(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// readJSON decodes the request body into v, rejecting unknown fields.
func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// ingestRequest is the body of POST /api/messages.
type ingestRequest struct {
	ID      string `json:"id,omitempty"`
	ChatID  string `json:"chat_id"`
	UserID  string `json:"user_id"`
	Role    string `json:"role,omitempty"`
	Content string `json:"content"`
}

// ingestResponse reports what ingestion did with the message.
type ingestResponse struct {
	MessageID  string                `json:"message_id"`
	Extraction *memory.ProcessResult `json:"extraction,omitempty"`
}

// handleIngestMessage saves an incoming chat message and runs the
// extraction hook on user messages. Extraction failure is best-effort and
// never fails the request: the message is already saved.
func (g *Gateway) handleIngestMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ingestRequest
		if !readJSON(w, r, &req) {
			return
		}
		if req.ChatID == "" || req.UserID == "" || req.Content == "" {
			errorJSON(w, http.StatusBadRequest, "chat_id, user_id, and content are required")
			return
		}
		if req.Role == "" {
			req.Role = "user"
		}
		if req.ID == "" {
			req.ID = memory.NewID()
		}

		saver, ok := g.chats()
		if !ok {
			errorJSON(w, http.StatusServiceUnavailable, "chat store not available")
			return
		}

		msg := memory.ChatMessage{
			ID:        req.ID,
			ChatID:    req.ChatID,
			UserID:    req.UserID,
			Role:      req.Role,
			Content:   req.Content,
			CreatedAt: time.Now().UTC(),
		}
		if err := saver.SaveMessage(r.Context(), msg); err != nil {
			g.logger.Error("saving message failed", "chat", req.ChatID, "error", err)
			errorJSON(w, http.StatusInternalServerError, "saving message failed")
			return
		}

		resp := ingestResponse{MessageID: msg.ID}

		if msg.Role == "user" {
			if eng, ok := g.engine(); ok {
				result, err := eng.ProcessNewMessage(r.Context(), msg.ID)
				if err != nil {
					g.logger.Warn("extraction failed", "message", msg.ID, "error", err)
				} else {
					resp.Extraction = &result
				}
			}
		}

		writeJSON(w, http.StatusCreated, resp)
	}
}

// handleContext renders the prompt-injectable memory block for a query.
func (g *Gateway) handleContext() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eng, ok := g.engine()
		if !ok {
			errorJSON(w, http.StatusServiceUnavailable, "engine not ready")
			return
		}

		query := r.URL.Query().Get("q")
		if query == "" {
			errorJSON(w, http.StatusBadRequest, "query parameter q is required")
			return
		}

		userID := chi.URLParam(r, "userID")
		context, err := eng.GetMemoryContext(r.Context(), userID, query)
		if err != nil {
			g.logger.Error("context retrieval failed", "user", userID, "error", err)
			errorJSON(w, http.StatusInternalServerError, "context retrieval failed")
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"context": context})
	}
}

// listResponse is the body of GET /api/users/{id}/memories without a query.
type listResponse struct {
	Memories []memory.Record `json:"memories"`
	Total    int             `json:"total"`
}

// handleListMemories lists a user's memories, or ranks them against a
// query when ?q= is given.
func (g *Gateway) handleListMemories() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")

		if query := r.URL.Query().Get("q"); query != "" {
			eng, ok := g.engine()
			if !ok {
				errorJSON(w, http.StatusServiceUnavailable, "engine not ready")
				return
			}
			result, err := eng.GetRelevantMemories(r.Context(), userID, query)
			if err != nil {
				g.logger.Error("retrieval failed", "user", userID, "error", err)
				errorJSON(w, http.StatusInternalServerError, "retrieval failed")
				return
			}
			writeJSON(w, http.StatusOK, result)
			return
		}

		store, ok := g.store()
		if !ok {
			errorJSON(w, http.StatusServiceUnavailable, "store not available")
			return
		}

		filter := memory.Filter{Type: memory.Type(r.URL.Query().Get("type"))}
		if filter.Type != "" && !filter.Type.Valid() {
			errorJSON(w, http.StatusBadRequest, "unknown memory type")
			return
		}
		if min := r.URL.Query().Get("min_importance"); min != "" {
			v, err := strconv.ParseFloat(min, 64)
			if err != nil || v < 0 || v > 1 {
				errorJSON(w, http.StatusBadRequest, "min_importance must be in [0, 1]")
				return
			}
			filter.MinImportance = v
		}

		records, err := store.ListByOwner(r.Context(), userID, filter)
		if err != nil {
			g.logger.Error("listing memories failed", "user", userID, "error", err)
			errorJSON(w, http.StatusInternalServerError, "listing memories failed")
			return
		}
		if records == nil {
			records = []memory.Record{}
		}

		writeJSON(w, http.StatusOK, listResponse{Memories: records, Total: len(records)})
	}
}

// handleDeleteMemory removes one memory record.
func (g *Gateway) handleDeleteMemory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		store, ok := g.store()
		if !ok {
			errorJSON(w, http.StatusServiceUnavailable, "store not available")
			return
		}

		userID := chi.URLParam(r, "userID")
		memoryID := chi.URLParam(r, "memoryID")

		err := store.Delete(r.Context(), userID, memoryID)
		if memory.IsNotFound(err) {
			errorJSON(w, http.StatusNotFound, "memory not found")
			return
		}
		if err != nil {
			g.logger.Error("deleting memory failed", "user", userID, "id", memoryID, "error", err)
			errorJSON(w, http.StatusInternalServerError, "deleting memory failed")
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// handleStats reports a user's memory statistics.
func (g *Gateway) handleStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eng, ok := g.engine()
		if !ok {
			errorJSON(w, http.StatusServiceUnavailable, "engine not ready")
			return
		}

		userID := chi.URLParam(r, "userID")
		stats, err := eng.GetMemoryStats(r.Context(), userID)
		if err != nil {
			g.logger.Error("stats failed", "user", userID, "error", err)
			errorJSON(w, http.StatusInternalServerError, "stats failed")
			return
		}

		writeJSON(w, http.StatusOK, stats)
	}
}

// preferencesRequest is the body of PUT /api/users/{id}/preferences.
type preferencesRequest struct {
	EnableMemory bool `json:"enable_memory"`
}

// handleSetPreferences toggles memory extraction for a user.
func (g *Gateway) handleSetPreferences() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req preferencesRequest
		if !readJSON(w, r, &req) {
			return
		}

		users, ok := g.users()
		if !ok {
			errorJSON(w, http.StatusServiceUnavailable, "user store not available")
			return
		}

		userID := chi.URLParam(r, "userID")
		prefs := memory.Preferences{EnableMemory: req.EnableMemory}
		if err := users.SetPreferences(r.Context(), userID, prefs); err != nil {
			g.logger.Error("saving preferences failed", "user", userID, "error", err)
			errorJSON(w, http.StatusInternalServerError, "saving preferences failed")
			return
		}

		writeJSON(w, http.StatusOK, map[string]bool{"enable_memory": req.EnableMemory})
	}
}
