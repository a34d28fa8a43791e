// Package api exposes loreline's REST surface.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ostrauko/loreline/internal/events"
	"github.com/ostrauko/loreline/internal/fault"
	"github.com/ostrauko/loreline/internal/storage"
	"github.com/ostrauko/loreline/internal/tools"
	"github.com/ostrauko/loreline/internal/turn"
)

const maxRequestBodySize = 1 << 20 // 1MB

type AppDeps struct {
	Store        *storage.Store
	Orchestrator *turn.Orchestrator
	Bus          *events.Bus
	Tools        *tools.Manager
	Token        string
}

// NewAppHandler builds the authenticated application router. /health stays
// outside the auth middleware so process supervisors can poll it.
func NewAppHandler(deps AppDeps) http.Handler {
	root := chi.NewRouter()
	root.Get("/health", handleHealth)

	r := chi.NewRouter()
	r.Use(BearerAuth(deps.Token))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/characters", handleCreateCharacter(deps))
		r.Get("/characters", handleListCharacters(deps))
		r.Get("/characters/{id}", handleGetCharacter(deps))
		r.Put("/characters/{id}", handleUpdateCharacter(deps))
		r.Delete("/characters/{id}", handleDeleteCharacter(deps))
		r.Get("/characters/{id}/servers", handleListCharacterServers(deps))
		r.Put("/characters/{id}/servers/{serverID}", handleAttachServer(deps))
		r.Delete("/characters/{id}/servers/{serverID}", handleDetachServer(deps))
		r.Get("/characters/{id}/prompt-stack", handleListStack(deps))
		r.Post("/characters/{id}/prompt-stack", handleAddStackEntry(deps))
		r.Put("/characters/{id}/prompt-stack/order", handleReorderStack(deps))

		r.Post("/user-personas", handleCreatePersona(deps))
		r.Get("/user-personas", handleListPersonas(deps))
		r.Get("/user-personas/{id}", handleGetPersona(deps))
		r.Put("/user-personas/{id}", handleUpdatePersona(deps))
		r.Delete("/user-personas/{id}", handleDeletePersona(deps))

		r.Post("/chats", handleCreateChat(deps))
		r.Get("/chats", handleListChats(deps))
		r.Get("/chats/{id}", handleGetChat(deps))
		r.Delete("/chats/{id}", handleDeleteChat(deps))
		r.Put("/chats/{id}/llm-config", handleSetLLMConfig(deps))
		r.Get("/chats/{id}/llm-config", handleGetLLMConfig(deps))
		r.Delete("/chats/{id}/llm-config", handleDeleteLLMConfig(deps))
		r.Put("/chats/{id}/history-config", handleSetHistoryConfig(deps))
		r.Get("/chats/{id}/history-config", handleGetHistoryConfig(deps))
		r.Delete("/chats/{id}/history-config", handleDeleteHistoryConfig(deps))

		r.Post("/chats/{id}/turns", handleSubmitTurn(deps))
		r.Get("/chats/{id}/messages", handleListMessages(deps))
		r.Post("/chats/{id}/messages/{messageID}/state", handleSetMessageState(deps))
		r.Get("/chats/{id}/runs", handleListRuns(deps))
		r.Get("/chats/{id}/events", handleChatEvents(deps))

		r.Post("/presets", handleCreatePreset(deps))
		r.Get("/presets", handleListPresets(deps))
		r.Get("/presets/{id}", handleGetPreset(deps))
		r.Put("/presets/{id}", handleUpdatePreset(deps))
		r.Delete("/presets/{id}", handleDeletePreset(deps))
		r.Put("/prompt-stack/{entryID}/enabled", handleSetStackEntryEnabled(deps))
		r.Delete("/prompt-stack/{entryID}", handleRemoveStackEntry(deps))

		r.Post("/lorebooks", handleCreateLorebook(deps))
		r.Get("/lorebooks", handleListLorebooks(deps))
		r.Get("/lorebooks/{id}", handleGetLorebook(deps))
		r.Delete("/lorebooks/{id}", handleDeleteLorebook(deps))
		r.Get("/lorebooks/{id}/entries", handleListLorebookEntries(deps))
		r.Post("/lorebooks/{id}/entries", handleAddLorebookEntry(deps))
		r.Post("/lorebooks/{id}/import", handleImportLorebook(deps))
		r.Put("/lorebook-entries/{entryID}", handleUpdateLorebookEntry(deps))
		r.Delete("/lorebook-entries/{entryID}", handleDeleteLorebookEntry(deps))

		r.Post("/mcp-servers", handleCreateServer(deps))
		r.Get("/mcp-servers", handleListServers(deps))
		r.Get("/mcp-servers/{id}", handleGetServer(deps))
		r.Put("/mcp-servers/{id}", handleUpdateServer(deps))
		r.Delete("/mcp-servers/{id}", handleDeleteServer(deps))
		r.Post("/mcp-servers/{id}/probe", handleProbeServer(deps))

		r.Post("/connections", handleCreateConnection(deps))
		r.Get("/connections", handleListConnections(deps))
		r.Get("/connections/{id}", handleGetConnection(deps))
		r.Put("/connections/{id}", handleUpdateConnection(deps))
		r.Delete("/connections/{id}", handleDeleteConnection(deps))
	})

	root.Mount("/", r)
	return root
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func httpError(w http.ResponseWriter, status int, code string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"code":    code,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto the wire error shape. Typed faults
// carry their own status and code; storage sentinels get fixed mappings and
// anything else is a 500.
func writeError(w http.ResponseWriter, err error) {
	if fe, ok := fault.As(err); ok {
		httpError(w, fe.Status, fe.Code, "%s", fe.Message)
		return
	}
	switch {
	case errors.Is(err, storage.ErrNotFound):
		httpError(w, http.StatusNotFound, fault.CodeNotFound, "not found")
	case errors.Is(err, storage.ErrReorderIncomplete):
		httpError(w, http.StatusBadRequest, fault.CodeReorderIncomplete, "%v", err)
	case errors.Is(err, storage.ErrReorderMismatch):
		httpError(w, http.StatusBadRequest, fault.CodeReorderMismatch, "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, fault.CodeInternal, "%v", err)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, fault.CodeValidation, "invalid request body: %v", err)
		return false
	}
	return true
}
