package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ostrauko/loreline/internal/fault"
	"github.com/ostrauko/loreline/internal/storage"
)

type PresetRequest struct {
	Kind       string `json:"kind"`
	Content    string `json:"content"`
	LorebookID string `json:"lorebook_id"`
}

func validPresetKind(kind string) bool {
	switch kind {
	case storage.PresetStatic, storage.PresetLorebook, storage.PresetHistory, storage.PresetToolCatalog:
		return true
	}
	return false
}

func handleCreatePreset(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PresetRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if !validPresetKind(req.Kind) {
			httpError(w, http.StatusBadRequest, fault.CodeValidation, "unknown preset kind %q", req.Kind)
			return
		}
		if req.Kind == storage.PresetLorebook {
			if _, err := deps.Store.GetLorebook(req.LorebookID); err != nil {
				writeError(w, err)
				return
			}
		}
		p := storage.Preset{
			ID:         uuid.NewString(),
			Kind:       req.Kind,
			Content:    req.Content,
			LorebookID: req.LorebookID,
			CreatedAt:  time.Now().UTC(),
		}
		if err := deps.Store.CreatePreset(p); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, p)
	}
}

func handleListPresets(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		presets, err := deps.Store.ListPresets()
		if err != nil {
			writeError(w, err)
			return
		}
		if presets == nil {
			presets = []storage.Preset{}
		}
		writeJSON(w, http.StatusOK, presets)
	}
}

func handleGetPreset(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Store.GetPreset(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func handleUpdatePreset(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Store.GetPreset(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		var req PresetRequest
		if !decodeBody(w, r, &req) {
			return
		}
		// Kind is immutable; stacks rely on it.
		p.Content = req.Content
		if p.Kind == storage.PresetLorebook && req.LorebookID != "" {
			if _, err := deps.Store.GetLorebook(req.LorebookID); err != nil {
				writeError(w, err)
				return
			}
			p.LorebookID = req.LorebookID
		}
		if err := deps.Store.UpdatePreset(p); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func handleDeletePreset(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.DeletePreset(chi.URLParam(r, "id")); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleListStack(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		characterID := chi.URLParam(r, "id")
		if _, err := deps.Store.GetCharacter(characterID); err != nil {
			writeError(w, err)
			return
		}
		stack, err := deps.Store.ListStack(characterID)
		if err != nil {
			writeError(w, err)
			return
		}
		if stack == nil {
			stack = []storage.PromptStackEntry{}
		}
		writeJSON(w, http.StatusOK, stack)
	}
}

type StackEntryRequest struct {
	PresetID string `json:"preset_id"`
	Role     string `json:"role"`
	Enabled  *bool  `json:"enabled"`
}

func handleAddStackEntry(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		characterID := chi.URLParam(r, "id")
		if _, err := deps.Store.GetCharacter(characterID); err != nil {
			writeError(w, err)
			return
		}
		var req StackEntryRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if _, err := deps.Store.GetPreset(req.PresetID); err != nil {
			writeError(w, err)
			return
		}
		role := req.Role
		if role == "" {
			role = storage.RoleSystem
		}
		if role != storage.RoleSystem && role != storage.RoleUser && role != storage.RoleAssistant {
			httpError(w, http.StatusBadRequest, fault.CodeValidation, "invalid role %q", role)
			return
		}
		enabled := true
		if req.Enabled != nil {
			enabled = *req.Enabled
		}
		entry := storage.PromptStackEntry{
			ID:          uuid.NewString(),
			CharacterID: characterID,
			PresetID:    req.PresetID,
			Role:        role,
			Enabled:     enabled,
		}
		if err := deps.Store.AddStackEntry(entry); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, entry)
	}
}

type ReorderRequest struct {
	EntryIDs []string `json:"entry_ids"`
}

func handleReorderStack(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		characterID := chi.URLParam(r, "id")
		if _, err := deps.Store.GetCharacter(characterID); err != nil {
			writeError(w, err)
			return
		}
		var req ReorderRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if err := deps.Store.ReorderStack(characterID, req.EntryIDs); err != nil {
			writeError(w, err)
			return
		}
		stack, err := deps.Store.ListStack(characterID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stack)
	}
}

type SetEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

func handleSetStackEntryEnabled(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SetEnabledRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if err := deps.Store.SetStackEntryEnabled(chi.URLParam(r, "entryID"), req.Enabled); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
	}
}

func handleRemoveStackEntry(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.RemoveStackEntry(chi.URLParam(r, "entryID")); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}
