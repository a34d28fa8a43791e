package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ostrauko/loreline/internal/fault"
	"github.com/ostrauko/loreline/internal/storage"
)

type ChatRequest struct {
	CharacterID   string `json:"character_id"`
	UserPersonaID string `json:"user_persona_id"`
	Title         string `json:"title"`
}

func handleCreateChat(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if _, err := deps.Store.GetCharacter(req.CharacterID); err != nil {
			writeError(w, err)
			return
		}
		if _, err := deps.Store.GetUserPersona(req.UserPersonaID); err != nil {
			writeError(w, err)
			return
		}
		now := time.Now().UTC()
		c := storage.Chat{
			ID:            uuid.NewString(),
			CharacterID:   req.CharacterID,
			UserPersonaID: req.UserPersonaID,
			Title:         req.Title,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := deps.Store.CreateChat(c); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, c)
	}
}

func handleListChats(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chats, err := deps.Store.ListChats()
		if err != nil {
			writeError(w, err)
			return
		}
		if chats == nil {
			chats = []storage.Chat{}
		}
		writeJSON(w, http.StatusOK, chats)
	}
}

func handleGetChat(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := deps.Store.GetChat(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

func handleDeleteChat(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.DeleteChat(chi.URLParam(r, "id")); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

type LLMConfigRequest struct {
	ConnectionID      string  `json:"connection_id"`
	Model             string  `json:"model"`
	Temperature       float64 `json:"temperature"`
	MaxOutputTokens   int     `json:"max_output_tokens"`
	MaxToolIterations int     `json:"max_tool_iterations"`
	ToolCallTimeoutMS int     `json:"tool_call_timeout_ms"`
}

func handleSetLLMConfig(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chatID := chi.URLParam(r, "id")
		if _, err := deps.Store.GetChat(chatID); err != nil {
			writeError(w, err)
			return
		}
		var req LLMConfigRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Model == "" {
			httpError(w, http.StatusBadRequest, fault.CodeValidation, "model is required")
			return
		}
		if _, err := deps.Store.GetConnection(req.ConnectionID); err != nil {
			writeError(w, err)
			return
		}
		cfg := storage.LLMConfig{
			ChatID:            chatID,
			ConnectionID:      req.ConnectionID,
			Model:             req.Model,
			Temperature:       req.Temperature,
			MaxOutputTokens:   req.MaxOutputTokens,
			MaxToolIterations: req.MaxToolIterations,
			ToolCallTimeout:   time.Duration(req.ToolCallTimeoutMS) * time.Millisecond,
		}
		if err := deps.Store.SetLLMConfig(cfg); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, cfg)
	}
}

func handleGetLLMConfig(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg, err := deps.Store.GetLLMConfig(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, cfg)
	}
}

func handleDeleteLLMConfig(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.DeleteLLMConfig(chi.URLParam(r, "id")); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

type HistoryConfigRequest struct {
	HistoryEnabled     bool `json:"history_enabled"`
	MessageLimit       int  `json:"message_limit"`
	LoreScanTokenLimit int  `json:"lore_scan_token_limit"`
}

func handleSetHistoryConfig(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chatID := chi.URLParam(r, "id")
		if _, err := deps.Store.GetChat(chatID); err != nil {
			writeError(w, err)
			return
		}
		var req HistoryConfigRequest
		if !decodeBody(w, r, &req) {
			return
		}
		cfg := storage.HistoryConfig{
			ChatID:             chatID,
			HistoryEnabled:     req.HistoryEnabled,
			MessageLimit:       req.MessageLimit,
			LoreScanTokenLimit: req.LoreScanTokenLimit,
		}
		if err := deps.Store.SetHistoryConfig(cfg); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, cfg)
	}
}

func handleGetHistoryConfig(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg, err := deps.Store.GetHistoryConfig(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, cfg)
	}
}

func handleDeleteHistoryConfig(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.DeleteHistoryConfig(chi.URLParam(r, "id")); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}
