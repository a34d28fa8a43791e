package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ostrauko/loreline/internal/fault"
	"github.com/ostrauko/loreline/internal/storage"
)

type CharacterRequest struct {
	Name    string `json:"name"`
	Persona string `json:"persona"`
}

func handleCreateCharacter(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CharacterRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Name) == "" {
			httpError(w, http.StatusBadRequest, fault.CodeValidation, "name is required")
			return
		}
		c := storage.Character{
			ID:        uuid.NewString(),
			Name:      req.Name,
			Persona:   req.Persona,
			CreatedAt: time.Now().UTC(),
		}
		if err := deps.Store.CreateCharacter(c); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, c)
	}
}

func handleListCharacters(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chars, err := deps.Store.ListCharacters()
		if err != nil {
			writeError(w, err)
			return
		}
		if chars == nil {
			chars = []storage.Character{}
		}
		writeJSON(w, http.StatusOK, chars)
	}
}

func handleGetCharacter(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := deps.Store.GetCharacter(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

func handleUpdateCharacter(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		c, err := deps.Store.GetCharacter(id)
		if err != nil {
			writeError(w, err)
			return
		}
		var req CharacterRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Name != "" {
			c.Name = req.Name
		}
		c.Persona = req.Persona
		if err := deps.Store.UpdateCharacter(c); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

func handleDeleteCharacter(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.DeleteCharacter(chi.URLParam(r, "id")); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleListCharacterServers(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := deps.Store.GetCharacter(id); err != nil {
			writeError(w, err)
			return
		}
		servers, err := deps.Store.ListCharacterServers(id)
		if err != nil {
			writeError(w, err)
			return
		}
		if servers == nil {
			servers = []storage.MCPServer{}
		}
		writeJSON(w, http.StatusOK, servers)
	}
}

func handleAttachServer(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		characterID := chi.URLParam(r, "id")
		serverID := chi.URLParam(r, "serverID")
		if _, err := deps.Store.GetCharacter(characterID); err != nil {
			writeError(w, err)
			return
		}
		if _, err := deps.Store.GetServer(serverID); err != nil {
			writeError(w, err)
			return
		}
		if err := deps.Store.AttachServer(characterID, serverID); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "attached"})
	}
}

func handleDetachServer(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.DetachServer(chi.URLParam(r, "id"), chi.URLParam(r, "serverID")); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "detached"})
	}
}

type PersonaRequest struct {
	Name   string `json:"name"`
	Prompt string `json:"prompt"`
}

func handleCreatePersona(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PersonaRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Name) == "" {
			httpError(w, http.StatusBadRequest, fault.CodeValidation, "name is required")
			return
		}
		p := storage.UserPersona{
			ID:        uuid.NewString(),
			Name:      req.Name,
			Prompt:    req.Prompt,
			CreatedAt: time.Now().UTC(),
		}
		if err := deps.Store.CreateUserPersona(p); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, p)
	}
}

func handleListPersonas(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		personas, err := deps.Store.ListUserPersonas()
		if err != nil {
			writeError(w, err)
			return
		}
		if personas == nil {
			personas = []storage.UserPersona{}
		}
		writeJSON(w, http.StatusOK, personas)
	}
}

func handleGetPersona(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Store.GetUserPersona(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func handleUpdatePersona(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Store.GetUserPersona(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		var req PersonaRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Name != "" {
			p.Name = req.Name
		}
		p.Prompt = req.Prompt
		if err := deps.Store.UpdateUserPersona(p); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func handleDeletePersona(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.DeleteUserPersona(chi.URLParam(r, "id")); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}
