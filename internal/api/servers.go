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

type ServerRequest struct {
	Name    string   `json:"name"`
	Command string   `json:"command"`
	Args    []string `json:"args"`
	Env     []string `json:"env"`
	Enabled *bool    `json:"enabled"`
}

func handleCreateServer(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ServerRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Command) == "" {
			httpError(w, http.StatusBadRequest, fault.CodeValidation, "name and command are required")
			return
		}
		enabled := true
		if req.Enabled != nil {
			enabled = *req.Enabled
		}
		srv := storage.MCPServer{
			ID:        uuid.NewString(),
			Name:      req.Name,
			Command:   req.Command,
			Args:      req.Args,
			Env:       req.Env,
			Enabled:   enabled,
			CreatedAt: time.Now().UTC(),
		}
		if err := deps.Store.CreateServer(srv); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, srv)
	}
}

func handleListServers(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		servers, err := deps.Store.ListServers()
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

func handleGetServer(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		srv, err := deps.Store.GetServer(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, srv)
	}
}

func handleUpdateServer(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		srv, err := deps.Store.GetServer(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		var req ServerRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Name != "" {
			srv.Name = req.Name
		}
		if req.Command != "" {
			srv.Command = req.Command
		}
		srv.Args = req.Args
		srv.Env = req.Env
		if req.Enabled != nil {
			srv.Enabled = *req.Enabled
		}
		if err := deps.Store.UpdateServer(srv); err != nil {
			writeError(w, err)
			return
		}
		// The old subprocess may be running a stale command line.
		deps.Tools.Reset(srv.ID)
		writeJSON(w, http.StatusOK, srv)
	}
}

func handleDeleteServer(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := deps.Store.DeleteServer(id); err != nil {
			writeError(w, err)
			return
		}
		deps.Tools.Reset(id)
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleProbeServer(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		srv, err := deps.Store.GetServer(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		reconnect := r.URL.Query().Get("reconnect") == "true"
		res := deps.Tools.Probe(r.Context(), srv, reconnect)
		writeJSON(w, http.StatusOK, res)
	}
}

type ConnectionRequest struct {
	Name    string `json:"name"`
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`
	Enabled *bool  `json:"enabled"`
}

func handleCreateConnection(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ConnectionRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.BaseURL) == "" {
			httpError(w, http.StatusBadRequest, fault.CodeValidation, "name and base_url are required")
			return
		}
		enabled := true
		if req.Enabled != nil {
			enabled = *req.Enabled
		}
		conn := storage.LLMConnection{
			ID:        uuid.NewString(),
			Name:      req.Name,
			BaseURL:   req.BaseURL,
			APIKey:    req.APIKey,
			Enabled:   enabled,
			CreatedAt: time.Now().UTC(),
		}
		if err := deps.Store.CreateConnection(conn); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, redactConnection(conn))
	}
}

func handleListConnections(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conns, err := deps.Store.ListConnections()
		if err != nil {
			writeError(w, err)
			return
		}
		out := make([]storage.LLMConnection, 0, len(conns))
		for _, c := range conns {
			out = append(out, redactConnection(c))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleGetConnection(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := deps.Store.GetConnection(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, redactConnection(conn))
	}
}

func handleUpdateConnection(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := deps.Store.GetConnection(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		var req ConnectionRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Name != "" {
			conn.Name = req.Name
		}
		if req.BaseURL != "" {
			conn.BaseURL = req.BaseURL
		}
		if req.APIKey != "" {
			conn.APIKey = req.APIKey
		}
		if req.Enabled != nil {
			conn.Enabled = *req.Enabled
		}
		if err := deps.Store.UpdateConnection(conn); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, redactConnection(conn))
	}
}

func handleDeleteConnection(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.DeleteConnection(chi.URLParam(r, "id")); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

// redactConnection blanks the API key; secrets never leave the server.
func redactConnection(c storage.LLMConnection) storage.LLMConnection {
	if c.APIKey != "" {
		c.APIKey = "********"
	}
	return c
}
