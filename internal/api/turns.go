package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ostrauko/loreline/internal/events"
	"github.com/ostrauko/loreline/internal/fault"
	"github.com/ostrauko/loreline/internal/storage"
)

// eventBufferSize bounds per-subscriber backlog. The bus requires listeners
// not to block, so a subscriber that falls this far behind loses events.
const eventBufferSize = 64

type SubmitTurnRequest struct {
	Content string `json:"content"`
}

func handleSubmitTurn(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chatID := chi.URLParam(r, "id")

		var req SubmitTurnRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Content) == "" {
			httpError(w, http.StatusBadRequest, fault.CodeValidation, "content is required")
			return
		}

		msg, err := deps.Orchestrator.SubmitTurn(r.Context(), chatID, req.Content)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, msg)
	}
}

func handleListMessages(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chatID := chi.URLParam(r, "id")
		if _, err := deps.Store.GetChat(chatID); err != nil {
			writeError(w, err)
			return
		}
		msgs, err := deps.Store.ListMessages(chatID)
		if err != nil {
			writeError(w, err)
			return
		}
		if msgs == nil {
			msgs = []storage.Message{}
		}
		writeJSON(w, http.StatusOK, msgs)
	}
}

type SetMessageStateRequest struct {
	State string `json:"state"`
}

func handleSetMessageState(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		messageID := chi.URLParam(r, "messageID")

		var req SetMessageStateRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.State != storage.MessageStateOK && req.State != storage.MessageStateHidden {
			httpError(w, http.StatusBadRequest, fault.CodeValidation, "state must be %q or %q", storage.MessageStateOK, storage.MessageStateHidden)
			return
		}
		if err := deps.Store.SetMessageState(messageID, req.State); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
	}
}

func handleListRuns(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chatID := chi.URLParam(r, "id")
		if _, err := deps.Store.GetChat(chatID); err != nil {
			writeError(w, err)
			return
		}
		runs, err := deps.Store.ListRuns(chatID)
		if err != nil {
			writeError(w, err)
			return
		}
		if runs == nil {
			runs = []storage.ChatRun{}
		}
		writeJSON(w, http.StatusOK, runs)
	}
}

// handleChatEvents streams message and run events for one chat as
// server-sent events until the client disconnects.
func handleChatEvents(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chatID := chi.URLParam(r, "id")
		if _, err := deps.Store.GetChat(chatID); err != nil {
			writeError(w, err)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			httpError(w, http.StatusInternalServerError, fault.CodeInternal, "streaming unsupported")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		ch := make(chan events.Event, eventBufferSize)
		unsubscribe := deps.Bus.Subscribe(chatID, func(ev events.Event) {
			select {
			case ch <- ev:
			default: // slow consumer, drop
			}
		})
		defer unsubscribe()

		for {
			select {
			case <-r.Context().Done():
				return
			case ev := <-ch:
				data, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
				flusher.Flush()
			}
		}
	}
}
