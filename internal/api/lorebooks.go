package api

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"

	"github.com/ostrauko/loreline/internal/fault"
	"github.com/ostrauko/loreline/internal/storage"
)

const maxImportBodySize = 10 << 20 // 10MB

type LorebookRequest struct {
	Name string `json:"name"`
}

func handleCreateLorebook(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LorebookRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Name) == "" {
			httpError(w, http.StatusBadRequest, fault.CodeValidation, "name is required")
			return
		}
		l := storage.Lorebook{
			ID:        uuid.NewString(),
			Name:      req.Name,
			CreatedAt: time.Now().UTC(),
		}
		if err := deps.Store.CreateLorebook(l); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, l)
	}
}

func handleListLorebooks(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		books, err := deps.Store.ListLorebooks()
		if err != nil {
			writeError(w, err)
			return
		}
		if books == nil {
			books = []storage.Lorebook{}
		}
		writeJSON(w, http.StatusOK, books)
	}
}

func handleGetLorebook(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		l, err := deps.Store.GetLorebook(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, l)
	}
}

func handleDeleteLorebook(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.DeleteLorebook(chi.URLParam(r, "id")); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleListLorebookEntries(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := deps.Store.GetLorebook(id); err != nil {
			writeError(w, err)
			return
		}
		entries, err := deps.Store.ListLorebookEntries(id)
		if err != nil {
			writeError(w, err)
			return
		}
		if entries == nil {
			entries = []storage.LorebookEntry{}
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

type LorebookEntryRequest struct {
	Keywords []string `json:"keywords"`
	Content  string   `json:"content"`
	Enabled  *bool    `json:"enabled"`
}

func handleAddLorebookEntry(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := deps.Store.GetLorebook(id); err != nil {
			writeError(w, err)
			return
		}
		var req LorebookEntryRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if len(req.Keywords) == 0 {
			httpError(w, http.StatusBadRequest, fault.CodeValidation, "at least one keyword is required")
			return
		}
		if strings.TrimSpace(req.Content) == "" {
			httpError(w, http.StatusBadRequest, fault.CodeValidation, "content is required")
			return
		}
		enabled := true
		if req.Enabled != nil {
			enabled = *req.Enabled
		}
		e := storage.LorebookEntry{
			ID:         uuid.NewString(),
			LorebookID: id,
			Keywords:   req.Keywords,
			Content:    req.Content,
			Enabled:    enabled,
		}
		if err := deps.Store.AddLorebookEntry(e); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, e)
	}
}

func handleUpdateLorebookEntry(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entryID := chi.URLParam(r, "entryID")

		var req LorebookEntryRequest
		if !decodeBody(w, r, &req) {
			return
		}
		e := storage.LorebookEntry{
			ID:       entryID,
			Keywords: req.Keywords,
			Content:  req.Content,
			Enabled:  req.Enabled == nil || *req.Enabled,
		}
		if err := deps.Store.UpdateLorebookEntry(e); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
	}
}

func handleDeleteLorebookEntry(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.DeleteLorebookEntry(chi.URLParam(r, "entryID")); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

type ImportRequest struct {
	Content  string   `json:"content"`
	Keywords []string `json:"keywords"` // applied to every imported entry
}

// handleImportLorebook bulk-creates entries from a document. The body is
// split on blank lines; each paragraph becomes one entry with the shared
// keyword list. PDF bodies are sent as multipart file uploads.
func handleImportLorebook(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := deps.Store.GetLorebook(id); err != nil {
			writeError(w, err)
			return
		}

		var text string
		var keywords []string
		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			r.Body = http.MaxBytesReader(w, r.Body, maxImportBodySize)
			file, header, err := r.FormFile("file")
			if err != nil {
				httpError(w, http.StatusBadRequest, fault.CodeValidation, "missing file upload: %v", err)
				return
			}
			defer file.Close()

			data, err := io.ReadAll(file)
			if err != nil {
				httpError(w, http.StatusBadRequest, fault.CodeValidation, "reading upload: %v", err)
				return
			}
			if strings.HasSuffix(strings.ToLower(header.Filename), ".pdf") {
				text, err = extractPDFText(data)
				if err != nil {
					httpError(w, http.StatusBadRequest, fault.CodeValidation, "parsing pdf: %v", err)
					return
				}
			} else {
				text = string(data)
			}
			if kw := r.FormValue("keywords"); kw != "" {
				keywords = splitKeywords(kw)
			}
		} else {
			var req ImportRequest
			if !decodeBody(w, r, &req) {
				return
			}
			text = req.Content
			keywords = req.Keywords
		}

		if strings.TrimSpace(text) == "" {
			httpError(w, http.StatusBadRequest, fault.CodeValidation, "document is empty")
			return
		}

		created := 0
		for _, para := range splitParagraphs(text) {
			kw := keywords
			if len(kw) == 0 {
				kw = headlineKeywords(para)
			}
			e := storage.LorebookEntry{
				ID:         uuid.NewString(),
				LorebookID: id,
				Keywords:   kw,
				Content:    para,
				Enabled:    true,
			}
			if err := deps.Store.AddLorebookEntry(e); err != nil {
				writeError(w, err)
				return
			}
			created++
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "imported", "entries": created})
	}
}

func extractPDFText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func splitParagraphs(text string) []string {
	var out []string
	for _, block := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		if p := strings.TrimSpace(block); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func splitKeywords(s string) []string {
	var out []string
	for _, kw := range strings.Split(s, ",") {
		if k := strings.TrimSpace(kw); k != "" {
			out = append(out, k)
		}
	}
	return out
}

// headlineKeywords derives a fallback keyword list from the paragraph's
// first few words so imported entries are matchable without manual tagging.
func headlineKeywords(para string) []string {
	words := strings.Fields(para)
	if len(words) > 3 {
		words = words[:3]
	}
	var out []string
	for _, word := range words {
		w := strings.Trim(strings.ToLower(word), ".,:;!?\"'()")
		if len(w) >= 3 {
			out = append(out, w)
		}
	}
	if len(out) == 0 {
		out = []string{strings.ToLower(strings.Join(words, " "))}
	}
	return out
}
