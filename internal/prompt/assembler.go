// Package prompt assembles the message list and tool catalog sent to the
// model for one chat turn.
package prompt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ostrauko/loreline/internal/fault"
	"github.com/ostrauko/loreline/internal/llm"
	"github.com/ostrauko/loreline/internal/storage"
	"github.com/ostrauko/loreline/internal/token"
	"github.com/ostrauko/loreline/internal/tools"
)

const (
	// Defaults applied when a chat has no history config.
	defaultHistoryLimit   = 50
	defaultLoreScanTokens = 2048

	// Hard cap on lore entries injected per turn.
	maxLoreEntries = 8

	// Separator between a server's name and a tool's name in the catalog.
	// The orchestrator splits on this to route calls back.
	ToolNameSep = "__"
)

// ToolLister exposes tool discovery from the connection manager.
type ToolLister interface {
	ListTools(ctx context.Context, srv storage.MCPServer) ([]tools.ToolInfo, error)
}

// Prompt is the assembled model input.
type Prompt struct {
	Messages []llm.Message
	Tools    []llm.Tool
}

// Assembler builds prompts from persona text, the character's prompt stack,
// keyword-triggered lore, and a sliding history window. Token costs are
// counted with the tokenizer of each chat's configured model.
type Assembler struct {
	store    *storage.Store
	counters token.Source
	lister   ToolLister
}

// NewAssembler creates an Assembler.
func NewAssembler(store *storage.Store, counters token.Source, lister ToolLister) *Assembler {
	return &Assembler{store: store, counters: counters, lister: lister}
}

// Build produces the ordered message list and tool catalog for a chat.
func (a *Assembler) Build(ctx context.Context, chatID string) (*Prompt, error) {
	chat, err := a.store.GetChat(chatID)
	if err == storage.ErrNotFound {
		return nil, fault.NotFound(fault.CodeChatNotFound, "chat %s not found", chatID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading chat: %w", err)
	}

	char, err := a.store.GetCharacter(chat.CharacterID)
	if err == storage.ErrNotFound {
		return nil, fault.NotFound(fault.CodeCharacterNotFound, "character %s not found", chat.CharacterID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading character: %w", err)
	}

	persona, err := a.store.GetUserPersona(chat.UserPersonaID)
	if err == storage.ErrNotFound {
		return nil, fault.NotFound(fault.CodeUserPersonaNotFound, "user persona %s not found", chat.UserPersonaID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading user persona: %w", err)
	}

	tc := TemplateContext{CharacterName: char.Name, UserName: persona.Name}

	histCfg, err := a.store.GetHistoryConfig(chatID)
	if err == storage.ErrNotFound {
		histCfg = storage.HistoryConfig{
			ChatID:             chatID,
			HistoryEnabled:     true,
			MessageLimit:       defaultHistoryLimit,
			LoreScanTokenLimit: defaultLoreScanTokens,
		}
	} else if err != nil {
		return nil, fmt.Errorf("loading history config: %w", err)
	}

	history, err := a.store.ListMessages(chatID)
	if err != nil {
		return nil, fmt.Errorf("loading messages: %w", err)
	}

	// A chat without an LLM config never reaches completion, but lore
	// scanning still needs some counter; the empty model falls back.
	model := ""
	if llmCfg, err := a.store.GetLLMConfig(chatID); err == nil {
		model = llmCfg.Model
	} else if err != storage.ErrNotFound {
		return nil, fmt.Errorf("loading llm config: %w", err)
	}
	counter := a.counters(model)

	var msgs []llm.Message

	if text := strings.TrimSpace(Render(char.Persona, tc)); text != "" {
		msgs = append(msgs, llm.Message{Role: storage.RoleSystem, Content: text})
	}
	if text := strings.TrimSpace(Render(persona.Prompt, tc)); text != "" {
		msgs = append(msgs, llm.Message{Role: storage.RoleSystem, Content: text})
	}

	stack, err := a.store.ListStack(chat.CharacterID)
	if err != nil {
		return nil, fmt.Errorf("loading prompt stack: %w", err)
	}

	historyInjected := false
	for _, entry := range stack {
		if !entry.Enabled {
			continue
		}
		preset, err := a.store.GetPreset(entry.PresetID)
		if err == storage.ErrNotFound {
			return nil, fault.NotFound(fault.CodePresetNotFound, "preset %s not found", entry.PresetID)
		}
		if err != nil {
			return nil, fmt.Errorf("loading preset: %w", err)
		}

		switch preset.Kind {
		case storage.PresetStatic:
			if text := strings.TrimSpace(Render(preset.Content, tc)); text != "" {
				msgs = append(msgs, llm.Message{Role: entry.Role, Content: text})
			}
		case storage.PresetLorebook:
			loreMsg, ok, err := a.loreMessage(preset.LorebookID, entry.Role, history, histCfg.LoreScanTokenLimit, counter)
			if err != nil {
				return nil, err
			}
			if ok {
				msgs = append(msgs, loreMsg)
			}
		case storage.PresetHistory:
			// History is injected at most once even if the stack lists it
			// repeatedly.
			if !historyInjected {
				msgs = append(msgs, historyMessages(history, histCfg)...)
				historyInjected = true
			}
		case storage.PresetToolCatalog:
			// Placeholder only; catalog gating is evaluated over the whole
			// stack below.
		}
	}

	// Absence of an explicit history placeholder does not suppress history,
	// it only changes its position.
	if !historyInjected {
		msgs = append(msgs, historyMessages(history, histCfg)...)
	}

	catalog, err := a.toolCatalog(ctx, chat.CharacterID, stack)
	if err != nil {
		return nil, err
	}

	return &Prompt{Messages: msgs, Tools: catalog}, nil
}

// loreMessage runs the lore-injection scan for one lorebook reference and
// returns the combined message, or ok=false when no entry matched.
func (a *Assembler) loreMessage(lorebookID, role string, history []storage.Message, budget int, counter token.Counter) (llm.Message, bool, error) {
	if budget <= 0 {
		budget = defaultLoreScanTokens
	}

	scanned := scanTexts(history, budget, counter)

	entries, err := a.store.ListLorebookEntries(lorebookID)
	if err != nil {
		return llm.Message{}, false, fmt.Errorf("loading lorebook %s: %w", lorebookID, err)
	}

	var included []string
	for _, entry := range entries {
		if !entry.Enabled {
			continue
		}
		if matchesAny(entry.Keywords, scanned) {
			included = append(included, entry.Content)
			if len(included) == maxLoreEntries {
				break
			}
		}
	}

	if len(included) == 0 {
		return llm.Message{}, false, nil
	}
	return llm.Message{Role: role, Content: strings.Join(included, "\n\n")}, true, nil
}

// scanTexts walks chat history newest-to-oldest, skipping non-ok messages
// and roles other than user/assistant, lowercasing each candidate. The most
// recent eligible message is always admitted even if it alone exceeds the
// budget; after that the scan stops before any message that would overflow.
// The result is in chronological order.
func scanTexts(history []storage.Message, budget int, counter token.Counter) []string {
	var texts []string
	used := 0
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		if m.State != storage.MessageStateOK {
			continue
		}
		if m.Role != storage.RoleUser && m.Role != storage.RoleAssistant {
			continue
		}
		cost := counter.Count(m.Content)
		if len(texts) > 0 && used+cost > budget {
			break
		}
		texts = append(texts, strings.ToLower(m.Content))
		used += cost
	}
	// Reverse back to chronological order.
	for i, j := 0, len(texts)-1; i < j; i, j = i+1, j-1 {
		texts[i], texts[j] = texts[j], texts[i]
	}
	return texts
}

// matchesAny reports whether any trimmed, lowercased keyword appears as a
// substring of any scanned text.
func matchesAny(keywords, scanned []string) bool {
	for _, kw := range keywords {
		k := strings.ToLower(strings.TrimSpace(kw))
		if k == "" {
			continue
		}
		for _, text := range scanned {
			if strings.Contains(text, k) {
				return true
			}
		}
	}
	return false
}

// historyMessages selects the history window and converts it to wire
// messages, forwarding tool-call payloads verbatim so multi-step tool
// exchanges remain coherent across turns.
func historyMessages(history []storage.Message, cfg storage.HistoryConfig) []llm.Message {
	var eligible []storage.Message
	for _, m := range history {
		if m.State == storage.MessageStateOK {
			eligible = append(eligible, m)
		}
	}

	limit := cfg.MessageLimit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if !cfg.HistoryEnabled {
		// History off: only the single most recent message goes out.
		limit = 1
	}
	if len(eligible) > limit {
		eligible = eligible[len(eligible)-limit:]
	}

	msgs := make([]llm.Message, 0, len(eligible))
	for _, m := range eligible {
		out := llm.Message{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		if m.ToolCalls != "" {
			var calls []llm.ToolCall
			if err := json.Unmarshal([]byte(m.ToolCalls), &calls); err != nil {
				slog.Warn("skipping malformed tool-call payload", "message_id", m.ID, "error", err)
			} else {
				out.ToolCalls = calls
			}
		}
		msgs = append(msgs, out)
	}
	return msgs
}

// toolCatalog builds the tool list for the character. With no tool-catalog
// entry in the stack every enabled server is offered; with at least one,
// the catalog is included only when one of those entries is enabled, which
// lets an operator suppress tools explicitly.
func (a *Assembler) toolCatalog(ctx context.Context, characterID string, stack []storage.PromptStackEntry) ([]llm.Tool, error) {
	include := true
	sawCatalogEntry := false
	for _, entry := range stack {
		preset, err := a.store.GetPreset(entry.PresetID)
		if err == storage.ErrNotFound {
			return nil, fault.NotFound(fault.CodePresetNotFound, "preset %s not found", entry.PresetID)
		}
		if err != nil {
			return nil, fmt.Errorf("loading preset: %w", err)
		}
		if preset.Kind != storage.PresetToolCatalog {
			continue
		}
		if !sawCatalogEntry {
			sawCatalogEntry = true
			include = false
		}
		if entry.Enabled {
			include = true
		}
	}
	if !include {
		return nil, nil
	}

	servers, err := a.store.ListCharacterServers(characterID)
	if err != nil {
		return nil, fmt.Errorf("loading character servers: %w", err)
	}

	var catalog []llm.Tool
	for _, srv := range servers {
		if !srv.Enabled {
			continue
		}
		infos, err := a.lister.ListTools(ctx, srv)
		if err != nil {
			// A down server should not blank the whole catalog; it is
			// reported via probe and the call path instead.
			slog.Warn("skipping tool server in catalog", "server", srv.Name, "error", err)
			continue
		}
		for _, info := range infos {
			catalog = append(catalog, llm.Tool{
				Type: "function",
				Function: llm.Function{
					Name:        srv.Name + ToolNameSep + info.Name,
					Description: info.Description,
					Parameters:  json.RawMessage(info.InputSchema),
				},
			})
		}
	}
	return catalog, nil
}
