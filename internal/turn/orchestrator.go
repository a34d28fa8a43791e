// Package turn runs the user-turn lifecycle: persist the user message,
// assemble the prompt, drive the completion/tool loop, and record the run
// outcome.
package turn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ostrauko/loreline/internal/events"
	"github.com/ostrauko/loreline/internal/fault"
	"github.com/ostrauko/loreline/internal/llm"
	"github.com/ostrauko/loreline/internal/prompt"
	"github.com/ostrauko/loreline/internal/storage"
	"github.com/ostrauko/loreline/internal/tools"
)

const (
	defaultMaxToolIterations = 5
	defaultToolCallTimeout   = 30 * time.Second
)

// Completer issues one chat completion against a provider connection.
type Completer interface {
	Complete(ctx context.Context, conn storage.LLMConnection, req llm.ChatRequest) (*llm.Completion, error)
}

// ToolCaller invokes one tool on a configured server.
type ToolCaller interface {
	CallTool(ctx context.Context, srv storage.MCPServer, tool string, args map[string]any) (string, error)
}

// Builder assembles the model input for a chat.
type Builder interface {
	Build(ctx context.Context, chatID string) (*prompt.Prompt, error)
}

// Orchestrator executes turns. At most one turn per chat is in flight;
// concurrent submissions for the same chat are rejected rather than queued.
type Orchestrator struct {
	store     *storage.Store
	assembler Builder
	completer Completer
	tools     ToolCaller
	bus       *events.Bus

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewOrchestrator wires an Orchestrator.
func NewOrchestrator(store *storage.Store, assembler Builder, completer Completer, toolCaller ToolCaller, bus *events.Bus) *Orchestrator {
	return &Orchestrator{
		store:     store,
		assembler: assembler,
		completer: completer,
		tools:     toolCaller,
		bus:       bus,
		inflight:  make(map[string]struct{}),
	}
}

// SubmitTurn runs one full turn for the chat and returns the final
// assistant message. The user message and run record are persisted before
// any provider traffic, so a failed turn still leaves an auditable trail.
func (o *Orchestrator) SubmitTurn(ctx context.Context, chatID, userText string) (*storage.Message, error) {
	if !o.acquire(chatID) {
		return nil, fault.Busy(chatID)
	}
	defer o.release(chatID)

	chat, err := o.store.GetChat(chatID)
	if err == storage.ErrNotFound {
		return nil, fault.NotFound(fault.CodeChatNotFound, "chat %s not found", chatID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading chat: %w", err)
	}

	userMsg, err := o.appendMessage(storage.Message{
		ChatID:  chatID,
		Role:    storage.RoleUser,
		Content: userText,
	})
	if err != nil {
		return nil, fmt.Errorf("persisting user message: %w", err)
	}

	run := storage.ChatRun{
		ID:            uuid.NewString(),
		ChatID:        chatID,
		UserMessageID: userMsg.ID,
		Status:        storage.RunStatusRunning,
		StartedAt:     time.Now().UTC(),
	}
	if err := o.store.CreateRun(run); err != nil {
		return nil, fmt.Errorf("creating run: %w", err)
	}
	o.publishRun(run.ID, chatID)

	msg, err := o.execute(ctx, chat, run)
	if err != nil {
		o.failRun(run.ID, chatID, err)
		return nil, err
	}
	if err := o.store.TouchChat(chatID); err != nil {
		slog.Warn("touching chat after turn", "chat_id", chatID, "error", err)
	}
	return msg, nil
}

// execute drives the completion/tool loop after the run record exists.
// Any error it returns fails the run.
func (o *Orchestrator) execute(ctx context.Context, chat storage.Chat, run storage.ChatRun) (*storage.Message, error) {
	cfg, err := o.store.GetLLMConfig(chat.ID)
	if err == storage.ErrNotFound {
		return nil, fault.NotFound(fault.CodeChatLLMConfigMissing, "chat %s has no model configuration", chat.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading model config: %w", err)
	}

	conn, err := o.store.GetConnection(cfg.ConnectionID)
	if err == storage.ErrNotFound {
		return nil, fault.NotFound(fault.CodeConnectionNotFound, "connection %s not found", cfg.ConnectionID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading connection: %w", err)
	}
	if !conn.Enabled {
		return nil, fault.Disabled(fault.CodeConnectionDisabled, "connection %s is disabled", conn.Name)
	}

	maxIter := cfg.MaxToolIterations
	if maxIter <= 0 {
		maxIter = defaultMaxToolIterations
	}
	callTimeout := cfg.ToolCallTimeout
	if callTimeout <= 0 {
		callTimeout = defaultToolCallTimeout
	}

	var usage storage.RunUsage
	for iter := 0; iter < maxIter; iter++ {
		p, err := o.assembler.Build(ctx, chat.ID)
		if err != nil {
			return nil, err
		}

		req := llm.ChatRequest{
			Model:     cfg.Model,
			Messages:  p.Messages,
			Tools:     p.Tools,
			MaxTokens: cfg.MaxOutputTokens,
		}
		if cfg.Temperature > 0 {
			t := cfg.Temperature
			req.Temperature = &t
		}

		completion, err := o.completer.Complete(ctx, conn, req)
		if err != nil {
			return nil, fault.External(err, "completion request failed")
		}
		if completion.Usage != nil {
			usage.PromptTokens += completion.Usage.PromptTokens
			usage.CompletionTokens += completion.Usage.CompletionTokens
			usage.TotalTokens += completion.Usage.TotalTokens
		}

		reply := completion.Message
		if len(reply.ToolCalls) == 0 {
			tokenCount := 0
			if completion.Usage != nil {
				tokenCount = completion.Usage.CompletionTokens
			}
			asst, err := o.appendMessage(storage.Message{
				ChatID:     chat.ID,
				Role:       storage.RoleAssistant,
				Content:    reply.Content,
				TokenCount: tokenCount,
				RunID:      run.ID,
			})
			if err != nil {
				return nil, fmt.Errorf("persisting assistant message: %w", err)
			}
			if err := o.store.CompleteRun(run.ID, asst.ID, &usage); err != nil {
				return nil, fmt.Errorf("completing run: %w", err)
			}
			o.publishRun(run.ID, chat.ID)
			return asst, nil
		}

		if err := o.runToolCalls(ctx, chat, run, reply, callTimeout); err != nil {
			return nil, err
		}
	}

	return nil, fault.IterationLimit(maxIter)
}

// runToolCalls persists the assistant's tool-call message, then executes
// each requested call in order, appending one tool-role message per call.
func (o *Orchestrator) runToolCalls(ctx context.Context, chat storage.Chat, run storage.ChatRun, reply llm.Message, callTimeout time.Duration) error {
	payload, err := json.Marshal(reply.ToolCalls)
	if err != nil {
		return fmt.Errorf("encoding tool calls: %w", err)
	}
	if _, err := o.appendMessage(storage.Message{
		ChatID:    chat.ID,
		Role:      storage.RoleAssistant,
		Content:   reply.Content,
		ToolCalls: string(payload),
		RunID:     run.ID,
	}); err != nil {
		return fmt.Errorf("persisting tool-call message: %w", err)
	}

	servers, err := o.store.ListCharacterServers(chat.CharacterID)
	if err != nil {
		return fmt.Errorf("loading character servers: %w", err)
	}

	for _, call := range reply.ToolCalls {
		result, err := o.executeCall(ctx, servers, call, callTimeout)
		if err != nil {
			return err
		}
		if _, err := o.appendMessage(storage.Message{
			ChatID:     chat.ID,
			Role:       storage.RoleTool,
			Content:    result,
			ToolCallID: call.ID,
			RunID:      run.ID,
		}); err != nil {
			return fmt.Errorf("persisting tool result: %w", err)
		}
	}
	return nil
}

// executeCall resolves the namespaced tool name and invokes it. Failures
// attributable to the call itself are returned as result text so the model
// can react; infrastructure failures abort the turn.
func (o *Orchestrator) executeCall(ctx context.Context, servers []storage.MCPServer, call llm.ToolCall, callTimeout time.Duration) (string, error) {
	srv, toolName, ok := resolveTool(servers, call.Function.Name)
	if !ok {
		return fmt.Sprintf("error: no tool named %q is available", call.Function.Name), nil
	}

	var args map[string]any
	if raw := strings.TrimSpace(call.Function.Arguments); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return fmt.Sprintf("error: malformed arguments for %s: %v", call.Function.Name, err), nil
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	result, err := o.tools.CallTool(callCtx, srv, toolName, args)
	if err != nil {
		var connErr *tools.ConnectError
		if errors.As(err, &connErr) {
			return "", fault.External(err, "tool server %s is unreachable", connErr.Server)
		}
		return fmt.Sprintf("error: %v", err), nil
	}
	return result, nil
}

// resolveTool matches a namespaced tool name against the character's
// enabled servers.
func resolveTool(servers []storage.MCPServer, name string) (storage.MCPServer, string, bool) {
	for _, srv := range servers {
		if !srv.Enabled {
			continue
		}
		prefix := srv.Name + prompt.ToolNameSep
		if strings.HasPrefix(name, prefix) {
			return srv, strings.TrimPrefix(name, prefix), true
		}
	}
	return storage.MCPServer{}, "", false
}

func (o *Orchestrator) appendMessage(m storage.Message) (*storage.Message, error) {
	m.ID = uuid.NewString()
	m.State = storage.MessageStateOK
	m.CreatedAt = time.Now().UTC()
	if err := o.store.AppendMessage(&m); err != nil {
		return nil, err
	}
	o.bus.Publish(events.Event{Type: events.TypeMessage, ChatID: m.ChatID, Message: &m})
	return &m, nil
}

// failRun marks the run failed with the error text. The run record may
// already be terminal if the failure raced completion; that is harmless.
func (o *Orchestrator) failRun(runID, chatID string, cause error) {
	if err := o.store.FailRun(runID, cause.Error()); err != nil && err != storage.ErrNotFound {
		slog.Error("marking run failed", "run_id", runID, "error", err)
	}
	o.publishRun(runID, chatID)
}

func (o *Orchestrator) publishRun(runID, chatID string) {
	run, err := o.store.GetRun(runID)
	if err != nil {
		slog.Warn("loading run for event", "run_id", runID, "error", err)
		return
	}
	o.bus.Publish(events.Event{Type: events.TypeRun, ChatID: chatID, Run: &run})
}

func (o *Orchestrator) acquire(chatID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inflight[chatID]; busy {
		return false
	}
	o.inflight[chatID] = struct{}{}
	return true
}

func (o *Orchestrator) release(chatID string) {
	o.mu.Lock()
	delete(o.inflight, chatID)
	o.mu.Unlock()
}
