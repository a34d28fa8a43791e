package turn

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ostrauko/loreline/internal/events"
	"github.com/ostrauko/loreline/internal/fault"
	"github.com/ostrauko/loreline/internal/llm"
	"github.com/ostrauko/loreline/internal/prompt"
	"github.com/ostrauko/loreline/internal/storage"
	"github.com/ostrauko/loreline/internal/token"
	"github.com/ostrauko/loreline/internal/tools"
)

// scriptedCompleter returns queued completions in order, repeating the last
// one once the script is exhausted.
type scriptedCompleter struct {
	mu      sync.Mutex
	script  []llm.Completion
	calls   int
	blockCh chan struct{} // when set, Complete waits before answering
}

func (s *scriptedCompleter) Complete(ctx context.Context, conn storage.LLMConnection, req llm.ChatRequest) (*llm.Completion, error) {
	if s.blockCh != nil {
		<-s.blockCh
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i >= len(s.script) {
		i = len(s.script) - 1
	}
	c := s.script[i]
	return &c, nil
}

func (s *scriptedCompleter) completions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type failingCompleter struct{ err error }

func (f *failingCompleter) Complete(ctx context.Context, conn storage.LLMConnection, req llm.ChatRequest) (*llm.Completion, error) {
	return nil, f.err
}

type fakeCaller struct {
	mu     sync.Mutex
	result string
	err    error
	calls  []string // tool names as received
}

func (f *fakeCaller) CallTool(ctx context.Context, srv storage.MCPServer, tool string, args map[string]any) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, tool)
	f.mu.Unlock()
	return f.result, f.err
}

type noTools struct{}

func (noTools) ListTools(ctx context.Context, srv storage.MCPServer) ([]tools.ToolInfo, error) {
	return nil, nil
}

type fixture struct {
	store       *storage.Store
	bus         *events.Bus
	chatID      string
	characterID string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	charID := uuid.NewString()
	personaID := uuid.NewString()
	chatID := uuid.NewString()
	connID := uuid.NewString()

	if err := store.CreateCharacter(storage.Character{ID: charID, Name: "Mira", Persona: "persona"}); err != nil {
		t.Fatalf("creating character: %v", err)
	}
	if err := store.CreateUserPersona(storage.UserPersona{ID: personaID, Name: "Ann"}); err != nil {
		t.Fatalf("creating persona: %v", err)
	}
	if err := store.CreateChat(storage.Chat{ID: chatID, CharacterID: charID, UserPersonaID: personaID}); err != nil {
		t.Fatalf("creating chat: %v", err)
	}
	if err := store.CreateConnection(storage.LLMConnection{ID: connID, Name: "local", BaseURL: "http://localhost", Enabled: true}); err != nil {
		t.Fatalf("creating connection: %v", err)
	}
	if err := store.SetLLMConfig(storage.LLMConfig{ChatID: chatID, ConnectionID: connID, Model: "test-model"}); err != nil {
		t.Fatalf("setting llm config: %v", err)
	}
	return &fixture{store: store, bus: events.NewBus(), chatID: chatID, characterID: charID}
}

func (f *fixture) orchestrator(completer Completer, caller ToolCaller) *Orchestrator {
	assembler := prompt.NewAssembler(f.store, func(string) token.Counter { return token.Heuristic() }, noTools{})
	if caller == nil {
		caller = &fakeCaller{}
	}
	return NewOrchestrator(f.store, assembler, completer, caller, f.bus)
}

func (f *fixture) attachServer(t *testing.T, name string) {
	t.Helper()
	srv := storage.MCPServer{ID: uuid.NewString(), Name: name, Command: "srv", Enabled: true}
	if err := f.store.CreateServer(srv); err != nil {
		t.Fatalf("creating server: %v", err)
	}
	if err := f.store.AttachServer(f.characterID, srv.ID); err != nil {
		t.Fatalf("attaching server: %v", err)
	}
}

func textCompletion(text string) llm.Completion {
	return llm.Completion{
		Message: llm.Message{Role: storage.RoleAssistant, Content: text},
		Usage:   &llm.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}
}

func toolCompletion(toolName, callID string) llm.Completion {
	return llm.Completion{
		Message: llm.Message{
			Role: storage.RoleAssistant,
			ToolCalls: []llm.ToolCall{{
				ID:       callID,
				Type:     "function",
				Function: llm.FunctionCall{Name: toolName, Arguments: `{"q":"maps"}`},
			}},
		},
		Usage: &llm.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}
}

func TestSubmitTurnCompletesRun(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(&scriptedCompleter{script: []llm.Completion{textCompletion("hello there")}}, nil)

	msg, err := o.SubmitTurn(context.Background(), f.chatID, "hi")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if msg.Content != "hello there" {
		t.Errorf("assistant content = %q", msg.Content)
	}
	if msg.TokenCount != 5 {
		t.Errorf("token count = %d, want 5", msg.TokenCount)
	}

	runs, err := f.store.ListRuns(f.chatID)
	if err != nil {
		t.Fatalf("listing runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(runs))
	}
	run := runs[0]
	if run.Status != storage.RunStatusCompleted {
		t.Errorf("run status = %q", run.Status)
	}
	if run.AssistantMessageID != msg.ID {
		t.Errorf("assistant message id = %q, want %q", run.AssistantMessageID, msg.ID)
	}
	if run.FinishedAt.IsZero() {
		t.Error("finished_at not set")
	}
	if run.Usage == nil || run.Usage.TotalTokens != 15 {
		t.Errorf("usage = %+v", run.Usage)
	}
}

func TestSubmitTurnRejectsConcurrent(t *testing.T) {
	f := newFixture(t)
	block := make(chan struct{})
	completer := &scriptedCompleter{script: []llm.Completion{textCompletion("ok")}, blockCh: block}
	o := f.orchestrator(completer, nil)

	firstDone := make(chan error, 1)
	go func() {
		_, err := o.SubmitTurn(context.Background(), f.chatID, "first")
		firstDone <- err
	}()

	// Wait until the first turn holds the chat lock.
	deadline := time.After(time.Second)
	for {
		o.mu.Lock()
		_, busy := o.inflight[f.chatID]
		o.mu.Unlock()
		if busy {
			break
		}
		select {
		case <-deadline:
			t.Fatal("first turn never acquired the chat")
		case <-time.After(time.Millisecond):
		}
	}

	_, err := o.SubmitTurn(context.Background(), f.chatID, "second")
	fe, ok := fault.As(err)
	if !ok || fe.Code != fault.CodeChatBusy {
		t.Fatalf("expected CHAT_BUSY, got %v", err)
	}

	close(block)
	if err := <-firstDone; err != nil {
		t.Fatalf("first turn failed: %v", err)
	}

	// The lock is released; another turn may run.
	if _, err := o.SubmitTurn(context.Background(), f.chatID, "third"); err != nil {
		t.Fatalf("turn after release: %v", err)
	}
}

func TestSubmitTurnReleasesLockOnFailure(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(&failingCompleter{err: errors.New("provider down")}, nil)

	if _, err := o.SubmitTurn(context.Background(), f.chatID, "hi"); err == nil {
		t.Fatal("expected failure")
	}

	o.mu.Lock()
	_, busy := o.inflight[f.chatID]
	o.mu.Unlock()
	if busy {
		t.Error("chat lock still held after failed turn")
	}
}

func TestSubmitTurnToolLoop(t *testing.T) {
	f := newFixture(t)
	f.attachServer(t, "search")
	caller := &fakeCaller{result: "found 3 maps"}
	completer := &scriptedCompleter{script: []llm.Completion{
		toolCompletion("search__lookup", "call-1"),
		textCompletion("here are your maps"),
	}}
	o := f.orchestrator(completer, caller)

	msg, err := o.SubmitTurn(context.Background(), f.chatID, "find maps")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if msg.Content != "here are your maps" {
		t.Errorf("final content = %q", msg.Content)
	}
	if len(caller.calls) != 1 || caller.calls[0] != "lookup" {
		t.Errorf("tool calls = %v, want [lookup]", caller.calls)
	}

	msgs, err := f.store.ListMessages(f.chatID)
	if err != nil {
		t.Fatalf("listing messages: %v", err)
	}
	// user, assistant tool-call, tool result, final assistant.
	if len(msgs) != 4 {
		t.Fatalf("got %d messages, want 4", len(msgs))
	}
	if msgs[1].Role != storage.RoleAssistant || msgs[1].ToolCalls == "" {
		t.Errorf("messages[1] = role %q, tool_calls %q", msgs[1].Role, msgs[1].ToolCalls)
	}
	if msgs[2].Role != storage.RoleTool || msgs[2].ToolCallID != "call-1" {
		t.Errorf("messages[2] = role %q, tool_call_id %q", msgs[2].Role, msgs[2].ToolCallID)
	}
	if msgs[2].Content != "found 3 maps" {
		t.Errorf("tool result = %q", msgs[2].Content)
	}
}

func TestSubmitTurnIterationLimit(t *testing.T) {
	f := newFixture(t)
	f.attachServer(t, "search")
	if err := f.store.SetLLMConfig(storage.LLMConfig{
		ChatID:            f.chatID,
		ConnectionID:      currentConnectionID(t, f),
		Model:             "test-model",
		MaxToolIterations: 1,
	}); err != nil {
		t.Fatalf("setting llm config: %v", err)
	}
	completer := &scriptedCompleter{script: []llm.Completion{toolCompletion("search__lookup", "call-1")}}
	o := f.orchestrator(completer, &fakeCaller{result: "partial"})

	_, err := o.SubmitTurn(context.Background(), f.chatID, "loop forever")
	fe, ok := fault.As(err)
	if !ok || fe.Code != fault.CodeIterationLimit {
		t.Fatalf("expected TOOL_ITERATION_LIMIT, got %v", err)
	}
	if completer.completions() != 1 {
		t.Errorf("completions = %d, want 1", completer.completions())
	}

	runs, _ := f.store.ListRuns(f.chatID)
	if len(runs) != 1 || runs[0].Status != storage.RunStatusFailed {
		t.Fatalf("run not marked failed: %+v", runs)
	}
	if !strings.Contains(runs[0].Error, "1 iterations") {
		t.Errorf("run error = %q", runs[0].Error)
	}
}

func TestSubmitTurnUnresolvableToolBecomesToolMessage(t *testing.T) {
	f := newFixture(t)
	completer := &scriptedCompleter{script: []llm.Completion{
		toolCompletion("ghost__lookup", "call-1"),
		textCompletion("never mind"),
	}}
	caller := &fakeCaller{}
	o := f.orchestrator(completer, caller)

	if _, err := o.SubmitTurn(context.Background(), f.chatID, "hi"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(caller.calls) != 0 {
		t.Errorf("caller invoked for unresolvable tool: %v", caller.calls)
	}

	msgs, _ := f.store.ListMessages(f.chatID)
	var toolMsg *storage.Message
	for i := range msgs {
		if msgs[i].Role == storage.RoleTool {
			toolMsg = &msgs[i]
		}
	}
	if toolMsg == nil {
		t.Fatal("no tool message recorded")
	}
	if !strings.Contains(toolMsg.Content, "no tool named") {
		t.Errorf("tool message = %q", toolMsg.Content)
	}
	if toolMsg.ToolCallID != "call-1" {
		t.Errorf("tool_call_id = %q", toolMsg.ToolCallID)
	}
}

func TestSubmitTurnCallErrorBecomesToolMessage(t *testing.T) {
	f := newFixture(t)
	f.attachServer(t, "search")
	completer := &scriptedCompleter{script: []llm.Completion{
		toolCompletion("search__lookup", "call-1"),
		textCompletion("the tool failed, sorry"),
	}}
	caller := &fakeCaller{err: &tools.CallError{Server: "search", Tool: "lookup", Err: errors.New("boom")}}
	o := f.orchestrator(completer, caller)

	if _, err := o.SubmitTurn(context.Background(), f.chatID, "hi"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	msgs, _ := f.store.ListMessages(f.chatID)
	var toolMsg string
	for _, m := range msgs {
		if m.Role == storage.RoleTool {
			toolMsg = m.Content
		}
	}
	if !strings.HasPrefix(toolMsg, "error:") || !strings.Contains(toolMsg, "boom") {
		t.Errorf("tool message = %q", toolMsg)
	}
}

func TestSubmitTurnConnectErrorAbortsTurn(t *testing.T) {
	f := newFixture(t)
	f.attachServer(t, "search")
	completer := &scriptedCompleter{script: []llm.Completion{toolCompletion("search__lookup", "call-1")}}
	caller := &fakeCaller{err: &tools.ConnectError{Server: "search", Err: errors.New("spawn failed")}}
	o := f.orchestrator(completer, caller)

	_, err := o.SubmitTurn(context.Background(), f.chatID, "hi")
	fe, ok := fault.As(err)
	if !ok || fe.Code != fault.CodeExternalFailure {
		t.Fatalf("expected EXTERNAL_FAILURE, got %v", err)
	}

	runs, _ := f.store.ListRuns(f.chatID)
	if len(runs) != 1 || runs[0].Status != storage.RunStatusFailed {
		t.Fatalf("run not marked failed: %+v", runs)
	}
	// No tool-role message is recorded for an unreachable server.
	msgs, _ := f.store.ListMessages(f.chatID)
	for _, m := range msgs {
		if m.Role == storage.RoleTool {
			t.Error("tool message recorded despite aborted turn")
		}
	}
}

func TestSubmitTurnMissingConfigFailsRun(t *testing.T) {
	f := newFixture(t)
	if err := f.store.DeleteLLMConfig(f.chatID); err != nil {
		t.Fatalf("deleting llm config: %v", err)
	}
	o := f.orchestrator(&scriptedCompleter{script: []llm.Completion{textCompletion("ok")}}, nil)

	_, err := o.SubmitTurn(context.Background(), f.chatID, "hi")
	fe, ok := fault.As(err)
	if !ok || fe.Code != fault.CodeChatLLMConfigMissing {
		t.Fatalf("expected CHAT_LLM_CONFIG_NOT_FOUND, got %v", err)
	}

	// The user message and failed run are still on record.
	msgs, _ := f.store.ListMessages(f.chatID)
	if len(msgs) != 1 || msgs[0].Role != storage.RoleUser {
		t.Fatalf("messages = %+v", msgs)
	}
	runs, _ := f.store.ListRuns(f.chatID)
	if len(runs) != 1 || runs[0].Status != storage.RunStatusFailed {
		t.Fatalf("runs = %+v", runs)
	}
}

func TestSubmitTurnPublishesEvents(t *testing.T) {
	f := newFixture(t)
	var mu sync.Mutex
	var got []events.Event
	unsub := f.bus.Subscribe(f.chatID, func(ev events.Event) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})
	defer unsub()

	o := f.orchestrator(&scriptedCompleter{script: []llm.Completion{textCompletion("hello")}}, nil)
	if _, err := o.SubmitTurn(context.Background(), f.chatID, "hi"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	var messages, runEvents int
	for _, ev := range got {
		switch ev.Type {
		case events.TypeMessage:
			messages++
		case events.TypeRun:
			runEvents++
		}
	}
	if messages != 2 {
		t.Errorf("message events = %d, want 2", messages)
	}
	if runEvents != 2 {
		t.Errorf("run events = %d, want 2 (created, completed)", runEvents)
	}
}

func currentConnectionID(t *testing.T, f *fixture) string {
	t.Helper()
	cfg, err := f.store.GetLLMConfig(f.chatID)
	if err != nil {
		t.Fatalf("loading llm config: %v", err)
	}
	return cfg.ConnectionID
}
