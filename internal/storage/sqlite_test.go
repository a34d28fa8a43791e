package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("opening in-memory store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedChat(t *testing.T, s *Store) Chat {
	t.Helper()
	now := time.Now()
	char := Character{ID: uuid.New().String(), Name: "Mira", Persona: "A wandering bard.", CreatedAt: now}
	if err := s.CreateCharacter(char); err != nil {
		t.Fatalf("creating character: %v", err)
	}
	persona := UserPersona{ID: uuid.New().String(), Name: "Ann", Prompt: "Ann is curious.", CreatedAt: now}
	if err := s.CreateUserPersona(persona); err != nil {
		t.Fatalf("creating persona: %v", err)
	}
	chat := Chat{
		ID:            uuid.New().String(),
		CharacterID:   char.ID,
		UserPersonaID: persona.ID,
		Title:         "first chat",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.CreateChat(chat); err != nil {
		t.Fatalf("creating chat: %v", err)
	}
	return chat
}

func TestChatRoundTrip(t *testing.T) {
	s := openTestStore(t)
	chat := seedChat(t, s)

	got, err := s.GetChat(chat.ID)
	if err != nil {
		t.Fatalf("getting chat: %v", err)
	}
	if got.Title != "first chat" || got.CharacterID != chat.CharacterID {
		t.Errorf("chat mismatch: %+v", got)
	}

	if _, err := s.GetChat("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMessageOrderingStableTieBreak(t *testing.T) {
	s := openTestStore(t)
	chat := seedChat(t, s)

	// Same creation timestamp for all three; seq must break the tie in
	// insert order.
	at := time.Now()
	var ids []string
	for i := 0; i < 3; i++ {
		m := &Message{
			ID: uuid.New().String(), ChatID: chat.ID, Role: RoleUser,
			Content: "msg", State: MessageStateOK, CreatedAt: at,
		}
		if err := s.AppendMessage(m); err != nil {
			t.Fatalf("appending message %d: %v", i, err)
		}
		if m.Seq == 0 {
			t.Fatalf("seq not assigned for message %d", i)
		}
		ids = append(ids, m.ID)
	}

	msgs, err := s.ListMessages(chat.ID)
	if err != nil {
		t.Fatalf("listing messages: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	for i, m := range msgs {
		if m.ID != ids[i] {
			t.Errorf("position %d: got %s, want %s", i, m.ID, ids[i])
		}
	}
}

func TestMessageOrderingFractionalSeconds(t *testing.T) {
	s := openTestStore(t)
	chat := seedChat(t, s)

	// Fractions chosen so a variable-width encoding would misorder them:
	// one timestamp has no fraction and one fraction is a string prefix
	// of another.
	base := time.Date(2025, 6, 1, 3, 4, 5, 0, time.UTC)
	times := []time.Time{
		base,
		base.Add(120 * time.Millisecond),
		base.Add(123 * time.Millisecond),
	}
	var ids []string
	for i, at := range times {
		m := &Message{
			ID: uuid.New().String(), ChatID: chat.ID, Role: RoleUser,
			Content: "msg", State: MessageStateOK, CreatedAt: at,
		}
		if err := s.AppendMessage(m); err != nil {
			t.Fatalf("appending message %d: %v", i, err)
		}
		ids = append(ids, m.ID)
	}

	msgs, err := s.ListMessages(chat.ID)
	if err != nil {
		t.Fatalf("listing messages: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	for i, m := range msgs {
		if m.ID != ids[i] {
			t.Errorf("position %d: got %s (created %s), want %s", i, m.ID, m.CreatedAt, ids[i])
		}
	}
}

func TestMessageStateUpdateOnly(t *testing.T) {
	s := openTestStore(t)
	chat := seedChat(t, s)

	m := &Message{ID: uuid.New().String(), ChatID: chat.ID, Role: RoleUser,
		Content: "hello", State: MessageStateOK, CreatedAt: time.Now()}
	if err := s.AppendMessage(m); err != nil {
		t.Fatalf("appending: %v", err)
	}

	if err := s.SetMessageState(m.ID, MessageStateHidden); err != nil {
		t.Fatalf("setting state: %v", err)
	}
	got, err := s.GetMessage(m.ID)
	if err != nil {
		t.Fatalf("getting message: %v", err)
	}
	if got.State != MessageStateHidden {
		t.Errorf("state = %q, want hidden", got.State)
	}
	if got.Content != "hello" {
		t.Errorf("content changed: %q", got.Content)
	}

	if err := s.SetMessageState("missing", MessageStateOK); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRunSingleTransition(t *testing.T) {
	s := openTestStore(t)
	chat := seedChat(t, s)

	run := ChatRun{
		ID: uuid.New().String(), ChatID: chat.ID,
		UserMessageID: uuid.New().String(),
		Status:        RunStatusRunning, StartedAt: time.Now(),
	}
	if err := s.CreateRun(run); err != nil {
		t.Fatalf("creating run: %v", err)
	}

	usage := &RunUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}
	asstID := uuid.New().String()
	if err := s.CompleteRun(run.ID, asstID, usage); err != nil {
		t.Fatalf("completing run: %v", err)
	}

	got, err := s.GetRun(run.ID)
	if err != nil {
		t.Fatalf("getting run: %v", err)
	}
	if got.Status != RunStatusCompleted {
		t.Errorf("status = %q", got.Status)
	}
	if got.AssistantMessageID != asstID {
		t.Errorf("assistant message id = %q, want %q", got.AssistantMessageID, asstID)
	}
	if got.FinishedAt.IsZero() {
		t.Error("finished_at not set")
	}
	if got.Usage == nil || got.Usage.TotalTokens != 15 {
		t.Errorf("usage = %+v", got.Usage)
	}

	// Terminal runs must not transition again.
	if err := s.FailRun(run.ID, "late failure"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second transition, got %v", err)
	}
	got, _ = s.GetRun(run.ID)
	if got.Status != RunStatusCompleted {
		t.Errorf("status changed after terminal: %q", got.Status)
	}
}

func TestFailRunRecordsError(t *testing.T) {
	s := openTestStore(t)
	chat := seedChat(t, s)

	run := ChatRun{ID: uuid.New().String(), ChatID: chat.ID,
		UserMessageID: "u1", Status: RunStatusRunning, StartedAt: time.Now()}
	if err := s.CreateRun(run); err != nil {
		t.Fatalf("creating run: %v", err)
	}
	if err := s.FailRun(run.ID, "provider unreachable"); err != nil {
		t.Fatalf("failing run: %v", err)
	}
	got, err := s.GetRun(run.ID)
	if err != nil {
		t.Fatalf("getting run: %v", err)
	}
	if got.Status != RunStatusFailed || got.Error != "provider unreachable" {
		t.Errorf("run = %+v", got)
	}
	if got.Usage != nil {
		t.Errorf("failed run should have no usage, got %+v", got.Usage)
	}
}

func TestLLMConfigZeroOrOne(t *testing.T) {
	s := openTestStore(t)
	chat := seedChat(t, s)

	if _, err := s.GetLLMConfig(chat.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before set, got %v", err)
	}

	cfg := LLMConfig{
		ChatID: chat.ID, ConnectionID: "conn-1", Model: "gpt-4o",
		Temperature: 0.7, MaxOutputTokens: 512,
		MaxToolIterations: 3, ToolCallTimeout: 20 * time.Second,
	}
	if err := s.SetLLMConfig(cfg); err != nil {
		t.Fatalf("setting config: %v", err)
	}
	// Upsert replaces instead of duplicating.
	cfg.Model = "gpt-4o-mini"
	if err := s.SetLLMConfig(cfg); err != nil {
		t.Fatalf("re-setting config: %v", err)
	}

	got, err := s.GetLLMConfig(chat.ID)
	if err != nil {
		t.Fatalf("getting config: %v", err)
	}
	if got.Model != "gpt-4o-mini" || got.ToolCallTimeout != 20*time.Second {
		t.Errorf("config = %+v", got)
	}
}

func TestLorebookEntryInsertionOrder(t *testing.T) {
	s := openTestStore(t)
	book := Lorebook{ID: uuid.New().String(), Name: "world", CreatedAt: time.Now()}
	if err := s.CreateLorebook(book); err != nil {
		t.Fatalf("creating lorebook: %v", err)
	}

	for i, kw := range []string{"dragon", "castle", "sword"} {
		e := LorebookEntry{
			ID: uuid.New().String(), LorebookID: book.ID,
			Keywords: []string{kw}, Content: kw + " lore", Enabled: true,
		}
		if err := s.AddLorebookEntry(e); err != nil {
			t.Fatalf("adding entry %d: %v", i, err)
		}
	}

	entries, err := s.ListLorebookEntries(book.ID)
	if err != nil {
		t.Fatalf("listing entries: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, e := range entries {
		if e.InsertionOrder != i {
			t.Errorf("entry %d: insertion order %d", i, e.InsertionOrder)
		}
	}
	if entries[0].Keywords[0] != "dragon" {
		t.Errorf("first entry = %+v", entries[0])
	}
}

func TestServerRoundTrip(t *testing.T) {
	s := openTestStore(t)
	srv := MCPServer{
		ID: uuid.New().String(), Name: "search",
		Command: "npx", Args: []string{"-y", "server-search"},
		Env: []string{"API_KEY=x"}, Enabled: true, CreatedAt: time.Now(),
	}
	if err := s.CreateServer(srv); err != nil {
		t.Fatalf("creating server: %v", err)
	}
	got, err := s.GetServer(srv.ID)
	if err != nil {
		t.Fatalf("getting server: %v", err)
	}
	if len(got.Args) != 2 || got.Args[1] != "server-search" {
		t.Errorf("args = %v", got.Args)
	}
	if !got.Enabled {
		t.Error("enabled flag lost")
	}
}

func TestAttachServer(t *testing.T) {
	s := openTestStore(t)
	chat := seedChat(t, s)
	srv := MCPServer{ID: uuid.New().String(), Name: "tools", Command: "srv",
		Enabled: true, CreatedAt: time.Now()}
	if err := s.CreateServer(srv); err != nil {
		t.Fatalf("creating server: %v", err)
	}
	if err := s.AttachServer(chat.CharacterID, srv.ID); err != nil {
		t.Fatalf("attaching: %v", err)
	}
	// Attaching twice is a no-op.
	if err := s.AttachServer(chat.CharacterID, srv.ID); err != nil {
		t.Fatalf("re-attaching: %v", err)
	}

	servers, err := s.ListCharacterServers(chat.CharacterID)
	if err != nil {
		t.Fatalf("listing: %v", err)
	}
	if len(servers) != 1 || servers[0].ID != srv.ID {
		t.Errorf("servers = %+v", servers)
	}

	if err := s.DetachServer(chat.CharacterID, srv.ID); err != nil {
		t.Fatalf("detaching: %v", err)
	}
	servers, _ = s.ListCharacterServers(chat.CharacterID)
	if len(servers) != 0 {
		t.Errorf("expected empty after detach, got %d", len(servers))
	}
}
