package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Reorder validation sentinels. The API layer maps these to stable codes.
var (
	ErrReorderIncomplete = errors.New("reorder list does not cover all stack entries")
	ErrReorderMismatch   = errors.New("reorder list contains an entry from another character")
)

// Message states. Non-ok messages are kept for audit but excluded from
// prompt assembly.
const (
	MessageStateOK     = "ok"
	MessageStateHidden = "hidden"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Run statuses. A run transitions exactly once from running to a terminal
// state.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Preset kinds for prompt stack entries.
const (
	PresetStatic      = "static"
	PresetLorebook    = "lorebook"
	PresetHistory     = "history"
	PresetToolCatalog = "tool_catalog"
)

type Chat struct {
	ID            string
	CharacterID   string
	UserPersonaID string
	Title         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// LLMConfig is the optional per-chat model configuration. A chat owns zero
// or one of these.
type LLMConfig struct {
	ChatID            string
	ConnectionID      string
	Model             string
	Temperature       float64
	MaxOutputTokens   int
	MaxToolIterations int
	ToolCallTimeout   time.Duration
}

// HistoryConfig is the optional per-chat history window configuration.
type HistoryConfig struct {
	ChatID             string
	HistoryEnabled     bool
	MessageLimit       int
	LoreScanTokenLimit int
}

// Message is an append-only chat record. Ordering is by (CreatedAt, Seq);
// Seq is assigned by the database and breaks creation-time ties.
type Message struct {
	ID         string
	ChatID     string
	Seq        int64
	Role       string
	Content    string
	ToolCalls  string // JSON array of tool calls, empty when none
	ToolCallID string // correlation id when Role == tool
	TokenCount int    // 0 when unknown
	RunID      string // owning run, empty for user messages outside a run
	State      string
	CreatedAt  time.Time
}

// RunUsage aggregates token usage reported by the completion provider.
type RunUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ChatRun records one user-turn attempt and its outcome.
type ChatRun struct {
	ID                 string
	ChatID             string
	UserMessageID      string
	Status             string
	AssistantMessageID string
	StartedAt          time.Time
	FinishedAt         time.Time // zero while running
	Error              string
	Usage              *RunUsage
}

type Character struct {
	ID        string
	Name      string
	Persona   string
	CreatedAt time.Time
}

type UserPersona struct {
	ID        string
	Name      string
	Prompt    string
	CreatedAt time.Time
}

// Preset is a reusable content block referenced from prompt stacks.
type Preset struct {
	ID         string
	Kind       string
	Content    string
	LorebookID string // set when Kind == lorebook
	CreatedAt  time.Time
}

// PromptStackEntry places a preset at a position in a character's prompt
// stack. Positions form a contiguous 0-based sequence per character.
type PromptStackEntry struct {
	ID          string
	CharacterID string
	PresetID    string
	Role        string
	Position    int
	Enabled     bool
}

type Lorebook struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

type LorebookEntry struct {
	ID             string
	LorebookID     string
	Keywords       []string
	Content        string
	InsertionOrder int
	Enabled        bool
}

// MCPServer describes how to launch a tool server subprocess. Runtime
// connection state is owned by the tool manager and never persisted.
type MCPServer struct {
	ID        string
	Name      string
	Command   string
	Args      []string
	Env       []string
	Enabled   bool
	CreatedAt time.Time
}

type LLMConnection struct {
	ID        string
	Name      string
	BaseURL   string
	APIKey    string
	Enabled   bool
	CreatedAt time.Time
}
