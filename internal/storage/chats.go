package storage

import (
	"database/sql"
	"fmt"
	"time"
)

func (s *Store) CreateChat(c Chat) error {
	_, err := s.db.Exec(`
		INSERT INTO chats (id, character_id, user_persona_id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.CharacterID, c.UserPersonaID, c.Title,
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
	)
	return err
}

func (s *Store) GetChat(id string) (Chat, error) {
	var c Chat
	var createdAt, updatedAt string
	err := s.db.QueryRow(`
		SELECT id, character_id, user_persona_id, title, created_at, updated_at
		FROM chats WHERE id = ?`, id,
	).Scan(&c.ID, &c.CharacterID, &c.UserPersonaID, &c.Title, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return Chat{}, ErrNotFound
	}
	if err != nil {
		return Chat{}, err
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return Chat{}, err
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Chat{}, err
	}
	return c, nil
}

func (s *Store) ListChats() ([]Chat, error) {
	rows, err := s.db.Query(`
		SELECT id, character_id, user_persona_id, title, created_at, updated_at
		FROM chats ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []Chat
	for rows.Next() {
		var c Chat
		var createdAt, updatedAt string
		if err := rows.Scan(&c.ID, &c.CharacterID, &c.UserPersonaID, &c.Title, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		if c.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

func (s *Store) UpdateChatTitle(id, title string) error {
	res, err := s.db.Exec(`UPDATE chats SET title = ?, updated_at = ? WHERE id = ?`,
		title, formatTime(time.Now()), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// TouchChat bumps the chat's updated_at timestamp.
func (s *Store) TouchChat(id string) error {
	res, err := s.db.Exec(`UPDATE chats SET updated_at = ? WHERE id = ?`,
		formatTime(time.Now()), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) DeleteChat(id string) error {
	res, err := s.db.Exec(`DELETE FROM chats WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// --- LLM config (zero or one per chat) ---

func (s *Store) SetLLMConfig(cfg LLMConfig) error {
	_, err := s.db.Exec(`
		INSERT INTO chat_llm_configs (chat_id, connection_id, model, temperature, max_output_tokens, max_tool_iterations, tool_call_timeout_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			connection_id = excluded.connection_id,
			model = excluded.model,
			temperature = excluded.temperature,
			max_output_tokens = excluded.max_output_tokens,
			max_tool_iterations = excluded.max_tool_iterations,
			tool_call_timeout_ms = excluded.tool_call_timeout_ms`,
		cfg.ChatID, cfg.ConnectionID, cfg.Model, cfg.Temperature,
		cfg.MaxOutputTokens, cfg.MaxToolIterations, cfg.ToolCallTimeout.Milliseconds(),
	)
	return err
}

func (s *Store) GetLLMConfig(chatID string) (LLMConfig, error) {
	var cfg LLMConfig
	var timeoutMs int64
	err := s.db.QueryRow(`
		SELECT chat_id, connection_id, model, temperature, max_output_tokens, max_tool_iterations, tool_call_timeout_ms
		FROM chat_llm_configs WHERE chat_id = ?`, chatID,
	).Scan(&cfg.ChatID, &cfg.ConnectionID, &cfg.Model, &cfg.Temperature,
		&cfg.MaxOutputTokens, &cfg.MaxToolIterations, &timeoutMs)
	if err == sql.ErrNoRows {
		return LLMConfig{}, ErrNotFound
	}
	if err != nil {
		return LLMConfig{}, err
	}
	cfg.ToolCallTimeout = time.Duration(timeoutMs) * time.Millisecond
	return cfg, nil
}

func (s *Store) DeleteLLMConfig(chatID string) error {
	res, err := s.db.Exec(`DELETE FROM chat_llm_configs WHERE chat_id = ?`, chatID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// --- history config (zero or one per chat) ---

func (s *Store) SetHistoryConfig(cfg HistoryConfig) error {
	_, err := s.db.Exec(`
		INSERT INTO chat_history_configs (chat_id, history_enabled, message_limit, lore_scan_token_limit)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			history_enabled = excluded.history_enabled,
			message_limit = excluded.message_limit,
			lore_scan_token_limit = excluded.lore_scan_token_limit`,
		cfg.ChatID, boolToInt(cfg.HistoryEnabled), cfg.MessageLimit, cfg.LoreScanTokenLimit,
	)
	return err
}

func (s *Store) GetHistoryConfig(chatID string) (HistoryConfig, error) {
	var cfg HistoryConfig
	var enabled int
	err := s.db.QueryRow(`
		SELECT chat_id, history_enabled, message_limit, lore_scan_token_limit
		FROM chat_history_configs WHERE chat_id = ?`, chatID,
	).Scan(&cfg.ChatID, &enabled, &cfg.MessageLimit, &cfg.LoreScanTokenLimit)
	if err == sql.ErrNoRows {
		return HistoryConfig{}, ErrNotFound
	}
	if err != nil {
		return HistoryConfig{}, err
	}
	cfg.HistoryEnabled = enabled != 0
	return cfg, nil
}

func (s *Store) DeleteHistoryConfig(chatID string) error {
	res, err := s.db.Exec(`DELETE FROM chat_history_configs WHERE chat_id = ?`, chatID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// requireRow converts a zero-row update/delete into ErrNotFound.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
