package storage

import (
	"database/sql"
)

// AppendMessage inserts a message and fills in the database-assigned Seq.
// Messages are never mutated after creation except for their state marker.
func (s *Store) AppendMessage(m *Message) error {
	res, err := s.db.Exec(`
		INSERT INTO messages (id, chat_id, role, content, tool_calls, tool_call_id, token_count, run_id, state, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ChatID, m.Role, m.Content, m.ToolCalls, m.ToolCallID,
		m.TokenCount, m.RunID, m.State, formatTime(m.CreatedAt),
	)
	if err != nil {
		return err
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return err
	}
	m.Seq = seq
	return nil
}

func (s *Store) GetMessage(id string) (Message, error) {
	row := s.db.QueryRow(`
		SELECT seq, id, chat_id, role, content, tool_calls, tool_call_id, token_count, run_id, state, created_at
		FROM messages WHERE id = ?`, id)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return Message{}, ErrNotFound
	}
	return m, err
}

// ListMessages returns the chat's messages in creation order, with the
// database sequence as a stable tie-break.
func (s *Store) ListMessages(chatID string) ([]Message, error) {
	rows, err := s.db.Query(`
		SELECT seq, id, chat_id, role, content, tool_calls, tool_call_id, token_count, run_id, state, created_at
		FROM messages WHERE chat_id = ? ORDER BY created_at ASC, seq ASC`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// SetMessageState changes a message's state marker. This is the only
// permitted mutation: it excludes a message from prompt assembly without
// deleting it.
func (s *Store) SetMessageState(id, state string) error {
	res, err := s.db.Exec(`UPDATE messages SET state = ? WHERE id = ?`, state, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(r rowScanner) (Message, error) {
	var m Message
	var createdAt string
	err := r.Scan(&m.Seq, &m.ID, &m.ChatID, &m.Role, &m.Content, &m.ToolCalls,
		&m.ToolCallID, &m.TokenCount, &m.RunID, &m.State, &createdAt)
	if err != nil {
		return Message{}, err
	}
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return Message{}, err
	}
	return m, nil
}
