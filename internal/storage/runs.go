package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// CreateRun records the start of a turn attempt with status running.
func (s *Store) CreateRun(r ChatRun) error {
	_, err := s.db.Exec(`
		INSERT INTO chat_runs (id, chat_id, user_message_id, status, started_at)
		VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.ChatID, r.UserMessageID, r.Status, formatTime(r.StartedAt),
	)
	return err
}

func (s *Store) GetRun(id string) (ChatRun, error) {
	row := s.db.QueryRow(`
		SELECT id, chat_id, user_message_id, status, assistant_message_id, started_at, finished_at, error,
		       prompt_tokens, completion_tokens, total_tokens
		FROM chat_runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return ChatRun{}, ErrNotFound
	}
	return r, err
}

func (s *Store) ListRuns(chatID string) ([]ChatRun, error) {
	rows, err := s.db.Query(`
		SELECT id, chat_id, user_message_id, status, assistant_message_id, started_at, finished_at, error,
		       prompt_tokens, completion_tokens, total_tokens
		FROM chat_runs WHERE chat_id = ? ORDER BY started_at DESC`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []ChatRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// CompleteRun transitions a running run to completed. The guard on status
// makes the running→terminal transition happen at most once.
func (s *Store) CompleteRun(id, assistantMessageID string, usage *RunUsage) error {
	var pt, ct, tt any
	if usage != nil {
		pt, ct, tt = usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens
	}
	res, err := s.db.Exec(`
		UPDATE chat_runs
		SET status = ?, assistant_message_id = ?, finished_at = ?, prompt_tokens = ?, completion_tokens = ?, total_tokens = ?
		WHERE id = ? AND status = ?`,
		RunStatusCompleted, assistantMessageID, formatTime(time.Now()), pt, ct, tt,
		id, RunStatusRunning,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// FailRun transitions a running run to failed with the error text.
func (s *Store) FailRun(id, errText string) error {
	res, err := s.db.Exec(`
		UPDATE chat_runs SET status = ?, finished_at = ?, error = ?
		WHERE id = ? AND status = ?`,
		RunStatusFailed, formatTime(time.Now()), errText, id, RunStatusRunning,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func scanRun(r rowScanner) (ChatRun, error) {
	var run ChatRun
	var startedAt string
	var finishedAt, assistantID, errText sql.NullString
	var pt, ct, tt sql.NullInt64
	err := r.Scan(&run.ID, &run.ChatID, &run.UserMessageID, &run.Status,
		&assistantID, &startedAt, &finishedAt, &errText, &pt, &ct, &tt)
	if err != nil {
		return ChatRun{}, err
	}
	if run.StartedAt, err = parseTime(startedAt); err != nil {
		return ChatRun{}, err
	}
	if finishedAt.Valid {
		t, err := parseTime(finishedAt.String)
		if err != nil {
			return ChatRun{}, fmt.Errorf("parsing finished_at: %w", err)
		}
		run.FinishedAt = t
	}
	run.AssistantMessageID = assistantID.String
	run.Error = errText.String
	if pt.Valid || ct.Valid || tt.Valid {
		run.Usage = &RunUsage{
			PromptTokens:     int(pt.Int64),
			CompletionTokens: int(ct.Int64),
			TotalTokens:      int(tt.Int64),
		}
	}
	return run, nil
}
