package storage

import (
	"database/sql"
	"fmt"
)

func (s *Store) CreatePreset(p Preset) error {
	_, err := s.db.Exec(`
		INSERT INTO presets (id, kind, content, lorebook_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.Kind, p.Content, p.LorebookID, formatTime(p.CreatedAt))
	return err
}

func (s *Store) GetPreset(id string) (Preset, error) {
	var p Preset
	var createdAt string
	err := s.db.QueryRow(`SELECT id, kind, content, lorebook_id, created_at FROM presets WHERE id = ?`, id).
		Scan(&p.ID, &p.Kind, &p.Content, &p.LorebookID, &createdAt)
	if err == sql.ErrNoRows {
		return Preset{}, ErrNotFound
	}
	if err != nil {
		return Preset{}, err
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return Preset{}, err
	}
	return p, nil
}

func (s *Store) ListPresets() ([]Preset, error) {
	rows, err := s.db.Query(`SELECT id, kind, content, lorebook_id, created_at FROM presets ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var presets []Preset
	for rows.Next() {
		var p Preset
		var createdAt string
		if err := rows.Scan(&p.ID, &p.Kind, &p.Content, &p.LorebookID, &createdAt); err != nil {
			return nil, err
		}
		if p.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		presets = append(presets, p)
	}
	return presets, rows.Err()
}

func (s *Store) UpdatePreset(p Preset) error {
	res, err := s.db.Exec(`UPDATE presets SET kind = ?, content = ?, lorebook_id = ? WHERE id = ?`,
		p.Kind, p.Content, p.LorebookID, p.ID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) DeletePreset(id string) error {
	res, err := s.db.Exec(`DELETE FROM presets WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// --- prompt stack ---

// ListStack returns all stack entries for a character ordered by position,
// including disabled ones. Callers filter on Enabled as needed.
func (s *Store) ListStack(characterID string) ([]PromptStackEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, character_id, preset_id, role, position, enabled
		FROM prompt_stack_entries WHERE character_id = ? ORDER BY position ASC`, characterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []PromptStackEntry
	for rows.Next() {
		var e PromptStackEntry
		var enabled int
		if err := rows.Scan(&e.ID, &e.CharacterID, &e.PresetID, &e.Role, &e.Position, &enabled); err != nil {
			return nil, err
		}
		e.Enabled = enabled != 0
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// AddStackEntry appends the entry at the end of the character's stack. The
// stored Position field is overwritten with the next free slot.
func (s *Store) AddStackEntry(e PromptStackEntry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning stack insert: %w", err)
	}
	defer tx.Rollback()

	var next int
	if err := tx.QueryRow(`
		SELECT COALESCE(MAX(position) + 1, 0) FROM prompt_stack_entries WHERE character_id = ?`,
		e.CharacterID).Scan(&next); err != nil {
		return err
	}

	if _, err := tx.Exec(`
		INSERT INTO prompt_stack_entries (id, character_id, preset_id, role, position, enabled)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.CharacterID, e.PresetID, e.Role, next, boolToInt(e.Enabled)); err != nil {
		return err
	}
	return tx.Commit()
}

// RemoveStackEntry deletes the entry and re-packs the remaining positions
// into a contiguous 0-based sequence.
func (s *Store) RemoveStackEntry(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning stack remove: %w", err)
	}
	defer tx.Rollback()

	var characterID string
	err = tx.QueryRow(`SELECT character_id FROM prompt_stack_entries WHERE id = ?`, id).Scan(&characterID)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	if _, err := tx.Exec(`DELETE FROM prompt_stack_entries WHERE id = ?`, id); err != nil {
		return err
	}
	if err := repackStack(tx, characterID); err != nil {
		return err
	}
	return tx.Commit()
}

// SetStackEntryEnabled toggles an entry without moving it.
func (s *Store) SetStackEntryEnabled(id string, enabled bool) error {
	res, err := s.db.Exec(`UPDATE prompt_stack_entries SET enabled = ? WHERE id = ?`,
		boolToInt(enabled), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ReorderStack replaces the character's stack order with the given id list.
// The list must be a complete permutation of the character's entry ids:
// missing ids fail with ErrReorderIncomplete, foreign ids with
// ErrReorderMismatch. Positions are re-packed to 0..n-1 in list order.
func (s *Store) ReorderStack(characterID string, ids []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning stack reorder: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(`SELECT id FROM prompt_stack_entries WHERE character_id = ?`, characterID)
	if err != nil {
		return err
	}
	existing := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		existing[id] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if !existing[id] {
			return fmt.Errorf("entry %s: %w", id, ErrReorderMismatch)
		}
		if seen[id] {
			return fmt.Errorf("entry %s listed twice: %w", id, ErrReorderIncomplete)
		}
		seen[id] = true
	}
	if len(ids) != len(existing) {
		return fmt.Errorf("got %d of %d entries: %w", len(ids), len(existing), ErrReorderIncomplete)
	}

	for pos, id := range ids {
		if _, err := tx.Exec(`UPDATE prompt_stack_entries SET position = ? WHERE id = ?`, pos, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// repackStack rewrites positions to 0..n-1 preserving the current order.
func repackStack(tx *sql.Tx, characterID string) error {
	rows, err := tx.Query(`
		SELECT id FROM prompt_stack_entries WHERE character_id = ? ORDER BY position ASC`, characterID)
	if err != nil {
		return err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for pos, id := range ids {
		if _, err := tx.Exec(`UPDATE prompt_stack_entries SET position = ? WHERE id = ?`, pos, id); err != nil {
			return err
		}
	}
	return nil
}
