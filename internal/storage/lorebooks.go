package storage

import (
	"database/sql"
	"fmt"
)

func (s *Store) CreateLorebook(l Lorebook) error {
	_, err := s.db.Exec(`INSERT INTO lorebooks (id, name, created_at) VALUES (?, ?, ?)`,
		l.ID, l.Name, formatTime(l.CreatedAt))
	return err
}

func (s *Store) GetLorebook(id string) (Lorebook, error) {
	var l Lorebook
	var createdAt string
	err := s.db.QueryRow(`SELECT id, name, created_at FROM lorebooks WHERE id = ?`, id).
		Scan(&l.ID, &l.Name, &createdAt)
	if err == sql.ErrNoRows {
		return Lorebook{}, ErrNotFound
	}
	if err != nil {
		return Lorebook{}, err
	}
	if l.CreatedAt, err = parseTime(createdAt); err != nil {
		return Lorebook{}, err
	}
	return l, nil
}

func (s *Store) ListLorebooks() ([]Lorebook, error) {
	rows, err := s.db.Query(`SELECT id, name, created_at FROM lorebooks ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var books []Lorebook
	for rows.Next() {
		var l Lorebook
		var createdAt string
		if err := rows.Scan(&l.ID, &l.Name, &createdAt); err != nil {
			return nil, err
		}
		if l.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		books = append(books, l)
	}
	return books, rows.Err()
}

func (s *Store) DeleteLorebook(id string) error {
	res, err := s.db.Exec(`DELETE FROM lorebooks WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// AddLorebookEntry appends the entry with the next insertion order. The
// stored InsertionOrder field is overwritten.
func (s *Store) AddLorebookEntry(e LorebookEntry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning entry insert: %w", err)
	}
	defer tx.Rollback()

	var next int
	if err := tx.QueryRow(`
		SELECT COALESCE(MAX(insertion_order) + 1, 0) FROM lorebook_entries WHERE lorebook_id = ?`,
		e.LorebookID).Scan(&next); err != nil {
		return err
	}

	if _, err := tx.Exec(`
		INSERT INTO lorebook_entries (id, lorebook_id, keywords, content, insertion_order, enabled)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.LorebookID, marshalStrings(e.Keywords), e.Content, next, boolToInt(e.Enabled)); err != nil {
		return err
	}
	return tx.Commit()
}

// ListLorebookEntries returns all entries in ascending insertion order,
// including disabled ones.
func (s *Store) ListLorebookEntries(lorebookID string) ([]LorebookEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, lorebook_id, keywords, content, insertion_order, enabled
		FROM lorebook_entries WHERE lorebook_id = ? ORDER BY insertion_order ASC`, lorebookID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []LorebookEntry
	for rows.Next() {
		var e LorebookEntry
		var keywords string
		var enabled int
		if err := rows.Scan(&e.ID, &e.LorebookID, &keywords, &e.Content, &e.InsertionOrder, &enabled); err != nil {
			return nil, err
		}
		e.Keywords = unmarshalStrings(keywords)
		e.Enabled = enabled != 0
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) UpdateLorebookEntry(e LorebookEntry) error {
	res, err := s.db.Exec(`
		UPDATE lorebook_entries SET keywords = ?, content = ?, enabled = ? WHERE id = ?`,
		marshalStrings(e.Keywords), e.Content, boolToInt(e.Enabled), e.ID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) DeleteLorebookEntry(id string) error {
	res, err := s.db.Exec(`DELETE FROM lorebook_entries WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}
