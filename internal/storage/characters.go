package storage

import (
	"database/sql"
)

func (s *Store) CreateCharacter(c Character) error {
	_, err := s.db.Exec(`INSERT INTO characters (id, name, persona, created_at) VALUES (?, ?, ?, ?)`,
		c.ID, c.Name, c.Persona, formatTime(c.CreatedAt))
	return err
}

func (s *Store) GetCharacter(id string) (Character, error) {
	var c Character
	var createdAt string
	err := s.db.QueryRow(`SELECT id, name, persona, created_at FROM characters WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.Persona, &createdAt)
	if err == sql.ErrNoRows {
		return Character{}, ErrNotFound
	}
	if err != nil {
		return Character{}, err
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return Character{}, err
	}
	return c, nil
}

func (s *Store) ListCharacters() ([]Character, error) {
	rows, err := s.db.Query(`SELECT id, name, persona, created_at FROM characters ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chars []Character
	for rows.Next() {
		var c Character
		var createdAt string
		if err := rows.Scan(&c.ID, &c.Name, &c.Persona, &createdAt); err != nil {
			return nil, err
		}
		if c.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		chars = append(chars, c)
	}
	return chars, rows.Err()
}

func (s *Store) UpdateCharacter(c Character) error {
	res, err := s.db.Exec(`UPDATE characters SET name = ?, persona = ? WHERE id = ?`,
		c.Name, c.Persona, c.ID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) DeleteCharacter(id string) error {
	res, err := s.db.Exec(`DELETE FROM characters WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// --- user personas ---

func (s *Store) CreateUserPersona(p UserPersona) error {
	_, err := s.db.Exec(`INSERT INTO user_personas (id, name, prompt, created_at) VALUES (?, ?, ?, ?)`,
		p.ID, p.Name, p.Prompt, formatTime(p.CreatedAt))
	return err
}

func (s *Store) GetUserPersona(id string) (UserPersona, error) {
	var p UserPersona
	var createdAt string
	err := s.db.QueryRow(`SELECT id, name, prompt, created_at FROM user_personas WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &p.Prompt, &createdAt)
	if err == sql.ErrNoRows {
		return UserPersona{}, ErrNotFound
	}
	if err != nil {
		return UserPersona{}, err
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return UserPersona{}, err
	}
	return p, nil
}

func (s *Store) ListUserPersonas() ([]UserPersona, error) {
	rows, err := s.db.Query(`SELECT id, name, prompt, created_at FROM user_personas ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var personas []UserPersona
	for rows.Next() {
		var p UserPersona
		var createdAt string
		if err := rows.Scan(&p.ID, &p.Name, &p.Prompt, &createdAt); err != nil {
			return nil, err
		}
		if p.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		personas = append(personas, p)
	}
	return personas, rows.Err()
}

func (s *Store) UpdateUserPersona(p UserPersona) error {
	res, err := s.db.Exec(`UPDATE user_personas SET name = ?, prompt = ? WHERE id = ?`,
		p.Name, p.Prompt, p.ID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) DeleteUserPersona(id string) error {
	res, err := s.db.Exec(`DELETE FROM user_personas WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// --- character ↔ tool server attachment ---

func (s *Store) AttachServer(characterID, serverID string) error {
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO character_mcp_servers (character_id, server_id) VALUES (?, ?)`,
		characterID, serverID)
	return err
}

func (s *Store) DetachServer(characterID, serverID string) error {
	res, err := s.db.Exec(`
		DELETE FROM character_mcp_servers WHERE character_id = ? AND server_id = ?`,
		characterID, serverID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ListCharacterServers returns the tool servers attached to a character, in
// attachment table order.
func (s *Store) ListCharacterServers(characterID string) ([]MCPServer, error) {
	rows, err := s.db.Query(`
		SELECT m.id, m.name, m.command, m.args, m.env, m.enabled, m.created_at
		FROM mcp_servers m
		JOIN character_mcp_servers cm ON cm.server_id = m.id
		WHERE cm.character_id = ?
		ORDER BY m.created_at ASC`, characterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectServers(rows)
}
