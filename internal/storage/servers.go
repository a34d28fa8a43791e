package storage

import (
	"database/sql"
)

func (s *Store) CreateServer(m MCPServer) error {
	_, err := s.db.Exec(`
		INSERT INTO mcp_servers (id, name, command, args, env, enabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Name, m.Command, marshalStrings(m.Args), marshalStrings(m.Env),
		boolToInt(m.Enabled), formatTime(m.CreatedAt))
	return err
}

func (s *Store) GetServer(id string) (MCPServer, error) {
	row := s.db.QueryRow(`
		SELECT id, name, command, args, env, enabled, created_at FROM mcp_servers WHERE id = ?`, id)
	m, err := scanServer(row)
	if err == sql.ErrNoRows {
		return MCPServer{}, ErrNotFound
	}
	return m, err
}

func (s *Store) ListServers() ([]MCPServer, error) {
	rows, err := s.db.Query(`
		SELECT id, name, command, args, env, enabled, created_at FROM mcp_servers ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectServers(rows)
}

func (s *Store) UpdateServer(m MCPServer) error {
	res, err := s.db.Exec(`
		UPDATE mcp_servers SET name = ?, command = ?, args = ?, env = ?, enabled = ? WHERE id = ?`,
		m.Name, m.Command, marshalStrings(m.Args), marshalStrings(m.Env),
		boolToInt(m.Enabled), m.ID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) DeleteServer(id string) error {
	res, err := s.db.Exec(`DELETE FROM mcp_servers WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func scanServer(r rowScanner) (MCPServer, error) {
	var m MCPServer
	var args, env, createdAt string
	var enabled int
	err := r.Scan(&m.ID, &m.Name, &m.Command, &args, &env, &enabled, &createdAt)
	if err != nil {
		return MCPServer{}, err
	}
	m.Args = unmarshalStrings(args)
	m.Env = unmarshalStrings(env)
	m.Enabled = enabled != 0
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return MCPServer{}, err
	}
	return m, nil
}

func collectServers(rows *sql.Rows) ([]MCPServer, error) {
	var servers []MCPServer
	for rows.Next() {
		m, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		servers = append(servers, m)
	}
	return servers, rows.Err()
}

// --- LLM connections ---

func (s *Store) CreateConnection(c LLMConnection) error {
	_, err := s.db.Exec(`
		INSERT INTO llm_connections (id, name, base_url, api_key, enabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.BaseURL, c.APIKey, boolToInt(c.Enabled), formatTime(c.CreatedAt))
	return err
}

func (s *Store) GetConnection(id string) (LLMConnection, error) {
	var c LLMConnection
	var createdAt string
	var enabled int
	err := s.db.QueryRow(`
		SELECT id, name, base_url, api_key, enabled, created_at FROM llm_connections WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.BaseURL, &c.APIKey, &enabled, &createdAt)
	if err == sql.ErrNoRows {
		return LLMConnection{}, ErrNotFound
	}
	if err != nil {
		return LLMConnection{}, err
	}
	c.Enabled = enabled != 0
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return LLMConnection{}, err
	}
	return c, nil
}

func (s *Store) ListConnections() ([]LLMConnection, error) {
	rows, err := s.db.Query(`
		SELECT id, name, base_url, api_key, enabled, created_at FROM llm_connections ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conns []LLMConnection
	for rows.Next() {
		var c LLMConnection
		var createdAt string
		var enabled int
		if err := rows.Scan(&c.ID, &c.Name, &c.BaseURL, &c.APIKey, &enabled, &createdAt); err != nil {
			return nil, err
		}
		c.Enabled = enabled != 0
		if c.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		conns = append(conns, c)
	}
	return conns, rows.Err()
}

func (s *Store) UpdateConnection(c LLMConnection) error {
	res, err := s.db.Exec(`
		UPDATE llm_connections SET name = ?, base_url = ?, api_key = ?, enabled = ? WHERE id = ?`,
		c.Name, c.BaseURL, c.APIKey, boolToInt(c.Enabled), c.ID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) DeleteConnection(id string) error {
	res, err := s.db.Exec(`DELETE FROM llm_connections WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}
