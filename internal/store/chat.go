package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const defaultSessionTitle = "New Chat"

type ChatSession struct {
	ID        string
	UserID    string
	Model     string
	Provider  string
	AgentID   string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type ChatMsg struct {
	ID             string
	SessionID      string
	Role           string
	Content        string
	AttachmentName string
	AttachmentType string
	AttachmentURL  string
	CreatedAt      time.Time
}

type ChatFile struct {
	ID          string
	UserID      string
	Name        string
	ContentType string
	Data        []byte
	CreatedAt   time.Time
}

func (s *Store) CreateChatSession(userID, model, provider, agentID string) (*ChatSession, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(
		`INSERT INTO chat_sessions (id, user_id, model, provider, agent_id, title) VALUES (?, ?, ?, ?, ?, ?)`,
		id, userID, model, provider, agentID, defaultSessionTitle,
	)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return s.GetChatSession(id)
}

func (s *Store) GetChatSession(id string) (*ChatSession, error) {
	row := s.db.QueryRow(
		`SELECT id, user_id, model, provider, agent_id, title, created_at, updated_at
		 FROM chat_sessions WHERE id = ?`, id,
	)
	var cs ChatSession
	err := row.Scan(&cs.ID, &cs.UserID, &cs.Model, &cs.Provider, &cs.AgentID, &cs.Title, &cs.CreatedAt, &cs.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cs, nil
}

func (s *Store) ListChatSessions(userID string) ([]*ChatSession, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, model, provider, agent_id, title, created_at, updated_at
		 FROM chat_sessions WHERE user_id = ? ORDER BY updated_at DESC`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []*ChatSession
	for rows.Next() {
		var cs ChatSession
		if err := rows.Scan(&cs.ID, &cs.UserID, &cs.Model, &cs.Provider, &cs.AgentID, &cs.Title, &cs.CreatedAt, &cs.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, &cs)
	}
	return result, rows.Err()
}

func (s *Store) UpdateChatTitle(id, title string) error {
	res, err := s.db.Exec(
		`UPDATE chat_sessions SET title = ?, updated_at = datetime('now') WHERE id = ?`, title, id,
	)
	if err != nil {
		return err
	}
	return expectRow(res)
}

func (s *Store) DeleteChatSession(id string) error {
	res, err := s.db.Exec(`DELETE FROM chat_sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectRow(res)
}

// AppendChatMessage stores m, assigning an id when it has none.
func (s *Store) AppendChatMessage(m *ChatMsg) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	_, err := s.db.Exec(
		`INSERT INTO chat_messages (id, session_id, role, content, attachment_name, attachment_type, attachment_url)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.SessionID, m.Role, m.Content, m.AttachmentName, m.AttachmentType, m.AttachmentURL,
	)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	_, err = s.db.Exec(
		`UPDATE chat_sessions SET updated_at = datetime('now') WHERE id = ?`, m.SessionID,
	)
	return err
}

// ListChatMessages returns a session's messages in insertion order.
func (s *Store) ListChatMessages(sessionID string) ([]*ChatMsg, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, role, content, attachment_name, attachment_type, attachment_url, created_at
		 FROM chat_messages WHERE session_id = ? ORDER BY seq ASC`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []*ChatMsg
	for rows.Next() {
		var m ChatMsg
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.AttachmentName, &m.AttachmentType, &m.AttachmentURL, &m.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, &m)
	}
	return result, rows.Err()
}

func (s *Store) DeleteChatMessage(sessionID, id string) error {
	res, err := s.db.Exec(`DELETE FROM chat_messages WHERE session_id = ? AND id = ?`, sessionID, id)
	if err != nil {
		return err
	}
	return expectRow(res)
}

func (s *Store) SaveFile(f *ChatFile) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	_, err := s.db.Exec(
		`INSERT INTO chat_files (id, user_id, name, content_type, data) VALUES (?, ?, ?, ?, ?)`,
		f.ID, f.UserID, f.Name, f.ContentType, f.Data,
	)
	if err != nil {
		return fmt.Errorf("save file: %w", err)
	}
	return nil
}

func (s *Store) GetFile(id string) (*ChatFile, error) {
	row := s.db.QueryRow(
		`SELECT id, user_id, name, content_type, data, created_at FROM chat_files WHERE id = ?`, id,
	)
	var f ChatFile
	err := row.Scan(&f.ID, &f.UserID, &f.Name, &f.ContentType, &f.Data, &f.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
