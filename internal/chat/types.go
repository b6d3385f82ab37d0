package chat

import (
	"context"
	"strings"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	AttachmentImage = "image"
	AttachmentFile  = "file"
)

// DefaultTitle is the placeholder title a new session starts with.
const DefaultTitle = "New Chat"

// Attachment is immutable once created; superseding one replaces it whole.
type Attachment struct {
	Name string `json:"name"`
	Type string `json:"type"` // "image" or "file"
	URL  string `json:"url"`
}

// Message is one chat turn in a session transcript.
type Message struct {
	ID                string      `json:"id,omitempty"`
	Role              string      `json:"role"`
	Content           string      `json:"content"`
	Attachment        *Attachment `json:"attachment,omitempty"`
	IsGeneratingImage bool        `json:"is_generating_image,omitempty"`
}

// SessionConfig is fixed for the life of one connection.
type SessionConfig struct {
	SessionID string
	ModelID   string
	Provider  string
}

// SessionDetail is the server's view of a session.
type SessionDetail struct {
	ID       string `json:"id"`
	ModelID  string `json:"model"`
	Provider string `json:"provider"`
	Title    string `json:"title"`
	AgentID  string `json:"agent_id,omitempty"`
}

// CreateSessionRequest asks the server for a new, empty session.
type CreateSessionRequest struct {
	ModelID  string `json:"model"`
	Provider string `json:"provider"`
	AgentID  string `json:"agent_id,omitempty"`
}

// Upload is a file the user attached to an outbound message.
type Upload struct {
	Name        string
	ContentType string
	Data        []byte
}

// IsImage reports whether the upload should render as an image attachment.
func (u Upload) IsImage() bool {
	return strings.HasPrefix(u.ContentType, "image/")
}

// Service is the request/response collaborator that persists sessions,
// messages and files.
type Service interface {
	CreateSession(ctx context.Context, req CreateSessionRequest) (string, error)
	GetSession(ctx context.Context, sessionID string) (*SessionDetail, error)
	ListMessages(ctx context.Context, sessionID string) ([]Message, error)
	UpdateSessionTitle(ctx context.Context, sessionID, title string) error
	UploadFile(ctx context.Context, u Upload) (string, error)
	DeleteMessage(ctx context.Context, sessionID, messageID string) error
	DeleteSession(ctx context.Context, sessionID string) error
}
