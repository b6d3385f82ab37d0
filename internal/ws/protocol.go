package ws

// Frame types for the chat WebSocket protocol.
const (
	// Client → server
	TypeAuth    = "auth"    // first frame on every socket
	TypeMessage = "message" // one user turn

	// Server → client
	TypeStream         = "stream"          // incremental assistant tokens
	TypeStatus         = "status"          // long-running side effect started (image generation)
	TypeImageGenerated = "image_generated" // side effect finished
	TypeTitleGenerated = "title_generated"
	TypeSessionUpdated = "session_updated"
	TypeError          = "error"
)

// Envelope wraps every WebSocket message with a type field for routing.
type Envelope struct {
	Type string `json:"type"`
}

// Frame is the canonical decoded shape of every frame. Only the fields
// relevant to Type are populated.
type Frame struct {
	Type string

	// Text is the stream chunk, image caption, status detail or error content.
	Text string
	Done bool

	ImageURL string
	Title    string

	// Outbound only.
	Token     string
	SessionID string
	Model     string
	Provider  string
	FileIDs   []string
}

// AuthFrame builds the frame sent immediately after a socket opens.
func AuthFrame(token, sessionID string) Frame {
	return Frame{Type: TypeAuth, Token: token, SessionID: sessionID}
}

// MessageFrame builds one outbound user turn.
func MessageFrame(content, model, provider string, fileIDs []string) Frame {
	return Frame{Type: TypeMessage, Text: content, Model: model, Provider: provider, FileIDs: fileIDs}
}

// wire shapes

type authMsg struct {
	Type      string `json:"type"`
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
}

type messageMsg struct {
	Type     string   `json:"type"`
	Content  string   `json:"content"`
	Model    string   `json:"model"`
	Provider string   `json:"provider"`
	FileIDs  []string `json:"file_ids"`
}

type streamMsg struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Done    bool   `json:"done"`
}

type statusMsg struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

type imageGeneratedMsg struct {
	Type     string `json:"type"`
	ImageURL string `json:"image_url"`
	Content  string `json:"content,omitempty"`
}

type titleMsg struct {
	Type  string `json:"type"`
	Title string `json:"title"`
}

type sessionUpdatedMsg struct {
	Type    string      `json:"type"`
	Session sessionInfo `json:"session"`
}

type sessionInfo struct {
	Title string `json:"title"`
}

type errorMsg struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// inbound is the permissive decode target. Pointers distinguish absent
// fields from empty strings where the protocol has fallbacks.
type inbound struct {
	Type          string       `json:"type"`
	Content       *string      `json:"content"`
	Chunk         *string      `json:"chunk"`
	Text          *string      `json:"text"`
	Message       *string      `json:"message"`
	RevisedPrompt *string      `json:"revised_prompt"`
	Done          bool         `json:"done"`
	ImageURL      string       `json:"image_url"`
	Title         string       `json:"title"`
	Session       *sessionInfo `json:"session"`
	Token         string       `json:"token"`
	SessionID     string       `json:"session_id"`
	Model         string       `json:"model"`
	Provider      string       `json:"provider"`
	FileIDs       []string     `json:"file_ids"`
}
