package relay

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"

	"github.com/ehrlich-b/wingchat/internal/chat"
	"github.com/ehrlich-b/wingchat/internal/logger"
	"github.com/ehrlich-b/wingchat/internal/store"
	"github.com/ehrlich-b/wingchat/internal/ws"
)

const (
	authTimeout   = 10 * time.Second
	writeTimeout  = 10 * time.Second
	titleMaxWords = 6
)

// ChatSession is one authenticated chat socket bound to a session.
type ChatSession struct {
	ID     string
	UserID string

	conn *websocket.Conn
	mu   sync.Mutex // serializes writes
}

func (cs *ChatSession) send(ctx context.Context, f ws.Frame) error {
	data, err := ws.Encode(f)
	if err != nil {
		return err
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return cs.conn.Write(wctx, websocket.MessageText, data)
}

// ChatRegistry tracks the live socket of each session. A session has at
// most one; a newer socket replaces the older one.
type ChatRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*ChatSession // session_id -> socket
}

func NewChatRegistry() *ChatRegistry {
	return &ChatRegistry{
		sessions: make(map[string]*ChatSession),
	}
}

// Add registers s and returns the socket it replaced, if any.
func (r *ChatRegistry) Add(s *ChatSession) *ChatSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.sessions[s.ID]
	r.sessions[s.ID] = s
	return prev
}

// Remove unregisters s unless a newer socket already replaced it.
func (r *ChatRegistry) Remove(s *ChatSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[s.ID] == s {
		delete(r.sessions, s.ID)
	}
}

func (r *ChatRegistry) Get(id string) *ChatSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

// Count returns the number of live sockets.
func (r *ChatRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Close drops the socket of session id, if one is live.
func (r *ChatRegistry) Close(id string) {
	r.mu.Lock()
	s := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if s != nil {
		s.conn.Close(websocket.StatusNormalClosure, "session deleted")
	}
}

// handleChatWS serves one chat socket. The first frame must be auth.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		logger.Warn("chat websocket accept", "err", err)
		return
	}
	conn.SetReadLimit(512 * 1024)
	defer conn.CloseNow()

	ctx := r.Context()

	authCtx, cancel := context.WithTimeout(ctx, authTimeout)
	_, data, err := conn.Read(authCtx)
	cancel()
	if err != nil {
		return
	}
	auth, ok := ws.Decode(data)
	if !ok || auth.Type != ws.TypeAuth {
		reject(ctx, conn, "expected auth frame")
		return
	}
	claims, err := ValidateToken(s.Secret, auth.Token)
	if err != nil {
		reject(ctx, conn, "invalid credential")
		return
	}
	cs, err := s.Store.GetChatSession(auth.SessionID)
	if err != nil || cs.UserID != claims.Subject {
		reject(ctx, conn, "session not found")
		return
	}

	sess := &ChatSession{ID: cs.ID, UserID: cs.UserID, conn: conn}
	if prev := s.Chat.Add(sess); prev != nil {
		prev.conn.Close(websocket.StatusNormalClosure, "replaced by newer connection")
	}
	defer s.Chat.Remove(sess)
	logger.Info("chat connected", "session", sess.ID, "user", sess.UserID)

	lim := rate.NewLimiter(s.MessageRate, s.MessageBurst)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			logger.Debug("chat disconnected", "session", sess.ID, "err", err)
			return
		}
		f, ok := ws.Decode(data)
		if !ok {
			continue
		}
		if f.Type != ws.TypeMessage {
			logger.Debug("chat: ignore frame", "type", f.Type)
			continue
		}
		if !lim.Allow() {
			sess.send(ctx, ws.Frame{Type: ws.TypeError, Text: "rate limited"})
			continue
		}
		s.handleTurn(ctx, sess, f)
	}
}

func reject(ctx context.Context, conn *websocket.Conn, reason string) {
	data, _ := ws.Encode(ws.Frame{Type: ws.TypeError, Text: reason})
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	conn.Write(wctx, websocket.MessageText, data)
	conn.Close(websocket.StatusPolicyViolation, reason)
}

// handleTurn stores one user turn, streams the reply and generates a title
// for sessions that still have the default one.
func (s *Server) handleTurn(ctx context.Context, sess *ChatSession, f ws.Frame) {
	user := &store.ChatMsg{SessionID: sess.ID, Role: chat.RoleUser, Content: f.Text}
	var attached []string
	for i, id := range f.FileIDs {
		file, err := s.Store.GetFile(id)
		if err != nil || file.UserID != sess.UserID {
			sess.send(ctx, ws.Frame{Type: ws.TypeError, Text: "unknown file " + id})
			return
		}
		attached = append(attached, file.Name)
		if i == 0 {
			user.AttachmentName = file.Name
			user.AttachmentType = chat.AttachmentFile
			if strings.HasPrefix(file.ContentType, "image/") {
				user.AttachmentType = chat.AttachmentImage
			}
			user.AttachmentURL = fileURL(file.ID)
		}
	}
	if err := s.Store.AppendChatMessage(user); err != nil {
		logger.Error("store user turn", "session", sess.ID, "err", err)
		sess.send(ctx, ws.Frame{Type: ws.TypeError, Text: "could not store message"})
		return
	}

	turn := Turn{SessionID: sess.ID, Content: f.Text, Attachments: attached}
	reply, err := s.Responder.Respond(ctx, turn, func(out ws.Frame) error {
		return sess.send(ctx, out)
	})
	if err != nil {
		logger.Warn("responder failed", "session", sess.ID, "err", err)
		sess.send(ctx, ws.Frame{Type: ws.TypeError, Text: err.Error()})
		return
	}

	assistant := &store.ChatMsg{SessionID: sess.ID, Role: chat.RoleAssistant, Content: reply.Content}
	if reply.ImageURL != "" {
		assistant.AttachmentName = "generated-image"
		assistant.AttachmentType = chat.AttachmentImage
		assistant.AttachmentURL = reply.ImageURL
	}
	if err := s.Store.AppendChatMessage(assistant); err != nil {
		logger.Error("store reply", "session", sess.ID, "err", err)
	}

	s.maybeTitle(ctx, sess, f.Text)
}

func (s *Server) maybeTitle(ctx context.Context, sess *ChatSession, firstMessage string) {
	cs, err := s.Store.GetChatSession(sess.ID)
	if err != nil || cs.Title != chat.DefaultTitle {
		return
	}
	title := summarizeTitle(firstMessage)
	if title == "" {
		return
	}
	if err := s.Store.UpdateChatTitle(sess.ID, title); err != nil {
		logger.Warn("store title", "session", sess.ID, "err", err)
		return
	}
	if s.PushTitles {
		sess.send(ctx, ws.Frame{Type: ws.TypeTitleGenerated, Title: title})
	}
}

// summarizeTitle keeps the first few words of the opening message.
func summarizeTitle(text string) string {
	words := strings.Fields(strings.TrimPrefix(text, imageCommand))
	if len(words) > titleMaxWords {
		words = words[:titleMaxWords]
	}
	return strings.Join(words, " ")
}
