package relay

import (
	"net/http"

	"golang.org/x/time/rate"

	"github.com/ehrlich-b/wingchat/internal/store"
)

const (
	defaultMessageRate  = 2 // user turns per second per socket
	defaultMessageBurst = 5
)

// Server is a development chat relay: the session REST API plus the chat
// WebSocket, answering user turns with a Responder.
type Server struct {
	Store     *store.Store
	Secret    []byte
	Chat      *ChatRegistry
	Responder Responder

	// PushTitles controls whether generated titles are announced with a
	// title_generated frame or only written to the store.
	PushTitles bool

	MessageRate  rate.Limit
	MessageBurst int

	mux *http.ServeMux
}

func NewServer(st *store.Store, secret []byte) *Server {
	s := &Server{
		Store:        st,
		Secret:       secret,
		Chat:         NewChatRegistry(),
		Responder:    &EchoResponder{},
		PushTitles:   true,
		MessageRate:  defaultMessageRate,
		MessageBurst: defaultMessageBurst,
		mux:          http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /api/sessions", s.requireAuth(s.handleCreateSession))
	s.mux.HandleFunc("GET /api/sessions", s.requireAuth(s.handleListSessions))
	s.mux.HandleFunc("GET /api/sessions/{id}", s.requireAuth(s.handleGetSession))
	s.mux.HandleFunc("PATCH /api/sessions/{id}", s.requireAuth(s.handleUpdateSession))
	s.mux.HandleFunc("DELETE /api/sessions/{id}", s.requireAuth(s.handleDeleteSession))
	s.mux.HandleFunc("GET /api/sessions/{id}/messages", s.requireAuth(s.handleListMessages))
	s.mux.HandleFunc("DELETE /api/sessions/{id}/messages/{mid}", s.requireAuth(s.handleDeleteMessage))
	s.mux.HandleFunc("POST /api/files", s.requireAuth(s.handleUploadFile))
	s.mux.HandleFunc("GET /api/files/{id}", s.requireAuth(s.handleGetFile))
	s.mux.HandleFunc("GET /ws/chat", s.handleChatWS)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
