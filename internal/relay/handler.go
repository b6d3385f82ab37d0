package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/ehrlich-b/wingchat/internal/chat"
	"github.com/ehrlich-b/wingchat/internal/logger"
	"github.com/ehrlich-b/wingchat/internal/store"
)

const maxUploadSize = 10 << 20

type userKey struct{}

// requireAuth validates the bearer credential and stores the user id in the request context.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if tok == "" {
			writeError(w, http.StatusUnauthorized, "missing credential")
			return
		}
		claims, err := ValidateToken(s.Secret, tok)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid credential")
			return
		}
		ctx := context.WithValue(r.Context(), userKey{}, claims.Subject)
		next(w, r.WithContext(ctx))
	}
}

func userFrom(r *http.Request) string {
	id, _ := r.Context().Value(userKey{}).(string)
	return id
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req chat.CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.ModelID == "" || req.Provider == "" {
		writeError(w, http.StatusBadRequest, "model and provider are required")
		return
	}
	cs, err := s.Store.CreateChatSession(userFrom(r), req.ModelID, req.Provider, req.AgentID)
	if err != nil {
		logger.Error("create session", "err", err)
		writeError(w, http.StatusInternalServerError, "create session failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": cs.ID})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.Store.ListChatSessions(userFrom(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list sessions failed")
		return
	}
	out := make([]chat.SessionDetail, 0, len(sessions))
	for _, cs := range sessions {
		out = append(out, sessionDetail(cs))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	cs, ok := s.ownedSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sessionDetail(cs))
}

func (s *Server) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	cs, ok := s.ownedSession(w, r)
	if !ok {
		return
	}
	var req struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	if err := s.Store.UpdateChatTitle(cs.ID, req.Title); err != nil {
		writeError(w, http.StatusInternalServerError, "update failed")
		return
	}
	cs.Title = req.Title
	writeJSON(w, http.StatusOK, sessionDetail(cs))
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	cs, ok := s.ownedSession(w, r)
	if !ok {
		return
	}
	if err := s.Store.DeleteChatSession(cs.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	s.Chat.Close(cs.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	cs, ok := s.ownedSession(w, r)
	if !ok {
		return
	}
	msgs, err := s.Store.ListChatMessages(cs.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list messages failed")
		return
	}
	out := make([]chat.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, chatMessage(m))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	cs, ok := s.ownedSession(w, r)
	if !ok {
		return
	}
	err := s.Store.DeleteChatMessage(cs.ID, r.PathValue("mid"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read upload failed")
		return
	}
	f := &store.ChatFile{
		UserID:      userFrom(r),
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}
	if err := s.Store.SaveFile(f); err != nil {
		writeError(w, http.StatusInternalServerError, "save failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": f.ID, "url": fileURL(f.ID)})
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	f, err := s.Store.GetFile(r.PathValue("id"))
	if err != nil || f.UserID != userFrom(r) {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	w.Header().Set("Content-Type", f.ContentType)
	w.Write(f.Data)
}

// ownedSession loads the {id} session and checks it belongs to the caller.
func (s *Server) ownedSession(w http.ResponseWriter, r *http.Request) (*store.ChatSession, bool) {
	cs, err := s.Store.GetChatSession(r.PathValue("id"))
	if err != nil || cs.UserID != userFrom(r) {
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return cs, true
}

func sessionDetail(cs *store.ChatSession) chat.SessionDetail {
	return chat.SessionDetail{
		ID:       cs.ID,
		ModelID:  cs.Model,
		Provider: cs.Provider,
		Title:    cs.Title,
		AgentID:  cs.AgentID,
	}
}

func chatMessage(m *store.ChatMsg) chat.Message {
	out := chat.Message{ID: m.ID, Role: m.Role, Content: m.Content}
	if m.AttachmentURL != "" {
		out.Attachment = &chat.Attachment{Name: m.AttachmentName, Type: m.AttachmentType, URL: m.AttachmentURL}
	}
	return out
}

func fileURL(id string) string {
	return "/api/files/" + id
}

// Helpers

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
