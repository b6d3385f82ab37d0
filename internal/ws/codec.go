package ws

import (
	"encoding/json"
	"fmt"

	"github.com/ehrlich-b/wingchat/internal/logger"
)

// Decode parses one raw payload into a Frame. It reports false for anything
// it cannot turn into a valid frame; the reason is logged, never returned.
func Decode(data []byte) (Frame, bool) {
	var in inbound
	if err := json.Unmarshal(data, &in); err != nil {
		logger.Debug("drop frame: bad json", "err", err, "len", len(data))
		return Frame{}, false
	}

	f := Frame{Type: in.Type}
	switch in.Type {
	case TypeStream:
		f.Text = first(in.Content, in.Chunk, in.Text)
		f.Done = in.Done

	case TypeStatus:
		f.Text = first(in.Content)

	case TypeImageGenerated:
		if in.ImageURL == "" {
			logger.Warn("drop frame: image_generated without image_url")
			return Frame{}, false
		}
		f.ImageURL = in.ImageURL
		f.Text = first(in.Content, in.RevisedPrompt)

	case TypeTitleGenerated, TypeSessionUpdated:
		f.Title = in.Title
		if f.Title == "" && in.Session != nil {
			f.Title = in.Session.Title
		}
		if f.Title == "" {
			logger.Debug("drop frame: no title", "type", in.Type)
			return Frame{}, false
		}

	case TypeError:
		f.Text = first(in.Content, in.Message)

	case TypeAuth:
		if in.Token == "" || in.SessionID == "" {
			logger.Warn("drop frame: incomplete auth")
			return Frame{}, false
		}
		f.Token = in.Token
		f.SessionID = in.SessionID

	case TypeMessage:
		f.Text = first(in.Content)
		f.Model = in.Model
		f.Provider = in.Provider
		f.FileIDs = in.FileIDs

	case "":
		logger.Debug("drop frame: missing type")
		return Frame{}, false

	default:
		logger.Debug("drop frame: unknown type", "type", in.Type)
		return Frame{}, false
	}
	return f, true
}

// Encode serializes a frame into its wire shape.
func Encode(f Frame) ([]byte, error) {
	var v any
	switch f.Type {
	case TypeAuth:
		v = authMsg{Type: f.Type, Token: f.Token, SessionID: f.SessionID}
	case TypeMessage:
		ids := f.FileIDs
		if ids == nil {
			ids = []string{}
		}
		v = messageMsg{Type: f.Type, Content: f.Text, Model: f.Model, Provider: f.Provider, FileIDs: ids}
	case TypeStream:
		v = streamMsg{Type: f.Type, Content: f.Text, Done: f.Done}
	case TypeStatus:
		v = statusMsg{Type: f.Type, Content: f.Text}
	case TypeImageGenerated:
		v = imageGeneratedMsg{Type: f.Type, ImageURL: f.ImageURL, Content: f.Text}
	case TypeTitleGenerated:
		v = titleMsg{Type: f.Type, Title: f.Title}
	case TypeSessionUpdated:
		v = sessionUpdatedMsg{Type: f.Type, Session: sessionInfo{Title: f.Title}}
	case TypeError:
		v = errorMsg{Type: f.Type, Content: f.Text}
	default:
		return nil, fmt.Errorf("encode: unknown frame type %q", f.Type)
	}
	return json.Marshal(v)
}

func first(vals ...*string) string {
	for _, v := range vals {
		if v != nil && *v != "" {
			return *v
		}
	}
	return ""
}
