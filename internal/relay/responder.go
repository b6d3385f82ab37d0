package relay

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehrlich-b/wingchat/internal/ws"
)

const (
	imageCommand = "/image "
	failCommand  = "/fail"
)

// Turn is one user message handed to a Responder.
type Turn struct {
	SessionID   string
	Content     string
	Attachments []string // file names
}

// Reply is what gets stored as the assistant message once a turn finishes.
type Reply struct {
	Content  string
	ImageURL string
}

// EmitFunc sends one frame to the client.
type EmitFunc func(ws.Frame) error

// Responder produces the assistant side of a turn, emitting frames as it goes.
type Responder interface {
	Respond(ctx context.Context, turn Turn, emit EmitFunc) (Reply, error)
}

// EchoResponder streams the user's words back one token at a time.
// "/image <prompt>" simulates image generation; "/fail" answers with an error.
type EchoResponder struct {
	Delay time.Duration // pause between frames
}

func (e *EchoResponder) Respond(ctx context.Context, turn Turn, emit EmitFunc) (Reply, error) {
	switch {
	case strings.HasPrefix(turn.Content, imageCommand):
		return e.image(ctx, strings.TrimPrefix(turn.Content, imageCommand), emit)
	case strings.TrimSpace(turn.Content) == failCommand:
		return Reply{}, errors.New("simulated failure")
	}

	text := "You said: " + turn.Content
	if len(turn.Attachments) > 0 {
		text += " (attached: " + strings.Join(turn.Attachments, ", ") + ")"
	}
	tokens := strings.SplitAfter(text, " ")
	for i, tok := range tokens {
		if err := e.pause(ctx); err != nil {
			return Reply{}, err
		}
		done := i == len(tokens)-1
		if err := emit(ws.Frame{Type: ws.TypeStream, Text: tok, Done: done}); err != nil {
			return Reply{}, err
		}
	}
	return Reply{Content: text}, nil
}

func (e *EchoResponder) image(ctx context.Context, prompt string, emit EmitFunc) (Reply, error) {
	if err := emit(ws.Frame{Type: ws.TypeStatus, Text: "generating image"}); err != nil {
		return Reply{}, err
	}
	if err := e.pause(ctx); err != nil {
		return Reply{}, err
	}
	reply := Reply{
		Content:  "Here is " + strings.TrimSpace(prompt),
		ImageURL: "/generated/" + uuid.NewString() + ".png",
	}
	err := emit(ws.Frame{Type: ws.TypeImageGenerated, ImageURL: reply.ImageURL, Text: reply.Content})
	return reply, err
}

func (e *EchoResponder) pause(ctx context.Context) error {
	if e.Delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(e.Delay):
		return nil
	}
}
