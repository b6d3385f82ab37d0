package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/ehrlich-b/wingchat/internal/chat"
)

// renderer writes assistant output to the terminal incrementally. It keeps
// track of how much of the trailing message has been written so streamed
// chunks print as they arrive.
type renderer struct {
	out io.Writer

	mu      sync.Mutex
	seen    int // messages already started
	written int // bytes of msgs[seen-1].Content already written
	pending int // index of a shown image placeholder, or -1
	title   string
	offline bool
	muted   bool // between pause and sync
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{out: out, pending: -1}
}

// pause stops output until the next sync, e.g. while a session is
// switching and its history will be printed in full.
func (r *renderer) pause() {
	r.mu.Lock()
	r.muted = true
	r.mu.Unlock()
}

// sync marks everything in snap as already shown and resumes output.
func (r *renderer) sync(snap chat.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.muted = false
	r.follow(snap.Messages)
	r.title = snap.Title
	r.offline = snap.Disconnected
}

func (r *renderer) handle(e chat.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.muted && e.Type != chat.EventFailure {
		return
	}
	switch e.Type {
	case chat.EventMessagesChanged:
		r.messages(e.Snapshot.Messages)
	case chat.EventTitleChanged:
		if e.Snapshot.Title != r.title {
			r.title = e.Snapshot.Title
			fmt.Fprintf(r.out, "\n[title: %s]\n", r.title)
		}
	case chat.EventConnectionChanged:
		if e.Snapshot.Disconnected != r.offline {
			r.offline = e.Snapshot.Disconnected
			if r.offline {
				fmt.Fprintln(r.out, "\n[disconnected]")
			} else {
				fmt.Fprintln(r.out, "[connected]")
			}
		}
	case chat.EventFailure:
		fmt.Fprintf(r.out, "\nerror: %v\n", e.Err)
	}
}

func (r *renderer) messages(msgs []chat.Message) {
	if len(msgs) < r.seen {
		// Reload or delete; nothing to print, just follow the new tail.
		r.follow(msgs)
		return
	}

	// The placeholder may have text streamed below it.
	if r.pending >= 0 && !msgs[r.pending].IsGeneratingImage {
		done := msgs[r.pending]
		r.finish(done)
		if r.pending == r.seen-1 {
			r.written = len(done.Content)
		}
		r.pending = -1
	}

	if r.seen > 0 {
		last := msgs[r.seen-1]
		if last.Role == chat.RoleAssistant && !last.IsGeneratingImage && len(last.Content) > r.written {
			fmt.Fprint(r.out, last.Content[r.written:])
			r.written = len(last.Content)
		}
	}

	for i := r.seen; i < len(msgs); i++ {
		m := msgs[i]
		r.seen = i + 1
		r.written = len(m.Content)
		if m.Role != chat.RoleAssistant {
			continue
		}
		fmt.Fprint(r.out, "\n")
		if m.IsGeneratingImage {
			r.pending = i
			fmt.Fprint(r.out, "[generating image...]")
			continue
		}
		if m.Attachment != nil {
			r.finish(m)
			continue
		}
		fmt.Fprint(r.out, m.Content)
	}
}

// follow marks msgs as already shown without printing them.
func (r *renderer) follow(msgs []chat.Message) {
	r.seen = len(msgs)
	r.written = 0
	r.pending = -1
	for i, m := range msgs {
		if m.IsGeneratingImage {
			r.pending = i
		}
	}
	if r.seen > 0 {
		r.written = len(msgs[r.seen-1].Content)
	}
}

// finish prints a message that arrived complete, e.g. a generated image.
func (r *renderer) finish(m chat.Message) {
	if m.Content != "" {
		fmt.Fprintf(r.out, "\n%s", m.Content)
	}
	if m.Attachment != nil {
		fmt.Fprintf(r.out, "\n[%s: %s]", m.Attachment.Type, m.Attachment.URL)
	}
	fmt.Fprintln(r.out)
}

// printHistory writes a loaded transcript in full.
func printHistory(out io.Writer, msgs []chat.Message) {
	for _, m := range msgs {
		prefix := "  "
		if m.Role == chat.RoleUser {
			prefix = "> "
		}
		fmt.Fprintf(out, "%s%s\n", prefix, m.Content)
		if m.Attachment != nil {
			fmt.Fprintf(out, "  [%s: %s]\n", m.Attachment.Type, m.Attachment.URL)
		}
	}
}
