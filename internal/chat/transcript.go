package chat

import (
	"net/url"
	"path"
)

const imageFailedNotice = "Image generation failed."

// Transcript is the ordered message list of one session plus the activity
// flags derived from it. It is not safe for concurrent use; the Manager
// only touches it from its loop goroutine.
type Transcript struct {
	msgs []Message
	// open is true while the trailing message is an assistant reply that
	// still accepts stream chunks.
	open      bool
	thinking  bool
	streaming bool
}

// Reset replaces the list, e.g. with freshly loaded history, and clears activity.
func (t *Transcript) Reset(msgs []Message) {
	t.msgs = append([]Message(nil), msgs...)
	t.open = false
	t.thinking = false
	t.streaming = false
}

// Messages returns a copy of the list.
func (t *Transcript) Messages() []Message {
	return append([]Message(nil), t.msgs...)
}

func (t *Transcript) Len() int { return len(t.msgs) }

func (t *Transcript) Thinking() bool  { return t.thinking }
func (t *Transcript) Streaming() bool { return t.streaming }

// GeneratingImage reports whether an image placeholder is still pending.
// Text streamed after the status frame may sit below it.
func (t *Transcript) GeneratingImage() bool {
	return t.placeholderIndex() >= 0
}

// Settled is true once nothing is streaming, thinking or generating.
func (t *Transcript) Settled() bool {
	return !t.thinking && !t.streaming && !t.GeneratingImage()
}

// AppendUser records an outbound user turn and starts the thinking indicator.
func (t *Transcript) AppendUser(m Message) {
	m.Role = RoleUser
	t.msgs = append(t.msgs, m)
	t.open = false
	t.thinking = true
}

// StopThinking clears the thinking indicator without touching the list.
func (t *Transcript) StopThinking() {
	t.thinking = false
}

// Stream folds one stream frame into the list. A non-empty chunk is merged
// into the trailing open assistant message when that message is not a
// placeholder and carries no attachment; otherwise it starts a new assistant
// message. done closes the message after its own chunk is applied.
func (t *Transcript) Stream(chunk string, done bool) (changed bool) {
	if chunk != "" {
		last := t.last()
		if t.open && last != nil && last.Role == RoleAssistant && !last.IsGeneratingImage && last.Attachment == nil {
			last.Content += chunk
		} else {
			t.msgs = append(t.msgs, Message{Role: RoleAssistant, Content: chunk})
			t.open = true
		}
		changed = true
		t.thinking = false
		t.streaming = true
	}
	if done {
		t.open = false
		t.thinking = false
		t.streaming = false
	}
	return changed
}

// Status inserts an image placeholder unless one is already pending.
func (t *Transcript) Status() (changed bool) {
	t.thinking = false
	if t.GeneratingImage() {
		return false
	}
	t.msgs = append(t.msgs, Message{Role: RoleAssistant, IsGeneratingImage: true})
	t.open = false
	return true
}

// Image promotes the pending placeholder, wherever it sits, to a finished
// image message, or appends one when no placeholder exists.
func (t *Transcript) Image(imageURL, caption string) {
	m := Message{
		Role:    RoleAssistant,
		Content: caption,
		Attachment: &Attachment{
			Name: imageName(imageURL),
			Type: AttachmentImage,
			URL:  imageURL,
		},
	}
	if i := t.placeholderIndex(); i >= 0 {
		m.ID = t.msgs[i].ID
		t.msgs[i] = m
	} else {
		t.msgs = append(t.msgs, m)
	}
	t.open = false
	t.thinking = false
	t.streaming = false
}

// Interrupt ends all activity after an error, a dropped socket or a
// teardown. A pending placeholder is replaced by a failure notice.
func (t *Transcript) Interrupt() (changed bool) {
	t.open = false
	t.thinking = false
	t.streaming = false
	if i := t.placeholderIndex(); i >= 0 {
		t.msgs[i] = Message{ID: t.msgs[i].ID, Role: RoleAssistant, Content: imageFailedNotice}
		return true
	}
	return false
}

// Remove deletes the message with the given id.
func (t *Transcript) Remove(id string) bool {
	for i := range t.msgs {
		if t.msgs[i].ID == id {
			if i == len(t.msgs)-1 {
				t.open = false
			}
			t.msgs = append(t.msgs[:i], t.msgs[i+1:]...)
			return true
		}
	}
	return false
}

func (t *Transcript) last() *Message {
	if len(t.msgs) == 0 {
		return nil
	}
	return &t.msgs[len(t.msgs)-1]
}

// placeholderIndex returns the index of the latest image placeholder, or -1.
func (t *Transcript) placeholderIndex() int {
	for i := len(t.msgs) - 1; i >= 0; i-- {
		if t.msgs[i].IsGeneratingImage {
			return i
		}
	}
	return -1
}

func imageName(raw string) string {
	if u, err := url.Parse(raw); err == nil {
		if name := path.Base(u.Path); name != "" && name != "." && name != "/" {
			return name
		}
	}
	return "generated-image"
}
