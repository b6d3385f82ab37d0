package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ehrlich-b/wingchat/internal/chat"
)

func messagesEvent(msgs ...chat.Message) chat.Event {
	return chat.Event{Type: chat.EventMessagesChanged, Snapshot: chat.Snapshot{Messages: msgs}}
}

func TestRendererStreamsIncrementally(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf)

	user := chat.Message{Role: chat.RoleUser, Content: "hi"}
	r.handle(messagesEvent(user))
	r.handle(messagesEvent(user, chat.Message{Role: chat.RoleAssistant, Content: "You "}))
	r.handle(messagesEvent(user, chat.Message{Role: chat.RoleAssistant, Content: "You said"}))
	r.handle(messagesEvent(user, chat.Message{Role: chat.RoleAssistant, Content: "You said hi"}))

	if got, want := buf.String(), "\nYou said hi"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestRendererImagePlaceholder(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf)

	user := chat.Message{Role: chat.RoleUser, Content: "/image cat"}
	r.handle(messagesEvent(user, chat.Message{Role: chat.RoleAssistant, IsGeneratingImage: true}))
	r.handle(messagesEvent(user, chat.Message{
		Role:       chat.RoleAssistant,
		Content:    "a cat",
		Attachment: &chat.Attachment{Name: "cat.png", Type: chat.AttachmentImage, URL: "/generated/cat.png"},
	}))

	want := "\n[generating image...]\na cat\n[image: /generated/cat.png]\n"
	if got := buf.String(); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestRendererPlaceholderAboveStreamedText(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf)

	user := chat.Message{Role: chat.RoleUser, Content: "/image cat"}
	placeholder := chat.Message{Role: chat.RoleAssistant, IsGeneratingImage: true}
	text := chat.Message{Role: chat.RoleAssistant, Content: "Working"}
	r.handle(messagesEvent(user, placeholder))
	r.handle(messagesEvent(user, placeholder, text))
	r.handle(messagesEvent(user, chat.Message{
		Role:       chat.RoleAssistant,
		Content:    "a cat",
		Attachment: &chat.Attachment{Type: chat.AttachmentImage, URL: "/generated/cat.png"},
	}, text))

	want := "\n[generating image...]\nWorking\na cat\n[image: /generated/cat.png]\n"
	if got := buf.String(); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestRendererSyncSkipsHistory(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf)

	history := []chat.Message{
		{Role: chat.RoleUser, Content: "old"},
		{Role: chat.RoleAssistant, Content: "old reply"},
	}
	r.pause()
	r.handle(messagesEvent(history...))
	r.sync(chat.Snapshot{Messages: history, Title: "Old"})
	r.handle(chat.Event{Type: chat.EventTitleChanged, Snapshot: chat.Snapshot{Title: "Old"}})

	if buf.Len() != 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}

	r.handle(chat.Event{Type: chat.EventTitleChanged, Snapshot: chat.Snapshot{Title: "New"}})
	r.handle(chat.Event{Type: chat.EventFailure, Err: errors.New("boom")})
	if got, want := buf.String(), "\n[title: New]\n\nerror: boom\n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestRendererShrinkResyncs(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf)

	a := chat.Message{Role: chat.RoleAssistant, Content: "one"}
	b := chat.Message{Role: chat.RoleAssistant, Content: "two"}
	r.handle(messagesEvent(a, b))
	buf.Reset()

	r.handle(messagesEvent(a))
	r.handle(messagesEvent(a, chat.Message{Role: chat.RoleAssistant, Content: "three"}))
	if got, want := buf.String(), "\nthree"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestQuiet(t *testing.T) {
	if err := quiet(&chat.TransportError{Err: errors.New("x")}); err != nil {
		t.Errorf("transport error should be quiet, got %v", err)
	}
	if err := quiet(&chat.UploadError{Name: "a", Err: errors.New("x")}); err != nil {
		t.Errorf("upload error should be quiet, got %v", err)
	}
	if err := quiet(chat.ErrNoSession); !errors.Is(err, chat.ErrNoSession) {
		t.Errorf("quiet(ErrNoSession) = %v", err)
	}
}
