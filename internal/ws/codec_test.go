package ws

import (
	"encoding/json"
	"testing"
)

func TestDecodeStreamFieldFallbacks(t *testing.T) {
	tests := []struct {
		raw  string
		text string
		done bool
	}{
		{`{"type":"stream","content":"Hel"}`, "Hel", false},
		{`{"type":"stream","chunk":"lo"}`, "lo", false},
		{`{"type":"stream","text":" world","done":true}`, " world", true},
		{`{"type":"stream","content":"","chunk":"x"}`, "x", false},
		{`{"type":"stream","done":true}`, "", true},
	}
	for _, tt := range tests {
		f, ok := Decode([]byte(tt.raw))
		if !ok {
			t.Fatalf("Decode(%s) dropped", tt.raw)
		}
		if f.Type != TypeStream || f.Text != tt.text || f.Done != tt.done {
			t.Errorf("Decode(%s) = %+v, want text=%q done=%v", tt.raw, f, tt.text, tt.done)
		}
	}
}

func TestDecodeImageGenerated(t *testing.T) {
	f, ok := Decode([]byte(`{"type":"image_generated","image_url":"https://x/cat.png","revised_prompt":"a cat"}`))
	if !ok {
		t.Fatal("image_generated dropped")
	}
	if f.ImageURL != "https://x/cat.png" || f.Text != "a cat" {
		t.Errorf("got %+v", f)
	}

	f, ok = Decode([]byte(`{"type":"image_generated","image_url":"u","content":"caption","revised_prompt":"other"}`))
	if !ok || f.Text != "caption" {
		t.Errorf("content should win over revised_prompt, got %+v", f)
	}

	if _, ok := Decode([]byte(`{"type":"image_generated","content":"no url"}`)); ok {
		t.Error("image_generated without image_url should be dropped")
	}
}

func TestDecodeTitleFrames(t *testing.T) {
	f, ok := Decode([]byte(`{"type":"title_generated","title":"Trip plans"}`))
	if !ok || f.Title != "Trip plans" {
		t.Errorf("title_generated: got %+v ok=%v", f, ok)
	}

	f, ok = Decode([]byte(`{"type":"session_updated","session":{"title":"Renamed"}}`))
	if !ok || f.Type != TypeSessionUpdated || f.Title != "Renamed" {
		t.Errorf("session_updated: got %+v ok=%v", f, ok)
	}

	if _, ok := Decode([]byte(`{"type":"session_updated","session":{}}`)); ok {
		t.Error("session_updated without title should be dropped")
	}
}

func TestDecodeErrorAndStatus(t *testing.T) {
	f, ok := Decode([]byte(`{"type":"error","message":"quota"}`))
	if !ok || f.Text != "quota" {
		t.Errorf("error: got %+v ok=%v", f, ok)
	}
	f, ok = Decode([]byte(`{"type":"status"}`))
	if !ok || f.Type != TypeStatus {
		t.Errorf("status: got %+v ok=%v", f, ok)
	}
}

func TestDecodeMalformedResilience(t *testing.T) {
	for _, raw := range []string{
		``,
		`not json`,
		`{"type":`,
		`[]`,
		`{}`,
		`{"content":"no type"}`,
		`{"type":"mystery","content":"x"}`,
		`{"type":42}`,
		`{"type":"auth","token":"t"}`,
	} {
		if f, ok := Decode([]byte(raw)); ok {
			t.Errorf("Decode(%q) = %+v, want dropped", raw, f)
		}
	}
}

func TestEncodeMessageShape(t *testing.T) {
	data, err := Encode(MessageFrame("hello", "gpt-x", "openai", nil))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["type"] != "message" || got["content"] != "hello" || got["model"] != "gpt-x" || got["provider"] != "openai" {
		t.Errorf("unexpected message payload: %s", data)
	}
	ids, ok := got["file_ids"].([]any)
	if !ok || len(ids) != 0 {
		t.Errorf("file_ids = %v, want empty array", got["file_ids"])
	}
}

func TestEncodeAuthShape(t *testing.T) {
	data, err := Encode(AuthFrame("tok", "s1"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := `{"type":"auth","token":"tok","session_id":"s1"}`
	if string(data) != want {
		t.Errorf("auth = %s, want %s", data, want)
	}
}

func TestEncodeDecodeServerFrames(t *testing.T) {
	frames := []Frame{
		{Type: TypeStream, Text: "chunk", Done: true},
		{Type: TypeStatus, Text: "generating image"},
		{Type: TypeImageGenerated, ImageURL: "/img.png", Text: "caption"},
		{Type: TypeTitleGenerated, Title: "T"},
		{Type: TypeSessionUpdated, Title: "U"},
		{Type: TypeError, Text: "bad"},
		{Type: TypeMessage, Text: "hi", Model: "m", Provider: "p", FileIDs: []string{"f1"}},
	}
	for _, want := range frames {
		data, err := Encode(want)
		if err != nil {
			t.Fatalf("Encode(%s): %v", want.Type, err)
		}
		got, ok := Decode(data)
		if !ok {
			t.Fatalf("Decode(%s) dropped", data)
		}
		if got.Type != want.Type || got.Text != want.Text || got.Done != want.Done ||
			got.ImageURL != want.ImageURL || got.Title != want.Title {
			t.Errorf("%s: got %+v, want %+v", want.Type, got, want)
		}
	}

	if _, err := Encode(Frame{Type: "bogus"}); err == nil {
		t.Error("expected error encoding unknown type")
	}
}
