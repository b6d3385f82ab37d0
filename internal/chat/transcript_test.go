package chat

import "testing"

func TestStreamCoalescesChunks(t *testing.T) {
	var tr Transcript
	tr.AppendUser(Message{ID: "u1", Content: "hi"})
	if !tr.Thinking() {
		t.Fatal("expected thinking after user turn")
	}

	tr.Stream("Hel", false)
	if tr.Thinking() || !tr.Streaming() {
		t.Errorf("after first chunk: thinking=%v streaming=%v", tr.Thinking(), tr.Streaming())
	}
	tr.Stream("lo", false)
	tr.Stream(" world", true)

	msgs := tr.Messages()
	if len(msgs) != 2 {
		t.Fatalf("len = %d, want 2: %+v", len(msgs), msgs)
	}
	if msgs[1].Role != RoleAssistant || msgs[1].Content != "Hello world" {
		t.Errorf("assistant = %+v, want Hello world", msgs[1])
	}
	if tr.Streaming() || tr.Thinking() || !tr.Settled() {
		t.Error("expected settled after done")
	}
}

func TestStreamAfterDoneStartsNewMessage(t *testing.T) {
	var tr Transcript
	tr.Stream("first", true)
	tr.Stream("second", false)

	msgs := tr.Messages()
	if len(msgs) != 2 || msgs[0].Content != "first" || msgs[1].Content != "second" {
		t.Errorf("got %+v", msgs)
	}
}

func TestStreamEmptyDoneOnlyCloses(t *testing.T) {
	var tr Transcript
	tr.Stream("a", false)
	if changed := tr.Stream("", true); changed {
		t.Error("empty done frame should not change the list")
	}
	if tr.Streaming() {
		t.Error("still streaming after done")
	}
	tr.Stream("b", false)
	if tr.Len() != 2 {
		t.Errorf("chunk after close should start a new message, len = %d", tr.Len())
	}
}

func TestStreamDoesNotMergeIntoUserOrAttachment(t *testing.T) {
	var tr Transcript
	tr.AppendUser(Message{Content: "q"})
	tr.Stream("a", false)
	tr.AppendUser(Message{Content: "q2"})
	tr.Stream("b", false)

	msgs := tr.Messages()
	if len(msgs) != 4 || msgs[3].Content != "b" || msgs[1].Content != "a" {
		t.Errorf("got %+v", msgs)
	}

	tr.Image("https://x/img.png", "cap")
	tr.Stream("tail", false)
	msgs = tr.Messages()
	if last := msgs[len(msgs)-1]; last.Content != "tail" || last.Attachment != nil {
		t.Errorf("chunk merged into image message: %+v", msgs)
	}
}

func TestStatusIsIdempotent(t *testing.T) {
	var tr Transcript
	tr.AppendUser(Message{Content: "/image cat"})

	if !tr.Status() {
		t.Fatal("first status should add a placeholder")
	}
	if tr.Status() {
		t.Error("second status should not add another placeholder")
	}
	if tr.Len() != 2 || !tr.GeneratingImage() || tr.Thinking() {
		t.Errorf("len=%d generating=%v thinking=%v", tr.Len(), tr.GeneratingImage(), tr.Thinking())
	}
}

func TestImageReplacesPlaceholder(t *testing.T) {
	var tr Transcript
	tr.AppendUser(Message{Content: "/image cat"})
	tr.Status()
	tr.Image("https://cdn.example.com/gen/cat.png?sig=1", "a cat")

	msgs := tr.Messages()
	if len(msgs) != 2 {
		t.Fatalf("len = %d, want 2", len(msgs))
	}
	img := msgs[1]
	if img.IsGeneratingImage || img.Content != "a cat" || img.Attachment == nil {
		t.Fatalf("image message = %+v", img)
	}
	if img.Attachment.Type != AttachmentImage || img.Attachment.Name != "cat.png" {
		t.Errorf("attachment = %+v", img.Attachment)
	}
	if !tr.Settled() {
		t.Error("expected settled")
	}
}

func TestImageWithoutPlaceholderAppends(t *testing.T) {
	var tr Transcript
	tr.AppendUser(Message{Content: "draw"})
	tr.Image("/generated/x.png", "")

	msgs := tr.Messages()
	if len(msgs) != 2 || msgs[1].Attachment == nil || msgs[1].Attachment.URL != "/generated/x.png" {
		t.Errorf("got %+v", msgs)
	}
}

func TestInterruptResolvesPlaceholder(t *testing.T) {
	var tr Transcript
	tr.AppendUser(Message{Content: "/image cat"})
	tr.Status()
	if !tr.Interrupt() {
		t.Fatal("expected change")
	}
	msgs := tr.Messages()
	if msgs[1].IsGeneratingImage || msgs[1].Content != imageFailedNotice {
		t.Errorf("placeholder = %+v", msgs[1])
	}
	if tr.Interrupt() {
		t.Error("second interrupt should be a no-op")
	}
}

func TestImageResolvesPlaceholderAboveStreamedText(t *testing.T) {
	var tr Transcript
	tr.AppendUser(Message{Content: "/image cat"})
	tr.Status()
	tr.Stream("Generating your image", false)
	tr.Stream("", true)

	if !tr.GeneratingImage() || tr.Settled() {
		t.Fatal("placeholder below streamed text should still be pending")
	}
	if tr.Status() {
		t.Error("status with a pending placeholder should not add another")
	}

	tr.Image("/generated/cat.png", "a cat")
	msgs := tr.Messages()
	if len(msgs) != 3 {
		t.Fatalf("len = %d, want 3: %+v", len(msgs), msgs)
	}
	if msgs[1].IsGeneratingImage || msgs[1].Attachment == nil || msgs[1].Content != "a cat" {
		t.Errorf("placeholder not promoted in place: %+v", msgs[1])
	}
	if msgs[2].Content != "Generating your image" || msgs[2].Attachment != nil {
		t.Errorf("streamed text = %+v", msgs[2])
	}
	if tr.GeneratingImage() || !tr.Settled() {
		t.Error("expected settled after image")
	}
}

func TestInterruptResolvesPlaceholderAboveStreamedText(t *testing.T) {
	var tr Transcript
	tr.AppendUser(Message{Content: "/image cat"})
	tr.Status()
	tr.Stream("Working on it", true)

	if !tr.Interrupt() {
		t.Fatal("expected change")
	}
	for i, m := range tr.Messages() {
		if m.IsGeneratingImage {
			t.Errorf("message %d still a placeholder after interrupt", i)
		}
	}
	if msgs := tr.Messages(); msgs[1].Content != imageFailedNotice || msgs[2].Content != "Working on it" {
		t.Errorf("got %+v", msgs)
	}
}

func TestRemove(t *testing.T) {
	var tr Transcript
	tr.Reset([]Message{{ID: "a", Role: RoleUser}, {ID: "b", Role: RoleAssistant, Content: "x"}})
	if !tr.Remove("a") || tr.Remove("a") {
		t.Error("Remove should succeed exactly once")
	}
	if tr.Len() != 1 || tr.Messages()[0].ID != "b" {
		t.Errorf("got %+v", tr.Messages())
	}
}

func TestMessagesReturnsCopy(t *testing.T) {
	var tr Transcript
	tr.Stream("a", false)
	msgs := tr.Messages()
	msgs[0].Content = "mutated"
	if tr.Messages()[0].Content != "a" {
		t.Error("Messages leaked internal slice")
	}
}
