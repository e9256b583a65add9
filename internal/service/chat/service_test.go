package chat_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	chatmodel "github.com/zhouzirui/lm-dialogue/internal/model/chat"
	"github.com/zhouzirui/lm-dialogue/internal/model/persona"
	chat "github.com/zhouzirui/lm-dialogue/internal/service/chat"
)

type fakeCompleter struct {
	mu      sync.Mutex
	reply   string
	calls   []string
	release chan struct{}
	entered chan struct{}
}

func (f *fakeCompleter) Complete(_ context.Context, _ persona.Persona, userText string) string {
	f.mu.Lock()
	f.calls = append(f.calls, userText)
	f.mu.Unlock()

	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	return f.reply
}

func newService(c chat.Completer) *chat.Service {
	return chat.NewService(persona.NewMemoryStore(persona.Seed()), c, chat.WithDefaultPersona("francais"))
}

func TestServiceGetSession(t *testing.T) {
	svc := newService(&fakeCompleter{})
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, "assistant")
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	got, err := svc.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetSession err: %v", err)
	}

	if got.ID != session.ID {
		t.Fatalf("unexpected session ID: got %s want %s", got.ID, session.ID)
	}
	if got.PersonaID != "assistant" {
		t.Fatalf("unexpected persona ID: got %s", got.PersonaID)
	}
}

func TestServiceGetSessionNotFound(t *testing.T) {
	svc := newService(&fakeCompleter{})
	ctx := context.Background()

	if _, err := svc.GetSession(ctx, "missing"); !errors.Is(err, chat.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestCreateSessionDefaultsAndGreeting(t *testing.T) {
	svc := newService(&fakeCompleter{})
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, "")
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}
	if session.PersonaID != "francais" {
		t.Fatalf("expected default persona, got %s", session.PersonaID)
	}

	messages, err := svc.LoadTranscript(ctx, session.ID)
	if err != nil {
		t.Fatalf("LoadTranscript err: %v", err)
	}
	if len(messages) != 1 || messages[0].Sender != chatmodel.SenderAI || messages[0].Text != "Bonjour! Comment puis-je vous aider?" {
		t.Fatalf("expected greeting message, got %+v", messages)
	}

	if _, err := svc.CreateSession(ctx, "unknown"); !errors.Is(err, chat.ErrPersonaNotFound) {
		t.Fatalf("expected ErrPersonaNotFound, got %v", err)
	}
}

func TestSubmitAppendsUserMessageAndClearsInput(t *testing.T) {
	svc := newService(&fakeCompleter{})
	ctx := context.Background()
	session, _ := svc.CreateSession(ctx, "")

	if err := svc.SetInput(ctx, session.ID, "Salut"); err != nil {
		t.Fatalf("SetInput err: %v", err)
	}

	before, _ := svc.LoadTranscript(ctx, session.ID)
	msg, err := svc.Submit(ctx, session.ID, "Salut")
	if err != nil {
		t.Fatalf("Submit err: %v", err)
	}

	view, _ := svc.Snapshot(ctx, session.ID)
	if len(view.Messages) != len(before)+1 {
		t.Fatalf("expected exactly one appended message, got %d -> %d", len(before), len(view.Messages))
	}
	last := view.Messages[len(view.Messages)-1]
	if last.ID != msg.ID || last.Sender != chatmodel.SenderUser || last.Text != "Salut" {
		t.Fatalf("unexpected last message %+v", last)
	}
	if view.Input != "" {
		t.Fatalf("expected input cleared, got %q", view.Input)
	}
	if !view.Pending() {
		t.Fatal("expected pending after submit")
	}
}

func TestSubmitBlankIsNoop(t *testing.T) {
	svc := newService(&fakeCompleter{})
	ctx := context.Background()
	session, _ := svc.CreateSession(ctx, "")
	_ = svc.SetInput(ctx, session.ID, "   ")

	for _, text := range []string{"", "   ", "\n\t "} {
		if _, err := svc.Submit(ctx, session.ID, text); !errors.Is(err, chat.ErrEmptyMessage) {
			t.Fatalf("Submit(%q) err = %v, want ErrEmptyMessage", text, err)
		}
	}

	view, _ := svc.Snapshot(ctx, session.ID)
	if len(view.Messages) != 1 {
		t.Fatalf("expected only the greeting, got %d messages", len(view.Messages))
	}
	if view.Pending() {
		t.Fatal("blank submit must not start a request")
	}
	if view.Input != "   " {
		t.Fatalf("blank submit must not touch input, got %q", view.Input)
	}
}

func TestSendAppendsReplyAfterUserMessage(t *testing.T) {
	completer := &fakeCompleter{reply: "X"}
	svc := newService(completer)
	ctx := context.Background()
	session, _ := svc.CreateSession(ctx, "")

	user, reply, err := svc.Send(ctx, session.ID, "question")
	if err != nil {
		t.Fatalf("Send err: %v", err)
	}
	if reply.Sender != chatmodel.SenderAI || reply.Text != "X" {
		t.Fatalf("unexpected reply %+v", reply)
	}

	messages, _ := svc.LoadTranscript(ctx, session.ID)
	n := len(messages)
	if n != 3 {
		t.Fatalf("expected greeting, user, reply; got %d messages", n)
	}
	if messages[n-2].ID != user.ID || messages[n-1].ID != reply.ID {
		t.Fatal("reply must directly follow the triggering user message")
	}
	if len(completer.calls) != 1 || completer.calls[0] != "question" {
		t.Fatalf("unexpected completer calls %v", completer.calls)
	}

	view, _ := svc.Snapshot(ctx, session.ID)
	if view.Pending() {
		t.Fatal("expected idle after reply")
	}
}

func TestFallbackReplyKeepsSessionUsable(t *testing.T) {
	completer := &fakeCompleter{reply: "Connection error: the inference server could not be reached."}
	svc := newService(completer)
	ctx := context.Background()
	session, _ := svc.CreateSession(ctx, "")

	if _, _, err := svc.Send(ctx, session.ID, "first"); err != nil {
		t.Fatalf("Send err: %v", err)
	}
	completer.reply = "second answer"
	if _, reply, err := svc.Send(ctx, session.ID, "second"); err != nil || reply.Text != "second answer" {
		t.Fatalf("second Send reply=%+v err=%v", reply, err)
	}

	messages, _ := svc.LoadTranscript(ctx, session.ID)
	if len(messages) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(messages))
	}
}

func TestSubmitWhilePendingIsRejected(t *testing.T) {
	completer := &fakeCompleter{reply: "late", release: make(chan struct{}), entered: make(chan struct{}, 1)}
	svc := newService(completer)
	ctx := context.Background()
	session, _ := svc.CreateSession(ctx, "")

	if _, err := svc.Submit(ctx, session.ID, "one"); err != nil {
		t.Fatalf("Submit err: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := svc.Respond(ctx, session.ID)
		done <- err
	}()
	<-completer.entered

	if _, err := svc.Submit(ctx, session.ID, "two"); !errors.Is(err, chat.ErrRequestPending) {
		t.Fatalf("expected ErrRequestPending, got %v", err)
	}
	if _, err := svc.Respond(ctx, session.ID); !errors.Is(err, chat.ErrNotPending) {
		t.Fatalf("expected concurrent Respond to be rejected, got %v", err)
	}
	if view, _ := svc.Snapshot(ctx, session.ID); !view.Pending() {
		t.Fatal("expected pending while completer is outstanding")
	}

	close(completer.release)
	if err := <-done; err != nil {
		t.Fatalf("Respond err: %v", err)
	}

	view, _ := svc.Snapshot(ctx, session.ID)
	if view.Pending() {
		t.Fatal("expected idle once the reply arrived")
	}
	if _, err := svc.Submit(ctx, session.ID, "two"); err != nil {
		t.Fatalf("Submit after reply err: %v", err)
	}
}

func TestRespondWithoutSubmit(t *testing.T) {
	svc := newService(&fakeCompleter{})
	ctx := context.Background()
	session, _ := svc.CreateSession(ctx, "")

	if _, err := svc.Respond(ctx, session.ID); !errors.Is(err, chat.ErrNotPending) {
		t.Fatalf("expected ErrNotPending, got %v", err)
	}
}

func TestAppendPreservesOrderAndUniqueIDs(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	svc := chat.NewService(persona.NewMemoryStore([]persona.Persona{{ID: "bare"}}), &fakeCompleter{},
		chat.WithClock(func() time.Time { return base }))
	ctx := context.Background()
	session, _ := svc.CreateSession(ctx, "bare")

	texts := []string{"a", "b", "c", "d"}
	for i, text := range texts {
		sender := chatmodel.SenderUser
		if i%2 == 1 {
			sender = chatmodel.SenderAI
		}
		if _, err := svc.Append(ctx, session.ID, sender, text); err != nil {
			t.Fatalf("Append err: %v", err)
		}
	}
	if _, err := svc.Append(ctx, session.ID, chatmodel.Sender("system"), "x"); !errors.Is(err, chat.ErrInvalidSender) {
		t.Fatalf("expected ErrInvalidSender, got %v", err)
	}

	messages, _ := svc.LoadTranscript(ctx, session.ID)
	seen := make(map[string]bool)
	for i, msg := range messages {
		if msg.Text != texts[i] {
			t.Fatalf("message %d = %q, want %q", i, msg.Text, texts[i])
		}
		if seen[msg.ID] {
			t.Fatalf("duplicate id %s", msg.ID)
		}
		seen[msg.ID] = true
		if !msg.CreatedAt.Equal(base) {
			t.Fatalf("unexpected timestamp %s", msg.CreatedAt)
		}
	}
}

func TestSubscribeReceivesLatestView(t *testing.T) {
	svc := newService(&fakeCompleter{reply: "pong"})
	ctx := context.Background()
	session, _ := svc.CreateSession(ctx, "")

	views, cancel, err := svc.Subscribe(ctx, session.ID)
	if err != nil {
		t.Fatalf("Subscribe err: %v", err)
	}
	defer cancel()

	if _, _, err := svc.Send(ctx, session.ID, "ping"); err != nil {
		t.Fatalf("Send err: %v", err)
	}

	select {
	case v := <-views:
		if v.Pending() || len(v.Messages) != 3 || v.Messages[2].Text != "pong" {
			t.Fatalf("expected latest idle view with reply, got %+v", v)
		}
	case <-time.After(time.Second):
		t.Fatal("no view published")
	}
}

func TestEndSessionClosesSubscriptions(t *testing.T) {
	svc := newService(&fakeCompleter{})
	ctx := context.Background()
	session, _ := svc.CreateSession(ctx, "")

	views, cancel, _ := svc.Subscribe(ctx, session.ID)
	defer cancel()

	if err := svc.EndSession(ctx, session.ID); err != nil {
		t.Fatalf("EndSession err: %v", err)
	}
	if _, ok := <-views; ok {
		t.Fatal("expected closed channel")
	}
	if _, err := svc.Snapshot(ctx, session.ID); !errors.Is(err, chat.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRespondAfterEndSessionDropsReply(t *testing.T) {
	completer := &fakeCompleter{reply: "too late", release: make(chan struct{}), entered: make(chan struct{}, 1)}
	svc := newService(completer)
	ctx := context.Background()
	session, _ := svc.CreateSession(ctx, "")

	if _, err := svc.Submit(ctx, session.ID, "hello"); err != nil {
		t.Fatalf("Submit err: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := svc.Respond(ctx, session.ID)
		done <- err
	}()

	<-completer.entered
	if err := svc.EndSession(ctx, session.ID); err != nil {
		t.Fatalf("EndSession err: %v", err)
	}
	close(completer.release)

	select {
	case err := <-done:
		if !errors.Is(err, chat.ErrSessionNotFound) {
			t.Fatalf("expected ErrSessionNotFound, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Respond did not return")
	}

	if _, err := svc.LoadTranscript(ctx, session.ID); !errors.Is(err, chat.ErrSessionNotFound) {
		t.Fatalf("expected the session to stay gone, got %v", err)
	}
}
