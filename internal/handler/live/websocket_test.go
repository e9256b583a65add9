package live

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/lm-dialogue/internal/model/chat"
	"github.com/zhouzirui/lm-dialogue/internal/model/persona"
	chatservice "github.com/zhouzirui/lm-dialogue/internal/service/chat"
)

type upperCompleter struct{}

func (upperCompleter) Complete(_ context.Context, _ persona.Persona, userText string) string {
	return strings.ToUpper(userText)
}

type viewFrame struct {
	Type      string    `json:"type"`
	SessionID string    `json:"sessionId"`
	Data      chat.View `json:"data"`
}

func dial(t *testing.T) (*websocket.Conn, *chatservice.Service, string) {
	t.Helper()

	svc := chatservice.NewService(persona.NewMemoryStore(persona.Seed()), upperCompleter{}, chatservice.WithDefaultPersona("assistant"))
	session, err := svc.CreateSession(context.Background(), "")
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	r := chi.NewRouter()
	NewWebSocketHandler(svc).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + session.ID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial err: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, svc, session.ID
}

func readUntil(t *testing.T, conn *websocket.Conn, done func(viewFrame) bool) viewFrame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var frame viewFrame
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("ReadJSON err: %v", err)
		}
		if frame.Type == "view" && done(frame) {
			return frame
		}
	}
}

func TestWebSocketSendsInitialViewAndReply(t *testing.T) {
	conn, _, sessionID := dial(t)

	first := readUntil(t, conn, func(viewFrame) bool { return true })
	if first.SessionID != sessionID || len(first.Data.Messages) != 1 {
		t.Fatalf("unexpected initial view %+v", first)
	}

	if err := conn.WriteJSON(inboundMessage{Type: "send", Text: "hello"}); err != nil {
		t.Fatalf("WriteJSON err: %v", err)
	}

	final := readUntil(t, conn, func(f viewFrame) bool {
		return !f.Data.Pending() && len(f.Data.Messages) == 3
	})
	msgs := final.Data.Messages
	if msgs[1].Sender != chat.SenderUser || msgs[1].Text != "hello" {
		t.Fatalf("unexpected user message %+v", msgs[1])
	}
	if msgs[2].Sender != chat.SenderAI || msgs[2].Text != "HELLO" {
		t.Fatalf("unexpected reply %+v", msgs[2])
	}
}

func TestWebSocketInputFrameUpdatesStore(t *testing.T) {
	conn, svc, sessionID := dial(t)
	readUntil(t, conn, func(viewFrame) bool { return true })

	if err := conn.WriteJSON(inboundMessage{Type: "input", Text: "typing"}); err != nil {
		t.Fatalf("WriteJSON err: %v", err)
	}
	readUntil(t, conn, func(f viewFrame) bool { return f.Data.Input == "typing" })

	input, err := svc.Input(context.Background(), sessionID)
	if err != nil || input != "typing" {
		t.Fatalf("unexpected input %q err %v", input, err)
	}
}

func TestWebSocketUnknownSession(t *testing.T) {
	svc := chatservice.NewService(persona.NewMemoryStore(persona.Seed()), upperCompleter{})
	r := chi.NewRouter()
	NewWebSocketHandler(svc).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/missing", nil)
	if err == nil {
		t.Fatal("expected dial failure")
	}
	if resp == nil || resp.StatusCode != 404 {
		t.Fatalf("expected 404 response, got %+v", resp)
	}
}
