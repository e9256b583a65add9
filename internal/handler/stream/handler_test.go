package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/lm-dialogue/internal/model/persona"
	chatservice "github.com/zhouzirui/lm-dialogue/internal/service/chat"
)

type staticCompleter string

func (s staticCompleter) Complete(context.Context, persona.Persona, string) string {
	return string(s)
}

func setup(reply string) (*chi.Mux, *chatservice.Service) {
	svc := chatservice.NewService(persona.NewMemoryStore(persona.Seed()), staticCompleter(reply), chatservice.WithDefaultPersona("assistant"))
	r := chi.NewRouter()
	New(svc).RegisterRoutes(r)
	return r, svc
}

func TestStreamEmitsEventsInOrder(t *testing.T) {
	r, svc := setup("Bien sûr")
	session, err := svc.CreateSession(context.Background(), "")
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/stream/"+session.ID+"?message="+url.QueryEscape("Peux-tu m'aider?"), nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	body := resp.Body.String()

	order := []string{"event: start", "event: user", "event: message", "event: end"}
	last := -1
	for _, marker := range order {
		idx := strings.Index(body, marker)
		if idx <= last {
			t.Fatalf("event %q missing or out of order in %s", marker, body)
		}
		last = idx
	}
	if !strings.Contains(body, `"content":"Bien sûr"`) {
		t.Fatalf("expected reply content in %s", body)
	}

	messages, _ := svc.LoadTranscript(context.Background(), session.ID)
	if len(messages) != 3 {
		t.Fatalf("expected greeting, user, reply; got %d", len(messages))
	}
}

func TestStreamRejections(t *testing.T) {
	r, svc := setup("ok")
	session, _ := svc.CreateSession(context.Background(), "")

	cases := []struct {
		name string
		path string
		want int
	}{
		{name: "missing message", path: "/stream/" + session.ID, want: http.StatusBadRequest},
		{name: "blank message", path: "/stream/" + session.ID + "?message=%20%20", want: http.StatusBadRequest},
		{name: "unknown session", path: "/stream/missing?message=hi", want: http.StatusNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := httptest.NewRecorder()
			r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, tc.path, nil))
			if resp.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, resp.Code)
			}
		})
	}
}
