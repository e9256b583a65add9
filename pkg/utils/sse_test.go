package utils

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSendSSEEvent(t *testing.T) {
	rr := httptest.NewRecorder()
	SetupSSEHeaders(rr)
	SendSSEEvent(rr, rr, "message", map[string]string{"text": "hi"})

	if ct := rr.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	want := "event: message\ndata: {\"text\":\"hi\"}\n\n"
	if got := rr.Body.String(); got != want {
		t.Fatalf("unexpected body %q, want %q", got, want)
	}
	if !rr.Flushed {
		t.Fatal("expected flush")
	}
}

func TestRespondError(t *testing.T) {
	rr := httptest.NewRecorder()
	RespondError(rr, http.StatusConflict, "busy")

	if rr.Code != http.StatusConflict {
		t.Fatalf("unexpected status %d", rr.Code)
	}
	if got := rr.Body.String(); got != "{\"error\":\"busy\"}\n" {
		t.Fatalf("unexpected body %q", got)
	}
}
