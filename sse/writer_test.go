package sse

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWriter_SendEvent(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewWriter(rec)
	if w == nil {
		t.Fatal("recorder supports flushing")
	}

	if err := w.SendEvent("token", map[string]string{"content": "hi"}); err != nil {
		t.Fatal(err)
	}
	if err := w.SendComment("keep-alive"); err != nil {
		t.Fatal(err)
	}

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	want := "event: token\ndata: {\"content\":\"hi\"}\n\n: keep-alive\n\n"
	if got := rec.Body.String(); got != want {
		t.Fatalf("unexpected body\n got: %q\nwant: %q", got, want)
	}
}

func TestWriter_MarshalError(t *testing.T) {
	w := NewWriter(httptest.NewRecorder())
	if err := w.SendEvent("bad", func() {}); err == nil {
		t.Fatal("expected marshal error")
	}
}

type plainWriter struct{ http.ResponseWriter }

func TestNewWriter_NoFlusher(t *testing.T) {
	if NewWriter(plainWriter{httptest.NewRecorder()}) != nil {
		t.Fatal("expected nil writer without http.Flusher")
	}
}
