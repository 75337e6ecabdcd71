package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWebhookNotifier_PostsAlert(t *testing.T) {
	var got Alert
	var idHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("method=%s ct=%s", r.Method, r.Header.Get("Content-Type"))
		}
		idHeader = r.Header.Get("X-Alert-ID")
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	a := NewAlert(AlertWarning, "deferred advance forced", "M5 waited 2m")
	if err := NewWebhookNotifier(srv.URL).Send(context.Background(), a); err != nil {
		t.Fatal(err)
	}
	if got.ID != a.ID || got.Level != AlertWarning || got.Message != "M5 waited 2m" {
		t.Errorf("received %+v", got)
	}
	if idHeader != a.ID {
		t.Errorf("X-Alert-ID = %q, want %q", idHeader, a.ID)
	}
}

func TestWebhookNotifier_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	err := NewWebhookNotifier(srv.URL).Send(context.Background(), NewAlert(AlertInfo, "t", "m"))
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Errorf("err = %v", err)
	}
}

func TestTelegramNotifier_EscapesMarkdown(t *testing.T) {
	var body map[string]string
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&body)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("TOKEN", "42")
	n.apiBase = srv.URL
	if err := n.Send(context.Background(), NewAlert(AlertCritical, "redis down", "circuit open (5 failures)")); err != nil {
		t.Fatal(err)
	}
	if path != "/botTOKEN/sendMessage" || body["chat_id"] != "42" {
		t.Errorf("path=%s body=%v", path, body)
	}
	if !strings.Contains(body["text"], `circuit open \(5 failures\)`) {
		t.Errorf("text = %q", body["text"])
	}
}

type failing struct{ calls int }

func (f *failing) Send(context.Context, Alert) error {
	f.calls++
	return errors.New("boom")
}

func TestMulti_SendsToAll(t *testing.T) {
	a, b := &failing{}, &failing{}
	err := Multi{a, NewLogNotifier(), b}.Send(context.Background(), NewAlert(AlertInfo, "t", "m"))
	if err == nil || a.calls != 1 || b.calls != 1 {
		t.Errorf("err=%v calls=%d/%d", err, a.calls, b.calls)
	}
}

func TestNewAlert_UniqueIDs(t *testing.T) {
	if NewAlert(AlertInfo, "a", "b").ID == NewAlert(AlertInfo, "a", "b").ID {
		t.Error("ids collide")
	}
}
