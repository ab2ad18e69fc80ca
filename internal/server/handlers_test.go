package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/tjfontaine/callscreen/internal/domain"
	"github.com/tjfontaine/callscreen/internal/session"
)

type fakeProfiles struct {
	byNumber map[string]domain.UserProfile
}

func (f *fakeProfiles) ProfileByAssistantNumber(ctx context.Context, number string) (*domain.UserProfile, error) {
	p, ok := f.byNumber[number]
	if !ok {
		return nil, fmt.Errorf("no user owns assistant number %s", number)
	}
	return &p, nil
}

func newTestServer(t *testing.T, maxSessions int) (*Server, *session.Registry) {
	t.Helper()
	registry := session.NewRegistry(maxSessions)
	profiles := &fakeProfiles{byNumber: map[string]domain.UserProfile{
		"+15550002222": {ID: "user-1", FullName: "Sam Doe", AssistantNumber: "+15550002222"},
	}}

	srv := New(Config{
		Port:      8080,
		StreamURL: "wss://assistant.example/calls/audio-stream",
	}, Deps{
		Registry: registry,
		Profiles: profiles,
		NewSession: func(callID, callerNumber string, profile domain.UserProfile) *session.Session {
			return session.New(callID, callerNumber, profile, session.Config{}, session.Deps{Logger: slog.Default()})
		},
		Logger: slog.Default(),
	})
	return srv, registry
}

func postWebhook(t *testing.T, srv *Server, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/calls/inbound", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, req)
	return rec
}

func inboundForm(callID string) url.Values {
	return url.Values{
		"CallSid": {callID},
		"From":    {"+15550001111"},
		"To":      {"+15550002222"},
	}
}

func TestHandleInboundCall_AnswersWithStream(t *testing.T) {
	srv, registry := newTestServer(t, 4)

	rec := postWebhook(t, srv, inboundForm("CA1"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/xml" {
		t.Errorf("Content-Type = %q, want text/xml", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `<Stream url="wss://assistant.example/calls/audio-stream">`) {
		t.Errorf("body = %q, want Connect/Stream twiml", body)
	}
	if _, ok := registry.Lookup("CA1"); !ok {
		t.Error("call not admitted to registry")
	}
}

func TestHandleInboundCall_UnknownNumberRejected(t *testing.T) {
	srv, registry := newTestServer(t, 4)

	form := inboundForm("CA1")
	form.Set("To", "+15559999999")
	rec := postWebhook(t, srv, form)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (twiml reject)", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "<Reject") {
		t.Errorf("body = %q, want Reject twiml", rec.Body.String())
	}
	if registry.Len() != 0 {
		t.Errorf("registry.Len() = %d, want 0", registry.Len())
	}
}

func TestHandleInboundCall_CapacityRejectedBusy(t *testing.T) {
	srv, _ := newTestServer(t, 1)

	if rec := postWebhook(t, srv, inboundForm("CA1")); rec.Code != http.StatusOK {
		t.Fatalf("first call status = %d, want 200", rec.Code)
	}
	rec := postWebhook(t, srv, inboundForm("CA2"))

	if !strings.Contains(rec.Body.String(), `reason="busy"`) {
		t.Errorf("body = %q, want busy Reject at capacity", rec.Body.String())
	}
}

func TestHandleInboundCall_DuplicateRejected(t *testing.T) {
	srv, registry := newTestServer(t, 4)

	postWebhook(t, srv, inboundForm("CA1"))
	rec := postWebhook(t, srv, inboundForm("CA1"))

	if !strings.Contains(rec.Body.String(), "<Reject") {
		t.Errorf("body = %q, want Reject for duplicate call", rec.Body.String())
	}
	if registry.Len() != 1 {
		t.Errorf("registry.Len() = %d, want 1", registry.Len())
	}
}

func TestHandleInboundCall_MissingFields(t *testing.T) {
	srv, _ := newTestServer(t, 4)

	rec := postWebhook(t, srv, url.Values{"From": {"+15550001111"}})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestServer(t, 4)
	postWebhook(t, srv, inboundForm("CA1"))

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Status         string `json:"status"`
		ActiveSessions int    `json:"active_sessions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
	if body.ActiveSessions != 1 {
		t.Errorf("active_sessions = %d, want 1", body.ActiveSessions)
	}
}
