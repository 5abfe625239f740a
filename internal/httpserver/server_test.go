package httpserver

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"club-bot/internal/flows"
	"club-bot/internal/wa"
)

type fakeStarter struct {
	waid     string
	template string
	buttons  []wa.Button
	err      error
}

func (f *fakeStarter) StartTemplate(ctx context.Context, waid, template, body string, buttons []wa.Button) error {
	f.waid = waid
	f.template = template
	f.buttons = buttons
	return f.err
}

func testServer(t *testing.T, starter TemplateStarter) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(":0", logger, nil, "")
	s.SetDependencies(Dependencies{Templates: starter})
	return s
}

func TestTemplateSendStartsCampaign(t *testing.T) {
	starter := &fakeStarter{}
	s := testServer(t, starter)

	body := `{"waid":"573001","template":"feedback_agosto","body":"¿cómo estuvo?","buttons":[{"id":"GOOD","title":"me encantó"}]}`
	req := httptest.NewRequest(http.MethodPost, "/admin/templates/send", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.handleTemplateSend(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if starter.waid != "573001" || starter.template != "feedback_agosto" {
		t.Fatalf("starter not called with request data: %+v", starter)
	}
	if len(starter.buttons) != 1 || starter.buttons[0].ID != "GOOD" {
		t.Fatalf("buttons not forwarded: %+v", starter.buttons)
	}
}

func TestTemplateSendRejectsIncompleteBody(t *testing.T) {
	starter := &fakeStarter{}
	s := testServer(t, starter)

	req := httptest.NewRequest(http.MethodPost, "/admin/templates/send", strings.NewReader(`{"waid":"573001"}`))
	rec := httptest.NewRecorder()
	s.handleTemplateSend(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if starter.waid != "" {
		t.Fatal("starter must not be called on invalid input")
	}
}

func TestTemplateSendUnknownMember(t *testing.T) {
	starter := &fakeStarter{err: flows.ErrUnknownMember}
	s := testServer(t, starter)

	body := `{"waid":"573009","template":"feedback_agosto","body":"¿cómo estuvo?"}`
	req := httptest.NewRequest(http.MethodPost, "/admin/templates/send", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.handleTemplateSend(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
