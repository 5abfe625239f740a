package flows

import (
	"context"
	"errors"
	"testing"

	"club-bot/internal/records"
)

var feedbackButtons = []Button{
	{ID: "GOOD", Title: "me encantó"},
	{ID: "BAD", Title: "puede mejorar"},
}

func TestStartTemplateLocksAndSends(t *testing.T) {
	rows := map[string]*records.Row{
		"573001": {ID: "rec-1", WAID: "573001", FullName: "Ana Pérez"},
	}
	e, sender, _, users, _ := harness(t, rows)
	ctx := context.Background()

	err := e.StartTemplate(ctx, "573001", "feedback_agosto", "¿cómo estuvo la sesión de anoche?", feedbackButtons)
	if err != nil {
		t.Fatalf("StartTemplate: %v", err)
	}

	if len(sender.sent) != 1 {
		t.Fatalf("expected one outgoing message, got %d", len(sender.sent))
	}
	if len(sender.sent[0].buttons) != 2 {
		t.Fatalf("template buttons not sent: %+v", sender.sent[0])
	}

	rec, err := users.Get(ctx, "573001")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !rec.TemplateLockActive() || rec.TemplateName != "feedback_agosto" {
		t.Fatalf("member not locked on the template: %+v", rec)
	}
}

func TestStartTemplateUnknownMember(t *testing.T) {
	e, sender, _, _, _ := harness(t, nil)

	err := e.StartTemplate(context.Background(), "573009", "feedback_agosto", "¿cómo estuvo?", nil)
	if !errors.Is(err, ErrUnknownMember) {
		t.Fatalf("expected ErrUnknownMember, got %v", err)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("nothing must be sent to unknown members, got %+v", sender.sent)
	}
}

func TestTemplateAnswerReleasesLock(t *testing.T) {
	rows := map[string]*records.Row{
		"573001": {ID: "rec-1", WAID: "573001", FullName: "Ana Pérez"},
	}
	e, sender, _, users, _ := harness(t, rows)
	ctx := context.Background()

	if err := e.StartTemplate(ctx, "573001", "feedback_agosto", "¿cómo estuvo la sesión?", feedbackButtons); err != nil {
		t.Fatalf("StartTemplate: %v", err)
	}

	rec, err := users.Get(ctx, "573001")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	// Routing precedence sends the locked member's answer to the
	// template handler.
	e.handleRegistered(ctx, inbound{waid: "573001", buttonID: "GOOD"}, rec)

	rec, err = users.Get(ctx, "573001")
	if err != nil {
		t.Fatalf("Get after answer: %v", err)
	}
	if rec.TemplateLockActive() || rec.TemplateName != "" {
		t.Fatalf("lock not released: %+v", rec)
	}
	if rec.Threads["template:feedback_agosto"] != "GOOD" {
		t.Fatalf("answer not stored: %v", rec.Threads)
	}
	if len(sender.sent) != 2 {
		t.Fatalf("expected template message plus acknowledgment, got %d", len(sender.sent))
	}
}
