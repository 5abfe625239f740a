package flows

import (
	"io"
	"log/slog"
	"testing"

	"club-bot/internal/flowstate"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(nil, nil, nil, nil, nil, logger)
}

func TestApplyRegisterStepFullName(t *testing.T) {
	e := testEngine(t)

	state := map[string]string{flowstate.StepField: stepFullName}
	next, _, ok := e.applyRegisterStep(state, stepFullName, "ana maría pérez")
	if !ok || next != stepIDType {
		t.Fatalf("valid name rejected: next=%q ok=%v", next, ok)
	}
	if state[stepFullName] != "Ana María Pérez" {
		t.Fatalf("name not title-cased: %q", state[stepFullName])
	}

	for _, bad := range []string{"", "Ana", "Ana123 Pérez"} {
		if _, _, ok := e.applyRegisterStep(map[string]string{}, stepFullName, bad); ok {
			t.Fatalf("name %q should be rejected", bad)
		}
	}
}

func TestApplyRegisterStepIDType(t *testing.T) {
	e := testEngine(t)

	state := map[string]string{}
	next, _, ok := e.applyRegisterStep(state, stepIDType, "cc")
	if !ok || next != stepIDNumber {
		t.Fatalf("lowercase cc rejected: next=%q ok=%v", next, ok)
	}
	if state[stepIDType] != "CC" {
		t.Fatalf("id type not normalized: %q", state[stepIDType])
	}

	if _, _, ok := e.applyRegisterStep(map[string]string{}, stepIDType, "DNI"); ok {
		t.Fatal("unknown id type should be rejected")
	}
}

func TestApplyRegisterStepIDNumber(t *testing.T) {
	e := testEngine(t)

	if _, _, ok := e.applyRegisterStep(map[string]string{}, stepIDNumber, "1020304050"); !ok {
		t.Fatal("valid id number rejected")
	}
	for _, bad := range []string{"123", "12a45678", "1234567890123456"} {
		if _, _, ok := e.applyRegisterStep(map[string]string{}, stepIDNumber, bad); ok {
			t.Fatalf("id number %q should be rejected", bad)
		}
	}
}

func TestApplyRegisterStepBirthDate(t *testing.T) {
	e := testEngine(t)

	next, _, ok := e.applyRegisterStep(map[string]string{}, stepBirthDate, "14/03/1996")
	if !ok || next != stepMoreAbout {
		t.Fatalf("valid date rejected: next=%q ok=%v", next, ok)
	}
	for _, bad := range []string{"1996-03-14", "31/02/1996", "mañana"} {
		if _, _, ok := e.applyRegisterStep(map[string]string{}, stepBirthDate, bad); ok {
			t.Fatalf("date %q should be rejected", bad)
		}
	}
}

func TestApplyRegisterStepDataAuth(t *testing.T) {
	e := testEngine(t)

	for _, good := range []string{"AUTORIZO", "autorizo", " Autorizo "} {
		next, _, ok := e.applyRegisterStep(map[string]string{}, stepDataAuth, good)
		if !ok || next != "" {
			t.Fatalf("answer %q should complete the flow: next=%q ok=%v", good, next, ok)
		}
	}
	if _, _, ok := e.applyRegisterStep(map[string]string{}, stepDataAuth, "NO_AUTORIZO"); ok {
		t.Fatal("refusal must not complete the flow")
	}
}

func TestTitleCase(t *testing.T) {
	if got := titleCase("ANA maría PÉREZ"); got != "Ana María Pérez" {
		t.Fatalf("titleCase = %q", got)
	}
}
