package flows

import (
	"context"
	"regexp"
	"strings"
	"time"

	"club-bot/internal/flowstate"
	"club-bot/internal/userstore"
)

// Registration steps, advanced one user answer at a time.
const (
	stepFullName  = "full_name"
	stepIDType    = "id_type"
	stepIDNumber  = "id_number"
	stepBirthDate = "birth_date"
	stepMoreAbout = "more_about"
	stepDataAuth  = "data_auth"
)

var registerPrompts = map[string]string{
	stepFullName:  "por favor ingresa tu nombre completo:",
	stepIDType:    "selecciona tu tipo de documento:\n- CC (Cédula de Ciudadanía)\n- CE (Cédula de Extranjería)\n- PASAPORTE",
	stepIDNumber:  "ingresa tu número de documento:",
	stepBirthDate: "ingresa tu fecha de nacimiento (DD/MM/AAAA):",
	stepMoreAbout: "¡queremos conocerte mejor!\n\ncuéntanos:\n- 🎶 ¿qué música te gusta?\n- 🎧 ¿qué artistas sigues?\n- 🍷 ¿tienes un gusto particular por alguna bebida?",
	stepDataAuth:  "para terminar, autoriza el tratamiento de tus datos.\n\nsi deseas cancelar tu registro puedes escribir 'CANCELAR'.",
}

var (
	idTypes     = map[string]bool{"CC": true, "CE": true, "PASAPORTE": true}
	idNumberRe  = regexp.MustCompile(`^\d{5,15}$`)
	fullNameRe  = regexp.MustCompile(`^[\p{L} .'-]+$`)
	dataAuthRe  = regexp.MustCompile(`(?i)^\s*autorizo\s*$`)
	authButtons = []Button{
		{ID: "AUTORIZO", Title: "autorizo"},
		{ID: "NO_AUTORIZO", Title: "no autorizo"},
	}
)

// startRegister opens the registration flow at its first step.
func (e *Engine) startRegister(ctx context.Context, waid string) {
	state := map[string]string{flowstate.StepField: stepFullName}
	if err := e.states.Start(ctx, FlowRegister, waid, state); err != nil {
		e.logger.Error("start register flow failed", "waid", waid, "error", err)
		return
	}
	e.send(ctx, waid, "¡genial! vamos a registrarte.\n\n"+registerPrompts[stepFullName])
}

// handleRegister advances the registration flow with one user answer.
func (e *Engine) handleRegister(ctx context.Context, in inbound) {
	waid := in.waid
	state, err := e.states.Get(ctx, FlowRegister, waid)
	if err != nil {
		e.logger.Error("load register state failed", "waid", waid, "error", err)
		return
	}
	if len(state) == 0 {
		e.logger.Error("register flow message without state", "waid", waid)
		return
	}

	if strings.EqualFold(strings.TrimSpace(in.text), CancelKeyword) {
		if err := e.states.Delete(ctx, FlowRegister, waid); err != nil {
			e.logger.Error("cancel register flow failed", "waid", waid, "error", err)
		}
		e.send(ctx, waid, "cancelaste tu registro. ninguno de tus datos fue guardado.\n\npuedes unirte cuando quieras, solo escríbenos de nuevo. 🎵")
		return
	}

	step := state[flowstate.StepField]
	answer := strings.TrimSpace(in.text)
	if in.buttonID != "" {
		answer = in.buttonID
	}

	next, reply, ok := e.applyRegisterStep(state, step, answer)
	if !ok {
		// Invalid answer: re-prompt without advancing; the Set below
		// still refreshes last_active so the supervisor sees activity.
		if err := e.states.Set(ctx, FlowRegister, waid, state); err != nil {
			e.logger.Error("save register state failed", "waid", waid, "error", err)
		}
		e.send(ctx, waid, reply)
		return
	}

	if next == "" {
		e.completeRegister(ctx, waid, state)
		return
	}

	state[flowstate.StepField] = next
	if err := e.states.Set(ctx, FlowRegister, waid, state); err != nil {
		e.logger.Error("save register state failed", "waid", waid, "error", err)
		return
	}
	if next == stepDataAuth {
		e.sendButtons(ctx, waid, reply, authButtons)
		return
	}
	e.send(ctx, waid, reply)
}

// applyRegisterStep validates the answer for the current step, stores it
// into the state bag and returns the next step ("" when the flow is
// done), the outgoing reply, and whether the answer was accepted.
func (e *Engine) applyRegisterStep(state map[string]string, step, answer string) (string, string, bool) {
	switch step {
	case stepFullName:
		if answer == "" || len(strings.Fields(answer)) < 2 || !fullNameRe.MatchString(answer) {
			return "", "por favor ingresa tu nombre completo (nombres y apellidos, solo letras).", false
		}
		state[stepFullName] = titleCase(answer)
		return stepIDType, registerPrompts[stepIDType], true

	case stepIDType:
		up := strings.ToUpper(answer)
		if !idTypes[up] {
			return "", "tipo de documento no válido. " + registerPrompts[stepIDType], false
		}
		state[stepIDType] = up
		return stepIDNumber, registerPrompts[stepIDNumber], true

	case stepIDNumber:
		if !idNumberRe.MatchString(answer) {
			return "", "el número de documento debe tener solo dígitos (5 a 15).", false
		}
		state[stepIDNumber] = answer
		return stepBirthDate, registerPrompts[stepBirthDate], true

	case stepBirthDate:
		if _, err := time.Parse("02/01/2006", answer); err != nil {
			return "", "fecha no válida, usa el formato DD/MM/AAAA.", false
		}
		state[stepBirthDate] = answer
		return stepMoreAbout, registerPrompts[stepMoreAbout], true

	case stepMoreAbout:
		if answer == "" {
			return "", registerPrompts[stepMoreAbout], false
		}
		state[stepMoreAbout] = answer
		return stepDataAuth, registerPrompts[stepDataAuth], true

	case stepDataAuth:
		if answer == "AUTORIZO" || dataAuthRe.MatchString(answer) {
			return "", "", true
		}
		return "", "necesitamos tu autorización para terminar. escribe 'autorizo' o usa el botón.", false

	default:
		e.logger.Error("unknown register step", "step", step)
		return "", registerPrompts[stepFullName], false
	}
}

func (e *Engine) completeRegister(ctx context.Context, waid string, state map[string]string) {
	reg := userstore.Registration{
		FullName:  state[stepFullName],
		IDType:    state[stepIDType],
		IDNumber:  state[stepIDNumber],
		BirthDate: state[stepBirthDate],
		MoreAbout: state[stepMoreAbout],
	}
	if _, err := e.users.Create(ctx, waid, reg); err != nil {
		e.logger.Error("create member failed", "waid", waid, "error", err)
		e.send(ctx, waid, "algo salió mal guardando tu registro, inténtalo de nuevo en un momento.")
		return
	}
	if err := e.states.Delete(ctx, FlowRegister, waid); err != nil {
		e.logger.Error("clear register state failed", "waid", waid, "error", err)
	}

	e.send(ctx, waid, "¡bienvenid* al club! 🎉☕🎵\n\n"+
		"- te avisaremos de cada sesión por este medio.\n"+
		"- puedes escribirnos a cualquier hora.\n"+
		"- puedes eliminar tus datos cuando quieras, solo háznoslo saber.")
	e.logger.Info("registration completed", "waid", waid)
}

func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		r := []rune(w)
		r[0] = []rune(strings.ToUpper(string(r[0])))[0]
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
