package flows

import (
	"context"
	"time"

	"club-bot/internal/flowstate"
	"club-bot/internal/userstore"
)

var optInButtons = []Button{
	{ID: "OPT_IN", Title: "regresar al club"},
	{ID: "KEEP_OUT", Title: "seguir por fuera"},
}

// handleOptIn runs when an opted-out member writes in: offer re-entry,
// then apply their answer.
func (e *Engine) handleOptIn(ctx context.Context, in inbound, rec *userstore.UserRecord) {
	waid := in.waid

	exists, err := e.states.Exists(ctx, FlowOptIn, waid)
	if err != nil {
		e.logger.Error("check optin state failed", "waid", waid, "error", err)
		return
	}

	if !exists {
		state := map[string]string{
			flowstate.StepField: "menu",
			"opt_out_date":      rec.OptStatusChangedAt,
		}
		if err := e.states.Start(ctx, FlowOptIn, waid, state); err != nil {
			e.logger.Error("start optin flow failed", "waid", waid, "error", err)
			return
		}

		body := "hola " + firstName(rec.FullName) + ", " + optOutSince(rec.OptStatusChangedAt) +
			" decidiste salirte del club y por eso no te hemos vuelto a escribir.\n\n¿te gustaría volver?"
		e.sendButtons(ctx, waid, body, optInButtons)
		return
	}

	if in.buttonID == "" {
		e.send(ctx, waid, "por favor selecciona una de las opciones del menú ☕")
		return
	}

	switch in.buttonID {
	case "OPT_IN":
		if err := e.users.SetOptStatus(ctx, waid, userstore.StatusOptIn); err != nil {
			e.logger.Error("opt in failed", "waid", waid, "error", err)
			return
		}
		e.send(ctx, waid, "¡qué alegría tenerte de vuelta! 🎉\n\na partir de ahora volverás a recibir nuestras invitaciones. ☕🎵")
	case "KEEP_OUT":
		e.send(ctx, waid, "entendido, respetamos tu decisión.\nrecuerda que puedes volver cuando quieras, solo escríbenos. ☕")
	default:
		e.send(ctx, waid, "por favor selecciona una de las opciones del menú ☕")
		return
	}

	if err := e.states.Delete(ctx, FlowOptIn, waid); err != nil {
		e.logger.Error("clear optin state failed", "waid", waid, "error", err)
	}
}

func optOutSince(stamp string) string {
	t, err := time.Parse(time.RFC3339, stamp)
	if err != nil {
		return "hace un tiempo"
	}
	return "el " + t.Format("02/01/2006")
}
