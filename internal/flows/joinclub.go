package flows

import (
	"context"

	"club-bot/internal/flowstate"
)

var joinButtons = []Button{
	{ID: "JOIN_CLUB", Title: "unirme al club"},
	{ID: "NOT_INTERESTED", Title: "no me interesa"},
}

// startJoinClub greets an unknown user and opens the join-club flow.
func (e *Engine) startJoinClub(ctx context.Context, waid string) {
	e.send(ctx, waid, "¡bienvenid*! ☕🎵\nveo que aún no haces parte del club.")

	state := map[string]string{flowstate.StepField: "menu"}
	if err := e.states.Start(ctx, FlowJoinClub, waid, state); err != nil {
		e.logger.Error("start join club flow failed", "waid", waid, "error", err)
		return
	}

	e.sendButtons(ctx, waid,
		"¿te gustaría unirte al club y ser parte de nuestra comunidad?\n\n"+
			"al unirte podrás:\n"+
			"🎥 acceder a nuestras sesiones en los mejores cafés de la ciudad.\n"+
			"☀️ vivir experiencias que conectan la música y el café.\n"+
			"🎧 descubrir artistas y conocer gente maravillosa.",
		joinButtons)
}

// handleJoinClub processes the join-club menu answer.
func (e *Engine) handleJoinClub(ctx context.Context, in inbound) {
	waid := in.waid

	if in.buttonID == "" {
		e.send(ctx, waid, "por favor selecciona alguna de las opciones del menú ☕")
		return
	}

	if err := e.states.Delete(ctx, FlowJoinClub, waid); err != nil {
		e.logger.Error("clear join club state failed", "waid", waid, "error", err)
	}

	switch in.buttonID {
	case "JOIN_CLUB":
		e.startRegister(ctx, waid)
	case "NOT_INTERESTED":
		e.send(ctx, waid, "entendido! si cambias de opinión solo escríbenos de nuevo. ☕")
	default:
		e.logger.Warn("unexpected join club answer", "waid", waid, "button", in.buttonID)
		e.send(ctx, waid, "por favor selecciona alguna de las opciones del menú ☕")
	}
}
