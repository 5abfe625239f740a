package flows

import "context"

// FlowReminder implements supervisor.Notifier: nudge an inactive user.
// The prompt for the pending step is repeated when known.
func (e *Engine) FlowReminder(ctx context.Context, flow, waid, step string) {
	msg := "¿sigues ahí? estamos esperando tu respuesta."
	if flow == FlowRegister {
		if prompt, ok := registerPrompts[step]; ok {
			msg = "¿sigues ahí? estamos esperando tu respuesta para: " + prompt +
				"\nel registro se cancelará pronto si no hay respuesta."
		} else {
			msg = "¿sigues ahí? tu registro se cancelará pronto si no hay respuesta."
		}
	}
	e.send(ctx, waid, msg)
}

// FlowCancelled implements supervisor.Notifier: tell the user the flow
// was cancelled for inactivity.
func (e *Engine) FlowCancelled(ctx context.Context, flow, waid string) {
	msg := "la conversación fue cancelada por inactividad. escríbenos para comenzar de nuevo."
	if flow == FlowRegister {
		msg = "el registro fue cancelado por inactividad. por favor, comienza de nuevo."
	}
	e.send(ctx, waid, msg)
}
