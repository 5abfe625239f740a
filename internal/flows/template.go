package flows

import (
	"context"
	"errors"
	"fmt"

	"club-bot/internal/userstore"
)

// ErrUnknownMember reports a campaign aimed at a waid without a member record.
var ErrUnknownMember = errors.New("unknown member")

// StartTemplate delivers the opening message of a templated campaign and
// locks the member on it. The next answer from the member is consumed by
// handleTemplate, which stores it and releases the lock.
func (e *Engine) StartTemplate(ctx context.Context, waid, template, body string, buttons []Button) error {
	rec, err := e.users.Get(ctx, waid)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("%w: %s", ErrUnknownMember, waid)
	}

	if len(buttons) > 0 {
		err = e.sender.SendButtons(ctx, waid, body, buttons)
	} else {
		err = e.sender.SendText(ctx, waid, body)
	}
	if err != nil {
		return fmt.Errorf("send template %s: %w", template, err)
	}

	if err := e.users.SetTemplateLock(ctx, waid, true, template); err != nil {
		return fmt.Errorf("lock template %s: %w", template, err)
	}

	e.logger.Info("template campaign started", "waid", waid, "template", template)
	return nil
}

// handleTemplate consumes the answer of a member locked on a templated
// campaign flow. Any answer resolves the template and releases the lock;
// the answer itself is kept on the user record for the campaign tooling.
func (e *Engine) handleTemplate(ctx context.Context, in inbound, rec *userstore.UserRecord) {
	waid := in.waid
	template := rec.TemplateName

	answer := in.buttonID
	if answer == "" {
		answer = in.text
	}
	if answer == "" {
		e.send(ctx, waid, "por favor responde con una de las opciones del mensaje ☕")
		return
	}

	threads := rec.Threads
	if threads == nil {
		threads = map[string]string{}
	}
	threads["template:"+template] = answer
	if err := e.users.SaveThreads(ctx, waid, threads); err != nil {
		e.logger.Error("save template answer failed", "waid", waid, "template", template, "error", err)
	}

	if err := e.users.SetTemplateLock(ctx, waid, false, ""); err != nil {
		e.logger.Error("release template lock failed", "waid", waid, "template", template, "error", err)
		return
	}

	e.logger.Info("template answered", "waid", waid, "template", template, "answer", answer)
	e.send(ctx, waid, "¡gracias por tu respuesta! ☕🎵")
}
