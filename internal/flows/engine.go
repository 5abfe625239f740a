// Package flows routes inbound WhatsApp messages and drives the
// multi-step conversational flows (join club, registration, opt-in,
// templated campaigns) on top of the flow state machine and the user
// record store.
package flows

import (
	"context"
	"log/slog"
	"strings"

	"club-bot/internal/flowstate"
	"club-bot/internal/metrics"
	"club-bot/internal/userstore"
	"club-bot/internal/wa"

	"go.mau.fi/whatsmeow/types/events"
)

// Flow names. Each has its own state keyspace and, where configured, its
// own inactivity supervisor.
const (
	FlowRegister = "register"
	FlowJoinClub = "join_club"
	FlowOptIn    = "optin"
)

// CancelKeyword aborts the registration flow at any step.
const CancelKeyword = "CANCELAR"

// Opt-out keywords recognized from active members.
var optOutKeywords = map[string]bool{"BAJA": true, "SALIR": true}

// Button aliases the transport quick-reply option.
type Button = wa.Button

// Sender delivers outbound messages; implemented by the wa client.
type Sender interface {
	SendText(ctx context.Context, waid, text string) error
	SendButtons(ctx context.Context, waid, body string, buttons []Button) error
}

// Responder is the external agent collaborator answering free-form
// messages from active members. Optional; without one the engine sends a
// static acknowledgment.
type Responder interface {
	Respond(ctx context.Context, waid, text string, threads map[string]string) (string, map[string]string, error)
}

// Engine owns flow routing and implements both the wa message processor
// and the supervisor notifier.
type Engine struct {
	users     *userstore.Store
	states    *flowstate.Machine
	sender    Sender
	responder Responder
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// New wires the engine. responder may be nil.
func New(users *userstore.Store, states *flowstate.Machine, sender Sender, responder Responder, m *metrics.Metrics, logger *slog.Logger) *Engine {
	return &Engine{
		users:     users,
		states:    states,
		sender:    sender,
		responder: responder,
		logger:    logger.With("component", "flows"),
		metrics:   m,
	}
}

// inbound is the transport-neutral view of one incoming message.
type inbound struct {
	waid     string
	text     string
	buttonID string
}

// ProcessMessage dispatches one WhatsApp event. Satisfies wa.MessageProcessor.
func (e *Engine) ProcessMessage(ctx context.Context, evt *events.Message) {
	in := extractInbound(evt)
	if in.waid == "" {
		return
	}
	if e.metrics != nil {
		e.metrics.WAIncomingMessages.WithLabelValues(messageKind(in)).Inc()
	}

	rec, err := e.users.Get(ctx, in.waid)
	if err != nil {
		e.logger.Error("resolve user failed", "waid", in.waid, "error", err)
		if e.metrics != nil {
			e.metrics.Errors.WithLabelValues("flows").Inc()
		}
		return
	}

	if rec != nil {
		e.handleRegistered(ctx, in, rec)
		return
	}
	e.handleUnregistered(ctx, in)
}

// handleRegistered applies routing precedence: opt-out state first, then
// an active template lock, then the normal conversation path.
func (e *Engine) handleRegistered(ctx context.Context, in inbound, rec *userstore.UserRecord) {
	switch {
	case rec.OptedOut():
		e.handleOptIn(ctx, in, rec)
	case rec.TemplateLockActive():
		e.handleTemplate(ctx, in, rec)
	default:
		e.handleActive(ctx, in, rec)
	}
}

func (e *Engine) handleUnregistered(ctx context.Context, in inbound) {
	inRegister, err := e.states.Exists(ctx, FlowRegister, in.waid)
	if err != nil {
		// Drop the message rather than greet a mid-flow user as new.
		e.logger.Error("check register state failed", "waid", in.waid, "error", err)
		return
	}
	if inRegister {
		e.handleRegister(ctx, in)
		return
	}
	inJoin, err := e.states.Exists(ctx, FlowJoinClub, in.waid)
	if err != nil {
		e.logger.Error("check join club state failed", "waid", in.waid, "error", err)
		return
	}
	if inJoin {
		e.handleJoinClub(ctx, in)
		return
	}
	e.startJoinClub(ctx, in.waid)
}

func (e *Engine) handleActive(ctx context.Context, in inbound, rec *userstore.UserRecord) {
	if optOutKeywords[strings.ToUpper(strings.TrimSpace(in.text))] {
		if err := e.users.OptOut(ctx, in.waid); err != nil {
			e.logger.Error("opt out failed", "waid", in.waid, "error", err)
			return
		}
		e.send(ctx, in.waid, "listo, no volveremos a escribirte con invitaciones del club. puedes volver cuando quieras, solo escríbenos. ☕")
		return
	}

	if in.text == "" {
		e.send(ctx, in.waid, "por ahora solo podemos leer mensajes de texto ☕")
		return
	}

	if e.responder == nil {
		name := firstName(rec.FullName)
		e.send(ctx, in.waid, "hola "+name+"! gracias por escribirnos, pronto te contamos de la próxima sesión. ☕🎵")
		return
	}

	reply, threads, err := e.responder.Respond(ctx, in.waid, in.text, rec.Threads)
	if err != nil {
		e.logger.Error("responder failed", "waid", in.waid, "error", err)
		if e.metrics != nil {
			e.metrics.Errors.WithLabelValues("flows").Inc()
		}
		e.send(ctx, in.waid, "se nos derramó el café 😅 inténtalo de nuevo en un momento.")
		return
	}
	if threads != nil {
		if err := e.users.SaveThreads(ctx, in.waid, threads); err != nil {
			e.logger.Error("save threads failed", "waid", in.waid, "error", err)
		}
	}
	e.send(ctx, in.waid, reply)
}

func (e *Engine) send(ctx context.Context, waid, text string) {
	if err := e.sender.SendText(ctx, waid, text); err != nil {
		e.logger.Error("send failed", "waid", waid, "error", err)
		if e.metrics != nil {
			e.metrics.Errors.WithLabelValues("flows").Inc()
		}
	}
}

func (e *Engine) sendButtons(ctx context.Context, waid, body string, buttons []Button) {
	if err := e.sender.SendButtons(ctx, waid, body, buttons); err != nil {
		e.logger.Error("send buttons failed", "waid", waid, "error", err)
		if e.metrics != nil {
			e.metrics.Errors.WithLabelValues("flows").Inc()
		}
	}
}

func extractInbound(evt *events.Message) inbound {
	in := inbound{}
	if evt == nil || evt.Message == nil {
		return in
	}
	in.waid = evt.Info.Sender.User

	msg := evt.Message
	switch {
	case msg.GetConversation() != "":
		in.text = msg.GetConversation()
	case msg.ExtendedTextMessage != nil:
		in.text = msg.GetExtendedTextMessage().GetText()
	case msg.ButtonsResponseMessage != nil:
		in.buttonID = msg.GetButtonsResponseMessage().GetSelectedButtonID()
		in.text = msg.GetButtonsResponseMessage().GetSelectedDisplayText()
	case msg.ListResponseMessage != nil:
		in.buttonID = msg.GetListResponseMessage().GetSingleSelectReply().GetSelectedRowID()
		in.text = msg.GetListResponseMessage().GetTitle()
	}
	return in
}

func messageKind(in inbound) string {
	if in.buttonID != "" {
		return "button"
	}
	if in.text != "" {
		return "text"
	}
	return "other"
}

func firstName(full string) string {
	parts := strings.Fields(full)
	if len(parts) == 0 {
		return ""
	}
	return parts[0]
}
