package flows

import (
	"context"
	"io"
	"io/fs"
	"log/slog"
	"testing"
	"time"

	"club-bot/internal/cache"
	"club-bot/internal/flowstate"
	"club-bot/internal/limiter"
	"club-bot/internal/records"
	"club-bot/internal/userstore"

	"github.com/alicebob/miniredis/v2"
)

type sentMessage struct {
	waid    string
	body    string
	buttons []Button
}

type captureSender struct {
	sent []sentMessage
}

func (c *captureSender) SendText(ctx context.Context, waid, text string) error {
	c.sent = append(c.sent, sentMessage{waid: waid, body: text})
	return nil
}

func (c *captureSender) SendButtons(ctx context.Context, waid, body string, buttons []Button) error {
	c.sent = append(c.sent, sentMessage{waid: waid, body: body, buttons: buttons})
	return nil
}

type memberRows struct {
	rows map[string]*records.Row
}

func (m *memberRows) FindByWAID(ctx context.Context, waid string) (*records.Row, error) {
	return m.rows[waid], nil
}

func (m *memberRows) CreateBatch(ctx context.Context, items []records.CreateItem) ([]records.Created, error) {
	return nil, nil
}

func (m *memberRows) UpdateBatch(ctx context.Context, items []records.UpdateItem) error {
	return nil
}

func (m *memberRows) Ping(ctx context.Context) error { return nil }

func (m *memberRows) RunMigrations(ctx context.Context, filesystem fs.FS) error { return nil }

func (m *memberRows) Close() {}

type dropQueue struct{}

func (dropQueue) EnqueueCreate(records.CreateItem) {}

func (dropQueue) EnqueueUpdate(string, records.UpdateItem) {}

// harness wires a full engine over miniredis with a capturing sender.
func harness(t *testing.T, rows map[string]*records.Row) (*Engine, *captureSender, *flowstate.Machine, *userstore.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	redis := cache.New(cache.Config{Addr: mr.Addr()}, logger)
	t.Cleanup(func() { redis.Close() })

	users := userstore.New(redis, &memberRows{rows: rows}, limiter.New(1000), dropQueue{}, nil, nil, logger, time.Hour)
	states := flowstate.New(redis, logger, time.Hour)
	sender := &captureSender{}
	engine := New(users, states, sender, nil, nil, logger)
	return engine, sender, states, users, mr
}

func TestRegisterCancelKeyword(t *testing.T) {
	e, sender, states, _, _ := harness(t, nil)
	ctx := context.Background()

	if err := states.Start(ctx, FlowRegister, "573001", map[string]string{flowstate.StepField: stepFullName}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	e.handleRegister(ctx, inbound{waid: "573001", text: "cancelar"})

	exists, err := states.Exists(ctx, FlowRegister, "573001")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists {
		t.Fatal("cancel keyword must delete the registration state")
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected one cancellation message, got %d", len(sender.sent))
	}
}

func TestUnregisteredDroppedWhenStateCheckFails(t *testing.T) {
	e, sender, _, _, mr := harness(t, nil)

	// Redis going away mid-conversation must not restart onboarding.
	mr.Close()
	e.handleUnregistered(context.Background(), inbound{waid: "573001", text: "hola"})

	if len(sender.sent) != 0 {
		t.Fatalf("message must be dropped on state check failure, got %+v", sender.sent)
	}
}
