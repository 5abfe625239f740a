package wa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"club-bot/internal/metrics"

	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
	_ "modernc.org/sqlite"
)

// Config holds configuration to initialise the WhatsApp client.
type Config struct {
	StorePath string
	LogLevel  string
	Metrics   *metrics.Metrics
}

// MessageProcessor handles inbound WhatsApp messages.
type MessageProcessor interface {
	ProcessMessage(ctx context.Context, evt *events.Message)
}

// Client wraps the WhatsMeow client and associated dependencies.
type Client struct {
	client    *whatsmeow.Client
	logger    *slog.Logger
	metrics   *metrics.Metrics
	processor MessageProcessor
}

// New creates a new WhatsApp client instance backed by an SQLite store.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.StorePath == "" {
		return nil, errors.New("store path is required")
	}

	if err := ensureDir(filepath.Dir(cfg.StorePath)); err != nil {
		return nil, fmt.Errorf("ensure store dir: %w", err)
	}

	storeLogger := waLog.Stdout("whatsmeow/sqlstore", cfg.LogLevel, true)
	container, err := sqlstore.New(ctx, "sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout=10000&_pragma=foreign_keys(ON)", cfg.StorePath), storeLogger)
	if err != nil {
		return nil, fmt.Errorf("create sqlstore: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}

	waLogger := waLog.Stdout("whatsmeow/client", cfg.LogLevel, true)
	client := whatsmeow.NewClient(deviceStore, waLogger)

	wc := &Client{
		client:  client,
		logger:  logger.With("component", "wa"),
		metrics: cfg.Metrics,
	}
	client.AddEventHandler(wc.handleEvent)

	return wc, nil
}

// SetMessageProcessor registers the inbound message callback.
func (c *Client) SetMessageProcessor(processor MessageProcessor) {
	c.processor = processor
}

// Start connects the client and handles login/QR pairing flow.
func (c *Client) Start(ctx context.Context) error {
	if c.client.Store.ID == nil {
		c.logger.Info("pairing required, waiting for QR scan")
		qrChan, err := c.client.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("get qr channel: %w", err)
		}

		go func() {
			for evt := range qrChan {
				if evt.Event == "code" {
					c.logger.Info("scan the QR code with WhatsApp", "qr", evt.Code)
				} else {
					c.logger.Info("pairing event received", "event", evt.Event)
				}
			}
		}()
	}

	if err := c.client.Connect(); err != nil {
		return fmt.Errorf("connect wa client: %w", err)
	}

	c.logger.Info("whatsapp client connected")
	return nil
}

// Close disconnects the WhatsApp client.
func (c *Client) Close() {
	if c.client != nil {
		c.client.Disconnect()
	}
}

func (c *Client) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Message:
		c.handleMessage(v)
	case *events.Connected:
		c.logger.Info("device connected")
	case *events.Disconnected:
		c.logger.Warn("device disconnected")
	}
}

func (c *Client) handleMessage(evt *events.Message) {
	if evt.Message == nil {
		return
	}
	if evt.Info.IsFromMe || evt.Info.IsGroup {
		return
	}

	if c.processor != nil {
		go c.processor.ProcessMessage(context.Background(), evt)
	}
}

// SendText sends a plain text message to the user identified by waid.
func (c *Client) SendText(ctx context.Context, waid, text string) error {
	to := types.NewJID(waid, types.DefaultUserServer)
	message := &waProto.Message{
		Conversation: proto.String(text),
	}
	if _, err := c.client.SendMessage(ctx, to, message); err != nil {
		return fmt.Errorf("send text: %w", err)
	}
	if c.metrics != nil {
		c.metrics.WAOutgoingMessages.WithLabelValues("text").Inc()
	}
	return nil
}

// SendButtons sends a quick-reply button menu.
func (c *Client) SendButtons(ctx context.Context, waid, body string, buttons []Button) error {
	to := types.NewJID(waid, types.DefaultUserServer)

	msgButtons := make([]*waProto.ButtonsMessage_Button, 0, len(buttons))
	for _, b := range buttons {
		msgButtons = append(msgButtons, &waProto.ButtonsMessage_Button{
			ButtonID: proto.String(b.ID),
			ButtonText: &waProto.ButtonsMessage_Button_ButtonText{
				DisplayText: proto.String(b.Title),
			},
			Type: waProto.ButtonsMessage_Button_RESPONSE.Enum(),
		})
	}

	message := &waProto.Message{
		ButtonsMessage: &waProto.ButtonsMessage{
			ContentText: proto.String(body),
			Buttons:     msgButtons,
			HeaderType:  waProto.ButtonsMessage_EMPTY.Enum(),
		},
	}
	if _, err := c.client.SendMessage(ctx, to, message); err != nil {
		return fmt.Errorf("send buttons: %w", err)
	}
	if c.metrics != nil {
		c.metrics.WAOutgoingMessages.WithLabelValues("buttons").Inc()
	}
	return nil
}

// Button is one quick-reply option.
type Button struct {
	ID    string
	Title string
}

func ensureDir(dir string) error {
	if dir == "." || dir == "" {
		return nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, 0o755)
	}
	return nil
}
