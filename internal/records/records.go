package records

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"
)

// MaxBatchItems is the largest batch the store accepts in one call.
const MaxBatchItems = 10

// ErrBatchTooLarge is returned when a batch exceeds MaxBatchItems.
var ErrBatchTooLarge = errors.New("records: batch exceeds maximum size")

// Store is the backing record store for club members. It is the durable,
// slow system of record; every call is expected to go through the rate
// limiter. A nil row from FindByWAID means the member does not exist.
type Store interface {
	FindByWAID(ctx context.Context, waid string) (*Row, error)
	CreateBatch(ctx context.Context, items []CreateItem) ([]Created, error)
	UpdateBatch(ctx context.Context, items []UpdateItem) error

	Ping(ctx context.Context) error
	RunMigrations(ctx context.Context, filesystem fs.FS) error
	Close()
}

// Row is a member record as stored durably.
type Row struct {
	ID                 string
	WAID               string
	FullName           string
	IDType             string
	IDNumber           string
	BirthDate          string
	Preferences        string
	OptStatus          string
	OptStatusChangedAt *time.Time
	AgentThreads       string
	TemplateStatus     string
	TemplateName       string
	ContextFileID      string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// CreateItem carries the fields of a member to be created.
type CreateItem struct {
	WAID        string
	FullName    string
	IDType      string
	IDNumber    string
	BirthDate   string
	Preferences string
	OptStatus   string
}

// Created reports the durable id assigned to a freshly created member.
type Created struct {
	RecordID string
	WAID     string
}

// Patch lists the updatable member fields; nil pointers are left untouched.
type Patch struct {
	OptStatus          *string
	OptStatusChangedAt *time.Time
	AgentThreads       *string
	TemplateStatus     *string
	TemplateName       *string
	ContextFileID      *string
}

// UpdateItem targets one existing record by its durable id.
type UpdateItem struct {
	RecordID string
	Patch    Patch
}

// Config selects and configures a store implementation.
type Config struct {
	DatabaseURL string
	Schema      string
	SQLitePath  string
}

// New opens the Postgres store when a database URL is configured and falls
// back to the local SQLite store otherwise.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (Store, error) {
	if cfg.DatabaseURL != "" {
		return NewPostgres(ctx, cfg.DatabaseURL, cfg.Schema, logger)
	}
	if cfg.SQLitePath != "" {
		return NewSQLite(ctx, cfg.SQLitePath, logger)
	}
	return nil, fmt.Errorf("records: neither DATABASE_URL nor SQLITE_PATH configured")
}

func validateBatch(n int) error {
	if n > MaxBatchItems {
		return fmt.Errorf("%w: %d items", ErrBatchTooLarge, n)
	}
	return nil
}
