package records

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLite is the local fallback Store implementation for development runs.
type SQLite struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLite opens a new connection to the SQLite database.
func NewSQLite(ctx context.Context, databasePath string, logger *slog.Logger) (*SQLite, error) {
	path := strings.TrimSpace(databasePath)
	if path == "" {
		return nil, fmt.Errorf("sqlite database path is empty")
	}
	// Busy timeout and WAL mode are recommended for SQLite concurrency.
	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	dsn = fmt.Sprintf("%s%s_pragma=busy_timeout=10000&_pragma=journal_mode=WAL&_pragma=foreign_keys=ON", dsn, sep)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLite{
		db:     db,
		logger: logger.With("component", "records_sqlite"),
	}, nil
}

// Close releases the database connection.
func (s *SQLite) Close() {
	if s.db != nil {
		s.db.Close()
	}
}

// Ping ensures the database is reachable.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// RunMigrations applies the SQLite schema from the embedded filesystem.
func (s *SQLite) RunMigrations(ctx context.Context, filesystem fs.FS) error {
	sqlContent, err := fs.ReadFile(filesystem, "sqlite/001_init.sql")
	if err != nil {
		return fmt.Errorf("read migration: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, string(sqlContent)); err != nil {
		return fmt.Errorf("apply migration: %w", err)
	}
	return nil
}

// FindByWAID fetches a member by WhatsApp id. Absence is not an error.
func (s *SQLite) FindByWAID(ctx context.Context, waid string) (*Row, error) {
	const q = `
SELECT id, waid, full_name, id_type, id_number, birth_date, preferences,
       opt_status, opt_status_changed_at, agent_threads, template_status, template_name,
       context_file_id, created_at, updated_at
FROM members WHERE waid = ? LIMIT 1;
`
	row := s.db.QueryRowContext(ctx, q, waid)

	var m Row
	var changedAt sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&m.ID, &m.WAID, &m.FullName, &m.IDType, &m.IDNumber, &m.BirthDate,
		&m.Preferences, &m.OptStatus, &changedAt, &m.AgentThreads,
		&m.TemplateStatus, &m.TemplateName, &m.ContextFileID, &createdAt, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find member by waid: %w", err)
	}

	if changedAt.Valid {
		if t, err := time.Parse(time.RFC3339, changedAt.String); err == nil {
			m.OptStatusChangedAt = &t
		}
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		m.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		m.UpdatedAt = t
	}
	return &m, nil
}

// CreateBatch inserts up to MaxBatchItems members in one transaction.
func (s *SQLite) CreateBatch(ctx context.Context, items []CreateItem) ([]Created, error) {
	if err := validateBatch(len(items)); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	const q = `
INSERT INTO members (id, waid, full_name, id_type, id_number, birth_date, preferences, opt_status, opt_status_changed_at, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (waid) DO UPDATE SET
    full_name = excluded.full_name,
    id_type = excluded.id_type,
    id_number = excluded.id_number,
    birth_date = excluded.birth_date,
    preferences = excluded.preferences,
    updated_at = excluded.updated_at;
`
	now := time.Now().UTC().Format(time.RFC3339)
	created := make([]Created, 0, len(items))
	for _, item := range items {
		id := uuid.NewString()
		if _, err := tx.ExecContext(ctx, q,
			id, item.WAID, item.FullName, item.IDType, item.IDNumber,
			item.BirthDate, item.Preferences, item.OptStatus, now, now, now,
		); err != nil {
			return nil, fmt.Errorf("insert member %s: %w", item.WAID, err)
		}

		// The upsert keeps the original id on conflict, so read it back.
		var recordID string
		if err := tx.QueryRowContext(ctx, `SELECT id FROM members WHERE waid = ?;`, item.WAID).Scan(&recordID); err != nil {
			return nil, fmt.Errorf("read back member %s: %w", item.WAID, err)
		}
		created = append(created, Created{RecordID: recordID, WAID: item.WAID})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create batch: %w", err)
	}
	return created, nil
}

// UpdateBatch applies up to MaxBatchItems patches in one transaction.
func (s *SQLite) UpdateBatch(ctx context.Context, items []UpdateItem) error {
	if err := validateBatch(len(items)); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, item := range items {
		set, args := buildSQLitePatch(item.Patch)
		if len(set) == 0 {
			continue
		}
		q := fmt.Sprintf(`UPDATE members SET %s, updated_at = ? WHERE id = ?;`, strings.Join(set, ", "))
		args = append(args, time.Now().UTC().Format(time.RFC3339), item.RecordID)
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return fmt.Errorf("update member %s: %w", item.RecordID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			s.logger.Warn("update targeted unknown record", "record_id", item.RecordID)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update batch: %w", err)
	}
	return nil
}

func buildSQLitePatch(p Patch) ([]string, []any) {
	var set []string
	var args []any
	add := func(column string, value any) {
		set = append(set, column+" = ?")
		args = append(args, value)
	}
	if p.OptStatus != nil {
		add("opt_status", *p.OptStatus)
	}
	if p.OptStatusChangedAt != nil {
		add("opt_status_changed_at", p.OptStatusChangedAt.UTC().Format(time.RFC3339))
	}
	if p.AgentThreads != nil {
		add("agent_threads", *p.AgentThreads)
	}
	if p.TemplateStatus != nil {
		add("template_status", *p.TemplateStatus)
	}
	if p.TemplateName != nil {
		add("template_name", *p.TemplateName)
	}
	if p.ContextFileID != nil {
		add("context_file_id", *p.ContextFileID)
	}
	return set, args
}
