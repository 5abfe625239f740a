package records

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is the primary Store implementation.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	schema string
}

// NewPostgres opens a connection pool with the desired search_path.
func NewPostgres(ctx context.Context, databaseURL, schema string, logger *slog.Logger) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	if cfg.ConnConfig.RuntimeParams == nil {
		cfg.ConnConfig.RuntimeParams = map[string]string{}
	}
	if schema != "" {
		cfg.ConnConfig.RuntimeParams["search_path"] = schema
	}
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	s := &Postgres{
		pool:   pool,
		logger: logger.With("component", "records_pg"),
		schema: schema,
	}

	if err := s.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

// Close releases the connection pool.
func (s *Postgres) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping ensures the database is reachable.
func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// RunMigrations applies schema migrations on the connected database.
func (s *Postgres) RunMigrations(ctx context.Context, filesystem fs.FS) error {
	return applyPostgresMigrations(ctx, s.pool, filesystem)
}

const memberColumns = `id, waid, full_name, id_type, id_number, birth_date, preferences,
opt_status, opt_status_changed_at, agent_threads, template_status, template_name,
context_file_id, created_at, updated_at`

// FindByWAID fetches a member by WhatsApp id. Absence is not an error.
func (s *Postgres) FindByWAID(ctx context.Context, waid string) (*Row, error) {
	q := fmt.Sprintf(`SELECT %s FROM members WHERE waid = $1 LIMIT 1;`, memberColumns)
	row := s.pool.QueryRow(ctx, q, waid)

	var m Row
	err := row.Scan(&m.ID, &m.WAID, &m.FullName, &m.IDType, &m.IDNumber, &m.BirthDate,
		&m.Preferences, &m.OptStatus, &m.OptStatusChangedAt, &m.AgentThreads,
		&m.TemplateStatus, &m.TemplateName, &m.ContextFileID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find member by waid: %w", err)
	}
	return &m, nil
}

// CreateBatch inserts up to MaxBatchItems members in one transaction and
// returns the assigned record ids.
func (s *Postgres) CreateBatch(ctx context.Context, items []CreateItem) ([]Created, error) {
	if err := validateBatch(len(items)); err != nil {
		return nil, err
	}

	const q = `
INSERT INTO members (waid, full_name, id_type, id_number, birth_date, preferences, opt_status, opt_status_changed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
ON CONFLICT (waid) DO UPDATE SET
    full_name = EXCLUDED.full_name,
    id_type = EXCLUDED.id_type,
    id_number = EXCLUDED.id_number,
    birth_date = EXCLUDED.birth_date,
    preferences = EXCLUDED.preferences,
    updated_at = NOW()
RETURNING id, waid;
`
	created := make([]Created, 0, len(items))
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, item := range items {
			var c Created
			if err := tx.QueryRow(ctx, q,
				item.WAID, item.FullName, item.IDType, item.IDNumber,
				item.BirthDate, item.Preferences, item.OptStatus,
			).Scan(&c.RecordID, &c.WAID); err != nil {
				return fmt.Errorf("insert member %s: %w", item.WAID, err)
			}
			created = append(created, c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// UpdateBatch applies up to MaxBatchItems patches in one transaction.
func (s *Postgres) UpdateBatch(ctx context.Context, items []UpdateItem) error {
	if err := validateBatch(len(items)); err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, item := range items {
			set, args := buildPatch(item.Patch)
			if len(set) == 0 {
				continue
			}
			args = append(args, item.RecordID)
			q := fmt.Sprintf(`UPDATE members SET %s, updated_at = NOW() WHERE id = $%d;`,
				strings.Join(set, ", "), len(args))
			ct, err := tx.Exec(ctx, q, args...)
			if err != nil {
				return fmt.Errorf("update member %s: %w", item.RecordID, err)
			}
			if ct.RowsAffected() == 0 {
				s.logger.Warn("update targeted unknown record", "record_id", item.RecordID)
			}
		}
		return nil
	})
}

func buildPatch(p Patch) ([]string, []any) {
	var set []string
	var args []any
	add := func(column string, value any) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if p.OptStatus != nil {
		add("opt_status", *p.OptStatus)
	}
	if p.OptStatusChangedAt != nil {
		add("opt_status_changed_at", *p.OptStatusChangedAt)
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

// applyPostgresMigrations executes root-level SQL files in lexicographical order.
func applyPostgresMigrations(ctx context.Context, pool *pgxpool.Pool, filesystem fs.FS) error {
	entries, err := fs.ReadDir(filesystem, ".")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		sqlBytes, err := fs.ReadFile(filesystem, name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if len(sqlBytes) == 0 {
			continue
		}
		err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			_, execErr := tx.Exec(ctx, string(sqlBytes))
			return execErr
		})
		if err != nil {
			return fmt.Errorf("execute migration %s: %w", name, err)
		}
	}

	return nil
}
