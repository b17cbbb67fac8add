package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
)

// PGStore keeps the history document in a single Postgres row, one row per
// logical history name. The read-full/write-full replace semantics match the
// registry's: the document is always swapped atomically.
type PGStore struct {
	db     *sqlx.DB
	name   string
	logger *slog.Logger
}

// NewPGStore creates a new PGStore instance and ensures the backing table
// exists.
func NewPGStore(ctx context.Context, db *sqlx.DB, name string, logger *slog.Logger) (*PGStore, error) {
	schema := `
		CREATE TABLE IF NOT EXISTS render_history (
			name       TEXT PRIMARY KEY,
			doc        JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to ensure render_history table: %w", err)
	}

	if name == "" {
		name = "default"
	}

	return &PGStore{db: db, name: name, logger: logger}, nil
}

func (s *PGStore) Load(ctx context.Context) ([]byte, error) {
	var doc []byte
	query := `SELECT doc FROM render_history WHERE name = $1`

	err := s.db.GetContext(ctx, &doc, query, s.name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load history row: %w", err)
	}
	return doc, nil
}

func (s *PGStore) Save(ctx context.Context, doc []byte) error {
	query := `
		INSERT INTO render_history (name, doc, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE
		SET doc = EXCLUDED.doc, updated_at = NOW()
	`

	if _, err := s.db.ExecContext(ctx, query, s.name, doc); err != nil {
		return fmt.Errorf("failed to save history row: %w", err)
	}

	s.logger.Debug("History document saved",
		slog.String("name", s.name),
		slog.Int("bytes", len(doc)),
	)
	return nil
}
