package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/veildoc/veildoc/internal/config"
	"github.com/veildoc/veildoc/internal/rules"
	"go.uber.org/zap"
)

// RuleStore persists the rule catalog in PostgreSQL so multiple
// deployments share one ordered rule set. File-based import/export
// remains the default; the store is opt-in.
type RuleStore struct {
	db     *sqlx.DB
	logger *zap.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS redaction_rules (
	position   INT PRIMARY KEY,
	rule_id    TEXT NOT NULL UNIQUE,
	name       TEXT NOT NULL,
	pattern    TEXT NOT NULL,
	example    TEXT NOT NULL,
	active     BOOLEAN NOT NULL DEFAULT FALSE,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

type ruleRow struct {
	Position int    `db:"position"`
	RuleID   string `db:"rule_id"`
	Name     string `db:"name"`
	Pattern  string `db:"pattern"`
	Example  string `db:"example"`
	Active   bool   `db:"active"`
}

// New connects to PostgreSQL and ensures the rules table exists.
func New(cfg *config.StoreConfig, logger *zap.Logger) (*RuleStore, error) {
	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	s := &RuleStore{db: db, logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to create rules table: %w", err)
	}

	logger.Info("Rule store initialized",
		zap.Int("max_open_conns", cfg.MaxOpenConns))

	return s, nil
}

// Save replaces the stored catalog with the given ordered records in one
// transaction.
func (s *RuleStore) Save(ctx context.Context, records []rules.Record) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM redaction_rules"); err != nil {
		return fmt.Errorf("failed to clear rules: %w", err)
	}

	const insert = `
		INSERT INTO redaction_rules (position, rule_id, name, pattern, example, active)
		VALUES ($1, $2, $3, $4, $5, $6)`
	for i, rec := range records {
		if _, err := tx.ExecContext(ctx, insert, i, rec.ID, rec.Name, rec.Pattern, rec.Example, rec.Active); err != nil {
			return fmt.Errorf("failed to insert rule %s: %w", rec.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rules: %w", err)
	}

	s.logger.Info("Rule catalog stored", zap.Int("rules", len(records)))
	return nil
}

// Load fetches the stored catalog in evaluation order.
func (s *RuleStore) Load(ctx context.Context) ([]rules.Record, error) {
	var rows []ruleRow
	if err := s.db.SelectContext(ctx, &rows,
		"SELECT position, rule_id, name, pattern, example, active FROM redaction_rules ORDER BY position"); err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	records := make([]rules.Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, rules.Record{
			ID:      row.RuleID,
			Name:    row.Name,
			Pattern: row.Pattern,
			Example: row.Example,
			Active:  row.Active,
		})
	}
	return records, nil
}

// Close releases the connection pool.
func (s *RuleStore) Close() error {
	return s.db.Close()
}
