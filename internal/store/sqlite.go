package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// AuditStore keeps a durable log of ingestion runs and their per-item
// outcomes. It never holds chunk text or embeddings.
type AuditStore struct {
	db *sql.DB
}

func NewAuditStore(dataSourceName string) (*AuditStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &AuditStore{db: db}
	if err = store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *AuditStore) Close() error {
	return s.db.Close()
}

func (s *AuditStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS ingestion_runs (
        id TEXT PRIMARY KEY, -- UUID
        source TEXT NOT NULL,
        started_at DATETIME NOT NULL,
        finished_at DATETIME NOT NULL,
        error TEXT
    );

    CREATE TABLE IF NOT EXISTS ingestion_items (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        run_id TEXT NOT NULL,
        position INTEGER NOT NULL,
        source TEXT NOT NULL,
        chunk_id TEXT,
        status TEXT NOT NULL CHECK (status IN ('ingested', 'skipped', 'ignored')),
        reason TEXT,
        warning TEXT,
        FOREIGN KEY (run_id) REFERENCES ingestion_runs (id)
    );

    CREATE INDEX IF NOT EXISTS idx_ingestion_items_run ON ingestion_items (run_id, position);
    `
	_, err := s.db.Exec(schema)
	return err
}

// SaveRun writes a run and all of its items in one transaction.
func (s *AuditStore) SaveRun(ctx context.Context, run *IngestionRun) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"INSERT INTO ingestion_runs (id, source, started_at, finished_at, error) VALUES (?, ?, ?, ?, ?)",
		run.ID, run.Source, run.StartedAt, run.FinishedAt, nullString(run.Error))
	if err != nil {
		return fmt.Errorf("failed to insert ingestion run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO ingestion_items (run_id, position, source, chunk_id, status, reason, warning) VALUES (?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare ingestion item insert: %w", err)
	}
	defer stmt.Close()

	for i, item := range run.Items {
		_, err = stmt.ExecContext(ctx, run.ID, i, item.Source, nullString(item.ChunkID), item.Status, nullString(item.Reason), nullString(item.Warning))
		if err != nil {
			return fmt.Errorf("failed to insert ingestion item %s: %w", item.Source, err)
		}
	}
	return tx.Commit()
}

// LatestRun returns the most recently started run, or nil if none exist.
func (s *AuditStore) LatestRun(ctx context.Context) (*IngestionRun, error) {
	runs, err := s.ListRuns(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

// ListRuns returns up to limit runs, newest first, with their items.
func (s *AuditStore) ListRuns(ctx context.Context, limit int) ([]IngestionRun, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, source, started_at, finished_at, error FROM ingestion_runs ORDER BY started_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query ingestion runs: %w", err)
	}
	defer rows.Close()

	var runs []IngestionRun
	for rows.Next() {
		var run IngestionRun
		var runErr sql.NullString
		if err := rows.Scan(&run.ID, &run.Source, &run.StartedAt, &run.FinishedAt, &runErr); err != nil {
			return nil, fmt.Errorf("failed to scan ingestion run row: %w", err)
		}
		run.Error = runErr.String
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ingestion runs: %w", err)
	}

	for i := range runs {
		items, err := s.itemsForRun(ctx, runs[i].ID)
		if err != nil {
			return nil, err
		}
		runs[i].Items = items
	}
	return runs, nil
}

func (s *AuditStore) itemsForRun(ctx context.Context, runID string) ([]IngestionItem, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT source, chunk_id, status, reason, warning FROM ingestion_items WHERE run_id = ? ORDER BY position ASC", runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query ingestion items: %w", err)
	}
	defer rows.Close()

	items := []IngestionItem{}
	for rows.Next() {
		var item IngestionItem
		var chunkID, reason, warning sql.NullString
		if err := rows.Scan(&item.Source, &chunkID, &item.Status, &reason, &warning); err != nil {
			return nil, fmt.Errorf("failed to scan ingestion item row: %w", err)
		}
		item.ChunkID = chunkID.String
		item.Reason = reason.String
		item.Warning = warning.String
		items = append(items, item)
	}
	return items, rows.Err()
}

// PruneRuns deletes runs that finished before the cutoff.
func (s *AuditStore) PruneRuns(ctx context.Context, before time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, "DELETE FROM ingestion_items WHERE run_id IN (SELECT id FROM ingestion_runs WHERE finished_at < ?)", before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete ingestion items: %w", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM ingestion_runs WHERE finished_at < ?", before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete ingestion runs: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected, tx.Commit()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
