package recorder

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"barflow/logger"
)

// SQLiteRecorder persists run history to a SQLite database.
type SQLiteRecorder struct {
	db  *sql.DB
	mu  sync.Mutex
	log *logger.Log
}

// NewSQLiteRecorder opens (or creates) the database and runs migrations.
func NewSQLiteRecorder(dbPath string, log *logger.Log) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db, log: log}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.WithComponent("recorder").WithFields(logger.Fields{"path": dbPath}).Info("sqlite recorder opened")
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id         TEXT PRIMARY KEY,
			started_at     INTEGER NOT NULL,
			finished_at    INTEGER NOT NULL,
			status_code    INTEGER NOT NULL,
			feature_status TEXT,
			feature_rows   INTEGER,
			processed      INTEGER,
			skipped        INTEGER,
			failed         INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at)`,

		`CREATE TABLE IF NOT EXISTS symbol_results (
			id      INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id  TEXT NOT NULL REFERENCES runs(run_id),
			symbol  TEXT NOT NULL,
			status  TEXT NOT NULL,
			row_count INTEGER,
			message TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_symbol_results_symbol ON symbol_results(symbol)`,
	}
	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (r *SQLiteRecorder) RecordRun(rec *RunRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := map[string]int{}
	for _, s := range rec.Symbols {
		counts[s.Status]++
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO runs
		(run_id, started_at, finished_at, status_code, feature_status, feature_rows, processed, skipped, failed)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		rec.RunID, rec.StartedAt.Unix(), rec.FinishedAt.Unix(), rec.StatusCode,
		rec.FeatureStatus, rec.FeatureRows,
		counts["processed"], counts["skipped"], counts["failed"],
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, s := range rec.Symbols {
		if _, err := tx.Exec(`INSERT INTO symbol_results
			(run_id, symbol, status, row_count, message)
			VALUES (?,?,?,?,?)`,
			rec.RunID, s.Symbol, s.Status, s.Rows, s.Message,
		); err != nil {
			return fmt.Errorf("insert symbol result: %w", err)
		}
	}
	return tx.Commit()
}

func (r *SQLiteRecorder) Close() error {
	r.log.WithComponent("recorder").Info("closing sqlite recorder")
	return r.db.Close()
}
