// Package storage persists the copy journal: every dispatched decision
// and its confirmed outcome. Audit only; the position ledger is rebuilt
// from live broker queries, never from here.
package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/glebarez/go-sqlite"

	"trade_copier/internal/domain"
	"trade_copier/pkg/quant"
)

// CopyJournal handles persistent storage of copy records in SQLite.
type CopyJournal struct {
	db *sql.DB
}

// NewCopyJournal creates a SQLite journal with WAL mode enabled.
func NewCopyJournal(dbPath string) (*CopyJournal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA cache_size=-2000;", // 2MB cache
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS copies (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			action TEXT NOT NULL,
			master_position_id INTEGER NOT NULL,
			symbol_id INTEGER NOT NULL,
			requested_volume INTEGER NOT NULL,
			accepted INTEGER NOT NULL,
			slave_position_id INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			attempts INTEGER NOT NULL DEFAULT 1
		);
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create copies table: %w", err)
	}

	// KV metadata: session markers, schema version, last epoch.
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS metadata (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata table: %w", err)
	}

	return &CopyJournal{db: db}, nil
}

// Record stores one dispatch outcome.
func (j *CopyJournal) Record(ctx context.Context, rec domain.CopyRecord) error {
	accepted := 0
	if rec.Accepted {
		accepted = 1
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO copies (ts, action, master_position_id, symbol_id, requested_volume, accepted, slave_position_id, error, attempts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(rec.Timestamp), rec.Action, rec.MasterPositionID, rec.SymbolID,
		int64(rec.RequestedVolume), accepted, rec.SlavePositionID, rec.Error, rec.Attempts,
	)
	if err != nil {
		return fmt.Errorf("failed to insert copy record: %w", err)
	}
	return nil
}

// RecentRecords returns the latest records, newest first.
func (j *CopyJournal) RecentRecords(ctx context.Context, limit int) ([]domain.CopyRecord, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT ts, action, master_position_id, symbol_id, requested_volume, accepted, slave_position_id, error, attempts
		 FROM copies ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query copy records: %w", err)
	}
	defer rows.Close()

	var out []domain.CopyRecord
	for rows.Next() {
		var rec domain.CopyRecord
		var ts, vol int64
		var accepted int
		if err := rows.Scan(&ts, &rec.Action, &rec.MasterPositionID, &rec.SymbolID,
			&vol, &accepted, &rec.SlavePositionID, &rec.Error, &rec.Attempts); err != nil {
			return nil, fmt.Errorf("failed to scan copy record: %w", err)
		}
		rec.Timestamp = quant.TimeStamp(ts)
		rec.RequestedVolume = quant.LotMicros(vol)
		rec.Accepted = accepted == 1
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return out, nil
}

// UpsertMetadata saves a key-value pair to the metadata table.
func (j *CopyJournal) UpsertMetadata(ctx context.Context, key, value string, ts int64) error {
	_, err := j.db.ExecContext(ctx,
		"INSERT INTO metadata (key, value, updated_at) VALUES (?, ?, ?) ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at",
		key, value, ts,
	)
	return err
}

// GetMetadata retrieves a value from the metadata table.
func (j *CopyJournal) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := j.db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// Close closes the database connection.
func (j *CopyJournal) Close() error {
	return j.db.Close()
}
