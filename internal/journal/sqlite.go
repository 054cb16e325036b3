// Package journal persists executed trade actions for post-hoc analysis.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"premium_trader/internal/core"
)

const schema = `
CREATE TABLE IF NOT EXISTS trades (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	ts          INTEGER NOT NULL,
	instrument  TEXT NOT NULL,
	action      TEXT NOT NULL,
	price       TEXT NOT NULL,
	profit_pct  REAL NOT NULL,
	reason      TEXT NOT NULL,
	indicators  TEXT
);
CREATE INDEX IF NOT EXISTS idx_trades_instrument_ts ON trades (instrument, ts);
`

// SQLiteJournal stores trade records in a local SQLite database.
type SQLiteJournal struct {
	db *sql.DB
}

var _ core.IJournal = (*SQLiteJournal)(nil)

// NewSQLite opens (or creates) the journal database at dbPath.
func NewSQLite(dbPath string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Enable WAL mode for crash recovery
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteJournal{db: db}, nil
}

// Record appends one trade record.
func (j *SQLiteJournal) Record(ctx context.Context, rec core.TradeRecord) error {
	var indicators sql.NullString
	if rec.Snapshot != nil {
		data, err := json.Marshal(rec.Snapshot)
		if err != nil {
			return fmt.Errorf("failed to marshal indicators: %w", err)
		}
		indicators = sql.NullString{String: string(data), Valid: true}
	}

	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	query := `INSERT INTO trades (ts, instrument, action, price, profit_pct, reason, indicators)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := j.db.ExecContext(ctx, query,
		ts.UnixNano(), rec.Instrument, string(rec.Action),
		rec.Price.String(), rec.ProfitPct, rec.Reason, indicators)
	if err != nil {
		return fmt.Errorf("failed to write trade record: %w", err)
	}
	return nil
}

// Recent returns up to limit records for one instrument, newest first.
func (j *SQLiteJournal) Recent(ctx context.Context, instrument string, limit int) ([]core.TradeRecord, error) {
	query := `SELECT ts, instrument, action, price, profit_pct, reason, indicators
		FROM trades WHERE instrument = ? ORDER BY ts DESC LIMIT ?`
	rows, err := j.db.QueryContext(ctx, query, instrument, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read trade records: %w", err)
	}
	defer rows.Close()

	var records []core.TradeRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// RealizedPnL sums profit percentages of closing actions since the cutoff.
func (j *SQLiteJournal) RealizedPnL(ctx context.Context, since time.Time) (float64, error) {
	query := `SELECT COALESCE(SUM(profit_pct), 0) FROM trades
		WHERE ts >= ? AND action IN (?, ?)`
	var total float64
	err := j.db.QueryRowContext(ctx, query, since.UnixNano(),
		string(core.ActionSellAll), string(core.ActionSellHalf)).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum realized pnl: %w", err)
	}
	return total, nil
}

func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

func scanRecord(rows *sql.Rows) (core.TradeRecord, error) {
	var (
		rec        core.TradeRecord
		ts         int64
		action     string
		price      string
		indicators sql.NullString
	)
	if err := rows.Scan(&ts, &rec.Instrument, &action, &price, &rec.ProfitPct, &rec.Reason, &indicators); err != nil {
		return rec, fmt.Errorf("failed to scan trade record: %w", err)
	}

	rec.Timestamp = time.Unix(0, ts)
	rec.Action = core.Action(action)
	var err error
	rec.Price, err = decimal.NewFromString(price)
	if err != nil {
		return rec, fmt.Errorf("failed to parse stored price: %w", err)
	}
	if indicators.Valid {
		var snap core.IndicatorSnapshot
		if err := json.Unmarshal([]byte(indicators.String), &snap); err != nil {
			return rec, fmt.Errorf("failed to unmarshal indicators: %w", err)
		}
		rec.Snapshot = &snap
	}
	return rec, nil
}
