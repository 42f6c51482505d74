// Package sqlite keeps an audit journal of cycles, per-asset outcomes and
// data payments.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"sip-agent/internal/model"
	"sip-agent/internal/paywall"
)

// Config configures the journal.
type Config struct {
	DBPath string // path to SQLite database file, e.g. "data/sip.db"
}

// Journal persists cycles to SQLite. It implements model.OutcomeSink.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (j *Journal) DB() *sql.DB { return j.db }

// New opens (or creates) the journal database with WAL mode and schema.
func New(cfg Config) (*Journal, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	slog.Info("journal opened", "path", cfg.DBPath)
	return &Journal{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS cycles (
			id          TEXT    PRIMARY KEY,
			started_at  INTEGER NOT NULL,
			finished_at INTEGER NOT NULL,
			budget      REAL    NOT NULL,
			bought      INTEGER NOT NULL,
			skipped     INTEGER NOT NULL,
			errored     INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS outcomes (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			cycle_id    TEXT    NOT NULL REFERENCES cycles(id),
			asset       TEXT    NOT NULL,
			decision    TEXT    NOT NULL,
			reason      TEXT    NOT NULL,
			budget      REAL    NOT NULL,
			tx_sig      TEXT,
			fill_price  REAL,
			error       TEXT,
			error_kind  TEXT,
			indicators  TEXT,
			flags       TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_outcomes_asset ON outcomes(asset);
		CREATE INDEX IF NOT EXISTS idx_outcomes_cycle ON outcomes(cycle_id);

		CREATE TABLE IF NOT EXISTS payments (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			invoice    TEXT    NOT NULL UNIQUE,
			tx_id      TEXT    NOT NULL,
			pay_to     TEXT    NOT NULL,
			currency   TEXT    NOT NULL,
			atoms      INTEGER NOT NULL,
			url        TEXT,
			settled_at INTEGER NOT NULL
		);
	`)
	return err
}

// Record writes a cycle and its outcomes in a single transaction.
// Recording the same cycle twice replaces it.
func (j *Journal) Record(ctx context.Context, c model.Cycle) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	bought, skipped, errored := c.Tally()
	if _, err := tx.ExecContext(ctx, `DELETE FROM outcomes WHERE cycle_id = ?`, c.ID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO cycles (id, started_at, finished_at, budget, bought, skipped, errored)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.StartedAt.UnixMilli(), c.FinishedAt.UnixMilli(), c.Budget, bought, skipped, errored,
	); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO outcomes (cycle_id, asset, decision, reason, budget, tx_sig, fill_price, error, error_kind, indicators, flags)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, o := range c.Outcomes {
		var txSig sql.NullString
		var price sql.NullFloat64
		if o.Receipt != nil {
			txSig = sql.NullString{String: o.Receipt.TxSig, Valid: true}
			if p := float64(o.Receipt.Price); !math.IsNaN(p) && !math.IsInf(p, 0) {
				price = sql.NullFloat64{Float64: p, Valid: true}
			}
		}
		indicators, err := nullJSON(o.Indicators)
		if err != nil {
			return fmt.Errorf("outcome %s indicators: %w", o.Asset, err)
		}
		flags, err := nullJSON(o.Flags)
		if err != nil {
			return fmt.Errorf("outcome %s flags: %w", o.Asset, err)
		}
		if _, err := stmt.ExecContext(ctx, c.ID, o.Asset, string(o.Decision), o.Reason, o.Budget,
			txSig, price, nullString(o.Error), nullString(o.ErrorKind), indicators, flags); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// RecordSettlement stores a verified data payment. Replays of the same
// invoice are ignored.
func (j *Journal) RecordSettlement(ctx context.Context, s paywall.Settlement) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO payments (invoice, tx_id, pay_to, currency, atoms, url, settled_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.Invoice, s.TxID, s.PayTo, s.Currency, s.Atoms, s.URL, s.At.UnixMilli(),
	)
	return err
}

// SettlementHook adapts RecordSettlement for paywall.WithSettlementHook.
// Failures are logged; a payment that already happened is never undone.
func (j *Journal) SettlementHook() paywall.SettlementHook {
	return func(ctx context.Context, s paywall.Settlement) {
		if err := j.RecordSettlement(ctx, s); err != nil {
			slog.Error("journal settlement insert failed", "invoice", s.Invoice, "error", err)
		}
	}
}

// OutcomeRecord represents a row from the outcomes table.
type OutcomeRecord struct {
	ID        int64     `json:"id"`
	CycleID   string    `json:"cycle_id"`
	StartedAt time.Time `json:"started_at"`
	Asset     string    `json:"asset"`
	Decision  string    `json:"decision"`
	Reason    string    `json:"reason"`
	Budget    float64   `json:"budget"`
	TxSig     string    `json:"tx_sig,omitempty"`
	Error     string    `json:"error,omitempty"`
	ErrorKind string    `json:"error_kind,omitempty"`
}

// RecentOutcomes returns the last N outcomes, newest first.
func (j *Journal) RecentOutcomes(ctx context.Context, limit int) ([]OutcomeRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.QueryContext(ctx, `
		SELECT o.id, o.cycle_id, c.started_at, o.asset, o.decision, o.reason, o.budget,
		       COALESCE(o.tx_sig, ''), COALESCE(o.error, ''), COALESCE(o.error_kind, '')
		FROM outcomes o JOIN cycles c ON c.id = o.cycle_id
		ORDER BY o.id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OutcomeRecord
	for rows.Next() {
		var r OutcomeRecord
		var started int64
		if err := rows.Scan(&r.ID, &r.CycleID, &started, &r.Asset, &r.Decision, &r.Reason,
			&r.Budget, &r.TxSig, &r.Error, &r.ErrorKind); err != nil {
			return nil, err
		}
		r.StartedAt = time.UnixMilli(started).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// TotalSpentAtoms sums every recorded data payment.
func (j *Journal) TotalSpentAtoms(ctx context.Context) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var total sql.NullInt64
	if err := j.db.QueryRowContext(ctx, `SELECT SUM(atoms) FROM payments`).Scan(&total); err != nil {
		return 0, err
	}
	return total.Int64, nil
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullJSON(v any) (sql.NullString, error) {
	switch x := v.(type) {
	case *model.Snapshot:
		if x == nil {
			return sql.NullString{}, nil
		}
	case *model.Flags:
		if x == nil {
			return sql.NullString{}, nil
		}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}
