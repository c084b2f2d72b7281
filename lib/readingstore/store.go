// Copyright 2026 The Wattwatch Authors
// SPDX-License-Identifier: Apache-2.0

package readingstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/wattwatch/wattwatch/lib/clock"
	"github.com/wattwatch/wattwatch/lib/schema/electricity"
	"github.com/wattwatch/wattwatch/lib/sqlitepool"
)

var (
	// ErrDuplicate reports a reading whose fingerprint is already
	// stored.
	ErrDuplicate = errors.New("readingstore: duplicate reading")

	// ErrNotFound reports an unknown reading id.
	ErrNotFound = errors.New("readingstore: reading not found")

	// ErrVerdictExists reports a second verdict for the same reading.
	ErrVerdictExists = errors.New("readingstore: verdict already recorded")

	// ErrUnknownMetric reports a totals query for an unsupported
	// column.
	ErrUnknownMetric = errors.New("readingstore: unknown metric")

	// ErrUnknownPeriod reports a grouping other than day or month.
	ErrUnknownPeriod = errors.New("readingstore: unknown period")
)

const schema = `
	CREATE TABLE IF NOT EXISTS readings (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		device_id    TEXT NOT NULL,
		voltage      REAL NOT NULL,
		current      REAL NOT NULL,
		power        REAL NOT NULL,
		energy       REAL NOT NULL,
		frequency    REAL NOT NULL,
		power_factor REAL NOT NULL,
		fingerprint  BLOB NOT NULL UNIQUE,
		created_at   INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_readings_device ON readings(device_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_readings_time ON readings(created_at);

	CREATE TABLE IF NOT EXISTS anomalies (
		reading_id INTEGER PRIMARY KEY,
		if_anomaly INTEGER NOT NULL,
		rf_anomaly INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
`

// totalColumns maps a metric name accepted by the totals queries to its
// column. Only these names ever reach SQL text.
var totalColumns = map[string]string{
	"energy":  "energy",
	"power":   "power",
	"current": "current",
}

// periodFormats maps a grouping period to its strftime format.
var periodFormats = map[string]string{
	"day":   "%Y-%m-%d",
	"month": "%Y-%m",
}

// Config configures a Store.
type Config struct {
	// Path is the database file. Required.
	Path string

	// PoolSize defaults to sqlitepool.DefaultPoolSize.
	PoolSize int

	// Clock stamps created_at. Nil means the real clock.
	Clock clock.Clock

	Logger *slog.Logger
}

// Store persists readings and verdicts. Safe for concurrent use.
type Store struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger
}

// Record is a stored reading with its verdict, if any.
type Record struct {
	ID        int64                       `json:"id"`
	Reading   electricity.Reading         `json:"reading"`
	CreatedAt time.Time                   `json:"created_at"`
	Verdict   *electricity.AnomalyVerdict `json:"anomaly,omitempty"`
}

// PeriodTotal is a metric summed over one calendar period (UTC).
type PeriodTotal struct {
	Period string  `json:"period"`
	Total  float64 `json:"total"`
}

// Open opens (creating if needed) the database at cfg.Path.
func Open(cfg Config) (*Store, error) {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: cfg.PoolSize,
		Logger:   logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("readingstore: %w", err)
	}
	return &Store{pool: pool, clock: clk, logger: logger}, nil
}

// Close waits for in-use connections and closes the database.
func (s *Store) Close() error {
	return s.pool.Close()
}

// Ping checks that a connection can be taken and queried.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.ExecuteTransient(conn, "SELECT 1", nil)
	})
}

// InsertReading stores reading and returns its id.
func (s *Store) InsertReading(ctx context.Context, reading electricity.Reading) (int64, error) {
	if err := reading.Validate(); err != nil {
		return 0, fmt.Errorf("readingstore: %w", err)
	}
	fingerprint := FingerprintOf(reading)

	var id int64
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `INSERT INTO readings
			(device_id, voltage, current, power, energy, frequency, power_factor, fingerprint, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
			Args: []any{
				reading.DeviceID,
				reading.Voltage,
				reading.Current,
				reading.Power,
				reading.Energy,
				reading.Frequency,
				reading.PowerFactor,
				fingerprint[:],
				s.clock.Now().UnixNano(),
			},
		})
		if err != nil {
			if sqlite.ErrCode(err) == sqlite.ResultConstraintUnique {
				return fmt.Errorf("%w: fingerprint %s", ErrDuplicate, fingerprint)
			}
			return fmt.Errorf("readingstore: insert reading: %w", err)
		}
		id = conn.LastInsertRowID()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// InsertVerdict stores a verdict for an existing reading.
func (s *Store) InsertVerdict(ctx context.Context, verdict electricity.AnomalyVerdict) error {
	return s.pool.With(ctx, func(conn *sqlite.Conn) (err error) {
		endTransaction, err := sqlitex.ImmediateTransaction(conn)
		if err != nil {
			return fmt.Errorf("readingstore: begin transaction: %w", err)
		}
		defer endTransaction(&err)

		exists := false
		err = sqlitex.Execute(conn, "SELECT 1 FROM readings WHERE id = ?", &sqlitex.ExecOptions{
			Args: []any{verdict.ReadingID},
			ResultFunc: func(*sqlite.Stmt) error {
				exists = true
				return nil
			},
		})
		if err != nil {
			return fmt.Errorf("readingstore: looking up reading %d: %w", verdict.ReadingID, err)
		}
		if !exists {
			return fmt.Errorf("%w: id %d", ErrNotFound, verdict.ReadingID)
		}

		err = sqlitex.Execute(conn, `INSERT INTO anomalies (reading_id, if_anomaly, rf_anomaly, created_at)
			VALUES (?, ?, ?, ?)`, &sqlitex.ExecOptions{
			Args: []any{
				verdict.ReadingID,
				verdict.FlaggedByModelA,
				verdict.FlaggedByModelB,
				s.clock.Now().UnixNano(),
			},
		})
		if err != nil {
			switch sqlite.ErrCode(err) {
			case sqlite.ResultConstraintPrimaryKey, sqlite.ResultConstraintUnique:
				return fmt.Errorf("%w: reading %d", ErrVerdictExists, verdict.ReadingID)
			}
			return fmt.Errorf("readingstore: insert verdict: %w", err)
		}
		return nil
	})
}

// Get returns the reading with id and its verdict.
func (s *Store) Get(ctx context.Context, id int64) (Record, error) {
	var record Record
	found := false
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT r.id, r.device_id, r.voltage, r.current, r.power,
				r.energy, r.frequency, r.power_factor, r.created_at,
				a.reading_id IS NOT NULL, a.if_anomaly, a.rf_anomaly
			FROM readings r LEFT JOIN anomalies a ON a.reading_id = r.id
			WHERE r.id = ?`, &sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				record = Record{
					ID: stmt.ColumnInt64(0),
					Reading: electricity.Reading{
						DeviceID: stmt.ColumnText(1),
						Measurements: electricity.Measurements{
							Voltage:     stmt.ColumnFloat(2),
							Current:     stmt.ColumnFloat(3),
							Power:       stmt.ColumnFloat(4),
							Energy:      stmt.ColumnFloat(5),
							Frequency:   stmt.ColumnFloat(6),
							PowerFactor: stmt.ColumnFloat(7),
						},
					},
					CreatedAt: time.Unix(0, stmt.ColumnInt64(8)).UTC(),
				}
				if stmt.ColumnBool(9) {
					record.Verdict = &electricity.AnomalyVerdict{
						ReadingID:       record.ID,
						FlaggedByModelA: stmt.ColumnBool(10),
						FlaggedByModelB: stmt.ColumnBool(11),
					}
				}
				return nil
			},
		})
	})
	if err != nil {
		return Record{}, fmt.Errorf("readingstore: get %d: %w", id, err)
	}
	if !found {
		return Record{}, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return record, nil
}

// Total sums metric over every stored reading. An empty table sums to
// zero.
func (s *Store) Total(ctx context.Context, metric string) (float64, error) {
	column, ok := totalColumns[metric]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownMetric, metric)
	}
	var total float64
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT COALESCE(SUM("+column+"), 0) FROM readings", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				total = stmt.ColumnFloat(0)
				return nil
			},
		})
	})
	if err != nil {
		return 0, fmt.Errorf("readingstore: total %s: %w", metric, err)
	}
	return total, nil
}

// PeriodTotals sums metric per day or month, oldest period first.
func (s *Store) PeriodTotals(ctx context.Context, metric, period string) ([]PeriodTotal, error) {
	column, ok := totalColumns[metric]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMetric, metric)
	}
	format, ok := periodFormats[period]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPeriod, period)
	}
	var totals []PeriodTotal
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT strftime(?, created_at / 1000000000, 'unixepoch') AS bucket,
				SUM(`+column+`)
			FROM readings GROUP BY bucket ORDER BY bucket`, &sqlitex.ExecOptions{
			Args: []any{format},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				totals = append(totals, PeriodTotal{Period: stmt.ColumnText(0), Total: stmt.ColumnFloat(1)})
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("readingstore: %s totals by %s: %w", metric, period, err)
	}
	return totals, nil
}
