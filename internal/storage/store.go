// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package storage keeps finished recording sessions and their analysis in a
// SQLite database.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/relabs-tech/balance_recorder/internal/balance"
	"github.com/relabs-tech/balance_recorder/internal/motion"
)

// ErrNotFound is returned for an unknown session id.
var ErrNotFound = errors.New("storage: session not found")

const schema = `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		stopped_at INTEGER NOT NULL,
		interval_ms INTEGER NOT NULL,
		sample_count INTEGER NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS samples (
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		ts INTEGER NOT NULL,
		ax DOUBLE, ay DOUBLE, az DOUBLE,
		gx DOUBLE, gy DOUBLE, gz DOUBLE,
		mx DOUBLE, my DOUBLE, mz DOUBLE,
		PRIMARY KEY (session_id, seq),
		FOREIGN KEY(session_id) REFERENCES sessions(session_id)
	);
	CREATE TABLE IF NOT EXISTS analyses (
		session_id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		stability DOUBLE NOT NULL,
		message TEXT NOT NULL,
		accel_variability DOUBLE,
		gyro_variability DOUBLE,
		total_movement DOUBLE,
		balance_score DOUBLE,
		features TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY(session_id) REFERENCES sessions(session_id)
	);
`

// DB wraps the SQLite handle.
type DB struct {
	*sql.DB
	newID func() string
}

// NewDB opens (or creates) the database at path and ensures the schema.
func NewDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// One writer; avoids SQLITE_BUSY between handler goroutines.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &DB{DB: db, newID: uuid.NewString}, nil
}

// Meta describes a recorded session.
type Meta struct {
	Name      string        `json:"name"`
	StartedAt time.Time     `json:"startedAt"`
	StoppedAt time.Time     `json:"stoppedAt"`
	Interval  time.Duration `json:"-"`
}

// Session is a stored session without its samples.
type Session struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	StartedAt  time.Time       `json:"startedAt"`
	StoppedAt  time.Time       `json:"stoppedAt"`
	IntervalMS int64           `json:"intervalMs"`
	Samples    int             `json:"samples"`
	Analysis   *balance.Result `json:"analysis,omitempty"`
}

// SaveSession stores a recording and, when res is non-nil, its analysis.
// It returns the new session id.
func (db *DB) SaveSession(ctx context.Context, meta Meta, rec []motion.Sample, res *balance.Result) (string, error) {
	id := db.newID()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"INSERT INTO sessions (session_id, name, started_at, stopped_at, interval_ms, sample_count) VALUES (?, ?, ?, ?, ?, ?)",
		id, meta.Name, meta.StartedAt.UnixMilli(), meta.StoppedAt.UnixMilli(), meta.Interval.Milliseconds(), len(rec))
	if err != nil {
		return "", fmt.Errorf("insert session: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO samples (session_id, seq, ts, ax, ay, az, gx, gy, gz, mx, my, mz) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		return "", fmt.Errorf("prepare samples: %w", err)
	}
	defer stmt.Close()

	for i, s := range rec {
		a, g, m := s.Accelerometer, s.Gyroscope, s.Magnetometer
		if _, err := stmt.ExecContext(ctx, id, i, s.Timestamp, a.X, a.Y, a.Z, g.X, g.Y, g.Z, m.X, m.Y, m.Z); err != nil {
			return "", fmt.Errorf("insert sample %d: %w", i, err)
		}
	}

	if res != nil {
		if err := saveAnalysis(ctx, tx, id, *res); err != nil {
			return "", err
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func saveAnalysis(ctx context.Context, ex execer, id string, res balance.Result) error {
	features, err := json.Marshal(res.Features)
	if err != nil {
		return fmt.Errorf("marshal features: %w", err)
	}
	d := res.Details
	_, err = ex.ExecContext(ctx, `
		INSERT INTO analyses (session_id, status, stability, message, accel_variability, gyro_variability, total_movement, balance_score, features)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			status = excluded.status,
			stability = excluded.stability,
			message = excluded.message,
			accel_variability = excluded.accel_variability,
			gyro_variability = excluded.gyro_variability,
			total_movement = excluded.total_movement,
			balance_score = excluded.balance_score,
			features = excluded.features`,
		id, string(res.Status), res.Stability, res.Message,
		d.AccelVariability, d.GyroVariability, d.TotalMovement, d.BalanceScore, string(features))
	if err != nil {
		return fmt.Errorf("insert analysis: %w", err)
	}
	return nil
}

// SaveAnalysis attaches or replaces the analysis of a stored session.
func (db *DB) SaveAnalysis(ctx context.Context, id string, res balance.Result) error {
	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions WHERE session_id = ?", id).Scan(&n); err != nil {
		return fmt.Errorf("lookup session: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return saveAnalysis(ctx, db, id, res)
}

const sessionColumns = `
	s.session_id, s.name, s.started_at, s.stopped_at, s.interval_ms, s.sample_count,
	a.status, a.stability, a.message, a.accel_variability, a.gyro_variability,
	a.total_movement, a.balance_score, a.features`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var (
		s                  Session
		started, stopped   int64
		status, msg, feats sql.NullString
		stability          sql.NullFloat64
		av, gv, tm, bs     sql.NullFloat64
	)
	err := row.Scan(&s.ID, &s.Name, &started, &stopped, &s.IntervalMS, &s.Samples,
		&status, &stability, &msg, &av, &gv, &tm, &bs, &feats)
	if err != nil {
		return Session{}, err
	}
	s.StartedAt = time.UnixMilli(started)
	s.StoppedAt = time.UnixMilli(stopped)

	if status.Valid {
		res := &balance.Result{
			Status:    balance.Status(status.String),
			Stability: stability.Float64,
			Message:   msg.String,
			Details: balance.Details{
				AccelVariability: av.Float64,
				GyroVariability:  gv.Float64,
				TotalMovement:    tm.Float64,
				BalanceScore:     bs.Float64,
			},
		}
		if feats.Valid && feats.String != "" {
			if err := json.Unmarshal([]byte(feats.String), &res.Features); err != nil {
				return Session{}, fmt.Errorf("session %s features: %w", s.ID, err)
			}
		}
		s.Analysis = res
	}
	return s, nil
}

// ListSessions returns stored sessions, newest first.
func (db *DB) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+sessionColumns+`
		FROM sessions s LEFT JOIN analyses a ON a.session_id = s.session_id
		ORDER BY s.started_at DESC, s.rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetSession returns one session and its samples in capture order.
func (db *DB) GetSession(ctx context.Context, id string) (Session, []motion.Sample, error) {
	row := db.QueryRowContext(ctx, `SELECT `+sessionColumns+`
		FROM sessions s LEFT JOIN analyses a ON a.session_id = s.session_id
		WHERE s.session_id = ?`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, nil, ErrNotFound
	}
	if err != nil {
		return Session{}, nil, fmt.Errorf("get session %s: %w", id, err)
	}

	rows, err := db.QueryContext(ctx,
		"SELECT ts, ax, ay, az, gx, gy, gz, mx, my, mz FROM samples WHERE session_id = ? ORDER BY seq", id)
	if err != nil {
		return Session{}, nil, fmt.Errorf("load samples: %w", err)
	}
	defer rows.Close()

	rec := make([]motion.Sample, 0, s.Samples)
	for rows.Next() {
		var (
			smp     motion.Sample
			a, g, m = &smp.Accelerometer, &smp.Gyroscope, &smp.Magnetometer
		)
		if err := rows.Scan(&smp.Timestamp, &a.X, &a.Y, &a.Z, &g.X, &g.Y, &g.Z, &m.X, &m.Y, &m.Z); err != nil {
			return Session{}, nil, fmt.Errorf("scan sample: %w", err)
		}
		rec = append(rec, smp)
	}
	if err := rows.Err(); err != nil {
		return Session{}, nil, fmt.Errorf("load samples: %w", err)
	}
	return s, rec, nil
}

// DeleteSession removes a session with its samples and analysis.
func (db *DB) DeleteSession(ctx context.Context, id string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		"DELETE FROM analyses WHERE session_id = ?",
		"DELETE FROM samples WHERE session_id = ?",
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return fmt.Errorf("delete session %s: %w", id, err)
		}
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM sessions WHERE session_id = ?", id)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}
