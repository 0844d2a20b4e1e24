package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/okian/quiver/internal/domain/model"
	"github.com/okian/quiver/pkg/metrics"
)

const createTablesSQL = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL,
	source TEXT,
	record_count INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS results (
	run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	seq INTEGER NOT NULL,
	event_id TEXT NOT NULL,
	division TEXT NOT NULL,
	gender_class TEXT NOT NULL,
	athlete TEXT,
	score INTEGER NOT NULL,
	tens INTEGER NOT NULL,
	nines INTEGER NOT NULL,
	category_rank INTEGER,
	sep_rank REAL NOT NULL,
	sep_percentile REAL,
	mixed_rank REAL NOT NULL,
	mixed_percentile REAL,
	delta_rank REAL NOT NULL,
	delta_percentile REAL,
	PRIMARY KEY (run_id, seq)
);
`

const insertResultSQL = `INSERT INTO results (
	run_id, seq, event_id, division, gender_class, athlete, score, tens, nines,
	category_rank, sep_rank, sep_percentile, mixed_rank, mixed_percentile,
	delta_rank, delta_percentile
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// SQLiteStore persists runs in a SQLite database. Not-applicable percentiles
// are stored as NULL.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database at path, creating tables if needed.
// ":memory:" gives a private in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("repository: open database: %w", err)
	}
	// Each connection to ":memory:" is its own database.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{"PRAGMA foreign_keys=ON", "PRAGMA journal_mode=WAL", createTablesSQL} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("repository: init schema: %w", err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, run Run) (err error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreLatency("save", time.Since(start))
		if err != nil {
			metrics.RecordStoreError("save")
		}
	}()

	if run.ID == "" {
		return ErrInvalidID
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("repository: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", run.ID); err != nil {
		return fmt.Errorf("repository: replace run: %w", err)
	}
	if _, err = tx.ExecContext(ctx,
		"INSERT INTO runs (id, created_at, source, record_count) VALUES (?, ?, ?, ?)",
		run.ID, run.CreatedAt.UnixNano(), run.Source, len(run.Records),
	); err != nil {
		return fmt.Errorf("repository: insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, insertResultSQL)
	if err != nil {
		return fmt.Errorf("repository: prepare results: %w", err)
	}
	defer stmt.Close()

	for i := range run.Records {
		row := run.Records[i].Row()
		if _, err = stmt.ExecContext(ctx,
			run.ID, i, row.EventID, string(row.Division), string(row.Class), row.Athlete,
			row.Score, row.Tens, row.Nines, row.CategoryRank,
			row.SepRank, nullPercentile(row.SepPercentile),
			row.MixedRank, nullPercentile(row.MixedPercentile),
			row.DeltaRank, nullPercentile(row.DeltaPercentile),
		); err != nil {
			return fmt.Errorf("repository: insert result %d: %w", i, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("repository: commit: %w", err)
	}
	metrics.UpdateRunsStored(s.Count(ctx))
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (Run, error) {
	start := time.Now()
	defer func() { metrics.RecordStoreLatency("get", time.Since(start)) }()

	var (
		run       Run
		createdAt int64
		source    sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, created_at, source FROM runs WHERE id = ?", id,
	).Scan(&run.ID, &createdAt, &source)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		metrics.RecordStoreError("get")
		return Run{}, fmt.Errorf("repository: get run: %w", err)
	}
	run.CreatedAt = time.Unix(0, createdAt).UTC()
	run.Source = source.String

	rows, err := s.db.QueryContext(ctx, `SELECT
		event_id, division, gender_class, athlete, score, tens, nines, category_rank,
		sep_rank, sep_percentile, mixed_rank, mixed_percentile, delta_rank, delta_percentile
		FROM results WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		metrics.RecordStoreError("get")
		return Run{}, fmt.Errorf("repository: get results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			row                    model.Row
			division, class        string
			athlete                sql.NullString
			categoryRank           sql.NullInt64
			sepPct, mixPct, dltPct sql.NullFloat64
		)
		if err := rows.Scan(
			&row.EventID, &division, &class, &athlete, &row.Score, &row.Tens, &row.Nines, &categoryRank,
			&row.SepRank, &sepPct, &row.MixedRank, &mixPct, &row.DeltaRank, &dltPct,
		); err != nil {
			metrics.RecordStoreError("get")
			return Run{}, fmt.Errorf("repository: scan result: %w", err)
		}
		row.Division = model.Division(division)
		row.Class = model.Class(class)
		row.Athlete = athlete.String
		row.CategoryRank = int(categoryRank.Int64)
		row.SepPercentile = percentileFromNull(sepPct)
		row.MixedPercentile = percentileFromNull(mixPct)
		row.DeltaPercentile = percentileFromNull(dltPct)
		run.Records = append(run.Records, row.Ranked())
	}
	if err := rows.Err(); err != nil {
		metrics.RecordStoreError("get")
		return Run{}, fmt.Errorf("repository: iterate results: %w", err)
	}
	return run, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, created_at, source, record_count FROM runs ORDER BY created_at DESC, id")
	if err != nil {
		metrics.RecordStoreError("list")
		return nil, fmt.Errorf("repository: list runs: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum       Summary
			createdAt int64
			source    sql.NullString
		)
		if err := rows.Scan(&sum.ID, &createdAt, &source, &sum.Records); err != nil {
			return nil, fmt.Errorf("repository: scan run: %w", err)
		}
		sum.CreatedAt = time.Unix(0, createdAt).UTC()
		sum.Source = source.String
		out = append(out, sum)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Count(ctx context.Context) int {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&n); err != nil {
		metrics.RecordStoreError("count")
		return 0
	}
	return n
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullPercentile(p model.Percentile) sql.NullFloat64 {
	return sql.NullFloat64{Float64: p.Value, Valid: p.Valid}
}

func percentileFromNull(n sql.NullFloat64) model.Percentile {
	if !n.Valid {
		return model.NA
	}
	return model.Pct(n.Float64)
}
