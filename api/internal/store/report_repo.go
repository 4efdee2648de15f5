package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver

	"exam-grader/api/internal/grading"
)

const schemaDDL = `
create table if not exists grading_reports (
  id          bigserial primary key,
  created_at  timestamptz not null default now(),
  docs_hash   text not null,
  engine      text not null,
  model       text not null,
  mode        text not null,
  run_id      text not null,
  grade       text,
  percentage  double precision,
  result_json jsonb not null,
  unique (docs_hash, engine, model, mode)
)`

// ReportRepo caches grading results in Postgres so that re-running the tool
// on unchanged documents does not call the model again.
type ReportRepo struct {
	DB *sql.DB
	// MaxAge makes older rows count as misses; 0 disables the check.
	MaxAge time.Duration
}

func NewReportRepo(db *sql.DB, maxAge time.Duration) *ReportRepo {
	return &ReportRepo{DB: db, MaxAge: maxAge}
}

// Open connects through the pgx stdlib driver and pings the server.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db.Ping: %w", err)
	}
	return db, nil
}

func (r *ReportRepo) EnsureSchema(ctx context.Context) error {
	_, err := r.DB.ExecContext(ctx, schemaDDL)
	return err
}

// Find returns the most recent result for (hash, engine, model, mode).
func (r *ReportRepo) Find(ctx context.Context, hash, engine, model string, mode grading.Mode) (grading.Result, bool, error) {
	const q = `
select created_at, result_json
from grading_reports
where docs_hash = $1 and engine = $2 and model = $3 and mode = $4`
	var (
		ts time.Time
		js []byte
	)
	err := r.DB.QueryRowContext(ctx, q, hash, engine, model, string(mode)).Scan(&ts, &js)
	if errors.Is(err, sql.ErrNoRows) {
		return grading.Result{}, false, nil
	}
	if err != nil {
		return grading.Result{}, false, err
	}
	if r.MaxAge > 0 && time.Since(ts) > r.MaxAge {
		return grading.Result{}, false, nil
	}
	var res grading.Result
	if err := json.Unmarshal(js, &res); err != nil {
		// a broken row is treated as a miss and overwritten by the next save
		return grading.Result{}, false, nil
	}
	return res, true, nil
}

// Save upserts the result. PK: (docs_hash, engine, model, mode).
func (r *ReportRepo) Save(ctx context.Context, hash string, res grading.Result) error {
	js, err := json.Marshal(res)
	if err != nil {
		return err
	}
	var (
		grade string
		pct   sql.NullFloat64
	)
	if res.Scorecard != nil {
		grade = res.Scorecard.Grade
		pct = sql.NullFloat64{Float64: res.Scorecard.Percentage, Valid: true}
	}
	const q = `
insert into grading_reports (docs_hash, engine, model, mode, run_id, grade, percentage, result_json)
values ($1,$2,$3,$4,$5,$6,$7,$8)
on conflict (docs_hash, engine, model, mode) do update
set created_at = now(),
    run_id = excluded.run_id,
    grade = excluded.grade,
    percentage = excluded.percentage,
    result_json = excluded.result_json`
	_, err = r.DB.ExecContext(ctx, q, hash, res.Engine, res.Model, string(res.Mode), res.RunID, grade, pct, js)
	return err
}

// PurgeOlderThan deletes cached reports older than the given age.
func (r *ReportRepo) PurgeOlderThan(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, errors.New("olderThan must be > 0")
	}
	cutoff := time.Now().Add(-olderThan)
	res, err := r.DB.ExecContext(ctx, `delete from grading_reports where created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SafeDSNSummary describes the DSN without the password, for logs.
func SafeDSNSummary(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.Host == "" {
		return "dsn: unparsed"
	}
	db := strings.TrimPrefix(u.Path, "/")
	return fmt.Sprintf("host=%s db=%s user=%s", u.Host, db, u.User.Username())
}
