package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog/log"

	"autoplan/internal/model"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

// Migrate applies embedded migrations that have not run yet, in file name order.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (name TEXT PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL DEFAULT now())`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		var done bool
		if err := p.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE name=$1)`, name).Scan(&done); err != nil {
			return err
		}
		if done {
			continue
		}
		body, err := migrations.ReadFile(name)
		if err != nil {
			return err
		}
		tx, err := p.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, name); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		log.Info().Str("migration", name).Msg("applied migration")
	}
	return nil
}

const jobColumns = `id, requester, plan_date, status, consumed, accepting, routes, started_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (model.PlanningJob, error) {
	var j model.PlanningJob
	var status string
	var routes []byte
	if err := row.Scan(&j.ID, &j.Requester, &j.PlanDate, &status, &j.Consumed, &j.Accepting, &routes, &j.StartedAt, &j.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.PlanningJob{}, ErrNotFound
		}
		return model.PlanningJob{}, err
	}
	j.Status = model.Status(status)
	if len(routes) > 0 && string(routes) != "null" {
		if err := json.Unmarshal(routes, &j.Routes); err != nil {
			return model.PlanningJob{}, fmt.Errorf("decode routes of job %s: %w", j.ID, err)
		}
	}
	return j, nil
}

func routesJSON(routes []model.OptimizedRoute) (any, error) {
	if routes == nil {
		return nil, nil
	}
	b, err := json.Marshal(routes)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (p *Postgres) CreateIfNoActive(ctx context.Context, job model.PlanningJob) error {
	routes, err := routesJSON(job.Routes)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if job.StartedAt.IsZero() {
		job.StartedAt = now
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO planning_jobs (`+jobColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		job.ID, job.Requester, job.PlanDate, string(job.Status), job.Consumed, job.Accepting, routes, job.StartedAt, now)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (p *Postgres) HasActive(ctx context.Context, requester, planDate string) (bool, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM planning_jobs WHERE requester=$1 AND plan_date=$2 AND status IN ('IN_PROGRESS','COMPLETED')`,
		requester, planDate).Scan(&n)
	return n > 0, err
}

func (p *Postgres) Get(ctx context.Context, id string) (model.PlanningJob, error) {
	return scanJob(p.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM planning_jobs WHERE id=$1`, id))
}

func (p *Postgres) Mutate(ctx context.Context, id string, fn func(*model.PlanningJob) error) (model.PlanningJob, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return model.PlanningJob{}, err
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM planning_jobs WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return model.PlanningJob{}, err
	}
	next := cloneJob(cur)
	if err := fn(&next); err != nil {
		return model.PlanningJob{}, err
	}
	routes, err := routesJSON(next.Routes)
	if err != nil {
		return model.PlanningJob{}, err
	}
	err = tx.QueryRowContext(ctx, `UPDATE planning_jobs SET status=$2, consumed=$3, accepting=$4, routes=$5, updated_at=now() WHERE id=$1 RETURNING updated_at`,
		id, string(next.Status), next.Consumed, next.Accepting, routes).Scan(&next.UpdatedAt)
	if isUniqueViolation(err) {
		return model.PlanningJob{}, ErrConflict
	}
	if err != nil {
		return model.PlanningJob{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.PlanningJob{}, err
	}
	next.ID, next.Requester, next.PlanDate, next.StartedAt = cur.ID, cur.Requester, cur.PlanDate, cur.StartedAt
	return next, nil
}

func (p *Postgres) ListByStatus(ctx context.Context, status model.Status) ([]model.PlanningJob, error) {
	return p.query(ctx, `SELECT `+jobColumns+` FROM planning_jobs WHERE status=$1 ORDER BY started_at, id`, string(status))
}

func (p *Postgres) ListByRequester(ctx context.Context, requester string, statuses ...model.Status) ([]model.PlanningJob, error) {
	args := []any{requester}
	q := `SELECT ` + jobColumns + ` FROM planning_jobs WHERE requester=$1`
	if len(statuses) > 0 {
		ph := make([]string, len(statuses))
		for i, s := range statuses {
			args = append(args, string(s))
			ph[i] = fmt.Sprintf("$%d", i+2)
		}
		q += ` AND status IN (` + strings.Join(ph, ",") + `)`
	}
	return p.query(ctx, q+` ORDER BY started_at, id`, args...)
}

func (p *Postgres) LatestForDate(ctx context.Context, requester, planDate string) (model.PlanningJob, error) {
	return scanJob(p.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM planning_jobs WHERE requester=$1 AND plan_date=$2 ORDER BY started_at DESC, id DESC LIMIT 1`,
		requester, planDate))
}

func (p *Postgres) query(ctx context.Context, q string, args ...any) ([]model.PlanningJob, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.PlanningJob{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
