// Package store persists run records. Postgres keeps jobs and their ranked leads,
// Redis keeps a JSON snapshot with a TTL, and the memory store serves tests and single-process use.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/samz905/wrrk-pilot/internal/agent/core"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

// Store is the Postgres-backed run repository.
type Store struct {
	DB *sql.DB
}

var (
	metricsOnce  sync.Once
	costCounter  otelmetric.Float64Counter
	leadsCounter otelmetric.Int64Counter
)

func initStoreMetrics() {
	meter := otel.Meter("wrrk-pilot/store")
	var err error
	if costCounter, err = meter.Float64Counter("prospect_cost_usd_total",
		otelmetric.WithDescription("Spend of finished runs persisted to Postgres")); err != nil {
		otel.Handle(err)
	}
	if leadsCounter, err = meter.Int64Counter("prospect_leads_persisted_total",
		otelmetric.WithDescription("Lead rows written for finished runs")); err != nil {
		otel.Handle(err)
	}
}

// NewWithDSN constructs the Store using an explicit Postgres DSN.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{DB: db}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.DB.Close()
}

const upsertJobSQL = `
INSERT INTO jobs (id, product_description, target_leads, status, reason, leads_found, reddit_leads, techcrunch_leads, competitor_leads, hot_leads, warm_leads, rounds, cost_usd, tokens_used, duration_seconds, errors, result, created_at, finished_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
ON CONFLICT (id) DO UPDATE SET
  status = EXCLUDED.status,
  reason = EXCLUDED.reason,
  leads_found = EXCLUDED.leads_found,
  reddit_leads = EXCLUDED.reddit_leads,
  techcrunch_leads = EXCLUDED.techcrunch_leads,
  competitor_leads = EXCLUDED.competitor_leads,
  hot_leads = EXCLUDED.hot_leads,
  warm_leads = EXCLUDED.warm_leads,
  rounds = EXCLUDED.rounds,
  cost_usd = EXCLUDED.cost_usd,
  tokens_used = EXCLUDED.tokens_used,
  duration_seconds = EXCLUDED.duration_seconds,
  errors = EXCLUDED.errors,
  result = EXCLUDED.result,
  finished_at = EXCLUDED.finished_at;
`

const insertLeadSQL = `
INSERT INTO leads (job_id, rank, name, username, title, company, email, linkedin_url, intent_signal, intent_score, priority, source_platform, source_url, source_round)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
`

// SaveRun upserts the job row. Once a result exists its leads are rewritten in ranked order
// inside the same transaction.
func (s *Store) SaveRun(ctx context.Context, rec core.RunRecord) error {
	if rec.RunID == "" {
		return fmt.Errorf("run_id required")
	}
	res := rec.Result
	if res == nil {
		res = &core.RunResult{}
	}
	var resultJSON []byte
	if rec.Result != nil {
		b, err := json.Marshal(rec.Result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		resultJSON = b
	}
	var duration *float64
	if rec.FinishedAt != nil {
		d := rec.FinishedAt.Sub(rec.CreatedAt).Seconds()
		duration = &d
	}
	errs := res.Errors
	if errs == nil {
		errs = []string{}
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, upsertJobSQL,
		rec.RunID, rec.ProductDescription, rec.TargetLeads, string(rec.Status), nullString(rec.Reason),
		len(res.Leads),
		res.PerSourceCounts[core.SourceReddit],
		res.PerSourceCounts[core.SourceTechCrunch],
		res.PerSourceCounts[core.SourceCompetitorLinkedIn],
		res.HotLeads, res.WarmLeads, res.Rounds, res.CostUSD, res.TokensUsed,
		duration, pq.Array(errs), resultJSON, rec.CreatedAt, rec.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert job: %w", err)
	}

	if rec.Result != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM leads WHERE job_id=$1`, rec.RunID); err != nil {
			return fmt.Errorf("clear leads: %w", err)
		}
		for i, l := range rec.Result.Leads {
			if _, err := tx.ExecContext(ctx, insertLeadSQL,
				rec.RunID, i+1, l.Name, nullString(l.Username), nullString(l.Title), nullString(l.Company),
				nullString(l.Email), nullString(l.LinkedInURL), nullString(l.IntentSignal), l.IntentScore,
				string(l.Priority()), string(l.SourcePlatform), nullString(l.SourceURL), l.SourceWorkerRound,
			); err != nil {
				return fmt.Errorf("insert lead %d: %w", i+1, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	if rec.Status.Terminal() {
		metricsOnce.Do(initStoreMetrics)
		attrs := otelmetric.WithAttributes(attribute.String("status", string(rec.Status)))
		if costCounter != nil && res.CostUSD > 0 {
			costCounter.Add(ctx, res.CostUSD, attrs)
		}
		if leadsCounter != nil && len(res.Leads) > 0 {
			leadsCounter.Add(ctx, int64(len(res.Leads)), attrs)
		}
	}
	return nil
}

// GetRun loads a job. The result, including its leads, is read from the job's JSON snapshot.
func (s *Store) GetRun(ctx context.Context, runID string) (core.RunRecord, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT id, product_description, target_leads, status, reason, result, created_at, finished_at
FROM jobs
WHERE id=$1
`, runID)
	var (
		rec        core.RunRecord
		status     string
		reason     sql.NullString
		resultJSON []byte
		finished   sql.NullTime
	)
	if err := row.Scan(&rec.RunID, &rec.ProductDescription, &rec.TargetLeads, &status, &reason, &resultJSON, &rec.CreatedAt, &finished); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.RunRecord{}, false, nil
		}
		return core.RunRecord{}, false, err
	}
	rec.Status = core.State(status)
	rec.Reason = reason.String
	if finished.Valid {
		t := finished.Time
		rec.FinishedAt = &t
	}
	if len(resultJSON) > 0 {
		var res core.RunResult
		if err := json.Unmarshal(resultJSON, &res); err != nil {
			return core.RunRecord{}, false, fmt.Errorf("decode result: %w", err)
		}
		rec.Result = &res
	}
	return rec, true, nil
}

// JobSummary is one row of the job listing.
type JobSummary struct {
	RunID       string     `json:"run_id"`
	Status      string     `json:"status"`
	TargetLeads int        `json:"target_leads"`
	LeadsFound  int        `json:"leads_found"`
	CostUSD     float64    `json:"cost_usd"`
	CreatedAt   time.Time  `json:"created_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// ListJobs returns the most recent jobs first.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]JobSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT id, status, target_leads, leads_found, cost_usd, created_at, finished_at FROM jobs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []JobSummary
	for rows.Next() {
		var j JobSummary
		if err := rows.Scan(&j.RunID, &j.Status, &j.TargetLeads, &j.LeadsFound, &j.CostUSD, &j.CreatedAt, &j.FinishedAt); err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
