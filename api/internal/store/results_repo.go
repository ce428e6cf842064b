// Package store persists completed analyses to Postgres for offline review.
// The repository is an optional audit sink: the pipeline works unchanged
// when no database is configured.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = sql.ErrNoRows

type ResultsRepo struct{ DB *sql.DB }

func NewResultsRepo(db *sql.DB) *ResultsRepo { return &ResultsRepo{DB: db} }

// ResultRow is one completed analysis.
type ResultRow struct {
	ID        int64
	CreatedAt time.Time

	SessionID    string
	DogName      string
	MainConcerns []string

	Engine string
	Model  string

	Confidence float64
	FinalText  string
	RawJSON    json.RawMessage
	Responses  json.RawMessage

	VisionFallbackUsed bool
	ExpertMockUsed     bool
	MariTemplateUsed   bool
}

const schema = `
create table if not exists analysis_results (
    id                   bigserial primary key,
    created_at           timestamptz not null default now(),
    session_id           text not null,
    dog_name             text not null default '',
    main_concerns        jsonb not null default '[]',
    engine               text not null default '',
    model                text not null default '',
    confidence           double precision not null default 0,
    final_text           text not null default '',
    raw_json             jsonb not null default '{}',
    responses            jsonb not null default '{}',
    vision_fallback_used boolean not null default false,
    expert_mock_used     boolean not null default false,
    mari_template_used   boolean not null default false
);
create index if not exists analysis_results_session_idx on analysis_results (session_id, created_at desc);
`

// EnsureSchema creates the results table when missing.
func (r *ResultsRepo) EnsureSchema(ctx context.Context) error {
	_, err := r.DB.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("ensure analysis_results schema: %w", err)
	}
	return nil
}

func (r *ResultsRepo) Insert(ctx context.Context, row ResultRow) (int64, error) {
	concerns, err := json.Marshal(row.MainConcerns)
	if err != nil {
		return 0, err
	}
	const q = `
insert into analysis_results
    (session_id, dog_name, main_concerns, engine, model,
     confidence, final_text, raw_json, responses,
     vision_fallback_used, expert_mock_used, mari_template_used)
values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
returning id`
	var id int64
	err = r.DB.QueryRowContext(ctx, q,
		row.SessionID, row.DogName, concerns, row.Engine, row.Model,
		row.Confidence, row.FinalText, nullableJSON(row.RawJSON), nullableJSON(row.Responses),
		row.VisionFallbackUsed, row.ExpertMockUsed, row.MariTemplateUsed,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert analysis result: %w", err)
	}
	return id, nil
}

// LatestBySession returns the most recent result for a session.
func (r *ResultsRepo) LatestBySession(ctx context.Context, sessionID string) (*ResultRow, error) {
	const q = `
select id, created_at, session_id, dog_name, main_concerns, engine, model,
       confidence, final_text, raw_json, responses,
       vision_fallback_used, expert_mock_used, mari_template_used
from analysis_results
where session_id = $1
order by created_at desc
limit 1`
	var (
		row      ResultRow
		concerns []byte
	)
	err := r.DB.QueryRowContext(ctx, q, sessionID).Scan(
		&row.ID, &row.CreatedAt, &row.SessionID, &row.DogName, &concerns,
		&row.Engine, &row.Model,
		&row.Confidence, &row.FinalText, &row.RawJSON, &row.Responses,
		&row.VisionFallbackUsed, &row.ExpertMockUsed, &row.MariTemplateUsed,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load analysis result: %w", err)
	}
	if len(concerns) > 0 {
		_ = json.Unmarshal(concerns, &row.MainConcerns)
	}
	return &row, nil
}

func nullableJSON(b json.RawMessage) []byte {
	if len(b) == 0 {
		return []byte("{}")
	}
	return b
}
