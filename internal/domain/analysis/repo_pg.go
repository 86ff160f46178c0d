package analysis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medbill/medbill/internal/platform/db"
)

// -- Analysis results --

type analysisRepoPG struct{ pool *pgxpool.Pool }

func NewAnalysisRepoPG(pool *pgxpool.Pool) AnalysisRepository { return &analysisRepoPG{pool: pool} }

func (r *analysisRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const resultCols = `id, bill_id, overall_score, confidence, potential_savings, summary,
	issues, analysis_details, created_at, updated_at`

func scanResult(row pgx.Row) (*Result, error) {
	var res Result
	var issues, details []byte
	err := row.Scan(&res.ID, &res.BillID, &res.OverallScore, &res.Confidence, &res.PotentialSavings,
		&res.Summary, &issues, &details, &res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		return nil, db.MapError(err)
	}
	if err := json.Unmarshal(issues, &res.Issues); err != nil {
		return nil, fmt.Errorf("decode issues of analysis %s: %w", res.ID, err)
	}
	if err := json.Unmarshal(details, &res.Details); err != nil {
		return nil, fmt.Errorf("decode analysis_details of analysis %s: %w", res.ID, err)
	}
	return &res, nil
}

func (r *analysisRepoPG) Create(ctx context.Context, res *Result) error {
	if res.Issues == nil {
		res.Issues = []Issue{}
	}
	issues, err := json.Marshal(res.Issues)
	if err != nil {
		return err
	}
	details, err := json.Marshal(res.Details)
	if err != nil {
		return err
	}
	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO bill_analysis_results (bill_id, overall_score, confidence, potential_savings,
			summary, issues, analysis_details)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`,
		res.BillID, res.OverallScore, res.Confidence, res.PotentialSavings, res.Summary, issues, details)
	return db.MapError(row.Scan(&res.ID, &res.CreatedAt, &res.UpdatedAt))
}

func (r *analysisRepoPG) GetByBill(ctx context.Context, billID uuid.UUID) (*Result, error) {
	return scanResult(r.conn(ctx).QueryRow(ctx,
		`SELECT `+resultCols+` FROM bill_analysis_results WHERE bill_id = $1`, billID))
}

func (r *analysisRepoPG) DeleteByBill(ctx context.Context, billID uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM bill_analysis_results WHERE bill_id = $1`, billID)
	if err != nil {
		return db.MapError(err)
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

// -- Reduction strategies --

type strategyRepoPG struct{ pool *pgxpool.Pool }

func NewStrategyRepoPG(pool *pgxpool.Pool) StrategyRepository { return &strategyRepoPG{pool: pool} }

func (r *strategyRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const strategyCols = `id, bill_id, analysis_id, strategy_type, title, description, estimated_savings,
	success_probability, priority, status, action_steps, created_at, updated_at`

func scanStrategy(row pgx.Row) (*Strategy, error) {
	var s Strategy
	var steps []byte
	err := row.Scan(&s.ID, &s.BillID, &s.AnalysisID, &s.StrategyType, &s.Title, &s.Description,
		&s.EstimatedSavings, &s.SuccessProbability, &s.Priority, &s.Status, &steps, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, db.MapError(err)
	}
	if err := json.Unmarshal(steps, &s.ActionSteps); err != nil {
		return nil, fmt.Errorf("decode action_steps of strategy %s: %w", s.ID, err)
	}
	return &s, nil
}

func marshalSteps(steps []ActionStep) ([]byte, error) {
	if steps == nil {
		steps = []ActionStep{}
	}
	return json.Marshal(steps)
}

func (r *strategyRepoPG) CreateBatch(ctx context.Context, strategies []*Strategy) error {
	if len(strategies) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, s := range strategies {
		steps, err := marshalSteps(s.ActionSteps)
		if err != nil {
			return err
		}
		batch.Queue(`
			INSERT INTO reduction_strategies (bill_id, analysis_id, strategy_type, title, description,
				estimated_savings, success_probability, priority, status, action_steps)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING id, created_at, updated_at`,
			s.BillID, s.AnalysisID, s.StrategyType, s.Title, s.Description,
			s.EstimatedSavings, s.SuccessProbability, s.Priority, s.Status, steps)
	}

	br := r.conn(ctx).SendBatch(ctx, batch)
	defer br.Close()
	for _, s := range strategies {
		if err := br.QueryRow().Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return db.MapError(err)
		}
	}
	return nil
}

func (r *strategyRepoPG) ListByBill(ctx context.Context, billID uuid.UUID) ([]*Strategy, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+strategyCols+` FROM reduction_strategies WHERE bill_id = $1 ORDER BY priority, created_at`, billID)
	if err != nil {
		return nil, db.MapError(err)
	}
	defer rows.Close()
	var items []*Strategy
	for rows.Next() {
		s, err := scanStrategy(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

func (r *strategyRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Strategy, error) {
	return scanStrategy(r.conn(ctx).QueryRow(ctx,
		`SELECT `+strategyCols+` FROM reduction_strategies WHERE id = $1`, id))
}

func (r *strategyRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, from, to StrategyStatus) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE reduction_strategies SET status=$3, updated_at=NOW()
		WHERE id = $1 AND status = $2`, id, from, to)
	if err != nil {
		return db.MapError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStrategyConflict
	}
	return nil
}

func (r *strategyRepoPG) UpdateSteps(ctx context.Context, id uuid.UUID, steps []ActionStep) error {
	raw, err := marshalSteps(steps)
	if err != nil {
		return err
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE reduction_strategies SET action_steps=$2, updated_at=NOW() WHERE id = $1`, id, raw)
	if err != nil {
		return db.MapError(err)
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}
