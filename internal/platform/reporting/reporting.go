package reporting

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/labstack/echo/v4"

	"github.com/medbill/medbill/internal/platform/auth"
)

// Measure is a named aggregate query over the billing and training tables.
// Every measure takes a single $1 parameter: the start of the reporting window.
type Measure struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	SQL         string `json:"-"`
}

type Report struct {
	MeasureID   string           `json:"measure_id"`
	MeasureName string           `json:"measure_name"`
	Since       time.Time        `json:"since"`
	GeneratedAt time.Time        `json:"generated_at"`
	Results     []map[string]any `json:"results"`
}

// Money columns are cast to text so they serialise like decimal fields elsewhere.
var Measures = []Measure{
	{
		ID:          "bills-by-status",
		Name:        "Bills by Status",
		Description: "Uploaded bills and billed amount grouped by status",
		SQL: `SELECT status, COUNT(*) AS total, COALESCE(SUM(total_amount), 0)::text AS billed_amount
			FROM medical_bills WHERE created_at >= $1 GROUP BY status ORDER BY status`,
	},
	{
		ID:          "analysis-savings",
		Name:        "Analysis Savings",
		Description: "Completed analyses, average score and total potential savings",
		SQL: `SELECT COUNT(*) AS analyses, COALESCE(ROUND(AVG(overall_score), 2), 0)::text AS average_score,
				COALESCE(SUM(potential_savings), 0)::text AS potential_savings
			FROM bill_analysis_results WHERE created_at >= $1`,
	},
	{
		ID:          "strategy-outcomes",
		Name:        "Strategy Outcomes",
		Description: "Reduction strategies grouped by type and status with estimated savings",
		SQL: `SELECT strategy_type, status, COUNT(*) AS total, COALESCE(SUM(estimated_savings), 0)::text AS estimated_savings
			FROM reduction_strategies WHERE created_at >= $1
			GROUP BY strategy_type, status ORDER BY strategy_type, status`,
	},
	{
		ID:          "document-pipeline",
		Name:        "Document Pipeline",
		Description: "Generated dispute documents grouped by type and status",
		SQL: `SELECT document_type, status, COUNT(*) AS total
			FROM generated_documents WHERE created_at >= $1
			GROUP BY document_type, status ORDER BY document_type, status`,
	},
	{
		ID:          "training-activity",
		Name:        "Training Activity",
		Description: "Learners active in the window with completions and points",
		SQL: `SELECT COUNT(*) AS learners, COALESCE(SUM(cases_completed), 0) AS cases_completed,
				COALESCE(SUM(total_points), 0) AS total_points,
				COALESCE(ROUND(AVG(average_accuracy), 2), 0)::text AS average_accuracy
			FROM user_stats WHERE last_activity_date >= $1::date`,
	},
}

func FindMeasure(id string) *Measure {
	for i := range Measures {
		if Measures[i].ID == id {
			return &Measures[i]
		}
	}
	return nil
}

// Evaluator runs a measure.
type Evaluator interface {
	Evaluate(ctx context.Context, m *Measure, since time.Time) ([]map[string]any, error)
}

type rowQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type pgEvaluator struct {
	q rowQuerier
}

// NewPGEvaluator evaluates measures against q. *pgxpool.Pool satisfies it.
func NewPGEvaluator(q rowQuerier) Evaluator {
	return &pgEvaluator{q: q}
}

func (e *pgEvaluator) Evaluate(ctx context.Context, m *Measure, since time.Time) ([]map[string]any, error) {
	rows, err := e.q.Query(ctx, m.SQL, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	results := []map[string]any{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]any, len(fields))
		for i, fd := range fields {
			row[fd.Name] = values[i]
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

type Handler struct {
	eval Evaluator
	now  func() time.Time
}

func NewHandler(eval Evaluator) *Handler {
	return &Handler{eval: eval, now: time.Now}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/reports", auth.RequireRole(auth.RoleAdmin))
	g.GET("/measures", h.ListMeasures)
	g.GET("/measures/:id/evaluate", h.EvaluateMeasure)
}

func (h *Handler) ListMeasures(c echo.Context) error {
	return c.JSON(http.StatusOK, Measures)
}

// EvaluateMeasure runs a measure over ?since=YYYY-MM-DD, defaulting to the
// last 30 days.
func (h *Handler) EvaluateMeasure(c echo.Context) error {
	m := FindMeasure(c.Param("id"))
	if m == nil {
		return echo.NewHTTPError(http.StatusNotFound, "measure not found")
	}

	now := h.now().UTC()
	since := now.AddDate(0, 0, -30).Truncate(24 * time.Hour)
	if raw := c.QueryParam("since"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "since must be a date (YYYY-MM-DD)")
		}
		if t.After(now) {
			return echo.NewHTTPError(http.StatusBadRequest, "since cannot be in the future")
		}
		since = t
	}

	results, err := h.eval.Evaluate(c.Request().Context(), m, since)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "report timed out")
		}
		return err
	}

	return c.JSON(http.StatusOK, Report{
		MeasureID:   m.ID,
		MeasureName: m.Name,
		Since:       since,
		GeneratedAt: now,
		Results:     results,
	})
}
