package analysis

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/medbill/medbill/internal/domain/bill"
	"github.com/medbill/medbill/internal/platform/db"
	"github.com/medbill/medbill/internal/platform/events"
	"github.com/medbill/medbill/internal/platform/metrics"
)

type Service struct {
	bills      *bill.Service
	analyses   AnalysisRepository
	strategies StrategyRepository
	tx         db.Transactor
	analyzer   *Analyzer
	events     *events.Emitter
	metrics    *metrics.Collector
	logger     zerolog.Logger
}

func NewService(bills *bill.Service, analyses AnalysisRepository, strategies StrategyRepository,
	tx db.Transactor, analyzer *Analyzer, emitter *events.Emitter, m *metrics.Collector, logger zerolog.Logger) *Service {
	if emitter == nil {
		emitter = events.NopEmitter()
	}
	if analyzer == nil {
		analyzer = NewAnalyzer(decimal.Zero)
	}
	return &Service{
		bills:      bills,
		analyses:   analyses,
		strategies: strategies,
		tx:         tx,
		analyzer:   analyzer,
		events:     emitter,
		metrics:    m,
		logger:     logger,
	}
}

// Completed is the payload of analysis.completed.
type Completed struct {
	AnalysisID       uuid.UUID       `json:"analysis_id"`
	OverallScore     int             `json:"overall_score"`
	PotentialSavings decimal.Decimal `json:"potential_savings"`
	Issues           int             `json:"issues"`
	Strategies       int             `json:"strategies"`
}

// RunAnalysis analyzes a bill's extracted data and stores the result with
// its strategies. The bill is claimed by moving it to analyzing; a concurrent
// run loses that compare-and-set. With replace set an existing analysis is
// swapped out in the same transaction, otherwise it is ErrAnalysisExists.
func (s *Service) RunAnalysis(ctx context.Context, billID uuid.UUID, replace bool) (*Result, []*Strategy, error) {
	b, err := s.bills.GetBill(ctx, billID)
	if err != nil {
		return nil, nil, err
	}
	if b.ExtractedData == nil {
		return nil, nil, ErrNoExtractedData
	}

	_, err = s.analyses.GetByBill(ctx, billID)
	exists := err == nil
	switch {
	case exists && !replace:
		return nil, nil, ErrAnalysisExists
	case err != nil && !errors.Is(err, db.ErrNotFound):
		return nil, nil, fmt.Errorf("look up analysis: %w", err)
	}

	claimed, from, err := s.bills.TransitionQuiet(ctx, billID, bill.StatusAnalyzing)
	if err != nil {
		return nil, nil, err
	}
	s.bills.Announce(ctx, claimed, from)

	report := s.analyzer.Analyze(claimed.ExtractedData)
	summary := report.Summary
	result := &Result{
		BillID:           billID,
		OverallScore:     report.Score,
		Confidence:       report.Confidence,
		PotentialSavings: report.PotentialSavings,
		Summary:          &summary,
		Issues:           report.Issues,
		Details:          report.Details,
	}

	var done *bill.MedicalBill
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if exists {
			if err := s.analyses.DeleteByBill(ctx, billID); err != nil && !errors.Is(err, db.ErrNotFound) {
				return fmt.Errorf("delete previous analysis: %w", err)
			}
		}
		if err := s.analyses.Create(ctx, result); err != nil {
			if errors.Is(err, db.ErrUniqueViolation) {
				return ErrAnalysisExists
			}
			return fmt.Errorf("store analysis: %w", err)
		}
		for _, st := range report.Strategies {
			st.BillID = billID
			st.AnalysisID = result.ID
		}
		if err := s.strategies.CreateBatch(ctx, report.Strategies); err != nil {
			return fmt.Errorf("store strategies: %w", err)
		}
		var txErr error
		done, _, txErr = s.bills.TransitionQuiet(ctx, billID, bill.StatusAnalyzed)
		return txErr
	})
	if err != nil {
		s.release(ctx, billID, from, err)
		return nil, nil, err
	}

	s.bills.Announce(ctx, done, bill.StatusAnalyzing)
	if s.metrics != nil {
		s.metrics.AnalysesTotal.WithLabelValues("completed").Inc()
		s.metrics.PotentialSavings.Observe(result.PotentialSavings.InexactFloat64())
	}
	s.events.EmitNew(ctx, events.AnalysisCompleted, "medical_bill", billID, done.UserID, Completed{
		AnalysisID:       result.ID,
		OverallScore:     result.OverallScore,
		PotentialSavings: result.PotentialSavings,
		Issues:           len(result.Issues),
		Strategies:       len(report.Strategies),
	})
	s.logger.Info().
		Str("bill_id", billID.String()).
		Int("score", result.OverallScore).
		Str("potential_savings", result.PotentialSavings.StringFixed(2)).
		Int("issues", len(result.Issues)).
		Msg("bill analyzed")
	return result, report.Strategies, nil
}

// release returns a claimed bill to the status it was claimed from after a
// failed run. A failed replace rolls back to the previous analysis, so the
// bill goes back to analyzed.
func (s *Service) release(ctx context.Context, billID uuid.UUID, back bill.Status, cause error) {
	if s.metrics != nil {
		s.metrics.AnalysesTotal.WithLabelValues("failed").Inc()
	}
	ctx = context.WithoutCancel(ctx)
	b, from, err := s.bills.TransitionQuiet(ctx, billID, back)
	if err != nil {
		s.logger.Error().Err(err).AnErr("cause", cause).Str("bill_id", billID.String()).
			Msg("release bill after failed analysis")
		return
	}
	s.bills.Announce(ctx, b, from)
	s.logger.Warn().Err(cause).Str("bill_id", billID.String()).Str("status", string(back)).
		Msg("analysis failed; bill released")
}

func (s *Service) GetAnalysis(ctx context.Context, billID uuid.UUID) (*Result, error) {
	r, err := s.analyses.GetByBill(ctx, billID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrAnalysisNotFound
	}
	return r, err
}

// ListStrategies returns the bill's strategies by priority.
func (s *Service) ListStrategies(ctx context.Context, billID uuid.UUID) ([]*Strategy, error) {
	items, err := s.strategies.ListByBill(ctx, billID)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*Strategy{}
	}
	return items, nil
}

func (s *Service) GetStrategy(ctx context.Context, id uuid.UUID) (*Strategy, error) {
	st, err := s.strategies.GetByID(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrStrategyNotFound
	}
	return st, err
}

// AccessibleStrategy loads a strategy and checks the caller's access to its
// bill.
func (s *Service) AccessibleStrategy(ctx context.Context, id uuid.UUID, write bool) (*Strategy, error) {
	st, err := s.GetStrategy(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.bills.GetAccessible(ctx, st.BillID, write); err != nil {
		return nil, err
	}
	return st, nil
}

// editable loads a strategy and its bill, rejecting resolved bills.
func (s *Service) editable(ctx context.Context, id uuid.UUID) (*Strategy, *bill.MedicalBill, error) {
	st, err := s.GetStrategy(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	b, err := s.bills.GetBill(ctx, st.BillID)
	if err != nil {
		return nil, nil, err
	}
	if b.Status == bill.StatusResolved {
		return nil, nil, bill.ErrBillImmutable
	}
	return st, b, nil
}

func (s *Service) TransitionStrategy(ctx context.Context, id uuid.UUID, to StrategyStatus) (*Strategy, error) {
	st, b, err := s.editable(ctx, id)
	if err != nil {
		return nil, err
	}
	from := st.Status
	if err := TransitionStrategy(from, to); err != nil {
		return nil, err
	}
	if err := s.strategies.UpdateStatus(ctx, id, from, to); err != nil {
		return nil, err
	}
	st.Status = to
	s.events.EmitNew(ctx, events.StrategyStatusChanged, "reduction_strategy", st.ID, b.UserID,
		events.StatusChange{From: string(from), To: string(to)})
	return st, nil
}

// SetStepCompleted marks one action step done or not done.
func (s *Service) SetStepCompleted(ctx context.Context, id uuid.UUID, order int, completed bool) (*Strategy, error) {
	st, _, err := s.editable(ctx, id)
	if err != nil {
		return nil, err
	}
	step, err := st.Step(order)
	if err != nil {
		return nil, err
	}
	step.Completed = completed
	if err := s.strategies.UpdateSteps(ctx, id, st.ActionSteps); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrStrategyNotFound
		}
		return nil, err
	}
	return st, nil
}
