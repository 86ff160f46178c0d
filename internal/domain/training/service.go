package training

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/medbill/medbill/internal/platform/db"
	"github.com/medbill/medbill/internal/platform/events"
	"github.com/medbill/medbill/internal/platform/metrics"
	"github.com/medbill/medbill/internal/platform/validation"
)

const maxLeaderboard = 100

type Service struct {
	repos   Repos
	tx      db.Transactor
	events  *events.Emitter
	metrics *metrics.Collector
	logger  zerolog.Logger
	now     func() time.Time
}

func NewService(repos Repos, tx db.Transactor, emitter *events.Emitter, m *metrics.Collector, logger zerolog.Logger) *Service {
	if emitter == nil {
		emitter = events.NopEmitter()
	}
	return &Service{
		repos:   repos,
		tx:      tx,
		events:  emitter,
		metrics: m,
		logger:  logger.With().Str("component", "training").Logger(),
		now:     time.Now,
	}
}

// SetClock overrides the service clock.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

func mapNotFound(err, target error) error {
	if errors.Is(err, db.ErrNotFound) {
		return target
	}
	return err
}

// Earned is the payload of achievement.earned.
type Earned struct {
	Code   string `json:"code"`
	Name   string `json:"name"`
	Points int    `json:"points"`
}

// -- Cases --

func (s *Service) CreateCase(ctx context.Context, req CreateCaseRequest) (*MedicalCase, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	c := &MedicalCase{
		Title:              req.Title,
		Specialty:          req.Specialty,
		Difficulty:         req.Difficulty,
		Presentation:       req.Presentation,
		CorrectDiagnosis:   req.CorrectDiagnosis,
		LearningObjectives: req.LearningObjectives,
		Points:             req.Points,
	}
	if err := s.repos.Cases.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) GetCase(ctx context.Context, id uuid.UUID) (*MedicalCase, error) {
	c, err := s.repos.Cases.GetByID(ctx, id)
	if err != nil {
		return nil, mapNotFound(err, ErrCaseNotFound)
	}
	return c, nil
}

func (s *Service) ListCases(ctx context.Context, specialty string, difficulty Difficulty, limit, offset int) ([]*MedicalCase, int, error) {
	items, total, err := s.repos.Cases.List(ctx, specialty, difficulty, limit, offset)
	if items == nil {
		items = []*MedicalCase{}
	}
	return items, total, err
}

// RecordAttempt folds an attempt into the learner's progress and stats and
// awards any achievements it unlocks. Everything is written in one
// transaction with the stats row locked, so concurrent attempts by one
// learner serialize. Events go out after commit.
func (s *Service) RecordAttempt(ctx context.Context, userID, caseID uuid.UUID, req AttemptRequest) (*AttemptResult, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	if err := checkScore(req.Score); err != nil {
		return nil, err
	}
	c, err := s.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	res := &AttemptResult{}
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		prevStats, err := s.repos.Stats.GetForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		prev, err := s.repos.Progress.Get(ctx, userID, caseID)
		if err != nil && !errors.Is(err, db.ErrNotFound) {
			return err
		}

		p, newly, err := ApplyAttempt(prev, userID, caseID, req, now)
		if err != nil {
			return err
		}
		if err := s.repos.Progress.Upsert(ctx, p); err != nil {
			return err
		}
		all, err := s.repos.Progress.ListByUser(ctx, userID)
		if err != nil {
			return err
		}
		st, err := ApplyStats(prevStats, userID, all, newly, c.Points, now)
		if err != nil {
			return err
		}
		if err := s.repos.Stats.Upsert(ctx, st); err != nil {
			return err
		}

		earned, err := s.award(ctx, userID, st, req.Score)
		if err != nil {
			return err
		}
		res.Progress, res.Stats, res.NewlyCompleted, res.Earned = p, st, newly, earned
		return nil
	})
	if err != nil {
		return nil, err
	}

	if res.Progress.Completed {
		res.CorrectDiagnosis = c.CorrectDiagnosis
	}
	if res.Earned == nil {
		res.Earned = []*Achievement{}
	}
	for _, a := range res.Earned {
		if s.metrics != nil {
			s.metrics.AchievementsEarned.Inc()
		}
		s.events.EmitNew(ctx, events.AchievementEarned, "achievement", a.ID, userID,
			Earned{Code: a.Code, Name: a.Name, Points: a.Points})
		s.logger.Info().Str("user_id", userID.String()).Str("achievement", a.Code).Msg("achievement earned")
	}
	return res, nil
}

// award grants the achievements newly met by st. An achievement already
// present is skipped, so each is earned at most once.
func (s *Service) award(ctx context.Context, userID uuid.UUID, st *Stats, score decimal.Decimal) ([]*Achievement, error) {
	all, err := s.repos.Achievements.List(ctx)
	if err != nil {
		return nil, err
	}
	mine, err := s.repos.Achievements.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	have := make(map[uuid.UUID]bool, len(mine))
	for _, ua := range mine {
		have[ua.ID] = true
	}
	var out []*Achievement
	for _, a := range Evaluate(all, have, st, score) {
		ok, err := s.repos.Achievements.Award(ctx, userID, a.ID)
		if err != nil {
			return nil, fmt.Errorf("award %s: %w", a.Code, err)
		}
		if ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *Service) ListProgress(ctx context.Context, userID uuid.UUID) ([]*Progress, error) {
	items, err := s.repos.Progress.ListByUser(ctx, userID)
	if items == nil {
		items = []*Progress{}
	}
	return items, err
}

// GetStats returns zeroed stats for a learner with no activity.
func (s *Service) GetStats(ctx context.Context, userID uuid.UUID) (*Stats, error) {
	st, err := s.repos.Stats.Get(ctx, userID)
	if errors.Is(err, db.ErrNotFound) {
		return &Stats{UserID: userID, AverageAccuracy: decimal.Zero}, nil
	}
	return st, err
}

func (s *Service) Leaderboard(ctx context.Context, limit int) ([]*LeaderboardEntry, error) {
	if limit <= 0 || limit > maxLeaderboard {
		limit = maxLeaderboard
	}
	entries, err := s.repos.Stats.Leaderboard(ctx, limit)
	if err != nil {
		return nil, err
	}
	for i, e := range entries {
		e.Rank = i + 1
	}
	if entries == nil {
		entries = []*LeaderboardEntry{}
	}
	return entries, nil
}

// -- Achievements --

func (s *Service) CreateAchievement(ctx context.Context, a *Achievement) error {
	if a.Code == "" || a.Name == "" || a.Category == "" {
		return &validation.Error{Fields: []validation.FieldError{{Field: "code", Rule: "required"}}}
	}
	if err := validation.Struct(a.Criteria); err != nil {
		return err
	}
	return s.repos.Achievements.Create(ctx, a)
}

func (s *Service) ListAchievements(ctx context.Context) ([]*Achievement, error) {
	items, err := s.repos.Achievements.List(ctx)
	if items == nil {
		items = []*Achievement{}
	}
	return items, err
}

func (s *Service) ListUserAchievements(ctx context.Context, userID uuid.UUID) ([]*UserAchievement, error) {
	items, err := s.repos.Achievements.ListByUser(ctx, userID)
	if items == nil {
		items = []*UserAchievement{}
	}
	return items, err
}

// -- Board exams --

func (s *Service) CreateExam(ctx context.Context, req CreateExamRequest) (*BoardExam, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	if err := validateQuestions(req.Questions); err != nil {
		return nil, err
	}
	e := &BoardExam{
		Title:            req.Title,
		Specialty:        req.Specialty,
		PassingScore:     req.PassingScore.Round(2),
		TimeLimitMinutes: req.TimeLimitMinutes,
		Questions:        req.Questions,
	}
	if err := s.repos.Exams.Create(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Service) GetExam(ctx context.Context, id uuid.UUID) (*BoardExam, error) {
	e, err := s.repos.Exams.GetByID(ctx, id)
	if err != nil {
		return nil, mapNotFound(err, ErrExamNotFound)
	}
	return e, nil
}

func (s *Service) ListExams(ctx context.Context, specialty string, limit, offset int) ([]*BoardExam, int, error) {
	items, total, err := s.repos.Exams.List(ctx, specialty, limit, offset)
	if items == nil {
		items = []*BoardExam{}
	}
	return items, total, err
}

// SubmitExam grades and stores an attempt. A submission arriving after the
// time limit, measured from started_at, is rejected.
func (s *Service) SubmitExam(ctx context.Context, userID, examID uuid.UUID, sub ExamSubmission) (*ExamAttempt, error) {
	e, err := s.GetExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	score, passed, err := ScoreExam(e, sub.Answers)
	if err != nil {
		return nil, err
	}
	now := s.now()
	started := now
	if sub.StartedAt != nil {
		started = *sub.StartedAt
	}
	if started.After(now) {
		return nil, &validation.Error{Fields: []validation.FieldError{{Field: "started_at", Rule: "past"}}}
	}
	if now.Sub(started) > time.Duration(e.TimeLimitMinutes)*time.Minute {
		return nil, ErrTimeLimitExceeded
	}
	a := &ExamAttempt{
		ExamID:      examID,
		UserID:      userID,
		Answers:     sub.Answers,
		Score:       score,
		Passed:      passed,
		StartedAt:   started,
		CompletedAt: now,
	}
	if err := s.repos.Exams.CreateAttempt(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Service) ListExamAttempts(ctx context.Context, userID, examID uuid.UUID) ([]*ExamAttempt, error) {
	items, err := s.repos.Exams.ListAttempts(ctx, examID, userID)
	if items == nil {
		items = []*ExamAttempt{}
	}
	return items, err
}

// -- Emergency scenarios --

func (s *Service) CreateScenario(ctx context.Context, req CreateScenarioRequest) (*EmergencyScenario, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	if err := validateSteps(req.Steps); err != nil {
		return nil, err
	}
	sc := &EmergencyScenario{
		Title:            req.Title,
		Category:         req.Category,
		Severity:         req.Severity,
		Steps:            req.Steps,
		TimeLimitSeconds: req.TimeLimitSeconds,
	}
	if err := s.repos.Scenarios.Create(ctx, sc); err != nil {
		return nil, err
	}
	return sc, nil
}

func (s *Service) GetScenario(ctx context.Context, id uuid.UUID) (*EmergencyScenario, error) {
	sc, err := s.repos.Scenarios.GetByID(ctx, id)
	if err != nil {
		return nil, mapNotFound(err, ErrScenarioNotFound)
	}
	return sc, nil
}

func (s *Service) ListScenarios(ctx context.Context, category string, severity Severity, limit, offset int) ([]*EmergencyScenario, int, error) {
	items, total, err := s.repos.Scenarios.List(ctx, category, severity, limit, offset)
	if items == nil {
		items = []*EmergencyScenario{}
	}
	return items, total, err
}
