package training

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/medbill/medbill/internal/platform/validation"
)

// NormalizeAccuracy rounds an accuracy to two places and rejects values
// outside 0.00 to 100.00.
func NormalizeAccuracy(d decimal.Decimal) (decimal.Decimal, error) {
	if d.IsNegative() || d.GreaterThan(hundred) {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrAccuracyOutOfRange, d.String())
	}
	return d.Round(2), nil
}

func checkScore(d decimal.Decimal) error {
	if d.IsNegative() || d.GreaterThan(hundred) {
		return fmt.Errorf("%w: %s", ErrScoreOutOfRange, d.String())
	}
	return nil
}

func day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ApplyAttempt folds one attempt into a learner's progress on a case. prev
// is nil on the first attempt. It reports whether this attempt completed the
// case for the first time.
func ApplyAttempt(prev *Progress, userID, caseID uuid.UUID, req AttemptRequest, now time.Time) (*Progress, bool, error) {
	if err := checkScore(req.Score); err != nil {
		return nil, false, err
	}
	p := &Progress{UserID: userID, CaseID: caseID, BestScore: decimal.Zero}
	if prev != nil {
		cp := *prev
		p = &cp
	}
	p.Attempts++
	p.TimeSpentSeconds += req.TimeSpentSeconds
	score := req.Score.Round(2)
	if score.GreaterThan(p.BestScore) {
		p.BestScore = score
	}
	newly := false
	if !p.Completed && score.GreaterThanOrEqual(CompletionScore) {
		p.Completed = true
		p.CompletedAt = &now
		newly = true
	}
	return p, newly, nil
}

// ApplyStats recomputes a learner's stats after an attempt. progress holds
// every case the learner has attempted, including the one just updated.
func ApplyStats(prev *Stats, userID uuid.UUID, progress []*Progress, newlyCompleted bool, points int, now time.Time) (*Stats, error) {
	st := &Stats{UserID: userID, AverageAccuracy: decimal.Zero}
	if prev != nil {
		cp := *prev
		st = &cp
	}
	if newlyCompleted {
		st.CasesCompleted++
		st.TotalPoints += points
	}

	today := day(now)
	switch {
	case st.LastActivityDate == nil:
		st.CurrentStreak = 1
	case day(*st.LastActivityDate).Equal(today):
		if st.CurrentStreak == 0 {
			st.CurrentStreak = 1
		}
	case day(*st.LastActivityDate).AddDate(0, 0, 1).Equal(today):
		st.CurrentStreak++
	default:
		st.CurrentStreak = 1
	}
	if st.CurrentStreak > st.LongestStreak {
		st.LongestStreak = st.CurrentStreak
	}
	st.LastActivityDate = &today

	if len(progress) > 0 {
		sum := decimal.Zero
		for _, p := range progress {
			sum = sum.Add(p.BestScore)
		}
		avg, err := NormalizeAccuracy(sum.Div(decimal.NewFromInt(int64(len(progress)))))
		if err != nil {
			return nil, err
		}
		st.AverageAccuracy = avg
	}
	return st, nil
}

// Qualifies reports whether stats and the latest score meet an achievement's
// criteria.
func (a *Achievement) Qualifies(st *Stats, lastScore decimal.Decimal) bool {
	switch a.Criteria.Kind {
	case CriteriaCasesCompleted:
		return st.CasesCompleted >= a.Criteria.Threshold
	case CriteriaTotalPoints:
		return st.TotalPoints >= a.Criteria.Threshold
	case CriteriaStreakDays:
		return st.CurrentStreak >= a.Criteria.Threshold
	case CriteriaPerfectScore:
		return lastScore.GreaterThanOrEqual(hundred)
	}
	return false
}

// Evaluate returns the achievements newly met, skipping ones already earned.
func Evaluate(all []*Achievement, earned map[uuid.UUID]bool, st *Stats, lastScore decimal.Decimal) []*Achievement {
	var out []*Achievement
	for _, a := range all {
		if earned[a.ID] {
			continue
		}
		if a.Qualifies(st, lastScore) {
			out = append(out, a)
		}
	}
	return out
}

// ScoreExam grades a submission. The score is the percentage of correct
// answers rounded to two places.
func ScoreExam(exam *BoardExam, answers []int) (decimal.Decimal, bool, error) {
	n := len(exam.Questions)
	if n == 0 || len(answers) != n {
		return decimal.Zero, false, fmt.Errorf("%w: got %d answers for %d questions", ErrInvalidAnswers, len(answers), n)
	}
	correct := 0
	for i, a := range answers {
		q := exam.Questions[i]
		if a < -1 || a >= len(q.Choices) {
			return decimal.Zero, false, fmt.Errorf("%w: answer %d out of range for question %d", ErrInvalidAnswers, a, i+1)
		}
		if a == q.AnswerIndex {
			correct++
		}
	}
	score := decimal.NewFromInt(int64(correct)).Mul(hundred).Div(decimal.NewFromInt(int64(n))).Round(2)
	return score, score.GreaterThanOrEqual(exam.PassingScore), nil
}

func validateQuestions(qs []Question) error {
	for i, q := range qs {
		if q.AnswerIndex >= len(q.Choices) {
			return &validation.Error{Fields: []validation.FieldError{{
				Field: fmt.Sprintf("questions[%d].answer_index", i), Rule: "lt", Param: fmt.Sprint(len(q.Choices)),
			}}}
		}
	}
	return nil
}

// validateSteps requires steps numbered 1..n in order.
func validateSteps(steps []ScenarioStep) error {
	for i, s := range steps {
		if s.Order != i+1 {
			return &validation.Error{Fields: []validation.FieldError{{
				Field: fmt.Sprintf("steps[%d].order", i), Rule: "eq", Param: fmt.Sprint(i + 1),
			}}}
		}
	}
	return nil
}
