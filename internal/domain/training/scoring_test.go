package training

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestNormalizeAccuracy(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"0", "0", false},
		{"100", "100", false},
		{"87.456", "87.46", false},
		{"66.664", "66.66", false},
		{"100.001", "", true},
		{"-0.01", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeAccuracy(dec(tt.in))
			if tt.wantErr {
				if !errors.Is(err, ErrAccuracyOutOfRange) {
					t.Fatalf("expected ErrAccuracyOutOfRange, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(dec(tt.want)) {
				t.Errorf("NormalizeAccuracy(%s) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestApplyAttempt(t *testing.T) {
	user, kase := uuid.New(), uuid.New()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	p, newly, err := ApplyAttempt(nil, user, kase, AttemptRequest{Score: dec("55"), TimeSpentSeconds: 120}, now)
	if err != nil {
		t.Fatalf("ApplyAttempt() error: %v", err)
	}
	if newly || p.Completed || p.Attempts != 1 || !p.BestScore.Equal(dec("55")) {
		t.Errorf("unexpected first attempt: %+v newly=%v", p, newly)
	}

	p, newly, _ = ApplyAttempt(p, user, kase, AttemptRequest{Score: dec("82.5"), TimeSpentSeconds: 60}, now)
	if !newly || !p.Completed || p.CompletedAt == nil || p.Attempts != 2 || p.TimeSpentSeconds != 180 {
		t.Errorf("expected completion on second attempt: %+v", p)
	}

	p, newly, _ = ApplyAttempt(p, user, kase, AttemptRequest{Score: dec("40")}, now)
	if newly || !p.BestScore.Equal(dec("82.5")) {
		t.Errorf("lower score must not lower best or recomplete: %+v newly=%v", p, newly)
	}

	if _, _, err := ApplyAttempt(p, user, kase, AttemptRequest{Score: dec("101")}, now); !errors.Is(err, ErrScoreOutOfRange) {
		t.Errorf("expected ErrScoreOutOfRange, got %v", err)
	}
}

func TestApplyStats_Streak(t *testing.T) {
	user := uuid.New()
	day1 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	progress := []*Progress{{BestScore: dec("80")}}

	st, err := ApplyStats(nil, user, progress, true, 20, day1)
	if err != nil {
		t.Fatalf("ApplyStats() error: %v", err)
	}
	if st.CurrentStreak != 1 || st.CasesCompleted != 1 || st.TotalPoints != 20 {
		t.Errorf("unexpected first stats: %+v", st)
	}

	st, _ = ApplyStats(st, user, progress, false, 20, day1.Add(time.Hour))
	if st.CurrentStreak != 1 || st.TotalPoints != 20 {
		t.Errorf("same-day activity must not extend streak or add points: %+v", st)
	}

	st, _ = ApplyStats(st, user, progress, false, 0, day1.AddDate(0, 0, 1))
	if st.CurrentStreak != 2 || st.LongestStreak != 2 {
		t.Errorf("next-day activity should extend the streak: %+v", st)
	}

	st, _ = ApplyStats(st, user, progress, false, 0, day1.AddDate(0, 0, 5))
	if st.CurrentStreak != 1 || st.LongestStreak != 2 {
		t.Errorf("a gap should reset the streak: %+v", st)
	}
}

func TestApplyStats_AverageAccuracy(t *testing.T) {
	progress := []*Progress{{BestScore: dec("100")}, {BestScore: dec("66.67")}, {BestScore: dec("33.33")}}
	st, err := ApplyStats(nil, uuid.New(), progress, false, 0, time.Now())
	if err != nil {
		t.Fatalf("ApplyStats() error: %v", err)
	}
	if !st.AverageAccuracy.Equal(dec("66.67")) {
		t.Errorf("average = %s, want 66.67", st.AverageAccuracy)
	}

	bad := []*Progress{{BestScore: dec("150")}}
	if _, err := ApplyStats(nil, uuid.New(), bad, false, 0, time.Now()); !errors.Is(err, ErrAccuracyOutOfRange) {
		t.Errorf("expected ErrAccuracyOutOfRange, got %v", err)
	}
}

func TestEvaluate(t *testing.T) {
	first := &Achievement{ID: uuid.New(), Code: "first", Criteria: Criteria{Kind: CriteriaCasesCompleted, Threshold: 1}}
	points := &Achievement{ID: uuid.New(), Code: "points", Criteria: Criteria{Kind: CriteriaTotalPoints, Threshold: 50}}
	streak := &Achievement{ID: uuid.New(), Code: "streak", Criteria: Criteria{Kind: CriteriaStreakDays, Threshold: 3}}
	perfect := &Achievement{ID: uuid.New(), Code: "perfect", Criteria: Criteria{Kind: CriteriaPerfectScore, Threshold: 1}}
	all := []*Achievement{first, points, streak, perfect}

	st := &Stats{CasesCompleted: 1, TotalPoints: 20, CurrentStreak: 3}
	got := Evaluate(all, nil, st, dec("100"))
	if len(got) != 3 || got[0] != first || got[1] != streak || got[2] != perfect {
		t.Errorf("unexpected awards: %v", codes(got))
	}

	got = Evaluate(all, map[uuid.UUID]bool{first.ID: true, streak.ID: true}, st, dec("99.99"))
	if len(got) != 0 {
		t.Errorf("expected nothing new, got %v", codes(got))
	}
}

func codes(as []*Achievement) []string {
	out := make([]string, len(as))
	for i, a := range as {
		out[i] = a.Code
	}
	return out
}

func TestScoreExam(t *testing.T) {
	exam := &BoardExam{
		PassingScore: dec("60"),
		Questions: []Question{
			{Choices: []string{"a", "b"}, AnswerIndex: 0},
			{Choices: []string{"a", "b", "c"}, AnswerIndex: 2},
			{Choices: []string{"a", "b"}, AnswerIndex: 1},
		},
	}
	tests := []struct {
		name       string
		answers    []int
		wantScore  string
		wantPassed bool
		wantErr    bool
	}{
		{"all correct", []int{0, 2, 1}, "100", true, false},
		{"two of three", []int{0, 2, 0}, "66.67", true, false},
		{"one skipped", []int{0, -1, 0}, "33.33", false, false},
		{"wrong length", []int{0, 1}, "", false, true},
		{"out of range", []int{0, 3, 1}, "", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, passed, err := ScoreExam(exam, tt.answers)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidAnswers) {
					t.Fatalf("expected ErrInvalidAnswers, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !score.Equal(dec(tt.wantScore)) || passed != tt.wantPassed {
				t.Errorf("ScoreExam() = %s/%v, want %s/%v", score, passed, tt.wantScore, tt.wantPassed)
			}
		})
	}
}

func TestMentorship_Transition(t *testing.T) {
	now := time.Now()
	m := &Mentorship{Status: MentorshipPending}
	if err := m.Transition(MentorshipCompleted, now); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("pending -> completed should fail, got %v", err)
	}
	if err := m.Transition(MentorshipActive, now); err != nil || m.StartedAt == nil {
		t.Fatalf("pending -> active failed: %v", err)
	}
	if err := m.Transition(MentorshipCompleted, now); err != nil || m.EndedAt == nil {
		t.Fatalf("active -> completed failed: %v", err)
	}
	if err := m.Transition(MentorshipCancelled, now); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("completed is terminal, got %v", err)
	}
}

func TestRedaction(t *testing.T) {
	c := &MedicalCase{CorrectDiagnosis: "STEMI"}
	if c.Redacted().CorrectDiagnosis != "" || c.CorrectDiagnosis != "STEMI" {
		t.Error("Redacted must clear the copy only")
	}
	e := &BoardExam{Questions: []Question{{Prompt: "p", Choices: []string{"a", "b"}, AnswerIndex: 1, Explanation: "x"}}}
	r := e.Redacted()
	if r.Questions[0].AnswerIndex != 0 || r.Questions[0].Explanation != "" || e.Questions[0].AnswerIndex != 1 {
		t.Error("Redacted exam must strip answers without touching the original")
	}
}
