// Package training holds the clinical training context: practice cases,
// progress and stats, achievements, study groups, mentorships, board exams
// and emergency scenarios. It shares only the users table with billing.
package training

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrCaseNotFound       = errors.New("medical case not found")
	ErrScenarioNotFound   = errors.New("emergency scenario not found")
	ErrExamNotFound       = errors.New("board exam not found")
	ErrGroupNotFound      = errors.New("study group not found")
	ErrMentorshipNotFound = errors.New("mentorship not found")

	ErrScoreOutOfRange    = errors.New("score must be between 0 and 100")
	ErrAccuracyOutOfRange = errors.New("average accuracy must be between 0.00 and 100.00")
	ErrInvalidAnswers     = errors.New("answers do not match the exam questions")
	ErrTimeLimitExceeded  = errors.New("exam time limit exceeded")

	ErrGroupFull         = errors.New("study group is full")
	ErrGroupPrivate      = errors.New("study group is private")
	ErrAlreadyMember     = errors.New("already a member of this study group")
	ErrNotMember         = errors.New("not a member of this study group")
	ErrOwnerCannotLeave  = errors.New("the owner cannot leave the study group")
	ErrSelfMentorship    = errors.New("mentor and mentee must be different users")
	ErrInvalidTransition = errors.New("invalid mentorship status transition")
	ErrStatusConflict    = errors.New("mentorship status changed concurrently")
	ErrForbidden         = errors.New("not allowed to act on this record")
)

// CompletionScore is the score at which a case counts as completed.
var CompletionScore = decimal.NewFromInt(70)

var hundred = decimal.NewFromInt(100)

type Difficulty string

const (
	DifficultyBeginner     Difficulty = "beginner"
	DifficultyIntermediate Difficulty = "intermediate"
	DifficultyAdvanced     Difficulty = "advanced"
	DifficultyExpert       Difficulty = "expert"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityModerate Severity = "moderate"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// -- Cases --

type Vitals struct {
	HeartRate        int     `json:"heart_rate,omitempty"`
	BloodPressure    string  `json:"blood_pressure,omitempty"`
	RespiratoryRate  int     `json:"respiratory_rate,omitempty"`
	TemperatureC     float64 `json:"temperature_c,omitempty"`
	OxygenSaturation int     `json:"oxygen_saturation,omitempty"`
}

type PhysicalExam struct {
	Vitals   Vitals   `json:"vitals"`
	Findings []string `json:"findings"`
}

type LabResult struct {
	Name  string `json:"name" validate:"required"`
	Value string `json:"value" validate:"required"`
	Unit  string `json:"unit,omitempty"`
	Flag  string `json:"flag,omitempty"`
}

// Presentation is the medical_cases.presentation document.
type Presentation struct {
	ChiefComplaint string       `json:"chief_complaint" validate:"required"`
	History        string       `json:"history"`
	PhysicalExam   PhysicalExam `json:"physical_exam"`
	Labs           []LabResult  `json:"labs" validate:"dive"`
}

type MedicalCase struct {
	ID                 uuid.UUID    `db:"id" json:"id"`
	Title              string       `db:"title" json:"title"`
	Specialty          string       `db:"specialty" json:"specialty"`
	Difficulty         Difficulty   `db:"difficulty" json:"difficulty"`
	Presentation       Presentation `db:"presentation" json:"presentation"`
	CorrectDiagnosis   string       `db:"correct_diagnosis" json:"correct_diagnosis,omitempty"`
	LearningObjectives []string     `db:"learning_objectives" json:"learning_objectives"`
	Points             int          `db:"points" json:"points"`
	CreatedAt          time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time    `db:"updated_at" json:"updated_at"`
}

// Redacted returns a copy without the answer, for learners.
func (c *MedicalCase) Redacted() *MedicalCase {
	cp := *c
	cp.CorrectDiagnosis = ""
	return &cp
}

type CreateCaseRequest struct {
	Title              string       `json:"title" validate:"required,max=255"`
	Specialty          string       `json:"specialty" validate:"required,max=100"`
	Difficulty         Difficulty   `json:"difficulty" validate:"required,oneof=beginner intermediate advanced expert"`
	Presentation       Presentation `json:"presentation"`
	CorrectDiagnosis   string       `json:"correct_diagnosis" validate:"required,max=255"`
	LearningObjectives []string     `json:"learning_objectives"`
	Points             int          `json:"points" validate:"gte=0"`
}

// -- Progress and stats --

type Progress struct {
	ID               uuid.UUID       `db:"id" json:"id"`
	UserID           uuid.UUID       `db:"user_id" json:"user_id"`
	CaseID           uuid.UUID       `db:"case_id" json:"case_id"`
	Attempts         int             `db:"attempts" json:"attempts"`
	BestScore        decimal.Decimal `db:"best_score" json:"best_score"`
	Completed        bool            `db:"completed" json:"completed"`
	TimeSpentSeconds int             `db:"time_spent_seconds" json:"time_spent_seconds"`
	CompletedAt      *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

type Stats struct {
	UserID           uuid.UUID       `db:"user_id" json:"user_id"`
	CasesCompleted   int             `db:"cases_completed" json:"cases_completed"`
	TotalPoints      int             `db:"total_points" json:"total_points"`
	CurrentStreak    int             `db:"current_streak" json:"current_streak"`
	LongestStreak    int             `db:"longest_streak" json:"longest_streak"`
	AverageAccuracy  decimal.Decimal `db:"average_accuracy" json:"average_accuracy"`
	LastActivityDate *time.Time      `db:"last_activity_date" json:"last_activity_date,omitempty"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

type LeaderboardEntry struct {
	Rank           int       `json:"rank"`
	UserID         uuid.UUID `json:"user_id"`
	Username       string    `json:"username"`
	TotalPoints    int       `json:"total_points"`
	CasesCompleted int       `json:"cases_completed"`
	CurrentStreak  int       `json:"current_streak"`
}

type AttemptRequest struct {
	Score            decimal.Decimal `json:"score"`
	TimeSpentSeconds int             `json:"time_spent_seconds" validate:"gte=0"`
}

// AttemptResult is returned after recording an attempt.
type AttemptResult struct {
	Progress         *Progress      `json:"progress"`
	Stats            *Stats         `json:"stats"`
	NewlyCompleted   bool           `json:"newly_completed"`
	CorrectDiagnosis string         `json:"correct_diagnosis,omitempty"`
	Earned           []*Achievement `json:"achievements_earned"`
}

// -- Achievements --

type CriteriaKind string

const (
	CriteriaCasesCompleted CriteriaKind = "cases_completed"
	CriteriaTotalPoints    CriteriaKind = "total_points"
	CriteriaStreakDays     CriteriaKind = "streak_days"
	CriteriaPerfectScore   CriteriaKind = "perfect_score"
)

type Criteria struct {
	Kind      CriteriaKind `json:"kind" validate:"required,oneof=cases_completed total_points streak_days perfect_score"`
	Threshold int          `json:"threshold" validate:"gte=0"`
}

type Achievement struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Code        string    `db:"code" json:"code"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description,omitempty"`
	Category    string    `db:"category" json:"category"`
	Points      int       `db:"points" json:"points"`
	Criteria    Criteria  `db:"criteria" json:"criteria"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

type UserAchievement struct {
	Achievement
	EarnedAt time.Time `db:"earned_at" json:"earned_at"`
}

// -- Study groups --

type MemberRole string

const (
	MemberOwner  MemberRole = "owner"
	MemberMember MemberRole = "member"
)

type StudyGroup struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description,omitempty"`
	Specialty   string    `db:"specialty" json:"specialty,omitempty"`
	OwnerID     uuid.UUID `db:"owner_id" json:"owner_id"`
	MaxMembers  int       `db:"max_members" json:"max_members"`
	IsPublic    bool      `db:"is_public" json:"is_public"`
	MemberCount int       `db:"-" json:"member_count"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

type Member struct {
	GroupID  uuid.UUID  `db:"group_id" json:"group_id"`
	UserID   uuid.UUID  `db:"user_id" json:"user_id"`
	Role     MemberRole `db:"role" json:"role"`
	JoinedAt time.Time  `db:"joined_at" json:"joined_at"`
}

type CreateGroupRequest struct {
	Name        string `json:"name" validate:"required,max=255"`
	Description string `json:"description"`
	Specialty   string `json:"specialty" validate:"max=100"`
	MaxMembers  int    `json:"max_members" validate:"omitempty,gte=2"`
	IsPublic    *bool  `json:"is_public"`
}

// -- Mentorships --

type MentorshipStatus string

const (
	MentorshipPending   MentorshipStatus = "pending"
	MentorshipActive    MentorshipStatus = "active"
	MentorshipCompleted MentorshipStatus = "completed"
	MentorshipCancelled MentorshipStatus = "cancelled"
)

var mentorshipTransitions = map[MentorshipStatus][]MentorshipStatus{
	MentorshipPending: {MentorshipActive, MentorshipCancelled},
	MentorshipActive:  {MentorshipCompleted, MentorshipCancelled},
}

func CanTransitionMentorship(from, to MentorshipStatus) bool {
	for _, s := range mentorshipTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Mentorship struct {
	ID        uuid.UUID        `db:"id" json:"id"`
	MentorID  uuid.UUID        `db:"mentor_id" json:"mentor_id"`
	MenteeID  uuid.UUID        `db:"mentee_id" json:"mentee_id"`
	Specialty string           `db:"specialty" json:"specialty,omitempty"`
	Status    MentorshipStatus `db:"status" json:"status"`
	Goals     []string         `db:"goals" json:"goals"`
	StartedAt *time.Time       `db:"started_at" json:"started_at,omitempty"`
	EndedAt   *time.Time       `db:"ended_at" json:"ended_at,omitempty"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt time.Time        `db:"updated_at" json:"updated_at"`
}

// Transition moves the mentorship to the given status and stamps the
// lifecycle timestamps.
func (m *Mentorship) Transition(to MentorshipStatus, now time.Time) error {
	if !CanTransitionMentorship(m.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.Status, to)
	}
	m.Status = to
	switch to {
	case MentorshipActive:
		m.StartedAt = &now
	case MentorshipCompleted, MentorshipCancelled:
		m.EndedAt = &now
	}
	return nil
}

func (m *Mentorship) Involves(userID uuid.UUID) bool {
	return m.MentorID == userID || m.MenteeID == userID
}

type MentorshipRequest struct {
	MentorID  uuid.UUID `json:"mentor_id" validate:"required"`
	Specialty string    `json:"specialty" validate:"max=100"`
	Goals     []string  `json:"goals"`
}

// -- Board exams --

type Question struct {
	Prompt      string   `json:"prompt" validate:"required"`
	Choices     []string `json:"choices" validate:"min=2,dive,required"`
	AnswerIndex int      `json:"answer_index" validate:"gte=0"`
	Explanation string   `json:"explanation,omitempty"`
}

type BoardExam struct {
	ID               uuid.UUID       `db:"id" json:"id"`
	Title            string          `db:"title" json:"title"`
	Specialty        string          `db:"specialty" json:"specialty"`
	PassingScore     decimal.Decimal `db:"passing_score" json:"passing_score"`
	TimeLimitMinutes int             `db:"time_limit_minutes" json:"time_limit_minutes"`
	Questions        []Question      `db:"questions" json:"questions"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

// Redacted strips answers and explanations.
func (e *BoardExam) Redacted() *BoardExam {
	cp := *e
	cp.Questions = make([]Question, len(e.Questions))
	for i, q := range e.Questions {
		cp.Questions[i] = Question{Prompt: q.Prompt, Choices: q.Choices}
	}
	return &cp
}

type CreateExamRequest struct {
	Title            string          `json:"title" validate:"required,max=255"`
	Specialty        string          `json:"specialty" validate:"required,max=100"`
	PassingScore     decimal.Decimal `json:"passing_score" validate:"gte=0,lte=100"`
	TimeLimitMinutes int             `json:"time_limit_minutes" validate:"gt=0"`
	Questions        []Question      `json:"questions" validate:"min=1,dive"`
}

type ExamAttempt struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	ExamID      uuid.UUID       `db:"exam_id" json:"exam_id"`
	UserID      uuid.UUID       `db:"user_id" json:"user_id"`
	Answers     []int           `db:"answers" json:"answers"`
	Score       decimal.Decimal `db:"score" json:"score"`
	Passed      bool            `db:"passed" json:"passed"`
	StartedAt   time.Time       `db:"started_at" json:"started_at"`
	CompletedAt time.Time       `db:"completed_at" json:"completed_at"`
}

// ExamSubmission carries a learner's answers. An answer of -1 means skipped.
type ExamSubmission struct {
	Answers   []int      `json:"answers"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}

// -- Emergency scenarios --

type ScenarioStep struct {
	Order          int    `json:"order" validate:"gte=1"`
	Prompt         string `json:"prompt" validate:"required"`
	ExpectedAction string `json:"expected_action" validate:"required"`
}

type EmergencyScenario struct {
	ID               uuid.UUID      `db:"id" json:"id"`
	Title            string         `db:"title" json:"title"`
	Category         string         `db:"category" json:"category"`
	Severity         Severity       `db:"severity" json:"severity"`
	Steps            []ScenarioStep `db:"steps" json:"steps"`
	TimeLimitSeconds int            `db:"time_limit_seconds" json:"time_limit_seconds"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at" json:"updated_at"`
}

type CreateScenarioRequest struct {
	Title            string         `json:"title" validate:"required,max=255"`
	Category         string         `json:"category" validate:"required,max=100"`
	Severity         Severity       `json:"severity" validate:"required,oneof=low moderate high critical"`
	Steps            []ScenarioStep `json:"steps" validate:"min=1,dive"`
	TimeLimitSeconds int            `json:"time_limit_seconds" validate:"gt=0"`
}
