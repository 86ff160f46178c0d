package training

import (
	"context"

	"github.com/google/uuid"
)

type CaseRepository interface {
	Create(ctx context.Context, c *MedicalCase) error
	GetByID(ctx context.Context, id uuid.UUID) (*MedicalCase, error)
	// List filters on specialty and difficulty when set.
	List(ctx context.Context, specialty string, difficulty Difficulty, limit, offset int) ([]*MedicalCase, int, error)
}

type ProgressRepository interface {
	// Get returns db.ErrNotFound when the learner has not attempted the case.
	Get(ctx context.Context, userID, caseID uuid.UUID) (*Progress, error)
	Upsert(ctx context.Context, p *Progress) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*Progress, error)
}

type StatsRepository interface {
	Get(ctx context.Context, userID uuid.UUID) (*Stats, error)
	// GetForUpdate locks the stats row for the rest of the transaction,
	// creating a zeroed row first so a learner's first attempt is locked too.
	GetForUpdate(ctx context.Context, userID uuid.UUID) (*Stats, error)
	Upsert(ctx context.Context, s *Stats) error
	Leaderboard(ctx context.Context, limit int) ([]*LeaderboardEntry, error)
}

type AchievementRepository interface {
	Create(ctx context.Context, a *Achievement) error
	List(ctx context.Context) ([]*Achievement, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*UserAchievement, error)
	// Award reports false when the achievement was already earned.
	Award(ctx context.Context, userID, achievementID uuid.UUID) (bool, error)
}

type GroupRepository interface {
	Create(ctx context.Context, g *StudyGroup) error
	GetByID(ctx context.Context, id uuid.UUID) (*StudyGroup, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*StudyGroup, error)
	ListPublic(ctx context.Context, limit, offset int) ([]*StudyGroup, int, error)
	AddMember(ctx context.Context, m *Member) error
	GetMember(ctx context.Context, groupID, userID uuid.UUID) (*Member, error)
	RemoveMember(ctx context.Context, groupID, userID uuid.UUID) error
	CountMembers(ctx context.Context, groupID uuid.UUID) (int, error)
	ListMembers(ctx context.Context, groupID uuid.UUID) ([]*Member, error)
}

type MentorshipRepository interface {
	Create(ctx context.Context, m *Mentorship) error
	GetByID(ctx context.Context, id uuid.UUID) (*Mentorship, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*Mentorship, error)
	// UpdateStatus writes m only if the stored status is still from.
	UpdateStatus(ctx context.Context, m *Mentorship, from MentorshipStatus) error
}

type ExamRepository interface {
	Create(ctx context.Context, e *BoardExam) error
	GetByID(ctx context.Context, id uuid.UUID) (*BoardExam, error)
	List(ctx context.Context, specialty string, limit, offset int) ([]*BoardExam, int, error)
	CreateAttempt(ctx context.Context, a *ExamAttempt) error
	ListAttempts(ctx context.Context, examID, userID uuid.UUID) ([]*ExamAttempt, error)
}

type ScenarioRepository interface {
	Create(ctx context.Context, s *EmergencyScenario) error
	GetByID(ctx context.Context, id uuid.UUID) (*EmergencyScenario, error)
	List(ctx context.Context, category string, severity Severity, limit, offset int) ([]*EmergencyScenario, int, error)
}

// Repos bundles the training repositories.
type Repos struct {
	Cases        CaseRepository
	Progress     ProgressRepository
	Stats        StatsRepository
	Achievements AchievementRepository
	Groups       GroupRepository
	Mentorships  MentorshipRepository
	Exams        ExamRepository
	Scenarios    ScenarioRepository
}
