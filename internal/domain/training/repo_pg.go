package training

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medbill/medbill/internal/platform/db"
	"github.com/medbill/medbill/internal/platform/query"
)

// NewReposPG wires every training repository to the pool.
func NewReposPG(pool *pgxpool.Pool) Repos {
	return Repos{
		Cases:        &caseRepoPG{pool: pool},
		Progress:     &progressRepoPG{pool: pool},
		Stats:        &statsRepoPG{pool: pool},
		Achievements: &achievementRepoPG{pool: pool},
		Groups:       &groupRepoPG{pool: pool},
		Mentorships:  &mentorshipRepoPG{pool: pool},
		Exams:        &examRepoPG{pool: pool},
		Scenarios:    &scenarioRepoPG{pool: pool},
	}
}

func marshal(field string, v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", field, err)
	}
	return raw, nil
}

func unmarshal(field string, raw []byte, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", field, err)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// -- Cases --

type caseRepoPG struct{ pool *pgxpool.Pool }

func (r *caseRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const caseCols = `id, title, specialty, difficulty, presentation, correct_diagnosis, learning_objectives, points, created_at, updated_at`

func scanCase(row pgx.Row) (*MedicalCase, error) {
	var c MedicalCase
	var pres, objectives []byte
	if err := row.Scan(&c.ID, &c.Title, &c.Specialty, &c.Difficulty, &pres, &c.CorrectDiagnosis,
		&objectives, &c.Points, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, db.MapError(err)
	}
	if err := unmarshal("presentation", pres, &c.Presentation); err != nil {
		return nil, err
	}
	if err := unmarshal("learning_objectives", objectives, &c.LearningObjectives); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *caseRepoPG) Create(ctx context.Context, c *MedicalCase) error {
	pres, err := marshal("presentation", c.Presentation)
	if err != nil {
		return err
	}
	objectives, err := marshal("learning_objectives", nonNil(c.LearningObjectives))
	if err != nil {
		return err
	}
	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO medical_cases (title, specialty, difficulty, presentation, correct_diagnosis, learning_objectives, points)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`,
		c.Title, c.Specialty, c.Difficulty, pres, c.CorrectDiagnosis, objectives, c.Points)
	return db.MapError(row.Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt))
}

func (r *caseRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*MedicalCase, error) {
	return scanCase(r.conn(ctx).QueryRow(ctx, `SELECT `+caseCols+` FROM medical_cases WHERE id = $1`, id))
}

func (r *caseRepoPG) List(ctx context.Context, specialty string, difficulty Difficulty, limit, offset int) ([]*MedicalCase, int, error) {
	q := query.New("medical_cases", caseCols)
	if specialty != "" {
		q.Eq("specialty", specialty)
	}
	if difficulty != "" {
		q.Eq("difficulty", string(difficulty))
	}
	q.OrderBy("specialty, difficulty, title")
	return list(ctx, r.conn(ctx), q, limit, offset, scanCase)
}

// list runs a count and a page query built with the shared query builder.
func list[T any](ctx context.Context, conn db.Querier, q *query.Query, limit, offset int, scan func(pgx.Row) (T, error)) ([]T, int, error) {
	var total int
	if err := conn.QueryRow(ctx, q.CountSQL(), q.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, db.MapError(err)
	}
	rows, err := conn.Query(ctx, q.DataSQL(), q.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, db.MapError(err)
	}
	defer rows.Close()
	var items []T
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, item)
	}
	return items, total, rows.Err()
}

// -- Progress --

type progressRepoPG struct{ pool *pgxpool.Pool }

func (r *progressRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const progressCols = `id, user_id, case_id, attempts, best_score, completed, time_spent_seconds, completed_at, created_at, updated_at`

func scanProgress(row pgx.Row) (*Progress, error) {
	var p Progress
	if err := row.Scan(&p.ID, &p.UserID, &p.CaseID, &p.Attempts, &p.BestScore, &p.Completed,
		&p.TimeSpentSeconds, &p.CompletedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, db.MapError(err)
	}
	return &p, nil
}

func (r *progressRepoPG) Get(ctx context.Context, userID, caseID uuid.UUID) (*Progress, error) {
	return scanProgress(r.conn(ctx).QueryRow(ctx,
		`SELECT `+progressCols+` FROM user_progress WHERE user_id = $1 AND case_id = $2`, userID, caseID))
}

func (r *progressRepoPG) Upsert(ctx context.Context, p *Progress) error {
	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO user_progress (user_id, case_id, attempts, best_score, completed, time_spent_seconds, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, case_id) DO UPDATE SET
			attempts = EXCLUDED.attempts,
			best_score = EXCLUDED.best_score,
			completed = EXCLUDED.completed,
			time_spent_seconds = EXCLUDED.time_spent_seconds,
			completed_at = EXCLUDED.completed_at,
			updated_at = NOW()
		RETURNING id, created_at, updated_at`,
		p.UserID, p.CaseID, p.Attempts, p.BestScore, p.Completed, p.TimeSpentSeconds, p.CompletedAt)
	return db.MapError(row.Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt))
}

func (r *progressRepoPG) ListByUser(ctx context.Context, userID uuid.UUID) ([]*Progress, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+progressCols+` FROM user_progress WHERE user_id = $1 ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, db.MapError(err)
	}
	defer rows.Close()
	var out []*Progress
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// -- Stats --

type statsRepoPG struct{ pool *pgxpool.Pool }

func (r *statsRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const statsCols = `user_id, cases_completed, total_points, current_streak, longest_streak, average_accuracy, last_activity_date, updated_at`

func scanStats(row pgx.Row) (*Stats, error) {
	var s Stats
	if err := row.Scan(&s.UserID, &s.CasesCompleted, &s.TotalPoints, &s.CurrentStreak, &s.LongestStreak,
		&s.AverageAccuracy, &s.LastActivityDate, &s.UpdatedAt); err != nil {
		return nil, db.MapError(err)
	}
	return &s, nil
}

func (r *statsRepoPG) Get(ctx context.Context, userID uuid.UUID) (*Stats, error) {
	return scanStats(r.conn(ctx).QueryRow(ctx, `SELECT `+statsCols+` FROM user_stats WHERE user_id = $1`, userID))
}

func (r *statsRepoPG) GetForUpdate(ctx context.Context, userID uuid.UUID) (*Stats, error) {
	q := r.conn(ctx)
	if _, err := q.Exec(ctx,
		`INSERT INTO user_stats (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
		return nil, db.MapError(err)
	}
	return scanStats(q.QueryRow(ctx,
		`SELECT `+statsCols+` FROM user_stats WHERE user_id = $1 FOR UPDATE`, userID))
}

func (r *statsRepoPG) Upsert(ctx context.Context, s *Stats) error {
	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO user_stats (user_id, cases_completed, total_points, current_streak, longest_streak,
			average_accuracy, last_activity_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE SET
			cases_completed = EXCLUDED.cases_completed,
			total_points = EXCLUDED.total_points,
			current_streak = EXCLUDED.current_streak,
			longest_streak = EXCLUDED.longest_streak,
			average_accuracy = EXCLUDED.average_accuracy,
			last_activity_date = EXCLUDED.last_activity_date,
			updated_at = NOW()
		RETURNING updated_at`,
		s.UserID, s.CasesCompleted, s.TotalPoints, s.CurrentStreak, s.LongestStreak,
		s.AverageAccuracy, s.LastActivityDate)
	return db.MapError(row.Scan(&s.UpdatedAt))
}

func (r *statsRepoPG) Leaderboard(ctx context.Context, limit int) ([]*LeaderboardEntry, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT s.user_id, u.username, s.total_points, s.cases_completed, s.current_streak
		FROM user_stats s JOIN users u ON u.id = s.user_id
		WHERE u.is_active
		ORDER BY s.total_points DESC, s.cases_completed DESC, u.username
		LIMIT $1`, limit)
	if err != nil {
		return nil, db.MapError(err)
	}
	defer rows.Close()
	var out []*LeaderboardEntry
	for rows.Next() {
		var e LeaderboardEntry
		if err := rows.Scan(&e.UserID, &e.Username, &e.TotalPoints, &e.CasesCompleted, &e.CurrentStreak); err != nil {
			return nil, db.MapError(err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// -- Achievements --

type achievementRepoPG struct{ pool *pgxpool.Pool }

func (r *achievementRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const achievementCols = `a.id, a.code, a.name, COALESCE(a.description, ''), a.category, a.points, a.criteria, a.created_at`

func scanAchievement(row pgx.Row, extra ...any) (*Achievement, error) {
	var a Achievement
	var criteria []byte
	dest := append([]any{&a.ID, &a.Code, &a.Name, &a.Description, &a.Category, &a.Points, &criteria, &a.CreatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, db.MapError(err)
	}
	if err := unmarshal("criteria", criteria, &a.Criteria); err != nil {
		return nil, err
	}
	return &a, nil
}

// Create inserts an achievement, or refreshes it when the code exists, so
// seeding is repeatable.
func (r *achievementRepoPG) Create(ctx context.Context, a *Achievement) error {
	criteria, err := marshal("criteria", a.Criteria)
	if err != nil {
		return err
	}
	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO achievements (code, name, description, category, points, criteria)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6)
		ON CONFLICT (code) DO UPDATE SET
			name = EXCLUDED.name, description = EXCLUDED.description, category = EXCLUDED.category,
			points = EXCLUDED.points, criteria = EXCLUDED.criteria, updated_at = NOW()
		RETURNING id, created_at`,
		a.Code, a.Name, a.Description, a.Category, a.Points, criteria)
	return db.MapError(row.Scan(&a.ID, &a.CreatedAt))
}

func (r *achievementRepoPG) List(ctx context.Context) ([]*Achievement, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+achievementCols+` FROM achievements a ORDER BY a.category, a.code`)
	if err != nil {
		return nil, db.MapError(err)
	}
	defer rows.Close()
	var out []*Achievement
	for rows.Next() {
		a, err := scanAchievement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *achievementRepoPG) ListByUser(ctx context.Context, userID uuid.UUID) ([]*UserAchievement, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+achievementCols+`, ua.earned_at
		FROM user_achievements ua JOIN achievements a ON a.id = ua.achievement_id
		WHERE ua.user_id = $1 ORDER BY ua.earned_at`, userID)
	if err != nil {
		return nil, db.MapError(err)
	}
	defer rows.Close()
	var out []*UserAchievement
	for rows.Next() {
		var ua UserAchievement
		a, err := scanAchievement(rows, &ua.EarnedAt)
		if err != nil {
			return nil, err
		}
		ua.Achievement = *a
		out = append(out, &ua)
	}
	return out, rows.Err()
}

// Award inserts with ON CONFLICT DO NOTHING: a unique violation would abort
// the surrounding transaction.
func (r *achievementRepoPG) Award(ctx context.Context, userID, achievementID uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO user_achievements (user_id, achievement_id) VALUES ($1, $2)
		ON CONFLICT (user_id, achievement_id) DO NOTHING`, userID, achievementID)
	if err != nil {
		return false, db.MapError(err)
	}
	return tag.RowsAffected() == 1, nil
}

// -- Study groups --

type groupRepoPG struct{ pool *pgxpool.Pool }

func (r *groupRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const groupCols = `id, name, COALESCE(description, ''), COALESCE(specialty, ''), owner_id, max_members, is_public, created_at, updated_at,
	(SELECT COUNT(*) FROM study_group_members m WHERE m.group_id = study_groups.id)`

func scanGroup(row pgx.Row) (*StudyGroup, error) {
	var g StudyGroup
	if err := row.Scan(&g.ID, &g.Name, &g.Description, &g.Specialty, &g.OwnerID, &g.MaxMembers, &g.IsPublic,
		&g.CreatedAt, &g.UpdatedAt, &g.MemberCount); err != nil {
		return nil, db.MapError(err)
	}
	return &g, nil
}

func (r *groupRepoPG) Create(ctx context.Context, g *StudyGroup) error {
	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO study_groups (name, description, specialty, owner_id, max_members, is_public)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $6)
		RETURNING id, created_at, updated_at`,
		g.Name, g.Description, g.Specialty, g.OwnerID, g.MaxMembers, g.IsPublic)
	return db.MapError(row.Scan(&g.ID, &g.CreatedAt, &g.UpdatedAt))
}

func (r *groupRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*StudyGroup, error) {
	return scanGroup(r.conn(ctx).QueryRow(ctx, `SELECT `+groupCols+` FROM study_groups WHERE id = $1`, id))
}

func (r *groupRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*StudyGroup, error) {
	return scanGroup(r.conn(ctx).QueryRow(ctx, `SELECT `+groupCols+` FROM study_groups WHERE id = $1 FOR UPDATE`, id))
}

func (r *groupRepoPG) ListPublic(ctx context.Context, limit, offset int) ([]*StudyGroup, int, error) {
	q := query.New("study_groups", groupCols)
	q.Add("is_public = TRUE")
	q.OrderBy("created_at DESC")
	return list(ctx, r.conn(ctx), q, limit, offset, scanGroup)
}

func (r *groupRepoPG) AddMember(ctx context.Context, m *Member) error {
	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO study_group_members (group_id, user_id, role) VALUES ($1, $2, $3)
		RETURNING joined_at`, m.GroupID, m.UserID, m.Role)
	return db.MapError(row.Scan(&m.JoinedAt))
}

func (r *groupRepoPG) GetMember(ctx context.Context, groupID, userID uuid.UUID) (*Member, error) {
	var m Member
	err := r.conn(ctx).QueryRow(ctx, `SELECT group_id, user_id, role, joined_at FROM study_group_members
		WHERE group_id = $1 AND user_id = $2`, groupID, userID).Scan(&m.GroupID, &m.UserID, &m.Role, &m.JoinedAt)
	if err != nil {
		return nil, db.MapError(err)
	}
	return &m, nil
}

func (r *groupRepoPG) RemoveMember(ctx context.Context, groupID, userID uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM study_group_members WHERE group_id = $1 AND user_id = $2`, groupID, userID)
	if err != nil {
		return db.MapError(err)
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *groupRepoPG) CountMembers(ctx context.Context, groupID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM study_group_members WHERE group_id = $1`, groupID).Scan(&n)
	return n, db.MapError(err)
}

func (r *groupRepoPG) ListMembers(ctx context.Context, groupID uuid.UUID) ([]*Member, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT group_id, user_id, role, joined_at FROM study_group_members
		WHERE group_id = $1 ORDER BY joined_at`, groupID)
	if err != nil {
		return nil, db.MapError(err)
	}
	defer rows.Close()
	var out []*Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.GroupID, &m.UserID, &m.Role, &m.JoinedAt); err != nil {
			return nil, db.MapError(err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// -- Mentorships --

type mentorshipRepoPG struct{ pool *pgxpool.Pool }

func (r *mentorshipRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const mentorshipCols = `id, mentor_id, mentee_id, COALESCE(specialty, ''), status, goals, started_at, ended_at, created_at, updated_at`

func scanMentorship(row pgx.Row) (*Mentorship, error) {
	var m Mentorship
	var goals []byte
	if err := row.Scan(&m.ID, &m.MentorID, &m.MenteeID, &m.Specialty, &m.Status, &goals,
		&m.StartedAt, &m.EndedAt, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, db.MapError(err)
	}
	if err := unmarshal("goals", goals, &m.Goals); err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *mentorshipRepoPG) Create(ctx context.Context, m *Mentorship) error {
	goals, err := marshal("goals", nonNil(m.Goals))
	if err != nil {
		return err
	}
	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO mentorships (mentor_id, mentee_id, specialty, status, goals)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5)
		RETURNING id, created_at, updated_at`, m.MentorID, m.MenteeID, m.Specialty, m.Status, goals)
	return db.MapError(row.Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt))
}

func (r *mentorshipRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Mentorship, error) {
	return scanMentorship(r.conn(ctx).QueryRow(ctx, `SELECT `+mentorshipCols+` FROM mentorships WHERE id = $1`, id))
}

func (r *mentorshipRepoPG) ListByUser(ctx context.Context, userID uuid.UUID) ([]*Mentorship, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+mentorshipCols+` FROM mentorships
		WHERE mentor_id = $1 OR mentee_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, db.MapError(err)
	}
	defer rows.Close()
	var out []*Mentorship
	for rows.Next() {
		m, err := scanMentorship(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *mentorshipRepoPG) UpdateStatus(ctx context.Context, m *Mentorship, from MentorshipStatus) error {
	row := r.conn(ctx).QueryRow(ctx, `
		UPDATE mentorships SET status = $3, started_at = $4, ended_at = $5, updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING updated_at`, m.ID, from, m.Status, m.StartedAt, m.EndedAt)
	err := db.MapError(row.Scan(&m.UpdatedAt))
	if errors.Is(err, db.ErrNotFound) {
		return ErrStatusConflict
	}
	return err
}

// -- Board exams --

type examRepoPG struct{ pool *pgxpool.Pool }

func (r *examRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const examCols = `id, title, specialty, passing_score, time_limit_minutes, questions, created_at, updated_at`

func scanExam(row pgx.Row) (*BoardExam, error) {
	var e BoardExam
	var questions []byte
	if err := row.Scan(&e.ID, &e.Title, &e.Specialty, &e.PassingScore, &e.TimeLimitMinutes, &questions,
		&e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, db.MapError(err)
	}
	if err := unmarshal("questions", questions, &e.Questions); err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *examRepoPG) Create(ctx context.Context, e *BoardExam) error {
	questions, err := marshal("questions", e.Questions)
	if err != nil {
		return err
	}
	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO board_exams (title, specialty, passing_score, time_limit_minutes, questions)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`, e.Title, e.Specialty, e.PassingScore, e.TimeLimitMinutes, questions)
	return db.MapError(row.Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt))
}

func (r *examRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*BoardExam, error) {
	return scanExam(r.conn(ctx).QueryRow(ctx, `SELECT `+examCols+` FROM board_exams WHERE id = $1`, id))
}

func (r *examRepoPG) List(ctx context.Context, specialty string, limit, offset int) ([]*BoardExam, int, error) {
	q := query.New("board_exams", examCols)
	if specialty != "" {
		q.Eq("specialty", specialty)
	}
	q.OrderBy("specialty, title")
	return list(ctx, r.conn(ctx), q, limit, offset, scanExam)
}

func (r *examRepoPG) CreateAttempt(ctx context.Context, a *ExamAttempt) error {
	answers, err := marshal("answers", a.Answers)
	if err != nil {
		return err
	}
	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO board_exam_attempts (exam_id, user_id, answers, score, passed, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`, a.ExamID, a.UserID, answers, a.Score, a.Passed, a.StartedAt, a.CompletedAt)
	return db.MapError(row.Scan(&a.ID))
}

func (r *examRepoPG) ListAttempts(ctx context.Context, examID, userID uuid.UUID) ([]*ExamAttempt, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, exam_id, user_id, answers, score, passed, started_at, completed_at
		FROM board_exam_attempts WHERE exam_id = $1 AND user_id = $2 ORDER BY completed_at DESC`, examID, userID)
	if err != nil {
		return nil, db.MapError(err)
	}
	defer rows.Close()
	var out []*ExamAttempt
	for rows.Next() {
		var a ExamAttempt
		var answers []byte
		if err := rows.Scan(&a.ID, &a.ExamID, &a.UserID, &answers, &a.Score, &a.Passed, &a.StartedAt, &a.CompletedAt); err != nil {
			return nil, db.MapError(err)
		}
		if err := unmarshal("answers", answers, &a.Answers); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// -- Emergency scenarios --

type scenarioRepoPG struct{ pool *pgxpool.Pool }

func (r *scenarioRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const scenarioCols = `id, title, category, severity, steps, time_limit_seconds, created_at, updated_at`

func scanScenario(row pgx.Row) (*EmergencyScenario, error) {
	var s EmergencyScenario
	var steps []byte
	if err := row.Scan(&s.ID, &s.Title, &s.Category, &s.Severity, &steps, &s.TimeLimitSeconds,
		&s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, db.MapError(err)
	}
	if err := unmarshal("steps", steps, &s.Steps); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *scenarioRepoPG) Create(ctx context.Context, s *EmergencyScenario) error {
	steps, err := marshal("steps", s.Steps)
	if err != nil {
		return err
	}
	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO emergency_scenarios (title, category, severity, steps, time_limit_seconds)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`, s.Title, s.Category, s.Severity, steps, s.TimeLimitSeconds)
	return db.MapError(row.Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt))
}

func (r *scenarioRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*EmergencyScenario, error) {
	return scanScenario(r.conn(ctx).QueryRow(ctx, `SELECT `+scenarioCols+` FROM emergency_scenarios WHERE id = $1`, id))
}

func (r *scenarioRepoPG) List(ctx context.Context, category string, severity Severity, limit, offset int) ([]*EmergencyScenario, int, error) {
	q := query.New("emergency_scenarios", scenarioCols)
	if category != "" {
		q.Eq("category", category)
	}
	if severity != "" {
		q.Eq("severity", string(severity))
	}
	q.OrderBy("category, title")
	return list(ctx, r.conn(ctx), q, limit, offset, scanScenario)
}
