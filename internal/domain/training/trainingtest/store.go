// Package trainingtest provides in-memory training repositories for tests.
package trainingtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/medbill/medbill/internal/domain/training"
	"github.com/medbill/medbill/internal/platform/db"
)

var decimalHundred = decimal.NewFromInt(100)

type memberKey struct{ group, user uuid.UUID }
type progressKey struct{ user, kase uuid.UUID }
type awardKey struct{ user, achievement uuid.UUID }

// Store backs every training repository with maps.
type Store struct {
	mu           sync.Mutex
	cases        map[uuid.UUID]*training.MedicalCase
	progress     map[progressKey]*training.Progress
	stats        map[uuid.UUID]*training.Stats
	achievements map[uuid.UUID]*training.Achievement
	awards       map[awardKey]time.Time
	groups       map[uuid.UUID]*training.StudyGroup
	members      map[memberKey]*training.Member
	mentorships  map[uuid.UUID]*training.Mentorship
	exams        map[uuid.UUID]*training.BoardExam
	attempts     []*training.ExamAttempt
	scenarios    map[uuid.UUID]*training.EmergencyScenario
	seq          time.Time
}

func NewStore() *Store {
	return &Store{
		cases:        make(map[uuid.UUID]*training.MedicalCase),
		progress:     make(map[progressKey]*training.Progress),
		stats:        make(map[uuid.UUID]*training.Stats),
		achievements: make(map[uuid.UUID]*training.Achievement),
		awards:       make(map[awardKey]time.Time),
		groups:       make(map[uuid.UUID]*training.StudyGroup),
		members:      make(map[memberKey]*training.Member),
		mentorships:  make(map[uuid.UUID]*training.Mentorship),
		exams:        make(map[uuid.UUID]*training.BoardExam),
		scenarios:    make(map[uuid.UUID]*training.EmergencyScenario),
		seq:          time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// Repos returns the store as a training.Repos.
func (s *Store) Repos() training.Repos {
	return training.Repos{
		Cases:        caseRepo{s},
		Progress:     progressRepo{s},
		Stats:        statsRepo{s},
		Achievements: achievementRepo{s},
		Groups:       groupRepo{s},
		Mentorships:  mentorshipRepo{s},
		Exams:        examRepo{s},
		Scenarios:    scenarioRepo{s},
	}
}

// SetStats seeds a learner's stats row.
func (s *Store) SetStats(st *training.Stats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *st
	s.stats[st.UserID] = &cp
}

// next returns strictly increasing timestamps.
func (s *Store) next() time.Time {
	s.seq = s.seq.Add(time.Second)
	return s.seq
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

// -- Cases --

type caseRepo struct{ *Store }

func (r caseRepo) Create(_ context.Context, c *training.MedicalCase) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c.ID = uuid.New()
	c.CreatedAt = r.next()
	c.UpdatedAt = c.CreatedAt
	cp := *c
	r.cases[c.ID] = &cp
	return nil
}

func (r caseRepo) GetByID(_ context.Context, id uuid.UUID) (*training.MedicalCase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cases[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r caseRepo) List(_ context.Context, specialty string, difficulty training.Difficulty, limit, offset int) ([]*training.MedicalCase, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*training.MedicalCase
	for _, c := range r.cases {
		if (specialty == "" || c.Specialty == specialty) && (difficulty == "" || c.Difficulty == difficulty) {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return page(out, limit, offset), len(out), nil
}

// -- Progress --

type progressRepo struct{ *Store }

func (r progressRepo) Get(_ context.Context, userID, caseID uuid.UUID) (*training.Progress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.progress[progressKey{userID, caseID}]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r progressRepo) Upsert(_ context.Context, p *training.Progress) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := progressKey{p.UserID, p.CaseID}
	if old, ok := r.progress[key]; ok {
		p.ID, p.CreatedAt = old.ID, old.CreatedAt
	} else {
		p.ID, p.CreatedAt = uuid.New(), r.next()
	}
	p.UpdatedAt = r.next()
	cp := *p
	r.progress[key] = &cp
	return nil
}

func (r progressRepo) ListByUser(_ context.Context, userID uuid.UUID) ([]*training.Progress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*training.Progress
	for k, p := range r.progress {
		if k.user == userID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// -- Stats --

type statsRepo struct{ *Store }

func (r statsRepo) Get(_ context.Context, userID uuid.UUID) (*training.Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.stats[userID]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *st
	return &cp, nil
}

func (r statsRepo) GetForUpdate(_ context.Context, userID uuid.UUID) (*training.Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.stats[userID]
	if !ok {
		st = &training.Stats{UserID: userID, AverageAccuracy: decimal.Zero, UpdatedAt: r.next()}
		r.stats[userID] = st
	}
	cp := *st
	return &cp, nil
}

// Upsert enforces the average_accuracy check constraint.
func (r statsRepo) Upsert(_ context.Context, st *training.Stats) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st.AverageAccuracy.IsNegative() || st.AverageAccuracy.GreaterThan(decimalHundred) {
		return db.ErrCheckViolation
	}
	st.UpdatedAt = r.next()
	cp := *st
	r.stats[st.UserID] = &cp
	return nil
}

func (r statsRepo) Leaderboard(_ context.Context, limit int) ([]*training.LeaderboardEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*training.LeaderboardEntry
	for _, st := range r.stats {
		out = append(out, &training.LeaderboardEntry{
			UserID: st.UserID, Username: st.UserID.String()[:8],
			TotalPoints: st.TotalPoints, CasesCompleted: st.CasesCompleted, CurrentStreak: st.CurrentStreak,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalPoints != out[j].TotalPoints {
			return out[i].TotalPoints > out[j].TotalPoints
		}
		return out[i].Username < out[j].Username
	})
	return page(out, limit, 0), nil
}

// -- Achievements --

type achievementRepo struct{ *Store }

func (r achievementRepo) Create(_ context.Context, a *training.Achievement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.achievements {
		if existing.Code == a.Code {
			a.ID, a.CreatedAt = existing.ID, existing.CreatedAt
			cp := *a
			r.achievements[a.ID] = &cp
			return nil
		}
	}
	a.ID = uuid.New()
	a.CreatedAt = r.next()
	cp := *a
	r.achievements[a.ID] = &cp
	return nil
}

func (r achievementRepo) List(_ context.Context) ([]*training.Achievement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*training.Achievement
	for _, a := range r.achievements {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (r achievementRepo) ListByUser(_ context.Context, userID uuid.UUID) ([]*training.UserAchievement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*training.UserAchievement
	for k, at := range r.awards {
		if k.user == userID {
			out = append(out, &training.UserAchievement{Achievement: *r.achievements[k.achievement], EarnedAt: at})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EarnedAt.Before(out[j].EarnedAt) })
	return out, nil
}

func (r achievementRepo) Award(_ context.Context, userID, achievementID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := awardKey{userID, achievementID}
	if _, ok := r.awards[key]; ok {
		return false, nil
	}
	if _, ok := r.achievements[achievementID]; !ok {
		return false, db.ErrForeignKeyViolation
	}
	r.awards[key] = r.next()
	return true, nil
}

// -- Study groups --

type groupRepo struct{ *Store }

func (r groupRepo) count(groupID uuid.UUID) int {
	n := 0
	for k := range r.members {
		if k.group == groupID {
			n++
		}
	}
	return n
}

func (r groupRepo) Create(_ context.Context, g *training.StudyGroup) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	g.ID = uuid.New()
	g.CreatedAt = r.next()
	g.UpdatedAt = g.CreatedAt
	cp := *g
	r.groups[g.ID] = &cp
	return nil
}

func (r groupRepo) GetByID(_ context.Context, id uuid.UUID) (*training.StudyGroup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *g
	cp.MemberCount = r.count(id)
	return &cp, nil
}

func (r groupRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*training.StudyGroup, error) {
	return r.GetByID(ctx, id)
}

func (r groupRepo) ListPublic(_ context.Context, limit, offset int) ([]*training.StudyGroup, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*training.StudyGroup
	for _, g := range r.groups {
		if g.IsPublic {
			cp := *g
			cp.MemberCount = r.count(g.ID)
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, limit, offset), len(out), nil
}

func (r groupRepo) AddMember(_ context.Context, m *training.Member) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := memberKey{m.GroupID, m.UserID}
	if _, ok := r.members[key]; ok {
		return db.ErrUniqueViolation
	}
	if _, ok := r.groups[m.GroupID]; !ok {
		return db.ErrForeignKeyViolation
	}
	m.JoinedAt = r.next()
	cp := *m
	r.members[key] = &cp
	return nil
}

func (r groupRepo) GetMember(_ context.Context, groupID, userID uuid.UUID) (*training.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[memberKey{groupID, userID}]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (r groupRepo) RemoveMember(_ context.Context, groupID, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := memberKey{groupID, userID}
	if _, ok := r.members[key]; !ok {
		return db.ErrNotFound
	}
	delete(r.members, key)
	return nil
}

func (r groupRepo) CountMembers(_ context.Context, groupID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count(groupID), nil
}

func (r groupRepo) ListMembers(_ context.Context, groupID uuid.UUID) ([]*training.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*training.Member
	for k, m := range r.members {
		if k.group == groupID {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

// -- Mentorships --

type mentorshipRepo struct{ *Store }

func (r mentorshipRepo) Create(_ context.Context, m *training.Mentorship) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.MentorID == m.MenteeID {
		return db.ErrCheckViolation
	}
	m.ID = uuid.New()
	m.CreatedAt = r.next()
	m.UpdatedAt = m.CreatedAt
	cp := *m
	r.mentorships[m.ID] = &cp
	return nil
}

func (r mentorshipRepo) GetByID(_ context.Context, id uuid.UUID) (*training.Mentorship, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.mentorships[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (r mentorshipRepo) ListByUser(_ context.Context, userID uuid.UUID) ([]*training.Mentorship, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*training.Mentorship
	for _, m := range r.mentorships {
		if m.Involves(userID) {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r mentorshipRepo) UpdateStatus(_ context.Context, m *training.Mentorship, from training.MentorshipStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.mentorships[m.ID]
	if !ok || cur.Status != from {
		return training.ErrStatusConflict
	}
	m.UpdatedAt = r.next()
	cp := *m
	r.mentorships[m.ID] = &cp
	return nil
}

// SetMentorshipStatus overwrites a stored status, simulating a concurrent
// writer.
func (s *Store) SetMentorshipStatus(id uuid.UUID, status training.MentorshipStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.mentorships[id]; ok {
		m.Status = status
	}
}

// -- Board exams --

type examRepo struct{ *Store }

func (r examRepo) Create(_ context.Context, e *training.BoardExam) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.ID = uuid.New()
	e.CreatedAt = r.next()
	e.UpdatedAt = e.CreatedAt
	cp := *e
	r.exams[e.ID] = &cp
	return nil
}

func (r examRepo) GetByID(_ context.Context, id uuid.UUID) (*training.BoardExam, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.exams[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (r examRepo) List(_ context.Context, specialty string, limit, offset int) ([]*training.BoardExam, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*training.BoardExam
	for _, e := range r.exams {
		if specialty == "" || e.Specialty == specialty {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return page(out, limit, offset), len(out), nil
}

func (r examRepo) CreateAttempt(_ context.Context, a *training.ExamAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.exams[a.ExamID]; !ok {
		return db.ErrForeignKeyViolation
	}
	a.ID = uuid.New()
	cp := *a
	r.attempts = append(r.attempts, &cp)
	return nil
}

func (r examRepo) ListAttempts(_ context.Context, examID, userID uuid.UUID) ([]*training.ExamAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*training.ExamAttempt
	for i := len(r.attempts) - 1; i >= 0; i-- {
		a := r.attempts[i]
		if a.ExamID == examID && a.UserID == userID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

// -- Emergency scenarios --

type scenarioRepo struct{ *Store }

func (r scenarioRepo) Create(_ context.Context, sc *training.EmergencyScenario) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sc.ID = uuid.New()
	sc.CreatedAt = r.next()
	sc.UpdatedAt = sc.CreatedAt
	cp := *sc
	r.scenarios[sc.ID] = &cp
	return nil
}

func (r scenarioRepo) GetByID(_ context.Context, id uuid.UUID) (*training.EmergencyScenario, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sc, ok := r.scenarios[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *sc
	return &cp, nil
}

func (r scenarioRepo) List(_ context.Context, category string, severity training.Severity, limit, offset int) ([]*training.EmergencyScenario, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*training.EmergencyScenario
	for _, sc := range r.scenarios {
		if (category == "" || sc.Category == category) && (severity == "" || sc.Severity == severity) {
			cp := *sc
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return page(out, limit, offset), len(out), nil
}
