package training

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/medbill/medbill/internal/platform/auth"
	"github.com/medbill/medbill/internal/platform/db"
	"github.com/medbill/medbill/internal/platform/validation"
)

const defaultMaxMembers = 10

// -- Study groups --

// CreateGroup creates a group with the caller as its owner and first member.
func (s *Service) CreateGroup(ctx context.Context, ownerID uuid.UUID, req CreateGroupRequest) (*StudyGroup, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	g := &StudyGroup{
		Name:        req.Name,
		Description: req.Description,
		Specialty:   req.Specialty,
		OwnerID:     ownerID,
		MaxMembers:  req.MaxMembers,
		IsPublic:    true,
	}
	if g.MaxMembers == 0 {
		g.MaxMembers = defaultMaxMembers
	}
	if req.IsPublic != nil {
		g.IsPublic = *req.IsPublic
	}
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.repos.Groups.Create(ctx, g); err != nil {
			return err
		}
		return s.repos.Groups.AddMember(ctx, &Member{GroupID: g.ID, UserID: ownerID, Role: MemberOwner})
	})
	if err != nil {
		return nil, err
	}
	g.MemberCount = 1
	return g, nil
}

func (s *Service) GetGroup(ctx context.Context, id uuid.UUID) (*StudyGroup, error) {
	g, err := s.repos.Groups.GetByID(ctx, id)
	if err != nil {
		return nil, mapNotFound(err, ErrGroupNotFound)
	}
	return g, nil
}

func (s *Service) ListGroups(ctx context.Context, limit, offset int) ([]*StudyGroup, int, error) {
	items, total, err := s.repos.Groups.ListPublic(ctx, limit, offset)
	if items == nil {
		items = []*StudyGroup{}
	}
	return items, total, err
}

func (s *Service) ListMembers(ctx context.Context, groupID uuid.UUID) ([]*Member, error) {
	if _, err := s.GetGroup(ctx, groupID); err != nil {
		return nil, err
	}
	items, err := s.repos.Groups.ListMembers(ctx, groupID)
	if items == nil {
		items = []*Member{}
	}
	return items, err
}

// JoinGroup adds the caller to a group. The group row is locked while the
// capacity is checked, so concurrent joins cannot overfill it. Private
// groups are joined only through an admin.
func (s *Service) JoinGroup(ctx context.Context, groupID, userID uuid.UUID) (*Member, error) {
	m := &Member{GroupID: groupID, UserID: userID, Role: MemberMember}
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		g, err := s.repos.Groups.GetForUpdate(ctx, groupID)
		if err != nil {
			return mapNotFound(err, ErrGroupNotFound)
		}
		if !g.IsPublic && !auth.IsAdmin(ctx) {
			return ErrGroupPrivate
		}
		if _, err := s.repos.Groups.GetMember(ctx, groupID, userID); err == nil {
			return ErrAlreadyMember
		} else if !errors.Is(err, db.ErrNotFound) {
			return err
		}
		n, err := s.repos.Groups.CountMembers(ctx, groupID)
		if err != nil {
			return err
		}
		if n >= g.MaxMembers {
			return ErrGroupFull
		}
		err = s.repos.Groups.AddMember(ctx, m)
		if errors.Is(err, db.ErrUniqueViolation) {
			return ErrAlreadyMember
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Service) LeaveGroup(ctx context.Context, groupID, userID uuid.UUID) error {
	m, err := s.repos.Groups.GetMember(ctx, groupID, userID)
	if err != nil {
		return mapNotFound(err, ErrNotMember)
	}
	if m.Role == MemberOwner {
		return ErrOwnerCannotLeave
	}
	return mapNotFound(s.repos.Groups.RemoveMember(ctx, groupID, userID), ErrNotMember)
}

// -- Mentorships --

func (s *Service) RequestMentorship(ctx context.Context, menteeID uuid.UUID, req MentorshipRequest) (*Mentorship, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	if req.MentorID == menteeID {
		return nil, ErrSelfMentorship
	}
	m := &Mentorship{
		MentorID:  req.MentorID,
		MenteeID:  menteeID,
		Specialty: req.Specialty,
		Status:    MentorshipPending,
		Goals:     req.Goals,
	}
	if m.Goals == nil {
		m.Goals = []string{}
	}
	if err := s.repos.Mentorships.Create(ctx, m); err != nil {
		if errors.Is(err, db.ErrCheckViolation) {
			return nil, ErrSelfMentorship
		}
		return nil, err
	}
	return m, nil
}

func (s *Service) GetMentorship(ctx context.Context, id uuid.UUID) (*Mentorship, error) {
	m, err := s.repos.Mentorships.GetByID(ctx, id)
	if err != nil {
		return nil, mapNotFound(err, ErrMentorshipNotFound)
	}
	return m, nil
}

// AccessibleMentorship loads a mentorship for one of its parties or an admin.
func (s *Service) AccessibleMentorship(ctx context.Context, id uuid.UUID) (*Mentorship, error) {
	m, err := s.GetMentorship(ctx, id)
	if err != nil {
		return nil, err
	}
	uid, _ := auth.UserUUIDFromContext(ctx)
	if !auth.IsAdmin(ctx) && !m.Involves(uid) {
		return nil, ErrForbidden
	}
	return m, nil
}

func (s *Service) ListMentorships(ctx context.Context, userID uuid.UUID) ([]*Mentorship, error) {
	items, err := s.repos.Mentorships.ListByUser(ctx, userID)
	if items == nil {
		items = []*Mentorship{}
	}
	return items, err
}

// TransitionMentorship moves a mentorship along its state machine. Only the
// mentor (or an admin) may accept; either party may complete or cancel.
func (s *Service) TransitionMentorship(ctx context.Context, id uuid.UUID, to MentorshipStatus) (*Mentorship, error) {
	m, err := s.AccessibleMentorship(ctx, id)
	if err != nil {
		return nil, err
	}
	if to == MentorshipActive && !auth.IsAdmin(ctx) {
		if uid, _ := auth.UserUUIDFromContext(ctx); uid != m.MentorID {
			return nil, ErrForbidden
		}
	}
	from := m.Status
	if err := m.Transition(to, s.now()); err != nil {
		return nil, err
	}
	if err := s.repos.Mentorships.UpdateStatus(ctx, m, from); err != nil {
		return nil, err
	}
	return m, nil
}
