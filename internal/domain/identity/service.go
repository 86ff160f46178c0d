package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/medbill/medbill/internal/platform/auth"
	"github.com/medbill/medbill/internal/platform/db"
	"github.com/medbill/medbill/internal/platform/validation"
)

// TokenIssuer signs access tokens. *auth.TokenIssuer satisfies it.
type TokenIssuer interface {
	Issue(userID uuid.UUID, username, role string) (string, time.Time, error)
}

type Service struct {
	users      UserRepository
	tokens     TokenIssuer
	bcryptCost int
}

func NewService(users UserRepository, tokens TokenIssuer) *Service {
	return &Service{users: users, tokens: tokens, bcryptCost: bcrypt.DefaultCost}
}

// SetBcryptCost overrides the hashing cost. Tests use bcrypt.MinCost.
func (s *Service) SetBcryptCost(cost int) {
	s.bcryptCost = cost
}

func mapRepoError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, db.ErrNotFound):
		return ErrUserNotFound
	case errors.Is(err, db.ErrUniqueViolation):
		return ErrUsernameTaken
	case errors.Is(err, db.ErrForeignKeyViolation):
		return fmt.Errorf("%w: %s", ErrUserReferenced, db.ConstraintName(err))
	}
	return err
}

// Register creates a patient account and returns a signed token for it.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*AuthResult, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(hash),
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Role:         auth.RolePatient,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, mapRepoError(err)
	}
	return s.issue(u)
}

// Login checks credentials. Unknown users and wrong passwords return the
// same error.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*AuthResult, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	u, err := s.users.GetByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !u.IsActive {
		return nil, ErrUserInactive
	}
	return s.issue(u)
}

func (s *Service) issue(u *User) (*AuthResult, error) {
	token, exp, err := s.tokens.Issue(u.ID, u.Username, u.Role)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, ExpiresAt: exp, User: u}, nil
}

func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := s.users.GetByID(ctx, id)
	return u, mapRepoError(err)
}

func (s *Service) UpdateProfile(ctx context.Context, id uuid.UUID, p ProfileUpdate) (*User, error) {
	if err := validation.Struct(p); err != nil {
		return nil, err
	}
	u, err := s.users.UpdateProfile(ctx, id, p)
	return u, mapRepoError(err)
}

func (s *Service) UpdateSubscription(ctx context.Context, id uuid.UUID, sub SubscriptionUpdate) (*User, error) {
	if err := validation.Struct(sub); err != nil {
		return nil, err
	}
	if !validSubscriptionStatuses[sub.Status] || !validSubscriptionTiers[sub.Tier] {
		return nil, fmt.Errorf("invalid subscription %s/%s", sub.Status, sub.Tier)
	}
	u, err := s.users.UpdateSubscription(ctx, id, sub)
	return u, mapRepoError(err)
}

func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) error {
	return mapRepoError(s.users.SetActive(ctx, id, false))
}

func (s *Service) Reactivate(ctx context.Context, id uuid.UUID) error {
	return mapRepoError(s.users.SetActive(ctx, id, true))
}

// DeleteUser attempts a hard delete. It fails with ErrUserReferenced while
// the user still owns bills, documents or chat sessions.
func (s *Service) DeleteUser(ctx context.Context, id uuid.UUID) error {
	return mapRepoError(s.users.Delete(ctx, id))
}

func (s *Service) SearchUsers(ctx context.Context, params map[string]string, limit, offset int) ([]*User, int, error) {
	if role, ok := params["role"]; ok && role != "" && !validRoles[role] {
		return nil, 0, fmt.Errorf("invalid role filter: %s", role)
	}
	return s.users.Search(ctx, params, limit, offset)
}
