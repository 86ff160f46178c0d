package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/medbill/medbill/internal/platform/auth"
	"github.com/medbill/medbill/internal/platform/db"
	"github.com/medbill/medbill/internal/platform/validation"
)

type mockUserRepo struct {
	items map[uuid.UUID]*User
	// referenced marks users that still own rows in child tables.
	referenced map[uuid.UUID]bool
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{items: make(map[uuid.UUID]*User), referenced: make(map[uuid.UUID]bool)}
}

func (m *mockUserRepo) Create(_ context.Context, u *User) error {
	for _, existing := range m.items {
		if strings.EqualFold(existing.Username, u.Username) {
			return fmt.Errorf("%w: users_username_key", db.ErrUniqueViolation)
		}
	}
	u.ID = uuid.New()
	u.SubscriptionStatus = "free"
	u.SubscriptionTier = "free"
	u.IsActive = true
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	m.items[u.ID] = u
	return nil
}

func (m *mockUserRepo) GetByID(_ context.Context, id uuid.UUID) (*User, error) {
	u, ok := m.items[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return u, nil
}

func (m *mockUserRepo) GetByUsername(_ context.Context, username string) (*User, error) {
	for _, u := range m.items {
		if strings.EqualFold(u.Username, username) {
			return u, nil
		}
	}
	return nil, db.ErrNotFound
}

func (m *mockUserRepo) UpdateProfile(_ context.Context, id uuid.UUID, p ProfileUpdate) (*User, error) {
	u, ok := m.items[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	if p.Email != nil {
		u.Email = p.Email
	}
	if p.FirstName != nil {
		u.FirstName = p.FirstName
	}
	if p.LastName != nil {
		u.LastName = p.LastName
	}
	return u, nil
}

func (m *mockUserRepo) UpdateSubscription(_ context.Context, id uuid.UUID, s SubscriptionUpdate) (*User, error) {
	u, ok := m.items[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	if s.StripeCustomerID != nil {
		u.StripeCustomerID = s.StripeCustomerID
	}
	u.SubscriptionStatus = s.Status
	u.SubscriptionTier = s.Tier
	u.SubscriptionEndsAt = s.EndsAt
	return u, nil
}

func (m *mockUserRepo) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	u, ok := m.items[id]
	if !ok {
		return db.ErrNotFound
	}
	u.IsActive = active
	return nil
}

func (m *mockUserRepo) Delete(_ context.Context, id uuid.UUID) error {
	if m.referenced[id] {
		return fmt.Errorf("%w: medical_bills_user_id_fkey", db.ErrForeignKeyViolation)
	}
	if _, ok := m.items[id]; !ok {
		return db.ErrNotFound
	}
	delete(m.items, id)
	return nil
}

func (m *mockUserRepo) Search(_ context.Context, params map[string]string, limit, offset int) ([]*User, int, error) {
	var result []*User
	for _, u := range m.items {
		if role := params["role"]; role != "" && u.Role != role {
			continue
		}
		result = append(result, u)
	}
	return result, len(result), nil
}

var testKey = []byte("identity-test-signing-key-0123456789")

func newTestService() (*Service, *mockUserRepo) {
	repo := newMockUserRepo()
	svc := NewService(repo, auth.NewTokenIssuer(testKey, "medbill-test", time.Hour))
	svc.SetBcryptCost(bcrypt.MinCost)
	return svc, repo
}

func strPtr(s string) *string { return &s }

func mustRegister(t *testing.T, svc *Service, username, password string) *AuthResult {
	t.Helper()
	res, err := svc.Register(context.Background(), RegisterRequest{Username: username, Password: password})
	if err != nil {
		t.Fatalf("Register(%s) error: %v", username, err)
	}
	return res
}

func TestRegister(t *testing.T) {
	svc, repo := newTestService()
	res := mustRegister(t, svc, "jane.doe", "correct horse")

	if res.Token == "" {
		t.Error("expected token")
	}
	if res.User.Role != auth.RolePatient {
		t.Errorf("role = %s, want patient", res.User.Role)
	}
	stored := repo.items[res.User.ID]
	if stored.PasswordHash == "correct horse" {
		t.Error("password stored in clear text")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("correct horse")); err != nil {
		t.Errorf("hash does not verify: %v", err)
	}
}

func TestRegister_Validation(t *testing.T) {
	svc, _ := newTestService()
	tests := []struct {
		name string
		req  RegisterRequest
	}{
		{"missing username", RegisterRequest{Password: "longenough"}},
		{"short password", RegisterRequest{Username: "jane", Password: "short"}},
		{"bad username", RegisterRequest{Username: "a b", Password: "longenough"}},
		{"bad email", RegisterRequest{Username: "jane", Password: "longenough", Email: strPtr("nope")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tt.req)
			var verr *validation.Error
			if !errors.As(err, &verr) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestRegister_Duplicate(t *testing.T) {
	svc, _ := newTestService()
	mustRegister(t, svc, "jane", "longenough")

	_, err := svc.Register(context.Background(), RegisterRequest{Username: "JANE", Password: "longenough"})
	if !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}
}

func TestLogin(t *testing.T) {
	svc, _ := newTestService()
	reg := mustRegister(t, svc, "jane", "longenough")

	res, err := svc.Login(context.Background(), LoginRequest{Username: "jane", Password: "longenough"})
	if err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	if res.User.ID != reg.User.ID {
		t.Error("login returned a different user")
	}

	if _, err := svc.Login(context.Background(), LoginRequest{Username: "jane", Password: "wrong-password"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password: expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Login(context.Background(), LoginRequest{Username: "nobody", Password: "longenough"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown user: expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLogin_Deactivated(t *testing.T) {
	svc, _ := newTestService()
	reg := mustRegister(t, svc, "jane", "longenough")
	if err := svc.Deactivate(context.Background(), reg.User.ID); err != nil {
		t.Fatal(err)
	}

	_, err := svc.Login(context.Background(), LoginRequest{Username: "jane", Password: "longenough"})
	if !errors.Is(err, ErrUserInactive) {
		t.Fatalf("expected ErrUserInactive, got %v", err)
	}

	if err := svc.Reactivate(context.Background(), reg.User.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Login(context.Background(), LoginRequest{Username: "jane", Password: "longenough"}); err != nil {
		t.Errorf("login after reactivation: %v", err)
	}
}

func TestUpdateProfile(t *testing.T) {
	svc, _ := newTestService()
	reg := mustRegister(t, svc, "jane", "longenough")

	u, err := svc.UpdateProfile(context.Background(), reg.User.ID, ProfileUpdate{FirstName: strPtr("Jane")})
	if err != nil {
		t.Fatalf("UpdateProfile() error: %v", err)
	}
	if u.FirstName == nil || *u.FirstName != "Jane" {
		t.Errorf("first name not updated: %v", u.FirstName)
	}

	if _, err := svc.UpdateProfile(context.Background(), uuid.New(), ProfileUpdate{}); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
}

func TestUpdateSubscription(t *testing.T) {
	svc, _ := newTestService()
	reg := mustRegister(t, svc, "jane", "longenough")

	ends := time.Now().Add(30 * 24 * time.Hour)
	u, err := svc.UpdateSubscription(context.Background(), reg.User.ID, SubscriptionUpdate{
		StripeCustomerID: strPtr("cus_123"),
		Status:           "active",
		Tier:             "premium",
		EndsAt:           &ends,
	})
	if err != nil {
		t.Fatalf("UpdateSubscription() error: %v", err)
	}
	if u.SubscriptionTier != "premium" || u.SubscriptionStatus != "active" {
		t.Errorf("unexpected subscription %s/%s", u.SubscriptionStatus, u.SubscriptionTier)
	}

	_, err = svc.UpdateSubscription(context.Background(), reg.User.ID, SubscriptionUpdate{Status: "gold", Tier: "premium"})
	if err == nil {
		t.Error("expected error for unknown status")
	}
}

func TestDeleteUser_Referenced(t *testing.T) {
	svc, repo := newTestService()
	reg := mustRegister(t, svc, "jane", "longenough")
	repo.referenced[reg.User.ID] = true

	err := svc.DeleteUser(context.Background(), reg.User.ID)
	if !errors.Is(err, ErrUserReferenced) {
		t.Fatalf("expected ErrUserReferenced, got %v", err)
	}
	if _, ok := repo.items[reg.User.ID]; !ok {
		t.Error("user should still exist")
	}
}

func TestSearchUsers_InvalidRole(t *testing.T) {
	svc, _ := newTestService()
	if _, _, err := svc.SearchUsers(context.Background(), map[string]string{"role": "doctor"}, 20, 0); err == nil {
		t.Error("expected error for unknown role")
	}
}
