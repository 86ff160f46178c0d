package identity

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUsernameTaken      = errors.New("username or email already registered")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUserInactive       = errors.New("user is deactivated")
	// ErrUserReferenced is returned when a delete hits rows that still point
	// at the user (bills, documents, chat sessions).
	ErrUserReferenced = errors.New("user is referenced by other records")
)

// User maps to the users table. Users are never hard-deleted in normal
// operation; deactivation clears IsActive.
type User struct {
	ID                   uuid.UUID  `db:"id" json:"id"`
	Username             string     `db:"username" json:"username"`
	Email                *string    `db:"email" json:"email,omitempty"`
	PasswordHash         string     `db:"password_hash" json:"-"`
	FirstName            *string    `db:"first_name" json:"first_name,omitempty"`
	LastName             *string    `db:"last_name" json:"last_name,omitempty"`
	Role                 string     `db:"role" json:"role"`
	StripeCustomerID     *string    `db:"stripe_customer_id" json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID *string    `db:"stripe_subscription_id" json:"stripe_subscription_id,omitempty"`
	SubscriptionStatus   string     `db:"subscription_status" json:"subscription_status"`
	SubscriptionTier     string     `db:"subscription_tier" json:"subscription_tier"`
	SubscriptionEndsAt   *time.Time `db:"subscription_ends_at" json:"subscription_ends_at,omitempty"`
	IsActive             bool       `db:"is_active" json:"is_active"`
	CreatedAt            time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time  `db:"updated_at" json:"updated_at"`
}

var validRoles = map[string]bool{
	"patient": true, "advocate": true, "admin": true,
}

var validSubscriptionStatuses = map[string]bool{
	"free": true, "active": true, "past_due": true, "canceled": true, "trialing": true,
}

var validSubscriptionTiers = map[string]bool{
	"free": true, "basic": true, "premium": true,
}

type RegisterRequest struct {
	Username  string  `json:"username" validate:"required,username"`
	Email     *string `json:"email,omitempty" validate:"omitempty,email,max=255"`
	Password  string  `json:"password" validate:"required,min=8,max=72"`
	FirstName *string `json:"first_name,omitempty" validate:"omitempty,max=100"`
	LastName  *string `json:"last_name,omitempty" validate:"omitempty,max=100"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// ProfileUpdate carries the fields a user may change on themselves.
// Nil pointers leave the column untouched.
type ProfileUpdate struct {
	Email     *string `json:"email,omitempty" validate:"omitempty,email,max=255"`
	FirstName *string `json:"first_name,omitempty" validate:"omitempty,max=100"`
	LastName  *string `json:"last_name,omitempty" validate:"omitempty,max=100"`
}

// SubscriptionUpdate mirrors the Stripe-facing columns. Values are written
// as given; no reconciliation with Stripe happens here.
type SubscriptionUpdate struct {
	StripeCustomerID     *string    `json:"stripe_customer_id,omitempty" validate:"omitempty,max=255"`
	StripeSubscriptionID *string    `json:"stripe_subscription_id,omitempty" validate:"omitempty,max=255"`
	Status               string     `json:"subscription_status" validate:"required,oneof=free active past_due canceled trialing"`
	Tier                 string     `json:"subscription_tier" validate:"required,oneof=free basic premium"`
	EndsAt               *time.Time `json:"subscription_ends_at,omitempty"`
}

// AuthResult is returned by register and login.
type AuthResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      *User     `json:"user"`
}
