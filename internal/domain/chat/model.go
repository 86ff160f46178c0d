package chat

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrSessionNotFound = errors.New("chat session not found")
	ErrInvalidRole     = errors.New("invalid message role")
	ErrEmptyContent    = errors.New("message content cannot be empty")
	ErrInvalidMetadata = errors.New("message metadata must be a JSON object")
	ErrForbidden       = errors.New("chat session belongs to another user")
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Session maps to chat_sessions.
type Session struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	UserID    uuid.UUID  `db:"user_id" json:"user_id"`
	BillID    *uuid.UUID `db:"bill_id" json:"bill_id,omitempty"`
	Title     string     `db:"title" json:"title"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

// Message maps to chat_messages. Metadata is free-form but always an object.
type Message struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	SessionID uuid.UUID       `db:"session_id" json:"session_id"`
	Role      Role            `db:"role" json:"role"`
	Content   string          `db:"content" json:"content"`
	Metadata  json.RawMessage `db:"metadata" json:"metadata,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

type CreateSessionRequest struct {
	BillID *uuid.UUID `json:"bill_id,omitempty"`
	Title  string     `json:"title" validate:"required,max=255"`
}

type AddMessageRequest struct {
	Role     Role            `json:"role"`
	Content  string          `json:"content"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// Validate checks the role and content and normalises metadata: a JSON null
// is dropped, anything other than an object is rejected.
func (r *AddMessageRequest) Validate() error {
	if r.Role == "" {
		r.Role = RoleUser
	}
	if !r.Role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, r.Role)
	}
	if strings.TrimSpace(r.Content) == "" {
		return ErrEmptyContent
	}
	meta := bytes.TrimSpace(r.Metadata)
	if len(meta) == 0 || bytes.Equal(meta, []byte("null")) {
		r.Metadata = nil
		return nil
	}
	var obj map[string]json.RawMessage
	if meta[0] != '{' || json.Unmarshal(meta, &obj) != nil {
		return ErrInvalidMetadata
	}
	r.Metadata = meta
	return nil
}
