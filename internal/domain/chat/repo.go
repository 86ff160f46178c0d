package chat

import (
	"context"

	"github.com/google/uuid"
)

type SessionRepository interface {
	Create(ctx context.Context, s *Session) error
	GetByID(ctx context.Context, id uuid.UUID) (*Session, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Session, int, error)
	// Touch bumps updated_at so recently active sessions list first.
	Touch(ctx context.Context, id uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type MessageRepository interface {
	Create(ctx context.Context, m *Message) error
	// ListBySession returns messages in insertion order.
	ListBySession(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]*Message, int, error)
}
