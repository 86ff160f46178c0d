package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medbill/medbill/internal/domain/bill"
	"github.com/medbill/medbill/internal/platform/auth"
	"github.com/medbill/medbill/internal/platform/db"
	"github.com/medbill/medbill/internal/platform/metrics"
	"github.com/medbill/medbill/internal/platform/validation"
)

type Service struct {
	sessions SessionRepository
	messages MessageRepository
	bills    *bill.Service
	tx       db.Transactor
	metrics  *metrics.Collector
	logger   zerolog.Logger
}

func NewService(sessions SessionRepository, messages MessageRepository, bills *bill.Service,
	tx db.Transactor, m *metrics.Collector, logger zerolog.Logger) *Service {
	return &Service{
		sessions: sessions,
		messages: messages,
		bills:    bills,
		tx:       tx,
		metrics:  m,
		logger:   logger.With().Str("component", "chat").Logger(),
	}
}

func (s *Service) CreateSession(ctx context.Context, userID uuid.UUID, req CreateSessionRequest) (*Session, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("user_id is required")
	}
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	if req.BillID != nil {
		if _, err := s.bills.GetAccessible(ctx, *req.BillID, false); err != nil {
			return nil, err
		}
	}
	sess := &Session{UserID: userID, BillID: req.BillID, Title: req.Title}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Service) GetSession(ctx context.Context, id uuid.UUID) (*Session, error) {
	sess, err := s.sessions.GetByID(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	return sess, err
}

// AccessibleSession loads a session for its owner or an admin. Conversations
// are private, so advocates get no read access here.
func (s *Service) AccessibleSession(ctx context.Context, id uuid.UUID) (*Session, error) {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if !auth.CanAccess(ctx, sess.UserID, true) {
		return nil, ErrForbidden
	}
	return sess, nil
}

func (s *Service) ListSessions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Session, int, error) {
	items, total, err := s.sessions.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	if items == nil {
		items = []*Session{}
	}
	return items, total, nil
}

func (s *Service) DeleteSession(ctx context.Context, id uuid.UUID) error {
	err := s.sessions.Delete(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return ErrSessionNotFound
	}
	return err
}

// AddMessage stores a message and bumps the session's activity in one
// transaction.
func (s *Service) AddMessage(ctx context.Context, sessionID uuid.UUID, req AddMessageRequest) (*Message, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	msg := &Message{SessionID: sessionID, Role: req.Role, Content: req.Content, Metadata: req.Metadata}
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.messages.Create(ctx, msg); err != nil {
			return err
		}
		return s.sessions.Touch(ctx, sessionID)
	})
	switch {
	case errors.Is(err, db.ErrNotFound), errors.Is(err, db.ErrForeignKeyViolation):
		return nil, ErrSessionNotFound
	case errors.Is(err, db.ErrCheckViolation):
		return nil, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	case err != nil:
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.ChatMessagesTotal.WithLabelValues(string(msg.Role)).Inc()
	}
	s.logger.Debug().Str("session_id", sessionID.String()).Str("role", string(msg.Role)).Msg("chat message stored")
	return msg, nil
}

func (s *Service) ListMessages(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]*Message, int, error) {
	items, total, err := s.messages.ListBySession(ctx, sessionID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	if items == nil {
		items = []*Message{}
	}
	return items, total, nil
}
