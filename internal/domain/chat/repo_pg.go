package chat

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medbill/medbill/internal/platform/db"
)

// -- Sessions --

type sessionRepoPG struct{ pool *pgxpool.Pool }

func NewSessionRepoPG(pool *pgxpool.Pool) SessionRepository { return &sessionRepoPG{pool: pool} }

func (r *sessionRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const sessionCols = `id, user_id, bill_id, title, created_at, updated_at`

func scanSession(row pgx.Row) (*Session, error) {
	var s Session
	if err := row.Scan(&s.ID, &s.UserID, &s.BillID, &s.Title, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, db.MapError(err)
	}
	return &s, nil
}

func (r *sessionRepoPG) Create(ctx context.Context, s *Session) error {
	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO chat_sessions (user_id, bill_id, title) VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at`, s.UserID, s.BillID, s.Title)
	return db.MapError(row.Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt))
}

func (r *sessionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Session, error) {
	return scanSession(r.conn(ctx).QueryRow(ctx, `SELECT `+sessionCols+` FROM chat_sessions WHERE id = $1`, id))
}

func (r *sessionRepoPG) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Session, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM chat_sessions WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, db.MapError(err)
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+sessionCols+` FROM chat_sessions WHERE user_id = $1
		ORDER BY updated_at DESC, id LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, db.MapError(err)
	}
	defer rows.Close()
	var items []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, rows.Err()
}

func (r *sessionRepoPG) Touch(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE chat_sessions SET updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return db.MapError(err)
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *sessionRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM chat_sessions WHERE id = $1`, id)
	if err != nil {
		return db.MapError(err)
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

// -- Messages --

type messageRepoPG struct{ pool *pgxpool.Pool }

func NewMessageRepoPG(pool *pgxpool.Pool) MessageRepository { return &messageRepoPG{pool: pool} }

func (r *messageRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const messageCols = `id, session_id, role, content, metadata, created_at`

// Create stamps created_at with clock_timestamp() so messages written in one
// transaction still order by insertion.
func (r *messageRepoPG) Create(ctx context.Context, m *Message) error {
	var meta []byte
	if len(m.Metadata) > 0 {
		meta = m.Metadata
	}
	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO chat_messages (session_id, role, content, metadata, created_at)
		VALUES ($1, $2, $3, $4, clock_timestamp())
		RETURNING id, created_at`, m.SessionID, m.Role, m.Content, meta)
	return db.MapError(row.Scan(&m.ID, &m.CreatedAt))
}

func (r *messageRepoPG) ListBySession(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]*Message, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM chat_messages WHERE session_id = $1`, sessionID).Scan(&total); err != nil {
		return nil, 0, db.MapError(err)
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+messageCols+` FROM chat_messages WHERE session_id = $1
		ORDER BY created_at, id LIMIT $2 OFFSET $3`, sessionID, limit, offset)
	if err != nil {
		return nil, 0, db.MapError(err)
	}
	defer rows.Close()
	var items []*Message
	for rows.Next() {
		var m Message
		var meta []byte
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &meta, &m.CreatedAt); err != nil {
			return nil, 0, db.MapError(err)
		}
		if len(meta) > 0 {
			m.Metadata = meta
		}
		items = append(items, &m)
	}
	return items, total, rows.Err()
}
