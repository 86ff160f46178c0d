package dispute

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medbill/medbill/internal/platform/db"
)

type documentRepoPG struct{ pool *pgxpool.Pool }

func NewDocumentRepoPG(pool *pgxpool.Pool) DocumentRepository { return &documentRepoPG{pool: pool} }

func (r *documentRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const documentCols = `id, bill_id, strategy_id, user_id, document_type, title, content, recipient,
	delivery_method, status, storage_key, tracking_number, sent_at, delivered_at, responded_at,
	response_notes, created_at, updated_at`

func scanDocument(row pgx.Row) (*Document, error) {
	var d Document
	var recipient []byte
	err := row.Scan(&d.ID, &d.BillID, &d.StrategyID, &d.UserID, &d.DocumentType, &d.Title, &d.Content, &recipient,
		&d.DeliveryMethod, &d.Status, &d.StorageKey, &d.TrackingNumber, &d.SentAt, &d.DeliveredAt, &d.RespondedAt,
		&d.ResponseNotes, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, db.MapError(err)
	}
	if len(recipient) > 0 {
		d.Recipient = &Recipient{}
		if err := json.Unmarshal(recipient, d.Recipient); err != nil {
			return nil, fmt.Errorf("decode recipient of document %s: %w", d.ID, err)
		}
	}
	return &d, nil
}

func marshalRecipient(r *Recipient) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	return json.Marshal(r)
}

func (r *documentRepoPG) Create(ctx context.Context, d *Document) error {
	recipient, err := marshalRecipient(d.Recipient)
	if err != nil {
		return err
	}
	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO generated_documents (bill_id, strategy_id, user_id, document_type, title, content,
			recipient, delivery_method, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`,
		d.BillID, d.StrategyID, d.UserID, d.DocumentType, d.Title, d.Content, recipient, d.DeliveryMethod, d.Status)
	return db.MapError(row.Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt))
}

func (r *documentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Document, error) {
	return scanDocument(r.conn(ctx).QueryRow(ctx, `SELECT `+documentCols+` FROM generated_documents WHERE id = $1`, id))
}

func (r *documentRepoPG) ListByBill(ctx context.Context, billID uuid.UUID) ([]*Document, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+documentCols+` FROM generated_documents WHERE bill_id = $1 ORDER BY created_at, id`, billID)
	if err != nil {
		return nil, db.MapError(err)
	}
	defer rows.Close()
	var items []*Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

func (r *documentRepoPG) Update(ctx context.Context, d *Document) error {
	recipient, err := marshalRecipient(d.Recipient)
	if err != nil {
		return err
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE generated_documents SET title=$2, content=$3, recipient=$4, delivery_method=$5, updated_at=NOW()
		WHERE id = $1 AND status = 'draft'`,
		d.ID, d.Title, d.Content, recipient, d.DeliveryMethod)
	if err != nil {
		return db.MapError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDocumentLocked
	}
	return nil
}

func (r *documentRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, u StatusUpdate) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE generated_documents SET
			status=$3,
			storage_key = CASE WHEN $4::boolean THEN NULL ELSE COALESCE($5, storage_key) END,
			delivery_method = COALESCE($6, delivery_method),
			tracking_number = COALESCE($7, tracking_number),
			sent_at = COALESCE($8, sent_at),
			delivered_at = COALESCE($9, delivered_at),
			responded_at = COALESCE($10, responded_at),
			response_notes = COALESCE($11, response_notes),
			updated_at = NOW()
		WHERE id = $1 AND status = $2`,
		id, from, to, u.ClearStorage, u.StorageKey, u.DeliveryMethod, u.TrackingNumber,
		u.SentAt, u.DeliveredAt, u.RespondedAt, u.ResponseNotes)
	if err != nil {
		return db.MapError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStatusConflict
	}
	return nil
}
