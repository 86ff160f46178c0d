package bill

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medbill/medbill/internal/platform/db"
	"github.com/medbill/medbill/internal/platform/query"
)

type billRepoPG struct{ pool *pgxpool.Pool }

func NewBillRepoPG(pool *pgxpool.Pool) BillRepository { return &billRepoPG{pool: pool} }

func (r *billRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const billCols = `id, user_id, file_name, file_type, file_size, storage_key, provider_name,
	bill_date, total_amount, status, extracted_data, ocr_text, resolved_at, created_at, updated_at`

func scanBill(row pgx.Row) (*MedicalBill, error) {
	var b MedicalBill
	var extracted []byte
	err := row.Scan(&b.ID, &b.UserID, &b.FileName, &b.FileType, &b.FileSize, &b.StorageKey, &b.ProviderName,
		&b.BillDate, &b.TotalAmount, &b.Status, &extracted, &b.OCRText, &b.ResolvedAt, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, db.MapError(err)
	}
	if len(extracted) > 0 {
		b.ExtractedData = &ExtractedData{}
		if err := json.Unmarshal(extracted, b.ExtractedData); err != nil {
			return nil, fmt.Errorf("decode extracted_data of bill %s: %w", b.ID, err)
		}
	}
	return &b, nil
}

func marshalExtracted(d *ExtractedData) ([]byte, error) {
	if d == nil {
		return nil, nil
	}
	return json.Marshal(d)
}

func (r *billRepoPG) Create(ctx context.Context, b *MedicalBill) error {
	extracted, err := marshalExtracted(b.ExtractedData)
	if err != nil {
		return err
	}
	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO medical_bills (user_id, file_name, file_type, file_size, storage_key, provider_name,
			bill_date, total_amount, status, extracted_data, ocr_text)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at`,
		b.UserID, b.FileName, b.FileType, b.FileSize, b.StorageKey, b.ProviderName,
		b.BillDate, b.TotalAmount, b.Status, extracted, b.OCRText)
	return db.MapError(row.Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt))
}

func (r *billRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*MedicalBill, error) {
	return scanBill(r.conn(ctx).QueryRow(ctx, `SELECT `+billCols+` FROM medical_bills WHERE id = $1`, id))
}

func (r *billRepoPG) Update(ctx context.Context, b *MedicalBill) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE medical_bills SET file_name=$2, provider_name=$3, bill_date=$4, total_amount=$5,
			ocr_text=$6, updated_at=NOW()
		WHERE id = $1 AND status <> 'resolved'`,
		b.ID, b.FileName, b.ProviderName, b.BillDate, b.TotalAmount, b.OCRText)
	if err != nil {
		return db.MapError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBillImmutable
	}
	return nil
}

func (r *billRepoPG) SetExtractedData(ctx context.Context, id uuid.UUID, data *ExtractedData) error {
	extracted, err := marshalExtracted(data)
	if err != nil {
		return err
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE medical_bills SET extracted_data=$2, updated_at=NOW()
		WHERE id = $1 AND status <> 'resolved'`, id, extracted)
	if err != nil {
		return db.MapError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBillImmutable
	}
	return nil
}

func (r *billRepoPG) SetFile(ctx context.Context, id uuid.UUID, storageKey, fileType string, size int64) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE medical_bills SET storage_key=$2, file_type=$3, file_size=$4, updated_at=NOW()
		WHERE id = $1 AND status <> 'resolved'`, id, storageKey, fileType, size)
	if err != nil {
		return db.MapError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBillImmutable
	}
	return nil
}

func (r *billRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, resolvedAt *time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE medical_bills SET status=$3, resolved_at=COALESCE($4, resolved_at), updated_at=NOW()
		WHERE id = $1 AND status = $2`, id, from, to, resolvedAt)
	if err != nil {
		return db.MapError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStatusConflict
	}
	return nil
}

func (r *billRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM medical_bills WHERE id = $1 AND status <> 'resolved'`, id)
	if err != nil {
		return db.MapError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBillImmutable
	}
	return nil
}

var billFilters = map[string]query.Filter{
	"user_id":  {Type: query.FilterRef, Column: "user_id"},
	"status":   {Type: query.FilterEnum, Column: "status"},
	"provider": {Type: query.FilterString, Column: "provider_name"},
	"date":     {Type: query.FilterDate, Column: "bill_date"},
	"amount":   {Type: query.FilterNumber, Column: "total_amount"},
	"created":  {Type: query.FilterDate, Column: "created_at"},
}

func (r *billRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*MedicalBill, int, error) {
	q := query.New("medical_bills", billCols)
	q.ApplyParams(params, billFilters)
	q.ApplySort(params["_sort"], "created_at DESC", billFilters)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, q.CountSQL(), q.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, db.MapError(err)
	}

	rows, err := r.conn(ctx).Query(ctx, q.DataSQL(), q.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, db.MapError(err)
	}
	defer rows.Close()
	var items []*MedicalBill
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, b)
	}
	return items, total, rows.Err()
}
