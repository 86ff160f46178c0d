package identity

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medbill/medbill/internal/platform/db"
	"github.com/medbill/medbill/internal/platform/query"
)

type userRepoPG struct{ pool *pgxpool.Pool }

func NewUserRepoPG(pool *pgxpool.Pool) UserRepository { return &userRepoPG{pool: pool} }

func (r *userRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const userCols = `id, username, email, password_hash, first_name, last_name, role,
	stripe_customer_id, stripe_subscription_id, subscription_status, subscription_tier,
	subscription_ends_at, is_active, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.Role,
		&u.StripeCustomerID, &u.StripeSubscriptionID, &u.SubscriptionStatus, &u.SubscriptionTier,
		&u.SubscriptionEndsAt, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, db.MapError(err)
	}
	return &u, nil
}

func (r *userRepoPG) Create(ctx context.Context, u *User) error {
	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO users (username, email, password_hash, first_name, last_name, role)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, subscription_status, subscription_tier, is_active, created_at, updated_at`,
		u.Username, u.Email, u.PasswordHash, u.FirstName, u.LastName, u.Role)
	err := row.Scan(&u.ID, &u.SubscriptionStatus, &u.SubscriptionTier, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	return db.MapError(err)
}

func (r *userRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id))
}

func (r *userRepoPG) GetByUsername(ctx context.Context, username string) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE lower(username) = lower($1)`, username))
}

func (r *userRepoPG) UpdateProfile(ctx context.Context, id uuid.UUID, p ProfileUpdate) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx, `
		UPDATE users SET
			email = COALESCE($2, email),
			first_name = COALESCE($3, first_name),
			last_name = COALESCE($4, last_name),
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+userCols,
		id, p.Email, p.FirstName, p.LastName))
}

func (r *userRepoPG) UpdateSubscription(ctx context.Context, id uuid.UUID, s SubscriptionUpdate) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx, `
		UPDATE users SET
			stripe_customer_id = COALESCE($2, stripe_customer_id),
			stripe_subscription_id = COALESCE($3, stripe_subscription_id),
			subscription_status = $4,
			subscription_tier = $5,
			subscription_ends_at = $6,
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+userCols,
		id, s.StripeCustomerID, s.StripeSubscriptionID, s.Status, s.Tier, s.EndsAt))
}

func (r *userRepoPG) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE users SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return db.MapError(err)
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *userRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return db.MapError(err)
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

var userFilters = map[string]query.Filter{
	"username":            {Type: query.FilterString, Column: "username"},
	"email":               {Type: query.FilterString, Column: "email"},
	"role":                {Type: query.FilterEnum, Column: "role"},
	"subscription_status": {Type: query.FilterEnum, Column: "subscription_status"},
	"subscription_tier":   {Type: query.FilterEnum, Column: "subscription_tier"},
	"is_active":           {Type: query.FilterBool, Column: "is_active"},
	"created":             {Type: query.FilterDate, Column: "created_at"},
}

func (r *userRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*User, int, error) {
	q := query.New("users", userCols)
	q.ApplyParams(params, userFilters)
	q.ApplySort(params["_sort"], "created_at DESC", userFilters)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, q.CountSQL(), q.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, db.MapError(err)
	}

	rows, err := r.conn(ctx).Query(ctx, q.DataSQL(), q.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, db.MapError(err)
	}
	defer rows.Close()
	var items []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, u)
	}
	return items, total, rows.Err()
}
