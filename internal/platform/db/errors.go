package db

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound            = errors.New("record not found")
	ErrUniqueViolation     = errors.New("unique constraint violation")
	ErrForeignKeyViolation = errors.New("foreign key violation")
	ErrCheckViolation      = errors.New("check constraint violation")
)

// SQLSTATE codes from the integrity_constraint_violation class.
const (
	codeForeignKeyViolation = "23503"
	codeUniqueViolation     = "23505"
	codeCheckViolation      = "23514"
)

// MapError converts driver errors into the package sentinels. The original
// error stays in the chain together with the violated constraint name.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeUniqueViolation:
		return fmt.Errorf("%w: %s: %w", ErrUniqueViolation, pgErr.ConstraintName, err)
	case codeForeignKeyViolation:
		return fmt.Errorf("%w: %s: %w", ErrForeignKeyViolation, pgErr.ConstraintName, err)
	case codeCheckViolation:
		return fmt.Errorf("%w: %s: %w", ErrCheckViolation, pgErr.ConstraintName, err)
	}
	return err
}

// ConstraintName returns the violated constraint of a postgres error, or "".
func ConstraintName(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}
