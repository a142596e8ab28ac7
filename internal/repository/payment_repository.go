package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/honeynil/payflow/internal/models"
	"github.com/shopspring/decimal"
)

// Side selects which party of a payment an aggregate filter matches on.
type Side string

const (
	SidePayer Side = "payer"
	SidePayee Side = "payee"
)

// SumFilter narrows an amount aggregation to one user, one side and one
// settlement status.
type SumFilter struct {
	UserID uuid.UUID
	Side   Side
	Status models.PaymentStatus
}

type PaymentRepository interface {
	// Create persists one payment row. A duplicate transaction reference
	// surfaces as pkg/errors.ErrDuplicateReference.
	Create(ctx context.Context, payment *models.Payment) error
	// GetByReference fetches a payment by reference, restricted to its
	// owning user.
	GetByReference(ctx context.Context, ref string, userID uuid.UUID) (*models.Payment, error)
	// List returns payments where the user is payer or payee, newest
	// first, along with the total match count.
	List(ctx context.Context, userID uuid.UUID, offset, limit int) ([]models.Payment, int64, error)
	// Recent returns the latest payments where the user is payer or payee.
	Recent(ctx context.Context, userID uuid.UUID, limit int) ([]models.Payment, error)
	CountByUser(ctx context.Context, userID uuid.UUID) (int64, error)
	// SumAmounts aggregates payment amounts under the filter; no matching
	// rows yields zero, never an error.
	SumAmounts(ctx context.Context, filter SumFilter) (decimal.Decimal, error)
}
