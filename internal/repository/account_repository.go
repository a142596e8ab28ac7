package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/honeynil/payflow/internal/models"
)

type AccountRepository interface {
	// Create persists a new account. Uniqueness violations surface as
	// pkg/errors.ErrEmailExists or pkg/errors.ErrDuplicateAccountNumber so
	// registration can distinguish a retriable allocator race from a
	// genuine conflict.
	Create(ctx context.Context, account *models.Account) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	GetByNumber(ctx context.Context, number string) (*models.Account, error)
	// FindByNumbers returns the accounts already registered under any of
	// the given numbers. Used by the allocator for batched collision checks.
	FindByNumbers(ctx context.Context, numbers []string) ([]models.Account, error)
}
