package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/honeynil/payflow/internal/infrastructure/observability"
	"github.com/honeynil/payflow/internal/models"
	pkgerrors "github.com/honeynil/payflow/pkg/errors"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// uniqueViolation is the Postgres error code for a unique constraint hit.
const uniqueViolation = "23505"

type PostgresAccountRepository struct {
	db *sql.DB
}

func NewPostgresAccountRepository(db *sql.DB) *PostgresAccountRepository {
	return &PostgresAccountRepository{db: db}
}

const accountColumns = `id, email, first_name, last_name, phone_number, address, currency, password_hash, account_number, created_at, updated_at`

func (r *PostgresAccountRepository) Create(ctx context.Context, account *models.Account) error {
	var err error
	tracer := otel.Tracer("account-repository")
	ctx, span := tracer.Start(ctx, "CreateAccount")
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("CreateAccount", status).Inc()
		observability.RepositoryDuration.WithLabelValues("CreateAccount").Observe(time.Since(start).Seconds())
	}()

	if account == nil {
		err = fmt.Errorf("account is nil")
		return err
	}
	if account.Email == "" || account.PasswordHash == "" {
		err = fmt.Errorf("email and password are required")
		return err
	}

	span.SetAttributes(
		attribute.String("account_id", account.ID.String()),
		attribute.String("account_number", account.AccountNumber),
	)

	query := `
	INSERT INTO accounts (id, email, first_name, last_name, phone_number, address, currency, password_hash, account_number)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	RETURNING created_at, updated_at`
	err = r.db.QueryRowContext(ctx, query,
		account.ID,
		account.Email,
		account.FirstName,
		account.LastName,
		account.PhoneNumber,
		account.Address,
		account.Currency,
		account.PasswordHash,
		account.AccountNumber,
	).Scan(&account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if stderrors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			if strings.Contains(pqErr.Constraint, "account_number") {
				err = pkgerrors.ErrDuplicateAccountNumber
				return err
			}
			err = pkgerrors.ErrEmailExists
			return err
		}
		slog.Error("failed to create account", "method", "Create", "email", account.Email, "error", err)
		err = fmt.Errorf("failed to create account: %w", err)
		return err
	}

	slog.Info("account created", "method", "Create", "id", account.ID, "account_number", account.AccountNumber)
	return nil
}

func (r *PostgresAccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return r.getOne(ctx, "GetAccountByID", query, id)
}

func (r *PostgresAccountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	if email == "" {
		return nil, fmt.Errorf("email cannot be empty")
	}
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE email = $1`
	return r.getOne(ctx, "GetAccountByEmail", query, email)
}

func (r *PostgresAccountRepository) GetByNumber(ctx context.Context, number string) (*models.Account, error) {
	if number == "" {
		return nil, fmt.Errorf("account number cannot be empty")
	}
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE account_number = $1`
	return r.getOne(ctx, "GetAccountByNumber", query, number)
}

func (r *PostgresAccountRepository) getOne(ctx context.Context, op, query string, arg any) (*models.Account, error) {
	var err error
	tracer := otel.Tracer("account-repository")
	ctx, span := tracer.Start(ctx, op)
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil && !stderrors.Is(err, pkgerrors.ErrAccountNotFound) {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues(op, status).Inc()
		observability.RepositoryDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	var account models.Account
	err = r.db.QueryRowContext(ctx, query, arg).Scan(
		&account.ID,
		&account.Email,
		&account.FirstName,
		&account.LastName,
		&account.PhoneNumber,
		&account.Address,
		&account.Currency,
		&account.PasswordHash,
		&account.AccountNumber,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrAccountNotFound
		return nil, err
	}
	if err != nil {
		slog.Error("failed to get account", "method", op, "error", err)
		err = fmt.Errorf("failed to get account: %w", err)
		return nil, err
	}
	return &account, nil
}

func (r *PostgresAccountRepository) FindByNumbers(ctx context.Context, numbers []string) ([]models.Account, error) {
	var err error
	tracer := otel.Tracer("account-repository")
	ctx, span := tracer.Start(ctx, "FindAccountsByNumbers")
	span.SetAttributes(attribute.Int("batch_size", len(numbers)))
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("FindAccountsByNumbers", status).Inc()
		observability.RepositoryDuration.WithLabelValues("FindAccountsByNumbers").Observe(time.Since(start).Seconds())
	}()

	if len(numbers) == 0 {
		return nil, nil
	}

	query := `SELECT ` + accountColumns + ` FROM accounts WHERE account_number = ANY($1)`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(numbers))
	if err != nil {
		slog.Error("failed to find accounts by numbers", "method", "FindByNumbers", "error", err)
		err = fmt.Errorf("failed to find accounts by numbers: %w", err)
		return nil, err
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		var account models.Account
		if err = rows.Scan(
			&account.ID,
			&account.Email,
			&account.FirstName,
			&account.LastName,
			&account.PhoneNumber,
			&account.Address,
			&account.Currency,
			&account.PasswordHash,
			&account.AccountNumber,
			&account.CreatedAt,
			&account.UpdatedAt,
		); err != nil {
			err = fmt.Errorf("failed to scan account: %w", err)
			return nil, err
		}
		accounts = append(accounts, account)
	}
	if err = rows.Err(); err != nil {
		err = fmt.Errorf("failed to iterate accounts: %w", err)
		return nil, err
	}
	return accounts, nil
}
