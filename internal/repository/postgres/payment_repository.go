package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/honeynil/payflow/internal/infrastructure/observability"
	"github.com/honeynil/payflow/internal/models"
	"github.com/honeynil/payflow/internal/repository"
	pkgerrors "github.com/honeynil/payflow/pkg/errors"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type PostgresPaymentRepository struct {
	db *sql.DB
}

func NewPostgresPaymentRepository(db *sql.DB) *PostgresPaymentRepository {
	return &PostgresPaymentRepository{db: db}
}

func (r *PostgresPaymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	var err error
	tracer := otel.Tracer("payment-repository")
	ctx, span := tracer.Start(ctx, "CreatePayment")
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("CreatePayment", status).Inc()
		observability.RepositoryDuration.WithLabelValues("CreatePayment").Observe(time.Since(start).Seconds())
	}()

	if payment == nil {
		err = fmt.Errorf("payment is nil")
		return err
	}
	if payment.Status != models.StatusPending && payment.Status != models.StatusSuccessful && payment.Status != models.StatusFailed {
		err = fmt.Errorf("invalid payment status %q", payment.Status)
		return err
	}
	if !payment.Amount.IsPositive() {
		err = pkgerrors.ErrInvalidAmount
		return err
	}

	span.SetAttributes(
		attribute.String("transaction_ref", payment.TransactionRef),
		attribute.String("payer", payment.Payer),
		attribute.String("payee", payment.Payee),
		attribute.String("amount", payment.Amount.String()),
		attribute.String("status", string(payment.Status)),
	)

	query := `
	INSERT INTO payments (id, transaction_ref, payer, payee, amount, currency, payer_reference, status, error_message, user_id, payer_id, payee_id)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	RETURNING created_at, updated_at`
	err = r.db.QueryRowContext(ctx, query,
		payment.ID,
		payment.TransactionRef,
		payment.Payer,
		payment.Payee,
		payment.Amount,
		payment.Currency,
		payment.PayerReference,
		payment.Status,
		payment.ErrorMessage,
		payment.UserID,
		payment.PayerID,
		payment.PayeeID,
	).Scan(&payment.CreatedAt, &payment.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if stderrors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			err = pkgerrors.ErrDuplicateReference
			return err
		}
		slog.Error("failed to create payment", "method", "Create", "transaction_ref", payment.TransactionRef, "error", err)
		err = fmt.Errorf("failed to create payment: %w", err)
		return err
	}

	slog.Info("payment created",
		"method", "Create",
		"id", payment.ID,
		"transaction_ref", payment.TransactionRef,
		"status", payment.Status)
	return nil
}

func (r *PostgresPaymentRepository) GetByReference(ctx context.Context, ref string, userID uuid.UUID) (*models.Payment, error) {
	var err error
	tracer := otel.Tracer("payment-repository")
	ctx, span := tracer.Start(ctx, "GetPaymentByReference")
	span.SetAttributes(attribute.String("transaction_ref", ref))
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil && !stderrors.Is(err, pkgerrors.ErrPaymentNotFound) {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("GetPaymentByReference", status).Inc()
		observability.RepositoryDuration.WithLabelValues("GetPaymentByReference").Observe(time.Since(start).Seconds())
	}()

	var p models.Payment
	query := `
	SELECT id, transaction_ref, payer, payee, amount, currency, payer_reference, status, error_message, user_id, payer_id, payee_id, created_at, updated_at
	FROM payments
	WHERE transaction_ref = $1 AND user_id = $2`
	err = r.db.QueryRowContext(ctx, query, ref, userID).Scan(
		&p.ID,
		&p.TransactionRef,
		&p.Payer,
		&p.Payee,
		&p.Amount,
		&p.Currency,
		&p.PayerReference,
		&p.Status,
		&p.ErrorMessage,
		&p.UserID,
		&p.PayerID,
		&p.PayeeID,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrPaymentNotFound
		return nil, err
	}
	if err != nil {
		slog.Error("failed to get payment by reference", "method", "GetByReference", "transaction_ref", ref, "error", err)
		err = fmt.Errorf("failed to get payment by reference: %w", err)
		return nil, err
	}
	return &p, nil
}

const listColumns = `
	p.id, p.transaction_ref, p.payer, p.payee, p.amount, p.currency, p.payer_reference, p.status, p.error_message, p.user_id, p.payer_id, p.payee_id, p.created_at, p.updated_at,
	COALESCE(payer_acc.first_name, 'Unknown'), COALESCE(payee_acc.first_name, 'Unknown')`

const listJoins = `
	FROM payments p
	LEFT JOIN accounts payer_acc ON payer_acc.id = p.payer_id
	LEFT JOIN accounts payee_acc ON payee_acc.id = p.payee_id`

func (r *PostgresPaymentRepository) List(ctx context.Context, userID uuid.UUID, offset, limit int) ([]models.Payment, int64, error) {
	var err error
	tracer := otel.Tracer("payment-repository")
	ctx, span := tracer.Start(ctx, "ListPayments")
	span.SetAttributes(
		attribute.String("user_id", userID.String()),
		attribute.Int("offset", offset),
		attribute.Int("limit", limit),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("ListPayments", status).Inc()
		observability.RepositoryDuration.WithLabelValues("ListPayments").Observe(time.Since(start).Seconds())
	}()

	total, err := r.CountByUser(ctx, userID)
	if err != nil {
		return nil, 0, err
	}

	query := `SELECT` + listColumns + listJoins + `
	WHERE p.payer_id = $1 OR p.payee_id = $1
	ORDER BY p.created_at DESC
	LIMIT $2 OFFSET $3`
	rows, err := r.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		slog.Error("failed to list payments", "method", "List", "user_id", userID, "error", err)
		err = fmt.Errorf("failed to list payments: %w", err)
		return nil, 0, err
	}
	defer rows.Close()

	payments, err := scanPaymentsWithNames(rows)
	if err != nil {
		return nil, 0, err
	}
	return payments, total, nil
}

func (r *PostgresPaymentRepository) Recent(ctx context.Context, userID uuid.UUID, limit int) ([]models.Payment, error) {
	var err error
	tracer := otel.Tracer("payment-repository")
	ctx, span := tracer.Start(ctx, "RecentPayments")
	span.SetAttributes(attribute.String("user_id", userID.String()), attribute.Int("limit", limit))
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("RecentPayments", status).Inc()
		observability.RepositoryDuration.WithLabelValues("RecentPayments").Observe(time.Since(start).Seconds())
	}()

	query := `SELECT` + listColumns + listJoins + `
	WHERE p.payer_id = $1 OR p.payee_id = $1
	ORDER BY p.created_at DESC
	LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		slog.Error("failed to get recent payments", "method", "Recent", "user_id", userID, "error", err)
		err = fmt.Errorf("failed to get recent payments: %w", err)
		return nil, err
	}
	defer rows.Close()

	return scanPaymentsWithNames(rows)
}

func scanPaymentsWithNames(rows *sql.Rows) ([]models.Payment, error) {
	var payments []models.Payment
	for rows.Next() {
		var p models.Payment
		if err := rows.Scan(
			&p.ID,
			&p.TransactionRef,
			&p.Payer,
			&p.Payee,
			&p.Amount,
			&p.Currency,
			&p.PayerReference,
			&p.Status,
			&p.ErrorMessage,
			&p.UserID,
			&p.PayerID,
			&p.PayeeID,
			&p.CreatedAt,
			&p.UpdatedAt,
			&p.PayerName,
			&p.PayeeName,
		); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate payments: %w", err)
	}
	return payments, nil
}

func (r *PostgresPaymentRepository) CountByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	var err error
	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		observability.RepositoryCalls.WithLabelValues("CountPayments", status).Inc()
		observability.RepositoryDuration.WithLabelValues("CountPayments").Observe(time.Since(start).Seconds())
	}()

	var total int64
	query := `SELECT COUNT(*) FROM payments WHERE payer_id = $1 OR payee_id = $1`
	err = r.db.QueryRowContext(ctx, query, userID).Scan(&total)
	if err != nil {
		slog.Error("failed to count payments", "method", "CountByUser", "user_id", userID, "error", err)
		err = fmt.Errorf("failed to count payments: %w", err)
		return 0, err
	}
	return total, nil
}

func (r *PostgresPaymentRepository) SumAmounts(ctx context.Context, filter repository.SumFilter) (decimal.Decimal, error) {
	var err error
	tracer := otel.Tracer("payment-repository")
	ctx, span := tracer.Start(ctx, "SumPaymentAmounts")
	span.SetAttributes(
		attribute.String("user_id", filter.UserID.String()),
		attribute.String("side", string(filter.Side)),
		attribute.String("status", string(filter.Status)),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("SumPaymentAmounts", status).Inc()
		observability.RepositoryDuration.WithLabelValues("SumPaymentAmounts").Observe(time.Since(start).Seconds())
	}()

	column := "payer_id"
	if filter.Side == repository.SidePayee {
		column = "payee_id"
	}

	var sum decimal.Decimal
	query := fmt.Sprintf(`SELECT COALESCE(SUM(amount), 0) FROM payments WHERE %s = $1 AND status = $2`, column)
	err = r.db.QueryRowContext(ctx, query, filter.UserID, filter.Status).Scan(&sum)
	if err != nil {
		slog.Error("failed to sum payment amounts", "method", "SumAmounts", "user_id", filter.UserID, "side", filter.Side, "status", filter.Status, "error", err)
		err = fmt.Errorf("failed to sum payment amounts: %w", err)
		return decimal.Zero, err
	}
	return sum, nil
}
