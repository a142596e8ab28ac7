package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	stderrors "errors"

	"github.com/google/uuid"
	"github.com/honeynil/payflow/internal/cache"
	"github.com/honeynil/payflow/internal/infrastructure/kafka"
	"github.com/honeynil/payflow/internal/models"
	"github.com/honeynil/payflow/internal/repository"
	pkgerrors "github.com/honeynil/payflow/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

const (
	defaultPage        = 1
	defaultLimit       = 10
	defaultRecentLimit = 5

	// Fallback currency for dashboard stats when the account has none set.
	defaultCurrency = "UGX"
)

type CreatePaymentRequest struct {
	Payer          string          `json:"payer"`
	Payee          string          `json:"payee"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	PayerReference string          `json:"payer_reference,omitempty"`
}

// PaymentItem is one listed payment with its viewer-relative direction.
type PaymentItem struct {
	ID             uuid.UUID            `json:"id"`
	TransactionRef string               `json:"transaction_ref"`
	Amount         decimal.Decimal      `json:"amount"`
	Currency       string               `json:"currency"`
	Payer          string               `json:"payer"`
	Payee          string               `json:"payee"`
	Status         models.PaymentStatus `json:"status"`
	CreatedAt      time.Time            `json:"created_at"`
	PayerReference string               `json:"payer_reference"`
	Direction      models.Direction     `json:"type"`
	PayerName      string               `json:"payer_name"`
	PayeeName      string               `json:"payee_name"`
}

type PaymentList struct {
	Items      []PaymentItem `json:"data"`
	Total      int64         `json:"total"`
	Page       int           `json:"page"`
	Limit      int           `json:"limit"`
	TotalPages int           `json:"total_pages"`
}

type DashboardStats struct {
	TotalTransactions int64           `json:"total_transactions"`
	TotalSent         decimal.Decimal `json:"total_sent"`
	TotalReceived     decimal.Decimal `json:"total_received"`
	PendingAmount     decimal.Decimal `json:"pending_amount"`
	Currency          string          `json:"currency"`
}

type PaymentService interface {
	CreatePayment(ctx context.Context, req CreatePaymentRequest, userID uuid.UUID) (*models.Payment, error)
	GetStatus(ctx context.Context, ref string, userID uuid.UUID) (models.StatusSummary, error)
	ListPayments(ctx context.Context, userID uuid.UUID, page, limit int) (*PaymentList, error)
	DashboardStats(ctx context.Context, userID uuid.UUID) (*DashboardStats, error)
	RecentTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]PaymentItem, error)
}

type paymentService struct {
	payments      repository.PaymentRepository
	accounts      repository.AccountRepository
	statusCache   cache.StatusCache
	kafkaProducer kafka.KafkaProducer
	rng           Rand
	cacheTTL      time.Duration
}

func NewPaymentService(
	payments repository.PaymentRepository,
	accounts repository.AccountRepository,
	statusCache cache.StatusCache,
	kafkaProducer kafka.KafkaProducer,
	rng Rand,
	cacheTTL time.Duration,
) *paymentService {
	return &paymentService{
		payments:      payments,
		accounts:      accounts,
		statusCache:   statusCache,
		kafkaProducer: kafkaProducer,
		rng:           rng,
		cacheTTL:      cacheTTL,
	}
}

func statusCacheKey(userID uuid.UUID, ref string) string {
	return fmt.Sprintf("payment:%s:%s", userID, ref)
}

// CreatePayment validates both parties, decides the settlement outcome and
// persists a single payment row. Preconditions are checked before any write,
// so a rejected request leaves no trace in the store or the cache.
func (s *paymentService) CreatePayment(ctx context.Context, req CreatePaymentRequest, userID uuid.UUID) (*models.Payment, error) {
	tracer := otel.Tracer("payment-service")
	ctx, span := tracer.Start(ctx, "CreatePayment")
	defer span.End()

	payerAccount, err := s.accounts.GetByNumber(ctx, req.Payer)
	if err != nil {
		if stderrors.Is(err, pkgerrors.ErrAccountNotFound) {
			span.SetStatus(codes.Error, "payer not found")
			slog.Warn("payer not found", "payer", req.Payer)
			return nil, fmt.Errorf("payer with account number %s: %w", req.Payer, pkgerrors.ErrAccountNotFound)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "payer lookup failed")
		return nil, err
	}

	payeeAccount, err := s.accounts.GetByNumber(ctx, req.Payee)
	if err != nil {
		if stderrors.Is(err, pkgerrors.ErrAccountNotFound) {
			span.SetStatus(codes.Error, "payee not found")
			slog.Warn("payee not found", "payee", req.Payee)
			return nil, fmt.Errorf("payee with account number %s: %w", req.Payee, pkgerrors.ErrAccountNotFound)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "payee lookup failed")
		return nil, err
	}

	if payerAccount.ID != userID {
		span.SetStatus(codes.Error, "payer account not owned by requester")
		slog.Warn("payment from foreign account rejected", "user_id", userID, "payer", req.Payer)
		return nil, pkgerrors.ErrNotAccountOwner
	}

	// Settlement simulation: one uniform draw decides the terminal status.
	status, errorMessage := s.assignOutcome()
	transactionRef := uuid.NewString()

	span.SetAttributes(
		attribute.String("transaction_ref", transactionRef),
		attribute.String("status", string(status)),
	)

	payment := &models.Payment{
		ID:             uuid.New(),
		TransactionRef: transactionRef,
		Payer:          req.Payer,
		Payee:          req.Payee,
		Amount:         req.Amount,
		Currency:       req.Currency,
		PayerReference: req.PayerReference,
		Status:         status,
		ErrorMessage:   errorMessage,
		UserID:         payerAccount.ID,
		PayerID:        payerAccount.ID,
		PayeeID:        payeeAccount.ID,
	}

	if err := s.payments.Create(ctx, payment); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "payment creation failed")
		slog.Error("failed to create payment", "transaction_ref", transactionRef, "error", err)
		return nil, err
	}

	s.statusCache.Set(statusCacheKey(userID, transactionRef), payment.Summarize(), s.cacheTTL)
	s.publishCreated(payment)

	slog.Info("payment created",
		"transaction_ref", transactionRef,
		"payer", req.Payer,
		"payee", req.Payee,
		"status", status)
	return payment, nil
}

// assignOutcome draws once in [0,100): <10 PENDING, <95 SUCCESSFUL, else
// FAILED with a fixed diagnostic.
func (s *paymentService) assignOutcome() (models.PaymentStatus, string) {
	draw := s.rng.Intn(100)
	switch {
	case draw < 10:
		return models.StatusPending, ""
	case draw < 95:
		return models.StatusSuccessful, ""
	default:
		return models.StatusFailed, "Insufficient funds"
	}
}

func (s *paymentService) publishCreated(payment *models.Payment) {
	if s.kafkaProducer == nil {
		return
	}

	event := map[string]interface{}{
		"event_type":      "payment_created",
		"transaction_ref": payment.TransactionRef,
		"payer":           payment.Payer,
		"payee":           payment.Payee,
		"amount":          payment.Amount.String(),
		"currency":        payment.Currency,
		"status":          string(payment.Status),
		"created_at":      time.Now().UTC().Format(time.RFC3339),
	}
	eventBytes, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal payment event", "transaction_ref", payment.TransactionRef, "error", err)
		return
	}

	go func() {
		retries := 3
		for i := 0; i < retries; i++ {
			if err := s.kafkaProducer.Send(context.Background(), "payments", payment.TransactionRef, eventBytes); err == nil {
				return
			}
			time.Sleep(time.Second * time.Duration(i+1))
		}
		slog.Error("failed to send payment event after retries", "transaction_ref", payment.TransactionRef)
	}()
}

// GetStatus is cache-aside: the cache answers straight hits, a miss falls
// back to the store and repairs the cache with the same TTL. The outcome
// never changes after creation, so staleness is bounded by the TTL alone.
func (s *paymentService) GetStatus(ctx context.Context, ref string, userID uuid.UUID) (models.StatusSummary, error) {
	tracer := otel.Tracer("payment-service")
	ctx, span := tracer.Start(ctx, "GetPaymentStatus")
	span.SetAttributes(attribute.String("transaction_ref", ref))
	defer span.End()

	key := statusCacheKey(userID, ref)
	if summary, ok := s.statusCache.Get(key); ok {
		span.SetAttributes(attribute.Bool("cache_hit", true))
		return summary, nil
	}

	payment, err := s.payments.GetByReference(ctx, ref, userID)
	if err != nil {
		if stderrors.Is(err, pkgerrors.ErrPaymentNotFound) {
			span.SetStatus(codes.Error, "payment not found")
			return models.StatusSummary{}, fmt.Errorf("payment with transaction reference %s: %w", ref, pkgerrors.ErrPaymentNotFound)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "payment lookup failed")
		slog.Error("failed to get payment status", "transaction_ref", ref, "error", err)
		return models.StatusSummary{}, err
	}

	summary := payment.Summarize()
	s.statusCache.Set(key, summary, s.cacheTTL)
	return summary, nil
}

func (s *paymentService) ListPayments(ctx context.Context, userID uuid.UUID, page, limit int) (*PaymentList, error) {
	tracer := otel.Tracer("payment-service")
	ctx, span := tracer.Start(ctx, "ListPayments")
	defer span.End()

	if page < 1 {
		page = defaultPage
	}
	if limit < 1 {
		limit = defaultLimit
	}

	payments, total, err := s.payments.List(ctx, userID, (page-1)*limit, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "listing failed")
		slog.Error("failed to list payments", "user_id", userID, "error", err)
		return nil, err
	}

	items := make([]PaymentItem, 0, len(payments))
	for i := range payments {
		items = append(items, toPaymentItem(&payments[i], userID))
	}

	totalPages := int((total + int64(limit) - 1) / int64(limit))
	return &PaymentList{
		Items:      items,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: totalPages,
	}, nil
}

// toPaymentItem derives the direction from the viewer's identity. The same
// payment is OUTGOING for its payer and INCOMING for its payee.
func toPaymentItem(p *models.Payment, viewerID uuid.UUID) PaymentItem {
	direction := models.DirectionIncoming
	if p.PayerID == viewerID {
		direction = models.DirectionOutgoing
	}
	return PaymentItem{
		ID:             p.ID,
		TransactionRef: p.TransactionRef,
		Amount:         p.Amount,
		Currency:       p.Currency,
		Payer:          p.Payer,
		Payee:          p.Payee,
		Status:         p.Status,
		CreatedAt:      p.CreatedAt,
		PayerReference: p.PayerReference,
		Direction:      direction,
		PayerName:      p.PayerName,
		PayeeName:      p.PayeeName,
	}
}

func (s *paymentService) RecentTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]PaymentItem, error) {
	tracer := otel.Tracer("payment-service")
	ctx, span := tracer.Start(ctx, "RecentTransactions")
	defer span.End()

	if limit < 1 {
		limit = defaultRecentLimit
	}

	payments, err := s.payments.Recent(ctx, userID, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "recent lookup failed")
		slog.Error("failed to get recent transactions", "user_id", userID, "error", err)
		return nil, err
	}

	items := make([]PaymentItem, 0, len(payments))
	for i := range payments {
		items = append(items, toPaymentItem(&payments[i], userID))
	}
	return items, nil
}

// DashboardStats runs the four aggregates concurrently against the store.
// Empty result sets come back as zero sums, never as errors.
func (s *paymentService) DashboardStats(ctx context.Context, userID uuid.UUID) (*DashboardStats, error) {
	tracer := otel.Tracer("payment-service")
	ctx, span := tracer.Start(ctx, "DashboardStats")
	defer span.End()

	account, err := s.accounts.GetByID(ctx, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "account lookup failed")
		slog.Error("failed to get account for stats", "user_id", userID, "error", err)
		return nil, err
	}

	stats := &DashboardStats{
		TotalSent:     decimal.Zero,
		TotalReceived: decimal.Zero,
		PendingAmount: decimal.Zero,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		total, err := s.payments.CountByUser(gctx, userID)
		if err != nil {
			return err
		}
		stats.TotalTransactions = total
		return nil
	})
	g.Go(func() error {
		sent, err := s.payments.SumAmounts(gctx, repository.SumFilter{UserID: userID, Side: repository.SidePayer, Status: models.StatusSuccessful})
		if err != nil {
			return err
		}
		stats.TotalSent = sent
		return nil
	})
	g.Go(func() error {
		received, err := s.payments.SumAmounts(gctx, repository.SumFilter{UserID: userID, Side: repository.SidePayee, Status: models.StatusSuccessful})
		if err != nil {
			return err
		}
		stats.TotalReceived = received
		return nil
	})
	g.Go(func() error {
		pending, err := s.payments.SumAmounts(gctx, repository.SumFilter{UserID: userID, Side: repository.SidePayer, Status: models.StatusPending})
		if err != nil {
			return err
		}
		stats.PendingAmount = pending
		return nil
	})
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "aggregation failed")
		slog.Error("failed to compute dashboard stats", "user_id", userID, "error", err)
		return nil, err
	}

	stats.Currency = account.Currency
	if stats.Currency == "" {
		stats.Currency = defaultCurrency
	}
	return stats, nil
}
