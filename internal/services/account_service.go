package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	stderrors "errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/honeynil/payflow/internal/infrastructure/kafka"
	"github.com/honeynil/payflow/internal/infrastructure/redis"
	"github.com/honeynil/payflow/internal/models"
	"github.com/honeynil/payflow/internal/repository"
	pkgerrors "github.com/honeynil/payflow/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/crypto/bcrypt"
)

// createAttempts bounds the register-allocate-insert loop. Each round uses a
// fresh candidate batch, so running out means the number space is effectively
// exhausted for this volume.
const createAttempts = 5

type RegisterRequest struct {
	Email       string `json:"email"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Password    string `json:"password"`
	PhoneNumber string `json:"phone_number,omitempty"`
	Address     string `json:"address,omitempty"`
	Currency    string `json:"currency,omitempty"`
}

type AccountService interface {
	Register(ctx context.Context, req RegisterRequest) (*models.Account, error)
	Login(ctx context.Context, email, password string) (string, error)
	Logout(ctx context.Context, userID uuid.UUID) error
	AllocateAccountNumber(ctx context.Context) (string, error)
}

type accountService struct {
	accounts      repository.AccountRepository
	allocator     *AccountNumberAllocator
	redisClient   redis.RedisClient
	kafkaProducer kafka.KafkaProducer
	jwtSecret     string
}

func NewAccountService(
	accounts repository.AccountRepository,
	allocator *AccountNumberAllocator,
	redisClient redis.RedisClient,
	kafkaProducer kafka.KafkaProducer,
	jwtSecret string,
) *accountService {
	return &accountService{
		accounts:      accounts,
		allocator:     allocator,
		redisClient:   redisClient,
		kafkaProducer: kafkaProducer,
		jwtSecret:     jwtSecret,
	}
}

func (s *accountService) Register(ctx context.Context, req RegisterRequest) (*models.Account, error) {
	tracer := otel.Tracer("account-service")
	ctx, span := tracer.Start(ctx, "Register")
	defer span.End()

	if req.Email == "" || req.Password == "" {
		span.SetStatus(codes.Error, "empty email or password")
		return nil, fmt.Errorf("%w: email and password are required", pkgerrors.ErrInvalidCredentials)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "password hashing failed")
		slog.Error("failed to hash password", "email", req.Email, "error", err)
		return nil, fmt.Errorf("%w: failed to hash password", pkgerrors.ErrInternal)
	}

	// Optimistic allocation: the store's uniqueness constraint is the final
	// arbiter, and losing the insert race means allocating a fresh number.
	for attempt := 0; attempt < createAttempts; attempt++ {
		number, err := s.allocator.Allocate(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "account number allocation failed")
			slog.Error("failed to allocate account number", "email", req.Email, "error", err)
			return nil, fmt.Errorf("%w: failed to allocate account number", pkgerrors.ErrInternal)
		}

		account := &models.Account{
			ID:            uuid.New(),
			Email:         req.Email,
			FirstName:     req.FirstName,
			LastName:      req.LastName,
			PhoneNumber:   req.PhoneNumber,
			Address:       req.Address,
			Currency:      req.Currency,
			PasswordHash:  string(hash),
			AccountNumber: number,
		}

		err = s.accounts.Create(ctx, account)
		if stderrors.Is(err, pkgerrors.ErrDuplicateAccountNumber) {
			slog.Warn("account number taken by concurrent registration, retrying",
				"email", req.Email,
				"account_number", number,
				"attempt", attempt+1)
			continue
		}
		if stderrors.Is(err, pkgerrors.ErrEmailExists) {
			span.SetStatus(codes.Error, "email already exists")
			return nil, err
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "account creation failed")
			slog.Error("failed to create account", "email", req.Email, "error", err)
			return nil, fmt.Errorf("%w: failed to create account", pkgerrors.ErrInternal)
		}

		s.publishRegistered(account)
		slog.Info("account registered", "id", account.ID, "account_number", account.AccountNumber)
		return account, nil
	}

	span.SetStatus(codes.Error, "allocation retries exhausted")
	slog.Error("account number allocation retries exhausted", "email", req.Email, "attempts", createAttempts)
	return nil, pkgerrors.ErrNumberSpaceExhausted
}

func (s *accountService) publishRegistered(account *models.Account) {
	if s.kafkaProducer == nil {
		return
	}

	event := map[string]interface{}{
		"event_type":     "account_registered",
		"account_id":     account.ID.String(),
		"account_number": account.AccountNumber,
		"created_at":     time.Now().UTC().Format(time.RFC3339),
	}
	eventBytes, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal registration event", "account_id", account.ID, "error", err)
		return
	}

	go func() {
		retries := 3
		for i := 0; i < retries; i++ {
			if err := s.kafkaProducer.Send(context.Background(), "accounts", account.ID.String(), eventBytes); err == nil {
				return
			}
			time.Sleep(time.Second * time.Duration(i+1))
		}
		slog.Error("failed to send registration event after retries", "account_id", account.ID)
	}()
}

func (s *accountService) Login(ctx context.Context, email, password string) (string, error) {
	tracer := otel.Tracer("account-service")
	ctx, span := tracer.Start(ctx, "Login")
	defer span.End()

	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		slog.Error("failed to login", "email", email, "error", err)
		return "", pkgerrors.ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		slog.Error("invalid password", "email", email)
		return "", pkgerrors.ErrInvalidCredentials
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": account.ID.String(),
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	tokenString, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		slog.Error("failed to generate JWT", "error", err)
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	if s.redisClient != nil {
		if err := s.redisClient.Set(ctx, fmt.Sprintf("user:%s:token", account.ID), tokenString, time.Hour); err != nil {
			slog.Error("failed to cache JWT", "account_id", account.ID, "error", err)
		}
	}

	slog.Info("account logged in", "email", email, "account_id", account.ID)
	return tokenString, nil
}

// Logout revokes the session by deleting the stored token. The auth
// middleware rejects any token that no longer matches the stored one.
func (s *accountService) Logout(ctx context.Context, userID uuid.UUID) error {
	if s.redisClient == nil {
		return nil
	}
	if err := s.redisClient.Del(ctx, fmt.Sprintf("user:%s:token", userID)); err != nil {
		slog.Error("failed to revoke token", "account_id", userID, "error", err)
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	slog.Info("account logged out", "account_id", userID)
	return nil
}

// AllocateAccountNumber exposes the allocator to the request layer without
// persisting anything. The returned number is not reserved.
func (s *accountService) AllocateAccountNumber(ctx context.Context) (string, error) {
	return s.allocator.Allocate(ctx)
}
