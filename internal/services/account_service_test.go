package service

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"testing"

	"github.com/google/uuid"
	redisinfra "github.com/honeynil/payflow/internal/infrastructure/redis"
	"github.com/honeynil/payflow/internal/models"
	pkgerrors "github.com/honeynil/payflow/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newAccountService(repo *fakeAccountRepo, rng Rand) *accountService {
	allocator := NewAccountNumberAllocator(repo, rng, 5)
	return NewAccountService(repo, allocator, nil, nil, "secret")
}

func TestAccountService_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		repo := newFakeAccountRepo()
		svc := newAccountService(repo, NewLockedRand(1))

		account, err := svc.Register(ctx, RegisterRequest{
			Email:     "alice@example.com",
			FirstName: "Alice",
			LastName:  "Doe",
			Password:  "s3cret",
		})
		require.NoError(t, err)
		assert.Regexp(t, regexp.MustCompile(`^[1-9][0-9]{9}$`), account.AccountNumber)
		assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte("s3cret")))
		assert.Equal(t, 1, repo.createCalls)
	})

	t.Run("MissingCredentials", func(t *testing.T) {
		repo := newFakeAccountRepo()
		svc := newAccountService(repo, NewLockedRand(1))

		_, err := svc.Register(ctx, RegisterRequest{Email: "", Password: ""})
		assert.Error(t, err)
		assert.Equal(t, 0, repo.createCalls)
	})

	t.Run("RetriesOnNumberRace", func(t *testing.T) {
		repo := newFakeAccountRepo()
		// first insert loses the race, second goes through
		repo.createErrs = []error{pkgerrors.ErrDuplicateAccountNumber, nil}
		svc := newAccountService(repo, NewLockedRand(2))

		account, err := svc.Register(ctx, RegisterRequest{
			Email:    "bob@example.com",
			Password: "pw",
		})
		require.NoError(t, err)
		assert.NotEmpty(t, account.AccountNumber)
		assert.Equal(t, 2, repo.createCalls)
	})

	t.Run("GivesUpAfterRepeatedRaces", func(t *testing.T) {
		repo := newFakeAccountRepo()
		repo.createErrs = []error{
			pkgerrors.ErrDuplicateAccountNumber,
			pkgerrors.ErrDuplicateAccountNumber,
			pkgerrors.ErrDuplicateAccountNumber,
			pkgerrors.ErrDuplicateAccountNumber,
			pkgerrors.ErrDuplicateAccountNumber,
		}
		svc := newAccountService(repo, NewLockedRand(3))

		_, err := svc.Register(ctx, RegisterRequest{Email: "x@example.com", Password: "pw"})
		assert.ErrorIs(t, err, pkgerrors.ErrNumberSpaceExhausted)
		assert.Equal(t, createAttempts, repo.createCalls)
	})

	t.Run("DuplicateEmail", func(t *testing.T) {
		repo := newFakeAccountRepo(&models.Account{
			ID:            uuid.New(),
			Email:         "taken@example.com",
			AccountNumber: "1234567890",
		})
		svc := newAccountService(repo, NewLockedRand(4))

		_, err := svc.Register(ctx, RegisterRequest{Email: "taken@example.com", Password: "pw"})
		assert.ErrorIs(t, err, pkgerrors.ErrEmailExists)
		assert.Equal(t, 1, repo.createCalls)
	})
}

func TestAccountService_Login(t *testing.T) {
	ctx := context.Background()
	hash, err := bcrypt.GenerateFromPassword([]byte("correct"), bcrypt.DefaultCost)
	require.NoError(t, err)

	account := &models.Account{
		ID:            uuid.New(),
		Email:         "alice@example.com",
		PasswordHash:  string(hash),
		AccountNumber: "1000000001",
	}

	t.Run("Success", func(t *testing.T) {
		svc := newAccountService(newFakeAccountRepo(account), NewLockedRand(5))
		token, err := svc.Login(ctx, "alice@example.com", "correct")
		require.NoError(t, err)
		assert.NotEmpty(t, token)
	})

	t.Run("WrongPassword", func(t *testing.T) {
		svc := newAccountService(newFakeAccountRepo(account), NewLockedRand(5))
		token, err := svc.Login(ctx, "alice@example.com", "wrong")
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidCredentials)
		assert.Empty(t, token)
	})

	t.Run("UnknownEmail", func(t *testing.T) {
		svc := newAccountService(newFakeAccountRepo(account), NewLockedRand(5))
		token, err := svc.Login(ctx, "nobody@example.com", "correct")
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidCredentials)
		assert.Empty(t, token)
	})
}

func TestAccountService_AllocateAccountNumber(t *testing.T) {
	repo := newFakeAccountRepo()
	svc := newAccountService(repo, NewLockedRand(6))

	number, err := svc.AllocateAccountNumber(context.Background())
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^[1-9][0-9]{9}$`), number)
	// allocation alone reserves nothing
	assert.Equal(t, 0, repo.createCalls)
}

func TestAccountService_Register_PublishesEvent(t *testing.T) {
	repo := newFakeAccountRepo()
	producer := newFakeProducer()
	allocator := NewAccountNumberAllocator(repo, NewLockedRand(7), 5)
	svc := NewAccountService(repo, allocator, nil, producer, "secret")

	account, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "carol@example.com",
		Password: "s3cret",
	})
	require.NoError(t, err)

	msg := producer.waitForMessage(t)
	assert.Equal(t, "accounts", msg.topic)
	assert.Equal(t, account.ID.String(), msg.key)

	var event map[string]any
	require.NoError(t, json.Unmarshal(msg.value, &event))
	assert.Equal(t, "account_registered", event["event_type"])
	assert.Equal(t, account.ID.String(), event["account_id"])
	assert.Equal(t, account.AccountNumber, event["account_number"])
}

func TestAccountService_Logout(t *testing.T) {
	ctx := context.Background()
	repo := newFakeAccountRepo()
	store := newFakeRedis()
	allocator := NewAccountNumberAllocator(repo, NewLockedRand(8), 5)
	svc := NewAccountService(repo, allocator, store, nil, "secret")

	account, err := svc.Register(ctx, RegisterRequest{
		Email:    "dave@example.com",
		Password: "s3cret",
	})
	require.NoError(t, err)

	token, err := svc.Login(ctx, "dave@example.com", "s3cret")
	require.NoError(t, err)

	key := fmt.Sprintf("user:%s:token", account.ID)
	stored, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, token, stored)

	require.NoError(t, svc.Logout(ctx, account.ID))
	_, err = store.Get(ctx, key)
	assert.ErrorIs(t, err, redisinfra.ErrKeyNotFound)
}
