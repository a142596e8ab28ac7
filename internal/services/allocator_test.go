package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"

	"github.com/honeynil/payflow/internal/models"
	pkgerrors "github.com/honeynil/payflow/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountNumberAllocator_Allocate(t *testing.T) {
	ctx := context.Background()

	t.Run("FirstCandidateFree", func(t *testing.T) {
		repo := newFakeAccountRepo()
		rng := &seqRand{int63s: []int64{0, 1, 2, 3, 4}}
		allocator := NewAccountNumberAllocator(repo, rng, 5)

		number, err := allocator.Allocate(ctx)
		require.NoError(t, err)
		assert.Equal(t, "1000000000", number)
		// one store round-trip covers the whole batch
		assert.Equal(t, 1, repo.findByNumbersCalls)
	})

	t.Run("SkipsTakenCandidates", func(t *testing.T) {
		repo := newFakeAccountRepo(
			&models.Account{AccountNumber: "1000000000"},
			&models.Account{AccountNumber: "1000000001"},
		)
		rng := &seqRand{int63s: []int64{0, 1, 2, 3, 4}}
		allocator := NewAccountNumberAllocator(repo, rng, 5)

		number, err := allocator.Allocate(ctx)
		require.NoError(t, err)
		assert.Equal(t, "1000000002", number)
		assert.Equal(t, 1, repo.findByNumbersCalls)
	})

	t.Run("RegeneratesWhenBatchFullyTaken", func(t *testing.T) {
		repo := newFakeAccountRepo(
			&models.Account{AccountNumber: "1000000000"},
			&models.Account{AccountNumber: "1000000001"},
			&models.Account{AccountNumber: "1000000002"},
		)
		rng := &seqRand{int63s: []int64{0, 1, 2, 0, 1, 2, 7, 8, 9}}
		allocator := NewAccountNumberAllocator(repo, rng, 3)

		number, err := allocator.Allocate(ctx)
		require.NoError(t, err)
		assert.Equal(t, "1000000007", number)
		assert.Equal(t, 2, repo.findByNumbersCalls)
	})

	t.Run("TenDigitNumbers", func(t *testing.T) {
		repo := newFakeAccountRepo()
		// edges of the closed range
		rng := &seqRand{int63s: []int64{accountNumberRange - 1}}
		allocator := NewAccountNumberAllocator(repo, rng, 1)

		number, err := allocator.Allocate(ctx)
		require.NoError(t, err)
		assert.Equal(t, "9999999999", number)
		assert.Regexp(t, regexp.MustCompile(`^[1-9][0-9]{9}$`), number)
	})
}

// Concurrent allocators may race between the existence check and the
// insert; the store's uniqueness constraint plus the retry loop must still
// end with pairwise-distinct accepted numbers.
func TestAccountNumberAllocator_ConcurrentDistinct(t *testing.T) {
	repo := newFakeAccountRepo()
	rng := NewLockedRand(42)
	allocator := NewAccountNumberAllocator(repo, rng, 5)
	ctx := context.Background()

	const workers = 20
	results := make(chan string, workers)
	for i := 0; i < workers; i++ {
		go func(n int) {
			for {
				number, err := allocator.Allocate(ctx)
				if !assert.NoError(t, err) {
					results <- ""
					return
				}
				err = repo.Create(ctx, &models.Account{
					AccountNumber: number,
					Email:         fmt.Sprintf("user%d@example.com", n),
					PasswordHash:  "hash",
				})
				if errors.Is(err, pkgerrors.ErrDuplicateAccountNumber) {
					continue // lost the insert race, allocate again
				}
				if !assert.NoError(t, err) {
					results <- ""
					return
				}
				results <- number
				return
			}
		}(i)
	}

	seen := make(map[string]bool)
	for i := 0; i < workers; i++ {
		number := <-results
		require.NotEmpty(t, number)
		assert.False(t, seen[number], "duplicate accepted account number %s", number)
		seen[number] = true
	}
	assert.Len(t, seen, workers)
}
