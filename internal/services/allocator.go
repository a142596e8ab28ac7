package service

import (
	"context"
	"log/slog"
	"math/rand"
	"strconv"
	"sync"

	"github.com/honeynil/payflow/internal/repository"
)

const (
	// 10-digit numbers with no leading zero: [1_000_000_000, 9_999_999_999].
	accountNumberMin   = 1_000_000_000
	accountNumberRange = 9_000_000_000

	defaultBatchSize = 5
)

// Rand is the injected randomness seam. Both the allocator and the payment
// outcome draw go through it so tests can supply fixed sequences.
type Rand interface {
	Intn(n int) int
	Int63n(n int64) int64
}

// lockedRand makes a *rand.Rand safe for concurrent callers.
type lockedRand struct {
	mu  sync.Mutex
	src *rand.Rand
}

// NewLockedRand returns a concurrency-safe Rand seeded with seed.
func NewLockedRand(seed int64) Rand {
	return &lockedRand{src: rand.New(rand.NewSource(seed))}
}

func (r *lockedRand) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.src.Intn(n)
}

func (r *lockedRand) Int63n(n int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.src.Int63n(n)
}

// AccountNumberAllocator hands out external account numbers. Allocation is
// optimistic: candidates are drawn in batches and checked against the store
// in one query, but nothing is reserved between the check and the insert.
// The account_number uniqueness constraint is the final arbiter; callers
// must treat ErrDuplicateAccountNumber at insert time as a signal to
// allocate again.
type AccountNumberAllocator struct {
	accounts  repository.AccountRepository
	rng       Rand
	batchSize int
}

func NewAccountNumberAllocator(accounts repository.AccountRepository, rng Rand, batchSize int) *AccountNumberAllocator {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &AccountNumberAllocator{accounts: accounts, rng: rng, batchSize: batchSize}
}

// Allocate returns a 10-digit account number not registered at the time of
// the check. It loops over fresh batches until one candidate is free; the
// 9e9 number space makes non-termination a practical impossibility.
func (a *AccountNumberAllocator) Allocate(ctx context.Context) (string, error) {
	for {
		candidates := make([]string, a.batchSize)
		for i := range candidates {
			candidates[i] = strconv.FormatInt(accountNumberMin+a.rng.Int63n(accountNumberRange), 10)
		}

		existing, err := a.accounts.FindByNumbers(ctx, candidates)
		if err != nil {
			return "", err
		}

		taken := make(map[string]struct{}, len(existing))
		for _, acc := range existing {
			taken[acc.AccountNumber] = struct{}{}
		}

		for _, candidate := range candidates {
			if _, ok := taken[candidate]; !ok {
				return candidate, nil
			}
		}

		slog.Warn("account number batch fully taken, retrying", "batch_size", a.batchSize)
	}
}
