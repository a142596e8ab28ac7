package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	redisinfra "github.com/honeynil/payflow/internal/infrastructure/redis"
	"github.com/honeynil/payflow/internal/models"
	"github.com/honeynil/payflow/internal/repository"
	pkgerrors "github.com/honeynil/payflow/pkg/errors"
	"github.com/shopspring/decimal"
)

// seqRand feeds predetermined values through the Rand seam.
type seqRand struct {
	mu     sync.Mutex
	ints   []int
	int63s []int64
}

func (r *seqRand) Intn(int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.ints[0]
	r.ints = r.ints[1:]
	return v
}

func (r *seqRand) Int63n(int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.int63s[0]
	r.int63s = r.int63s[1:]
	return v
}

type fakeAccountRepo struct {
	mu sync.Mutex

	byNumber map[string]*models.Account
	byEmail  map[string]*models.Account
	byID     map[uuid.UUID]*models.Account

	createErrs []error // popped per Create call; nil means success

	createCalls        int
	findByNumbersCalls int
	getByNumberCalls   int
	getByIDCalls       int
}

func newFakeAccountRepo(accounts ...*models.Account) *fakeAccountRepo {
	r := &fakeAccountRepo{
		byNumber: make(map[string]*models.Account),
		byEmail:  make(map[string]*models.Account),
		byID:     make(map[uuid.UUID]*models.Account),
	}
	for _, a := range accounts {
		r.add(a)
	}
	return r
}

func (r *fakeAccountRepo) add(a *models.Account) {
	r.byNumber[a.AccountNumber] = a
	r.byEmail[a.Email] = a
	r.byID[a.ID] = a
}

func (r *fakeAccountRepo) Create(_ context.Context, account *models.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.createCalls++
	if len(r.createErrs) > 0 {
		err := r.createErrs[0]
		r.createErrs = r.createErrs[1:]
		if err != nil {
			return err
		}
	}
	if _, ok := r.byEmail[account.Email]; ok {
		return pkgerrors.ErrEmailExists
	}
	if _, ok := r.byNumber[account.AccountNumber]; ok {
		return pkgerrors.ErrDuplicateAccountNumber
	}
	r.add(account)
	return nil
}

func (r *fakeAccountRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.getByIDCalls++
	if a, ok := r.byID[id]; ok {
		return a, nil
	}
	return nil, pkgerrors.ErrAccountNotFound
}

func (r *fakeAccountRepo) GetByEmail(_ context.Context, email string) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.byEmail[email]; ok {
		return a, nil
	}
	return nil, pkgerrors.ErrAccountNotFound
}

func (r *fakeAccountRepo) GetByNumber(_ context.Context, number string) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.getByNumberCalls++
	if a, ok := r.byNumber[number]; ok {
		return a, nil
	}
	return nil, pkgerrors.ErrAccountNotFound
}

func (r *fakeAccountRepo) FindByNumbers(_ context.Context, numbers []string) ([]models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.findByNumbersCalls++
	var found []models.Account
	for _, n := range numbers {
		if a, ok := r.byNumber[n]; ok {
			found = append(found, *a)
		}
	}
	return found, nil
}

type fakePaymentRepo struct {
	mu sync.Mutex

	payments []models.Payment

	createCalls   int
	getByRefCalls int
	listCalls     int
}

func (r *fakePaymentRepo) Create(_ context.Context, payment *models.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.createCalls++
	r.payments = append(r.payments, *payment)
	return nil
}

func (r *fakePaymentRepo) GetByReference(_ context.Context, ref string, userID uuid.UUID) (*models.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.getByRefCalls++
	for i := range r.payments {
		p := r.payments[i]
		if p.TransactionRef == ref && p.UserID == userID {
			return &p, nil
		}
	}
	return nil, pkgerrors.ErrPaymentNotFound
}

func (r *fakePaymentRepo) matching(userID uuid.UUID) []models.Payment {
	var out []models.Payment
	for _, p := range r.payments {
		if p.PayerID == userID || p.PayeeID == userID {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (r *fakePaymentRepo) List(_ context.Context, userID uuid.UUID, offset, limit int) ([]models.Payment, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listCalls++
	all := r.matching(userID)
	total := int64(len(all))
	if offset >= len(all) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (r *fakePaymentRepo) Recent(_ context.Context, userID uuid.UUID, limit int) ([]models.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := r.matching(userID)
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (r *fakePaymentRepo) CountByUser(_ context.Context, userID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.matching(userID))), nil
}

func (r *fakePaymentRepo) SumAmounts(_ context.Context, filter repository.SumFilter) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sum := decimal.Zero
	for _, p := range r.payments {
		if p.Status != filter.Status {
			continue
		}
		switch filter.Side {
		case repository.SidePayer:
			if p.PayerID != filter.UserID {
				continue
			}
		case repository.SidePayee:
			if p.PayeeID != filter.UserID {
				continue
			}
		}
		sum = sum.Add(p.Amount)
	}
	return sum, nil
}

type producedMessage struct {
	topic string
	key   string
	value []byte
}

// fakeProducer records sent messages. Publishing runs in a goroutine, so
// tests wait on the sent channel rather than polling the slice.
type fakeProducer struct {
	mu       sync.Mutex
	messages []producedMessage
	sent     chan producedMessage
}

func newFakeProducer() *fakeProducer {
	return &fakeProducer{sent: make(chan producedMessage, 8)}
}

func (p *fakeProducer) Send(_ context.Context, topic, key string, value []byte) error {
	msg := producedMessage{topic: topic, key: key, value: value}
	p.mu.Lock()
	p.messages = append(p.messages, msg)
	p.mu.Unlock()
	p.sent <- msg
	return nil
}

func (p *fakeProducer) Close() error { return nil }

func (p *fakeProducer) sentCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}

func (p *fakeProducer) waitForMessage(t *testing.T) producedMessage {
	t.Helper()
	select {
	case msg := <-p.sent:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a produced message")
		return producedMessage{}
	}
}

// fakeRedis is an in-memory stand-in for the session-token store.
type fakeRedis struct {
	mu     sync.Mutex
	values map[string]string
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: make(map[string]string)}
}

func (r *fakeRedis) Get(_ context.Context, key string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.values[key]
	if !ok {
		return "", redisinfra.ErrKeyNotFound
	}
	return v, nil
}

func (r *fakeRedis) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[key] = fmt.Sprint(value)
	return nil
}

func (r *fakeRedis) Del(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.values, key)
	return nil
}

func (r *fakeRedis) Close() error { return nil }
