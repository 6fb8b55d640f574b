package payment

import (
	"context"
	"errors"
	"sync"

	"github.com/prashantneosoft/ecommerce-microservices/internal/domain"
)

var (
	ErrNotFound = errors.New("payment not found")
	// ErrDuplicateOrder is the order-id uniqueness constraint firing: some
	// other writer already created this order's payment.
	ErrDuplicateOrder = errors.New("payment already exists for order")
	// ErrVersionConflict means another writer got there first; the caller
	// must re-read before deciding whether its transition is still legal.
	ErrVersionConflict = errors.New("payment version conflict")
)

type Repository interface {
	// Create persists a new payment; at most one payment may exist per
	// order id, enforced atomically.
	Create(ctx context.Context, p *domain.Payment) error
	Get(ctx context.Context, paymentID string) (*domain.Payment, error)
	GetByOrderID(ctx context.Context, orderID string) (*domain.Payment, error)
	// Update persists p only if the stored version still equals
	// expectedVersion, then bumps p.Version.
	Update(ctx context.Context, p *domain.Payment, expectedVersion int64) error
}

type MemoryRepository struct {
	mu       sync.RWMutex
	payments map[string]domain.Payment // keyed by payment id
	byOrder  map[string]string         // order id -> payment id
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		payments: make(map[string]domain.Payment),
		byOrder:  make(map[string]string),
	}
}

func (r *MemoryRepository) Create(_ context.Context, p *domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byOrder[p.OrderID]; exists {
		return ErrDuplicateOrder
	}
	r.payments[p.PaymentID] = *p
	r.byOrder[p.OrderID] = p.PaymentID
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, paymentID string) (*domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.payments[paymentID]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (r *MemoryRepository) GetByOrderID(_ context.Context, orderID string) (*domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byOrder[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	p := r.payments[id]
	return &p, nil
}

func (r *MemoryRepository) Update(_ context.Context, p *domain.Payment, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.payments[p.PaymentID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != expectedVersion {
		return ErrVersionConflict
	}
	p.Version = expectedVersion + 1
	r.payments[p.PaymentID] = *p
	return nil
}
