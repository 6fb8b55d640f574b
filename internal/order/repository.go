package order

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/prashantneosoft/ecommerce-microservices/internal/domain"
)

var (
	ErrNotFound = errors.New("order not found")
	// ErrVersionConflict means another writer got there first; the caller
	// must re-read before deciding whether its transition is still legal.
	ErrVersionConflict = errors.New("order version conflict")
)

type Repository interface {
	Create(ctx context.Context, o *domain.Order) error
	Get(ctx context.Context, orderID string) (*domain.Order, error)
	// Update persists o only if the stored version still equals
	// expectedVersion, then bumps o.Version.
	Update(ctx context.Context, o *domain.Order, expectedVersion int64) error
	// ListByUser pages a user's orders newest first.
	ListByUser(ctx context.Context, userID string, page, pageSize int) ([]domain.Order, int, error)
	// ListStuckPending returns pending orders whose saga deadline passed.
	ListStuckPending(ctx context.Context, now time.Time, limit int) ([]domain.Order, error)
}

// MemoryRepository backs tests and local runs without DynamoDB.
type MemoryRepository struct {
	mu     sync.RWMutex
	orders map[string]domain.Order
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{orders: make(map[string]domain.Order)}
}

func (r *MemoryRepository) Create(_ context.Context, o *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[o.OrderID] = *o
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, orderID string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	return &o, nil
}

func (r *MemoryRepository) Update(_ context.Context, o *domain.Order, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.orders[o.OrderID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != expectedVersion {
		return ErrVersionConflict
	}
	o.Version = expectedVersion + 1
	r.orders[o.OrderID] = *o
	return nil
}

func (r *MemoryRepository) ListByUser(_ context.Context, userID string, page, pageSize int) ([]domain.Order, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var all []domain.Order
	for _, o := range r.orders {
		if o.UserID == userID {
			all = append(all, o)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	total := len(all)
	start := (page - 1) * pageSize
	if start >= total {
		return []domain.Order{}, total, nil
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (r *MemoryRepository) ListStuckPending(_ context.Context, now time.Time, limit int) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var res []domain.Order
	for _, o := range r.orders {
		if o.Status == domain.OrderStatusPending && o.SagaDeadline.Before(now) {
			res = append(res, o)
			if len(res) == limit {
				break
			}
		}
	}
	return res, nil
}
