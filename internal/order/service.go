package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prashantneosoft/ecommerce-microservices/internal/cache"
	"github.com/prashantneosoft/ecommerce-microservices/internal/catalog"
	"github.com/prashantneosoft/ecommerce-microservices/internal/domain"
	"github.com/prashantneosoft/ecommerce-microservices/internal/events"
	"github.com/prashantneosoft/ecommerce-microservices/pkg/apperr"
	"go.uber.org/zap"
)

// transitionRetries bounds how often an event handler re-reads after losing
// a version race before giving up on the delivery (it will be redelivered).
const transitionRetries = 3

type Service struct {
	repo        Repository
	catalog     catalog.Client
	publisher   events.Publisher
	cache       cache.Cache
	cacheTTL    time.Duration
	sagaTimeout time.Duration
	logger      *zap.Logger
}

func NewService(repo Repository, cat catalog.Client, publisher events.Publisher, c cache.Cache, cacheTTL, sagaTimeout time.Duration, logger *zap.Logger) *Service {
	return &Service{
		repo:        repo,
		catalog:     cat,
		publisher:   publisher,
		cache:       c,
		cacheTTL:    cacheTTL,
		sagaTimeout: sagaTimeout,
		logger:      logger,
	}
}

// CreateOrder validates the items against the catalog, snapshots prices into
// the order, persists it pending and announces OrderCreated. The payment
// outcome arrives later as an event.
func (s *Service) CreateOrder(ctx context.Context, userID string, req domain.CreateOrderRequest) (*domain.Order, error) {
	ids := make([]string, 0, len(req.Items))
	for _, item := range req.Items {
		ids = append(ids, item.ProductID)
	}

	products, err := s.catalog.BulkLookup(ctx, ids)
	if err != nil {
		return nil, err
	}

	var total float64
	items := make([]domain.OrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		product, ok := products[item.ProductID]
		if !ok {
			return nil, apperr.Newf(apperr.KindNotFound, "Product %s not found", item.ProductID)
		}
		if product.Stock < item.Quantity {
			return nil, apperr.Newf(apperr.KindConflict, "Insufficient stock for %s", product.Name)
		}
		total += product.Price * float64(item.Quantity)
		items = append(items, domain.OrderItem{
			ProductID:   item.ProductID,
			ProductName: product.Name,
			Price:       product.Price,
			Quantity:    item.Quantity,
		})
	}

	now := time.Now().UTC()
	order := &domain.Order{
		OrderID:         uuid.New().String(),
		UserID:          userID,
		Items:           items,
		TotalAmount:     total,
		Status:          domain.OrderStatusPending,
		PaymentStatus:   domain.PaymentStatusPending,
		ShippingAddress: req.ShippingAddress,
		Version:         1,
		SagaDeadline:    now.Add(s.sagaTimeout),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.repo.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to save order: %w", err)
	}

	events.Emit(ctx, s.publisher, s.logger, domain.EventOrderCreated, domain.OrderCreatedData{
		OrderID:     order.OrderID,
		UserID:      order.UserID,
		Items:       order.Items,
		TotalAmount: order.TotalAmount,
	})
	s.invalidateListing(ctx, userID)

	s.logger.Info("order created",
		zap.String("order_id", order.OrderID),
		zap.String("user_id", userID),
		zap.Float64("total_amount", total))
	return order, nil
}

// GetOrders is a read-through cached listing keyed by user, page and size.
func (s *Service) GetOrders(ctx context.Context, userID string, page, pageSize int) (*domain.OrderPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 10
	}

	key := s.listingKey(ctx, userID, page, pageSize)
	if raw, ok, err := s.cache.Get(ctx, key); err == nil && ok {
		var cached domain.OrderPage
		if err := json.Unmarshal(raw, &cached); err == nil {
			return &cached, nil
		}
	} else if err != nil {
		s.logger.Warn("cache read failed", zap.Error(err))
	}

	orders, total, err := s.repo.ListByUser(ctx, userID, page, pageSize)
	if err != nil {
		return nil, err
	}

	result := &domain.OrderPage{
		Orders: orders,
		Pagination: domain.Pagination{
			Page:     page,
			PageSize: pageSize,
			Total:    total,
			Pages:    (total + pageSize - 1) / pageSize,
		},
	}

	if raw, err := json.Marshal(result); err == nil {
		if err := s.cache.Set(ctx, key, raw, s.cacheTTL); err != nil {
			s.logger.Warn("cache write failed", zap.Error(err))
		}
	}
	return result, nil
}

func (s *Service) GetOrder(ctx context.Context, orderID, userID string) (*domain.Order, error) {
	order, err := s.repo.Get(ctx, orderID)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "Order not found")
	}
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		// Ownership scoping: someone else's order looks like no order.
		return nil, apperr.New(apperr.KindNotFound, "Order not found")
	}
	return order, nil
}

// CancelOrder applies the user-cancel transition. Only pending and confirmed
// orders may be cancelled; a version conflict (e.g. a payment outcome landing
// concurrently) is surfaced as a conflict, not overwritten.
func (s *Service) CancelOrder(ctx context.Context, orderID, userID string) (*domain.Order, error) {
	order, err := s.GetOrder(ctx, orderID, userID)
	if err != nil {
		return nil, err
	}
	if !order.Status.Cancellable() {
		return nil, apperr.New(apperr.KindConflict, "Cannot cancel order in current status")
	}

	expected := order.Version
	order.Status = domain.OrderStatusCancelled
	order.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, order, expected); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return nil, apperr.New(apperr.KindConflict, "Order was updated concurrently, please retry")
		}
		return nil, err
	}

	events.Emit(ctx, s.publisher, s.logger, domain.EventOrderCancelled, domain.OrderCancelledData{
		OrderID: order.OrderID,
		Items:   order.Items,
	})
	s.invalidateListing(ctx, userID)

	s.logger.Info("order cancelled", zap.String("order_id", orderID))
	return order, nil
}

// HandlePaymentProcessed finalizes the saga's happy path. Deliveries are
// at-least-once: an order already confirmed is left untouched.
func (s *Service) HandlePaymentProcessed(ctx context.Context, data domain.PaymentProcessedData) error {
	return s.applyPaymentOutcome(ctx, data.OrderID, func(o *domain.Order) bool {
		if o.Status == domain.OrderStatusConfirmed && o.PaymentID == data.PaymentID {
			return false // duplicate delivery
		}
		if o.Status != domain.OrderStatusPending {
			s.logger.Warn("dropping PaymentProcessed for non-pending order",
				zap.String("order_id", o.OrderID),
				zap.String("status", string(o.Status)))
			return false
		}
		o.Status = domain.OrderStatusConfirmed
		o.PaymentStatus = domain.PaymentStatusCompleted
		o.PaymentID = data.PaymentID
		return true
	}, func(o *domain.Order) {
		events.Emit(ctx, s.publisher, s.logger, domain.EventOrderUpdated, domain.OrderUpdatedData{
			OrderID:       o.OrderID,
			Status:        o.Status,
			PaymentStatus: o.PaymentStatus,
		})
	})
}

// HandlePaymentFailed finalizes the saga's failure path.
func (s *Service) HandlePaymentFailed(ctx context.Context, data domain.PaymentFailedData) error {
	return s.applyPaymentOutcome(ctx, data.OrderID, func(o *domain.Order) bool {
		if o.Status == domain.OrderStatusFailed {
			return false
		}
		if o.Status != domain.OrderStatusPending {
			s.logger.Warn("dropping PaymentFailed for non-pending order",
				zap.String("order_id", o.OrderID),
				zap.String("status", string(o.Status)))
			return false
		}
		o.Status = domain.OrderStatusFailed
		o.PaymentStatus = domain.PaymentStatusFailed
		o.PaymentID = data.PaymentID
		if data.Reason != "" {
			o.Notes = data.Reason
		} else {
			o.Notes = "Payment failed"
		}
		return true
	}, nil)
}

// applyPaymentOutcome loads the order, lets mutate decide whether the
// transition still applies, and writes it back under the version check.
// Losing the race re-reads and re-decides, so a cancel that slipped in
// cleanly wins. A missing order is a no-op: the event is stale or
// a duplicate for a deleted order.
func (s *Service) applyPaymentOutcome(ctx context.Context, orderID string, mutate func(*domain.Order) bool, after func(*domain.Order)) error {
	for i := 0; i < transitionRetries; i++ {
		order, err := s.repo.Get(ctx, orderID)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		if !mutate(order) {
			return nil
		}

		expected := order.Version
		order.UpdatedAt = time.Now().UTC()
		err = s.repo.Update(ctx, order, expected)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return err
		}

		if after != nil {
			after(order)
		}
		s.invalidateListing(ctx, order.UserID)
		return nil
	}
	return fmt.Errorf("gave up applying payment outcome to order %s after %d version conflicts", orderID, transitionRetries)
}

// invalidateListing rotates the user's listing generation. Every cached page,
// whatever its page and size, was written under the old generation and can no
// longer be addressed; it ages out with the TTL.
func (s *Service) invalidateListing(ctx context.Context, userID string) {
	if err := s.cache.Del(ctx, listingGenKey(userID)); err != nil {
		s.logger.Warn("cache invalidation failed",
			zap.String("user_id", userID),
			zap.Error(err))
	}
}

// listingKey scopes page keys under a per-user generation token.
func (s *Service) listingKey(ctx context.Context, userID string, page, pageSize int) string {
	return fmt.Sprintf("orders:user:%s:%s:%d:%d", userID, s.listingGeneration(ctx, userID), page, pageSize)
}

func (s *Service) listingGeneration(ctx context.Context, userID string) string {
	genKey := listingGenKey(userID)
	if raw, ok, err := s.cache.Get(ctx, genKey); err == nil && ok {
		return string(raw)
	}
	gen := uuid.New().String()[:8]
	if err := s.cache.Set(ctx, genKey, []byte(gen), s.cacheTTL); err != nil {
		s.logger.Warn("cache write failed", zap.Error(err))
	}
	return gen
}

func listingGenKey(userID string) string {
	return "orders:user:" + userID + ":gen"
}
