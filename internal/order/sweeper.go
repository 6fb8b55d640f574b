package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prashantneosoft/ecommerce-microservices/internal/domain"
	"github.com/prashantneosoft/ecommerce-microservices/internal/events"
	"github.com/prashantneosoft/ecommerce-microservices/internal/retry"
	"go.uber.org/zap"
)

// ErrNoPayment means the payment service has no record for the order.
var ErrNoPayment = errors.New("no payment for order")

// PaymentView is what reconciliation needs to know about a payment.
type PaymentView struct {
	PaymentID     string               `json:"payment_id"`
	Status        domain.PaymentStatus `json:"status"`
	TransactionID string               `json:"transaction_id"`
	Amount        float64              `json:"amount"`
	FailureReason string               `json:"failure_reason"`
}

// PaymentLookup asks the payment service for an order's payment record.
type PaymentLookup interface {
	ByOrder(ctx context.Context, orderID string) (*PaymentView, error)
}

type HTTPPaymentLookup struct {
	baseURL  string
	client   *http.Client
	retryCfg retry.Config
	logger   *zap.Logger
}

func NewHTTPPaymentLookup(baseURL string, logger *zap.Logger) *HTTPPaymentLookup {
	return &HTTPPaymentLookup{
		baseURL:  baseURL,
		client:   &http.Client{Timeout: 5 * time.Second},
		retryCfg: retry.DefaultConfig(),
		logger:   logger,
	}
}

func (l *HTTPPaymentLookup) ByOrder(ctx context.Context, orderID string) (*PaymentView, error) {
	var view PaymentView
	err := retry.Do(ctx, l.logger, l.retryCfg, "payment lookup", func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+"/api/payments/"+orderID, nil)
		if err != nil {
			return err
		}
		req.Header.Set("X-User-ID", "reconciler")

		resp, err := l.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return nil // decoded below as ErrNoPayment
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("payment service returned %d", resp.StatusCode)
		}

		var body struct {
			Data PaymentView `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return err
		}
		view = body.Data
		return nil
	})
	if err != nil {
		return nil, err
	}
	if view.PaymentID == "" {
		return nil, ErrNoPayment
	}
	return &view, nil
}

// Sweeper closes the stuck-pending gap: an order left pending past its saga
// deadline is reconciled against the payment service. A known outcome is
// applied; an unknown one gets the payment request replayed once, then the
// order is auto-cancelled.
type Sweeper struct {
	repo       Repository
	service    *Service
	payments   PaymentLookup
	publisher  events.Publisher
	interval   time.Duration
	retryGrace time.Duration
	logger     *zap.Logger
}

func NewSweeper(repo Repository, service *Service, payments PaymentLookup, publisher events.Publisher, interval time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		repo:       repo,
		service:    service,
		payments:   payments,
		publisher:  publisher,
		interval:   interval,
		retryGrace: interval,
		logger:     logger,
	}
}

// Run sweeps on a ticker until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.Error("sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep processes one batch of stuck orders.
func (s *Sweeper) Sweep(ctx context.Context) error {
	stuck, err := s.repo.ListStuckPending(ctx, time.Now().UTC(), 100)
	if err != nil {
		return err
	}

	for _, o := range stuck {
		if err := s.reconcile(ctx, o); err != nil {
			s.logger.Error("failed to reconcile stuck order",
				zap.String("order_id", o.OrderID),
				zap.Error(err))
		}
	}
	return nil
}

func (s *Sweeper) reconcile(ctx context.Context, o domain.Order) error {
	view, err := s.payments.ByOrder(ctx, o.OrderID)
	switch {
	case err == nil:
		switch view.Status {
		case domain.PaymentStatusCompleted:
			s.logger.Info("reconciling stuck order from completed payment", zap.String("order_id", o.OrderID))
			return s.service.HandlePaymentProcessed(ctx, domain.PaymentProcessedData{
				OrderID:       o.OrderID,
				PaymentID:     view.PaymentID,
				TransactionID: view.TransactionID,
				Amount:        view.Amount,
			})
		case domain.PaymentStatusFailed:
			s.logger.Info("reconciling stuck order from failed payment", zap.String("order_id", o.OrderID))
			return s.service.HandlePaymentFailed(ctx, domain.PaymentFailedData{
				OrderID:   o.OrderID,
				PaymentID: view.PaymentID,
				Reason:    view.FailureReason,
			})
		default:
			// Payment still in flight; give it another interval.
			return s.extendDeadline(ctx, o)
		}

	case errors.Is(err, ErrNoPayment):
		if o.SagaRetries == 0 {
			return s.replayPaymentRequest(ctx, o)
		}
		return s.autoCancel(ctx, o)

	default:
		// Payment service unreachable even after retries; nothing safe to
		// decide with, try again next sweep.
		return err
	}
}

func (s *Sweeper) replayPaymentRequest(ctx context.Context, o domain.Order) error {
	expected := o.Version
	o.SagaRetries++
	o.SagaDeadline = time.Now().UTC().Add(s.retryGrace)
	o.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, &o, expected); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return nil // someone else moved the order, leave it alone
		}
		return err
	}

	s.logger.Warn("replaying payment request for stuck order", zap.String("order_id", o.OrderID))
	return s.publisher.Publish(ctx, domain.EventOrderCreated, domain.OrderCreatedData{
		OrderID:     o.OrderID,
		UserID:      o.UserID,
		Items:       o.Items,
		TotalAmount: o.TotalAmount,
	})
}

func (s *Sweeper) autoCancel(ctx context.Context, o domain.Order) error {
	expected := o.Version
	o.Status = domain.OrderStatusCancelled
	o.Notes = "Auto-cancelled: no payment outcome before saga deadline"
	o.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, &o, expected); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return nil
		}
		return err
	}

	s.logger.Warn("auto-cancelled stuck order", zap.String("order_id", o.OrderID))
	events.Emit(ctx, s.publisher, s.logger, domain.EventOrderCancelled, domain.OrderCancelledData{
		OrderID: o.OrderID,
		Items:   o.Items,
	})
	s.service.invalidateListing(ctx, o.UserID)
	return nil
}

func (s *Sweeper) extendDeadline(ctx context.Context, o domain.Order) error {
	expected := o.Version
	o.SagaDeadline = time.Now().UTC().Add(s.retryGrace)
	o.UpdatedAt = time.Now().UTC()
	err := s.repo.Update(ctx, &o, expected)
	if errors.Is(err, ErrVersionConflict) {
		return nil
	}
	return err
}
