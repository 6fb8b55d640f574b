package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prashantneosoft/ecommerce-microservices/internal/domain"
	"github.com/prashantneosoft/ecommerce-microservices/internal/events"
	"github.com/prashantneosoft/ecommerce-microservices/internal/retry"
	"github.com/prashantneosoft/ecommerce-microservices/pkg/apperr"
	"go.uber.org/zap"
)

const (
	defaultCurrency      = "USD"
	defaultPaymentMethod = "credit_card"
)

type Service struct {
	repo      Repository
	gateway   Gateway
	publisher events.Publisher
	retryCfg  retry.Config
	logger    *zap.Logger
}

func NewService(repo Repository, gateway Gateway, publisher events.Publisher, retryCfg retry.Config, logger *zap.Logger) *Service {
	return &Service{
		repo:      repo,
		gateway:   gateway,
		publisher: publisher,
		retryCfg:  retryCfg,
		logger:    logger,
	}
}

// ProcessPayment drives the charge for one order. The order id is the
// idempotency key: a completed payment rejects the duplicate, an incomplete
// one is retried in place, and only a truly unseen order creates a record.
func (s *Service) ProcessPayment(ctx context.Context, req domain.ProcessPaymentRequest) (*domain.Payment, error) {
	existing, err := s.repo.GetByOrderID(ctx, req.OrderID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		switch existing.Status {
		case domain.PaymentStatusCompleted:
			return nil, apperr.New(apperr.KindConflict, "Payment already processed for this order")
		case domain.PaymentStatusProcessing:
			// A charge cycle is already in flight; its owner publishes the
			// outcome. Charging again here would double-bill the order.
			return existing, nil
		default:
			return s.retryExisting(ctx, existing)
		}
	}

	method := req.PaymentMethod
	if method == "" {
		method = defaultPaymentMethod
	}
	now := time.Now().UTC()
	payment := &domain.Payment{
		PaymentID:     uuid.New().String(),
		OrderID:       req.OrderID,
		UserID:        req.UserID,
		Amount:        req.Amount,
		Currency:      defaultCurrency,
		Status:        domain.PaymentStatusProcessing,
		PaymentMethod: method,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.repo.Create(ctx, payment); err != nil {
		if errors.Is(err, ErrDuplicateOrder) {
			// Lost a concurrent duplicate-delivery race; the winner's record
			// is authoritative.
			winner, gerr := s.repo.GetByOrderID(ctx, req.OrderID)
			if gerr != nil {
				return nil, gerr
			}
			if winner.Status == domain.PaymentStatusCompleted {
				return nil, apperr.New(apperr.KindConflict, "Payment already processed for this order")
			}
			return winner, nil
		}
		return nil, fmt.Errorf("failed to save payment: %w", err)
	}

	return s.charge(ctx, payment)
}

func (s *Service) retryExisting(ctx context.Context, payment *domain.Payment) (*domain.Payment, error) {
	expected := payment.Version
	payment.Status = domain.PaymentStatusProcessing
	payment.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, payment, expected); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			// Lost the claim to a concurrent delivery; re-read the winner.
			current, gerr := s.repo.GetByOrderID(ctx, payment.OrderID)
			if gerr != nil {
				return nil, gerr
			}
			if current.Status == domain.PaymentStatusCompleted {
				return nil, apperr.New(apperr.KindConflict, "Payment already processed for this order")
			}
			return current, nil
		}
		return nil, err
	}
	s.logger.Info("retrying existing payment",
		zap.String("payment_id", payment.PaymentID),
		zap.String("order_id", payment.OrderID))
	return s.charge(ctx, payment)
}

// charge runs the gateway call through the retry executor and persists the
// terminal status under a version check. Exactly one of PaymentProcessed /
// PaymentFailed is published per charge cycle, and never when the write loses
// to a concurrent one.
func (s *Service) charge(ctx context.Context, payment *domain.Payment) (*domain.Payment, error) {
	expected := payment.Version
	var result *ChargeResult
	err := retry.Do(ctx, s.logger, s.retryCfg, "gateway charge", func(ctx context.Context) error {
		var cerr error
		result, cerr = s.gateway.Charge(ctx, ChargeRequest{
			OrderID:       payment.OrderID,
			UserID:        payment.UserID,
			Amount:        payment.Amount,
			PaymentMethod: payment.PaymentMethod,
		})
		return cerr
	})

	if err != nil {
		payment.Status = domain.PaymentStatusFailed
		payment.FailureReason = err.Error()
		payment.UpdatedAt = time.Now().UTC()
		if uerr := s.repo.Update(ctx, payment, expected); uerr != nil {
			if errors.Is(uerr, ErrVersionConflict) {
				return s.outcomeSuperseded(ctx, payment.OrderID)
			}
			return nil, uerr
		}

		events.Emit(ctx, s.publisher, s.logger, domain.EventPaymentFailed, domain.PaymentFailedData{
			OrderID:   payment.OrderID,
			PaymentID: payment.PaymentID,
			Reason:    payment.FailureReason,
		})
		s.logger.Error("payment failed",
			zap.String("payment_id", payment.PaymentID),
			zap.String("order_id", payment.OrderID),
			zap.Error(err))
		return payment, apperr.Wrap(apperr.KindConflict, "Payment processing failed", err)
	}

	payment.Status = domain.PaymentStatusCompleted
	payment.TransactionID = result.TransactionID
	if raw, merr := json.Marshal(result); merr == nil {
		payment.GatewayResponse = raw
	}
	payment.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, payment, expected); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return s.outcomeSuperseded(ctx, payment.OrderID)
		}
		return nil, err
	}

	events.Emit(ctx, s.publisher, s.logger, domain.EventPaymentProcessed, domain.PaymentProcessedData{
		OrderID:       payment.OrderID,
		PaymentID:     payment.PaymentID,
		TransactionID: payment.TransactionID,
		Amount:        payment.Amount,
	})
	s.logger.Info("payment processed",
		zap.String("payment_id", payment.PaymentID),
		zap.String("order_id", payment.OrderID),
		zap.String("transaction_id", payment.TransactionID))
	return payment, nil
}

// outcomeSuperseded resolves a lost terminal write: another writer already
// recorded and published this payment's outcome, so this cycle stays silent.
func (s *Service) outcomeSuperseded(ctx context.Context, orderID string) (*domain.Payment, error) {
	current, err := s.repo.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	s.logger.Warn("payment outcome superseded by concurrent writer",
		zap.String("payment_id", current.PaymentID),
		zap.String("order_id", orderID),
		zap.String("status", string(current.Status)))
	return current, nil
}

func (s *Service) GetByOrderID(ctx context.Context, orderID string) (*domain.Payment, error) {
	payment, err := s.repo.GetByOrderID(ctx, orderID)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "Payment not found")
	}
	if err != nil {
		return nil, err
	}
	return payment, nil
}

// RefundPayment reverses a completed payment. One gateway attempt, no retry:
// the gateway treats refunds as idempotent, and a failed refund can be
// re-requested by the caller.
func (s *Service) RefundPayment(ctx context.Context, paymentID, userID string) (*domain.Payment, error) {
	payment, err := s.repo.Get(ctx, paymentID)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "Payment not found")
	}
	if err != nil {
		return nil, err
	}
	if payment.UserID != userID {
		return nil, apperr.New(apperr.KindNotFound, "Payment not found")
	}
	if payment.Status == domain.PaymentStatusRefunded {
		return nil, apperr.New(apperr.KindConflict, "Payment already refunded")
	}
	if payment.Status != domain.PaymentStatusCompleted {
		return nil, apperr.New(apperr.KindConflict, "Can only refund completed payments")
	}

	result, err := s.gateway.Refund(ctx, payment.TransactionID, payment.Amount)
	if err != nil {
		s.logger.Error("refund failed",
			zap.String("payment_id", paymentID),
			zap.Error(err))
		return nil, apperr.Wrap(apperr.KindConflict, "Refund processing failed", err)
	}

	now := result.RefundedAt
	payment.Status = domain.PaymentStatusRefunded
	payment.RefundAmount = result.RefundedAmount
	payment.RefundedAt = &now
	payment.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, payment, payment.Version); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return nil, apperr.New(apperr.KindConflict, "Payment was updated concurrently, please retry")
		}
		return nil, err
	}

	events.Emit(ctx, s.publisher, s.logger, domain.EventPaymentRefunded, domain.PaymentRefundedData{
		OrderID:      payment.OrderID,
		PaymentID:    payment.PaymentID,
		RefundAmount: payment.RefundAmount,
	})
	s.logger.Info("payment refunded", zap.String("payment_id", paymentID))
	return payment, nil
}

// HandleOrderCreated is the relay-driven entry point. Errors, including a
// declined charge after all retries, stay here: the outcome reaches the
// order service as an event, not as a failure of this handler.
func (s *Service) HandleOrderCreated(ctx context.Context, data domain.OrderCreatedData) {
	s.logger.Info("processing order payment", zap.String("order_id", data.OrderID))

	_, err := s.ProcessPayment(ctx, domain.ProcessPaymentRequest{
		OrderID:       data.OrderID,
		UserID:        data.UserID,
		Amount:        data.TotalAmount,
		PaymentMethod: defaultPaymentMethod,
	})
	if err != nil {
		s.logger.Error("error processing order payment",
			zap.String("order_id", data.OrderID),
			zap.Error(err))
	}
}
