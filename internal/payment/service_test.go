package payment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prashantneosoft/ecommerce-microservices/internal/domain"
	"github.com/prashantneosoft/ecommerce-microservices/internal/retry"
	"github.com/prashantneosoft/ecommerce-microservices/pkg/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// scriptedGateway returns canned outcomes in order, then succeeds.
type scriptedGateway struct {
	mu       sync.Mutex
	outcomes []error
	charges  int
	refunds  int
}

func (g *scriptedGateway) Charge(_ context.Context, _ ChargeRequest) (*ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.charges++
	if len(g.outcomes) > 0 {
		err := g.outcomes[0]
		g.outcomes = g.outcomes[1:]
		if err != nil {
			return nil, err
		}
	}
	return &ChargeResult{
		TransactionID: "txn_test",
		Status:        "completed",
		ProcessedAt:   time.Now().UTC(),
	}, nil
}

func (g *scriptedGateway) Refund(_ context.Context, _ string, amount float64) (*RefundResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refunds++
	now := time.Now().UTC()
	return &RefundResult{RefundID: "ref_test", RefundedAmount: amount, RefundedAt: now}, nil
}

func (g *scriptedGateway) chargeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.charges
}

// capturePublisher records published events instead of hitting a relay.
type capturePublisher struct {
	mu     sync.Mutex
	events []capturedEvent
}

type capturedEvent struct {
	Type domain.EventType
	Data any
}

func (p *capturePublisher) Publish(_ context.Context, t domain.EventType, data any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, capturedEvent{Type: t, Data: data})
	return nil
}

func (p *capturePublisher) ofType(t domain.EventType) []capturedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []capturedEvent
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func fastRetry() retry.Config {
	return retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond}
}

func newTestService(gw Gateway) (*Service, *MemoryRepository, *capturePublisher) {
	repo := NewMemoryRepository()
	pub := &capturePublisher{}
	svc := NewService(repo, gw, pub, fastRetry(), zap.NewNop())
	return svc, repo, pub
}

func request(orderID string) domain.ProcessPaymentRequest {
	return domain.ProcessPaymentRequest{
		OrderID: orderID,
		UserID:  "user-1",
		Amount:  59.98,
	}
}

func TestProcessPaymentSuccess(t *testing.T) {
	gw := &scriptedGateway{}
	svc, repo, pub := newTestService(gw)

	payment, err := svc.ProcessPayment(context.Background(), request("order-1"))
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCompleted, payment.Status)
	assert.Equal(t, "txn_test", payment.TransactionID)
	assert.NotEmpty(t, payment.GatewayResponse)
	assert.Equal(t, "credit_card", payment.PaymentMethod)

	stored, err := repo.GetByOrderID(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCompleted, stored.Status)

	processed := pub.ofType(domain.EventPaymentProcessed)
	require.Len(t, processed, 1)
	data := processed[0].Data.(domain.PaymentProcessedData)
	assert.Equal(t, "order-1", data.OrderID)
	assert.Equal(t, payment.PaymentID, data.PaymentID)
	assert.Equal(t, 59.98, data.Amount)
}

func TestChargeRetriesThenSucceeds(t *testing.T) {
	gw := &scriptedGateway{outcomes: []error{ErrDeclined, ErrDeclined, nil}}
	svc, _, pub := newTestService(gw)

	payment, err := svc.ProcessPayment(context.Background(), request("order-1"))
	require.NoError(t, err)
	assert.Equal(t, 3, gw.chargeCount())
	assert.Equal(t, domain.PaymentStatusCompleted, payment.Status)
	assert.Len(t, pub.ofType(domain.EventPaymentProcessed), 1)
	assert.Empty(t, pub.ofType(domain.EventPaymentFailed))
}

func TestChargeExhaustionMarksFailed(t *testing.T) {
	gw := &scriptedGateway{outcomes: []error{ErrDeclined, ErrDeclined, ErrDeclined}}
	svc, repo, pub := newTestService(gw)

	_, err := svc.ProcessPayment(context.Background(), request("order-1"))
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Equal(t, 3, gw.chargeCount())

	stored, err := repo.GetByOrderID(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusFailed, stored.Status)
	assert.Equal(t, ErrDeclined.Error(), stored.FailureReason)

	failed := pub.ofType(domain.EventPaymentFailed)
	require.Len(t, failed, 1)
	data := failed[0].Data.(domain.PaymentFailedData)
	assert.Equal(t, "order-1", data.OrderID)
	assert.NotEmpty(t, data.Reason)
	assert.Empty(t, pub.ofType(domain.EventPaymentProcessed))
}

func TestDuplicateCompletedPaymentRejected(t *testing.T) {
	gw := &scriptedGateway{}
	svc, _, pub := newTestService(gw)

	_, err := svc.ProcessPayment(context.Background(), request("order-1"))
	require.NoError(t, err)

	_, err = svc.ProcessPayment(context.Background(), request("order-1"))
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Equal(t, 1, gw.chargeCount())
	assert.Len(t, pub.ofType(domain.EventPaymentProcessed), 1)
}

func TestFailedPaymentRetriedInPlace(t *testing.T) {
	gw := &scriptedGateway{outcomes: []error{ErrDeclined, ErrDeclined, ErrDeclined, nil}}
	svc, repo, _ := newTestService(gw)

	ctx := context.Background()
	_, err := svc.ProcessPayment(ctx, request("order-1"))
	require.Error(t, err)

	first, err := repo.GetByOrderID(ctx, "order-1")
	require.NoError(t, err)

	// Second attempt reuses the same record rather than creating a sibling.
	payment, err := svc.ProcessPayment(ctx, request("order-1"))
	require.NoError(t, err)
	assert.Equal(t, first.PaymentID, payment.PaymentID)
	assert.Equal(t, domain.PaymentStatusCompleted, payment.Status)
}

func TestConcurrentOrderCreatedDeliveriesCreateOnePayment(t *testing.T) {
	gw := &scriptedGateway{}
	svc, repo, _ := newTestService(gw)

	data := domain.OrderCreatedData{OrderID: "order-1", UserID: "user-1", TotalAmount: 10}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.HandleOrderCreated(context.Background(), data)
		}()
	}
	wg.Wait()

	stored, err := repo.GetByOrderID(context.Background(), "order-1")
	require.NoError(t, err)
	require.NotNil(t, stored)

	// Uniqueness: exactly one record for the order id survives the race.
	repo.mu.RLock()
	defer repo.mu.RUnlock()
	count := 0
	for _, p := range repo.payments {
		if p.OrderID == "order-1" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

// gatedGateway blocks the first charge until release is closed; every later
// charge is declined outright.
type gatedGateway struct {
	mu      sync.Mutex
	release chan struct{}
	charges int
}

func (g *gatedGateway) Charge(ctx context.Context, _ ChargeRequest) (*ChargeResult, error) {
	g.mu.Lock()
	first := g.charges == 0
	g.charges++
	g.mu.Unlock()
	if !first {
		return nil, ErrDeclined
	}
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &ChargeResult{TransactionID: "txn_real", Status: "completed", ProcessedAt: time.Now().UTC()}, nil
}

func (g *gatedGateway) Refund(_ context.Context, _ string, amount float64) (*RefundResult, error) {
	return &RefundResult{RefundID: "ref_test", RefundedAmount: amount, RefundedAt: time.Now().UTC()}, nil
}

func (g *gatedGateway) chargeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.charges
}

func TestDuplicateDeliveryDuringInFlightCharge(t *testing.T) {
	gw := &gatedGateway{release: make(chan struct{})}
	svc, repo, pub := newTestService(gw)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		svc.HandleOrderCreated(ctx, domain.OrderCreatedData{OrderID: "order-1", UserID: "user-1", TotalAmount: 10})
	}()

	require.Eventually(t, func() bool {
		p, err := repo.GetByOrderID(ctx, "order-1")
		return err == nil && p.Status == domain.PaymentStatusProcessing
	}, 2*time.Second, 5*time.Millisecond)

	// A redelivered OrderCreated must observe the in-flight cycle and step
	// aside instead of starting a second charge.
	dup, err := svc.ProcessPayment(ctx, request("order-1"))
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusProcessing, dup.Status)
	assert.Equal(t, 1, gw.chargeCount())

	close(gw.release)
	wg.Wait()

	stored, err := repo.GetByOrderID(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCompleted, stored.Status)
	assert.Equal(t, "txn_real", stored.TransactionID)
	assert.Len(t, pub.ofType(domain.EventPaymentProcessed), 1)
	assert.Empty(t, pub.ofType(domain.EventPaymentFailed))
}

func TestRefundCompletedPayment(t *testing.T) {
	gw := &scriptedGateway{}
	svc, _, pub := newTestService(gw)

	ctx := context.Background()
	payment, err := svc.ProcessPayment(ctx, request("order-1"))
	require.NoError(t, err)

	refunded, err := svc.RefundPayment(ctx, payment.PaymentID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusRefunded, refunded.Status)
	assert.Equal(t, payment.Amount, refunded.RefundAmount)
	require.NotNil(t, refunded.RefundedAt)

	events := pub.ofType(domain.EventPaymentRefunded)
	require.Len(t, events, 1)
	assert.Equal(t, payment.Amount, events[0].Data.(domain.PaymentRefundedData).RefundAmount)
}

func TestRefundGuards(t *testing.T) {
	gw := &scriptedGateway{}
	svc, repo, _ := newTestService(gw)
	ctx := context.Background()

	for _, status := range []domain.PaymentStatus{
		domain.PaymentStatusPending,
		domain.PaymentStatusProcessing,
		domain.PaymentStatusFailed,
		domain.PaymentStatusRefunded,
	} {
		p := &domain.Payment{
			PaymentID: "pay-" + string(status),
			OrderID:   "order-" + string(status),
			UserID:    "user-1",
			Amount:    10,
			Status:    status,
		}
		require.NoError(t, repo.Create(ctx, p))

		_, err := svc.RefundPayment(ctx, p.PaymentID, "user-1")
		require.Error(t, err, "status %s must not be refundable", status)
		assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

		stored, err := repo.Get(ctx, p.PaymentID)
		require.NoError(t, err)
		assert.Equal(t, status, stored.Status, "guard must not mutate the payment")
		assert.Zero(t, stored.RefundAmount)
	}
	assert.Equal(t, 0, gw.refunds)
}

func TestRefundRequiresOwnership(t *testing.T) {
	gw := &scriptedGateway{}
	svc, _, _ := newTestService(gw)

	ctx := context.Background()
	payment, err := svc.ProcessPayment(ctx, request("order-1"))
	require.NoError(t, err)

	_, err = svc.RefundPayment(ctx, payment.PaymentID, "someone-else")
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}
