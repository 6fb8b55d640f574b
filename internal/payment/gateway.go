package payment

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ChargeRequest struct {
	OrderID       string
	UserID        string
	Amount        float64
	PaymentMethod string
}

type ChargeResult struct {
	TransactionID string    `json:"transaction_id"`
	Status        string    `json:"status"`
	ProcessedAt   time.Time `json:"processed_at"`
}

type RefundResult struct {
	RefundID       string    `json:"refund_id"`
	RefundedAmount float64   `json:"refunded_amount"`
	RefundedAt     time.Time `json:"refunded_at"`
}

// Gateway is the external charge/refund collaborator. Charges fail
// non-deterministically; refunds are assumed idempotent on the gateway side.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	Refund(ctx context.Context, transactionID string, amount float64) (*RefundResult, error)
}

// ErrDeclined is the simulated gateway's charge failure.
var ErrDeclined = errors.New("payment gateway error: insufficient funds or card declined")

// SimulatedGateway declines a configurable fraction of charges to exercise
// the retry path. The rand source is injectable so tests can force
// deterministic sequences.
type SimulatedGateway struct {
	failureRate float64
	mu          sync.Mutex
	rng         *rand.Rand
	delay       time.Duration
	logger      *zap.Logger
}

func NewSimulatedGateway(failureRate float64, rng *rand.Rand, delay time.Duration, logger *zap.Logger) *SimulatedGateway {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &SimulatedGateway{
		failureRate: failureRate,
		rng:         rng,
		delay:       delay,
		logger:      logger,
	}
}

func (g *SimulatedGateway) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	g.logger.Info("processing charge",
		zap.String("order_id", req.OrderID),
		zap.Float64("amount", req.Amount))

	if err := g.simulateDelay(ctx); err != nil {
		return nil, err
	}

	g.mu.Lock()
	declined := g.rng.Float64() < g.failureRate
	g.mu.Unlock()
	if declined {
		return nil, ErrDeclined
	}

	return &ChargeResult{
		TransactionID: fmt.Sprintf("txn_%d_%s", time.Now().UnixMilli(), uuid.New().String()[:8]),
		Status:        "completed",
		ProcessedAt:   time.Now().UTC(),
	}, nil
}

func (g *SimulatedGateway) Refund(ctx context.Context, transactionID string, amount float64) (*RefundResult, error) {
	g.logger.Info("processing refund", zap.String("transaction_id", transactionID))

	if err := g.simulateDelay(ctx); err != nil {
		return nil, err
	}

	return &RefundResult{
		RefundID:       fmt.Sprintf("ref_%d_%s", time.Now().UnixMilli(), uuid.New().String()[:8]),
		RefundedAmount: amount,
		RefundedAt:     time.Now().UTC(),
	}, nil
}

func (g *SimulatedGateway) simulateDelay(ctx context.Context) error {
	if g.delay <= 0 {
		return nil
	}
	g.mu.Lock()
	d := g.delay/2 + time.Duration(g.rng.Int63n(int64(g.delay)))
	g.mu.Unlock()

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
