package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/prashantneosoft/ecommerce-microservices/internal/cache"
	"github.com/prashantneosoft/ecommerce-microservices/internal/catalog"
	"github.com/prashantneosoft/ecommerce-microservices/internal/domain"
	"github.com/prashantneosoft/ecommerce-microservices/internal/events"
	"github.com/prashantneosoft/ecommerce-microservices/internal/order"
	"github.com/prashantneosoft/ecommerce-microservices/internal/payment"
	"github.com/prashantneosoft/ecommerce-microservices/internal/relay"
	"github.com/prashantneosoft/ecommerce-microservices/internal/retry"
	"github.com/prashantneosoft/ecommerce-microservices/pkg/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// lazyPublisher lets the services be built before the relay server exists.
type lazyPublisher struct {
	mu sync.Mutex
	p  events.Publisher
}

func (l *lazyPublisher) set(p events.Publisher) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.p = p
}

func (l *lazyPublisher) Publish(ctx context.Context, t domain.EventType, data any) error {
	l.mu.Lock()
	p := l.p
	l.mu.Unlock()
	if p == nil {
		return fmt.Errorf("relay not wired yet")
	}
	return p.Publish(ctx, t, data)
}

// scriptedGateway fails the first n charges, then succeeds.
type scriptedGateway struct {
	mu       sync.Mutex
	failures int
	charges  int
}

func (g *scriptedGateway) Charge(_ context.Context, _ payment.ChargeRequest) (*payment.ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.charges++
	if g.charges <= g.failures {
		return nil, payment.ErrDeclined
	}
	return &payment.ChargeResult{
		TransactionID: fmt.Sprintf("txn_%d", g.charges),
		Status:        "completed",
		ProcessedAt:   time.Now().UTC(),
	}, nil
}

func (g *scriptedGateway) Refund(_ context.Context, _ string, amount float64) (*payment.RefundResult, error) {
	now := time.Now().UTC()
	return &payment.RefundResult{RefundID: "ref_1", RefundedAmount: amount, RefundedAt: now}, nil
}

type stack struct {
	orderSrv   *httptest.Server
	paymentSrv *httptest.Server
	relaySrv   *httptest.Server
	relay      *relay.Relay
}

func fastRetry() retry.Config {
	return retry.Config{MaxAttempts: 3, InitialDelay: 2 * time.Millisecond, MaxDelay: 8 * time.Millisecond}
}

// startStack wires order service, payment service and relay together over
// real HTTP, with in-memory stores.
func startStack(t *testing.T, gw payment.Gateway) *stack {
	t.Helper()
	logger := zap.NewNop()
	pub := &lazyPublisher{}

	cat := catalog.NewStatic(
		catalog.Product{ProductID: "p1", Name: "Keyboard", Price: 49.99, Stock: 10},
		catalog.Product{ProductID: "p2", Name: "Mouse", Price: 9.99, Stock: 5},
	)

	orderSvc := order.NewService(order.NewMemoryRepository(), cat, pub, cache.NewMemory(),
		time.Second, time.Minute, logger)
	orderRouter := gin.New()
	orderRouter.Use(gin.Recovery(), middleware.RequestID())
	order.NewHandler(orderSvc, logger).Register(orderRouter)
	orderSrv := httptest.NewServer(orderRouter)
	t.Cleanup(orderSrv.Close)

	paymentSvc := payment.NewService(payment.NewMemoryRepository(), gw, pub, fastRetry(), logger)
	paymentRouter := gin.New()
	paymentRouter.Use(gin.Recovery(), middleware.RequestID())
	payment.NewHandler(paymentSvc, logger).Register(paymentRouter)
	paymentSrv := httptest.NewServer(paymentRouter)
	t.Cleanup(paymentSrv.Close)

	deliverer := relay.NewDeliverer(5*time.Second, fastRetry(), logger)
	r := relay.New(relay.NewMemoryLog(), deliverer, []relay.Subscriber{
		{Name: "order-service", URL: orderSrv.URL + "/events"},
		{Name: "payment-service", URL: paymentSrv.URL + "/events"},
	}, true, logger)
	relaySrv := httptest.NewServer(r.Router(logger))
	t.Cleanup(relaySrv.Close)

	pub.set(events.NewHTTPPublisher(relaySrv.URL, logger))

	return &stack{
		orderSrv:   orderSrv,
		paymentSrv: paymentSrv,
		relaySrv:   relaySrv,
		relay:      r,
	}
}

// getJSON is the assertion-free variant used inside Eventually conditions.
func getJSON(url string, out any) error {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-User-ID", "user-1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func orderStatus(s *stack, orderID string) domain.OrderStatus {
	var got struct {
		Data domain.Order `json:"data"`
	}
	if err := getJSON(s.orderSrv.URL+"/api/orders/"+orderID, &got); err != nil {
		return ""
	}
	return got.Data.Status
}

func relayHasEvent(s *stack, t domain.EventType) bool {
	var evs []struct {
		Type string `json:"type"`
	}
	if err := getJSON(s.relaySrv.URL+"/events", &evs); err != nil {
		return false
	}
	for _, ev := range evs {
		if ev.Type == string(t) {
			return true
		}
	}
	return false
}

func doJSON(t *testing.T, method, url string, body any, out any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "user-1")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func createOrder(t *testing.T, s *stack) domain.Order {
	t.Helper()
	var created struct {
		Success bool         `json:"success"`
		Data    domain.Order `json:"data"`
	}
	resp := doJSON(t, http.MethodPost, s.orderSrv.URL+"/api/orders", map[string]any{
		"items": []map[string]any{
			{"product_id": "p1", "quantity": 1},
			{"product_id": "p2", "quantity": 2},
		},
		"shipping_address": map[string]string{
			"street": "1 Main St", "city": "Pune", "state": "MH",
			"zip_code": "411001", "country": "IN",
		},
	}, &created)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.True(t, created.Success)
	return created.Data
}

func fetchOrder(t *testing.T, s *stack, orderID string) domain.Order {
	t.Helper()
	var got struct {
		Data domain.Order `json:"data"`
	}
	resp := doJSON(t, http.MethodGet, s.orderSrv.URL+"/api/orders/"+orderID, nil, &got)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return got.Data
}

func TestSagaHappyPath(t *testing.T) {
	gw := &scriptedGateway{failures: 0}
	s := startStack(t, gw)

	created := createOrder(t, s)
	assert.Equal(t, domain.OrderStatusPending, created.Status)
	assert.InDelta(t, 49.99+2*9.99, created.TotalAmount, 1e-9)

	// Prime the listing cache while the order is still pending; the final
	// listing check below then proves the confirmation busted it.
	var pendingListing struct {
		Data []domain.Order `json:"data"`
	}
	resp0 := doJSON(t, http.MethodGet, s.orderSrv.URL+"/api/orders?page=1&limit=10", nil, &pendingListing)
	require.Equal(t, http.StatusOK, resp0.StatusCode)

	// The saga completes asynchronously: OrderCreated fans out, the payment
	// service charges, PaymentProcessed comes back and confirms the order.
	require.Eventually(t, func() bool {
		return orderStatus(s, created.OrderID) == domain.OrderStatusConfirmed
	}, 5*time.Second, 20*time.Millisecond)

	final := fetchOrder(t, s, created.OrderID)
	assert.Equal(t, domain.PaymentStatusCompleted, final.PaymentStatus)
	assert.NotEmpty(t, final.PaymentID)

	var pay struct {
		Data domain.Payment `json:"data"`
	}
	resp := doJSON(t, http.MethodGet, s.paymentSrv.URL+"/api/payments/"+created.OrderID, nil, &pay)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, domain.PaymentStatusCompleted, pay.Data.Status)
	assert.InDelta(t, created.TotalAmount, pay.Data.Amount, 1e-9)

	// The confirmation busted the listing cache, so the list reflects the
	// new status well before the page primed above would have expired.
	require.Eventually(t, func() bool {
		var listing struct {
			Data []domain.Order `json:"data"`
		}
		if err := getJSON(s.orderSrv.URL+"/api/orders?page=1&limit=10", &listing); err != nil {
			return false
		}
		return len(listing.Data) == 1 && listing.Data[0].Status == domain.OrderStatusConfirmed
	}, 5*time.Second, 20*time.Millisecond)
}

func TestSagaGatewayExhaustion(t *testing.T) {
	gw := &scriptedGateway{failures: 3}
	s := startStack(t, gw)

	created := createOrder(t, s)

	require.Eventually(t, func() bool {
		return orderStatus(s, created.OrderID) == domain.OrderStatusFailed
	}, 5*time.Second, 20*time.Millisecond)

	final := fetchOrder(t, s, created.OrderID)
	assert.Equal(t, domain.PaymentStatusFailed, final.PaymentStatus)
	assert.NotEmpty(t, final.Notes, "failure reason must reach the order")

	gw.mu.Lock()
	assert.Equal(t, 3, gw.charges)
	gw.mu.Unlock()

	// PaymentFailed went through the relay exactly once.
	var evs []struct {
		Type string `json:"type"`
	}
	resp := doJSON(t, http.MethodGet, s.relaySrv.URL+"/events", nil, &evs)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	failures := 0
	for _, ev := range evs {
		if ev.Type == string(domain.EventPaymentFailed) {
			failures++
		}
	}
	assert.Equal(t, 1, failures)
}

func TestRefundAfterConfirmedSaga(t *testing.T) {
	gw := &scriptedGateway{}
	s := startStack(t, gw)

	created := createOrder(t, s)
	require.Eventually(t, func() bool {
		return orderStatus(s, created.OrderID) == domain.OrderStatusConfirmed
	}, 5*time.Second, 20*time.Millisecond)

	final := fetchOrder(t, s, created.OrderID)

	var refunded struct {
		Data domain.Payment `json:"data"`
	}
	resp := doJSON(t, http.MethodPost, s.paymentSrv.URL+"/api/payments/"+final.PaymentID+"/refund", nil, &refunded)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, domain.PaymentStatusRefunded, refunded.Data.Status)
	assert.InDelta(t, created.TotalAmount, refunded.Data.RefundAmount, 1e-9)

	// Refunding twice is a conflict, not a second gateway call.
	resp = doJSON(t, http.MethodPost, s.paymentSrv.URL+"/api/payments/"+final.PaymentID+"/refund", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCancelBeforePaymentOutcome(t *testing.T) {
	// A gateway that blocks until released holds the saga open so the user
	// cancel lands first.
	release := make(chan struct{})
	gw := &blockingGateway{release: release}
	s := startStack(t, gw)

	created := createOrder(t, s)

	var cancelled struct {
		Data domain.Order `json:"data"`
	}
	resp := doJSON(t, http.MethodPut, s.orderSrv.URL+"/api/orders/"+created.OrderID+"/cancel", nil, &cancelled)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, domain.OrderStatusCancelled, cancelled.Data.Status)

	close(release)

	// Wait for the late PaymentProcessed to reach the relay log, then drain
	// its fan-out. The outcome must be dropped: the cancel stands.
	require.Eventually(t, func() bool {
		return relayHasEvent(s, domain.EventPaymentProcessed)
	}, 5*time.Second, 20*time.Millisecond)
	s.relay.Wait()

	assert.Equal(t, domain.OrderStatusCancelled, fetchOrder(t, s, created.OrderID).Status)
}

type blockingGateway struct {
	release chan struct{}
}

func (g *blockingGateway) Charge(ctx context.Context, _ payment.ChargeRequest) (*payment.ChargeResult, error) {
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &payment.ChargeResult{TransactionID: "txn_late", Status: "completed", ProcessedAt: time.Now().UTC()}, nil
}

func (g *blockingGateway) Refund(_ context.Context, _ string, amount float64) (*payment.RefundResult, error) {
	now := time.Now().UTC()
	return &payment.RefundResult{RefundID: "ref", RefundedAmount: amount, RefundedAt: now}, nil
}
