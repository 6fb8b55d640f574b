package domain

import (
	"encoding/json"
	"time"
)

type EventType string

// Closed set of event types carried by the relay. InventoryReserved and
// InventoryReleased are part of the schema but no participant emits or
// consumes them yet.
const (
	EventOrderCreated      EventType = "OrderCreated"
	EventOrderUpdated      EventType = "OrderUpdated"
	EventOrderCancelled    EventType = "OrderCancelled"
	EventPaymentProcessed  EventType = "PaymentProcessed"
	EventPaymentFailed     EventType = "PaymentFailed"
	EventPaymentRefunded   EventType = "PaymentRefunded"
	EventInventoryReserved EventType = "InventoryReserved"
	EventInventoryReleased EventType = "InventoryReleased"
)

func (t EventType) Valid() bool {
	switch t {
	case EventOrderCreated, EventOrderUpdated, EventOrderCancelled,
		EventPaymentProcessed, EventPaymentFailed, EventPaymentRefunded,
		EventInventoryReserved, EventInventoryReleased:
		return true
	}
	return false
}

// Event is the relay's envelope. Sequence is assigned by the relay's log on
// acceptance; events are immutable once appended.
type Event struct {
	Sequence  int64           `json:"id"`
	Type      EventType       `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// Payloads exchanged between the saga participants.

type OrderCreatedData struct {
	OrderID     string      `json:"orderId"`
	UserID      string      `json:"userId"`
	Items       []OrderItem `json:"items"`
	TotalAmount float64     `json:"totalAmount"`
}

type OrderUpdatedData struct {
	OrderID       string        `json:"orderId"`
	Status        OrderStatus   `json:"status"`
	PaymentStatus PaymentStatus `json:"paymentStatus"`
}

type OrderCancelledData struct {
	OrderID string      `json:"orderId"`
	Items   []OrderItem `json:"items"`
}

type PaymentProcessedData struct {
	OrderID       string  `json:"orderId"`
	PaymentID     string  `json:"paymentId"`
	TransactionID string  `json:"transactionId"`
	Amount        float64 `json:"amount"`
}

type PaymentFailedData struct {
	OrderID   string `json:"orderId"`
	PaymentID string `json:"paymentId"`
	Reason    string `json:"reason"`
}

type PaymentRefundedData struct {
	OrderID      string  `json:"orderId"`
	PaymentID    string  `json:"paymentId"`
	RefundAmount float64 `json:"refundAmount"`
}
