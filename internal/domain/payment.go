package domain

import (
	"encoding/json"
	"time"
)

type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusCompleted  PaymentStatus = "completed"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusRefunded   PaymentStatus = "refunded"
)

type Payment struct {
	PaymentID     string        `json:"payment_id" dynamodbav:"payment_id"`
	OrderID       string        `json:"order_id" dynamodbav:"order_id"`
	UserID        string        `json:"user_id" dynamodbav:"user_id"`
	Amount        float64       `json:"amount" dynamodbav:"amount"`
	Currency      string        `json:"currency" dynamodbav:"currency"`
	Status        PaymentStatus `json:"status" dynamodbav:"status"`
	PaymentMethod string        `json:"payment_method" dynamodbav:"payment_method"`
	TransactionID string        `json:"transaction_id,omitempty" dynamodbav:"transaction_id"`
	// GatewayResponse holds the raw gateway reply for audit; the service never
	// reads it back.
	GatewayResponse json.RawMessage `json:"gateway_response,omitempty" dynamodbav:"gateway_response"`
	FailureReason   string          `json:"failure_reason,omitempty" dynamodbav:"failure_reason"`
	RefundAmount    float64         `json:"refund_amount,omitempty" dynamodbav:"refund_amount"`
	RefundedAt      *time.Time      `json:"refunded_at,omitempty" dynamodbav:"refunded_at"`
	// Version guards concurrent writers, same compare-and-swap discipline
	// as Order.
	Version   int64     `json:"version" dynamodbav:"version"`
	CreatedAt time.Time `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt time.Time `json:"updated_at" dynamodbav:"updated_at"`
}

type ProcessPaymentRequest struct {
	OrderID       string  `json:"order_id" binding:"required"`
	UserID        string  `json:"user_id"`
	Amount        float64 `json:"amount" binding:"required,gt=0"`
	PaymentMethod string  `json:"payment_method"`
}
