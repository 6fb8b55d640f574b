package domain

import (
	"time"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusFailed     OrderStatus = "failed"
)

// Cancellable reports whether a user cancel is legal from this status.
func (s OrderStatus) Cancellable() bool {
	return s == OrderStatusPending || s == OrderStatusConfirmed
}

type Order struct {
	OrderID         string        `json:"order_id" dynamodbav:"order_id"`
	UserID          string        `json:"user_id" dynamodbav:"user_id"`
	Items           []OrderItem   `json:"items" dynamodbav:"items"`
	TotalAmount     float64       `json:"total_amount" dynamodbav:"total_amount"`
	Status          OrderStatus   `json:"status" dynamodbav:"status"`
	PaymentStatus   PaymentStatus `json:"payment_status" dynamodbav:"payment_status"`
	PaymentID       string        `json:"payment_id,omitempty" dynamodbav:"payment_id"`
	ShippingAddress Address       `json:"shipping_address" dynamodbav:"shipping_address"`
	TrackingNumber  string        `json:"tracking_number,omitempty" dynamodbav:"tracking_number"`
	Notes           string        `json:"notes,omitempty" dynamodbav:"notes"`
	// Version guards concurrent writers: every update is a compare-and-swap.
	Version      int64     `json:"version" dynamodbav:"version"`
	SagaDeadline time.Time `json:"saga_deadline" dynamodbav:"saga_deadline"`
	SagaRetries  int       `json:"saga_retries" dynamodbav:"saga_retries"`
	CreatedAt    time.Time `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" dynamodbav:"updated_at"`
}

// OrderItem is a value snapshot taken at order creation. Price and name are
// copied from the catalog and never re-read afterwards.
type OrderItem struct {
	ProductID   string  `json:"product_id" dynamodbav:"product_id"`
	ProductName string  `json:"product_name" dynamodbav:"product_name"`
	Price       float64 `json:"price" dynamodbav:"price"`
	Quantity    int     `json:"quantity" dynamodbav:"quantity"`
}

type Address struct {
	Street  string `json:"street" dynamodbav:"street"`
	City    string `json:"city" dynamodbav:"city"`
	State   string `json:"state" dynamodbav:"state"`
	ZipCode string `json:"zip_code" dynamodbav:"zip_code"`
	Country string `json:"country" dynamodbav:"country"`
}

type CreateOrderRequest struct {
	Items           []CreateOrderItem `json:"items" binding:"required,min=1,dive"`
	ShippingAddress Address           `json:"shipping_address" binding:"required"`
}

type CreateOrderItem struct {
	ProductID string `json:"product_id" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,min=1"`
}

type OrderPage struct {
	Orders     []Order    `json:"orders"`
	Pagination Pagination `json:"pagination"`
}

type Pagination struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
	Total    int `json:"total"`
	Pages    int `json:"pages"`
}
