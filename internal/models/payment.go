package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle status of a payable order.
type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderPaid      OrderStatus = "PAID"
	OrderCancelled OrderStatus = "CANCELLED"
)

// TransactionStatus is the status of a payment attempt at the provider.
type TransactionStatus string

const (
	TransactionPending TransactionStatus = "PENDING"
	TransactionSuccess TransactionStatus = "SUCCESS"
	TransactionFailed  TransactionStatus = "FAILED"
)

// Order is a flat-fee payable for one verification request.
type Order struct {
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
	Amount         decimal.Decimal `json:"amount"`
	ID             string          `json:"id"`
	Currency       string          `json:"currency"`
	Status         OrderStatus     `json:"status"`
	UserID         string          `json:"userId"`
	VerificationID string          `json:"verificationId"`
}

// Transaction is one payment attempt against an order. Reference is the
// provider's transaction reference and the idempotency key for webhooks.
type Transaction struct {
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
	Amount    decimal.Decimal   `json:"amount"`
	ID        string            `json:"id"`
	Reference string            `json:"reference"`
	Status    TransactionStatus `json:"status"`
	OrderID   string            `json:"orderId"`
}

// OrderFilter narrows order listings.
type OrderFilter struct {
	Status OrderStatus
	UserID string
	Page   Page
}

// TransactionFilter narrows transaction listings.
type TransactionFilter struct {
	Status  TransactionStatus
	OrderID string
	UserID  string
	Search  string // case-insensitive reference substring
	Page    Page
}
