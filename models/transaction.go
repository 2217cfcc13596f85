package models

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction records one gateway notification. The PayU transaction id is
// the idempotency key: redelivery of the same event updates the same row.
type Transaction struct {
	ID                int             `json:"id"`
	OrderID           sql.NullInt64   `json:"order_id"`
	PayUTransactionID string          `json:"payu_transaction_id"`
	StatePol          string          `json:"state_pol"`
	ResponseMessage   string          `json:"response_message"`
	PaymentMethod     string          `json:"payment_method"`
	Value             decimal.Decimal `json:"value"`
	Currency          string          `json:"currency"`
	CreatedAt         time.Time       `json:"created_at"`
}

// ConfirmationNotice is the typed form of the gateway's server-to-server
// confirmation callback. Every field below participates in signature
// verification, so a payload missing any of them cannot be authenticated
// and is rejected up front.
type ConfirmationNotice struct {
	MerchantID      string `form:"merchant_id" binding:"required"`
	ReferenceSale   string `form:"reference_sale" binding:"required"`
	Value           string `form:"value" binding:"required"`
	Currency        string `form:"currency" binding:"required"`
	StatePol        string `form:"state_pol" binding:"required"`
	Sign            string `form:"sign" binding:"required"`
	TransactionID   string `form:"transaction_id" binding:"required"`
	ResponseMessage string `form:"response_message_pol"`
	PaymentMethod   string `form:"payment_method_name"`
}

// PaymentEvent is published to Kafka after a confirmation settles an order.
type PaymentEvent struct {
	OrderID       int    `json:"order_id"`
	TransactionID string `json:"transaction_id"`
	StatePol      string `json:"state_pol"`
	Status        string `json:"status"`
	Value         string `json:"value"`
	Currency      string `json:"currency"`
	EventType     string `json:"event_type"` // payment_approved, payment_declined
}
