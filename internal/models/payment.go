package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	StatusPending    PaymentStatus = "PENDING"
	StatusSuccessful PaymentStatus = "SUCCESSFUL"
	StatusFailed     PaymentStatus = "FAILED"
)

// Code maps a settlement status to its gateway status code. The code is
// returned both in the creation response and in later status queries.
func (s PaymentStatus) Code() int {
	switch s {
	case StatusPending:
		return 100
	case StatusSuccessful:
		return 200
	case StatusFailed:
		return 400
	}
	return 0
}

// Message renders the human-readable status line. For FAILED the error
// detail is appended after a space, matching the gateway's wire format.
func (s PaymentStatus) Message(errorMessage string) string {
	switch s {
	case StatusPending:
		return "Transaction Pending"
	case StatusSuccessful:
		return "Transaction successfully processed"
	case StatusFailed:
		return "Transaction failed " + errorMessage
	}
	return ""
}

// Direction classifies a payment relative to the viewing user. The same
// payment is OUTGOING for the payer and INCOMING for the payee, so it is
// always computed at read time and never stored per row.
type Direction string

const (
	DirectionOutgoing Direction = "OUTGOING"
	DirectionIncoming Direction = "INCOMING"
)

// Payment is one payment attempt. Payer and Payee hold the external account
// numbers as submitted; PayerID/PayeeID link the resolved accounts. The
// record is owned by the payer's user (UserID == PayerID).
type Payment struct {
	ID             uuid.UUID       `json:"id"`
	TransactionRef string          `json:"transaction_ref"`
	Payer          string          `json:"payer"`
	Payee          string          `json:"payee"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	PayerReference string          `json:"payer_reference,omitempty"`
	Status         PaymentStatus   `json:"status"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	UserID         uuid.UUID       `json:"user_id"`
	PayerID        uuid.UUID       `json:"payer_id"`
	PayeeID        uuid.UUID       `json:"payee_id"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`

	// First names of the linked accounts, populated by listing queries.
	PayerName string `json:"payer_name,omitempty"`
	PayeeName string `json:"payee_name,omitempty"`
}

// StatusSummary is the derived status view held in the status cache and
// returned by status queries.
type StatusSummary struct {
	Status       PaymentStatus `json:"status"`
	StatusCode   int           `json:"statusCode"`
	Message      string        `json:"message"`
	ErrorMessage string        `json:"errorMessage,omitempty"`
}

// Summarize derives the cacheable status view of a payment.
func (p *Payment) Summarize() StatusSummary {
	return StatusSummary{
		Status:       p.Status,
		StatusCode:   p.Status.Code(),
		Message:      p.Status.Message(p.ErrorMessage),
		ErrorMessage: p.ErrorMessage,
	}
}
