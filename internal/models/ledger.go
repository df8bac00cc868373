package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Database model
type Card struct {
	ID        string          `db:"id"`
	UserID    string          `db:"user_id"`
	Balance   decimal.Decimal `db:"balance"`
	UpdatedAt time.Time       `db:"updated_at"`
}

// Wallet is an organiser's payout wallet. Ticket revenue accrues here.
type Wallet struct {
	ID           string          `db:"id"`
	OrganiserID  string          `db:"organiser_id"`
	Balance      decimal.Decimal `db:"balance"`
	LastPayoutAt *time.Time      `db:"last_payout_at"`
	UpdatedAt    time.Time       `db:"updated_at"`
}

type Transaction struct {
	ID         string          `db:"id"`
	UserID     string          `db:"user_id"`
	CardID     *string         `db:"card_id"`
	Amount     decimal.Decimal `db:"amount"`
	Type       string          `db:"type"` // PENDING, PURCHASE, DEPOSIT, WITHDRAWAL, PAYOUT, REFUND, CANCEL
	CanceledAt *time.Time      `db:"canceled_at"`
	CreatedAt  time.Time       `db:"created_at"`
}

type Ticket struct {
	ID            string `db:"id"`
	EventID       string `db:"event_id"`
	SlotID        string `db:"slot_id"`
	UserID        string `db:"user_id"`
	TransactionID string `db:"transaction_id"`
	Quantity      int    `db:"quantity"`
}

// RefundChain is the ticket -> slot -> event -> organiser wallet path a refund walks.
type RefundChain struct {
	TicketID    string `db:"ticket_id"`
	SlotID      string `db:"slot_id"`
	Quantity    int    `db:"quantity"`
	EventID     string `db:"event_id"`
	OrganiserID string `db:"organiser_id"`
}

// Transaction type constants
const (
	TransactionTypePending    = "PENDING"
	TransactionTypePurchase   = "PURCHASE"
	TransactionTypeDeposit    = "DEPOSIT"
	TransactionTypeWithdrawal = "WITHDRAWAL"
	TransactionTypePayout     = "PAYOUT"
	TransactionTypeRefund     = "REFUND"
	TransactionTypeCancel     = "CANCEL"
)
