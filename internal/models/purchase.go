package models

import (
	"time"
)

// PurchaseIntent is one logical request to buy tickets. The token is the
// idempotency key: two intents carrying the same token must never produce
// two recorded outcomes.
type PurchaseIntent struct {
	Username    string `json:"username" validate:"required"`
	TicketCount int    `json:"ticketCount" validate:"required,oneof=1 5"`
	Token       string `json:"token" validate:"required"`
}

// BalanceSnapshot is the latest known deposit state for an account.
// Last write wins, no history is kept.
type BalanceSnapshot struct {
	Deposit           int       `json:"deposit"`
	PurchaseAvailable int       `json:"purchaseAvailable"`
	FetchedAt         time.Time `json:"fetchedAt"`
}

// PurchaseOutcome is the terminal result of one PurchaseIntent, success or
// failure. Failures carry the provider code/message when the remote side
// supplied one.
type PurchaseOutcome struct {
	Success     bool      `json:"success"`
	RoundNo     int       `json:"roundNo,omitempty"`
	Tickets     string    `json:"tickets,omitempty"`
	TicketCount int       `json:"ticketCount,omitempty"`
	FailCount   int       `json:"failCount,omitempty"`
	FailTickets string    `json:"failTickets,omitempty"`
	Amount      int       `json:"amount,omitempty"`
	Deposit     int       `json:"deposit,omitempty"`
	ErrorKind   string    `json:"errorKind,omitempty"`
	Code        string    `json:"code,omitempty"`
	Message     string    `json:"message,omitempty"`
	Token       string    `json:"token"`
	CompletedAt time.Time `json:"completedAt"`
}

// HistoryEntry is one row of the account's purchase ledger as reported by
// the lottery site.
type HistoryEntry struct {
	RoundNo     int    `json:"roundNo"`
	IssueDt     string `json:"issueDt"`
	Barcode     string `json:"barcode"`
	TicketCount int    `json:"ticketCount"`
	Amount      int    `json:"amount"`
	Result      string `json:"result"`
}
