package lotto

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/pension720/backend/internal/models"
)

// TxnState is the explicit state machine for one purchase attempt.
type TxnState int

const (
	StateIdle TxnState = iota
	StateOrderRequested
	StateOrderConfirmed
	StatePurchaseCommitted
	StateFailed
)

func (s TxnState) String() string {
	switch s {
	case StateOrderRequested:
		return "ORDER_REQUESTED"
	case StateOrderConfirmed:
		return "ORDER_CONFIRMED"
	case StatePurchaseCommitted:
		return "PURCHASE_COMMITTED"
	case StateFailed:
		return "FAILED"
	default:
		return "IDLE"
	}
}

// Attempt tracks one run of the step sequence for one PurchaseIntent. It
// lives for the intent's lifetime only and is never persisted; an attempt
// that passed ORDER_REQUESTED without reaching a terminal state must be
// reconciled by the orchestrator before the account is considered free.
type Attempt struct {
	Intent    models.PurchaseIntent
	State     TxnState
	Round     int
	OrderNo   string
	OrderDate string

	// Decoded payloads per step, kept for diagnostics and reconciliation.
	Responses map[string]map[string]string

	saleCount   int
	saleTickets string
	failCount   int
	failTickets string
	deposit     int
}

// Groups returns the selected ticket groups: group 1 for a single ticket,
// groups 1..5 for the all-groups purchase.
func (a *Attempt) Groups() []int {
	if a.Intent.TicketCount >= 5 {
		return []int{1, 2, 3, 4, 5}
	}
	return []int{1}
}

// Driver executes the ordered, versioned purchase call sequence for one
// attempt against an authenticated session.
type Driver struct {
	client *Client
	def    Definition
}

// NewDriver binds a protocol definition to a session client.
func NewDriver(client *Client, def Definition) *Driver {
	return &Driver{client: client, def: def}
}

// Execute runs the full step sequence for one intent. The returned Attempt
// is always non-nil; on an ambiguous failure its state tells the caller
// whether a reconciliation read is required before the same intent may be
// retried.
func (d *Driver) Execute(ctx context.Context, intent models.PurchaseIntent) (*models.PurchaseOutcome, *Attempt, error) {
	att := &Attempt{
		Intent:    intent,
		State:     StateIdle,
		Responses: make(map[string]map[string]string),
	}

	if _, err := d.client.AcquireSession(ctx); err != nil {
		return nil, att, err
	}

	round, remain, err := d.client.RoundInfo(ctx)
	if err != nil {
		return nil, att, err
	}
	if round == 0 {
		return nil, att, fmt.Errorf("%w: round information unavailable", ErrProtocol)
	}
	if remain <= 0 {
		att.State = StateFailed
		return nil, att, NewProviderError(ErrPurchaseWindowClosed, "", "sales closed for the current round")
	}
	att.Round = round
	log.Printf("[PURCHASE][%s] round=%d remain=%ds count=%d token=%s",
		intent.Username, round, remain, intent.TicketCount, intent.Token)

	if err := d.runOrderStep(ctx, att); err != nil {
		return nil, att, err
	}
	if err := d.runConfirmStep(ctx, att); err != nil {
		return nil, att, err
	}
	if err := d.runCommitStep(ctx, att); err != nil {
		return nil, att, err
	}

	outcome := &models.PurchaseOutcome{
		Success:     true,
		RoundNo:     att.Round,
		Tickets:     att.saleTickets,
		TicketCount: att.saleCount,
		FailCount:   att.failCount,
		FailTickets: att.failTickets,
		Amount:      att.saleCount * ticketPrice,
		Deposit:     att.deposit,
		Token:       intent.Token,
		CompletedAt: time.Now(),
	}
	log.Printf("[PURCHASE][%s] committed: round=%d tickets=%d amount=%d",
		intent.Username, att.Round, att.saleCount, outcome.Amount)
	return outcome, att, nil
}

// runOrderStep obtains the order number. A failure here is never
// ambiguous: no purchase can have been committed without a confirm call.
func (d *Driver) runOrderStep(ctx context.Context, att *Attempt) error {
	step := d.def.Order
	fields, err := d.client.PostEncrypted(ctx, step.Path, step.Build(att))
	if err != nil {
		return err
	}
	att.Responses[step.Name] = fields

	if err := d.checkResultCode(att, step.Name, fields); err != nil {
		return err
	}

	orderNo := fields["orderNo"]
	if orderNo == "" {
		att.State = StateFailed
		return fmt.Errorf("%w: %s returned no order number", ErrProtocol, step.Name)
	}
	att.OrderNo = orderNo
	att.OrderDate = fields["orderDate"]
	att.State = StateOrderRequested
	log.Printf("[PURCHASE][%s] orderNo=%s", att.Intent.Username, orderNo)
	return nil
}

// runConfirmStep binds the order and issues the tickets. From the moment
// the request is on the wire, a lost response is ambiguous; an explicit
// session rejection is not, the request was refused before processing.
func (d *Driver) runConfirmStep(ctx context.Context, att *Attempt) error {
	step := d.def.Confirm
	fields, err := d.client.PostEncrypted(ctx, step.Path, step.Build(att))
	if err != nil {
		if errors.Is(err, ErrAuthenticationFailed) {
			return err
		}
		return fmt.Errorf("%w: %s step: %v", ErrAmbiguousOutcome, step.Name, err)
	}
	att.Responses[step.Name] = fields

	if err := d.checkResultCode(att, step.Name, fields); err != nil {
		return err
	}

	att.saleCount = atoiOr(fields["saleCnt"], att.Intent.TicketCount)
	att.saleTickets = fields["saleTicket"]
	att.failCount = atoiOr(fields["failCnt"], 0)
	att.failTickets = fields["failTicket"]
	att.State = StateOrderConfirmed

	if att.failCount > 0 {
		log.Printf("[PURCHASE][%s] partial issue: %d failed (%s)",
			att.Intent.Username, att.failCount, att.failTickets)
	}
	return nil
}

// runCommitStep reads the remaining deposit after the tickets have been
// issued. The sale is already final once the confirm step answered, so a
// failure here only loses the deposit figure; it never fails the purchase.
// The endpoint stays pluggable through the Definition.
func (d *Driver) runCommitStep(ctx context.Context, att *Attempt) error {
	step := d.def.Commit
	fields, err := d.client.PostEncrypted(ctx, step.Path, step.Build(att))
	if err != nil {
		log.Printf("[PURCHASE][%s] %s step failed after issue, deposit unknown: %v",
			att.Intent.Username, step.Name, err)
		att.State = StatePurchaseCommitted
		return nil
	}
	att.Responses[step.Name] = fields

	switch d.def.Classify(fields["resultCode"]) {
	case ClassSuccess, ClassPartial:
		att.deposit = atoiOr(fields["deposit"], 0)
	default:
		log.Printf("[PURCHASE][%s] %s step reported code %q after issue, deposit unknown",
			att.Intent.Username, step.Name, fields["resultCode"])
	}
	att.State = StatePurchaseCommitted
	return nil
}

// checkResultCode applies the protocol definition's code table. A
// non-success code at any step is terminal for the attempt; there is no
// server-side compensating action to run.
func (d *Driver) checkResultCode(att *Attempt, stepName string, fields map[string]string) error {
	code := fields["resultCode"]
	switch d.def.Classify(code) {
	case ClassSuccess, ClassPartial:
		return nil
	case ClassInsufficientFunds:
		att.State = StateFailed
		return NewProviderError(ErrInsufficientFunds, code, "잔액 부족")
	case ClassWindowClosed:
		att.State = StateFailed
		return NewProviderError(ErrPurchaseWindowClosed, code, fields["resultMsg"])
	case ClassAllFailed:
		att.State = StateFailed
		return NewProviderError(ErrPurchaseRejected, code, fields["failTicket"])
	default:
		att.State = StateFailed
		return NewProviderError(ErrProtocol, code,
			fmt.Sprintf("unrecognized result code at %s step", stepName))
	}
}

func atoiOr(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}
