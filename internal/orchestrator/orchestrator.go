package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/pension720/backend/internal/cache"
	"github.com/pension720/backend/internal/lotto"
	"github.com/pension720/backend/internal/models"
)

const (
	// maxPurchaseRetries bounds the transient-error retry loop for one
	// intent. Exhaustion surfaces the last error unchanged.
	maxPurchaseRetries = 3

	retryInitialInterval = 500 * time.Millisecond
	retryMaxInterval     = 5 * time.Second

	// outcomeRegistrySize bounds the per-account idempotency registry.
	// Oldest tokens are evicted first.
	outcomeRegistrySize = 100
)

// ErrUnknownAccount marks a username that is not in the configuration.
var ErrUnknownAccount = errors.New("unknown account")

// purchaseRecord is the terminal result recorded under an intent token:
// either a committed outcome or a definite failure. Retryable failures are
// never recorded, a duplicate token may re-run those.
type purchaseRecord struct {
	outcome *models.PurchaseOutcome
	err     error
}

// accountRuntime is everything the orchestrator holds for one account. The
// mutex is the account's exclusive purchase lock: at most one purchase
// transaction runs per account, and refreshes serialize behind it.
type accountRuntime struct {
	account models.Account
	client  *lotto.Client
	driver  *lotto.Driver

	mu sync.Mutex

	recordMu sync.Mutex
	records  map[string]purchaseRecord
	tokenAge []string
}

func (rt *accountRuntime) record(token string, outcome *models.PurchaseOutcome, err error) {
	if token == "" {
		return
	}
	rt.recordMu.Lock()
	defer rt.recordMu.Unlock()
	if _, exists := rt.records[token]; !exists {
		rt.tokenAge = append(rt.tokenAge, token)
		if len(rt.tokenAge) > outcomeRegistrySize {
			delete(rt.records, rt.tokenAge[0])
			rt.tokenAge = rt.tokenAge[1:]
		}
	}
	rt.records[token] = purchaseRecord{outcome: outcome, err: err}
}

func (rt *accountRuntime) lookup(token string) (purchaseRecord, bool) {
	if token == "" {
		return purchaseRecord{}, false
	}
	rt.recordMu.Lock()
	defer rt.recordMu.Unlock()
	rec, ok := rt.records[token]
	return rec, ok
}

// Orchestrator routes purchase and query operations to per-account
// runtimes, enforcing the one-purchase-per-account invariant and feeding
// results into the shared cache.
type Orchestrator struct {
	runtimes map[string]*accountRuntime
	store    *cache.Store
}

// New builds the orchestrator. Disabled accounts still get a runtime so
// that queries can report AccountDisabled instead of not-found.
func New(accounts []models.Account, clientCfg lotto.Config, def lotto.Definition, store *cache.Store) *Orchestrator {
	runtimes := make(map[string]*accountRuntime, len(accounts))
	for _, acct := range accounts {
		client := lotto.NewClient(acct, clientCfg)
		runtimes[acct.Username] = &accountRuntime{
			account: acct,
			client:  client,
			driver:  lotto.NewDriver(client, def),
			records: make(map[string]purchaseRecord),
		}
	}
	return &Orchestrator{runtimes: runtimes, store: store}
}

// Usernames lists the configured accounts in stable order.
func (o *Orchestrator) Usernames() []string {
	names := make([]string, 0, len(o.runtimes))
	for name := range o.runtimes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AccountStatus is the per-account view exposed on the query surface.
type AccountStatus struct {
	Username   string `json:"username"`
	Enabled    bool   `json:"enabled"`
	State      string `json:"state"`
	LoginError string `json:"login_error,omitempty"`
}

// Statuses reports every configured account's session state.
func (o *Orchestrator) Statuses() []AccountStatus {
	statuses := make([]AccountStatus, 0, len(o.runtimes))
	for _, name := range o.Usernames() {
		rt := o.runtimes[name]
		statuses = append(statuses, AccountStatus{
			Username:   name,
			Enabled:    rt.account.Enabled,
			State:      rt.client.State().String(),
			LoginError: rt.client.LoginError(),
		})
	}
	return statuses
}

func (o *Orchestrator) runtime(username string) (*accountRuntime, error) {
	rt, ok := o.runtimes[username]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAccount, username)
	}
	return rt, nil
}

// Purchase runs one purchase transaction for the account. count must be 1
// or 5; token identifies the intent for idempotent replay and is generated
// when empty. A second purchase arriving while one is in flight is rejected
// immediately with Busy.
func (o *Orchestrator) Purchase(ctx context.Context, username string, count int, token string) (*models.PurchaseOutcome, error) {
	rt, err := o.runtime(username)
	if err != nil {
		return nil, err
	}
	if !rt.account.Enabled {
		return nil, lotto.NewProviderError(lotto.ErrAccountDisabled, "", "account disabled in configuration")
	}
	if count != 1 && count != 5 {
		return nil, fmt.Errorf("%w: ticket count must be 1 or 5, got %d", lotto.ErrProtocol, count)
	}
	if token == "" {
		token = uuid.NewString()
	}

	// Duplicate intents replay the recorded terminal result without
	// touching the remote side.
	if rec, ok := rt.lookup(token); ok {
		log.Printf("[ORCH][%s] replaying recorded result for token=%s", username, token)
		return rec.outcome, rec.err
	}

	if !rt.mu.TryLock() {
		return nil, lotto.NewProviderError(lotto.ErrBusy, "", "a purchase is already in flight")
	}
	defer rt.mu.Unlock()

	// Re-check under the lock: the token may have been recorded by the
	// purchase we were racing with.
	if rec, ok := rt.lookup(token); ok {
		return rec.outcome, rec.err
	}

	intent := models.PurchaseIntent{
		Username:    username,
		TicketCount: count,
		Token:       token,
	}

	// Ledger snapshot taken before anything goes on the wire. If the
	// attempt turns ambiguous, only an entry absent from this snapshot
	// counts as evidence that this attempt committed.
	prior, err := rt.client.BuyHistory(ctx)
	if err != nil {
		o.store.SetLoginError(ctx, username, lotto.KindString(err)+": "+err.Error())
		return nil, err
	}

	outcome, err := o.executeWithRetry(ctx, rt, intent, prior)
	if err != nil {
		if isTerminalFailure(err) {
			rt.record(token, nil, err)
		}
		o.store.SetLoginError(ctx, username, lotto.KindString(err)+": "+err.Error())
		return nil, err
	}

	rt.record(token, outcome, nil)
	o.store.SetLoginError(ctx, username, "")
	o.recordSuccess(ctx, rt, outcome)
	return outcome, nil
}

// isTerminalFailure reports whether a failed attempt is final for its
// intent token. Retryable conditions stay unrecorded so the same token may
// legitimately try again.
func isTerminalFailure(err error) bool {
	switch {
	case errors.Is(err, lotto.ErrTransientNetwork),
		errors.Is(err, lotto.ErrAmbiguousOutcome),
		errors.Is(err, lotto.ErrAuthenticationFailed),
		errors.Is(err, lotto.ErrAccountLocked):
		return false
	}
	return true
}

// executeWithRetry drives the attempt loop: transient failures before the
// confirm step retry with backoff, one expired-session retry re-logs in,
// ambiguous failures resolve through a ledger read before anything else.
func (o *Orchestrator) executeWithRetry(ctx context.Context, rt *accountRuntime, intent models.PurchaseIntent, prior []models.HistoryEntry) (*models.PurchaseOutcome, error) {
	policy := backoff.WithContext(backoff.WithMaxRetries(&backoff.ExponentialBackOff{
		InitialInterval:     retryInitialInterval,
		MaxInterval:         retryMaxInterval,
		Multiplier:          2,
		RandomizationFactor: 0.2,
		MaxElapsedTime:      0,
		Clock:               backoff.SystemClock,
		Stop:                backoff.Stop,
	}, maxPurchaseRetries), ctx)
	policy.Reset()

	var (
		outcome      *models.PurchaseOutcome
		authRetried  bool
		lastAttempt  *lotto.Attempt
		attemptIndex int
	)
	operation := func() error {
		attemptIndex++
		var err error
		outcome, lastAttempt, err = rt.driver.Execute(ctx, intent)
		if err == nil {
			return nil
		}

		switch {
		case errors.Is(err, lotto.ErrAmbiguousOutcome):
			// Never blind-retry past this point; resolve first.
			return backoff.Permanent(err)
		case errors.Is(err, lotto.ErrAuthenticationFailed) && !authRetried:
			// One free retry after a session expiry mid-sequence.
			authRetried = true
			rt.client.Invalidate()
			log.Printf("[ORCH][%s] session expired mid-transaction, retrying once", intent.Username)
			return err
		case errors.Is(err, lotto.ErrTransientNetwork):
			log.Printf("[ORCH][%s] transient failure on attempt %d: %v", intent.Username, attemptIndex, err)
			return err
		default:
			return backoff.Permanent(err)
		}
	}

	err := backoff.Retry(operation, policy)
	if err == nil {
		return outcome, nil
	}
	if errors.Is(err, lotto.ErrAmbiguousOutcome) {
		return o.reconcile(ctx, rt, intent, lastAttempt, prior, err)
	}
	return nil, err
}

// reconcile resolves an ambiguous attempt by re-reading the purchase
// ledger: only an entry for this round and count that was NOT in the
// pre-attempt snapshot proves this attempt committed; an entry that
// already existed belongs to an earlier purchase. It runs on a detached
// context so a caller timeout that caused the ambiguity cannot also abort
// the resolution; the account lock is held throughout.
func (o *Orchestrator) reconcile(ctx context.Context, rt *accountRuntime, intent models.PurchaseIntent, att *lotto.Attempt, prior []models.HistoryEntry, cause error) (*models.PurchaseOutcome, error) {
	log.Printf("[ORCH][%s] ambiguous outcome, reconciling via ledger: %v", intent.Username, cause)

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	entries, err := rt.client.BuyHistory(rctx)
	if err != nil {
		return nil, fmt.Errorf("%w: reconciliation read failed: %v", lotto.ErrAmbiguousOutcome, err)
	}

	known := make(map[string]bool, len(prior))
	for _, entry := range prior {
		known[entry.Barcode] = true
	}

	for _, entry := range entries {
		if att == nil || entry.RoundNo != att.Round || entry.TicketCount != intent.TicketCount {
			continue
		}
		if known[entry.Barcode] {
			continue
		}
		log.Printf("[ORCH][%s] reconciliation: purchase was committed remotely (round=%d barcode=%s)",
			intent.Username, entry.RoundNo, entry.Barcode)
		return &models.PurchaseOutcome{
			Success:     true,
			RoundNo:     entry.RoundNo,
			Tickets:     entry.Barcode,
			TicketCount: entry.TicketCount,
			Amount:      entry.Amount,
			Token:       intent.Token,
			CompletedAt: time.Now(),
		}, nil
	}

	log.Printf("[ORCH][%s] reconciliation: no new ledger entry, purchase did not commit", intent.Username)
	return nil, lotto.NewProviderError(lotto.ErrTransientNetwork, "",
		"purchase interrupted before commit; safe to retry")
}

// recordSuccess pushes the fresh outcome into the cache and refreshes the
// balance snapshot so the query surface reflects the spend immediately.
func (o *Orchestrator) recordSuccess(ctx context.Context, rt *accountRuntime, outcome *models.PurchaseOutcome) {
	o.store.AppendHistory(ctx, rt.account.Username, models.HistoryEntry{
		RoundNo:     outcome.RoundNo,
		IssueDt:     outcome.CompletedAt.Format("2006-01-02 15:04:05"),
		Barcode:     outcome.Tickets,
		TicketCount: outcome.TicketCount,
		Amount:      outcome.Amount,
		Result:      "미추첨",
	})

	snap, err := rt.client.Balance(ctx)
	if err != nil {
		// Fall back to the deposit the commit step reported, or subtract
		// the spend from the last snapshot.
		if outcome.Deposit > 0 {
			snap = models.BalanceSnapshot{
				Deposit:           outcome.Deposit,
				PurchaseAvailable: outcome.Deposit,
				FetchedAt:         time.Now(),
			}
		} else if prev, ok := o.store.Balance(ctx, rt.account.Username); ok {
			snap = models.BalanceSnapshot{
				Deposit:           prev.Deposit - outcome.Amount,
				PurchaseAvailable: prev.PurchaseAvailable - outcome.Amount,
				FetchedAt:         time.Now(),
			}
		} else {
			log.Printf("[ORCH][%s] balance refresh after purchase failed: %v", rt.account.Username, err)
			return
		}
	}
	o.store.SetBalance(ctx, rt.account.Username, snap)
}

// Balance returns a fresh balance snapshot, serialized behind any running
// purchase, and records it in the cache.
func (o *Orchestrator) Balance(ctx context.Context, username string) (models.BalanceSnapshot, error) {
	rt, err := o.runtime(username)
	if err != nil {
		return models.BalanceSnapshot{}, err
	}
	if !rt.account.Enabled {
		return models.BalanceSnapshot{}, lotto.NewProviderError(lotto.ErrAccountDisabled, "", "account disabled in configuration")
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	snap, err := rt.client.Balance(ctx)
	if err != nil {
		o.store.SetLoginError(ctx, username, lotto.KindString(err)+": "+err.Error())
		return models.BalanceSnapshot{}, err
	}
	o.store.SetBalance(ctx, username, snap)
	o.store.SetLoginError(ctx, username, "")
	return snap, nil
}

// CachedBalance serves the last known snapshot without touching the remote
// side.
func (o *Orchestrator) CachedBalance(ctx context.Context, username string) (models.BalanceSnapshot, bool, error) {
	if _, err := o.runtime(username); err != nil {
		return models.BalanceSnapshot{}, false, err
	}
	snap, ok := o.store.Balance(ctx, username)
	return snap, ok, nil
}

// History returns the purchase ledger for the account, refreshing the
// cache from the remote side when possible and falling back to the cache.
func (o *Orchestrator) History(ctx context.Context, username string) ([]models.HistoryEntry, error) {
	rt, err := o.runtime(username)
	if err != nil {
		return nil, err
	}
	if !rt.account.Enabled {
		return o.store.History(ctx, username), nil
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	entries, err := rt.client.BuyHistory(ctx)
	if err != nil {
		log.Printf("[ORCH][%s] ledger read failed, serving cache: %v", username, err)
		if cached := o.store.History(ctx, username); cached != nil {
			return cached, nil
		}
		return nil, err
	}
	o.store.ReplaceHistory(ctx, username, entries)
	return entries, nil
}

// RefreshAccount pulls a fresh balance for one account into the cache.
// Used by the periodic refresh loop; failures are recorded as the
// account's login error and returned.
func (o *Orchestrator) RefreshAccount(ctx context.Context, username string) error {
	rt, err := o.runtime(username)
	if err != nil {
		return err
	}
	if !rt.account.Enabled {
		return nil
	}
	_, err = o.Balance(ctx, username)
	if err != nil {
		log.Printf("[REFRESH][%s] %v", username, err)
	}
	return err
}

// RefreshAll refreshes every enabled account sequentially.
func (o *Orchestrator) RefreshAll(ctx context.Context) {
	for _, name := range o.Usernames() {
		if ctx.Err() != nil {
			return
		}
		_ = o.RefreshAccount(ctx, name)
	}
}
