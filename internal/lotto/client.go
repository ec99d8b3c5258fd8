package lotto

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/big"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pension720/backend/internal/models"
)

// Production endpoints. Overridable through Config for tests.
const (
	DefaultBaseURL = "https://dhlottery.co.kr"
	DefaultGameURL = "https://el.dhlottery.co.kr"

	loginRSAModulusPath = "/login/selectRsaModulus.do"
	loginCheckPath      = "/login/securityLoginCheck.do"
	gameSessionPath     = "/game/pension720/game.jsp"
	balancePath         = "/selectCrntEntrsAmt.do"
	roundInfoPath       = "/roundRemainTime.do"
	historyPath         = "/mypage/selectMyLotteryledger.do"

	productCodePension720 = "P720"
	historyWindowDays     = 7
)

// SessionState is the per-account login state machine.
type SessionState int

const (
	LoggedOut SessionState = iota
	LoggingIn
	LoggedIn
	LockedOut
)

func (s SessionState) String() string {
	switch s {
	case LoggingIn:
		return "LOGGING_IN"
	case LoggedIn:
		return "LOGGED_IN"
	case LockedOut:
		return "LOCKED_OUT"
	default:
		return "LOGGED_OUT"
	}
}

// Config tunes a session client.
type Config struct {
	BaseURL          string
	GameURL          string
	LockoutThreshold int
	LockoutCooldown  time.Duration
	SessionMaxAge    time.Duration
	HTTPTimeout      time.Duration
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.GameURL == "" {
		c.GameURL = DefaultGameURL
	}
	if c.LockoutThreshold <= 0 {
		c.LockoutThreshold = 5
	}
	if c.LockoutCooldown <= 0 {
		c.LockoutCooldown = 30 * time.Minute
	}
	if c.SessionMaxAge <= 0 {
		c.SessionMaxAge = 30 * time.Minute
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 60 * time.Second
	}
	return c
}

// Client owns one authenticated lottery-site session for one account.
// All session mutation happens under the account's exclusive lock upstream;
// the internal mutex only guards the login state machine so that health
// reads never observe a half-updated session.
type Client struct {
	account models.Account
	cfg     Config
	http    *http.Client

	mu            sync.Mutex
	state         SessionState
	sessionID     string // game host JSESSIONID
	sessionAt     time.Time
	loginFailures int
	lockedUntil   time.Time
	lastError     string
}

// NewClient builds a session client for one account.
func NewClient(account models.Account, cfg Config) *Client {
	cfg = cfg.withDefaults()
	jar, _ := cookiejar.New(nil)
	return &Client{
		account: account,
		cfg:     cfg,
		http: &http.Client{
			Timeout: cfg.HTTPTimeout,
			Jar:     jar,
		},
	}
}

// Username returns the account identity this client serves.
func (c *Client) Username() string { return c.account.Username }

// State reports the current login state.
func (c *Client) State() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentState()
}

// LoginError returns the last recorded login failure, empty when healthy.
func (c *Client) LoginError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

// currentState folds an expired lockout back to LOGGED_OUT. Callers hold mu.
func (c *Client) currentState() SessionState {
	if c.state == LockedOut && time.Now().After(c.lockedUntil) {
		c.state = LoggedOut
		c.loginFailures = 0
	}
	return c.state
}

// Invalidate marks the session stale. The next AcquireSession performs a
// full re-login.
func (c *Client) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == LoggedIn {
		c.state = LoggedOut
	}
	c.sessionID = ""
}

// AcquireSession returns the game-host session identifier, logging in first
// when no fresh session exists. During an active lockout it fails with
// ErrAccountLocked without contacting the remote side.
func (c *Client) AcquireSession(ctx context.Context) (string, error) {
	c.mu.Lock()
	switch c.currentState() {
	case LockedOut:
		until := c.lockedUntil
		c.mu.Unlock()
		return "", NewProviderError(ErrAccountLocked, "",
			fmt.Sprintf("login suppressed until %s", until.Format(time.RFC3339)))
	case LoggedIn:
		// Sessions past their max age are re-established rather than
		// risking a mid-transaction expiry.
		if c.sessionID != "" && time.Since(c.sessionAt) < c.cfg.SessionMaxAge {
			id := c.sessionID
			c.mu.Unlock()
			return id, nil
		}
	}
	c.state = LoggingIn
	c.mu.Unlock()

	if err := c.login(ctx); err != nil {
		c.recordLoginFailure(err)
		return "", err
	}

	id, err := c.ensureGameSession(ctx)
	if err != nil {
		c.recordLoginFailure(err)
		return "", err
	}

	c.mu.Lock()
	c.state = LoggedIn
	c.sessionID = id
	c.sessionAt = time.Now()
	c.loginFailures = 0
	c.lastError = ""
	c.mu.Unlock()
	log.Printf("[SESSION][%s] login successful", c.account.Username)
	return id, nil
}

func (c *Client) recordLoginFailure(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = ""
	c.lastError = cause.Error()

	// Only credential rejections count toward the lockout threshold; a
	// network blip must not lock the account.
	if !errors.Is(cause, ErrAuthenticationFailed) {
		c.state = LoggedOut
		return
	}
	c.loginFailures++
	if c.loginFailures >= c.cfg.LockoutThreshold {
		c.state = LockedOut
		c.lockedUntil = time.Now().Add(c.cfg.LockoutCooldown)
		log.Printf("[SESSION][%s] %d consecutive login failures, locked out until %s",
			c.account.Username, c.loginFailures, c.lockedUntil.Format(time.RFC3339))
		return
	}
	c.state = LoggedOut
}

// login performs the credential exchange on the main host: fetch the RSA
// modulus, encrypt credentials, post the login form and look for the
// loginSuccess redirect.
func (c *Client) login(ctx context.Context) error {
	modulus, exponent, err := c.fetchRSAKey(ctx)
	if err != nil {
		return err
	}

	encUser, err := rsaEncrypt(c.account.Username, modulus, exponent)
	if err != nil {
		return fmt.Errorf("%w: encrypt username: %v", ErrProtocol, err)
	}
	encPass, err := rsaEncrypt(c.account.Password, modulus, exponent)
	if err != nil {
		return fmt.Errorf("%w: encrypt password: %v", ErrProtocol, err)
	}

	form := url.Values{
		"userId":       {encUser},
		"userPswdEncn": {encPass},
		"inpUserId":    {c.account.Username},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+loginCheckPath, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransientNetwork, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Origin", c.cfg.BaseURL)
	req.Header.Set("Referer", c.cfg.BaseURL+"/common.do?method=login")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: login request: %v", ErrTransientNetwork, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: login returned HTTP %d", ErrTransientNetwork, resp.StatusCode)
	}

	location := resp.Header.Get("Location")
	finalURL := resp.Request.URL.String()
	if strings.Contains(location, "loginSuccess") || strings.Contains(finalURL, "loginSuccess") {
		return nil
	}
	return NewProviderError(ErrAuthenticationFailed, "",
		"login rejected: check username and password")
}

func (c *Client) fetchRSAKey(ctx context.Context) (modulus, exponent string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.BaseURL+loginRSAModulusPath, nil)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrTransientNetwork, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("%w: rsa key request: %v", ErrTransientNetwork, err)
	}
	defer resp.Body.Close()

	var payload struct {
		Data struct {
			RSAModulus     string `json:"rsaModulus"`
			PublicExponent string `json:"publicExponent"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", "", fmt.Errorf("%w: decode rsa key: %v", ErrProtocol, err)
	}
	if payload.Data.RSAModulus == "" || payload.Data.PublicExponent == "" {
		return "", "", fmt.Errorf("%w: rsa key missing from response", ErrProtocol)
	}
	return payload.Data.RSAModulus, payload.Data.PublicExponent, nil
}

func rsaEncrypt(text, modulusHex, exponentHex string) (string, error) {
	n, ok := new(big.Int).SetString(modulusHex, 16)
	if !ok {
		return "", fmt.Errorf("invalid rsa modulus")
	}
	e, ok := new(big.Int).SetString(exponentHex, 16)
	if !ok || !e.IsInt64() {
		return "", fmt.Errorf("invalid rsa exponent")
	}
	pub := &rsa.PublicKey{N: n, E: int(e.Int64())}
	encrypted, err := rsa.EncryptPKCS1v15(rand.Reader, pub, []byte(text))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(encrypted), nil
}

// ensureGameSession visits the game page so the game host issues its own
// JSESSIONID, then pulls it from the cookie jar.
func (c *Client) ensureGameSession(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.GameURL+gameSessionPath, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransientNetwork, err)
	}
	req.Header.Set("Origin", c.cfg.GameURL)
	req.Header.Set("Referer", c.cfg.GameURL+gameSessionPath)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: game session request: %v", ErrTransientNetwork, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	for _, cookie := range resp.Cookies() {
		if strings.HasPrefix(strings.ToUpper(cookie.Name), "JSESSIONID") && cookie.Value != "" {
			return cookie.Value, nil
		}
	}

	gameURL, err := url.Parse(c.cfg.GameURL)
	if err == nil && c.http.Jar != nil {
		for _, cookie := range c.http.Jar.Cookies(gameURL) {
			if strings.HasPrefix(strings.ToUpper(cookie.Name), "JSESSIONID") && cookie.Value != "" {
				return cookie.Value, nil
			}
		}
	}
	return "", fmt.Errorf("%w: game host issued no session cookie", ErrProtocol)
}

// Balance fetches the purchase-available deposit from the game host.
func (c *Client) Balance(ctx context.Context) (models.BalanceSnapshot, error) {
	if _, err := c.AcquireSession(ctx); err != nil {
		return models.BalanceSnapshot{}, err
	}

	u := fmt.Sprintf("%s%s?_=%d", c.cfg.GameURL, balancePath, time.Now().UnixMilli())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return models.BalanceSnapshot{}, fmt.Errorf("%w: %v", ErrTransientNetwork, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return models.BalanceSnapshot{}, fmt.Errorf("%w: balance request: %v", ErrTransientNetwork, err)
	}
	defer resp.Body.Close()

	var payload struct {
		TotBuyAmt    int `json:"totBuyAmt"`
		CrntEntrsAmt int `json:"crntEntrsAmt"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.Invalidate()
		return models.BalanceSnapshot{}, fmt.Errorf("%w: decode balance: %v", ErrProtocol, err)
	}
	return models.BalanceSnapshot{
		Deposit:           payload.TotBuyAmt,
		PurchaseAvailable: payload.CrntEntrsAmt,
		FetchedAt:         time.Now(),
	}, nil
}

// RoundInfo reports the current round number and remaining sale time in
// seconds. Served unencrypted by the game host.
func (c *Client) RoundInfo(ctx context.Context) (round, remainTime int, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.GameURL+roundInfoPath, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrTransientNetwork, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: round info request: %v", ErrTransientNetwork, err)
	}
	defer resp.Body.Close()

	var payload struct {
		Round      int `json:"round"`
		RemainTime int `json:"remainTime"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, 0, fmt.Errorf("%w: decode round info: %v", ErrProtocol, err)
	}
	return payload.Round, payload.RemainTime, nil
}

// BuyHistory lists the last week of pension-720 purchases from the main
// host ledger. Also the reconciliation read for ambiguous outcomes.
func (c *Client) BuyHistory(ctx context.Context) ([]models.HistoryEntry, error) {
	if _, err := c.AcquireSession(ctx); err != nil {
		return nil, err
	}

	end := time.Now()
	start := end.AddDate(0, 0, -historyWindowDays)
	params := url.Values{
		"srchStrDt":          {start.Format("20060102")},
		"srchEndDt":          {end.Format("20060102")},
		"ltGdsCd":            {productCodePension720},
		"pageNum":            {"1"},
		"recordCountPerPage": {"1000"},
		"_":                  {fmt.Sprintf("%d", time.Now().UnixMilli())},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.BaseURL+historyPath+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransientNetwork, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: history request: %v", ErrTransientNetwork, err)
	}
	defer resp.Body.Close()

	var payload struct {
		Data struct {
			List []struct {
				Round       int    `json:"round"`
				IssueDt     string `json:"issueDt"`
				Barcode     string `json:"barcode"`
				TicketCount int    `json:"ticketCount"`
				Amount      int    `json:"amount"`
				Result      string `json:"result"`
			} `json:"list"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.Invalidate()
		return nil, fmt.Errorf("%w: decode history: %v", ErrProtocol, err)
	}

	entries := make([]models.HistoryEntry, 0, len(payload.Data.List))
	for _, item := range payload.Data.List {
		result := item.Result
		if result == "" {
			result = "미추첨"
		}
		entries = append(entries, models.HistoryEntry{
			RoundNo:     item.Round,
			IssueDt:     item.IssueDt,
			Barcode:     item.Barcode,
			TicketCount: item.TicketCount,
			Amount:      item.Amount,
			Result:      result,
		})
	}
	return entries, nil
}

// PostEncrypted runs one encrypted protocol step: encrypt the form under
// the current session, POST it as q=<blob>, decrypt the q field of the JSON
// response and decode the URL-encoded key/value payload.
func (c *Client) PostEncrypted(ctx context.Context, path string, form url.Values) (map[string]string, error) {
	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()
	if sessionID == "" {
		var err error
		if sessionID, err = c.AcquireSession(ctx); err != nil {
			return nil, err
		}
	}

	blob, err := EncryptPayload(form.Encode(), sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	body := url.Values{"q": {blob}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.GameURL+path, strings.NewReader(body.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransientNetwork, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Origin", c.cfg.GameURL)
	req.Header.Set("Referer", c.cfg.GameURL+gameSessionPath)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTransientNetwork, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		c.Invalidate()
		return nil, NewProviderError(ErrAuthenticationFailed,
			fmt.Sprintf("%d", resp.StatusCode), "session rejected by game host")
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: %s returned HTTP %d", ErrTransientNetwork, path, resp.StatusCode)
	}

	var payload struct {
		Q string `json:"q"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %s: non-JSON response: %v", ErrProtocol, path, err)
	}
	if payload.Q == "" {
		return nil, fmt.Errorf("%w: %s: response carries no payload", ErrProtocol, path)
	}

	decrypted, err := DecryptPayload(payload.Q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrProtocol, path, err)
	}
	values, err := url.ParseQuery(decrypted)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: malformed payload: %v", ErrProtocol, path, err)
	}

	fields := make(map[string]string, len(values))
	for key, val := range values {
		if len(val) > 0 {
			fields[key] = val[0]
		} else {
			fields[key] = ""
		}
	}
	return fields, nil
}
