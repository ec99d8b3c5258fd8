package lotto

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/pension720/backend/internal/models"
)

// fakeSite emulates both lottery hosts: RSA login on the main host and the
// encrypted q= exchange on the game host, sharing one httptest server.
type fakeSite struct {
	t   *testing.T
	key *rsa.PrivateKey
	srv *httptest.Server

	username string
	password string

	mu        sync.Mutex
	sessionID string
	round     int
	remain    int
	deposit   int
	orderSeq  int
	ledger    []models.HistoryEntry
	hits      map[string]int
	overrides map[string]http.HandlerFunc
}

func newFakeSite(t *testing.T) *fakeSite {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}

	site := &fakeSite{
		t:         t,
		key:       key,
		username:  "alice",
		password:  "secret-pw",
		sessionID: "FAKESESSION0123456789ABCDEF00001",
		round:     251,
		remain:    3600,
		deposit:   10000,
		hits:      make(map[string]int),
		overrides: make(map[string]http.HandlerFunc),
	}
	site.srv = httptest.NewServer(http.HandlerFunc(site.route))
	t.Cleanup(site.srv.Close)
	return site
}

func (s *fakeSite) clientConfig() Config {
	return Config{
		BaseURL:     s.srv.URL,
		GameURL:     s.srv.URL,
		HTTPTimeout: 5 * time.Second,
	}
}

func (s *fakeSite) account() models.Account {
	return models.Account{Username: s.username, Password: s.password, Enabled: true}
}

func (s *fakeSite) override(path string, h http.HandlerFunc) {
	s.mu.Lock()
	s.overrides[path] = h
	s.mu.Unlock()
}

func (s *fakeSite) hitCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func (s *fakeSite) addLedger(entry models.HistoryEntry) {
	s.mu.Lock()
	s.ledger = append(s.ledger, entry)
	s.mu.Unlock()
}

func (s *fakeSite) route(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.hits[r.URL.Path]++
	hook := s.overrides[r.URL.Path]
	s.mu.Unlock()
	if hook != nil {
		hook(w, r)
		return
	}

	switch r.URL.Path {
	case loginRSAModulusPath:
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]string{
				"rsaModulus":     s.key.N.Text(16),
				"publicExponent": fmt.Sprintf("%x", s.key.E),
			},
		})
	case loginCheckPath:
		s.handleLogin(w, r)
	case "/loginSuccess.do":
		w.WriteHeader(http.StatusOK)
	case gameSessionPath:
		http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: s.sessionID, Path: "/"})
		w.WriteHeader(http.StatusOK)
	case roundInfoPath:
		s.mu.Lock()
		round, remain := s.round, s.remain
		s.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]int{"round": round, "remainTime": remain})
	case balancePath:
		s.mu.Lock()
		deposit := s.deposit
		s.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]int{"totBuyAmt": deposit, "crntEntrsAmt": deposit})
	case historyPath:
		s.mu.Lock()
		list := make([]map[string]any, 0, len(s.ledger))
		for _, e := range s.ledger {
			list = append(list, map[string]any{
				"round": e.RoundNo, "issueDt": e.IssueDt, "barcode": e.Barcode,
				"ticketCount": e.TicketCount, "amount": e.Amount, "result": e.Result,
			})
		}
		s.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"list": list}})
	case "/makeOrderNo.do":
		s.handleOrder(w, r)
	case "/connPro.do":
		s.handleConfirm(w, r)
	case "/checkDeposit.do":
		s.handleCommit(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (s *fakeSite) handleLogin(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()
	pass, err := s.rsaDecrypt(r.PostFormValue("userPswdEncn"))
	if err != nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	user, err := s.rsaDecrypt(r.PostFormValue("userId"))
	if err != nil || user != s.username || pass != s.password {
		w.WriteHeader(http.StatusOK)
		return
	}
	http.Redirect(w, r, "/loginSuccess.do", http.StatusFound)
}

func (s *fakeSite) rsaDecrypt(blob string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", err
	}
	plain, err := rsa.DecryptPKCS1v15(nil, s.key, raw)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// decryptStep decodes the q= request payload under the fake session.
func (s *fakeSite) decryptStep(r *http.Request) (url.Values, error) {
	r.ParseForm()
	plain, err := DecryptPayload(r.PostFormValue("q"), s.sessionID)
	if err != nil {
		return nil, err
	}
	return url.ParseQuery(plain)
}

// reply sends the encrypted {"q": blob} response.
func (s *fakeSite) reply(w http.ResponseWriter, fields url.Values) {
	blob, err := EncryptPayload(fields.Encode(), s.sessionID)
	if err != nil {
		s.t.Errorf("fake site encrypt: %v", err)
		http.Error(w, "encrypt failed", http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"q": blob})
}

func (s *fakeSite) handleOrder(w http.ResponseWriter, r *http.Request) {
	if _, err := s.decryptStep(r); err != nil {
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.orderSeq++
	orderNo := fmt.Sprintf("ORD%06d", s.orderSeq)
	s.mu.Unlock()
	s.reply(w, url.Values{
		"resultCode": {"100"},
		"orderNo":    {orderNo},
		"orderDate":  {"20260829"},
	})
}

func (s *fakeSite) handleConfirm(w http.ResponseWriter, r *http.Request) {
	form, err := s.decryptStep(r)
	if err != nil {
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}
	count := 1
	fmt.Sscanf(form.Get("BUY_CNT"), "%d", &count)

	cost := count * 1000
	s.mu.Lock()
	if s.deposit < cost {
		s.mu.Unlock()
		s.reply(w, url.Values{"resultCode": {"20001"}, "resultMsg": {"잔액 부족"}})
		return
	}
	s.deposit -= cost
	barcode := fmt.Sprintf("BC-%d-%d", s.round, s.orderSeq)
	s.ledger = append(s.ledger, models.HistoryEntry{
		RoundNo:     s.round,
		IssueDt:     "2026-08-29 10:00:00",
		Barcode:     barcode,
		TicketCount: count,
		Amount:      cost,
		Result:      "미추첨",
	})
	fields := url.Values{
		"resultCode": {"10000"},
		"saleCnt":    {fmt.Sprintf("%d", count)},
		"saleTicket": {barcode},
		"failCnt":    {"0"},
	}
	s.mu.Unlock()
	s.reply(w, fields)
}

func (s *fakeSite) handleCommit(w http.ResponseWriter, r *http.Request) {
	if _, err := s.decryptStep(r); err != nil {
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	deposit := s.deposit
	s.mu.Unlock()
	s.reply(w, url.Values{
		"resultCode": {"100"},
		"deposit":    {fmt.Sprintf("%d", deposit)},
	})
}
