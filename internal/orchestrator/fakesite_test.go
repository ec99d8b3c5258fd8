package orchestrator

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

	"github.com/pension720/backend/internal/lotto"
	"github.com/pension720/backend/internal/models"
)

// fakeSite is a minimal stand-in for both lottery hosts, covering login,
// round info, balance, ledger and the encrypted purchase steps.
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
	orderHits int
	stepDelay time.Duration

	// Failure injection. commitFail kills the deposit-read call,
	// confirmFail kills the confirm call before it processes anything,
	// confirmDieAfterCommit processes the sale but kills the reply.
	commitFail            bool
	confirmFail           bool
	confirmDieAfterCommit bool
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
		sessionID: "ORCHSESSION123456789ABCDEF000001",
		round:     251,
		remain:    3600,
		deposit:   10000,
	}
	site.srv = httptest.NewServer(http.HandlerFunc(site.route))
	t.Cleanup(site.srv.Close)
	return site
}

func (s *fakeSite) clientConfig() lotto.Config {
	return lotto.Config{
		BaseURL:     s.srv.URL,
		GameURL:     s.srv.URL,
		HTTPTimeout: 10 * time.Second,
	}
}

func (s *fakeSite) accounts() []models.Account {
	return []models.Account{{Username: s.username, Password: s.password, Enabled: true}}
}

func (s *fakeSite) orderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orderHits
}

func (s *fakeSite) addLedger(entry models.HistoryEntry) {
	s.mu.Lock()
	s.ledger = append(s.ledger, entry)
	s.mu.Unlock()
}

func (s *fakeSite) currentDeposit() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deposit
}

func (s *fakeSite) setConfirmFail(v bool) {
	s.mu.Lock()
	s.confirmFail = v
	s.mu.Unlock()
}

func (s *fakeSite) route(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/login/selectRsaModulus.do":
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]string{
				"rsaModulus":     s.key.N.Text(16),
				"publicExponent": fmt.Sprintf("%x", s.key.E),
			},
		})
	case "/login/securityLoginCheck.do":
		s.handleLogin(w, r)
	case "/loginSuccess.do":
		w.WriteHeader(http.StatusOK)
	case "/game/pension720/game.jsp":
		http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: s.sessionID, Path: "/"})
	case "/roundRemainTime.do":
		s.mu.Lock()
		round, remain := s.round, s.remain
		s.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]int{"round": round, "remainTime": remain})
	case "/selectCrntEntrsAmt.do":
		s.mu.Lock()
		deposit := s.deposit
		s.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]int{"totBuyAmt": deposit, "crntEntrsAmt": deposit})
	case "/mypage/selectMyLotteryledger.do":
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
	decrypt := func(blob string) string {
		raw, err := base64.StdEncoding.DecodeString(blob)
		if err != nil {
			return ""
		}
		plain, err := rsa.DecryptPKCS1v15(nil, s.key, raw)
		if err != nil {
			return ""
		}
		return string(plain)
	}
	if decrypt(r.PostFormValue("userId")) == s.username &&
		decrypt(r.PostFormValue("userPswdEncn")) == s.password {
		http.Redirect(w, r, "/loginSuccess.do", http.StatusFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *fakeSite) decryptStep(r *http.Request) (url.Values, error) {
	r.ParseForm()
	plain, err := lotto.DecryptPayload(r.PostFormValue("q"), s.sessionID)
	if err != nil {
		return nil, err
	}
	return url.ParseQuery(plain)
}

func (s *fakeSite) reply(w http.ResponseWriter, fields url.Values) {
	blob, err := lotto.EncryptPayload(fields.Encode(), s.sessionID)
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
	s.orderHits++
	orderNo := fmt.Sprintf("ORD%06d", s.orderSeq)
	delay := s.stepDelay
	s.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	s.reply(w, url.Values{
		"resultCode": {"100"},
		"orderNo":    {orderNo},
		"orderDate":  {"20260829"},
	})
}

func (s *fakeSite) handleConfirm(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	dieBefore := s.confirmFail
	s.mu.Unlock()
	if dieBefore {
		panic(http.ErrAbortHandler)
	}

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
	dieAfter := s.confirmDieAfterCommit
	s.mu.Unlock()
	if dieAfter {
		panic(http.ErrAbortHandler)
	}
	s.reply(w, fields)
}

func (s *fakeSite) handleCommit(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	fail := s.commitFail
	deposit := s.deposit
	s.mu.Unlock()
	if fail {
		panic(http.ErrAbortHandler)
	}
	if _, err := s.decryptStep(r); err != nil {
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}
	s.reply(w, url.Values{
		"resultCode": {"100"},
		"deposit":    {fmt.Sprintf("%d", deposit)},
	})
}
