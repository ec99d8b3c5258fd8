package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"github.com/pension720/backend/internal/cache"
	"github.com/pension720/backend/internal/lotto"
	"github.com/pension720/backend/internal/models"
	"github.com/pension720/backend/internal/orchestrator"
)

// newTestRouter wires the handler set the same way main does, backed by an
// unreachable remote so only cache-served paths succeed.
func newTestRouter(t *testing.T) (*chi.Mux, *cache.Store) {
	t.Helper()
	dead := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(dead.Close)

	store := cache.New(nil)
	orch := orchestrator.New(
		[]models.Account{{Username: "alice", Password: "pw", Enabled: true}},
		lotto.Config{BaseURL: dead.URL, GameURL: dead.URL},
		lotto.V1(),
		store,
	)
	api := NewServer(orch)

	r := chi.NewRouter()
	r.Get("/health", api.Health)
	r.Get("/accounts", api.Accounts)
	r.Route("/api", func(r chi.Router) {
		r.Get("/balance/{username}", api.Balance)
		r.Get("/history/{username}", api.History)
		r.Get("/history/{username}/qr", api.TicketQR)
		r.Post("/purchase/{username}/{count}", api.Purchase)
	})
	return r, store
}

func TestHealth(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestAccounts(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/accounts", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var statuses []orchestrator.AccountStatus
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &statuses))
	assert.Len(t, statuses, 1)
	assert.Equal(t, "alice", statuses[0].Username)
	assert.Equal(t, "LOGGED_OUT", statuses[0].State)
}

func TestBalanceEndpoint(t *testing.T) {
	t.Run("served from cache", func(t *testing.T) {
		router, store := newTestRouter(t)
		store.SetBalance(context.Background(), "alice",
			models.BalanceSnapshot{Deposit: 9000, PurchaseAvailable: 9000})

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/balance/alice", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		var snap models.BalanceSnapshot
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
		assert.Equal(t, 9000, snap.Deposit)
	})

	t.Run("unknown account", func(t *testing.T) {
		router, _ := newTestRouter(t)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/balance/nobody", nil))

		assert.Equal(t, http.StatusNotFound, rec.Code)
		var body ErrorResponse
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "UnknownAccount", body.Kind)
	})

	t.Run("unreachable remote on refresh", func(t *testing.T) {
		router, _ := newTestRouter(t)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/balance/alice?refresh=true", nil))

		assert.GreaterOrEqual(t, rec.Code, http.StatusBadRequest)
		var body ErrorResponse
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.NotEmpty(t, body.Kind)
	})
}

func TestPurchaseEndpoint(t *testing.T) {
	t.Run("rejects invalid count", func(t *testing.T) {
		router, _ := newTestRouter(t)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/purchase/alice/3", nil))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects unknown body fields", func(t *testing.T) {
		router, _ := newTestRouter(t)

		req := httptest.NewRequest(http.MethodPost, "/api/purchase/alice/1",
			strings.NewReader(`{"token":"t1","extra":true}`))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown account", func(t *testing.T) {
		router, _ := newTestRouter(t)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/purchase/nobody/1", nil))

		assert.Equal(t, http.StatusNotFound, rec.Code)
		var body ErrorResponse
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "UnknownAccount", body.Kind)
	})

	t.Run("rejects oversized token", func(t *testing.T) {
		router, _ := newTestRouter(t)

		long := strings.Repeat("x", 200)
		req := httptest.NewRequest(http.MethodPost, "/api/purchase/alice/1",
			strings.NewReader(`{"token":"`+long+`"}`))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		var body ErrorResponse
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.NotEmpty(t, body.Details)
	})

	t.Run("upstream failure maps to gateway error", func(t *testing.T) {
		router, _ := newTestRouter(t)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/purchase/alice/1", nil))

		assert.GreaterOrEqual(t, rec.Code, http.StatusInternalServerError)
		var body ErrorResponse
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.NotEmpty(t, body.Error)
	})
}

func TestTicketQREndpoint(t *testing.T) {
	t.Run("renders png", func(t *testing.T) {
		router, _ := newTestRouter(t)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
			"/api/history/alice/qr?barcode=BC-251-000001", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
		assert.NotEmpty(t, rec.Body.Bytes())
	})

	t.Run("requires barcode", func(t *testing.T) {
		router, _ := newTestRouter(t)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history/alice/qr", nil))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
