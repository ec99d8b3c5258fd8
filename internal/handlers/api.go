package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/skip2/go-qrcode"

	"github.com/pension720/backend/internal/lotto"
	"github.com/pension720/backend/internal/orchestrator"
)

// Server exposes the purchase and query surface over HTTP.
type Server struct {
	orch      *orchestrator.Orchestrator
	validator *ValidationHelper
}

// NewServer builds the HTTP handler set.
func NewServer(orch *orchestrator.Orchestrator) *Server {
	return &Server{
		orch:      orch,
		validator: NewValidationHelper(),
	}
}

// writeError translates an orchestrator error into the JSON error shape.
// Unknown accounts are a caller mistake, not an upstream failure.
func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, orchestrator.ErrUnknownAccount) {
		sendKindError(w, err.Error(), "UnknownAccount", http.StatusNotFound)
		return
	}
	sendKindError(w, err.Error(), lotto.KindString(err), statusFor(err))
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, lotto.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, lotto.ErrAccountLocked):
		return http.StatusLocked
	case errors.Is(err, lotto.ErrAccountDisabled):
		return http.StatusForbidden
	case errors.Is(err, lotto.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, lotto.ErrPurchaseWindowClosed):
		return http.StatusBadRequest
	case errors.Is(err, lotto.ErrAuthenticationFailed):
		return http.StatusBadGateway
	case errors.Is(err, lotto.ErrTransientNetwork):
		return http.StatusServiceUnavailable
	case errors.Is(err, lotto.ErrAmbiguousOutcome):
		return http.StatusBadGateway
	case errors.Is(err, lotto.ErrPurchaseRejected), errors.Is(err, lotto.ErrProtocol):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Health reports process liveness
// @Summary Health check
// @Description Reports whether the service is up
// @Tags System
// @Produce json
// @Success 200 {object} object{status=string}
// @Router /health [get]
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// Accounts lists configured accounts and their session states
// @Summary List accounts
// @Description Lists every configured account with its session state
// @Tags Accounts
// @Produce json
// @Success 200 {array} orchestrator.AccountStatus
// @Router /accounts [get]
func (s *Server) Accounts(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.orch.Statuses())
}

// Balance returns the deposit balance for one account
// @Summary Account balance
// @Description Returns the cached deposit balance; refresh=true fetches a fresh one
// @Tags Accounts
// @Produce json
// @Param username path string true "Account username"
// @Param refresh query bool false "Fetch a fresh balance instead of the cached one"
// @Success 200 {object} models.BalanceSnapshot
// @Failure 404 {object} handlers.ErrorResponse
// @Failure 502 {object} handlers.ErrorResponse
// @Router /api/balance/{username} [get]
func (s *Server) Balance(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	if r.URL.Query().Get("refresh") != "true" {
		snap, ok, err := s.orch.CachedBalance(r.Context(), username)
		if err != nil {
			writeError(w, err)
			return
		}
		if ok {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(snap)
			return
		}
	}

	snap, err := s.orch.Balance(r.Context(), username)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}

// History returns the purchase ledger for one account
// @Summary Purchase history
// @Description Returns the recent pension-720 purchase ledger, newest first
// @Tags Accounts
// @Produce json
// @Param username path string true "Account username"
// @Success 200 {array} models.HistoryEntry
// @Failure 404 {object} handlers.ErrorResponse
// @Failure 502 {object} handlers.ErrorResponse
// @Router /api/history/{username} [get]
func (s *Server) History(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	entries, err := s.orch.History(r.Context(), username)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

// Purchase buys pension-720 tickets for one account
// @Summary Buy tickets
// @Description Runs one purchase transaction; count is 1 (single group) or 5 (all groups)
// @Tags Purchase
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param username path string true "Account username"
// @Param count path int true "Ticket count (1 or 5)"
// @Param request body object{token=string} false "Optional idempotency token"
// @Success 200 {object} models.PurchaseOutcome
// @Failure 400 {object} handlers.ErrorResponse
// @Failure 402 {object} handlers.ErrorResponse
// @Failure 409 {object} handlers.ErrorResponse
// @Failure 423 {object} handlers.ErrorResponse
// @Failure 502 {object} handlers.ErrorResponse
// @Router /api/purchase/{username}/{count} [post]
func (s *Server) Purchase(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	count, err := strconv.Atoi(chi.URLParam(r, "count"))
	if err != nil || (count != 1 && count != 5) {
		SendErrorResponse(w, "count must be 1 or 5", http.StatusBadRequest, nil)
		return
	}

	token := r.Header.Get("Idempotency-Key")
	if token == "" && r.ContentLength > 0 {
		var req struct {
			Token string `json:"token" validate:"max=128"`
		}
		r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
			return
		}
		if err := dec.Decode(&struct{}{}); err != io.EOF {
			SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
			return
		}
		if err := s.validator.ValidateStruct(&req); err != nil {
			SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, err)
			return
		}
		token = req.Token
	}

	outcome, err := s.orch.Purchase(r.Context(), username, count, token)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(outcome)
}

// TicketQR renders a ticket barcode as a QR image
// @Summary Ticket QR code
// @Description Renders the given ticket barcode as a PNG QR code
// @Tags Accounts
// @Produce png
// @Param username path string true "Account username"
// @Param barcode query string true "Ticket barcode"
// @Success 200 {file} binary
// @Failure 400 {object} handlers.ErrorResponse
// @Router /api/history/{username}/qr [get]
func (s *Server) TicketQR(w http.ResponseWriter, r *http.Request) {
	barcode := r.URL.Query().Get("barcode")
	if barcode == "" {
		SendErrorResponse(w, "barcode query parameter required", http.StatusBadRequest, nil)
		return
	}

	png, err := qrcode.Encode(barcode, qrcode.Medium, 256)
	if err != nil {
		SendErrorResponse(w, "QR encoding failed", http.StatusInternalServerError, nil)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}
