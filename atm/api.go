package atm

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/jonanatree/cyberbank-atm/atm/models"
	"github.com/jonanatree/cyberbank-atm/internal/cardnum"
)

// API is a HTTP API for the ATM
type API struct {
	transactions *TransactionService
	sessions     *SessionManager
	bank         *Bank
}

func NewAPI(transactions *TransactionService, sessions *SessionManager, bank *Bank) *API {
	return &API{
		transactions: transactions,
		sessions:     sessions,
		bank:         bank,
	}
}

func (a *API) AppendRoutes(r chi.Router) {
	r.Route("/atm", func(r chi.Router) {
		r.Post("/transaction", a.processTransaction)
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", a.insertCard)
			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", a.getSession)
				r.Delete("/", a.endSession)
				r.Post("/pin", a.verifyPin)
				r.Post("/account", a.selectAccount)
				r.Get("/balance", a.checkBalance)
				r.Post("/deposit", a.deposit)
				r.Post("/withdraw", a.withdraw)
			})
		})
		r.Get("/accounts/{accountNumber}/transactions", a.listTransactions)
	})
}

// StatusFor maps a result code to a HTTP status.
func StatusFor(code models.ErrorCode) int {
	switch code {
	case "":
		return http.StatusOK
	case models.ErrorCodeInvalidPIN, models.ErrorCodeCardBlocked:
		return http.StatusUnauthorized
	case models.ErrorCodeInvalidState:
		return http.StatusConflict
	case models.ErrorCodeInternal:
		return http.StatusInternalServerError
	}
	return http.StatusBadRequest
}

func (a *API) processTransaction(w http.ResponseWriter, r *http.Request) {
	req := models.TransactionRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, &models.TransactionResult{
			Message:         "Malformed request body",
			TransactionType: "UNKNOWN",
			ErrorCode:       models.ErrorCodeBadRequest,
			ErrorDetails:    err.Error(),
		})
		return
	}

	res := a.transactions.ProcessTransaction(r.Context(), req)
	writeJSON(w, StatusFor(res.ErrorCode), res)
}

type errorResponse struct {
	ErrorCode models.ErrorCode `json:"errorCode"`
	Message   string           `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	code := ErrorCode(err)
	status := StatusFor(code)
	if errors.Is(err, ErrSessionNotFound) {
		status = http.StatusNotFound
	}
	writeJSON(w, status, errorResponse{ErrorCode: code, Message: err.Error()})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{ErrorCode: models.ErrorCodeBadRequest, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (a *API) insertCard(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CardNumber string `json:"cardNumber"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		badRequest(w, err.Error())
		return
	}
	if !cardnum.Valid(body.CardNumber) {
		badRequest(w, "Card number must be 16 digits")
		return
	}

	session, err := a.sessions.InsertCard(r.Context(), body.CardNumber)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (a *API) getSession(w http.ResponseWriter, r *http.Request) {
	session, err := a.sessions.Session(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (a *API) endSession(w http.ResponseWriter, r *http.Request) {
	closed, err := a.sessions.EndSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Closed bool `json:"closed"`
	}{closed})
}

func (a *API) verifyPin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PIN string `json:"pin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		badRequest(w, err.Error())
		return
	}

	res, err := a.sessions.VerifyPin(r.Context(), chi.URLParam(r, "sessionID"), body.PIN)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) selectAccount(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AccountNumber string `json:"accountNumber"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		badRequest(w, err.Error())
		return
	}
	if body.AccountNumber == "" {
		badRequest(w, "Account number is required")
		return
	}

	account, err := a.sessions.SelectAccount(r.Context(), chi.URLParam(r, "sessionID"), body.AccountNumber)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (a *API) checkBalance(w http.ResponseWriter, r *http.Request) {
	res, err := a.sessions.CheckBalance(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type amountRequest struct {
	Amount int64 `json:"amount"`
}

func (a *API) deposit(w http.ResponseWriter, r *http.Request) {
	var body amountRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		badRequest(w, err.Error())
		return
	}
	res, err := a.sessions.Deposit(r.Context(), chi.URLParam(r, "sessionID"), body.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) withdraw(w http.ResponseWriter, r *http.Request) {
	var body amountRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		badRequest(w, err.Error())
		return
	}
	res, err := a.sessions.Withdraw(r.Context(), chi.URLParam(r, "sessionID"), body.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) listTransactions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			badRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	txs, err := a.bank.Transactions(r.Context(), chi.URLParam(r, "accountNumber"), limit)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{ErrorCode: models.ErrorCodeAccountNotFound, Message: err.Error()})
			return
		}
		writeError(w, err)
		return
	}
	if txs == nil {
		txs = []*models.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}
