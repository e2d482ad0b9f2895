package atm_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/jonanatree/cyberbank-atm/atm"
	"github.com/jonanatree/cyberbank-atm/atm/models"
)

func newRouter(t *testing.T) (chi.Router, *fixture) {
	t.Helper()
	f := newFixture(t)
	r := chi.NewRouter()
	atm.NewAPI(f.service, f.sessions, f.bank).AppendRoutes(r)
	return r, f
}

func do(t *testing.T, r http.Handler, method, path string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if out != nil {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
	}
	return w.Code
}

func TestAPI_ProcessTransaction(t *testing.T) {
	r, _ := newRouter(t)

	t.Run("deposit", func(t *testing.T) {
		var res models.TransactionResult
		code := do(t, r, http.MethodPost, "/atm/transaction",
			request(models.RequestDeposit, "ACC001", models.Int64(500)), &res)
		require.Equal(t, http.StatusOK, code)
		require.True(t, res.Success)
		require.Equal(t, int64(1500), *res.NewBalance)
	})

	t.Run("wrong pin", func(t *testing.T) {
		req := request(models.RequestCheckBalance, "ACC001", nil)
		req.PIN = wrongPIN
		var res models.TransactionResult
		code := do(t, r, http.MethodPost, "/atm/transaction", req, &res)
		require.Equal(t, http.StatusUnauthorized, code)
		require.Equal(t, models.ErrorCodeInvalidPIN, res.ErrorCode)
	})

	t.Run("insufficient funds", func(t *testing.T) {
		var res models.TransactionResult
		code := do(t, r, http.MethodPost, "/atm/transaction",
			request(models.RequestWithdraw, "ACC001", models.Int64(5000)), &res)
		require.Equal(t, http.StatusConflict, code)
		require.Equal(t, models.ErrorCodeInvalidState, res.ErrorCode)
	})

	t.Run("validation", func(t *testing.T) {
		var res models.TransactionResult
		code := do(t, r, http.MethodPost, "/atm/transaction", models.TransactionRequest{}, &res)
		require.Equal(t, http.StatusBadRequest, code)
		require.Equal(t, models.ErrorCodeBadRequest, res.ErrorCode)
	})

	t.Run("malformed body", func(t *testing.T) {
		var res models.TransactionResult
		code := do(t, r, http.MethodPost, "/atm/transaction", "{", &res)
		require.Equal(t, http.StatusBadRequest, code)
		require.Equal(t, models.RequestType("UNKNOWN"), res.TransactionType)
	})
}

func TestAPI_SessionFlow(t *testing.T) {
	r, f := newRouter(t)

	var session models.Session
	code := do(t, r, http.MethodPost, "/atm/sessions/", map[string]string{"cardNumber": johnCard}, &session)
	require.Equal(t, http.StatusCreated, code)
	require.Equal(t, models.SessionCardInserted, session.Status)
	base := "/atm/sessions/" + session.ID

	var pin models.PinVerification
	code = do(t, r, http.MethodPost, base+"/pin", map[string]string{"pin": wrongPIN}, &pin)
	require.Equal(t, http.StatusOK, code)
	require.False(t, pin.Verified)
	require.Equal(t, 2, pin.RemainingAttempts)

	code = do(t, r, http.MethodPost, base+"/pin", map[string]string{"pin": johnPIN}, &pin)
	require.Equal(t, http.StatusOK, code)
	require.True(t, pin.Verified)
	require.Len(t, pin.Accounts, 2)

	var account models.Account
	code = do(t, r, http.MethodPost, base+"/account", map[string]string{"accountNumber": "ACC002"}, &account)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, models.AccountTypeSavings, account.Type)

	var inquiry models.BalanceInquiry
	code = do(t, r, http.MethodGet, base+"/balance", nil, &inquiry)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, int64(5000), inquiry.Balance)

	var change models.BalanceChange
	code = do(t, r, http.MethodPost, base+"/withdraw", map[string]int64{"amount": 300}, &change)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, int64(4700), change.NewBalance)

	code = do(t, r, http.MethodPost, base+"/deposit", map[string]int64{"amount": 20000}, nil)
	require.Equal(t, http.StatusBadRequest, code)

	var closed struct {
		Closed bool `json:"closed"`
	}
	code = do(t, r, http.MethodDelete, base+"/", nil, &closed)
	require.Equal(t, http.StatusOK, code)
	require.True(t, closed.Closed)

	code = do(t, r, http.MethodDelete, base+"/", nil, &closed)
	require.Equal(t, http.StatusOK, code)
	require.False(t, closed.Closed)

	code = do(t, r, http.MethodGet, base+"/", nil, &session)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, models.SessionClosed, session.Status)

	var apiErr struct {
		ErrorCode models.ErrorCode `json:"errorCode"`
	}
	code = do(t, r, http.MethodGet, base+"/balance", nil, &apiErr)
	require.Equal(t, http.StatusNotFound, code)

	var txs []*models.Transaction
	code = do(t, r, http.MethodGet, "/atm/accounts/ACC002/transactions?limit=10", nil, &txs)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, txs, 2)
	require.Equal(t, int64(4700), f.balance(t, "ACC002"))
}

func TestAPI_SessionErrors(t *testing.T) {
	r, _ := newRouter(t)

	var apiErr struct {
		ErrorCode models.ErrorCode `json:"errorCode"`
		Message   string           `json:"message"`
	}

	code := do(t, r, http.MethodPost, "/atm/sessions/", map[string]string{"cardNumber": "12"}, &apiErr)
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, models.ErrorCodeBadRequest, apiErr.ErrorCode)

	code = do(t, r, http.MethodPost, "/atm/sessions/", map[string]string{"cardNumber": unknownNo}, &apiErr)
	require.Equal(t, http.StatusBadRequest, code)

	code = do(t, r, http.MethodGet, "/atm/sessions/nope/", nil, &apiErr)
	require.Equal(t, http.StatusNotFound, code)

	var session models.Session
	do(t, r, http.MethodPost, "/atm/sessions/", map[string]string{"cardNumber": johnCard}, &session)

	code = do(t, r, http.MethodPost, "/atm/sessions/"+session.ID+"/account", map[string]string{"accountNumber": "ACC001"}, &apiErr)
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, models.ErrorCodeInvalidState, apiErr.ErrorCode)

	code = do(t, r, http.MethodPost, "/atm/sessions/"+session.ID+"/account", map[string]string{}, &apiErr)
	require.Equal(t, http.StatusBadRequest, code)

	code = do(t, r, http.MethodGet, "/atm/accounts/NOPE/transactions", nil, &apiErr)
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, models.ErrorCodeAccountNotFound, apiErr.ErrorCode)

	code = do(t, r, http.MethodGet, "/atm/accounts/ACC001/transactions?limit=x", nil, &apiErr)
	require.Equal(t, http.StatusBadRequest, code)
}

func TestStatusFor(t *testing.T) {
	require.Equal(t, http.StatusOK, atm.StatusFor(""))
	require.Equal(t, http.StatusUnauthorized, atm.StatusFor(models.ErrorCodeInvalidPIN))
	require.Equal(t, http.StatusUnauthorized, atm.StatusFor(models.ErrorCodeCardBlocked))
	require.Equal(t, http.StatusConflict, atm.StatusFor(models.ErrorCodeInvalidState))
	require.Equal(t, http.StatusInternalServerError, atm.StatusFor(models.ErrorCodeInternal))
	require.Equal(t, http.StatusBadRequest, atm.StatusFor(models.ErrorCodeAccountNotFound))
	require.Equal(t, http.StatusBadRequest, atm.StatusFor(models.ErrorCodeInvalidAmount))
}
