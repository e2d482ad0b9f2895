package atmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jonanatree/cyberbank-atm/atm/models"
)

// Client talks to the ATM HTTP API.
type Client struct {
	Base string
	HTTP *http.Client
}

func New(base string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{Base: strings.TrimRight(base, "/"), HTTP: hc}
}

// StatusError is returned for non-2xx answers that carry no transaction result.
type StatusError struct {
	Status    int
	ErrorCode models.ErrorCode
	Message   string
}

func (e *StatusError) Error() string {
	if e.ErrorCode != "" {
		return fmt.Sprintf("status=%d code=%s: %s", e.Status, e.ErrorCode, e.Message)
	}
	return fmt.Sprintf("status=%d body=%s", e.Status, e.Message)
}

// ProcessTransaction posts a one-shot request. Rejections are returned as a
// result with ErrorCode set, not as an error.
func (c *Client) ProcessTransaction(ctx context.Context, req models.TransactionRequest) (*models.TransactionResult, error) {
	resp, err := c.do(ctx, http.MethodPost, "/atm/transaction", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading transaction response: %w", err)
	}
	var res models.TransactionResult
	if err := json.Unmarshal(body, &res); err != nil || res.TransactionType == "" {
		return nil, &StatusError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	return &res, nil
}

func (c *Client) InsertCard(ctx context.Context, cardNumber string) (*models.Session, error) {
	var s models.Session
	err := c.call(ctx, http.MethodPost, "/atm/sessions/", map[string]string{"cardNumber": cardNumber}, &s)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) VerifyPin(ctx context.Context, sessionID, pin string) (*models.PinVerification, error) {
	var v models.PinVerification
	err := c.call(ctx, http.MethodPost, sessionPath(sessionID, "pin"), map[string]string{"pin": pin}, &v)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *Client) SelectAccount(ctx context.Context, sessionID, accountNumber string) (*models.Account, error) {
	var a models.Account
	err := c.call(ctx, http.MethodPost, sessionPath(sessionID, "account"), map[string]string{"accountNumber": accountNumber}, &a)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) CheckBalance(ctx context.Context, sessionID string) (*models.BalanceInquiry, error) {
	var b models.BalanceInquiry
	if err := c.call(ctx, http.MethodGet, sessionPath(sessionID, "balance"), nil, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *Client) Deposit(ctx context.Context, sessionID string, amount int64) (*models.BalanceChange, error) {
	return c.change(ctx, sessionPath(sessionID, "deposit"), amount)
}

func (c *Client) Withdraw(ctx context.Context, sessionID string, amount int64) (*models.BalanceChange, error) {
	return c.change(ctx, sessionPath(sessionID, "withdraw"), amount)
}

func (c *Client) EndSession(ctx context.Context, sessionID string) (bool, error) {
	var out struct {
		Closed bool `json:"closed"`
	}
	if err := c.call(ctx, http.MethodDelete, sessionPath(sessionID, ""), nil, &out); err != nil {
		return false, err
	}
	return out.Closed, nil
}

func (c *Client) Transactions(ctx context.Context, accountNumber string, limit int) ([]*models.Transaction, error) {
	p := "/atm/accounts/" + url.PathEscape(accountNumber) + "/transactions"
	if limit > 0 {
		p += fmt.Sprintf("?limit=%d", limit)
	}
	var txs []*models.Transaction
	if err := c.call(ctx, http.MethodGet, p, nil, &txs); err != nil {
		return nil, err
	}
	return txs, nil
}

func (c *Client) change(ctx context.Context, path string, amount int64) (*models.BalanceChange, error) {
	var ch models.BalanceChange
	if err := c.call(ctx, http.MethodPost, path, map[string]int64{"amount": amount}, &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

func sessionPath(sessionID, action string) string {
	return "/atm/sessions/" + url.PathEscape(sessionID) + "/" + action
}

// call sends in as JSON and decodes a 2xx answer into out.
func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	resp, err := c.do(ctx, method, path, in)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(resp.Body)
		var apiErr struct {
			ErrorCode models.ErrorCode `json:"errorCode"`
			Message   string           `json:"message"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.ErrorCode != "" {
			return &StatusError{Status: resp.StatusCode, ErrorCode: apiErr.ErrorCode, Message: apiErr.Message}
		}
		return &StatusError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in any) (*http.Response, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.Base+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}
