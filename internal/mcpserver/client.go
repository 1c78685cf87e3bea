package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Config holds the configuration for connecting to the payment API.
type Config struct {
	APIURL   string // Base URL, e.g. "http://localhost:8080"
	WalletID string // Wallet session the agent acts as
}

// SafepayClient is a pure HTTP client for the payment API.
type SafepayClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewSafepayClient creates a new API client.
func NewSafepayClient(cfg Config) *SafepayClient {
	return &SafepayClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError represents an error response from the API.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request to the API and returns the response body.
func (c *SafepayClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("X-Wallet-ID", c.cfg.WalletID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// ListEscrows lists escrows where the wallet holds role.
func (c *SafepayClient) ListEscrows(ctx context.Context, role string) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("role", role)
	return c.doRequest(ctx, http.MethodGet, "/get-escrows", q, nil)
}

// ListPendingEscrows lists escrows the wallet has not yet approved as buyer.
func (c *SafepayClient) ListPendingEscrows(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/get-pending-escrows", nil, nil)
}

// GetEscrow returns a single escrow.
func (c *SafepayClient) GetEscrow(ctx context.Context, escrowID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/escrow/"+url.PathEscape(escrowID), nil, nil)
}

// ApproveEscrow records the wallet's approval as buyer or seller.
func (c *SafepayClient) ApproveEscrow(ctx context.Context, escrowID, role string) (json.RawMessage, error) {
	body := map[string]string{
		"walletId": c.cfg.WalletID,
		"escrowId": escrowID,
		"role":     role,
	}
	return c.doRequest(ctx, http.MethodPost, "/approve-escrow", nil, body)
}

// RaiseDispute flags an escrow for arbitration.
func (c *SafepayClient) RaiseDispute(ctx context.Context, escrowID string) (json.RawMessage, error) {
	body := map[string]string{
		"walletId": c.cfg.WalletID,
		"escrowId": escrowID,
	}
	return c.doRequest(ctx, http.MethodPost, "/raise-dispute", nil, body)
}

// ScreenPayment runs the risk policy without submitting a payment.
func (c *SafepayClient) ScreenPayment(ctx context.Context, destination string, amount int64) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("destination", destination)
	q.Set("amount", strconv.FormatInt(amount, 10))
	return c.doRequest(ctx, http.MethodGet, "/screen-payment", q, nil)
}

// ReportAddress adds a reason to an address's report log.
func (c *SafepayClient) ReportAddress(ctx context.Context, address, reason string) (json.RawMessage, error) {
	body := map[string]string{
		"address": address,
		"reason":  reason,
	}
	return c.doRequest(ctx, http.MethodPost, "/report-address", nil, body)
}
