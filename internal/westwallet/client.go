package westwallet

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/python-is-trash/westwallet-backend/internal/metrics"
	"github.com/python-is-trash/westwallet-backend/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

const (
	DefaultBaseURL = "https://api.westwallet.io"
	// IPNAddress is the source address WestWallet sends notifications from.
	IPNAddress = "5.188.51.47"
)

// APIError is returned when the gateway answers with an error code or a
// non-2xx status.
type APIError struct {
	Endpoint   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("westwallet %s: %s (http %d)", e.Endpoint, e.Message, e.StatusCode)
}

type Client struct {
	baseURL    string
	publicKey  string
	privateKey string
	ipnURL     string
	httpClient http.Client
	metrics    *metrics.Metrics
	now        func() time.Time
}

func NewClient(cfg models.GatewayConfig, m *metrics.Metrics) (*Client, error) {
	httpClient, err := createCustomHttpClient(cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("unable to create custom http client: %w", err)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		publicKey:  cfg.PublicKey,
		privateKey: cfg.PrivateKey,
		ipnURL:     cfg.IPNURL,
		httpClient: httpClient,
		metrics:    m,
		now:        time.Now,
	}, nil
}

func createCustomHttpClient(timeout time.Duration) (http.Client, error) {
	tr := &http.Transport{
		ResponseHeaderTimeout: 30 * time.Second,
		Proxy:                 http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			KeepAlive: 30 * time.Second,
			Timeout:   15 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConnsPerHost:   5,
		ExpectContinueTimeout: 5 * time.Second,
	}

	if err := http2.ConfigureTransport(tr); err != nil {
		return http.Client{}, err
	}

	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return http.Client{
		Transport: tr,
		Timeout:   timeout,
	}, nil
}

// Sign returns hex(HMAC-SHA256(privateKey, timestamp + body)).
func Sign(privateKey string, timestamp int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(privateKey))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

type envelope struct {
	Error string `json:"error"`
}

func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, payload any, out any) (err error) {
	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		if c.metrics != nil {
			c.metrics.GatewayRequests.WithLabelValues(endpoint, status).Inc()
			c.metrics.GatewayLatency.WithLabelValues(endpoint, status).Observe(time.Since(start).Seconds())
		}
	}()

	body := []byte("{}")
	if payload != nil {
		if body, err = json.Marshal(payload); err != nil {
			return fmt.Errorf("marshal %s request: %w", endpoint, err)
		}
	}

	target := c.baseURL + endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if method != http.MethodGet {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", endpoint, err)
	}

	timestamp := c.now().Unix()
	req.Header.Set("X-API-KEY", c.publicKey)
	req.Header.Set("X-ACCESS-TIMESTAMP", strconv.FormatInt(timestamp, 10))
	req.Header.Set("X-ACCESS-SIGN", Sign(c.privateKey, timestamp, body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("westwallet %s request failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", endpoint, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= 300 {
			return &APIError{Endpoint: endpoint, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		}
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	if env.Error != "" && env.Error != "ok" {
		return &APIError{Endpoint: endpoint, StatusCode: resp.StatusCode, Message: env.Error}
	}
	if resp.StatusCode >= 300 {
		return &APIError{Endpoint: endpoint, StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode %s response: %w", endpoint, err)
		}
	}
	return nil
}

// GenerateAddress asks the gateway for a deposit address tagged with label.
// Notifications for it are posted to the configured IPN URL.
func (c *Client) GenerateAddress(ctx context.Context, asset models.Asset, label string) (*models.GeneratedAddress, error) {
	payload := map[string]string{
		"currency": asset.String(),
		"label":    label,
		"ipn_url":  c.ipnURL,
	}

	var result models.GeneratedAddress
	if err := c.do(ctx, http.MethodPost, "/address/generate", nil, payload, &result); err != nil {
		return nil, err
	}
	if result.Address == "" {
		return nil, fmt.Errorf("westwallet returned no address for %s", asset)
	}

	zap.L().Info("Deposit address generated",
		zap.String("asset", asset.String()),
		zap.String("address", result.Address),
		zap.String("label", label))
	return &result, nil
}

type historyResponse struct {
	Result []models.GatewayTransaction `json:"result"`
}

// GetTransactionHistory lists the newest wallet transactions for one asset.
func (c *Client) GetTransactionHistory(ctx context.Context, asset models.Asset, limit, offset int) ([]models.GatewayTransaction, error) {
	payload := map[string]any{
		"limit":    limit,
		"offset":   offset,
		"order":    "desc",
		"currency": asset.String(),
	}

	var resp historyResponse
	if err := c.do(ctx, http.MethodPost, "/wallet/transactions", nil, payload, &resp); err != nil {
		return nil, err
	}
	return resp.Result, nil
}

// GetTransaction fetches one transaction by gateway id.
func (c *Client) GetTransaction(ctx context.Context, id string) (*models.GatewayTransaction, error) {
	var idValue any = id
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		idValue = n
	}

	var tx models.GatewayTransaction
	if err := c.do(ctx, http.MethodPost, "/wallet/transaction", nil, map[string]any{"id": idValue}, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// CreateWithdrawal sends funds from the hot wallet. memo is passed as the
// destination tag for networks that need one.
func (c *Client) CreateWithdrawal(ctx context.Context, asset models.Asset, amount decimal.Decimal, address, memo, description string) (*models.GatewayWithdrawal, error) {
	payload := map[string]string{
		"currency":    asset.String(),
		"amount":      amount.String(),
		"address":     address,
		"description": description,
		"priority":    "medium",
	}
	if memo != "" {
		payload["dest_tag"] = memo
	}

	var result models.GatewayWithdrawal
	if err := c.do(ctx, http.MethodPost, "/wallet/create_withdrawal", nil, payload, &result); err != nil {
		return nil, err
	}

	zap.L().Info("Withdrawal submitted to gateway",
		zap.String("asset", asset.String()),
		zap.String("amount", amount.String()),
		zap.String("gateway_id", result.Id.String()),
		zap.String("status", result.Status))
	return &result, nil
}

// GetBalance returns the hot wallet balance for one asset.
func (c *Client) GetBalance(ctx context.Context, asset models.Asset) (decimal.Decimal, error) {
	var resp struct {
		Balance  models.FlexString `json:"balance"`
		Currency string            `json:"currency"`
	}
	query := url.Values{"currency": []string{asset.String()}}
	if err := c.do(ctx, http.MethodGet, "/wallet/balance", query, nil, &resp); err != nil {
		return decimal.Zero, err
	}
	balance, err := decimal.NewFromString(resp.Balance.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse balance %q: %w", resp.Balance, err)
	}
	return balance, nil
}
