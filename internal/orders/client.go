// Package orders is the client for the external commerce platform that
// turns a paid checkout session into an order.
package orders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mirkogalizia/checkout-obliqpay-sub000/internal/checkout"
)

// Config holds commerce platform client configuration.
type Config struct {
	BaseURL        string        `envconfig:"ORDERS_BASE_URL" required:"true"`
	APIToken       string        `envconfig:"ORDERS_API_TOKEN" required:"true"`
	RequestTimeout time.Duration `envconfig:"ORDERS_TIMEOUT" default:"15s"`
}

// Creator creates downstream orders. It is a uniform capability so the
// reconciler can be tested against a fake.
type Creator interface {
	CreateOrder(ctx context.Context, draft Draft) (Result, error)
}

// Draft is the order-creation payload assembled from a paid session.
type Draft struct {
	SessionID        string                 `json:"session_id"`
	Cart             json.RawMessage        `json:"cart"`
	Customer         *checkout.CustomerInfo `json:"customer,omitempty"`
	PaymentReference string                 `json:"payment_reference"`
	AccountLabel     string                 `json:"account_label"`
	TotalMinor       int64                  `json:"total_minor"`
	Currency         string                 `json:"currency"`
}

// Result identifies the created order.
type Result struct {
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
}

// Client is an HTTP client for the commerce platform's order API.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient creates a commerce platform client.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.RequestTimeout},
	}
}

// CreateOrder posts the draft to the platform and returns the order ids.
func (c *Client) CreateOrder(ctx context.Context, draft Draft) (Result, error) {
	body, err := json.Marshal(draft)
	if err != nil {
		return Result{}, fmt.Errorf("marshaling order draft: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("building order request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("posting order: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Result{}, fmt.Errorf("order API returned %d: %s", resp.StatusCode, string(msg))
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{}, fmt.Errorf("decoding order response: %w", err)
	}
	if result.OrderID == "" {
		return Result{}, fmt.Errorf("order API returned no order id")
	}

	return result, nil
}
