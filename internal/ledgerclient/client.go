// Package ledgerclient talks to the ledger's HTTP API on behalf of a
// terminal agent.
package ledgerclient

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"resty.dev/v3"

	"caixa/backend/internal/domain"
	"caixa/backend/internal/offline"
)

var _ offline.Ledger = (*Client)(nil)

type Config struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
}

// Client signs in lazily and signs in again once when a request comes back
// with 401, so an expired token does not park the queue.
type Client struct {
	http     *resty.Client
	username string
	password string
	logger   *zap.Logger

	mu    sync.Mutex
	token string
}

type apiError struct {
	Message string `json:"error"`
}

func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")

	return &Client{
		http:     httpClient,
		username: cfg.Username,
		password: cfg.Password,
		logger:   logger,
	}
}

func (c *Client) Close() error {
	return c.http.Close()
}

func (c *Client) SubmitSale(ctx context.Context, draft domain.SaleDraft) (domain.SubmitSaleResponse, error) {
	var out domain.SubmitSaleResponse
	err := c.call(ctx, http.MethodPost, "/api/v1/sales", draft, nil, &out)
	return out, err
}

func (c *Client) AdjustStock(ctx context.Context, req domain.StockAdjustRequest) (domain.StockMovement, error) {
	var out struct {
		Movement domain.StockMovement `json:"movement"`
	}
	err := c.call(ctx, http.MethodPost, "/api/v1/stock/adjust", req, nil, &out)
	return out.Movement, err
}

func (c *Client) FetchSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	query := map[string]string{}
	if !filter.From.IsZero() {
		query["from"] = filter.From.UTC().Format(time.RFC3339Nano)
	}
	if !filter.To.IsZero() {
		query["to"] = filter.To.UTC().Format(time.RFC3339Nano)
	}
	if filter.Status != "" {
		query["status"] = filter.Status
	}
	if filter.Customer != "" {
		query["customer"] = filter.Customer
	}
	limit := filter.Limit
	if limit < 1 {
		limit = 1000
	}
	query["limit"] = strconv.Itoa(limit)

	var out struct {
		Sales []domain.Sale `json:"sales"`
	}
	err := c.call(ctx, http.MethodGet, "/api/v1/sales", nil, query, &out)
	return out.Sales, err
}

func (c *Client) FetchProducts(ctx context.Context) ([]domain.Product, error) {
	var out struct {
		Products []domain.Product `json:"products"`
	}
	err := c.call(ctx, http.MethodGet, "/api/v1/products", nil, nil, &out)
	return out.Products, err
}

// Ping hits the unauthenticated health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	var apiErr apiError
	resp, err := c.http.R().SetContext(ctx).SetError(&apiErr).Get("/healthz")
	if err != nil {
		return fmt.Errorf("%w: %v", offline.ErrNetworkUnavailable, err)
	}
	if resp.IsError() {
		return classify(resp.StatusCode(), apiErr.Message)
	}
	return nil
}

func (c *Client) call(ctx context.Context, method string, path string, body any, query map[string]string, result any) error {
	token, err := c.currentToken(ctx)
	if err != nil {
		return err
	}
	status, msg, err := c.send(ctx, method, path, token, body, query, result)
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized {
		c.logger.Info("ledger token rejected, signing in again", zap.String("path", path))
		c.clearToken(token)
		if token, err = c.currentToken(ctx); err != nil {
			return err
		}
		if status, msg, err = c.send(ctx, method, path, token, body, query, result); err != nil {
			return err
		}
	}
	if status >= 400 {
		return classify(status, msg)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method string, path string, token string, body any, query map[string]string, result any) (int, string, error) {
	var apiErr apiError
	req := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetResult(result).
		SetError(&apiErr)
	if query != nil {
		req.SetQueryParams(query)
	}

	var (
		resp *resty.Response
		err  error
	)
	if method == http.MethodGet {
		resp, err = req.Get(path)
	} else {
		resp, err = req.SetBody(body).Post(path)
	}
	if err != nil {
		return 0, "", fmt.Errorf("%w: %v", offline.ErrNetworkUnavailable, err)
	}
	return resp.StatusCode(), apiErr.Message, nil
}

func (c *Client) currentToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" {
		return c.token, nil
	}

	var (
		out    domain.LoginResponse
		apiErr apiError
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(domain.LoginRequest{Username: c.username, Password: c.password}).
		SetResult(&out).
		SetError(&apiErr).
		Post("/api/v1/auth/login")
	if err != nil {
		return "", fmt.Errorf("%w: %v", offline.ErrNetworkUnavailable, err)
	}
	if resp.IsError() {
		return "", classify(resp.StatusCode(), apiErr.Message)
	}
	c.token = out.AccessToken
	return c.token, nil
}

// clearToken drops the cached token unless another caller already replaced it.
func (c *Client) clearToken(stale string) {
	c.mu.Lock()
	if c.token == stale {
		c.token = ""
	}
	c.mu.Unlock()
}

// classify maps an HTTP failure onto the queue's error kinds. Server-side
// failures are retryable like a lost connection; client errors are not.
func classify(status int, msg string) error {
	if msg == "" {
		msg = http.StatusText(status)
	}
	if status >= 500 || status == http.StatusTooManyRequests {
		return fmt.Errorf("%w: ledger returned %d: %s", offline.ErrNetworkUnavailable, status, msg)
	}
	return fmt.Errorf("%w: ledger returned %d: %s", offline.ErrSubmissionRejected, status, msg)
}
