package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"caixa/backend/internal/cache"
	"caixa/backend/internal/domain"
	"caixa/backend/internal/service"
	"caixa/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	logger := zaptest.NewLogger(t)
	repo := memory.NewDemo()
	svc := service.New(repo, cache.NoopReportCache{}, logger, service.Options{DefaultStoreID: "test-store"})
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	return New(svc, auth, "*", logger)
}

func login(t *testing.T, api *API, username string, password string) string {
	t.Helper()

	body, _ := json.Marshal(domain.LoginRequest{Username: username, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code, "login as %s: %s", username, res.Body.String())

	var payload domain.LoginResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&payload))
	require.NotEmpty(t, payload.AccessToken)
	return payload.AccessToken
}

func loginAsAdmin(t *testing.T, api *API) string {
	return login(t, api, "admin", "admin123")
}

func loginAsCashier(t *testing.T, api *API) string {
	return login(t, api, "cashier", "cashier123")
}

func doJSON(t *testing.T, api *API, method string, path string, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(payload))
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	return res
}

func beansDraft(key string) domain.SaleDraft {
	return domain.SaleDraft{
		IdempotencyKey: key,
		TerminalID:     "caixa-01",
		CustomerName:   "Ana",
		SellerName:     "Maria",
		Lines: []domain.SaleLine{
			{ProductID: "FEIJAO-1KG", Quantity: 2, UnitPriceCents: 849, SaleMode: domain.SaleModeUnit},
		},
		Payments:   []domain.Payment{{Method: "cash", AmountCents: 2000}},
		TotalCents: 1698,
	}
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)

	res := doJSON(t, api, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, res.Code)

	var body map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	assert.Equal(t, true, body["ok"])
}

func TestHandleLoginInvalidCredentials(t *testing.T) {
	api := newTestAPI(t)

	res := doJSON(t, api, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "admin", Password: "wrongpassword"})
	assert.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestHandleProductsRequiresAuth(t *testing.T) {
	api := newTestAPI(t)

	res := doJSON(t, api, http.MethodGet, "/api/v1/products", "", nil)
	assert.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestHandleProductsWithValidToken(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsCashier(t, api)

	res := doJSON(t, api, http.MethodGet, "/api/v1/products", token, nil)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())

	var body struct {
		Products []domain.Product `json:"products"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	assert.Len(t, body.Products, 8)
}

func TestCashierCannotCreateProduct(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsCashier(t, api)

	res := doJSON(t, api, http.MethodPost, "/api/v1/products", token, domain.ProductCreateRequest{ID: "X", Name: "X", PriceCents: 100})
	assert.Equal(t, http.StatusForbidden, res.Code)
}

func TestSubmitSaleThenDuplicate(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsCashier(t, api)

	first := doJSON(t, api, http.MethodPost, "/api/v1/sales", token, beansDraft("idem-http-1"))
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())

	var created domain.SubmitSaleResponse
	require.NoError(t, json.NewDecoder(first.Body).Decode(&created))
	assert.Equal(t, domain.SaleStatusPaid, created.Status)

	second := doJSON(t, api, http.MethodPost, "/api/v1/sales", token, beansDraft("idem-http-1"))
	require.Equal(t, http.StatusOK, second.Code)

	var dup domain.SubmitSaleResponse
	require.NoError(t, json.NewDecoder(second.Body).Decode(&dup))
	assert.True(t, dup.Duplicate)
	assert.Equal(t, created.SaleID, dup.SaleID)

	bad := beansDraft("idem-http-2")
	bad.TotalCents = 1
	res := doJSON(t, api, http.MethodPost, "/api/v1/sales", token, bad)
	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestCancelSaleFlow(t *testing.T) {
	api := newTestAPI(t)
	cashier := loginAsCashier(t, api)
	admin := loginAsAdmin(t, api)

	res := doJSON(t, api, http.MethodPost, "/api/v1/sales", cashier, beansDraft("idem-cancel"))
	require.Equal(t, http.StatusCreated, res.Code)
	var created domain.SubmitSaleResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&created))

	exit := domain.StockAdjustRequest{
		ProductID: "FEIJAO-1KG",
		Quantity:  -2,
		Type:      domain.MovementSale,
		Reason:    domain.ReasonSale,
		Reference: created.SaleID,
	}
	adjusted := doJSON(t, api, http.MethodPost, "/api/v1/stock/adjust", cashier, exit)
	require.Equal(t, http.StatusOK, adjusted.Code, adjusted.Body.String())

	path := "/api/v1/sales/" + created.SaleID + "/cancel"

	denied := doJSON(t, api, http.MethodPost, path, cashier, domain.CancelSaleRequest{Reason: "erro"})
	assert.Equal(t, http.StatusForbidden, denied.Code)

	ok := doJSON(t, api, http.MethodPost, path, admin, domain.CancelSaleRequest{Reason: "erro"})
	require.Equal(t, http.StatusOK, ok.Code, ok.Body.String())
	var cancelled domain.CancelSaleResponse
	require.NoError(t, json.NewDecoder(ok.Body).Decode(&cancelled))
	assert.Equal(t, domain.SaleStatusCancelled, cancelled.Status)
	require.Len(t, cancelled.Movements, 1)
	assert.Equal(t, 2.0, cancelled.Movements[0].Quantity)

	again := doJSON(t, api, http.MethodPost, path, admin, nil)
	assert.Equal(t, http.StatusConflict, again.Code)

	late := doJSON(t, api, http.MethodPost, "/api/v1/stock/adjust", cashier, exit)
	assert.Equal(t, http.StatusConflict, late.Code)

	missing := doJSON(t, api, http.MethodPost, "/api/v1/sales/sale-missing/cancel", admin, nil)
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestStockAdjustAndMovements(t *testing.T) {
	api := newTestAPI(t)
	cashier := loginAsCashier(t, api)

	res := doJSON(t, api, http.MethodPost, "/api/v1/stock/adjust", cashier, domain.StockAdjustRequest{
		ProductID: "FEIJAO-1KG",
		Quantity:  -3,
		Type:      domain.MovementSale,
		Reason:    domain.ReasonOfflineReplay,
		Reference: "sale-1",
	})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())

	invalid := doJSON(t, api, http.MethodPost, "/api/v1/stock/adjust", cashier, domain.StockAdjustRequest{ProductID: "FEIJAO-1KG", Quantity: -1, Type: "teleport"})
	assert.Equal(t, http.StatusBadRequest, invalid.Code)

	list := doJSON(t, api, http.MethodGet, "/api/v1/products/FEIJAO-1KG/movements", cashier, nil)
	require.Equal(t, http.StatusOK, list.Code)
	var body struct {
		Movements []domain.StockMovement `json:"movements"`
	}
	require.NoError(t, json.NewDecoder(list.Body).Decode(&body))
	require.Len(t, body.Movements, 1)
	assert.Equal(t, 197.0, body.Movements[0].NewStock)

	unknown := doJSON(t, api, http.MethodGet, "/api/v1/products/NOPE/movements", cashier, nil)
	assert.Equal(t, http.StatusNotFound, unknown.Code)
}

func TestReportsRequireAdmin(t *testing.T) {
	api := newTestAPI(t)
	cashier := loginAsCashier(t, api)

	for _, path := range []string{"/api/v1/reports/daily", "/api/v1/reports/sellers", "/api/v1/reports/customers-abc", "/api/v1/audit-logs"} {
		res := doJSON(t, api, http.MethodGet, path, cashier, nil)
		assert.Equal(t, http.StatusForbidden, res.Code, path)
	}
}

func TestReportExports(t *testing.T) {
	api := newTestAPI(t)
	cashier := loginAsCashier(t, api)
	admin := loginAsAdmin(t, api)

	res := doJSON(t, api, http.MethodPost, "/api/v1/sales", cashier, beansDraft("idem-report"))
	require.Equal(t, http.StatusCreated, res.Code)

	today := time.Now().UTC().Format("2006-01-02")

	daily := doJSON(t, api, http.MethodGet, "/api/v1/reports/daily?format=csv&date="+today, admin, nil)
	require.Equal(t, http.StatusOK, daily.Code)
	assert.Contains(t, daily.Header().Get("Content-Type"), "text/csv")
	assert.Contains(t, daily.Body.String(), "summary,sales,1\n")
	assert.Contains(t, daily.Body.String(), "payment,cash_total_cents,2000\n")

	sellers := doJSON(t, api, http.MethodGet, "/api/v1/reports/sellers?to="+today, admin, nil)
	require.Equal(t, http.StatusOK, sellers.Code)
	var ranking domain.SellerRankingResponse
	require.NoError(t, json.NewDecoder(sellers.Body).Decode(&ranking))
	require.Len(t, ranking.Sellers, 1)
	assert.Equal(t, "Maria", ranking.Sellers[0].Name)

	abc := doJSON(t, api, http.MethodGet, "/api/v1/reports/customers-abc?format=csv&to="+today, admin, nil)
	require.Equal(t, http.StatusOK, abc.Code)
	lines := strings.Split(strings.TrimSpace(abc.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[1], "Ana,1698,1,"))
	assert.True(t, strings.HasSuffix(lines[1], ",100.00,100.00,C"))

	badRange := doJSON(t, api, http.MethodGet, "/api/v1/reports/sellers?from=2026-02-01&to=2026-01-01", admin, nil)
	assert.Equal(t, http.StatusBadRequest, badRange.Code)
}
