package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/ordertx/internal/domain"
	"github.com/vladislavdragonenkov/ordertx/internal/httpapi"
	"github.com/vladislavdragonenkov/ordertx/internal/service/engine"
	"github.com/vladislavdragonenkov/ordertx/internal/service/idempotency"
	"github.com/vladislavdragonenkov/ordertx/internal/service/query"
	"github.com/vladislavdragonenkov/ordertx/internal/storage/memory"
)

func quietLogger() *log.Entry {
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	return logger.WithField("component", "http-test")
}

type errorResponse struct {
	Error struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

type createdResponse struct {
	OrderID     string          `json:"order_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Status      string          `json:"status"`
}

type orderResponse struct {
	ID          string          `json:"id"`
	CustomerID  string          `json:"customer_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Status      string          `json:"status"`
	Items       []struct {
		ProductID    string          `json:"product_id"`
		ProductName  string          `json:"product_name"`
		LineNo       int             `json:"line_no"`
		Quantity     int32           `json:"quantity"`
		PricePerItem decimal.Decimal `json:"price_per_item"`
	} `json:"items"`
}

type HandlerSuite struct {
	suite.Suite

	store  *memory.Store
	guard  *idempotency.Guard
	server *httptest.Server
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.store = memory.NewStore()
	s.Require().NoError(s.store.SeedCatalog(context.Background(),
		[]domain.Customer{{ID: "customer-1", Name: "Ann"}, {ID: "customer-2", Name: "Bob"}},
		[]domain.Product{
			{ID: "p-keyboard", Name: "Keyboard", Price: decimal.RequireFromString("49.90"), Stock: 10},
			{ID: "p-mouse", Name: "Mouse", Price: decimal.RequireFromString("19.99"), Stock: 3},
		},
	))

	clock := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	eng := engine.New(s.store,
		engine.WithLogger(quietLogger()),
		engine.WithClock(func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		}),
	)
	s.guard = idempotency.NewGuard(memory.NewIdempotencyRepository(), time.Hour, quietLogger())

	handler := httpapi.NewHandler(eng, query.NewService(s.store, quietLogger(), nil),
		httpapi.WithLogger(quietLogger()),
		httpapi.WithIdempotency(s.guard),
	)
	s.server = httptest.NewServer(handler.Routes())
}

func (s *HandlerSuite) TearDownTest() {
	s.server.Close()
}

func (s *HandlerSuite) do(method, path, body string, headers map[string]string) *http.Response {
	req, err := http.NewRequest(method, s.server.URL+path, strings.NewReader(body))
	s.Require().NoError(err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := s.server.Client().Do(req)
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (s *HandlerSuite) decode(resp *http.Response, v any) {
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(v))
}

func (s *HandlerSuite) expectError(resp *http.Response, status int, kind string) errorResponse {
	s.Require().Equal(status, resp.StatusCode)
	var body errorResponse
	s.decode(resp, &body)
	s.Require().Equal(kind, body.Error.Kind)
	return body
}

func (s *HandlerSuite) createOrder(body string) createdResponse {
	resp := s.do(http.MethodPost, "/api/orders", body, nil)
	s.Require().Equal(http.StatusCreated, resp.StatusCode)
	var created createdResponse
	s.decode(resp, &created)
	return created
}

func (s *HandlerSuite) stock(productID string) int64 {
	product, ok := s.store.Product(productID)
	s.Require().True(ok)
	return product.Stock
}

const keyboardAndMouse = `{"customer_id":"customer-1","items":[{"product_id":"p-keyboard","quantity":2},{"product_id":"p-mouse","quantity":1}]}`

func (s *HandlerSuite) TestCreateOrder() {
	created := s.createOrder(keyboardAndMouse)

	s.Require().NotEmpty(created.OrderID)
	s.Require().True(decimal.RequireFromString("119.79").Equal(created.TotalAmount))
	s.Require().Equal("pending", created.Status)
	s.Require().Equal(int64(8), s.stock("p-keyboard"))
	s.Require().Equal(int64(2), s.stock("p-mouse"))
}

func (s *HandlerSuite) TestCreateOrder_Rejections() {
	cases := []struct {
		name   string
		body   string
		status int
		kind   string
	}{
		{"malformed json", `{"customer_id":`, http.StatusBadRequest, "invalid_request"},
		{"no items", `{"customer_id":"customer-1","items":[]}`, http.StatusBadRequest, "invalid_request"},
		{"unknown customer", `{"customer_id":"ghost","items":[{"product_id":"p-mouse","quantity":1}]}`, http.StatusNotFound, "customer_not_found"},
		{"unknown product", `{"customer_id":"customer-1","items":[{"product_id":"p-ghost","quantity":1}]}`, http.StatusNotFound, "product_not_found"},
		{"insufficient stock", `{"customer_id":"customer-1","items":[{"product_id":"p-mouse","quantity":4}]}`, http.StatusConflict, "insufficient_stock"},
	}

	for _, tc := range cases {
		s.Run(tc.name, func() {
			resp := s.do(http.MethodPost, "/api/orders", tc.body, nil)
			body := s.expectError(resp, tc.status, tc.kind)
			s.Require().NotEmpty(body.Error.Message)
		})
	}
	s.Require().Equal(int64(3), s.stock("p-mouse"))
	s.Require().Zero(s.store.OrderCount())
}

func (s *HandlerSuite) TestGetOrder() {
	created := s.createOrder(keyboardAndMouse)

	resp := s.do(http.MethodGet, "/api/orders/"+created.OrderID, "", nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	var order orderResponse
	s.decode(resp, &order)
	s.Require().Equal(created.OrderID, order.ID)
	s.Require().Len(order.Items, 2)
	s.Require().Equal("Keyboard", order.Items[0].ProductName)
	s.Require().Equal(1, order.Items[0].LineNo)
	s.Require().True(decimal.RequireFromString("19.99").Equal(order.Items[1].PricePerItem))

	s.expectError(s.do(http.MethodGet, "/api/orders/missing", "", nil), http.StatusNotFound, "order_not_found")
}

func (s *HandlerSuite) TestListOrders() {
	first := s.createOrder(`{"customer_id":"customer-1","items":[{"product_id":"p-keyboard","quantity":1}]}`)
	second := s.createOrder(`{"customer_id":"customer-2","items":[{"product_id":"p-keyboard","quantity":1}]}`)

	resp := s.do(http.MethodGet, "/api/orders", "", nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var all []orderResponse
	s.decode(resp, &all)
	s.Require().Len(all, 2)
	s.Require().Equal(second.OrderID, all[0].ID)
	s.Require().Equal(first.OrderID, all[1].ID)

	resp = s.do(http.MethodGet, "/api/orders?limit=1", "", nil)
	var limited []orderResponse
	s.decode(resp, &limited)
	s.Require().Len(limited, 1)

	s.expectError(s.do(http.MethodGet, "/api/orders?limit=abc", "", nil), http.StatusBadRequest, "invalid_request")
	s.expectError(s.do(http.MethodGet, "/api/orders?limit=-2", "", nil), http.StatusBadRequest, "invalid_request")
}

func (s *HandlerSuite) TestListOrders_EmptyIsArray() {
	resp := s.do(http.MethodGet, "/api/orders", "", nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	var raw bytes.Buffer
	_, err := raw.ReadFrom(resp.Body)
	s.Require().NoError(err)
	s.Require().JSONEq(`[]`, raw.String())
}

func (s *HandlerSuite) TestCustomerOrders() {
	created := s.createOrder(keyboardAndMouse)

	resp := s.do(http.MethodGet, "/api/customers/customer-1/orders", "", nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var orders []orderResponse
	s.decode(resp, &orders)
	s.Require().Len(orders, 1)
	s.Require().Equal(created.OrderID, orders[0].ID)

	s.expectError(s.do(http.MethodGet, "/api/customers/customer-2/orders", "", nil), http.StatusNotFound, "order_not_found")
}

func (s *HandlerSuite) TestUpdateStatus() {
	created := s.createOrder(keyboardAndMouse)
	path := "/api/orders/" + created.OrderID + "/status"

	resp := s.do(http.MethodPatch, path, `{"status":"cancelled"}`, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var change struct {
		OrderID       string `json:"order_id"`
		From          string `json:"from"`
		To            string `json:"to"`
		StockRestored bool   `json:"stock_restored"`
	}
	s.decode(resp, &change)
	s.Require().Equal("pending", change.From)
	s.Require().Equal("cancelled", change.To)
	s.Require().True(change.StockRestored)
	s.Require().Equal(int64(10), s.stock("p-keyboard"))

	s.expectError(s.do(http.MethodPatch, path, `{"status":"cancelled"}`, nil), http.StatusConflict, "order_finalized")
	s.Require().Equal(int64(10), s.stock("p-keyboard"))

	s.expectError(s.do(http.MethodPatch, path, `{"status":"shipped"}`, nil), http.StatusBadRequest, "invalid_request")
	s.expectError(s.do(http.MethodPatch, path, `not json`, nil), http.StatusBadRequest, "invalid_request")
	s.expectError(s.do(http.MethodPatch, "/api/orders/missing/status", `{"status":"completed"}`, nil), http.StatusNotFound, "order_not_found")
}

func (s *HandlerSuite) TestDeleteOrder() {
	created := s.createOrder(keyboardAndMouse)

	resp := s.do(http.MethodDelete, "/api/orders/"+created.OrderID, "", nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var result struct {
		OrderID       string `json:"order_id"`
		StockRestored bool   `json:"stock_restored"`
	}
	s.decode(resp, &result)
	s.Require().Equal(created.OrderID, result.OrderID)
	s.Require().True(result.StockRestored)
	s.Require().Equal(int64(3), s.stock("p-mouse"))

	s.expectError(s.do(http.MethodDelete, "/api/orders/"+created.OrderID, "", nil), http.StatusNotFound, "order_not_found")
}

func (s *HandlerSuite) TestIdempotentCreateReplaysFirstResponse() {
	headers := map[string]string{httpapi.HeaderIdempotencyKey: "key-1"}

	first := s.do(http.MethodPost, "/api/orders", keyboardAndMouse, headers)
	s.Require().Equal(http.StatusCreated, first.StatusCode)
	var firstBody createdResponse
	s.decode(first, &firstBody)

	second := s.do(http.MethodPost, "/api/orders", keyboardAndMouse, headers)
	s.Require().Equal(http.StatusCreated, second.StatusCode)
	s.Require().Equal("true", second.Header.Get(httpapi.HeaderIdempotentReplay))
	var secondBody createdResponse
	s.decode(second, &secondBody)

	s.Require().Equal(firstBody.OrderID, secondBody.OrderID)
	s.Require().Equal(1, s.store.OrderCount())
	s.Require().Equal(int64(8), s.stock("p-keyboard"))
}

func (s *HandlerSuite) TestIdempotentCreateReplaysRejection() {
	headers := map[string]string{httpapi.HeaderIdempotencyKey: "key-stock"}
	body := `{"customer_id":"customer-1","items":[{"product_id":"p-mouse","quantity":5}]}`

	s.expectError(s.do(http.MethodPost, "/api/orders", body, headers), http.StatusConflict, "insufficient_stock")

	s.store.PutProduct(domain.Product{ID: "p-mouse", Name: "Mouse", Price: decimal.RequireFromString("19.99"), Stock: 50})
	replayed := s.do(http.MethodPost, "/api/orders", body, headers)
	s.Require().Equal("true", replayed.Header.Get(httpapi.HeaderIdempotentReplay))
	s.expectError(replayed, http.StatusConflict, "insufficient_stock")
	s.Require().Zero(s.store.OrderCount())
}

func (s *HandlerSuite) TestIdempotencyKeyReusedWithDifferentBody() {
	headers := map[string]string{httpapi.HeaderIdempotencyKey: "key-2"}
	s.Require().Equal(http.StatusCreated, s.do(http.MethodPost, "/api/orders", keyboardAndMouse, headers).StatusCode)

	other := `{"customer_id":"customer-2","items":[{"product_id":"p-keyboard","quantity":1}]}`
	s.expectError(s.do(http.MethodPost, "/api/orders", other, headers), http.StatusUnprocessableEntity, "idempotency_key_reused")
	s.Require().Equal(1, s.store.OrderCount())
}

func (s *HandlerSuite) TestIdempotencyKeyInFlight() {
	_, err := s.guard.Begin(context.Background(), "key-3", []byte(keyboardAndMouse))
	s.Require().NoError(err)

	resp := s.do(http.MethodPost, "/api/orders", keyboardAndMouse, map[string]string{httpapi.HeaderIdempotencyKey: "key-3"})
	s.expectError(resp, http.StatusConflict, "idempotency_key_in_flight")
	s.Require().Zero(s.store.OrderCount())
}

func (s *HandlerSuite) TestUnknownRoute() {
	s.expectError(s.do(http.MethodGet, "/api/unknown", "", nil), http.StatusNotFound, "route_not_found")
	s.expectError(s.do(http.MethodPut, "/api/orders", "", nil), http.StatusMethodNotAllowed, "method_not_allowed")
}

// flakyCommands возвращает заданную ошибку, пока failures > 0.
type flakyCommands struct {
	err      error
	failures int
	calls    int
}

func (f *flakyCommands) CreateOrder(context.Context, domain.CreateOrderRequest) (engine.CreateOrderResult, error) {
	f.calls++
	if f.failures > 0 {
		f.failures--
		return engine.CreateOrderResult{}, f.err
	}
	return engine.CreateOrderResult{OrderID: "order-1", TotalAmount: decimal.RequireFromString("1.00"), Status: domain.OrderStatusPending}, nil
}

func (f *flakyCommands) UpdateStatus(context.Context, string, domain.OrderStatus) (engine.StatusChange, error) {
	return engine.StatusChange{}, f.err
}

func (f *flakyCommands) DeleteOrder(context.Context, string) (engine.DeleteResult, error) {
	return engine.DeleteResult{}, f.err
}

type emptyQueries struct{}

func (emptyQueries) GetByID(context.Context, string) (domain.OrderView, error) {
	return domain.OrderView{}, domain.ErrOrderNotFound
}

func (emptyQueries) GetByCustomer(context.Context, string, query.ListOptions) ([]domain.OrderView, error) {
	return nil, domain.ErrOrderNotFound
}

func (emptyQueries) GetAll(context.Context, query.ListOptions) ([]domain.OrderView, error) {
	return []domain.OrderView{}, nil
}

func TestCreateOrder_TransientFailureReleasesKey(t *testing.T) {
	commands := &flakyCommands{
		err:      fmt.Errorf("%w: begin tx: dial tcp 10.0.0.5:5432: connection refused", domain.ErrTransientStoreFailure),
		failures: 1,
	}
	guard := idempotency.NewGuard(memory.NewIdempotencyRepository(), time.Hour, quietLogger())
	router := httpapi.NewHandler(commands, emptyQueries{}, httpapi.WithLogger(quietLogger()), httpapi.WithIdempotency(guard)).Routes()

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(keyboardAndMouse))
		req.Header.Set(httpapi.HeaderIdempotencyKey, "key-retry")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	failed := send()
	require.Equal(t, http.StatusServiceUnavailable, failed.Code)
	require.NotContains(t, failed.Body.String(), "10.0.0.5")
	require.Contains(t, failed.Body.String(), "transient_store_failure")

	retried := send()
	require.Equal(t, http.StatusCreated, retried.Code)
	require.Empty(t, retried.Header().Get(httpapi.HeaderIdempotentReplay))
	require.Equal(t, 2, commands.calls)
}

func TestInvariantViolationIsInternalError(t *testing.T) {
	commands := &flakyCommands{err: fmt.Errorf("%w: order o-1 changed status under lock", domain.ErrInvariantViolation)}
	router := httpapi.NewHandler(commands, emptyQueries{}, httpapi.WithLogger(quietLogger())).Routes()

	req := httptest.NewRequest(http.MethodDelete, "/api/orders/o-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.JSONEq(t, `{"error":{"kind":"invariant_violation","message":"internal error"}}`, rec.Body.String())
}

// ctxAwareIdempotency отказывает в записи на отменённом контексте, как postgres и redis.
type ctxAwareIdempotency struct {
	domain.IdempotencyRepository
}

func (r ctxAwareIdempotency) MarkDone(ctx context.Context, key string, body []byte, status int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.IdempotencyRepository.MarkDone(ctx, key, body, status)
}

// slowCommands фиксирует заказ уже после истечения таймаута запроса.
type slowCommands struct {
	flakyCommands
	delay time.Duration
}

func (c *slowCommands) CreateOrder(ctx context.Context, req domain.CreateOrderRequest) (engine.CreateOrderResult, error) {
	time.Sleep(c.delay)
	return c.flakyCommands.CreateOrder(ctx, req)
}

func TestCreateOrder_KeyFinalizedAfterRequestTimeout(t *testing.T) {
	commands := &slowCommands{delay: 40 * time.Millisecond}
	guard := idempotency.NewGuard(ctxAwareIdempotency{memory.NewIdempotencyRepository()}, time.Hour, quietLogger())
	router := httpapi.NewHandler(commands, emptyQueries{},
		httpapi.WithLogger(quietLogger()),
		httpapi.WithIdempotency(guard),
		httpapi.WithRequestTimeout(20*time.Millisecond),
	).Routes()

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(keyboardAndMouse))
		req.Header.Set(httpapi.HeaderIdempotencyKey, "key-slow")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	first := send()
	require.Equal(t, http.StatusCreated, first.Code)

	retried := send()
	require.Equal(t, http.StatusCreated, retried.Code, retried.Body.String())
	require.Equal(t, "true", retried.Header().Get(httpapi.HeaderIdempotentReplay))
	require.Equal(t, 1, commands.calls)
}
