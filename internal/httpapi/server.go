package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordertx/internal/domain"
	"github.com/vladislavdragonenkov/ordertx/internal/service/engine"
	"github.com/vladislavdragonenkov/ordertx/internal/service/idempotency"
	"github.com/vladislavdragonenkov/ordertx/internal/service/query"
)

const (
	defaultRequestTimeout = 15 * time.Second
	maxBodyBytes          = 1 << 20

	// HeaderIdempotencyKey - заголовок запроса с ключом идемпотентности.
	HeaderIdempotencyKey = "Idempotency-Key"
	// HeaderIdempotentReplay выставляется, когда ответ взят из сохранённого результата.
	HeaderIdempotentReplay = "Idempotent-Replayed"
)

// OrderCommands - мутации заказов.
type OrderCommands interface {
	CreateOrder(ctx context.Context, req domain.CreateOrderRequest) (engine.CreateOrderResult, error)
	UpdateStatus(ctx context.Context, orderID string, target domain.OrderStatus) (engine.StatusChange, error)
	DeleteOrder(ctx context.Context, orderID string) (engine.DeleteResult, error)
}

// OrderQueries - чтение заказов.
type OrderQueries interface {
	GetByID(ctx context.Context, orderID string) (domain.OrderView, error)
	GetByCustomer(ctx context.Context, customerID string, opts query.ListOptions) ([]domain.OrderView, error)
	GetAll(ctx context.Context, opts query.ListOptions) ([]domain.OrderView, error)
}

// Options задаёт необязательные зависимости Handler.
type Options struct {
	Logger         *log.Entry
	Guard          *idempotency.Guard
	RequestTimeout time.Duration
}

// Option настраивает Handler.
type Option func(*Options)

// WithLogger задаёт logger HTTP-слоя.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithIdempotency включает обработку Idempotency-Key для POST /api/orders.
func WithIdempotency(guard *idempotency.Guard) Option {
	return func(opts *Options) {
		opts.Guard = guard
	}
}

// WithRequestTimeout ограничивает длительность обработки запроса.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(opts *Options) {
		opts.RequestTimeout = timeout
	}
}

// Handler - HTTP-адаптер над движком и read-side.
type Handler struct {
	commands OrderCommands
	queries  OrderQueries
	guard    *idempotency.Guard
	logger   *log.Entry
	timeout  time.Duration
}

// NewHandler создаёт HTTP-адаптер.
func NewHandler(commands OrderCommands, queries OrderQueries, options ...Option) *Handler {
	opts := Options{RequestTimeout: defaultRequestTimeout}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "http")
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}

	return &Handler{
		commands: commands,
		queries:  queries,
		guard:    opts.Guard,
		logger:   logger,
		timeout:  opts.RequestTimeout,
	}
}

// Routes собирает chi-роутер со всеми маршрутами API.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, h.logRequests, middleware.Recoverer)
	r.Use(middleware.Timeout(h.timeout))

	// Обработчики должны быть заданы до Route: chi копирует их в подроутеры при монтировании.
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeErrorKind(w, http.StatusNotFound, "route_not_found", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeErrorKind(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.createOrder)
			r.Get("/", h.listOrders)
			r.Get("/{id}", h.getOrder)
			r.Patch("/{id}/status", h.updateStatus)
			r.Delete("/{id}", h.deleteOrder)
		})
		r.Get("/customers/{id}/orders", h.listCustomerOrders)
	})

	return r
}

// logRequests пишет access-лог через logrus.
func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		h.requestLogger(r).WithFields(log.Fields{
			"status":      ww.Status(),
			"bytes":       ww.BytesWritten(),
			"duration_ms": time.Since(started).Milliseconds(),
		}).Debug("http request served")
	})
}

func requestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}
