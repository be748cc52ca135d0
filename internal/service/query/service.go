package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/ordertx/internal/domain"
	"github.com/vladislavdragonenkov/ordertx/internal/metrics"
)

const (
	tracerName = "github.com/vladislavdragonenkov/ordertx/internal/service/query"

	operationGetByID       = "get_order"
	operationGetByCustomer = "list_customer_orders"
	operationGetAll        = "list_orders"
)

// ListOptions задаёт пагинацию списков. Limit=0 означает без ограничения.
type ListOptions struct {
	Limit int
}

// Service - read-side заказов: плоские строки хранилища группируются в OrderView.
type Service struct {
	reader  domain.OrderReader
	logger  *log.Entry
	metrics *metrics.OrderMetrics
	tracer  trace.Tracer
}

// NewService создаёт сервис чтения заказов.
func NewService(reader domain.OrderReader, logger *log.Entry, m *metrics.OrderMetrics) *Service {
	if logger == nil {
		logger = log.WithField("component", "query")
	}
	return &Service{
		reader:  reader,
		logger:  logger,
		metrics: m,
		tracer:  otel.Tracer(tracerName),
	}
}

// GetByID возвращает заказ с позициями; ErrOrderNotFound, если заказа нет.
func (s *Service) GetByID(ctx context.Context, orderID string) (domain.OrderView, error) {
	if strings.TrimSpace(orderID) == "" {
		return domain.OrderView{}, fmt.Errorf("%w: order id is required", domain.ErrInvalidRequest)
	}

	views, err := s.find(ctx, operationGetByID, domain.OrderFilter{OrderID: orderID})
	if err != nil {
		return domain.OrderView{}, err
	}
	if len(views) == 0 {
		return domain.OrderView{}, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, orderID)
	}
	return views[0], nil
}

// GetByCustomer возвращает заказы клиента, новые первыми; ErrOrderNotFound, если заказов нет.
func (s *Service) GetByCustomer(ctx context.Context, customerID string, opts ListOptions) ([]domain.OrderView, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, fmt.Errorf("%w: customer id is required", domain.ErrInvalidRequest)
	}
	if opts.Limit < 0 {
		return nil, fmt.Errorf("%w: limit must not be negative", domain.ErrInvalidRequest)
	}

	views, err := s.find(ctx, operationGetByCustomer, domain.OrderFilter{CustomerID: customerID, Limit: opts.Limit})
	if err != nil {
		return nil, err
	}
	if len(views) == 0 {
		return nil, fmt.Errorf("%w: no orders for customer %s", domain.ErrOrderNotFound, customerID)
	}
	return views, nil
}

// GetAll возвращает все заказы, новые первыми. Пустое хранилище даёт пустой список.
func (s *Service) GetAll(ctx context.Context, opts ListOptions) ([]domain.OrderView, error) {
	if opts.Limit < 0 {
		return nil, fmt.Errorf("%w: limit must not be negative", domain.ErrInvalidRequest)
	}
	return s.find(ctx, operationGetAll, domain.OrderFilter{Limit: opts.Limit})
}

func (s *Service) find(ctx context.Context, operation string, filter domain.OrderFilter) ([]domain.OrderView, error) {
	started := time.Now()
	ctx, span := s.tracer.Start(ctx, "query."+operation, trace.WithAttributes(
		attribute.String("order_id", filter.OrderID),
		attribute.String("customer_id", filter.CustomerID),
		attribute.Int("limit", filter.Limit),
	))
	defer span.End()

	rows, err := s.reader.FindRows(ctx, filter)
	s.metrics.RecordOperationDuration(operation, time.Since(started))
	if err != nil {
		err = fmt.Errorf("%w: read orders: %w", domain.ErrTransientStoreFailure, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(domain.KindTransientStoreFailure))
		s.metrics.RecordFailure(operation, string(domain.KindTransientStoreFailure))
		s.logger.WithError(err).WithField("operation", operation).Error("order read failed")
		return nil, err
	}

	views := GroupRows(rows)
	span.SetAttributes(attribute.Int("orders", len(views)))
	span.SetStatus(codes.Ok, "")
	return views, nil
}
