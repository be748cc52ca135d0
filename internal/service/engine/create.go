package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/ordertx/internal/domain"
)

// CreateOrderResult - итог успешного создания заказа.
type CreateOrderResult struct {
	OrderID     string
	TotalAmount decimal.Decimal
	Status      domain.OrderStatus
	CreatedAt   time.Time
}

// CreateOrder проверяет запрос, списывает сток и сохраняет заказ с позициями одной транзакцией.
// Любой отказ оставляет хранилище без изменений.
func (e *Engine) CreateOrder(ctx context.Context, req domain.CreateOrderRequest) (CreateOrderResult, error) {
	started := time.Now()
	ctx, span := e.tracer.Start(ctx, "engine.CreateOrder", trace.WithAttributes(
		attribute.String("customer_id", req.CustomerID),
		attribute.Int("items", len(req.Items)),
	))

	var order domain.Order
	err := req.Validate()
	if err == nil {
		err = e.runUnit(ctx, func(ctx context.Context, tx domain.Tx) error {
			created, err := e.createInTx(ctx, tx, req)
			if err != nil {
				return err
			}
			order = created
			return nil
		})
	}

	if err == nil {
		span.SetAttributes(attribute.String("order_id", order.ID))
	}
	e.finish(span, operationCreate, started, err, log.Fields{"customer_id": req.CustomerID})
	if err != nil {
		return CreateOrderResult{}, err
	}

	var units int64
	for _, item := range order.Items {
		units += int64(item.Quantity)
	}
	e.metrics.RecordOrderCreated(units)
	e.logger.WithFields(log.Fields{
		"order_id":     order.ID,
		"customer_id":  order.CustomerID,
		"total_amount": order.TotalAmount.String(),
		"items":        len(order.Items),
	}).Info("order created")

	return CreateOrderResult{
		OrderID:     order.ID,
		TotalAmount: order.TotalAmount,
		Status:      order.Status,
		CreatedAt:   order.CreatedAt,
	}, nil
}

func (e *Engine) createInTx(ctx context.Context, tx domain.Tx, req domain.CreateOrderRequest) (domain.Order, error) {
	exists, err := tx.Customers().Exists(ctx, req.CustomerID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("check customer: %w", err)
	}
	if !exists {
		return domain.Order{}, &domain.CustomerNotFoundError{CustomerID: req.CustomerID}
	}

	ids := req.ProductIDs()
	products, err := tx.Products().GetByIDs(ctx, ids)
	if err != nil {
		return domain.Order{}, fmt.Errorf("load products: %w", err)
	}
	for _, id := range ids {
		if _, ok := products[id]; !ok {
			return domain.Order{}, &domain.ProductNotFoundError{ProductID: id}
		}
	}

	for _, item := range req.Items {
		product := products[item.ProductID]
		if product.Stock < int64(item.Quantity) {
			return domain.Order{}, &domain.InsufficientStockError{
				ProductID:   product.ID,
				ProductName: product.Name,
				Available:   product.Stock,
				Requested:   item.Quantity,
			}
		}
	}

	order := e.buildOrder(req, products)
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.Order{}, fmt.Errorf("%w: order %s: %w", domain.ErrInvariantViolation, order.ID, errors.Join(errs...))
	}

	if err := tx.Orders().Insert(ctx, order); err != nil {
		return domain.Order{}, fmt.Errorf("insert order: %w", err)
	}

	for _, item := range order.Items {
		affected, err := tx.Products().DecrementStock(ctx, item.ProductID, item.Quantity)
		if err != nil {
			return domain.Order{}, fmt.Errorf("decrement stock for %s: %w", item.ProductID, err)
		}
		if affected == 0 {
			product := products[item.ProductID]
			return domain.Order{}, &domain.InsufficientStockError{
				ProductID:   product.ID,
				ProductName: product.Name,
				Available:   product.Stock,
				Requested:   item.Quantity,
			}
		}
	}

	if err := e.enqueue(ctx, tx, domain.NewOrderEvent(domain.EventTypeOrderCreated, order, order.CreatedAt)); err != nil {
		return domain.Order{}, err
	}

	return order, nil
}

// buildOrder собирает заказ по снимку цен, прочитанному в этой же транзакции.
func (e *Engine) buildOrder(req domain.CreateOrderRequest, products map[string]domain.Product) domain.Order {
	order := domain.Order{
		ID:         e.newID(),
		CustomerID: req.CustomerID,
		Status:     domain.OrderStatusPending,
		CreatedAt:  e.now().UTC(),
		Items:      make([]domain.OrderItem, 0, len(req.Items)),
	}

	total := decimal.Zero
	for i, item := range req.Items {
		price := products[item.ProductID].Price
		order.Items = append(order.Items, domain.OrderItem{
			ID:           e.newID(),
			OrderID:      order.ID,
			ProductID:    item.ProductID,
			LineNo:       i + 1,
			Quantity:     item.Quantity,
			PricePerItem: price,
		})
		total = total.Add(price.Mul(decimal.NewFromInt32(item.Quantity)))
	}
	order.TotalAmount = total

	return order
}
