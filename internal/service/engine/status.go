package engine

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/ordertx/internal/domain"
)

// StatusChange описывает применённый переход статуса.
type StatusChange struct {
	OrderID       string
	From          domain.OrderStatus
	To            domain.OrderStatus
	StockRestored bool
}

// UpdateStatus переводит заказ в новый статус. Отмена возвращает сток в той же транзакции.
func (e *Engine) UpdateStatus(ctx context.Context, orderID string, target domain.OrderStatus) (StatusChange, error) {
	started := time.Now()
	ctx, span := e.tracer.Start(ctx, "engine.UpdateStatus", trace.WithAttributes(
		attribute.String("order_id", orderID),
		attribute.String("target_status", string(target)),
	))

	var (
		change   StatusChange
		restored int64
	)
	err := validateStatusRequest(orderID, target)
	if err == nil {
		err = e.runUnit(ctx, func(ctx context.Context, tx domain.Tx) error {
			applied, units, err := e.updateStatusInTx(ctx, tx, orderID, target)
			if err != nil {
				return err
			}
			change, restored = applied, units
			return nil
		})
	}

	e.finish(span, operationUpdateStatus, started, err, log.Fields{
		"order_id": orderID,
		"to":       string(target),
	})
	if err != nil {
		return StatusChange{}, err
	}

	if change.From == change.To {
		return change, nil
	}

	e.metrics.RecordStatusChange(string(change.To))
	e.metrics.RecordStockRestored(restored)
	e.logger.WithFields(log.Fields{
		"order_id":       change.OrderID,
		"from":           string(change.From),
		"to":             string(change.To),
		"stock_restored": change.StockRestored,
	}).Info("order status changed")

	return change, nil
}

func validateStatusRequest(orderID string, target domain.OrderStatus) error {
	if strings.TrimSpace(orderID) == "" {
		return fmt.Errorf("%w: order id is required", domain.ErrInvalidRequest)
	}
	if !target.Valid() {
		return fmt.Errorf("%w: unknown status %q", domain.ErrInvalidRequest, target)
	}
	return nil
}

func (e *Engine) updateStatusInTx(ctx context.Context, tx domain.Tx, orderID string, target domain.OrderStatus) (StatusChange, int64, error) {
	order, err := tx.Orders().GetForUpdate(ctx, orderID)
	if err != nil {
		return StatusChange{}, 0, err
	}

	change := StatusChange{OrderID: order.ID, From: order.Status, To: target}
	if !order.Status.CanTransitionTo(target) {
		return StatusChange{}, 0, &domain.TransitionError{OrderID: order.ID, From: order.Status, To: target}
	}
	if order.Status == target {
		return change, 0, nil
	}

	var restored int64
	eventType := domain.EventTypeOrderStatusChanged
	if target == domain.OrderStatusCancelled {
		restored, err = restoreStock(ctx, tx, order)
		if err != nil {
			return StatusChange{}, 0, err
		}
		change.StockRestored = true
		eventType = domain.EventTypeOrderCancelled
	}

	affected, err := tx.Orders().UpdateStatus(ctx, order.ID, order.Status, target)
	if err != nil {
		return StatusChange{}, 0, fmt.Errorf("update status: %w", err)
	}
	if affected == 0 {
		return StatusChange{}, 0, fmt.Errorf("%w: order %s changed status under lock", domain.ErrInvariantViolation, order.ID)
	}

	order.Status = target
	event := domain.NewOrderEvent(eventType, order, e.now())
	event.PreviousStatus = change.From
	event.StockRestored = change.StockRestored
	if err := e.enqueue(ctx, tx, event); err != nil {
		return StatusChange{}, 0, err
	}

	return change, restored, nil
}

// restoreStock возвращает на склад позиции заказа и отдаёт число возвращённых единиц.
// Строки товаров меняются в порядке id, как их блокирует ProductStore.GetByIDs,
// иначе встречные отмена и создание заказа могут взять блокировки крест-накрест.
func restoreStock(ctx context.Context, tx domain.Tx, order domain.Order) (int64, error) {
	quantities := make(map[string]int32, len(order.Items))
	for _, item := range order.Items {
		quantities[item.ProductID] += item.Quantity
	}

	var units int64
	for _, productID := range slices.Sorted(maps.Keys(quantities)) {
		qty := quantities[productID]
		affected, err := tx.Products().IncrementStock(ctx, productID, qty)
		if err != nil {
			return 0, fmt.Errorf("restore stock for %s: %w", productID, err)
		}
		if affected == 0 {
			return 0, fmt.Errorf("%w: product %s of order %s is missing", domain.ErrInvariantViolation, productID, order.ID)
		}
		units += int64(qty)
	}
	return units, nil
}
