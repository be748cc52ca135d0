package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/ordertx/internal/domain"
)

// DeleteResult - итог удаления заказа.
type DeleteResult struct {
	OrderID       string
	StockRestored bool
}

// DeleteOrder удаляет заказ с позициями. Сток возвращается, если заказ не был отменён раньше.
func (e *Engine) DeleteOrder(ctx context.Context, orderID string) (DeleteResult, error) {
	started := time.Now()
	ctx, span := e.tracer.Start(ctx, "engine.DeleteOrder", trace.WithAttributes(
		attribute.String("order_id", orderID),
	))

	var (
		result   DeleteResult
		restored int64
	)
	var err error
	if strings.TrimSpace(orderID) == "" {
		err = fmt.Errorf("%w: order id is required", domain.ErrInvalidRequest)
	} else {
		err = e.runUnit(ctx, func(ctx context.Context, tx domain.Tx) error {
			deleted, units, err := e.deleteInTx(ctx, tx, orderID)
			if err != nil {
				return err
			}
			result, restored = deleted, units
			return nil
		})
	}

	e.finish(span, operationDelete, started, err, log.Fields{"order_id": orderID})
	if err != nil {
		return DeleteResult{}, err
	}

	e.metrics.RecordOrderDeleted()
	e.metrics.RecordStockRestored(restored)
	e.logger.WithFields(log.Fields{
		"order_id":       result.OrderID,
		"stock_restored": result.StockRestored,
	}).Info("order deleted")

	return result, nil
}

func (e *Engine) deleteInTx(ctx context.Context, tx domain.Tx, orderID string) (DeleteResult, int64, error) {
	order, err := tx.Orders().GetForUpdate(ctx, orderID)
	if err != nil {
		return DeleteResult{}, 0, err
	}

	result := DeleteResult{OrderID: order.ID}
	var restored int64
	// Отменённый заказ уже вернул сток при отмене.
	if order.Status != domain.OrderStatusCancelled {
		restored, err = restoreStock(ctx, tx, order)
		if err != nil {
			return DeleteResult{}, 0, err
		}
		result.StockRestored = len(order.Items) > 0
	}

	affected, err := tx.Orders().Delete(ctx, order.ID)
	if err != nil {
		return DeleteResult{}, 0, fmt.Errorf("delete order: %w", err)
	}
	if affected == 0 {
		return DeleteResult{}, 0, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, order.ID)
	}

	event := domain.NewOrderEvent(domain.EventTypeOrderDeleted, order, e.now())
	event.StockRestored = result.StockRestored
	if err := e.enqueue(ctx, tx, event); err != nil {
		return DeleteResult{}, 0, err
	}

	return result, restored, nil
}
