package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPending - заказ создан, сток уже списан.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusCompleted - заказ исполнен, статус финальный.
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusCancelled - заказ отменён, сток возвращён на склад.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// ParseOrderStatus разбирает статус из внешнего ввода.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	status := OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !status.Valid() {
		return "", fmt.Errorf("%w: unknown status %q (allowed: pending, completed, cancelled)", ErrInvalidRequest, raw)
	}
	return status, nil
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusCompleted, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// IsFinal сообщает, что из статуса больше нет переходов.
func (s OrderStatus) IsFinal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// CanTransitionTo проверяет переход по таблице состояний.
// Переход pending -> pending допустим и означает no-op.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if s != OrderStatusPending {
		return false
	}
	return next.Valid()
}

// OrderItem представляет одну позицию заказа.
type OrderItem struct {
	ID        string
	OrderID   string
	ProductID string
	// LineNo - позиция в исходном запросе, начиная с 1.
	LineNo   int
	Quantity int32
	// PricePerItem - снимок цены товара на момент создания заказа.
	PricePerItem decimal.Decimal
}

// LineTotal возвращает quantity * price_per_item.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.PricePerItem.Mul(decimal.NewFromInt32(i.Quantity))
}

// Order агрегирует заголовок заказа и его позиции.
type Order struct {
	ID          string
	CustomerID  string
	TotalAmount decimal.Decimal
	Status      OrderStatus
	CreatedAt   time.Time
	Items       []OrderItem
}

// ItemsTotal считает сумму позиций заказа.
func (o *Order) ItemsTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.LineTotal())
	}
	return total
}

// ValidateInvariants проверяет инварианты собранного заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.CustomerID == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if !o.Status.Valid() {
		errs = append(errs, ErrStatusInvalid)
	}
	if !o.TotalAmount.IsPositive() {
		errs = append(errs, ErrAmountNotPositive)
	}

	for _, item := range o.Items {
		if item.Quantity <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.PricePerItem.IsNegative() {
			errs = append(errs, ErrItemPriceInvalid)
		}
	}
	if !o.ItemsTotal().Equal(o.TotalAmount) {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}

// ItemRequest - одна позиция во входящем запросе на создание заказа.
type ItemRequest struct {
	ProductID string
	Quantity  int32
}

// CreateOrderRequest - запрос на создание заказа.
type CreateOrderRequest struct {
	CustomerID string
	Items      []ItemRequest
}

// Validate проверяет запрос без обращения к хранилищу.
func (r CreateOrderRequest) Validate() error {
	if strings.TrimSpace(r.CustomerID) == "" {
		return fmt.Errorf("%w: customer_id is required", ErrInvalidRequest)
	}
	if len(r.Items) == 0 {
		return fmt.Errorf("%w: items must not be empty", ErrInvalidRequest)
	}

	seen := make(map[string]int, len(r.Items))
	for i, item := range r.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return fmt.Errorf("%w: items[%d]: product_id is required", ErrInvalidRequest, i)
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: items[%d]: quantity must be greater than zero", ErrInvalidRequest, i)
		}
		if first, ok := seen[item.ProductID]; ok {
			return fmt.Errorf("%w: items[%d]: product %s duplicates items[%d]", ErrInvalidRequest, i, item.ProductID, first)
		}
		seen[item.ProductID] = i
	}

	return nil
}

// ProductIDs возвращает идентификаторы товаров в порядке запроса.
func (r CreateOrderRequest) ProductIDs() []string {
	ids := make([]string, 0, len(r.Items))
	for _, item := range r.Items {
		ids = append(ids, item.ProductID)
	}
	return ids
}
