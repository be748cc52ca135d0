package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderFilter ограничивает выборку read-side.
// Пустые поля не фильтруют; Limit ограничивает число заказов, а не строк.
type OrderFilter struct {
	OrderID    string
	CustomerID string
	Limit      int
}

// OrderRow - одна строка соединения заказ + позиция + товар.
// Для заказа без позиций HasItem=false и поля позиции пустые.
type OrderRow struct {
	OrderID     string
	CustomerID  string
	TotalAmount decimal.Decimal
	Status      OrderStatus
	CreatedAt   time.Time

	HasItem      bool
	ItemID       string
	ProductID    string
	ProductName  string
	LineNo       int
	Quantity     int32
	PricePerItem decimal.Decimal
}

// OrderView - заказ в форме ответа read-side.
type OrderView struct {
	ID          string
	CustomerID  string
	TotalAmount decimal.Decimal
	Status      OrderStatus
	CreatedAt   time.Time
	Items       []OrderItemView
}

// OrderItemView - позиция заказа с названием товара.
type OrderItemView struct {
	ID           string
	ProductID    string
	ProductName  string
	LineNo       int
	Quantity     int32
	PricePerItem decimal.Decimal
}
