package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/ordertx/internal/domain"
	"github.com/vladislavdragonenkov/ordertx/internal/service/engine"
)

type createOrderRequest struct {
	CustomerID string            `json:"customer_id"`
	Items      []itemRequestBody `json:"items"`
}

type itemRequestBody struct {
	ProductID string `json:"product_id"`
	Quantity  int32  `json:"quantity"`
}

func (r createOrderRequest) toDomain() domain.CreateOrderRequest {
	items := make([]domain.ItemRequest, 0, len(r.Items))
	for _, item := range r.Items {
		items = append(items, domain.ItemRequest{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return domain.CreateOrderRequest{CustomerID: r.CustomerID, Items: items}
}

type createOrderResponse struct {
	OrderID     string             `json:"order_id"`
	TotalAmount decimal.Decimal    `json:"total_amount"`
	Status      domain.OrderStatus `json:"status"`
	CreatedAt   time.Time          `json:"created_at"`
}

func newCreateOrderResponse(result engine.CreateOrderResult) createOrderResponse {
	return createOrderResponse{
		OrderID:     result.OrderID,
		TotalAmount: result.TotalAmount,
		Status:      result.Status,
		CreatedAt:   result.CreatedAt.UTC(),
	}
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

type statusChangeResponse struct {
	OrderID       string             `json:"order_id"`
	From          domain.OrderStatus `json:"from"`
	To            domain.OrderStatus `json:"to"`
	StockRestored bool               `json:"stock_restored"`
}

type deleteOrderResponse struct {
	OrderID       string `json:"order_id"`
	StockRestored bool   `json:"stock_restored"`
}

type orderResponse struct {
	ID          string              `json:"id"`
	CustomerID  string              `json:"customer_id"`
	TotalAmount decimal.Decimal     `json:"total_amount"`
	Status      domain.OrderStatus  `json:"status"`
	CreatedAt   time.Time           `json:"created_at"`
	Items       []orderItemResponse `json:"items"`
}

type orderItemResponse struct {
	ID           string          `json:"id"`
	ProductID    string          `json:"product_id"`
	ProductName  string          `json:"product_name"`
	LineNo       int             `json:"line_no"`
	Quantity     int32           `json:"quantity"`
	PricePerItem decimal.Decimal `json:"price_per_item"`
}

func newOrderResponse(view domain.OrderView) orderResponse {
	items := make([]orderItemResponse, 0, len(view.Items))
	for _, item := range view.Items {
		items = append(items, orderItemResponse{
			ID:           item.ID,
			ProductID:    item.ProductID,
			ProductName:  item.ProductName,
			LineNo:       item.LineNo,
			Quantity:     item.Quantity,
			PricePerItem: item.PricePerItem,
		})
	}
	return orderResponse{
		ID:          view.ID,
		CustomerID:  view.CustomerID,
		TotalAmount: view.TotalAmount,
		Status:      view.Status,
		CreatedAt:   view.CreatedAt.UTC(),
		Items:       items,
	}
}

func newOrderListResponse(views []domain.OrderView) []orderResponse {
	result := make([]orderResponse, 0, len(views))
	for _, view := range views {
		result = append(result, newOrderResponse(view))
	}
	return result
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}
