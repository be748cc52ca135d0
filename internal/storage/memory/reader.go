package memory

import (
	"context"
	"sort"

	"github.com/vladislavdragonenkov/ordertx/internal/domain"
)

// FindRows строит плоские строки заказов в порядке created_at DESC, id DESC; позиции по line_no.
func (s *Store) FindRows(ctx context.Context, filter domain.OrderFilter) ([]domain.OrderRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	orders := make([]domain.Order, 0, len(s.orders))
	for _, order := range s.orders {
		if filter.OrderID != "" && order.ID != filter.OrderID {
			continue
		}
		if filter.CustomerID != "" && order.CustomerID != filter.CustomerID {
			continue
		}
		orders = append(orders, order)
	}

	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.After(orders[j].CreatedAt)
		}
		return orders[i].ID > orders[j].ID
	})

	if filter.Limit > 0 && len(orders) > filter.Limit {
		orders = orders[:filter.Limit]
	}

	rows := make([]domain.OrderRow, 0, len(orders))
	for _, order := range orders {
		header := domain.OrderRow{
			OrderID:     order.ID,
			CustomerID:  order.CustomerID,
			TotalAmount: order.TotalAmount,
			Status:      order.Status,
			CreatedAt:   order.CreatedAt,
		}
		if len(order.Items) == 0 {
			rows = append(rows, header)
			continue
		}

		items := append([]domain.OrderItem(nil), order.Items...)
		sort.SliceStable(items, func(i, j int) bool { return items[i].LineNo < items[j].LineNo })
		for _, item := range items {
			row := header
			row.HasItem = true
			row.ItemID = item.ID
			row.ProductID = item.ProductID
			row.ProductName = s.products[item.ProductID].Name
			row.LineNo = item.LineNo
			row.Quantity = item.Quantity
			row.PricePerItem = item.PricePerItem
			rows = append(rows, row)
		}
	}

	return rows, nil
}

var _ domain.OrderReader = (*Store)(nil)
