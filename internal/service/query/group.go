package query

import "github.com/vladislavdragonenkov/ordertx/internal/domain"

// GroupRows сворачивает плоские строки в заказы.
// Заказы идут в порядке первого появления заголовка, позиции сохраняют порядок строк.
func GroupRows(rows []domain.OrderRow) []domain.OrderView {
	views := make([]domain.OrderView, 0)
	index := make(map[string]int)

	for _, row := range rows {
		i, ok := index[row.OrderID]
		if !ok {
			i = len(views)
			index[row.OrderID] = i
			views = append(views, domain.OrderView{
				ID:          row.OrderID,
				CustomerID:  row.CustomerID,
				TotalAmount: row.TotalAmount,
				Status:      row.Status,
				CreatedAt:   row.CreatedAt,
				Items:       make([]domain.OrderItemView, 0),
			})
		}
		if !row.HasItem {
			continue
		}
		views[i].Items = append(views[i].Items, domain.OrderItemView{
			ID:           row.ItemID,
			ProductID:    row.ProductID,
			ProductName:  row.ProductName,
			LineNo:       row.LineNo,
			Quantity:     row.Quantity,
			PricePerItem: row.PricePerItem,
		})
	}

	return views
}
