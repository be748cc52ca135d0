package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/ordertx/internal/domain"
)

// Limit применяется к заголовкам в CTE, поэтому ограничивает число заказов, а не строк соединения.
const findRowsQuery = `
WITH selected AS (
	SELECT id, customer_id, total_amount, status, created_at
	FROM orders
	WHERE ($1::text = '' OR id = $1::text)
	  AND ($2::text = '' OR customer_id = $2::text)
	ORDER BY created_at DESC, id DESC
	LIMIT NULLIF($3::bigint, 0)
)
SELECT o.id, o.customer_id, o.total_amount, o.status, o.created_at,
       i.id, i.product_id, p.name, i.line_no, i.quantity, i.price_per_item
FROM selected o
LEFT JOIN order_items i ON i.order_id = o.id
LEFT JOIN products p ON p.id = i.product_id
ORDER BY o.created_at DESC, o.id DESC, i.line_no`

// FindRows читает заказы с позициями и названиями товаров одним запросом.
func (s *Store) FindRows(ctx context.Context, filter domain.OrderFilter) ([]domain.OrderRow, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("postgres store is not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	limit := filter.Limit
	if limit < 0 {
		limit = 0
	}

	rows, err := s.db.QueryContext(ctx, findRowsQuery, filter.OrderID, filter.CustomerID, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("query order rows: %w", err)
	}
	defer rows.Close()

	result := make([]domain.OrderRow, 0)
	for rows.Next() {
		var (
			row         domain.OrderRow
			status      string
			itemID      sql.NullString
			productID   sql.NullString
			productName sql.NullString
			lineNo      sql.NullInt64
			quantity    sql.NullInt32
			price       decimal.NullDecimal
		)
		if err := rows.Scan(
			&row.OrderID, &row.CustomerID, &row.TotalAmount, &status, &row.CreatedAt,
			&itemID, &productID, &productName, &lineNo, &quantity, &price,
		); err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}

		row.Status = domain.OrderStatus(status)
		row.CreatedAt = row.CreatedAt.UTC()
		if itemID.Valid {
			row.HasItem = true
			row.ItemID = itemID.String
			row.ProductID = productID.String
			row.ProductName = productName.String
			row.LineNo = int(lineNo.Int64)
			row.Quantity = quantity.Int32
			row.PricePerItem = price.Decimal
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}

	return result, nil
}

var _ domain.OrderReader = (*Store)(nil)
