package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/ordertx/internal/domain"
)

// pgTx привязывает хранилища к одной SQL-транзакции.
type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) Customers() domain.CustomerStore { return pgCustomers{t.tx} }
func (t *pgTx) Products() domain.ProductStore   { return pgProducts{t.tx} }
func (t *pgTx) Orders() domain.OrderStore       { return pgOrders{t.tx} }
func (t *pgTx) Outbox() domain.OutboxWriter     { return pgOutbox{t.tx} }

type pgCustomers struct{ tx *sql.Tx }

func (c pgCustomers) Exists(ctx context.Context, customerID string) (bool, error) {
	var exists bool
	if err := c.tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM customers WHERE id = $1)`, customerID,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("query customer %s: %w", customerID, err)
	}
	return exists, nil
}

type pgProducts struct{ tx *sql.Tx }

// GetByIDs блокирует строки в порядке id, чтобы конкурентные заказы не ловили deadlock.
func (p pgProducts) GetByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := p.tx.QueryContext(ctx, `
		SELECT id, name, price, stock
		FROM products
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var product domain.Product
		if err := rows.Scan(&product.ID, &product.Name, &product.Price, &product.Stock); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		result[product.ID] = product
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}

	return result, nil
}

func (p pgProducts) DecrementStock(ctx context.Context, productID string, qty int32) (int64, error) {
	res, err := p.tx.ExecContext(ctx, `
		UPDATE products SET stock = stock - $2
		WHERE id = $1 AND stock >= $2
	`, productID, qty)
	if err != nil {
		return 0, fmt.Errorf("decrement stock: %w", err)
	}
	return res.RowsAffected()
}

func (p pgProducts) IncrementStock(ctx context.Context, productID string, qty int32) (int64, error) {
	res, err := p.tx.ExecContext(ctx, `
		UPDATE products SET stock = stock + $2
		WHERE id = $1
	`, productID, qty)
	if err != nil {
		return 0, fmt.Errorf("increment stock: %w", err)
	}
	return res.RowsAffected()
}

type pgOrders struct{ tx *sql.Tx }

func (o pgOrders) Insert(ctx context.Context, order domain.Order) error {
	if _, err := o.tx.ExecContext(ctx, `
		INSERT INTO orders (id, customer_id, total_amount, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, order.ID, order.CustomerID, order.TotalAmount, string(order.Status), order.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert order %s: duplicate id: %w", order.ID, err)
		}
		if isForeignKeyViolation(err) {
			return &domain.CustomerNotFoundError{CustomerID: order.CustomerID}
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for _, item := range order.Items {
		if _, err := o.tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, product_id, line_no, quantity, price_per_item)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, item.ID, order.ID, item.ProductID, item.LineNo, item.Quantity, item.PricePerItem); err != nil {
			if isForeignKeyViolation(err) {
				return &domain.ProductNotFoundError{ProductID: item.ProductID}
			}
			return fmt.Errorf("insert order item %d: %w", item.LineNo, err)
		}
	}

	return nil
}

func (o pgOrders) GetForUpdate(ctx context.Context, orderID string) (domain.Order, error) {
	var (
		order  domain.Order
		status string
	)
	err := o.tx.QueryRowContext(ctx, `
		SELECT id, customer_id, total_amount, status, created_at
		FROM orders
		WHERE id = $1
		FOR UPDATE
	`, orderID).Scan(&order.ID, &order.CustomerID, &order.TotalAmount, &status, &order.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, orderID)
		}
		return domain.Order{}, fmt.Errorf("select order for update: %w", err)
	}
	order.Status = domain.OrderStatus(status)
	order.CreatedAt = order.CreatedAt.UTC()

	rows, err := o.tx.QueryContext(ctx, `
		SELECT id, product_id, line_no, quantity, price_per_item
		FROM order_items
		WHERE order_id = $1
		ORDER BY line_no
	`, orderID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("select order items: %w", err)
	}
	defer rows.Close()

	order.Items = make([]domain.OrderItem, 0)
	for rows.Next() {
		item := domain.OrderItem{OrderID: order.ID}
		if err := rows.Scan(&item.ID, &item.ProductID, &item.LineNo, &item.Quantity, &item.PricePerItem); err != nil {
			return domain.Order{}, fmt.Errorf("scan order item: %w", err)
		}
		order.Items = append(order.Items, item)
	}
	if err := rows.Err(); err != nil {
		return domain.Order{}, fmt.Errorf("iterate order items: %w", err)
	}

	return order, nil
}

func (o pgOrders) UpdateStatus(ctx context.Context, orderID string, from, to domain.OrderStatus) (int64, error) {
	res, err := o.tx.ExecContext(ctx, `
		UPDATE orders SET status = $3
		WHERE id = $1 AND status = $2
	`, orderID, string(from), string(to))
	if err != nil {
		return 0, fmt.Errorf("update order status: %w", err)
	}
	return res.RowsAffected()
}

func (o pgOrders) Delete(ctx context.Context, orderID string) (int64, error) {
	if _, err := o.tx.ExecContext(ctx, `DELETE FROM order_items WHERE order_id = $1`, orderID); err != nil {
		return 0, fmt.Errorf("delete order items: %w", err)
	}
	res, err := o.tx.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, orderID)
	if err != nil {
		return 0, fmt.Errorf("delete order: %w", err)
	}
	return res.RowsAffected()
}

type pgOutbox struct{ tx *sql.Tx }

func (w pgOutbox) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := time.Now().UTC()

	if _, err := w.tx.ExecContext(ctx, `
		INSERT INTO outbox_messages (
			id, aggregate_type, aggregate_id, event_type, payload,
			status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, 'pending', $6, $6)
	`, msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload, now); err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("enqueue outbox message: %w", err)
	}

	return msg, nil
}

var _ domain.Tx = (*pgTx)(nil)
