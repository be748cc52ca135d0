package domain

import (
	"context"
	"time"
)

// Transactor открывает атомарную единицу работы.
// fn выполняется внутри транзакции: nil фиксирует изменения, любая ошибка или паника откатывает их.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx - набор хранилищ, привязанных к одной транзакции.
type Tx interface {
	Customers() CustomerStore
	Products() ProductStore
	Orders() OrderStore
	Outbox() OutboxWriter
}

// CustomerStore проверяет клиентов.
type CustomerStore interface {
	Exists(ctx context.Context, customerID string) (bool, error)
}

// ProductStore читает товары и меняет остатки.
type ProductStore interface {
	// GetByIDs одним запросом возвращает найденные товары и блокирует их строки до конца транзакции.
	// Отсутствующие идентификаторы просто не попадают в результат.
	GetByIDs(ctx context.Context, ids []string) (map[string]Product, error)
	// DecrementStock уменьшает остаток, только если stock >= qty. Возвращает число изменённых строк.
	DecrementStock(ctx context.Context, productID string, qty int32) (int64, error)
	// IncrementStock возвращает единицы на склад. Возвращает число изменённых строк.
	IncrementStock(ctx context.Context, productID string, qty int32) (int64, error)
}

// OrderStore хранит заголовки и позиции заказов.
type OrderStore interface {
	// Insert сохраняет заголовок и все позиции.
	Insert(ctx context.Context, order Order) error
	// GetForUpdate возвращает заказ с позициями и блокирует его строку; ErrOrderNotFound, если его нет.
	GetForUpdate(ctx context.Context, orderID string) (Order, error)
	// UpdateStatus меняет статус, только если текущий равен from. Возвращает число изменённых строк.
	UpdateStatus(ctx context.Context, orderID string, from, to OrderStatus) (int64, error)
	// Delete удаляет позиции, затем заголовок. Возвращает число удалённых заголовков.
	Delete(ctx context.Context, orderID string) (int64, error)
}

// OutboxWriter пишет события в outbox в рамках той же транзакции.
type OutboxWriter interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
}

// OrderReader читает плоские строки заказов для read-side.
type OrderReader interface {
	FindRows(ctx context.Context, filter OrderFilter) ([]OrderRow, error)
}

// CatalogSeeder заполняет справочники клиентов и товаров (демо-данные, тесты).
type CatalogSeeder interface {
	SeedCatalog(ctx context.Context, customers []Customer, products []Product) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository - сторона outbox, которую читает воркер публикации.
type OutboxRepository interface {
	// PullPending отдаёт pending-сообщения в порядке записи.
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	// MarkDeadLettered снимает сообщение с публикации и сохраняет причину.
	MarkDeadLettered(ctx context.Context, letter DeadLetter) error
	// DeadLetteredAggregates отвечает, у каких из заказов уже есть событие в DLQ.
	DeadLetteredAggregates(ctx context.Context, aggregateIDs []string) (map[string]bool, error)
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount      int
	DeadLetteredCount int
	OldestPendingAt   time.Time
}
