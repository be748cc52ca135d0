package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/ordertx/internal/domain"
)

// Store - in-memory хранилище каталога, заказов и outbox для локальной разработки и тестов.
// Транзакции сериализуются одним мьютексом: изменения копятся в memTx и применяются только при commit.
type Store struct {
	mu        sync.RWMutex
	customers map[string]domain.Customer
	products  map[string]domain.Product
	orders    map[string]domain.Order
	outbox    *outboxLog
}

// NewStore создаёт пустое хранилище.
func NewStore() *Store {
	return &Store{
		customers: make(map[string]domain.Customer),
		products:  make(map[string]domain.Product),
		orders:    make(map[string]domain.Order),
		outbox:    newOutboxLog(),
	}
}

// WithinTx выполняет fn атомарно. При ошибке, панике или истёкшем ctx изменения отбрасываются.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		store:    s,
		products: make(map[string]domain.Product),
		orders:   make(map[string]*domain.Order),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	tx.commit()
	return nil
}

// PutCustomer добавляет или заменяет клиента.
func (s *Store) PutCustomer(customer domain.Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers[customer.ID] = customer
}

// PutProduct добавляет или заменяет товар.
func (s *Store) PutProduct(product domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[product.ID] = product
}

// RemoveProduct удаляет товар из справочника.
func (s *Store) RemoveProduct(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.products, id)
}

// SeedCatalog добавляет клиентов и товары одним вызовом.
func (s *Store) SeedCatalog(_ context.Context, customers []domain.Customer, products []domain.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range customers {
		s.customers[c.ID] = c
	}
	for _, p := range products {
		if p.Stock < 0 {
			return fmt.Errorf("seed product %s: stock must be non-negative", p.ID)
		}
		s.products[p.ID] = p
	}
	return nil
}

// Product возвращает зафиксированное состояние товара.
func (s *Store) Product(id string) (domain.Product, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	return p, ok
}

// Order возвращает зафиксированное состояние заказа.
func (s *Store) Order(id string) (domain.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return domain.Order{}, false
	}
	return cloneOrder(o), true
}

// OrderCount возвращает число зафиксированных заказов.
func (s *Store) OrderCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}

// Outbox возвращает сторону outbox для воркера публикации.
func (s *Store) Outbox() *outboxLog {
	return s.outbox
}

// Ping всегда успешен, хранилище живёт в памяти процесса.
func (s *Store) Ping(context.Context) error {
	return nil
}

// memTx накапливает изменения одной транзакции поверх зафиксированного состояния.
type memTx struct {
	store    *Store
	products map[string]domain.Product
	// nil означает удалённый в транзакции заказ.
	orders map[string]*domain.Order
	outbox []domain.OutboxMessage
}

func (t *memTx) Customers() domain.CustomerStore { return txCustomers{t} }
func (t *memTx) Products() domain.ProductStore   { return txProducts{t} }
func (t *memTx) Orders() domain.OrderStore       { return txOrders{t} }
func (t *memTx) Outbox() domain.OutboxWriter     { return txOutbox{t} }

func (t *memTx) product(id string) (domain.Product, bool) {
	if p, ok := t.products[id]; ok {
		return p, true
	}
	p, ok := t.store.products[id]
	return p, ok
}

func (t *memTx) order(id string) (domain.Order, bool) {
	if o, ok := t.orders[id]; ok {
		if o == nil {
			return domain.Order{}, false
		}
		return cloneOrder(*o), true
	}
	o, ok := t.store.orders[id]
	if !ok {
		return domain.Order{}, false
	}
	return cloneOrder(o), true
}

func (t *memTx) commit() {
	for id, p := range t.products {
		t.store.products[id] = p
	}
	for id, o := range t.orders {
		if o == nil {
			delete(t.store.orders, id)
			continue
		}
		t.store.orders[id] = *o
	}
	t.store.outbox.append(t.outbox...)
}

type txCustomers struct{ tx *memTx }

func (c txCustomers) Exists(_ context.Context, customerID string) (bool, error) {
	_, ok := c.tx.store.customers[customerID]
	return ok, nil
}

type txProducts struct{ tx *memTx }

func (p txProducts) GetByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if product, ok := p.tx.product(id); ok {
			result[id] = product
		}
	}
	return result, nil
}

func (p txProducts) DecrementStock(_ context.Context, productID string, qty int32) (int64, error) {
	product, ok := p.tx.product(productID)
	if !ok || product.Stock < int64(qty) {
		return 0, nil
	}
	product.Stock -= int64(qty)
	p.tx.products[productID] = product
	return 1, nil
}

func (p txProducts) IncrementStock(_ context.Context, productID string, qty int32) (int64, error) {
	product, ok := p.tx.product(productID)
	if !ok {
		return 0, nil
	}
	product.Stock += int64(qty)
	p.tx.products[productID] = product
	return 1, nil
}

type txOrders struct{ tx *memTx }

func (o txOrders) Insert(_ context.Context, order domain.Order) error {
	if _, exists := o.tx.order(order.ID); exists {
		return fmt.Errorf("insert order %s: duplicate id", order.ID)
	}
	if _, ok := o.tx.store.customers[order.CustomerID]; !ok {
		return fmt.Errorf("insert order %s: unknown customer %s", order.ID, order.CustomerID)
	}
	for _, item := range order.Items {
		if _, ok := o.tx.product(item.ProductID); !ok {
			return fmt.Errorf("insert order item %s: unknown product %s", item.ID, item.ProductID)
		}
	}

	stored := cloneOrder(order)
	o.tx.orders[order.ID] = &stored
	return nil
}

func (o txOrders) GetForUpdate(_ context.Context, orderID string) (domain.Order, error) {
	order, ok := o.tx.order(orderID)
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order, nil
}

func (o txOrders) UpdateStatus(_ context.Context, orderID string, from, to domain.OrderStatus) (int64, error) {
	order, ok := o.tx.order(orderID)
	if !ok || order.Status != from {
		return 0, nil
	}
	order.Status = to
	o.tx.orders[orderID] = &order
	return 1, nil
}

func (o txOrders) Delete(_ context.Context, orderID string) (int64, error) {
	if _, ok := o.tx.order(orderID); !ok {
		return 0, nil
	}
	o.tx.orders[orderID] = nil
	return 1, nil
}

type txOutbox struct{ tx *memTx }

func (w txOutbox) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Payload = append([]byte(nil), msg.Payload...)
	w.tx.outbox = append(w.tx.outbox, msg)
	return msg, nil
}

func cloneOrder(src domain.Order) domain.Order {
	dst := src
	dst.Items = append([]domain.OrderItem(nil), src.Items...)
	return dst
}

var (
	_ domain.Transactor    = (*Store)(nil)
	_ domain.CatalogSeeder = (*Store)(nil)
	_ domain.Tx            = (*memTx)(nil)
)
