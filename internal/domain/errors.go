package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest - запрос не прошёл валидацию формы.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrCustomerNotFound - клиент из запроса не существует.
	ErrCustomerNotFound = errors.New("customer not found")
	// ErrProductNotFound - товар из запроса не существует.
	ErrProductNotFound = errors.New("product not found")
	// ErrInsufficientStock - на складе меньше единиц, чем запрошено.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrOrderNotFound возвращается, если заказ не найден в хранилище.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderFinalized - переход из финального статуса запрещён.
	ErrOrderFinalized = errors.New("order already processed")
	// ErrTransientStoreFailure - временный сбой хранилища, запрос можно повторить.
	ErrTransientStoreFailure = errors.New("transient store failure")
	// ErrInvariantViolation - внутренняя ошибка, нарушен инвариант данных.
	ErrInvariantViolation = errors.New("invariant violation")

	// Ошибка отсутствующего идентификатора клиента.
	ErrCustomerRequired = errors.New("customer_id is required")
	// Ошибка отсутствия хотя бы одного товара в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка нулевой или отрицательной суммы заказа.
	ErrAmountNotPositive = errors.New("total_amount must be positive")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item quantity must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrAmountMismatch = errors.New("order total does not match items sum")
	// Ошибка неизвестного статуса в заказе.
	ErrStatusInvalid = errors.New("order status is invalid")

	// ErrOutboxPublish - ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	ErrIdempotencyKeyRequired         = errors.New("idempotency key is required")
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	ErrIdempotencyKeyAlreadyExists    = errors.New("idempotency key already exists")
	ErrIdempotencyHashMismatch        = errors.New("idempotency key reused with different payload")
	ErrIdempotencyKeyNotFound         = errors.New("idempotency key not found")
)

// CustomerNotFoundError уточняет ErrCustomerNotFound идентификатором клиента.
type CustomerNotFoundError struct {
	CustomerID string
}

func (e *CustomerNotFoundError) Error() string {
	return fmt.Sprintf("customer %s not found", e.CustomerID)
}

func (e *CustomerNotFoundError) Unwrap() error { return ErrCustomerNotFound }

// ProductNotFoundError уточняет ErrProductNotFound первым отсутствующим товаром.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

func (e *ProductNotFoundError) Unwrap() error { return ErrProductNotFound }

// InsufficientStockError описывает позицию, для которой не хватило остатка.
type InsufficientStockError struct {
	ProductID   string
	ProductName string
	Available   int64
	Requested   int32
}

func (e *InsufficientStockError) Error() string {
	name := e.ProductName
	if name == "" {
		name = e.ProductID
	}
	return fmt.Sprintf("insufficient stock for %s: available %d, requested %d", name, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// TransitionError - попытка изменить заказ, который уже обработан.
// Совпадает и с ErrOrderFinalized, и с ErrOrderNotFound ("not found or already processed").
type TransitionError struct {
	OrderID string
	From    OrderStatus
	To      OrderStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("order %s is already %s, cannot move to %s", e.OrderID, e.From, e.To)
}

func (e *TransitionError) Unwrap() []error {
	return []error{ErrOrderFinalized, ErrOrderNotFound}
}

// ErrorKind - класс ошибки на границе сервиса.
type ErrorKind string

const (
	KindInvalidRequest        ErrorKind = "invalid_request"
	KindCustomerNotFound      ErrorKind = "customer_not_found"
	KindProductNotFound       ErrorKind = "product_not_found"
	KindInsufficientStock     ErrorKind = "insufficient_stock"
	KindOrderNotFound         ErrorKind = "order_not_found"
	KindOrderFinalized        ErrorKind = "order_finalized"
	KindTransientStoreFailure ErrorKind = "transient_store_failure"
	KindInvariantViolation    ErrorKind = "invariant_violation"
)

// Rejected сообщает, что ошибка вызвана запросом, а не сервером.
func (k ErrorKind) Rejected() bool {
	switch k {
	case KindTransientStoreFailure, KindInvariantViolation, "":
		return false
	default:
		return true
	}
}

// KindOf классифицирует ошибку. Неизвестные ошибки считаются временным сбоем хранилища.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvariantViolation):
		return KindInvariantViolation
	case errors.Is(err, ErrTransientStoreFailure):
		return KindTransientStoreFailure
	case errors.Is(err, ErrInvalidRequest):
		return KindInvalidRequest
	case errors.Is(err, ErrCustomerNotFound):
		return KindCustomerNotFound
	case errors.Is(err, ErrProductNotFound):
		return KindProductNotFound
	case errors.Is(err, ErrInsufficientStock):
		return KindInsufficientStock
	case errors.Is(err, ErrOrderFinalized):
		return KindOrderFinalized
	case errors.Is(err, ErrOrderNotFound):
		return KindOrderNotFound
	default:
		return KindTransientStoreFailure
	}
}

// IsDomainError сообщает, что ошибка уже классифицирована доменом.
func IsDomainError(err error) bool {
	for _, target := range []error{
		ErrInvalidRequest,
		ErrCustomerNotFound,
		ErrProductNotFound,
		ErrInsufficientStock,
		ErrOrderNotFound,
		ErrOrderFinalized,
		ErrTransientStoreFailure,
		ErrInvariantViolation,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsIdempotencyConflict проверяет, что ключ уже использован.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}
