package domain

import "github.com/shopspring/decimal"

// Product - товар каталога с текущей ценой и остатком.
type Product struct {
	ID    string
	Name  string
	Price decimal.Decimal
	// Stock неотрицателен в любом зафиксированном состоянии.
	Stock int64
}

// Customer - клиент; ядро проверяет только существование.
type Customer struct {
	ID   string
	Name string
}
