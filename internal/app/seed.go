package app

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordertx/internal/domain"
)

// demoCatalog - справочник для локального запуска и нагрузочного теста.
func demoCatalog() ([]domain.Customer, []domain.Product) {
	customers := []domain.Customer{
		{ID: "customer-1", Name: "Ann Smith"},
		{ID: "customer-2", Name: "Bob Jones"},
		{ID: "customer-3", Name: "Carol White"},
	}
	products := []domain.Product{
		{ID: "p-keyboard", Name: "Mechanical keyboard", Price: decimal.RequireFromString("49.90"), Stock: 100},
		{ID: "p-mouse", Name: "Wireless mouse", Price: decimal.RequireFromString("19.99"), Stock: 250},
		{ID: "p-monitor", Name: "27\" monitor", Price: decimal.RequireFromString("229.00"), Stock: 20},
		{ID: "p-cable", Name: "USB-C cable", Price: decimal.RequireFromString("5.00"), Stock: 1000},
		{ID: "p-limited", Name: "Limited edition mousepad", Price: decimal.RequireFromString("12.50"), Stock: 10},
	}
	return customers, products
}

func seedDemoData(ctx context.Context, seeder domain.CatalogSeeder, logger *log.Entry) error {
	customers, products := demoCatalog()
	if err := seeder.SeedCatalog(ctx, customers, products); err != nil {
		return fmt.Errorf("seed demo catalog: %w", err)
	}
	logger.WithFields(log.Fields{
		"customers": len(customers),
		"products":  len(products),
	}).Info("demo catalog seeded")
	return nil
}
