package usecase

import (
	"context"

	"github.com/swipe/offline-catalog/app/offline"
	"github.com/swipe/offline-catalog/models"
)

// Coordinator is the sync core the use cases delegate to.
type Coordinator interface {
	FetchProducts(ctx context.Context) ([]models.Product, error)
	ObserveProducts(ctx context.Context) <-chan models.ProductList
	AddProduct(ctx context.Context, r offline.AddProductRequest) error
	SyncPendingProducts(ctx context.Context) (offline.SyncResult, error)
}

// Products exposes the catalog entry points to presentation code.
type Products struct {
	core Coordinator
}

func NewProducts(core Coordinator) *Products {
	return &Products{core: core}
}

func (u *Products) GetProducts(ctx context.Context) ([]models.Product, error) {
	return u.core.FetchProducts(ctx)
}

func (u *Products) ObserveProducts(ctx context.Context) <-chan models.ProductList {
	return u.core.ObserveProducts(ctx)
}

func (u *Products) AddProduct(ctx context.Context, r offline.AddProductRequest) error {
	return u.core.AddProduct(ctx, r)
}

func (u *Products) SyncPendingProducts(ctx context.Context) (offline.SyncResult, error) {
	return u.core.SyncPendingProducts(ctx)
}
