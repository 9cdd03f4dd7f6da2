package models

import (
	"github.com/shopspring/decimal"
)

// Product represents a product in the catalog as shown to presentation code.
// It is an immutable value identified by ID.
type Product struct {
	ID       string          `json:"id"`
	ImageRef string          `json:"image"`
	Name     string          `json:"product_name"`
	Category string          `json:"product_type"`
	Price    decimal.Decimal `json:"price"`
	TaxRate  decimal.Decimal `json:"tax"`
}

// StoredProduct is the persisted record of a product in the local store.
// PendingSync marks rows not yet confirmed by the remote catalog; only those
// keep a LocalImagePath for the eventual upload.
type StoredProduct struct {
	ID             string          `gorm:"primaryKey"`
	ImageRef       string          `gorm:"not null"`
	Name           string          `gorm:"not null"`
	Category       string          `gorm:"index;not null"`
	Price          decimal.Decimal `gorm:"type:decimal(10,2);not null"`
	TaxRate        decimal.Decimal `gorm:"type:decimal(10,2);not null"`
	PendingSync    bool            `gorm:"index;not null"`
	LocalImagePath *string
	CreatedAt      int64 `gorm:"index;not null;autoCreateTime:false"`
}

func (p *StoredProduct) TableName() string {
	return "products"
}

// ProductList is one emission of a product change stream.
type ProductList struct {
	Products []Product
	Err      error
}

// ToStored maps a domain product to a record. The image reference doubles as
// the local upload path when the record is pending.
func ToStored(p Product, pendingSync bool, createdAt int64) StoredProduct {
	sp := StoredProduct{
		ID:          p.ID,
		ImageRef:    p.ImageRef,
		Name:        p.Name,
		Category:    p.Category,
		Price:       p.Price,
		TaxRate:     p.TaxRate,
		PendingSync: pendingSync,
		CreatedAt:   createdAt,
	}
	if pendingSync && p.ImageRef != "" {
		path := p.ImageRef
		sp.LocalImagePath = &path
	}
	return sp
}

// ToDomain maps a record back to a domain product. Pending records point at
// their on-device image.
func (p StoredProduct) ToDomain() Product {
	image := p.ImageRef
	if p.PendingSync && p.LocalImagePath != nil {
		image = *p.LocalImagePath
	}
	return Product{
		ID:       p.ID,
		ImageRef: image,
		Name:     p.Name,
		Category: p.Category,
		Price:    p.Price,
		TaxRate:  p.TaxRate,
	}
}

// MarkSynced returns a copy of the record confirmed by the remote catalog.
func (p StoredProduct) MarkSynced() StoredProduct {
	p.PendingSync = false
	p.LocalImagePath = nil
	return p
}

// ToDomainList maps records in order.
func ToDomainList(rows []StoredProduct) []Product {
	products := make([]Product, len(rows))
	for i, r := range rows {
		products[i] = r.ToDomain()
	}
	return products
}
