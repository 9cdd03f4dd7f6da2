package models

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrProductNotFound is returned when a product is not found.
var ErrProductNotFound = errors.New("product not found")

// ErrLocalStore wraps every failure of the local store. It is not recoverable
// by the sync layer and is never masked.
var ErrLocalStore = errors.New("local store failure")

const insertBatchSize = 100

// Snapshot is one emission of the store change stream.
type Snapshot struct {
	Rows []StoredProduct
	Err  error
}

// ProductsRepository is the durable local product table. Every committed
// write notifies the change-stream subscribers.
type ProductsRepository struct {
	db *gorm.DB

	mu          sync.Mutex
	subscribers map[int]chan struct{}
	nextSubID   int
}

func NewProductsRepository(db *gorm.DB) *ProductsRepository {
	return &ProductsRepository{
		db:          db,
		subscribers: make(map[int]chan struct{}),
	}
}

func storeError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrLocalStore, op, err)
}

func (r *ProductsRepository) GetAllProducts(ctx context.Context) ([]StoredProduct, error) {
	var rows []StoredProduct
	if err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Find(&rows).Error; err != nil {
		return nil, storeError("get all products", err)
	}
	return rows, nil
}

func (r *ProductsRepository) GetByID(ctx context.Context, id string) (*StoredProduct, error) {
	var row StoredProduct
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, storeError("get product", err)
	}
	return &row, nil
}

func (r *ProductsRepository) GetPendingSyncProducts(ctx context.Context) ([]StoredProduct, error) {
	var rows []StoredProduct
	if err := r.db.WithContext(ctx).
		Where("pending_sync = ?", true).
		Order("created_at DESC").
		Find(&rows).Error; err != nil {
		return nil, storeError("get pending products", err)
	}
	return rows, nil
}

// GetCategories returns the distinct categories of all stored products.
func (r *ProductsRepository) GetCategories(ctx context.Context) ([]string, error) {
	var categories []string
	if err := r.db.WithContext(ctx).
		Model(&StoredProduct{}).
		Distinct().
		Pluck("category", &categories).Error; err != nil {
		return nil, storeError("get categories", err)
	}
	return categories, nil
}

// InsertProduct upserts a single row by id.
func (r *ProductsRepository) InsertProduct(ctx context.Context, p StoredProduct) error {
	if err := upsert(r.db.WithContext(ctx), []StoredProduct{p}); err != nil {
		return storeError("insert product", err)
	}
	r.notify()
	return nil
}

// InsertAll upserts rows by id in one transaction.
func (r *ProductsRepository) InsertAll(ctx context.Context, rows []StoredProduct) error {
	if len(rows) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return upsert(tx, rows)
	})
	if err != nil {
		return storeError("insert products", err)
	}
	r.notify()
	return nil
}

// UpdateProduct overwrites every column of an existing row, zero values included.
func (r *ProductsRepository) UpdateProduct(ctx context.Context, p StoredProduct) error {
	res := r.db.WithContext(ctx).
		Model(&StoredProduct{ID: p.ID}).
		Select("*").
		Updates(&p)
	if res.Error != nil {
		return storeError("update product", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrProductNotFound
	}
	r.notify()
	return nil
}

func (r *ProductsRepository) ClearAll(ctx context.Context) error {
	if err := r.db.WithContext(ctx).
		Where("1 = 1").
		Delete(&StoredProduct{}).Error; err != nil {
		return storeError("clear products", err)
	}
	r.notify()
	return nil
}

func (r *ProductsRepository) DeleteAllSyncedProducts(ctx context.Context) error {
	if err := deleteSynced(r.db.WithContext(ctx)); err != nil {
		return storeError("delete synced products", err)
	}
	r.notify()
	return nil
}

// ReplaceSyncedProducts drops every synced row and inserts rows in a single
// transaction. Pending rows are left alone.
func (r *ProductsRepository) ReplaceSyncedProducts(ctx context.Context, rows []StoredProduct) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := deleteSynced(tx); err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return upsert(tx, rows)
	})
	if err != nil {
		return storeError("replace synced products", err)
	}
	r.notify()
	return nil
}

// Observe emits the full table, newest first, on subscription and after every
// committed write. Notifications coalesce so a slow reader only sees the latest
// state. The channel is closed when ctx is done.
func (r *ProductsRepository) Observe(ctx context.Context) <-chan Snapshot {
	changed := make(chan struct{}, 1)
	changed <- struct{}{}

	r.mu.Lock()
	id := r.nextSubID
	r.nextSubID++
	r.subscribers[id] = changed
	r.mu.Unlock()

	out := make(chan Snapshot)
	go func() {
		defer close(out)
		defer r.unsubscribe(id)

		for {
			select {
			case <-ctx.Done():
				return
			case <-changed:
			}

			rows, err := r.GetAllProducts(ctx)
			if ctx.Err() != nil {
				return
			}

			select {
			case out <- Snapshot{Rows: rows, Err: err}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (r *ProductsRepository) unsubscribe(id int) {
	r.mu.Lock()
	delete(r.subscribers, id)
	r.mu.Unlock()
}

func (r *ProductsRepository) notify() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func upsert(tx *gorm.DB, rows []StoredProduct) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).CreateInBatches(&rows, insertBatchSize).Error
}

func deleteSynced(tx *gorm.DB) error {
	return tx.Where("pending_sync = ?", false).Delete(&StoredProduct{}).Error
}
