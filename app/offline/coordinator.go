package offline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/swipe/offline-catalog/app/connectivity"
	"github.com/swipe/offline-catalog/app/logger"
	"github.com/swipe/offline-catalog/app/remote"
	"github.com/swipe/offline-catalog/models"
)

// ErrInvalidRequest is returned for product requests missing required values.
var ErrInvalidRequest = errors.New("invalid product request")

// Remote is the backend catalog API.
type Remote interface {
	ListProducts(ctx context.Context) ([]remote.ProductDTO, error)
	CreateProduct(ctx context.Context, r remote.CreateRequest) error
}

// Store is the local product table.
type Store interface {
	GetAllProducts(ctx context.Context) ([]models.StoredProduct, error)
	GetPendingSyncProducts(ctx context.Context) ([]models.StoredProduct, error)
	InsertProduct(ctx context.Context, p models.StoredProduct) error
	UpdateProduct(ctx context.Context, p models.StoredProduct) error
	ReplaceSyncedProducts(ctx context.Context, rows []models.StoredProduct) error
	Observe(ctx context.Context) <-chan models.Snapshot
}

// Trigger arms a deferred drain of the pending queue.
type Trigger interface {
	Schedule(ctx context.Context) error
}

// AddProductRequest is a user-submitted product. Images are on-device paths;
// the first one becomes the product image.
type AddProductRequest struct {
	Name     string
	Category string
	Price    decimal.Decimal
	TaxRate  decimal.Decimal
	Images   []string
}

func (r AddProductRequest) validate() error {
	switch {
	case strings.TrimSpace(r.Name) == "":
		return fmt.Errorf("%w: name is required", ErrInvalidRequest)
	case strings.TrimSpace(r.Category) == "":
		return fmt.Errorf("%w: category is required", ErrInvalidRequest)
	case r.Price.IsNegative():
		return fmt.Errorf("%w: price must not be negative", ErrInvalidRequest)
	case r.TaxRate.IsNegative():
		return fmt.Errorf("%w: tax must not be negative", ErrInvalidRequest)
	}
	return nil
}

// SyncResult counts the rows of one drain.
type SyncResult struct {
	Attempted int
	Synced    int
	Failed    int
}

// Coordinator decides, for every read and write, between the network and the
// local store, and drains pending writes.
type Coordinator struct {
	remote  Remote
	store   Store
	oracle  connectivity.Oracle
	trigger Trigger
	log     *logrus.Entry

	now        func() time.Time
	newID      func() string
	fileExists func(path string) bool

	// syncMu keeps one sweep over the pending queue at a time, whoever
	// starts it.
	syncMu sync.Mutex
}

type Option func(*Coordinator)

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(c *Coordinator) { c.newID = newID }
}

func WithFileCheck(exists func(path string) bool) Option {
	return func(c *Coordinator) { c.fileExists = exists }
}

func WithLogger(log *logrus.Entry) Option {
	return func(c *Coordinator) { c.log = log }
}

func NewCoordinator(r Remote, s Store, o connectivity.Oracle, t Trigger, opts ...Option) *Coordinator {
	c := &Coordinator{
		remote:     r,
		store:      s,
		oracle:     o,
		trigger:    t,
		log:        logger.Discard(),
		now:        time.Now,
		newID:      uuid.NewString,
		fileExists: fileExists,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchProducts returns the remote catalog when reachable, replacing the
// synced part of the cache, and the cached products otherwise. Remote
// failures degrade to the cache; only local store failures are returned.
func (c *Coordinator) FetchProducts(ctx context.Context) ([]models.Product, error) {
	if !c.oracle.IsAvailable() {
		c.log.Debug("network unavailable, reading local store")
		return c.cached(ctx)
	}

	dtos, err := c.remote.ListProducts(ctx)
	if err != nil {
		c.log.WithError(err).Warn("remote fetch failed, falling back to local store")
		return c.cached(ctx)
	}

	// Timestamps step down from now so the batch keeps the remote order.
	now := c.now().UnixMilli()
	rows := make([]models.StoredProduct, len(dtos))
	for i, dto := range dtos {
		rows[i] = models.ToStored(c.fromDTO(dto), false, now-int64(i))
	}

	if err := c.store.ReplaceSyncedProducts(ctx, rows); err != nil {
		return nil, err
	}

	c.log.WithField("count", len(rows)).Info("cache replaced with remote products")
	return models.ToDomainList(rows), nil
}

func (c *Coordinator) cached(ctx context.Context) ([]models.Product, error) {
	rows, err := c.store.GetAllProducts(ctx)
	if err != nil {
		return nil, err
	}
	return models.ToDomainList(rows), nil
}

func (c *Coordinator) fromDTO(dto remote.ProductDTO) models.Product {
	image := ""
	if dto.Image != nil {
		image = *dto.Image
	}
	return models.Product{
		ID:       c.newID(),
		ImageRef: image,
		Name:     dto.ProductName,
		Category: dto.ProductType,
		Price:    dto.Price,
		TaxRate:  dto.Tax,
	}
}

// ObserveProducts re-emits the full product list after every change of the
// local store. It never touches the network.
func (c *Coordinator) ObserveProducts(ctx context.Context) <-chan models.ProductList {
	snapshots := c.store.Observe(ctx)
	out := make(chan models.ProductList)
	go func() {
		defer close(out)
		for snap := range snapshots {
			list := models.ProductList{Err: snap.Err}
			if snap.Err == nil {
				list.Products = models.ToDomainList(snap.Rows)
			}
			select {
			case out <- list:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// AddProduct creates a product on the remote catalog when online and always
// keeps it in the local store. Offline, the product is queued and a retry is
// armed without error. A failed remote call also queues the product, but the
// failure is returned.
func (c *Coordinator) AddProduct(ctx context.Context, r AddProductRequest) error {
	if err := r.validate(); err != nil {
		return err
	}

	image := ""
	if len(r.Images) > 0 {
		image = r.Images[0]
	}
	product := models.Product{
		ID:       c.newID(),
		ImageRef: image,
		Name:     strings.TrimSpace(r.Name),
		Category: strings.TrimSpace(r.Category),
		Price:    r.Price,
		TaxRate:  r.TaxRate,
	}
	createdAt := c.now().UnixMilli()
	log := c.log.WithFields(logrus.Fields{"id": product.ID, "name": product.Name})

	if !c.oracle.IsAvailable() {
		log.Info("network unavailable, saving product as pending")
		// Arm after the insert so a drain started by the trigger sees the row.
		if err := c.store.InsertProduct(ctx, models.ToStored(product, true, createdAt)); err != nil {
			return err
		}
		c.armRetry(ctx)
		return nil
	}

	err := c.remote.CreateProduct(ctx, remote.CreateRequest{
		Name:     product.Name,
		Category: product.Category,
		Price:    product.Price,
		TaxRate:  product.TaxRate,
		Images:   r.Images,
	})
	if err == nil {
		log.Info("product created remotely")
		return c.store.InsertProduct(ctx, models.ToStored(product, false, createdAt))
	}

	log.WithError(err).Warn("remote create failed, saving product as pending")
	if storeErr := c.store.InsertProduct(ctx, models.ToStored(product, true, createdAt)); storeErr != nil {
		return errors.Join(err, storeErr)
	}
	c.armRetry(ctx)
	return err
}

func (c *Coordinator) armRetry(ctx context.Context) {
	if err := c.trigger.Schedule(ctx); err != nil {
		c.log.WithError(err).Error("failed to schedule pending sync")
	}
}

// SyncPendingProducts uploads every pending product. Each row is independent:
// a failed upload leaves the row pending for the next drain. The error is
// non-nil only when the store failed or ctx ended the sweep. Concurrent calls
// run one after the other; a later sweep sees the rows the earlier one synced.
func (c *Coordinator) SyncPendingProducts(ctx context.Context) (SyncResult, error) {
	c.syncMu.Lock()
	defer c.syncMu.Unlock()

	var result SyncResult

	pending, err := c.store.GetPendingSyncProducts(ctx)
	if err != nil {
		return result, err
	}

	var storeErrs []error
	for _, row := range pending {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Attempted++
		log := c.log.WithFields(logrus.Fields{"id": row.ID, "name": row.Name})

		var images []string
		if row.LocalImagePath != nil && c.fileExists(*row.LocalImagePath) {
			images = []string{*row.LocalImagePath}
		}

		err := c.remote.CreateProduct(ctx, remote.CreateRequest{
			Name:     row.Name,
			Category: row.Category,
			Price:    row.Price,
			TaxRate:  row.TaxRate,
			Images:   images,
		})
		if err != nil {
			result.Failed++
			log.WithError(err).Warn("pending product upload failed, keeping it pending")
			continue
		}

		if err := c.store.UpdateProduct(ctx, row.MarkSynced()); err != nil {
			result.Failed++
			storeErrs = append(storeErrs, err)
			log.WithError(err).Error("failed to mark product as synced")
			continue
		}
		result.Synced++
	}

	c.log.WithFields(logrus.Fields{
		"attempted": result.Attempted,
		"synced":    result.Synced,
		"failed":    result.Failed,
	}).Info("pending products drained")
	return result, errors.Join(storeErrs...)
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
