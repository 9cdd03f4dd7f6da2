package offline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swipe/offline-catalog/app/connectivity"
	"github.com/swipe/offline-catalog/app/database"
	"github.com/swipe/offline-catalog/app/logger"
	"github.com/swipe/offline-catalog/app/remote"
	"github.com/swipe/offline-catalog/app/retry"
	"github.com/swipe/offline-catalog/models"
)

// --- Fakes ---

type fakeRemote struct {
	mu        sync.Mutex
	products  []remote.ProductDTO
	listErr   error
	createErr func(r remote.CreateRequest) error
	delay     time.Duration
	listCalls int
	created   []remote.CreateRequest
}

func (f *fakeRemote) ListProducts(ctx context.Context) ([]remote.ProductDTO, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.products, nil
}

func (f *fakeRemote) CreateProduct(ctx context.Context, r remote.CreateRequest) error {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, r)
	if f.createErr != nil {
		return f.createErr(r)
	}
	return nil
}

func (f *fakeRemote) createCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

type fakeTrigger struct {
	mu         sync.Mutex
	calls      int
	err        error
	onSchedule func()
}

func (f *fakeTrigger) Schedule(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.onSchedule != nil {
		f.onSchedule()
	}
	return f.err
}

var failRemote = func(remote.CreateRequest) error {
	return fmt.Errorf("%w: status 500", remote.ErrRequestFailed)
}

// --- Helpers ---

const nowMillis = int64(1_700_000_000_000)

type fixture struct {
	store   *models.ProductsRepository
	remote  *fakeRemote
	oracle  *connectivity.Switch
	trigger *fakeTrigger
	core    *Coordinator
	files   map[string]bool
}

func newFixture(t *testing.T, online bool) *fixture {
	t.Helper()
	db, err := database.OpenInMemory(logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	f := &fixture{
		store:   models.NewProductsRepository(db),
		remote:  &fakeRemote{},
		oracle:  connectivity.NewSwitch(online),
		trigger: &fakeTrigger{},
		files:   map[string]bool{},
	}
	seq := 0
	f.core = NewCoordinator(f.remote, f.store, f.oracle, f.trigger,
		WithClock(func() time.Time { return time.UnixMilli(nowMillis) }),
		WithIDGenerator(func() string { seq++; return fmt.Sprintf("id-%d", seq) }),
		WithFileCheck(func(path string) bool { return f.files[path] }),
	)
	return f
}

func dto(name, category string, price int64) remote.ProductDTO {
	image := "https://cdn.example.com/" + name + ".jpg"
	return remote.ProductDTO{
		Image:       &image,
		Price:       decimal.NewFromInt(price),
		ProductName: name,
		ProductType: category,
		Tax:         decimal.NewFromInt(5),
	}
}

func names(products []models.Product) []string {
	out := make([]string, len(products))
	for i, p := range products {
		out[i] = p.Name
	}
	return out
}

func pendingRows(t *testing.T, store *models.ProductsRepository) []models.StoredProduct {
	t.Helper()
	rows, err := store.GetPendingSyncProducts(context.Background())
	require.NoError(t, err)
	return rows
}

// --- FetchProducts ---

func TestFetchProductsOnline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	f.remote.products = []remote.ProductDTO{dto("Pen", "Product", 10), dto("Ink", "Product", 5), dto("Repair", "Service", 200)}

	products, err := f.core.FetchProducts(ctx)

	require.NoError(t, err)
	assert.Equal(t, []string{"Pen", "Ink", "Repair"}, names(products))
	assert.Equal(t, "https://cdn.example.com/Pen.jpg", products[0].ImageRef)

	rows, err := f.store.GetAllProducts(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for i, r := range rows {
		assert.Equal(t, nowMillis-int64(i), r.CreatedAt, "timestamps step down in response order")
		assert.Equal(t, products[i].ID, r.ID, "returned products carry the stored ids")
		assert.False(t, r.PendingSync)
		assert.Nil(t, r.LocalImagePath)
	}
}

func TestFetchProductsKeepsPendingRows(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	path := "/images/offline.jpg"
	pending := models.StoredProduct{
		ID: "pending-1", ImageRef: path, Name: "Offline", Category: "Product",
		Price: decimal.NewFromInt(3), TaxRate: decimal.NewFromInt(1),
		PendingSync: true, LocalImagePath: &path, CreatedAt: nowMillis - 10_000,
	}
	require.NoError(t, f.store.InsertAll(ctx, []models.StoredProduct{
		pending,
		{ID: "stale", Name: "Stale", Category: "Product", CreatedAt: nowMillis - 20_000},
	}))
	f.remote.products = []remote.ProductDTO{dto("Pen", "Product", 10), dto("Ink", "Product", 5)}

	_, err := f.core.FetchProducts(ctx)
	require.NoError(t, err)

	got, err := f.store.GetByID(ctx, "pending-1")
	require.NoError(t, err)
	assert.Equal(t, pending.Name, got.Name)
	assert.True(t, got.PendingSync)
	assert.Equal(t, path, *got.LocalImagePath)
	assert.Equal(t, pending.CreatedAt, got.CreatedAt)

	_, err = f.store.GetByID(ctx, "stale")
	assert.ErrorIs(t, err, models.ErrProductNotFound, "synced rows are replaced")

	rows, err := f.store.GetAllProducts(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
	assert.Greater(t, rows[1].CreatedAt, pending.CreatedAt, "fresh batch sorts above older rows")
}

func TestFetchProductsFallsBackToCache(t *testing.T) {
	testCases := []struct {
		name            string
		online          bool
		listErr         error
		expectListCalls int
	}{
		{
			name:            "Remote failure",
			online:          true,
			listErr:         fmt.Errorf("%w: timeout", remote.ErrRequestFailed),
			expectListCalls: 1,
		},
		{
			name:            "Offline skips the network",
			online:          false,
			expectListCalls: 0,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// Arrange
			ctx := context.Background()
			f := newFixture(t, tc.online)
			f.remote.listErr = tc.listErr
			f.remote.products = []remote.ProductDTO{dto("Remote", "Product", 1)}
			require.NoError(t, f.store.InsertAll(ctx, []models.StoredProduct{
				{ID: "a", Name: "Cached", Category: "Product", CreatedAt: 2},
				{ID: "b", Name: "Older", Category: "Service", CreatedAt: 1},
			}))

			// Act
			products, err := f.core.FetchProducts(ctx)

			// Assert
			require.NoError(t, err)
			assert.Equal(t, []string{"Cached", "Older"}, names(products))
			assert.Equal(t, tc.expectListCalls, f.remote.listCalls)

			rows, err := f.store.GetAllProducts(ctx)
			require.NoError(t, err)
			assert.Len(t, rows, 2, "cache untouched without a successful fetch")
		})
	}
}

// --- AddProduct ---

func TestAddProductOnlineSuccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)

	err := f.core.AddProduct(ctx, AddProductRequest{
		Name:     "Pen",
		Category: "Product",
		Price:    decimal.NewFromInt(10),
		TaxRate:  decimal.NewFromInt(1),
		Images:   []string{"/images/a.jpg", "/images/b.jpg"},
	})

	require.NoError(t, err)
	require.Equal(t, 1, f.remote.createCalls())
	assert.Equal(t, []string{"/images/a.jpg", "/images/b.jpg"}, f.remote.created[0].Images)

	got, err := f.store.GetByID(ctx, "id-1")
	require.NoError(t, err)
	assert.False(t, got.PendingSync)
	assert.Nil(t, got.LocalImagePath)
	assert.Equal(t, "/images/a.jpg", got.ImageRef)
	assert.Equal(t, nowMillis, got.CreatedAt)
	assert.Equal(t, 0, f.trigger.calls)
}

func TestAddProductOffline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	err := f.core.AddProduct(ctx, AddProductRequest{
		Name:     "A",
		Category: "Product",
		Price:    decimal.NewFromInt(10),
		TaxRate:  decimal.NewFromInt(1),
	})

	require.NoError(t, err)
	assert.Equal(t, 0, f.remote.createCalls())
	assert.Equal(t, 1, f.trigger.calls)

	rows, err := f.store.GetAllProducts(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].PendingSync)
	assert.Equal(t, "", rows[0].ImageRef)
	assert.Nil(t, rows[0].LocalImagePath)
}

func TestAddProductOfflineArmsRetryAfterInsert(t *testing.T) {
	f := newFixture(t, false)
	var pendingAtSchedule int
	f.trigger.onSchedule = func() {
		pendingAtSchedule = len(pendingRows(t, f.store))
	}

	err := f.core.AddProduct(context.Background(), AddProductRequest{Name: "A", Category: "Product"})

	require.NoError(t, err)
	assert.Equal(t, 1, f.trigger.calls)
	assert.Equal(t, 1, pendingAtSchedule, "a drain started by the trigger sees the new row")
}

func TestAddProductOfflineArmsOneRetryTask(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	scheduler := retry.NewScheduler(func(ctx context.Context) error { return nil }, f.oracle, retry.Options{
		PollInterval: 10 * time.Millisecond,
	})
	defer scheduler.Close()
	core := NewCoordinator(f.remote, f.store, f.oracle, scheduler)

	err := core.AddProduct(ctx, AddProductRequest{
		Name: "A", Category: "Product", Price: decimal.NewFromInt(10), TaxRate: decimal.NewFromInt(1),
	})

	require.NoError(t, err)
	assert.Len(t, pendingRows(t, f.store), 1)
	_, ok := scheduler.Pending()
	assert.True(t, ok, "one retry task is waiting for connectivity")
}

func TestAddProductOnlineFailureStillPersists(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	f.remote.createErr = failRemote

	err := f.core.AddProduct(ctx, AddProductRequest{
		Name:     "Pen",
		Category: "Product",
		Price:    decimal.NewFromInt(10),
		TaxRate:  decimal.NewFromInt(1),
		Images:   []string{"/images/pen.jpg"},
	})

	assert.ErrorIs(t, err, remote.ErrRequestFailed)
	rows := pendingRows(t, f.store)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].LocalImagePath)
	assert.Equal(t, "/images/pen.jpg", *rows[0].LocalImagePath)
	assert.Equal(t, 1, f.trigger.calls, "the failed add is queued for a drain")
}

func TestAddProductOfflineTriggerFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, false)
	f.trigger.err = errors.New("redis down")

	err := f.core.AddProduct(context.Background(), AddProductRequest{Name: "A", Category: "Product"})

	require.NoError(t, err)
	assert.Len(t, pendingRows(t, f.store), 1)
}

func TestAddProductValidation(t *testing.T) {
	testCases := []struct {
		name string
		req  AddProductRequest
	}{
		{name: "Blank name", req: AddProductRequest{Name: "  ", Category: "Product"}},
		{name: "Blank category", req: AddProductRequest{Name: "Pen"}},
		{name: "Negative price", req: AddProductRequest{Name: "Pen", Category: "Product", Price: decimal.NewFromInt(-1)}},
		{name: "Negative tax", req: AddProductRequest{Name: "Pen", Category: "Product", TaxRate: decimal.NewFromInt(-1)}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, true)

			err := f.core.AddProduct(context.Background(), tc.req)

			assert.ErrorIs(t, err, ErrInvalidRequest)
			assert.Equal(t, 0, f.remote.createCalls())
			rows, err := f.store.GetAllProducts(context.Background())
			require.NoError(t, err)
			assert.Empty(t, rows)
		})
	}
}

// --- SyncPendingProducts ---

func TestSyncPendingProductsIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	for _, name := range []string{"A", "B"} {
		require.NoError(t, f.core.AddProduct(ctx, AddProductRequest{Name: name, Category: "Product"}))
	}
	f.oracle.Set(true)

	res, err := f.core.SyncPendingProducts(ctx)
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Attempted: 2, Synced: 2}, res)
	assert.Empty(t, pendingRows(t, f.store))
	assert.Equal(t, 2, f.remote.createCalls())

	res, err = f.core.SyncPendingProducts(ctx)
	require.NoError(t, err)
	assert.Equal(t, SyncResult{}, res)
	assert.Equal(t, 2, f.remote.createCalls(), "second drain makes no remote calls")
}

func TestSyncPendingProductsConcurrentSweepsUploadOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	require.NoError(t, f.core.AddProduct(ctx, AddProductRequest{Name: "A", Category: "Product"}))
	f.oracle.Set(true)
	f.remote.delay = 100 * time.Millisecond

	var wg sync.WaitGroup
	results := make([]SyncResult, 2)
	errs := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.core.SyncPendingProducts(ctx)
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, 1, f.remote.createCalls(), "one pending row is uploaded once")
	assert.Equal(t, 1, results[0].Synced+results[1].Synced)
	assert.Empty(t, pendingRows(t, f.store))
}

func TestSyncPendingProductsIsBestEffort(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	for _, name := range []string{"Good", "Bad", "Also good"} {
		require.NoError(t, f.core.AddProduct(ctx, AddProductRequest{Name: name, Category: "Product"}))
	}
	f.remote.createErr = func(r remote.CreateRequest) error {
		if r.Name == "Bad" {
			return failRemote(r)
		}
		return nil
	}

	res, err := f.core.SyncPendingProducts(ctx)

	require.NoError(t, err, "remote failures are swallowed per row")
	assert.Equal(t, SyncResult{Attempted: 3, Synced: 2, Failed: 1}, res)
	rows := pendingRows(t, f.store)
	require.Len(t, rows, 1)
	assert.Equal(t, "Bad", rows[0].Name)
}

func TestSyncPendingProductsAttachesExistingImage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	require.NoError(t, f.core.AddProduct(ctx, AddProductRequest{
		Name: "With image", Category: "Product", Images: []string{"/images/kept.jpg"},
	}))
	require.NoError(t, f.core.AddProduct(ctx, AddProductRequest{
		Name: "Missing image", Category: "Product", Images: []string{"/images/deleted.jpg"},
	}))
	f.files["/images/kept.jpg"] = true

	_, err := f.core.SyncPendingProducts(ctx)
	require.NoError(t, err)

	sent := map[string][]string{}
	for _, r := range f.remote.created {
		sent[r.Name] = r.Images
	}
	assert.Equal(t, []string{"/images/kept.jpg"}, sent["With image"])
	assert.Empty(t, sent["Missing image"])

	rows, err := f.store.GetAllProducts(ctx)
	require.NoError(t, err)
	for _, r := range rows {
		assert.False(t, r.PendingSync)
		assert.Nil(t, r.LocalImagePath, "synced rows drop the upload path")
	}
}

func TestSyncPendingProductsStopsOnCancel(t *testing.T) {
	f := newFixture(t, false)
	require.NoError(t, f.core.AddProduct(context.Background(), AddProductRequest{Name: "A", Category: "Product"}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.core.SyncPendingProducts(ctx)

	assert.Error(t, err)
	assert.Equal(t, 0, f.remote.createCalls())
}

// --- ObserveProducts ---

func TestObserveProductsFollowsStore(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture(t, false)

	stream := f.core.ObserveProducts(ctx)
	next := func() models.ProductList {
		t.Helper()
		select {
		case l := <-stream:
			require.NoError(t, l.Err)
			return l
		case <-time.After(2 * time.Second):
			t.Fatal("no emission")
			return models.ProductList{}
		}
	}

	assert.Empty(t, next().Products)

	require.NoError(t, f.core.AddProduct(ctx, AddProductRequest{Name: "Pen", Category: "Product"}))
	assert.Equal(t, []string{"Pen"}, names(next().Products))
	assert.Equal(t, 0, f.remote.listCalls, "observing never hits the network")
}
