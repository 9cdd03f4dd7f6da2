package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProductMappingRoundTrip(t *testing.T) {
	product := Product{
		ID:       "p-1",
		ImageRef: "/data/images/pen.jpg",
		Name:     "Pen",
		Category: "Product",
		Price:    decimal.RequireFromString("10.50"),
		TaxRate:  decimal.RequireFromString("5"),
	}

	testCases := []struct {
		name          string
		pending       bool
		expectedPath  *string
		expectedImage string
	}{
		{
			name:          "Synced record drops the local path",
			pending:       false,
			expectedPath:  nil,
			expectedImage: "/data/images/pen.jpg",
		},
		{
			name:          "Pending record keeps the image as local path",
			pending:       true,
			expectedPath:  &product.ImageRef,
			expectedImage: "/data/images/pen.jpg",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// Act
			stored := ToStored(product, tc.pending, 42)
			back := stored.ToDomain()

			// Assert
			assert.Equal(t, tc.pending, stored.PendingSync)
			assert.Equal(t, int64(42), stored.CreatedAt)
			if tc.expectedPath == nil {
				assert.Nil(t, stored.LocalImagePath)
			} else {
				require.NotNil(t, stored.LocalImagePath)
				assert.Equal(t, *tc.expectedPath, *stored.LocalImagePath)
			}
			assert.Equal(t, product.ID, back.ID)
			assert.Equal(t, product.Name, back.Name)
			assert.Equal(t, product.Category, back.Category)
			assert.True(t, product.Price.Equal(back.Price))
			assert.True(t, product.TaxRate.Equal(back.TaxRate))
			assert.Equal(t, tc.expectedImage, back.ImageRef)
		})
	}
}

func TestToDomainPrefersLocalPathWhilePending(t *testing.T) {
	path := "/data/images/local.jpg"
	stored := StoredProduct{
		ID:             "p-2",
		ImageRef:       "https://cdn.example.com/remote.jpg",
		PendingSync:    true,
		LocalImagePath: &path,
	}

	assert.Equal(t, path, stored.ToDomain().ImageRef)

	stored.PendingSync = false
	assert.Equal(t, "https://cdn.example.com/remote.jpg", stored.ToDomain().ImageRef)
}

func TestToStoredWithoutImage(t *testing.T) {
	stored := ToStored(Product{ID: "p-3", Name: "Repair", Category: "Service"}, true, 1)

	assert.True(t, stored.PendingSync)
	assert.Equal(t, "", stored.ImageRef)
	assert.Nil(t, stored.LocalImagePath, "an empty image has nothing to upload")
}

func TestMarkSynced(t *testing.T) {
	path := "/tmp/a.jpg"
	stored := StoredProduct{ID: "p-4", PendingSync: true, LocalImagePath: &path}

	synced := stored.MarkSynced()

	assert.False(t, synced.PendingSync)
	assert.Nil(t, synced.LocalImagePath)
	assert.True(t, stored.PendingSync, "original record is not modified")
}

func TestCategoryFilters(t *testing.T) {
	testCases := []struct {
		name     string
		input    []string
		expected []string
	}{
		{
			name:     "Empty store",
			input:    nil,
			expected: []string{"All"},
		},
		{
			name:     "Distinct and sorted",
			input:    []string{"Service", "Product", "service", " ", "Product"},
			expected: []string{"All", "Product", "Service"},
		},
		{
			name:     "All is never repeated",
			input:    []string{"all", "Product"},
			expected: []string{"All", "Product"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, CategoryFilters(tc.input))
		})
	}
}
