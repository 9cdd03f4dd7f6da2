package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/swipe/offline-catalog/app/logger"
	"github.com/swipe/offline-catalog/app/offline"
	"github.com/swipe/offline-catalog/app/projection"
	"github.com/swipe/offline-catalog/app/remote"
	"github.com/swipe/offline-catalog/models"
)

const maxUploadSize = 32 << 20

type Response struct {
	State    string    `json:"state"`
	Total    int       `json:"total"`
	Products []Product `json:"products"`
}

type Product struct {
	ID       string  `json:"id"`
	Image    string  `json:"image"`
	Name     string  `json:"product_name"`
	Category string  `json:"product_type"`
	Price    float64 `json:"price"`
	Tax      float64 `json:"tax"`
}

type SyncResponse struct {
	Attempted int `json:"attempted"`
	Synced    int `json:"synced"`
	Failed    int `json:"failed"`
}

type ProductProvider interface {
	GetProducts(ctx context.Context) ([]models.Product, error)
	ObserveProducts(ctx context.Context) <-chan models.ProductList
	AddProduct(ctx context.Context, r offline.AddProductRequest) error
	SyncPendingProducts(ctx context.Context) (offline.SyncResult, error)
}

type CatalogHandler struct {
	repo     ProductProvider
	imageDir string
	debounce time.Duration
	log      *logrus.Entry
}

// NewCatalogHandler builds the product routes. debounce is the search quiet
// period of the event stream; zero means projection.DefaultDebounce.
func NewCatalogHandler(r ProductProvider, imageDir string, debounce time.Duration, log *logrus.Entry) *CatalogHandler {
	if log == nil {
		log = logger.Discard()
	}
	if debounce <= 0 {
		debounce = projection.DefaultDebounce
	}
	return &CatalogHandler{
		repo:     r,
		imageDir: imageDir,
		debounce: debounce,
		log:      log,
	}
}

func (h *CatalogHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("search")
	filter := r.URL.Query().Get("filter")
	if filter == "" {
		filter = models.CategoryAll
	}

	res, err := h.repo.GetProducts(r.Context())
	if err != nil {
		h.log.WithError(err).Error("failed to get products")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve products")
		return
	}

	state := projection.Classify(projection.Apply(res, query, filter), query)
	writeJSON(w, http.StatusOK, toResponse(state))
}

// HandleEvents streams projection states as server-sent events until the
// client goes away.
func (h *CatalogHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	proj := projection.New(h.repo, projection.WithDebounce(h.debounce), projection.WithLogger(h.log))
	proj.SetQuery(r.URL.Query().Get("search"))
	if filter := r.URL.Query().Get("filter"); filter != "" {
		proj.SetFilter(filter)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for state := range proj.Start(r.Context()) {
		payload, err := json.Marshal(toResponse(state))
		if err != nil {
			h.log.WithError(err).Error("failed to encode state")
			return
		}
		if _, err := fmt.Fprintf(w, "event: state\ndata: %s\n\n", payload); err != nil {
			return
		}
		flusher.Flush()
	}
}

func (h *CatalogHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid multipart body")
		return
	}

	req, ok := parseForm(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "All fields must be filled and valid")
		return
	}

	if r.MultipartForm != nil {
		paths, err := saveUploads(h.imageDir, r.MultipartForm.File["files[]"], h.log)
		if err != nil {
			h.log.WithError(err).Error("failed to store uploaded images")
			writeError(w, http.StatusInternalServerError, "Failed to store images")
			return
		}
		req.Images = paths
	}

	err := h.repo.AddProduct(r.Context(), req)
	if errors.Is(err, offline.ErrInvalidRequest) {
		removeUploads(req.Images, h.log)
	}
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, map[string]string{
			"message": "Product added successfully",
		})
	case errors.Is(err, offline.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "All fields must be filled and valid")
	case errors.Is(err, models.ErrLocalStore):
		h.log.WithError(err).Error("failed to store product")
		writeError(w, http.StatusInternalServerError, "Failed to add product")
	case errors.Is(err, remote.ErrRequestFailed):
		writeError(w, http.StatusBadGateway, "Failed to add product, it will be synced later")
	default:
		h.log.WithError(err).Error("failed to add product")
		writeError(w, http.StatusInternalServerError, "Failed to add product")
	}
}

func (h *CatalogHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	res, err := h.repo.SyncPendingProducts(r.Context())
	if err != nil {
		h.log.WithError(err).Error("failed to sync pending products")
		writeError(w, http.StatusInternalServerError, "Failed to sync products")
		return
	}
	writeJSON(w, http.StatusOK, SyncResponse{
		Attempted: res.Attempted,
		Synced:    res.Synced,
		Failed:    res.Failed,
	})
}

func parseForm(r *http.Request) (offline.AddProductRequest, bool) {
	name := strings.TrimSpace(r.FormValue("product_name"))
	category := strings.TrimSpace(r.FormValue("product_type"))
	price, priceErr := decimal.NewFromString(strings.TrimSpace(r.FormValue("price")))
	tax, taxErr := decimal.NewFromString(strings.TrimSpace(r.FormValue("tax")))

	if name == "" || category == "" || priceErr != nil || taxErr != nil ||
		price.IsNegative() || tax.IsNegative() {
		return offline.AddProductRequest{}, false
	}
	return offline.AddProductRequest{
		Name:     name,
		Category: category,
		Price:    price,
		TaxRate:  tax,
	}, true
}

func toResponse(s projection.State) Response {
	products := make([]Product, len(s.Products))
	for i, p := range s.Products {
		products[i] = Product{
			ID:       p.ID,
			Image:    p.ImageRef,
			Name:     p.Name,
			Category: p.Category,
			Price:    p.Price.InexactFloat64(),
			Tax:      p.TaxRate.InexactFloat64(),
		}
	}
	return Response{
		State:    s.Kind.String(),
		Total:    len(products),
		Products: products,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
