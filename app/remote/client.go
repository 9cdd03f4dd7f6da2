package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/swipe/offline-catalog/app/logger"
)

const (
	listPath   = "public/get"
	createPath = "public/add"

	// DefaultTimeout bounds every remote call.
	DefaultTimeout = 30 * time.Second
)

// ErrRequestFailed covers timeouts, transport errors, non-2xx statuses and
// undecodable responses.
var ErrRequestFailed = errors.New("remote request failed")

// ProductDTO is a catalog entry as served by the backend.
type ProductDTO struct {
	Image       *string         `json:"image"`
	Price       decimal.Decimal `json:"price"`
	ProductName string          `json:"product_name"`
	ProductType string          `json:"product_type"`
	Tax         decimal.Decimal `json:"tax"`
}

// CreateRequest is the multipart payload of a product creation. Images are
// on-device file paths.
type CreateRequest struct {
	Name     string
	Category string
	Price    decimal.Decimal
	TaxRate  decimal.Decimal
	Images   []string
}

// Client talks to the backend catalog API. It keeps no state between calls.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	log     *logrus.Entry
}

func NewClient(baseURL string, timeout time.Duration, log *logrus.Entry) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API base URL: %w", err)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Client{
		baseURL: u,
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}, nil
}

func (c *Client) endpoint(path string) string {
	return c.baseURL.ResolveReference(&url.URL{Path: path}).String()
}

// ListProducts fetches the full remote catalog.
func (c *Client) ListProducts(ctx context.Context) ([]ProductDTO, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(listPath), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build list request: %w", ErrRequestFailed, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var products []ProductDTO
	if err := json.NewDecoder(resp.Body).Decode(&products); err != nil {
		return nil, fmt.Errorf("%w: decode product list: %w", ErrRequestFailed, err)
	}

	c.log.WithField("count", len(products)).Debug("fetched remote products")
	return products, nil
}

// CreateProduct posts a product with its images as a multipart form.
// Only the status code of the response is meaningful.
func (c *Client) CreateProduct(ctx context.Context, r CreateRequest) error {
	body, contentType, err := encodeCreate(r)
	if err != nil {
		return fmt.Errorf("%w: encode product: %w", ErrRequestFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(createPath), body)
	if err != nil {
		return fmt.Errorf("%w: build create request: %w", ErrRequestFailed, err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	c.log.WithFields(logrus.Fields{
		"name":   r.Name,
		"images": len(r.Images),
	}).Debug("created remote product")
	return nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrRequestFailed, req.Method, req.URL.Path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s %s: status %d", ErrRequestFailed, req.Method, req.URL.Path, resp.StatusCode)
	}
	return resp, nil
}

func encodeCreate(r CreateRequest) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := []struct{ key, value string }{
		{"product_name", r.Name},
		{"product_type", r.Category},
		{"price", r.Price.String()},
		{"tax", r.TaxRate.String()},
	}
	for _, f := range fields {
		if err := w.WriteField(f.key, f.value); err != nil {
			return nil, "", err
		}
	}

	for _, path := range r.Images {
		if err := attachFile(w, path); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func attachFile(w *multipart.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	part, err := w.CreateFormFile("files[]", filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f)
	return err
}
