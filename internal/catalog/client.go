// Package catalog retrieves product records for cart hydration. Only
// anonymous carts need it: the server already returns display-enriched
// lines for authenticated carts.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"cartsync/internal/model"
)

// Product is a catalog record with the fields hydration needs.
// Prices arrive as minor-unit strings on the wire and are parsed once.
type Product struct {
	ID            string
	Name          string
	ImageURL      string
	Price         int64
	OriginalPrice int64
	Variants      []Variant
}

// Variant is one purchasable variation of a product. Zero prices mean
// "inherit from the product".
type Variant struct {
	Label         string
	Price         int64
	OriginalPrice int64
}

// wireProduct is the catalog API response shape.
type wireProduct struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	ImageURL      string        `json:"imageUrl"`
	Price         string        `json:"price"`
	OriginalPrice string        `json:"originalPrice"`
	Variants      []wireVariant `json:"variants"`
}

type wireVariant struct {
	Label         string `json:"label"`
	Price         string `json:"price"`
	OriginalPrice string `json:"originalPrice"`
}

// Config holds catalog client configuration.
type Config struct {
	// BaseURL is the catalog API origin.
	BaseURL string

	// CacheTTL bounds how long a looked-up product is served from
	// memory. The hydrator hits the same products on every anonymous
	// fetch, so even a short TTL removes most round trips. Default 30s.
	CacheTTL time.Duration

	// Transport overrides the HTTP transport; nil uses the default.
	Transport http.RoundTripper

	// Timeout bounds every lookup. Default 10s.
	Timeout time.Duration
}

// Client looks up catalog products with a read-through TTL cache.
type Client struct {
	httpClient *http.Client
	baseURL    string
	ttl        time.Duration
	now        func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	product Product
	expires time.Time
}

// New creates a catalog client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout, Transport: cfg.Transport},
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		ttl:        ttl,
		now:        time.Now,
		cache:      make(map[string]cacheEntry),
	}, nil
}

// Lookup returns the product with the given id. A 404 maps to
// model.ErrNotFound so callers can distinguish "gone" from "down".
func (c *Client) Lookup(ctx context.Context, productID string) (Product, error) {
	c.mu.Lock()
	if entry, ok := c.cache[productID]; ok && c.now().Before(entry.expires) {
		c.mu.Unlock()
		return entry.product, nil
	}
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/products/"+productID, nil)
	if err != nil {
		return Product{}, model.NewValidationError("product id", err.Error())
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Product{}, model.NewUnreachableError("catalog API", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Product{}, model.NewNotFoundError("product " + productID)
	}
	if resp.StatusCode >= 400 {
		return Product{}, model.NewUnreachableError("catalog API",
			fmt.Errorf("status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Product{}, model.NewUnreachableError("catalog API", err)
	}

	var wire wireProduct
	if err := json.Unmarshal(body, &wire); err != nil {
		return Product{}, model.NewUnreachableError("catalog API",
			fmt.Errorf("malformed product: %w", err))
	}

	product := wire.toProduct()

	c.mu.Lock()
	c.cache[productID] = cacheEntry{product: product, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()

	return product, nil
}

func (w wireProduct) toProduct() Product {
	p := Product{
		ID:            w.ID,
		Name:          w.Name,
		ImageURL:      w.ImageURL,
		Price:         model.ParseMinorUnits(w.Price),
		OriginalPrice: model.ParseMinorUnits(w.OriginalPrice),
	}
	for _, v := range w.Variants {
		p.Variants = append(p.Variants, Variant{
			Label:         v.Label,
			Price:         model.ParseMinorUnits(v.Price),
			OriginalPrice: model.ParseMinorUnits(v.OriginalPrice),
		})
	}
	return p
}
