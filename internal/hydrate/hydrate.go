// Package hydrate enriches bare cart line references with display
// fields by looking up the product catalog. Used only for the anonymous
// cart; the server returns already-enriched lines for authenticated
// carts.
package hydrate

import (
	"context"
	"errors"
	"log/slog"

	"cartsync/internal/catalog"
	"cartsync/internal/model"
)

// Lookup resolves one product id. Satisfied by *catalog.Client.
type Lookup interface {
	Lookup(ctx context.Context, productID string) (catalog.Product, error)
}

// Hydrator turns []model.Line into []model.DisplayLine.
type Hydrator struct {
	catalog Lookup
	logger  *slog.Logger
}

// New creates a Hydrator over the given catalog.
func New(lookup Lookup, logger *slog.Logger) *Hydrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hydrator{catalog: lookup, logger: logger}
}

// Hydrate enriches every line with name, image, prices, and variant
// label. A line whose product can no longer be resolved (or whose
// variant index is out of range) degrades to the Unavailable
// placeholder instead of failing the whole fetch or dropping the line:
// the user must still be able to see and remove a broken line.
//
// A catalog outage (as opposed to a missing product) fails the call;
// rendering every line as Unavailable because the catalog is down would
// misrepresent the cart.
func (h *Hydrator) Hydrate(ctx context.Context, lines []model.Line) (model.Snapshot, error) {
	if len(lines) == 0 {
		return nil, nil
	}

	snapshot := make(model.Snapshot, 0, len(lines))
	for _, line := range lines {
		product, err := h.catalog.Lookup(ctx, line.ProductID)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) {
				h.logger.Warn("cart line references missing product",
					slog.String("product_id", line.ProductID),
					slog.Int("variant_index", line.VariantIndex),
				)
				snapshot = append(snapshot, placeholder(line))
				continue
			}
			return nil, err
		}
		snapshot = append(snapshot, enrich(line, product))
	}
	return snapshot, nil
}

// enrich builds the display line for a resolved product. Variant price
// overrides win over product-level prices; a zero override inherits.
func enrich(line model.Line, product catalog.Product) model.DisplayLine {
	dl := model.DisplayLine{
		Line:          line,
		Name:          product.Name,
		ImageURL:      product.ImageURL,
		Price:         product.Price,
		OriginalPrice: product.OriginalPrice,
	}

	if line.VariantIndex < 0 || line.VariantIndex >= len(product.Variants) {
		if len(product.Variants) > 0 {
			// The variant this line referenced no longer exists.
			return placeholder(line)
		}
		return dl
	}

	variant := product.Variants[line.VariantIndex]
	dl.VariantLabel = variant.Label
	if variant.Price != 0 {
		dl.Price = variant.Price
	}
	if variant.OriginalPrice != 0 {
		dl.OriginalPrice = variant.OriginalPrice
	}
	return dl
}

func placeholder(line model.Line) model.DisplayLine {
	return model.DisplayLine{
		Line:  line,
		Name:  model.PlaceholderName,
		Price: 0,
	}
}
