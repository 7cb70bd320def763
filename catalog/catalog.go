package catalog

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/code-payments/iap-billing/iap"
)

var ErrInvalidCatalog = errors.New("invalid catalog")

type productEntry struct {
	ID             string          `yaml:"id"`
	Type           string          `yaml:"type"`
	Name           string          `yaml:"name"`
	Description    string          `yaml:"description"`
	Price          decimal.Decimal `yaml:"price"`
	Currency       string          `yaml:"currency"`
	LocalizedPrice string          `yaml:"localized_price"`
}

type file struct {
	Products []productEntry `yaml:"products"`
}

// Catalog is a static product list, used where the platform offers no
// server-side product query.
type Catalog struct {
	products map[string]*iap.Product
}

func New(products ...*iap.Product) (*Catalog, error) {
	c := &Catalog{products: make(map[string]*iap.Product, len(products))}
	for _, p := range products {
		if p.ID == "" {
			return nil, fmt.Errorf("%w: product without id", ErrInvalidCatalog)
		}
		if p.ItemType == iap.ItemTypeUnknown {
			return nil, fmt.Errorf("%w: product %q has no item type", ErrInvalidCatalog, p.ID)
		}
		if _, ok := c.products[p.ID]; ok {
			return nil, fmt.Errorf("%w: duplicate product %q", ErrInvalidCatalog, p.ID)
		}
		c.products[p.ID] = p.Clone()
	}
	return c, nil
}

func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}

	products := make([]*iap.Product, 0, len(f.Products))
	for _, e := range f.Products {
		itemType, ok := iap.ParseItemType(e.Type)
		if !ok {
			return nil, fmt.Errorf("%w: product %q has unknown type %q", ErrInvalidCatalog, e.ID, e.Type)
		}

		localized := e.LocalizedPrice
		if localized == "" && e.Currency != "" {
			localized = e.Price.StringFixed(2) + " " + e.Currency
		}

		products = append(products, &iap.Product{
			ID:             e.ID,
			ItemType:       itemType,
			Name:           e.Name,
			Description:    e.Description,
			Price:          e.Price,
			CurrencyCode:   e.Currency,
			LocalizedPrice: localized,
		})
	}
	return New(products...)
}

func (c *Catalog) Get(productID string) (*iap.Product, bool) {
	p, ok := c.products[productID]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// Lookup returns the products of the given type whose ids are listed, in the
// order requested. Unknown ids and ids of another type are skipped.
func (c *Catalog) Lookup(itemType iap.ItemType, productIDs ...string) []*iap.Product {
	products := make([]*iap.Product, 0, len(productIDs))
	seen := make(map[string]struct{}, len(productIDs))
	for _, id := range productIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		p, ok := c.products[id]
		if !ok || p.ItemType != itemType {
			continue
		}
		products = append(products, p.Clone())
	}
	return products
}

// IDs returns every product id, sorted.
func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.products))
	for id := range c.products {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
