package storage

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/rl1809/tiered-checkout/internal/core/domain"
	"github.com/rl1809/tiered-checkout/internal/port"
)

// CatalogFile is the on-disk catalog: products with their tiers, and the
// opening stock per location.
type CatalogFile struct {
	Products  []ProductSpec `yaml:"products"`
	Inventory []StockSpec   `yaml:"inventory"`
}

type ProductSpec struct {
	ID    string     `yaml:"id"`
	Name  string     `yaml:"name"`
	Tiers []TierSpec `yaml:"tiers"`
}

type TierSpec struct {
	ID           string `yaml:"id"`
	Label        string `yaml:"label"`
	UnitsPerTier int64  `yaml:"units_per_tier"`
	// Price is a decimal string ("19.99") so no float rounding happens on load.
	Price string `yaml:"price"`
}

type StockSpec struct {
	ProductID  string `yaml:"product_id"`
	LocationID string `yaml:"location_id"`
	OnHand     int64  `yaml:"on_hand"`
}

// LoadCatalogFile reads and parses a catalog YAML file.
func LoadCatalogFile(path string) (*CatalogFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return ParseCatalogFile(data)
}

func ParseCatalogFile(data []byte) (*CatalogFile, error) {
	var f CatalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return &f, nil
}

// Catalog is a read-only CatalogRepository held in memory.
type Catalog struct {
	mu       sync.RWMutex
	products map[string]domain.Product
}

var _ port.CatalogRepository = (*Catalog)(nil)

func NewCatalog(products ...domain.Product) (*Catalog, error) {
	c := &Catalog{products: make(map[string]domain.Product, len(products))}
	for _, p := range products {
		if err := c.Put(p); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// NewCatalogFromFile converts the product section of f into a Catalog.
func NewCatalogFromFile(f *CatalogFile) (*Catalog, error) {
	products := make([]domain.Product, 0, len(f.Products))
	for _, ps := range f.Products {
		p := domain.Product{ID: ps.ID, Name: ps.Name}
		for _, ts := range ps.Tiers {
			price, err := decimal.NewFromString(ts.Price)
			if err != nil {
				return nil, fmt.Errorf("product %s tier %s: price %q: %w", ps.ID, ts.ID, ts.Price, err)
			}
			p.Tiers = append(p.Tiers, domain.Tier{
				ID:           ts.ID,
				Label:        ts.Label,
				UnitsPerTier: ts.UnitsPerTier,
				Price:        price,
			})
		}
		products = append(products, p)
	}
	return NewCatalog(products...)
}

// Put adds or replaces a product after validating it.
func (c *Catalog) Put(p domain.Product) error {
	if err := p.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[p.ID] = p
	return nil
}

func (c *Catalog) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.products[productID]
	if !ok {
		return nil, fmt.Errorf("product %s: %w", productID, domain.ErrNotFound)
	}
	p.Tiers = append([]domain.Tier(nil), p.Tiers...)
	return &p, nil
}
