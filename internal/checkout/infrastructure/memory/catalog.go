package memory

import (
	"context"
	"sync"

	"github.com/dmehra2102/canteen-checkout/internal/checkout/domain"
	"github.com/dmehra2102/canteen-checkout/pkg/money"
)

type catalogEntry struct {
	item   domain.Item
	active bool
}

// Catalog is a mutable in-memory menu.
type Catalog struct {
	mu    sync.RWMutex
	items map[int64]catalogEntry
}

func NewCatalog() *Catalog {
	return &Catalog{items: make(map[int64]catalogEntry)}
}

func (c *Catalog) Put(item domain.Item, active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[item.ID] = catalogEntry{item: item, active: active}
}

func (c *Catalog) SetActive(itemID int64, active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.items[itemID]; ok {
		e.active = active
		c.items[itemID] = e
	}
}

// SetPrice changes the live price. Existing orders keep the price they were paid at.
func (c *Catalog) SetPrice(itemID int64, price money.Money) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.items[itemID]; ok {
		e.item.UnitPrice = price
		c.items[itemID] = e
	}
}

func (c *Catalog) GetActiveItem(_ context.Context, itemID int64) (domain.Item, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.items[itemID]
	if !ok || !e.active {
		return domain.Item{}, domain.ErrItemNotFound
	}
	return e.item, nil
}

// Roles is an in-memory staff registry. Staff are exempt from the daily quota.
type Roles struct {
	mu    sync.RWMutex
	staff map[int64]bool
}

func NewRoles(staff ...int64) *Roles {
	r := &Roles{staff: make(map[int64]bool)}
	for _, id := range staff {
		r.staff[id] = true
	}
	return r
}

func (r *Roles) SetStaff(userID int64, staff bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.staff[userID] = staff
}

func (r *Roles) IsExempt(_ context.Context, userID int64) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.staff[userID], nil
}

// SeedDemo fills a catalog with a small menu for local runs.
func SeedDemo(c *Catalog) {
	for _, it := range []domain.Item{
		{ID: 1, Name: "Chicken Shawarma", UnitPrice: money.Minor(1200)},
		{ID: 2, Name: "Falafel Wrap", UnitPrice: money.Minor(900)},
		{ID: 3, Name: "Karak Chai", UnitPrice: money.Minor(300)},
		{ID: 4, Name: "Fresh Orange Juice", UnitPrice: money.Minor(750)},
	} {
		c.Put(it, true)
	}
}
