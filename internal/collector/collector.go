package collector

import (
	"sync"

	"github.com/maltedev/recycle-crawler/internal/models"
)

// Collector accumulates records of every kind for one crawl, dropping
// duplicates by identity key and keeping first-seen order. All kinds share
// one lock; browser responses call Add from their own goroutine.
type Collector struct {
	mu    sync.RWMutex
	index map[models.Kind]map[string]struct{}
	order map[models.Kind][]models.Record
}

func New() *Collector {
	c := &Collector{
		index: make(map[models.Kind]map[string]struct{}, len(models.Kinds)),
		order: make(map[models.Kind][]models.Record, len(models.Kinds)),
	}
	for _, kind := range models.Kinds {
		c.index[kind] = make(map[string]struct{})
	}
	return c
}

// Add inserts the record unless one with the same kind and key is already
// present. It reports whether the record was new.
func (c *Collector) Add(record models.Record) bool {
	kind := record.Kind()
	key := record.Key()

	c.mu.Lock()
	defer c.mu.Unlock()

	seen, ok := c.index[kind]
	if !ok {
		return false
	}
	if _, dup := seen[key]; dup {
		return false
	}

	seen[key] = struct{}{}
	c.order[kind] = append(c.order[kind], record)
	return true
}

// AddAll adds every record and returns how many were new.
func (c *Collector) AddAll(records []models.Record) int {
	added := 0
	for _, r := range records {
		if c.Add(r) {
			added++
		}
	}
	return added
}

// Snapshot returns a copy of the records of one kind in insertion order.
func (c *Collector) Snapshot(kind models.Kind) []models.Record {
	c.mu.RLock()
	defer c.mu.RUnlock()

	records := c.order[kind]
	out := make([]models.Record, len(records))
	copy(out, records)
	return out
}

func (c *Collector) Len(kind models.Kind) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order[kind])
}

// Counts returns the number of records held per kind.
func (c *Collector) Counts() map[models.Kind]int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	counts := make(map[models.Kind]int, len(models.Kinds))
	for _, kind := range models.Kinds {
		counts[kind] = len(c.order[kind])
	}
	return counts
}

func (c *Collector) Brands() []models.Brand {
	return snapshotAs[models.Brand](c, models.KindBrand)
}

func (c *Collector) Products() []models.Product {
	return snapshotAs[models.Product](c, models.KindProduct)
}

func (c *Collector) Collections() []models.Collection {
	return snapshotAs[models.Collection](c, models.KindCollection)
}

func (c *Collector) Groups() []models.CategoryGroup {
	return snapshotAs[models.CategoryGroup](c, models.KindCategoryGroup)
}

// CollectionsFor returns the collections recorded for one brand.
func (c *Collector) CollectionsFor(brandID int64) []models.Collection {
	var out []models.Collection
	for _, col := range c.Collections() {
		if col.BrandID == brandID {
			out = append(out, col)
		}
	}
	return out
}

func snapshotAs[T models.Record](c *Collector, kind models.Kind) []T {
	c.mu.RLock()
	defer c.mu.RUnlock()

	records := c.order[kind]
	out := make([]T, 0, len(records))
	for _, r := range records {
		if v, ok := r.(T); ok {
			out = append(out, v)
		}
	}
	return out
}
