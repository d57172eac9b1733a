package tableloader

import (
	"github.com/iancoleman/strcase"

	"github.com/prashanthpai/tableloader/cache"
)

// Caser renames application fields to storage columns and back.
type Caser interface {
	// ToStorage converts a field name, eg "createdAt", to its column, "created_at".
	ToStorage(field string) string
	// ToApplication converts a column name, eg "created_at", to its field, "createdAt".
	ToApplication(column string) string
}

type memoCaser struct {
	store cache.Store
}

// NewCaser returns the default snake_case / lowerCamelCase Caser memoizing its
// results in store. A nil store gets a fresh cache.Map.
func NewCaser(store cache.Store) Caser {
	if store == nil {
		store = cache.NewMap()
	}
	return &memoCaser{store: store}
}

func (c *memoCaser) ToStorage(field string) string {
	return c.memo("s:", field, strcase.ToSnake)
}

func (c *memoCaser) ToApplication(column string) string {
	return c.memo("a:", column, strcase.ToLowerCamel)
}

func (c *memoCaser) memo(prefix, name string, transform func(string) string) string {
	key := prefix + name
	if v, ok := c.store.Get(key); ok {
		return v
	}
	v := transform(name)
	c.store.Set(key, v)
	return v
}
