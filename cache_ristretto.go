package tableloader

import (
	"github.com/dgraph-io/ristretto"
)

// Ristretto implements cache.Store on top of ristretto so that one memo of name
// transforms can be shared by every scope of a process.
type Ristretto struct {
	c *ristretto.Cache
}

// Get gets a transformed name from ristretto.
func (r *Ristretto) Get(key string) (string, bool) {
	v, ok := r.c.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Set stores a transformed name. Ristretto may reject or delay the write; the next
// lookup then simply recomputes.
func (r *Ristretto) Set(key, value string) {
	// using name length as cost
	_ = r.c.Set(key, value, int64(len(value)))
}

// NewRistrettoStore creates a new store wrapping the provided *ristretto.Cache.
// Entry cost is the length of the stored name.
func NewRistrettoStore(c *ristretto.Cache) *Ristretto {
	return &Ristretto{
		c: c,
	}
}
