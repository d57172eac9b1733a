package tableloader

import (
	"reflect"
	"strconv"
	"time"

	"github.com/lib/pq"
)

// looseEqual compares a requested storage value with one returned by the database.
// Numbers compare by value across types and against their decimal text, byte slices
// compare as strings and times compare as instants.
func looseEqual(a, b any) bool {
	if x, y, ok := textArrays(a, b); ok {
		return deepLooseEqual(reflect.ValueOf(x), reflect.ValueOf(y))
	}

	a, b = normalize(a), normalize(b)
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if x, ok := a.(time.Time); ok {
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	}

	if x, ok := a.(int64); ok {
		if y, ok := b.(int64); ok {
			return x == y
		}
	}

	if x, ok := a.(string); ok {
		if y, ok := b.(string); ok {
			return x == y
		}
	}

	if x, ok := number(a); ok {
		if y, ok := number(b); ok {
			return x == y
		}
	}

	return deepLooseEqual(reflect.ValueOf(a), reflect.ValueOf(b))
}

// textArrays parses both operands as text arrays when at least one of them is one.
// The other side is usually the array literal returned by the driver.
func textArrays(a, b any) ([]string, []string, bool) {
	x, okA := a.(pq.StringArray)
	y, okB := b.(pq.StringArray)
	if !okA && !okB {
		return nil, nil, false
	}
	if !okA && x.Scan(a) != nil {
		return nil, nil, false
	}
	if !okB && y.Scan(b) != nil {
		return nil, nil, false
	}
	return x, y, true
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func deepLooseEqual(a, b reflect.Value) bool {
	switch {
	case a.Kind() == reflect.Slice && b.Kind() == reflect.Slice,
		a.Kind() == reflect.Array && b.Kind() == reflect.Array:
		if a.Len() != b.Len() {
			return false
		}
		for i := 0; i < a.Len(); i++ {
			if !looseEqual(a.Index(i).Interface(), b.Index(i).Interface()) {
				return false
			}
		}
		return true
	case a.Kind() == reflect.Map && b.Kind() == reflect.Map:
		if a.Len() != b.Len() || a.Type().Key() != b.Type().Key() {
			return false
		}
		iter := a.MapRange()
		for iter.Next() {
			bv := b.MapIndex(iter.Key())
			if !bv.IsValid() || !looseEqual(iter.Value().Interface(), bv.Interface()) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a.Interface(), b.Interface())
}

// weakMatch reports whether a returned row satisfies an insert request: every
// requested column is either left to its default or loosely equal to the row's value.
func weakMatch(request, row Record) bool {
	for column, v := range request {
		if isDefault(v) {
			continue
		}
		rv, ok := row[column]
		if !ok || !looseEqual(v, rv) {
			return false
		}
	}
	return true
}

// claim removes and returns the first row of pool matching request.
func claim(request Record, pool []Record) (Record, []Record, bool) {
	for i, row := range pool {
		if weakMatch(request, row) {
			return row, append(pool[:i:i], pool[i+1:]...), true
		}
	}
	return nil, pool, false
}

// pendingValues are the storage values a batch was dispatched for, by dispatcher key.
type pendingValues[K comparable] struct {
	keys  []K
	byKey map[K]any
}

// newPendingValues pairs keys with their args. Keys without an arg are left out:
// NULL never matches.
func newPendingValues[K comparable](keys []K, args []any) *pendingValues[K] {
	p := &pendingValues[K]{byKey: make(map[K]any, len(keys))}
	for i, key := range keys {
		if args[i] == nil {
			continue
		}
		if _, ok := p.byKey[key]; ok {
			continue
		}
		p.keys = append(p.keys, key)
		p.byKey[key] = args[i]
	}
	return p
}

func (p *pendingValues[K]) values() []any {
	values := make([]any, len(p.keys))
	for i, key := range p.keys {
		values[i] = p.byKey[key]
	}
	return values
}

// match returns the pending key a returned value belongs to. The database may hand
// back a value in another form than it was bound in, such as an integer for text or
// a padded decimal, so values without an exact key are compared loosely.
func (p *pendingValues[K]) match(key K, v any) (K, bool) {
	if _, ok := p.byKey[key]; ok {
		return key, true
	}
	for _, k := range p.keys {
		if looseEqual(p.byKey[k], v) {
			return k, true
		}
	}
	var zero K
	return zero, false
}
