package tableloader

import (
	"database/sql/driver"
	"reflect"
	"time"

	"github.com/mitchellh/hashstructure/v2"
)

// hashedKey stands in for storage values that cannot be used as map keys, such as
// arrays or JSON documents.
type hashedKey struct {
	h uint64
}

// normalize maps a storage value onto the canonical driver representation so that
// equal values compare equal regardless of the Go type they were produced with: all
// integers become int64, byte slices become strings and times lose their location
// and are rounded to the microsecond precision databases store.
func normalize(v any) any {
	if v == nil || isDefault(v) {
		return v
	}
	cv, err := driver.DefaultParameterConverter.ConvertValue(v)
	if err != nil {
		return v
	}
	switch x := cv.(type) {
	case []byte:
		return string(x)
	case time.Time:
		return x.Round(time.Microsecond).UTC()
	}
	return cv
}

// keyOf returns a comparable key for a storage value.
func keyOf(v any) any {
	n := normalize(v)
	if n == nil {
		return nil
	}
	if reflect.TypeOf(n).Comparable() {
		return n
	}
	h, err := hashstructure.Hash(n, hashstructure.FormatV2, nil)
	if err != nil {
		// unhashable values never share a batch entry
		return &n
	}
	return hashedKey{h}
}

// hashKey hashes a refinement key into a partition identifier.
func hashKey(key any) (uint64, error) {
	return hashstructure.Hash(struct {
		Type string
		Key  any
	}{
		Type: reflect.TypeOf(key).String(),
		Key:  key,
	}, hashstructure.FormatV2, nil)
}
