package tableloader

import (
	"fmt"
	"strconv"
)

// ID is an integer primary key tagged with the table it belongs to. An ID can only
// be used with the Loader of its own table.
type ID struct {
	Table string
	Value int64
}

// NewID returns the ID of row value in table.
func NewID(table string, value int64) ID {
	return ID{Table: table, Value: value}
}

func (id ID) String() string {
	return fmt.Sprintf("%s:%d", id.Table, id.Value)
}

// idValue extracts an integer id from a value as returned by a database driver.
func idValue(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int16:
		return int64(n), true
	case int8:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint64:
		if n > 1<<63-1 {
			return 0, false
		}
		return int64(n), true
	case []byte:
		i, err := strconv.ParseInt(string(n), 10, 64)
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	}
	return 0, false
}

func idValues(ids []ID) []int64 {
	values := make([]int64, len(ids))
	for i, id := range ids {
		values[i] = id.Value
	}
	return values
}
