package converter

import (
	"math"
	"strconv"

	"github.com/cockroachdb/errors"

	"github.com/prashanthpai/tableloader"
)

// Enum converts integer columns to string labels. values maps each label to the
// integer stored for it.
func Enum(values map[string]int64) tableloader.ConverterFactory {
	labels := make(map[int64]string, len(values))
	for label, n := range values {
		labels[n] = label
	}
	return func(tableloader.ConverterInfo) tableloader.Converter {
		return tableloader.Converter{
			FromStorage: func(v any) (any, error) {
				if v == nil {
					return nil, ErrNull
				}
				n, err := integer(v)
				if err != nil {
					return nil, err
				}
				label, ok := labels[n]
				if !ok {
					return nil, errors.Newf("database contains invalid enum value %d", n)
				}
				return label, nil
			},
			ToStorage: func(v any) (any, error) {
				label, ok := v.(string)
				if !ok {
					return nil, errors.Newf("enum value must be a string, got %T", v)
				}
				n, ok := values[label]
				if !ok {
					return nil, errors.Newf("invalid enum value %q", label)
				}
				return n, nil
			},
		}
	}
}

func integer(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, errors.Newf("expected an integer, got %v", n)
		}
		return int64(n), nil
	case []byte:
		return parseInteger(string(n))
	case string:
		return parseInteger(n)
	}
	return 0, errors.Newf("expected an integer, got %T", v)
}

func parseInteger(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "expected an integer, got %q", s)
	}
	return n, nil
}
