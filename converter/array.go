package converter

import (
	"fmt"
	"reflect"

	"github.com/cockroachdb/errors"
	"github.com/lib/pq"

	"github.com/prashanthpai/tableloader"
)

// Array converts postgres text arrays element by element with inner. Application
// values are []any; []string and other slices are accepted on the way in.
func Array(inner tableloader.ConverterFactory) tableloader.ConverterFactory {
	return func(info tableloader.ConverterInfo) tableloader.Converter {
		c := inner(info)
		return tableloader.Converter{
			FromStorage: func(v any) (any, error) {
				elems, err := textArray(v)
				if err != nil {
					return nil, err
				}
				out := make([]any, len(elems))
				for i, elem := range elems {
					if out[i], err = apply(c.FromStorage, elem); err != nil {
						return nil, errors.Wrapf(err, "element %d", i)
					}
				}
				return out, nil
			},
			ToStorage: func(v any) (any, error) {
				rv := reflect.ValueOf(v)
				if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
					return nil, errors.Newf("array value must be a slice, got %T", v)
				}
				out := make(pq.StringArray, rv.Len())
				for i := range out {
					s, err := apply(c.ToStorage, rv.Index(i).Interface())
					if err != nil {
						return nil, errors.Wrapf(err, "element %d", i)
					}
					out[i] = fmt.Sprint(s)
				}
				return out, nil
			},
		}
	}
}

func textArray(v any) ([]string, error) {
	switch a := v.(type) {
	case nil:
		return nil, ErrNull
	case pq.StringArray:
		return a, nil
	case []string:
		return a, nil
	}
	var a pq.StringArray
	if err := a.Scan(v); err != nil {
		return nil, errors.Wrap(err, "parsing text array")
	}
	return a, nil
}
