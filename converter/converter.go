// Package converter provides the tableloader.ConverterFactory implementations for
// the column types commonly found in postgres schemas.
package converter

import (
	"github.com/cockroachdb/errors"

	"github.com/prashanthpai/tableloader"
)

// ErrNull is returned by converters that do not accept NULL. Wrap them with Nullable
// for nullable columns.
var ErrNull = errors.New("value is null where it should not be")

func identity(v any) (any, error) { return v, nil }

// Identity passes values through unchanged.
func Identity() tableloader.ConverterFactory {
	return func(tableloader.ConverterInfo) tableloader.Converter {
		return tableloader.Converter{
			FromStorage: identity,
			ToStorage:   identity,
		}
	}
}

// Nullable extends inner to map NULL to nil and back.
func Nullable(inner tableloader.ConverterFactory) tableloader.ConverterFactory {
	return func(info tableloader.ConverterInfo) tableloader.Converter {
		c := inner(info)
		return tableloader.Converter{
			FromStorage: func(v any) (any, error) {
				if v == nil {
					return nil, nil
				}
				return apply(c.FromStorage, v)
			},
			ToStorage: func(v any) (any, error) {
				if v == nil {
					return nil, nil
				}
				return apply(c.ToStorage, v)
			},
		}
	}
}

// Reference converts a foreign key column to the tableloader.ID of a row in table.
func Reference(table string) tableloader.ConverterFactory {
	return func(info tableloader.ConverterInfo) tableloader.Converter {
		return tableloader.Converter{
			FromStorage: func(v any) (any, error) {
				if v == nil {
					return nil, ErrNull
				}
				n, err := integer(v)
				if err != nil {
					return nil, err
				}
				return tableloader.NewID(table, n), nil
			},
			ToStorage: func(v any) (any, error) {
				id, ok := v.(tableloader.ID)
				if !ok {
					return nil, &tableloader.IdentityError{Table: table, Value: v}
				}
				if id.Table != table {
					return nil, &tableloader.IdentityError{Table: table, Got: id.Table, Value: id.Value}
				}
				return id.Value, nil
			},
		}
	}
}

func apply(fn func(any) (any, error), v any) (any, error) {
	if fn == nil {
		return v, nil
	}
	return fn(v)
}
