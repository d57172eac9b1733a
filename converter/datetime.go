package converter

import (
	"strconv"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/prashanthpai/tableloader"
)

// DateTime converts columns holding Unix milliseconds, as text or integer, to UTC
// time.Time values. Writes are truncated to the millisecond.
func DateTime() tableloader.ConverterFactory {
	return func(tableloader.ConverterInfo) tableloader.Converter {
		return tableloader.Converter{
			FromStorage: func(v any) (any, error) {
				if v == nil {
					return nil, ErrNull
				}
				ms, err := integer(v)
				if err != nil {
					return nil, err
				}
				return time.UnixMilli(ms).UTC(), nil
			},
			ToStorage: func(v any) (any, error) {
				t, ok := v.(time.Time)
				if !ok {
					return nil, errors.Newf("date time value must be a time.Time, got %T", v)
				}
				return strconv.FormatInt(t.UnixMilli(), 10), nil
			},
		}
	}
}

// Duration converts columns holding milliseconds to time.Duration values.
func Duration() tableloader.ConverterFactory {
	return func(tableloader.ConverterInfo) tableloader.Converter {
		return tableloader.Converter{
			FromStorage: func(v any) (any, error) {
				if v == nil {
					return nil, ErrNull
				}
				ms, err := integer(v)
				if err != nil {
					return nil, err
				}
				return time.Duration(ms) * time.Millisecond, nil
			},
			ToStorage: func(v any) (any, error) {
				d, ok := v.(time.Duration)
				if !ok {
					return nil, errors.Newf("duration value must be a time.Duration, got %T", v)
				}
				return strconv.FormatInt(d.Milliseconds(), 10), nil
			},
		}
	}
}
