package converter

import (
	"github.com/cockroachdb/apd/v3"
	"github.com/cockroachdb/errors"

	"github.com/prashanthpai/tableloader"
)

// Decimal converts numeric columns to *apd.Decimal. Values written are rounded half
// up to places fractional digits. Decimal panics if places is not positive.
func Decimal(places int) tableloader.ConverterFactory {
	if places <= 0 {
		panic(errors.AssertionFailedf("number of decimal places must be greater than zero, got %d", places))
	}
	ctx := apd.BaseContext.WithPrecision(38)
	ctx.Rounding = apd.RoundHalfUp

	return func(tableloader.ConverterInfo) tableloader.Converter {
		return tableloader.Converter{
			FromStorage: func(v any) (any, error) {
				return decimal(v)
			},
			ToStorage: func(v any) (any, error) {
				d, err := decimal(v)
				if err != nil {
					return nil, err
				}
				if d.Form != apd.Finite {
					return nil, errors.Newf("decimal value must be finite, got %s", d)
				}
				var out apd.Decimal
				if _, err := ctx.Quantize(&out, d, -int32(places)); err != nil {
					return nil, errors.Wrapf(err, "rounding %s to %d places", d, places)
				}
				return out.Text('f'), nil
			},
		}
	}
}

func decimal(v any) (*apd.Decimal, error) {
	switch x := v.(type) {
	case nil:
		return nil, ErrNull
	case *apd.Decimal:
		return x, nil
	case apd.Decimal:
		return &x, nil
	case string:
		d, _, err := apd.NewFromString(x)
		return d, errors.Wrapf(err, "parsing decimal %q", x)
	case []byte:
		d, _, err := apd.NewFromString(string(x))
		return d, errors.Wrapf(err, "parsing decimal %q", x)
	case float64:
		d, err := new(apd.Decimal).SetFloat64(x)
		return d, errors.Wrapf(err, "converting %v", x)
	case float32:
		d, err := new(apd.Decimal).SetFloat64(float64(x))
		return d, errors.Wrapf(err, "converting %v", x)
	}
	n, err := integer(v)
	if err != nil {
		return nil, errors.Newf("expected a decimal, got %T", v)
	}
	return apd.New(n, 0), nil
}
