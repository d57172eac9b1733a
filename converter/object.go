package converter

import (
	"github.com/cockroachdb/errors"
	"github.com/goccy/go-json"

	"github.com/prashanthpai/tableloader"
)

// Object converts JSON object columns to map[string]any, applying the converter of
// each key present in converters. Other keys are passed through as decoded.
func Object(converters map[string]tableloader.ConverterFactory) tableloader.ConverterFactory {
	return func(info tableloader.ConverterInfo) tableloader.Converter {
		keys := make(map[string]tableloader.Converter, len(converters))
		for key, factory := range converters {
			keys[key] = factory(info)
		}
		return tableloader.Converter{
			FromStorage: func(v any) (any, error) {
				obj, err := jsonObject(v)
				if err != nil {
					return nil, err
				}
				out := make(map[string]any, len(obj))
				for key, value := range obj {
					if out[key], err = apply(keys[key].FromStorage, value); err != nil {
						return nil, errors.Wrapf(err, "key %q", key)
					}
				}
				return out, nil
			},
			ToStorage: func(v any) (any, error) {
				obj, ok := v.(map[string]any)
				if !ok {
					return nil, errors.Newf("object value must be a map[string]any, got %T", v)
				}
				out := make(map[string]any, len(obj))
				for key, value := range obj {
					var err error
					if out[key], err = apply(keys[key].ToStorage, value); err != nil {
						return nil, errors.Wrapf(err, "key %q", key)
					}
				}
				b, err := json.Marshal(out)
				if err != nil {
					return nil, errors.Wrap(err, "encoding object")
				}
				return string(b), nil
			},
		}
	}
}

func jsonObject(v any) (map[string]any, error) {
	var b []byte
	switch x := v.(type) {
	case nil:
		return nil, ErrNull
	case map[string]any:
		return x, nil
	case string:
		b = []byte(x)
	case []byte:
		b = x
	default:
		return nil, errors.Newf("expected a JSON object, got %T", v)
	}
	var obj map[string]any
	if err := json.Unmarshal(b, &obj); err != nil {
		return nil, errors.Wrap(err, "decoding object")
	}
	return obj, nil
}
