package tableloader

import (
	"github.com/cockroachdb/errors"
	"github.com/mitchellh/mapstructure"
)

// Decode copies rec onto out, a pointer to a struct whose fields are matched by their
// `loader` tag or, failing that, case-insensitively by name.
func Decode(rec Record, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "loader",
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return errors.Wrap(err, "creating decoder")
	}
	if err := dec.Decode(map[string]any(rec)); err != nil {
		return errors.Wrap(err, "decoding record")
	}
	return nil
}
