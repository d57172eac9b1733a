package converter

import (
	"testing"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/prashanthpai/tableloader"
)

var info = tableloader.ConverterInfo{Table: "users"}

func roundTrip(c tableloader.Converter, v any) (any, error) {
	s, err := c.ToStorage(v)
	if err != nil {
		return nil, err
	}
	return c.FromStorage(s)
}

func TestRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("enum", prop.ForAll(
		func(label string) bool {
			out, err := roundTrip(Enum(map[string]int64{"red": 1, "green": 2, "blue": 3})(info), label)
			return err == nil && out == label
		},
		gen.OneConstOf("red", "green", "blue"),
	))

	properties.Property("date time", prop.ForAll(
		func(ms int64) bool {
			in := time.UnixMilli(ms).UTC()
			out, err := roundTrip(DateTime()(info), in)
			return err == nil && out.(time.Time).Equal(in)
		},
		gen.Int64Range(-1<<40, 1<<42),
	))

	properties.Property("duration", prop.ForAll(
		func(ms int64) bool {
			in := time.Duration(ms) * time.Millisecond
			out, err := roundTrip(Duration()(info), in)
			return err == nil && out == in
		},
		gen.Int64Range(-1<<32, 1<<32),
	))

	properties.Property("decimal", prop.ForAll(
		func(cents int64) bool {
			in := apd.New(cents, -2)
			out, err := roundTrip(Decimal(2)(info), in)
			return err == nil && out.(*apd.Decimal).Cmp(in) == 0
		},
		gen.Int64(),
	))

	properties.Property("reference", prop.ForAll(
		func(n int64) bool {
			in := tableloader.NewID("teams", n)
			out, err := roundTrip(Reference("teams")(info), in)
			return err == nil && out == in
		},
		gen.Int64(),
	))

	properties.Property("nullable", prop.ForAll(
		func(ms int64, null bool) bool {
			var in any
			if !null {
				in = time.UnixMilli(ms).UTC()
			}
			out, err := roundTrip(Nullable(DateTime())(info), in)
			if err != nil {
				return false
			}
			if null {
				return out == nil
			}
			return out.(time.Time).Equal(in.(time.Time))
		},
		gen.Int64Range(0, 1<<42),
		gen.Bool(),
	))

	properties.Property("array", prop.ForAll(
		func(labels []string) bool {
			in := make([]any, len(labels))
			for i, label := range labels {
				in[i] = label
			}
			out, err := roundTrip(Array(Identity())(info), in)
			if err != nil {
				return false
			}
			got := out.([]any)
			if len(got) != len(in) {
				return false
			}
			for i := range got {
				if got[i] != in[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}

func TestDecimal(t *testing.T) {
	assert := require.New(t)

	conv := Decimal(2)(info)
	for in, expected := range map[any]string{
		1.020005: "1.02",
		1:        "1.00",
		1.05:     "1.05",
		"2.345":  "2.35",
	} {
		out, err := conv.ToStorage(in)
		assert.Nil(err)
		assert.Equal(expected, out, "%v", in)
	}

	d, err := conv.FromStorage([]byte("12.50"))
	assert.Nil(err)
	assert.Equal("12.50", d.(*apd.Decimal).Text('f'))

	_, err = conv.ToStorage("NaN")
	assert.NotNil(err)

	assert.Panics(func() { Decimal(0) })
}

func TestEnum(t *testing.T) {
	assert := require.New(t)

	conv := Enum(map[string]int64{"admin": 1, "member": 2})(info)

	label, err := conv.FromStorage(int32(2))
	assert.Nil(err)
	assert.Equal("member", label)

	_, err = conv.FromStorage(int64(7))
	assert.NotNil(err)

	_, err = conv.ToStorage("owner")
	assert.NotNil(err)

	_, err = conv.FromStorage(nil)
	assert.ErrorIs(err, ErrNull)
}

func TestReference(t *testing.T) {
	assert := require.New(t)

	conv := Reference("teams")(info)

	id, err := conv.FromStorage([]byte("42"))
	assert.Nil(err)
	assert.Equal(tableloader.NewID("teams", 42), id)

	_, err = conv.ToStorage(tableloader.NewID("users", 42))
	assert.ErrorIs(err, tableloader.ErrIdentity)

	_, err = conv.ToStorage(int64(42))
	assert.ErrorIs(err, tableloader.ErrIdentity)
}

func TestArray(t *testing.T) {
	assert := require.New(t)

	conv := Array(Enum(map[string]int64{"read": 1, "write": 2}))(info)

	s, err := conv.ToStorage([]string{"write", "read"})
	assert.Nil(err)
	assert.Equal(pq.StringArray{"2", "1"}, s)

	out, err := conv.FromStorage([]byte(`{2,1}`))
	assert.Nil(err)
	assert.Equal([]any{"write", "read"}, out)

	_, err = conv.ToStorage("read")
	assert.NotNil(err)
}

func TestObject(t *testing.T) {
	assert := require.New(t)

	conv := Object(map[string]tableloader.ConverterFactory{
		"since": DateTime(),
	})(info)

	since := time.UnixMilli(1700000000000).UTC()
	s, err := conv.ToStorage(map[string]any{"since": since, "label": "gold"})
	assert.Nil(err)
	assert.JSONEq(`{"since":"1700000000000","label":"gold"}`, s.(string))

	out, err := conv.FromStorage([]byte(s.(string)))
	assert.Nil(err)
	assert.Equal(map[string]any{"since": since, "label": "gold"}, out)
}
