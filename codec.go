package tableloader

import (
	"github.com/cockroachdb/errors"
)

// Converter is a pair of functions translating one field between its storage value
// and its application value.
type Converter struct {
	FromStorage func(v any) (any, error)
	ToStorage   func(v any) (any, error)
}

// ConverterInfo describes where a converter is used.
type ConverterInfo struct {
	Table string
}

// ConverterFactory creates the Converter of one field of a table.
type ConverterFactory func(info ConverterInfo) Converter

var errMissingValue = errors.New("value is missing")

// codec converts whole records of one table.
type codec struct {
	table      string
	caser      Caser
	converters map[string]Converter
}

func newCodec(table string, caser Caser, factories map[string]ConverterFactory) *codec {
	c := &codec{
		table:      table,
		caser:      caser,
		converters: make(map[string]Converter, len(factories)),
	}
	for field, factory := range factories {
		// the primary key is always handled as an ID
		if factory == nil || field == "id" {
			continue
		}
		c.converters[field] = factory(ConverterInfo{Table: table})
	}
	return c
}

func (c *codec) fromStorage(row Record) (Record, error) {
	rec := make(Record, len(row))
	for column, v := range row {
		rec[c.caser.ToApplication(column)] = v
	}

	var rowID *int64
	if raw, ok := rec["id"]; ok {
		n, ok := idValue(raw)
		if !ok {
			return nil, &IdentityError{Table: c.table, Value: raw}
		}
		rec["id"] = NewID(c.table, n)
		rowID = &n
	}

	for field, conv := range c.converters {
		v, ok := rec[field]
		if !ok || conv.FromStorage == nil {
			continue
		}
		out, err := conv.FromStorage(v)
		if err != nil {
			return nil, &ConversionError{Table: c.table, Field: field, ID: rowID, Err: err}
		}
		rec[field] = out
	}

	return rec, nil
}

func (c *codec) toStorage(rec Record, ignoreMissing bool) (Record, error) {
	var recID *int64
	if id, ok := rec["id"].(ID); ok {
		recID = &id.Value
	}

	out := rec.Clone()
	for field, conv := range c.converters {
		v, ok := rec[field]
		if !ok {
			if ignoreMissing {
				continue
			}
			return nil, &ConversionError{Table: c.table, Field: field, ID: recID, Err: errMissingValue}
		}
		if isDefault(v) || conv.ToStorage == nil {
			continue
		}
		s, err := conv.ToStorage(v)
		if err != nil {
			return nil, &ConversionError{Table: c.table, Field: field, ID: recID, Err: err}
		}
		out[field] = s
	}

	if v, ok := out["id"]; ok && !isDefault(v) {
		id, ok := v.(ID)
		if !ok {
			return nil, &IdentityError{Table: c.table, Value: v}
		}
		if id.Table != c.table {
			return nil, &IdentityError{Table: c.table, Got: id.Table, Value: id.Value}
		}
		out["id"] = id.Value
	}

	renamed := make(Record, len(out))
	for field, v := range out {
		renamed[c.caser.ToStorage(field)] = v
	}
	return renamed, nil
}

// encode converts a single application value of field to its column and storage
// value.
func (c *codec) encode(field string, v any) (string, any, error) {
	column := c.caser.ToStorage(field)
	row, err := c.toStorage(Record{field: v}, true)
	if err != nil {
		return "", nil, err
	}
	return column, row[column], nil
}

// canonical re-encodes a storage value of field read from the database the way encode
// would, so that it compares equal to the values loads were requested with. Values
// the converter rejects are returned unchanged.
func (c *codec) canonical(field string, v any) any {
	conv, ok := c.converters[field]
	if !ok || v == nil || conv.FromStorage == nil || conv.ToStorage == nil {
		return v
	}
	app, err := conv.FromStorage(v)
	if err != nil {
		return v
	}
	out, err := conv.ToStorage(app)
	if err != nil {
		return v
	}
	return out
}

func (c *codec) encodeIDs(ids []ID) ([]any, error) {
	values := make([]any, len(ids))
	for i, id := range ids {
		if id.Table != c.table {
			return nil, &IdentityError{Table: c.table, Got: id.Table, Value: id.Value}
		}
		values[i] = id.Value
	}
	return values, nil
}
