package tableloader

// Record maps names to values. Storage records are keyed by column name and hold
// driver values; application records are keyed by field name, hold converted values
// and carry their primary key as an ID under "id".
type Record map[string]any

// ID returns the typed identifier of an application record.
func (r Record) ID() (ID, bool) {
	id, ok := r["id"].(ID)
	return id, ok
}

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	c := make(Record, len(r))
	for k, v := range r {
		c[k] = v
	}
	return c
}

type defaultValue struct{}

func (defaultValue) String() string { return "DEFAULT" }

// Default marks a field whose value is left to the column default on insert. A field
// set to Default, like an absent field, is ignored when a returned row is matched
// back to the insert that produced it.
var Default = defaultValue{}

func isDefault(v any) bool {
	_, ok := v.(defaultValue)
	return ok
}
