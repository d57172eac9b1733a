package tableloader

import (
	"strconv"
	"strings"

	"github.com/lib/pq"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Query collects the predicates and ordering applied to a SELECT on a loader's table.
// Column names are storage column names. Values are passed to the driver as bind
// arguments. The zero value selects every row.
type Query struct {
	where  []predicate
	order  []string
	limit  int
	offset int
}

type predicate struct {
	sql  string
	args []any
}

// Where restricts rows to those whose column equals value. A nil value matches
// NULL.
func (q *Query) Where(column string, value any) *Query {
	if value == nil {
		return q.WhereNull(column)
	}
	q.where = append(q.where, predicate{sql: quote(column) + " = ?", args: []any{value}})
	return q
}

// WhereNot restricts rows to those whose column differs from value.
func (q *Query) WhereNot(column string, value any) *Query {
	if value == nil {
		q.where = append(q.where, predicate{sql: quote(column) + " IS NOT NULL"})
		return q
	}
	q.where = append(q.where, predicate{sql: quote(column) + " <> ?", args: []any{value}})
	return q
}

// WhereIn restricts rows to those whose column equals one of values. No values
// matches no row.
func (q *Query) WhereIn(column string, values ...any) *Query {
	q.where = append(q.where, inPredicate(quote(column), values))
	return q
}

// WhereNull restricts rows to those whose column is NULL.
func (q *Query) WhereNull(column string) *Query {
	q.where = append(q.where, predicate{sql: quote(column) + " IS NULL"})
	return q
}

// WhereRaw adds a literal SQL condition using ? placeholders for args.
func (q *Query) WhereRaw(expr string, args ...any) *Query {
	q.where = append(q.where, predicate{sql: "(" + expr + ")", args: args})
	return q
}

// OrderBy appends a sort column.
func (q *Query) OrderBy(column string, desc bool) *Query {
	dir := " ASC"
	if desc {
		dir = " DESC"
	}
	q.order = append(q.order, quote(column)+dir)
	return q
}

// Limit caps the number of rows returned. Batched loads ignore it.
func (q *Query) Limit(n int) *Query {
	q.limit = n
	return q
}

// Offset skips the first n rows. Batched loads ignore it.
func (q *Query) Offset(n int) *Query {
	q.offset = n
	return q
}

// predicates returns the WHERE condition and its arguments, prefixed by extra.
func (q *Query) predicates(extra ...predicate) (string, []any) {
	all := extra
	if q != nil {
		all = append(all[:len(all):len(all)], q.where...)
	}
	if len(all) == 0 {
		return "", nil
	}
	var (
		b    strings.Builder
		args []any
	)
	b.WriteString(" WHERE ")
	for i, p := range all {
		if i > 0 {
			b.WriteString(" AND ")
		}
		b.WriteString(p.sql)
		args = append(args, p.args...)
	}
	return b.String(), args
}

func (q *Query) tail(paged bool) string {
	if q == nil {
		return ""
	}
	var b strings.Builder
	if len(q.order) > 0 {
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(q.order, ", "))
	}
	if paged && q.limit > 0 {
		b.WriteString(" LIMIT ")
		b.WriteString(strconv.Itoa(q.limit))
	}
	if paged && q.offset > 0 {
		b.WriteString(" OFFSET ")
		b.WriteString(strconv.Itoa(q.offset))
	}
	return b.String()
}

// numArgs returns the number of bind arguments used by q's predicates.
func (q *Query) numArgs() int {
	if q == nil {
		return 0
	}
	n := 0
	for _, p := range q.where {
		n += len(p.args)
	}
	return n
}

func quote(name string) string {
	return pq.QuoteIdentifier(name)
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

func inPredicate(column string, values []any) predicate {
	if len(values) == 0 {
		return predicate{sql: "FALSE"}
	}
	return predicate{sql: column + " IN (" + placeholders(len(values)) + ")", args: values}
}

func selectSQL(table string, q *Query, extra ...predicate) (string, []any) {
	where, args := q.predicates(extra...)
	return "SELECT * FROM " + quote(table) + where + q.tail(len(extra) == 0), args
}

func countSQL(table string, q *Query) (string, []any) {
	where, args := q.predicates()
	return "SELECT COUNT(*) FROM " + quote(table) + where, args
}

func pairsPredicate(columnA, columnB string, pairs [][2]any) predicate {
	tuples := make([]string, len(pairs))
	args := make([]any, 0, 2*len(pairs))
	for i, pair := range pairs {
		tuples[i] = "(?, ?)"
		args = append(args, pair[0], pair[1])
	}
	return predicate{
		sql:  "(" + quote(columnA) + ", " + quote(columnB) + ") IN (" + strings.Join(tuples, ", ") + ")",
		args: args,
	}
}

// insertSQL renders a conflict-skipping multi-row insert. Columns missing from a row,
// or set to Default, are written as DEFAULT.
func insertSQL(table string, rows []Record) (string, []any) {
	if len(rows) == 1 && len(rows[0]) == 0 {
		return "INSERT INTO " + quote(table) + " DEFAULT VALUES ON CONFLICT DO NOTHING RETURNING *", nil
	}

	columnSet := make(map[string]struct{})
	for _, row := range rows {
		for column := range row {
			columnSet[column] = struct{}{}
		}
	}
	columns := maps.Keys(columnSet)
	slices.Sort(columns)

	quoted := make([]string, len(columns))
	for i, column := range columns {
		quoted[i] = quote(column)
	}

	var (
		b    strings.Builder
		args []any
	)
	b.WriteString("INSERT INTO ")
	b.WriteString(quote(table))
	b.WriteString(" (")
	b.WriteString(strings.Join(quoted, ", "))
	b.WriteString(") VALUES ")
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j, column := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			v, ok := row[column]
			if !ok || isDefault(v) {
				b.WriteString("DEFAULT")
				continue
			}
			b.WriteByte('?')
			args = append(args, v)
		}
		b.WriteByte(')')
	}
	b.WriteString(" ON CONFLICT DO NOTHING RETURNING *")
	return b.String(), args
}

func idPredicate(ids []any) predicate {
	if len(ids) == 1 {
		return predicate{sql: quote("id") + " = ?", args: ids}
	}
	return inPredicate(quote("id"), ids)
}

func updateSQL(table string, set Record, ids []any) (string, []any) {
	columns := maps.Keys(set)
	slices.Sort(columns)

	assignments := make([]string, len(columns))
	args := make([]any, 0, len(columns)+len(ids))
	for i, column := range columns {
		v := set[column]
		if isDefault(v) {
			assignments[i] = quote(column) + " = DEFAULT"
			continue
		}
		assignments[i] = quote(column) + " = ?"
		args = append(args, v)
	}

	where, whereArgs := (*Query)(nil).predicates(idPredicate(ids))
	return "UPDATE " + quote(table) + " SET " + strings.Join(assignments, ", ") + where, append(args, whereArgs...)
}

func deleteSQL(table string, ids []any) (string, []any) {
	where, args := (*Query)(nil).predicates(idPredicate(ids))
	return "DELETE FROM " + quote(table) + where, args
}
