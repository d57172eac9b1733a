package tableloader

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, qMock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.Nil(t, err)
	t.Cleanup(func() { db.Close() })
	return db, qMock
}

func testSettings() *Settings {
	settings := DefaultSettings()
	settings.Wait = 10 * time.Millisecond
	return settings
}

func newTestLoader(t *testing.T, conn Conn, table *Table, settings *Settings) *Loader {
	logger, _ := test.NewNullLogger()
	if settings == nil {
		settings = testSettings()
	}
	l, _, err := New(&Config{
		Conn:     conn,
		Table:    table,
		Settings: settings,
		Logger:   logger,
	})
	require.Nil(t, err)
	return l
}

func toDriverArgs(args []any) []driver.Value {
	values := make([]driver.Value, len(args))
	for i, arg := range args {
		values[i] = arg
	}
	return values
}

func TestNew(t *testing.T) {
	assert := require.New(t)
	db, _ := newMock(t)

	// failure cases
	inputs := []*Config{
		nil,
		{},
		{Conn: db},
		{Conn: db, Table: &Table{}},
		{Conn: db, Table: &Table{Name: "users"}, Settings: &Settings{BindLimit: 1}},
	}
	for _, input := range inputs {
		l, m, err := New(input)
		assert.Nil(l)
		assert.Nil(m)
		assert.NotNil(err)
	}

	// success
	l, m, err := New(&Config{Conn: db, Table: &Table{Name: "users"}})
	assert.Nil(err)
	assert.NotNil(l)
	assert.NotNil(m)
	assert.Equal("users", l.Table().Name)
	assert.Equal(DefaultSettings(), m.Settings())
	assert.Equal("created_at", m.Column("createdAt"))
}

func TestLoadByField(t *testing.T) {
	assert := require.New(t)
	db, qMock := newMock(t)
	ctx := context.Background()

	qMock.ExpectQuery(`SELECT * FROM "posts" WHERE "author_id" IN ($1, $2, $3)`).
		WithArgs(int64(1), int64(2), int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "author_id", "title"}).
			AddRow(int64(10), int64(1), "a").
			AddRow(int64(11), int64(1), "b").
			AddRow(int64(12), int64(3), "c"))

	l := newTestLoader(t, db, &Table{Name: "posts"}, nil)
	byAuthor := l.ByField("authorId")

	records, errs := byAuthor.LoadMany(ctx, []any{int64(1), int64(2), int64(3)})
	assert.Nil(errs)
	assert.Len(records, 3)
	assert.Len(records[0], 2)
	assert.Equal("a", records[0][0]["title"])
	assert.Equal(NewID("posts", 10), records[0][0]["id"])
	assert.Equal([]Record{}, records[1])
	assert.Equal(int64(1), records[0][1]["authorId"])

	// cached
	again, err := l.ByField("authorId").Load(ctx, 3)
	assert.Nil(err)
	assert.Equal(records[2], again)

	assert.Nil(qMock.ExpectationsWereMet())
}

func TestLoadConcurrent(t *testing.T) {
	assert := require.New(t)
	db, qMock := newMock(t)

	rows := sqlmock.NewRows([]string{"id", "email"})
	for i := int64(1); i <= 5; i++ {
		rows.AddRow(i, fmt.Sprintf("%d@example.com", i))
	}
	qMock.ExpectQuery(`SELECT * FROM "users" WHERE "id" IN ($1, $2, $3, $4, $5)`).WillReturnRows(rows)

	l := newTestLoader(t, db, &Table{Name: "users"}, &Settings{
		Wait:      50 * time.Millisecond,
		BindLimit: 100,
		Dialect:   "postgres",
	})

	ctx := context.Background()
	var g errgroup.Group
	for i := 0; i < 25; i++ {
		n := int64(i%5 + 1)
		g.Go(func() error {
			rec, err := l.ByIDStrict(ctx, NewID("users", n))
			if err != nil {
				return err
			}
			if rec["email"] != fmt.Sprintf("%d@example.com", n) {
				return errors.Newf("wrong record for %d: %v", n, rec)
			}
			return nil
		})
	}
	assert.Nil(g.Wait())
	assert.Nil(qMock.ExpectationsWereMet())
}

func TestByID(t *testing.T) {
	assert := require.New(t)
	db, qMock := newMock(t)
	ctx := context.Background()

	l := newTestLoader(t, db, &Table{Name: "users"}, nil)

	qMock.ExpectQuery(`SELECT * FROM "users" WHERE "id" IN ($1)`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}))

	rec, err := l.ByID(ctx, NewID("users", 7))
	assert.Nil(err)
	assert.Nil(rec)

	// the empty result is cached as well
	_, err = l.ByIDStrict(ctx, NewID("users", 7))
	assert.True(errors.Is(err, ErrNotFound))
	var notFound *NotFoundError
	assert.True(errors.As(err, &notFound))
	assert.Equal("id", notFound.Field)

	// ids of other tables never reach the database
	_, err = l.ByID(ctx, NewID("posts", 7))
	assert.True(errors.Is(err, ErrIdentity))

	assert.Nil(qMock.ExpectationsWereMet())
}

func TestByIDs(t *testing.T) {
	assert := require.New(t)
	db, qMock := newMock(t)

	qMock.ExpectQuery(`SELECT * FROM "users" WHERE "id" IN ($1, $2)`).
		WithArgs(int64(1), int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(2)))

	l := newTestLoader(t, db, &Table{Name: "users"}, nil)
	records, err := l.ByIDs(context.Background(), []ID{NewID("users", 1), NewID("users", 2)})
	assert.Nil(err)
	assert.Nil(records[0])
	assert.Equal(NewID("users", 2), records[1]["id"])

	_, err = l.ByIDs(context.Background(), []ID{NewID("teams", 1)})
	assert.True(errors.Is(err, ErrIdentity))

	assert.Nil(qMock.ExpectationsWereMet())
}

func TestCardinality(t *testing.T) {
	assert := require.New(t)
	db, qMock := newMock(t)

	qMock.ExpectQuery(`SELECT * FROM "users" WHERE "email" IN ($1)`).
		WithArgs("a@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email"}).
			AddRow(int64(1), "a@example.com").
			AddRow(int64(2), "a@example.com"))

	l := newTestLoader(t, db, &Table{Name: "users"}, nil)
	_, err := l.ByField("email").One(context.Background(), "a@example.com")
	assert.True(errors.Is(err, ErrCardinality))

	var cardinality *CardinalityError
	assert.True(errors.As(err, &cardinality))
	assert.Equal(2, cardinality.Count)

	assert.Nil(qMock.ExpectationsWereMet())
}

func TestDispatchError(t *testing.T) {
	assert := require.New(t)
	db, qMock := newMock(t)
	ctx := context.Background()

	qMock.ExpectQuery(`SELECT * FROM "users" WHERE "id" IN ($1, $2)`).
		WillReturnError(errors.New("connection reset"))

	l := newTestLoader(t, db, &Table{Name: "users"}, nil)
	a := l.ByIDThunk(ctx, NewID("users", 1))
	b := l.ByIDThunk(ctx, NewID("users", 2))

	_, errA := a()
	_, errB := b()
	assert.NotNil(errA)
	assert.Equal(errA, errB)
	assert.Contains(errA.Error(), "connection reset")

	assert.Nil(qMock.ExpectationsWereMet())
}

func TestConversionErrorIsolated(t *testing.T) {
	assert := require.New(t)
	db, qMock := newMock(t)
	ctx := context.Background()

	qMock.ExpectQuery(`SELECT * FROM "users" WHERE "id" IN ($1, $2)`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "role"}).
			AddRow(int64(1), "admin").
			AddRow(int64(2), "bogus"))

	table := &Table{
		Name: "users",
		Converters: map[string]ConverterFactory{
			"role": func(ConverterInfo) Converter {
				return Converter{
					FromStorage: func(v any) (any, error) {
						if v != "admin" {
							return nil, errors.Newf("unknown role %v", v)
						}
						return "ADMIN", nil
					},
				}
			},
		},
	}
	l := newTestLoader(t, db, table, nil)

	good := l.ByIDThunk(ctx, NewID("users", 1))
	bad := l.ByIDThunk(ctx, NewID("users", 2))

	rec, err := good()
	assert.Nil(err)
	assert.Equal("ADMIN", rec["role"])

	_, err = bad()
	assert.True(errors.Is(err, ErrConversion))
	var conv *ConversionError
	assert.True(errors.As(err, &conv))
	assert.Equal("role", conv.Field)
	assert.Equal(int64(2), *conv.ID)

	assert.Nil(qMock.ExpectationsWereMet())
}

func TestFilter(t *testing.T) {
	assert := require.New(t)
	db, qMock := newMock(t)
	ctx := context.Background()

	qMock.ExpectQuery(`SELECT * FROM "users" WHERE "id" IN ($1, $2)`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "deleted"}).
			AddRow(int64(1), false).
			AddRow(int64(2), true))

	l := newTestLoader(t, db, &Table{
		Name:   "users",
		Filter: func(rec Record) bool { return rec["deleted"] != true },
	}, nil)

	visible := l.ByIDThunk(ctx, NewID("users", 1))
	hidden := l.ByIDThunk(ctx, NewID("users", 2))

	rec, err := visible()
	assert.Nil(err)
	assert.NotNil(rec)

	rec, err = hidden()
	assert.Nil(err)
	assert.Nil(rec)

	assert.Nil(qMock.ExpectationsWereMet())
}

func TestNullValue(t *testing.T) {
	assert := require.New(t)
	db, qMock := newMock(t)

	l := newTestLoader(t, db, &Table{Name: "posts"}, nil)
	records, err := l.ByField("authorId").Load(context.Background(), nil)
	assert.Nil(err)
	assert.Empty(records)

	assert.Nil(qMock.ExpectationsWereMet())
}

func TestBindLimitChunks(t *testing.T) {
	assert := require.New(t)
	db, qMock := newMock(t)
	ctx := context.Background()

	qMock.ExpectQuery(`SELECT * FROM "users" WHERE "id" IN ($1, $2, $3)`).
		WithArgs(int64(1), int64(2), int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)).AddRow(int64(3)))
	qMock.ExpectQuery(`SELECT * FROM "users" WHERE "id" IN ($1, $2)`).
		WithArgs(int64(4), int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(5)))

	settings := testSettings()
	settings.BindLimit = 3
	l := newTestLoader(t, db, &Table{Name: "users"}, settings)

	ids := []ID{}
	for i := int64(1); i <= 5; i++ {
		ids = append(ids, NewID("users", i))
	}
	records, err := l.ByIDs(ctx, ids)
	assert.Nil(err)
	assert.NotNil(records[0])
	assert.Nil(records[1])
	assert.NotNil(records[2])
	assert.Nil(records[3])
	assert.NotNil(records[4])

	assert.Nil(qMock.ExpectationsWereMet())
}

func TestMaxBatch(t *testing.T) {
	assert := require.New(t)
	db, qMock := newMock(t)
	ctx := context.Background()

	qMock.ExpectQuery(`SELECT * FROM "users" WHERE "id" IN ($1, $2)`).
		WithArgs(int64(1), int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)).AddRow(int64(2)))
	qMock.ExpectQuery(`SELECT * FROM "users" WHERE "id" IN ($1)`).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(3)))

	settings := testSettings()
	settings.MaxBatch = 2
	l := newTestLoader(t, db, &Table{Name: "users"}, settings)

	records, err := l.ByIDs(ctx, []ID{NewID("users", 1), NewID("users", 2), NewID("users", 3)})
	assert.Nil(err)
	for _, rec := range records {
		assert.NotNil(rec)
	}

	assert.Nil(qMock.ExpectationsWereMet())
}

func TestRefine(t *testing.T) {
	assert := require.New(t)
	db, qMock := newMock(t)
	ctx := context.Background()

	qMock.ExpectQuery(`SELECT * FROM "users" WHERE "team_id" IN ($1, $2) AND "active" = $3 ORDER BY "name" ASC`).
		WithArgs(int64(1), int64(2), true).
		WillReturnRows(sqlmock.NewRows([]string{"id", "team_id", "name"}).
			AddRow(int64(5), int64(2), "ann").
			AddRow(int64(4), int64(2), "bob"))

	l := newTestLoader(t, db, &Table{Name: "users"}, nil)
	active := func() Refinement {
		return Refinement{
			Key: "active",
			Apply: func(q *Query) {
				q.Where("active", true).OrderBy("name", false)
			},
		}
	}

	a := l.ByField("teamId").Refine(active()).LoadThunk(ctx, int64(1))
	b := l.ByField("teamId").Refine(active()).LoadThunk(ctx, int64(2))

	records, err := a()
	assert.Nil(err)
	assert.Empty(records)

	records, err = b()
	assert.Nil(err)
	assert.Len(records, 2)
	assert.Equal("ann", records[0]["name"])

	_, err = l.ByField("teamId").Refine(Refinement{}).Load(ctx, int64(1))
	assert.NotNil(err)

	assert.Nil(qMock.ExpectationsWereMet())
}

func TestRefineHazard(t *testing.T) {
	assert := require.New(t)
	db, _ := newMock(t)

	apply := func(q *Query) { q.Where("active", true) }

	for _, production := range []bool{false, true} {
		logger, hook := test.NewNullLogger()
		settings := testSettings()
		settings.Production = production
		l, _, err := New(&Config{Conn: db, Table: &Table{Name: "users"}, Settings: settings, Logger: logger})
		assert.Nil(err)

		l.ByField("teamId").Refine(Refinement{Key: "a", Apply: apply})
		l.ByField("teamId").Refine(Refinement{Key: "a", Apply: apply})
		assert.Empty(hook.AllEntries())

		l.ByField("teamId").Refine(Refinement{Key: []string{"b"}, Apply: apply})
		if production {
			assert.Empty(hook.AllEntries())
			continue
		}
		assert.Len(hook.AllEntries(), 1)
		assert.Equal(logrus.WarnLevel, hook.LastEntry().Level)
		assert.Equal("teamId", hook.LastEntry().Data["field"])
	}
}

func TestByPair(t *testing.T) {
	assert := require.New(t)
	db, qMock := newMock(t)
	ctx := context.Background()

	qMock.ExpectQuery(`SELECT * FROM "memberships" WHERE ("user_id", "team_id") IN (($1, $2), ($3, $4))`).
		WithArgs(int64(1), int64(10), int64(2), int64(20)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "team_id"}).
			AddRow(int64(100), int64(2), int64(20)))

	l := newTestLoader(t, db, &Table{Name: "memberships"}, nil)
	a := l.ByPair("userId", "teamId").LoadThunk(ctx, int64(1), int64(10))
	b := l.ByPair("userId", "teamId").LoadThunk(ctx, int64(2), int64(20))

	rec, err := a()
	assert.Nil(err)
	assert.Nil(rec)

	rec, err = b()
	assert.Nil(err)
	assert.Equal(NewID("memberships", 100), rec["id"])
	assert.Equal(0, l.ByPair("userId", "teamId").loads.pending())

	assert.Nil(qMock.ExpectationsWereMet())
}

func TestLoadTimestampPrecision(t *testing.T) {
	assert := require.New(t)
	db, qMock := newMock(t)
	ctx := context.Background()

	at := time.Date(2023, 5, 1, 12, 0, 0, 123456789, time.UTC)
	stored := time.Date(2023, 5, 1, 12, 0, 0, 123457000, time.UTC)

	qMock.ExpectQuery(`SELECT * FROM "events" WHERE "at" IN ($1)`).
		WithArgs(at).
		WillReturnRows(sqlmock.NewRows([]string{"id", "at"}).AddRow(int64(1), stored))

	l := newTestLoader(t, db, &Table{Name: "events"}, nil)
	records, err := l.ByField("at").Load(ctx, at)
	assert.Nil(err)
	assert.Len(records, 1)
	assert.Equal(NewID("events", 1), records[0]["id"])

	assert.Nil(qMock.ExpectationsWereMet())
}

func TestLoadLooseMatch(t *testing.T) {
	assert := require.New(t)
	db, qMock := newMock(t)
	ctx := context.Background()

	// text column holding numbers, returned as integers by the driver
	qMock.ExpectQuery(`SELECT * FROM "codes" WHERE "code" IN ($1, $2)`).
		WithArgs("7", "8").
		WillReturnRows(sqlmock.NewRows([]string{"id", "code"}).
			AddRow(int64(1), int64(7)).
			AddRow(int64(2), int64(9)))

	l := newTestLoader(t, db, &Table{Name: "codes"}, nil)
	byCode := l.ByField("code")
	seven := byCode.LoadThunk(ctx, "7")
	eight := byCode.LoadThunk(ctx, "8")

	records, err := seven()
	assert.Nil(err)
	assert.Len(records, 1)
	assert.Equal(NewID("codes", 1), records[0]["id"])

	records, err = eight()
	assert.Nil(err)
	assert.Empty(records)
	assert.Equal(0, byCode.p.loads.pending())

	assert.Nil(qMock.ExpectationsWereMet())
}

func TestRawCountAll(t *testing.T) {
	assert := require.New(t)
	db, qMock := newMock(t)
	ctx := context.Background()

	qMock.ExpectQuery(`SELECT * FROM "users" WHERE "active" = $1 ORDER BY "id" DESC LIMIT 2`).
		WithArgs(true).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(3), "x").AddRow(int64(2), "y"))
	qMock.ExpectQuery(`SELECT COUNT(*) FROM "users" WHERE "active" = $1`).
		WithArgs(true).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(42)))
	qMock.ExpectQuery(`SELECT * FROM "users"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

	l := newTestLoader(t, db, &Table{Name: "users"}, nil)

	records, err := l.Raw(ctx, func(q *Query) {
		q.Where("active", true).OrderBy("id", true).Limit(2)
	})
	assert.Nil(err)
	assert.Len(records, 2)
	assert.Equal("x", records[0]["createdAt"])

	n, err := l.Count(ctx, func(q *Query) { q.Where("active", true) })
	assert.Nil(err)
	assert.Equal(int64(42), n)

	records, err = l.All(ctx)
	assert.Nil(err)
	assert.Len(records, 1)

	assert.Nil(qMock.ExpectationsWereMet())
}

func TestMeta(t *testing.T) {
	assert := require.New(t)
	db, _ := newMock(t)

	_, m, err := New(&Config{
		Conn: db,
		Table: &Table{
			Name: "users",
			Converters: map[string]ConverterFactory{
				"age": func(ConverterInfo) Converter {
					return Converter{
						FromStorage: func(v any) (any, error) { return v.(int64) + 1, nil },
						ToStorage:   func(v any) (any, error) { return v.(int64) - 1, nil },
					}
				},
			},
		},
	})
	assert.Nil(err)

	_, ok := m.Converter("age")
	assert.True(ok)
	_, ok = m.Converter("name")
	assert.False(ok)
	assert.Equal(db, m.Conn())

	row, err := m.ToStorage(Record{"id": NewID("users", 1), "age": int64(30), "firstName": "Ann"}, false)
	assert.Nil(err)
	assert.Equal(Record{"id": int64(1), "age": int64(29), "first_name": "Ann"}, row)

	rec, err := m.FromStorage(row)
	assert.Nil(err)
	assert.Equal(Record{"id": NewID("users", 1), "age": int64(30), "firstName": "Ann"}, rec)

	_, err = m.ToStorage(Record{"name": "Ann"}, false)
	assert.True(errors.Is(err, ErrConversion))
}
