package tableloader

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

// Table is the static, process-wide description of a table. Loaders are created from
// it once per scope.
type Table struct {
	// Name is the table name in the database. This is a required field.
	Name string
	// Converters maps application field names to the factory of their converter.
	// Fields without an entry are passed through unchanged.
	Converters map[string]ConverterFactory
	// Filter, when set, hides every loaded record for which it returns false. Hidden
	// records are treated as not found.
	Filter func(Record) bool
	// OnInsert is called with the ids of inserted rows after the insert committed. It
	// runs on its own goroutine.
	OnInsert func(ctx context.Context, ids []ID)
	// OnUpdate is called with the ids passed to Update, UpdateWhere or Delete after
	// the statement succeeded. It runs on its own goroutine.
	OnUpdate func(ctx context.Context, ids []ID)
}

// Settings tune batching. They are usually loaded once per process with
// LoadSettings.
type Settings struct {
	// Wait is how long a batch window stays open after its first request.
	Wait time.Duration `default:"16ms"`
	// MaxBatch closes a batch window early once it holds this many keys. 0 means no
	// limit.
	MaxBatch int `split_words:"true" default:"0"`
	// BindLimit is the maximum number of bind parameters in one statement.
	BindLimit int `split_words:"true" default:"65535"`
	// Production suppresses diagnostics meant for development, such as batching
	// hazard warnings.
	Production bool `default:"false"`
	// Dialect selects the placeholder style, eg "postgres" ($1) or "mysql" (?).
	Dialect string `default:"postgres"`
}

// DefaultSettings returns the settings used when Config.Settings is nil.
func DefaultSettings() *Settings {
	return &Settings{
		Wait:      16 * time.Millisecond,
		BindLimit: 65535,
		Dialect:   "postgres",
	}
}

// LoadSettings reads Settings from environment variables named PREFIX_WAIT,
// PREFIX_MAX_BATCH, PREFIX_BIND_LIMIT, PREFIX_PRODUCTION and PREFIX_DIALECT.
func LoadSettings(prefix string) (*Settings, error) {
	prefix = strings.ToUpper(prefix)
	prefix = strings.ReplaceAll(prefix, "-", "_")
	prefix = strings.ReplaceAll(prefix, " ", "_")
	var settings Settings
	if err := envconfig.Process(prefix, &settings); err != nil {
		return nil, errors.Wrap(err, "failed to process env config")
	}
	if err := settings.validate(); err != nil {
		return nil, err
	}
	return &settings, nil
}

func (s *Settings) validate() error {
	if s.Wait < 0 {
		return errors.Newf("wait must not be negative, got %s", s.Wait)
	}
	if s.MaxBatch < 0 {
		return errors.Newf("max batch must not be negative, got %d", s.MaxBatch)
	}
	if s.BindLimit < 2 {
		return errors.Newf("bind limit must be at least 2, got %d", s.BindLimit)
	}
	return nil
}

func (s *Settings) bindType() int {
	bt := sqlx.BindType(s.Dialect)
	if bt == sqlx.UNKNOWN {
		return sqlx.QUESTION
	}
	return bt
}

// Config is the configuration passed to New for creating new Loader instances.
type Config struct {
	// Conn is the connection, pool or transaction queries run on. This is a
	// required field and cannot be nil.
	Conn Conn
	// Table describes the table to load. This is a required field and cannot be nil.
	Table *Table
	// Settings default to DefaultSettings().
	Settings *Settings
	// Caser renames fields to columns and back. Defaults to NewCaser(nil).
	Caser Caser
	// Logger defaults to logrus.StandardLogger().
	Logger logrus.FieldLogger
}
