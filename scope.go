package tableloader

import (
	"context"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ScopeConfig is shared by every Scope created from it.
type ScopeConfig struct {
	// Conn is required.
	Conn     Conn
	Settings *Settings
	Caser    Caser
	Logger   logrus.FieldLogger
}

// Scope owns the Loaders of one unit of work, typically one request. Loaders are
// created on first use and live as long as the Scope.
type Scope struct {
	ID     string
	config ScopeConfig
	logger logrus.FieldLogger

	mu      sync.Mutex
	loaders map[*Table]scopedLoader
}

type scopedLoader struct {
	loader *Loader
	meta   *Meta
}

// NewScope returns an empty Scope with a fresh random ID.
func NewScope(config ScopeConfig) *Scope {
	id := uuid.NewString()
	logger := config.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Scope{
		ID:      id,
		config:  config,
		logger:  logger.WithField("scope", id),
		loaders: make(map[*Table]scopedLoader),
	}
}

// Loader returns the scope's Loader and Meta for table, creating them on first use.
func (s *Scope) Loader(table *Table) (*Loader, *Meta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sl, ok := s.loaders[table]; ok {
		return sl.loader, sl.meta, nil
	}
	l, m, err := New(&Config{
		Conn:     s.config.Conn,
		Table:    table,
		Settings: s.config.Settings,
		Caser:    s.config.Caser,
		Logger:   s.logger,
	})
	if err != nil {
		return nil, nil, err
	}
	s.loaders[table] = scopedLoader{loader: l, meta: m}
	return l, m, nil
}

type scopeKey struct{}

// WithScope returns a copy of ctx carrying s.
func WithScope(ctx context.Context, s *Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// ScopeFromContext returns the Scope stored in ctx by WithScope.
func ScopeFromContext(ctx context.Context) (*Scope, bool) {
	s, ok := ctx.Value(scopeKey{}).(*Scope)
	return s, ok
}

// NewMiddleware returns an HTTP middleware giving every request its own Scope.
func NewMiddleware(config ScopeConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scope := NewScope(config)
			next.ServeHTTP(w, r.WithContext(WithScope(r.Context(), scope)))
		})
	}
}
