package main

import (
	"context"
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/prashanthpai/tableloader"
	"github.com/prashanthpai/tableloader/converter"

	"github.com/cockroachdb/errors"
	"github.com/dgraph-io/ristretto"
	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	redis "github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v4/stdlib"
	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
	_ "go.uber.org/automaxprocs"
)

const (
	defaultNamesToCache = 10000
)

type config struct {
	DSN       string `default:"host=127.0.0.1 port=5432 dbname=postgres sslmode=disable"`
	Addr      string `default:":8080"`
	RedisAddr string `split_words:"true"`
	LogLevel  string `split_words:"true" default:"info"`
}

var (
	authors = &tableloader.Table{
		Name: "authors",
	}
	books = &tableloader.Table{
		Name: "books",
		Converters: map[string]tableloader.ConverterFactory{
			"authorId":    converter.Reference("authors"),
			"price":       converter.Decimal(2),
			"publishedAt": converter.Nullable(converter.DateTime()),
		},
	}
)

func newCaser() (tableloader.Caser, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10 * defaultNamesToCache,
		MaxCost:     defaultNamesToCache * 16,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}

	return tableloader.NewCaser(tableloader.NewRistrettoStore(c)), nil
}

func newRedisNotifier(addr string, logger logrus.FieldLogger) (*tableloader.RedisNotifier, error) {
	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{addr},
	})

	if _, err := r.Ping(context.Background()).Result(); err != nil {
		return nil, err
	}

	return tableloader.NewRedisNotifier(r, "tl:", logger), nil
}

func main() {
	log := logrus.New()

	var cfg config
	if err := envconfig.Process("example", &cfg); err != nil {
		log.WithError(err).Fatal("failed to process env config")
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	settings, err := tableloader.LoadSettings("example-loader")
	if err != nil {
		log.WithError(err).Fatal("tableloader.LoadSettings() failed")
	}

	caser, err := newCaser()
	if err != nil {
		log.WithError(err).Fatal("newCaser() failed")
	}

	if cfg.RedisAddr != "" {
		notifier, err := newRedisNotifier(cfg.RedisAddr, log)
		if err != nil {
			log.WithError(err).Fatal("newRedisNotifier() failed")
		}
		notifier.Attach(books)
	}

	probe := tableloader.NewProbe(&tableloader.ProbeConfig{Logger: log})
	defer func() {
		log.Infof("probe metrics: %+v", probe.Stats())
	}()

	// install the wrapper which wraps pgx driver
	sql.Register("pgx-probe", probe.Driver(stdlib.GetDefaultDriver()))

	if err := run(cfg, tableloader.ScopeConfig{
		Settings: settings,
		Caser:    caser,
		Logger:   log,
	}, log); err != nil {
		log.WithError(err).Fatal("run() failed")
	}
}

func run(cfg config, scope tableloader.ScopeConfig, log logrus.FieldLogger) error {
	db, err := sql.Open("pgx-probe", cfg.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	if err = db.PingContext(context.TODO()); err != nil {
		return errors.Wrap(err, "db.PingContext() failed")
	}
	scope.Conn = db

	r := chi.NewRouter()
	r.Use(tableloader.NewMiddleware(scope))
	r.Get("/books/{id}", getBook)
	r.Get("/authors/{id}/books", getAuthorBooks)
	r.Post("/books", createBook)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.WithField("addr", cfg.Addr).Info("listening")
	return srv.ListenAndServe()
}

func loaderFor(r *http.Request, table *tableloader.Table) (*tableloader.Loader, error) {
	scope, ok := tableloader.ScopeFromContext(r.Context())
	if !ok {
		return nil, errors.New("request has no loader scope")
	}
	l, _, err := scope.Loader(table)
	return l, err
}

func idParam(r *http.Request, table string) (tableloader.ID, error) {
	n, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return tableloader.ID{}, errors.Wrap(err, "invalid id")
	}
	return tableloader.NewID(table, n), nil
}

// getBook returns a book with its author.
func getBook(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, books.Name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	bookLoader, err := loaderFor(r, books)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	authorLoader, err := loaderFor(r, authors)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	book, err := bookLoader.ByIDStrict(r.Context(), id)
	if errors.Is(err, tableloader.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if authorID, ok := book["authorId"].(tableloader.ID); ok {
		author, err := authorLoader.ByID(r.Context(), authorID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		book["author"] = author
	}
	writeJSON(w, http.StatusOK, book)
}

func getAuthorBooks(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, authors.Name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	bookLoader, err := loaderFor(r, books)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	published := tableloader.Refinement{
		Key: "published",
		Apply: func(q *tableloader.Query) {
			q.WhereNot("published_at", nil).OrderBy("published_at", true)
		},
	}
	list, err := bookLoader.ByField("authorId").Refine(published).Load(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func createBook(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title    string  `json:"title"`
		AuthorID int64   `json:"authorId"`
		Price    float64 `json:"price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	bookLoader, err := loaderFor(r, books)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	book, err := bookLoader.Insert(r.Context(), tableloader.Record{
		"title":       body.Title,
		"authorId":    tableloader.NewID(authors.Name, body.AuthorID),
		"price":       body.Price,
		"publishedAt": tableloader.Default,
	})
	if errors.Is(err, tableloader.ErrInsertFailed) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, book)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
