// internal/adapter/storage/postgres_store.go

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"tides/internal/domain/docstore"
)

const schema = `
	CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		id         TEXT NOT NULL,
		data       JSONB NOT NULL,
		seq        BIGSERIAL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (collection, id)
	);
	CREATE INDEX IF NOT EXISTS documents_data_idx ON documents USING GIN (data);
`

// Querier is the subset of *pgxpool.Pool used by PostgresStore
type Querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// PostgresConfig contains configuration for the Postgres document store
type PostgresConfig struct {
	MaxTxAttempts int
}

// PostgresStore keeps documents as JSONB rows. Live queries re-run whenever
// the notifier reports a committed write to their collection.
type PostgresStore struct {
	db       Querier
	notifier Notifier
	config   PostgresConfig
	logger   zerolog.Logger
	now      func() time.Time
}

// NewPostgresStore creates a new Postgres document store
func NewPostgresStore(db Querier, notifier Notifier, config PostgresConfig, logger zerolog.Logger) *PostgresStore {
	if config.MaxTxAttempts <= 0 {
		config.MaxTxAttempts = 5
	}
	return &PostgresStore{
		db:       db,
		notifier: notifier,
		config:   config,
		logger:   logger.With().Str("component", "postgres_store").Logger(),
		now:      time.Now,
	}
}

// EnsureSchema creates the documents table if needed
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("error creating schema: %w", err)
	}
	return nil
}

// Get reads a single document
func (s *PostgresStore) Get(ctx context.Context, ref docstore.Ref) (docstore.Document, error) {
	return getRow(ctx, s.db, ref, false)
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func getRow(ctx context.Context, db rowQuerier, ref docstore.Ref, forUpdate bool) (*jsonDocument, error) {
	query := `SELECT data FROM documents WHERE collection = $1 AND id = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var raw []byte
	err := db.QueryRow(ctx, query, ref.CollectionPath(), ref.ID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, docstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error querying document %s: %w", ref.Path(), err)
	}

	return newJSONDocument(ref, raw)
}

// Query runs a one-shot query
func (s *PostgresStore) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	query, args, err := buildSelect(q, s.now())
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error executing query: %w", err)
	}
	defer rows.Close()

	docs := []docstore.Document{}
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("error scanning document: %w", err)
		}

		ref := docstore.Ref{Parent: q.Parent, Collection: q.Collection, ID: id}
		doc, err := newJSONDocument(ref, raw)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating documents: %w", err)
	}

	return docs, nil
}

// Create inserts a document with a generated id
func (s *PostgresStore) Create(ctx context.Context, q docstore.Query, data map[string]interface{}) (docstore.Ref, error) {
	ref := docstore.Ref{Parent: q.Parent, Collection: q.Collection, ID: uuid.NewString()}

	_, raw, err := normalizeData(data, s.now())
	if err != nil {
		return docstore.Ref{}, err
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3::jsonb)`,
		ref.CollectionPath(), ref.ID, string(raw),
	)
	if err != nil {
		return docstore.Ref{}, fmt.Errorf("error inserting document: %w", err)
	}

	s.publish(ref.CollectionPath())
	return ref, nil
}

// RunTransaction runs fn inside a Postgres transaction, locking every row it
// reads. Serialization failures and deadlocks are retried.
func (s *PostgresStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx docstore.Tx) error) error {
	for attempt := 1; attempt <= s.config.MaxTxAttempts; attempt++ {
		touched, err := s.runOnce(ctx, fn)
		if err == nil {
			for path := range touched {
				s.publish(path)
			}
			return nil
		}
		if !isRetryable(err) {
			return err
		}

		s.logger.Debug().Err(err).Int("attempt", attempt).Msg("retrying transaction")
	}

	return docstore.ErrContention
}

func (s *PostgresStore) runOnce(ctx context.Context, fn func(ctx context.Context, tx docstore.Tx) error) (map[string]bool, error) {
	pgTx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("error beginning transaction: %w", err)
	}
	defer pgTx.Rollback(ctx)

	tx := &postgresTx{
		ctx:     ctx,
		tx:      pgTx,
		now:     s.now(),
		read:    make(map[string]*jsonDocument),
		touched: make(map[string]bool),
	}

	if err := fn(ctx, tx); err != nil {
		return nil, err
	}

	if err := pgTx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("error committing transaction: %w", err)
	}

	return tx.touched, nil
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// serialization_failure, deadlock_detected
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

type postgresTx struct {
	ctx     context.Context
	tx      pgx.Tx
	now     time.Time
	read    map[string]*jsonDocument
	touched map[string]bool
}

func (t *postgresTx) Get(ref docstore.Ref) (docstore.Document, error) {
	if len(t.touched) > 0 {
		return nil, fmt.Errorf("read of %s after write in transaction", ref.Path())
	}
	doc, err := getRow(t.ctx, t.tx, ref, true)
	if err != nil {
		return nil, err
	}
	t.read[ref.Path()] = doc
	return doc, nil
}

func (t *postgresTx) Update(ref docstore.Ref, updates []docstore.Update) error {
	doc, ok := t.read[ref.Path()]
	if !ok {
		var err error
		doc, err = getRow(t.ctx, t.tx, ref, true)
		if err != nil {
			return err
		}
	}

	data := map[string]interface{}{}
	if err := json.Unmarshal(doc.raw, &data); err != nil {
		return fmt.Errorf("error decoding document %s: %w", ref.Path(), err)
	}
	if err := applyUpdates(data, updates, t.now); err != nil {
		return err
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("error encoding document %s: %w", ref.Path(), err)
	}

	_, err = t.tx.Exec(t.ctx,
		`UPDATE documents SET data = $3::jsonb, updated_at = now() WHERE collection = $1 AND id = $2`,
		ref.CollectionPath(), ref.ID, string(raw),
	)
	if err != nil {
		return fmt.Errorf("error updating document %s: %w", ref.Path(), err)
	}

	t.read[ref.Path()] = &jsonDocument{ref: ref, data: data, raw: raw}
	t.touched[ref.CollectionPath()] = true
	return nil
}

// Listen streams query results to fn, re-running q on every change notification
func (s *PostgresStore) Listen(ctx context.Context, q docstore.Query, fn func(docstore.Snapshot)) (docstore.Listener, error) {
	return s.listen(ctx, q.CollectionPath(), func(ctx context.Context) docstore.Snapshot {
		docs, err := s.Query(ctx, q)
		return docstore.Snapshot{Docs: docs, Err: err}
	}, fn)
}

// ListenDoc streams a single document to fn
func (s *PostgresStore) ListenDoc(ctx context.Context, ref docstore.Ref, fn func(docstore.Snapshot)) (docstore.Listener, error) {
	return s.listen(ctx, ref.CollectionPath(), func(ctx context.Context) docstore.Snapshot {
		doc, err := s.Get(ctx, ref)
		if errors.Is(err, docstore.ErrNotFound) {
			return docstore.Snapshot{Docs: []docstore.Document{}}
		}
		if err != nil {
			return docstore.Snapshot{Err: err}
		}
		return docstore.Snapshot{Docs: []docstore.Document{doc}}
	}, fn)
}

func (s *PostgresStore) listen(ctx context.Context, path string, snapshot func(context.Context) docstore.Snapshot, fn func(docstore.Snapshot)) (docstore.Listener, error) {
	ctx, cancel := context.WithCancel(ctx)
	l := &pollingListener{
		signal: make(chan struct{}, 1),
		cancel: cancel,
	}

	unsubscribe, err := s.notifier.Subscribe(path, l.poke)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("error subscribing to %s: %w", path, err)
	}
	l.unsubscribe = unsubscribe

	l.poke()
	go l.run(ctx, snapshot, fn)

	return l, nil
}

func (s *PostgresStore) publish(path string) {
	if err := s.notifier.Publish(path); err != nil {
		s.logger.Warn().Err(err).Str("collection", path).Msg("error publishing change notification")
	}
}

// pollingListener re-evaluates a snapshot each time it is poked. Pokes that
// arrive while a snapshot is being computed coalesce into one re-run.
type pollingListener struct {
	signal      chan struct{}
	cancel      context.CancelFunc
	unsubscribe func()
	once        sync.Once
}

func (l *pollingListener) poke() {
	select {
	case l.signal <- struct{}{}:
	default:
	}
}

func (l *pollingListener) run(ctx context.Context, snapshot func(context.Context) docstore.Snapshot, fn func(docstore.Snapshot)) {
	defer l.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.signal:
			snap := snapshot(ctx)
			if ctx.Err() != nil {
				return
			}
			fn(snap)
		}
	}
}

// Stop ends the listener; it is safe to call more than once
func (l *pollingListener) Stop() {
	l.once.Do(func() {
		l.cancel()
		if l.unsubscribe != nil {
			l.unsubscribe()
		}
	})
}
