// internal/adapter/storage/memory_store.go

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"tides/internal/domain/docstore"
)

type memoryRecord struct {
	data map[string]interface{}
	raw  []byte
	seq  int64
}

// MemoryStore is an in-process document store. Transactions are serialized,
// so every transaction observes a consistent state and never contends.
type MemoryStore struct {
	mu          sync.Mutex
	txMu        sync.Mutex
	collections map[string]map[string]*memoryRecord
	seq         int64
	listeners   map[int64]*memoryListener
	nextID      int64
	now         func() time.Time
}

// MemoryOption configures a MemoryStore
type MemoryOption func(*MemoryStore)

// WithClock sets the clock used for server timestamps
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		collections: make(map[string]map[string]*memoryRecord),
		listeners:   make(map[int64]*memoryListener),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get reads a single document
func (s *MemoryStore) Get(ctx context.Context, ref docstore.Ref) (docstore.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.getLocked(ref)
}

func (s *MemoryStore) getLocked(ref docstore.Ref) (*jsonDocument, error) {
	rec, ok := s.collections[ref.CollectionPath()][ref.ID]
	if !ok {
		return nil, docstore.ErrNotFound
	}
	return &jsonDocument{ref: ref, data: rec.data, raw: rec.raw}, nil
}

// Query runs a one-shot query
func (s *MemoryStore) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.queryLocked(q)
}

func (s *MemoryStore) queryLocked(q docstore.Query) ([]docstore.Document, error) {
	now := s.now()
	var records []sortedRecord

	for id, rec := range s.collections[q.CollectionPath()] {
		ok, err := matchFilters(rec.data, q.Filters, now)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		ref := docstore.Ref{Parent: q.Parent, Collection: q.Collection, ID: id}
		records = append(records, sortedRecord{
			doc: &jsonDocument{ref: ref, data: rec.data, raw: rec.raw},
			seq: rec.seq,
		})
	}

	records = orderRecords(records, q)
	if q.Limit > 0 && len(records) > q.Limit {
		records = records[:q.Limit]
	}

	docs := make([]docstore.Document, 0, len(records))
	for _, r := range records {
		docs = append(docs, r.doc)
	}
	return docs, nil
}

// Create inserts a document with a generated id
func (s *MemoryStore) Create(ctx context.Context, q docstore.Query, data map[string]interface{}) (docstore.Ref, error) {
	ref := docstore.Ref{Parent: q.Parent, Collection: q.Collection, ID: uuid.NewString()}
	if err := s.Set(ctx, ref, data); err != nil {
		return docstore.Ref{}, err
	}
	return ref, nil
}

// Set writes a document at ref, replacing any existing one
func (s *MemoryStore) Set(ctx context.Context, ref docstore.Ref, data map[string]interface{}) error {
	normalized, raw, err := normalizeData(data, s.now())
	if err != nil {
		return err
	}
	s.put(ref, raw, normalized)
	return nil
}

func (s *MemoryStore) put(ref docstore.Ref, raw []byte, data map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := ref.CollectionPath()
	coll, ok := s.collections[path]
	if !ok {
		coll = make(map[string]*memoryRecord)
		s.collections[path] = coll
	}

	seq := s.seq
	if existing, ok := coll[ref.ID]; ok {
		seq = existing.seq
	} else {
		s.seq++
	}
	coll[ref.ID] = &memoryRecord{data: data, raw: raw, seq: seq}

	s.notifyLocked(path)
}

// Listen streams query results to fn
func (s *MemoryStore) Listen(ctx context.Context, q docstore.Query, fn func(docstore.Snapshot)) (docstore.Listener, error) {
	return s.listen(ctx, q.CollectionPath(), func() docstore.Snapshot {
		docs, err := s.queryLocked(q)
		return docstore.Snapshot{Docs: docs, Err: err}
	}, fn), nil
}

// ListenDoc streams a single document to fn
func (s *MemoryStore) ListenDoc(ctx context.Context, ref docstore.Ref, fn func(docstore.Snapshot)) (docstore.Listener, error) {
	return s.listen(ctx, ref.CollectionPath(), func() docstore.Snapshot {
		doc, err := s.getLocked(ref)
		if err == docstore.ErrNotFound {
			return docstore.Snapshot{Docs: []docstore.Document{}}
		}
		if err != nil {
			return docstore.Snapshot{Err: err}
		}
		return docstore.Snapshot{Docs: []docstore.Document{doc}}
	}, fn), nil
}

func (s *MemoryStore) listen(ctx context.Context, path string, snapshot func() docstore.Snapshot, fn func(docstore.Snapshot)) *memoryListener {
	s.mu.Lock()
	s.nextID++
	l := &memoryListener{
		id:       s.nextID,
		store:    s,
		path:     path,
		snapshot: snapshot,
		fn:       fn,
		signal:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	s.listeners[l.id] = l
	s.mu.Unlock()

	l.signal <- struct{}{}
	go l.run(ctx)

	return l
}

func (s *MemoryStore) notifyLocked(path string) {
	for _, l := range s.listeners {
		if l.path != path {
			continue
		}
		select {
		case l.signal <- struct{}{}:
		default:
		}
	}
}

// RunTransaction runs fn serialized against every other transaction
func (s *MemoryStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx docstore.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := &memoryTx{store: s, pending: make(map[string]*pendingWrite)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range tx.pending {
		raw, err := json.Marshal(w.data)
		if err != nil {
			return fmt.Errorf("error encoding document %s: %w", w.ref.Path(), err)
		}
		path := w.ref.CollectionPath()
		rec := s.collections[path][w.ref.ID]
		if rec == nil {
			return fmt.Errorf("document %s vanished during transaction", w.ref.Path())
		}
		rec.data = w.data
		rec.raw = raw
	}
	for _, w := range tx.pending {
		s.notifyLocked(w.ref.CollectionPath())
	}
	return nil
}

type pendingWrite struct {
	ref  docstore.Ref
	data map[string]interface{}
}

type memoryTx struct {
	store   *MemoryStore
	pending map[string]*pendingWrite
}

func (tx *memoryTx) Get(ref docstore.Ref) (docstore.Document, error) {
	if len(tx.pending) > 0 {
		return nil, fmt.Errorf("read of %s after write in transaction", ref.Path())
	}
	return tx.store.Get(context.Background(), ref)
}

func (tx *memoryTx) Update(ref docstore.Ref, updates []docstore.Update) error {
	w, ok := tx.pending[ref.Path()]
	if !ok {
		tx.store.mu.Lock()
		doc, err := tx.store.getLocked(ref)
		tx.store.mu.Unlock()
		if err != nil {
			return err
		}

		data := map[string]interface{}{}
		if err := json.Unmarshal(doc.raw, &data); err != nil {
			return fmt.Errorf("error decoding document %s: %w", ref.Path(), err)
		}
		w = &pendingWrite{ref: ref, data: data}
		tx.pending[ref.Path()] = w
	}
	return applyUpdates(w.data, updates, tx.store.now())
}

type memoryListener struct {
	id       int64
	store    *MemoryStore
	path     string
	snapshot func() docstore.Snapshot
	fn       func(docstore.Snapshot)
	signal   chan struct{}
	done     chan struct{}
	once     sync.Once
}

func (l *memoryListener) run(ctx context.Context) {
	defer l.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.done:
			return
		case <-l.signal:
			l.store.mu.Lock()
			snap := l.snapshot()
			l.store.mu.Unlock()

			select {
			case <-l.done:
				return
			default:
			}
			l.fn(snap)
		}
	}
}

// Stop ends the listener; it is safe to call more than once
func (l *memoryListener) Stop() {
	l.once.Do(func() {
		close(l.done)
		l.store.mu.Lock()
		delete(l.store.listeners, l.id)
		l.store.mu.Unlock()
	})
}
