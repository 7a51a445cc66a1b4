// internal/adapter/storage/firestore_store.go

package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"tides/internal/domain/docstore"
)

// FirestoreStore adapts a Firestore client to docstore.Store
type FirestoreStore struct {
	client        *firestore.Client
	maxTxAttempts int
}

// NewFirestoreStore wraps client; maxTxAttempts bounds transaction retries
func NewFirestoreStore(client *firestore.Client, maxTxAttempts int) *FirestoreStore {
	if maxTxAttempts <= 0 {
		maxTxAttempts = 5
	}
	return &FirestoreStore{client: client, maxTxAttempts: maxTxAttempts}
}

type firestoreDocument struct {
	ref  docstore.Ref
	snap *firestore.DocumentSnapshot
}

func (d *firestoreDocument) ID() string { return d.ref.ID }

func (d *firestoreDocument) Ref() docstore.Ref { return d.ref }

func (d *firestoreDocument) Field(path string) (interface{}, bool) {
	v, err := d.snap.DataAt(path)
	if err != nil {
		return nil, false
	}
	return v, true
}

func (d *firestoreDocument) DataTo(v interface{}) error {
	return d.snap.DataTo(v)
}

func (s *FirestoreStore) docRef(ref docstore.Ref) *firestore.DocumentRef {
	return s.client.Doc(ref.Path())
}

func (s *FirestoreStore) query(q docstore.Query) (firestore.Query, error) {
	query := s.client.Collection(q.CollectionPath()).Query
	for _, f := range q.Filters {
		value, err := firestoreValue(f.Value)
		if err != nil {
			return firestore.Query{}, fmt.Errorf("filter %s: %w", f.Field, err)
		}
		query = query.Where(f.Field, string(f.Op), value)
	}
	if q.OrderBy != "" {
		dir := firestore.Asc
		if q.Direction == docstore.Desc {
			dir = firestore.Desc
		}
		query = query.OrderBy(q.OrderBy, dir)
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}
	return query, nil
}

func firestoreValue(v interface{}) (interface{}, error) {
	switch {
	case docstore.IsServerTimestamp(v):
		return firestore.ServerTimestamp, nil
	case docstore.IsDelete(v):
		return firestore.Delete, nil
	}
	if m, ok := v.(map[string]interface{}); ok {
		out := make(map[string]interface{}, len(m))
		for k, inner := range m {
			r, err := firestoreValue(inner)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	}
	return v, nil
}

func wrapDocs(q docstore.Query, snaps []*firestore.DocumentSnapshot) []docstore.Document {
	docs := make([]docstore.Document, 0, len(snaps))
	for _, snap := range snaps {
		docs = append(docs, &firestoreDocument{
			ref:  docstore.Ref{Parent: q.Parent, Collection: q.Collection, ID: snap.Ref.ID},
			snap: snap,
		})
	}
	return docs
}

// Get reads a single document
func (s *FirestoreStore) Get(ctx context.Context, ref docstore.Ref) (docstore.Document, error) {
	snap, err := s.docRef(ref).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, docstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("while reading %s: %w", ref.Path(), err)
	}
	return &firestoreDocument{ref: ref, snap: snap}, nil
}

// Query runs a one-shot query
func (s *FirestoreStore) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	query, err := s.query(q)
	if err != nil {
		return nil, err
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var snaps []*firestore.DocumentSnapshot
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("while querying %s: %w", q.CollectionPath(), err)
		}
		snaps = append(snaps, snap)
	}
	return wrapDocs(q, snaps), nil
}

// Create adds a document with a Firestore-assigned id
func (s *FirestoreStore) Create(ctx context.Context, q docstore.Query, data map[string]interface{}) (docstore.Ref, error) {
	value, err := firestoreValue(data)
	if err != nil {
		return docstore.Ref{}, err
	}

	docRef, _, err := s.client.Collection(q.CollectionPath()).Add(ctx, value)
	if err != nil {
		return docstore.Ref{}, fmt.Errorf("while adding to %s: %w", q.CollectionPath(), err)
	}
	return docstore.Ref{Parent: q.Parent, Collection: q.Collection, ID: docRef.ID}, nil
}

// Listen streams query snapshots to fn
func (s *FirestoreStore) Listen(ctx context.Context, q docstore.Query, fn func(docstore.Snapshot)) (docstore.Listener, error) {
	query, err := s.query(q)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	iter := query.Snapshots(ctx)
	l := &firestoreListener{cancel: cancel, stop: iter.Stop}

	go func() {
		defer l.Stop()
		for {
			qs, err := iter.Next()
			if ctx.Err() != nil || err == iterator.Done {
				return
			}
			if err != nil {
				fn(docstore.Snapshot{Err: fmt.Errorf("while listening to %s: %w", q.CollectionPath(), err)})
				return
			}

			snaps, err := qs.Documents.GetAll()
			if err != nil {
				fn(docstore.Snapshot{Err: fmt.Errorf("while reading snapshot of %s: %w", q.CollectionPath(), err)})
				continue
			}
			fn(docstore.Snapshot{Docs: wrapDocs(q, snaps)})
		}
	}()

	return l, nil
}

// ListenDoc streams a single document to fn
func (s *FirestoreStore) ListenDoc(ctx context.Context, ref docstore.Ref, fn func(docstore.Snapshot)) (docstore.Listener, error) {
	ctx, cancel := context.WithCancel(ctx)
	iter := s.docRef(ref).Snapshots(ctx)
	l := &firestoreListener{cancel: cancel, stop: iter.Stop}

	go func() {
		defer l.Stop()
		for {
			snap, err := iter.Next()
			if ctx.Err() != nil || err == iterator.Done {
				return
			}
			if status.Code(err) == codes.NotFound || (err == nil && !snap.Exists()) {
				fn(docstore.Snapshot{Docs: []docstore.Document{}})
				continue
			}
			if err != nil {
				fn(docstore.Snapshot{Err: fmt.Errorf("while listening to %s: %w", ref.Path(), err)})
				return
			}
			fn(docstore.Snapshot{Docs: []docstore.Document{&firestoreDocument{ref: ref, snap: snap}}})
		}
	}()

	return l, nil
}

type firestoreListener struct {
	cancel context.CancelFunc
	stop   func()
	once   sync.Once
}

// Stop ends the listener; it is safe to call more than once
func (l *firestoreListener) Stop() {
	l.once.Do(func() {
		l.cancel()
		l.stop()
	})
}

// RunTransaction runs fn in a Firestore transaction
func (s *FirestoreStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx docstore.Tx) error) error {
	var fnErr error
	err := s.client.RunTransaction(ctx, func(ctx context.Context, txn *firestore.Transaction) error {
		fnErr = fn(ctx, &firestoreTx{store: s, txn: txn})
		return fnErr
	}, firestore.MaxAttempts(s.maxTxAttempts))

	if err == nil {
		return nil
	}
	if fnErr != nil && errors.Is(err, fnErr) {
		return fnErr
	}
	if status.Code(err) == codes.Aborted {
		return docstore.ErrContention
	}
	return fmt.Errorf("while running transaction: %w", err)
}

type firestoreTx struct {
	store *FirestoreStore
	txn   *firestore.Transaction
}

func (t *firestoreTx) Get(ref docstore.Ref) (docstore.Document, error) {
	snap, err := t.txn.Get(t.store.docRef(ref))
	if status.Code(err) == codes.NotFound {
		return nil, docstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("while reading %s: %w", ref.Path(), err)
	}
	return &firestoreDocument{ref: ref, snap: snap}, nil
}

func (t *firestoreTx) Update(ref docstore.Ref, updates []docstore.Update) error {
	fsUpdates := make([]firestore.Update, 0, len(updates))
	for _, u := range updates {
		value, err := firestoreValue(u.Value)
		if err != nil {
			return err
		}
		fsUpdates = append(fsUpdates, firestore.Update{
			FieldPath: firestore.FieldPath(u.Path),
			Value:     value,
		})
	}

	if err := t.txn.Update(t.store.docRef(ref), fsUpdates); err != nil {
		return fmt.Errorf("while updating %s: %w", ref.Path(), err)
	}
	return nil
}
