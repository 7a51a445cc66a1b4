// internal/domain/docstore/store.go

// Package docstore describes the document store the core coordinates against:
// multi-field range/equality queries, ordering, limits, transactional
// mutations, push-based result streaming and server-assigned ids/timestamps.
package docstore

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned when a referenced document does not exist
	ErrNotFound = errors.New("document not found")

	// ErrContention is returned when a transaction could not commit within its retry budget
	ErrContention = errors.New("transaction contention")
)

// Op is a query comparison operator
type Op string

const (
	OpEqual         Op = "=="
	OpLessEqual     Op = "<="
	OpGreaterEqual  Op = ">="
	OpArrayContains Op = "array-contains"
)

// Direction orders query results
type Direction int

const (
	Asc Direction = iota
	Desc
)

// Ref addresses a single document, optionally nested under a parent document
type Ref struct {
	Parent     *Ref
	Collection string
	ID         string
}

// Doc returns a reference to a top-level document
func Doc(collection, id string) Ref {
	return Ref{Collection: collection, ID: id}
}

// Child returns a reference to a document in a subcollection of r
func (r Ref) Child(collection, id string) Ref {
	parent := r
	return Ref{Parent: &parent, Collection: collection, ID: id}
}

// CollectionPath returns the slash-separated path of the collection holding r
func (r Ref) CollectionPath() string {
	return collectionPath(r.Parent, r.Collection)
}

// Path returns the slash-separated path of the document
func (r Ref) Path() string {
	return r.CollectionPath() + "/" + r.ID
}

func collectionPath(parent *Ref, collection string) string {
	if parent == nil {
		return collection
	}
	return parent.Path() + "/" + collection
}

// Filter is a single field predicate
type Filter struct {
	Field string
	Op    Op
	Value interface{}
}

// Query selects documents from one collection
type Query struct {
	Parent     *Ref
	Collection string
	Filters    []Filter
	OrderBy    string
	Direction  Direction
	Limit      int
}

// Collection starts a query over a top-level collection
func Collection(name string) Query {
	return Query{Collection: name}
}

// Subcollection starts a query over a collection nested under parent
func Subcollection(parent Ref, name string) Query {
	p := parent
	return Query{Parent: &p, Collection: name}
}

// Where returns a copy of q with an additional filter
func (q Query) Where(field string, op Op, value interface{}) Query {
	filters := make([]Filter, len(q.Filters), len(q.Filters)+1)
	copy(filters, q.Filters)
	q.Filters = append(filters, Filter{Field: field, Op: op, Value: value})
	return q
}

// Order returns a copy of q ordered by field
func (q Query) Order(field string, dir Direction) Query {
	q.OrderBy = field
	q.Direction = dir
	return q
}

// WithLimit returns a copy of q returning at most n documents; zero means unbounded
func (q Query) WithLimit(n int) Query {
	q.Limit = n
	return q
}

// CollectionPath returns the slash-separated path of the queried collection
func (q Query) CollectionPath() string {
	return collectionPath(q.Parent, q.Collection)
}

// Document is a raw record as stored. Decoding is left to the consumer so a
// single bad record can be dropped without failing its batch.
type Document interface {
	ID() string
	Ref() Ref
	// Field returns a top-level or dotted-path field value
	Field(path string) (interface{}, bool)
	// DataTo decodes the document into v
	DataTo(v interface{}) error
}

// Snapshot is one push from a live query. Err is set when the fetch failed;
// an empty Docs with nil Err is a confirmed empty result.
type Snapshot struct {
	Docs []Document
	Err  error
}

// Listener is a running live query
type Listener interface {
	Stop()
}

// Update sets or deletes one field of a document. Path elements are field
// names, so map keys with dots or slashes are addressed safely.
type Update struct {
	Path  []string
	Value interface{}
}

// FieldPath builds an update path from its elements
func FieldPath(elems ...string) []string {
	return elems
}

// JoinPath renders a field path for logging and error messages
func JoinPath(path []string) string {
	return strings.Join(path, ".")
}

type sentinel int

const (
	deleteSentinel sentinel = iota + 1
	serverTimestampSentinel
)

var (
	// Delete removes the field it is assigned to
	Delete interface{} = deleteSentinel

	// ServerTimestamp is replaced by the store's commit time
	ServerTimestamp interface{} = serverTimestampSentinel
)

// IsDelete reports whether v is the Delete sentinel
func IsDelete(v interface{}) bool {
	s, ok := v.(sentinel)
	return ok && s == deleteSentinel
}

// IsServerTimestamp reports whether v is the ServerTimestamp sentinel
func IsServerTimestamp(v interface{}) bool {
	s, ok := v.(sentinel)
	return ok && s == serverTimestampSentinel
}

// Tx is a transaction handle. All reads must happen before the first write.
type Tx interface {
	Get(ref Ref) (Document, error)
	Update(ref Ref, updates []Update) error
}

// Store is the document store collaborator
type Store interface {
	// Get reads a single document
	Get(ctx context.Context, ref Ref) (Document, error)

	// Query runs a one-shot query
	Query(ctx context.Context, q Query) ([]Document, error)

	// Create inserts a document with a store-assigned id
	Create(ctx context.Context, q Query, data map[string]interface{}) (Ref, error)

	// Listen streams the results of q to fn until the listener is stopped or ctx ends
	Listen(ctx context.Context, q Query, fn func(Snapshot)) (Listener, error)

	// ListenDoc streams a single document to fn; a missing document yields an empty snapshot
	ListenDoc(ctx context.Context, ref Ref, fn func(Snapshot)) (Listener, error)

	// RunTransaction runs fn with serializable guarantees, retrying on contention.
	// fn may run more than once and must not keep state across attempts.
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
