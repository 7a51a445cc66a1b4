// internal/adapter/storage/notifier.go

package storage

import (
	"fmt"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
)

// Notifier fans out "collection changed" signals to live queries
type Notifier interface {
	Publish(collection string) error
	Subscribe(collection string, fn func()) (func(), error)
}

// NATSNotifier carries change signals over NATS so live queries on every
// instance observe writes made by any instance.
type NATSNotifier struct {
	conn   *nats.Conn
	prefix string
}

// NewNATSNotifier creates a notifier publishing under prefix
func NewNATSNotifier(conn *nats.Conn, prefix string) *NATSNotifier {
	if prefix == "" {
		prefix = "docs"
	}
	return &NATSNotifier{conn: conn, prefix: prefix}
}

// Subject returns the NATS subject for a collection path
func (n *NATSNotifier) Subject(collection string) string {
	return subjectFor(n.prefix, collection)
}

func subjectFor(prefix, collection string) string {
	return prefix + "." + strings.ReplaceAll(collection, "/", ".")
}

// Publish signals that collection changed
func (n *NATSNotifier) Publish(collection string) error {
	if err := n.conn.Publish(n.Subject(collection), nil); err != nil {
		return fmt.Errorf("error publishing change for %s: %w", collection, err)
	}
	return nil
}

// Subscribe calls fn whenever collection changes
func (n *NATSNotifier) Subscribe(collection string, fn func()) (func(), error) {
	sub, err := n.conn.Subscribe(n.Subject(collection), func(*nats.Msg) {
		fn()
	})
	if err != nil {
		return nil, err
	}
	return func() {
		_ = sub.Unsubscribe()
	}, nil
}

// LocalNotifier delivers change signals within the process
type LocalNotifier struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]func()
}

// NewLocalNotifier creates an in-process notifier
func NewLocalNotifier() *LocalNotifier {
	return &LocalNotifier{subs: make(map[string]map[int]func())}
}

// Publish signals that collection changed
func (n *LocalNotifier) Publish(collection string) error {
	n.mu.Lock()
	fns := make([]func(), 0, len(n.subs[collection]))
	for _, fn := range n.subs[collection] {
		fns = append(fns, fn)
	}
	n.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	return nil
}

// Subscribe calls fn whenever collection changes
func (n *LocalNotifier) Subscribe(collection string, fn func()) (func(), error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextID++
	id := n.nextID
	if n.subs[collection] == nil {
		n.subs[collection] = make(map[int]func())
	}
	n.subs[collection][id] = fn

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subs[collection], id)
		if len(n.subs[collection]) == 0 {
			delete(n.subs, collection)
		}
	}, nil
}
