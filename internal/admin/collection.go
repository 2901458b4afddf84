// Package admin manages the user, department and location directories from
// the System Admin settings surface.
//
// Writes are optimistic: a change is applied to the local collection first,
// then the backend is called, then Reconcile folds the outcome back in. A
// failed write is reported but never rolled back, so the admin keeps seeing
// their edit until the next reload from the backend.
package admin

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Record is a directory entry addressable by key
type Record interface {
	Key() string
}

// Op is the kind of a directory change
type Op int

const (
	OpCreate Op = iota
	OpUpdate
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	}
	return "unknown"
}

// TempPrefix marks keys assigned locally before the backend has answered
const TempPrefix = "tmp-"

// IsTemporary reports whether key was assigned by ApplyOptimistic
func IsTemporary(key string) bool {
	return strings.HasPrefix(key, TempPrefix)
}

// Change is one pending directory mutation
type Change[T Record] struct {
	Op     Op
	Record T
}

// Collection is the local copy of one directory
type Collection[T Record] struct {
	mu     sync.Mutex
	items  []T
	withID func(T, string) T
	loaded bool
}

// NewCollection creates an empty collection. withID returns a copy of a
// record carrying the given key.
func NewCollection[T Record](withID func(T, string) T) *Collection[T] {
	return &Collection[T]{withID: withID}
}

// Items returns a snapshot of the collection
func (c *Collection[T]) Items() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]T, len(c.items))
	copy(out, c.items)
	return out
}

// Loaded reports whether Replace has been called at least once
func (c *Collection[T]) Loaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loaded
}

// Replace swaps the whole collection for a fresh backend listing
func (c *Collection[T]) Replace(items []T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append([]T(nil), items...)
	c.loaded = true
}

// Find returns the record with key
func (c *Collection[T]) Find(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.index(key); i >= 0 {
		return c.items[i], true
	}
	var zero T
	return zero, false
}

// ApplyOptimistic applies ch locally and returns it as applied. A create
// without a key gets a temporary one; an update of an unknown key is
// appended.
func (c *Collection[T]) ApplyOptimistic(ch Change[T]) Change[T] {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ch.Op {
	case OpCreate:
		if ch.Record.Key() == "" {
			ch.Record = c.withID(ch.Record, TempPrefix+uuid.NewString())
		}
		c.items = append(c.items, ch.Record)
	case OpUpdate:
		if i := c.index(ch.Record.Key()); i >= 0 {
			c.items[i] = ch.Record
		} else {
			c.items = append(c.items, ch.Record)
		}
	case OpDelete:
		if i := c.index(ch.Record.Key()); i >= 0 {
			c.items = append(c.items[:i], c.items[i+1:]...)
		}
	}
	return ch
}

// Reconcile folds the backend outcome of an applied change into the
// collection. On error nothing is undone and err is returned unchanged. On
// success the server's record, when there is one, replaces the applied one,
// which swaps temporary keys for server keys.
func (c *Collection[T]) Reconcile(applied Change[T], server *T, err error) (T, error) {
	if err != nil {
		return applied.Record, err
	}
	if applied.Op == OpDelete || server == nil || (*server).Key() == "" {
		return applied.Record, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.index(applied.Record.Key()); i >= 0 {
		c.items[i] = *server
	} else {
		c.items = append(c.items, *server)
	}
	return *server, nil
}

func (c *Collection[T]) index(key string) int {
	for i, it := range c.items {
		if it.Key() == key {
			return i
		}
	}
	return -1
}
