// Package store defines the key-value broadcast store that carries all
// shared game state. Documents are JSON blobs addressed by slash-separated
// paths ("rooms/AB12CD", "guesses/<id>"). Writes are last-write-wins per
// path, with no ordering guarantee across distinct paths.
package store

import "errors"

// ErrAborted is returned by RunTransaction when the updater declines to
// produce a new document, leaving the current one untouched.
var ErrAborted = errors.New("store: transaction aborted")

// CancelFunc stops a subscription. The owner must call it exactly once when
// no longer interested; afterwards the callback never fires again.
type CancelFunc func()

// Query narrows and orders the documents returned for a collection.
type Query struct {
	// Where holds field -> value equality filters applied to the
	// top level of each document.
	Where map[string]any

	// OrderBy names a top-level field to sort on. Documents that share a
	// value keep their write order. Empty means write order.
	OrderBy string

	// Descending reverses the OrderBy direction.
	Descending bool

	// Limit caps the number of results when > 0.
	Limit int
}

// Store is the transport between the authoritative writer and every watcher.
//
// Snapshots delivered to subscribers are eventually consistent with
// at-least-once delivery: a callback may fire zero or many times, including
// immediately upon subscribe with the current value (or nil if absent).
type Store interface {
	// Write replaces the document at path.
	Write(path string, doc []byte) error

	// WriteMerge shallow-merges partial into the document at path,
	// creating it if absent. Only top-level fields are merged.
	WriteMerge(path string, partial []byte) error

	// Read returns the document at path, or nil if absent.
	Read(path string) ([]byte, error)

	// Subscribe registers onSnapshot for every change to path. It fires
	// once immediately with the current value.
	Subscribe(path string, onSnapshot func(doc []byte)) CancelFunc

	// Query returns the documents directly under the collection path,
	// filtered and ordered per q.
	Query(collection string, q Query) ([][]byte, error)

	// RunTransaction applies update as a single read-modify-write against
	// path. The updater receives the current document (nil if absent) and
	// returns the next one; returning ErrAborted leaves the document
	// unchanged without error.
	RunTransaction(path string, update func(current []byte) ([]byte, error)) error
}
