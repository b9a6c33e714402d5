package store

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
)

const txnAttempts = 5

// NATS is a Store backed by a JetStream key-value bucket, for running
// several server instances against one shared state plane. Slash-separated
// document paths map onto dot-separated KV keys.
//
// Transactions use revision-checked updates, so concurrent writers racing on
// one document retry instead of losing data.
type NATS struct {
	nc *nats.Conn
	kv nats.KeyValue
}

var _ Store = (*NATS)(nil)

// OpenNATS connects to url and binds the named bucket, creating it when
// missing.
func OpenNATS(url, bucket string) (*NATS, error) {
	nc, err := nats.Connect(url, nats.Name("revealarena"))
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", url, err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, err
	}

	kv, err := js.KeyValue(bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{Bucket: bucket})
	}
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("bucket %s: %w", bucket, err)
	}

	return &NATS{nc: nc, kv: kv}, nil
}

func (n *NATS) Close() {
	n.nc.Close()
}

func (n *NATS) Write(path string, doc []byte) error {
	_, err := n.kv.Put(pathToKey(path), doc)
	return err
}

func (n *NATS) WriteMerge(path string, partial []byte) error {
	return n.RunTransaction(path, func(current []byte) ([]byte, error) {
		return shallowMerge(current, partial)
	})
}

func (n *NATS) Read(path string) ([]byte, error) {
	entry, err := n.kv.Get(pathToKey(path))
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry.Value(), nil
}

func (n *NATS) Subscribe(path string, onSnapshot func(doc []byte)) CancelFunc {
	watcher, err := n.kv.Watch(pathToKey(path))
	if err != nil {
		// Degrade to a one-shot read so the caller still gets the
		// immediate-snapshot contract.
		doc, _ := n.Read(path)
		onSnapshot(doc)
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		delivered := false
		for {
			select {
			case <-done:
				return
			case entry, ok := <-watcher.Updates():
				if !ok {
					return
				}
				if entry == nil {
					// End of initial replay. An absent key still
					// owes the subscriber its first snapshot.
					if !delivered {
						delivered = true
						onSnapshot(nil)
					}
					continue
				}
				delivered = true
				switch entry.Operation() {
				case nats.KeyValueDelete, nats.KeyValuePurge:
					onSnapshot(nil)
				default:
					onSnapshot(entry.Value())
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			_ = watcher.Stop()
		})
	}
}

func (n *NATS) Query(collection string, q Query) ([][]byte, error) {
	prefix := pathToKey(strings.TrimSuffix(collection, "/")) + "."

	keys, err := n.kv.Keys()
	if errors.Is(err, nats.ErrNoKeysFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	type candidate struct {
		path     string
		value    []byte
		revision uint64
	}

	candidates := make([]candidate, 0, len(keys))
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) || strings.Contains(strings.TrimPrefix(key, prefix), ".") {
			continue
		}
		entry, err := n.kv.Get(key)
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{
			path:     keyToPath(key),
			value:    entry.Value(),
			revision: entry.Revision(),
		})
	}

	// Revisions are bucket-wide and monotonic; replaying into a scratch
	// memory store in revision order reproduces the write-order tie-break
	// the memory backend has.
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].revision < candidates[j].revision
	})

	scratch := NewMemory()
	for _, c := range candidates {
		if err := scratch.Write(c.path, c.value); err != nil {
			return nil, err
		}
	}

	return scratch.Query(collection, q)
}

func (n *NATS) RunTransaction(path string, update func(current []byte) ([]byte, error)) error {
	key := pathToKey(path)

	var lastErr error
	for attempt := 0; attempt < txnAttempts; attempt++ {
		var current []byte
		var revision uint64

		entry, err := n.kv.Get(key)
		switch {
		case errors.Is(err, nats.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			current = entry.Value()
			revision = entry.Revision()
		}

		next, err := update(current)
		if err == ErrAborted {
			return nil
		}
		if err != nil {
			return err
		}

		if revision == 0 {
			_, lastErr = n.kv.Create(key, next)
		} else {
			_, lastErr = n.kv.Update(key, next, revision)
		}
		if lastErr == nil {
			return nil
		}
		// Revision moved under us; reread and retry.
	}

	return fmt.Errorf("transaction on %s: %w", path, lastErr)
}

func pathToKey(path string) string {
	return strings.ReplaceAll(strings.Trim(path, "/"), "/", ".")
}

func keyToPath(key string) string {
	return strings.ReplaceAll(key, ".", "/")
}
