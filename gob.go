package swrcache

import (
	"context"
	"encoding/gob"
	"io"
)

// dumpHeader is written before any entries so Restore can tell whether the
// dump was produced by a process that registered Entry.Value types this
// one never saw.
type dumpHeader struct {
	TypesHash uint64
}

// Dump saves store entries in binary format and returns the number of
// entries processed. The stream opens with a dumpHeader carrying this
// process's current gob type fingerprint (see entry.go).
func (s *Store) Dump(w io.Writer) (int, error) {
	encoder := gob.NewEncoder(w)

	if err := encoder.Encode(dumpHeader{TypesHash: currentGobTypesHash()}); err != nil {
		return 0, err
	}

	return s.Walk(func(key string, value Entry) error {
		return encoder.Encode(struct {
			Key   string
			Entry Entry
		}{
			Key:   key,
			Entry: value,
		})
	})
}

// Restore loads store entries from a binary dump and returns the number of
// entries processed. Each entry is inserted like a Set, in dump order, so
// it moves to the front of the LRU order (the restored order is the reverse
// of the dumped one) and MaxLength eviction applies as entries push the
// store over capacity.
//
// A dumpHeader.TypesHash that disagrees with this process's own is only
// logged, not rejected: gob already fails entry-by-entry on a genuinely
// unregistered concrete type, and builtins dominate most caches anyway.
func (s *Store) Restore(r io.Reader) (int, error) {
	decoder := gob.NewDecoder(r)

	var header dumpHeader
	if err := decoder.Decode(&header); err != nil {
		return 0, err
	}

	if header.TypesHash != currentGobTypesHash() {
		s.log.Warn(context.Background(), "restoring dump with a different gob type fingerprint", "name", s.config.Name)
	}

	e := struct {
		Key   string
		Entry Entry
	}{}
	n := 0

	for {
		err := decoder.Decode(&e)
		if err == io.EOF {
			break
		}

		if err != nil {
			return n, err
		}

		s.insert(e.Key, e.Entry)

		n++
	}

	return n, nil
}

// nolint:gochecknoinits // Registering types to a package level registry of "encoding/gob".
func init() {
	gob.Register(map[string]interface{}{})
	gob.Register([]interface{}{})
}
