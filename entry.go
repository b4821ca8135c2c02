package swrcache

import (
	"bytes"
	"encoding/gob"
	"hash"
	"hash/fnv"
	"reflect"
	"strings"
	"sync"
	"time"
)

// Entry is the unit stored under a key.
type Entry struct {
	// Value is the payload supplied by the producing worker, Set, or seed.
	Value interface{}
	// TTL is the validity window from Created. TTL <= 0 means immediately stale.
	TTL time.Duration
	// Created is the monotonic timestamp of insertion.
	Created time.Time
	// Cache is a per-read attribute describing provenance, not a stored
	// property; seeded entries default it to Hit.
	Cache CacheTag
}

// fresh reports whether e is not yet stale at now.
func (e Entry) fresh(now time.Time) bool {
	return now.Sub(e.Created) < e.TTL
}

var (
	gobKnownTypesMu sync.Mutex
	gobKnownTypes   = map[reflect.Type]bool{}

	// gobTypesHash fingerprints the set of concrete types this process has
	// registered for Entry.Value so far. Store.Dump/Restore exchange it as
	// a header to detect when a dump was produced by a process that knows
	// about types the restoring process has never seen (see gob.go).
	gobTypesHash uint64
)

// autoRegisterGobType registers v's concrete type with encoding/gob so a
// later interface-typed Decode can reconstruct it, and folds the type into
// this process's running gobTypesHash. Registration of an already-known
// type is a cheap no-op.
func autoRegisterGobType(v interface{}) (ok bool) {
	t := reflect.TypeOf(v)
	if t == nil {
		return false
	}

	gobKnownTypesMu.Lock()
	known := gobKnownTypes[t]
	gobKnownTypesMu.Unlock()

	if known {
		return true
	}

	defer func() {
		// gob.Register panics if the derived name collides with a
		// different already-registered type; deepCopy falls back to
		// sharing the original value rather than propagating a panic.
		if recover() != nil {
			ok = false
		}
	}()

	gob.Register(reflect.Zero(t).Interface())

	gobKnownTypesMu.Lock()
	gobKnownTypes[t] = true
	gobTypesHash ^= structuralTypeHash(t)
	gobKnownTypesMu.Unlock()

	return true
}

// currentGobTypesHash returns the running fingerprint of every concrete
// type this process has registered for Entry.Value.
func currentGobTypesHash() uint64 {
	gobKnownTypesMu.Lock()
	defer gobKnownTypesMu.Unlock()

	return gobTypesHash
}

// structuralTypeHash fingerprints t by field name and leaf type name,
// recursing through pointers, slices, arrays and maps, so two processes
// that register structurally identical types agree on the hash even if
// the types themselves are distinct Go identifiers.
func structuralTypeHash(t reflect.Type) uint64 {
	h := fnv.New64()
	hashTypeInto(t, h, map[reflect.Type]bool{})

	return h.Sum64()
}

func hashTypeInto(t reflect.Type, h hash.Hash64, seen map[reflect.Type]bool) {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	if seen[t] {
		return
	}

	seen[t] = true

	switch t.Kind() {
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)

			// Skip unexported field.
			if f.Name != "" && f.Name[:1] == strings.ToLower(f.Name[:1]) {
				continue
			}

			if !f.Anonymous {
				_, _ = h.Write([]byte(f.Name)) // nolint:errcheck // fnv.Write never returns an error.
			}

			hashTypeInto(f.Type, h, seen)
		}
	case reflect.Slice, reflect.Array:
		hashTypeInto(t.Elem(), h, seen)
	case reflect.Map:
		hashTypeInto(t.Key(), h, seen)
		hashTypeInto(t.Elem(), h, seen)
	default:
		_, _ = h.Write([]byte(t.String())) // nolint:errcheck // fnv.Write never returns an error.
	}
}

// deepCopy clones v so later mutation of the caller's object cannot reach
// the cached value. It round-trips through encoding/gob, the same codec
// the store's Dump/Restore use, auto-registering v's concrete type so the
// interface-typed decode on the other side can reconstruct it.
//
// Values gob cannot encode (channels, funcs, unexported-only structs) are
// returned unchanged; callers seeding such values accept shared mutable
// state as a trade-off.
func deepCopy(v interface{}) interface{} {
	if v == nil {
		return nil
	}

	if !autoRegisterGobType(v) {
		return v
	}

	var buf bytes.Buffer

	// Encoding a pointer to the interface sends v as an interface value
	// carrying its registered type name, which the Decode into an
	// interface{} below requires.
	if err := gob.NewEncoder(&buf).Encode(&v); err != nil {
		return v
	}

	var out interface{}

	if err := gob.NewDecoder(&buf).Decode(&out); err != nil {
		return v
	}

	return out
}
