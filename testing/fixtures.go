// Package testing provides canned fixtures for tests, grounded on
// whitaker-io/machine's testing/plugin.go (which supplied fixed sample
// machine.Data and deep-copying test doubles for its plugin-loaded vertex
// types). ttg has no plugin-loaded vertex types to stand in for, so this
// package keeps only the part that generalizes: deterministic sample
// items and a deep-copy helper. None of this module's current _test.go
// files import it.
package testing

import (
	"bytes"
	"encoding/gob"
	"strconv"
)

// Item is the fixture value type this package's samples are built from.
type Item struct {
	Name  string
	Value int
}

// Items returns ten deterministic sample Items, indexed 0 through 9.
func Items() []Item {
	out := make([]Item, 10)
	for i := range out {
		out[i] = Item{Name: "data" + strconv.Itoa(i), Value: i}
	}
	return out
}

// DeepCopy gob round-trips v, returning an independent copy, for tests
// that need a value which does not alias the original.
func DeepCopy[T any](v T) T {
	var out T
	buf := &bytes.Buffer{}
	enc, dec := gob.NewEncoder(buf), gob.NewDecoder(buf)
	_ = enc.Encode(v)
	_ = dec.Decode(&out)
	return out
}
