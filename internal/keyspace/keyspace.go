// Package keyspace maps namespaced on-disk keys to bin indices and builds
// the on-disk key string shared by the value and index namespaces.
package keyspace

import "strings"

// Namespace identifies which logical table an on-disk key belongs to.
type Namespace string

const (
	// KeyVal holds user-visible key/value records.
	KeyVal Namespace = "KEYVAL"
	// Trigram holds posting-list records for the n-gram index.
	Trigram Namespace = "TRIGRM"

	// Separator joins a namespace to its name to form an on-disk key.
	Separator = "~"
)

// Join builds the on-disk key for a namespace and a name (a user key or an
// 8-gram), e.g. Join(KeyVal, "alpha") -> "KEYVAL~alpha".
func Join(ns Namespace, name string) string {
	var b strings.Builder
	b.Grow(len(ns) + len(Separator) + len(name))
	b.WriteString(string(ns))
	b.WriteString(Separator)
	b.WriteString(name)
	return b.String()
}

// Split reverses Join, returning false if k does not contain the separator.
func Split(k string) (ns Namespace, name string, ok bool) {
	i := strings.Index(k, Separator)
	if i < 0 {
		return "", "", false
	}
	return Namespace(k[:i]), k[i+len(Separator):], true
}

// Hash computes the deterministic polynomial hash of an on-disk key and
// folds it into a bin index in [0, binCount).
//
// h starts at 0; for every rune c, h = (h<<5) - h + code(c) with 32-bit
// wraparound (i.e. h = 31*h + code(c) mod 2^32). The final bin is
// abs(h) mod binCount.
func Hash(onDiskKey string, binCount int) int {
	var h int32
	for _, c := range onDiskKey {
		h = (h << 5) - h + int32(c)
	}
	if h < 0 {
		h = -h
	}
	idx := int(h) % binCount
	if idx < 0 {
		// Only reachable when h overflowed back to its own negation
		// (h == math.MinInt32); fold into range rather than propagate.
		idx += binCount
	}
	return idx
}
