// Package ngram implements the 8-character n-gram index used for wildcard
// key lookup: gram generation, posting-list (de)serialization, and
// intersection of candidate posting lists.
package ngram

import "strings"

// Size is the fixed n-gram window length (NGRAM_VALUE in the spec).
const Size = 8

// Wildcard is the character that marks a query key as a wildcard pattern.
const Wildcard = "*"

// Generate returns the distinct 8-character contiguous substrings of key,
// skipping any window that contains the wildcard character. Used both to
// index a stored key and to extract the candidate grams of a wildcard
// query -- in both cases windows containing '*' are excluded, so wildcard
// input can never pollute the index.
//
// Keys shorter than Size produce no grams and are therefore unreachable by
// wildcard lookup, per spec.
func Generate(key string) []string {
	runes := []rune(key)
	if len(runes) < Size {
		return nil
	}

	seen := make(map[string]bool)
	var out []string
	for i := 0; i+Size <= len(runes); i++ {
		g := string(runes[i : i+Size])
		if strings.Contains(g, Wildcard) {
			continue
		}
		if seen[g] {
			continue
		}
		seen[g] = true
		out = append(out, g)
	}
	return out
}

// ParsePostingList splits a comma-joined posting-list payload into its
// constituent keys. An empty payload yields an empty (non-nil) list.
func ParsePostingList(payload string) []string {
	if payload == "" {
		return []string{}
	}
	return strings.Split(payload, ",")
}

// FormatPostingList joins a posting list back into its comma-joined
// on-disk payload.
func FormatPostingList(keys []string) string {
	return strings.Join(keys, ",")
}

// MergeInsert appends key to list if it is not already present, preserving
// insertion order, per the "each key at most once, insertion order" posting
// list invariant.
func MergeInsert(list []string, key string) []string {
	for _, k := range list {
		if k == key {
			return list
		}
	}
	return append(list, key)
}

// RemoveKey returns list with every occurrence of key removed, preserving
// the relative order of the remaining entries.
func RemoveKey(list []string, key string) []string {
	out := make([]string, 0, len(list))
	for _, k := range list {
		if k != key {
			out = append(out, k)
		}
	}
	return out
}

// Intersect computes the n-gram candidate set for a wildcard query: the
// first list seeds the candidate set, every subsequent list restricts it,
// and the scan short-circuits once the candidate set has shrunk to one or
// zero elements. The result has no further literal-match verification --
// over-match for sparse patterns (whose grams appear separately in an
// unrelated key) is the documented contract.
func Intersect(lists [][]string) []string {
	if len(lists) == 0 {
		return nil
	}

	candidates := make(map[string]bool, len(lists[0]))
	for _, k := range lists[0] {
		candidates[k] = true
	}

	for _, list := range lists[1:] {
		if len(candidates) <= 1 {
			break
		}
		retain := make(map[string]bool)
		for _, k := range list {
			if candidates[k] {
				retain[k] = true
			}
		}
		candidates = retain
	}

	out := make([]string, 0, len(candidates))
	for k := range candidates {
		out = append(out, k)
	}
	return out
}
