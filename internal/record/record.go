// Package record implements the line-level codec for shard files: the
// "<key>":"<value>"; record format and the leading CRC32 checksum line.
package record

import (
	"fmt"
	"hash/crc32"
	"sort"
	"strings"
)

// LineSeparator is pinned to \n on both the read and write path so shard
// files are portable across platforms (see spec Open Question on line
// separators).
const LineSeparator = "\n"

// Encode renders one on-disk key/value pair as a data line, without the
// trailing separator.
func Encode(key, value string) string {
	var b strings.Builder
	b.Grow(len(key) + len(value) + 6)
	b.WriteByte('"')
	b.WriteString(key)
	b.WriteString(`":"`)
	b.WriteString(value)
	b.WriteString(`";`)
	return b.String()
}

// Decode parses a single data line of the form "<key>":"<value>"; Malformed
// lines (any shape that doesn't match) return ok=false and are meant to be
// silently skipped by the caller, per the spec's parse-malformed-line
// policy.
func Decode(line string) (key, value string, ok bool) {
	semi := strings.IndexByte(line, ';')
	if semi < 0 {
		return "", "", false
	}
	left := line[:semi]

	colon := strings.Index(left, `":"`)
	if colon < 0 {
		return "", "", false
	}
	rawKey := left[:colon]
	rawVal := left[colon+len(`":"`):]

	return unquote(rawKey), unquote(rawVal), true
}

// unquote strips one leading and/or one trailing '"' from s, if present.
func unquote(s string) string {
	s = strings.TrimPrefix(s, `"`)
	s = strings.TrimSuffix(s, `"`)
	return s
}

// IsIgnorable reports whether a raw line read from a shard file should be
// skipped outright: blank lines and "//" comment lines.
func IsIgnorable(line string) bool {
	trimmed := strings.TrimSpace(line)
	return trimmed == "" || strings.HasPrefix(trimmed, "//")
}

// SerializeBody sorts the given on-disk key/value pairs lexicographically by
// key and renders them into the shard data section: each record followed by
// LineSeparator. It returns the rendered body and its CRC32 checksum.
func SerializeBody(pairs map[string]string) (body string, checksum uint32) {
	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(Encode(k, pairs[k]))
		b.WriteString(LineSeparator)
	}
	data := b.String()
	return data, crc32.ChecksumIEEE([]byte(data))
}

// FormatFile renders a complete shard file: the decimal checksum line,
// followed by the data body.
func FormatFile(pairs map[string]string) []byte {
	body, checksum := SerializeBody(pairs)
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%d", checksum))
	b.WriteString(LineSeparator)
	b.WriteString(body)
	return []byte(b.String())
}

// ChecksumOf recomputes the CRC32 over a set of already-decoded data lines,
// exactly as the write path would have produced it, for verifying a shard
// read against its header.
func ChecksumOf(lines []string) uint32 {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l)
		b.WriteString(LineSeparator)
	}
	return crc32.ChecksumIEEE([]byte(b.String()))
}
