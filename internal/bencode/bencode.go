// Package bencode implements the four-kind bencoding used throughout
// BitTorrent: integers, byte strings, lists, and dictionaries.
//
// Decode is single-pass over a byte slice and reports how many bytes
// it consumed, so callers can slice out the exact bencoded region of
// a dictionary value (needed to compute the info-hash over the
// original bytes rather than a re-encoding). Encode always emits
// dictionary keys in lexicographic byte order, so encode(decode(b))
// reproduces b whenever b's dict keys were already sorted.
package bencode

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/corvidlabs/gobittorrent/internal/torrenterr"
)

// Dict preserves the insertion order of a decoded dictionary's keys so
// round-tripping and printing reflect what was actually on the wire,
// while still supporting map-like lookup.
type Dict struct {
	Keys   []string
	Values map[string]interface{}
	// Spans records the [start, end) byte offset of each key's raw
	// encoded value within the buffer Decode was called on, so callers
	// can slice out exact bytes (e.g. the info dictionary, for
	// info-hash computation) instead of re-encoding.
	Spans map[string][2]int
}

// Get returns the value for key and whether it was present.
func (d *Dict) Get(key string) (interface{}, bool) {
	v, ok := d.Values[key]
	return v, ok
}

func newDict() *Dict {
	return &Dict{Values: make(map[string]interface{}), Spans: make(map[string][2]int)}
}

func (d *Dict) set(key string, val interface{}) {
	if _, exists := d.Values[key]; !exists {
		d.Keys = append(d.Keys, key)
	}
	d.Values[key] = val
}

// Span returns the raw bencoded byte range [start, end) of key's value
// as it appeared in the buffer passed to Decode, and whether key was
// present.
func (d *Dict) Span(key string) (start, end int, ok bool) {
	s, present := d.Spans[key]
	return s[0], s[1], present
}

// Decode decodes a single bencoded value starting at b[start] and
// returns the value, the offset of the first byte after it, and an
// error. Values decode to: int64 (integer), string (byte string),
// []interface{} (list), *Dict (dictionary).
func Decode(b []byte, start int) (interface{}, int, error) {
	if start >= len(b) {
		return nil, start, malformed("unexpected end of input")
	}
	switch b[start] {
	case 'i':
		return decodeInt(b, start)
	case 'l':
		return decodeList(b, start)
	case 'd':
		return decodeDict(b, start)
	default:
		if b[start] >= '0' && b[start] <= '9' {
			return decodeString(b, start)
		}
		return nil, start, malformed(fmt.Sprintf("unexpected byte %q at offset %d", b[start], start))
	}
}

// DecodeOne decodes exactly one value from b and errors if trailing
// bytes remain. It is the entry point for the `decode` CLI command.
func DecodeOne(b []byte) (interface{}, error) {
	v, n, err := Decode(b, 0)
	if err != nil {
		return nil, err
	}
	if n != len(b) {
		return nil, malformed("trailing bytes after top-level value")
	}
	return v, nil
}

func malformed(msg string) error {
	return torrenterr.New(torrenterr.Malformed, "bencode: "+msg)
}

func decodeInt(b []byte, start int) (interface{}, int, error) {
	end := indexByte(b, start+1, 'e')
	if end < 0 {
		return nil, start, malformed("unterminated integer")
	}
	digits := string(b[start+1 : end])
	if err := validateIntegerDigits(digits); err != nil {
		return nil, start, err
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return nil, start, malformed("integer overflow or invalid digits: " + digits)
	}
	return n, end + 1, nil
}

func validateIntegerDigits(s string) error {
	if s == "" {
		return malformed("empty integer")
	}
	i := 0
	if s[0] == '-' {
		i = 1
		if len(s) == 1 {
			return malformed("bare minus sign")
		}
		if s[1] == '0' {
			return malformed("negative zero or leading zero after minus")
		}
	}
	if s[i] == '0' && i != len(s)-1 {
		return malformed("leading zero in integer")
	}
	for ; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return malformed("non-digit in integer: " + s)
		}
	}
	return nil
}

func decodeString(b []byte, start int) (interface{}, int, error) {
	colon := indexByte(b, start, ':')
	if colon < 0 {
		return nil, start, malformed("byte string missing length prefix")
	}
	lenDigits := string(b[start:colon])
	if lenDigits == "" || (lenDigits[0] == '0' && len(lenDigits) != 1) {
		return nil, start, malformed("invalid byte string length: " + lenDigits)
	}
	for _, c := range lenDigits {
		if c < '0' || c > '9' {
			return nil, start, malformed("non-digit in byte string length")
		}
	}
	n, err := strconv.Atoi(lenDigits)
	if err != nil {
		return nil, start, malformed("byte string length overflow")
	}
	dataStart := colon + 1
	dataEnd := dataStart + n
	if dataEnd > len(b) {
		return nil, start, malformed("byte string runs past end of input")
	}
	return string(b[dataStart:dataEnd]), dataEnd, nil
}

func decodeList(b []byte, start int) (interface{}, int, error) {
	cursor := start + 1
	list := []interface{}{}
	for {
		if cursor >= len(b) {
			return nil, start, malformed("unterminated list")
		}
		if b[cursor] == 'e' {
			return list, cursor + 1, nil
		}
		v, next, err := Decode(b, cursor)
		if err != nil {
			return nil, start, err
		}
		list = append(list, v)
		cursor = next
	}
}

func decodeDict(b []byte, start int) (interface{}, int, error) {
	cursor := start + 1
	d := newDict()
	prevKey := ""
	first := true
	for {
		if cursor >= len(b) {
			return nil, start, malformed("unterminated dictionary")
		}
		if b[cursor] == 'e' {
			return d, cursor + 1, nil
		}
		keyVal, next, err := decodeString(b, cursor)
		if err != nil {
			return nil, start, err
		}
		key := keyVal.(string)
		if !first && key <= prevKey {
			return nil, start, malformed("dictionary keys out of order: " + key)
		}
		first = false
		prevKey = key
		cursor = next

		valueStart := cursor
		val, next2, err := Decode(b, cursor)
		if err != nil {
			return nil, start, err
		}
		d.set(key, val)
		d.Spans[key] = [2]int{valueStart, next2}
		cursor = next2
	}
}

func indexByte(b []byte, start int, c byte) int {
	for i := start; i < len(b); i++ {
		if b[i] == c {
			return i
		}
	}
	return -1
}

// Encode re-encodes a decoded value tree. Dictionaries are always
// written with keys in lexicographic byte order, regardless of the
// order they were decoded in, so Encode(Decode(b)) reproduces b only
// when b's keys were already sorted (spec's round-trip property).
func Encode(v interface{}) []byte {
	var buf []byte
	return appendValue(buf, v)
}

func appendValue(buf []byte, v interface{}) []byte {
	switch t := v.(type) {
	case int64:
		return appendInt(buf, t)
	case int:
		return appendInt(buf, int64(t))
	case string:
		return appendString(buf, t)
	case []byte:
		return appendString(buf, string(t))
	case []interface{}:
		buf = append(buf, 'l')
		for _, item := range t {
			buf = appendValue(buf, item)
		}
		return append(buf, 'e')
	case *Dict:
		return appendDict(buf, t)
	case map[string]interface{}:
		d := newDict()
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			d.set(k, t[k])
		}
		return appendDict(buf, d)
	default:
		panic(fmt.Sprintf("bencode: cannot encode value of type %T", v))
	}
}

func appendInt(buf []byte, n int64) []byte {
	buf = append(buf, 'i')
	buf = append(buf, []byte(strconv.FormatInt(n, 10))...)
	return append(buf, 'e')
}

func appendString(buf []byte, s string) []byte {
	buf = append(buf, []byte(strconv.Itoa(len(s)))...)
	buf = append(buf, ':')
	return append(buf, s...)
}

func appendDict(buf []byte, d *Dict) []byte {
	keys := append([]string(nil), d.Keys...)
	sort.Strings(keys)
	buf = append(buf, 'd')
	for _, k := range keys {
		buf = appendString(buf, k)
		buf = appendValue(buf, d.Values[k])
	}
	return append(buf, 'e')
}
