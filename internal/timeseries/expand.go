// Package timeseries turns the sparse, year-range keyed mappings found in
// method documents into dense per-year lookups.
package timeseries

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrMalformedYearKey is returned when a key is neither a year nor an
// inclusive "Y1-Y2" range.
var ErrMalformedYearKey = errors.New("malformed year key")

// Entry is a single key/value pair of a sparse mapping.
type Entry[V any] struct {
	Key   string
	Value V
}

// Sparse is a year-keyed mapping in the order it was written. Order matters:
// overlapping ranges resolve last-write-wins.
type Sparse[V any] []Entry[V]

// UnmarshalYAML decodes a YAML mapping while keeping document order.
func (s *Sparse[V]) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.AliasNode && node.Alias != nil {
		node = node.Alias
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: expected a year-keyed mapping", node.Line)
	}
	out := make(Sparse[V], 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var v V
		if err := node.Content[i+1].Decode(&v); err != nil {
			return fmt.Errorf("key %q: %w", node.Content[i].Value, err)
		}
		out = append(out, Entry[V]{Key: node.Content[i].Value, Value: v})
	}
	*s = out
	return nil
}

// ParseYearKey parses a bare year ("2010") or an inclusive range
// ("2010-2015") into its first and last year.
func ParseYearKey(key string) (first, last int, err error) {
	key = strings.TrimSpace(key)
	// A leading sign is part of the number, not a range separator.
	if i := strings.Index(key[min(1, len(key)):], "-"); i >= 0 {
		i += min(1, len(key))
		first, err = strconv.Atoi(strings.TrimSpace(key[:i]))
		if err != nil {
			return 0, 0, fmt.Errorf("%w %q: %v", ErrMalformedYearKey, key, err)
		}
		last, err = strconv.Atoi(strings.TrimSpace(key[i+1:]))
		if err != nil {
			return 0, 0, fmt.Errorf("%w %q: %v", ErrMalformedYearKey, key, err)
		}
		if last < first {
			return 0, 0, fmt.Errorf("%w %q: range end precedes start", ErrMalformedYearKey, key)
		}
		return first, last, nil
	}
	first, err = strconv.Atoi(key)
	if err != nil {
		return 0, 0, fmt.Errorf("%w %q: %v", ErrMalformedYearKey, key, err)
	}
	return first, first, nil
}

// IsYearKey reports whether key parses as a year or year range.
func IsYearKey(key string) bool {
	_, _, err := ParseYearKey(key)
	return err == nil
}

// Expand replicates each range entry across every year it covers and copies
// single-year entries as-is. Entries are applied in order, so a later entry
// overwrites an earlier one for any year they share. Values are copied by
// assignment; reference-typed values end up shared between years.
func Expand[V any](s Sparse[V]) (map[int]V, error) {
	out := make(map[int]V)
	for _, e := range s {
		first, last, err := ParseYearKey(e.Key)
		if err != nil {
			return nil, err
		}
		for y := first; y <= last; y++ {
			out[y] = e.Value
		}
	}
	return out, nil
}
