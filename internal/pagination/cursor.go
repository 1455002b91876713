// Package pagination provides cursor-based pagination over id-ordered lists.
package pagination

import (
	"encoding/base64"
	"errors"
	"sort"
	"strconv"
	"strings"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

var ErrInvalidCursor = errors.New("invalid cursor")

const cursorPrefix = "id:"

// Encode returns an opaque cursor pointing after id.
func Encode(id uint64) string {
	return base64.RawURLEncoding.EncodeToString([]byte(cursorPrefix + strconv.FormatUint(id, 10)))
}

// Decode parses an opaque cursor. The empty cursor decodes to 0, the
// position before the first id.
func Decode(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return 0, ErrInvalidCursor
	}
	rest, ok := strings.CutPrefix(string(raw), cursorPrefix)
	if !ok {
		return 0, ErrInvalidCursor
	}
	id, err := strconv.ParseUint(rest, 10, 64)
	if err != nil {
		return 0, ErrInvalidCursor
	}
	return id, nil
}

// Limit parses a requested page size, defaulting empty or invalid input
// and capping at MaxLimit.
func Limit(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return DefaultLimit
	}
	if n > MaxLimit {
		return MaxLimit
	}
	return n
}

// Page is one page of results.
type Page[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"nextCursor,omitempty"`
	HasMore    bool   `json:"hasMore"`
}

// ComputePage sorts items by key, skips those at or before the cursor id,
// and returns at most limit of the rest.
func ComputePage[T any](items []T, after uint64, limit int, key func(T) uint64) Page[T] {
	sorted := make([]T, 0, len(items))
	for _, it := range items {
		if key(it) > after {
			sorted = append(sorted, it)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return key(sorted[i]) < key(sorted[j]) })

	if limit <= 0 {
		limit = DefaultLimit
	}
	if len(sorted) <= limit {
		return Page[T]{Items: sorted}
	}
	sorted = sorted[:limit]
	return Page[T]{
		Items:      sorted,
		NextCursor: Encode(key(sorted[len(sorted)-1])),
		HasMore:    true,
	}
}
