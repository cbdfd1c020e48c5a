package domain

import (
	"sort"
	"strconv"
	"strings"
)

// ErrorPrefix marks a result value that records a failure instead of model output
const ErrorPrefix = "Error: "

// Results maps item IDs (decimal strings) to result text for one (language, task) pair.
// A present key means the item is done, whatever its value.
type Results map[string]string

// IsErrorValue returns true if the value records a failure
func IsErrorValue(v string) bool {
	return strings.HasPrefix(v, ErrorPrefix)
}

// ErrorValue formats a failure for storage
func ErrorValue(msg string) string {
	return ErrorPrefix + msg
}

// Resolved reports whether key needs no further work. With retryErrors set,
// recorded failures count as unresolved.
func (r Results) Resolved(key string, retryErrors bool) bool {
	v, ok := r[key]
	if !ok {
		return false
	}
	if retryErrors && IsErrorValue(v) {
		return false
	}
	return true
}

// Merge copies all entries of other into r, overwriting on conflict
func (r Results) Merge(other Results) {
	for k, v := range other {
		r[k] = v
	}
}

// ErrorCount returns the number of failure entries
func (r Results) ErrorCount() int {
	n := 0
	for _, v := range r {
		if IsErrorValue(v) {
			n++
		}
	}
	return n
}

// Clone returns a shallow copy
func (r Results) Clone() Results {
	out := make(Results, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// SortedKeys orders keys numerically ("2" < "9" < "10"). Keys that do not parse
// as integers sort after all numeric keys, lexicographically.
func (r Results) SortedKeys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.SliceStable(keys, func(i, j int) bool {
		a, errA := strconv.Atoi(keys[i])
		b, errB := strconv.Atoi(keys[j])
		switch {
		case errA == nil && errB == nil:
			if a != b {
				return a < b
			}
			return keys[i] < keys[j]
		case errA == nil:
			return true
		case errB == nil:
			return false
		default:
			return keys[i] < keys[j]
		}
	})
	return keys
}
