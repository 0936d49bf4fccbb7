package eventbody

import (
	"fmt"
	"sort"
)

// MergeError reports a shape conflict between merge inputs for one key.
type MergeError struct {
	// Key is the conflicting document key.
	Key string
	// Err is ErrTypeMismatch.
	Err error
}

// Error returns a string representation of the merge error.
func (e *MergeError) Error() string {
	return fmt.Sprintf("eventbody: merge key %q: %v", e.Key, e.Err)
}

// Unwrap returns the underlying error for use with errors.Is().
func (e *MergeError) Unwrap() error { return e.Err }

// Merge combines documents left to right. Scalars from later documents win,
// list values take the union of all inputs with duplicates removed and a
// deterministic sort applied. A shape disagreement for the same key is an
// error: the run must fail rather than guess which side is right.
//
// The references list additionally keeps at most one YouTube watch URL
// (the first in merged order).
func Merge(docs ...Document) (Document, error) {
	result := Document{}

	for _, doc := range docs {
		for key, v := range doc {
			old, ok := result[key]
			if !ok {
				result[key] = copyValue(v)
				continue
			}
			if old.IsList != v.IsList {
				return nil, &MergeError{Key: key, Err: ErrTypeMismatch}
			}
			if v.IsList {
				result[key] = Strings(unionSorted(old.List, v.List)...)
			} else {
				result[key] = v
			}
		}
	}

	if refs, ok := result[KeyReferences]; ok && refs.IsList {
		result[KeyReferences] = Strings(collapseWatchURLs(refs.List)...)
	}

	return result, nil
}

func copyValue(v Value) Value {
	if !v.IsList {
		return v
	}
	return Strings(append([]string(nil), v.List...)...)
}

// unionSorted returns the sorted union of two lists with duplicates removed.
func unionSorted(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, item := range list {
			if _, ok := seen[item]; ok {
				continue
			}
			seen[item] = struct{}{}
			out = append(out, item)
		}
	}
	sort.Strings(out)
	return out
}

// collapseWatchURLs keeps the first YouTube watch URL and drops the rest,
// leaving non-watch references untouched.
func collapseWatchURLs(refs []string) []string {
	out := make([]string, 0, len(refs))
	kept := false
	for _, ref := range refs {
		if isWatchURL(ref) {
			if kept {
				continue
			}
			kept = true
		}
		out = append(out, ref)
	}
	return out
}
