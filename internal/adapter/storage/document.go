// internal/adapter/storage/document.go

package storage

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"tides/internal/domain/docstore"
)

// timestampLayout is fixed-width so stored timestamps order lexicographically
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// jsonDocument is a record held as JSON by the memory and Postgres stores
type jsonDocument struct {
	ref  docstore.Ref
	data map[string]interface{}
	raw  []byte
}

func newJSONDocument(ref docstore.Ref, raw []byte) (*jsonDocument, error) {
	data := map[string]interface{}{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("error decoding document %s: %w", ref.Path(), err)
	}
	return &jsonDocument{ref: ref, data: data, raw: raw}, nil
}

func (d *jsonDocument) ID() string { return d.ref.ID }

func (d *jsonDocument) Ref() docstore.Ref { return d.ref }

func (d *jsonDocument) Field(path string) (interface{}, bool) {
	return lookupPath(d.data, strings.Split(path, "."))
}

func (d *jsonDocument) DataTo(v interface{}) error {
	return json.Unmarshal(d.raw, v)
}

func lookupPath(data map[string]interface{}, path []string) (interface{}, bool) {
	var cur interface{} = data
	for _, elem := range path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[elem]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// resolveValue replaces sentinels and timestamps with their stored form
func resolveValue(v interface{}, now time.Time) (interface{}, error) {
	switch val := v.(type) {
	case time.Time:
		return val.UTC().Format(timestampLayout), nil
	case *time.Time:
		if val == nil {
			return nil, nil
		}
		return val.UTC().Format(timestampLayout), nil
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, inner := range val {
			r, err := resolveValue(inner, now)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", k, err)
			}
			out[k] = r
		}
		return out, nil
	}

	if docstore.IsServerTimestamp(v) {
		return now.UTC().Format(timestampLayout), nil
	}
	if docstore.IsDelete(v) {
		return nil, fmt.Errorf("delete sentinel is only valid in updates")
	}
	return v, nil
}

// normalizeValue converts v to the shape it takes after a JSON round trip
func normalizeValue(v interface{}, now time.Time) (interface{}, error) {
	resolved, err := resolveValue(v, now)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(resolved)
	if err != nil {
		return nil, fmt.Errorf("error encoding value: %w", err)
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("error normalizing value: %w", err)
	}
	return out, nil
}

// normalizeData converts caller-supplied document data into stored form
func normalizeData(data map[string]interface{}, now time.Time) (map[string]interface{}, []byte, error) {
	resolved, err := resolveValue(data, now)
	if err != nil {
		return nil, nil, err
	}
	raw, err := json.Marshal(resolved)
	if err != nil {
		return nil, nil, fmt.Errorf("error encoding document: %w", err)
	}
	out := map[string]interface{}{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, nil, fmt.Errorf("error normalizing document: %w", err)
	}
	return out, raw, nil
}

// applyUpdates mutates data in place
func applyUpdates(data map[string]interface{}, updates []docstore.Update, now time.Time) error {
	for _, u := range updates {
		if len(u.Path) == 0 {
			return fmt.Errorf("empty update path")
		}

		parent := data
		for _, elem := range u.Path[:len(u.Path)-1] {
			next, ok := parent[elem].(map[string]interface{})
			if !ok {
				next = map[string]interface{}{}
				parent[elem] = next
			}
			parent = next
		}

		last := u.Path[len(u.Path)-1]
		if docstore.IsDelete(u.Value) {
			delete(parent, last)
			continue
		}

		v, err := normalizeValue(u.Value, now)
		if err != nil {
			return fmt.Errorf("update %s: %w", docstore.JoinPath(u.Path), err)
		}
		parent[last] = v
	}
	return nil
}

// compareValues orders two normalized scalars; ok is false for mismatched types
func compareValues(a, b interface{}) (int, bool) {
	switch av := a.(type) {
	case float64:
		bv, ok := b.(float64)
		if !ok {
			return 0, false
		}
		switch {
		case av < bv:
			return -1, true
		case av > bv:
			return 1, true
		}
		return 0, true
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case av == bv:
			return 0, true
		case !av:
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

// matchFilters evaluates every filter of q against data
func matchFilters(data map[string]interface{}, filters []docstore.Filter, now time.Time) (bool, error) {
	for _, f := range filters {
		want, err := normalizeValue(f.Value, now)
		if err != nil {
			return false, fmt.Errorf("filter %s: %w", f.Field, err)
		}

		got, ok := lookupPath(data, strings.Split(f.Field, "."))
		if !ok {
			return false, nil
		}

		switch f.Op {
		case docstore.OpEqual:
			c, ok := compareValues(got, want)
			if !ok || c != 0 {
				return false, nil
			}
		case docstore.OpLessEqual:
			c, ok := compareValues(got, want)
			if !ok || c > 0 {
				return false, nil
			}
		case docstore.OpGreaterEqual:
			c, ok := compareValues(got, want)
			if !ok || c < 0 {
				return false, nil
			}
		case docstore.OpArrayContains:
			elems, ok := got.([]interface{})
			if !ok {
				return false, nil
			}
			found := false
			for _, e := range elems {
				if c, ok := compareValues(e, want); ok && c == 0 {
					found = true
					break
				}
			}
			if !found {
				return false, nil
			}
		default:
			return false, fmt.Errorf("unsupported operator %q", f.Op)
		}
	}
	return true, nil
}

// sortedRecord pairs a document with its insertion sequence
type sortedRecord struct {
	doc *jsonDocument
	seq int64
}

// orderRecords sorts by the query's order field, then insertion order.
// Records missing the order field are excluded.
func orderRecords(records []sortedRecord, q docstore.Query) []sortedRecord {
	if q.OrderBy == "" {
		sort.SliceStable(records, func(i, j int) bool { return records[i].seq < records[j].seq })
		return records
	}

	path := strings.Split(q.OrderBy, ".")
	kept := records[:0]
	for _, r := range records {
		if _, ok := lookupPath(r.doc.data, path); ok {
			kept = append(kept, r)
		}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		a, _ := lookupPath(kept[i].doc.data, path)
		b, _ := lookupPath(kept[j].doc.data, path)
		c, ok := compareValues(a, b)
		if !ok || c == 0 {
			return kept[i].seq < kept[j].seq
		}
		if q.Direction == docstore.Desc {
			return c > 0
		}
		return c < 0
	})
	return kept
}
