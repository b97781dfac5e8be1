package nestedform

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Lookup walks node along keys. Map nodes are indexed by key, list nodes by
// decimal position. It works on decoded forms and on JSON decoded into any.
func Lookup(node any, keys ...string) (any, bool) {
	current := node
	for _, key := range keys {
		switch n := current.(type) {
		case map[string]any:
			next, ok := n[key]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(n) {
				return nil, false
			}
			current = n[idx]
		default:
			return nil, false
		}
	}
	return current, current != nil
}

// Items returns the elements of a list node. A map node is treated as a list
// when its keys are numeric, ordered by index; any other map is a single
// element.
func Items(node any) []any {
	switch n := node.(type) {
	case []any:
		return n
	case map[string]any:
		if len(n) == 0 {
			return nil
		}
		type indexed struct {
			idx int
			key string
		}
		keys := make([]indexed, 0, len(n))
		for key := range n {
			idx, err := strconv.Atoi(key)
			if err != nil {
				return []any{n}
			}
			keys = append(keys, indexed{idx, key})
		}
		sort.Slice(keys, func(i, j int) bool {
			if keys[i].idx != keys[j].idx {
				return keys[i].idx < keys[j].idx
			}
			return keys[i].key < keys[j].key
		})
		items := make([]any, 0, len(keys))
		for _, k := range keys {
			items = append(items, n[k.key])
		}
		return items
	default:
		return nil
	}
}

// String renders a scalar node. Structures and nil yield "".
func String(node any) string {
	switch v := node.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	case nil, map[string]any, []any:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Int64 parses a scalar node as a base-10 integer.
func Int64(node any) (int64, bool) {
	s := String(node)
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
