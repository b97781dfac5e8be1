// Package nestedform decodes form-encoded bodies whose keys carry bracket
// chains (leads[add][0][id]=123) into nested maps and lists.
package nestedform

import (
	"net/url"
	"strconv"
	"strings"
)

// Tree is the decoded body. Nodes are map[string]any, []any or string.
type Tree = map[string]any

// maxListIndex caps list growth driven by attacker-controlled indices.
const maxListIndex = 10000

// Decode parses body into a fresh Tree. It never panics: pairs whose keys
// cannot be placed in the structure are stored flat under the original key,
// and a plain scalar never replaces an already decoded structure.
func Decode(body string) Tree {
	tree := make(Tree)
	for _, pair := range strings.Split(body, "&") {
		if pair == "" {
			continue
		}
		rawKey, rawValue, _ := strings.Cut(pair, "=")
		key := unescape(rawKey)
		if key == "" {
			continue
		}
		value := unescape(rawValue)

		base, segments, ok := splitKey(key)
		if !ok {
			tree[key] = value
			continue
		}
		path := append([]string{base}, segments...)
		if !fits(tree, path) {
			if len(segments) > 0 {
				tree[key] = value
			}
			continue
		}
		assign(tree, path, value)
	}
	return tree
}

func unescape(s string) string {
	decoded, err := url.QueryUnescape(s)
	if err != nil {
		return strings.ReplaceAll(s, "+", " ")
	}
	return decoded
}

// splitKey breaks "a[b][0]" into "a" and ["b", "0"].
func splitKey(key string) (string, []string, bool) {
	open := strings.IndexByte(key, '[')
	if open < 0 {
		return key, nil, true
	}
	if open == 0 {
		return "", nil, false
	}
	base, rest := key[:open], key[open:]
	var segments []string
	for rest != "" {
		if rest[0] != '[' {
			return "", nil, false
		}
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return "", nil, false
		}
		segment := rest[1:end]
		if strings.ContainsRune(segment, '[') {
			return "", nil, false
		}
		segments = append(segments, segment)
		rest = rest[end+1:]
	}
	return base, segments, true
}

// listIndex reports whether segment addresses a list slot. An empty segment
// appends.
func listIndex(segment string, length int) (int, bool) {
	if segment == "" {
		return length, true
	}
	for _, r := range segment {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	idx, err := strconv.Atoi(segment)
	if err != nil {
		return 0, false
	}
	return idx, true
}

// fits checks that path can be assigned without clobbering a node of a
// different shape.
func fits(node any, path []string) bool {
	if len(path) == 0 {
		switch n := node.(type) {
		case nil, string:
			return true
		case map[string]any:
			// gap placeholders left by grow
			return len(n) == 0
		default:
			return false
		}
	}
	segment := path[0]
	switch n := node.(type) {
	case nil:
		if idx, ok := listIndex(segment, 0); ok && idx > maxListIndex {
			return false
		}
		return fits(nil, path[1:])
	case map[string]any:
		return fits(n[segment], path[1:])
	case []any:
		idx, ok := listIndex(segment, len(n))
		if !ok || idx > maxListIndex {
			return false
		}
		if idx < len(n) {
			return fits(n[idx], path[1:])
		}
		return fits(nil, path[1:])
	default:
		return false
	}
}

// assign writes value at path below node and returns the updated node.
// Callers must check fits first.
func assign(node any, path []string, value string) any {
	if len(path) == 0 {
		return value
	}
	segment := path[0]
	switch n := node.(type) {
	case map[string]any:
		n[segment] = assign(n[segment], path[1:], value)
		return n
	case []any:
		idx, _ := listIndex(segment, len(n))
		n = grow(n, idx)
		n[idx] = assign(n[idx], path[1:], value)
		return n
	default:
		if idx, ok := listIndex(segment, 0); ok {
			list := grow(nil, idx)
			list[idx] = assign(list[idx], path[1:], value)
			return list
		}
		m := map[string]any{segment: nil}
		m[segment] = assign(nil, path[1:], value)
		return m
	}
}

// grow extends list to hold idx, padding earlier slots with empty maps.
func grow(list []any, idx int) []any {
	for len(list) <= idx {
		if len(list) == idx {
			list = append(list, nil)
			break
		}
		list = append(list, map[string]any{})
	}
	return list
}
