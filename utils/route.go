package utils

import "strings"

// MatchRoute checks whether a concrete "METHOD /path" value matches a route
// pattern. Patterns may include:
//   - Wildcard '*' matching any sequence of characters within a segment,
//     or everything when it is the final character.
//   - Parameter prefix ':' (e.g. ':id') matching any single path segment.
//
// A pattern method of '*' matches any method.
func MatchRoute(value, pattern string) bool {
	valParts := strings.SplitN(value, " ", 2)
	patParts := strings.SplitN(pattern, " ", 2)

	if len(patParts) == 2 {
		if len(valParts) != 2 {
			return false
		}
		if patParts[0] != "*" && valParts[0] != patParts[0] {
			return false
		}
		return matchPath(valParts[1], patParts[1])
	}
	return matchPath(value, pattern)
}

// matchPath matches a path against a pattern containing '*' wildcards and
// ':' parameters. Parameters match until the next '/'.
func matchPath(value, pattern string) bool {
	vIndex, pIndex := 0, 0
	vLen, pLen := len(value), len(pattern)

	for pIndex < pLen {
		switch pattern[pIndex] {
		case '*':
			if pIndex == pLen-1 {
				return true
			}
			for vIndex < vLen && value[vIndex] != '/' {
				vIndex++
			}
			pIndex++
		case ':':
			pIndex++
			for pIndex < pLen && pattern[pIndex] != '/' {
				pIndex++
			}
			for vIndex < vLen && value[vIndex] != '/' {
				vIndex++
			}
		default:
			if vIndex < vLen && pattern[pIndex] == value[vIndex] {
				vIndex++
				pIndex++
			} else {
				return false
			}
		}
	}

	if strings.HasSuffix(pattern, "/*") {
		return strings.HasPrefix(value, strings.TrimSuffix(pattern, "/*"))
	}
	return vIndex == vLen && pIndex == pLen
}
