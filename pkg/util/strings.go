package util

import "strings"

// SplitCommaSeparated splits a comma-separated string and trims whitespace from each element.
// Empty input returns nil.
func SplitCommaSeparated(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// MentionsName reports whether text contains name as a whole token,
// case-insensitively. Letters, digits, '-' and '_' are token characters, so
// "sw-1" is found in "to SW-1 port 3" and "sw-1.lab" but not in "sw-10".
func MentionsName(text, name string) bool {
	if name == "" {
		return false
	}
	lt := strings.ToLower(text)
	ln := strings.ToLower(name)

	for from := 0; from <= len(lt)-len(ln); {
		i := strings.Index(lt[from:], ln)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(ln)
		if (start == 0 || !isTokenChar(lt[start-1])) && (end == len(lt) || !isTokenChar(lt[end])) {
			return true
		}
		from = start + 1
	}
	return false
}

func isTokenChar(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '-' || c == '_'
}
