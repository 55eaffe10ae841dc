package keyspace

// globMatch implements the glob-like matching KEYS needs (spec.md §4.2 and
// Design Notes, "Implement a small glob->predicate helper; do not expose
// regex directly"). It supports the subset of Redis's pattern language that
// matters for a strings-only keyspace: '*' (any run, including empty),
// '?' (exactly one byte), '[...]' character classes (with optional leading
// '^' negation and 'a-z' ranges), and '\' to escape a following byte
// literally.
func globMatch(pattern, s string) bool {
	return globMatchBytes([]byte(pattern), []byte(s))
}

func globMatchBytes(pattern, s []byte) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case '*':
			// Collapse consecutive '*' to avoid redundant recursion.
			for len(pattern) > 1 && pattern[1] == '*' {
				pattern = pattern[1:]
			}
			if len(pattern) == 1 {
				return true
			}
			for i := 0; i <= len(s); i++ {
				if globMatchBytes(pattern[1:], s[i:]) {
					return true
				}
			}
			return false

		case '?':
			if len(s) == 0 {
				return false
			}
			s = s[1:]
			pattern = pattern[1:]

		case '[':
			if len(s) == 0 {
				return false
			}
			end := indexUnescaped(pattern, ']')
			if end < 0 {
				// No closing bracket: treat '[' as a literal.
				if s[0] != '[' {
					return false
				}
				s = s[1:]
				pattern = pattern[1:]
				continue
			}
			matched := matchClass(pattern[1:end], s[0])
			s = s[1:]
			pattern = pattern[end+1:]
			if !matched {
				return false
			}

		case '\\':
			if len(pattern) >= 2 {
				if len(s) == 0 || s[0] != pattern[1] {
					return false
				}
				s = s[1:]
				pattern = pattern[2:]
			} else {
				if len(s) == 0 || s[0] != '\\' {
					return false
				}
				s = s[1:]
				pattern = pattern[1:]
			}

		default:
			if len(s) == 0 || s[0] != pattern[0] {
				return false
			}
			s = s[1:]
			pattern = pattern[1:]
		}
	}
	return len(s) == 0
}

func indexUnescaped(b []byte, target byte) int {
	for i := 1; i < len(b); i++ {
		if b[i] == '\\' {
			i++
			continue
		}
		if b[i] == target {
			return i
		}
	}
	return -1
}

func matchClass(class []byte, c byte) bool {
	negate := false
	if len(class) > 0 && class[0] == '^' {
		negate = true
		class = class[1:]
	}

	matched := false
	for i := 0; i < len(class); i++ {
		if class[i] == '\\' && i+1 < len(class) {
			i++
			if class[i] == c {
				matched = true
			}
			continue
		}
		if i+2 < len(class) && class[i+1] == '-' {
			lo, hi := class[i], class[i+2]
			if lo > hi {
				lo, hi = hi, lo
			}
			if c >= lo && c <= hi {
				matched = true
			}
			i += 2
			continue
		}
		if class[i] == c {
			matched = true
		}
	}

	if negate {
		return !matched
	}
	return matched
}
