// Package argv parses the free-text launch configuration of tool providers:
// shell-like argument strings and newline-delimited environment overrides.
package argv

import "strings"

// Split tokenizes a command-line argument string.
// Single and double quotes group words; a backslash escapes the next
// character outside single quotes. There is no variable expansion.
func Split(s string) []string {
	var (
		args    []string
		cur     strings.Builder
		inWord  bool
		quote   rune // 0 when unquoted
		escaped bool
	)

	for _, r := range s {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case quote == '\'':
			if r == '\'' {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\\':
			escaped = true
			inWord = true
		case quote == '"':
			if r == '"' {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inWord = true
		case r == ' ' || r == '\t' || r == '\n':
			if inWord {
				args = append(args, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			cur.WriteRune(r)
			inWord = true
		}
	}
	if inWord {
		args = append(args, cur.String())
	}
	return args
}

// ParseEnv parses newline-delimited KEY=VALUE pairs into a map.
// Blank lines, lines starting with '#', and lines without '=' are skipped.
func ParseEnv(s string) map[string]string {
	env := map[string]string{}
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		env[key] = strings.TrimSpace(value)
	}
	return env
}
