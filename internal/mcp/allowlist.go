package mcp

import "strings"

// allowedRunners is the fixed set of interpreter/runtime binaries a tool
// provider may be launched with. Anything else is refused before a process
// is spawned; this is a security boundary, not a convenience check.
var allowedRunners = map[string]struct{}{
	"node":    {},
	"npx":     {},
	"bun":     {},
	"bunx":    {},
	"deno":    {},
	"python":  {},
	"python3": {},
	"uv":      {},
	"uvx":     {},
	"sh":      {},
	"bash":    {},
	"zsh":     {},
}

// CommandAllowed reports whether command names one of the allowed runners.
// Any leading path and a Windows executable suffix are stripped first, and
// the comparison is case-insensitive.
func CommandAllowed(command string) bool {
	base := strings.TrimSpace(command)
	// Config files written on Windows may carry backslash paths, so both
	// separators are stripped regardless of the host platform.
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	base = strings.ToLower(base)
	for _, ext := range []string{".exe", ".cmd", ".bat"} {
		base = strings.TrimSuffix(base, ext)
	}
	_, ok := allowedRunners[base]
	return ok
}
