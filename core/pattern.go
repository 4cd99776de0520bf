package core

import "strings"

// CompilePattern turns a user-authored URL pattern into a urlFilter for the rule table.
// Host-only patterns match every path, directory-looking patterns match everything below
// them, and a final path segment containing a "." is treated as an exact file.
func CompilePattern(pattern string) string {
	filter := strings.TrimSpace(pattern)

	if strings.HasSuffix(filter, "*") {
		return filter
	}

	if strings.Contains(filter, "://*.") {
		hostStart := strings.Index(filter, "://") + 3
		if !strings.Contains(filter[hostStart:], "/") || !strings.HasSuffix(filter, "/") {
			filter += "/*"
		}
		return filter
	}

	// No scheme leaves protoEnd at 2, same as searching from the third character.
	protoEnd := strings.Index(filter, "://") + 3
	if protoEnd > len(filter) {
		protoEnd = len(filter)
	}
	switch {
	case !strings.Contains(filter[protoEnd:], "/"):
		filter += "/*"
	case strings.HasSuffix(filter, "/"):
		filter += "*"
	default:
		lastSegment := filter[strings.LastIndex(filter, "/")+1:]
		if !strings.Contains(lastSegment, ".") {
			filter += "/*"
		}
	}
	return filter
}
