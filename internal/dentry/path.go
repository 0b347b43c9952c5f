package dentry

import "strings"

// splitPath splits a path on '/', dropping empty components so that
// leading and repeated slashes are handled transparently.
func splitPath(path string) []string {
	parts := strings.Split(path, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// isRoot reports whether path names the namespace root "/".
func isRoot(path string) bool {
	return len(splitPath(path)) == 0
}
