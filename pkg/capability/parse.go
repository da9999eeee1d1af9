package capability

import (
	"strings"
)

// ParseRequests parses capability request strings as declared in component
// metadata or user-authored annotations and folds them into a single Set.
//
// Recognized forms:
//
//	file-read:<abs-path>
//	file-write:<abs-path>
//	network:<host>
//	full
//
// Unrecognized strings are ignored rather than rejected, so newer components
// can declare requests an older host does not understand. When both read and
// write paths are requested the result is the FileReadWrite variant over the
// union of paths. "full" dominates everything.
func ParseRequests(requests []string) Set {
	var (
		readPaths  []string
		writePaths []string
		hosts      []string
	)

	for _, raw := range requests {
		req := strings.TrimSpace(raw)
		switch {
		case req == "full":
			return Full()
		case strings.HasPrefix(req, "file-read:"):
			if p := strings.TrimPrefix(req, "file-read:"); p != "" {
				readPaths = append(readPaths, p)
			}
		case strings.HasPrefix(req, "file-write:"):
			if p := strings.TrimPrefix(req, "file-write:"); p != "" {
				writePaths = append(writePaths, p)
			}
		case strings.HasPrefix(req, "network:"):
			if h := strings.TrimPrefix(req, "network:"); h != "" {
				hosts = append(hosts, h)
			}
		}
	}

	switch {
	case len(readPaths) > 0 && len(writePaths) > 0:
		return FileReadWrite(unionPaths(readPaths, writePaths)...)
	case len(writePaths) > 0:
		return FileWrite(writePaths...)
	case len(readPaths) > 0:
		return FileRead(readPaths...)
	case len(hosts) > 0:
		return Network(hosts...)
	default:
		return None()
	}
}

func unionPaths(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, p := range append(append([]string(nil), a...), b...) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}
