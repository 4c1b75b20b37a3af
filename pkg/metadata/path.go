package metadata

import "strings"

// StreamSeparator separates a file path from a named data stream
// ("/notes.txt:summary").
const StreamSeparator = ":"

// SplitPath splits an absolute path into its components.
//
// Empty components and "." are skipped. ".." is rejected: adapters hand the
// core normalized paths, and resolving ".." without following the caller's
// own walk would silently cross branch-local renames.
func SplitPath(path string) ([]string, error) {
	if !strings.HasPrefix(path, "/") {
		return nil, NewError(ErrInvalidArgument, path, "path is not absolute")
	}

	raw := strings.Split(path, "/")
	parts := make([]string, 0, len(raw))
	for _, p := range raw {
		switch p {
		case "", ".":
			continue
		case "..":
			return nil, NewError(ErrInvalidArgument, path, "path contains '..'")
		}
		if strings.ContainsRune(p, 0) {
			return nil, NewError(ErrInvalidName, path, "path contains NUL")
		}
		parts = append(parts, p)
	}
	return parts, nil
}

// SplitParent splits an absolute path into its parent components and the
// final name. The root path has no final name and is rejected.
func SplitParent(path string) ([]string, string, error) {
	parts, err := SplitPath(path)
	if err != nil {
		return nil, "", err
	}
	if len(parts) == 0 {
		return nil, "", NewError(ErrInvalidArgument, path, "operation not valid on root")
	}
	return parts[:len(parts)-1], parts[len(parts)-1], nil
}

// SplitStream separates "path:stream" into the file path and the stream
// name. A path without a separator in its last component addresses the
// default stream ("").
func SplitStream(path string) (string, string) {
	slash := strings.LastIndex(path, "/")
	idx := strings.Index(path[slash+1:], StreamSeparator)
	if idx < 0 {
		return path, ""
	}
	idx += slash + 1
	return path[:idx], path[idx+1:]
}

// JoinPath builds an absolute path from components.
func JoinPath(parts []string) string {
	return "/" + strings.Join(parts, "/")
}
