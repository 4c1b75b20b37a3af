package tree

import "github.com/marmos91/agentfs/pkg/metadata"

// Resolve walks components from the root. Symlinks are not followed.
func (t *Tree) Resolve(path string, parts []string) (*Node, error) {
	cur := t.Root()
	for i, name := range parts {
		if !cur.IsDir() {
			return nil, metadata.NewError(metadata.ErrNotDirectory, path, "%q is not a directory", parts[i-1])
		}
		next, ok := t.Lookup(cur, name)
		if !ok {
			return nil, metadata.NewError(metadata.ErrNotFound, path, "no such file or directory")
		}
		cur = next
	}
	return cur, nil
}

// ResolvePath splits and resolves an absolute path.
func (t *Tree) ResolvePath(path string) (*Node, error) {
	parts, err := metadata.SplitPath(path)
	if err != nil {
		return nil, err
	}
	return t.Resolve(path, parts)
}

// ResolveParent resolves the directory that holds the last component of
// path and returns it with that component.
func (t *Tree) ResolveParent(path string) (*Node, string, error) {
	dirParts, name, err := metadata.SplitParent(path)
	if err != nil {
		return nil, "", err
	}
	dir, err := t.Resolve(path, dirParts)
	if err != nil {
		return nil, "", err
	}
	if !dir.IsDir() {
		return nil, "", metadata.NewError(metadata.ErrNotDirectory, path, "parent is not a directory")
	}
	return dir, name, nil
}
