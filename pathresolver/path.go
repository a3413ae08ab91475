// Package pathresolver converts absolute paths into inode identifiers by
// walking the directory tree from the root.
package pathresolver

import (
	"strings"

	"github.com/go-microfs/microfs/directory"
	"github.com/go-microfs/microfs/errors"
	"github.com/go-microfs/microfs/image"
	"github.com/go-microfs/microfs/inode"
)

// RootInode is the fixed inode number of the root directory.
const RootInode = 0

// splitComponents splits the tail of an absolute path on '/', discarding
// empty components so that trailing and doubled slashes are handled
// transparently.
func splitComponents(path string) []string {
	raw := strings.Split(strings.TrimPrefix(path, "/"), "/")
	out := make([]string, 0, len(raw))
	for _, c := range raw {
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}

// Lookup implements tree_lookup: it walks from the root directory following
// each path component, verifying every intermediate node is a directory.
func Lookup(img *image.Image, table *inode.Table, path string) (int, error) {
	if path == "/" {
		return RootInode, nil
	}

	components := splitComponents(path)
	current := RootInode

	for _, name := range components {
		rec, err := table.Get(current)
		if err != nil {
			return -1, err
		}
		if !rec.IsDir() {
			return -1, errors.ErrNotDirectory.WithMessage(path)
		}

		next, err := directory.Lookup(img, rec, name)
		if err != nil {
			return -1, err
		}
		current = next
	}

	return current, nil
}

// LookupParent implements tree_lookup_parent: root's parent is root; a path
// whose last '/' sits at index 0 (e.g. "/foo") has root as its parent;
// otherwise the parent is found by recursing via Lookup on the path up to
// (not including) the final '/'.
func LookupParent(img *image.Image, table *inode.Table, path string) (int, error) {
	if path == "/" {
		return RootInode, nil
	}

	lastSlash := strings.LastIndex(path, "/")
	if lastSlash <= 0 {
		return RootInode, nil
	}

	parentPath := path[:lastSlash]
	return Lookup(img, table, parentPath)
}

// Base returns the substring of path after the final '/', or the whole
// path if there is none.
func Base(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return path
	}
	return path[idx+1:]
}
