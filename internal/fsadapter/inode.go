package fsadapter

import "github.com/cespare/xxhash/v2"

// rootInode is reserved for "/" by FUSE convention; every other node's
// inode is derived from its resolved virtual path.
const rootInode = 1

// inodeForPath derives a stable FUSE inode number from a virtual path.
// There is no underlying real file to take an inode from -- every
// "file" here is a byte range inside a tar member -- so identity is
// just a hash of the path string itself.
func inodeForPath(path string) uint64 {
	if path == "/" || path == "" {
		return rootInode
	}
	h := xxhash.Sum64String(path)
	if h == rootInode {
		h++
	}
	return h
}
