// Package fsadapter bridges bazil.org/fuse's fs.Node/fs.Handle
// callbacks to internal/resolver.Resolver, translating the resolver's
// sentinel errors into the errno values FUSE expects. It never parses
// a virtual path itself -- that's the resolver's job -- it only
// carries the path string along each node and forwards it.
package fsadapter

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"syscall"

	"bazil.org/fuse"
	bazilfs "bazil.org/fuse/fs"

	"github.com/foldfs/foldfs/internal/resolver"
)

// FS implements bazil.org/fuse's fs.FS, rooted at the resolver's
// virtual "/". Resolver is a resolver.Dispatcher rather than a
// concrete *resolver.Resolver so the daemon can interpose
// resolver.Debug between the two without this package knowing about it.
type FS struct {
	Resolver resolver.Dispatcher
}

var _ bazilfs.FS = (*FS)(nil)

func (f *FS) Root() (bazilfs.Node, error) {
	return &node{fs: f, path: "/"}, nil
}

// node is every file and directory in the tree; which it is follows
// from what Attr discovers by calling back into the resolver.
type node struct {
	fs   *FS
	path string
}

var (
	_ bazilfs.Node               = (*node)(nil)
	_ bazilfs.NodeStringLookuper = (*node)(nil)
	_ bazilfs.HandleReadDirAller = (*node)(nil)
	_ bazilfs.NodeOpener         = (*node)(nil)
	_ bazilfs.HandleReader       = (*node)(nil)
)

func (n *node) Attr(ctx context.Context, a *fuse.Attr) error {
	st, err := n.fs.Resolver.GetAttr(ctx, n.path)
	if err != nil {
		return translateErr("attr", n.path, err)
	}
	a.Inode = inodeForPath(n.path)
	a.Mode = st.Mode
	if st.IsDir {
		a.Mode |= fs.ModeDir
	}
	a.Size = uint64(st.Size)
	a.Mtime = st.ModTime
	return nil
}

func (n *node) Lookup(ctx context.Context, name string) (bazilfs.Node, error) {
	child := joinPath(n.path, name)
	if _, err := n.fs.Resolver.GetAttr(ctx, child); err != nil {
		return nil, translateErr("lookup", child, err)
	}
	return &node{fs: n.fs, path: child}, nil
}

func (n *node) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	it, err := n.fs.Resolver.ReadDir(ctx, n.path)
	if err != nil {
		return nil, translateErr("readdir", n.path, err)
	}

	var out []fuse.Dirent
	for e, err := range it {
		if err != nil {
			return nil, translateErr("readdir", n.path, err)
		}
		typ := fuse.DT_File
		if e.IsDir {
			typ = fuse.DT_Dir
		}
		out = append(out, fuse.Dirent{
			Inode: inodeForPath(joinPath(n.path, e.Name)),
			Name:  e.Name,
			Type:  typ,
		})
	}
	return out, nil
}

func (n *node) Open(ctx context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (bazilfs.Handle, error) {
	writable := req.Flags.IsWriteOnly() || req.Flags.IsReadWrite()
	if err := n.fs.Resolver.Open(ctx, n.path, writable); err != nil {
		return nil, translateErr("open", n.path, err)
	}
	return n, nil
}

func (n *node) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	data, err := n.fs.Resolver.Read(ctx, n.path, req.Size, req.Offset)
	if err != nil {
		return translateErr("read", n.path, err)
	}
	resp.Data = data
	return nil
}

// joinPath appends a single path component, root handled specially so
// repeated lookups don't accumulate "//".
func joinPath(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}

// translateErr maps a resolver error to the errno FUSE expects,
// logging anything that isn't an ordinary not-found/permission
// outcome -- those indicate an archive or index failure worth
// surfacing in the daemon's log.
func translateErr(op, path string, err error) error {
	switch {
	case errors.Is(err, resolver.ErrNotFound):
		return fuse.ENOENT
	case errors.Is(err, resolver.ErrPermission):
		return fuse.Errno(syscall.EACCES)
	default:
		slog.Error("fsadapter: operation failed", "op", op, "path", path, "err", err)
		return fuse.EIO
	}
}
