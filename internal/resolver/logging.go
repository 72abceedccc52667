package resolver

import (
	"context"
	"log/slog"
)

// Dispatcher is the set of operations a virtual filesystem node
// dispatches against a resolved path. Resolver implements it directly;
// Debug wraps another Dispatcher to log every call.
type Dispatcher interface {
	GetAttr(ctx context.Context, path string) (Stat, error)
	ReadDir(ctx context.Context, path string) (DirIter, error)
	Open(ctx context.Context, path string, writable bool) error
	Read(ctx context.Context, path string, size int, offset int64) (data []byte, err error)
}

var _ Dispatcher = (*Resolver)(nil)

// Debug wraps a Dispatcher and logs every dispatched operation at
// slog.Debug -- path, action, size/offset, and outcome -- mirroring
// alphafold_fuse.py's _fake_filesystem_logging wrapper, which logged
// every FUSE callback the same way before handing it to the real
// filesystem. It adds nothing to the dispatch itself; at the default
// log level the extra slog.Debug calls are filtered before formatting.
type Debug struct {
	Dispatcher
}

func (d Debug) GetAttr(ctx context.Context, path string) (Stat, error) {
	st, err := d.Dispatcher.GetAttr(ctx, path)
	slog.Debug("resolver: getattr", "path", path, "size", st.Size, "is_dir", st.IsDir, "err", err)
	return st, err
}

func (d Debug) ReadDir(ctx context.Context, path string) (DirIter, error) {
	it, err := d.Dispatcher.ReadDir(ctx, path)
	slog.Debug("resolver: readdir", "path", path, "err", err)
	return it, err
}

func (d Debug) Open(ctx context.Context, path string, writable bool) error {
	err := d.Dispatcher.Open(ctx, path, writable)
	slog.Debug("resolver: open", "path", path, "writable", writable, "err", err)
	return err
}

func (d Debug) Read(ctx context.Context, path string, size int, offset int64) ([]byte, error) {
	data, err := d.Dispatcher.Read(ctx, path, size, offset)
	slog.Debug("resolver: read", "path", path, "size", size, "offset", offset, "got", len(data), "err", err)
	return data, err
}
