// Command foldmountd mounts the AlphaFold archive corpus as a
// read-only FUSE filesystem, serving structure predictions straight
// out of their tar archives without ever extracting them to disk. A
// port of alphafold_fuse.py's AlphaFoldFS.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"bazil.org/fuse"
	bazilfs "bazil.org/fuse/fs"
	"github.com/spf13/cobra"

	"github.com/foldfs/foldfs/internal/archive"
	"github.com/foldfs/foldfs/internal/fsadapter"
	"github.com/foldfs/foldfs/internal/index"
	"github.com/foldfs/foldfs/internal/resolver"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		alphafoldDir string
		sqlPath      string
		readmePath   string
		allowOther   bool
		debug        bool
	)

	cmd := &cobra.Command{
		Use:   "foldmountd <mountpoint>",
		Short: "Mount the AlphaFold archive corpus read-only over FUSE",
		Long: `foldmountd serves a virtual /<version>/{uniprot,pdb,taxonomy}/...
tree, backed by the tar archives under --alphafold-dir and indexed by
the sqlite file at --sql-file.

Example:
  foldmountd -a /extra/alphafold -s /extra/alphafold/alphafold.sqlite /mnt/alphafold`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0], alphafoldDir, sqlPath, readmePath, allowOther, debug)
		},
	}

	cmd.Flags().StringVarP(&alphafoldDir, "alphafold-dir", "a", "/extra/alphafold/", "Source of AlphaFold tar files.")
	cmd.Flags().StringVarP(&sqlPath, "sql-file", "s", "/extra/alphafold/alphafold.sqlite", "Where to load metadata from.")
	cmd.Flags().StringVar(&readmePath, "readme", "/extra/alphafold/README.md", "File served as /README.md.")
	cmd.Flags().BoolVar(&allowOther, "allow-other", false, "Allow other users to access the mount.")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Log every dispatched filesystem operation at debug level.")

	return cmd
}

func run(mountpoint, alphafoldDir, sqlPath, readmePath string, allowOther, debug bool) error {
	idx, err := index.Open(sqlPath)
	if err != nil {
		return fmt.Errorf("foldmountd: %w", err)
	}
	defer idx.Close()

	var res resolver.Dispatcher = &resolver.Resolver{
		Index:      idx,
		Archive:    archive.New(alphafoldDir),
		ReadmePath: readmePath,
	}
	if debug {
		slog.SetLogLoggerLevel(slog.LevelDebug)
		res = resolver.Debug{Dispatcher: res}
	}
	fsys := &fsadapter.FS{Resolver: res}

	opts := []fuse.MountOption{
		fuse.FSName("foldfs"),
		fuse.Subtype("foldfs"),
		fuse.ReadOnly(),
	}
	if allowOther {
		opts = append(opts, fuse.AllowOther())
	}

	conn, err := fuse.Mount(mountpoint, opts...)
	if err != nil {
		return fmt.Errorf("foldmountd: mount %s: %w", mountpoint, err)
	}
	defer conn.Close()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		slog.Info("foldmountd: unmounting", "mountpoint", mountpoint)
		_ = fuse.Unmount(mountpoint)
	}()

	slog.Info("foldmountd: serving", "mountpoint", mountpoint, "alphafold_dir", alphafoldDir, "sql_file", sqlPath)
	if err := bazilfs.Serve(conn, fsys); err != nil {
		return fmt.Errorf("foldmountd: serve: %w", err)
	}

	<-conn.Ready
	if err := conn.MountError; err != nil {
		return fmt.Errorf("foldmountd: %w", err)
	}
	return nil
}
