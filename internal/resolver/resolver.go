// Package resolver maps a virtual filesystem path onto either a
// directory listing synthesized from the index, or a byte range of a
// decompressed archive member. It is the sole place that understands
// the path grammar; the FUSE adapter (internal/fsadapter) never parses
// a path itself.
package resolver

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"iter"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/foldfs/foldfs/internal/archive"
	"github.com/foldfs/foldfs/internal/index"
)

// Sentinel error kinds. IoError (archive failures) is deliberately not
// a sentinel -- callers never match on it structurally, only log and
// surface it -- so it's left as a plain wrapped error.
var (
	ErrNotFound   = errors.New("not found")
	ErrPermission = errors.New("permission denied")
)

// Stat is the attribute result of GetAttr: enough for a kernel getattr
// callback to build a full stat structure. Mode carries only the
// permission bits (0o555 for directories, 0o444 for files); the
// directory bit itself is IsDir.
type Stat struct {
	IsDir   bool
	Size    int64
	Mode    fs.FileMode
	ModTime time.Time
}

// Entry is one directory entry. Directory entries for files are always
// emitted in the form "<UNIPROT_ID>_v<V>.cif" so a listing is directly
// openable.
type Entry struct {
	Name  string
	IsDir bool
}

// DirIter is a single-pass, lazily-produced sequence of directory
// entries. A non-nil error ends the sequence.
type DirIter = iter.Seq2[Entry, error]

// Resolver answers the four filesystem operations against an index
// and an archive store. It holds no per-request state; the two
// caches live inside the index and archive stores themselves.
type Resolver struct {
	Index      *index.Store
	Archive    *archive.Store
	ReadmePath string
}

const (
	dirMode  fs.FileMode = 0o555
	fileMode fs.FileMode = 0o444
)

const (
	uniprotPDBAlphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	taxonomyRootAlphabet = "123456789"
	taxonomyDeepAlphabet = "0123456789"
)

// GetAttr resolves path and returns its attributes.
func (r *Resolver) GetAttr(ctx context.Context, path string) (st Stat, err error) {
	defer wrapErr("getattr", path, &err)

	n, err := r.parse(path)
	if err != nil {
		return Stat{}, err
	}
	return r.statNode(ctx, n)
}

// ReadDir resolves path and returns a lazy sequence of its entries, or
// an error if path does not name a directory.
func (r *Resolver) ReadDir(ctx context.Context, path string) (it DirIter, err error) {
	defer wrapErr("readdir", path, &err)

	n, err := r.parse(path)
	if err != nil {
		return nil, err
	}
	return r.readDirNode(ctx, n)
}

// Open resolves path and fails unless the access is read-only.
func (r *Resolver) Open(ctx context.Context, path string, writable bool) (err error) {
	defer wrapErr("open", path, &err)

	if writable {
		return ErrPermission
	}
	n, err := r.parse(path)
	if err != nil {
		return err
	}
	_, err = r.statNode(ctx, n)
	return err
}

// Read resolves path and returns up to size bytes of its decompressed
// content starting at offset. Out-of-range reads return an empty slice,
// never an error.
func (r *Resolver) Read(ctx context.Context, path string, size int, offset int64) (data []byte, err error) {
	defer wrapErr("read", path, &err)

	n, err := r.parse(path)
	if err != nil {
		return nil, err
	}

	switch n.kind {
	case kindReadme:
		return r.readReadme(size, offset)
	case kindFile:
		return r.readFile(ctx, n, size, offset)
	default:
		return nil, ErrNotFound
	}
}

func wrapErr(op, path string, err *error) {
	if *err != nil {
		*err = &fs.PathError{Op: op, Path: path, Err: *err}
	}
}

// axis names the three top-level semantic groupings beneath a version.
type axis int

const (
	axisUniprot axis = iota
	axisPDB
	axisTaxonomy
)

// kind names what a parsed path refers to.
type kind int

const (
	kindRoot kind = iota
	kindReadme
	kindVersionDir
	kindAxisDir
	kindBucketADir
	kindBucketABDir
	kindIDDir // a pdb_id or taxonomy_id directory, reached flat or bucketed
	kindFile  // a uniprot leaf, reached directly, nested, flat, or bucketed
)

type node struct {
	kind    kind
	ceiling int
	axis    axis

	bucketA, bucketB string
	id               string // pdb_id / taxonomy_id, for kindIDDir

	uniprotID  string
	version    int
	hasVersion bool
}

func (r *Resolver) parse(path string) (node, error) {
	comps := splitPath(path)

	if len(comps) == 0 {
		return node{kind: kindRoot}, nil
	}
	if len(comps) == 1 && comps[0] == "README.md" {
		return node{kind: kindReadme}, nil
	}

	ceiling, ok := parseVersion(comps[0])
	if !ok {
		return node{}, ErrNotFound
	}
	if len(comps) == 1 {
		return node{kind: kindVersionDir, ceiling: ceiling}, nil
	}

	var ax axis
	switch comps[1] {
	case "uniprot":
		ax = axisUniprot
	case "pdb":
		ax = axisPDB
	case "taxonomy":
		ax = axisTaxonomy
	default:
		return node{}, ErrNotFound
	}

	rest := comps[2:]
	if len(rest) == 0 {
		return node{kind: kindAxisDir, ceiling: ceiling, axis: ax}, nil
	}

	first := rest[0]
	if len(first) == 1 {
		if len(rest) == 1 {
			return node{kind: kindBucketADir, ceiling: ceiling, axis: ax, bucketA: first}, nil
		}
		second := rest[1]
		if len(second) != 1 {
			return node{}, ErrNotFound
		}
		remainder := rest[2:]
		if len(remainder) == 0 {
			return node{kind: kindBucketABDir, ceiling: ceiling, axis: ax, bucketA: first, bucketB: second}, nil
		}
		return resolveIDComponent(ceiling, ax, remainder[0], remainder[1:])
	}

	return resolveIDComponent(ceiling, ax, first, rest[1:])
}

func resolveIDComponent(ceiling int, ax axis, idComp string, afterID []string) (node, error) {
	if ax == axisUniprot {
		if len(afterID) != 0 {
			return node{}, ErrNotFound
		}
		id, version, hasVersion, ok := parseTerminal(idComp)
		if !ok {
			return node{}, ErrNotFound
		}
		return node{kind: kindFile, ceiling: ceiling, uniprotID: id, version: version, hasVersion: hasVersion}, nil
	}

	if ax == axisPDB {
		idComp = strings.ToUpper(idComp)
	}

	switch len(afterID) {
	case 0:
		return node{kind: kindIDDir, ceiling: ceiling, axis: ax, id: idComp}, nil
	case 1:
		id, version, hasVersion, ok := parseTerminal(afterID[0])
		if !ok {
			return node{}, ErrNotFound
		}
		return node{kind: kindFile, ceiling: ceiling, uniprotID: id, version: version, hasVersion: hasVersion}, nil
	default:
		return node{}, ErrNotFound
	}
}

// splitPath splits a virtual path into non-empty components, ignoring
// any leading/trailing slashes.
func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// parseVersion parses a "v<digits>" path component.
func parseVersion(s string) (int, bool) {
	if len(s) < 2 || s[0] != 'v' {
		return 0, false
	}
	n, err := strconv.Atoi(s[1:])
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// parseTerminal parses a file-leaf path component of the form
// "UNIPROT_ID[_v<digits>][.cif]". A malformed version suffix (a "_"
// separator not followed by "v<digits>") is treated as though no
// version suffix were present at all, per the conservative behavior
// this resolver implements for that case.
func parseTerminal(comp string) (id string, version int, hasVersion bool, ok bool) {
	comp = strings.TrimSuffix(comp, ".cif")
	if comp == "" {
		return "", 0, false, false
	}

	idPart, verPart, found := strings.Cut(comp, "_")
	if !found {
		return comp, 0, false, true
	}
	if len(verPart) < 2 || verPart[0] != 'v' {
		return comp, 0, false, true
	}
	n, err := strconv.Atoi(verPart[1:])
	if err != nil || n < 0 {
		return comp, 0, false, true
	}
	return idPart, n, true, true
}

func (r *Resolver) statNode(ctx context.Context, n node) (Stat, error) {
	switch n.kind {
	case kindRoot, kindAxisDir, kindBucketADir, kindBucketABDir, kindIDDir:
		return Stat{IsDir: true, Mode: dirMode}, nil
	case kindVersionDir:
		versions, err := r.Index.Versions(ctx)
		if err != nil {
			return Stat{}, err
		}
		if !slices.Contains(versions, n.ceiling) {
			return Stat{}, ErrNotFound
		}
		return Stat{IsDir: true, Mode: dirMode}, nil
	case kindReadme:
		fi, err := os.Stat(r.ReadmePath)
		if err != nil {
			return Stat{}, ErrNotFound
		}
		return Stat{IsDir: false, Mode: fileMode, Size: fi.Size(), ModTime: fi.ModTime()}, nil
	case kindFile:
		row, ok, err := r.Index.FileInfo(ctx, n.uniprotID, n.ceiling, n.version, n.hasVersion)
		if err != nil {
			return Stat{}, err
		}
		if !ok {
			return Stat{}, ErrNotFound
		}
		return Stat{IsDir: false, Mode: fileMode, Size: row.ExpandedSize, ModTime: row.ModTime}, nil
	default:
		return Stat{}, ErrNotFound
	}
}

func (r *Resolver) readDirNode(ctx context.Context, n node) (DirIter, error) {
	switch n.kind {
	case kindRoot:
		return r.readRoot(ctx), nil
	case kindVersionDir:
		return staticEntries([]string{"uniprot", "pdb", "taxonomy"}, true), nil
	case kindAxisDir:
		if n.axis == axisTaxonomy {
			return staticCharEntries(taxonomyRootAlphabet, true), nil
		}
		return staticCharEntries(uniprotPDBAlphabet, true), nil
	case kindBucketADir:
		return r.readBucketA(ctx, n), nil
	case kindBucketABDir:
		return r.readBucketAB(ctx, n), nil
	case kindIDDir:
		return r.readIDDir(ctx, n), nil
	default:
		return nil, ErrNotFound
	}
}

func (r *Resolver) readRoot(ctx context.Context) DirIter {
	return func(yield func(Entry, error) bool) {
		versions, err := r.Index.Versions(ctx)
		if err != nil {
			yield(Entry{}, err)
			return
		}
		for _, v := range versions {
			if !yield(Entry{Name: "v" + strconv.Itoa(v), IsDir: true}, nil) {
				return
			}
		}
		yield(Entry{Name: "README.md", IsDir: false}, nil)
	}
}

func (r *Resolver) readBucketA(ctx context.Context, n node) DirIter {
	if n.axis == axisPDB {
		return mapStringSeq(r.Index.PDBSecondLevel(ctx, n.bucketA, n.ceiling), true)
	}
	if n.axis == axisTaxonomy {
		return staticCharEntries(taxonomyDeepAlphabet, true)
	}
	return staticCharEntries(uniprotPDBAlphabet, true)
}

func (r *Resolver) readBucketAB(ctx context.Context, n node) DirIter {
	bucket := n.bucketA + n.bucketB
	switch n.axis {
	case axisUniprot:
		return mapUniprotVersionSeq(r.Index.UniprotsByPrefixBucket(ctx, bucket, n.ceiling))
	case axisPDB:
		return mapStringSeq(r.Index.PDBsByBucket(ctx, bucket, n.ceiling), true)
	default:
		return mapStringSeq(r.Index.TaxonomiesByBucket(ctx, bucket, n.ceiling), true)
	}
}

func (r *Resolver) readIDDir(ctx context.Context, n node) DirIter {
	if n.axis == axisPDB {
		return mapUniprotVersionSeq(r.Index.UniprotsForPDB(ctx, n.id, n.ceiling))
	}
	return mapUniprotVersionSeq(r.Index.UniprotsForTaxonomy(ctx, n.id, n.ceiling))
}

// mapUniprotVersionSeq turns a sequence of (uniprot_id, version) pairs
// into directory entries named "<uniprot_id>_v<version>.cif".
func mapUniprotVersionSeq(src iter.Seq2[index.UniprotVersion, error]) DirIter {
	return func(yield func(Entry, error) bool) {
		for uv, err := range src {
			if err != nil {
				yield(Entry{}, err)
				return
			}
			name := uv.UniprotID + "_v" + strconv.Itoa(uv.Version) + ".cif"
			if !yield(Entry{Name: name, IsDir: false}, nil) {
				return
			}
		}
	}
}

// mapStringSeq turns a sequence of plain identifier strings into
// directory entries.
func mapStringSeq(src iter.Seq2[string, error], isDir bool) DirIter {
	return func(yield func(Entry, error) bool) {
		for v, err := range src {
			if err != nil {
				yield(Entry{}, err)
				return
			}
			if !yield(Entry{Name: v, IsDir: isDir}, nil) {
				return
			}
		}
	}
}

func staticEntries(names []string, isDir bool) DirIter {
	return func(yield func(Entry, error) bool) {
		for _, name := range names {
			if !yield(Entry{Name: name, IsDir: isDir}, nil) {
				return
			}
		}
	}
}

func staticCharEntries(alphabet string, isDir bool) DirIter {
	return func(yield func(Entry, error) bool) {
		for _, c := range alphabet {
			if !yield(Entry{Name: string(c), IsDir: isDir}, nil) {
				return
			}
		}
	}
}

func (r *Resolver) readReadme(size int, offset int64) ([]byte, error) {
	data, err := os.ReadFile(r.ReadmePath)
	if err != nil {
		return nil, ErrNotFound
	}
	return sliceAt(data, size, offset), nil
}

func (r *Resolver) readFile(ctx context.Context, n node, size int, offset int64) ([]byte, error) {
	row, ok, err := r.Index.FileInfo(ctx, n.uniprotID, n.ceiling, n.version, n.hasVersion)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}

	loc := archive.Location{
		UniprotID:    row.UniprotID,
		Version:      row.Version,
		RelPath:      row.RelPath,
		HeaderOffset: row.Offset,
		Size:         row.Size,
	}
	buf := make([]byte, size)
	n2, readErr := r.Archive.Read(loc, buf, offset)
	if readErr != nil && readErr != io.EOF {
		return nil, readErr
	}
	return buf[:n2], nil
}

// sliceAt returns up to size bytes of data starting at offset,
// clamping to the end of data; out-of-range offsets return nil.
func sliceAt(data []byte, size int, offset int64) []byte {
	if offset < 0 || offset >= int64(len(data)) {
		return nil
	}
	end := offset + int64(size)
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	return data[offset:end]
}
