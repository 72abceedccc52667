// Package archive decompresses the gzip-compressed structure prediction
// held inside a POSIX tar archive member, given the (archive-relative
// path, header offset, compressed size) triple the index resolved.
//
// Every member is decompressed whole, never by partial range: tar
// members already sit back-to-back on disk in 512-byte-aligned blocks,
// and the predictions themselves are small enough (low hundreds of KB)
// that streaming a sub-range buys nothing a small MRU cache of whole
// decoded buffers doesn't already give for free.
package archive

import (
	"compress/gzip"
	"fmt"
	"hash/maphash"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/dgryski/go-tinylfu"

	"github.com/foldfs/foldfs/internal/sectionreader"
)

// tarHeaderSize is the size of a POSIX tar header block; the index
// stores the header's offset, so a member's payload begins 512 bytes
// past it.
const tarHeaderSize = 512

// isizeThreshold is the compressed-size ceiling under which Size
// reads the gzip ISIZE trailer instead of decompressing the member to
// measure it. Matches the Indexer's own threshold (internal/indexer),
// so a size reported by one path always agrees with the other.
const isizeThreshold = 4 << 20

// Store opens and decompresses archive members beneath root, a
// directory holding one tar file per relpath recorded in the index.
// It caches decoded payloads by (uniprotID, version) so that repeated
// reads of the same prediction -- the common case, since FUSE issues
// many small Read calls per Open -- pay the decompression cost once.
type Store struct {
	root string

	mu     sync.Mutex
	decode *tinylfu.T[decodeKey, []byte]
}

// decodeCacheSamples bounds the decode cache at roughly fifty decoded
// members resident at once: large enough to cover a directory's worth
// of structures being read back to back, small enough that a worst-case
// resident set (50 * a few hundred KB) stays well under a GB.
const (
	decodeCacheSamples  = 50
	decodeCacheCounters = decodeCacheSamples * 10
)

type decodeKey struct {
	uniprotID string
	version   int
}

var decodeSeed = maphash.MakeSeed()

func hashDecodeKey(k decodeKey) uint64 {
	return maphash.Comparable(decodeSeed, k)
}

// New returns a Store rooted at root, the directory passed to
// foldmountd/foldindex as the corpus location.
func New(root string) *Store {
	s := &Store{root: root}
	s.decode = tinylfu.New[decodeKey, []byte](
		decodeCacheSamples, decodeCacheCounters, hashDecodeKey, tinylfu.OnEvict(s.evictDecode))
	return s
}

func (s *Store) evictDecode(decodeKey, []byte) {}

// Location names where a structure prediction's gzip member sits: the
// archive-relative path to the tar file, the tar header's offset
// within it, and the compressed member size.
type Location struct {
	UniprotID    string
	Version      int
	RelPath      string
	HeaderOffset int64
	Size         int64
}

// Read decompresses the member described by loc (using the cache when
// possible) and returns up to len(p) bytes starting at offset into the
// decompressed payload, exactly like io.ReaderAt.ReadAt -- including
// returning io.EOF whenever fewer than len(p) bytes remain from offset.
func (s *Store) Read(loc Location, p []byte, offset int64) (int, error) {
	buf, err := s.decompress(loc)
	if err != nil {
		return 0, err
	}
	if offset >= int64(len(buf)) {
		return 0, io.EOF
	}
	n := copy(p, buf[offset:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Size returns the decompressed size of the member described by loc.
// For members whose compressed size is within isizeThreshold it reads
// the four-byte gzip ISIZE trailer directly rather than decompressing;
// larger members are decompressed (and the result cached, so a
// following Read doesn't pay twice).
func (s *Store) Size(loc Location) (int64, error) {
	key := decodeKey{loc.UniprotID, loc.Version}
	s.mu.Lock()
	buf, ok := s.decode.Get(key)
	s.mu.Unlock()
	if ok {
		return int64(len(buf)), nil
	}

	if loc.Size > isizeThreshold {
		buf, err := s.decompress(loc)
		if err != nil {
			return 0, err
		}
		return int64(len(buf)), nil
	}

	f, err := os.Open(s.path(loc.RelPath))
	if err != nil {
		return 0, fmt.Errorf("archive: open %s: %w", loc.RelPath, err)
	}
	defer f.Close()

	var trailer [4]byte
	// The last four bytes of a gzip stream hold ISIZE, the
	// uncompressed size modulo 2^32 -- exact for every prediction in
	// this corpus, which is always far smaller than 4 GiB.
	at := loc.HeaderOffset + tarHeaderSize + loc.Size - int64(len(trailer))
	if _, err := f.ReadAt(trailer[:], at); err != nil {
		return 0, fmt.Errorf("archive: read isize trailer for %s: %w", loc.RelPath, err)
	}
	isize := uint32(trailer[0]) | uint32(trailer[1])<<8 | uint32(trailer[2])<<16 | uint32(trailer[3])<<24
	return int64(isize), nil
}

func (s *Store) decompress(loc Location) ([]byte, error) {
	key := decodeKey{loc.UniprotID, loc.Version}
	s.mu.Lock()
	cached, ok := s.decode.Get(key)
	s.mu.Unlock()
	if ok {
		return cached, nil
	}

	f, err := os.Open(s.path(loc.RelPath))
	if err != nil {
		return nil, fmt.Errorf("archive: open %s: %w", loc.RelPath, err)
	}
	defer f.Close()

	section := sectionreader.Section(f, loc.HeaderOffset+tarHeaderSize, loc.Size)
	gzr, err := gzip.NewReader(io.NewSectionReader(section, 0, section.Size()))
	if err != nil {
		return nil, fmt.Errorf("archive: gzip reader for %s (%s offset %d): %w",
			loc.UniprotID, loc.RelPath, loc.HeaderOffset, err)
	}
	defer gzr.Close()

	buf, err := io.ReadAll(gzr)
	if err != nil {
		return nil, fmt.Errorf("archive: decompress %s (%s offset %d): %w",
			loc.UniprotID, loc.RelPath, loc.HeaderOffset, err)
	}

	s.mu.Lock()
	s.decode.Add(key, buf)
	s.mu.Unlock()
	return buf, nil
}

func (s *Store) path(relpath string) string {
	return filepath.Join(s.root, relpath)
}
