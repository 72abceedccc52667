// Package indexer builds the relational index that internal/resolver
// reads at serve time: it walks the archive root, records the location
// of every structure prediction inside every tar file, and derives the
// PDB/taxonomy cross-reference tables from the UniProt ID-mapping
// dataset. A direct port of src/alphafoldfuse/db_builder.py's
// get_files_from_tar and create_or_update_sqlite.
package indexer

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// tarHeaderSize matches internal/archive's own constant: a POSIX tar
// header block precedes every member's payload.
const tarHeaderSize = 512

// isizeThreshold is the compressed-size ceiling below which the
// uncompressed size is read from the gzip ISIZE trailer rather than
// obtained by decompressing the member. Members observed in the
// reference corpus top out under 3 MiB uncompressed, so this almost
// never trips -- it exists as a safety net against a pathological
// member whose size wouldn't fit in the 32-bit ISIZE field.
const isizeThreshold = 4 << 20

// Record is one row destined for the files table.
type Record struct {
	RelPath      string
	Version      int
	UniprotID    string
	Offset       int64
	Size         int64
	ExpandedSize int64
	ModTime      time.Time
}

// WalkVersionDirs lists the archive root's immediate subdirectories,
// each expected to hold one dataset version's tar files.
func WalkVersionDirs(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("indexer: read %s: %w", root, err)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	return dirs, nil
}

// WalkTarFiles lists the .tar files directly inside a version
// directory, each as its path relative to root (the form stored in
// relpath).
func WalkTarFiles(root, versionDir string) ([]string, error) {
	full := filepath.Join(root, versionDir)
	entries, err := os.ReadDir(full)
	if err != nil {
		return nil, fmt.Errorf("indexer: read %s: %w", full, err)
	}
	var rel []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".tar") {
			rel = append(rel, filepath.Join(versionDir, e.Name()))
		}
	}
	return rel, nil
}

// ScanTar walks one tar archive and returns a Record for every member
// matching the AlphaFold predicted-structure naming convention
// (AF-<UNIPROT>-F1-model_v<V>.cif.gz). relpath is the path recorded in
// the index (relative to the archive root); fullPath is where to open
// it from disk.
func ScanTar(relpath, fullPath string) ([]Record, error) {
	f, err := os.Open(fullPath)
	if err != nil {
		return nil, fmt.Errorf("indexer: open %s: %w", fullPath, err)
	}
	defer f.Close()

	cr := &countingReader{r: f}
	tr := tar.NewReader(cr)

	var records []Record
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("indexer: scan %s: %w", fullPath, err)
		}
		// Next() just consumed the previous member's remaining payload
		// and padding plus this member's own 512-byte header through cr,
		// so the header's start is cr.n minus that one header block --
		// not cr.n as it stood before this call.
		offset := cr.n - tarHeaderSize

		uniprotID, version, ok := parseModelName(hdr.Name)
		if !ok {
			continue
		}

		expandedSize, err := memberUncompressedSize(f, tr, offset, hdr.Size)
		if err != nil {
			return nil, fmt.Errorf("indexer: %s member %s: %w", fullPath, hdr.Name, err)
		}

		records = append(records, Record{
			RelPath:      relpath,
			Version:      version,
			UniprotID:    uniprotID,
			Offset:       offset,
			Size:         hdr.Size,
			ExpandedSize: expandedSize,
			ModTime:      hdr.ModTime,
		})
	}
	return records, nil
}

// memberUncompressedSize applies the ISIZE-trailer shortcut for small
// members and falls back to full decompression above isizeThreshold,
// exactly mirroring the indexing policy internal/archive assumes a
// built index already encodes.
func memberUncompressedSize(f *os.File, tr *tar.Reader, offset, size int64) (int64, error) {
	if size > isizeThreshold {
		gzr, err := gzip.NewReader(tr)
		if err != nil {
			return 0, err
		}
		defer gzr.Close()
		n, err := io.Copy(io.Discard, gzr)
		if err != nil {
			return 0, err
		}
		return n, nil
	}

	var trailer [4]byte
	at := offset + tarHeaderSize + size - int64(len(trailer))
	if _, err := f.ReadAt(trailer[:], at); err != nil {
		return 0, err
	}
	isize := uint32(trailer[0]) | uint32(trailer[1])<<8 | uint32(trailer[2])<<16 | uint32(trailer[3])<<24
	return int64(isize), nil
}

// parseModelName extracts the UniProt ID and dataset version from a
// tar member name of the form "AF-<UNIPROT>-F1-model_v<V>.cif.gz".
func parseModelName(name string) (uniprotID string, version int, ok bool) {
	if !strings.HasSuffix(name, ".cif.gz") || !strings.Contains(name, "F1-model") {
		return "", 0, false
	}
	base := strings.TrimSuffix(name, ".cif.gz")
	parts := strings.Split(base, "-")
	if len(parts) != 4 || parts[0] != "AF" || parts[2] != "F1" {
		return "", 0, false
	}

	modelPart := parts[3] // "model_v<V>"
	idx := strings.Index(modelPart, "_v")
	if idx < 0 {
		return "", 0, false
	}
	v, err := strconv.Atoi(modelPart[idx+2:])
	if err != nil || v < 0 {
		return "", 0, false
	}
	return parts[1], v, true
}

// countingReader tracks how many bytes have been consumed from the
// underlying reader, used to recover each tar header's byte offset --
// archive/tar's Reader doesn't expose this itself.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
