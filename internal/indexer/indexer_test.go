package indexer

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/foldfs/foldfs/internal/archive"

	_ "modernc.org/sqlite"
)

// writeMember writes one gzip member to tw and returns its compressed
// size, so callers can independently derive where the next header
// must land (512-byte-aligned: header + payload rounded up to 512).
func writeMember(t *testing.T, tw *tar.Writer, name string, payload []byte) int64 {
	t.Helper()
	var gz bytes.Buffer
	gw := gzip.NewWriter(&gz)
	if _, err := gw.Write(payload); err != nil {
		t.Fatal(err)
	}
	if err := gw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := tw.WriteHeader(&tar.Header{Name: name, Size: int64(gz.Len()), Mode: 0o644}); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write(gz.Bytes()); err != nil {
		t.Fatal(err)
	}
	return int64(gz.Len())
}

// paddedTarBlockSize rounds n up to the next 512-byte boundary, the
// block size every tar header and payload is padded to.
func paddedTarBlockSize(n int64) int64 {
	const block = 512
	if rem := n % block; rem != 0 {
		n += block - rem
	}
	return n
}

// fixtureOffsets is populated by buildFixtureArchive with the true,
// independently-computed header offset of each member it wrote, so
// tests can assert ScanTar's Offset against ground truth rather than
// merely checking that two offsets differ.
type fixtureOffsets struct {
	p12345, q9xyz1 int64
}

func buildFixtureArchive(t *testing.T) (string, fixtureOffsets) {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "v3"), 0o755); err != nil {
		t.Fatal(err)
	}

	tarPath := filepath.Join(root, "v3", "proteome-tax_id-9606-0_v3.tar")
	tf, err := os.Create(tarPath)
	if err != nil {
		t.Fatal(err)
	}
	tw := tar.NewWriter(tf)

	const headerSize = 512
	var offsets fixtureOffsets

	offsets.p12345 = 0
	pCompressed := writeMember(t, tw, "AF-P12345-F1-model_v3.cif.gz", bytes.Repeat([]byte("one\n"), 50))

	offsets.q9xyz1 = offsets.p12345 + headerSize + paddedTarBlockSize(pCompressed)
	writeMember(t, tw, "AF-Q9XYZ1-F1-model_v3.cif.gz", bytes.Repeat([]byte("two\n"), 80))

	writeMember(t, tw, "README.txt", []byte("not a model"))

	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := tf.Close(); err != nil {
		t.Fatal(err)
	}
	return root, offsets
}

func TestParseModelName(t *testing.T) {
	cases := []struct {
		name      string
		wantID    string
		wantVer   int
		wantMatch bool
	}{
		{"AF-P12345-F1-model_v4.cif.gz", "P12345", 4, true},
		{"AF-A0A1Q1MKJ4-F1-model_v3.cif.gz", "A0A1Q1MKJ4", 3, true},
		{"README.txt", "", 0, false},
		{"AF-P12345-F1-model_v4.pdb.gz", "", 0, false},
		{"AF-P12345-F2-model_v4.cif.gz", "", 0, false},
	}
	for _, c := range cases {
		id, ver, ok := parseModelName(c.name)
		if ok != c.wantMatch || (ok && (id != c.wantID || ver != c.wantVer)) {
			t.Errorf("parseModelName(%q) = (%q, %d, %v), want (%q, %d, %v)", c.name, id, ver, ok, c.wantID, c.wantVer, c.wantMatch)
		}
	}
}

func TestScanTarRecordsMembersAndSkipsNonModelEntries(t *testing.T) {
	root, offsets := buildFixtureArchive(t)
	relpath := filepath.Join("v3", "proteome-tax_id-9606-0_v3.tar")
	records, err := ScanTar(relpath, filepath.Join(root, relpath))
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("len(records) = %d, want 2", len(records))
	}

	byID := map[string]Record{}
	for _, r := range records {
		byID[r.UniprotID] = r
	}

	p, ok := byID["P12345"]
	if !ok {
		t.Fatal("missing P12345 record")
	}
	if p.Version != 3 {
		t.Fatalf("P12345 version = %d, want 3", p.Version)
	}
	if p.ExpandedSize != int64(len(bytes.Repeat([]byte("one\n"), 50))) {
		t.Fatalf("P12345 expanded size = %d, want %d", p.ExpandedSize, len(bytes.Repeat([]byte("one\n"), 50)))
	}
	if p.RelPath != relpath {
		t.Fatalf("P12345 relpath = %q, want %q", p.RelPath, relpath)
	}
	if p.Offset != offsets.p12345 {
		t.Fatalf("P12345 offset = %d, want %d (the first member, at the start of the archive)", p.Offset, offsets.p12345)
	}

	q, ok := byID["Q9XYZ1"]
	if !ok {
		t.Fatal("missing Q9XYZ1 record")
	}
	if q.Offset != offsets.q9xyz1 {
		t.Fatalf("Q9XYZ1 offset = %d, want %d (the second member's own header, not P12345's payload start)", q.Offset, offsets.q9xyz1)
	}
	if q.Offset == p.Offset {
		t.Fatal("expected distinct offsets for distinct members")
	}

	// Round-trip the second member's location through the archive
	// store: a wrong header offset would seek into the wrong region of
	// the tar and either fail to gzip-decode or silently yield P12345's
	// bytes instead of Q9XYZ1's.
	store := archive.New(root)
	loc := toLocation(q)
	buf := make([]byte, int(q.ExpandedSize))
	n, err := store.Read(loc, buf, 0)
	if err != nil {
		t.Fatal(err)
	}
	want := bytes.Repeat([]byte("two\n"), 80)
	if n != len(want) || !bytes.Equal(buf[:n], want) {
		t.Fatalf("archive.Store.Read(Q9XYZ1 location) = %q, want %q", buf[:n], want)
	}
}

func toLocation(r Record) archive.Location {
	return archive.Location{
		UniprotID:    r.UniprotID,
		Version:      r.Version,
		RelPath:      r.RelPath,
		HeaderOffset: r.Offset,
		Size:         r.Size,
	}
}

func TestWalkVersionDirsAndTarFiles(t *testing.T) {
	root, _ := buildFixtureArchive(t)
	dirs, err := WalkVersionDirs(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(dirs) != 1 || dirs[0] != "v3" {
		t.Fatalf("WalkVersionDirs = %v, want [v3]", dirs)
	}

	tars, err := WalkTarFiles(root, "v3")
	if err != nil {
		t.Fatal(err)
	}
	if len(tars) != 1 || tars[0] != filepath.Join("v3", "proteome-tax_id-9606-0_v3.tar") {
		t.Fatalf("WalkTarFiles = %v", tars)
	}
}

func buildFixtureIDMapping(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "idmapping_selected.tab.gz")

	lines := []string{
		"P12345\tGeneA\t\t\t\t1ABC:A; 1ABC:B; 2XYZ:A\t\t\t\t\t\t\t9606",
		"Q9XYZ1\tGeneB\t\t\t\t\t\t\t\t\t\t\t10090",
	}
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	for _, l := range lines {
		if _, err := gw.Write([]byte(l + "\n")); err != nil {
			t.Fatal(err)
		}
	}
	if err := gw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestPDBCrossrefsDedupesCodesPerLine(t *testing.T) {
	path := buildFixtureIDMapping(t)
	var got []Crossref
	if err := PDBCrossrefs(path, func(c Crossref) bool {
		got = append(got, c)
		return true
	}); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2 (1ABC deduped, 2XYZ once)", len(got))
	}
	if got[0].UniprotID != "P12345" || got[0].OtherID != "1ABC" {
		t.Fatalf("got[0] = %+v", got[0])
	}
	if got[1].OtherID != "2XYZ" {
		t.Fatalf("got[1] = %+v", got[1])
	}
}

func TestTaxonomyCrossrefs(t *testing.T) {
	path := buildFixtureIDMapping(t)
	var got []Crossref
	if err := TaxonomyCrossrefs(path, func(c Crossref) bool {
		got = append(got, c)
		return true
	}); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
	if got[0].UniprotID != "P12345" || got[0].OtherID != "9606" {
		t.Fatalf("got[0] = %+v", got[0])
	}
	if got[1].UniprotID != "Q9XYZ1" || got[1].OtherID != "10090" {
		t.Fatalf("got[1] = %+v", got[1])
	}
}

func TestEnsureIDMappingSkipsExistingFileWithoutDownload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "idmapping_selected.tab.gz")
	if err := os.WriteFile(path, []byte("already here"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := EnsureIDMapping(path, false); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "already here" {
		t.Fatal("EnsureIDMapping overwrote an existing file without --download")
	}
}

func TestBuildRejectsNothingToDoRequest(t *testing.T) {
	dir := t.TempDir()
	err := Build(Options{SQLPath: filepath.Join(dir, "index.sqlite")})
	if err == nil {
		t.Fatal("expected an error when neither RebuildFiles nor RebuildXref is requested")
	}
}

func TestBuildPublishesFilesAndCrossrefsAtomically(t *testing.T) {
	archiveRoot, _ := buildFixtureArchive(t)
	idMappingPath := buildFixtureIDMapping(t)
	sqlPath := filepath.Join(t.TempDir(), "index.sqlite")

	err := Build(Options{
		ArchiveRoot:   archiveRoot,
		SQLPath:       sqlPath,
		IDMappingPath: idMappingPath,
		RebuildFiles:  true,
		RebuildXref:   true,
	})
	if err != nil {
		t.Fatal(err)
	}

	db, err := sql.Open("sqlite", sqlPath)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	var fileCount int
	if err := db.QueryRow("SELECT count(*) FROM files").Scan(&fileCount); err != nil {
		t.Fatal(err)
	}
	if fileCount != 2 {
		t.Fatalf("files count = %d, want 2", fileCount)
	}

	var versionCount int
	if err := db.QueryRow("SELECT count(*) FROM versions").Scan(&versionCount); err != nil {
		t.Fatal(err)
	}
	if versionCount != 1 {
		t.Fatalf("versions count = %d, want 1", versionCount)
	}

	var pdbCount int
	if err := db.QueryRow("SELECT count(*) FROM pdb").Scan(&pdbCount); err != nil {
		t.Fatal(err)
	}
	if pdbCount != 2 {
		t.Fatalf("pdb count = %d, want 2", pdbCount)
	}

	var taxCount int
	if err := db.QueryRow("SELECT count(*) FROM taxonomy").Scan(&taxCount); err != nil {
		t.Fatal(err)
	}
	if taxCount != 2 {
		t.Fatalf("taxonomy count = %d, want 2", taxCount)
	}

	var taxUniqueCount int
	if err := db.QueryRow("SELECT count(*) FROM taxonomy_unique").Scan(&taxUniqueCount); err != nil {
		t.Fatal(err)
	}
	if taxUniqueCount != 2 {
		t.Fatalf("taxonomy_unique count = %d, want 2", taxUniqueCount)
	}

	// No _tmp leftovers once the build has published its tables.
	for _, tbl := range []string{"files_tmp", "pdb_tmp", "taxonomy_tmp", "taxonomy_unique_tmp"} {
		var n int
		row := db.QueryRow("SELECT count(*) FROM sqlite_master WHERE type='table' AND name=?", tbl)
		if err := row.Scan(&n); err != nil {
			t.Fatal(err)
		}
		if n != 0 {
			t.Fatalf("leftover temp table %s after Build", tbl)
		}
	}
}
