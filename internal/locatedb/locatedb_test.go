package locatedb

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAddPruneDirIsNoOpWhenConfigMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "updatedb.conf")
	if err := AddPruneDir(path, "/mnt/alphafold"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("expected no file to be created")
	}
}

func TestAddPruneDirInsertsMountpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "updatedb.conf")
	original := "PRUNE_BIND_MOUNTS=\"yes\"\nPRUNEPATHS=\"/tmp /var/spool\"\nPRUNEFS=\"NFS nfs\"\n"
	if err := os.WriteFile(path, []byte(original), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := AddPruneDir(path, "/mnt/alphafold"); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := "PRUNE_BIND_MOUNTS=\"yes\"\nPRUNEPATHS=\"/tmp /var/spool /mnt/alphafold\"\nPRUNEFS=\"NFS nfs\"\n"
	if string(got) != want {
		t.Fatalf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestAddPruneDirIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "updatedb.conf")
	original := "PRUNEPATHS=\"/tmp /mnt/alphafold\"\n"
	if err := os.WriteFile(path, []byte(original), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := AddPruneDir(path, "/mnt/alphafold"); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != original {
		t.Fatalf("expected no change, got %q", got)
	}
}

func TestAddPruneDirErrorsWhenNoPrunePathsLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "updatedb.conf")
	if err := os.WriteFile(path, []byte("PRUNEFS=\"NFS\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	err := AddPruneDir(path, "/mnt/alphafold")
	if err == nil || !strings.Contains(err.Error(), "PRUNEPATHS not found") {
		t.Fatalf("err = %v, want PRUNEPATHS not found error", err)
	}
}
