package indexer

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"net/http"
	"os"
	"strings"
)

// idMappingURL is the UniProt ID-mapping dataset's canonical location;
// columns 0 (uniprot), 5 (semicolon-separated "CODE:chain" PDB
// references), and 12 (taxonomy ID) are the only ones this indexer
// reads.
const idMappingURL = "https://ftp.uniprot.org/pub/databases/uniprot/current_release/knowledgebase/idmapping/idmapping_selected.tab.gz"

// Crossref is one (uniprot_id, other_id) pair, destined for either the
// pdb or taxonomy table depending on which mapping function produced
// it.
type Crossref struct {
	UniprotID string
	OtherID   string
}

// EnsureIDMapping downloads the ID-mapping file to path if it's
// missing, or unconditionally when download is true -- matching the
// prototype's "redownload only by explicit request or missing local
// file" rule.
func EnsureIDMapping(path string, download bool) error {
	if !download {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
	}

	resp, err := http.Get(idMappingURL)
	if err != nil {
		return fmt.Errorf("indexer: download id mapping: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("indexer: download id mapping: unexpected status %s", resp.Status)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("indexer: create %s: %w", tmp, err)
	}
	if _, err := f.ReadFrom(resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("indexer: write %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("indexer: close %s: %w", tmp, err)
	}
	return os.Rename(tmp, path)
}

// PDBCrossrefs streams (uniprot_id, pdb_id) pairs out of the
// ID-mapping file at path, one per PDB code a protein cross-references
// (column 5 may list several, each "CODE:chain").
func PDBCrossrefs(path string, yield func(Crossref) bool) error {
	return scanIDMapping(path, func(fields []string) bool {
		if len(fields) <= 5 {
			return true
		}
		seen := make(map[string]bool)
		for _, entry := range strings.Split(fields[5], "; ") {
			entry = strings.TrimSpace(entry)
			if entry == "" {
				continue
			}
			code, _, _ := strings.Cut(entry, ":")
			if code == "" || seen[code] {
				continue
			}
			seen[code] = true
			if !yield(Crossref{UniprotID: fields[0], OtherID: code}) {
				return false
			}
		}
		return true
	})
}

// TaxonomyCrossrefs streams (uniprot_id, taxonomy_id) pairs out of the
// ID-mapping file at path (column 12).
func TaxonomyCrossrefs(path string, yield func(Crossref) bool) error {
	return scanIDMapping(path, func(fields []string) bool {
		if len(fields) <= 12 {
			return true
		}
		return yield(Crossref{UniprotID: fields[0], OtherID: fields[12]})
	})
}

func scanIDMapping(path string, handle func(fields []string) bool) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("indexer: open %s: %w", path, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("indexer: gzip %s: %w", path, err)
	}
	defer gz.Close()

	sc := bufio.NewScanner(gz)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		fields := strings.Split(sc.Text(), "\t")
		if !handle(fields) {
			break
		}
	}
	return sc.Err()
}
