package indexer

import (
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/foldfs/foldfs/internal/index"
)

// Options configures one indexing run, matching cmd/foldindex's flags.
type Options struct {
	ArchiveRoot   string
	SQLPath       string
	IDMappingPath string
	Download      bool
	RebuildFiles  bool
	RebuildXref   bool
}

// Build walks ArchiveRoot and/or the UniProt ID-mapping dataset
// according to Options and publishes the results into SQLPath,
// following the build-into-_tmp / drop / rename sequence so no
// partially-built table is ever visible to a concurrent reader.
func Build(opts Options) error {
	if !opts.RebuildFiles && !opts.RebuildXref {
		return fmt.Errorf("indexer: nothing to do: both file-entry and cross-reference rebuild were skipped")
	}

	db, err := sql.Open("sqlite", opts.SQLPath)
	if err != nil {
		return fmt.Errorf("indexer: open %s: %w", opts.SQLPath, err)
	}
	defer db.Close()

	if opts.RebuildFiles {
		if err := buildFiles(db, opts.ArchiveRoot); err != nil {
			return err
		}
	}
	if opts.RebuildXref {
		if err := EnsureIDMapping(opts.IDMappingPath, opts.Download); err != nil {
			return err
		}
		if err := buildCrossrefs(db, opts.IDMappingPath); err != nil {
			return err
		}
	}
	return nil
}

func buildFiles(db *sql.DB, archiveRoot string) error {
	slog.Info("indexer: scanning archive root", "root", archiveRoot)

	if _, err := db.Exec("DROP TABLE IF EXISTS files_tmp"); err != nil {
		return fmt.Errorf("indexer: drop files_tmp: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf(index.DDLFiles, "files_tmp")); err != nil {
		return fmt.Errorf("indexer: create files_tmp: %w", err)
	}

	insert, err := db.Prepare(`INSERT INTO files_tmp(relpath, version, uniprot_id, offset, size, expanded_size, modification_time)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("indexer: prepare insert: %w", err)
	}
	defer insert.Close()

	versionDirs, err := WalkVersionDirs(archiveRoot)
	if err != nil {
		return err
	}
	for _, versionDir := range versionDirs {
		tarFiles, err := WalkTarFiles(archiveRoot, versionDir)
		if err != nil {
			return err
		}
		for _, relpath := range tarFiles {
			slog.Debug("indexer: scanning tar", "relpath", relpath)
			records, err := ScanTar(relpath, filepath.Join(archiveRoot, relpath))
			if err != nil {
				return err
			}
			for _, r := range records {
				if _, err := insert.Exec(r.RelPath, r.Version, r.UniprotID, r.Offset, r.Size, r.ExpandedSize, r.ModTime.Unix()); err != nil {
					return fmt.Errorf("indexer: insert %s/%s: %w", r.RelPath, r.UniprotID, err)
				}
			}
		}
	}

	slog.Info("indexer: building uniprot substring index")
	if _, err := db.Exec("DROP INDEX IF EXISTS uniprot_substr"); err != nil {
		return err
	}
	if _, err := db.Exec(fmt.Sprintf(index.DDLFilesSubstrIndex, "uniprot_substr", "files_tmp")); err != nil {
		return err
	}

	if _, err := db.Exec("DROP TABLE IF EXISTS files"); err != nil {
		return err
	}
	if _, err := db.Exec("ALTER TABLE files_tmp RENAME TO files"); err != nil {
		return err
	}

	slog.Info("indexer: rebuilding versions table")
	if _, err := db.Exec(index.DDLVersions); err != nil {
		return err
	}
	if _, err := db.Exec("DELETE FROM versions"); err != nil {
		return err
	}
	if _, err := db.Exec("INSERT INTO versions(version) SELECT DISTINCT(version) FROM files"); err != nil {
		return err
	}
	return nil
}

func buildCrossrefs(db *sql.DB, idMappingPath string) error {
	slog.Info("indexer: rebuilding PDB cross-reference table")
	if _, err := db.Exec("DROP TABLE IF EXISTS pdb_tmp"); err != nil {
		return err
	}
	if _, err := db.Exec(fmt.Sprintf(index.DDLPDB, "pdb_tmp")); err != nil {
		return err
	}
	insertPDB, err := db.Prepare("INSERT INTO pdb_tmp(uniprot_id, pdb_id) VALUES (?, ?)")
	if err != nil {
		return err
	}
	var pdbInsertErr error
	pdbErr := PDBCrossrefs(idMappingPath, func(c Crossref) bool {
		if _, err := insertPDB.Exec(c.UniprotID, c.OtherID); err != nil {
			pdbInsertErr = err
			return false
		}
		return true
	})
	insertPDB.Close()
	if pdbInsertErr != nil {
		return fmt.Errorf("indexer: insert pdb crossref: %w", pdbInsertErr)
	}
	if pdbErr != nil {
		return pdbErr
	}

	slog.Info("indexer: rebuilding taxonomy cross-reference table")
	if _, err := db.Exec("DROP TABLE IF EXISTS taxonomy_tmp"); err != nil {
		return err
	}
	if _, err := db.Exec(fmt.Sprintf(index.DDLTaxonomy, "taxonomy_tmp")); err != nil {
		return err
	}
	insertTax, err := db.Prepare("INSERT INTO taxonomy_tmp(uniprot_id, taxonomy_id) VALUES (?, ?)")
	if err != nil {
		return err
	}
	var taxInsertErr error
	taxErr := TaxonomyCrossrefs(idMappingPath, func(c Crossref) bool {
		if _, err := insertTax.Exec(c.UniprotID, c.OtherID); err != nil {
			taxInsertErr = err
			return false
		}
		return true
	})
	insertTax.Close()
	if taxInsertErr != nil {
		return fmt.Errorf("indexer: insert taxonomy crossref: %w", taxInsertErr)
	}
	if taxErr != nil {
		return taxErr
	}

	slog.Info("indexer: building cross-reference indices")
	for _, stmt := range []string{
		"DROP INDEX IF EXISTS pdb_index",
		fmt.Sprintf(index.DDLPDBIndex, "pdb_index", "pdb_tmp"),
		"DROP INDEX IF EXISTS pdb_substr",
		fmt.Sprintf(index.DDLPDBSubstrIndex, "pdb_substr", "pdb_tmp"),
		"DROP INDEX IF EXISTS pdb_2level",
		fmt.Sprintf(index.DDLPDBSecondLevel, "pdb_2level", "pdb_tmp"),
		"DROP TABLE IF EXISTS taxonomy_unique_tmp",
		fmt.Sprintf(index.DDLTaxonomyUnique, "taxonomy_unique_tmp"),
		"INSERT INTO taxonomy_unique_tmp(taxonomy_id) SELECT DISTINCT(taxonomy_id) FROM taxonomy_tmp",
		"DROP INDEX IF EXISTS taxon_substr",
		fmt.Sprintf(index.DDLTaxonomyUniqueSubstr, "taxon_substr", "taxonomy_unique_tmp"),
		"DROP INDEX IF EXISTS taxon_index",
		fmt.Sprintf(index.DDLTaxonomyIndex, "taxon_index", "taxonomy_tmp"),
	} {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("indexer: %s: %w", stmt, err)
		}
	}

	slog.Info("indexer: moving cross-reference tables into position")
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS pdb",
		"ALTER TABLE pdb_tmp RENAME TO pdb",
		"DROP TABLE IF EXISTS taxonomy",
		"ALTER TABLE taxonomy_tmp RENAME TO taxonomy",
		"DROP TABLE IF EXISTS taxonomy_unique",
		"ALTER TABLE taxonomy_unique_tmp RENAME TO taxonomy_unique",
	} {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("indexer: %s: %w", stmt, err)
		}
	}
	return nil
}
