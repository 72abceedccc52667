// Package index wraps read-only access to the relational index that
// backs the virtual filesystem: one row per (protein, dataset version)
// pointing at the archive member holding its predicted structure, plus
// the PDB and taxonomy cross-reference tables.
//
// The schema and every query here are a direct port of the SQLReader
// class in the original alphafold_fuse prototype.
package index

import "time"

// FileRow is one row of the files table: the archive location of a
// single (uniprot_id, version) structure prediction.
type FileRow struct {
	UniprotID    string
	Version      int
	RelPath      string
	Offset       int64
	Size         int64
	ExpandedSize int64
	ModTime      time.Time
}

// UniprotVersion names a protein together with the highest dataset
// version at or below some ceiling for which it has a row in files.
// Returned by every query that walks a cross-reference or bucket listing.
type UniprotVersion struct {
	UniprotID string
	Version   int
}

// Table and index DDL, used by the Indexer (internal/indexer) to build
// the store described here. Kept alongside the read path so the two
// never drift apart.
const (
	DDLFiles = `CREATE TABLE %s (
		relpath text,
		version int,
		uniprot_id text,
		offset numeric,
		size numeric,
		expanded_size numeric,
		modification_time numeric,
		PRIMARY KEY(uniprot_id, version)
	) WITHOUT ROWID`

	DDLFilesSubstrIndex = `CREATE INDEX %s ON %s(substr(uniprot_id, -3, 2))`

	DDLVersions = `CREATE TABLE IF NOT EXISTS versions (version int)`

	DDLPDB = `CREATE TABLE %s (
		uniprot_id text,
		pdb_id text,
		PRIMARY KEY (uniprot_id, pdb_id)
	) WITHOUT ROWID`

	DDLPDBIndex       = `CREATE INDEX %s ON %s(pdb_id)`
	DDLPDBSubstrIndex = `CREATE INDEX %s ON %s(substr(pdb_id, -3, 2))`
	DDLPDBSecondLevel = `CREATE INDEX %s ON %s(substr(pdb_id, -3, 1))`

	DDLTaxonomy       = `CREATE TABLE %s (
		uniprot_id text,
		taxonomy_id text,
		PRIMARY KEY (uniprot_id, taxonomy_id)
	) WITHOUT ROWID`
	DDLTaxonomyIndex = `CREATE INDEX %s ON %s(taxonomy_id)`

	DDLTaxonomyUnique       = `CREATE TABLE %s (taxonomy_id text PRIMARY KEY) WITHOUT ROWID`
	DDLTaxonomyUniqueSubstr = `CREATE INDEX %s ON %s(substr(taxonomy_id, -3, 2))`
)
