package index

import (
	"context"
	"database/sql"
	"fmt"
	"hash/maphash"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/dgryski/go-tinylfu"
	_ "modernc.org/sqlite"
)

// Store is a read-only handle onto an index database. It is safe for
// concurrent use by multiple goroutines; sqlite serializes writers but
// we never write, so reads proceed concurrently.
type Store struct {
	db *sql.DB

	mu       sync.Mutex // guards identity
	identity *tinylfu.T[identityKey, FileRow]
}

// identityCacheSamples and identityCacheCounters size the "identity"
// cache: the FileRow resolved for a (uniprot_id, version-ceiling)
// lookup, the single hottest query on the read path (every getattr,
// open and read on a uniprot leaf goes through it).
const (
	identityCacheSamples  = 10000
	identityCacheCounters = identityCacheSamples * 10
)

type identityKey struct {
	uniprotID string
	// ceiling is the highest version the caller may see (the version
	// axis the path was resolved under). explicit, when true, pins
	// the lookup to exactly version rather than treating it as a
	// ceiling.
	ceiling  int
	version  int
	explicit bool
}

var identitySeed = maphash.MakeSeed()

func hashIdentityKey(k identityKey) uint64 {
	return maphash.Comparable(identitySeed, k)
}

// Open opens path read-only via modernc.org/sqlite's pure-Go driver.
// The mode=ro query parameter ensures the process can never write to
// the index even if a bug in this package attempted it.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro&_pragma=query_only(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("index: open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("index: open %s: %w", path, err)
	}
	s := &Store{db: db}
	s.identity = tinylfu.New[identityKey, FileRow](
		identityCacheSamples, identityCacheCounters, hashIdentityKey, tinylfu.OnEvict(s.evictIdentity))
	return s, nil
}

func (s *Store) evictIdentity(identityKey, FileRow) {}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Versions returns every dataset version present in the index, in
// ascending order.
func (s *Store) Versions(ctx context.Context) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT version FROM versions ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("index: versions: %w", err)
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("index: versions: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// FileInfo resolves the archive location of uniprotID. When explicit is
// true the lookup is pinned to exactly version (and fails if that exact
// version doesn't exist); otherwise it returns the highest version at
// or below ceiling. Returns (FileRow{}, false, nil) when no matching
// row exists.
func (s *Store) FileInfo(ctx context.Context, uniprotID string, ceiling int, version int, explicit bool) (FileRow, bool, error) {
	key := identityKey{uniprotID: uniprotID, ceiling: ceiling, version: version, explicit: explicit}
	s.mu.Lock()
	row, ok := s.identity.Get(key)
	s.mu.Unlock()
	if ok {
		return row, true, nil
	}

	var (
		query string
		args  []any
	)
	if explicit {
		query = `SELECT relpath, offset, size, expanded_size, modification_time, version
			FROM files WHERE uniprot_id = ? AND version = ?`
		args = []any{uniprotID, version}
	} else {
		query = `SELECT relpath, offset, size, expanded_size, modification_time, max(version) as version
			FROM files WHERE uniprot_id = ? AND version <= ?`
		args = []any{uniprotID, ceiling}
	}

	var (
		relpath      string
		offset       int64
		size         int64
		expandedSize int64
		modUnix      int64
		gotVersion   sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&relpath, &offset, &size, &expandedSize, &modUnix, &gotVersion)
	if err == sql.ErrNoRows || !gotVersion.Valid {
		return FileRow{}, false, nil
	}
	if err != nil {
		return FileRow{}, false, fmt.Errorf("index: file info %s: %w", uniprotID, err)
	}

	fr := FileRow{
		UniprotID:    uniprotID,
		Version:      int(gotVersion.Int64),
		RelPath:      relpath,
		Offset:       offset,
		Size:         size,
		ExpandedSize: expandedSize,
		ModTime:      time.Unix(modUnix, 0).UTC(),
	}
	s.mu.Lock()
	s.identity.Add(key, fr)
	s.mu.Unlock()
	return fr, true, nil
}

// seq2Query runs query with args and yields one UniprotVersion per row,
// where the row's two scanned columns are (uniprot_id, version). Single
// pass, backed directly by the live *sql.Rows cursor: callers that stop
// iterating early leave later rows unread instead of materializing them.
func (s *Store) seq2Query(ctx context.Context, query string, args ...any) iter.Seq2[UniprotVersion, error] {
	return func(yield func(UniprotVersion, error) bool) {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			yield(UniprotVersion{}, fmt.Errorf("index: query: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var uv UniprotVersion
			var version sql.NullInt64
			if err := rows.Scan(&uv.UniprotID, &version); err != nil {
				yield(UniprotVersion{}, fmt.Errorf("index: scan: %w", err))
				return
			}
			uv.Version = int(version.Int64)
			if !yield(uv, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(UniprotVersion{}, fmt.Errorf("index: rows: %w", err))
		}
	}
}

// seq1Query runs query with args and yields one string column per row.
func (s *Store) seq1Query(ctx context.Context, query string, args ...any) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			yield("", fmt.Errorf("index: query: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var v string
			if err := rows.Scan(&v); err != nil {
				yield("", fmt.Errorf("index: scan: %w", err))
				return
			}
			if !yield(v, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield("", fmt.Errorf("index: rows: %w", err))
		}
	}
}

// UniprotsByPrefixBucket lists every uniprot_id whose bucket substring
// (substr(uniprot_id, -3, 2): the two characters just before the ID's
// last character) equals bucket,
// each paired with its highest version at or below ceiling.
func (s *Store) UniprotsByPrefixBucket(ctx context.Context, bucket string, ceiling int) iter.Seq2[UniprotVersion, error] {
	return s.seq2Query(ctx, `SELECT uniprot_id, max(version) as version
		FROM files WHERE substr(uniprot_id, -3, 2) = ? AND version <= ?
		GROUP BY uniprot_id`, bucket, ceiling)
}

// PDBsByBucket lists the distinct pdb_id values whose bucket substring
// equals bucket, restricted to proteins with a file at or below ceiling.
func (s *Store) PDBsByBucket(ctx context.Context, bucket string, ceiling int) iter.Seq2[string, error] {
	return s.seq1Query(ctx, `SELECT DISTINCT pdb.pdb_id
		FROM pdb INNER JOIN files f ON pdb.uniprot_id = f.uniprot_id
		WHERE substr(pdb.pdb_id, -3, 2) = ? AND f.version <= ?`, bucket, ceiling)
}

// PDBSecondLevel lists the distinct second-level bucket characters
// present under firstLevel (the single character forming the top-level
// pdb/<A> directory), restricted to proteins with a file at or below
// ceiling.
func (s *Store) PDBSecondLevel(ctx context.Context, firstLevel string, ceiling int) iter.Seq2[string, error] {
	return s.seq1Query(ctx, `SELECT DISTINCT substr(pdb.pdb_id, -2, 1)
		FROM pdb LEFT JOIN files f ON pdb.uniprot_id = f.uniprot_id
		WHERE substr(pdb.pdb_id, -3, 1) = ? AND f.version <= ?`, firstLevel, ceiling)
}

// TaxonomiesByBucket lists the distinct taxonomy_id values whose bucket
// substring equals bucket, restricted to proteins with a file at or
// below ceiling.
func (s *Store) TaxonomiesByBucket(ctx context.Context, bucket string, ceiling int) iter.Seq2[string, error] {
	return s.seq1Query(ctx, `SELECT DISTINCT taxonomy.taxonomy_id
		FROM taxonomy LEFT JOIN files f ON taxonomy.uniprot_id = f.uniprot_id
		WHERE substr(taxonomy.taxonomy_id, -3, 2) = ? AND f.version <= ?`, bucket, ceiling)
}

// UniprotsForTaxonomy lists every protein cross-referenced to
// taxonomyID, each paired with its highest version at or below ceiling.
func (s *Store) UniprotsForTaxonomy(ctx context.Context, taxonomyID string, ceiling int) iter.Seq2[UniprotVersion, error] {
	return s.seq2Query(ctx, `SELECT taxonomy.uniprot_id, max(files.version) as version
		FROM taxonomy LEFT JOIN files ON taxonomy.uniprot_id = files.uniprot_id
		WHERE taxonomy_id = ? AND files.version <= ?
		GROUP BY taxonomy.uniprot_id`, taxonomyID, ceiling)
}

// UniprotsForPDB lists every protein cross-referenced to pdbID (matched
// case-insensitively, as PDB identifiers are conventionally upper-case),
// each paired with its highest version at or below ceiling.
func (s *Store) UniprotsForPDB(ctx context.Context, pdbID string, ceiling int) iter.Seq2[UniprotVersion, error] {
	return s.seq2Query(ctx, `SELECT pdb.uniprot_id, max(files.version) as version
		FROM pdb LEFT JOIN files ON pdb.uniprot_id = files.uniprot_id
		WHERE pdb_id = ? AND files.version <= ?
		GROUP BY pdb.uniprot_id`, strings.ToUpper(pdbID), ceiling)
}
