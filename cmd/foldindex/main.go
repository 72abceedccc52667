// Command foldindex (re)builds the sqlite index that foldmountd serves
// from. It walks an AlphaFold proteome archive root to populate the
// files table, and the UniProt ID-mapping dataset to populate the pdb
// and taxonomy cross-reference tables, a port of db_builder.py.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/foldfs/foldfs/internal/indexer"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		alphafoldPath string
		sqlFile       string
		download      bool
		noPDB         bool
		noEntry       bool
	)

	cmd := &cobra.Command{
		Use:   "foldindex",
		Short: "Build or refresh the foldfs sqlite index",
		Long: `foldindex scans an AlphaFold proteome archive and the UniProt
ID-mapping dataset and (re)publishes the resulting tables into a
sqlite file, which foldmountd then serves read-only.

Example:
  foldindex -a /data/alphafold -s /data/alphafold.sqlite
  foldindex --no-pdb -s /data/alphafold.sqlite`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if noEntry && noPDB {
				return fmt.Errorf("you have asked to do nothing: specify at most one of --no-entry and --no-pdb")
			}
			return indexer.Build(indexer.Options{
				ArchiveRoot:   alphafoldPath,
				SQLPath:       sqlFile,
				IDMappingPath: idMappingPath(sqlFile),
				Download:      download,
				RebuildFiles:  !noEntry,
				RebuildXref:   !noPDB,
			})
		},
	}

	cmd.Flags().StringVarP(&alphafoldPath, "alphafold-path", "a", "/extra/alphafold/", "Where the source AlphaFold proteomes folder is.")
	cmd.Flags().StringVarP(&sqlFile, "sql-file", "s", "alphafold.sqlite", "Where to store the sqlite file.")
	cmd.Flags().BoolVarP(&download, "download", "d", false, "Force re-download the PDB ID mapping dataset before processing.")
	cmd.Flags().BoolVar(&noPDB, "no-pdb", false, "Don't reload the PDB/taxonomy cross-reference data.")
	cmd.Flags().BoolVar(&noEntry, "no-entry", false, "Don't reload the file location data.")

	return cmd
}

// idMappingPath derives the ID-mapping dataset's on-disk location from
// the sqlite file's directory, so repeated runs reuse the same
// download instead of refetching it into a temp directory each time.
func idMappingPath(sqlFile string) string {
	return sqlFile + ".idmapping.tab.gz"
}
