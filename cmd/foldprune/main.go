// Command foldprune keeps a foldmountd mountpoint out of updatedb's
// scan by adding it to /etc/updatedb.conf's PRUNEPATHS. A port of
// update_updatedb.py.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/foldfs/foldfs/internal/locatedb"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "foldprune <mountpoint>",
		Short: "Add a foldmountd mountpoint to updatedb's PRUNEPATHS",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return locatedb.AddPruneDir(configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "update-config", "e", "/etc/updatedb.conf", "updatedb configuration file to edit.")
	return cmd
}
