// Command foldmountctl inspects and tears down a foldmountd mount from
// outside the filesystem process itself. A port of mountcontrol.py.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/foldfs/foldfs/internal/mountctl"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "foldmountctl",
		Short: "Query or tear down a foldmountd mountpoint",
	}

	root.AddCommand(
		newQueryCmd(),
		newUmountCmd(),
		newForceUnmountCmd(),
	)
	return root
}

func newQueryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "query <mountpoint>",
		Short: "Display the mountpoint's current state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := mountctl.New(args[0])
			if err != nil {
				return err
			}
			desc, err := c.Query()
			if err != nil {
				return err
			}
			fmt.Println(desc)
			return nil
		},
	}
}

func newUmountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "umount <mountpoint>",
		Short: "Attempt to unmount the mountpoint gracefully",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := mountctl.New(args[0])
			if err != nil {
				return err
			}
			if err := c.Umount(); err != nil {
				return fmt.Errorf("foldmountctl: %w", err)
			}
			return nil
		},
	}
}

func newForceUnmountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forceunmount <mountpoint>",
		Short: "Forcefully unmount by killing processes using the mountpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := mountctl.New(args[0])
			if err != nil {
				return err
			}
			if err := c.ForceUnmount(); err != nil {
				slog.Error("foldmountctl: force unmount failed", "err", err)
				return err
			}
			return nil
		},
	}
}
