package main

import (
	"fmt"

	"github.com/CodeHedge/biscuit-flasher/pkg/firmware"
	"github.com/spf13/cobra"
)

func newCleanCmd() *cobra.Command {
	var cacheDir string

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove the cached firmware images",
		RunE: func(cmd *cobra.Command, args []string) error {
			provider := firmware.NewProvider("", "", cacheDir, false)
			if err := provider.Clean(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Cleared firmware cache.")
			return nil
		},
	}

	cmd.Flags().StringVar(&cacheDir, "cache-dir", "", "Firmware cache directory")
	return cmd
}
