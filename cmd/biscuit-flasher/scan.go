package main

import (
	"fmt"

	flasher "github.com/CodeHedge/biscuit-flasher"
	"github.com/CodeHedge/biscuit-flasher/internal/esptool"
	"github.com/spf13/cobra"
)

func newScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Detect attached Biscuit devices without flashing",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			tool := esptool.New()
			if err := tool.EnsureInstalled(cmd.Context()); err != nil {
				return err
			}

			lister := flasher.SerialPortLister{}
			scanner := flasher.NewScanner(lister, flasher.NewClassifier(tool))

			fmt.Fprintln(out, "Scanning for Biscuit devices...")
			snapshot := scanner.Scan(cmd.Context())
			if len(snapshot) == 0 {
				fmt.Fprintln(out, "No Biscuit devices detected.")
				return nil
			}
			for _, dev := range flasher.AllDeviceTypes() {
				if port, ok := snapshot[dev]; ok {
					fmt.Fprintf(out, "Found %s (%s) on %s\n", dev.Label(), dev.Config().Name, port.Device)
				}
			}
			return nil
		},
	}
}
