package main

import (
	"os"

	"github.com/CodeHedge/biscuit-flasher/internal/env"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "biscuit-flasher",
	Short: "Firmware updater for Biscuit ESP32-WROOM and ESP32-C5 devices",
	Long: `biscuit-flasher downloads the latest published Biscuit firmware, detects the
scanner and BLE gateway modules on the attached serial ports, and flashes
both, with interactive recovery for the usual field failures.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFlash(cmd, flashOptions{Fresh: rootFresh})
	},
}

var rootFresh bool

func init() {
	output := zerolog.ConsoleWriter{Out: os.Stderr}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
	rootCmd.PersistentFlags().BoolVar(&rootFresh, "fresh", false, "Clear the firmware cache and re-download")
	rootCmd.AddCommand(
		newFlashCmd(),
		newScanCmd(),
		newCleanCmd(),
	)
	_ = env.Ensure()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("biscuit-flasher failed")
		os.Exit(1)
	}
}
