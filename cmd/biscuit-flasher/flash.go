package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	flasher "github.com/CodeHedge/biscuit-flasher"
	"github.com/CodeHedge/biscuit-flasher/internal/esptool"
	"github.com/CodeHedge/biscuit-flasher/pkg/firmware"
	"github.com/CodeHedge/biscuit-flasher/pkg/report"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type flashOptions struct {
	Fresh       bool
	ManifestURL string
	BaseURL     string
	CacheDir    string
}

func newFlashCmd() *cobra.Command {
	var opts flashOptions

	cmd := &cobra.Command{
		Use:   "flash",
		Short: "Download the latest firmware and flash the attached Biscuit devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Fresh = opts.Fresh || rootFresh
			return runFlash(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Fresh, "fresh", false, "Clear the firmware cache and re-download")
	cmd.Flags().StringVar(&opts.ManifestURL, "manifest-url", "", "Firmware manifest URL (default production manifest)")
	cmd.Flags().StringVar(&opts.BaseURL, "base-url", "", "Firmware download base URL")
	cmd.Flags().StringVar(&opts.CacheDir, "cache-dir", "", "Firmware cache directory")

	return cmd
}

func runFlash(cmd *cobra.Command, opts flashOptions) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	provider := firmware.NewProvider(opts.ManifestURL, opts.BaseURL, opts.CacheDir, opts.Fresh)
	if opts.Fresh {
		if err := provider.Clean(); err != nil {
			log.Warn().Err(err).Msg("clear firmware cache failed")
		} else {
			fmt.Fprintln(out, "Cleared firmware cache.")
			fmt.Fprintln(out)
		}
	}

	printBanner(out)

	fmt.Fprintln(out, "[1/5] Checking esptool installation...")
	tool := esptool.New()
	if err := tool.EnsureInstalled(ctx); err != nil {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "ERROR: Could not install esptool. Please install manually:")
		fmt.Fprintln(out, "       pip install esptool")
		return err
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "[2/5] Fetching latest firmware info...")
	fmt.Fprintln(out, "[3/5] Downloading firmware files...")
	images, err := provider.ResolveImages(ctx)
	if err != nil {
		if errors.Is(err, firmware.ErrImageUnavailable) {
			return err
		}
		fmt.Fprintln(out)
		fmt.Fprintln(out, "ERROR: Could not connect to firmware server")
		fmt.Fprintln(out)
		fmt.Fprintln(out, "       Please check your internet connection and try again.")
		return err
	}
	fmt.Fprintf(out, "      C5 firmware: %s\n", images.C5Version)
	fmt.Fprintf(out, "      WROOM firmware: %s\n", images.WroomVersion)
	fmt.Fprintf(out, "      Cached in: %s\n", provider.CacheDir)
	fmt.Fprintln(out)

	lister := flasher.SerialPortLister{}
	classifier := flasher.NewClassifier(tool)
	scanner := flasher.NewScanner(lister, classifier)
	executor := flasher.NewExecutor(tool, lister)
	executor.Progress = func(line string) {
		fmt.Fprintf(out, "      %s\n", line)
	}

	recorder, closeHistory := flasher.NewHistoryRecorder()
	defer func() {
		if err := closeHistory(); err != nil {
			log.Debug().Err(err).Msg("close flash history failed")
		}
	}()

	prompter := flasher.NewTerminalPrompter(cmd.InOrStdin(), out)
	recovery := flasher.NewRecoveryController(executor, prompter, recorder)
	session := flasher.NewSession(scanner, recovery, prompter, map[flasher.DeviceType]string{
		flasher.DeviceScanner: images.C5Path,
		flasher.DeviceGateway: images.WroomPath,
	})
	session.SetOutput(out)

	outcomes, runErr := session.Run(ctx)
	if errors.Is(runErr, flasher.ErrAborted) {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Exiting.")
	}

	printSummary(out, outcomes)
	publishOutcomes(cmd, session, outcomes, images)

	if runErr != nil {
		return runErr
	}
	if !flasher.AnySucceeded(outcomes) {
		return errors.New("no devices were flashed")
	}
	return nil
}

func printBanner(out io.Writer) {
	line := strings.Repeat("=", 60)
	fmt.Fprintln(out, line)
	fmt.Fprintln(out, "    Biscuit Flash Utility")
	fmt.Fprintln(out, "    Firmware updater for ESP32-WROOM and ESP32-C5")
	fmt.Fprintln(out, line)
	fmt.Fprintln(out)
}

func printSummary(out io.Writer, outcomes map[flasher.DeviceType]flasher.FlashOutcome) {
	line := strings.Repeat("=", 60)
	fmt.Fprintln(out)
	fmt.Fprintln(out, line)

	succeeded := 0
	for _, outcome := range outcomes {
		if outcome == flasher.OutcomeSucceeded {
			succeeded++
		}
	}

	switch {
	case succeeded == len(outcomes):
		fmt.Fprintln(out, "    Flash complete! Your Biscuit is ready.")
	case succeeded > 0:
		fmt.Fprintln(out, "    Partial flash complete.")
		for _, dev := range flasher.AllDeviceTypes() {
			switch outcomes[dev] {
			case flasher.OutcomeSucceeded:
				fmt.Fprintf(out, "    - %s: SUCCESS\n", dev.Label())
			case flasher.OutcomeSkipped:
				fmt.Fprintf(out, "    - %s: skipped\n", dev.Label())
			default:
				fmt.Fprintf(out, "    - %s: not found\n", dev.Label())
			}
		}
	default:
		fmt.Fprintln(out, "    No devices were flashed.")
	}
	fmt.Fprintln(out, line)
}

func publishOutcomes(cmd *cobra.Command, session *flasher.Session, outcomes map[flasher.DeviceType]flasher.FlashOutcome, images *firmware.Images) {
	reporter, err := report.NewReporterFromEnv()
	if err != nil {
		log.Warn().Err(err).Msg("outcome reporter unavailable")
		return
	}

	rows := make([]report.Row, 0, len(outcomes))
	now := time.Now()
	for _, dev := range flasher.AllDeviceTypes() {
		outcome := outcomes[dev]
		if !outcome.Terminal() {
			continue
		}
		version := images.C5Version
		if dev == flasher.DeviceGateway {
			version = images.WroomVersion
		}
		rows = append(rows, report.Row{
			Device:          dev.Label(),
			Port:            session.PortFor(dev),
			Outcome:         outcome.String(),
			FirmwareVersion: version,
			FlashedAt:       now,
		})
	}
	if len(rows) == 0 {
		return
	}
	if err := reporter.Publish(cmd.Context(), rows); err != nil {
		log.Warn().Err(err).Msg("publish flash outcomes failed")
	}
}
