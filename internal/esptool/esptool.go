// Package esptool drives the esptool flashing utility as a subprocess. Every
// invocation is bounded by a caller-supplied timeout; nothing here blocks
// forever.
package esptool

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/CodeHedge/biscuit-flasher/internal/config"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	versionTimeout = 30 * time.Second
	installTimeout = 120 * time.Second
)

// Runner invokes `python -m esptool` with per-call timeouts.
type Runner struct {
	python string
}

// New builds a Runner. The interpreter defaults per platform and can be
// overridden with ESPTOOL_PYTHON.
func New() *Runner {
	return &Runner{python: config.String("ESPTOOL_PYTHON", defaultPython())}
}

func defaultPython() string {
	if runtime.GOOS == "windows" {
		return "python"
	}
	return "python3"
}

// EnsureInstalled verifies esptool responds to `version`, attempting a pip
// install when it does not. Failure here is fatal to the session.
func (r *Runner) EnsureInstalled(ctx context.Context) error {
	runCtx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()
	out, err := exec.CommandContext(runCtx, r.python, "-m", "esptool", "version").CombinedOutput()
	if err == nil {
		version := firstLine(string(out))
		log.Info().Str("version", version).Msg("esptool installed")
		return nil
	}
	log.Info().Msg("esptool missing, installing via pip")

	installCtx, cancel := context.WithTimeout(ctx, installTimeout)
	defer cancel()
	out, err = exec.CommandContext(installCtx, r.python, "-m", "pip", "install", "esptool", "pyserial").CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "install esptool failed: %s", tail(string(out), 400))
	}
	log.Info().Msg("esptool installed successfully")
	return nil
}

// Identify runs the chip_id probe against port. The captured output is
// returned even when esptool exits nonzero, since identity text often arrives
// before a failing exit; the error is non-nil only when nothing usable was
// captured or the bound elapsed.
func (r *Runner) Identify(ctx context.Context, port string, timeout time.Duration) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.python, "-m", "esptool",
		"--chip", "auto", "--port", port, "chip_id")
	out, err := cmd.CombinedOutput()
	if runCtx.Err() != nil {
		return "", errors.Wrapf(runCtx.Err(), "identify %s", port)
	}
	if err != nil && len(out) == 0 {
		return "", errors.Wrapf(err, "identify %s", port)
	}
	return string(out), nil
}

// Erase wipes the flash on port. Returns the exit code and captured output; a
// context.DeadlineExceeded error means the bound elapsed.
func (r *Runner) Erase(ctx context.Context, port, chip, baud string, timeout time.Duration) (int, string, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(baseArgs(chip, port, baud), "erase_flash")
	cmd := exec.CommandContext(runCtx, r.python, append([]string{"-m", "esptool"}, args...)...)
	out, err := cmd.CombinedOutput()
	if runCtx.Err() != nil {
		return -1, string(out), errors.Wrapf(runCtx.Err(), "erase %s", port)
	}
	return exitCode(cmd, err), string(out), startErr(err, out)
}

// WriteImage writes imagePath to address on port, streaming each output line
// to onLine as it arrives. Returns the exit code and the full captured
// output; a context.DeadlineExceeded error means the process was killed at
// the bound.
func (r *Runner) WriteImage(ctx context.Context, port, chip, baud, flashFreq, address, imagePath string, timeout time.Duration, onLine func(string)) (int, string, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(baseArgs(chip, port, baud),
		"write_flash",
		"--flash_mode", "dio",
		"--flash_freq", flashFreq,
		"--flash_size", "detect",
		address, imagePath,
	)
	cmd := exec.CommandContext(runCtx, r.python, append([]string{"-m", "esptool"}, args...)...)

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pw.Close()
		pr.Close()
		return -1, "", errors.Wrapf(err, "start write_flash on %s", port)
	}

	var captured bytes.Buffer
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimRight(scanner.Text(), "\r")
			captured.WriteString(line)
			captured.WriteByte('\n')
			if onLine != nil {
				onLine(line)
			}
		}
	}()

	waitErr := cmd.Wait()
	pw.Close()
	wg.Wait()
	pr.Close()

	if runCtx.Err() != nil {
		return -1, captured.String(), errors.Wrapf(runCtx.Err(), "write_flash %s", port)
	}
	return exitCode(cmd, waitErr), captured.String(), startErr(waitErr, captured.Bytes())
}

func baseArgs(chip, port, baud string) []string {
	return []string{
		"--chip", chip,
		"--port", port,
		"--baud", baud,
		"--before", "default_reset",
		"--after", "hard_reset",
	}
}

// exitCode extracts the process exit code; -1 when the process never ran.
func exitCode(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	var exit *exec.ExitError
	if errors.As(err, &exit) {
		return exit.ExitCode()
	}
	return -1
}

// startErr suppresses exec.ExitError: a nonzero exit is reported through the
// exit code, not the error. Anything else (binary not found, pipe failure) is
// a real invocation error.
func startErr(err error, _ []byte) error {
	if err == nil {
		return nil
	}
	var exit *exec.ExitError
	if errors.As(err, &exit) {
		return nil
	}
	return err
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return strings.TrimSpace(s[:idx])
	}
	return s
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
