package flasher

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Choice is one operator decision at a recovery prompt.
type Choice string

const (
	ChoiceRetry  Choice = "retry"
	ChoiceErase  Choice = "erase"
	ChoiceSkip   Choice = "skip"
	ChoiceRescan Choice = "rescan"
	ChoiceQuit   Choice = "quit"
	ChoiceFinish Choice = "finish"
)

// PromptRequest describes one operator decision point: the lines to show, the
// accepted responses, and the choice an empty response maps to. Interrupt or
// end of input always maps to quit.
type PromptRequest struct {
	Header  []string
	Menu    string
	Accept  map[string]Choice
	Default Choice
	Invalid string
}

// Prompter collects one operator choice. Implementations must only return
// choices listed in the request (or quit).
type Prompter interface {
	Prompt(req PromptRequest) Choice
}

// TerminalPrompter reads operator choices line by line.
type TerminalPrompter struct {
	in  *bufio.Reader
	out io.Writer
}

// NewTerminalPrompter builds a Prompter over the given streams.
func NewTerminalPrompter(in io.Reader, out io.Writer) *TerminalPrompter {
	return &TerminalPrompter{in: bufio.NewReader(in), out: out}
}

// Prompt shows the request and loops until a valid choice is entered. The
// menu is redisplayed via the invalid-choice hint so the operator is never
// left without options.
func (p *TerminalPrompter) Prompt(req PromptRequest) Choice {
	for _, line := range req.Header {
		fmt.Fprintln(p.out, line)
	}
	if req.Menu != "" {
		fmt.Fprintln(p.out, req.Menu)
	}
	for {
		fmt.Fprint(p.out, "      > ")
		line, err := p.in.ReadString('\n')
		choice := strings.ToLower(strings.TrimSpace(line))
		if choice == "" {
			if err != nil {
				return ChoiceQuit
			}
			return req.Default
		}
		if mapped, ok := req.Accept[choice]; ok {
			return mapped
		}
		if err != nil {
			return ChoiceQuit
		}
		if req.Invalid != "" {
			fmt.Fprintln(p.out, req.Invalid)
		}
	}
}

// downloadModeHint tells the operator how to force the bootloader.
const downloadModeHint = "      To enter download mode: Hold BOOT button, press RESET, release BOOT"

func failurePrompt(devType DeviceType, port, cause string) PromptRequest {
	return PromptRequest{
		Header: []string{
			"",
			fmt.Sprintf("      [%s] Flash failed on %s", devType.Label(), port),
			"",
			"      " + cause,
			"",
			downloadModeHint,
			"",
		},
		Menu: "      [Enter] Retry | [E] Erase & Retry | [S] Skip | [R] Rescan | [Q] Quit",
		Accept: map[string]Choice{
			"e": ChoiceErase,
			"s": ChoiceSkip,
			"r": ChoiceRescan,
			"q": ChoiceQuit,
		},
		Default: ChoiceRetry,
		Invalid: "      Invalid choice. Press Enter to retry, E to erase, S to skip, R to rescan, Q to quit",
	}
}

func disconnectPrompt(port string) PromptRequest {
	return PromptRequest{
		Header: []string{
			"",
			fmt.Sprintf("      Device on %s disconnected!", port),
		},
		Menu: "      Please reconnect and press Enter to rescan, or Q to quit",
		Accept: map[string]Choice{
			"r": ChoiceRescan,
			"q": ChoiceQuit,
		},
		Default: ChoiceRescan,
		Invalid: "      Press Enter to rescan or Q to quit",
	}
}

func noDevicesPrompt() PromptRequest {
	return PromptRequest{
		Header: []string{
			"",
			"      No Biscuit devices detected!",
			"",
			"      Please ensure your Biscuit devices are connected via USB.",
		},
		Menu: "      [Enter] Rescan | [Q] Quit",
		Accept: map[string]Choice{
			"r": ChoiceRescan,
			"q": ChoiceQuit,
		},
		Default: ChoiceRescan,
		Invalid: "      Press Enter to rescan or Q to quit",
	}
}

func waitingPrompt(missing []DeviceType) PromptRequest {
	labels := make([]string, 0, len(missing))
	for _, dev := range missing {
		labels = append(labels, dev.Label())
	}
	return PromptRequest{
		Header: []string{
			"",
			fmt.Sprintf("      %s not found. Connect it and press Enter to scan, or Q to finish.",
				strings.Join(labels, ", ")),
		},
		Accept: map[string]Choice{
			"r": ChoiceRescan,
			"q": ChoiceFinish,
		},
		Default: ChoiceRescan,
		Invalid: "      Press Enter to rescan or Q to finish",
	}
}
