package flasher

import (
	"context"
	"testing"
)

// scriptedExecutor returns canned results in order and records the eraseFirst
// flag of every attempt.
type scriptedExecutor struct {
	results []FlashResult
	erases  []bool
	devices []DeviceType
}

func (s *scriptedExecutor) Flash(ctx context.Context, devType DeviceType, port, imagePath string, eraseFirst bool) FlashResult {
	s.erases = append(s.erases, eraseFirst)
	s.devices = append(s.devices, devType)
	if len(s.results) == 0 {
		return FlashResult{OK: true}
	}
	res := s.results[0]
	s.results = s.results[1:]
	return res
}

// scriptedPrompter pops one canned choice per prompt and keeps the requests
// for inspection.
type scriptedPrompter struct {
	choices  []Choice
	requests []PromptRequest
}

func (s *scriptedPrompter) Prompt(req PromptRequest) Choice {
	s.requests = append(s.requests, req)
	if len(s.choices) == 0 {
		return ChoiceQuit
	}
	choice := s.choices[0]
	s.choices = s.choices[1:]
	return choice
}

type capturedAttempts struct {
	attempts []Attempt
}

func (c *capturedAttempts) RecordAttempt(ctx context.Context, attempt Attempt) error {
	c.attempts = append(c.attempts, attempt)
	return nil
}

func TestRecoverySuccessFirstTry(t *testing.T) {
	exec := &scriptedExecutor{results: []FlashResult{{OK: true}}}
	prompter := &scriptedPrompter{}
	r := NewRecoveryController(exec, prompter, nil)

	if got := r.Run(context.Background(), DeviceScanner, "COM5", "fw.bin"); got != RecoverySucceeded {
		t.Fatalf("result = %v, want succeeded", got)
	}
	if len(prompter.requests) != 0 {
		t.Fatalf("no prompts expected on clean success, got %d", len(prompter.requests))
	}
	if len(exec.erases) != 1 || exec.erases[0] {
		t.Fatalf("first attempt of a fresh sequence must not erase: %v", exec.erases)
	}
}

func TestRecoveryEraseThenSuccess(t *testing.T) {
	exec := &scriptedExecutor{results: []FlashResult{
		{Reason: FailureConnectFailed},
		{OK: true},
	}}
	prompter := &scriptedPrompter{choices: []Choice{ChoiceErase}}
	recorder := &capturedAttempts{}
	r := NewRecoveryController(exec, prompter, recorder)

	if got := r.Run(context.Background(), DeviceScanner, "COM5", "fw.bin"); got != RecoverySucceeded {
		t.Fatalf("result = %v, want succeeded", got)
	}
	wantErases := []bool{false, true}
	if len(exec.erases) != len(wantErases) {
		t.Fatalf("attempts = %v, want %v", exec.erases, wantErases)
	}
	for i, want := range wantErases {
		if exec.erases[i] != want {
			t.Fatalf("attempt %d eraseFirst = %v, want %v", i, exec.erases[i], want)
		}
	}
	if len(recorder.attempts) != 2 {
		t.Fatalf("recorded attempts = %d, want 2", len(recorder.attempts))
	}
}

func TestRecoveryRetryClearsEraseFlag(t *testing.T) {
	exec := &scriptedExecutor{results: []FlashResult{
		{Reason: FailureConnectFailed},
		{Reason: FailureConnectFailed},
		{OK: true},
	}}
	// Erase once, then a plain retry: the third attempt must not erase.
	prompter := &scriptedPrompter{choices: []Choice{ChoiceErase, ChoiceRetry}}
	r := NewRecoveryController(exec, prompter, nil)

	if got := r.Run(context.Background(), DeviceScanner, "COM5", "fw.bin"); got != RecoverySucceeded {
		t.Fatalf("result = %v, want succeeded", got)
	}
	wantErases := []bool{false, true, false}
	for i, want := range wantErases {
		if exec.erases[i] != want {
			t.Fatalf("attempt %d eraseFirst = %v, want %v (all: %v)", i, exec.erases[i], want, exec.erases)
		}
	}
}

func TestRecoverySkipIsTerminal(t *testing.T) {
	exec := &scriptedExecutor{results: []FlashResult{{Reason: FailurePortBusy}}}
	prompter := &scriptedPrompter{choices: []Choice{ChoiceSkip}}
	r := NewRecoveryController(exec, prompter, nil)

	if got := r.Run(context.Background(), DeviceGateway, "COM3", "fw.bin"); got != RecoverySkipped {
		t.Fatalf("result = %v, want skipped", got)
	}
	if len(exec.erases) != 1 {
		t.Fatalf("no further attempts after skip: %v", exec.erases)
	}
}

func TestRecoveryRescanReturnsControl(t *testing.T) {
	exec := &scriptedExecutor{results: []FlashResult{{Reason: FailureUnknown, ExitCode: 1}}}
	prompter := &scriptedPrompter{choices: []Choice{ChoiceRescan}}
	r := NewRecoveryController(exec, prompter, nil)

	if got := r.Run(context.Background(), DeviceGateway, "COM3", "fw.bin"); got != RecoveryRescan {
		t.Fatalf("result = %v, want rescan", got)
	}
}

func TestRecoveryQuitAborts(t *testing.T) {
	exec := &scriptedExecutor{results: []FlashResult{{Reason: FailureConnectTimedOut}}}
	prompter := &scriptedPrompter{choices: []Choice{ChoiceQuit}}
	r := NewRecoveryController(exec, prompter, nil)

	if got := r.Run(context.Background(), DeviceGateway, "COM3", "fw.bin"); got != RecoveryAbort {
		t.Fatalf("result = %v, want abort", got)
	}
}

func TestRecoveryDisconnectGoesToReconnectPrompt(t *testing.T) {
	exec := &scriptedExecutor{results: []FlashResult{{Reason: FailureDisconnected}}}
	prompter := &scriptedPrompter{choices: []Choice{ChoiceRescan}}
	r := NewRecoveryController(exec, prompter, nil)

	if got := r.Run(context.Background(), DeviceScanner, "COM5", "fw.bin"); got != RecoveryRescan {
		t.Fatalf("result = %v, want rescan", got)
	}
	if len(prompter.requests) != 1 {
		t.Fatalf("prompts = %d, want 1", len(prompter.requests))
	}
	// The reconnect prompt has no erase or skip options.
	req := prompter.requests[0]
	if _, ok := req.Accept["e"]; ok {
		t.Fatalf("reconnect prompt must not offer erase: %v", req.Accept)
	}
	if req.Default != ChoiceRescan {
		t.Fatalf("reconnect default = %v, want rescan", req.Default)
	}
}

func TestRecoveryDisconnectQuitAborts(t *testing.T) {
	exec := &scriptedExecutor{results: []FlashResult{{Reason: FailureDisconnected}}}
	prompter := &scriptedPrompter{choices: []Choice{ChoiceQuit}}
	r := NewRecoveryController(exec, prompter, nil)

	if got := r.Run(context.Background(), DeviceScanner, "COM5", "fw.bin"); got != RecoveryAbort {
		t.Fatalf("result = %v, want abort", got)
	}
}
