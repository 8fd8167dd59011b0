package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"

	"github.com/klingon-exchange/ledgerd/pkg/logging"
)

// ErrScriptFailed is returned when the executed script exits non-zero.
type ErrScriptFailed struct {
	Script   string
	ExitCode int
}

func (e *ErrScriptFailed) Error() string {
	return fmt.Sprintf("events: script %q exited %d", e.Script, e.ExitCode)
}

// ScriptHandler runs a shell command for every event, blocking until it
// returns. The event name and JSON-encoded data are passed as environment
// variables rather than arguments, so sinks never need to worry about
// shell-quoting the payload.
type ScriptHandler struct {
	Script    string
	LogOutput bool
	log       *logging.Logger
}

// NewScriptHandler builds a handler executing script on every event.
func NewScriptHandler(script string, logOutput bool) *ScriptHandler {
	return &ScriptHandler{
		Script:    script,
		LogOutput: logOutput,
		log:       logging.GetDefault().Component("events-script"),
	}
}

// Trigger execs the configured script with CRYPTOASSETS_EVENT_NAME and
// CRYPTOASSETS_EVENT_DATA set, blocking until it exits.
func (s *ScriptHandler) Trigger(name Name, data interface{}) error {
	encoded, err := json.Marshal(data)
	if err != nil {
		return err
	}

	cmd := exec.Command("/bin/sh", "-c", s.Script)
	cmd.Env = append(os.Environ(),
		"CRYPTOASSETS_EVENT_NAME="+string(name),
		"CRYPTOASSETS_EVENT_DATA="+string(encoded),
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()

	if s.LogOutput {
		s.log.Info("executed notification script", "script", s.Script)
		s.log.Info("script stdout", "output", stdout.String())
		s.log.Info("script stderr", "output", stderr.String())
	}

	if err != nil {
		exitCode := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return &ErrScriptFailed{Script: s.Script, ExitCode: exitCode}
	}
	return nil
}

var _ Handler = (*ScriptHandler)(nil)
