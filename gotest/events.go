package gotest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Go test2json (TestEvent) action constants
// See https://cs.opensource.google/go/go/+/master:src/cmd/test2json/main.go
const (
	ActionStart       = "start"
	ActionRun         = "run"
	ActionPause       = "pause"
	ActionCont        = "cont"
	ActionPass        = "pass"
	ActionBench       = "bench"
	ActionFail        = "fail"
	ActionOutput      = "output"
	ActionSkip        = "skip"
	ActionBuildOutput = "build-output"
	ActionBuildFail   = "build-fail"
)

const maxEventLineSize = 16 * 1024 * 1024

// TestEvent is a single line of `go test -json` output
type TestEvent struct {
	Time        time.Time // Time the event occurred
	Action      string    // The action taken (run, pause, cont, pass, fail, skip, output, ...)
	Package     string    // The package being tested
	ImportPath  string    // Set on build-output and build-fail events
	Test        string    // The test function name (may be empty for package events)
	Output      string    // Output text (may be empty)
	Elapsed     float64   // Elapsed time in seconds for the specific action
	FailedBuild string    // Import path of the package that failed to build, on package fail events
}

// Decode reads test2json events from r and passes each one to fn. Lines that
// are not JSON events are skipped.
func Decode(r io.Reader, fn func(TestEvent) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventLineSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		event, err := parseTestEvent(line)
		if err != nil {
			continue
		}
		if err := fn(event); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read test events: %w", err)
	}
	return nil
}

func parseTestEvent(line []byte) (TestEvent, error) {
	var event TestEvent
	if err := json.Unmarshal(line, &event); err != nil {
		return event, err
	}
	return event, nil
}
