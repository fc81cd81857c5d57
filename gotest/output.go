package gotest

import (
	"regexp"
	"slices"
	"strings"

	"github.com/acarl005/stripansi"
)

var (
	// framing lines written by the testing package around test output
	framingPrefixes = []string{"=== RUN", "=== PAUSE", "=== CONT", "=== NAME", "--- PASS:", "--- FAIL:", "--- SKIP:", "FAIL\t", "ok  \t"}
	framingLines    = []string{"PASS", "FAIL"}

	// "    foo_test.go:12: message"
	sourceLocation = regexp.MustCompile(`^\S+\.go:\d+: ?`)
)

// cleanOutput strips terminal escape sequences from captured test output
func cleanOutput(s string) string {
	return stripansi.Strip(s)
}

func isFramingLine(line string) bool {
	if slices.Contains(framingLines, line) {
		return true
	}
	for _, prefix := range framingPrefixes {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

// meaningfulLines returns the trimmed, non-framing lines of the output
func meaningfulLines(output string) []string {
	var lines []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || isFramingLine(line) {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// isPanic reports whether the output shows the test panicked
func isPanic(output string) bool {
	for _, line := range strings.Split(output, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "panic:") {
			return true
		}
	}
	return false
}

// failureMessage picks the line that best summarizes a failure
func failureMessage(output string) string {
	lines := meaningfulLines(output)
	for _, line := range lines {
		if msg, ok := strings.CutPrefix(line, "panic: "); ok {
			return msg
		}
	}
	if len(lines) == 0 {
		return "test failed"
	}
	return sourceLocation.ReplaceAllString(lines[0], "")
}

// skipReason extracts the t.Skip message from the output of a skipped test
func skipReason(output string) string {
	lines := meaningfulLines(output)
	for i, line := range lines {
		lines[i] = sourceLocation.ReplaceAllString(line, "")
	}
	return strings.TrimSpace(strings.Join(lines, " "))
}

// traceText returns the output without framing lines
func traceText(output string) string {
	var b strings.Builder
	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || isFramingLine(trimmed) {
			continue
		}
		b.WriteString(strings.TrimRight(line, " \t\r"))
		b.WriteString("\n")
	}
	return b.String()
}
