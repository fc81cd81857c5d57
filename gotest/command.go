package gotest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultGoBinary is the go binary name
	DefaultGoBinary = "go"

	// Test command arguments
	TestCommand = "test"
	JSONFlag    = "-json"

	maxStderrLine = 1024 * 1024
)

// Command runs `go test -json` and streams its output
type Command struct {
	GoBinary string
	WorkDir  string
	Args     []string // extra arguments, e.g. packages and -run filters
	Log      log.Logger
}

// BuildArgs returns the arguments passed to the go binary
func (c *Command) BuildArgs() []string {
	args := []string{TestCommand, JSONFlag}
	for _, arg := range c.Args {
		if arg == JSONFlag {
			continue
		}
		args = append(args, arg)
	}
	return args
}

// Run starts the command and hands its stdout to consume while logging stderr.
// A non-zero exit status of `go test` is returned as the exit code, not as an
// error, since failing tests are expected data.
func (c *Command) Run(ctx context.Context, consume func(io.Reader) error) (int, error) {
	goBinary := c.GoBinary
	if goBinary == "" {
		goBinary = DefaultGoBinary
	}
	logger := c.Log
	if logger == nil {
		logger = log.Root()
	}

	args := c.BuildArgs()
	cmd := exec.CommandContext(ctx, goBinary, args...)
	cmd.Dir = c.WorkDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 0, fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return 0, fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	logger.Info("Running go test", "binary", goBinary, "args", strings.Join(args, " "), "dir", c.WorkDir)
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start %s: %w", goBinary, err)
	}

	var g errgroup.Group
	g.Go(func() error {
		err := consume(stdout)
		// Keep draining so the child never blocks on a full pipe
		_, _ = io.Copy(io.Discard, stdout)
		return err
	})
	g.Go(func() error {
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, 64*1024), maxStderrLine)
		for scanner.Scan() {
			logger.Warn("go test stderr", "line", scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			logger.Warn("Stopped logging go test stderr", "err", err)
		}
		// Drain whatever the scanner gave up on
		_, _ = io.Copy(io.Discard, stderr)
		return nil
	})
	consumeErr := g.Wait()
	waitErr := cmd.Wait()

	if consumeErr != nil {
		return 0, consumeErr
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	if waitErr != nil {
		return 0, fmt.Errorf("go test failed: %w", waitErr)
	}
	return 0, nil
}
