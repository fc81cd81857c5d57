package opteamcity

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"golang.org/x/mod/modfile"

	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"

	"github.com/ethereum-optimism/infra/op-teamcity/expectations"
	"github.com/ethereum-optimism/infra/op-teamcity/flags"
)

// Config holds the application configuration
type Config struct {
	Input         string   // go test -json output to convert; empty runs go test
	Output        string   // destination of service messages
	RawJSON       string   // optional copy of the consumed event stream
	WorkDir       string   // directory go test runs in
	GoBinary      string   // go binary used to run tests
	Args          []string // arguments passed on to go test
	ModulePath    string   // trimmed from reported package names
	RunID         string
	Suites        bool // report packages as suites
	CaptureOutput bool // attach test output
	Timestamps    bool // timestamp every message
	Summary       bool // print a results table when done
	FailuresOnly  bool // results table lists only tests that did not pass
	Expectations  *expectations.Manifest
	MetricsConfig opmetrics.CLIConfig
	Log           log.Logger
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, log log.Logger) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}

	metricsCfg := opmetrics.ReadCLIConfig(ctx)
	if err := metricsCfg.Check(); err != nil {
		return nil, fmt.Errorf("invalid metrics config: %w", err)
	}

	manifest := expectations.Empty()
	if path := ctx.String(flags.Expectations.Name); path != "" {
		var err error
		manifest, err = expectations.Load(path)
		if err != nil {
			return nil, err
		}
	}

	workDir := ctx.String(flags.WorkDir.Name)
	if workDir != "" {
		abs, err := filepath.Abs(workDir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve absolute path for work directory '%s': %w", workDir, err)
		}
		workDir = abs
	}

	var modulePath string
	if moduleFile := ctx.String(flags.ModuleFile.Name); moduleFile != "" {
		var err error
		modulePath, err = ReadModulePath(moduleFile)
		if err != nil {
			return nil, err
		}
	}

	runID := ctx.String(flags.RunID.Name)
	if runID == "" {
		runID = uuid.New().String()
	}

	input := ctx.String(flags.Input.Name)
	args := ctx.Args().Slice()
	if input != "" && len(args) > 0 {
		log.Warn("Ignoring go test arguments when reading from input", "input", input, "args", args)
	}

	return &Config{
		Input:         input,
		Output:        ctx.String(flags.Output.Name),
		RawJSON:       ctx.String(flags.RawJSON.Name),
		WorkDir:       workDir,
		GoBinary:      ctx.String(flags.GoBinary.Name),
		Args:          args,
		ModulePath:    modulePath,
		RunID:         runID,
		Suites:        ctx.Bool(flags.Suites.Name),
		CaptureOutput: ctx.Bool(flags.CaptureOutput.Name),
		Timestamps:    ctx.Bool(flags.Timestamps.Name),
		Summary:       ctx.Bool(flags.Summary.Name),
		FailuresOnly:  ctx.Bool(flags.FailuresOnly.Name),
		Expectations:  manifest,
		MetricsConfig: metricsCfg,
		Log:           log,
	}, nil
}

// ReadModulePath returns the module path declared in a go.mod file
func ReadModulePath(goModPath string) (string, error) {
	data, err := os.ReadFile(goModPath)
	if err != nil {
		return "", fmt.Errorf("failed to read module file %s: %w", goModPath, err)
	}
	modulePath := modfile.ModulePath(data)
	if modulePath == "" {
		return "", fmt.Errorf("no module directive in %s", goModPath)
	}
	return modulePath, nil
}
