package flags

import (
	"fmt"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	opflags "github.com/ethereum-optimism/optimism/op-service/flags"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
)

const EnvVarPrefix = "OP_TEAMCITY"

// StdStream selects stdin for --input and stdout for --output
const StdStream = "-"

var (
	Input = &cli.StringFlag{
		Name:    "input",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "INPUT"),
		Usage:   "File of `go test -json` output to convert ('-' for stdin). When empty, go test is run with the remaining arguments",
	}
	Output = &cli.StringFlag{
		Name:    "output",
		Value:   StdStream,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "OUTPUT"),
		Usage:   "File to write service messages to ('-' for stdout)",
	}
	WorkDir = &cli.StringFlag{
		Name:    "workdir",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "WORKDIR"),
		Usage:   "Directory to run go test in",
	}
	GoBinary = &cli.StringFlag{
		Name:    "go-binary",
		Value:   "go",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "GO_BINARY"),
		Usage:   "Path to the Go binary to use for running tests",
	}
	Expectations = &cli.StringFlag{
		Name:    "expectations",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "EXPECTATIONS"),
		Usage:   "Path to a YAML or TOML manifest of expected failures and test descriptions",
	}
	ModuleFile = &cli.StringFlag{
		Name:    "module-file",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "MODULE_FILE"),
		Usage:   "Path to a go.mod whose module path is trimmed from reported package names",
	}
	RawJSON = &cli.StringFlag{
		Name:    "raw-json",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RAW_JSON"),
		Usage:   "File to save the consumed `go test -json` events to, e.g. for gotestsum",
	}
	RunID = &cli.StringFlag{
		Name:    "run-id",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RUN_ID"),
		Usage:   "Identifier of this run. A random UUID is used when empty",
	}
	Suites = &cli.BoolFlag{
		Name:    "suites",
		Value:   true,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SUITES"),
		Usage:   "Report each package as a test suite",
	}
	CaptureOutput = &cli.BoolFlag{
		Name:    "capture-output",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CAPTURE_OUTPUT"),
		Usage:   "Attach the output of each test with testStdOut messages",
	}
	Timestamps = &cli.BoolFlag{
		Name:    "timestamps",
		Value:   true,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TIMESTAMPS"),
		Usage:   "Add a timestamp attribute to every service message",
	}
	Summary = &cli.BoolFlag{
		Name:    "summary",
		Value:   true,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SUMMARY"),
		Usage:   "Print a results table to stderr when the run completes",
	}
	FailuresOnly = &cli.BoolFlag{
		Name:    "summary.failures-only",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SUMMARY_FAILURES_ONLY"),
		Usage:   "List only tests that did not pass in the results table",
	}
)

var requiredFlags = []cli.Flag{}

var optionalFlags = []cli.Flag{
	Input,
	Output,
	WorkDir,
	GoBinary,
	Expectations,
	ModuleFile,
	RawJSON,
	RunID,
	Suites,
	CaptureOutput,
	Timestamps,
	Summary,
	FailuresOnly,
}
var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, opmetrics.CLIFlags(EnvVarPrefix)...)

	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return opflags.CheckRequiredXor(ctx)
}
