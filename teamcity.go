package opteamcity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/optimism/op-service/cliapp"
	"github.com/ethereum-optimism/optimism/op-service/httputil"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"

	"github.com/ethereum-optimism/infra/op-teamcity/flags"
	"github.com/ethereum-optimism/infra/op-teamcity/gotest"
	"github.com/ethereum-optimism/infra/op-teamcity/messages"
	"github.com/ethereum-optimism/infra/op-teamcity/metrics"
	"github.com/ethereum-optimism/infra/op-teamcity/reporting"
	"github.com/ethereum-optimism/infra/op-teamcity/tracing"
)

// converter implements the cliapp.Lifecycle interface.
var _ cliapp.Lifecycle = &converter{}

// Source produces a `go test -json` event stream and hands it to consume.
// It returns the exit code of the test process, if any.
type Source interface {
	Run(ctx context.Context, consume func(io.Reader) error) (int, error)
}

// readerSource replays a recorded event stream
type readerSource struct {
	r io.Reader
}

func (s readerSource) Run(_ context.Context, consume func(io.Reader) error) (int, error) {
	return 0, consume(s.r)
}

// converter runs one conversion of test events into service messages.
type converter struct {
	config  *Config
	version string

	source   Source
	stdin    io.Reader
	stdout   io.Writer
	stderr   io.Writer
	closeOut func() error

	registry      *prometheus.Registry
	metrics       *metrics.Metrics
	metricsServer *httputil.HTTPServer
	tracer        trace.Tracer
	recorder      *reporting.Recorder
	stats         gotest.Stats

	running          atomic.Bool
	shutdownCallback func(error) // Callback to signal application shutdown
}

// Option overrides the process streams or the event source
type Option func(*converter)

func WithSource(src Source) Option {
	return func(c *converter) {
		c.source = src
	}
}

func WithStdio(stdin io.Reader, stdout, stderr io.Writer) Option {
	return func(c *converter) {
		c.stdin = stdin
		c.stdout = stdout
		c.stderr = stderr
	}
}

func New(config *Config, version string, shutdownCallback func(error), opts ...Option) (*converter, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if shutdownCallback == nil {
		shutdownCallback = func(error) {}
	}

	config.Log.Debug("Creating converter with config",
		"input", config.Input,
		"output", config.Output,
		"workDir", config.WorkDir,
		"args", config.Args,
		"runID", config.RunID)

	registry := opmetrics.NewRegistry()
	c := &converter{
		config:           config,
		version:          version,
		stdin:            os.Stdin,
		stdout:           os.Stdout,
		stderr:           os.Stderr,
		registry:         registry,
		metrics:          metrics.New(opmetrics.With(registry), config.Log),
		tracer:           otel.Tracer(tracing.TracerName),
		recorder:         reporting.NewRecorder(),
		shutdownCallback: shutdownCallback,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.source == nil {
		c.source = c.defaultSource()
	}
	return c, nil
}

func (c *converter) defaultSource() Source {
	switch c.config.Input {
	case "":
		return &gotest.Command{
			GoBinary: c.config.GoBinary,
			WorkDir:  c.config.WorkDir,
			Args:     c.config.Args,
			Log:      c.config.Log,
		}
	case flags.StdStream:
		return readerSource{r: c.stdin}
	default:
		return fileSource(c.config.Input)
	}
}

// fileSource reads a recorded event stream from a file
type fileSource string

func (s fileSource) Run(ctx context.Context, consume func(io.Reader) error) (int, error) {
	f, err := os.Open(string(s))
	if err != nil {
		return 0, fmt.Errorf("failed to open input: %w", err)
	}
	defer f.Close()
	return readerSource{r: f}.Run(ctx, consume)
}

// Start converts the test events and returns once the stream is exhausted.
// Start implements the cliapp.Lifecycle interface.
func (c *converter) Start(ctx context.Context) error {
	c.running.Store(true)
	c.config.Log.Info("Starting op-teamcity", "version", c.version, "runID", c.config.RunID)

	if err := c.startMetricsServer(); err != nil {
		return NewRuntimeError(err)
	}

	if err := c.run(ctx); err != nil {
		c.config.Log.Error("Runtime error converting test events", "error", err)
		c.metrics.RecordErrorDetails("run", err)
		return NewRuntimeError(err)
	}

	if c.stats.HasFailures() {
		c.config.Log.Warn("Test run completed with failures, returning exit code 1",
			"failed", c.stats.Failed, "errors", c.stats.Errors)
		return NewTestFailureError(c.stats)
	}

	c.config.Log.Info("Test run completed")
	go func() {
		c.shutdownCallback(nil)
	}()
	return nil
}

// run performs a single conversion
func (c *converter) run(ctx context.Context) error {
	start := time.Now()

	out, err := c.openOutput()
	if err != nil {
		return err
	}
	defer func() {
		if c.closeOut != nil {
			if err := c.closeOut(); err != nil {
				c.config.Log.Error("Failed to close output", "error", err)
			}
		}
	}()

	writer := messages.NewWriter(out, messages.WithTimestamps(c.config.Timestamps))
	var spans []*tracing.Sink
	driver, err := gotest.NewDriver(gotest.Config{
		Log:           c.config.Log,
		Expectations:  c.config.Expectations,
		ModulePath:    c.config.ModulePath,
		Suites:        c.config.Suites,
		CaptureOutput: c.config.CaptureOutput,
		NewFlow: func(pkg, flowID string) gotest.Flow {
			flow := writer.Flow(flowID)
			span := tracing.NewSink(ctx, c.tracer, pkg, c.recorder.Sink(pkg, flow))
			spans = append(spans, span)
			return gotest.Flow{
				Sink:   metrics.NewSink(span, c.metrics),
				Suites: flow,
				Output: flow,
				Flows:  flow,
			}
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create driver: %w", err)
	}
	defer func() {
		for _, span := range spans {
			span.Close()
		}
	}()

	exitCode, err := c.source.Run(ctx, func(r io.Reader) error {
		if c.config.RawJSON == "" {
			return driver.Consume(ctx, r)
		}
		raw, err := os.Create(c.config.RawJSON)
		if err != nil {
			return fmt.Errorf("failed to create raw JSON file: %w", err)
		}
		defer func() {
			_ = raw.Close()
		}()
		return driver.Consume(ctx, io.TeeReader(r, raw))
	})
	c.stats = driver.Stats()
	if err != nil {
		return err
	}

	if exitCode != 0 && !c.stats.HasFailures() {
		// go test failed without any test or package failing, e.g. bad flags
		c.config.Log.Error("go test exited with no failing test", "exitCode", exitCode)
		msg := fmt.Sprintf("go test exited with code %d", exitCode)
		if err := writer.Text(msg, messages.StatusError); err != nil {
			return err
		}
		return errors.New(msg)
	}

	if c.config.Summary {
		reporting.PrintSummary(c.stderr, c.recorder.Results(), reporting.SummaryOptions{
			RunID:        c.config.RunID,
			Duration:     time.Since(start),
			FailuresOnly: c.config.FailuresOnly,
		})
	}
	c.config.Log.Info("Converted test events",
		"packages", c.stats.Packages,
		"total", c.stats.Total,
		"passed", c.stats.Passed,
		"failed", c.stats.Failed,
		"errors", c.stats.Errors,
		"skipped", c.stats.Skipped,
		"expectedFailures", c.stats.ExpectedFailures)
	return nil
}

func (c *converter) openOutput() (io.Writer, error) {
	if c.config.Output == "" || c.config.Output == flags.StdStream {
		return c.stdout, nil
	}
	f, err := os.Create(c.config.Output)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	c.closeOut = f.Close
	return f, nil
}

func (c *converter) startMetricsServer() error {
	if !c.config.MetricsConfig.Enabled {
		return nil
	}
	metricsCfg := c.config.MetricsConfig
	c.config.Log.Info("Starting metrics server", "addr", metricsCfg.ListenAddr, "port", metricsCfg.ListenPort)
	metricsServer, err := opmetrics.StartServer(c.registry, metricsCfg.ListenAddr, metricsCfg.ListenPort)
	if err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}
	c.config.Log.Info("Started metrics server", "endpoint", metricsServer.Addr())
	c.metricsServer = metricsServer
	return nil
}

// Stats returns the outcome counts of the last run
func (c *converter) Stats() gotest.Stats {
	return c.stats
}

// Stop implements the cliapp.Lifecycle interface.
func (c *converter) Stop(ctx context.Context) error {
	if !c.running.Load() {
		return nil
	}
	c.running.Store(false)

	if c.metricsServer != nil {
		if err := c.metricsServer.Stop(ctx); err != nil {
			return fmt.Errorf("failed to stop metrics server: %w", err)
		}
	}
	c.config.Log.Info("op-teamcity stopped")
	return nil
}

// Stopped implements the cliapp.Lifecycle interface.
func (c *converter) Stopped() bool {
	return !c.running.Load()
}
