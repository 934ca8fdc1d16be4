package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	batchRunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "evo",
		Subsystem: "sandbox",
		Name:      "batch_run_duration_seconds",
		Help:      "Duration of batch script runs in containers",
		Buckets:   prometheus.DefBuckets,
	}, []string{"language"})

	batchRunTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "evo",
		Subsystem: "sandbox",
		Name:      "batch_run_timeouts_total",
		Help:      "Number of batch runs that hit the timeout",
	}, []string{"language"})

	batchRunFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "evo",
		Subsystem: "sandbox",
		Name:      "batch_run_failures_total",
		Help:      "Number of batch runs that resulted in an error",
	}, []string{"language"})
)

// BatchRunnerConfig groups configuration for the container-based runner.
type BatchRunnerConfig struct {
	Host          string
	Timeout       time.Duration
	MemoryLimitMB int64
	CPUShares     int64
	WorkspaceRoot string
	Logger        zerolog.Logger
}

// BatchRunner executes interpreted-language submissions inside a sandboxed
// container. All test cases of a run are evaluated by a single container
// invocation: the harness program loads the user code once and runs every
// assertion against the resulting environment, isolating per-test failures.
type BatchRunner struct {
	client *client.Client
	cfg    BatchRunnerConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

type languageImage struct {
	Image    string
	FileName string
	Command  []string
}

var batchImages = map[Language]languageImage{
	LanguageJS: {
		Image:    "node:20-alpine",
		FileName: "harness.js",
		Command:  []string{"node", "harness.js"},
	},
	LanguagePython: {
		Image:    "python:3.11-alpine",
		FileName: "harness.py",
		Command:  []string{"python", "harness.py"},
	},
}

// NewBatchRunner constructs a Docker backed batch runner.
func NewBatchRunner(cfg BatchRunnerConfig) (*BatchRunner, error) {
	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	if cfg.WorkspaceRoot == "" {
		cfg.WorkspaceRoot = os.TempDir()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	return &BatchRunner{
		client: cli,
		cfg:    cfg,
		tracer: otel.Tracer("github.com/evo-learning/assess-api/pkg/sandbox"),
		logger: logger.With().Str("component", "batch_runner").Logger(),
	}, nil
}

// Run renders the harness for the given language, executes it in a container
// with networking disabled, and decodes the per-test JSON the harness prints.
// Sandbox-side failures (non-zero exit without results, malformed JSON) are
// returned as errors for the dispatching client to normalize.
func (r *BatchRunner) Run(parent context.Context, language Language, source string, testcases []TestCase) (ExecutionResults, error) {
	img, ok := batchImages[language]
	if !ok {
		return ExecutionResults{}, fmt.Errorf("unsupported batch language %q", language)
	}

	ctx, span := r.tracer.Start(parent, "sandbox.batch.run", trace.WithAttributes(
		attribute.String("sandbox.language", string(language)),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	harness, err := renderHarness(language, source, testcases)
	if err != nil {
		return ExecutionResults{}, err
	}

	workspace, err := os.MkdirTemp(r.cfg.WorkspaceRoot, "run-")
	if err != nil {
		return ExecutionResults{}, fmt.Errorf("create workspace: %w", err)
	}
	defer os.RemoveAll(workspace)

	if err := os.WriteFile(filepath.Join(workspace, img.FileName), []byte(harness), 0o600); err != nil {
		return ExecutionResults{}, fmt.Errorf("write harness: %w", err)
	}

	stdout, stderr, timedOut, runErr := r.runContainer(ctx, img, workspace)
	if timedOut {
		batchRunTimeouts.WithLabelValues(string(language)).Inc()
		span.SetStatus(codes.Error, "batch run timed out")
		return ExecutionResults{}, fmt.Errorf("batch run timed out after %s", r.cfg.Timeout)
	}
	if runErr != nil {
		batchRunFailures.WithLabelValues(string(language)).Inc()
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		return ExecutionResults{}, runErr
	}

	tests, err := decodeHarnessOutput(stdout)
	if err != nil {
		batchRunFailures.WithLabelValues(string(language)).Inc()
		return ExecutionResults{}, fmt.Errorf("decode harness output: %w (stderr: %s)", err, strings.TrimSpace(stderr))
	}

	results := ExecutionResults{Tests: tests, State: StateCompleted}
	if trimmed := strings.TrimSpace(stderr); trimmed != "" {
		results.ExecutionError = trimmed
	}
	return results, nil
}

func (r *BatchRunner) runContainer(ctx context.Context, img languageImage, workspace string) (stdout, stderr string, timedOut bool, err error) {
	hostCfg := &container.HostConfig{
		NetworkMode: "none",
		Resources: container.Resources{
			Memory:    r.cfg.MemoryLimitMB * 1024 * 1024,
			CPUShares: r.cfg.CPUShares,
		},
		Mounts: []mount.Mount{{
			Type:   mount.TypeBind,
			Source: workspace,
			Target: "/workspace",
		}},
	}

	config := &container.Config{
		Image:        img.Image,
		Cmd:          img.Command,
		WorkingDir:   "/workspace",
		AttachStdout: true,
		AttachStderr: true,
	}

	start := time.Now()

	resp, err := r.client.ContainerCreate(ctx, config, hostCfg, &network.NetworkingConfig{}, nil, "")
	if err != nil {
		return "", "", false, fmt.Errorf("container create: %w", err)
	}
	containerID := resp.ID

	defer func() {
		removeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.client.ContainerRemove(removeCtx, containerID, container.RemoveOptions{Force: true}); err != nil {
			r.logger.Error().Err(err).Str("container_id", containerID).Msg("failed to remove container")
		}
	}()

	if err := r.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return "", "", false, fmt.Errorf("container start: %w", err)
	}

	statusCh, errCh := r.client.ContainerWait(ctx, containerID, container.WaitConditionNextExit)

	var waitErr error
	select {
	case werr := <-errCh:
		waitErr = werr
	case <-statusCh:
	case <-ctx.Done():
		waitErr = ctx.Err()
	}

	batchRunDuration.WithLabelValues(config.Image).Observe(time.Since(start).Seconds())

	if waitErr != nil {
		if errors.Is(waitErr, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			killCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := r.client.ContainerKill(killCtx, containerID, "KILL"); err != nil {
				r.logger.Error().Err(err).Str("container_id", containerID).Msg("failed to kill timed out container")
			}
			return "", "", true, nil
		}
		return "", "", false, fmt.Errorf("container wait: %w", waitErr)
	}

	logReader, err := r.client.ContainerLogs(context.Background(), containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", "", false, fmt.Errorf("fetch container logs: %w", err)
	}
	defer logReader.Close()

	return splitContainerLogs(logReader)
}

func splitContainerLogs(reader io.Reader) (string, string, bool, error) {
	var stdoutBuf, stderrBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdoutBuf, &stderrBuf, reader); err != nil {
		return "", "", false, fmt.Errorf("read container logs: %w", err)
	}
	return stdoutBuf.String(), stderrBuf.String(), false, nil
}

// decodeHarnessOutput extracts the JSON test result array the harness prints
// as the last line of stdout.
func decodeHarnessOutput(stdout string) ([]TestResult, error) {
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if last == "" {
		return nil, errors.New("empty harness output")
	}

	var tests []TestResult
	if err := json.Unmarshal([]byte(last), &tests); err != nil {
		return nil, err
	}
	return tests, nil
}

// Close shuts down the runner's underlying docker client.
func (r *BatchRunner) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}
