package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Outcome codes returned by the external compile-and-run sandbox. The numeric
// values are an opaque contract with the configured sandbox vendor and must
// not leak past this package.
const (
	outcomeCompilationError    = 11
	outcomeRuntimeError        = 12
	outcomeTimeout             = 13
	outcomeOK                  = 15
	outcomeMemoryLimitExceeded = 17
	outcomeIllegalSystemCall   = 19
	outcomeInternalError       = 20
	outcomeOverload            = 21
)

var outcomeKinds = map[int]Kind{
	outcomeCompilationError:    KindCompilationError,
	outcomeRuntimeError:        KindRuntimeError,
	outcomeTimeout:             KindTimeout,
	outcomeOK:                  KindOK,
	outcomeMemoryLimitExceeded: KindMemoryLimitExceeded,
	outcomeIllegalSystemCall:   KindIllegalSystemCall,
	outcomeInternalError:       KindInternalError,
	outcomeOverload:            KindOverload,
}

// kindForOutcome maps a sandbox outcome code onto the kind taxonomy,
// defaulting to internal_error for codes outside the contract.
func kindForOutcome(code int) Kind {
	if kind, ok := outcomeKinds[code]; ok {
		return kind
	}
	return KindInternalError
}

type runSpec struct {
	LanguageID string         `json:"language_id"`
	Input      string         `json:"input"`
	SourceCode string         `json:"sourcecode"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

type runRequestBody struct {
	RunSpec runSpec `json:"run_spec"`
}

type runResponseBody struct {
	Outcome int    `json:"outcome"`
	CmpInfo string `json:"cmpinfo"`
	Stdout  string `json:"stdout"`
	Stderr  string `json:"stderr"`
}

// CompileRunner submits compiled-language code to the external sandbox
// service, one HTTP run per test case.
type CompileRunner struct {
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

// NewCompileRunner builds a runner against the sandbox run endpoint. The
// timeout bounds each individual run request.
func NewCompileRunner(baseURL string, timeout time.Duration, logger zerolog.Logger) *CompileRunner {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &CompileRunner{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "compile_runner").Logger(),
	}
}

// Run executes every test case individually against the sandbox. A
// compilation error on any test case short-circuits the remaining ones and is
// reported once for the whole run. Transport failures abort the run with an
// error; the dispatching client converts that into an internal_error result.
func (r *CompileRunner) Run(ctx context.Context, source string, testcases []TestCase) (ExecutionResults, error) {
	results := ExecutionResults{State: StateCompleted}

	for _, tc := range testcases {
		body, err := r.submit(ctx, runSpec{
			LanguageID: "c",
			Input:      tc.Stdin,
			SourceCode: source,
			Parameters: map[string]any{"linkargs": []string{"-lm"}},
		})
		if err != nil {
			return ExecutionResults{}, err
		}

		if body.Outcome == outcomeCompilationError {
			return ExecutionResults{
				CompilationErrors: body.CmpInfo,
				State:             StateCompleted,
			}, nil
		}

		kind := kindForOutcome(body.Outcome)
		result := TestResult{
			ID:     tc.ID,
			Stdout: body.Stdout,
			Stderr: body.Stderr,
			Passed: kind == KindOK && StdoutMatches(body.Stdout, tc.ExpectedStdout),
		}
		if kind != KindOK {
			result.Error = string(kind)
		}
		results.Tests = append(results.Tests, result)
	}

	return results, nil
}

func (r *CompileRunner) submit(ctx context.Context, spec runSpec) (runResponseBody, error) {
	payload, err := json.Marshal(runRequestBody{RunSpec: spec})
	if err != nil {
		return runResponseBody{}, fmt.Errorf("encode run spec: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL, bytes.NewReader(payload))
	if err != nil {
		return runResponseBody{}, fmt.Errorf("build run request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return runResponseBody{}, fmt.Errorf("sandbox request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		r.logger.Error().Int("status", resp.StatusCode).Msg("sandbox responded with error status")
		return runResponseBody{}, fmt.Errorf("sandbox responded with status %d", resp.StatusCode)
	}

	var body runResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return runResponseBody{}, fmt.Errorf("decode sandbox response: %w", err)
	}

	return body, nil
}
