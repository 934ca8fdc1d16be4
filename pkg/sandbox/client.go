package sandbox

import (
	"context"

	"github.com/rs/zerolog"
)

// Runner is the execution surface the worker depends on.
type Runner interface {
	Execute(ctx context.Context, req Request) ExecutionResults
}

// Request describes one code execution: the submitted source and the hidden
// test cases of the exercise.
type Request struct {
	Language  Language
	Source    string
	TestCases []TestCase
}

// Client dispatches execution requests to the right backend: the external
// compile-and-run sandbox for compiled languages, the container batch runner
// for interpreted ones. Execute never returns a Go error; every failure
// talking to a backend is normalized into a StateInternalError result so the
// caller always receives a well-formed ExecutionResults.
type Client struct {
	compile *CompileRunner
	batch   *BatchRunner
	logger  zerolog.Logger
}

// NewClient assembles a dispatching client from the two backends.
func NewClient(compile *CompileRunner, batch *BatchRunner, logger zerolog.Logger) *Client {
	return &Client{
		compile: compile,
		batch:   batch,
		logger:  logger.With().Str("component", "sandbox_client").Logger(),
	}
}

// Execute runs the request and normalizes every backend failure.
func (c *Client) Execute(ctx context.Context, req Request) ExecutionResults {
	var (
		results ExecutionResults
		err     error
	)

	if req.Language.Compiled() {
		if c.compile == nil {
			return InternalError("compile sandbox not configured")
		}
		results, err = c.compile.Run(ctx, req.Source, req.TestCases)
	} else {
		if c.batch == nil {
			return InternalError("batch runner not configured")
		}
		results, err = c.batch.Run(ctx, req.Language, req.Source, req.TestCases)
	}

	if err != nil {
		c.logger.Error().Err(err).Str("language", string(req.Language)).Msg("code execution failed")
		return InternalError(err.Error())
	}

	return results
}
