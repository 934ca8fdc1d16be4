package sandbox

import "strings"

// State is the lifecycle state of a code execution attached to a slot.
type State string

const (
	StateRunning       State = "running"
	StateCompleted     State = "completed"
	StateInternalError State = "internal_error"
)

// Kind classifies the outcome of running a single test case or compilation.
type Kind string

const (
	KindOK                  Kind = "ok"
	KindCompilationError    Kind = "compilation_error"
	KindRuntimeError        Kind = "runtime_error"
	KindTimeout             Kind = "timeout"
	KindMemoryLimitExceeded Kind = "memory_limit_exceeded"
	KindIllegalSystemCall   Kind = "illegal_system_call"
	KindInternalError       Kind = "internal_error"
	KindOverload            Kind = "overload"
)

// Language enumerates the languages the execution pipeline supports.
type Language string

const (
	LanguageC      Language = "c"
	LanguageJS     Language = "js"
	LanguagePython Language = "python"
)

// Compiled reports whether the language goes through the compile-and-run
// sandbox rather than the batch script runner.
func (l Language) Compiled() bool {
	return l == LanguageC
}

// TestCase is one check to run against submitted code. JS and Python test
// cases carry an assertion in Code; C test cases carry a stdin/expected-stdout
// pair.
type TestCase struct {
	ID             uint   `json:"id"`
	Code           string `json:"code"`
	Stdin          string `json:"stdin"`
	ExpectedStdout string `json:"expected_stdout"`
}

// TestResult is the outcome of one test case.
type TestResult struct {
	ID     uint   `json:"id"`
	Passed bool   `json:"passed"`
	Error  string `json:"error,omitempty"`
	Stdout string `json:"stdout,omitempty"`
	Stderr string `json:"stderr,omitempty"`
}

// ExecutionResults is the uniform result structure every runner produces.
// Callers always receive a well-formed value: transport failures and
// malformed runner output are folded into StateInternalError instead of
// surfacing as errors.
type ExecutionResults struct {
	Tests             []TestResult `json:"tests,omitempty"`
	CompilationErrors string       `json:"compilation_errors,omitempty"`
	ExecutionError    string       `json:"execution_error,omitempty"`
	State             State        `json:"state"`
}

// PassedCount returns how many test cases passed.
func (r ExecutionResults) PassedCount() int {
	n := 0
	for _, t := range r.Tests {
		if t.Passed {
			n++
		}
	}
	return n
}

// Running is the placeholder stored on a slot while a run is in flight.
func Running() ExecutionResults {
	return ExecutionResults{State: StateRunning}
}

// InternalError builds a terminal internal_error result with the given message.
func InternalError(msg string) ExecutionResults {
	return ExecutionResults{State: StateInternalError, ExecutionError: msg}
}

// StdoutMatches compares captured stdout against the expected output,
// ignoring trailing newlines and spaces on both sides.
func StdoutMatches(got, want string) bool {
	trim := func(s string) string {
		return strings.TrimRight(strings.TrimRight(s, "\n"), " ")
	}
	return trim(got) == trim(want)
}
