package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

// Error categories
const (
	// Graph build errors (BUILD-001 to BUILD-099)
	ErrCodeBuildCycle      ErrorCode = "BUILD-001"
	ErrCodeBuildDangling   ErrorCode = "BUILD-002"
	ErrCodeBuildDuplicate  ErrorCode = "BUILD-003"
	ErrCodeBuildInvalid    ErrorCode = "BUILD-004"
	ErrCodeBuildMismatched ErrorCode = "BUILD-005"

	// Planner errors (PLAN-001 to PLAN-099)
	ErrCodePlanFailed      ErrorCode = "PLAN-001"
	ErrCodePlanUnparseable ErrorCode = "PLAN-002"
	ErrCodePlanNotFound    ErrorCode = "PLAN-003"
	ErrCodePlanUnsupported ErrorCode = "PLAN-004"

	// Graph run errors (GRAPH-001 to GRAPH-099)
	ErrCodeGraphNotFound   ErrorCode = "GRAPH-001"
	ErrCodeGraphTerminal   ErrorCode = "GRAPH-002"
	ErrCodeGraphActive     ErrorCode = "GRAPH-003"
	ErrCodeGraphDeadlock   ErrorCode = "GRAPH-004"
	ErrCodeGraphCancelled  ErrorCode = "GRAPH-005"
	ErrCodeGraphFailed     ErrorCode = "GRAPH-006"
	ErrCodeGraphPartial    ErrorCode = "GRAPH-007"
	ErrCodeEngineStopped   ErrorCode = "GRAPH-008"
	ErrCodeGraphNotRunning ErrorCode = "GRAPH-009"

	// Tool errors (TOOL-001 to TOOL-099)
	ErrCodeToolNotFound ErrorCode = "TOOL-001"
	ErrCodeToolConfig   ErrorCode = "TOOL-002"
	ErrCodeToolSchema   ErrorCode = "TOOL-003"

	// Store errors (STORE-001 to STORE-099)
	ErrCodeStoreUnavailable ErrorCode = "STORE-001"
	ErrCodeStoreWrite       ErrorCode = "STORE-002"
	ErrCodeStoreRead        ErrorCode = "STORE-003"
	ErrCodeStoreDriver      ErrorCode = "STORE-004"

	// Configuration errors (CONFIG-001 to CONFIG-099)
	ErrCodeConfigInvalid ErrorCode = "CONFIG-001"
	ErrCodeConfigLoad    ErrorCode = "CONFIG-002"

	// File I/O errors (IO-001 to IO-099)
	ErrCodeFileNotFound    ErrorCode = "IO-001"
	ErrCodeFileReadFailed  ErrorCode = "IO-002"
	ErrCodeFileWriteFailed ErrorCode = "IO-003"
	ErrCodeDirectoryFailed ErrorCode = "IO-004"
	ErrCodeFileUnmarshal   ErrorCode = "IO-005"
	ErrCodeFileMarshal     ErrorCode = "IO-006"

	// Client errors (API-001 to API-099)
	ErrCodeAPIUnreachable ErrorCode = "API-001"
	ErrCodeAPIResponse    ErrorCode = "API-002"
)

// TaskgraphError is a user-facing error with a code and optional remediation hints.
type TaskgraphError struct {
	Code        ErrorCode
	Message     string
	Suggestions []string
	DocsURL     string
	Cause       error
}

// Error implements the error interface
func (e *TaskgraphError) Error() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf(": %v", e.Cause))
	}

	if len(e.Suggestions) > 0 {
		b.WriteString("\n\nSuggestions:")
		for _, suggestion := range e.Suggestions {
			b.WriteString(fmt.Sprintf("\n  • %s", suggestion))
		}
	}

	if e.DocsURL != "" {
		b.WriteString(fmt.Sprintf("\n\nDocumentation: %s", e.DocsURL))
	}

	return b.String()
}

// Unwrap implements error unwrapping for errors.Is and errors.As
func (e *TaskgraphError) Unwrap() error {
	return e.Cause
}

// Category returns the code family, e.g. "BUILD" for "BUILD-001"
func (e *TaskgraphError) Category() string {
	code := string(e.Code)
	if i := strings.IndexByte(code, '-'); i > 0 {
		return code[:i]
	}
	return code
}

// New creates a new TaskgraphError
func New(code ErrorCode, message string) *TaskgraphError {
	return &TaskgraphError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new TaskgraphError wrapping an existing error
func Wrap(code ErrorCode, message string, cause error) *TaskgraphError {
	return &TaskgraphError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// WithSuggestion adds a suggestion to the error
func (e *TaskgraphError) WithSuggestion(suggestion string) *TaskgraphError {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// WithSuggestions adds multiple suggestions to the error
func (e *TaskgraphError) WithSuggestions(suggestions ...string) *TaskgraphError {
	e.Suggestions = append(e.Suggestions, suggestions...)
	return e
}

// WithDocs adds a documentation URL to the error
func (e *TaskgraphError) WithDocs(url string) *TaskgraphError {
	e.DocsURL = url
	return e
}

// CodeOf returns the code of the first TaskgraphError in err's chain.
func CodeOf(err error) (ErrorCode, bool) {
	var tgErr *TaskgraphError
	if stderrors.As(err, &tgErr) {
		return tgErr.Code, true
	}
	return "", false
}

// HasCode reports whether err's chain carries the given code.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		var tgErr *TaskgraphError
		if !stderrors.As(err, &tgErr) {
			return false
		}
		if tgErr.Code == code {
			return true
		}
		err = tgErr.Cause
	}
	return false
}

// Common error constructors for frequently used errors

// NewBuildCycleError creates a cyclic dependency error
func NewBuildCycleError(cause error) *TaskgraphError {
	return Wrap(ErrCodeBuildCycle, "task graph contains a dependency cycle", cause).
		WithSuggestion("Remove one of the dependencies named in the cycle").
		WithSuggestion("Run 'taskgraph plan validate <file>' to inspect the graph").
		WithDocs("https://github.com/felixgeelhaar/taskgraph#graph-validation")
}

// NewBuildDanglingError creates an unknown dependency error
func NewBuildDanglingError(cause error) *TaskgraphError {
	return Wrap(ErrCodeBuildDangling, "task depends on an unknown task", cause).
		WithSuggestion("Check the dependency ids against the task ids in the plan").
		WithDocs("https://github.com/felixgeelhaar/taskgraph#graph-validation")
}

// NewBuildDuplicateError creates a duplicate task id error
func NewBuildDuplicateError(cause error) *TaskgraphError {
	return Wrap(ErrCodeBuildDuplicate, "task ids must be unique within a graph", cause).
		WithSuggestion("Rename one of the tasks sharing the id")
}

// NewPlanFailedError creates a planner failure error
func NewPlanFailedError(objective string, cause error) *TaskgraphError {
	return Wrap(ErrCodePlanFailed, fmt.Sprintf("planner failed for objective %q", objective), cause).
		WithSuggestion("Check the planner command configured under 'planner.command'").
		WithSuggestion("Use --plan <file> to run a pre-built plan instead")
}

// NewPlanUnparseableError creates a planner output parse error
func NewPlanUnparseableError(cause error) *TaskgraphError {
	return Wrap(ErrCodePlanUnparseable, "planner output is not a task list", cause).
		WithSuggestion("The planner must print a JSON array of tasks or an object with a \"tasks\" field")
}

// NewGraphNotFoundError creates an unknown graph error
func NewGraphNotFoundError(graphID string) *TaskgraphError {
	return New(ErrCodeGraphNotFound, fmt.Sprintf("graph not found: %s", graphID)).
		WithSuggestion("Run 'taskgraph list' to see known graphs")
}

// NewGraphTerminalError creates an error for operations on finished graphs
func NewGraphTerminalError(graphID string, status string) *TaskgraphError {
	return New(ErrCodeGraphTerminal, fmt.Sprintf("graph %s already finished with status %s", graphID, status))
}

// NewGraphActiveError creates an error for operations that need a finished graph
func NewGraphActiveError(graphID string) *TaskgraphError {
	return New(ErrCodeGraphActive, fmt.Sprintf("graph %s is still running", graphID)).
		WithSuggestion(fmt.Sprintf("Run 'taskgraph cancel %s' first", graphID))
}

// NewToolNotFoundError creates an unknown tool error
func NewToolNotFoundError(name string) *TaskgraphError {
	return New(ErrCodeToolNotFound, fmt.Sprintf("tool not registered: %s", name)).
		WithSuggestion("Declare the tool under 'tools' in the configuration file").
		WithSuggestion("Built-in tools: echo, sleep, fail, flaky")
}

// NewStoreUnavailableError creates a store connectivity error
func NewStoreUnavailableError(driver string, cause error) *TaskgraphError {
	return Wrap(ErrCodeStoreUnavailable, fmt.Sprintf("record store unavailable (driver %s)", driver), cause).
		WithSuggestion("Check 'store.dsn' or 'store.dir' in the configuration file")
}

// NewConfigInvalidError creates a configuration validation error
func NewConfigInvalidError(details string) *TaskgraphError {
	return New(ErrCodeConfigInvalid, fmt.Sprintf("invalid configuration: %s", details)).
		WithSuggestion("Run 'taskgraph config view' to inspect the effective configuration")
}

// NewFileNotFoundError creates a file not found error
func NewFileNotFoundError(path string) *TaskgraphError {
	return New(ErrCodeFileNotFound, fmt.Sprintf("file not found: %s", path)).
		WithSuggestion("Check if the file path is correct").
		WithSuggestion("Verify the file exists and you have read permissions")
}

// NewFileUnmarshalError creates an unmarshal error
func NewFileUnmarshalError(path string, format string, cause error) *TaskgraphError {
	return Wrap(ErrCodeFileUnmarshal, fmt.Sprintf("failed to parse %s file: %s", format, path), cause).
		WithSuggestion("Check the file syntax and format").
		WithSuggestion(fmt.Sprintf("Ensure the file is valid %s", format))
}

// NewAPIUnreachableError creates a server connectivity error
func NewAPIUnreachableError(baseURL string, cause error) *TaskgraphError {
	return Wrap(ErrCodeAPIUnreachable, fmt.Sprintf("cannot reach taskgraph server at %s", baseURL), cause).
		WithSuggestion("Start the server with 'taskgraph serve'").
		WithSuggestion("Pass --server to point at a different address")
}
