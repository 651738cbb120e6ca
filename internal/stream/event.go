// Package stream defines the progress event protocol for code-application
// runs and its server-sent-event transport.
package stream

// Event types, in the order they can occur in a run. Every run starts with
// TypeStart and ends with exactly one of TypeComplete or TypeError.
const (
	TypeStart           = "start"
	TypeStep            = "step"
	TypeFileProgress    = "file-progress"
	TypeFileComplete    = "file-complete"
	TypePackageProgress = "package-progress"
	TypeCommandProgress = "command-progress"
	TypeCommandOutput   = "command-output"
	TypeCommandComplete = "command-complete"
	TypeWarning         = "warning"
	TypeError           = "error"
	TypeComplete        = "complete"
)

// File and command actions reported in progress events.
const (
	ActionCreate  = "create"
	ActionUpdate  = "update"
	ActionExecute = "execute"
)

// Results aggregates what a run produced. Sequences accumulate monotonically
// over the run and are emitted only in the terminal complete event.
type Results struct {
	FilesCreated      []string `json:"filesCreated"`
	FilesUpdated      []string `json:"filesUpdated"`
	PackagesInstalled []string `json:"packagesInstalled"`
}

// Event is one step of a code-application run. The Type field discriminates
// which of the optional fields are meaningful. Intermediate events carry
// deltas (a single file or package), not running totals.
type Event struct {
	Type string `json:"type"`

	// start, step, package-progress, warning
	Message string `json:"message,omitempty"`

	// start
	TotalSteps int `json:"totalSteps,omitempty"`

	// step
	Step     int      `json:"step,omitempty"`
	Packages []string `json:"packages,omitempty"`

	// file-progress, command-progress
	Current int `json:"current,omitempty"`
	Total   int `json:"total,omitempty"`

	// file-progress, file-complete
	FileName string `json:"fileName,omitempty"`
	Action   string `json:"action,omitempty"`

	// package-progress
	InstalledPackages []string `json:"installedPackages,omitempty"`

	// command-progress, command-output, command-complete
	Command string `json:"command,omitempty"`

	// command-output
	Output string `json:"output,omitempty"`
	Stream string `json:"stream,omitempty"` // "stdout" or "stderr"

	// command-complete. Pointers so a successful command's zero exit code
	// and explicit success=false survive omitempty.
	ExitCode *int  `json:"exitCode,omitempty"`
	Success  *bool `json:"success,omitempty"`

	// error
	Error string `json:"error,omitempty"`

	// complete
	Results     *Results `json:"results,omitempty"`
	Explanation string   `json:"explanation,omitempty"`
	Structure   string   `json:"structure,omitempty"`
}

// Start begins a run.
func Start(message string, totalSteps int) Event {
	return Event{Type: TypeStart, Message: message, TotalSteps: totalSteps}
}

// Step announces a numbered phase of the run.
func Step(message string, step int, packages []string) Event {
	return Event{Type: TypeStep, Message: message, Step: step, Packages: packages}
}

// FileProgress announces that a file is being written.
func FileProgress(current, total int, fileName, action string) Event {
	return Event{Type: TypeFileProgress, Current: current, Total: total, FileName: fileName, Action: action}
}

// FileComplete announces that a file was written.
func FileComplete(fileName, action string) Event {
	return Event{Type: TypeFileComplete, FileName: fileName, Action: action}
}

// PackageProgress reports package installation progress. installed carries
// only the packages confirmed so far in this step.
func PackageProgress(message string, installed []string) Event {
	return Event{Type: TypePackageProgress, Message: message, InstalledPackages: installed}
}

// CommandProgress announces that a command is about to run.
func CommandProgress(current, total int, command string) Event {
	return Event{Type: TypeCommandProgress, Current: current, Total: total, Command: command, Action: ActionExecute}
}

// CommandOutput carries one chunk of command output. stream is "stdout" or
// "stderr".
func CommandOutput(command, output, stream string) Event {
	return Event{Type: TypeCommandOutput, Command: command, Output: output, Stream: stream}
}

// CommandComplete reports a command's exit code.
func CommandComplete(command string, exitCode int) Event {
	success := exitCode == 0
	return Event{Type: TypeCommandComplete, Command: command, ExitCode: &exitCode, Success: &success}
}

// Warning reports a recoverable problem; the run continues.
func Warning(message string) Event {
	return Event{Type: TypeWarning, Message: message}
}

// Error terminates a run unsuccessfully.
func Error(err string) Event {
	return Event{Type: TypeError, Error: err}
}

// Complete terminates a run successfully with its aggregated results.
func Complete(results Results, explanation, structure, message string) Event {
	return Event{
		Type:        TypeComplete,
		Results:     &results,
		Explanation: explanation,
		Structure:   structure,
		Message:     message,
	}
}

// Terminal reports whether the event ends a run.
func (e Event) Terminal() bool {
	return e.Type == TypeComplete || e.Type == TypeError
}
