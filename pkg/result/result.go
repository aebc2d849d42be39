// Package result classifies a finished transaction and reports it to the
// operator.
package result

import (
	"github.com/amazonlinux/bottlerocket/sysupgrade/pkg/engine"
)

// Outcome is the classified result of an upgrade.
type Outcome int

const (
	Success Outcome = iota
	// SuccessWithWarnings is a run the engine completed despite reporting
	// failure.
	SuccessWithWarnings
	Failure
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case SuccessWithWarnings:
		return "success with warnings"
	case Failure:
		return "failure"
	}
	return "unknown"
}

// Succeeded reports whether the upgrade was applied.
func (o Outcome) Succeeded() bool {
	return o == Success || o == SuccessWithWarnings
}

// Process exit codes.
const (
	ExitSuccess = 0
	ExitFailure = 1
	ExitUsage   = 2
)

// ExitCode maps the outcome to the process exit code.
func (o Outcome) ExitCode() int {
	if o.Succeeded() {
		return ExitSuccess
	}
	return ExitFailure
}

// Classify interprets the engine's return code and the problems collected
// after the run. A failure code is only a Failure if the engine said what
// went wrong.
func Classify(code engine.Code, problems engine.ProblemSet) Outcome {
	switch {
	case code.Succeeded() && problems.Len() == 0:
		return Success
	case !code.Succeeded() && problems.Len() > 0:
		return Failure
	}
	return SuccessWithWarnings
}
