package transaction

import (
	"github.com/amazonlinux/bottlerocket/sysupgrade/pkg/engine"
)

// CheckPolicy decides what becomes of the problems found by the check pass.
// Kinds in neither list are ignored.
type CheckPolicy struct {
	// Report lists kinds logged as warnings and included in the final
	// report.
	Report []engine.ProblemKind
	// Fatal lists kinds that abort the upgrade before it runs. Fatal takes
	// precedence over Report.
	Fatal []engine.ProblemKind
}

// DefaultCheckPolicy tolerates every problem, reporting dependency
// problems. The transaction is attempted regardless and its outcome decides.
var DefaultCheckPolicy = CheckPolicy{
	Report: []engine.ProblemKind{engine.ProblemConflict, engine.ProblemRequires},
}

// CheckResult is a check pass' problems sorted by the policy.
type CheckResult struct {
	Fatal    engine.ProblemSet
	Reported engine.ProblemSet
	Ignored  engine.ProblemSet
}

// Apply sorts problems according to the policy.
func (p CheckPolicy) Apply(problems engine.ProblemSet) CheckResult {
	fatal := engine.NewKindSet(p.Fatal...)
	report := engine.NewKindSet(p.Report...)
	return CheckResult{
		Fatal: problems.Filter(fatal.Has),
		Reported: problems.Filter(func(k engine.ProblemKind) bool {
			return !fatal.Has(k) && report.Has(k)
		}),
		Ignored: problems.Filter(func(k engine.ProblemKind) bool {
			return !fatal.Has(k) && !report.Has(k)
		}),
	}
}

// DefaultIgnore is the run time problem filter: the engine proceeds despite
// everything except running out of disk space.
var DefaultIgnore = engine.AllExcept(engine.ProblemDiskSpace)

// Flags returns the run flags for a transaction. A nil ignore list selects
// DefaultIgnore, an empty one makes every problem count.
func Flags(test bool, ignore []engine.ProblemKind) engine.Flags {
	if ignore == nil {
		ignore = DefaultIgnore
	}
	return engine.Flags{Test: test, Ignore: ignore}
}
