package result

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/docker/go-units"
	"github.com/fatih/color"

	"github.com/amazonlinux/bottlerocket/sysupgrade/pkg/engine"
	"github.com/amazonlinux/bottlerocket/sysupgrade/pkg/transaction"
)

// Summary is everything the operator is told at the end of a run.
type Summary struct {
	Outcome  Outcome
	Code     engine.Code
	Testing  bool
	Problems engine.ProblemSet

	// Skipped and CheckProblems are the recoverable errors met while
	// building the transaction.
	Skipped       []transaction.Skipped
	CheckProblems engine.ProblemSet
}

// Reporter writes summaries.
type Reporter struct {
	w      io.Writer
	colors bool
}

// NewReporter writes to w, in color if w is the terminal.
func NewReporter(w io.Writer) *Reporter {
	colors := false
	if f, ok := w.(*os.File); ok && (f == os.Stdout || f == os.Stderr) {
		colors = !color.NoColor
	}
	return &Reporter{w: w, colors: colors}
}

func (r *Reporter) paint(attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	if !r.colors {
		c.DisableColor()
	}
	return c
}

// Report writes the summary. Failures list every problem verbatim.
func (r *Reporter) Report(s Summary) {
	r.recoverable(s)

	verb := "upgrade"
	if s.Testing {
		verb = "upgrade test"
	}
	switch s.Outcome {
	case Success:
		r.paint(color.FgGreen, color.Bold).Fprintf(r.w, "%s complete\n", verb)
	case SuccessWithWarnings:
		r.paint(color.FgYellow, color.Bold).Fprintf(r.w, "%s complete with warnings (engine returned %d)\n", verb, s.Code)
		r.problems(s.Problems)
	case Failure:
		r.paint(color.FgRed, color.Bold).Fprintf(r.w, "%s failed (engine returned %d):\n", verb, s.Code)
		r.problems(s.Problems)
	}
}

func (r *Reporter) recoverable(s Summary) {
	if len(s.Skipped) > 0 {
		r.paint(color.FgYellow).Fprintf(r.w, "skipped %d package(s):\n", len(s.Skipped))
		for _, sk := range s.Skipped {
			fmt.Fprintf(r.w, "  %s: %v\n", sk.Key, sk.Err)
		}
	}
	if s.CheckProblems.Len() > 0 {
		r.paint(color.FgYellow).Fprintf(r.w, "transaction check found %d problem(s):\n", s.CheckProblems.Len())
		for _, p := range s.CheckProblems {
			fmt.Fprintf(r.w, "  %s\n", p.Description)
		}
	}
}

func (r *Reporter) problems(problems engine.ProblemSet) {
	for _, kind := range problems.Kinds() {
		of := problems.Filter(func(k engine.ProblemKind) bool { return k == kind })
		r.paint(color.Bold).Fprintf(r.w, "  %s (%d)\n", kind.Describe(), of.Len())
		if kind == engine.ProblemDiskSpace {
			for _, need := range DiskNeeds(of) {
				fmt.Fprintf(r.w, "    needs %s more space on %s\n", units.BytesSize(float64(need.Bytes)), need.Mount)
			}
		}
	}
	for _, p := range problems {
		fmt.Fprintf(r.w, "  %s\n", p.Description)
	}
}

// DiskNeed is the largest additional space required on a filesystem.
type DiskNeed struct {
	Mount string
	Bytes uint64
}

// DiskNeeds summarizes disk space problems per mount point, sorted by mount.
func DiskNeeds(problems engine.ProblemSet) []DiskNeed {
	largest := map[string]uint64{}
	for _, p := range problems {
		if p.Kind != engine.ProblemDiskSpace || p.Mount == "" {
			continue
		}
		if p.Need > largest[p.Mount] {
			largest[p.Mount] = p.Need
		}
	}
	var needs []DiskNeed
	for mount, bytes := range largest {
		needs = append(needs, DiskNeed{Mount: mount, Bytes: bytes})
	}
	sort.Slice(needs, func(i, j int) bool { return needs[i].Mount < needs[j].Mount })
	return needs
}
