package rpmcli

import (
	"regexp"
	"strings"

	"github.com/docker/go-units"

	"github.com/amazonlinux/bottlerocket/sysupgrade/pkg/engine"
)

var (
	// "file /usr/bin/x from install of a-1-1.x86_64 conflicts with file from package b-1-1.x86_64"
	fileConflictLine = regexp.MustCompile(`^file \S+ from install of \S+ conflicts with file from package`)
	// "installing package a-1-1.x86_64 needs 10MB more space on the / filesystem"
	diskSpaceLine = regexp.MustCompile(`needs (\S+) more space on the (\S+) filesystem`)
	// "installing package a-1-1.x86_64 needs 12 more inodes on the / filesystem"
	diskNodesLine = regexp.MustCompile(`needs \S+ more inodes on the \S+ filesystem`)
	// "error: a-1-1.x86_64: install failed", "error: a-0-1.x86_64: erase failed"
	elementFailedLine = regexp.MustCompile(`^error: \S+: (install|erase) failed`)
)

// classify determines the kind of a problem line as rpm prints it, without
// indentation.
func classify(line string) engine.ProblemKind {
	switch {
	case strings.Contains(line, " is needed by "):
		return engine.ProblemRequires
	case fileConflictLine.MatchString(line):
		return engine.ProblemFileConflict
	case strings.Contains(line, " conflicts with "):
		return engine.ProblemConflict
	case diskSpaceLine.MatchString(line):
		return engine.ProblemDiskSpace
	case diskNodesLine.MatchString(line):
		return engine.ProblemDiskNodes
	case strings.Contains(line, "(which is newer than"):
		return engine.ProblemOldPackage
	case strings.HasSuffix(line, " is already installed"):
		return engine.ProblemInstalled
	case strings.Contains(line, "is intended for a different architecture"):
		return engine.ProblemBadArch
	case strings.Contains(line, "is intended for a different operating system"):
		return engine.ProblemBadOS
	}
	return engine.ProblemUnknown
}

// problemCollector gathers problems from rpm's output. Problems are printed
// as indented lines following a header.
type problemCollector struct {
	inBlock  bool
	problems engine.ProblemSet
}

// Line consumes one line of output, reporting whether it was part of a
// problem report.
func (c *problemCollector) Line(line string) bool {
	switch {
	case line == "error: Failed dependencies:" || line == "Transaction check error:":
		c.inBlock = true
		return true
	case elementFailedLine.MatchString(line):
		c.inBlock = false
		c.add(engine.ProblemRun, strings.TrimPrefix(line, "error: "))
		return true
	case c.inBlock && startsIndented(line):
		c.add(classify(strings.TrimSpace(line)), strings.TrimSpace(line))
		return true
	}
	c.inBlock = false
	return false
}

func (c *problemCollector) add(kind engine.ProblemKind, description string) {
	p := engine.Problem{Kind: kind, Description: description}
	if kind == engine.ProblemDiskSpace {
		diskNeed(&p)
	}
	c.problems = append(c.problems, p)
}

func startsIndented(line string) bool {
	return strings.HasPrefix(line, "\t") || strings.HasPrefix(line, " ")
}

// diskNeed fills in the mount point and size of a disk space problem.
func diskNeed(p *engine.Problem) {
	m := diskSpaceLine.FindStringSubmatch(p.Description)
	if m == nil {
		return
	}
	p.Mount = m[2]
	p.Need = parseSize(m[1])
}

// parseSize reads sizes as rpm formats them: a count with a B, KB or MB
// suffix in powers of 1024, thousands grouped with commas.
func parseSize(s string) uint64 {
	n, err := units.RAMInBytes(strings.Replace(s, ",", "", -1))
	if err != nil || n < 0 {
		return 0
	}
	return uint64(n)
}

// ignoreFlags translates problem kinds to disregard into rpm options. rpm
// only ignores disk space and inodes together, so --ignoresize is used only
// when both are ignored.
func ignoreFlags(kinds []engine.ProblemKind) []string {
	set := engine.NewKindSet(kinds...)
	var flags []string
	if set.Has(engine.ProblemRequires) || set.Has(engine.ProblemConflict) {
		flags = append(flags, "--nodeps")
	}
	if set.Has(engine.ProblemFileConflict) {
		flags = append(flags, "--replacefiles")
	}
	if set.Has(engine.ProblemInstalled) {
		flags = append(flags, "--replacepkgs")
	}
	if set.Has(engine.ProblemOldPackage) {
		flags = append(flags, "--oldpackage")
	}
	if set.Has(engine.ProblemBadArch) {
		flags = append(flags, "--ignorearch")
	}
	if set.Has(engine.ProblemBadOS) {
		flags = append(flags, "--ignoreos")
	}
	if set.Has(engine.ProblemDiskSpace) && set.Has(engine.ProblemDiskNodes) {
		flags = append(flags, "--ignoresize")
	}
	return flags
}
