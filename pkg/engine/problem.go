package engine

import (
	"strings"

	"github.com/pkg/errors"
)

// ProblemKind classifies a transaction problem.
type ProblemKind string

const (
	ProblemRequires     ProblemKind = "requires"
	ProblemConflict     ProblemKind = "conflict"
	ProblemFileConflict ProblemKind = "file-conflict"
	ProblemDiskSpace    ProblemKind = "disk-space"
	ProblemDiskNodes    ProblemKind = "disk-nodes"
	ProblemInstalled    ProblemKind = "package-installed"
	ProblemOldPackage   ProblemKind = "old-package"
	ProblemBadArch      ProblemKind = "bad-arch"
	ProblemBadOS        ProblemKind = "bad-os"
	// ProblemRun is a failure applying an element during the run.
	ProblemRun     ProblemKind = "run"
	ProblemUnknown ProblemKind = "unknown"
)

// ProblemKinds lists every known kind.
var ProblemKinds = []ProblemKind{
	ProblemRequires,
	ProblemConflict,
	ProblemFileConflict,
	ProblemDiskSpace,
	ProblemDiskNodes,
	ProblemInstalled,
	ProblemOldPackage,
	ProblemBadArch,
	ProblemBadOS,
	ProblemRun,
	ProblemUnknown,
}

var problemDescriptions = map[ProblemKind]string{
	ProblemRequires:     "required package",
	ProblemConflict:     "package conflicts",
	ProblemFileConflict: "file conflicts",
	ProblemDiskSpace:    "insufficient disk space",
	ProblemDiskNodes:    "insufficient disk inodes",
	ProblemInstalled:    "package already installed",
	ProblemOldPackage:   "older package(s)",
	ProblemBadArch:      "package for incorrect arch",
	ProblemBadOS:        "package for incorrect os",
	ProblemRun:          "failed transaction elements",
	ProblemUnknown:      "other problems",
}

// Describe returns a short human readable description of the kind.
func (k ProblemKind) Describe() string {
	if d, ok := problemDescriptions[k]; ok {
		return d
	}
	return string(k)
}

// ParseProblemKind validates a configured problem kind name.
func ParseProblemKind(s string) (ProblemKind, error) {
	want := ProblemKind(strings.ToLower(strings.TrimSpace(s)))
	for _, k := range ProblemKinds {
		if k == want {
			return k, nil
		}
	}
	return "", errors.Errorf("unknown problem kind %q", s)
}

// Problem is an engine reported conflict or failure.
type Problem struct {
	Kind        ProblemKind
	Description string
	// Mount and Need are set for disk space problems: the filesystem and
	// the additional bytes required on it.
	Mount string
	Need  uint64
}

func (p Problem) String() string {
	return p.Description
}

// ProblemSet is the list of problems collected from the engine.
type ProblemSet []Problem

// Len reports the number of problems.
func (ps ProblemSet) Len() int {
	return len(ps)
}

// Filter returns the problems whose kind satisfies keep.
func (ps ProblemSet) Filter(keep func(ProblemKind) bool) ProblemSet {
	var out ProblemSet
	for _, p := range ps {
		if keep(p.Kind) {
			out = append(out, p)
		}
	}
	return out
}

// Kinds returns the distinct kinds present in the set, in first seen order.
func (ps ProblemSet) Kinds() []ProblemKind {
	seen := map[ProblemKind]bool{}
	var kinds []ProblemKind
	for _, p := range ps {
		if !seen[p.Kind] {
			seen[p.Kind] = true
			kinds = append(kinds, p.Kind)
		}
	}
	return kinds
}

// KindSet is a set of problem kinds.
type KindSet map[ProblemKind]bool

// NewKindSet builds a set of the given kinds.
func NewKindSet(kinds ...ProblemKind) KindSet {
	s := KindSet{}
	for _, k := range kinds {
		s[k] = true
	}
	return s
}

// Has reports membership of k.
func (s KindSet) Has(k ProblemKind) bool {
	return s[k]
}

// AllExcept returns every known kind other than those given.
func AllExcept(kinds ...ProblemKind) []ProblemKind {
	except := NewKindSet(kinds...)
	var out []ProblemKind
	for _, k := range ProblemKinds {
		if !except.Has(k) {
			out = append(out, k)
		}
	}
	return out
}
