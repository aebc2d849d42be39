package engine

// Engine is implemented by owners of package transactions. The engine
// resolves, verifies, orders and applies package installs and erasures; the
// upgrade only drives it.
type Engine interface {
	// NewTransaction creates an empty transaction bound to the given root
	// directory.
	NewTransaction(root string) (Transaction, error)
}

// Transaction is a set of install and erase elements applied atomically by
// the engine.
type Transaction interface {
	// DisableSignatures turns off package signature verification. Staged
	// packages are trusted by virtue of having been staged.
	DisableSignatures()
	// AddInstall opens and parses the package at path and adds it as an
	// install element. The key is handed back in events concerning the
	// package.
	AddInstall(path, key string) (*Package, error)
	// Elements provides the transaction's element set as classified by the
	// engine. Adding a package may cause installed packages to be marked for
	// erasure.
	Elements() ([]Element, error)
	// Check runs the engine's consistency check. The returned error reports
	// structural failure of the check itself (eg: an unreadable database),
	// problems found by a successful check are returned in the ProblemSet.
	Check() (ProblemSet, error)
	// Order sorts the transaction elements for execution. Failure indicates
	// an engine invariant violation.
	Order() error
	// Run applies the transaction, blocking until it completes. Events are
	// delivered to the sink on the calling goroutine. The returned error is
	// reserved for failures to execute at all; transaction failures are
	// reported by the Code and Problems.
	Run(flags Flags, sink Sink) (Code, error)
	// Problems reports the problems collected by the last Run.
	Problems() ProblemSet
	// Close releases resources held by the transaction.
	Close() error
}

// Sink receives the engine's event stream. Handle is called synchronously
// by the engine while it runs: implementations must not block and must not
// call back into the engine.
type Sink interface {
	Handle(Event)
}

// Flags modify how a transaction is run.
type Flags struct {
	// Test simulates the transaction without applying changes. The event
	// stream is still delivered.
	Test bool
	// Ignore lists the problem kinds the engine should disregard when
	// deciding whether to apply the transaction.
	Ignore []ProblemKind
}

// Code is the engine's transaction return code.
type Code int

// Succeeded reports whether the code indicates success.
func (c Code) Succeeded() bool {
	return c == 0
}

// ElementType classifies a transaction element.
type ElementType int

const (
	// Install adds (or upgrades to) a package.
	Install ElementType = iota
	// Erase removes an installed package.
	Erase
)

func (t ElementType) String() string {
	switch t {
	case Install:
		return "install"
	case Erase:
		return "erase"
	}
	return "unknown"
}

// Element is a single member of a transaction.
type Element struct {
	Type ElementType
	// NVR is the name-version-release of the package.
	NVR string
	// Key is the lookup key given to AddInstall. It is empty for erasures.
	Key string
}

// Package is the identity of a package read from its header.
type Package struct {
	Name    string
	Epoch   int
	Version string
	Release string
	Arch    string
	// Path is the file the package was read from.
	Path string
}

// NVR returns the package's name-version-release identity used for display.
func (p *Package) NVR() string {
	if p == nil {
		return ""
	}
	return p.Name + "-" + p.Version + "-" + p.Release
}

// Tally counts install and erase elements.
func Tally(elements []Element) (installs, erases int) {
	for _, e := range elements {
		if e.Type == Install {
			installs++
		} else {
			erases++
		}
	}
	return installs, erases
}
