// Package rpmcli implements the package transaction engine on top of the
// rpm command line tool.
//
// Package headers are read directly from the staged files. The transaction
// itself is applied by a single `rpm --upgrade` invocation whose progress
// output is translated into engine events as it is written.
package rpmcli

import (
	"io"
	"os"
	"strings"
	"time"

	rpm "github.com/cavaliercoder/go-rpm"
	"github.com/karlseguin/ccache"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/amazonlinux/bottlerocket/sysupgrade/pkg/engine"
	"github.com/amazonlinux/bottlerocket/sysupgrade/pkg/internal/logfields"
	"github.com/amazonlinux/bottlerocket/sysupgrade/pkg/logging"
)

const queryTimeout = time.Minute * 5

const queryFormat = `%{NAME}-%{VERSION}-%{RELEASE}.%{ARCH}\n`

// Engine runs transactions with the rpm binary.
type Engine struct {
	log logging.Logger
	bin command
	// dbPath overrides the rpm database location within the root.
	dbPath string
	// output receives scriptlet output.
	output io.Writer
	// installed caches the installed versions of package names.
	installed *ccache.Cache
}

// Option configures an Engine.
type Option func(*Engine)

// WithCommand uses the rpm binary at path.
func WithCommand(path string) Option {
	return func(e *Engine) {
		if path != "" {
			e.bin = &executable{bin: path}
		}
	}
}

// WithDBPath sets the database location relative to the root.
func WithDBPath(path string) Option {
	return func(e *Engine) {
		e.dbPath = path
	}
}

// WithOutput sends scriptlet output to w.
func WithOutput(w io.Writer) Option {
	return func(e *Engine) {
		e.output = w
	}
}

// New creates an rpm backed engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		log:       logging.New("rpm"),
		bin:       &executable{bin: DefaultCommand},
		output:    os.Stdout,
		installed: ccache.New(ccache.Configure().MaxSize(1000).ItemsToPrune(100)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewTransaction implements engine.Engine.
func (e *Engine) NewTransaction(root string) (engine.Transaction, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, errors.Wrap(err, "invalid transaction root")
	}
	if !info.IsDir() {
		return nil, errors.Errorf("transaction root %s is not a directory", root)
	}
	return &transaction{engine: e, root: root}, nil
}

type install struct {
	key string
	pkg *engine.Package
}

type transaction struct {
	engine      *Engine
	root        string
	nosignature bool

	installs []install
	elements []engine.Element
	ordered  bool
	problems engine.ProblemSet
	closed   bool
}

func (t *transaction) DisableSignatures() {
	t.nosignature = true
}

func (t *transaction) AddInstall(path, key string) (*engine.Package, error) {
	if t.closed {
		return nil, errors.New("transaction closed")
	}
	f, err := rpm.OpenPackageFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read package %s", key)
	}
	pkg := &engine.Package{
		Name:    f.Name(),
		Epoch:   f.Epoch(),
		Version: f.Version(),
		Release: f.Release(),
		Arch:    f.Architecture(),
		Path:    path,
	}
	if pkg.Name == "" || pkg.Version == "" {
		return nil, errors.Errorf("package %s has an incomplete header", key)
	}
	t.installs = append(t.installs, install{key: key, pkg: pkg})
	t.elements = nil
	t.ordered = false
	return pkg, nil
}

// Elements lists the installs followed by the installed packages they
// replace. An install only replaces installed packages of its own
// architecture, so both halves of a multilib pair are erased once each.
func (t *transaction) Elements() ([]engine.Element, error) {
	if t.elements != nil {
		return t.elements, nil
	}
	var installs, erases []engine.Element
	erased := map[string]bool{}
	for _, in := range t.installs {
		installs = append(installs, engine.Element{Type: engine.Install, NVR: in.pkg.NVR(), Key: in.key})
		current, err := t.installedVersions(in.pkg.Name)
		if err != nil {
			return nil, err
		}
		for _, old := range current {
			if !sameArch(old.arch, in.pkg.Arch) || erased[old.nvra()] {
				continue
			}
			if old.nvr == in.pkg.NVR() && old.arch == in.pkg.Arch {
				continue
			}
			erased[old.nvra()] = true
			erases = append(erases, engine.Element{Type: engine.Erase, NVR: old.nvr})
		}
	}
	t.elements = append(installs, erases...)
	return t.elements, nil
}

// installed is a package found in the rpm database.
type installed struct {
	nvr  string
	arch string
}

func (i installed) nvra() string {
	return i.nvr + "." + i.arch
}

// parseInstalled splits a name-version-release.arch query result.
func parseInstalled(line string) installed {
	if i := strings.LastIndex(line, "."); i > 0 {
		return installed{nvr: line[:i], arch: line[i+1:]}
	}
	return installed{nvr: line}
}

// sameArch reports whether a package of arch a replaces an installed one of
// arch b. noarch packages replace, and are replaced by, any architecture.
func sameArch(a, b string) bool {
	return a == b || a == "noarch" || b == "noarch"
}

// nameArch identifies a package slot in the rpm database.
func nameArch(p *engine.Package) string {
	if p.Arch == "" {
		return p.Name
	}
	return p.Name + "." + p.Arch
}

func (t *transaction) queryKey(name string) string {
	return t.root + "\x00" + name
}

func (t *transaction) installedVersions(name string) ([]installed, error) {
	key := t.queryKey(name)
	if item := t.engine.installed.Get(key); item != nil && !item.Expired() {
		if pkgs, ok := item.Value().([]installed); ok {
			return pkgs, nil
		}
	}
	args := append(t.baseArgs(), "--query", "--queryformat", queryFormat, name)
	out, code, err := t.engine.bin.Output(args...)
	if err != nil {
		return nil, errors.Wrap(err, "unable to query installed packages")
	}
	var pkgs []installed
	// rpm exits 1 when the name is not installed.
	if code == 0 {
		for _, line := range strings.Split(string(out), "\n") {
			if line = strings.TrimSpace(line); line != "" {
				pkgs = append(pkgs, parseInstalled(line))
			}
		}
	} else if code != 1 {
		return nil, errors.Errorf("rpm query for %s exited %d", name, code)
	}
	t.engine.installed.Set(key, pkgs, queryTimeout)
	return pkgs, nil
}

func (t *transaction) baseArgs() []string {
	args := []string{"--root", t.root}
	if t.engine.dbPath != "" {
		args = append(args, "--dbpath", t.engine.dbPath)
	}
	return args
}

func (t *transaction) upgradeArgs(test bool, extra ...string) []string {
	args := append(t.baseArgs(), "--upgrade", "-v", "--hash")
	if t.nosignature {
		args = append(args, "--nosignature", "--nodigest")
	}
	if test {
		args = append(args, "--test")
	}
	args = append(args, extra...)
	for _, in := range t.installs {
		args = append(args, in.pkg.Path)
	}
	return args
}

// Check runs a test transaction and collects the problems rpm reports.
func (t *transaction) Check() (engine.ProblemSet, error) {
	if len(t.installs) == 0 {
		return nil, nil
	}
	var collector problemCollector
	var other []string
	code, err := t.engine.bin.Stream(t.upgradeArgs(true), func(line string) {
		if !collector.Line(line) && strings.HasPrefix(line, "error:") {
			other = append(other, line)
		}
	})
	if err != nil {
		return nil, errors.WithMessage(err, "transaction check")
	}
	if code != 0 && collector.problems.Len() == 0 {
		return nil, errors.Errorf("transaction check failed (exit code %d): %s", code, strings.Join(other, "; "))
	}
	for _, p := range collector.problems {
		t.engine.log.WithFields(logfields.Problem(p)).Debug("check problem")
	}
	return collector.problems, nil
}

// Order verifies the transaction can be handed to rpm, which orders the
// elements itself.
func (t *transaction) Order() error {
	if t.elements == nil {
		return errors.New("transaction elements not resolved")
	}
	seen := map[string]string{}
	for _, in := range t.installs {
		slot := nameArch(in.pkg)
		if other, ok := seen[slot]; ok {
			return errors.Errorf("package %s is provided by both %s and %s", slot, other, in.key)
		}
		seen[slot] = in.key
		if _, err := os.Stat(in.pkg.Path); err != nil {
			return errors.Wrapf(err, "package %s", in.key)
		}
	}
	t.ordered = true
	return nil
}

func (t *transaction) Run(flags engine.Flags, sink engine.Sink) (engine.Code, error) {
	if !t.ordered {
		return -1, errors.New("transaction not ordered")
	}
	parser := newStreamParser(sink, t.engine.output, t.installs)
	args := t.upgradeArgs(flags.Test, ignoreFlags(flags.Ignore)...)
	t.engine.log.WithFields(logrus.Fields{
		"test":   flags.Test,
		"ignore": ignoreFlags(flags.Ignore),
	}).Debug("running transaction")

	code, err := t.engine.bin.Stream(args, parser.Line)
	if err != nil {
		return -1, err
	}
	parser.Finish()
	if flags.Test && code == 0 {
		t.simulate(sink)
	}
	if !flags.Test {
		for _, in := range t.installs {
			t.engine.installed.Delete(t.queryKey(in.pkg.Name))
		}
	}
	t.problems = parser.Problems()
	return engine.Code(code), nil
}

// simulate reports the element cycles of a test transaction, which rpm does
// not print.
func (t *transaction) simulate(sink engine.Sink) {
	for _, el := range t.elements {
		switch el.Type {
		case engine.Install:
			sink.Handle(engine.InstallOpen{Key: el.Key})
			sink.Handle(engine.InstallClose{Key: el.Key})
		case engine.Erase:
			sink.Handle(engine.EraseStart{NVR: el.NVR})
			sink.Handle(engine.EraseStop{NVR: el.NVR})
		}
	}
}

func (t *transaction) Problems() engine.ProblemSet {
	return t.problems
}

func (t *transaction) Close() error {
	t.closed = true
	t.installs = nil
	t.elements = nil
	return nil
}
