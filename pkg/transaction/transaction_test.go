package transaction

import (
	"strings"
	"testing"

	"github.com/pkg/errors"
	"gotest.tools/assert"
	is "gotest.tools/assert/cmp"

	"github.com/amazonlinux/bottlerocket/sysupgrade/pkg/engine"
	"github.com/amazonlinux/bottlerocket/sysupgrade/pkg/internal/events"
	"github.com/amazonlinux/bottlerocket/sysupgrade/pkg/internal/testoutput"
	"github.com/amazonlinux/bottlerocket/sysupgrade/pkg/manifest"
	"github.com/amazonlinux/bottlerocket/sysupgrade/pkg/notify"
	"github.com/amazonlinux/bottlerocket/sysupgrade/pkg/progress"
)

// testEngine is an engine whose behavior is given by hooks. Unset hooks
// succeed.
type testEngine struct {
	txn *testTxn
}

func (e *testEngine) NewTransaction(root string) (engine.Transaction, error) {
	e.txn.root = root
	return e.txn, nil
}

type testTxn struct {
	root     string
	added    []string
	erases   []string
	unsigned bool
	ordered  bool
	closed   bool

	addFn      func(key string) error
	checkFn    func() (engine.ProblemSet, error)
	orderFn    func() error
	runFn      func(flags engine.Flags, sink engine.Sink) (engine.Code, error)
	problemsFn func() engine.ProblemSet
}

func (t *testTxn) DisableSignatures() { t.unsigned = true }

func (t *testTxn) AddInstall(path, key string) (*engine.Package, error) {
	if t.addFn != nil {
		if err := t.addFn(key); err != nil {
			return nil, err
		}
	}
	t.added = append(t.added, key)
	name := strings.TrimSuffix(key, ".rpm")
	return &engine.Package{Name: name, Version: "1", Release: "1", Path: path}, nil
}

func (t *testTxn) Elements() ([]engine.Element, error) {
	var elements []engine.Element
	for _, key := range t.added {
		elements = append(elements, engine.Element{Type: engine.Install, Key: key, NVR: strings.TrimSuffix(key, ".rpm") + "-1-1"})
	}
	for _, nvr := range t.erases {
		elements = append(elements, engine.Element{Type: engine.Erase, NVR: nvr})
	}
	return elements, nil
}

func (t *testTxn) Check() (engine.ProblemSet, error) {
	if t.checkFn != nil {
		return t.checkFn()
	}
	return nil, nil
}

func (t *testTxn) Order() error {
	t.ordered = true
	if t.orderFn != nil {
		return t.orderFn()
	}
	return nil
}

func (t *testTxn) Run(flags engine.Flags, sink engine.Sink) (engine.Code, error) {
	if t.runFn != nil {
		return t.runFn(flags, sink)
	}
	return 0, nil
}

func (t *testTxn) Problems() engine.ProblemSet {
	if t.problemsFn != nil {
		return t.problemsFn()
	}
	return nil
}

func (t *testTxn) Close() error {
	t.closed = true
	return nil
}

func testBuilder(t *testing.T, txn *testTxn, policy CheckPolicy) *Builder {
	return NewBuilder(testoutput.Logger(t, "builder"), &testEngine{txn: txn}, policy)
}

func testManifest(packages ...string) *manifest.Manifest {
	return &manifest.Manifest{PackageDir: "/sysroot/var/cache/upgrade", Packages: packages}
}

var (
	requires = engine.Problem{Kind: engine.ProblemRequires, Description: "libfoo is needed by a-1-1"}
	disk     = engine.Problem{Kind: engine.ProblemDiskSpace, Description: "a needs 10MB more space on the / filesystem", Mount: "/", Need: 10 << 20}
	arch     = engine.Problem{Kind: engine.ProblemBadArch, Description: "package b is intended for a different architecture"}
)

func TestBuild(t *testing.T) {
	txn := &testTxn{erases: []string{"a-0-1"}}
	req, err := testBuilder(t, txn, DefaultCheckPolicy).Build("/sysroot", testManifest("a.rpm", "b.rpm"))
	assert.NilError(t, err)
	assert.Equal(t, req.Installs, 2)
	assert.Equal(t, req.Erases, 1)
	assert.Equal(t, txn.root, "/sysroot")
	assert.Check(t, txn.unsigned)
	assert.Check(t, txn.ordered)
	assert.Check(t, !txn.closed)
	assert.DeepEqual(t, txn.added, []string{"a.rpm", "b.rpm"})
}

func TestBuildSkipsCorruptPackage(t *testing.T) {
	txn := &testTxn{addFn: func(key string) error {
		if key == "corrupt.rpm" {
			return errors.New("bad lead")
		}
		return nil
	}}
	log, buf := testoutput.Capture(t, "builder")
	b := NewBuilder(log, &testEngine{txn: txn}, DefaultCheckPolicy)
	req, err := b.Build("/", testManifest("a.rpm", "corrupt.rpm", "b.rpm", "c.rpm"))
	assert.NilError(t, err)
	assert.Equal(t, req.Installs, 3)
	assert.Assert(t, is.Len(req.Skipped, 1))
	assert.Equal(t, req.Skipped[0].Key, "corrupt.rpm")
	assert.Check(t, is.Contains(buf.String(), "skipping package"))
	assert.Check(t, is.Contains(buf.String(), "corrupt.rpm"))
}

func TestBuildNothingToUpgrade(t *testing.T) {
	txn := &testTxn{addFn: func(string) error { return errors.New("unreadable") }}
	_, err := testBuilder(t, txn, DefaultCheckPolicy).Build("/", testManifest("a.rpm", "b.rpm"))
	assert.Equal(t, errors.Cause(err), ErrNothingToUpgrade)
	assert.Check(t, txn.closed)
	assert.Check(t, !txn.ordered)
}

func TestBuildCheckTolerant(t *testing.T) {
	txn := &testTxn{checkFn: func() (engine.ProblemSet, error) {
		return engine.ProblemSet{requires, disk, arch}, nil
	}}
	req, err := testBuilder(t, txn, DefaultCheckPolicy).Build("/", testManifest("a.rpm"))
	assert.NilError(t, err)
	assert.DeepEqual(t, req.Problems, engine.ProblemSet{requires})
	assert.Check(t, txn.ordered)
}

func TestBuildCheckFatalPolicy(t *testing.T) {
	txn := &testTxn{checkFn: func() (engine.ProblemSet, error) {
		return engine.ProblemSet{requires, disk}, nil
	}}
	policy := CheckPolicy{Report: DefaultCheckPolicy.Report, Fatal: []engine.ProblemKind{engine.ProblemDiskSpace}}
	_, err := testBuilder(t, txn, policy).Build("/", testManifest("a.rpm"))
	assert.Equal(t, errors.Cause(err), ErrCheckProblems)
	assert.Check(t, txn.closed)
	assert.Check(t, !txn.ordered)
}

func TestBuildCheckFailed(t *testing.T) {
	txn := &testTxn{checkFn: func() (engine.ProblemSet, error) {
		return nil, errors.New("cannot open Packages database")
	}}
	_, err := testBuilder(t, txn, DefaultCheckPolicy).Build("/", testManifest("a.rpm"))
	assert.Equal(t, errors.Cause(err), ErrCheckFailed)
	assert.ErrorContains(t, err, "cannot open Packages database")
}

func TestBuildOrderFailed(t *testing.T) {
	txn := &testTxn{orderFn: func() error { return errors.New("loop") }}
	_, err := testBuilder(t, txn, DefaultCheckPolicy).Build("/", testManifest("a.rpm"))
	assert.Equal(t, errors.Cause(err), ErrOrderFailed)
	assert.Check(t, txn.closed)
}

func TestCheckPolicy(t *testing.T) {
	cases := []struct {
		Name     string
		Policy   CheckPolicy
		Fatal    engine.ProblemSet
		Reported engine.ProblemSet
		Ignored  engine.ProblemSet
	}{
		{
			Name:     "default",
			Policy:   DefaultCheckPolicy,
			Reported: engine.ProblemSet{requires},
			Ignored:  engine.ProblemSet{disk, arch},
		},
		{
			Name:    "empty",
			Policy:  CheckPolicy{},
			Ignored: engine.ProblemSet{requires, disk, arch},
		},
		// fatal wins over report
		{
			Name:     "fatal-overrides-report",
			Policy:   CheckPolicy{Report: []engine.ProblemKind{engine.ProblemRequires, engine.ProblemBadArch}, Fatal: []engine.ProblemKind{engine.ProblemBadArch}},
			Fatal:    engine.ProblemSet{arch},
			Reported: engine.ProblemSet{requires},
			Ignored:  engine.ProblemSet{disk},
		},
	}
	for _, tc := range cases {
		t.Run(tc.Name, func(t *testing.T) {
			result := tc.Policy.Apply(engine.ProblemSet{requires, disk, arch})
			assert.DeepEqual(t, result.Fatal, tc.Fatal)
			assert.DeepEqual(t, result.Reported, tc.Reported)
			assert.DeepEqual(t, result.Ignored, tc.Ignored)
		})
	}
}

func TestDefaultFlags(t *testing.T) {
	flags := Flags(true, nil)
	assert.Check(t, flags.Test)
	ignored := engine.NewKindSet(flags.Ignore...)
	assert.Check(t, !ignored.Has(engine.ProblemDiskSpace))
	assert.Check(t, ignored.Has(engine.ProblemRequires))
	assert.Check(t, ignored.Has(engine.ProblemDiskNodes))

	strict := Flags(false, []engine.ProblemKind{})
	assert.Check(t, !strict.Test)
	assert.Check(t, is.Len(strict.Ignore, 0))
}

type recordingNotifier struct {
	notify.Nop
	percents []uint
}

func (r *recordingNotifier) ReportPercent(percent uint) error {
	r.percents = append(r.percents, percent)
	return nil
}

func TestRun(t *testing.T) {
	var gotFlags engine.Flags
	txn := &testTxn{runFn: func(flags engine.Flags, sink engine.Sink) (engine.Code, error) {
		gotFlags = flags
		events.Upgrade([]string{"a.rpm", "b.rpm"}, nil).Deliver(sink)
		return 0, nil
	}}
	req, err := testBuilder(t, txn, DefaultCheckPolicy).Build("/", testManifest("a.rpm", "b.rpm"))
	assert.NilError(t, err)

	rec := &recordingNotifier{}
	runner := NewRunner(testoutput.Logger(t, "runner"), progress.DefaultBudget, rec)
	run, err := runner.Run(req, Flags(false, nil))
	assert.NilError(t, err)
	assert.Check(t, run.Code.Succeeded())
	assert.Check(t, is.Len(run.Problems, 0))
	assert.Check(t, !gotFlags.Test)
	assert.DeepEqual(t, rec.percents, []uint{2, 37, 72})
	assert.Equal(t, run.Progress().Percent, 72)

	run.Finish()
	assert.DeepEqual(t, rec.percents, []uint{2, 37, 72, 100})
}

func TestRunCollectsProblemsOnFailure(t *testing.T) {
	problemsRead := 0
	txn := &testTxn{
		runFn: func(engine.Flags, engine.Sink) (engine.Code, error) { return 1, nil },
		problemsFn: func() engine.ProblemSet {
			problemsRead++
			return engine.ProblemSet{disk}
		},
	}
	req, err := testBuilder(t, txn, DefaultCheckPolicy).Build("/", testManifest("a.rpm"))
	assert.NilError(t, err)
	run, err := NewRunner(testoutput.Logger(t, "runner"), progress.DefaultBudget, nil).Run(req, Flags(true, nil))
	assert.NilError(t, err)
	assert.Equal(t, run.Code, engine.Code(1))
	assert.DeepEqual(t, run.Problems, engine.ProblemSet{disk})
	assert.Equal(t, problemsRead, 1)
}

func TestRunEngineError(t *testing.T) {
	txn := &testTxn{runFn: func(engine.Flags, engine.Sink) (engine.Code, error) {
		return -1, errors.New("exec: rpm not found")
	}}
	req, err := testBuilder(t, txn, DefaultCheckPolicy).Build("/", testManifest("a.rpm"))
	assert.NilError(t, err)
	_, err = NewRunner(testoutput.Logger(t, "runner"), progress.DefaultBudget, nil).Run(req, Flags(false, nil))
	assert.ErrorContains(t, err, "rpm not found")
}
