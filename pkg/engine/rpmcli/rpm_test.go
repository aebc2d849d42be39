package rpmcli

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/karlseguin/ccache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amazonlinux/bottlerocket/sysupgrade/pkg/engine"
	"github.com/amazonlinux/bottlerocket/sysupgrade/pkg/internal/testoutput"
)

type testCommand struct {
	queries map[string]string
	queryFn func(name string) (string, int)
	output  string
	code    int

	outputCalls [][]string
	streamCalls [][]string
}

func (c *testCommand) Output(args ...string) ([]byte, int, error) {
	c.outputCalls = append(c.outputCalls, args)
	name := args[len(args)-1]
	if c.queryFn != nil {
		out, code := c.queryFn(name)
		return []byte(out), code, nil
	}
	out, ok := c.queries[name]
	if !ok {
		return nil, 1, nil
	}
	return []byte(out), 0, nil
}

func (c *testCommand) Stream(args []string, fn func(string)) (int, error) {
	c.streamCalls = append(c.streamCalls, args)
	for _, line := range strings.Split(c.output, "\n") {
		fn(line)
	}
	return c.code, nil
}

func testEngine(t *testing.T, cmd *testCommand) (*Engine, *bytes.Buffer) {
	var out bytes.Buffer
	return &Engine{
		log:       testoutput.Logger(t, "rpm"),
		bin:       cmd,
		output:    &out,
		installed: ccache.New(ccache.Configure().MaxSize(10)),
	}, &out
}

// testTransaction bypasses header parsing with packages staged as empty
// files.
func testTransaction(t *testing.T, e *Engine, pkgs ...*engine.Package) *transaction {
	dir, err := ioutil.TempDir("", "rpmcli")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	txn := &transaction{engine: e, root: "/sysroot"}
	txn.DisableSignatures()
	for i, p := range pkgs {
		p.Path = filepath.Join(dir, fmt.Sprintf("%d-%s.rpm", i, p.Name))
		require.NoError(t, ioutil.WriteFile(p.Path, nil, 0644))
		txn.installs = append(txn.installs, install{key: p.Name + ".rpm", pkg: p})
	}
	return txn
}

type recorder struct {
	events []engine.Event
}

func (r *recorder) Handle(ev engine.Event) {
	r.events = append(r.events, ev)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		line string
		kind engine.ProblemKind
	}{
		{"libfoo.so.2()(64bit) is needed by bar-1.0-1.x86_64", engine.ProblemRequires},
		{"foo conflicts with bar-1.0-1.x86_64", engine.ProblemConflict},
		{"file /usr/bin/x from install of a-1-1.x86_64 conflicts with file from package b-1-1.x86_64", engine.ProblemFileConflict},
		{"installing package a-1-1.x86_64 needs 10MB more space on the / filesystem", engine.ProblemDiskSpace},
		{"installing package a-1-1.x86_64 needs 12 more inodes on the /var filesystem", engine.ProblemDiskNodes},
		{"package a-1-1.x86_64 is already installed", engine.ProblemInstalled},
		{"package a-2-1.x86_64 (which is newer than a-1-1.x86_64) is already installed", engine.ProblemOldPackage},
		{"package a-1-1.aarch64 is intended for a different architecture", engine.ProblemBadArch},
		{"package a-1-1.x86_64 is intended for a different operating system", engine.ProblemBadOS},
		{"something unexpected", engine.ProblemUnknown},
	}
	for _, tc := range tests {
		t.Run(string(tc.kind), func(t *testing.T) {
			assert.Equal(t, tc.kind, classify(tc.line))
		})
	}
}

func TestProblemCollector(t *testing.T) {
	var c problemCollector
	lines := []string{
		"Verifying...                          ################################# [100%]",
		"error: Failed dependencies:",
		"\tlibfoo.so.2()(64bit) is needed by bar-1.0-1.x86_64",
		"\tfoo conflicts with baz-1.0-1.x86_64",
		"Transaction check error:",
		"  installing package a-1-1.x86_64 needs 1,024KB more space on the /var filesystem",
		"",
		"error: a-1-1.x86_64: install failed",
		"    unrelated indented output",
	}
	var consumed int
	for _, l := range lines {
		if c.Line(l) {
			consumed++
		}
	}
	assert.Equal(t, 6, consumed)
	require.Len(t, c.problems, 4)
	assert.Equal(t, engine.ProblemRequires, c.problems[0].Kind)
	assert.Equal(t, "libfoo.so.2()(64bit) is needed by bar-1.0-1.x86_64", c.problems[0].Description)
	assert.Equal(t, engine.ProblemConflict, c.problems[1].Kind)
	assert.Equal(t, engine.ProblemDiskSpace, c.problems[2].Kind)
	assert.Equal(t, "/var", c.problems[2].Mount)
	assert.Equal(t, uint64(1024*1024), c.problems[2].Need)
	assert.Equal(t, engine.Problem{Kind: engine.ProblemRun, Description: "a-1-1.x86_64: install failed"}, c.problems[3])
}

func TestParseSize(t *testing.T) {
	assert.Equal(t, uint64(512), parseSize("512B"))
	assert.Equal(t, uint64(2048), parseSize("2KB"))
	assert.Equal(t, uint64(10*1024*1024), parseSize("10MB"))
	assert.Equal(t, uint64(1234*1024), parseSize("1,234KB"))
	assert.Equal(t, uint64(0), parseSize("lots"))
	assert.Equal(t, uint64(0), parseSize(""))
}

func TestIgnoreFlags(t *testing.T) {
	assert.Equal(t,
		[]string{"--nodeps", "--replacefiles", "--replacepkgs", "--oldpackage", "--ignorearch", "--ignoreos"},
		ignoreFlags(engine.AllExcept(engine.ProblemDiskSpace)))
	assert.Equal(t, []string{"--nodeps", "--ignoresize"},
		ignoreFlags([]engine.ProblemKind{engine.ProblemConflict, engine.ProblemDiskSpace, engine.ProblemDiskNodes}))
	assert.Empty(t, ignoreFlags(nil))
}

const upgradeOutput = `Verifying...                          ################################# [100%]
Preparing...                          ################################# [100%]
Updating / installing...
   1:a-1.0-1                          ################################# [ 33%]
hello from a's %post
warning: %post(a-1.0-1.x86_64) scriptlet failed, exit status 1
   2:b-2:3.0-1                        ################################# [ 67%]
   3:c-1.0-1                          ################################# [ 67%]
error: unpacking of archive failed on file /usr/bin/c;5e: cpio: Digest mismatch
error: c-1.0-1.x86_64: install failed
Cleaning up / removing...
   4:a-0.9-1                          ################################# [100%]
`

func TestStreamParser(t *testing.T) {
	var out bytes.Buffer
	rec := &recorder{}
	p := newStreamParser(rec, &out, []install{
		{key: "a.rpm", pkg: &engine.Package{Name: "a", Version: "1.0", Release: "1", Arch: "x86_64"}},
		{key: "b.rpm", pkg: &engine.Package{Name: "b", Epoch: 2, Version: "3.0", Release: "1", Arch: "x86_64"}},
		{key: "c.rpm", pkg: &engine.Package{Name: "c", Version: "1.0", Release: "1", Arch: "x86_64"}},
	})
	for _, line := range strings.Split(upgradeOutput, "\n") {
		p.Line(line)
	}
	p.Finish()

	assert.Equal(t, []engine.Event{
		engine.PrepareStart{},
		engine.PrepareProgress{Amount: 1, Total: 2},
		engine.PrepareProgress{Amount: 2, Total: 2},
		engine.PrepareStop{},
		engine.InstallOpen{Key: "a.rpm"},
		engine.InstallStart{Key: "a.rpm", NVR: "a-1.0-1"},
		engine.InstallClose{Key: "a.rpm"},
		engine.ScriptError{Script: engine.ScriptPostIn, NVR: "a-1.0-1.x86_64", ExitCode: 1},
		engine.InstallOpen{Key: "b.rpm"},
		engine.InstallStart{Key: "b.rpm", NVR: "b-2:3.0-1"},
		engine.InstallClose{Key: "b.rpm"},
		engine.InstallOpen{Key: "c.rpm"},
		engine.InstallStart{Key: "c.rpm", NVR: "c-1.0-1"},
		engine.InstallClose{Key: "c.rpm"},
		engine.UnpackError{Key: "c.rpm", Detail: "error: unpacking of archive failed on file /usr/bin/c;5e: cpio: Digest mismatch"},
		engine.EraseStart{NVR: "a-0.9-1"},
		engine.EraseStop{NVR: "a-0.9-1"},
	}, rec.events)
	assert.Equal(t, "hello from a's %post\n", out.String())
	require.Len(t, p.Problems(), 1)
	assert.Equal(t, engine.ProblemRun, p.Problems()[0].Kind)
}

func TestStreamParserUnpackWithoutPackage(t *testing.T) {
	rec := &recorder{}
	p := newStreamParser(rec, ioutil.Discard, []install{
		{key: "a.rpm", pkg: &engine.Package{Name: "a", Version: "1.0", Release: "1", Arch: "x86_64"}},
	})
	p.Line("Updating / installing...")
	p.Line("   1:a-1.0-1                          ################################# [100%]")
	p.Line("error: unpacking of archive failed on file /usr/bin/z;5e: cpio: read failed")
	p.Finish()

	require.NotEmpty(t, rec.events)
	assert.Equal(t, engine.UnpackError{Detail: "error: unpacking of archive failed on file /usr/bin/z;5e: cpio: read failed"},
		rec.events[len(rec.events)-1])
}

func TestStreamParserMultilib(t *testing.T) {
	rec := &recorder{}
	p := newStreamParser(rec, ioutil.Discard, []install{
		{key: "glibc.x86_64.rpm", pkg: &engine.Package{Name: "glibc", Version: "2.34", Release: "1", Arch: "x86_64"}},
		{key: "glibc.i686.rpm", pkg: &engine.Package{Name: "glibc", Version: "2.34", Release: "1", Arch: "i686"}},
	})
	p.Line("Updating / installing...")
	p.Line("   1:glibc-2.34-1                     ################################# [ 25%]")
	p.Line("   2:glibc-2.34-1                     ################################# [ 50%]")
	p.Finish()

	var closed []string
	for _, ev := range rec.events {
		if c, ok := ev.(engine.InstallClose); ok {
			closed = append(closed, c.Key)
		}
	}
	assert.Equal(t, []string{"glibc.x86_64.rpm", "glibc.i686.rpm"}, closed)
}

func TestElements(t *testing.T) {
	cmd := &testCommand{queries: map[string]string{"a": "a-0.9-1.x86_64\n", "b": "b-3.0-1.x86_64\n"}}
	e, _ := testEngine(t, cmd)
	txn := testTransaction(t, e,
		&engine.Package{Name: "a", Version: "1.0", Release: "1", Arch: "x86_64"},
		&engine.Package{Name: "b", Version: "3.0", Release: "1", Arch: "x86_64"},
		&engine.Package{Name: "c", Version: "1.0", Release: "1", Arch: "x86_64"},
	)

	elements, err := txn.Elements()
	require.NoError(t, err)
	assert.Equal(t, []engine.Element{
		{Type: engine.Install, NVR: "a-1.0-1", Key: "a.rpm"},
		{Type: engine.Install, NVR: "b-3.0-1", Key: "b.rpm"},
		{Type: engine.Install, NVR: "c-1.0-1", Key: "c.rpm"},
		{Type: engine.Erase, NVR: "a-0.9-1"},
	}, elements)
	installs, erases := engine.Tally(elements)
	assert.Equal(t, 3, installs)
	assert.Equal(t, 1, erases)
	assert.Equal(t, []string{"--root", "/sysroot", "--query", "--queryformat", `%{NAME}-%{VERSION}-%{RELEASE}.%{ARCH}\n`, "a"}, cmd.outputCalls[0])

	// Installed versions are cached across transactions.
	again := testTransaction(t, e, &engine.Package{Name: "a", Version: "1.0", Release: "1", Arch: "x86_64"})
	_, err = again.Elements()
	require.NoError(t, err)
	assert.Len(t, cmd.outputCalls, 3)
}

func TestElementsMultilib(t *testing.T) {
	cmd := &testCommand{queries: map[string]string{
		"glibc":  "glibc-2.33-1.x86_64\nglibc-2.33-1.i686\n",
		"tzdata": "tzdata-2020a-1.noarch\n",
		"libfoo": "libfoo-1.0-1.i686\n",
	}}
	e, _ := testEngine(t, cmd)
	txn := testTransaction(t, e,
		&engine.Package{Name: "glibc", Version: "2.34", Release: "1", Arch: "x86_64"},
		&engine.Package{Name: "glibc", Version: "2.34", Release: "1", Arch: "i686"},
		&engine.Package{Name: "tzdata", Version: "2021a", Release: "1", Arch: "noarch"},
		&engine.Package{Name: "libfoo", Version: "1.1", Release: "1", Arch: "x86_64"},
	)

	elements, err := txn.Elements()
	require.NoError(t, err)
	installs, erases := engine.Tally(elements)
	assert.Equal(t, 4, installs)
	assert.Equal(t, 3, erases)
	assert.Equal(t, []engine.Element{
		{Type: engine.Erase, NVR: "glibc-2.33-1"},
		{Type: engine.Erase, NVR: "glibc-2.33-1"},
		{Type: engine.Erase, NVR: "tzdata-2020a-1"},
	}, elements[installs:])
	// The second glibc is answered from the cache.
	assert.Len(t, cmd.outputCalls, 3)
}

func TestElementsReinstall(t *testing.T) {
	cmd := &testCommand{queries: map[string]string{"a": "a-1.0-1.x86_64\n"}}
	e, _ := testEngine(t, cmd)
	txn := testTransaction(t, e, &engine.Package{Name: "a", Version: "1.0", Release: "1", Arch: "x86_64"})
	elements, err := txn.Elements()
	require.NoError(t, err)
	_, erases := engine.Tally(elements)
	assert.Equal(t, 0, erases)
}

func TestElementsQueryFailure(t *testing.T) {
	cmd := &testCommand{queryFn: func(string) (string, int) { return "", 2 }}
	e, _ := testEngine(t, cmd)
	txn := testTransaction(t, e, &engine.Package{Name: "a", Version: "1.0", Release: "1"})
	_, err := txn.Elements()
	assert.EqualError(t, err, "rpm query for a exited 2")
}

func TestCheck(t *testing.T) {
	cmd := &testCommand{
		output: "error: Failed dependencies:\n\tlibfoo.so.2 is needed by a-1.0-1.x86_64\n",
		code:   1,
	}
	e, _ := testEngine(t, cmd)
	txn := testTransaction(t, e, &engine.Package{Name: "a", Version: "1.0", Release: "1"})

	problems, err := txn.Check()
	require.NoError(t, err)
	require.Len(t, problems, 1)
	assert.Equal(t, engine.ProblemRequires, problems[0].Kind)

	args := cmd.streamCalls[0]
	assert.Subset(t, args, []string{"--upgrade", "--test", "--nosignature"})
}

func TestCheckStructuralFailure(t *testing.T) {
	cmd := &testCommand{output: "error: cannot open Packages database in /sysroot/var/lib/rpm\n", code: 1}
	e, _ := testEngine(t, cmd)
	txn := testTransaction(t, e, &engine.Package{Name: "a", Version: "1.0", Release: "1"})

	_, err := txn.Check()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot open Packages database")
}

func TestOrder(t *testing.T) {
	e, _ := testEngine(t, &testCommand{})
	txn := testTransaction(t, e, &engine.Package{Name: "a", Version: "1.0", Release: "1"})
	assert.Error(t, txn.Order(), "elements must be resolved first")

	_, err := txn.Elements()
	require.NoError(t, err)
	assert.NoError(t, txn.Order())

	dup := testTransaction(t, e,
		&engine.Package{Name: "a", Version: "1.0", Release: "1"},
		&engine.Package{Name: "a", Version: "1.1", Release: "1"},
	)
	dup.installs[1].key = "a-1.1.rpm"
	_, err = dup.Elements()
	require.NoError(t, err)
	assert.EqualError(t, dup.Order(), "package a is provided by both a.rpm and a-1.1.rpm")

	multilib := testTransaction(t, e,
		&engine.Package{Name: "glibc", Version: "2.34", Release: "1", Arch: "x86_64"},
		&engine.Package{Name: "glibc", Version: "2.34", Release: "1", Arch: "i686"},
	)
	multilib.installs[0].key = "glibc.x86_64.rpm"
	multilib.installs[1].key = "glibc.i686.rpm"
	_, err = multilib.Elements()
	require.NoError(t, err)
	assert.NoError(t, multilib.Order())

	twice := testTransaction(t, e,
		&engine.Package{Name: "glibc", Version: "2.34", Release: "1", Arch: "x86_64"},
		&engine.Package{Name: "glibc", Version: "2.35", Release: "1", Arch: "x86_64"},
	)
	twice.installs[1].key = "glibc-2.35.rpm"
	_, err = twice.Elements()
	require.NoError(t, err)
	assert.EqualError(t, twice.Order(), "package glibc.x86_64 is provided by both glibc.rpm and glibc-2.35.rpm")
}

func TestRunTestSynthesizesEvents(t *testing.T) {
	cmd := &testCommand{
		queries: map[string]string{"a": "a-0.9-1.x86_64\n"},
		output:  "Verifying...   ### [100%]\nPreparing...   ### [100%]\n",
	}
	e, _ := testEngine(t, cmd)
	txn := testTransaction(t, e, &engine.Package{Name: "a", Version: "1.0", Release: "1", Arch: "x86_64"})
	_, err := txn.Elements()
	require.NoError(t, err)
	require.NoError(t, txn.Order())

	rec := &recorder{}
	code, err := txn.Run(engine.Flags{Test: true, Ignore: engine.AllExcept(engine.ProblemDiskSpace)}, rec)
	require.NoError(t, err)
	assert.True(t, code.Succeeded())
	assert.Equal(t, []engine.Event{
		engine.PrepareStart{},
		engine.PrepareProgress{Amount: 1, Total: 2},
		engine.PrepareProgress{Amount: 2, Total: 2},
		engine.PrepareStop{},
		engine.InstallOpen{Key: "a.rpm"},
		engine.InstallClose{Key: "a.rpm"},
		engine.EraseStart{NVR: "a-0.9-1"},
		engine.EraseStop{NVR: "a-0.9-1"},
	}, rec.events)
	assert.Contains(t, cmd.streamCalls[0], "--test")
	assert.Contains(t, cmd.streamCalls[0], "--nodeps")
	assert.NotContains(t, cmd.streamCalls[0], "--ignoresize")
	assert.Empty(t, txn.Problems())
}

func TestRunFailure(t *testing.T) {
	cmd := &testCommand{
		output: upgradeOutput,
		code:   1,
	}
	e, out := testEngine(t, cmd)
	txn := testTransaction(t, e, &engine.Package{Name: "a", Version: "1.0", Release: "1"})
	_, err := txn.Elements()
	require.NoError(t, err)
	require.NoError(t, txn.Order())

	rec := &recorder{}
	code, err := txn.Run(engine.Flags{}, rec)
	require.NoError(t, err)
	assert.Equal(t, engine.Code(1), code)
	require.Len(t, txn.Problems(), 1)
	assert.Contains(t, out.String(), "hello from a's %post")
}

func TestRunRequiresOrder(t *testing.T) {
	e, _ := testEngine(t, &testCommand{})
	txn := testTransaction(t, e, &engine.Package{Name: "a", Version: "1.0", Release: "1"})
	_, err := txn.Run(engine.Flags{}, &recorder{})
	assert.Error(t, err)
}

func TestAddInstallCorrupt(t *testing.T) {
	f, err := ioutil.TempFile("", "corrupt-*.rpm")
	require.NoError(t, err)
	defer os.Remove(f.Name())
	_, err = f.WriteString("not an rpm")
	require.NoError(t, err)
	f.Close()

	e, _ := testEngine(t, &testCommand{})
	txn, err := e.NewTransaction(os.TempDir())
	require.NoError(t, err)
	txn.DisableSignatures()
	_, err = txn.AddInstall(f.Name(), "corrupt.rpm")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unable to read package corrupt.rpm")
}

func TestNewTransactionRoot(t *testing.T) {
	e, _ := testEngine(t, &testCommand{})
	_, err := e.NewTransaction("/does/not/exist")
	assert.Error(t, err)
}
