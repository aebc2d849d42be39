package rpmcli

import (
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/amazonlinux/bottlerocket/sysupgrade/pkg/engine"
)

var (
	// "   1:a-1.0-1                  ################################# [100%]"
	elementLine = regexp.MustCompile(`^\s*\d+:(\S+)`)
	// "warning: %post(a-1.0-1.x86_64) scriptlet failed, exit status 1"
	scriptFailedLine = regexp.MustCompile(`^(warning|error): (%\w+)\((\S+)\) scriptlet failed, (exit status|signal) (\d+)`)
	// "error: c-1.0-1.x86_64: install failed"
	installFailedLine = regexp.MustCompile(`^error: (\S+): install failed`)
)

type phase int

const (
	phaseNone phase = iota
	phasePrepare
	phaseInstall
	phaseErase
	phaseDone
)

// streamParser turns the progress output of `rpm --upgrade -v --hash` into
// engine events. rpm prints a package's line as it starts working on it and
// ends the line once done, so each line is a complete element cycle.
type streamParser struct {
	sink     engine.Sink
	output   io.Writer
	problems problemCollector

	// keys maps the identities rpm prints on element lines to manifest
	// keys. Both halves of a multilib pair print the same identity and are
	// handed out in staging order.
	keys map[string]*keyQueue
	// failed maps the identities rpm prints on failures, which include the
	// architecture, to manifest keys.
	failed map[string]string
	phase  phase
	// unpack holds an unpack failure until rpm names the failed package.
	unpack string
}

type keyQueue struct {
	keys []string
}

func (q *keyQueue) next() (string, bool) {
	if len(q.keys) == 0 {
		return "", false
	}
	key := q.keys[0]
	q.keys = q.keys[1:]
	return key, true
}

func newStreamParser(sink engine.Sink, output io.Writer, installs []install) *streamParser {
	p := &streamParser{
		sink:   sink,
		output: output,
		keys:   map[string]*keyQueue{},
		failed: map[string]string{},
	}
	for _, in := range installs {
		nvr := in.pkg.NVR()
		q, ok := p.keys[nvr]
		if !ok {
			q = &keyQueue{}
			p.keys[nvr] = q
		}
		q.keys = append(q.keys, in.key)
		p.failed[nvr+"."+in.pkg.Arch] = in.key
		if in.pkg.Epoch > 0 {
			envr := fmt.Sprintf("%s-%d:%s-%s", in.pkg.Name, in.pkg.Epoch, in.pkg.Version, in.pkg.Release)
			p.keys[envr] = q
			p.failed[envr+"."+in.pkg.Arch] = in.key
		}
	}
	return p
}

func (p *streamParser) Line(line string) {
	trimmed := strings.TrimSpace(line)
	if p.unpack != "" && trimmed != "" {
		var key string
		if m := installFailedLine.FindStringSubmatch(trimmed); m != nil {
			key = p.failed[m[1]]
		}
		p.flushUnpack(key)
	}
	if p.problems.Line(line) {
		return
	}
	switch {
	case strings.HasPrefix(trimmed, "Verifying..."):
		p.prepare()
		p.sink.Handle(engine.PrepareProgress{Amount: 1, Total: 2})
	case strings.HasPrefix(trimmed, "Preparing..."):
		p.prepare()
		p.sink.Handle(engine.PrepareProgress{Amount: 2, Total: 2})
	case trimmed == "Updating / installing...":
		p.endPrepare()
		p.phase = phaseInstall
	case trimmed == "Cleaning up / removing...":
		p.endPrepare()
		p.phase = phaseErase
	case (p.phase == phaseInstall || p.phase == phaseErase) && elementLine.MatchString(line):
		p.element(elementLine.FindStringSubmatch(line)[1])
	case scriptFailedLine.MatchString(trimmed):
		m := scriptFailedLine.FindStringSubmatch(trimmed)
		code, _ := strconv.Atoi(m[5])
		p.sink.Handle(engine.ScriptError{
			Script:   engine.ParseScriptType(m[2]),
			NVR:      m[3],
			ExitCode: code,
			Fatal:    m[1] == "error",
		})
	case strings.Contains(trimmed, "unpacking of archive failed"):
		p.unpack = trimmed
	case trimmed == "":
	default:
		// Scriptlet output and anything else rpm has to say.
		fmt.Fprintln(p.output, line)
	}
}

func (p *streamParser) element(nvr string) {
	switch p.phase {
	case phaseInstall:
		key := nvr
		if q, ok := p.keys[nvr]; ok {
			if k, ok := q.next(); ok {
				key = k
			}
		}
		p.sink.Handle(engine.InstallOpen{Key: key})
		p.sink.Handle(engine.InstallStart{Key: key, NVR: nvr})
		p.sink.Handle(engine.InstallClose{Key: key})
	case phaseErase:
		p.sink.Handle(engine.EraseStart{NVR: nvr})
		p.sink.Handle(engine.EraseStop{NVR: nvr})
	}
}

func (p *streamParser) flushUnpack(key string) {
	p.sink.Handle(engine.UnpackError{Key: key, Detail: p.unpack})
	p.unpack = ""
}

func (p *streamParser) prepare() {
	if p.phase == phaseNone {
		p.phase = phasePrepare
		p.sink.Handle(engine.PrepareStart{})
	}
}

func (p *streamParser) endPrepare() {
	if p.phase == phasePrepare {
		p.sink.Handle(engine.PrepareStop{})
	}
}

// Finish closes an open prepare phase, which is all a test run shows.
func (p *streamParser) Finish() {
	if p.unpack != "" {
		p.flushUnpack("")
	}
	p.endPrepare()
	p.phase = phaseDone
}

// Problems returns the problems rpm reported.
func (p *streamParser) Problems() engine.ProblemSet {
	return p.problems.problems
}
