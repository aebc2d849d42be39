package engine

import "fmt"

// Event is a single notification from a running transaction. The concrete
// types below are the complete set: callers dispatch on them with a type
// switch.
//
// A transaction goes through three phases:
//
//	prepare: PrepareStart, PrepareProgress..., PrepareStop (once)
//	install: InstallOpen, InstallStart, InstallProgress..., InstallClose (per package)
//	erase:   EraseStart, EraseStop (per superseded package)
//
// Script events may interleave anywhere in the install and erase phases.
type Event interface {
	event()
}

// PrepareStart opens the prepare phase.
type PrepareStart struct{}

// PrepareProgress reports progress within the prepare phase.
type PrepareProgress struct {
	Amount, Total uint64
}

// PrepareStop closes the prepare phase.
type PrepareStop struct{}

// InstallOpen is sent when the engine opens a package file. Test
// transactions send only InstallOpen and InstallClose.
type InstallOpen struct {
	Key string
}

// InstallStart is sent as the engine begins installing a package.
type InstallStart struct {
	Key string
	NVR string
}

// InstallProgress reports progress of a package install.
type InstallProgress struct {
	Key           string
	Amount, Total uint64
}

// InstallClose is sent when the engine is done with a package file.
type InstallClose struct {
	Key string
}

// EraseStart is sent as the engine begins erasing a package.
type EraseStart struct {
	NVR string
}

// EraseStop is sent when the engine finished erasing a package.
type EraseStop struct {
	NVR string
}

// ScriptStart is sent when a scriptlet starts running.
type ScriptStart struct {
	Script ScriptType
	NVR    string
}

// ScriptStop is sent when a scriptlet finished running.
type ScriptStop struct {
	Script ScriptType
	NVR    string
}

// ScriptError reports a failed scriptlet. Fatal scriptlet failures prevent
// the affected element from being applied; the engine decides which are
// fatal (only pre-install and pre-erase scriptlets can be).
type ScriptError struct {
	Script   ScriptType
	NVR      string
	ExitCode int
	Fatal    bool
}

// UnpackError reports a failure to unpack a package archive.
type UnpackError struct {
	Key    string
	Detail string
}

// Unhandled carries engine notifications with no defined meaning for the
// upgrade.
type Unhandled struct {
	Kind   string
	Detail string
}

func (PrepareStart) event()    {}
func (PrepareProgress) event() {}
func (PrepareStop) event()     {}
func (InstallOpen) event()     {}
func (InstallStart) event()    {}
func (InstallProgress) event() {}
func (InstallClose) event()    {}
func (EraseStart) event()      {}
func (EraseStop) event()       {}
func (ScriptStart) event()     {}
func (ScriptStop) event()      {}
func (ScriptError) event()     {}
func (UnpackError) event()     {}
func (Unhandled) event()       {}

// ScriptType identifies the scriptlet an event refers to.
type ScriptType int

const (
	ScriptUnknown ScriptType = iota
	ScriptPreTrans
	ScriptTriggerPreIn
	ScriptPreIn
	ScriptPostIn
	ScriptTriggerIn
	ScriptTriggerUn
	ScriptPreUn
	ScriptPostUn
	ScriptPostTrans
	ScriptTriggerPostUn
	ScriptVerify
)

var scriptNames = map[ScriptType]string{
	ScriptPreTrans:      "%pretrans",
	ScriptTriggerPreIn:  "%triggerprein",
	ScriptPreIn:         "%pre",
	ScriptPostIn:        "%post",
	ScriptTriggerIn:     "%triggerin",
	ScriptTriggerUn:     "%triggerun",
	ScriptPreUn:         "%preun",
	ScriptPostUn:        "%postun",
	ScriptPostTrans:     "%posttrans",
	ScriptTriggerPostUn: "%triggerpostun",
	ScriptVerify:        "%verify",
}

func (s ScriptType) String() string {
	if name, ok := scriptNames[s]; ok {
		return name
	}
	return "%unknownscript"
}

// ParseScriptType maps a scriptlet name such as "%post" (the leading percent
// sign is optional) to its ScriptType.
func ParseScriptType(name string) ScriptType {
	if name != "" && name[0] != '%' {
		name = "%" + name
	}
	// rpm reports %prein/%postin failures by their %pre/%post alias.
	switch name {
	case "%prein":
		return ScriptPreIn
	case "%postin":
		return ScriptPostIn
	}
	for t, n := range scriptNames {
		if n == name {
			return t
		}
	}
	return ScriptUnknown
}

// Describe renders an event for debug logging.
func Describe(ev Event) string {
	switch e := ev.(type) {
	case PrepareStart:
		return "trans_start()"
	case PrepareProgress:
		return fmt.Sprintf("trans_progress(%d/%d)", e.Amount, e.Total)
	case PrepareStop:
		return "trans_stop()"
	case InstallOpen:
		return fmt.Sprintf("inst_open_file(%q)", e.Key)
	case InstallStart:
		return fmt.Sprintf("inst_start(%q)", e.Key)
	case InstallProgress:
		return fmt.Sprintf("inst_progress(%q, %d/%d)", e.Key, e.Amount, e.Total)
	case InstallClose:
		return fmt.Sprintf("inst_close_file(%q)", e.Key)
	case EraseStart:
		return fmt.Sprintf("uninst_start(%q)", e.NVR)
	case EraseStop:
		return fmt.Sprintf("uninst_stop(%q)", e.NVR)
	case ScriptStart:
		return fmt.Sprintf("%s_start(%q)", e.Script, e.NVR)
	case ScriptStop:
		return fmt.Sprintf("%s_stop(%q)", e.Script, e.NVR)
	case ScriptError:
		return fmt.Sprintf("%s_error(%q): %d", e.Script, e.NVR, e.ExitCode)
	case UnpackError:
		return fmt.Sprintf("unpack_error(%q)", e.Key)
	case Unhandled:
		return fmt.Sprintf("unhandled(%s)", e.Kind)
	}
	return fmt.Sprintf("%T", ev)
}
