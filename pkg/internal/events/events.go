// Package events provides canned engine event streams for tests.
package events

import (
	"github.com/amazonlinux/bottlerocket/sysupgrade/pkg/engine"
)

// Stream is a sequence of events in delivery order.
type Stream []engine.Event

// Then appends the streams to s.
func (s Stream) Then(more ...Stream) Stream {
	out := append(Stream{}, s...)
	for _, m := range more {
		out = append(out, m...)
	}
	return out
}

// Deliver sends every event in order to the sink.
func (s Stream) Deliver(sink engine.Sink) {
	for _, ev := range s {
		sink.Handle(ev)
	}
}

// Prepare is the prepare phase bracket with the given number of progress
// steps in between.
func Prepare(steps int) Stream {
	s := Stream{engine.PrepareStart{}}
	for i := 1; i <= steps; i++ {
		s = append(s, engine.PrepareProgress{Amount: uint64(i), Total: uint64(steps)})
	}
	return append(s, engine.PrepareStop{})
}

// Install is a full install cycle for one package.
func Install(key, nvr string) Stream {
	return Stream{
		engine.InstallOpen{Key: key},
		engine.InstallStart{Key: key, NVR: nvr},
		engine.InstallProgress{Key: key, Amount: 50, Total: 100},
		engine.InstallProgress{Key: key, Amount: 100, Total: 100},
		engine.InstallClose{Key: key},
	}
}

// TestInstall is the install cycle of a test transaction, which skips the
// start and progress events.
func TestInstall(key string) Stream {
	return Stream{
		engine.InstallOpen{Key: key},
		engine.InstallClose{Key: key},
	}
}

// Erase is a cleanup cycle for one superseded package.
func Erase(nvr string) Stream {
	return Stream{
		engine.EraseStart{NVR: nvr},
		engine.EraseStop{NVR: nvr},
	}
}

// Script is a scriptlet run. A non-zero exit adds a ScriptError.
func Script(script engine.ScriptType, nvr string, exit int, fatal bool) Stream {
	s := Stream{
		engine.ScriptStart{Script: script, NVR: nvr},
		engine.ScriptStop{Script: script, NVR: nvr},
	}
	if exit != 0 {
		s = append(s, engine.ScriptError{Script: script, NVR: nvr, ExitCode: exit, Fatal: fatal})
	}
	return s
}

// Upgrade is a complete transaction: prepare, one install per key (with nvr
// derived as key+"-1-1"), then one erase per given NVR.
func Upgrade(keys []string, erased []string) Stream {
	s := Prepare(1)
	for _, k := range keys {
		s = s.Then(Install(k, k+"-1-1"))
	}
	for _, nvr := range erased {
		s = s.Then(Erase(nvr))
	}
	return s
}
