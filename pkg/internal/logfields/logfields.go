package logfields

import (
	"github.com/amazonlinux/bottlerocket/sysupgrade/pkg/engine"

	"github.com/sirupsen/logrus"
)

// Package describes a package read from the staging directory.
func Package(key string, p *engine.Package) logrus.Fields {
	f := logrus.Fields{"file": key}
	if p != nil {
		f["nvr"] = p.NVR()
		f["arch"] = p.Arch
	}
	return f
}

// Problem describes a transaction problem.
func Problem(p engine.Problem) logrus.Fields {
	return logrus.Fields{
		"kind":    string(p.Kind),
		"problem": p.Description,
	}
}

// Event describes an engine event.
func Event(ev engine.Event) logrus.Fields {
	return logrus.Fields{
		"event": engine.Describe(ev),
	}
}

// Counts describes the element tally of a transaction.
func Counts(installs, erases int) logrus.Fields {
	return logrus.Fields{
		"installs": installs,
		"erases":   erases,
	}
}
