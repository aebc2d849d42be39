package progress

import (
	"github.com/amazonlinux/bottlerocket/sysupgrade/pkg/engine"
	"github.com/amazonlinux/bottlerocket/sysupgrade/pkg/internal/logfields"
	"github.com/amazonlinux/bottlerocket/sysupgrade/pkg/logging"
	"github.com/amazonlinux/bottlerocket/sysupgrade/pkg/notify"
	"github.com/sirupsen/logrus"
)

// Translator is the engine.Sink for a transaction run. It logs the events
// the operator cares about and forwards progress to the notifier.
type Translator struct {
	log      logging.Logger
	budget   Budget
	state    State
	notifier notify.Notifier
}

// NewTranslator creates a sink for a transaction with the given element
// counts. A nil notifier is replaced by notify.Nop.
func NewTranslator(log logging.Logger, budget Budget, installs, erases int, notifier notify.Notifier) *Translator {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Translator{
		log:      log,
		budget:   budget,
		state:    NewState(installs, erases),
		notifier: notifier,
	}
}

// State returns the current progress.
func (t *Translator) State() State {
	return t.state
}

// Handle implements engine.Sink.
func (t *Translator) Handle(ev engine.Event) {
	t.log.WithFields(logfields.Event(ev)).Debug("engine event")

	switch e := ev.(type) {
	case engine.PrepareStart:
		t.log.Info("preparing transaction, one moment...")
	case engine.InstallStart:
		t.log.Infof("[%d/%d] (%d%%) installing %s...",
			t.state.Installed+1, t.state.InstallTotal, t.state.Percent, e.NVR)
	case engine.EraseStart:
		t.log.Infof("[%d/%d] (%d%%) cleaning %s...",
			t.state.Erased+1, t.state.EraseTotal, t.state.Percent, e.NVR)
	case engine.ScriptStart:
		if e.Script == engine.ScriptPostTrans {
			t.log.Infof("running %s script for %s", e.Script, e.NVR)
		}
	case engine.ScriptError:
		severity := "non-fatal"
		if e.Fatal {
			severity = "fatal"
		}
		t.log.WithFields(logrus.Fields{
			"script":   e.Script.String(),
			"nvr":      e.NVR,
			"exitcode": e.ExitCode,
		}).Warnf("%s %s scriptlet failure in %s (exit code %d)", severity, e.Script, e.NVR, e.ExitCode)
	case engine.UnpackError:
		t.log.WithField("detail", e.Detail).Warnf("error unpacking %s, file may be corrupt", e.Key)
	case engine.Unhandled:
		t.log.WithField("detail", e.Detail).Debugf("unhandled engine event %s", e.Kind)
	}

	var changed bool
	t.state, changed = t.state.Apply(t.budget, ev)
	if changed {
		t.report()
	}
}

// Finish completes the progress bar after a successful run.
func (t *Translator) Finish() {
	var changed bool
	t.state, changed = t.state.Complete()
	if changed {
		t.report()
	}
}

func (t *Translator) report() {
	if err := t.notifier.ReportPercent(uint(t.state.Percent)); err != nil {
		t.log.WithError(err).WithField("percent", t.state.Percent).Warn("unable to report progress")
	}
}
