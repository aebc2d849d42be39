// Package upgrade runs the offline system upgrade from the staged manifest
// to the reboot.
package upgrade

import (
	"io"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/amazonlinux/bottlerocket/sysupgrade/pkg/config"
	"github.com/amazonlinux/bottlerocket/sysupgrade/pkg/engine"
	"github.com/amazonlinux/bottlerocket/sysupgrade/pkg/logging"
	"github.com/amazonlinux/bottlerocket/sysupgrade/pkg/manifest"
	"github.com/amazonlinux/bottlerocket/sysupgrade/pkg/notify"
	"github.com/amazonlinux/bottlerocket/sysupgrade/pkg/reboot"
	"github.com/amazonlinux/bottlerocket/sysupgrade/pkg/result"
	"github.com/amazonlinux/bottlerocket/sysupgrade/pkg/transaction"
)

const upgradeMessage = "Installing system upgrade, do not power off"

// Options select what the upgrade does.
type Options struct {
	// Root is the filesystem the upgrade applies to.
	Root string
	// Testing runs the transaction without applying it and leaves the staged
	// upgrade in place.
	Testing bool
	// Reboot restarts the host after a successful upgrade.
	Reboot bool
}

type loader interface {
	Load() (*manifest.Manifest, error)
}

// Upgrader performs one upgrade.
type Upgrader struct {
	log  logging.Logger
	opts Options
	cfg  *config.Config

	loader   loader
	engine   engine.Engine
	notifier notify.Notifier
	trigger  reboot.Trigger
	reporter *result.Reporter

	// shown is set while the upgrade message is displayed.
	shown bool
}

// New creates an Upgrader. Nil notifier and trigger default to no-ops; the
// final report is written to out.
func New(log logging.Logger, opts Options, cfg *config.Config, eng engine.Engine, notifier notify.Notifier, trigger reboot.Trigger, out io.Writer) (*Upgrader, error) {
	switch {
	case eng == nil:
		return nil, errors.New("transaction engine is nil")
	case cfg == nil:
		return nil, errors.New("configuration is nil")
	case opts.Root == "":
		return nil, errors.New("root must be provided")
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if trigger == nil {
		trigger = reboot.Nop{}
	}
	return &Upgrader{
		log:  log.WithField("run", uuid.New().String()),
		opts: opts,
		cfg:  cfg,
		loader: &manifest.Loader{
			Root:        opts.Root,
			Link:        cfg.Link,
			PackageList: cfg.PackageList,
			Testing:     opts.Testing,
		},
		engine:   eng,
		notifier: notifier,
		trigger:  trigger,
		reporter: result.NewReporter(out),
	}, nil
}

// Run performs the upgrade. An error is returned for fatal conditions, in
// which case nothing was applied. Otherwise the outcome decides the exit
// code.
func (u *Upgrader) Run() (result.Outcome, error) {
	m, err := u.loader.Load()
	if err != nil {
		return result.Failure, errors.WithMessage(err, "unable to load manifest")
	}
	u.log.WithField("packages", len(m.Packages)).Infof("upgrading from %s", m.PackageDir)
	u.display(upgradeMessage)
	defer u.hide()

	builder := transaction.NewBuilder(u.log, u.engine, u.cfg.Check)
	req, err := builder.Build(u.opts.Root, m)
	if err != nil {
		return result.Failure, err
	}
	defer func() {
		if err := req.Close(); err != nil {
			u.log.WithError(err).Warn("unable to release transaction")
		}
	}()

	runner := transaction.NewRunner(u.log, u.cfg.Budget, u.notifier)
	run, err := runner.Run(req, transaction.Flags(u.opts.Testing, u.cfg.Ignore))
	if err != nil {
		return result.Failure, err
	}
	u.log.WithFields(logrus.Fields{
		"code":    int(run.Code),
		"percent": run.Progress().Percent,
	}).Debug("transaction finished")

	outcome := result.Classify(run.Code, run.Problems)
	if outcome.Succeeded() {
		run.Finish()
	}
	u.reporter.Report(result.Summary{
		Outcome:       outcome,
		Code:          run.Code,
		Testing:       u.opts.Testing,
		Problems:      run.Problems,
		Skipped:       req.Skipped,
		CheckProblems: req.Problems,
	})

	if ShouldReboot(u.opts, outcome) {
		u.hide()
		if err := u.trigger.Reboot(); err != nil {
			u.log.WithError(err).Error("unable to reboot")
		}
	}
	return outcome, nil
}

// ShouldReboot reports whether the host is restarted after an upgrade with
// the given outcome. Test runs never reboot.
func ShouldReboot(opts Options, outcome result.Outcome) bool {
	return opts.Reboot && !opts.Testing && outcome.Succeeded()
}

func (u *Upgrader) display(text string) {
	u.shown = true
	if err := u.notifier.DisplayMessage(text); err != nil {
		u.log.WithError(err).Warn("unable to display message")
	}
}

func (u *Upgrader) hide() {
	if !u.shown {
		return
	}
	u.shown = false
	if err := u.notifier.HideMessage(); err != nil {
		u.log.WithError(err).Warn("unable to hide message")
	}
}
