package transaction

import (
	"github.com/pkg/errors"

	"github.com/amazonlinux/bottlerocket/sysupgrade/pkg/engine"
	"github.com/amazonlinux/bottlerocket/sysupgrade/pkg/internal/logfields"
	"github.com/amazonlinux/bottlerocket/sysupgrade/pkg/logging"
	"github.com/amazonlinux/bottlerocket/sysupgrade/pkg/notify"
	"github.com/amazonlinux/bottlerocket/sysupgrade/pkg/progress"
)

// Runner applies built transactions.
type Runner struct {
	log      logging.Logger
	budget   progress.Budget
	notifier notify.Notifier
}

// NewRunner creates a Runner reporting progress to notifier.
func NewRunner(log logging.Logger, budget progress.Budget, notifier notify.Notifier) *Runner {
	return &Runner{log: log, budget: budget, notifier: notifier}
}

// Run is the result of applying a transaction.
type Run struct {
	Code engine.Code
	// Problems are collected only when the engine reports failure.
	Problems engine.ProblemSet

	translator *progress.Translator
}

// Progress returns the progress reached by the run.
func (r *Run) Progress() progress.State {
	return r.translator.State()
}

// Finish completes the progress bar.
func (r *Run) Finish() {
	r.translator.Finish()
}

// Run applies the transaction and blocks until the engine is done. An error
// means the engine could not run the transaction at all.
func (r *Runner) Run(req *Request, flags engine.Flags) (*Run, error) {
	translator := progress.NewTranslator(r.log, r.budget, req.Installs, req.Erases, r.notifier)
	log := r.log.WithFields(logfields.Counts(req.Installs, req.Erases))
	if flags.Test {
		log.Info("testing upgrade transaction")
	} else {
		log.Info("running upgrade transaction")
	}

	code, err := req.Txn.Run(flags, translator)
	if err != nil {
		return nil, errors.WithMessage(err, "unable to run transaction")
	}
	run := &Run{Code: code, translator: translator}
	if !code.Succeeded() {
		run.Problems = req.Txn.Problems()
	}
	log.WithField("code", int(code)).Debug("transaction complete")
	return run, nil
}
