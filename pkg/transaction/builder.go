// Package transaction builds the upgrade transaction from a manifest and
// runs it with progress reporting.
package transaction

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/amazonlinux/bottlerocket/sysupgrade/pkg/engine"
	"github.com/amazonlinux/bottlerocket/sysupgrade/pkg/internal/logfields"
	"github.com/amazonlinux/bottlerocket/sysupgrade/pkg/logging"
	"github.com/amazonlinux/bottlerocket/sysupgrade/pkg/manifest"
)

var (
	// ErrNothingToUpgrade is returned when none of the manifest's packages
	// could be added to the transaction.
	ErrNothingToUpgrade = errors.New("nothing to upgrade")
	// ErrCheckFailed is returned when the engine could not check the
	// transaction at all.
	ErrCheckFailed = errors.New("transaction check failed")
	// ErrCheckProblems is returned when the check found problems the policy
	// considers fatal.
	ErrCheckProblems = errors.New("transaction has fatal problems")
	// ErrOrderFailed is returned when the engine could not order the
	// transaction.
	ErrOrderFailed = errors.New("transaction ordering failed")
)

// Skipped is a manifest entry left out of the transaction.
type Skipped struct {
	Key string
	Err error
}

// Request is a built, checked and ordered transaction.
type Request struct {
	Root     string
	Manifest *manifest.Manifest
	Txn      engine.Transaction

	Installs int
	Erases   int

	// Skipped are entries that could not be added.
	Skipped []Skipped
	// Problems are the check problems the policy reports.
	Problems engine.ProblemSet
}

// Close releases the engine transaction.
func (r *Request) Close() error {
	return r.Txn.Close()
}

// Builder builds transactions on an engine.
type Builder struct {
	log    logging.Logger
	engine engine.Engine
	policy CheckPolicy
}

// NewBuilder creates a Builder.
func NewBuilder(log logging.Logger, eng engine.Engine, policy CheckPolicy) *Builder {
	return &Builder{log: log, engine: eng, policy: policy}
}

// Build adds every manifest entry to a new transaction bound to root. Entries
// that cannot be added are skipped. The transaction is discarded on error.
func (b *Builder) Build(root string, m *manifest.Manifest) (*Request, error) {
	txn, err := b.engine.NewTransaction(root)
	if err != nil {
		return nil, errors.WithMessage(err, "unable to create transaction")
	}
	req := &Request{Root: root, Manifest: m, Txn: txn}
	if err := b.build(req); err != nil {
		if cerr := txn.Close(); cerr != nil {
			b.log.WithError(cerr).Warn("unable to discard transaction")
		}
		return nil, err
	}
	return req, nil
}

func (b *Builder) build(req *Request) error {
	txn := req.Txn
	txn.DisableSignatures()

	for _, key := range req.Manifest.Packages {
		pkg, err := txn.AddInstall(req.Manifest.Path(key), key)
		if err != nil {
			b.log.WithError(err).WithFields(logfields.Package(key, nil)).Warn("skipping package")
			req.Skipped = append(req.Skipped, Skipped{Key: key, Err: err})
			continue
		}
		b.log.WithFields(logfields.Package(key, pkg)).Debug("added package")
	}

	elements, err := txn.Elements()
	if err != nil {
		return errors.WithMessage(err, "unable to list transaction elements")
	}
	req.Installs, req.Erases = engine.Tally(elements)
	b.log.WithFields(logfields.Counts(req.Installs, req.Erases)).Info("transaction built")
	if req.Installs == 0 {
		return ErrNothingToUpgrade
	}

	problems, err := txn.Check()
	if err != nil {
		return errors.Wrap(ErrCheckFailed, err.Error())
	}
	result := b.policy.Apply(problems)
	for _, p := range result.Ignored {
		b.log.WithFields(logfields.Problem(p)).Debug("ignoring check problem")
	}
	for _, p := range result.Reported {
		b.log.WithFields(logfields.Problem(p)).Warn("transaction check problem")
	}
	req.Problems = result.Reported
	if len(result.Fatal) > 0 {
		for _, p := range result.Fatal {
			b.log.WithFields(logfields.Problem(p)).Error("fatal transaction check problem")
		}
		return errors.Wrapf(ErrCheckProblems, "%d problems", len(result.Fatal))
	}

	if err := txn.Order(); err != nil {
		return errors.Wrap(ErrOrderFailed, err.Error())
	}
	if logging.Debuggable {
		b.log.WithFields(logrus.Fields{
			"root":    req.Root,
			"skipped": len(req.Skipped),
		}).Debug("transaction ordered")
	}
	return nil
}
