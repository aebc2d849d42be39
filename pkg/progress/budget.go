package progress

import "github.com/pkg/errors"

// Budget is the share of the progress bar, in percent, given to each phase.
type Budget struct {
	Prepare int
	Install int
	Erase   int
}

// DefaultBudget gives the prepare phase just enough to show initial
// progress.
var DefaultBudget = Budget{Prepare: 2, Install: 70, Erase: 28}

// Validate checks that the shares are non-negative and sum to 100.
func (b Budget) Validate() error {
	if b.Prepare < 0 || b.Install < 0 || b.Erase < 0 {
		return errors.Errorf("negative progress budget %d/%d/%d", b.Prepare, b.Install, b.Erase)
	}
	if sum := b.Prepare + b.Install + b.Erase; sum != 100 {
		return errors.Errorf("progress budget %d/%d/%d sums to %d, not 100", b.Prepare, b.Install, b.Erase, sum)
	}
	return nil
}
