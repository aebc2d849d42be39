package progress

import (
	"github.com/amazonlinux/bottlerocket/sysupgrade/pkg/engine"
)

// State is the progress of a running transaction.
type State struct {
	// Installed and Erased count the elements completed so far.
	Installed int
	Erased    int
	// InstallTotal and EraseTotal are fixed once the transaction is built.
	InstallTotal int
	EraseTotal   int
	// Percent is the overall progress, it never decreases.
	Percent int
	// PrevPercent is the last Percent that was reported.
	PrevPercent int
}

// NewState starts tracking a transaction with the given element counts.
func NewState(installs, erases int) State {
	return State{InstallTotal: installs, EraseTotal: erases}
}

// Apply advances the state by one event. It returns the updated state and
// whether its Percent should be reported, which is only the case when it grew
// beyond the last reported value.
func (s State) Apply(b Budget, ev engine.Event) (State, bool) {
	switch e := ev.(type) {
	case engine.PrepareProgress:
		if e.Total > 0 {
			amount := e.Amount
			if amount > e.Total {
				amount = e.Total
			}
			s.advance(int(uint64(b.Prepare) * amount / e.Total))
		}
	case engine.PrepareStop:
		s.advance(b.Prepare)
	case engine.InstallClose:
		// Counted on close rather than stop: test transactions only open and
		// close package files.
		s.Installed++
		if s.InstallTotal > 0 {
			s.advance(b.Prepare + share(b.Install, s.Installed, s.InstallTotal))
		}
	case engine.EraseStop:
		s.Erased++
		if s.EraseTotal > 0 {
			s.advance(b.Prepare + b.Install + share(b.Erase, s.Erased, s.EraseTotal))
		}
	}
	if s.Percent > s.PrevPercent {
		s.PrevPercent = s.Percent
		return s, true
	}
	return s, false
}

// Complete moves the state to 100 percent.
func (s State) Complete() (State, bool) {
	s.advance(100)
	if s.Percent > s.PrevPercent {
		s.PrevPercent = s.Percent
		return s, true
	}
	return s, false
}

func (s *State) advance(percent int) {
	if percent > s.Percent {
		s.Percent = percent
	}
}

// share is the floor of budget*done/total with done clamped to total.
func share(budget, done, total int) int {
	if done > total {
		done = total
	}
	return budget * done / total
}
