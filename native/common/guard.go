package common

import "errors"

var (
	// ErrModulePaused signals that the action class has been administratively
	// disabled for the module.
	ErrModulePaused = errors.New("module paused")
	// ErrReentrantCall signals that a mutating entry point was invoked while
	// another mutation on the same component was still in flight.
	ErrReentrantCall = errors.New("reentrant call")
)

// PauseView reports whether a module's state-changing flows are halted.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects mutations for paused modules. A nil view or empty module name
// leaves the mutation unguarded.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// ReentrancyLatch is the explicit analogue of a non-reentrant modifier: every
// mutating entry point enters the latch first and exits it when done. State
// mutation is single-threaded per call, so a plain flag is sufficient; the
// latch exists to stop collaborator callbacks from re-entering mid-mutation.
type ReentrancyLatch struct {
	entered bool
}

// Enter acquires the latch, failing when a mutation is already in flight.
func (l *ReentrancyLatch) Enter() error {
	if l == nil {
		return nil
	}
	if l.entered {
		return ErrReentrantCall
	}
	l.entered = true
	return nil
}

// Exit releases the latch.
func (l *ReentrancyLatch) Exit() {
	if l == nil {
		return
	}
	l.entered = false
}
