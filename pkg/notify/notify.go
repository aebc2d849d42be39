// Package notify reports upgrade progress to the operator's console, usually
// the boot splash screen.
package notify

// Notifier receives progress updates. Implementations must not block the
// caller: updates are sent from within the engine's event callback.
type Notifier interface {
	// DisplayMessage shows text to the operator.
	DisplayMessage(text string) error
	// HideMessage removes the displayed message.
	HideMessage() error
	// ReportPercent updates the progress indicator, percent is 0 to 100.
	ReportPercent(percent uint) error
	// Close flushes pending updates and releases the notifier.
	Close() error
}

// Nop is used when no splash screen is present.
type Nop struct{}

func (Nop) DisplayMessage(string) error { return nil }
func (Nop) HideMessage() error          { return nil }
func (Nop) ReportPercent(uint) error    { return nil }
func (Nop) Close() error                { return nil }
