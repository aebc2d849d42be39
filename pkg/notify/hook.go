package notify

import (
	"github.com/sirupsen/logrus"
)

// Echoer shows transient lines without disturbing the notifier's message.
type Echoer interface {
	Echo(text string) error
}

// MessageHook echoes informational log messages to the splash screen, used
// in verbose mode so the operator sees what the upgrade is doing.
type MessageHook struct {
	Target Echoer
}

// NewMessageHook creates a hook echoing messages on e.
func NewMessageHook(e Echoer) *MessageHook {
	return &MessageHook{Target: e}
}

func (h *MessageHook) Levels() []logrus.Level {
	return []logrus.Level{logrus.InfoLevel}
}

// Fire echoes the entry's message. Failures are not reported back to
// logrus, the target logs its own.
func (h *MessageHook) Fire(entry *logrus.Entry) error {
	_ = h.Target.Echo(entry.Message)
	return nil
}
