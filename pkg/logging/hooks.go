package logging

import (
	"fmt"
	"io"
	"strings"

	"github.com/coreos/go-systemd/v22/journal"
	"github.com/sirupsen/logrus"
)

// SplitHook directs matched levels to its configured output.
type SplitHook struct {
	output io.Writer
	levels []logrus.Level
}

// NewSplitHook creates a hook writing entries of the given levels to output.
func NewSplitHook(output io.Writer, levels ...logrus.Level) *SplitHook {
	return &SplitHook{output: output, levels: levels}
}

// Fire is invoked when logrus tries to log any message.
func (hook *SplitHook) Fire(entry *logrus.Entry) error {
	line, err := entry.String()
	if err != nil {
		return err
	}
	for _, level := range hook.levels {
		if level == entry.Level {
			_, err := hook.output.Write([]byte(line))
			return err
		}
	}
	return nil
}

// Levels returns the log levels this hook is being applied to.
func (hook *SplitHook) Levels() []logrus.Level {
	return hook.levels
}

// JournalHook mirrors log entries into the systemd journal. Upgrades run
// from a systemd unit early in boot; the journal keeps the record once the
// console is gone.
type JournalHook struct {
	// Identifier is sent as SYSLOG_IDENTIFIER.
	Identifier string
	send       func(message string, priority journal.Priority, vars map[string]string) error
}

// NewJournalHook returns a hook if the journal is reachable, nil otherwise.
func NewJournalHook(identifier string) *JournalHook {
	if !journal.Enabled() {
		return nil
	}
	return &JournalHook{Identifier: identifier, send: journal.Send}
}

// Fire sends the entry to the journal with its fields as journal variables.
func (hook *JournalHook) Fire(entry *logrus.Entry) error {
	vars := make(map[string]string, len(entry.Data)+1)
	if hook.Identifier != "" {
		vars["SYSLOG_IDENTIFIER"] = hook.Identifier
	}
	for k, v := range entry.Data {
		name := journalVarName(k)
		if name == "" {
			continue
		}
		if err, ok := v.(error); ok {
			vars[name] = err.Error()
			continue
		}
		vars[name] = fmt.Sprint(v)
	}
	return hook.send(entry.Message, journalPriority(entry.Level), vars)
}

// Levels returns every level.
func (hook *JournalHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func journalPriority(lvl logrus.Level) journal.Priority {
	switch lvl {
	case logrus.PanicLevel:
		return journal.PriEmerg
	case logrus.FatalLevel:
		return journal.PriCrit
	case logrus.ErrorLevel:
		return journal.PriErr
	case logrus.WarnLevel:
		return journal.PriWarning
	case logrus.InfoLevel:
		return journal.PriInfo
	}
	return journal.PriDebug
}

// journalVarName converts a logrus field name into a valid journal variable
// name: uppercase letters, digits and underscores, not starting with an
// underscore.
func journalVarName(field string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		}
		return '_'
	}, field)
	name = strings.TrimLeft(name, "_")
	if name == "" || (name[0] >= '0' && name[0] <= '9') {
		return ""
	}
	return name
}
