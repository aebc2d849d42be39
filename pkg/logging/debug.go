package logging

import "github.com/sirupsen/logrus"

// DebugEnable is set by the linker (-X) to build a binary that logs every
// engine event and external command, regardless of the --debug flag.
var DebugEnable string

// Debuggable gates the chatty logging sections. Release builds leave it false
// so the compiler can drop them.
var Debuggable = DebugEnable != ""

// Debug raises the root logger to the debug level. Debuggable builds go one
// step further and record the calling function on every entry.
func Debug() Setter {
	return func(r *logrus.Logger) error {
		r.SetLevel(logrus.DebugLevel)
		if Debuggable {
			r.SetLevel(logrus.TraceLevel)
			r.SetReportCaller(true)
		}
		return nil
	}
}
