package testoutput

import (
	"bytes"
	"io"
	"sync"
	"testing"

	"github.com/amazonlinux/bottlerocket/sysupgrade/pkg/logging"
	"github.com/sirupsen/logrus"
)

// New returns a writer that writes strings (assuming lines) to the testing
// logger.
func New(t testing.TB) io.Writer {
	return &testoutput{t: t}
}

// Logger returns a component logger that writes to the test's log. The
// logger has its own logrus instance so parallel tests do not share output.
func Logger(t testing.TB, component string) logging.Logger {
	l := logrus.New()
	l.SetOutput(New(t))
	l.SetLevel(logrus.DebugLevel)
	return l.WithField("component", component)
}

// Capture returns a component logger whose output is both written to the
// test's log and retained for inspection.
func Capture(t testing.TB, component string) (logging.Logger, *Buffer) {
	buf := &Buffer{}
	l := logrus.New()
	l.SetOutput(io.MultiWriter(New(t), buf))
	l.SetLevel(logrus.DebugLevel)
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true, DisableColors: true})
	return l.WithField("component", component), buf
}

type testoutput struct {
	t testing.TB
}

func (l *testoutput) Write(p []byte) (n int, err error) {
	l.t.Logf("%s", bytes.TrimRight(p, "\n"))
	return len(p), nil
}

// Buffer is a concurrency safe bytes.Buffer for captured log output.
type Buffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *Buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
