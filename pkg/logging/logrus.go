package logging

import (
	"io"
	"io/ioutil"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

type Setter func(*logrus.Logger) error

var root = struct {
	logger *logrus.Logger
	mutex  *sync.Mutex
}{
	logger: func() *logrus.Logger {
		l := logrus.New()

		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})

		return l
	}(),
	mutex: &sync.Mutex{},
}

type Logger interface {
	logrus.FieldLogger

	Writer() *io.PipeWriter
	WriterLevel(logrus.Level) *io.PipeWriter
}

func New(component string, setters ...Setter) Logger {
	for _, setter := range setters {
		// no errors handling for now
		_ = Set(setter)
	}
	return root.logger.WithField("component", component)
}

func Set(setter Setter) error {
	root.mutex.Lock()
	err := setter(root.logger)
	root.mutex.Unlock()
	return err
}

func Level(lvl string) Setter {
	l, err := logrus.ParseLevel(lvl)
	if err != nil {
		root.logger.WithError(err).Errorf("unable to parse provided level %q", lvl)
		l = logrus.DebugLevel
	}
	return func(r *logrus.Logger) error {
		r.SetLevel(l)
		return nil
	}
}

// Hook adds a hook to the root logger.
func Hook(hook logrus.Hook) Setter {
	return func(r *logrus.Logger) error {
		r.AddHook(hook)
		return nil
	}
}

// Split dispatches logging output by level instead of writing all levels'
// messages to the logger's output: errors to stderr, the rest to stdout.
func Split() Setter {
	return func(r *logrus.Logger) error {
		r.SetOutput(ioutil.Discard)
		r.AddHook(NewSplitHook(os.Stdout,
			logrus.WarnLevel, logrus.InfoLevel, logrus.DebugLevel, logrus.TraceLevel))
		r.AddHook(NewSplitHook(os.Stderr,
			logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel))
		return nil
	}
}
