package rpmcli

import (
	"bufio"
	"bytes"
	"os"
	"os/exec"
	"strings"

	"github.com/amazonlinux/bottlerocket/sysupgrade/pkg/logging"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DefaultCommand is the rpm binary used to query and apply transactions.
const DefaultCommand = "/usr/bin/rpm"

// command runs rpm. Exit codes are returned rather than treated as errors:
// rpm reports problems through both its exit code and its output.
type command interface {
	// Output runs rpm and returns its standard output.
	Output(args ...string) (out []byte, code int, err error)
	// Stream runs rpm with its standard output and standard error merged,
	// calling fn with each line as it is written.
	Stream(args []string, fn func(line string)) (code int, err error)
}

type executable struct {
	bin string
}

func (e *executable) Output(args ...string) ([]byte, int, error) {
	cmd := exec.Command(e.bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if logging.Debuggable {
		logging.New("rpm").WithFields(logrus.Fields{
			"cmd": cmd.String(),
		}).Debug("Executing")
	}
	out, err := cmd.Output()
	if exit, ok := err.(*exec.ExitError); ok {
		return out, exit.ExitCode(), nil
	}
	if err != nil {
		return nil, -1, errors.Wrapf(err, "unable to run %s", e.bin)
	}
	return out, 0, nil
}

func (e *executable) Stream(args []string, fn func(string)) (int, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return -1, errors.Wrap(err, "unable to create output pipe")
	}
	defer r.Close()

	cmd := exec.Command(e.bin, args...)
	cmd.Stdout = w
	cmd.Stderr = w
	if logging.Debuggable {
		logging.New("rpm").WithFields(logrus.Fields{
			"cmd": cmd.String(),
		}).Debug("Executing")
	}
	if err := cmd.Start(); err != nil {
		w.Close()
		return -1, errors.Wrapf(err, "unable to run %s", e.bin)
	}
	// The child holds its own copy, reading ends when it exits.
	w.Close()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		fn(strings.TrimRight(scanner.Text(), "\r"))
	}
	scanErr := scanner.Err()

	err = cmd.Wait()
	if exit, ok := err.(*exec.ExitError); ok {
		return exit.ExitCode(), nil
	}
	if err != nil {
		return -1, errors.Wrapf(err, "%s did not complete", e.bin)
	}
	if scanErr != nil {
		return -1, errors.Wrap(scanErr, "unable to read rpm output")
	}
	return 0, nil
}
