package notify

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/amazonlinux/bottlerocket/sysupgrade/pkg/logging"
	"github.com/amazonlinux/bottlerocket/sysupgrade/pkg/workgroup"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DefaultPlymouthCommand is the plymouth client binary.
const DefaultPlymouthCommand = "/usr/bin/plymouth"

// queueSize bounds the number of messages waiting for the client. Progress
// updates are not queued, only the latest one is kept.
const queueSize = 128

// ErrQueueFull is returned when a message was dropped because the client is
// falling behind.
var ErrQueueFull = errors.New("plymouth update queue full")

// ErrClosed is returned for updates sent after Close.
var ErrClosed = errors.New("plymouth notifier closed")

type command interface {
	Run(ctx context.Context, args ...string) error
}

type executable struct {
	bin string
}

func (e *executable) Run(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, e.bin, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "%s %s: %s", e.bin, strings.Join(args, " "), bytes.TrimSpace(out))
	}
	return nil
}

// Plymouth drives the plymouth boot splash through its client binary.
// Updates are handed to a single background worker so they reach the daemon
// in order without the caller waiting on the client.
type Plymouth struct {
	bin  command
	log  logging.Logger
	work *workgroup.Group
	wake chan struct{}

	mu sync.Mutex
	// pending messages in send order.
	pending [][]string
	// echoes counts the pending messages that may be dropped.
	echoes int
	// percent is the latest progress not yet delivered, -1 for none.
	percent int
	closed  bool
	// message is the displayed text, plymouth hides messages by text.
	message string
	// echo is the displayed log line in verbose mode.
	echo string
}

// NewPlymouth connects to the plymouth daemon using the client at path. An
// error means the daemon is not running and the caller should fall back to
// Nop.
func NewPlymouth(path string) (*Plymouth, error) {
	if path == "" {
		path = DefaultPlymouthCommand
	}
	return newPlymouth(&executable{bin: path}, logging.New("plymouth"))
}

func newPlymouth(bin command, log logging.Logger) (*Plymouth, error) {
	ctx := context.Background()
	if err := bin.Run(ctx, "--ping"); err != nil {
		return nil, errors.WithMessage(err, "plymouth daemon not reachable")
	}
	p := &Plymouth{
		bin:     bin,
		log:     log,
		work:    workgroup.WithContext(ctx),
		wake:    make(chan struct{}, 1),
		percent: -1,
	}
	p.work.Work(p.drain)
	return p, nil
}

func (p *Plymouth) drain(ctx context.Context) error {
	var failed int
	run := func(args ...string) {
		if err := p.bin.Run(ctx, args...); err != nil {
			// Logged at warn: the verbose message hook forwards info.
			p.log.WithError(err).Warn("plymouth update failed")
			failed++
		}
	}
	for {
		updates, percent, closed := p.take()
		if len(updates) == 0 && percent < 0 {
			if closed {
				break
			}
			<-p.wake
			continue
		}
		for _, args := range updates {
			run(args...)
		}
		if percent >= 0 {
			run("system-update", fmt.Sprintf("--progress=%d", percent))
		}
	}
	if failed > 0 {
		return errors.Errorf("%d plymouth updates failed", failed)
	}
	return nil
}

// take hands everything pending to the worker.
func (p *Plymouth) take() ([][]string, int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	updates, percent := p.pending, p.percent
	p.pending, p.echoes, p.percent = nil, 0, -1
	return updates, percent, p.closed
}

func (p *Plymouth) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// enqueue adds messages to be sent in order, locked by the caller. A
// droppable message is refused once the queue is full.
func (p *Plymouth) enqueue(droppable bool, updates ...[]string) error {
	if p.closed {
		return ErrClosed
	}
	if droppable {
		if p.echoes >= queueSize {
			p.log.WithFields(logrus.Fields{"args": updates}).Debug("dropping plymouth update")
			return ErrQueueFull
		}
		p.echoes++
	}
	p.pending = append(p.pending, updates...)
	p.signal()
	return nil
}

func (p *Plymouth) DisplayMessage(text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.message = text
	return p.enqueue(false, []string{"display-message", "--text=" + text})
}

func (p *Plymouth) HideMessage() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enqueue(false, []string{"hide-message", "--text=" + p.message})
}

// Echo shows a transient line in place of the previous one without
// touching the message shown by DisplayMessage. Echoes are dropped when the
// client falls behind.
func (p *Plymouth) Echo(text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	updates := [][]string{{"display-message", "--text=" + text}}
	if p.echo != "" {
		updates = append([][]string{{"hide-message", "--text=" + p.echo}}, updates...)
	}
	if err := p.enqueue(true, updates...); err != nil {
		return err
	}
	p.echo = text
	return nil
}

// ReportPercent replaces any progress not yet delivered, it never fails
// because the client is slow.
func (p *Plymouth) ReportPercent(percent uint) error {
	if percent > 100 {
		percent = 100
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.percent = int(percent)
	p.signal()
	return nil
}

// Close waits for pending updates to be delivered. A displayed verbose line
// is hidden first.
func (p *Plymouth) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if p.echo != "" {
		p.pending = append(p.pending, []string{"hide-message", "--text=" + p.echo})
		p.echo = ""
	}
	p.closed = true
	p.signal()
	p.mu.Unlock()
	return p.work.Wait()
}
