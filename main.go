package main

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/amazonlinux/bottlerocket/sysupgrade/pkg/config"
	"github.com/amazonlinux/bottlerocket/sysupgrade/pkg/engine/rpmcli"
	"github.com/amazonlinux/bottlerocket/sysupgrade/pkg/logging"
	"github.com/amazonlinux/bottlerocket/sysupgrade/pkg/notify"
	"github.com/amazonlinux/bottlerocket/sysupgrade/pkg/reboot"
	"github.com/amazonlinux/bottlerocket/sysupgrade/pkg/result"
	"github.com/amazonlinux/bottlerocket/sysupgrade/pkg/upgrade"
)

// testEnv forces a test run when set to any value.
const testEnv = "UPGRADE_TEST"

// usageError is an invalid invocation.
type usageError struct {
	error
}

func main() {
	logging.Set(logging.Split())
	os.Exit(_main(os.Args))
}

func _main(args []string) int {
	log := logging.New("main")

	exit := result.ExitSuccess
	started := false
	app := &cli.App{
		Name:      "system-upgrade",
		Usage:     "apply a staged offline system upgrade",
		ArgsUsage: " ",
		Flags:     flags(),
		// Errors are reported and mapped to exit codes below.
		ExitErrHandler: func(*cli.Context, error) {},
		Action: func(c *cli.Context) error {
			started = true
			if c.NArg() > 0 {
				return usageError{errors.Errorf("unexpected arguments: %v", c.Args().Slice())}
			}
			code, err := run(c)
			exit = code
			return err
		},
	}

	if err := app.Run(args); err != nil {
		switch err.(type) {
		case usageError:
			log.WithError(err).Error("invalid usage")
			return result.ExitUsage
		}
		if !started {
			// Flag parsing failed, cli has printed the usage.
			return result.ExitUsage
		}
		log.WithError(err).Error("upgrade failed")
		return result.ExitFailure
	}
	return exit
}

func flags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{Name: "testing", Aliases: []string{"n"}, Usage: "test the transaction without applying it (also set by " + testEnv + ")"},
		&cli.StringFlag{Name: "root", Aliases: []string{"r"}, Value: "/", Usage: "filesystem root to upgrade"},
		&cli.BoolFlag{Name: "reboot", Aliases: []string{"b"}, Usage: "reboot after a successful upgrade"},
		&cli.BoolFlag{Name: "plymouth", Aliases: []string{"p"}, Usage: "show progress on the plymouth splash screen"},
		&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "show progress messages on the splash screen"},
		&cli.BoolFlag{Name: "debug", Aliases: []string{"d"}, Usage: "enable debug logging"},
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Value: config.DefaultPath, Usage: "configuration file"},
	}
}

// options resolves what the upgrade does from the command line and
// environment. A test run, requested either way, never reboots.
func options(c *cli.Context) (upgrade.Options, error) {
	opts := upgrade.Options{
		Testing: c.Bool("testing"),
		Reboot:  c.Bool("reboot"),
	}
	if _, ok := os.LookupEnv(testEnv); ok {
		opts.Testing = true
	}
	if opts.Testing {
		opts.Reboot = false
	}
	root, err := resolveRoot(c.String("root"))
	if err != nil {
		return opts, usageError{err}
	}
	opts.Root = root
	return opts, nil
}

func run(c *cli.Context) (int, error) {
	log := logging.New("main")
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return result.ExitFailure, err
	}
	logging.Set(logging.Level(cfg.LogLevel))
	if c.Bool("debug") {
		logging.Set(logging.Debug())
	}
	if logging.Debuggable {
		log.Info("low-level logging.Debuggable is enabled in this build")
	}
	if cfg.Journal {
		if hook := logging.NewJournalHook("system-upgrade"); hook != nil {
			logging.Set(logging.Hook(hook))
		}
	}

	opts, err := options(c)
	if err != nil {
		return result.ExitUsage, err
	}
	if !opts.Testing && (os.Getuid() != 0 || os.Geteuid() != 0) {
		return result.ExitFailure, errors.New("must be run as root")
	}

	var notifier notify.Notifier = notify.Nop{}
	if c.Bool("plymouth") {
		p, err := notify.NewPlymouth(cfg.PlymouthCommand)
		if err != nil {
			log.WithError(err).Warn("plymouth disabled")
		} else {
			notifier = p
		}
	}
	defer func() {
		if err := notifier.Close(); err != nil {
			log.WithError(err).Warn("notifier did not shut down cleanly")
		}
	}()
	if c.Bool("verbose") {
		if p, ok := notifier.(*notify.Plymouth); ok {
			logging.Set(logging.Hook(notify.NewMessageHook(p)))
		} else {
			log.Warn("verbose mode requires plymouth, disabled")
		}
	}

	var trigger reboot.Trigger = reboot.Nop{}
	if opts.Reboot {
		trigger = reboot.NewSystemd(cfg.RebootSocket, cfg.RebootUnit)
	}

	eng := rpmcli.New(rpmcli.WithCommand(cfg.RPMCommand), rpmcli.WithDBPath(cfg.RPMDBPath))
	u, err := upgrade.New(logging.New("upgrade"), opts, cfg, eng, notifier, trigger, os.Stdout)
	if err != nil {
		return result.ExitFailure, err
	}
	outcome, err := u.Run()
	if err != nil {
		return result.ExitFailure, err
	}
	return outcome.ExitCode(), nil
}

// resolveRoot makes root absolute and checks that it is a directory.
func resolveRoot(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", errors.Wrapf(err, "invalid root %q", root)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", errors.Wrapf(err, "invalid root %q", root)
	}
	if !info.IsDir() {
		return "", errors.Errorf("root %q is not a directory", root)
	}
	return abs, nil
}
