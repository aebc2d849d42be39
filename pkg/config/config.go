// Package config loads the upgrade's configuration file.
package config

import (
	"io/ioutil"
	"os"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/amazonlinux/bottlerocket/sysupgrade/pkg/engine"
	"github.com/amazonlinux/bottlerocket/sysupgrade/pkg/engine/rpmcli"
	"github.com/amazonlinux/bottlerocket/sysupgrade/pkg/manifest"
	"github.com/amazonlinux/bottlerocket/sysupgrade/pkg/notify"
	"github.com/amazonlinux/bottlerocket/sysupgrade/pkg/progress"
	"github.com/amazonlinux/bottlerocket/sysupgrade/pkg/reboot"
	"github.com/amazonlinux/bottlerocket/sysupgrade/pkg/transaction"
)

// DefaultPath is the configuration file read when none is given.
const DefaultPath = "/etc/system-upgrade/upgrade.toml"

// Config is the complete upgrade configuration.
type Config struct {
	Link        string
	PackageList string

	Budget progress.Budget
	Check  transaction.CheckPolicy
	// Ignore lists the problem kinds the engine disregards while running.
	Ignore []engine.ProblemKind

	RPMCommand string
	RPMDBPath  string

	PlymouthCommand string

	RebootSocket string
	RebootUnit   string

	// LogLevel is the logrus level name, --debug overrides it.
	LogLevel string
	// Journal mirrors log entries to the systemd journal.
	Journal bool
}

// Default returns the built in configuration.
func Default() *Config {
	return &Config{
		Link:            manifest.DefaultLink,
		PackageList:     manifest.DefaultPackageList,
		Budget:          progress.DefaultBudget,
		Check:           transaction.DefaultCheckPolicy,
		Ignore:          transaction.DefaultIgnore,
		RPMCommand:      rpmcli.DefaultCommand,
		PlymouthCommand: notify.DefaultPlymouthCommand,
		RebootSocket:    reboot.DefaultSocket,
		RebootUnit:      reboot.DefaultUnit,
		LogLevel:        "info",
		Journal:         true,
	}
}

// file is the layout of the configuration file. Absent settings keep their
// defaults.
type file struct {
	Upgrade struct {
		Link        string `toml:"link"`
		PackageList string `toml:"package_list"`
	} `toml:"upgrade"`
	Progress struct {
		Prepare *int `toml:"prepare"`
		Install *int `toml:"install"`
		Erase   *int `toml:"erase"`
	} `toml:"progress"`
	Check struct {
		Report []string `toml:"report"`
		Fatal  []string `toml:"fatal"`
	} `toml:"check"`
	Run struct {
		Ignore []string `toml:"ignore"`
	} `toml:"run"`
	RPM struct {
		Command string `toml:"command"`
		DBPath  string `toml:"dbpath"`
	} `toml:"rpm"`
	Plymouth struct {
		Command string `toml:"command"`
	} `toml:"plymouth"`
	Reboot struct {
		Socket string `toml:"socket"`
		Unit   string `toml:"unit"`
	} `toml:"reboot"`
	Log struct {
		Level   string `toml:"level"`
		Journal *bool  `toml:"journal"`
	} `toml:"log"`
}

// Load reads the configuration at path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	raw, err := ioutil.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "unable to read configuration")
	}
	cfg, err := Parse(raw)
	if err != nil {
		return nil, errors.WithMessage(err, path)
	}
	return cfg, nil
}

// Parse reads a configuration file's contents over the defaults.
func Parse(raw []byte) (*Config, error) {
	f := file{}
	if err := toml.Unmarshal(raw, &f); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	cfg := Default()

	setString(&cfg.Link, f.Upgrade.Link)
	setString(&cfg.PackageList, f.Upgrade.PackageList)

	setInt(&cfg.Budget.Prepare, f.Progress.Prepare)
	setInt(&cfg.Budget.Install, f.Progress.Install)
	setInt(&cfg.Budget.Erase, f.Progress.Erase)
	if err := cfg.Budget.Validate(); err != nil {
		return nil, err
	}

	var err error
	if f.Check.Report != nil {
		if cfg.Check.Report, err = kinds("check.report", f.Check.Report); err != nil {
			return nil, err
		}
	}
	if f.Check.Fatal != nil {
		if cfg.Check.Fatal, err = kinds("check.fatal", f.Check.Fatal); err != nil {
			return nil, err
		}
	}
	if f.Run.Ignore != nil {
		if cfg.Ignore, err = kinds("run.ignore", f.Run.Ignore); err != nil {
			return nil, err
		}
	}

	setString(&cfg.RPMCommand, f.RPM.Command)
	setString(&cfg.RPMDBPath, f.RPM.DBPath)
	setString(&cfg.PlymouthCommand, f.Plymouth.Command)
	setString(&cfg.RebootSocket, f.Reboot.Socket)
	setString(&cfg.RebootUnit, f.Reboot.Unit)
	if f.Log.Level != "" {
		if _, err := logrus.ParseLevel(f.Log.Level); err != nil {
			return nil, errors.WithMessage(err, "log.level")
		}
		cfg.LogLevel = f.Log.Level
	}
	if f.Log.Journal != nil {
		cfg.Journal = *f.Log.Journal
	}
	return cfg, nil
}

func kinds(setting string, names []string) ([]engine.ProblemKind, error) {
	out := []engine.ProblemKind{}
	for _, name := range names {
		k, err := engine.ParseProblemKind(name)
		if err != nil {
			return nil, errors.WithMessage(err, setting)
		}
		out = append(out, k)
	}
	return out, nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}
