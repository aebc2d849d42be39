// Package manifest locates the staged upgrade and reads its package list.
package manifest

import (
	"bufio"
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

const (
	// DefaultLink is the redirection pointer, relative to the root, that
	// names the staging directory.
	DefaultLink = "system-upgrade"
	// DefaultPackageList is the manifest file name inside the staging
	// directory.
	DefaultPackageList = "package.list"
)

var (
	// ErrNoRedirect is returned when the redirection pointer cannot be read.
	ErrNoRedirect = errors.New("no staged upgrade")
	// ErrEmptyManifest is returned when the package list names no packages.
	ErrEmptyManifest = errors.New("no packages to upgrade")
)

// Manifest is the staged upgrade: where its packages are and which to
// install.
type Manifest struct {
	// PackageDir is the staging directory, including the root.
	PackageDir string
	// Packages are the package file names relative to PackageDir, in list
	// order.
	Packages []string
}

// Path returns the location of a listed package.
func (m *Manifest) Path(name string) string {
	return filepath.Join(m.PackageDir, name)
}

// Loader reads the manifest of a staged upgrade.
type Loader struct {
	// Root is the filesystem root the upgrade applies to.
	Root string
	// Link is the redirection pointer relative to Root.
	Link string
	// PackageList is the manifest file name in the staging directory.
	PackageList string
	// Testing leaves the redirection pointer in place.
	Testing bool
}

// Load resolves the redirection pointer and reads the package list. The
// pointer is removed as soon as it is resolved so that a crash during the
// upgrade does not cause it to be retried on every boot.
func (l *Loader) Load() (*Manifest, error) {
	link := filepath.Join(l.root(), l.linkName())
	target, err := os.Readlink(link)
	if err != nil {
		return nil, errors.Wrapf(ErrNoRedirect, "%s: %v", link, err)
	}
	dir := target
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(filepath.Dir(link), dir)
	} else {
		dir = filepath.Join(l.root(), dir)
	}

	if !l.Testing {
		if err := os.Remove(link); err != nil {
			return nil, errors.Wrapf(err, "unable to remove %s", link)
		}
	}

	list := filepath.Join(dir, l.listName())
	data, err := ioutil.ReadFile(list)
	if err != nil {
		return nil, errors.Wrap(err, "unable to read package list")
	}
	packages, err := Parse(data)
	if err != nil {
		return nil, errors.WithMessage(err, list)
	}
	return &Manifest{PackageDir: dir, Packages: packages}, nil
}

func (l *Loader) root() string {
	if l.Root == "" {
		return "/"
	}
	return l.Root
}

func (l *Loader) linkName() string {
	if l.Link == "" {
		return DefaultLink
	}
	return l.Link
}

func (l *Loader) listName() string {
	if l.PackageList == "" {
		return DefaultPackageList
	}
	return l.PackageList
}

// Parse reads a package list: one file name per line with surrounding
// whitespace trimmed. Blank lines are skipped.
func Parse(data []byte) ([]string, error) {
	var packages []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		name := strings.TrimSpace(scanner.Text())
		if name == "" {
			continue
		}
		packages = append(packages, name)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "malformed package list")
	}
	if len(packages) == 0 {
		return nil, ErrEmptyManifest
	}
	return packages, nil
}
