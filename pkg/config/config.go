// Package config loads and validates the INI settings file shared by the
// archiver and historian daemons.
//
// The file is searched as "<prog>.ini" in $HOME, the current directory and
// /etc, in that order. Each daemon validates only the sections it consumes;
// a missing required key aborts startup.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/ini.v1"
)

// Version is reported by the -version flag of both daemons.
const Version = "0.1.0"

// ErrMissingKey reports a required configuration key absent from its
// section. Fatal at startup.
var ErrMissingKey = errors.New("missing configuration key")

// ErrNotFound reports that no configuration file was found in any of the
// search directories.
var ErrNotFound = errors.New("configuration file not found")

// searchDirs lists where the configuration file is looked up, in order.
func searchDirs() []string {
	dirs := []string{}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, home)
	}
	return append(dirs, ".", "/etc")
}

// File is a loaded configuration file.
type File struct {
	ini  *ini.File
	Path string
}

// Load searches for and parses "<prog>.ini".
func Load(prog string) (*File, error) {
	name := prog + ".ini"
	for _, dir := range searchDirs() {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		f, err := ini.Load(path)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		return &File{ini: f, Path: path}, nil
	}
	return nil, fmt.Errorf("%w: %s not in any of %v", ErrNotFound, name, searchDirs())
}

// LoadPath parses the configuration file at an explicit path. Used by
// tests; the daemons go through Load.
func LoadPath(path string) (*File, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &File{ini: f, Path: path}, nil
}

// Require verifies that a section exists and contains every listed key.
// It reports all missing keys, not just the first one.
func (f *File) Require(section string, keys ...string) error {
	sec, err := f.ini.GetSection(section)
	if err != nil {
		return fmt.Errorf("%w: section [%s]", ErrMissingKey, section)
	}

	var missing []string
	for _, key := range keys {
		if !sec.HasKey(key) {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: [%s] %v", ErrMissingKey, section, missing)
	}
	return nil
}

// HasSection reports whether an optional section is present.
func (f *File) HasSection(section string) bool {
	_, err := f.ini.GetSection(section)
	return err == nil
}

// String returns a key's value, or the empty string when absent.
func (f *File) String(section, key string) string {
	return f.ini.Section(section).Key(key).String()
}

// Int returns a key's value parsed as an integer.
func (f *File) Int(section, key string) (int, error) {
	v, err := f.ini.Section(section).Key(key).Int()
	if err != nil {
		return 0, fmt.Errorf("[%s] %s is not an integer: %w", section, key, err)
	}
	return v, nil
}

// IntDefault returns a key's integer value, or def when the key is absent
// or malformed.
func (f *File) IntDefault(section, key string, def int) int {
	if !f.ini.Section(section).HasKey(key) {
		return def
	}
	v, err := f.ini.Section(section).Key(key).Int()
	if err != nil {
		return def
	}
	return v
}

// Bool interprets yes/no style values.
func (f *File) Bool(section, key string) bool {
	switch f.ini.Section(section).Key(key).String() {
	case "yes", "true", "1", "on":
		return true
	}
	return false
}
