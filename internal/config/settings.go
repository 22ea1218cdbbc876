// Package config loads and persists the debugger's bootstrap settings.
//
// Settings live in a single JSON file. Loading overlays the file onto
// built-in defaults; a missing file is not an error, it simply yields
// the defaults. Saving rewrites only the known keys and leaves anything
// else in the file untouched.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ErrInvalidConfig reports a settings file that parsed but failed
// validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// Settings is the debugger's bootstrap configuration.
type Settings struct {
	// Listen is the DAP listen address. Empty means serve a single
	// session over stdio.
	Listen string

	// LogLevel names a logrus level.
	LogLevel string

	// PauseOnExceptions is the initial exception pause mode: never,
	// uncaught, or all.
	PauseOnExceptions string

	// InstructionBudget aborts the script after this many VM
	// instructions. Zero disables the cap.
	InstructionBudget int64
}

// Default returns the built-in settings.
func Default() Settings {
	return Settings{
		LogLevel:          "info",
		PauseOnExceptions: "never",
	}
}

// Load reads the settings file at path and overlays its values onto
// the defaults. A missing file yields the defaults.
func Load(path string) (Settings, error) {
	s := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("read config: %w", err)
	}
	if !gjson.ValidBytes(data) {
		return s, fmt.Errorf("%w: %s is not valid JSON", ErrInvalidConfig, path)
	}

	if v := gjson.GetBytes(data, "listen"); v.Exists() {
		s.Listen = v.String()
	}
	if v := gjson.GetBytes(data, "logLevel"); v.Exists() {
		s.LogLevel = v.String()
	}
	if v := gjson.GetBytes(data, "pauseOnExceptions"); v.Exists() {
		s.PauseOnExceptions = v.String()
	}
	if v := gjson.GetBytes(data, "instructionBudget"); v.Exists() {
		s.InstructionBudget = v.Int()
	}

	if err := s.Validate(); err != nil {
		return s, fmt.Errorf("config %s: %w", path, err)
	}
	return s, nil
}

// Save writes the settings to path, creating parent directories as
// needed. Unknown keys already present in the file survive the write.
func (s Settings) Save(path string) error {
	if err := s.Validate(); err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		data = []byte("{}\n")
	} else if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	for _, set := range []struct {
		key string
		val any
	}{
		{"listen", s.Listen},
		{"logLevel", s.LogLevel},
		{"pauseOnExceptions", s.PauseOnExceptions},
		{"instructionBudget", s.InstructionBudget},
	} {
		data, err = sjson.SetBytes(data, set.key, set.val)
		if err != nil {
			return fmt.Errorf("set %s: %w", set.key, err)
		}
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate checks the settings for values the debugger cannot use.
func (s Settings) Validate() error {
	if _, err := logrus.ParseLevel(s.LogLevel); err != nil {
		return fmt.Errorf("%w: unknown log level %q", ErrInvalidConfig, s.LogLevel)
	}
	switch s.PauseOnExceptions {
	case "never", "uncaught", "all":
	default:
		return fmt.Errorf("%w: unknown exception pause mode %q", ErrInvalidConfig, s.PauseOnExceptions)
	}
	if s.InstructionBudget < 0 {
		return fmt.Errorf("%w: negative instruction budget %d", ErrInvalidConfig, s.InstructionBudget)
	}
	return nil
}
