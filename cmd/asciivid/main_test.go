package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/genricoloni/asciivid/internal/config"
	"github.com/genricoloni/asciivid/internal/domain"
	"github.com/spf13/pflag"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// TestAppGraphValidity verifies that the dependency graph is resolvable.
// This test will fail if you forget an fx.Provide for a required interface.
func TestAppGraphValidity(t *testing.T) {
	err := fx.ValidateApp(AppOptions(cliArgs{MediaPath: "clip.mp4"}))
	if err != nil {
		t.Errorf("Dependency graph is not valid: %v", err)
	}
}

// TestNewLogger verifies that logs go to the configured file
func TestNewLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "asciivid.log")

	for _, verbose := range []bool{false, true} {
		logger, err := newLogger(&config.AppConfig{LogFile: path, Verbose: verbose})
		if err != nil {
			t.Fatalf("Failed to create logger: %v", err)
		}
		logger.Debug("debug line", zap.Bool("verbose", verbose))
		logger.Info("Test logger initialization")
		_ = logger.Sync()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	if got := strings.Count(string(data), "Test logger initialization"); got != 2 {
		t.Errorf("expected 2 info lines, got %d", got)
	}
	if got := strings.Count(string(data), "debug line"); got != 1 {
		t.Errorf("expected debug output only when verbose, got %d lines", got)
	}
}

func TestCollectOverrides(t *testing.T) {
	cmd := newCommand()
	err := cmd.ParseFlags([]string{"-w", "80", "--drop-policy", "block", "-f", "--adapt-interval", "2s"})
	if err != nil {
		t.Fatalf("ParseFlags failed: %v", err)
	}

	got := collectOverrides(cmd.Flags())
	want := config.Overrides{
		"width":          "80",
		"drop-policy":    "block",
		"fullscreen":     "true",
		"adapt-interval": "2s",
	}
	if len(got) != len(want) {
		t.Fatalf("expected only the flags set on the command line, got %v", got)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s: expected %q, got %q", k, v, got[k])
		}
	}

	s := config.DefaultSettings()
	for k, v := range got {
		if err := s.Set(k, v); err != nil {
			t.Errorf("flag %s is not a setting: %v", k, err)
		}
	}
}

func TestEveryFlagIsASetting(t *testing.T) {
	s := config.DefaultSettings()
	newCommand().Flags().VisitAll(func(f *pflag.Flag) {
		if err := s.Set(f.Name, f.DefValue); err != nil {
			t.Errorf("flag %s: %v", f.Name, err)
		}
	})
}

func TestNewLockInputs(t *testing.T) {
	if got := newLockInputs(zap.NewNop(), &config.AppConfig{}); len(got.Inputs) != 0 {
		t.Errorf("expected no watcher when pause on lock is off, got %d", len(got.Inputs))
	}
	if got := newLockInputs(zap.NewNop(), &config.AppConfig{PauseOnLock: true}); len(got.Inputs) != 1 {
		t.Errorf("expected one watcher, got %d", len(got.Inputs))
	}
}

func TestFlagHelpListsValidValues(t *testing.T) {
	flags := newCommand().Flags()

	listed := func(name, prefix string) []string {
		usage := flags.Lookup(name).Usage
		return strings.Split(strings.TrimPrefix(usage, prefix), ", ")
	}

	algorithms := listed("algorithm", "enhancement: ")
	if len(algorithms) != 8 {
		t.Errorf("expected all 8 algorithms in the help, got %v", algorithms)
	}
	for _, name := range algorithms {
		if _, err := domain.ParseAlgorithm(name); err != nil {
			t.Errorf("help lists unknown algorithm %q", name)
		}
	}

	for _, name := range listed("drop-policy", "full buffer policy: ") {
		if _, err := domain.ParseDropPolicy(name); err != nil {
			t.Errorf("help lists unknown drop policy %q", name)
		}
	}
}
