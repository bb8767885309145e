package treestate

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/paulschiretz/pgl-workingcopy/pkg/config"
	"github.com/paulschiretz/pgl-workingcopy/pkg/conflicts"
	"github.com/paulschiretz/pgl-workingcopy/pkg/execbit"
	"github.com/paulschiretz/pgl-workingcopy/pkg/fsmonitor"
	"github.com/paulschiretz/pgl-workingcopy/pkg/plog"
)

// Settings are the per-working-copy options of a TreeState.
type Settings struct {
	ExecChange execbit.Setting
	// SymlinkSupport writes symlinks as real links. Without it a symlink is
	// written as a plain file holding the target.
	SymlinkSupport      bool
	ConflictMarkerStyle conflicts.Style
	// Workers bounds the snapshot directory walker.
	Workers int
	// Monitor, if set, limits snapshots to paths reported as changed.
	Monitor fsmonitor.Monitor
	// CheckInvariants makes every snapshot verify that the tree and the file
	// states list the same paths.
	CheckInvariants bool
}

// DefaultSettings returns settings suitable for the current platform.
func DefaultSettings() Settings {
	return Settings{
		ExecChange:          execbit.SettingAuto,
		SymlinkSupport:      runtime.GOOS != "windows",
		ConflictMarkerStyle: conflicts.StyleGit,
		Workers:             runtime.NumCPU(),
	}
}

// SettingsFromConfig derives settings from a validated config. Auto symlink
// support is probed in stateDir. The monitor is left for the caller to attach.
func SettingsFromConfig(cfg config.Config, stateDir string) (Settings, error) {
	s := DefaultSettings()

	execChange, err := execbit.ParseSetting(cfg.ExecChange)
	if err != nil {
		return Settings{}, err
	}
	s.ExecChange = execChange

	style, err := conflicts.ParseStyle(cfg.ConflictMarkerStyle)
	if err != nil {
		return Settings{}, err
	}
	s.ConflictMarkerStyle = style

	switch strings.ToLower(cfg.SymlinkSupport) {
	case "on":
		s.SymlinkSupport = true
	case "off":
		s.SymlinkSupport = false
	case "auto", "":
		s.SymlinkSupport = probeSymlinkSupport(stateDir)
	default:
		return Settings{}, fmt.Errorf("invalid symlink support %q: must be 'auto', 'on' or 'off'", cfg.SymlinkSupport)
	}

	if cfg.Snapshot.Workers > 0 {
		s.Workers = cfg.Snapshot.Workers
	}
	s.CheckInvariants = cfg.CheckInvariants
	return s, nil
}

// probeSymlinkSupport creates a symlink in dir and reports whether that worked.
func probeSymlinkSupport(dir string) bool {
	link := filepath.Join(dir, fmt.Sprintf(".symlink-probe-%d", os.Getpid()))
	_ = os.Remove(link)
	if err := os.Symlink("target", link); err != nil {
		plog.Notice("Symlinks are not supported, writing them as plain files", "dir", dir, "error", err)
		return false
	}
	if err := os.Remove(link); err != nil {
		plog.Warn("Failed to remove symlink probe", "path", link, "error", err)
	}
	return true
}
