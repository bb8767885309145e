// Package execbit reconciles the in-repo executable flag with the on-disk
// permission bit.
package execbit

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/paulschiretz/pgl-workingcopy/pkg/plog"
	"github.com/paulschiretz/pgl-workingcopy/pkg/util"
)

// Setting is the user's choice for exec-bit handling.
type Setting int

const (
	// SettingAuto respects the bit if the filesystem supports it.
	SettingAuto Setting = iota
	SettingRespect
	SettingIgnore
)

var settingToString = map[Setting]string{
	SettingAuto:    "auto",
	SettingRespect: "respect",
	SettingIgnore:  "ignore",
}

var stringToSetting = util.InvertMap(settingToString)

func (s Setting) String() string {
	if str, ok := settingToString[s]; ok {
		return str
	}
	return fmt.Sprintf("unknown_setting(%d)", s)
}

// ParseSetting parses "auto", "respect" or "ignore".
func ParseSetting(s string) (Setting, error) {
	if setting, ok := stringToSetting[strings.ToLower(s)]; ok {
		return setting, nil
	}
	return 0, fmt.Errorf("invalid exec change setting %q: must be 'auto', 'respect' or 'ignore'", s)
}

// Policy is the effective exec-bit handling of a working copy.
type Policy int

const (
	// Respect syncs the bit between disk and repo.
	Respect Policy = iota
	// Ignore keeps the previous value on either side.
	Ignore
)

func (p Policy) String() string {
	if p == Ignore {
		return "ignore"
	}
	return "respect"
}

// NewPolicy decides the policy for a working copy whose private state lives in
// stateDir. Auto probes stateDir; a failed probe logs a warning and respects
// the bit.
func NewPolicy(setting Setting, stateDir string) Policy {
	if !platformHasExecBit {
		return Ignore
	}
	switch setting {
	case SettingRespect:
		return Respect
	case SettingIgnore:
		return Ignore
	}
	supported, err := probeExecBit(stateDir)
	if err != nil {
		plog.Warn("Failed to probe executable bit support, respecting it", "dir", stateDir, "error", err)
		return Respect
	}
	if !supported {
		plog.Notice("Filesystem does not support the executable bit, ignoring it", "dir", stateDir)
		return Ignore
	}
	return Respect
}

// probeExecBit flips the owner exec bit of a temp file in dir and checks that
// the change sticks.
func probeExecBit(dir string) (bool, error) {
	f, err := os.CreateTemp(dir, ".exec-probe-*")
	if err != nil {
		return false, err
	}
	name := f.Name()
	f.Close()
	defer os.Remove(name)

	info, err := os.Stat(name)
	if err != nil {
		return false, err
	}
	flipped := info.Mode().Perm() ^ util.PermUserExecute
	if err := os.Chmod(name, flipped); err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return false, nil
		}
		return false, err
	}
	info, err = os.Stat(name)
	if err != nil {
		return false, err
	}
	return info.Mode().Perm() == flipped, nil
}

// ForTree returns the exec flag to record in the tree for a file whose
// on-disk bit is onDisk. inRepo reports the flag already in the tree, if any.
func (p Policy) ForTree(onDisk bool, inRepo func() (bool, bool)) bool {
	if p == Respect {
		return onDisk
	}
	if v, ok := inRepo(); ok {
		return v
	}
	return false
}

// ForDisk returns the bit to set on disk for a file whose tree flag is inRepo.
// onDisk reports the bit the previous file on disk had, if any.
func (p Policy) ForDisk(inRepo bool, onDisk func() (bool, bool)) bool {
	if p == Respect {
		return inRepo
	}
	if v, ok := onDisk(); ok {
		return v
	}
	return false
}

// IsExecutable reports the exec bit of a disk mode.
func IsExecutable(mode fs.FileMode) bool {
	return platformHasExecBit && mode&util.PermUserExecute != 0
}

// Set applies the exec bit to the file at path.
func Set(path string, executable bool) error {
	if !platformHasExecBit {
		return nil
	}
	mode := util.UserWritableFilePerms
	if executable {
		mode = util.UserWritableExecFilePerms
	}
	return os.Chmod(path, mode)
}
