package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/paulschiretz/pgl-workingcopy/pkg/buildinfo"
	"github.com/paulschiretz/pgl-workingcopy/pkg/flagparse"
	"github.com/paulschiretz/pgl-workingcopy/pkg/plog"
	"github.com/paulschiretz/pgl-workingcopy/pkg/util"
)

// ConfigFileName is the name of the configuration file. It lives in the
// repository directory (".jj") at the root of the working copy.
const ConfigFileName = "pgl-wc.config.json"

// RepoDirName is the directory holding the store, the working copy state and
// the config file.
const RepoDirName = ".jj"

type SnapshotConfig struct {
	// MaxNewFileSize is the largest new file picked up automatically, in bytes.
	// 0 means no limit.
	MaxNewFileSize int64 `json:"maxNewFileSize"`
	// AutoTrack makes new files tracked without an explicit path argument.
	AutoTrack bool `json:"autoTrack"`
	// Workers bounds the directory walker. 0 uses one per CPU.
	Workers int `json:"workers"`
}

type Config struct {
	Version string `json:"version"`
	// Root is the working copy root. Never added to config file.
	Root                string         `json:"-"`
	LogLevel            string         `json:"logLevel"`
	ExecChange          string         `json:"execChange"`
	SymlinkSupport      string         `json:"symlinkSupport"`
	ConflictMarkerStyle string         `json:"conflictMarkerStyle"`
	Fsmonitor           string         `json:"fsmonitor"`
	Snapshot            SnapshotConfig `json:"snapshot"`
	// CheckInvariants verifies the tree and the file states agree after every
	// snapshot. Meant for tests and debugging.
	CheckInvariants bool `json:"checkInvariants,omitempty"`
}

var (
	validExecChange     = []string{"auto", "respect", "ignore"}
	validSymlinkSupport = []string{"auto", "on", "off"}
	validMarkerStyles   = []string{"diff", "snapshot", "git"}
	validFsmonitors     = []string{"none", "fsnotify"}
	validLogLevels      = []string{"debug", "notice", "info", "warn", "error"}
)

// NewDefault creates and returns a Config struct with sensible default values.
func NewDefault() Config {
	return Config{
		Version:             buildinfo.Version,
		Root:                "",     // Intentionally empty; set by Load.
		LogLevel:            "info", // Default log level.
		ExecChange:          "auto", // Probe the filesystem.
		SymlinkSupport:      "auto", // Probe the filesystem.
		ConflictMarkerStyle: "git",  // Two-sided conflicts in git's diff3 format, others in snapshot style.
		Fsmonitor:           "none",
		Snapshot: SnapshotConfig{
			MaxNewFileSize: 1 << 20, // 1 MiB
			AutoTrack:      true,
			Workers:        runtime.NumCPU(),
		},
	}
}

// Load attempts to load a configuration from <root>/.jj/pgl-wc.config.json.
// If the file doesn't exist, it returns the default config without an error.
// If the file exists but fails to parse, it returns an error and a zero-value config.
func Load(root string) (Config, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return Config{}, fmt.Errorf("could not determine absolute path for working copy %s: %w", root, err)
	}

	config := NewDefault()
	config.Root = absRoot

	configPath := filepath.Join(absRoot, RepoDirName, ConfigFileName)
	file, err := os.Open(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil // Config file doesn't exist, which is a normal case.
		}
		return Config{}, fmt.Errorf("error opening config file %s: %w", configPath, err)
	}
	defer file.Close()

	plog.Debug("Loading configuration", "path", configPath)
	// Start with default values, then overwrite with the file's content.
	// This makes the config loading resilient to missing fields in the JSON file.
	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&config); err != nil {
		return Config{}, fmt.Errorf("error parsing config file %s: %w", configPath, err)
	}
	config.Root = absRoot
	config.Version = buildinfo.Version
	return config, nil
}

// Generate creates or overwrites the config file of the working copy at c.Root.
func Generate(c Config) error {
	repoDir := filepath.Join(c.Root, RepoDirName)
	if err := os.MkdirAll(repoDir, util.UserWritableDirPerms); err != nil {
		return fmt.Errorf("failed to create repository directory %s: %w", repoDir, err)
	}
	configPath := filepath.Join(repoDir, ConfigFileName)
	jsonData, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config to JSON: %w", err)
	}
	if err := os.WriteFile(configPath, jsonData, util.UserWritableFilePerms); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	plog.Info("Successfully saved config file", "path", configPath)
	return nil
}

// RepoDir returns the repository directory of the working copy.
func (c *Config) RepoDir() string { return filepath.Join(c.Root, RepoDirName) }

// StoreDir returns the object store directory.
func (c *Config) StoreDir() string { return filepath.Join(c.RepoDir(), "store") }

// StateDir returns the private working copy state directory.
func (c *Config) StateDir() string { return filepath.Join(c.RepoDir(), "working_copy") }

func validateChoice(field, value string, valid []string) error {
	if !slices.Contains(valid, strings.ToLower(value)) {
		return fmt.Errorf("invalid %s %q: must be one of '%s'", field, value, strings.Join(valid, "', '"))
	}
	return nil
}

// Validate checks the configuration for logical errors and normalizes paths.
func (c *Config) Validate() error {
	if c.Root == "" {
		return fmt.Errorf("working copy path cannot be empty")
	}
	var err error
	c.Root, err = util.ExpandPath(c.Root)
	if err != nil {
		return fmt.Errorf("could not expand working copy path: %w", err)
	}
	c.Root = filepath.Clean(c.Root)

	if err := validateChoice("logLevel", c.LogLevel, validLogLevels); err != nil {
		return err
	}
	if err := validateChoice("execChange", c.ExecChange, validExecChange); err != nil {
		return err
	}
	if err := validateChoice("symlinkSupport", c.SymlinkSupport, validSymlinkSupport); err != nil {
		return err
	}
	if err := validateChoice("conflictMarkerStyle", c.ConflictMarkerStyle, validMarkerStyles); err != nil {
		return err
	}
	if err := validateChoice("fsmonitor", c.Fsmonitor, validFsmonitors); err != nil {
		return err
	}
	if c.Snapshot.MaxNewFileSize < 0 {
		return fmt.Errorf("snapshot.maxNewFileSize cannot be negative")
	}
	if c.Snapshot.Workers < 0 {
		return fmt.Errorf("snapshot.workers cannot be negative")
	}
	if c.Snapshot.Workers == 0 {
		c.Snapshot.Workers = runtime.NumCPU()
	}
	return nil
}

// LogSummary logs the effective configuration.
func (c *Config) LogSummary() {
	plog.Info("Configuration loaded",
		"root", c.Root,
		"log_level", c.LogLevel,
		"exec_change", c.ExecChange,
		"symlink_support", c.SymlinkSupport,
		"conflict_marker_style", c.ConflictMarkerStyle,
		"fsmonitor", c.Fsmonitor,
		"max_new_file_size", c.Snapshot.MaxNewFileSize,
		"auto_track", c.Snapshot.AutoTrack,
		"workers", c.Snapshot.Workers,
	)
}

// MergeConfigWithFlags overlays the configuration values from flags on top of a base
// configuration. It iterates over the setFlags map, which contains only the flags
// explicitly provided by the user on the command line.
func MergeConfigWithFlags(command flagparse.Command, base Config, setFlags map[string]any) Config {
	merged := base

	for name, value := range setFlags {
		switch name {
		case "root":
			merged.Root = value.(string)
		case "log-level":
			merged.LogLevel = value.(string)
		case "exec-change":
			merged.ExecChange = value.(string)
		case "symlink-support":
			merged.SymlinkSupport = value.(string)
		case "conflict-marker-style":
			merged.ConflictMarkerStyle = value.(string)
		case "fsmonitor":
			merged.Fsmonitor = value.(string)
		case "max-new-file-size":
			merged.Snapshot.MaxNewFileSize = value.(int64)
		case "auto-track":
			merged.Snapshot.AutoTrack = value.(bool)
		case "workers":
			merged.Snapshot.Workers = value.(int)
		case "check-invariants":
			// Only meaningful where a snapshot runs.
			switch command {
			case flagparse.Snapshot, flagparse.Status, flagparse.Watch:
				merged.CheckInvariants = value.(bool)
			default:
			}
		default:
			// Flags not backed by the config file (paths, tree ids).
		}
	}
	return merged
}
