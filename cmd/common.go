package cmd

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulschiretz/pgl-workingcopy/pkg/config"
	"github.com/paulschiretz/pgl-workingcopy/pkg/flagparse"
	"github.com/paulschiretz/pgl-workingcopy/pkg/fsmonitor"
	"github.com/paulschiretz/pgl-workingcopy/pkg/gitignore"
	"github.com/paulschiretz/pgl-workingcopy/pkg/matchers"
	"github.com/paulschiretz/pgl-workingcopy/pkg/merge"
	"github.com/paulschiretz/pgl-workingcopy/pkg/mergedtree"
	"github.com/paulschiretz/pgl-workingcopy/pkg/metrics"
	"github.com/paulschiretz/pgl-workingcopy/pkg/plog"
	"github.com/paulschiretz/pgl-workingcopy/pkg/repopath"
	"github.com/paulschiretz/pgl-workingcopy/pkg/store"
	"github.com/paulschiretz/pgl-workingcopy/pkg/treestate"
	"github.com/paulschiretz/pgl-workingcopy/pkg/util"
	"github.com/paulschiretz/pgl-workingcopy/pkg/workingcopy"
)

// absRoot resolves the -root flag, defaulting to the current directory.
func absRoot(flagMap map[string]any) (string, error) {
	root, _ := flagMap["root"].(string)
	if root == "" {
		root = "."
	}
	expanded, err := util.ExpandPath(root)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("could not determine absolute path for %s: %w", root, err)
	}
	return abs, nil
}

// loadRunConfig loads the config of the working copy named by -root, merges
// the flags over it, validates the result and applies the log level.
func loadRunConfig(command flagparse.Command, flagMap map[string]any) (config.Config, error) {
	root, err := absRoot(flagMap)
	if err != nil {
		return config.Config{}, err
	}
	loaded, err := config.Load(root)
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to load configuration: %w", err)
	}
	runConfig := config.MergeConfigWithFlags(command, loaded, flagMap)
	runConfig.Root = root

	// CRITICAL: Validate the config for the run
	if err := runConfig.Validate(); err != nil {
		return config.Config{}, err
	}
	level, err := plog.LevelFromString(runConfig.LogLevel)
	if err != nil {
		return config.Config{}, err
	}
	plog.SetLevel(level)
	return runConfig, nil
}

// openWorkingCopy loads the working copy described by cfg. monitor may be nil.
func openWorkingCopy(cfg config.Config, monitor fsmonitor.Monitor) (*workingcopy.LocalWorkingCopy, error) {
	checkoutPath := filepath.Join(cfg.StateDir(), workingcopy.CheckoutFileName)
	if _, err := os.Stat(checkoutPath); errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("no working copy found at %s, run 'init' first", cfg.Root)
	}
	s, err := store.NewLocal(cfg.StoreDir())
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	settings, err := treestate.SettingsFromConfig(cfg, cfg.StateDir())
	if err != nil {
		return nil, err
	}
	settings.Monitor = monitor
	return workingcopy.Load(s, cfg.Root, cfg.StateDir(), settings)
}

// parseTree parses a comma-separated, odd-length list of tree ids ordered
// add, remove, add, ... A single id is a resolved tree.
func parseTree(s store.Store, spec string) (*mergedtree.MergedTree, error) {
	parts := strings.Split(spec, ",")
	if len(parts)%2 != 1 {
		return nil, fmt.Errorf("invalid tree %q: expected an odd number of ids", spec)
	}
	ids := make([]store.ID, len(parts))
	for i, part := range parts {
		id, err := store.ParseID(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid tree %q: %w", spec, err)
		}
		ids[i] = id
	}
	return mergedtree.New(s, merge.FromTerms(ids), nil), nil
}

// formatTree is the inverse of parseTree.
func formatTree(t *mergedtree.MergedTree) string {
	terms := t.IDs().Terms()
	parts := make([]string, len(terms))
	for i, id := range terms {
		parts[i] = id.String()
	}
	return strings.Join(parts, ",")
}

// parsePaths turns slash-separated flag values into repository paths.
func parsePaths(list []string) ([]repopath.Path, error) {
	paths := make([]repopath.Path, 0, len(list))
	for _, s := range list {
		p, err := repopath.Parse(strings.Trim(filepath.ToSlash(s), "/"))
		if err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

// globalExcludesFile is git's default core.excludesFile.
func globalExcludesFile() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "git", "ignore")
	}
	return ""
}

// snapshotOptions builds the snapshot options for cfg and the -track flag.
func snapshotOptions(cfg config.Config, flagMap map[string]any, m metrics.Metrics) (treestate.SnapshotOptions, error) {
	opts := treestate.SnapshotOptions{
		BaseIgnores:    gitignore.Empty(),
		MaxNewFileSize: cfg.Snapshot.MaxNewFileSize,
		Progress:       m.Visit,
	}
	if path := globalExcludesFile(); path != "" {
		ignores, err := opts.BaseIgnores.ChainWithFile(repopath.Root, path)
		if err != nil {
			plog.Warn("Ignoring unreadable global excludes file", "path", path, "error", err)
		} else {
			opts.BaseIgnores = ignores
		}
	}
	if !cfg.Snapshot.AutoTrack {
		opts.StartTrackingMatcher = matchers.Nothing{}
	}
	if track, ok := flagMap["track"].([]string); ok && len(track) > 0 {
		paths, err := parsePaths(track)
		if err != nil {
			return treestate.SnapshotOptions{}, fmt.Errorf("invalid -track path: %w", err)
		}
		opts.ForceTrackingMatcher = matchers.NewFiles(paths...)
		if !cfg.Snapshot.AutoTrack {
			opts.StartTrackingMatcher = matchers.NewFiles(paths...)
		}
	}
	return opts, nil
}

// newOperationID returns a random id for an operation started from the CLI.
func newOperationID() (workingcopy.OperationID, error) {
	id := make([]byte, 32)
	if _, err := rand.Read(id); err != nil {
		return nil, fmt.Errorf("failed to generate operation id: %w", err)
	}
	return workingcopy.OperationID(id), nil
}

// operationID returns the -operation flag or a fresh id.
func operationID(flagMap map[string]any) (workingcopy.OperationID, error) {
	if s, ok := flagMap["operation"].(string); ok && s != "" {
		return workingcopy.ParseOperationID(s)
	}
	return newOperationID()
}

// printUntracked lists the paths a snapshot left untracked.
func printUntracked(stats treestate.SnapshotStats) {
	for _, p := range stats.SortedUntrackedPaths() {
		fmt.Printf("? %s (%s)\n", p, stats.UntrackedPaths[p])
	}
}
