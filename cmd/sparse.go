package cmd

import (
	"context"
	"fmt"

	"github.com/paulschiretz/pgl-workingcopy/pkg/flagparse"
	"github.com/paulschiretz/pgl-workingcopy/pkg/plog"
	"github.com/paulschiretz/pgl-workingcopy/pkg/repopath"
)

// RunSparse handles the logic for the 'sparse' command. Without -set or
// -reset it prints the current patterns.
func RunSparse(ctx context.Context, flagMap map[string]any) error {
	runConfig, err := loadRunConfig(flagparse.Sparse, flagMap)
	if err != nil {
		return err
	}
	wc, err := openWorkingCopy(runConfig, nil)
	if err != nil {
		return err
	}

	var patterns []repopath.Path
	if set, ok := flagMap["set"].([]string); ok {
		if patterns, err = parsePaths(set); err != nil {
			return fmt.Errorf("invalid -set path: %w", err)
		}
	} else if reset, _ := flagMap["reset"].(bool); reset {
		patterns = []repopath.Path{repopath.Root}
	} else {
		current, err := wc.SparsePatterns()
		if err != nil {
			return err
		}
		for _, p := range current {
			if p.IsRoot() {
				fmt.Println(".")
				continue
			}
			fmt.Println(p)
		}
		return nil
	}

	locked, err := wc.StartMutation(ctx)
	if err != nil {
		return fmt.Errorf("failed to lock working copy: %w", err)
	}
	stats, err := locked.SetSparsePatterns(ctx, patterns)
	if err != nil {
		locked.Discard()
		return err
	}
	if _, err := locked.Finish(locked.OldOperationID()); err != nil {
		return err
	}
	plog.Notice("Sparse patterns updated", "patterns", len(patterns), "stats", stats)
	return nil
}
