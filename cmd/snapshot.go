package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/paulschiretz/pgl-workingcopy/pkg/buildinfo"
	"github.com/paulschiretz/pgl-workingcopy/pkg/flagparse"
	"github.com/paulschiretz/pgl-workingcopy/pkg/matchers"
	"github.com/paulschiretz/pgl-workingcopy/pkg/mergedtree"
	"github.com/paulschiretz/pgl-workingcopy/pkg/metrics"
	"github.com/paulschiretz/pgl-workingcopy/pkg/plog"
)

// progressInterval is how often a running snapshot logs its counters.
const progressInterval = 5 * time.Second

// RunSnapshot handles the logic for the 'snapshot' command. It records the
// disk contents as a new tree and prints its id.
func RunSnapshot(ctx context.Context, flagMap map[string]any) error {
	runConfig, err := loadRunConfig(flagparse.Snapshot, flagMap)
	if err != nil {
		return err
	}
	runConfig.LogSummary()

	wc, err := openWorkingCopy(runConfig, nil)
	if err != nil {
		return err
	}
	m := &metrics.SnapshotMetrics{}
	opts, err := snapshotOptions(runConfig, flagMap, m)
	if err != nil {
		return err
	}

	startTime := time.Now()
	locked, err := wc.StartMutation(ctx)
	if err != nil {
		return fmt.Errorf("failed to lock working copy: %w", err)
	}
	m.StartProgress("Snapshot progress", progressInterval)
	tree, stats, err := locked.Snapshot(ctx, opts)
	m.StopProgress()
	m.AddUntracked(int64(len(stats.UntrackedPaths)))
	if err != nil {
		locked.Discard()
		return err
	}
	changed := !tree.Equal(locked.OldTree())
	opID := locked.OldOperationID()
	if changed {
		if opID, err = newOperationID(); err != nil {
			locked.Discard()
			return err
		}
	}
	if _, err := locked.Finish(opID); err != nil {
		return err
	}

	printUntracked(stats)
	fmt.Println(formatTree(tree))
	m.LogSummary("Snapshot summary")
	plog.Notice(buildinfo.Name+" snapshot finished.",
		"changed", changed,
		"duration", time.Since(startTime).Round(time.Millisecond))
	return nil
}

// RunStatus handles the logic for the 'status' command. It snapshots into a
// session that is discarded, then lists what differs from the recorded tree.
func RunStatus(ctx context.Context, flagMap map[string]any) error {
	runConfig, err := loadRunConfig(flagparse.Status, flagMap)
	if err != nil {
		return err
	}

	wc, err := openWorkingCopy(runConfig, nil)
	if err != nil {
		return err
	}
	opts, err := snapshotOptions(runConfig, flagMap, &metrics.NoopMetrics{})
	if err != nil {
		return err
	}

	locked, err := wc.StartMutation(ctx)
	if err != nil {
		return fmt.Errorf("failed to lock working copy: %w", err)
	}
	defer locked.Discard()

	tree, stats, err := locked.Snapshot(ctx, opts)
	if err != nil {
		return err
	}
	diff, err := locked.OldTree().Diff(ctx, tree, matchers.Everything{})
	if err != nil {
		return fmt.Errorf("failed to diff trees: %w", err)
	}
	for _, e := range diff {
		fmt.Printf("%s %s\n", statusCode(e), e.Path)
	}
	printUntracked(stats)
	if len(diff) == 0 && len(stats.UntrackedPaths) == 0 {
		fmt.Println("The working copy has no changes.")
	}
	return nil
}

func statusCode(e mergedtree.DiffEntry) string {
	switch {
	case mergedtree.IsAbsent(e.Before):
		return "A"
	case mergedtree.IsAbsent(e.After):
		return "D"
	case !e.After.IsResolved():
		return "C"
	default:
		return "M"
	}
}
