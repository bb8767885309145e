package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/paulschiretz/pgl-workingcopy/pkg/buildinfo"
	"github.com/paulschiretz/pgl-workingcopy/pkg/config"
	"github.com/paulschiretz/pgl-workingcopy/pkg/flagparse"
	"github.com/paulschiretz/pgl-workingcopy/pkg/fsmonitor"
	"github.com/paulschiretz/pgl-workingcopy/pkg/metrics"
	"github.com/paulschiretz/pgl-workingcopy/pkg/plog"
	"github.com/paulschiretz/pgl-workingcopy/pkg/workingcopy"
)

// settleDelay is how long the watch loop waits for a burst of changes to end
// before it snapshots.
const settleDelay = 200 * time.Millisecond

// RunWatch handles the logic for the 'watch' command. It snapshots once,
// then again after every burst of filesystem changes until ctx ends.
func RunWatch(ctx context.Context, flagMap map[string]any) error {
	runConfig, err := loadRunConfig(flagparse.Watch, flagMap)
	if err != nil {
		return err
	}
	if runConfig.Fsmonitor != "fsnotify" {
		plog.Notice("Watching with fsnotify regardless of the configured fsmonitor", "fsmonitor", runConfig.Fsmonitor)
	}
	runConfig.LogSummary()

	watcher, err := fsmonitor.NewWatcher(ctx, runConfig.Root)
	if err != nil {
		return err
	}
	defer watcher.Close()

	wc, err := openWorkingCopy(runConfig, watcher)
	if err != nil {
		return err
	}
	// A clock from an earlier watcher is meaningless to this one.
	if err := snapshotOnce(ctx, wc, runConfig, flagMap, true); err != nil {
		return err
	}
	plog.Info(buildinfo.Name+" is watching for changes.", "root", runConfig.Root)

	timer := time.NewTimer(settleDelay)
	timer.Stop()
	for {
		select {
		case <-ctx.Done():
			plog.Info("Stopped watching.")
			return nil
		case <-watcher.Events():
			timer.Reset(settleDelay)
		case <-timer.C:
			if err := snapshotOnce(ctx, wc, runConfig, flagMap, false); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				plog.Error("Snapshot failed", "error", err)
			}
		}
	}
}

func snapshotOnce(ctx context.Context, wc *workingcopy.LocalWorkingCopy, cfg config.Config, flagMap map[string]any, resetClock bool) error {
	opts, err := snapshotOptions(cfg, flagMap, &metrics.NoopMetrics{})
	if err != nil {
		return err
	}
	locked, err := wc.StartMutation(ctx)
	if err != nil {
		return fmt.Errorf("failed to lock working copy: %w", err)
	}
	if resetClock {
		locked.ResetFsmonitor()
	}
	tree, stats, err := locked.Snapshot(ctx, opts)
	if err != nil {
		locked.Discard()
		return err
	}
	opID := locked.OldOperationID()
	changed := !tree.Equal(locked.OldTree())
	if changed {
		if opID, err = newOperationID(); err != nil {
			locked.Discard()
			return err
		}
	}
	if _, err := locked.Finish(opID); err != nil {
		return err
	}
	if changed {
		plog.Notice("Snapshot recorded", "tree", formatTree(tree), "untracked", len(stats.UntrackedPaths))
	} else {
		plog.Debug("Nothing changed", "untracked", len(stats.UntrackedPaths))
	}
	return nil
}

