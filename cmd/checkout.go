package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/paulschiretz/pgl-workingcopy/pkg/buildinfo"
	"github.com/paulschiretz/pgl-workingcopy/pkg/flagparse"
	"github.com/paulschiretz/pgl-workingcopy/pkg/plog"
	"github.com/paulschiretz/pgl-workingcopy/pkg/treestate"
)

// RunCheckout handles the logic for the 'checkout' command.
func RunCheckout(ctx context.Context, flagMap map[string]any) error {
	treeSpec, ok := flagMap["tree"].(string)
	if !ok || treeSpec == "" {
		return fmt.Errorf("the -tree flag is required to run checkout")
	}
	runConfig, err := loadRunConfig(flagparse.Checkout, flagMap)
	if err != nil {
		return err
	}
	runConfig.LogSummary()

	wc, err := openWorkingCopy(runConfig, nil)
	if err != nil {
		return err
	}
	newTree, err := parseTree(wc.Store(), treeSpec)
	if err != nil {
		return err
	}
	opID, err := operationID(flagMap)
	if err != nil {
		return err
	}
	// The tree this process saw before locking; a checkout by someone else
	// in between makes ours stale.
	expectedOld, err := wc.Tree()
	if err != nil {
		return err
	}

	startTime := time.Now()
	_, stats, err := wc.CheckOut(ctx, opID, expectedOld, newTree)
	if errors.Is(err, treestate.ErrConcurrentCheckout) {
		return fmt.Errorf("the working copy was updated by another process, retry the checkout: %w", err)
	}
	if err != nil {
		return err
	}
	if stats.SkippedFiles > 0 {
		plog.Warn("Some paths were not written because something else is in the way", "skipped", stats.SkippedFiles)
	}
	plog.Notice(buildinfo.Name+" checkout finished.",
		"tree", formatTree(newTree),
		"stats", stats,
		"duration", time.Since(startTime).Round(time.Millisecond))
	return nil
}
