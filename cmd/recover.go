package cmd

import (
	"context"
	"fmt"

	"github.com/paulschiretz/pgl-workingcopy/pkg/flagparse"
	"github.com/paulschiretz/pgl-workingcopy/pkg/plog"
)

// RunRecover handles the logic for the 'recover' command. It forgets the
// cached file states so the next snapshot reads every file again.
func RunRecover(ctx context.Context, flagMap map[string]any) error {
	runConfig, err := loadRunConfig(flagparse.Recover, flagMap)
	if err != nil {
		return err
	}
	wc, err := openWorkingCopy(runConfig, nil)
	if err != nil {
		return err
	}

	locked, err := wc.StartMutation(ctx)
	if err != nil {
		return fmt.Errorf("failed to lock working copy: %w", err)
	}
	target := locked.Tree()
	if spec, ok := flagMap["tree"].(string); ok && spec != "" {
		if target, err = parseTree(wc.Store(), spec); err != nil {
			locked.Discard()
			return err
		}
	}
	if err := locked.Recover(ctx, target); err != nil {
		locked.Discard()
		return err
	}
	opID, err := newOperationID()
	if err != nil {
		locked.Discard()
		return err
	}
	if _, err := locked.Finish(opID); err != nil {
		return err
	}
	plog.Notice("Working copy recovered", "tree", formatTree(target))
	return nil
}
