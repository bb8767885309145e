package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/paulschiretz/pgl-workingcopy/pkg/buildinfo"
	"github.com/paulschiretz/pgl-workingcopy/pkg/config"
	"github.com/paulschiretz/pgl-workingcopy/pkg/flagparse"
	"github.com/paulschiretz/pgl-workingcopy/pkg/plog"
	"github.com/paulschiretz/pgl-workingcopy/pkg/preflight"
	"github.com/paulschiretz/pgl-workingcopy/pkg/store"
	"github.com/paulschiretz/pgl-workingcopy/pkg/treestate"
	"github.com/paulschiretz/pgl-workingcopy/pkg/workingcopy"
)

// RunInit handles the logic for the 'init' command.
func RunInit(ctx context.Context, flagMap map[string]any) error {
	root, err := absRoot(flagMap)
	if err != nil {
		return err
	}
	if err := preflight.CheckRootAccessible(root); err != nil {
		return err
	}

	force := false
	if f, ok := flagMap["force"]; ok {
		force = f.(bool)
	}

	baseConfig := config.NewDefault()
	baseConfig.Root = root
	checkoutPath := filepath.Join(baseConfig.StateDir(), workingcopy.CheckoutFileName)
	if _, err := os.Stat(checkoutPath); !errors.Is(err, fs.ErrNotExist) {
		if !force {
			return fmt.Errorf("a working copy already exists at %s (use -force to reinitialize)", root)
		}
		fmt.Printf("WARNING: A working copy already exists at %s.\n", root)
		fmt.Printf("Reinitializing forgets the recorded tree and file states. Files on disk are kept.\n")
		if !PromptForConfirmation("Are you sure you want to continue?", false) {
			plog.Info(buildinfo.Name + " init operation canceled.")
			return nil
		}
		// Keep the user's settings; only the flags given now override them.
		if loaded, err := config.Load(root); err != nil {
			plog.Warn("Could not load existing configuration, starting with defaults.", "reason", err)
		} else {
			baseConfig = loaded
		}
	}

	runConfig := config.MergeConfigWithFlags(flagparse.Init, baseConfig, flagMap)
	runConfig.Root = root
	if err := runConfig.Validate(); err != nil {
		return err
	}
	if level, err := plog.LevelFromString(runConfig.LogLevel); err == nil {
		plog.SetLevel(level)
	}

	startTime := time.Now()

	// 1. Repository layout
	if outer, ok := preflight.FindEnclosingRepo(root, config.RepoDirName); ok {
		plog.Warn("Creating a working copy inside another one; the outer one will skip it", "outer", outer)
	}
	if err := preflight.CheckWritable(runConfig.StateDir()); err != nil {
		return fmt.Errorf("initialization preflight failed: %w", err)
	}
	if err := config.Generate(runConfig); err != nil {
		return fmt.Errorf("failed to generate config file: %w", err)
	}

	// 2. Store
	s, err := store.NewLocal(runConfig.StoreDir())
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}

	// 3. Working copy state
	settings, err := treestate.SettingsFromConfig(runConfig, runConfig.StateDir())
	if err != nil {
		return err
	}
	opID, err := newOperationID()
	if err != nil {
		return err
	}
	if _, err := workingcopy.Init(s, root, runConfig.StateDir(), opID, workingcopy.DefaultWorkspaceName, settings); err != nil {
		return err
	}

	duration := time.Since(startTime).Round(time.Millisecond)
	plog.Info(buildinfo.Name+" working copy successfully initialized.", "root", root, "duration", duration)
	return nil
}

// PromptForConfirmation prompts the user for a yes/no response.
func PromptForConfirmation(prompt string, defaultYes bool) bool {
	suffix := "[y/N]"
	if defaultYes {
		suffix = "[Y/n]"
	}
	fmt.Printf("%s %s: ", prompt, suffix)

	var response string
	_, _ = fmt.Scanln(&response)
	response = strings.ToLower(strings.TrimSpace(response))

	if response == "" {
		return defaultYes
	}
	return response == "y" || response == "yes"
}
