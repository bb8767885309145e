package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/paulschiretz/pgl-workingcopy/cmd"
	"github.com/paulschiretz/pgl-workingcopy/pkg/buildinfo"
	"github.com/paulschiretz/pgl-workingcopy/pkg/flagparse"
	"github.com/paulschiretz/pgl-workingcopy/pkg/plog"
)

// run encapsulates the main application logic and returns an error if something
// goes wrong, allowing the main function to handle exit codes.
func run(ctx context.Context, args []string) error {
	command, flagMap, err := flagparse.Parse(args)
	if err != nil {
		return err
	}
	plog.Debug("Starting "+buildinfo.Name, "version", buildinfo.Version, "command", command, "pid", os.Getpid())

	switch command {
	case flagparse.None:
		// Help was printed.
		return nil
	case flagparse.Version:
		return cmd.RunVersion(buildinfo.Name, buildinfo.Version)
	case flagparse.Init:
		return cmd.RunInit(ctx, flagMap)
	case flagparse.Snapshot:
		return cmd.RunSnapshot(ctx, flagMap)
	case flagparse.Checkout:
		return cmd.RunCheckout(ctx, flagMap)
	case flagparse.Status:
		return cmd.RunStatus(ctx, flagMap)
	case flagparse.Sparse:
		return cmd.RunSparse(ctx, flagMap)
	case flagparse.Recover:
		return cmd.RunRecover(ctx, flagMap)
	case flagparse.Watch:
		return cmd.RunWatch(ctx, flagMap)
	default:
		return fmt.Errorf("internal error: unknown command %s", command)
	}
}

func main() {
	// Set up a context that is canceled when an interrupt signal is received.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		plog.Error(buildinfo.Name+" exited with error", "error", err)
		stop()
		os.Exit(1)
	}
}
