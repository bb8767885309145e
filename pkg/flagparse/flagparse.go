package flagparse

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulschiretz/pgl-workingcopy/pkg/buildinfo"
)

// cliFlags holds pointers to all possible command-line flags.
// Fields are pointers so we can distinguish between "not registered for this command" (nil)
// and "registered but not set by user" (non-nil pointer to zero value).
type cliFlags struct {
	// Global
	Root     *string
	LogLevel *string

	// Shared: Init / Snapshot / Status / Watch
	ExecChange     *string
	Fsmonitor      *string
	MaxNewFileSize *int64
	AutoTrack      *bool
	Workers        *int

	// Shared: Snapshot / Status / Watch
	Track           *string
	CheckInvariants *bool

	// Shared: Init / Checkout
	SymlinkSupport      *string
	ConflictMarkerStyle *string

	// Shared: Checkout / Recover
	Tree      *string
	Operation *string

	// Sparse specific
	Set   *string
	Reset *bool

	// Init specific
	Force *bool
}

func registerGlobalFlags(fs *flag.FlagSet, f *cliFlags) {
	f.Root = fs.String("root", ".", "Root directory of the working copy.")
	f.LogLevel = fs.String("log-level", "info", "Set the logging level: 'debug', 'notice', 'info', 'warn', 'error'.")
}

func registerSnapshotFlags(fs *flag.FlagSet, f *cliFlags) {
	f.ExecChange = fs.String("exec-change", "auto", "Executable bit handling: 'auto', 'respect' or 'ignore'.")
	f.Fsmonitor = fs.String("fsmonitor", "none", "Filesystem monitor: 'none' or 'fsnotify'.")
	f.MaxNewFileSize = fs.Int64("max-new-file-size", 0, "Largest new file in bytes that is tracked automatically (0=no limit).")
	f.AutoTrack = fs.Bool("auto-track", true, "Start tracking new files automatically.")
	f.Workers = fs.Int("workers", 0, "Number of goroutines walking the working copy.")
	f.Track = fs.String("track", "", "Comma-separated list of paths to track even if ignored or too large.")
	f.CheckInvariants = fs.Bool("check-invariants", false, "Verify tree and file states agree after the snapshot.")
}

func registerInitFlags(fs *flag.FlagSet, f *cliFlags) {
	f.Force = fs.Bool("force", false, "Overwrite an existing configuration with the given settings.")
	f.ExecChange = fs.String("exec-change", "auto", "Executable bit handling: 'auto', 'respect' or 'ignore'.")
	f.Fsmonitor = fs.String("fsmonitor", "none", "Filesystem monitor: 'none' or 'fsnotify'.")
	f.MaxNewFileSize = fs.Int64("max-new-file-size", 0, "Largest new file in bytes that is tracked automatically (0=no limit).")
	f.AutoTrack = fs.Bool("auto-track", true, "Start tracking new files automatically.")
	f.Workers = fs.Int("workers", 0, "Number of goroutines walking the working copy.")
	f.SymlinkSupport = fs.String("symlink-support", "auto", "Symlink handling: 'auto', 'on' or 'off'.")
	f.ConflictMarkerStyle = fs.String("conflict-marker-style", "git", "Conflict marker style: 'diff', 'snapshot' or 'git'.")
}

func registerCheckoutFlags(fs *flag.FlagSet, f *cliFlags) {
	f.Tree = fs.String("tree", "", "Id of the tree to check out. (Required)")
	f.Operation = fs.String("operation", "", "Id of the operation performing the checkout.")
	f.SymlinkSupport = fs.String("symlink-support", "auto", "Symlink handling: 'auto', 'on' or 'off'.")
	f.ConflictMarkerStyle = fs.String("conflict-marker-style", "git", "Conflict marker style: 'diff', 'snapshot' or 'git'.")
}

func registerSparseFlags(fs *flag.FlagSet, f *cliFlags) {
	f.Set = fs.String("set", "", "Comma-separated list of path prefixes to materialize.")
	f.Reset = fs.Bool("reset", false, "Materialize the whole tree again.")
}

func registerRecoverFlags(fs *flag.FlagSet, f *cliFlags) {
	f.Tree = fs.String("tree", "", "Id of the tree to recover to. Defaults to the recorded tree.")
}

type subcommand struct {
	desc     string
	register func(*flag.FlagSet, *cliFlags)
}

var subcommands = map[Command]subcommand{
	Init:     {"Initialize a working copy in the root directory.", registerInitFlags},
	Snapshot: {"Record the working copy contents as a new tree.", registerSnapshotFlags},
	Checkout: {"Update the working copy to a tree.", registerCheckoutFlags},
	Status:   {"List paths changed since the last snapshot or checkout.", registerSnapshotFlags},
	Sparse:   {"Show or change the sparse patterns.", registerSparseFlags},
	Recover:  {"Rebuild the file state cache against a known tree.", registerRecoverFlags},
	Watch:    {"Watch the working copy and snapshot on every change.", registerSnapshotFlags},
}

// Parse parses the provided arguments (usually os.Args[1:]) and returns the command and flag map.
func Parse(args []string) (Command, map[string]any, error) {
	// If no arguments provided, print help and exit.
	if len(args) == 0 {
		fs := flag.NewFlagSet("main", flag.ContinueOnError)
		printTopLevelUsage(fs)
		return None, nil, nil
	}

	cmdStr := strings.ToLower(args[0])
	if cmdStr == "help" || cmdStr == "-h" || cmdStr == "-help" || cmdStr == "--help" {
		fs := flag.NewFlagSet("main", flag.ContinueOnError)
		printTopLevelUsage(fs)
		return None, nil, nil
	}

	command, err := ParseCommand(cmdStr)
	if err != nil {
		return None, nil, err
	}
	if command == Version {
		return command, nil, nil
	}

	sub, ok := subcommands[command]
	if !ok {
		return None, nil, fmt.Errorf("unknown command: %s", args[0])
	}

	f := &cliFlags{}
	fs := flag.NewFlagSet(command.String(), flag.ContinueOnError)
	registerGlobalFlags(fs, f)
	sub.register(fs, f)
	fs.Usage = func() {
		printSubcommandUsage(command, sub.desc, fs)
	}
	if err := fs.Parse(args[1:]); err != nil {
		return command, nil, err
	}
	if fs.NArg() > 0 {
		return command, nil, fmt.Errorf("unexpected arguments for %s: %v", command, fs.Args())
	}
	flagMap, err := flagsToMap(command, fs, f)
	return command, flagMap, err
}

func flagsToMap(c Command, fs *flag.FlagSet, f *cliFlags) (map[string]any, error) {
	// Create a map of the flags that were explicitly set by the user, along with their values.
	// This map is used to selectively override the base configuration.
	usedFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { usedFlags[f.Name] = true })

	flagMap := make(map[string]any)

	addIfUsed(flagMap, usedFlags, "root", f.Root)
	addIfUsed(flagMap, usedFlags, "log-level", f.LogLevel)

	addIfUsed(flagMap, usedFlags, "exec-change", f.ExecChange)
	addIfUsed(flagMap, usedFlags, "fsmonitor", f.Fsmonitor)
	addIfUsed(flagMap, usedFlags, "max-new-file-size", f.MaxNewFileSize)
	addIfUsed(flagMap, usedFlags, "auto-track", f.AutoTrack)
	addIfUsed(flagMap, usedFlags, "workers", f.Workers)
	addIfUsed(flagMap, usedFlags, "check-invariants", f.CheckInvariants)

	addIfUsed(flagMap, usedFlags, "symlink-support", f.SymlinkSupport)
	addIfUsed(flagMap, usedFlags, "conflict-marker-style", f.ConflictMarkerStyle)

	addIfUsed(flagMap, usedFlags, "tree", f.Tree)
	addIfUsed(flagMap, usedFlags, "operation", f.Operation)
	addIfUsed(flagMap, usedFlags, "reset", f.Reset)
	addIfUsed(flagMap, usedFlags, "force", f.Force)

	// Handle flags that require parsing/validation.
	addParsedIfUsed(flagMap, usedFlags, "track", f.Track, ParsePathList)
	addParsedIfUsed(flagMap, usedFlags, "set", f.Set, ParsePathList)

	if c == Checkout && f.Tree != nil && *f.Tree == "" {
		return nil, fmt.Errorf("the checkout command requires -tree")
	}
	if f.Reset != nil && *f.Reset && usedFlags["set"] {
		return nil, fmt.Errorf("-set and -reset cannot be combined")
	}
	return flagMap, nil
}

// addIfUsed adds the value of ptr to flagMap if ptr is not nil and the flag was set.
func addIfUsed[T any](flagMap map[string]any, usedFlags map[string]bool, name string, ptr *T) {
	if ptr != nil && usedFlags[name] {
		flagMap[name] = *ptr
	}
}

// addParsedIfUsed adds the parsed value of ptr to flagMap if ptr is not nil and the flag was set.
func addParsedIfUsed(flagMap map[string]any, usedFlags map[string]bool, name string, ptr *string, parser func(string) []string) {
	if ptr != nil && usedFlags[name] {
		flagMap[name] = parser(*ptr)
	}
}

// printTopLevelUsage prints the main help message.
func printTopLevelUsage(fs *flag.FlagSet) {
	execName := filepath.Base(os.Args[0])
	fmt.Fprintf(fs.Output(), "%s(%s) ", buildinfo.Name, buildinfo.Version)
	fmt.Fprintf(fs.Output(), "Keeps a directory in sync with a content-addressed tree.\n\n")
	fmt.Fprintf(fs.Output(), "Usage: %s <command> [flags]\n\n", execName)
	fmt.Fprintf(fs.Output(), "Commands:\n")
	fmt.Fprintf(fs.Output(), "  init        Initialize a working copy\n")
	fmt.Fprintf(fs.Output(), "  snapshot    Record the working copy as a new tree\n")
	fmt.Fprintf(fs.Output(), "  checkout    Update the working copy to a tree\n")
	fmt.Fprintf(fs.Output(), "  status      List changed and untracked paths\n")
	fmt.Fprintf(fs.Output(), "  sparse      Show or change the sparse patterns\n")
	fmt.Fprintf(fs.Output(), "  recover     Rebuild the file state cache\n")
	fmt.Fprintf(fs.Output(), "  watch       Snapshot on every filesystem change\n")
	fmt.Fprintf(fs.Output(), "  version     Print the application version\n")
	fmt.Fprintf(fs.Output(), "\nRun '%s <command> -help' for more information on a command.\n", execName)
}

// printSubcommandUsage prints the help message for a specific subcommand.
func printSubcommandUsage(command Command, desc string, fs *flag.FlagSet) {
	execName := filepath.Base(os.Args[0])
	fmt.Fprintf(fs.Output(), "%s(%s)\n\n", buildinfo.Name, buildinfo.Version)
	fmt.Fprintf(fs.Output(), "Usage of the %s command: %s %s [flags]\n\n", command, execName, command)
	fmt.Fprintf(fs.Output(), "%s\n\n", desc)
	fmt.Fprintf(fs.Output(), "Flags:\n")
	fs.PrintDefaults()
}

// ParsePathList parses a comma-separated list of repository paths.
// It removes quotes, as they are only used for grouping items with spaces or commas.
// Backslashes are literal characters.
func ParsePathList(s string) []string {
	var list []string
	var current strings.Builder
	var quoteChar rune

	// Helper to add the current buffered item to the list after trimming whitespace.
	appendItem := func() {
		trimmed := strings.TrimSpace(current.String())
		if trimmed != "" {
			list = append(list, trimmed)
		}
		current.Reset()
	}

	for _, r := range s {
		switch {
		case r == '\'' || r == '"':
			if quoteChar == 0 { // Start of a new quoted section.
				quoteChar = r
			} else if quoteChar == r { // End of the current quoted section.
				quoteChar = 0
			} else { // A different quote character inside an existing quoted section.
				current.WriteRune(r)
			}
		case r == ',' && quoteChar == 0: // Comma outside of any quotes.
			appendItem()
		default:
			current.WriteRune(r)
		}
	}
	appendItem() // Add the final item after the loop finishes.
	return list
}
