package flagparse

import (
	"fmt"

	"github.com/paulschiretz/pgl-workingcopy/pkg/util"
)

// Command is the subcommand to execute.
type Command int

const (
	None Command = iota
	Init
	Snapshot
	Checkout
	Status
	Sparse
	Recover
	Watch
	Version
)

var commandToString = map[Command]string{
	None:     "none",
	Init:     "init",
	Snapshot: "snapshot",
	Checkout: "checkout",
	Status:   "status",
	Sparse:   "sparse",
	Recover:  "recover",
	Watch:    "watch",
	Version:  "version",
}

var stringToCommand map[string]Command

func init() {
	stringToCommand = util.InvertMap(commandToString)
}

func (c Command) String() string {
	if str, ok := commandToString[c]; ok {
		return str
	}
	return fmt.Sprintf("unknown_command(%d)", c)
}

func ParseCommand(s string) (Command, error) {
	if command, ok := stringToCommand[s]; ok && command != None {
		return command, nil
	}
	return None, fmt.Errorf("invalid command: %q. Must be 'init', 'snapshot', 'checkout', 'status', 'sparse', 'recover', 'watch' or 'version'", s)
}
