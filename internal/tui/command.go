package tui

import "strings"

// Command is one line typed in the composer after ':'.
type Command struct {
	Name string
	Args string
}

// ParseCommand splits input (without the leading ':') into a lower-cased
// name and the remaining arguments.
func ParseCommand(input string) Command {
	name, args, _ := strings.Cut(strings.TrimSpace(input), " ")
	return Command{
		Name: strings.ToLower(name),
		Args: strings.TrimSpace(args),
	}
}
