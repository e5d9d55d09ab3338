// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"
)

// Command is one node of the command tree. A node either dispatches to
// a subcommand named by its first argument or parses its flags and
// calls Run.
type Command struct {
	// Name is what the user types, e.g. "pack".
	Name string

	// Summary is the one-liner in the parent's command listing.
	Summary string

	// Description heads the command's own help page.
	Description string

	// Usage overrides the synthesized usage line.
	Usage string

	Examples []Example

	// Flags builds a fresh flag set. It is called once per parse and
	// once per help page, so it must bind the same variables each time.
	Flags func() *pflag.FlagSet

	Subcommands []*Command

	// Run receives the positional arguments left after flag parsing.
	// On a command with subcommands it runs when no subcommand is
	// named.
	Run func(args []string) error

	// HelpOutput receives help pages. Inherited from the nearest
	// ancestor that sets it; default os.Stderr.
	HelpOutput io.Writer

	parent *Command
}

// Example is one entry in the Examples section of a help page.
type Example struct {
	Description string
	Command     string
}

// Execute runs the command tree against args.
func (c *Command) Execute(args []string) error {
	if len(args) > 0 && isHelpFlag(args[0]) {
		c.PrintHelp(c.helpOutput())
		return nil
	}

	if len(c.Subcommands) > 0 {
		if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
			return c.dispatch(args[0], args[1:])
		}
		if c.Run == nil {
			c.PrintHelp(c.helpOutput())
			if len(args) == 0 {
				return errors.New("subcommand required")
			}
			return fmt.Errorf("subcommand required (got flag %q)", args[0])
		}
	}

	positional, err := c.parseFlags(args)
	if errors.Is(err, pflag.ErrHelp) {
		c.PrintHelp(c.helpOutput())
		return nil
	}
	if err != nil {
		return err
	}

	if c.Run == nil {
		c.PrintHelp(c.helpOutput())
		return fmt.Errorf("no action defined for %q", c.fullName())
	}
	return c.Run(positional)
}

func (c *Command) dispatch(name string, args []string) error {
	for _, sub := range c.Subcommands {
		if sub.Name == name {
			sub.parent = c
			return sub.Execute(args)
		}
	}
	hint := ""
	if suggestion := suggestCommand(name, c.Subcommands); suggestion != "" {
		hint = fmt.Sprintf(" (did you mean %q?)", suggestion)
	}
	return fmt.Errorf("unknown command %q%s\n\nRun '%s --help' for usage.", name, hint, c.fullName())
}

// parseFlags returns the positional arguments. Parse errors are
// rewritten with a flag suggestion where one is close enough;
// pflag.ErrHelp is returned as is.
func (c *Command) parseFlags(args []string) ([]string, error) {
	if c.Flags == nil {
		return args, nil
	}
	flagSet := c.Flags()
	flagSet.SetOutput(io.Discard)

	err := flagSet.Parse(args)
	if err == nil {
		return flagSet.Args(), nil
	}
	if errors.Is(err, pflag.ErrHelp) {
		return nil, err
	}
	message := err.Error()
	if strings.Contains(message, "unknown flag") || strings.Contains(message, "unknown shorthand flag") {
		if suggestion := suggestFlag(args, c.Flags()); suggestion != "" {
			message += fmt.Sprintf(" (did you mean %s?)", suggestion)
		}
	}
	return nil, fmt.Errorf("%s\n\nRun '%s --help' for usage.", message, c.fullName())
}

// PrintHelp writes the command's help page to w.
func (c *Command) PrintHelp(w io.Writer) {
	name := c.fullName()

	heading := c.Description
	if heading == "" {
		heading = c.Summary
	}
	if heading != "" {
		fmt.Fprintf(w, "%s\n\n", heading)
	}

	usage := c.Usage
	if usage == "" {
		usage = name + " [flags]"
		if len(c.Subcommands) > 0 {
			usage = name + " <command> [flags]"
		}
	}
	fmt.Fprintf(w, "Usage:\n  %s\n", usage)

	if len(c.Subcommands) > 0 {
		fmt.Fprintf(w, "\nCommands:\n")
		table := tabwriter.NewWriter(w, 2, 0, 3, ' ', 0)
		for _, sub := range c.Subcommands {
			fmt.Fprintf(table, "  %s\t%s\n", sub.Name, sub.Summary)
		}
		table.Flush()
	}

	if c.Flags != nil {
		if usages := c.Flags().FlagUsages(); usages != "" {
			fmt.Fprintf(w, "\nFlags:\n%s", usages)
		}
	}

	if len(c.Examples) > 0 {
		fmt.Fprintf(w, "\nExamples:\n")
		for _, example := range c.Examples {
			if example.Description == "" {
				fmt.Fprintf(w, "  %s\n", example.Command)
				continue
			}
			fmt.Fprintf(w, "  # %s\n  %s\n\n", example.Description, example.Command)
		}
	}

	if len(c.Subcommands) > 0 {
		fmt.Fprintf(w, "\nRun '%s <command> --help' for more information on a command.\n", name)
	}
}

func (c *Command) helpOutput() io.Writer {
	for command := c; command != nil; command = command.parent {
		if command.HelpOutput != nil {
			return command.HelpOutput
		}
	}
	return os.Stderr
}

// fullName is the command path from the root, e.g. "bundlecache pack".
func (c *Command) fullName() string {
	if c.parent == nil {
		return c.Name
	}
	return c.parent.fullName() + " " + c.Name
}

func isHelpFlag(arg string) bool {
	switch arg {
	case "-h", "--help", "help":
		return true
	}
	return false
}
