// Package cli implements a character-at-a-time command line: echo, line
// editing, history recall, tab completion and a command table.
package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/shlex"
)

const (
	// MaxCommands bounds the command table, help included.
	MaxCommands = 32
	// DefaultLineSize is the input line capacity used when none is given.
	DefaultLineSize = 32
	historySize     = 8
	prompt          = "> "
)

var (
	ErrTooManyCommands = fmt.Errorf("cli: more than %d commands", MaxCommands-1)
	ErrUnknownCommand  = errors.New("cli: unknown command")
)

// A Command is an entry of the command table.
type Command struct {
	Name        string
	Description string
	// Run executes the command with its shell-split arguments.
	Run func(w io.Writer, args []string) error
}

// CLI is a line editor bound to a command table. It is not safe for
// concurrent use.
type CLI struct {
	w    io.Writer
	cmds []Command

	line []byte
	size int

	history [historySize]string
	head    int
	count   int
	browse  int
	stash   string

	esc int
}

// New returns a CLI writing to w. lineSize bounds the input line; zero
// selects DefaultLineSize. A help command is appended to cmds.
func New(w io.Writer, lineSize int, cmds ...Command) (*CLI, error) {
	if len(cmds) >= MaxCommands {
		return nil, ErrTooManyCommands
	}
	if lineSize <= 0 {
		lineSize = DefaultLineSize
	}
	c := &CLI{w: w, size: lineSize, browse: -1}
	c.cmds = append(append(c.cmds, cmds...), Command{
		Name:        "help",
		Description: "Show this help message",
		Run: func(w io.Writer, _ []string) error {
			c.Help(w)
			return nil
		},
	})
	return c, nil
}

// Commands returns the command table.
func (c *CLI) Commands() []Command {
	return c.cmds
}

// Line returns the current input.
func (c *CLI) Line() string {
	return string(c.line)
}

func (c *CLI) echo(s string) {
	io.WriteString(c.w, s)
}

// Welcome prints msg followed by a hint and the prompt.
func (c *CLI) Welcome(msg string) {
	if msg != "" {
		fmt.Fprintf(c.w, "%s\n", msg)
	}
	fmt.Fprintf(c.w, "Type 'help' to see the list of available commands\n")
	c.echo("\n" + prompt)
}

// Help lists the command table.
func (c *CLI) Help(w io.Writer) {
	fmt.Fprintf(w, "\nAvailable commands:\n")
	for _, cmd := range c.cmds {
		fmt.Fprintf(w, "%-12s - %s\n", cmd.Name, cmd.Description)
	}
}

// ProcessChar handles one input character and reports whether a line is
// complete and ready for Execute.
func (c *CLI) ProcessChar(ch byte) bool {
	switch c.esc {
	case 1:
		c.esc = 0
		if ch == '[' {
			c.esc = 2
		}
		return false
	case 2:
		c.esc = 0
		switch ch {
		case 'A':
			c.historyUp()
		case 'B':
			c.historyDown()
		}
		return false
	}
	switch ch {
	case 0x1b:
		c.esc = 1
	case '\b', 0x7f:
		if len(c.line) > 0 {
			c.echo("\b \b")
			c.line = c.line[:len(c.line)-1]
		}
	case '\t':
		c.complete()
	case '\r', '\n':
		return true
	default:
		if ch >= 32 && ch <= 126 && len(c.line) < c.size-1 {
			c.line = append(c.line, ch)
			c.w.Write([]byte{ch})
		}
	}
	return false
}

// Execute runs the current line, records it in the history and prints
// the prompt. Unknown commands and command errors are reported to the
// output and returned.
func (c *CLI) Execute() error {
	line := strings.TrimSpace(string(c.line))
	c.line = c.line[:0]
	c.echo("\n")
	err := c.run(line)
	c.save(line)
	c.echo("\n" + prompt)
	return err
}

func (c *CLI) run(line string) error {
	if line == "" {
		return nil
	}
	args, err := shlex.Split(line)
	if err != nil {
		fmt.Fprintf(c.w, "Invalid command line: %v\n", err)
		return fmt.Errorf("cli: %w", err)
	}
	if len(args) == 0 {
		return nil
	}
	for _, cmd := range c.cmds {
		if cmd.Name != args[0] {
			continue
		}
		if err := cmd.Run(c.w, args[1:]); err != nil {
			fmt.Fprintf(c.w, "%s: %v\n", cmd.Name, err)
			return err
		}
		return nil
	}
	fmt.Fprintf(c.w, "Unknown command: %s\n", line)
	return ErrUnknownCommand
}

// save appends line to the history, skipping empty lines and repeats of
// the newest entry.
func (c *CLI) save(line string) {
	c.browse = -1
	if line == "" {
		return
	}
	if c.count > 0 && c.history[(c.head+historySize-1)%historySize] == line {
		return
	}
	c.history[c.head] = line
	c.head = (c.head + 1) % historySize
	if c.count < historySize {
		c.count++
	}
}

func (c *CLI) entry(age int) string {
	return c.history[(c.head+historySize-1-age)%historySize]
}

func (c *CLI) historyUp() {
	if c.count == 0 {
		return
	}
	if c.browse == -1 {
		c.stash = string(c.line)
		c.browse = 0
	} else {
		if c.browse+1 >= c.count {
			return
		}
		c.browse++
	}
	c.show(c.entry(c.browse))
}

func (c *CLI) historyDown() {
	if c.browse == -1 {
		return
	}
	c.browse--
	if c.browse < 0 {
		c.browse = -1
		c.show(c.stash)
		return
	}
	c.show(c.entry(c.browse))
}

// show replaces the displayed line with s.
func (c *CLI) show(s string) {
	if len(s) > c.size-1 {
		s = s[:c.size-1]
	}
	c.echo("\r" + strings.Repeat(" ", len(prompt)+len(c.line)) + "\r" + prompt + s)
	c.line = append(c.line[:0], s...)
}

// complete extends the line to the longest common prefix of the matching
// command names, adding a space after a unique full match.
func (c *CLI) complete() {
	if len(c.line) == 0 {
		return
	}
	cur := string(c.line)
	prefix, found := "", false
	for _, cmd := range c.cmds {
		if !strings.HasPrefix(cmd.Name, cur) {
			continue
		}
		if !found {
			prefix, found = cmd.Name, true
			continue
		}
		n := 0
		for n < len(prefix) && n < len(cmd.Name) && prefix[n] == cmd.Name[n] {
			n++
		}
		prefix = prefix[:n]
	}
	if !found || len(prefix) <= len(cur) || len(prefix) >= c.size {
		return
	}
	c.echo(prefix[len(cur):])
	c.line = append(c.line[:0], prefix...)
	exact := 0
	for _, cmd := range c.cmds {
		if cmd.Name == prefix {
			exact++
		}
	}
	if exact == 1 && len(c.line) < c.size-1 {
		c.line = append(c.line, ' ')
		c.echo(" ")
	}
}
