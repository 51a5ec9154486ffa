package main

import (
	"errors"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// escape (Ctrl-]) ends a terminal session.
const escape = 0x1d

func newTermCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "term",
		Short: "Attach the terminal to the console (Ctrl-] exits)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openConsole(opts)
			if err != nil {
				return err
			}
			defer p.Close()
			restore, err := makeRaw(int(os.Stdin.Fd()))
			if err != nil {
				return err
			}
			defer restore()
			return session(p, os.Stdin, cmd.OutOrStdout())
		},
	}
}

var errDetached = errors.New("detached")

// session copies console output to out and input to the console until
// the escape character is typed or either side fails.
func session(console io.ReadWriter, in io.Reader, out io.Writer) error {
	done := make(chan error, 1)
	go func() {
		buf := make([]byte, 256)
		for {
			n, err := console.Read(buf)
			if n > 0 {
				if _, err := out.Write(buf[:n]); err != nil {
					done <- err
					return
				}
			}
			if err != nil && err != io.EOF {
				done <- err
				return
			}
		}
	}()
	go func() {
		done <- forward(console, in)
	}()
	err := <-done
	if errors.Is(err, errDetached) {
		return nil
	}
	return err
}

func forward(w io.Writer, in io.Reader) error {
	buf := make([]byte, 64)
	for {
		n, err := in.Read(buf)
		for i := 0; i < n; i++ {
			if buf[i] == escape {
				if _, err := w.Write(buf[:i]); err != nil {
					return err
				}
				return errDetached
			}
		}
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return err
			}
		}
		if err == io.EOF {
			return errDetached
		}
		if err != nil {
			return err
		}
	}
}
