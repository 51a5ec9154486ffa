package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"nucleo.dev/driver/spi"
	"nucleo.dev/internal/wire"
)

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Decode the console status line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openConsole(opts)
			if err != nil {
				return err
			}
			defer p.Close()
			s, err := queryStatus(p)
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), s)
			return nil
		},
	}
}

func newExecCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "exec command [args...]",
		Short: "Run one console command and print its output",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openConsole(opts)
			if err != nil {
				return err
			}
			defer p.Close()
			out, err := command(p, args...)
			if err != nil {
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), out)
			return err
		},
	}
}

func queryStatus(rw io.ReadWriter) (wire.Status, error) {
	out, err := command(rw, "status")
	if err != nil {
		return wire.Status{}, err
	}
	return wire.Find([]byte(out))
}

func printStatus(w io.Writer, s wire.Status) {
	fmt.Fprintf(w, "Firmware: %s\n", s.Version)
	fmt.Fprintf(w, "UART errors: 0x%x\n", s.UARTErrors)
	if len(s.SPIBusy) > 0 {
		busy := make([]string, len(s.SPIBusy))
		for i, n := range s.SPIBusy {
			busy[i] = spi.Instance(n).String()
		}
		fmt.Fprintf(w, "SPI busy: %s\n", strings.Join(busy, " "))
	}
	if len(s.DMA.Streams) == 0 {
		fmt.Fprintln(w, "No streams allocated")
		return
	}
	for _, st := range s.DMA.Streams {
		state := "idle"
		if st.Enabled {
			state = "running"
		}
		fmt.Fprintf(w, "%-13s %-7s remaining %d\n", st.Stream, state, st.Remaining)
	}
}
