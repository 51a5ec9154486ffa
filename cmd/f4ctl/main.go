// Command f4ctl talks to a Nucleo-F411RE running the console firmware
// and runs the SPI throughput test on host SPI ports.
package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"nucleo.dev/internal/diag"
)

var Version string

type options struct {
	device  string
	baud    int
	verbose bool
}

func newRootCmd() *cobra.Command {
	opts := new(options)
	root := &cobra.Command{
		Use:           "f4ctl",
		Short:         "Control a Nucleo-F411RE console",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.verbose {
				diag.SetLevel(slog.LevelDebug)
			}
		},
	}
	root.PersistentFlags().StringVarP(&opts.device, "device", "d", "", "serial device (default /dev/ttyACM0)")
	root.PersistentFlags().IntVarP(&opts.baud, "baud", "b", 115200, "serial baud rate")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log debug records")
	root.AddCommand(
		newTermCmd(opts),
		newStatusCmd(opts),
		newExecCmd(opts),
		newSPIPerfCmd(),
	)
	return root
}

func main() {
	log.SetFlags(log.Flags() &^ (log.Ldate | log.Ltime))
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "f4ctl: %v\n", err)
		os.Exit(2)
	}
}
