package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"nucleo.dev/spiperf"
)

// frequency adapts physic.Frequency to a command line flag.
type frequency struct {
	f *physic.Frequency
}

func (f frequency) String() string     { return f.f.String() }
func (f frequency) Set(s string) error { return f.f.Set(s) }
func (f frequency) Type() string       { return "frequency" }

func newSPIPerfCmd() *cobra.Command {
	var (
		port  string
		clock = 16 * physic.MegaHertz
	)
	cmd := &cobra.Command{
		Use:   "spiperf [prescaler] [size]",
		Short: "Run the SPI throughput test on a host SPI port with MOSI wired to MISO",
		Long:  spiperf.Usage,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := host.Init(); err != nil {
				return err
			}
			return runSPIPerf(cmd.OutOrStdout(), port, clock, args)
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "SPI port name (default first registered)")
	cmd.Flags().Var(frequency{&clock}, "clock", "clock divided by the prescaler")
	return cmd
}

func runSPIPerf(w io.Writer, port string, clock physic.Frequency, args []string) error {
	a, err := spiperf.ParseArgs(args)
	if err != nil {
		return err
	}
	if a.DMA {
		return errors.New("spiperf: dma mode is only available on the board")
	}
	p, err := spireg.Open(port)
	if err != nil {
		return err
	}
	defer p.Close()
	sck := clock / physic.Frequency(a.Prescaler)
	c, err := p.Connect(sck, spi.Mode0, 8)
	if err != nil {
		return fmt.Errorf("%s: %w", p, err)
	}
	spiperf.Header(w, p.String(), a, sck)
	res, err := spiperf.Run(c, nil, a.Size)
	if err != nil {
		return err
	}
	spiperf.Report(w, res)
	if !res.OK() {
		return errors.New("spiperf: data integrity check failed")
	}
	return nil
}
