// Package console is the board's command shell: LED control, DMA and
// UART diagnostics and the SPI throughput test.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"nucleo.dev/cli"
	"nucleo.dev/driver/dma"
	"nucleo.dev/driver/gpio"
	"nucleo.dev/driver/spi"
	"nucleo.dev/driver/uart"
	"nucleo.dev/internal/diag"
	"nucleo.dev/internal/wire"
	"nucleo.dev/spiperf"
)

// Welcome is printed when the console starts.
const Welcome = "\n=== Nucleo-F411RE console (DMA + Interrupts) ==="

const lineSize = 64

// Config wires the console to the board.
type Config struct {
	Out  io.Writer
	GPIO *gpio.Controller
	LED  gpio.Pin
	DMA  *dma.Controller
	SPI  *spi.Driver
	// PerfSPI selects the instance and pins of the throughput test. Its
	// prescaler is overridden by the command arguments.
	PerfSPI spi.Config
	UART    *uart.UART
	Version string
	// Flush, if set, pushes buffered output after each input character.
	Flush func()
}

// Console feeds input characters to a command line.
type Console struct {
	conf  Config
	cli   *cli.CLI
	input chan byte
}

func New(conf Config) (*Console, error) {
	c := &Console{conf: conf, input: make(chan byte, lineSize)}
	cmds := []cli.Command{
		{Name: "led_on", Description: "Turn LED2 on", Run: c.ledOn},
		{Name: "led_off", Description: "Turn LED2 off", Run: c.ledOff},
		{Name: "led_toggle", Description: "Toggle LED2", Run: c.ledToggle},
		{Name: "spi_perf_test", Description: "SPI throughput test", Run: c.spiPerf},
		{Name: "dma", Description: "List allocated DMA streams", Run: c.dma},
		{Name: "uart", Description: "Show and clear UART errors", Run: c.uart},
		{Name: "status", Description: "Print an encoded status line", Run: c.status},
		{Name: "echo", Description: "Print the arguments", Run: echo},
	}
	cl, err := cli.New(conf.Out, lineSize, cmds...)
	if err != nil {
		return nil, fmt.Errorf("console: %w", err)
	}
	c.cli = cl
	return c, nil
}

// Receive queues a character from interrupt context. Characters are
// dropped when the queue is full.
func (c *Console) Receive(ch byte) {
	select {
	case c.input <- ch:
	default:
	}
}

// ReceiveData queues received bytes from interrupt context, as delivered
// by a circular DMA receive.
func (c *Console) ReceiveData(data []byte) {
	for _, ch := range data {
		c.Receive(ch)
	}
}

// Handle processes one input character, running the line when it
// completes.
func (c *Console) Handle(ch byte) {
	if c.cli.ProcessChar(ch) {
		if err := c.cli.Execute(); err != nil {
			diag.Debug(diag.Console, "command failed", "err", err)
		}
	}
	c.flush()
}

func (c *Console) flush() {
	if c.conf.Flush != nil {
		c.conf.Flush()
	}
}

// Run prints the welcome banner and handles queued input until ctx is
// done.
func (c *Console) Run(ctx context.Context) error {
	c.cli.Welcome(Welcome)
	c.flush()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ch := <-c.input:
			c.Handle(ch)
		}
	}
}

func echo(w io.Writer, args []string) error {
	fmt.Fprintln(w, strings.Join(args, " "))
	return nil
}

func (c *Console) led() error {
	if c.conf.GPIO == nil || c.conf.LED == gpio.NoPin {
		return errors.New("no LED")
	}
	// The LED pin doubles as SPI1 SCK; claim it back on every use.
	if c.conf.GPIO.Mode(c.conf.LED) != gpio.Output {
		c.conf.GPIO.Configure(c.conf.LED, gpio.Config{Mode: gpio.Output})
	}
	return nil
}

func (c *Console) ledOn(w io.Writer, _ []string) error {
	if err := c.led(); err != nil {
		return err
	}
	c.conf.GPIO.Set(c.conf.LED, true)
	fmt.Fprintln(w, "LED2 turned on")
	return nil
}

func (c *Console) ledOff(w io.Writer, _ []string) error {
	if err := c.led(); err != nil {
		return err
	}
	c.conf.GPIO.Set(c.conf.LED, false)
	fmt.Fprintln(w, "LED2 turned off")
	return nil
}

func (c *Console) ledToggle(w io.Writer, _ []string) error {
	if err := c.led(); err != nil {
		return err
	}
	c.conf.GPIO.Set(c.conf.LED, !c.conf.GPIO.Get(c.conf.LED))
	fmt.Fprintln(w, "LED2 toggled")
	return nil
}

// polled runs transfers by polling the data register.
type polled struct {
	*spi.Device
}

func (p polled) Tx(w, r []byte) error {
	p.Enable()
	defer p.Disable()
	return p.Transfer(w, r)
}

func (c *Console) spiPerf(w io.Writer, args []string) error {
	a, err := spiperf.ParseArgs(args)
	if err != nil {
		io.WriteString(w, spiperf.Usage)
		return err
	}
	if c.conf.SPI == nil {
		return errors.New("no SPI")
	}
	conf := c.conf.PerfSPI
	conf.Prescaler = a.Prescaler
	dev, err := c.conf.SPI.Open(conf)
	if err != nil {
		return err
	}
	defer dev.Close()
	spiperf.Header(w, conf.Instance.String(), a, dev.Frequency())
	var res spiperf.Result
	if a.DMA {
		res, err = spiperf.Run(dev, nil, a.Size)
	} else {
		res, err = spiperf.Run(polled{dev}, nil, a.Size)
	}
	if err != nil {
		return err
	}
	spiperf.Report(w, res)
	if !res.OK() {
		return errors.New("data integrity failure")
	}
	return nil
}

func (c *Console) dma(w io.Writer, _ []string) error {
	if c.conf.DMA == nil {
		return errors.New("no DMA controller")
	}
	snap := c.conf.DMA.Snapshot()
	if len(snap.Streams) == 0 {
		fmt.Fprintln(w, "No streams allocated")
		return nil
	}
	fmt.Fprintf(w, "%-13s %-4s %-10s %-6s %s\n", "STREAM", "EN", "CR", "NDTR", "CALLBACKS")
	for _, s := range snap.Streams {
		var cbs []string
		if s.OnComplete {
			cbs = append(cbs, "complete")
		}
		if s.OnError {
			cbs = append(cbs, "error")
		}
		en := "-"
		if s.Enabled {
			en = "yes"
		}
		fmt.Fprintf(w, "%-13s %-4s 0x%08x %-6d %s\n", s.Stream, en, s.Control, s.Remaining, strings.Join(cbs, ","))
	}
	return nil
}

func (c *Console) uart(w io.Writer, _ []string) error {
	if c.conf.UART == nil {
		return errors.New("no UART")
	}
	fmt.Fprintf(w, "UART errors: %v\n", c.conf.UART.Errors())
	c.conf.UART.ClearErrors()
	return nil
}

// Status returns the current board status.
func (c *Console) Status() wire.Status {
	s := wire.Status{Version: c.conf.Version}
	if c.conf.DMA != nil {
		s.DMA = c.conf.DMA.Snapshot()
	}
	if c.conf.UART != nil {
		s.UARTErrors = uint32(c.conf.UART.Errors())
	}
	if c.conf.SPI != nil {
		for i := spi.Instance(0); i < spi.InstanceCount; i++ {
			if c.conf.SPI.Busy(i) {
				s.SPIBusy = append(s.SPIBusy, uint8(i))
			}
		}
	}
	return s
}

func (c *Console) status(w io.Writer, _ []string) error {
	fmt.Fprintln(w, wire.Line(c.Status()))
	return nil
}
