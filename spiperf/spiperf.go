// Package spiperf measures SPI throughput with a full-duplex transfer of
// known patterns and verifies the data received in both directions.
package spiperf

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/physic"
)

const (
	DefaultPrescaler = 4
	DefaultSize      = 10240
	MaxSize          = 16384
)

var ErrUsage = errors.New("spiperf: invalid arguments")

// Args is a parsed test configuration.
type Args struct {
	Prescaler int
	Size      int
	// DMA selects DMA transfers instead of polling.
	DMA bool
}

// Usage describes the arguments accepted by ParseArgs.
const Usage = `Usage: spi_perf_test [prescaler] [buffer_size] [dma]
  prescaler:   2, 4, 8, 16, 32, 64, 128, 256 (default: 4)
  buffer_size: 1-16384 (default: 10240)
  dma:         optional keyword to use DMA transfer mode
`

// ParseArgs parses "[prescaler] [size] [dma]". Missing numbers take
// their defaults.
func ParseArgs(args []string) (Args, error) {
	a := Args{Prescaler: DefaultPrescaler, Size: DefaultSize}
	if n := len(args); n > 0 && args[n-1] == "dma" {
		a.DMA = true
		args = args[:n-1]
	}
	if len(args) > 2 {
		return a, fmt.Errorf("%w: too many arguments", ErrUsage)
	}
	if len(args) > 0 {
		v, err := strconv.ParseUint(args[0], 10, 16)
		if err != nil {
			return a, fmt.Errorf("%w: prescaler %q", ErrUsage, args[0])
		}
		a.Prescaler = int(v)
	}
	if len(args) > 1 {
		v, err := strconv.ParseUint(args[1], 10, 16)
		if err != nil {
			return a, fmt.Errorf("%w: size %q", ErrUsage, args[1])
		}
		a.Size = int(v)
	}
	if !validPrescaler(a.Prescaler) {
		return a, fmt.Errorf("%w: prescaler %d", ErrUsage, a.Prescaler)
	}
	if a.Size < 1 || a.Size > MaxSize {
		return a, fmt.Errorf("%w: size %d", ErrUsage, a.Size)
	}
	return a, nil
}

func validPrescaler(p int) bool {
	return p >= 2 && p <= 256 && p&(p-1) == 0
}

// MasterPattern is the byte the master sends at offset i.
func MasterPattern(i int) byte {
	return byte(i)
}

// SlavePattern is the byte the slave answers at offset i.
func SlavePattern(i int) byte {
	return 0xff - byte(i)
}

// A Slave is the receiving end of the test. It is primed with the slave
// pattern and reports what it received.
type Slave interface {
	Prime(tx []byte) error
	Received() []byte
}

// Result is the outcome of a run.
type Result struct {
	Size    int
	Elapsed time.Duration
	// MasterOK reports whether the slave received the master pattern. It
	// is true when there is no slave to check.
	MasterOK bool
	// SlaveOK reports whether the master received the slave pattern, or
	// its own pattern when looped back.
	SlaveOK bool
}

// BytesPerSecond returns the measured throughput.
func (r Result) BytesPerSecond() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Size) / r.Elapsed.Seconds()
}

// OK reports whether both directions verified.
func (r Result) OK() bool {
	return r.MasterOK && r.SlaveOK
}

// Run transfers size bytes of the master pattern over c. With a nil
// slave, MISO is expected to be looped back to MOSI.
func Run(c conn.Conn, s Slave, size int) (Result, error) {
	if size < 1 || size > MaxSize {
		return Result{}, fmt.Errorf("%w: size %d", ErrUsage, size)
	}
	tx := make([]byte, size)
	rx := make([]byte, size)
	want := make([]byte, size)
	for i := range tx {
		tx[i] = MasterPattern(i)
		want[i] = tx[i]
	}
	if s != nil {
		for i := range want {
			want[i] = SlavePattern(i)
		}
		if err := s.Prime(want); err != nil {
			return Result{}, fmt.Errorf("spiperf: prime slave: %w", err)
		}
	}
	start := time.Now()
	if err := c.Tx(tx, rx); err != nil {
		return Result{}, fmt.Errorf("spiperf: %w", err)
	}
	res := Result{
		Size:     size,
		Elapsed:  time.Since(start),
		MasterOK: true,
		SlaveOK:  string(rx) == string(want),
	}
	if s != nil {
		res.MasterOK = string(s.Received()) == string(tx)
	}
	return res, nil
}

func passFail(ok bool) string {
	if ok {
		return "PASS"
	}
	return "FAIL"
}

// Header prints the test configuration. sck is the resulting SPI clock.
func Header(w io.Writer, name string, a Args, sck physic.Frequency) {
	mode := "polled"
	if a.DMA {
		mode = "DMA"
	}
	fmt.Fprintf(w, "Starting SPI Performance Test...\n")
	fmt.Fprintf(w, "Config: %s (Master), %s\n", name, mode)
	fmt.Fprintf(w, "Baud Rate Prescaler: %d (%s)\n", a.Prescaler, sck)
	fmt.Fprintf(w, "Buffer Size: %d Bytes\n", a.Size)
}

// Report prints the result of a run.
func Report(w io.Writer, r Result) {
	fmt.Fprintf(w, "\n[Result]\n")
	fmt.Fprintf(w, "Time elapsed: %.2f ms\n", float64(r.Elapsed.Microseconds())/1000)
	fmt.Fprintf(w, "Throughput: %.2f MB/s\n", r.BytesPerSecond()/(1024*1024))
	fmt.Fprintf(w, "Master Data Integrity: %s\n", passFail(r.MasterOK))
	fmt.Fprintf(w, "Slave Data Integrity: %s\n", passFail(r.SlaveOK))
}
