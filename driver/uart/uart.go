// Package uart drives the USART peripherals: polled I/O, DMA transmission
// and circular DMA reception delivered on idle line.
package uart

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync/atomic"

	"nucleo.dev/device/stm32f4"
	"nucleo.dev/driver/dma"
	"nucleo.dev/driver/gpio"
	"nucleo.dev/driver/irq"
	"nucleo.dev/driver/rcc"
	"nucleo.dev/driver/reg"
)

type Instance uint8

const (
	USART1 Instance = iota
	USART2
	USART6

	InstanceCount
)

func (i Instance) String() string {
	switch i {
	case USART1:
		return "USART1"
	case USART2:
		return "USART2"
	case USART6:
		return "USART6"
	}
	return fmt.Sprintf("Instance(%d)", uint8(i))
}

var (
	ErrInvalidInstance = errors.New("uart: invalid instance")
	ErrInvalidBaud     = errors.New("uart: baud rate out of range")
	// ErrBusy is returned by WriteDMA while a DMA transmission runs.
	ErrBusy = errors.New("uart: transmission in progress")
	// ErrRxActive is returned when DMA reception is already running or
	// prevents a polled read.
	ErrRxActive = errors.New("uart: DMA reception active")
	ErrLength   = errors.New("uart: invalid buffer length")
)

type hwInfo struct {
	base   uint32
	clock  rcc.Gate
	irq    irq.IRQ
	tx, rx dma.StreamID
	// DMA request channel of both streams.
	channel uint8
}

var hwTable = [InstanceCount]hwInfo{
	USART1: {stm32f4.USART1, rcc.USART1, stm32f4.IRQ_USART1, dma.Stream2_7, dma.Stream2_5, 4},
	USART2: {stm32f4.USART2, rcc.USART2, stm32f4.IRQ_USART2, dma.Stream1_6, dma.Stream1_5, 4},
	USART6: {stm32f4.USART6, rcc.USART6, stm32f4.IRQ_USART6, dma.Stream2_6, dma.Stream2_1, 5},
}

// Streams returns the transmit and receive DMA streams of an instance.
func Streams(i Instance) (tx, rx dma.StreamID, ok bool) {
	if i >= InstanceCount {
		return 0, 0, false
	}
	return hwTable[i].tx, hwTable[i].rx, true
}

// Interrupt priorities. The DMA streams preempt the USART interrupt.
const (
	dmaIRQPriority   = 1
	usartIRQPriority = 2
)

// Config selects an instance, its pins and its baud rate.
type Config struct {
	Instance Instance
	Baud     uint32
	TX       gpio.Pin
	RX       gpio.Pin
	// AF is the alternate function of both pins: 7 for USART1 and
	// USART2, 8 for USART6.
	AF uint8
}

// ErrorFlags records receive errors latched by the interrupt handler.
type ErrorFlags uint32

const (
	Overrun ErrorFlags = stm32f4.USART_SR_ORE
	Framing ErrorFlags = stm32f4.USART_SR_FE
	Noise   ErrorFlags = stm32f4.USART_SR_NF

	errorMask = Overrun | Framing | Noise
)

func (f ErrorFlags) String() string {
	if f == 0 {
		return "none"
	}
	var names []string
	for _, e := range []struct {
		flag ErrorFlags
		name string
	}{{Overrun, "overrun"}, {Framing, "framing"}, {Noise, "noise"}} {
		if f&e.flag != 0 {
			names = append(names, e.name)
		}
	}
	return strings.Join(names, "|")
}

// UART is a USART peripheral.
type UART struct {
	bus  reg.Bus
	dma  *dma.Controller
	gpio *gpio.Controller
	rcc  *rcc.Controller
	ic   irq.Controller

	conf Config
	hw   hwInfo

	txStream bool
	txBusy   atomic.Bool
	txDone   func()

	onByte   func(byte)
	rxStream bool
	rxActive bool
	rx       ring
	onData   func([]byte)

	errs atomic.Uint32
}

func New(b reg.Bus, d *dma.Controller, g *gpio.Controller, r *rcc.Controller, ic irq.Controller) *UART {
	return &UART{bus: b, dma: d, gpio: g, rcc: r, ic: ic}
}

func (u *UART) reg(off uint32) reg.Reg {
	return reg.At(u.bus, u.hw.base+off)
}

// BRR returns the baud rate register value for baud from a pclk Hz bus
// clock with 16x oversampling, rounded to nearest.
func BRR(pclk, baud uint32) uint32 {
	return (pclk + baud/2) / baud
}

// Configure enables the clocks, pins and interrupt line of the instance
// and starts the transmitter and receiver in 8N1 mode.
func (u *UART) Configure(conf Config) error {
	if conf.Instance >= InstanceCount {
		return ErrInvalidInstance
	}
	hw := hwTable[conf.Instance]
	if conf.Baud == 0 {
		return ErrInvalidBaud
	}
	pclk := u.rcc.Clocks().Of(hw.clock.Bus)
	brr := BRR(pclk, conf.Baud)
	if brr < 16 || brr > 0xffff {
		return fmt.Errorf("%w: %d baud from %d Hz", ErrInvalidBaud, conf.Baud, pclk)
	}
	u.conf, u.hw = conf, hw

	u.rcc.Enable(hw.clock)
	pin := gpio.Config{Mode: gpio.AltFunc, Speed: gpio.SpeedHigh, Pull: gpio.PullUp, AF: conf.AF}
	u.gpio.Configure(conf.TX, pin)
	u.gpio.Configure(conf.RX, pin)

	u.reg(stm32f4.USART_CR1).Set(0)
	u.reg(stm32f4.USART_BRR).Set(brr)
	u.reg(stm32f4.USART_CR2).Set(0)
	u.reg(stm32f4.USART_CR3).Set(0)
	u.reg(stm32f4.USART_CR1).Set(stm32f4.USART_CR1_TE | stm32f4.USART_CR1_RE | stm32f4.USART_CR1_UE)

	u.ic.SetPriority(hw.irq, usartIRQPriority)
	u.ic.Enable(hw.irq)
	return nil
}

// Config returns the active configuration.
func (u *UART) Config() Config {
	return u.conf
}

// ReadByte waits for a received byte. It fails while DMA reception owns
// the receiver.
func (u *UART) ReadByte() (byte, error) {
	if u.rxActive {
		return 0, ErrRxActive
	}
	sr := u.reg(stm32f4.USART_SR)
	for !sr.HasBits(stm32f4.USART_SR_RXNE) {
		runtime.Gosched()
	}
	return byte(u.reg(stm32f4.USART_DR).Get()), nil
}

func (u *UART) putc(c byte) {
	sr := u.reg(stm32f4.USART_SR)
	for !sr.HasBits(stm32f4.USART_SR_TXE) {
	}
	u.reg(stm32f4.USART_DR).Set(uint32(c))
}

// WriteByte transmits c by polling, preceding a line feed with a carriage
// return.
func (u *UART) WriteByte(c byte) error {
	for u.txBusy.Load() {
		runtime.Gosched()
	}
	if c == '\n' {
		u.putc('\r')
	}
	u.putc(c)
	return nil
}

// Write transmits p by polling, with the same line ending conversion as
// WriteByte.
func (u *UART) Write(p []byte) (int, error) {
	for _, c := range p {
		u.WriteByte(c)
	}
	return len(p), nil
}

// SetRxHandler installs fn to receive each byte from the USART interrupt.
// It takes effect when DMA reception is not running.
func (u *UART) SetRxHandler(fn func(byte)) {
	u.onByte = fn
	if u.rxActive {
		return
	}
	cr1 := u.reg(stm32f4.USART_CR1)
	if fn != nil {
		cr1.SetBits(stm32f4.USART_CR1_RXNEIE)
	} else {
		cr1.ClearBits(stm32f4.USART_CR1_RXNEIE)
	}
}

// Errors returns the receive errors seen since the last ClearErrors.
func (u *UART) Errors() ErrorFlags {
	return ErrorFlags(u.errs.Load())
}

func (u *UART) ClearErrors() {
	u.errs.Store(0)
}

// HandleInterrupt services the USART interrupt. Bind it to the
// instance's vector.
func (u *UART) HandleInterrupt() {
	sr := u.reg(stm32f4.USART_SR).Get()
	if errs := ErrorFlags(sr) & errorMask; errs != 0 {
		u.errs.Or(uint32(errs))
	}
	if u.rxActive {
		if sr&(stm32f4.USART_SR_IDLE|uint32(errorMask)) != 0 {
			// The SR read above and this DR read clear the flags.
			u.reg(stm32f4.USART_DR).Get()
		}
		if sr&stm32f4.USART_SR_IDLE != 0 {
			u.deliver()
		}
		return
	}
	if sr&(stm32f4.USART_SR_RXNE|uint32(errorMask)) != 0 {
		c := byte(u.reg(stm32f4.USART_DR).Get())
		if sr&stm32f4.USART_SR_RXNE != 0 && u.onByte != nil {
			u.onByte(c)
		}
	}
}
