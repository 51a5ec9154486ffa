// Package spi drives the SPI peripherals as bus masters, either polled or
// as full-duplex DMA transfers on a pair of streams.
package spi

import (
	"errors"
	"fmt"
	"sync/atomic"

	"nucleo.dev/device/stm32f4"
	"nucleo.dev/driver/dma"
	"nucleo.dev/driver/gpio"
	"nucleo.dev/driver/irq"
	"nucleo.dev/driver/rcc"
	"nucleo.dev/driver/reg"
)

// Instance names an SPI peripheral.
type Instance uint8

const (
	SPI1 Instance = iota
	SPI2
	SPI3
	SPI4
	SPI5

	InstanceCount
)

func (i Instance) String() string {
	if i >= InstanceCount {
		return fmt.Sprintf("Instance(%d)", uint8(i))
	}
	return fmt.Sprintf("SPI%d", i+1)
}

var (
	ErrInvalidInstance  = errors.New("spi: invalid instance")
	ErrInvalidPrescaler = errors.New("spi: invalid prescaler")
	ErrInstanceInUse    = errors.New("spi: instance already open")
	// ErrBusy is returned when a DMA transfer is already in flight on
	// the instance.
	ErrBusy = errors.New("spi: transfer in progress")
	// ErrLength is returned when transmit and receive buffers differ in
	// length or the transfer is empty or too long.
	ErrLength = errors.New("spi: invalid transfer length")
	// ErrTransfer reports a DMA transfer error.
	ErrTransfer = errors.New("spi: DMA transfer error")
	ErrClosed   = errors.New("spi: device closed")
)

type hwInfo struct {
	base  uint32
	clock rcc.Gate
	irq   irq.IRQ
}

var hwTable = [InstanceCount]hwInfo{
	SPI1: {stm32f4.SPI1, rcc.SPI1, stm32f4.IRQ_SPI1},
	SPI2: {stm32f4.SPI2, rcc.SPI2, stm32f4.IRQ_SPI2},
	SPI3: {stm32f4.SPI3, rcc.SPI3, stm32f4.IRQ_SPI3},
	SPI4: {stm32f4.SPI4, rcc.SPI4, stm32f4.IRQ_SPI4},
	SPI5: {stm32f4.SPI5, rcc.SPI5, stm32f4.IRQ_SPI5},
}

// streamMap lists the DMA streams and request channels wired to an
// instance.
type streamMap struct {
	tx, rx         dma.StreamID
	txChan, rxChan uint8
}

var streamTable = [InstanceCount]streamMap{
	SPI1: {tx: dma.Stream2_3, txChan: 3, rx: dma.Stream2_0, rxChan: 3},
	SPI2: {tx: dma.Stream1_4, txChan: 0, rx: dma.Stream1_3, rxChan: 0},
	SPI3: {tx: dma.Stream1_5, txChan: 0, rx: dma.Stream1_0, rxChan: 0},
	SPI4: {tx: dma.Stream2_1, txChan: 4, rx: dma.Stream2_0, rxChan: 4},
	SPI5: {tx: dma.Stream2_6, txChan: 7, rx: dma.Stream2_3, rxChan: 2},
}

// Streams returns the transmit and receive DMA streams of an instance.
func Streams(i Instance) (tx, rx dma.StreamID, ok bool) {
	if i >= InstanceCount {
		return 0, 0, false
	}
	m := streamTable[i]
	return m.tx, m.rx, true
}

const (
	// NVIC priority of the DMA stream interrupts.
	dmaIRQPriority = 1
	// Byte shifted out when no transmit buffer is given.
	dummyTx = 0xff
)

// Config selects an instance, its pins and its clocking.
type Config struct {
	Instance Instance
	SCK      gpio.Pin
	MISO     gpio.Pin
	MOSI     gpio.Pin
	// AF is the alternate function of all three pins.
	AF uint8
	// Prescaler divides the bus clock to form SCK. It must be a power
	// of two from 2 to 256.
	Prescaler int
	CPOL      bool
	CPHA      bool
	LSBFirst  bool
}

// PrescalerToBR converts a clock prescaler to the CR1 BR field.
func PrescalerToBR(p int) (uint8, error) {
	for br := uint8(0); br <= stm32f4.SPI_CR1_BR_Msk; br++ {
		if 2<<br == p {
			return br, nil
		}
	}
	return 0, fmt.Errorf("%w: %d", ErrInvalidPrescaler, p)
}

// Driver owns the SPI instances of one microcontroller.
type Driver struct {
	bus  reg.Bus
	dma  *dma.Controller
	gpio *gpio.Controller
	rcc  *rcc.Controller
	ic   irq.Controller
	open [InstanceCount]atomic.Pointer[Device]
	// active holds the device of the DMA transfer in flight on each
	// instance, if any.
	active  [InstanceCount]atomic.Pointer[Device]
	txDummy []byte
	rxDummy []byte
}

func NewDriver(b reg.Bus, d *dma.Controller, g *gpio.Controller, r *rcc.Controller, ic irq.Controller) *Driver {
	return &Driver{
		bus:     b,
		dma:     d,
		gpio:    g,
		rcc:     r,
		ic:      ic,
		txDummy: []byte{dummyTx},
		rxDummy: make([]byte, 1),
	}
}

// Busy reports whether a DMA transfer is in flight on instance i.
func (d *Driver) Busy(i Instance) bool {
	if i >= InstanceCount {
		return false
	}
	return d.active[i].Load() != nil
}

// Device is an open SPI instance.
type Device struct {
	drv     *Driver
	conf    Config
	hw      hwInfo
	streams bool
	err     error
	closed  bool
}

// Open configures an instance as a master with software slave management.
// The peripheral is left disabled.
func (d *Driver) Open(conf Config) (*Device, error) {
	if conf.Instance >= InstanceCount {
		return nil, ErrInvalidInstance
	}
	br, err := PrescalerToBR(conf.Prescaler)
	if err != nil {
		return nil, err
	}
	dev := &Device{drv: d, conf: conf, hw: hwTable[conf.Instance]}
	if !d.open[conf.Instance].CompareAndSwap(nil, dev) {
		return nil, ErrInstanceInUse
	}
	d.rcc.Enable(dev.hw.clock)
	// Transfers complete through the DMA stream interrupts.
	d.ic.Disable(dev.hw.irq)
	pin := gpio.Config{Mode: gpio.AltFunc, Speed: gpio.SpeedHigh, AF: conf.AF}
	d.gpio.Configure(conf.SCK, pin)
	d.gpio.Configure(conf.MISO, pin)
	d.gpio.Configure(conf.MOSI, pin)

	cr1 := uint32(stm32f4.SPI_CR1_MSTR|stm32f4.SPI_CR1_SSM|stm32f4.SPI_CR1_SSI) |
		uint32(br)<<stm32f4.SPI_CR1_BR_Pos
	if conf.CPOL {
		cr1 |= stm32f4.SPI_CR1_CPOL
	}
	if conf.CPHA {
		cr1 |= stm32f4.SPI_CR1_CPHA
	}
	if conf.LSBFirst {
		cr1 |= stm32f4.SPI_CR1_LSBFIRST
	}
	dev.reg(stm32f4.SPI_CR1).Set(cr1)
	dev.reg(stm32f4.SPI_CR2).Set(0)
	return dev, nil
}

func (d *Device) reg(off uint32) reg.Reg {
	return reg.At(d.drv.bus, d.hw.base+off)
}

// Close disables the peripheral, releases its DMA streams, returns its
// pins to inputs and stops its clock.
func (d *Device) Close() error {
	if d.closed {
		return ErrClosed
	}
	if d.Busy() {
		d.abort(ErrClosed)
	}
	d.reg(stm32f4.SPI_CR1).ClearBits(stm32f4.SPI_CR1_SPE)
	if d.streams {
		m := streamTable[d.conf.Instance]
		d.drv.dma.Release(m.tx)
		d.drv.dma.Release(m.rx)
		d.streams = false
	}
	d.drv.gpio.Reset(d.conf.SCK)
	d.drv.gpio.Reset(d.conf.MISO)
	d.drv.gpio.Reset(d.conf.MOSI)
	d.drv.rcc.Disable(d.hw.clock)
	d.closed = true
	d.drv.open[d.conf.Instance].CompareAndSwap(d, nil)
	return nil
}

func (d *Device) Enable() {
	d.reg(stm32f4.SPI_CR1).SetBits(stm32f4.SPI_CR1_SPE)
}

func (d *Device) Disable() {
	d.reg(stm32f4.SPI_CR1).ClearBits(stm32f4.SPI_CR1_SPE)
}

// Config returns the configuration the device was opened with.
func (d *Device) Config() Config {
	return d.conf
}

func transferLen(tx, rx []byte) (int, error) {
	n := len(tx)
	switch {
	case tx == nil:
		n = len(rx)
	case rx != nil && len(rx) != n:
		return 0, ErrLength
	}
	if n == 0 {
		return 0, ErrLength
	}
	return n, nil
}

// Transfer exchanges bytes by polling. A nil tx shifts out 0xff; a nil rx
// discards the received bytes. The peripheral must be enabled.
func (d *Device) Transfer(tx, rx []byte) error {
	if d.closed {
		return ErrClosed
	}
	if d.Busy() {
		return ErrBusy
	}
	n, err := transferLen(tx, rx)
	if err != nil {
		return err
	}
	sr, dr := d.reg(stm32f4.SPI_SR), d.reg(stm32f4.SPI_DR)
	for i := 0; i < n; i++ {
		out := byte(dummyTx)
		if tx != nil {
			out = tx[i]
		}
		for !sr.HasBits(stm32f4.SPI_SR_TXE) {
		}
		dr.Set(uint32(out))
		for !sr.HasBits(stm32f4.SPI_SR_RXNE) {
		}
		in := byte(dr.Get())
		if rx != nil {
			rx[i] = in
		}
	}
	for sr.HasBits(stm32f4.SPI_SR_BSY) {
	}
	return nil
}
