// Package f4sim models the STM32F4 peripherals used by the drivers on top
// of a simulated register file, for host tests.
//
// The model covers write-one-to-set/clear NVIC registers with vector
// delivery, the DMA stream engines, SPI masters looped back to a
// configurable peer, USART transmit/receive with idle-line detection and
// GPIO set/reset. Transfers that hardware performs on its own are carried
// out by Step, either called directly for deterministic tests or from Run.
package f4sim

import (
	"context"
	"runtime"
	"sync"

	"nucleo.dev/device/stm32f4"
	"nucleo.dev/driver/reg"
)

// Streams is the number of DMA streams, numbered controller*8+stream.
const Streams = 16

// Device is a simulated STM32F4.
type Device struct {
	*reg.Sim

	// Peer returns the byte shifted in by the SPI instance at base
	// while out is shifted out. Nil means MOSI is wired to MISO.
	Peer func(base uint32, out byte) byte

	mu       sync.Mutex
	handlers [stm32f4.IRQ_max + 1]func()
	reload   [Streams]uint32
	spis     map[uint32]*spiState
	usarts   map[uint32]*usartState
}

type spiState struct {
	rx byte
}

type usartState struct {
	rx  []byte
	out []byte
}

var spiBases = []uint32{stm32f4.SPI1, stm32f4.SPI2, stm32f4.SPI3, stm32f4.SPI4, stm32f4.SPI5}

var usartBases = []uint32{stm32f4.USART1, stm32f4.USART2, stm32f4.USART6}

var gpioPorts = []uint32{0, 1, 2, 3, 4, 7}

var streamIRQs = [Streams]int{
	stm32f4.IRQ_DMA1_Stream0, stm32f4.IRQ_DMA1_Stream1, stm32f4.IRQ_DMA1_Stream2, stm32f4.IRQ_DMA1_Stream3,
	stm32f4.IRQ_DMA1_Stream4, stm32f4.IRQ_DMA1_Stream5, stm32f4.IRQ_DMA1_Stream6, stm32f4.IRQ_DMA1_Stream7,
	stm32f4.IRQ_DMA2_Stream0, stm32f4.IRQ_DMA2_Stream1, stm32f4.IRQ_DMA2_Stream2, stm32f4.IRQ_DMA2_Stream3,
	stm32f4.IRQ_DMA2_Stream4, stm32f4.IRQ_DMA2_Stream5, stm32f4.IRQ_DMA2_Stream6, stm32f4.IRQ_DMA2_Stream7,
}

// New returns a device in its reset state.
func New() *Device {
	d := &Device{
		Sim:    reg.NewSim(),
		spis:   make(map[uint32]*spiState),
		usarts: make(map[uint32]*usartState),
	}
	d.nvic()
	d.dma()
	for _, base := range spiBases {
		d.spi(base)
	}
	for _, base := range usartBases {
		d.usart(base)
	}
	for _, port := range gpioPorts {
		d.gpio(stm32f4.GPIOA + port*stm32f4.GPIOStride)
	}
	return d
}

// Attach installs h as the handler of interrupt n.
func (d *Device) Attach(n int, h func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[n] = h
}

// Raise signals interrupt n. The handler runs on the calling goroutine
// when the line is enabled; otherwise the line is left pending.
func (d *Device) Raise(n int) {
	word, bit := uint32(4*(n/32)), uint32(1)<<(n%32)
	d.mu.Lock()
	h := d.handlers[n]
	d.mu.Unlock()
	if d.Peek(stm32f4.NVIC_ISER+word)&bit == 0 || h == nil {
		d.Modify(stm32f4.NVIC_ISPR+word, func(old uint32) uint32 { return old | bit })
		return
	}
	d.Modify(stm32f4.NVIC_ISPR+word, func(old uint32) uint32 { return old &^ bit })
	h()
}

// Enabled reports whether interrupt line n is enabled.
func (d *Device) Enabled(n int) bool {
	return d.Peek(stm32f4.NVIC_ISER+uint32(4*(n/32)))&(1<<(n%32)) != 0
}

// Pending reports whether interrupt line n was raised while disabled.
func (d *Device) Pending(n int) bool {
	return d.Peek(stm32f4.NVIC_ISPR+uint32(4*(n/32)))&(1<<(n%32)) != 0
}

func (d *Device) nvic() {
	for w := uint32(0); w < 3; w++ {
		iser := stm32f4.NVIC_ISER + 4*w
		icer := stm32f4.NVIC_ICER + 4*w
		d.OnStore(iser, func(addr, old, v uint32) uint32 {
			return old | v
		})
		d.OnStore(icer, func(addr, old, v uint32) uint32 {
			d.Modify(iser, func(old uint32) uint32 { return old &^ v })
			return 0
		})
		d.OnLoad(icer, func(addr, v uint32) uint32 {
			return d.Peek(iser)
		})
	}
}

// Step performs the transfers that are ready: SPI DMA exchanges and USART
// DMA transmission. Completion interrupts are raised on the calling
// goroutine.
func (d *Device) Step() {
	for _, base := range spiBases {
		d.stepSPI(base)
	}
	for _, base := range usartBases {
		d.stepUSART(base)
	}
}

// Run calls Step until ctx is done.
func (d *Device) Run(ctx context.Context) {
	for ctx.Err() == nil {
		d.Step()
		runtime.Gosched()
	}
}
