// Package dma allocates and drives the streams of the two STM32F4 DMA
// controllers and dispatches their completion interrupts.
//
// A stream has at most one owner. The owner configures it once through
// Allocate and then starts transfers by address and count. Interrupt
// handlers bound to the stream vectors call HandleInterrupt, which clears
// the stream's status flags and runs the owner's callbacks.
package dma

import (
	"errors"
	"fmt"
	"sync"

	"nucleo.dev/device/stm32f4"
	"nucleo.dev/driver/irq"
	"nucleo.dev/driver/reg"
	"nucleo.dev/internal/diag"
)

// StreamID names one of the 16 streams, controller-major.
type StreamID uint8

const (
	Stream1_0 StreamID = iota
	Stream1_1
	Stream1_2
	Stream1_3
	Stream1_4
	Stream1_5
	Stream1_6
	Stream1_7
	Stream2_0
	Stream2_1
	Stream2_2
	Stream2_3
	Stream2_4
	Stream2_5
	Stream2_6
	Stream2_7

	StreamCount
)

func (id StreamID) String() string {
	if id >= StreamCount {
		return fmt.Sprintf("StreamID(%d)", uint8(id))
	}
	return fmt.Sprintf("DMA%d_Stream%d", id/8+1, id%8)
}

type Direction uint8

const (
	PeriphToMem Direction = iota
	MemToPeriph
	MemToMem
)

type Priority uint8

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityVeryHigh
)

// MaxCount is the largest number of items in one transfer.
const MaxCount = stm32f4.DMA_SxNDTR_Msk

// Callback is called from interrupt context with the stream that raised
// the interrupt and the context registered at allocation.
type Callback func(id StreamID, ctx any)

// StreamConfig is the fixed configuration of an allocated stream.
type StreamConfig struct {
	Stream          StreamID
	Channel         uint8
	Direction       Direction
	PeriphAddr      uint32
	MemIncrement    bool
	PeriphIncrement bool
	Circular        bool
	Priority        Priority
	// OnComplete enables the transfer complete interrupt.
	OnComplete Callback
	// OnError enables the transfer and direct mode error interrupts.
	OnError Callback
	Context any
	// IRQPriority is the NVIC priority of the stream interrupt.
	IRQPriority uint8
}

var (
	// ErrInvalidStream is returned for stream ids outside the 16 streams.
	ErrInvalidStream = errors.New("dma: invalid stream")
	// ErrInvalidChannel is returned for request channels above 7.
	ErrInvalidChannel = errors.New("dma: invalid channel")
	ErrInvalidConfig  = errors.New("dma: invalid stream configuration")
	// ErrInvalidCount is returned for transfer counts outside 1..MaxCount.
	ErrInvalidCount = errors.New("dma: transfer count out of range")
	// ErrStreamInUse is returned when allocating a stream that already
	// has an owner.
	ErrStreamInUse  = errors.New("dma: stream already allocated")
	ErrNotAllocated = errors.New("dma: stream not allocated")
)

type stream struct {
	allocated  bool
	cr         uint32
	onComplete Callback
	onError    Callback
	ctx        any
}

// Controller owns the streams of both DMA controllers.
type Controller struct {
	bus reg.Bus
	ic  irq.Controller

	// mu serializes allocation and release. It is never taken from
	// interrupt context.
	mu      sync.Mutex
	streams [StreamCount]stream
}

func New(b reg.Bus, ic irq.Controller) *Controller {
	return &Controller{bus: b, ic: ic}
}

func (c *Controller) cr(d *descriptor) reg.Reg {
	return reg.At(c.bus, d.regs+stm32f4.DMA_SxCR)
}

func (c *Controller) ndtr(d *descriptor) reg.Reg {
	return reg.At(c.bus, d.regs+stm32f4.DMA_SxNDTR)
}

// disable clears EN and waits for the hardware to acknowledge. The
// hardware finishes the current single transfer before it lets go.
func (c *Controller) disable(d *descriptor) {
	cr := c.cr(d)
	cr.ClearBits(stm32f4.DMA_SxCR_EN)
	for cr.HasBits(stm32f4.DMA_SxCR_EN) {
	}
}

func (c *Controller) clearFlags(d *descriptor, mask uint32) {
	reg.At(c.bus, d.ifcr).Set(mask)
}

// Allocate takes ownership of cfg.Stream and programs its fixed
// configuration. The stream is left disabled.
func (c *Controller) Allocate(cfg StreamConfig) error {
	d, ok := descriptorFor(cfg.Stream)
	if !ok {
		return ErrInvalidStream
	}
	if cfg.Channel > stm32f4.DMA_SxCR_CHSEL_Msk {
		return ErrInvalidChannel
	}
	if cfg.Direction > MemToMem || cfg.Priority > PriorityVeryHigh {
		return ErrInvalidConfig
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s := &c.streams[cfg.Stream]
	if s.allocated {
		diag.Debug(diag.DMA, "stream in use", "stream", cfg.Stream)
		return ErrStreamInUse
	}
	reg.At(c.bus, stm32f4.RCC+stm32f4.RCC_AHB1ENR).SetBits(d.clock)
	c.disable(d)
	c.clearFlags(d, d.all)

	cr := uint32(cfg.Channel)<<stm32f4.DMA_SxCR_CHSEL_Pos |
		uint32(cfg.Direction)<<stm32f4.DMA_SxCR_DIR_Pos |
		uint32(cfg.Priority)<<stm32f4.DMA_SxCR_PL_Pos
	if cfg.MemIncrement {
		cr |= stm32f4.DMA_SxCR_MINC
	}
	if cfg.PeriphIncrement {
		cr |= stm32f4.DMA_SxCR_PINC
	}
	if cfg.Circular {
		cr |= stm32f4.DMA_SxCR_CIRC
	}
	if cfg.OnComplete != nil {
		cr |= stm32f4.DMA_SxCR_TCIE
	}
	if cfg.OnError != nil {
		cr |= stm32f4.DMA_SxCR_TEIE | stm32f4.DMA_SxCR_DMEIE
	}
	c.cr(d).Set(cr)
	reg.At(c.bus, d.regs+stm32f4.DMA_SxPAR).Set(cfg.PeriphAddr)

	*s = stream{
		allocated:  true,
		cr:         cr,
		onComplete: cfg.OnComplete,
		onError:    cfg.OnError,
		ctx:        cfg.Context,
	}
	c.ic.SetPriority(d.irq, cfg.IRQPriority)
	c.ic.Enable(d.irq)
	diag.Debug(diag.DMA, "allocated", "stream", cfg.Stream, "channel", cfg.Channel)
	return nil
}

// Release stops the stream, disables its interrupt and gives up
// ownership. Releasing a free stream does nothing.
func (c *Controller) Release(id StreamID) error {
	d, ok := descriptorFor(id)
	if !ok {
		return ErrInvalidStream
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s := &c.streams[id]
	if !s.allocated {
		return nil
	}
	c.disable(d)
	c.clearFlags(d, d.all)
	c.ic.Disable(d.irq)
	*s = stream{}
	return nil
}

// Allocated reports whether id has an owner.
func (c *Controller) Allocated(id StreamID) bool {
	if id >= StreamCount {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streams[id].allocated
}

// IRQ returns the interrupt line of stream id.
func IRQ(id StreamID) (irq.IRQ, bool) {
	d, ok := descriptorFor(id)
	if !ok {
		return 0, false
	}
	return d.irq, true
}
