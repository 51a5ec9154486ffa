// Package irq controls interrupt lines of the Cortex-M4 NVIC.
package irq

import (
	"nucleo.dev/device/stm32f4"
	"nucleo.dev/driver/reg"
)

// IRQ is an external interrupt number.
type IRQ uint8

// Controller enables, disables and prioritizes interrupt lines.
type Controller interface {
	Enable(n IRQ)
	Disable(n IRQ)
	// SetPriority sets the preemption priority of n. Lower values
	// preempt higher ones.
	SetPriority(n IRQ, prio uint8)
}

// MaxPriority is the numerically largest (least urgent) priority.
const MaxPriority = 1<<stm32f4.NVIC_PRIO_BITS - 1

// NVIC is the interrupt controller of the core.
type NVIC struct {
	bus reg.Bus
}

var _ Controller = (*NVIC)(nil)

func NewNVIC(b reg.Bus) *NVIC {
	return &NVIC{bus: b}
}

func word(base uint32, n IRQ) uint32 {
	return base + 4*(uint32(n)/32)
}

func bit(n IRQ) uint32 {
	return 1 << (uint32(n) % 32)
}

// Enable enables line n. The set-enable registers ignore zero bits, so no
// read-modify-write is needed.
func (c *NVIC) Enable(n IRQ) {
	reg.At(c.bus, word(stm32f4.NVIC_ISER, n)).Set(bit(n))
}

func (c *NVIC) Disable(n IRQ) {
	reg.At(c.bus, word(stm32f4.NVIC_ICER, n)).Set(bit(n))
}

// Enabled reports whether line n is enabled.
func (c *NVIC) Enabled(n IRQ) bool {
	return reg.At(c.bus, word(stm32f4.NVIC_ISER, n)).HasBits(bit(n))
}

// Pending reports whether line n is pending.
func (c *NVIC) Pending(n IRQ) bool {
	return reg.At(c.bus, word(stm32f4.NVIC_ISPR, n)).HasBits(bit(n))
}

// SetPriority clamps prio to MaxPriority.
func (c *NVIC) SetPriority(n IRQ, prio uint8) {
	if prio > MaxPriority {
		prio = MaxPriority
	}
	r := reg.At(c.bus, stm32f4.NVIC_IPR+uint32(n)&^3)
	r.ReplaceBits(uint32(prio)<<(8-stm32f4.NVIC_PRIO_BITS), 0xff, uint8(n%4)*8)
}

// Priority returns the priority of line n.
func (c *NVIC) Priority(n IRQ) uint8 {
	v := reg.At(c.bus, stm32f4.NVIC_IPR+uint32(n)&^3).Get()
	return uint8(v>>(uint32(n%4)*8)) >> (8 - stm32f4.NVIC_PRIO_BITS)
}
