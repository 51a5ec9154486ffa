// Package reg provides access to memory-mapped peripheral registers
// through a [Bus], so drivers run unchanged against the hardware and
// against a simulated register file.
package reg

// Bus is the register capability the drivers are built on.
type Bus interface {
	// Load reads the 32-bit register at addr.
	Load(addr uint32) uint32
	// Store writes v to the 32-bit register at addr.
	Store(addr uint32, v uint32)
	// Addr returns the address at which a DMA controller
	// reaches the first byte of buf. The caller must keep buf
	// alive for the duration of any transfer using the address.
	Addr(buf []byte) uint32
}

// Reg is a single register on a bus. Its methods mirror those of
// TinyGo's volatile.Register32.
type Reg struct {
	bus  Bus
	addr uint32
}

// At returns the register at addr on b.
func At(b Bus, addr uint32) Reg {
	return Reg{bus: b, addr: addr}
}

func (r Reg) Addr() uint32 {
	return r.addr
}

func (r Reg) Get() uint32 {
	return r.bus.Load(r.addr)
}

func (r Reg) Set(v uint32) {
	r.bus.Store(r.addr, v)
}

// SetBits reads the register, sets the bits in mask and writes
// it back.
func (r Reg) SetBits(mask uint32) {
	r.Set(r.Get() | mask)
}

// ClearBits reads the register, clears the bits in mask and writes
// it back.
func (r Reg) ClearBits(mask uint32) {
	r.Set(r.Get() &^ mask)
}

// HasBits reports whether any bit of mask is set.
func (r Reg) HasBits(mask uint32) bool {
	return r.Get()&mask != 0
}

// ReplaceBits replaces the field mask<<pos with value<<pos in a single
// read-modify-write.
func (r Reg) ReplaceBits(value, mask uint32, pos uint8) {
	r.Set(r.Get()&^(mask<<pos) | (value&mask)<<pos)
}
