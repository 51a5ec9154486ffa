package reg

import (
	"sort"
	"sync"
	"unsafe"
)

// StoreHook is called when a simulated register is written. It receives
// the previously latched value and the written value and returns the value
// to latch.
type StoreHook func(addr, old, v uint32) uint32

// LoadHook is called when a simulated register is read. It receives the
// latched value and returns the value seen by the reader.
type LoadHook func(addr, v uint32) uint32

// Sim is a simulated register file. Registers read as zero until written.
// Buffers handed to Addr are mapped into a simulated SRAM region so a
// simulated DMA engine can reach them through ReadMem and WriteMem.
//
// Hooks run without the Sim lock held and may call Peek and Poke.
type Sim struct {
	mu     sync.Mutex
	regs   map[uint32]uint32
	stores map[uint32]StoreHook
	loads  map[uint32]LoadHook
	mem    []region
	next   uint32
}

type region struct {
	base uint32
	buf  []byte
}

// SimSRAM is the first address assigned to buffers mapped by Addr.
const SimSRAM = 0x2000_0000

// NewSim returns an empty register file.
func NewSim() *Sim {
	return &Sim{
		regs:   make(map[uint32]uint32),
		stores: make(map[uint32]StoreHook),
		loads:  make(map[uint32]LoadHook),
		next:   SimSRAM,
	}
}

// OnStore installs h for writes to addr, replacing any previous hook.
func (s *Sim) OnStore(addr uint32, h StoreHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stores[addr] = h
}

// OnLoad installs h for reads of addr, replacing any previous hook.
func (s *Sim) OnLoad(addr uint32, h LoadHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads[addr] = h
}

func (s *Sim) Load(addr uint32) uint32 {
	s.mu.Lock()
	v := s.regs[addr]
	h := s.loads[addr]
	s.mu.Unlock()
	if h != nil {
		v = h(addr, v)
	}
	return v
}

func (s *Sim) Store(addr uint32, v uint32) {
	s.mu.Lock()
	old := s.regs[addr]
	h := s.stores[addr]
	s.mu.Unlock()
	if h != nil {
		v = h(addr, old, v)
	}
	s.Poke(addr, v)
}

// Peek returns the latched value of addr, bypassing hooks.
func (s *Sim) Peek(addr uint32) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.regs[addr]
}

// Poke latches v at addr, bypassing hooks.
func (s *Sim) Poke(addr uint32, v uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regs[addr] = v
}

// Modify atomically replaces the latched value of addr with f(old),
// bypassing hooks, and returns the new value.
func (s *Sim) Modify(addr uint32, f func(old uint32) uint32) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := f(s.regs[addr])
	s.regs[addr] = v
	return v
}

// Addr maps buf into simulated SRAM and returns its address. Slices of
// an already mapped array resolve to addresses inside its region.
func (s *Sim) Addr(buf []byte) uint32 {
	if cap(buf) == 0 {
		return 0
	}
	p := uintptr(unsafe.Pointer(unsafe.SliceData(buf)))
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.mem {
		start := uintptr(unsafe.Pointer(unsafe.SliceData(r.buf)))
		if p >= start && p < start+uintptr(len(r.buf)) {
			return r.base + uint32(p-start)
		}
	}
	full := buf[:cap(buf)]
	base := s.next
	s.mem = append(s.mem, region{base: base, buf: full})
	// Guard gap between regions.
	s.next = (base + uint32(len(full)) + 0x100) &^ 0xf
	return base
}

func (s *Sim) lookup(addr uint32) (region, bool) {
	i := sort.Search(len(s.mem), func(i int) bool {
		return s.mem[i].base+uint32(len(s.mem[i].buf)) > addr
	})
	if i == len(s.mem) || addr < s.mem[i].base {
		return region{}, false
	}
	return s.mem[i], true
}

// ReadMem reads the byte at a mapped SRAM address. Unmapped addresses
// read as zero.
func (s *Sim) ReadMem(addr uint32) byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.lookup(addr)
	if !ok {
		return 0
	}
	return r.buf[addr-r.base]
}

// WriteMem writes b to a mapped SRAM address and reports whether the
// address was mapped.
func (s *Sim) WriteMem(addr uint32, b byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.lookup(addr)
	if !ok {
		return false
	}
	r.buf[addr-r.base] = b
	return true
}
