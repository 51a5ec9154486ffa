package f4sim

import (
	"nucleo.dev/device/stm32f4"
)

// StreamBase returns the register block address of stream i.
func StreamBase(i int) uint32 {
	ctrl := uint32(stm32f4.DMA1)
	if i >= 8 {
		ctrl = stm32f4.DMA2
	}
	return ctrl + stm32f4.DMA_S0 + stm32f4.DMA_SStride*uint32(i%8)
}

func statusReg(i int) (isr uint32, shift uint8) {
	ctrl := uint32(stm32f4.DMA1)
	if i >= 8 {
		ctrl = stm32f4.DMA2
	}
	isr = ctrl + stm32f4.DMA_LISR
	if i%8 >= 4 {
		isr = ctrl + stm32f4.DMA_HISR
	}
	return isr, stm32f4.DMAFlagBase[i%4]
}

func (d *Device) dma() {
	for _, ctrl := range []uint32{stm32f4.DMA1, stm32f4.DMA2} {
		for _, off := range [][2]uint32{{stm32f4.DMA_LIFCR, stm32f4.DMA_LISR}, {stm32f4.DMA_HIFCR, stm32f4.DMA_HISR}} {
			isr := ctrl + off[1]
			d.OnStore(ctrl+off[0], func(addr, old, v uint32) uint32 {
				d.Modify(isr, func(old uint32) uint32 { return old &^ v })
				return 0
			})
		}
	}
	for i := 0; i < Streams; i++ {
		i := i
		base := StreamBase(i)
		d.OnStore(base+stm32f4.DMA_SxCR, func(addr, old, v uint32) uint32 {
			if v&stm32f4.DMA_SxCR_EN != 0 && old&stm32f4.DMA_SxCR_EN == 0 {
				n := d.Peek(base + stm32f4.DMA_SxNDTR)
				d.mu.Lock()
				d.reload[i] = n
				d.mu.Unlock()
			}
			return v
		})
		d.OnStore(base+stm32f4.DMA_SxNDTR, func(addr, old, v uint32) uint32 {
			// NDTR is read-only while the stream is enabled.
			if d.Peek(base+stm32f4.DMA_SxCR)&stm32f4.DMA_SxCR_EN != 0 {
				return old
			}
			return v & stm32f4.DMA_SxNDTR_Msk
		})
	}
}

// StreamEnabled reports whether stream i is enabled.
func (d *Device) StreamEnabled(i int) bool {
	return d.Peek(StreamBase(i)+stm32f4.DMA_SxCR)&stm32f4.DMA_SxCR_EN != 0
}

// StreamFlags returns the status flags of stream i, shifted so that
// FEIF is bit 0.
func (d *Device) StreamFlags(i int) uint32 {
	isr, shift := statusReg(i)
	return d.Peek(isr) >> shift & 0x3d
}

func (d *Device) setFlags(i int, flags uint32) {
	isr, shift := statusReg(i)
	d.Modify(isr, func(old uint32) uint32 { return old | flags<<shift })
}

func (d *Device) direction(i int) uint32 {
	cr := d.Peek(StreamBase(i) + stm32f4.DMA_SxCR)
	return cr >> stm32f4.DMA_SxCR_DIR_Pos & stm32f4.DMA_SxCR_DIR_Msk
}

// findStream returns the enabled stream moving data between periph and
// memory in direction dir, or -1.
func (d *Device) findStream(periph uint32, dir uint32) int {
	for i := 0; i < Streams; i++ {
		base := StreamBase(i)
		if !d.StreamEnabled(i) || d.Peek(base+stm32f4.DMA_SxPAR) != periph {
			continue
		}
		if d.direction(i) == dir {
			return i
		}
	}
	return -1
}

// memAddr returns the memory address of the next item of stream i.
func (d *Device) memAddr(i int) uint32 {
	base := StreamBase(i)
	cr := d.Peek(base + stm32f4.DMA_SxCR)
	addr := d.Peek(base + stm32f4.DMA_SxM0AR)
	if cr&stm32f4.DMA_SxCR_MINC != 0 {
		d.mu.Lock()
		reload := d.reload[i]
		d.mu.Unlock()
		addr += reload - d.Peek(base+stm32f4.DMA_SxNDTR)
	}
	return addr
}

// advance counts one item moved by stream i and completes the stream
// when its counter reaches zero.
func (d *Device) advance(i int) {
	base := StreamBase(i)
	n := d.Modify(base+stm32f4.DMA_SxNDTR, func(old uint32) uint32 { return old - 1 })
	if n == 0 {
		d.CompleteStream(i)
	}
}

// push moves b from a peripheral into memory through stream i.
func (d *Device) push(i int, b byte) {
	d.WriteMem(d.memAddr(i), b)
	d.advance(i)
}

// pull moves one byte from memory towards a peripheral through stream i.
func (d *Device) pull(i int) byte {
	b := d.ReadMem(d.memAddr(i))
	d.advance(i)
	return b
}

// CompleteStream finishes the current transfer of stream i: the transfer
// complete flag is set, a circular stream reloads its counter, any other
// stream is disabled, and the stream interrupt is raised when enabled.
func (d *Device) CompleteStream(i int) {
	base := StreamBase(i)
	cr := d.Peek(base + stm32f4.DMA_SxCR)
	if cr&stm32f4.DMA_SxCR_CIRC != 0 {
		d.mu.Lock()
		reload := d.reload[i]
		d.mu.Unlock()
		d.Poke(base+stm32f4.DMA_SxNDTR, reload)
	} else {
		d.Poke(base+stm32f4.DMA_SxNDTR, 0)
		d.Poke(base+stm32f4.DMA_SxCR, cr&^stm32f4.DMA_SxCR_EN)
	}
	d.setFlags(i, 1<<stm32f4.DMA_TCIF_Off)
	if cr&stm32f4.DMA_SxCR_TCIE != 0 {
		d.Raise(streamIRQs[i])
	}
}

// FailStream reports a transfer error on stream i. The hardware disables
// the stream and raises its interrupt when TEIE is set.
func (d *Device) FailStream(i int) {
	base := StreamBase(i)
	cr := d.Peek(base + stm32f4.DMA_SxCR)
	d.Poke(base+stm32f4.DMA_SxCR, cr&^stm32f4.DMA_SxCR_EN)
	d.setFlags(i, 1<<stm32f4.DMA_TEIF_Off)
	if cr&stm32f4.DMA_SxCR_TEIE != 0 {
		d.Raise(streamIRQs[i])
	}
}

// SetStreamFlags latches status flags (FEIF at bit 0) for stream i and
// raises its interrupt without touching the transfer.
func (d *Device) SetStreamFlags(i int, flags uint32) {
	d.setFlags(i, flags)
	d.Raise(streamIRQs[i])
}
