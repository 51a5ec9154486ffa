package f4sim

import (
	"nucleo.dev/device/stm32f4"
)

const (
	dirPeriphToMem = 0
	dirMemToPeriph = 1
)

func (d *Device) spi(base uint32) {
	st := new(spiState)
	d.spis[base] = st
	d.Poke(base+stm32f4.SPI_SR, stm32f4.SPI_SR_TXE)
	d.OnStore(base+stm32f4.SPI_DR, func(addr, old, v uint32) uint32 {
		if d.Peek(base+stm32f4.SPI_CR1)&stm32f4.SPI_CR1_SPE == 0 {
			return old
		}
		rx := d.exchange(base, byte(v))
		d.mu.Lock()
		st.rx = rx
		d.mu.Unlock()
		d.Modify(base+stm32f4.SPI_SR, func(old uint32) uint32 { return old | stm32f4.SPI_SR_RXNE })
		return v
	})
	d.OnLoad(base+stm32f4.SPI_DR, func(addr, v uint32) uint32 {
		d.Modify(base+stm32f4.SPI_SR, func(old uint32) uint32 { return old &^ stm32f4.SPI_SR_RXNE })
		d.mu.Lock()
		defer d.mu.Unlock()
		return uint32(st.rx)
	})
}

func (d *Device) exchange(base uint32, out byte) byte {
	if d.Peer == nil {
		return out
	}
	return d.Peer(base, out)
}

// stepSPI runs a DMA exchange on the SPI at base once its transmit
// stream is armed. The transmit stream drains first, so it completes
// before the receive stream that follows it byte for byte.
func (d *Device) stepSPI(base uint32) {
	cr1 := d.Peek(base + stm32f4.SPI_CR1)
	cr2 := d.Peek(base + stm32f4.SPI_CR2)
	if cr1&stm32f4.SPI_CR1_SPE == 0 || cr2&stm32f4.SPI_CR2_TXDMAEN == 0 {
		return
	}
	dr := base + stm32f4.SPI_DR
	tx := d.findStream(dr, dirMemToPeriph)
	if tx == -1 {
		return
	}
	rx := -1
	if cr2&stm32f4.SPI_CR2_RXDMAEN != 0 {
		rx = d.findStream(dr, dirPeriphToMem)
	}
	for d.StreamEnabled(tx) {
		in := d.exchange(base, d.pull(tx))
		if rx != -1 && d.StreamEnabled(rx) {
			d.push(rx, in)
		}
	}
}

func (d *Device) usart(base uint32) {
	st := new(usartState)
	d.usarts[base] = st
	d.Poke(base+stm32f4.USART_SR, stm32f4.USART_SR_TXE|stm32f4.USART_SR_TC)
	d.OnStore(base+stm32f4.USART_DR, func(addr, old, v uint32) uint32 {
		cr1 := d.Peek(base + stm32f4.USART_CR1)
		if cr1&stm32f4.USART_CR1_UE != 0 && cr1&stm32f4.USART_CR1_TE != 0 {
			d.mu.Lock()
			st.out = append(st.out, byte(v))
			d.mu.Unlock()
		}
		return v
	})
	// Reading DR after SR clears RXNE, IDLE and the error flags.
	d.OnLoad(base+stm32f4.USART_DR, func(addr, v uint32) uint32 {
		d.mu.Lock()
		if len(st.rx) > 0 {
			v = uint32(st.rx[0])
			st.rx = st.rx[1:]
		}
		empty := len(st.rx) == 0
		d.mu.Unlock()
		d.Modify(base+stm32f4.USART_SR, func(old uint32) uint32 {
			old &^= stm32f4.USART_SR_IDLE | stm32f4.USART_SR_ORE | stm32f4.USART_SR_FE | stm32f4.USART_SR_NF
			if empty {
				old &^= stm32f4.USART_SR_RXNE
			}
			return old
		})
		return v
	})
}

func (d *Device) usartIRQ(base uint32) int {
	switch base {
	case stm32f4.USART1:
		return stm32f4.IRQ_USART1
	case stm32f4.USART2:
		return stm32f4.IRQ_USART2
	default:
		return stm32f4.IRQ_USART6
	}
}

func (d *Device) stepUSART(base uint32) {
	if d.Peek(base+stm32f4.USART_CR3)&stm32f4.USART_CR3_DMAT == 0 {
		return
	}
	tx := d.findStream(base+stm32f4.USART_DR, dirMemToPeriph)
	if tx == -1 {
		return
	}
	st := d.usarts[base]
	for d.StreamEnabled(tx) {
		b := d.pull(tx)
		d.mu.Lock()
		st.out = append(st.out, b)
		d.mu.Unlock()
	}
}

// Receive delivers data to the USART at base as if it arrived on the RX
// pin. With DMA reception enabled the bytes go to the receive stream;
// otherwise each byte sets RXNE and raises the USART interrupt when
// RXNEIE is set.
func (d *Device) Receive(base uint32, data []byte) {
	st := d.usarts[base]
	if d.Peek(base+stm32f4.USART_CR3)&stm32f4.USART_CR3_DMAR != 0 {
		if rx := d.findStream(base+stm32f4.USART_DR, dirPeriphToMem); rx != -1 {
			for _, b := range data {
				if !d.StreamEnabled(rx) {
					break
				}
				d.push(rx, b)
			}
			return
		}
	}
	for _, b := range data {
		d.mu.Lock()
		st.rx = append(st.rx, b)
		d.mu.Unlock()
		d.Modify(base+stm32f4.USART_SR, func(old uint32) uint32 { return old | stm32f4.USART_SR_RXNE })
		if d.Peek(base+stm32f4.USART_CR1)&stm32f4.USART_CR1_RXNEIE != 0 {
			d.Raise(d.usartIRQ(base))
		}
	}
}

// Idle signals an idle line on the USART at base.
func (d *Device) Idle(base uint32) {
	d.Modify(base+stm32f4.USART_SR, func(old uint32) uint32 { return old | stm32f4.USART_SR_IDLE })
	if d.Peek(base+stm32f4.USART_CR1)&stm32f4.USART_CR1_IDLEIE != 0 {
		d.Raise(d.usartIRQ(base))
	}
}

// LineError latches USART status error bits (ORE, FE, NF) and raises the
// USART interrupt when reception or error interrupts are enabled.
func (d *Device) LineError(base uint32, flags uint32) {
	d.Modify(base+stm32f4.USART_SR, func(old uint32) uint32 { return old | flags })
	cr1 := d.Peek(base + stm32f4.USART_CR1)
	cr3 := d.Peek(base + stm32f4.USART_CR3)
	if cr1&(stm32f4.USART_CR1_RXNEIE|stm32f4.USART_CR1_IDLEIE) != 0 || cr3&stm32f4.USART_CR3_EIE != 0 {
		d.Raise(d.usartIRQ(base))
	}
}

// Output returns and forgets the bytes transmitted by the USART at base.
func (d *Device) Output(base uint32) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := d.usarts[base]
	out := st.out
	st.out = nil
	return out
}

func (d *Device) gpio(port uint32) {
	odr := port + stm32f4.GPIO_ODR
	d.OnStore(port+stm32f4.GPIO_BSRR, func(addr, old, v uint32) uint32 {
		d.Modify(odr, func(old uint32) uint32 { return old&^(v>>16) | v&0xffff })
		return 0
	})
	d.OnLoad(port+stm32f4.GPIO_IDR, func(addr, v uint32) uint32 {
		return d.Peek(odr)
	})
}
