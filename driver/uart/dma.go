package uart

import (
	"fmt"

	"nucleo.dev/device/stm32f4"
	"nucleo.dev/driver/dma"
)

// SetTxCompleteHandler installs fn to run from interrupt context after
// each DMA transmission. TxBusy already reports false when fn runs.
func (u *UART) SetTxCompleteHandler(fn func()) {
	u.txDone = fn
}

// TxBusy reports whether a DMA transmission is in flight.
func (u *UART) TxBusy() bool {
	return u.txBusy.Load()
}

// WriteDMA starts transmitting p and returns without waiting. p is sent
// as is, without line ending conversion, and must not be modified until
// TxBusy reports false.
func (u *UART) WriteDMA(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	if len(p) > dma.MaxCount {
		return ErrLength
	}
	if !u.txStream {
		err := u.dma.Allocate(dma.StreamConfig{
			Stream:       u.hw.tx,
			Channel:      u.hw.channel,
			Direction:    dma.MemToPeriph,
			PeriphAddr:   u.hw.base + stm32f4.USART_DR,
			MemIncrement: true,
			Priority:     dma.PriorityMedium,
			OnComplete:   txComplete,
			Context:      u,
			IRQPriority:  dmaIRQPriority,
		})
		if err != nil {
			return fmt.Errorf("uart: %v tx stream: %w", u.conf.Instance, err)
		}
		u.txStream = true
	}
	if !u.txBusy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	u.reg(stm32f4.USART_CR3).SetBits(stm32f4.USART_CR3_DMAT)
	u.reg(stm32f4.USART_SR).ClearBits(stm32f4.USART_SR_TC)
	if err := u.dma.StartWithConfig(u.hw.tx, u.bus.Addr(p), len(p), true); err != nil {
		u.reg(stm32f4.USART_CR3).ClearBits(stm32f4.USART_CR3_DMAT)
		u.txBusy.Store(false)
		return err
	}
	return nil
}

func txComplete(_ dma.StreamID, ctx any) {
	u := ctx.(*UART)
	u.reg(stm32f4.USART_CR3).ClearBits(stm32f4.USART_CR3_DMAT)
	u.txBusy.Store(false)
	if u.txDone != nil {
		u.txDone()
	}
}

// StartRxDMA receives continuously into buf, used as a ring. Received
// bytes are passed to fn from interrupt context when the line goes idle
// and whenever the ring wraps; a wrapped span is passed as two calls. fn
// must consume the data before returning. Bytes are lost only when the
// stream laps the ring again before the wrap interrupt is serviced.
func (u *UART) StartRxDMA(buf []byte, fn func(data []byte)) error {
	if u.rxActive {
		return ErrRxActive
	}
	if len(buf) == 0 || len(buf) > dma.MaxCount {
		return ErrLength
	}
	if !u.rxStream {
		err := u.dma.Allocate(dma.StreamConfig{
			Stream:       u.hw.rx,
			Channel:      u.hw.channel,
			Direction:    dma.PeriphToMem,
			PeriphAddr:   u.hw.base + stm32f4.USART_DR,
			MemIncrement: true,
			Circular:     true,
			Priority:     dma.PriorityHigh,
			OnComplete:   rxWrapped,
			Context:      u,
			IRQPriority:  dmaIRQPriority,
		})
		if err != nil {
			return fmt.Errorf("uart: %v rx stream: %w", u.conf.Instance, err)
		}
		u.rxStream = true
	}
	u.rx = ring{buf: buf}
	u.onData = fn
	u.rxActive = true

	cr1 := u.reg(stm32f4.USART_CR1)
	cr1.ClearBits(stm32f4.USART_CR1_RXNEIE)
	// Drop stale flags and data.
	u.reg(stm32f4.USART_SR).Get()
	u.reg(stm32f4.USART_DR).Get()
	u.reg(stm32f4.USART_CR3).SetBits(stm32f4.USART_CR3_DMAR)
	if err := u.dma.Start(u.hw.rx, u.bus.Addr(buf), len(buf)); err != nil {
		u.StopRxDMA()
		return err
	}
	cr1.SetBits(stm32f4.USART_CR1_IDLEIE)
	return nil
}

// StopRxDMA stops DMA reception and returns to per-byte reception if a
// handler is installed. Bytes not yet delivered are dropped.
func (u *UART) StopRxDMA() {
	if !u.rxActive {
		return
	}
	cr1 := u.reg(stm32f4.USART_CR1)
	cr1.ClearBits(stm32f4.USART_CR1_IDLEIE)
	u.dma.Stop(u.hw.rx)
	u.reg(stm32f4.USART_CR3).ClearBits(stm32f4.USART_CR3_DMAR)
	u.rxActive = false
	u.onData = nil
	if u.onByte != nil {
		cr1.SetBits(stm32f4.USART_CR1_RXNEIE)
	}
}

// rxWrapped runs when the receive stream reaches the end of the ring and
// its counter reloads.
func rxWrapped(_ dma.StreamID, ctx any) {
	u := ctx.(*UART)
	if !u.rxActive {
		return
	}
	u.rx.wrap(u.head(), u.onData)
}

// deliver passes the bytes written by the receive stream since the last
// delivery.
func (u *UART) deliver() {
	if !u.rxActive {
		return
	}
	u.rx.advance(u.head(), u.onData)
}

// head returns the ring position the receive stream writes next.
func (u *UART) head() int {
	return len(u.rx.buf) - u.dma.Remaining(u.hw.rx)
}

// ring tracks the consumer side of a circular DMA buffer.
type ring struct {
	buf  []byte
	tail int
	// ahead is set when advance already passed the end of the current
	// lap, before the wrap was signalled.
	ahead bool
}

// advance passes the span from tail up to head, the producer position,
// and moves tail to head. A span crossing the end of the buffer is passed
// in two parts. Empty spans are not passed.
func (r *ring) advance(head int, fn func([]byte)) {
	size := len(r.buf)
	if head < 0 || head > size || head == r.tail {
		return
	}
	if head > r.tail {
		fn(r.buf[r.tail:head])
	} else {
		fn(r.buf[r.tail:])
		if head > 0 {
			fn(r.buf[:head])
		}
		r.ahead = true
	}
	r.tail = head
	if r.tail == size {
		r.tail = 0
		r.ahead = true
	}
}

// wrap handles the end of a lap: the rest of the lap from tail to the end
// of the buffer is passed, then anything written after the reload up to
// head. A full lap from tail 0 is passed whole.
func (r *ring) wrap(head int, fn func([]byte)) {
	if r.ahead {
		r.ahead = false
		r.advance(head, fn)
		r.ahead = false
		return
	}
	fn(r.buf[r.tail:])
	r.tail = 0
	r.advance(head, fn)
	r.ahead = false
}
