package spi

import (
	"context"
	"fmt"
	"runtime"

	"nucleo.dev/device/stm32f4"
	"nucleo.dev/driver/dma"
	"nucleo.dev/internal/diag"
)

// allocateStreams claims the receive and transmit streams of the device.
// Only the receive stream signals completion: in a full-duplex master
// transfer of equal lengths the last byte is shifted out before it is
// shifted in.
func (d *Device) allocateStreams() error {
	m := streamTable[d.conf.Instance]
	dr := d.hw.base + stm32f4.SPI_DR
	err := d.drv.dma.Allocate(dma.StreamConfig{
		Stream:       m.rx,
		Channel:      m.rxChan,
		Direction:    dma.PeriphToMem,
		PeriphAddr:   dr,
		MemIncrement: true,
		Priority:     dma.PriorityHigh,
		OnComplete:   rxComplete,
		OnError:      transferError,
		Context:      d,
		IRQPriority:  dmaIRQPriority,
	})
	if err != nil {
		return fmt.Errorf("spi: %v rx stream %v: %w", d.conf.Instance, m.rx, err)
	}
	err = d.drv.dma.Allocate(dma.StreamConfig{
		Stream:       m.tx,
		Channel:      m.txChan,
		Direction:    dma.MemToPeriph,
		PeriphAddr:   dr,
		MemIncrement: true,
		Priority:     dma.PriorityHigh,
		OnError:      transferError,
		Context:      d,
		IRQPriority:  dmaIRQPriority,
	})
	if err != nil {
		d.drv.dma.Release(m.rx)
		return fmt.Errorf("spi: %v tx stream %v: %w", d.conf.Instance, m.tx, err)
	}
	d.streams = true
	return nil
}

// TransferDMA starts a full-duplex transfer and returns without waiting.
// A nil tx shifts out 0xff; a nil rx discards the received bytes. The
// buffers must not be touched until Busy reports false.
func (d *Device) TransferDMA(tx, rx []byte) error {
	if d.closed {
		return ErrClosed
	}
	n, err := transferLen(tx, rx)
	if err != nil {
		return err
	}
	if n > dma.MaxCount {
		return ErrLength
	}
	if !d.streams {
		if err := d.allocateStreams(); err != nil {
			return err
		}
	}
	if !d.drv.active[d.conf.Instance].CompareAndSwap(nil, d) {
		return ErrBusy
	}
	d.err = nil
	m := streamTable[d.conf.Instance]
	bus := d.drv.bus

	rxBuf, rxInc := rx, true
	if rx == nil {
		rxBuf, rxInc = d.drv.rxDummy, false
	}
	txBuf, txInc := tx, true
	if tx == nil {
		txBuf, txInc = d.drv.txDummy, false
	}
	d.reg(stm32f4.SPI_CR2).SetBits(stm32f4.SPI_CR2_RXDMAEN | stm32f4.SPI_CR2_TXDMAEN)
	d.reg(stm32f4.SPI_CR1).SetBits(stm32f4.SPI_CR1_SPE)
	// Arm reception first so no incoming byte is missed.
	if err := d.drv.dma.StartWithConfig(m.rx, bus.Addr(rxBuf), n, rxInc); err != nil {
		d.finish(err)
		return err
	}
	if err := d.drv.dma.StartWithConfig(m.tx, bus.Addr(txBuf), n, txInc); err != nil {
		d.drv.dma.Stop(m.rx)
		d.finish(err)
		return err
	}
	return nil
}

// Busy reports whether a DMA transfer is in flight.
func (d *Device) Busy() bool {
	return d.drv.active[d.conf.Instance].Load() == d
}

// Err returns the error of the last completed DMA transfer.
func (d *Device) Err() error {
	if d.Busy() {
		return nil
	}
	return d.err
}

// TransferDMABlocking runs a DMA transfer and yields until it completes
// or ctx is done. Cancellation stops both streams.
func (d *Device) TransferDMABlocking(ctx context.Context, tx, rx []byte) error {
	if err := d.TransferDMA(tx, rx); err != nil {
		return err
	}
	for d.Busy() {
		if err := ctx.Err(); err != nil {
			d.abort(err)
			break
		}
		runtime.Gosched()
	}
	return d.err
}

// abort stops both streams and ends the transfer with err.
func (d *Device) abort(err error) {
	m := streamTable[d.conf.Instance]
	d.drv.dma.Stop(m.rx)
	d.drv.dma.Stop(m.tx)
	d.finish(err)
}

// finish tears down a DMA transfer and frees the slot. The slot is
// cleared last; it publishes err.
func (d *Device) finish(err error) {
	d.reg(stm32f4.SPI_CR2).ClearBits(stm32f4.SPI_CR2_RXDMAEN | stm32f4.SPI_CR2_TXDMAEN)
	sr := d.reg(stm32f4.SPI_SR)
	for sr.HasBits(stm32f4.SPI_SR_BSY) {
	}
	d.reg(stm32f4.SPI_CR1).ClearBits(stm32f4.SPI_CR1_SPE)
	if d.Busy() {
		d.err = err
	}
	d.drv.active[d.conf.Instance].CompareAndSwap(d, nil)
}

func rxComplete(_ dma.StreamID, ctx any) {
	d := ctx.(*Device)
	if !d.Busy() {
		return
	}
	tx := streamTable[d.conf.Instance].tx
	if d.drv.dma.Busy(tx) {
		diag.Warn(diag.SPI, "rx complete before tx", "instance", d.conf.Instance, "remaining", d.drv.dma.Remaining(tx))
		d.drv.dma.Stop(tx)
	}
	d.finish(nil)
}

func transferError(id dma.StreamID, ctx any) {
	d := ctx.(*Device)
	if !d.Busy() {
		return
	}
	d.abort(fmt.Errorf("%w on %v", ErrTransfer, id))
}
