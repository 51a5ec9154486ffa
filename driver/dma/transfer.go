package dma

import (
	"nucleo.dev/device/stm32f4"
	"nucleo.dev/driver/reg"
)

// owned returns the descriptor and state of an allocated stream.
func (c *Controller) owned(id StreamID) (*descriptor, *stream, error) {
	d, ok := descriptorFor(id)
	if !ok {
		return nil, nil, ErrInvalidStream
	}
	s := &c.streams[id]
	if !s.allocated {
		return nil, nil, ErrNotAllocated
	}
	return d, s, nil
}

func validCount(count int) bool {
	return count > 0 && count <= MaxCount
}

// SetMemoryIncrement changes whether the memory address advances after
// each item. The stream must be stopped.
func (c *Controller) SetMemoryIncrement(id StreamID, enabled bool) error {
	d, s, err := c.owned(id)
	if err != nil {
		return err
	}
	if enabled {
		s.cr |= stm32f4.DMA_SxCR_MINC
	} else {
		s.cr &^= stm32f4.DMA_SxCR_MINC
	}
	c.cr(d).Set(s.cr)
	return nil
}

// Start stops the stream if it is running and starts a transfer of count
// items at addr.
func (c *Controller) Start(id StreamID, addr uint32, count int) error {
	d, _, err := c.owned(id)
	if err != nil {
		return err
	}
	if !validCount(count) {
		return ErrInvalidCount
	}
	c.disable(d)
	c.clearFlags(d, d.all)
	reg.At(c.bus, d.regs+stm32f4.DMA_SxM0AR).Set(addr)
	c.ndtr(d).Set(uint32(count))
	c.cr(d).SetBits(stm32f4.DMA_SxCR_EN)
	return nil
}

// Stop disables the stream and clears its flags. No callback runs for the
// abandoned transfer.
func (c *Controller) Stop(id StreamID) error {
	d, _, err := c.owned(id)
	if err != nil {
		return err
	}
	c.disable(d)
	c.clearFlags(d, d.all)
	return nil
}

// StartWithConfig starts a transfer of count items at addr in as few
// register writes as possible, for transfers issued back to back. The
// stream must already be stopped: it either completed its previous
// transfer or was never started.
func (c *Controller) StartWithConfig(id StreamID, addr uint32, count int, memInc bool) error {
	d, s, err := c.owned(id)
	if err != nil {
		return err
	}
	if !validCount(count) {
		return ErrInvalidCount
	}
	if memInc {
		s.cr |= stm32f4.DMA_SxCR_MINC
	} else {
		s.cr &^= stm32f4.DMA_SxCR_MINC
	}
	c.clearFlags(d, d.all)
	cr := c.cr(d)
	cr.Set(s.cr)
	reg.At(c.bus, d.regs+stm32f4.DMA_SxM0AR).Set(addr)
	c.ndtr(d).Set(uint32(count))
	cr.Set(s.cr | stm32f4.DMA_SxCR_EN)
	return nil
}

// Busy reports whether the stream is enabled. A stream that completed a
// non-circular transfer is not busy.
func (c *Controller) Busy(id StreamID) bool {
	d, ok := descriptorFor(id)
	if !ok {
		return false
	}
	return c.cr(d).HasBits(stm32f4.DMA_SxCR_EN)
}

// Remaining returns the number of items left in the current transfer.
func (c *Controller) Remaining(id StreamID) int {
	d, ok := descriptorFor(id)
	if !ok {
		return 0
	}
	return int(c.ndtr(d).Get() & stm32f4.DMA_SxNDTR_Msk)
}

// HandleInterrupt services the interrupt of stream id. Error flags are
// cleared and reported before transfer completion; flags are cleared even
// when no callback is registered for them.
func (c *Controller) HandleInterrupt(id StreamID) {
	d, ok := descriptorFor(id)
	if !ok {
		return
	}
	s := &c.streams[id]
	status := reg.At(c.bus, d.isr).Get()
	if errs := status & (d.te | d.dme | d.fe); errs != 0 {
		c.clearFlags(d, errs)
		if s.onError != nil {
			s.onError(id, s.ctx)
		}
	}
	if status&d.tc != 0 {
		c.clearFlags(d, d.tc)
		if s.onComplete != nil {
			s.onComplete(id, s.ctx)
		}
	}
}

// StreamStatus describes one stream in a Snapshot.
type StreamStatus struct {
	Stream     StreamID `cbor:"1,keyasint"`
	Allocated  bool     `cbor:"2,keyasint"`
	Enabled    bool     `cbor:"3,keyasint"`
	Control    uint32   `cbor:"4,keyasint"`
	Remaining  int      `cbor:"5,keyasint"`
	OnComplete bool     `cbor:"6,keyasint,omitempty"`
	OnError    bool     `cbor:"7,keyasint,omitempty"`
}

// Snapshot lists the allocated streams.
type Snapshot struct {
	Streams []StreamStatus `cbor:"1,keyasint"`
}

// Snapshot reports the state of every allocated stream.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	var snap Snapshot
	for id := StreamID(0); id < StreamCount; id++ {
		s := &c.streams[id]
		if !s.allocated {
			continue
		}
		d := &descriptors[id]
		cr := c.cr(d).Get()
		snap.Streams = append(snap.Streams, StreamStatus{
			Stream:     id,
			Allocated:  true,
			Enabled:    cr&stm32f4.DMA_SxCR_EN != 0,
			Control:    cr,
			Remaining:  c.Remaining(id),
			OnComplete: s.onComplete != nil,
			OnError:    s.onError != nil,
		})
	}
	return snap
}
