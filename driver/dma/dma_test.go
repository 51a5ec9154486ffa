package dma

import (
	"errors"
	"sync"
	"testing"

	"nucleo.dev/device/stm32f4"
	"nucleo.dev/driver/irq"
	"nucleo.dev/internal/f4sim"
)

func newController() (*f4sim.Device, *Controller) {
	dev := f4sim.New()
	c := New(dev, irq.NewNVIC(dev))
	for id := StreamID(0); id < StreamCount; id++ {
		n, _ := IRQ(id)
		dev.Attach(int(n), func() { c.HandleInterrupt(id) })
	}
	return dev, c
}

func streamReg(id StreamID, off uint32) uint32 {
	return f4sim.StreamBase(int(id)) + off
}

func TestDescriptors(t *testing.T) {
	tests := []struct {
		id   StreamID
		regs uint32
		isr  uint32
		tc   uint32
		irq  irq.IRQ
	}{
		{Stream1_0, stm32f4.DMA1 + 0x10, stm32f4.DMA1 + stm32f4.DMA_LISR, 1 << 5, stm32f4.IRQ_DMA1_Stream0},
		{Stream1_3, stm32f4.DMA1 + 0x58, stm32f4.DMA1 + stm32f4.DMA_LISR, 1 << 27, stm32f4.IRQ_DMA1_Stream3},
		{Stream1_5, stm32f4.DMA1 + 0x88, stm32f4.DMA1 + stm32f4.DMA_HISR, 1 << 11, stm32f4.IRQ_DMA1_Stream5},
		{Stream1_7, stm32f4.DMA1 + 0xb8, stm32f4.DMA1 + stm32f4.DMA_HISR, 1 << 27, stm32f4.IRQ_DMA1_Stream7},
		{Stream2_2, stm32f4.DMA2 + 0x40, stm32f4.DMA2 + stm32f4.DMA_LISR, 1 << 21, stm32f4.IRQ_DMA2_Stream2},
		{Stream2_6, stm32f4.DMA2 + 0xa0, stm32f4.DMA2 + stm32f4.DMA_HISR, 1 << 21, stm32f4.IRQ_DMA2_Stream6},
	}
	for _, test := range tests {
		d, ok := descriptorFor(test.id)
		if !ok {
			t.Fatalf("no descriptor for %v", test.id)
		}
		if d.regs != test.regs || d.isr != test.isr || d.tc != test.tc || d.irq != test.irq {
			t.Errorf("%v: descriptor %+v, want regs %#x isr %#x tc %#x irq %d",
				test.id, *d, test.regs, test.isr, test.tc, test.irq)
		}
		if d.ifcr != d.isr+8 {
			t.Errorf("%v: IFCR %#x does not pair with ISR %#x", test.id, d.ifcr, d.isr)
		}
		if want := d.tc>>5*0x3d; d.all != want {
			t.Errorf("%v: clear mask %#x, want %#x", test.id, d.all, want)
		}
	}
	if _, ok := descriptorFor(StreamCount); ok {
		t.Errorf("descriptor for out of range stream")
	}
}

func TestAllocate(t *testing.T) {
	dev, c := newController()
	cfg := StreamConfig{
		Stream:       Stream1_5,
		Channel:      4,
		Direction:    PeriphToMem,
		PeriphAddr:   stm32f4.USART2 + stm32f4.USART_DR,
		MemIncrement: true,
		Circular:     true,
		Priority:     PriorityHigh,
		OnComplete:   func(StreamID, any) {},
		IRQPriority:  1,
	}
	if err := c.Allocate(cfg); err != nil {
		t.Fatal(err)
	}
	want := uint32(4<<25 | 2<<16 | stm32f4.DMA_SxCR_MINC | stm32f4.DMA_SxCR_CIRC | stm32f4.DMA_SxCR_TCIE)
	if got := dev.Peek(streamReg(Stream1_5, stm32f4.DMA_SxCR)); got != want {
		t.Errorf("CR = %#x, want %#x", got, want)
	}
	if got := dev.Peek(streamReg(Stream1_5, stm32f4.DMA_SxPAR)); got != cfg.PeriphAddr {
		t.Errorf("PAR = %#x, want %#x", got, cfg.PeriphAddr)
	}
	if dev.Peek(stm32f4.RCC+stm32f4.RCC_AHB1ENR)&stm32f4.RCC_AHB1ENR_DMA1EN == 0 {
		t.Errorf("DMA1 clock not enabled")
	}
	if !dev.Enabled(stm32f4.IRQ_DMA1_Stream5) {
		t.Errorf("stream interrupt not enabled")
	}
	if p := irq.NewNVIC(dev).Priority(stm32f4.IRQ_DMA1_Stream5); p != 1 {
		t.Errorf("stream interrupt priority %d, want 1", p)
	}
	if !c.Allocated(Stream1_5) || c.Allocated(Stream1_6) {
		t.Errorf("Allocated mismatch")
	}
}

func TestAllocateErrorCallbacks(t *testing.T) {
	dev, c := newController()
	err := c.Allocate(StreamConfig{
		Stream:  Stream2_3,
		Channel: 3,
		OnError: func(StreamID, any) {},
	})
	if err != nil {
		t.Fatal(err)
	}
	cr := dev.Peek(streamReg(Stream2_3, stm32f4.DMA_SxCR))
	if cr&(stm32f4.DMA_SxCR_TEIE|stm32f4.DMA_SxCR_DMEIE) != stm32f4.DMA_SxCR_TEIE|stm32f4.DMA_SxCR_DMEIE {
		t.Errorf("CR = %#x lacks error interrupt enables", cr)
	}
	if cr&stm32f4.DMA_SxCR_TCIE != 0 {
		t.Errorf("CR = %#x enables transfer complete without a callback", cr)
	}
}

func TestAllocateValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  StreamConfig
		err  error
	}{
		{"stream", StreamConfig{Stream: StreamCount}, ErrInvalidStream},
		{"channel", StreamConfig{Stream: Stream1_0, Channel: 8}, ErrInvalidChannel},
		{"direction", StreamConfig{Stream: Stream1_0, Direction: MemToMem + 1}, ErrInvalidConfig},
		{"priority", StreamConfig{Stream: Stream1_0, Priority: PriorityVeryHigh + 1}, ErrInvalidConfig},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			dev, c := newController()
			if err := c.Allocate(test.cfg); !errors.Is(err, test.err) {
				t.Fatalf("Allocate = %v, want %v", err, test.err)
			}
			if v := dev.Peek(stm32f4.RCC + stm32f4.RCC_AHB1ENR); v != 0 {
				t.Errorf("rejected allocation touched AHB1ENR: %#x", v)
			}
			if c.Allocated(Stream1_0) {
				t.Errorf("rejected allocation took ownership")
			}
		})
	}
}

func TestAllocateTwice(t *testing.T) {
	dev, c := newController()
	var first, second int
	cfg := StreamConfig{
		Stream:     Stream2_0,
		Channel:    3,
		PeriphAddr: stm32f4.SPI1 + stm32f4.SPI_DR,
		OnComplete: func(StreamID, any) { first++ },
		Context:    "first",
	}
	if err := c.Allocate(cfg); err != nil {
		t.Fatal(err)
	}
	cr := dev.Peek(streamReg(Stream2_0, stm32f4.DMA_SxCR))
	err := c.Allocate(StreamConfig{
		Stream:     Stream2_0,
		Channel:    4,
		PeriphAddr: stm32f4.SPI4 + stm32f4.SPI_DR,
		Circular:   true,
		OnComplete: func(StreamID, any) { second++ },
	})
	if !errors.Is(err, ErrStreamInUse) {
		t.Fatalf("second Allocate = %v, want ErrStreamInUse", err)
	}
	if got := dev.Peek(streamReg(Stream2_0, stm32f4.DMA_SxCR)); got != cr {
		t.Errorf("CR changed from %#x to %#x", cr, got)
	}
	if got := dev.Peek(streamReg(Stream2_0, stm32f4.DMA_SxPAR)); got != cfg.PeriphAddr {
		t.Errorf("PAR changed to %#x", got)
	}
	dev.CompleteStream(int(Stream2_0))
	if first != 1 || second != 0 {
		t.Errorf("callbacks ran first %d, second %d times; want 1, 0", first, second)
	}
}

func TestReleaseReallocate(t *testing.T) {
	dev, c := newController()
	err := c.Allocate(StreamConfig{
		Stream:       Stream1_4,
		Channel:      7,
		Direction:    MemToPeriph,
		MemIncrement: true,
		Circular:     true,
		Priority:     PriorityVeryHigh,
		OnComplete:   func(StreamID, any) {},
		OnError:      func(StreamID, any) {},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Release(Stream1_4); err != nil {
		t.Fatal(err)
	}
	if dev.Enabled(stm32f4.IRQ_DMA1_Stream4) {
		t.Errorf("stream interrupt enabled after release")
	}
	if err := c.Allocate(StreamConfig{Stream: Stream1_4, Channel: 1}); err != nil {
		t.Fatalf("reallocation failed: %v", err)
	}
	if got, want := dev.Peek(streamReg(Stream1_4, stm32f4.DMA_SxCR)), uint32(1<<25); got != want {
		t.Errorf("CR = %#x after reallocation, want %#x", got, want)
	}
	// Releasing twice is harmless.
	if err := c.Release(Stream1_4); err != nil {
		t.Fatal(err)
	}
	if err := c.Release(Stream1_4); err != nil {
		t.Errorf("second Release = %v", err)
	}
}

func TestStartStopRelease(t *testing.T) {
	dev, c := newController()
	completions := 0
	err := c.Allocate(StreamConfig{
		Stream:       Stream2_7,
		Channel:      4,
		Direction:    MemToPeriph,
		PeriphAddr:   stm32f4.USART1 + stm32f4.USART_DR,
		MemIncrement: true,
		OnComplete:   func(StreamID, any) { completions++ },
	})
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 100)
	addr := dev.Addr(buf)
	if err := c.Start(Stream2_7, addr, len(buf)); err != nil {
		t.Fatal(err)
	}
	if got := dev.Peek(streamReg(Stream2_7, stm32f4.DMA_SxM0AR)); got != addr {
		t.Errorf("M0AR = %#x, want %#x", got, addr)
	}
	if got := c.Remaining(Stream2_7); got != 100 {
		t.Errorf("Remaining = %d, want 100", got)
	}
	if !c.Busy(Stream2_7) {
		t.Fatalf("stream not busy after Start")
	}
	if err := c.Stop(Stream2_7); err != nil {
		t.Fatal(err)
	}
	if c.Busy(Stream2_7) {
		t.Errorf("stream busy after Stop")
	}
	if completions != 0 {
		t.Errorf("Stop ran the completion callback")
	}
	if err := c.Release(Stream2_7); err != nil {
		t.Fatal(err)
	}
	if dev.Enabled(stm32f4.IRQ_DMA2_Stream7) {
		t.Errorf("stream interrupt enabled after release")
	}
	if err := c.Start(Stream2_7, addr, 1); !errors.Is(err, ErrNotAllocated) {
		t.Errorf("Start after release = %v, want ErrNotAllocated", err)
	}
}

func TestStartRestartsRunningStream(t *testing.T) {
	dev, c := newController()
	if err := c.Allocate(StreamConfig{Stream: Stream1_6, Channel: 4, Direction: MemToPeriph}); err != nil {
		t.Fatal(err)
	}
	if err := c.Start(Stream1_6, 0x2000_0000, 10); err != nil {
		t.Fatal(err)
	}
	dev.SetStreamFlags(int(Stream1_6), 1<<stm32f4.DMA_HTIF_Off)
	if err := c.Start(Stream1_6, 0x2000_0100, 20); err != nil {
		t.Fatal(err)
	}
	if got := c.Remaining(Stream1_6); got != 20 {
		t.Errorf("Remaining = %d after restart, want 20", got)
	}
	if f := dev.StreamFlags(int(Stream1_6)); f != 0 {
		t.Errorf("flags %#x survived restart", f)
	}
}

func TestStartWithConfig(t *testing.T) {
	dev, c := newController()
	var got []StreamID
	err := c.Allocate(StreamConfig{
		Stream:       Stream2_3,
		Channel:      3,
		MemIncrement: true,
		OnComplete:   func(id StreamID, ctx any) { got = append(got, id) },
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.StartWithConfig(Stream2_3, 0x2000_0000, 64, false); err != nil {
		t.Fatal(err)
	}
	if !c.Busy(Stream2_3) {
		t.Fatalf("stream not busy after StartWithConfig")
	}
	cr := dev.Peek(streamReg(Stream2_3, stm32f4.DMA_SxCR))
	if cr&stm32f4.DMA_SxCR_MINC != 0 {
		t.Errorf("CR = %#x keeps memory increment", cr)
	}
	if !c.Busy(Stream2_3) || len(got) != 0 {
		t.Errorf("stream completed without a completion event")
	}
	dev.CompleteStream(int(Stream2_3))
	if c.Busy(Stream2_3) {
		t.Errorf("stream busy after completion")
	}
	if len(got) != 1 || got[0] != Stream2_3 {
		t.Errorf("completion callbacks %v", got)
	}
	if f := dev.StreamFlags(int(Stream2_3)); f != 0 {
		t.Errorf("flags %#x left set after dispatch", f)
	}
	// Back to back with increment restored.
	if err := c.StartWithConfig(Stream2_3, 0x2000_0000, 1, true); err != nil {
		t.Fatal(err)
	}
	if dev.Peek(streamReg(Stream2_3, stm32f4.DMA_SxCR))&stm32f4.DMA_SxCR_MINC == 0 {
		t.Errorf("memory increment not restored")
	}
}

func TestSetMemoryIncrement(t *testing.T) {
	dev, c := newController()
	if err := c.SetMemoryIncrement(Stream1_1, true); !errors.Is(err, ErrNotAllocated) {
		t.Errorf("SetMemoryIncrement on a free stream = %v", err)
	}
	if err := c.Allocate(StreamConfig{Stream: Stream1_1}); err != nil {
		t.Fatal(err)
	}
	if err := c.SetMemoryIncrement(Stream1_1, true); err != nil {
		t.Fatal(err)
	}
	if dev.Peek(streamReg(Stream1_1, stm32f4.DMA_SxCR))&stm32f4.DMA_SxCR_MINC == 0 {
		t.Errorf("MINC not set")
	}
	if err := c.SetMemoryIncrement(Stream1_1, false); err != nil {
		t.Fatal(err)
	}
	if dev.Peek(streamReg(Stream1_1, stm32f4.DMA_SxCR))&stm32f4.DMA_SxCR_MINC != 0 {
		t.Errorf("MINC not cleared")
	}
}

func TestInvalidArguments(t *testing.T) {
	_, c := newController()
	if c.Busy(StreamCount) {
		t.Errorf("Busy(invalid) = true")
	}
	if n := c.Remaining(StreamCount + 3); n != 0 {
		t.Errorf("Remaining(invalid) = %d", n)
	}
	if err := c.Start(StreamCount, 0, 1); !errors.Is(err, ErrInvalidStream) {
		t.Errorf("Start(invalid) = %v", err)
	}
	if err := c.Stop(Stream1_2); !errors.Is(err, ErrNotAllocated) {
		t.Errorf("Stop(free) = %v", err)
	}
	if err := c.Release(StreamCount); !errors.Is(err, ErrInvalidStream) {
		t.Errorf("Release(invalid) = %v", err)
	}
	if err := c.Allocate(StreamConfig{Stream: Stream1_2}); err != nil {
		t.Fatal(err)
	}
	for _, n := range []int{0, -1, MaxCount + 1} {
		if err := c.Start(Stream1_2, 0, n); !errors.Is(err, ErrInvalidCount) {
			t.Errorf("Start with count %d = %v", n, err)
		}
		if err := c.StartWithConfig(Stream1_2, 0, n, true); !errors.Is(err, ErrInvalidCount) {
			t.Errorf("StartWithConfig with count %d = %v", n, err)
		}
	}
	if err := c.Start(Stream1_2, 0, MaxCount); err != nil {
		t.Errorf("Start with count %d = %v", MaxCount, err)
	}
	// Must not panic.
	c.HandleInterrupt(StreamCount)
}

func TestDispatchOrder(t *testing.T) {
	dev, c := newController()
	var events []string
	ctx := new(int)
	err := c.Allocate(StreamConfig{
		Stream:  Stream1_3,
		Context: ctx,
		OnError: func(id StreamID, c any) {
			if c != ctx {
				t.Errorf("error callback context %v", c)
			}
			events = append(events, "error")
		},
		OnComplete: func(id StreamID, c any) {
			events = append(events, "complete")
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	dev.SetStreamFlags(int(Stream1_3), 1<<stm32f4.DMA_TCIF_Off|1<<stm32f4.DMA_TEIF_Off)
	if len(events) != 2 || events[0] != "error" || events[1] != "complete" {
		t.Errorf("events %v, want [error complete]", events)
	}
	if f := dev.StreamFlags(int(Stream1_3)); f != 0 {
		t.Errorf("flags %#x left set", f)
	}
}

func TestDispatchWithoutCallbacks(t *testing.T) {
	dev, c := newController()
	if err := c.Allocate(StreamConfig{Stream: Stream2_5}); err != nil {
		t.Fatal(err)
	}
	flags := uint32(1<<stm32f4.DMA_TCIF_Off | 1<<stm32f4.DMA_DMEIF_Off | 1<<stm32f4.DMA_FEIF_Off)
	dev.SetStreamFlags(int(Stream2_5), flags)
	if f := dev.StreamFlags(int(Stream2_5)); f != 0 {
		t.Errorf("flags %#x left set", f)
	}
	// Neighbouring streams keep their flags.
	dev.SetStreamFlags(int(Stream2_4), 1<<stm32f4.DMA_TCIF_Off)
	c.HandleInterrupt(Stream2_5)
	if f := dev.StreamFlags(int(Stream2_4)); f == 0 {
		t.Errorf("dispatch cleared another stream's flags")
	}
}

func TestTransferError(t *testing.T) {
	dev, c := newController()
	errs := 0
	err := c.Allocate(StreamConfig{
		Stream:  Stream1_0,
		OnError: func(StreamID, any) { errs++ },
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Start(Stream1_0, 0x2000_0000, 8); err != nil {
		t.Fatal(err)
	}
	dev.FailStream(int(Stream1_0))
	if errs != 1 {
		t.Errorf("error callback ran %d times", errs)
	}
	if c.Busy(Stream1_0) {
		t.Errorf("stream busy after a transfer error")
	}
}

func TestContention(t *testing.T) {
	_, c := newController()
	const owners = 8
	results := make([]error, owners)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = c.Allocate(StreamConfig{Stream: Stream2_0, Channel: uint8(i % 8)})
		}()
	}
	wg.Wait()
	won := 0
	for _, err := range results {
		switch {
		case err == nil:
			won++
		case !errors.Is(err, ErrStreamInUse):
			t.Errorf("unexpected error %v", err)
		}
	}
	if won != 1 {
		t.Errorf("%d owners won the stream", won)
	}
}

func TestSnapshot(t *testing.T) {
	_, c := newController()
	if len(c.Snapshot().Streams) != 0 {
		t.Fatalf("snapshot of idle controller not empty")
	}
	if err := c.Allocate(StreamConfig{Stream: Stream1_5, OnComplete: func(StreamID, any) {}}); err != nil {
		t.Fatal(err)
	}
	if err := c.Allocate(StreamConfig{Stream: Stream2_7}); err != nil {
		t.Fatal(err)
	}
	if err := c.Start(Stream2_7, 0x2000_0000, 42); err != nil {
		t.Fatal(err)
	}
	snap := c.Snapshot()
	if len(snap.Streams) != 2 {
		t.Fatalf("snapshot %+v", snap)
	}
	a, b := snap.Streams[0], snap.Streams[1]
	if a.Stream != Stream1_5 || a.Enabled || !a.OnComplete {
		t.Errorf("first stream %+v", a)
	}
	if b.Stream != Stream2_7 || !b.Enabled || b.Remaining != 42 || b.OnComplete {
		t.Errorf("second stream %+v", b)
	}
}

func TestStreamNames(t *testing.T) {
	if s := Stream1_5.String(); s != "DMA1_Stream5" {
		t.Errorf("Stream1_5 = %q", s)
	}
	if s := Stream2_0.String(); s != "DMA2_Stream0" {
		t.Errorf("Stream2_0 = %q", s)
	}
	if s := StreamCount.String(); s != "StreamID(16)" {
		t.Errorf("StreamCount = %q", s)
	}
}
