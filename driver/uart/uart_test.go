package uart

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"nucleo.dev/device/stm32f4"
	"nucleo.dev/driver/dma"
	"nucleo.dev/driver/gpio"
	"nucleo.dev/driver/irq"
	"nucleo.dev/driver/rcc"
	"nucleo.dev/internal/f4sim"
)

var usart2 = Config{
	Instance: USART2,
	Baud:     115200,
	TX:       gpio.PA2,
	RX:       gpio.PA3,
	AF:       7,
}

type fixture struct {
	sim *f4sim.Device
	dma *dma.Controller
	u   *UART
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	sim := f4sim.New()
	ic := irq.NewNVIC(sim)
	clocks := rcc.New(sim)
	d := dma.New(sim, ic)
	for id := dma.StreamID(0); id < dma.StreamCount; id++ {
		n, _ := dma.IRQ(id)
		sim.Attach(int(n), func() { d.HandleInterrupt(id) })
	}
	u := New(sim, d, gpio.New(sim, clocks), clocks, ic)
	sim.Attach(stm32f4.IRQ_USART2, u.HandleInterrupt)
	if err := u.Configure(usart2); err != nil {
		t.Fatal(err)
	}
	return &fixture{sim: sim, dma: d, u: u}
}

func (f *fixture) run(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.sim.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestBRR(t *testing.T) {
	tests := []struct {
		pclk, baud, want uint32
	}{
		{16_000_000, 115200, 139},
		{16_000_000, 9600, 1667},
		{50_000_000, 115200, 434},
		{100_000_000, 921600, 109},
	}
	for _, test := range tests {
		if got := BRR(test.pclk, test.baud); got != test.want {
			t.Errorf("BRR(%d, %d) = %d, want %d", test.pclk, test.baud, got, test.want)
		}
	}
}

func TestConfigure(t *testing.T) {
	f := newFixture(t)
	if got := f.sim.Peek(stm32f4.USART2 + stm32f4.USART_BRR); got != 139 {
		t.Errorf("BRR = %d, want 139", got)
	}
	want := uint32(stm32f4.USART_CR1_TE | stm32f4.USART_CR1_RE | stm32f4.USART_CR1_UE)
	if got := f.sim.Peek(stm32f4.USART2 + stm32f4.USART_CR1); got != want {
		t.Errorf("CR1 = %#x, want %#x", got, want)
	}
	if !f.sim.Enabled(stm32f4.IRQ_USART2) {
		t.Error("USART2 interrupt not enabled")
	}

	bad := usart2
	bad.Baud = 2_000_000
	if err := f.u.Configure(bad); !errors.Is(err, ErrInvalidBaud) {
		t.Errorf("Configure(2Mbaud) = %v, want ErrInvalidBaud", err)
	}
	bad.Baud = 0
	if err := f.u.Configure(bad); !errors.Is(err, ErrInvalidBaud) {
		t.Errorf("Configure(0 baud) = %v, want ErrInvalidBaud", err)
	}
	bad = usart2
	bad.Instance = InstanceCount
	if err := f.u.Configure(bad); !errors.Is(err, ErrInvalidInstance) {
		t.Errorf("Configure(invalid instance) = %v, want ErrInvalidInstance", err)
	}
}

func TestPolledIO(t *testing.T) {
	f := newFixture(t)
	fmt.Fprintf(f.u, "hi %d\n", 42)
	if got, want := string(f.sim.Output(stm32f4.USART2)), "hi 42\r\n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
	f.sim.Receive(stm32f4.USART2, []byte("xy"))
	for _, want := range []byte("xy") {
		c, err := f.u.ReadByte()
		if err != nil || c != want {
			t.Errorf("ReadByte() = %q, %v; want %q", c, err, want)
		}
	}
}

func TestRxHandler(t *testing.T) {
	f := newFixture(t)
	var got []byte
	f.u.SetRxHandler(func(c byte) { got = append(got, c) })
	f.sim.Receive(stm32f4.USART2, []byte("help\r"))
	if string(got) != "help\r" {
		t.Errorf("received %q, want %q", got, "help\r")
	}
	f.u.SetRxHandler(nil)
	if f.sim.Peek(stm32f4.USART2+stm32f4.USART_CR1)&stm32f4.USART_CR1_RXNEIE != 0 {
		t.Error("RXNEIE set without a handler")
	}
}

func TestWriteDMA(t *testing.T) {
	f := newFixture(t)
	done := 0
	f.u.SetTxCompleteHandler(func() {
		if f.u.TxBusy() {
			t.Error("busy in completion handler")
		}
		done++
	})
	msg := []byte("dma transmission\n")
	if err := f.u.WriteDMA(msg); err != nil {
		t.Fatal(err)
	}
	if !f.u.TxBusy() {
		t.Error("not busy after WriteDMA")
	}
	if err := f.u.WriteDMA(msg); !errors.Is(err, ErrBusy) {
		t.Errorf("second WriteDMA = %v, want ErrBusy", err)
	}
	f.sim.Step()
	if f.u.TxBusy() {
		t.Error("busy after transmission")
	}
	if done != 1 {
		t.Errorf("completion handler ran %d times, want 1", done)
	}
	if got := f.sim.Output(stm32f4.USART2); !bytes.Equal(got, msg) {
		t.Errorf("output = %q, want %q", got, msg)
	}
	if f.sim.Peek(stm32f4.USART2+stm32f4.USART_CR3)&stm32f4.USART_CR3_DMAT != 0 {
		t.Error("DMAT left set")
	}
	if err := f.u.WriteDMA(nil); err != nil {
		t.Errorf("WriteDMA(nil) = %v", err)
	}
	if err := f.u.WriteDMA(make([]byte, dma.MaxCount+1)); !errors.Is(err, ErrLength) {
		t.Errorf("oversized WriteDMA = %v, want ErrLength", err)
	}
}

func TestRingAdvance(t *testing.T) {
	tests := []struct {
		name       string
		tail, head int
		want       []string
		newTail    int
	}{
		{"empty", 10, 10, nil, 10},
		{"linear", 0, 40, []string{"0:40"}, 40},
		{"to end", 40, 64, []string{"40:64"}, 0},
		{"wrapped", 50, 10, []string{"50:64", "0:10"}, 10},
		{"wrapped to start", 50, 0, []string{"50:64"}, 0},
		{"out of range", 0, 65, nil, 0},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			buf := make([]byte, 64)
			for i := range buf {
				buf[i] = byte(i)
			}
			r := ring{buf: buf, tail: test.tail}
			var got []string
			r.advance(test.head, func(b []byte) {
				first := int(b[0])
				got = append(got, fmt.Sprintf("%d:%d", first, first+len(b)))
			})
			if strings.Join(got, " ") != strings.Join(test.want, " ") {
				t.Errorf("delivered %v, want %v", got, test.want)
			}
			if r.tail != test.newTail {
				t.Errorf("tail = %d, want %d", r.tail, test.newTail)
			}
		})
	}
}

func TestRingWrap(t *testing.T) {
	tests := []struct {
		name       string
		tail, head int
		ahead      bool
		want       []string
	}{
		{"full lap", 0, 0, false, []string{"0:64"}},
		{"rest of lap", 40, 0, false, []string{"40:64"}},
		{"written after reload", 40, 5, false, []string{"40:64", "0:5"}},
		{"full lap and more", 0, 3, false, []string{"0:64", "0:3"}},
		{"lap already passed", 10, 10, true, nil},
		{"lap passed then more", 10, 20, true, []string{"10:20"}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			buf := make([]byte, 64)
			for i := range buf {
				buf[i] = byte(i)
			}
			r := ring{buf: buf, tail: test.tail, ahead: test.ahead}
			var got []string
			r.wrap(test.head, func(b []byte) {
				first := int(b[0])
				got = append(got, fmt.Sprintf("%d:%d", first, first+len(b)))
			})
			if strings.Join(got, " ") != strings.Join(test.want, " ") {
				t.Errorf("delivered %v, want %v", got, test.want)
			}
			if r.tail != test.head {
				t.Errorf("tail = %d, want %d", r.tail, test.head)
			}
			if r.ahead {
				t.Error("lap still marked passed after wrap")
			}
		})
	}
}

func TestRxDMAContinuous(t *testing.T) {
	f := newFixture(t)
	var got []byte
	if err := f.u.StartRxDMA(make([]byte, 64), func(data []byte) {
		got = append(got, data...)
	}); err != nil {
		t.Fatal(err)
	}
	input := make([]byte, 100)
	for i := range input {
		input[i] = byte(i + 1)
	}
	// No idle line until the ring has wrapped.
	f.sim.Receive(stm32f4.USART2, input)
	if !bytes.Equal(got, input[:64]) {
		t.Errorf("after wrap delivered %d bytes, want the first 64", len(got))
	}
	f.sim.Idle(stm32f4.USART2)
	if !bytes.Equal(got, input) {
		t.Errorf("delivered %v, want %v", got, input)
	}
}

func TestRxDMA(t *testing.T) {
	f := newFixture(t)
	var chunks [][]byte
	buf := make([]byte, 64)
	err := f.u.StartRxDMA(buf, func(data []byte) {
		chunks = append(chunks, bytes.Clone(data))
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.u.StartRxDMA(buf, nil); !errors.Is(err, ErrRxActive) {
		t.Errorf("second StartRxDMA = %v, want ErrRxActive", err)
	}
	if _, err := f.u.ReadByte(); !errors.Is(err, ErrRxActive) {
		t.Errorf("ReadByte = %v, want ErrRxActive", err)
	}

	input := make([]byte, 100)
	for i := range input {
		input[i] = byte(i + 1)
	}
	f.sim.Receive(stm32f4.USART2, input[:40])
	f.sim.Idle(stm32f4.USART2)
	// The ring wraps after 24 more bytes.
	f.sim.Receive(stm32f4.USART2, input[40:64])
	f.sim.Receive(stm32f4.USART2, input[64:])
	f.sim.Idle(stm32f4.USART2)

	want := [][]byte{input[:40], input[40:64], input[64:]}
	if len(chunks) != len(want) {
		t.Fatalf("delivered %d chunks, want %d", len(chunks), len(want))
	}
	for i := range want {
		if !bytes.Equal(chunks[i], want[i]) {
			t.Errorf("chunk %d = %v, want %v", i, chunks[i], want[i])
		}
	}

	// An idle line with nothing new delivers nothing.
	f.sim.Idle(stm32f4.USART2)
	if len(chunks) != len(want) {
		t.Errorf("idle without data delivered %v", chunks[len(want):])
	}

	f.u.StopRxDMA()
	if f.dma.Busy(dma.Stream1_5) {
		t.Error("rx stream running after StopRxDMA")
	}
	cr3 := f.sim.Peek(stm32f4.USART2 + stm32f4.USART_CR3)
	if cr3&stm32f4.USART_CR3_DMAR != 0 {
		t.Error("DMAR set after StopRxDMA")
	}
	if err := f.u.StartRxDMA(buf, func([]byte) {}); err != nil {
		t.Errorf("restart: %v", err)
	}
}

func TestErrorFlags(t *testing.T) {
	f := newFixture(t)
	f.u.SetRxHandler(func(byte) {
		t.Error("byte delivered for a line error")
	})
	f.sim.LineError(stm32f4.USART2, stm32f4.USART_SR_ORE)
	f.sim.LineError(stm32f4.USART2, stm32f4.USART_SR_FE)
	if got, want := f.u.Errors(), Overrun|Framing; got != want {
		t.Errorf("Errors() = %v, want %v", got, want)
	}
	if got := f.u.Errors().String(); got != "overrun|framing" {
		t.Errorf("String() = %q", got)
	}
	f.u.ClearErrors()
	if got := f.u.Errors(); got != 0 || got.String() != "none" {
		t.Errorf("Errors() after clear = %v", got)
	}
}

func TestTxBuffer(t *testing.T) {
	f := newFixture(t)
	b := NewTxBuffer(f.u)
	fmt.Fprintf(b, "boot %d\n", 1)
	// A finished line is on its way.
	if !f.u.TxBusy() {
		t.Fatal("line not sent")
	}
	f.sim.Step()
	fmt.Fprint(b, "partial")
	if f.u.TxBusy() {
		t.Error("partial line sent")
	}
	b.Process()
	if f.u.TxBusy() {
		t.Error("Process sent a partial line")
	}
	f.run(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := b.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if got, want := string(f.sim.Output(stm32f4.USART2)), "boot 1\r\npartial"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestTxBufferOverflow(t *testing.T) {
	f := newFixture(t)
	b := NewTxBuffer(f.u)
	data := bytes.Repeat([]byte("a"), 600)
	if n, err := b.Write(data); n != len(data) || err != nil {
		t.Fatalf("Write = %d, %v", n, err)
	}
	// One half on the wire, the other full.
	if got, want := b.Dropped(), 600-2*(TxBufferSize-1); got != want {
		t.Errorf("Dropped() = %d, want %d", got, want)
	}
	f.run(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := b.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if got, want := len(f.sim.Output(stm32f4.USART2)), 2*(TxBufferSize-1); got != want {
		t.Errorf("transmitted %d bytes, want %d", got, want)
	}
}
