package uart

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
)

// TxBufferSize is the size of each half of a TxBuffer.
const TxBufferSize = 256

// TxBuffer is a double-buffered writer that transmits through DMA. One
// half fills while the other is on the wire. A half is sent when a line
// ends, when it fills up, or on Flush; bytes written while both halves
// are full are dropped.
type TxBuffer struct {
	u *UART

	mu      sync.Mutex
	bufs    [2][TxBufferSize]byte
	n       [2]int
	fill    int
	pending bool
	dropped int

	sending int
	busy    atomic.Bool
}

// NewTxBuffer returns a buffer transmitting on u. It installs the
// transmit complete handler of u.
func NewTxBuffer(u *UART) *TxBuffer {
	b := &TxBuffer{u: u}
	u.SetTxCompleteHandler(b.sent)
	return b
}

func (b *TxBuffer) sent() {
	b.n[b.sending] = 0
	b.busy.Store(false)
}

// Write appends p, converting line feeds to CRLF. It never fails.
func (b *TxBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range p {
		if !b.put(c) {
			b.dropped++
		}
		if b.pending {
			b.process()
		}
	}
	return len(p), nil
}

func (b *TxBuffer) put(c byte) bool {
	buf, n := &b.bufs[b.fill], &b.n[b.fill]
	if c == '\n' {
		// Keep room for the pair.
		if *n >= TxBufferSize-2 {
			b.pending = true
			return false
		}
		buf[*n] = '\r'
		buf[*n+1] = '\n'
		*n += 2
		b.pending = true
		return true
	}
	if *n >= TxBufferSize-1 {
		b.pending = true
		return false
	}
	buf[*n] = c
	*n++
	if *n >= TxBufferSize-1 {
		b.pending = true
	}
	return true
}

// Process sends the filling half if it is due and the transmitter is
// idle.
func (b *TxBuffer) Process() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.process()
}

func (b *TxBuffer) process() {
	if !b.pending || b.busy.Load() {
		return
	}
	b.pending = false
	cur := b.fill
	n := b.n[cur]
	if n == 0 {
		return
	}
	b.sending = cur
	b.busy.Store(true)
	if err := b.u.WriteDMA(b.bufs[cur][:n]); err != nil {
		b.busy.Store(false)
		b.dropped += n
		b.n[cur] = 0
		return
	}
	b.fill = cur ^ 1
}

// Send marks the filling half due and sends it if the transmitter is
// idle. It does not wait.
func (b *TxBuffer) Send() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = true
	b.process()
}

// Flush sends buffered bytes and waits for the transmission to finish.
func (b *TxBuffer) Flush(ctx context.Context) error {
	b.mu.Lock()
	for {
		b.pending = true
		b.process()
		if !b.busy.Load() && b.n[b.fill] == 0 {
			break
		}
		b.mu.Unlock()
		for b.busy.Load() {
			if err := ctx.Err(); err != nil {
				return err
			}
			runtime.Gosched()
		}
		b.mu.Lock()
	}
	b.mu.Unlock()
	return nil
}

// Dropped returns the number of bytes discarded for lack of room.
func (b *TxBuffer) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
