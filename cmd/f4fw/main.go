//go:build tinygo && stm32f4

// Command f4fw is the Nucleo-F411RE console firmware.
package main

import (
	"context"
	"log/slog"

	"nucleo.dev/board"
	"nucleo.dev/console"
	"nucleo.dev/driver/uart"
	"nucleo.dev/internal/diag"
)

var Version string

var rxBuf [64]byte

func main() {
	b := board.Default()
	if err := b.Init(); err != nil {
		panic(err)
	}
	// Records may be logged from interrupt handlers; write them polled.
	diag.SetLogger(diag.NewLogger(b.UART))
	diag.SetLevel(slog.LevelInfo)

	out := uart.NewTxBuffer(b.UART)
	con, err := console.New(console.Config{
		Out:     out,
		GPIO:    b.GPIO,
		LED:     board.LED,
		DMA:     b.DMA,
		SPI:     b.SPI,
		PerfSPI: board.DefaultSPI1,
		UART:    b.UART,
		Version: Version,
		Flush: func() {
			out.Flush(context.Background())
		},
	})
	if err != nil {
		panic(err)
	}
	if err := b.UART.StartRxDMA(rxBuf[:], con.ReceiveData); err != nil {
		panic(err)
	}
	diag.Info(diag.Board, "console started", "version", Version)
	con.Run(context.Background())
}
