//go:build tinygo && stm32f4

package board

import (
	"runtime/interrupt"

	"nucleo.dev/device/stm32f4"
	"nucleo.dev/driver/dma"
	"nucleo.dev/driver/reg"
)

var active *Board

// Default returns the board over memory-mapped registers with its
// interrupt vectors installed. It must be called once.
func Default() *Board {
	active = New(reg.MMIO)
	install()
	return active
}

func dmaISR(id dma.StreamID) {
	active.DMA.HandleInterrupt(id)
}

// install registers the vectors. The NVIC lines are enabled by the
// drivers when they claim a stream or peripheral.
func install() {
	interrupt.New(stm32f4.IRQ_DMA1_Stream0, func(interrupt.Interrupt) { dmaISR(dma.Stream1_0) })
	interrupt.New(stm32f4.IRQ_DMA1_Stream1, func(interrupt.Interrupt) { dmaISR(dma.Stream1_1) })
	interrupt.New(stm32f4.IRQ_DMA1_Stream2, func(interrupt.Interrupt) { dmaISR(dma.Stream1_2) })
	interrupt.New(stm32f4.IRQ_DMA1_Stream3, func(interrupt.Interrupt) { dmaISR(dma.Stream1_3) })
	interrupt.New(stm32f4.IRQ_DMA1_Stream4, func(interrupt.Interrupt) { dmaISR(dma.Stream1_4) })
	interrupt.New(stm32f4.IRQ_DMA1_Stream5, func(interrupt.Interrupt) { dmaISR(dma.Stream1_5) })
	interrupt.New(stm32f4.IRQ_DMA1_Stream6, func(interrupt.Interrupt) { dmaISR(dma.Stream1_6) })
	interrupt.New(stm32f4.IRQ_DMA1_Stream7, func(interrupt.Interrupt) { dmaISR(dma.Stream1_7) })
	interrupt.New(stm32f4.IRQ_DMA2_Stream0, func(interrupt.Interrupt) { dmaISR(dma.Stream2_0) })
	interrupt.New(stm32f4.IRQ_DMA2_Stream1, func(interrupt.Interrupt) { dmaISR(dma.Stream2_1) })
	interrupt.New(stm32f4.IRQ_DMA2_Stream2, func(interrupt.Interrupt) { dmaISR(dma.Stream2_2) })
	interrupt.New(stm32f4.IRQ_DMA2_Stream3, func(interrupt.Interrupt) { dmaISR(dma.Stream2_3) })
	interrupt.New(stm32f4.IRQ_DMA2_Stream4, func(interrupt.Interrupt) { dmaISR(dma.Stream2_4) })
	interrupt.New(stm32f4.IRQ_DMA2_Stream5, func(interrupt.Interrupt) { dmaISR(dma.Stream2_5) })
	interrupt.New(stm32f4.IRQ_DMA2_Stream6, func(interrupt.Interrupt) { dmaISR(dma.Stream2_6) })
	interrupt.New(stm32f4.IRQ_DMA2_Stream7, func(interrupt.Interrupt) { dmaISR(dma.Stream2_7) })
	interrupt.New(stm32f4.IRQ_USART2, func(interrupt.Interrupt) { active.UART.HandleInterrupt() })
}
