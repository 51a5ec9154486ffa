// Package board wires the drivers of a Nucleo-F411RE: one object per
// subsystem over a shared register bus, default pin maps and the
// interrupt vector bindings.
package board

import (
	"nucleo.dev/device/stm32f4"
	"nucleo.dev/driver/dma"
	"nucleo.dev/driver/gpio"
	"nucleo.dev/driver/irq"
	"nucleo.dev/driver/rcc"
	"nucleo.dev/driver/reg"
	"nucleo.dev/driver/spi"
	"nucleo.dev/driver/uart"
)

// LED is the user LED, LD2. It shares PA5 with SPI1 SCK.
const LED = gpio.PA5

// DefaultSPI1 routes SPI1 to the Arduino header, D13 to D11.
var DefaultSPI1 = spi.Config{
	Instance:  spi.SPI1,
	SCK:       gpio.PA5,
	MISO:      gpio.PA6,
	MOSI:      gpio.PA7,
	AF:        5,
	Prescaler: 4,
}

// DefaultUART2 is the ST-LINK virtual COM port.
var DefaultUART2 = uart.Config{
	Instance: uart.USART2,
	Baud:     115200,
	TX:       gpio.PA2,
	RX:       gpio.PA3,
	AF:       7,
}

type Board struct {
	Bus  reg.Bus
	NVIC *irq.NVIC
	RCC  *rcc.Controller
	GPIO *gpio.Controller
	DMA  *dma.Controller
	SPI  *spi.Driver
	UART *uart.UART
}

// New builds the subsystems over b. Nothing is configured.
func New(b reg.Bus) *Board {
	nvic := irq.NewNVIC(b)
	clocks := rcc.New(b)
	pins := gpio.New(b, clocks)
	d := dma.New(b, nvic)
	return &Board{
		Bus:  b,
		NVIC: nvic,
		RCC:  clocks,
		GPIO: pins,
		DMA:  d,
		SPI:  spi.NewDriver(b, d, pins, clocks, nvic),
		UART: uart.New(b, d, pins, clocks, nvic),
	}
}

// A Handler binds an interrupt line to its service routine.
type Handler struct {
	IRQ     irq.IRQ
	Service func()
}

// Handlers lists the interrupt service routines of the board: every DMA
// stream and the console USART.
func (b *Board) Handlers() []Handler {
	hs := make([]Handler, 0, dma.StreamCount+1)
	for id := dma.StreamID(0); id < dma.StreamCount; id++ {
		n, _ := dma.IRQ(id)
		hs = append(hs, Handler{IRQ: n, Service: func() { b.DMA.HandleInterrupt(id) }})
	}
	hs = append(hs, Handler{IRQ: stm32f4.IRQ_USART2, Service: b.UART.HandleInterrupt})
	return hs
}

// Init configures the console UART and turns the LED off.
func (b *Board) Init() error {
	if err := b.UART.Configure(DefaultUART2); err != nil {
		return err
	}
	b.GPIO.Configure(LED, gpio.Config{Mode: gpio.Output})
	b.GPIO.Set(LED, false)
	return nil
}
