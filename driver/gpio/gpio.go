// Package gpio configures and drives the general purpose I/O pins.
package gpio

import (
	"fmt"

	"nucleo.dev/device/stm32f4"
	"nucleo.dev/driver/rcc"
	"nucleo.dev/driver/reg"
)

// Pin is a port and pin number, encoded as port*16+number.
type Pin uint8

// NoPin marks an unused pin.
const NoPin Pin = 0xff

const (
	portA = iota * 16
	portB
	portC
	portD
	portE
	_
	_
	portH
)

const (
	PA0 Pin = portA + iota
	PA1
	PA2
	PA3
	PA4
	PA5
	PA6
	PA7
	PA8
	PA9
	PA10
	PA11
	PA12
	PA13
	PA14
	PA15
)

const (
	PB0 Pin = portB + iota
	PB1
	PB2
	PB3
	PB4
	PB5
	PB6
	PB7
	PB8
	PB9
	PB10
	PB11
	PB12
	PB13
	PB14
	PB15
)

const (
	PC0 Pin = portC + iota
	PC1
	PC2
	PC3
	PC4
	PC5
	PC6
	PC7
	PC8
	PC9
	PC10
	PC11
	PC12
	PC13
	PC14
	PC15
)

const (
	PE0 Pin = portE + iota
	PE1
	PE2
	PE3
	PE4
	PE5
	PE6
	PE7
	PE8
	PE9
	PE10
	PE11
	PE12
	PE13
	PE14
	PE15
)

const (
	PD2 Pin = portD + 2
	PH0 Pin = portH + 0
	PH1 Pin = portH + 1
)

func (p Pin) Port() uint8 {
	return uint8(p) / 16
}

func (p Pin) Num() uint8 {
	return uint8(p) % 16
}

func (p Pin) String() string {
	if p == NoPin {
		return "NoPin"
	}
	return fmt.Sprintf("P%c%d", 'A'+p.Port(), p.Num())
}

type Mode uint8

const (
	Input Mode = iota
	Output
	AltFunc
	Analog
)

type OutputType uint8

const (
	PushPull OutputType = iota
	OpenDrain
)

type Speed uint8

const (
	SpeedLow Speed = iota
	SpeedMedium
	SpeedFast
	SpeedHigh
)

type Pull uint8

const (
	PullNone Pull = iota
	PullUp
	PullDown
)

// Config is the electrical configuration of a pin.
type Config struct {
	Mode  Mode
	Type  OutputType
	Speed Speed
	Pull  Pull
	// AF selects the alternate function in AltFunc mode.
	AF uint8
}

type Controller struct {
	bus reg.Bus
	rcc *rcc.Controller
}

func New(b reg.Bus, clocks *rcc.Controller) *Controller {
	return &Controller{bus: b, rcc: clocks}
}

func (c *Controller) reg(p Pin, off uint32) reg.Reg {
	return reg.At(c.bus, stm32f4.GPIOA+uint32(p.Port())*stm32f4.GPIOStride+off)
}

// Configure enables the clock of the pin's port and applies conf.
func (c *Controller) Configure(p Pin, conf Config) {
	if p == NoPin {
		return
	}
	c.rcc.Enable(rcc.GPIO(p.Port()))
	n := p.Num()
	if conf.Mode == AltFunc {
		c.SetAltFunc(p, conf.AF)
	}
	c.reg(p, stm32f4.GPIO_OTYPER).ReplaceBits(uint32(conf.Type), 0x1, n)
	c.reg(p, stm32f4.GPIO_OSPEEDR).ReplaceBits(uint32(conf.Speed), 0x3, n*2)
	c.reg(p, stm32f4.GPIO_PUPDR).ReplaceBits(uint32(conf.Pull), 0x3, n*2)
	c.reg(p, stm32f4.GPIO_MODER).ReplaceBits(uint32(conf.Mode), 0x3, n*2)
}

// SetAltFunc selects alternate function af for p.
func (c *Controller) SetAltFunc(p Pin, af uint8) {
	n := p.Num()
	off := uint32(stm32f4.GPIO_AFRL)
	if n >= 8 {
		off = stm32f4.GPIO_AFRH
	}
	c.reg(p, off).ReplaceBits(uint32(af), 0xf, (n%8)*4)
}

// Reset returns p to its reset state, a floating input.
func (c *Controller) Reset(p Pin) {
	if p == NoPin {
		return
	}
	c.Configure(p, Config{Mode: Input})
}

func (c *Controller) Set(p Pin, high bool) {
	mask := uint32(1) << p.Num()
	if !high {
		mask <<= 16
	}
	c.reg(p, stm32f4.GPIO_BSRR).Set(mask)
}

func (c *Controller) Get(p Pin) bool {
	return c.reg(p, stm32f4.GPIO_IDR).HasBits(1 << p.Num())
}

// Mode returns the configured mode of p.
func (c *Controller) Mode(p Pin) Mode {
	return Mode(c.reg(p, stm32f4.GPIO_MODER).Get() >> (p.Num() * 2) & 0x3)
}
