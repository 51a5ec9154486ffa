// Package rcc gates peripheral clocks and reports bus frequencies.
package rcc

import (
	"nucleo.dev/device/stm32f4"
	"nucleo.dev/driver/reg"
)

// Bus identifies a peripheral bus.
type Bus uint8

const (
	AHB1 Bus = iota
	APB1
	APB2
)

func (b Bus) String() string {
	switch b {
	case AHB1:
		return "AHB1"
	case APB1:
		return "APB1"
	case APB2:
		return "APB2"
	}
	return "Bus(?)"
}

// Gate is the clock enable bit of a peripheral.
type Gate struct {
	Bus  Bus
	Mask uint32
}

// Clock gates of the peripherals the drivers use.
var (
	DMA1   = Gate{AHB1, stm32f4.RCC_AHB1ENR_DMA1EN}
	DMA2   = Gate{AHB1, stm32f4.RCC_AHB1ENR_DMA2EN}
	SPI1   = Gate{APB2, stm32f4.RCC_APB2ENR_SPI1EN}
	SPI2   = Gate{APB1, stm32f4.RCC_APB1ENR_SPI2EN}
	SPI3   = Gate{APB1, stm32f4.RCC_APB1ENR_SPI3EN}
	SPI4   = Gate{APB2, stm32f4.RCC_APB2ENR_SPI4EN}
	SPI5   = Gate{APB2, stm32f4.RCC_APB2ENR_SPI5EN}
	USART1 = Gate{APB2, stm32f4.RCC_APB2ENR_USART1EN}
	USART2 = Gate{APB1, stm32f4.RCC_APB1ENR_USART2EN}
	USART6 = Gate{APB2, stm32f4.RCC_APB2ENR_USART6EN}
)

// GPIO returns the clock gate of GPIO port n (0 for port A).
func GPIO(n uint8) Gate {
	return Gate{AHB1, stm32f4.RCC_AHB1ENR_GPIOAEN << n}
}

type Controller struct {
	bus reg.Bus
}

func New(b reg.Bus) *Controller {
	return &Controller{bus: b}
}

func (c *Controller) enr(b Bus) reg.Reg {
	switch b {
	case APB1:
		return reg.At(c.bus, stm32f4.RCC+stm32f4.RCC_APB1ENR)
	case APB2:
		return reg.At(c.bus, stm32f4.RCC+stm32f4.RCC_APB2ENR)
	default:
		return reg.At(c.bus, stm32f4.RCC+stm32f4.RCC_AHB1ENR)
	}
}

// Enable turns on the clock of g. Enabling an enabled clock is harmless.
func (c *Controller) Enable(g Gate) {
	c.enr(g.Bus).SetBits(g.Mask)
}

func (c *Controller) Disable(g Gate) {
	c.enr(g.Bus).ClearBits(g.Mask)
}

func (c *Controller) Enabled(g Gate) bool {
	return c.enr(g.Bus).Get()&g.Mask == g.Mask
}

// Clocks lists the core and bus frequencies in Hz.
type Clocks struct {
	SYSCLK uint32
	HCLK   uint32
	PCLK1  uint32
	PCLK2  uint32
}

// Of returns the frequency of bus b.
func (c Clocks) Of(b Bus) uint32 {
	switch b {
	case APB1:
		return c.PCLK1
	case APB2:
		return c.PCLK2
	}
	return c.HCLK
}

var ahbShift = [8]uint8{1, 2, 3, 4, 6, 7, 8, 9}

// Clocks derives the current frequencies from the clock configuration
// registers. The reset configuration runs everything from the 16 MHz HSI.
func (c *Controller) Clocks() Clocks {
	cfgr := reg.At(c.bus, stm32f4.RCC+stm32f4.RCC_CFGR).Get()
	var sys uint32
	switch cfgr >> stm32f4.RCC_CFGR_SWS_Pos & stm32f4.RCC_CFGR_SWS_Msk {
	case stm32f4.RCC_CFGR_SWS_HSE:
		sys = stm32f4.HSE_VALUE
	case stm32f4.RCC_CFGR_SWS_PLL:
		pll := reg.At(c.bus, stm32f4.RCC+stm32f4.RCC_PLLCFGR).Get()
		in := uint32(stm32f4.HSI_VALUE)
		if pll&stm32f4.RCC_PLLCFGR_PLLSRC_HSE != 0 {
			in = stm32f4.HSE_VALUE
		}
		m := pll >> stm32f4.RCC_PLLCFGR_PLLM_Pos & stm32f4.RCC_PLLCFGR_PLLM_Msk
		n := pll >> stm32f4.RCC_PLLCFGR_PLLN_Pos & stm32f4.RCC_PLLCFGR_PLLN_Msk
		p := (pll>>stm32f4.RCC_PLLCFGR_PLLP_Pos&stm32f4.RCC_PLLCFGR_PLLP_Msk + 1) * 2
		if m == 0 {
			m = 1
		}
		sys = uint32(uint64(in) * uint64(n) / uint64(m) / uint64(p))
	default:
		sys = stm32f4.HSI_VALUE
	}
	hclk := sys
	if hpre := cfgr >> stm32f4.RCC_CFGR_HPRE_Pos & stm32f4.RCC_CFGR_HPRE_Msk; hpre&0x8 != 0 {
		hclk = sys >> ahbShift[hpre&0x7]
	}
	apb := func(pos uint32) uint32 {
		ppre := cfgr >> pos & stm32f4.RCC_CFGR_PPRE_Msk
		if ppre&0x4 == 0 {
			return hclk
		}
		return hclk >> (ppre&0x3 + 1)
	}
	return Clocks{
		SYSCLK: sys,
		HCLK:   hclk,
		PCLK1:  apb(stm32f4.RCC_CFGR_PPRE1_Pos),
		PCLK2:  apb(stm32f4.RCC_CFGR_PPRE2_Pos),
	}
}
