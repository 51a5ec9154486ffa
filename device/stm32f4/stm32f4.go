// Package stm32f4 lists the register addresses, interrupt numbers and
// bit fields of the STM32F411 peripherals used by the drivers.
//
// Offsets are relative to the peripheral base address. Fields follow the
// reference manual (RM0383) names with a _Pos suffix for shift amounts and
// a _Msk suffix for unshifted field masks.
package stm32f4

// Reset and clock control.
const (
	RCC = 0x4002_3800

	RCC_CR      = 0x00
	RCC_PLLCFGR = 0x04
	RCC_CFGR    = 0x08
	RCC_AHB1ENR = 0x30
	RCC_APB1ENR = 0x40
	RCC_APB2ENR = 0x44

	RCC_PLLCFGR_PLLM_Pos   = 0
	RCC_PLLCFGR_PLLM_Msk   = 0x3f
	RCC_PLLCFGR_PLLN_Pos   = 6
	RCC_PLLCFGR_PLLN_Msk   = 0x1ff
	RCC_PLLCFGR_PLLP_Pos   = 16
	RCC_PLLCFGR_PLLP_Msk   = 0x3
	RCC_PLLCFGR_PLLSRC_HSE = 1 << 22

	RCC_CFGR_SWS_Pos   = 2
	RCC_CFGR_SWS_Msk   = 0x3
	RCC_CFGR_SWS_HSI   = 0
	RCC_CFGR_SWS_HSE   = 1
	RCC_CFGR_SWS_PLL   = 2
	RCC_CFGR_HPRE_Pos  = 4
	RCC_CFGR_HPRE_Msk  = 0xf
	RCC_CFGR_PPRE1_Pos = 10
	RCC_CFGR_PPRE2_Pos = 13
	RCC_CFGR_PPRE_Msk  = 0x7

	RCC_AHB1ENR_GPIOAEN = 1 << 0
	RCC_AHB1ENR_DMA1EN  = 1 << 21
	RCC_AHB1ENR_DMA2EN  = 1 << 22

	RCC_APB1ENR_SPI2EN   = 1 << 14
	RCC_APB1ENR_SPI3EN   = 1 << 15
	RCC_APB1ENR_USART2EN = 1 << 17

	RCC_APB2ENR_USART1EN = 1 << 4
	RCC_APB2ENR_USART6EN = 1 << 5
	RCC_APB2ENR_SPI1EN   = 1 << 12
	RCC_APB2ENR_SPI4EN   = 1 << 13
	RCC_APB2ENR_SPI5EN   = 1 << 20

	// Oscillator frequencies of the Nucleo-F411RE. HSE is the 8 MHz
	// MCO output of the on-board ST-LINK.
	HSI_VALUE = 16_000_000
	HSE_VALUE = 8_000_000
)

// General purpose I/O.
const (
	GPIOA      = 0x4002_0000
	GPIOStride = 0x400

	GPIO_MODER   = 0x00
	GPIO_OTYPER  = 0x04
	GPIO_OSPEEDR = 0x08
	GPIO_PUPDR   = 0x0c
	GPIO_IDR     = 0x10
	GPIO_ODR     = 0x14
	GPIO_BSRR    = 0x18
	GPIO_AFRL    = 0x20
	GPIO_AFRH    = 0x24
)

// Direct memory access controllers.
const (
	DMA1 = 0x4002_6000
	DMA2 = 0x4002_6400

	DMA_LISR  = 0x00
	DMA_HISR  = 0x04
	DMA_LIFCR = 0x08
	DMA_HIFCR = 0x0c

	// Stream register blocks start at DMA_S0 and are DMA_SStride apart.
	DMA_S0      = 0x10
	DMA_SStride = 0x18

	DMA_SxCR   = 0x00
	DMA_SxNDTR = 0x04
	DMA_SxPAR  = 0x08
	DMA_SxM0AR = 0x0c
	DMA_SxM1AR = 0x10
	DMA_SxFCR  = 0x14

	DMA_SxCR_EN        = 1 << 0
	DMA_SxCR_DMEIE     = 1 << 1
	DMA_SxCR_TEIE      = 1 << 2
	DMA_SxCR_HTIE      = 1 << 3
	DMA_SxCR_TCIE      = 1 << 4
	DMA_SxCR_DIR_Pos   = 6
	DMA_SxCR_DIR_Msk   = 0x3
	DMA_SxCR_CIRC      = 1 << 8
	DMA_SxCR_PINC      = 1 << 9
	DMA_SxCR_MINC      = 1 << 10
	DMA_SxCR_PL_Pos    = 16
	DMA_SxCR_PL_Msk    = 0x3
	DMA_SxCR_CHSEL_Pos = 25
	DMA_SxCR_CHSEL_Msk = 0x7

	DMA_SxNDTR_Msk = 0xffff

	// Status flag offsets within a stream's flag group.
	DMA_FEIF_Off  = 0
	DMA_DMEIF_Off = 2
	DMA_TEIF_Off  = 3
	DMA_HTIF_Off  = 4
	DMA_TCIF_Off  = 5
)

// DMAFlagBase holds the bit offset of each stream's flag group within
// LISR/HISR, indexed by stream number modulo 4.
var DMAFlagBase = [4]uint8{0, 6, 16, 22}

// Serial peripheral interfaces.
const (
	SPI1 = 0x4001_3000
	SPI2 = 0x4000_3800
	SPI3 = 0x4000_3c00
	SPI4 = 0x4001_3400
	SPI5 = 0x4001_5000

	SPI_CR1 = 0x00
	SPI_CR2 = 0x04
	SPI_SR  = 0x08
	SPI_DR  = 0x0c

	SPI_CR1_CPHA     = 1 << 0
	SPI_CR1_CPOL     = 1 << 1
	SPI_CR1_MSTR     = 1 << 2
	SPI_CR1_BR_Pos   = 3
	SPI_CR1_BR_Msk   = 0x7
	SPI_CR1_SPE      = 1 << 6
	SPI_CR1_LSBFIRST = 1 << 7
	SPI_CR1_SSI      = 1 << 8
	SPI_CR1_SSM      = 1 << 9

	SPI_CR2_RXDMAEN = 1 << 0
	SPI_CR2_TXDMAEN = 1 << 1

	SPI_SR_RXNE = 1 << 0
	SPI_SR_TXE  = 1 << 1
	SPI_SR_BSY  = 1 << 7
)

// Universal synchronous/asynchronous receiver transmitters.
const (
	USART1 = 0x4001_1000
	USART2 = 0x4000_4400
	USART6 = 0x4001_1400

	USART_SR   = 0x00
	USART_DR   = 0x04
	USART_BRR  = 0x08
	USART_CR1  = 0x0c
	USART_CR2  = 0x10
	USART_CR3  = 0x14
	USART_GTPR = 0x18

	USART_SR_PE   = 1 << 0
	USART_SR_FE   = 1 << 1
	USART_SR_NF   = 1 << 2
	USART_SR_ORE  = 1 << 3
	USART_SR_IDLE = 1 << 4
	USART_SR_RXNE = 1 << 5
	USART_SR_TC   = 1 << 6
	USART_SR_TXE  = 1 << 7

	USART_CR1_RE     = 1 << 2
	USART_CR1_TE     = 1 << 3
	USART_CR1_IDLEIE = 1 << 4
	USART_CR1_RXNEIE = 1 << 5
	USART_CR1_TCIE   = 1 << 6
	USART_CR1_TXEIE  = 1 << 7
	USART_CR1_UE     = 1 << 13

	USART_CR3_EIE  = 1 << 0
	USART_CR3_DMAR = 1 << 6
	USART_CR3_DMAT = 1 << 7
)

// Nested vectored interrupt controller.
const (
	NVIC_ISER = 0xe000_e100
	NVIC_ICER = 0xe000_e180
	NVIC_ISPR = 0xe000_e200
	NVIC_ICPR = 0xe000_e280
	NVIC_IPR  = 0xe000_e400

	// The STM32F4 implements the upper 4 bits of each priority byte.
	NVIC_PRIO_BITS = 4
)

// Interrupt numbers.
const (
	IRQ_DMA1_Stream0 = 11
	IRQ_DMA1_Stream1 = 12
	IRQ_DMA1_Stream2 = 13
	IRQ_DMA1_Stream3 = 14
	IRQ_DMA1_Stream4 = 15
	IRQ_DMA1_Stream5 = 16
	IRQ_DMA1_Stream6 = 17
	IRQ_SPI1         = 35
	IRQ_SPI2         = 36
	IRQ_USART1       = 37
	IRQ_USART2       = 38
	IRQ_DMA1_Stream7 = 47
	IRQ_SPI3         = 51
	IRQ_DMA2_Stream0 = 56
	IRQ_DMA2_Stream1 = 57
	IRQ_DMA2_Stream2 = 58
	IRQ_DMA2_Stream3 = 59
	IRQ_DMA2_Stream4 = 60
	IRQ_DMA2_Stream5 = 68
	IRQ_DMA2_Stream6 = 69
	IRQ_DMA2_Stream7 = 70
	IRQ_USART6       = 71
	IRQ_SPI4         = 84
	IRQ_SPI5         = 85

	IRQ_max = 85
)

// Start of SRAM, where DMA buffers live.
const SRAM = 0x2000_0000
