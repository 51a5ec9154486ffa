package dma

import (
	"nucleo.dev/device/stm32f4"
	"nucleo.dev/driver/irq"
)

// descriptor holds the fixed hardware facts of a stream.
type descriptor struct {
	regs  uint32
	irq   irq.IRQ
	isr   uint32
	ifcr  uint32
	tc    uint32
	te    uint32
	dme   uint32
	fe    uint32
	all   uint32
	clock uint32
}

var streamIRQs = [StreamCount]irq.IRQ{
	stm32f4.IRQ_DMA1_Stream0, stm32f4.IRQ_DMA1_Stream1, stm32f4.IRQ_DMA1_Stream2, stm32f4.IRQ_DMA1_Stream3,
	stm32f4.IRQ_DMA1_Stream4, stm32f4.IRQ_DMA1_Stream5, stm32f4.IRQ_DMA1_Stream6, stm32f4.IRQ_DMA1_Stream7,
	stm32f4.IRQ_DMA2_Stream0, stm32f4.IRQ_DMA2_Stream1, stm32f4.IRQ_DMA2_Stream2, stm32f4.IRQ_DMA2_Stream3,
	stm32f4.IRQ_DMA2_Stream4, stm32f4.IRQ_DMA2_Stream5, stm32f4.IRQ_DMA2_Stream6, stm32f4.IRQ_DMA2_Stream7,
}

var descriptors = func() (ds [StreamCount]descriptor) {
	for id := range ds {
		ctrl, clock := uint32(stm32f4.DMA1), uint32(stm32f4.RCC_AHB1ENR_DMA1EN)
		if id >= 8 {
			ctrl, clock = stm32f4.DMA2, stm32f4.RCC_AHB1ENR_DMA2EN
		}
		n := uint32(id % 8)
		isr, ifcr := ctrl+stm32f4.DMA_LISR, ctrl+stm32f4.DMA_LIFCR
		if n >= 4 {
			isr, ifcr = ctrl+stm32f4.DMA_HISR, ctrl+stm32f4.DMA_HIFCR
		}
		base := stm32f4.DMAFlagBase[n%4]
		d := descriptor{
			regs:  ctrl + stm32f4.DMA_S0 + stm32f4.DMA_SStride*n,
			irq:   streamIRQs[id],
			isr:   isr,
			ifcr:  ifcr,
			tc:    1 << (base + stm32f4.DMA_TCIF_Off),
			te:    1 << (base + stm32f4.DMA_TEIF_Off),
			dme:   1 << (base + stm32f4.DMA_DMEIF_Off),
			fe:    1 << (base + stm32f4.DMA_FEIF_Off),
			clock: clock,
		}
		d.all = d.tc | d.te | d.dme | d.fe | 1<<(base+stm32f4.DMA_HTIF_Off)
		ds[id] = d
	}
	return ds
}()

func descriptorFor(id StreamID) (*descriptor, bool) {
	if id >= StreamCount {
		return nil, false
	}
	return &descriptors[id], true
}
