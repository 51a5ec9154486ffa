package spi

import (
	"context"
	"errors"
	"fmt"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"

	"nucleo.dev/driver/dma"
)

var (
	_ spi.Conn       = (*Device)(nil)
	_ conn.Limits    = (*Device)(nil)
	_ spi.PortCloser = (*Port)(nil)
)

// Tx runs a blocking DMA transfer, split into chunks the DMA controller
// can count. It implements conn.Conn.
func (d *Device) Tx(w, r []byte) error {
	if len(w) == 0 && len(r) == 0 {
		return nil
	}
	n, err := transferLen(w, r)
	if err != nil {
		return err
	}
	for off := 0; off < n; off += dma.MaxCount {
		end := min(off+dma.MaxCount, n)
		var wc, rc []byte
		if w != nil {
			wc = w[off:end]
		}
		if r != nil {
			rc = r[off:end]
		}
		if err := d.TransferDMABlocking(context.Background(), wc, rc); err != nil {
			return err
		}
	}
	return nil
}

// TxPackets runs each packet in turn. Only 8-bit words are supported and
// chip select is left to the caller.
func (d *Device) TxPackets(p []spi.Packet) error {
	for _, pkt := range p {
		if pkt.BitsPerWord != 0 && pkt.BitsPerWord != 8 {
			return fmt.Errorf("spi: %d bits per word unsupported", pkt.BitsPerWord)
		}
		if err := d.Tx(pkt.W, pkt.R); err != nil {
			return err
		}
	}
	return nil
}

func (d *Device) Duplex() conn.Duplex {
	return conn.Full
}

func (d *Device) MaxTxSize() int {
	return dma.MaxCount
}

func (d *Device) String() string {
	return d.conf.Instance.String()
}

// Port adapts an instance to periph.io's spi.Port.
type Port struct {
	drv   *Driver
	conf  Config
	limit physic.Frequency
	dev   *Device
}

// Port returns a port for the instance and pins of conf. The prescaler and
// clock mode are chosen by Connect.
func (d *Driver) Port(conf Config) *Port {
	return &Port{drv: d, conf: conf}
}

func (p *Port) String() string {
	return p.conf.Instance.String()
}

func (p *Port) LimitSpeed(f physic.Frequency) error {
	if f <= 0 {
		return errors.New("spi: invalid speed limit")
	}
	p.limit = f
	return nil
}

// Connect opens the instance with the fastest SCK not above f.
func (p *Port) Connect(f physic.Frequency, mode spi.Mode, bits int) (spi.Conn, error) {
	if p.dev != nil {
		return nil, ErrInstanceInUse
	}
	if bits != 8 {
		return nil, fmt.Errorf("spi: %d bits per word unsupported", bits)
	}
	if mode&spi.HalfDuplex != 0 {
		return nil, errors.New("spi: half duplex unsupported")
	}
	if p.limit != 0 && (f == 0 || f > p.limit) {
		f = p.limit
	}
	if p.conf.Instance >= InstanceCount {
		return nil, ErrInvalidInstance
	}
	pclk := p.drv.rcc.Clocks().Of(hwTable[p.conf.Instance].clock.Bus)
	presc, err := prescalerFor(pclk, f)
	if err != nil {
		return nil, err
	}
	conf := p.conf
	conf.Prescaler = presc
	conf.CPOL = mode&spi.Mode2 != 0
	conf.CPHA = mode&spi.Mode1 != 0
	conf.LSBFirst = mode&spi.LSBFirst != 0
	dev, err := p.drv.Open(conf)
	if err != nil {
		return nil, err
	}
	p.dev = dev
	return dev, nil
}

func (p *Port) Close() error {
	if p.dev == nil {
		return nil
	}
	err := p.dev.Close()
	p.dev = nil
	return err
}

// prescalerFor returns the smallest prescaler dividing pclk Hz to at most
// f. A zero f selects the fastest clock.
func prescalerFor(pclk uint32, f physic.Frequency) (int, error) {
	if f == 0 {
		return 2, nil
	}
	for presc := 2; presc <= 256; presc *= 2 {
		if physic.Frequency(pclk)*physic.Hertz/physic.Frequency(presc) <= f {
			return presc, nil
		}
	}
	return 0, fmt.Errorf("%w: %s is below %s/256", ErrInvalidPrescaler, f, physic.Frequency(pclk)*physic.Hertz)
}

// Frequency returns the SCK frequency of the device.
func (d *Device) Frequency() physic.Frequency {
	pclk := d.drv.rcc.Clocks().Of(d.hw.clock.Bus)
	return physic.Frequency(pclk) * physic.Hertz / physic.Frequency(d.conf.Prescaler)
}
