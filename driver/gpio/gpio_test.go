package gpio

import (
	"testing"

	"nucleo.dev/device/stm32f4"
	"nucleo.dev/driver/rcc"
	"nucleo.dev/internal/f4sim"
)

func TestPinNames(t *testing.T) {
	tests := []struct {
		pin  Pin
		want string
	}{
		{PA0, "PA0"},
		{PA15, "PA15"},
		{PB13, "PB13"},
		{PC6, "PC6"},
		{PE14, "PE14"},
		{PH1, "PH1"},
		{NoPin, "NoPin"},
	}
	for _, test := range tests {
		if got := test.pin.String(); got != test.want {
			t.Errorf("Pin(%d).String() = %q, want %q", test.pin, got, test.want)
		}
	}
}

func TestConfigure(t *testing.T) {
	dev := f4sim.New()
	clocks := rcc.New(dev)
	c := New(dev, clocks)
	c.Configure(PA5, Config{Mode: AltFunc, Speed: SpeedHigh, AF: 5})
	c.Configure(PA10, Config{Mode: AltFunc, Pull: PullUp, AF: 7})
	if !clocks.Enabled(rcc.GPIO(0)) {
		t.Errorf("port A clock not enabled")
	}
	port := uint32(stm32f4.GPIOA)
	if got, want := dev.Peek(port+stm32f4.GPIO_MODER), uint32(2<<10|2<<20); got != want {
		t.Errorf("MODER = %#x, want %#x", got, want)
	}
	if got, want := dev.Peek(port+stm32f4.GPIO_AFRL), uint32(5<<20); got != want {
		t.Errorf("AFRL = %#x, want %#x", got, want)
	}
	if got, want := dev.Peek(port+stm32f4.GPIO_AFRH), uint32(7<<8); got != want {
		t.Errorf("AFRH = %#x, want %#x", got, want)
	}
	if got, want := dev.Peek(port+stm32f4.GPIO_OSPEEDR), uint32(3<<10); got != want {
		t.Errorf("OSPEEDR = %#x, want %#x", got, want)
	}
	if got, want := dev.Peek(port+stm32f4.GPIO_PUPDR), uint32(1<<20); got != want {
		t.Errorf("PUPDR = %#x, want %#x", got, want)
	}
	c.Reset(PA5)
	if m := c.Mode(PA5); m != Input {
		t.Errorf("mode after reset = %d", m)
	}
	if m := c.Mode(PA10); m != AltFunc {
		t.Errorf("reset of PA5 changed PA10 to mode %d", m)
	}
}

func TestSetGet(t *testing.T) {
	dev := f4sim.New()
	c := New(dev, rcc.New(dev))
	c.Configure(PB3, Config{Mode: Output})
	c.Set(PB3, true)
	if !c.Get(PB3) {
		t.Errorf("PB3 low after Set(true)")
	}
	c.Set(PB3, false)
	if c.Get(PB3) {
		t.Errorf("PB3 high after Set(false)")
	}
}
