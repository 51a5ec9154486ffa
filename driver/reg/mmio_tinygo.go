//go:build tinygo

package reg

import (
	"runtime/volatile"
	"unsafe"
)

type mmio struct{}

// MMIO accesses the registers of the running microcontroller.
var MMIO Bus = mmio{}

func (mmio) Load(addr uint32) uint32 {
	return (*volatile.Register32)(unsafe.Pointer(uintptr(addr))).Get()
}

func (mmio) Store(addr uint32, v uint32) {
	(*volatile.Register32)(unsafe.Pointer(uintptr(addr))).Set(v)
}

func (mmio) Addr(buf []byte) uint32 {
	return uint32(uintptr(unsafe.Pointer(unsafe.SliceData(buf))))
}
