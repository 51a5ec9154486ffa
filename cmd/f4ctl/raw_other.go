//go:build !linux

package main

// makeRaw leaves the terminal in its current mode.
func makeRaw(fd int) (restore func(), err error) {
	return func() {}, nil
}
