// Package wire encodes board status reports for the host tool. A report
// is CBOR, sent as one line of hex after a fixed prefix.
package wire

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"nucleo.dev/driver/dma"
)

// Prefix starts every status line.
const Prefix = "status:"

var ErrNoStatus = errors.New("wire: not a status line")

// Status is a snapshot of the board.
type Status struct {
	Version    string       `cbor:"1,keyasint,omitempty"`
	DMA        dma.Snapshot `cbor:"2,keyasint"`
	UARTErrors uint32       `cbor:"3,keyasint,omitempty"`
	// SPIBusy lists the SPI instances with a DMA transfer in flight.
	SPIBusy []uint8 `cbor:"4,keyasint,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	dm, err := cbor.DecOptions{
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		panic(err)
	}
	encMode, decMode = em, dm
}

// Marshal encodes s.
func Marshal(s Status) []byte {
	b, err := encMode.Marshal(s)
	if err != nil {
		// Valid by construction.
		panic(err)
	}
	return b
}

func Unmarshal(b []byte) (Status, error) {
	var s Status
	if err := decMode.Unmarshal(b, &s); err != nil {
		return Status{}, fmt.Errorf("wire: decode status: %w", err)
	}
	return s, nil
}

// Line formats s as a status line without line terminator.
func Line(s Status) string {
	return Prefix + hex.EncodeToString(Marshal(s))
}

// ParseLine decodes a status line. Surrounding white space is ignored.
func ParseLine(line string) (Status, error) {
	line = strings.TrimSpace(line)
	enc, ok := strings.CutPrefix(line, Prefix)
	if !ok {
		return Status{}, ErrNoStatus
	}
	b, err := hex.DecodeString(enc)
	if err != nil {
		return Status{}, fmt.Errorf("wire: %w", err)
	}
	return Unmarshal(b)
}

// Find returns the last status line in out, the console output of a
// status request.
func Find(out []byte) (Status, error) {
	lines := bytes.Split(out, []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		if s, err := ParseLine(string(lines[i])); !errors.Is(err, ErrNoStatus) {
			return s, err
		}
	}
	return Status{}, ErrNoStatus
}
