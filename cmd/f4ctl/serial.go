package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/tarm/serial"

	"nucleo.dev/internal/diag"
)

const replyTimeout = 500 * time.Millisecond

// prompt ends every console reply.
const prompt = "\n> "

func openConsole(opts *options) (*serial.Port, error) {
	devices := []string{opts.device}
	if opts.device == "" {
		switch runtime.GOOS {
		case "linux":
			devices = []string{"/dev/ttyACM0", "/dev/ttyACM1"}
		case "darwin":
			devices = []string{"/dev/cu.usbmodem1103"}
		case "windows":
			devices = []string{"COM3"}
		default:
			return nil, errors.New("no device specified")
		}
	}
	var firstErr error
	for _, dev := range devices {
		p, err := serial.OpenPort(&serial.Config{
			Name:        dev,
			Baud:        opts.baud,
			ReadTimeout: replyTimeout,
		})
		if err == nil {
			diag.Debug(diag.Console, "opened serial port", "device", dev, "baud", opts.baud)
			return p, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

// command sends a command line to the console and returns its reply with
// the echoed line and the trailing prompt removed. The reply ends at the
// prompt or when the port stops delivering bytes.
func command(rw io.ReadWriter, args ...string) (string, error) {
	line := joinArgs(args)
	if _, err := io.WriteString(rw, line+"\r"); err != nil {
		return "", fmt.Errorf("send %q: %w", line, err)
	}
	var reply bytes.Buffer
	buf := make([]byte, 256)
	for !bytes.HasSuffix(reply.Bytes(), []byte(prompt)) {
		n, err := rw.Read(buf)
		reply.Write(buf[:n])
		if err == io.EOF || (err == nil && n == 0) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read reply: %w", err)
		}
	}
	out := strings.ReplaceAll(reply.String(), "\r", "")
	out = strings.TrimSuffix(out, prompt)
	out = strings.TrimPrefix(out, line+"\n")
	return out, nil
}

// joinArgs quotes arguments so the console splits them back into the
// same words.
func joinArgs(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		if a == "" || strings.ContainsAny(a, " \t'\"\\") {
			a = "'" + strings.ReplaceAll(a, "'", `'"'"'`) + "'"
		}
		quoted[i] = a
	}
	line := strings.Join(quoted, " ")
	if words, err := shlex.Split(line); err != nil || len(words) != len(args) {
		diag.Warn(diag.Console, "command line does not round trip", "line", line)
	}
	return line
}
