// Copyright 2026 The OpenModem Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package uart implements the modem transport over a serial port.
//
// The modem's DFU bootloader is exposed through a USB-CDC or hardware
// UART at 115200 8N1. Each command is one RPC frame; the bootloader
// answers with exactly one response frame and never speaks
// unsolicited, so the exchange is strictly half duplex.
package uart

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	fmfu "github.com/OpenModemProject/go-fmfu"
	"github.com/OpenModemProject/go-fmfu/internal/rpc"
	"go.bug.st/serial"
)

// DefaultBaudRate is the rate the bootloader UART runs at.
const DefaultBaudRate = 115200

// Transport implements the fmfu.Transport interface for UART
// communication.
type Transport struct {
	port     serial.Port
	reader   *rpc.Reader
	portName string
	mu       sync.Mutex
}

// isWindows returns true if running on Windows.
func isWindows() bool {
	return runtime.GOOS == "windows"
}

// portReadTimeout returns the serial read timeout. Windows USB-CDC
// drivers need a larger value for stable delivery.
func portReadTimeout() time.Duration {
	if isWindows() {
		return 100 * time.Millisecond
	}
	return 50 * time.Millisecond
}

// windowsPostWriteDelay gives Windows drivers time to flush their
// buffers after a write.
func windowsPostWriteDelay() {
	if isWindows() {
		time.Sleep(15 * time.Millisecond)
	}
}

// New opens portName at the default baud rate.
func New(portName string) (*Transport, error) {
	return NewWithBaudRate(portName, DefaultBaudRate)
}

// NewWithBaudRate opens portName at the given baud rate, 8N1.
func NewWithBaudRate(portName string, baudRate int) (*Transport, error) {
	port, err := serial.Open(portName, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open UART port %s: %w", portName, err)
	}

	if err := port.SetReadTimeout(portReadTimeout()); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to set UART read timeout: %w", err)
	}

	t := &Transport{
		port:     port,
		portName: portName,
	}
	t.reader = rpc.NewReader(port)
	return t, nil
}

// SendCommand sends one command frame and waits for the response
// frame. The returned slice carries the response id followed by the
// payload.
func (t *Transport) SendCommand(cmd byte, args []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.sendFrame(cmd, args); err != nil {
		return nil, err
	}
	return t.receiveResponse(cmd)
}

// SendCommandWithContext sends a command with context support.
func (t *Transport) SendCommandWithContext(ctx context.Context, cmd byte, args []byte) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	// Without a port (tests), model a blocking exchange that the
	// context can interrupt.
	if t.port == nil {
		select {
		case <-time.After(100 * time.Millisecond):
			return nil, errors.New("simulated UART error: no port available")
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := t.SendCommand(cmd, args)
		done <- result{data: data, err: err}
	}()

	select {
	case r := <-done:
		return r.data, r.err
	case <-ctx.Done():
		// The port exchange finishes on its own timeout; the buffered
		// channel lets the goroutine exit either way.
		return nil, ctx.Err()
	}
}

// SetTimeout sets the read timeout for the transport.
func (t *Transport) SetTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.port.SetReadTimeout(timeout); err != nil {
		return fmt.Errorf("UART set timeout failed: %w", err)
	}
	return nil
}

// Close closes the transport connection.
func (t *Transport) Close() error {
	if t.port != nil {
		if err := t.port.Close(); err != nil {
			return fmt.Errorf("UART close failed: %w", err)
		}
	}
	return nil
}

// IsConnected returns true if the transport is connected.
func (t *Transport) IsConnected() bool {
	return t.port != nil
}

// Type returns the transport type.
func (*Transport) Type() fmfu.TransportType {
	return fmfu.TransportUART
}

// isInterruptedSystemCall checks if an error is caused by an
// interrupted system call.
func isInterruptedSystemCall(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "interrupted system call") ||
		strings.Contains(errStr, "eintr")
}

// drainWithRetry performs port drain with retry logic for interrupted
// system calls.
func (t *Transport) drainWithRetry(operation string) error {
	baseDelay := 2 * time.Millisecond

	for attempt := 0; attempt < fmfu.TransportDrainRetries; attempt++ {
		err := t.port.Drain()
		if err == nil {
			return nil
		}

		if isInterruptedSystemCall(err) {
			if attempt < fmfu.TransportDrainRetries-1 {
				delay := baseDelay * time.Duration(1<<attempt) // 2ms, 4ms, 8ms
				time.Sleep(delay)
				continue
			}
		}

		return fmt.Errorf("UART %s drain failed: %w", operation, err)
	}

	return fmt.Errorf("UART %s drain failed after %d retries", operation, fmfu.TransportDrainRetries)
}

// sendFrame builds and writes one command frame.
func (t *Transport) sendFrame(cmd byte, args []byte) error {
	frm, err := rpc.Build(cmd, args)
	if err != nil {
		return fmt.Errorf("UART build frame: %w", err)
	}

	n, err := t.port.Write(frm)
	if err != nil {
		return fmt.Errorf("UART send frame write failed: %w", err)
	} else if n != len(frm) {
		return fmfu.NewTransportWriteError("sendFrame", t.portName)
	}

	if err := t.drainWithRetry("send frame"); err != nil {
		return err
	}
	windowsPostWriteDelay()
	return nil
}

// receiveResponse reads response frames until one parses cleanly or
// the retry budget runs out. A frame that fails its checksum is
// dropped and the next read attempt picks up the re-sync from the
// stream.
func (t *Transport) receiveResponse(cmd byte) ([]byte, error) {
	var lastErr error
	for tries := 0; tries < fmfu.TransportFrameRetries; tries++ {
		id, payload, err := t.reader.ReadFrame()
		if err == nil {
			return append([]byte{id}, payload...), nil
		}
		lastErr = err

		if errors.Is(err, fmfu.ErrTransportTimeout) {
			return nil, &fmfu.TransportError{
				Op: "receiveResponse", Port: t.portName,
				Err:       fmfu.ErrTransportTimeout,
				Type:      fmfu.ErrorTypeTransient,
				Retryable: true,
			}
		}
		// Corrupted or truncated frame: scan on for the next start
		// marker. The bootloader does not retransmit, so exhausting
		// the budget surfaces the error to the retry layer.
	}

	return nil, fmt.Errorf("UART receive response to %#02x: %w", cmd, lastErr)
}
