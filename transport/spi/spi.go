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

// Package spi provides the modem transport over an SPI bridge.
//
// Boards without a spare UART route the bootloader RPC channel through
// an SPI bridge MCU. The bridge prefixes every exchange with a
// direction byte and exposes a status register the host polls until
// the modem side has a response frame staged.
package spi

import (
	"context"
	"fmt"
	"time"

	fmfu "github.com/OpenModemProject/go-fmfu"
	"github.com/OpenModemProject/go-fmfu/internal/rpc"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

const (
	// Bridge register selectors, sent as the first byte of each
	// exchange.
	spiDataWrite  = 0x01
	spiStatusRead = 0x02
	spiDataRead   = 0x03

	// Status register ready bit: a response frame is staged.
	spiReady = 0x01

	// Default SPI settings
	defaultFreq = 1 * physic.MegaHertz
	mode        = spi.Mode0 // CPOL=0, CPHA=0
)

// Transport implements the fmfu.Transport interface for SPI
// communication.
type Transport struct {
	port         spi.PortCloser
	conn         spi.Conn
	currentTrace *fmfu.TraceBuffer // Trace buffer for current command (error-only)
	portName     string
	timeout      time.Duration
}

// traceTX records a TX operation if trace buffer is active
func (t *Transport) traceTX(data []byte, note string) {
	if t.currentTrace != nil {
		t.currentTrace.RecordTX(data, note)
	}
}

// traceRX records an RX operation if trace buffer is active
func (t *Transport) traceRX(data []byte, note string) {
	if t.currentTrace != nil {
		t.currentTrace.RecordRX(data, note)
	}
}

// traceTimeout records a timeout if trace buffer is active
func (t *Transport) traceTimeout(note string) {
	if t.currentTrace != nil {
		t.currentTrace.RecordTimeout(note)
	}
}

// New creates a new SPI transport on the named port.
func New(portName string) (*Transport, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	port, err := spireg.Open(portName)
	if err != nil {
		return nil, fmt.Errorf("failed to open SPI port %s: %w", portName, err)
	}

	conn, err := port.Connect(defaultFreq, mode, 8)
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to connect SPI: %w", err)
	}

	return &Transport{
		port:     port,
		conn:     conn,
		portName: portName,
		timeout:  time.Second,
	}, nil
}

// waitReady polls the bridge status register until a response frame is
// staged.
func (t *Transport) waitReady() error {
	deadline := time.Now().Add(t.timeout)
	statusCmd := []byte{spiStatusRead, 0x00}
	statusResp := make([]byte, 2)

	for time.Now().Before(deadline) {
		if err := t.conn.Tx(statusCmd, statusResp); err != nil {
			return fmt.Errorf("SPI status read failed: %w", err)
		}
		if statusResp[1]&spiReady != 0 {
			return nil
		}
		time.Sleep(time.Millisecond)
	}

	return fmfu.NewTransportNotReadyError("waitReady", t.portName)
}

// SendCommand sends a command frame through the bridge and reads the
// staged response. The returned slice carries the response id followed
// by the payload.
//
//nolint:wrapcheck // WrapError intentionally wraps errors with trace data
func (t *Transport) SendCommand(cmd byte, args []byte) ([]byte, error) {
	// Trace buffer for this command, surfaced only on error.
	t.currentTrace = fmfu.NewTraceBuffer("SPI", t.portName, 16)
	defer func() { t.currentTrace = nil }()

	if err := t.sendFrame(cmd, args); err != nil {
		return nil, t.currentTrace.WrapError(err)
	}

	resp, err := t.receiveFrame()
	if err != nil {
		return nil, t.currentTrace.WrapError(err)
	}
	return resp, nil
}

// SendCommandWithContext sends a command with context support.
func (t *Transport) SendCommandWithContext(ctx context.Context, cmd byte, args []byte) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return t.SendCommand(cmd, args)
}

// sendFrame writes one command frame behind a data-write selector.
func (t *Transport) sendFrame(cmd byte, args []byte) error {
	frm, err := rpc.Build(cmd, args)
	if err != nil {
		return fmt.Errorf("SPI build frame: %w", err)
	}

	buf := make([]byte, len(frm)+1)
	buf[0] = spiDataWrite
	copy(buf[1:], frm)

	t.traceTX(frm, fmt.Sprintf("Cmd 0x%02X", cmd))

	if err := t.conn.Tx(buf, nil); err != nil {
		return fmfu.NewTransportWriteError("sendFrame", t.portName)
	}
	return nil
}

// receiveFrame reads the staged response: first the frame header to
// learn the payload length, then the rest of the frame.
func (t *Transport) receiveFrame() ([]byte, error) {
	if err := t.waitReady(); err != nil {
		t.traceTimeout("Bridge never signalled ready")
		return nil, err
	}

	readCmd := []byte{spiDataRead}

	// Header first: selector echo plus SOP, id and length.
	headerBuf := make([]byte, 1+rpc.HeaderLen)
	if err := t.conn.Tx(readCmd, headerBuf); err != nil {
		return nil, fmfu.NewTransportReadError("receiveFrame", t.portName)
	}
	header := headerBuf[1:]

	total := rpc.FrameLen(header)
	if total == 0 || total > rpc.MaxFrameLen {
		t.traceRX(header, "Bad header")
		return nil, fmfu.NewFrameCorruptedError("receiveFrame", t.portName)
	}

	// Rest of the frame: payload, checksum and end marker.
	restBuf := make([]byte, 1+total-rpc.HeaderLen)
	if err := t.conn.Tx(readCmd, restBuf); err != nil {
		return nil, fmfu.NewTransportReadError("receiveFrame", t.portName)
	}

	frm := make([]byte, 0, total)
	frm = append(frm, header...)
	frm = append(frm, restBuf[1:]...)
	t.traceRX(frm, "Response")

	id, payload, err := rpc.Parse(frm)
	if err != nil {
		return nil, fmt.Errorf("SPI response frame: %w", err)
	}
	return append([]byte{id}, payload...), nil
}

// SetTimeout sets the ready-poll budget for responses.
func (t *Transport) SetTimeout(timeout time.Duration) error {
	t.timeout = timeout
	return nil
}

// Close closes the transport connection.
func (t *Transport) Close() error {
	if t.port != nil {
		if err := t.port.Close(); err != nil {
			return fmt.Errorf("SPI close failed: %w", err)
		}
	}
	return nil
}

// IsConnected returns true if the transport is connected.
func (t *Transport) IsConnected() bool {
	return t.conn != nil
}

// Type returns the transport type.
func (*Transport) Type() fmfu.TransportType {
	return fmfu.TransportSPI
}
