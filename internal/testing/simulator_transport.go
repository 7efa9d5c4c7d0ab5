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

package testing

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// TransportType mirrors the root package's TransportType to avoid an
// import cycle.
type TransportType string

// TransportSimulator identifies the simulator-backed transport.
const TransportSimulator TransportType = "simulator"

// CommandLogEntry records one command sent through the transport.
type CommandLogEntry struct {
	Timestamp time.Time
	Args      []byte
	Cmd       byte
}

// SimulatorTransport drives a VirtualModem through the wire codec and
// exposes the transport method set the client expects. Integration
// tests wrap it in a thin adapter to satisfy the root Transport
// interface.
type SimulatorTransport struct {
	sim        *VirtualModem
	CommandLog []CommandLogEntry
	timeout    time.Duration
	connected  bool
}

// NewSimulatorTransport creates a transport backed by the given
// VirtualModem.
func NewSimulatorTransport(sim *VirtualModem) *SimulatorTransport {
	return &SimulatorTransport{
		sim:        sim,
		timeout:    time.Second,
		connected:  true,
		CommandLog: make([]CommandLogEntry, 0),
	}
}

// SendCommand frames cmd and args, passes the frame through the
// simulator and returns the response body (response id followed by
// payload).
func (t *SimulatorTransport) SendCommand(cmd byte, args []byte) ([]byte, error) {
	return t.SendCommandWithContext(context.Background(), cmd, args)
}

// SendCommandWithContext is SendCommand with cancellation support.
func (t *SimulatorTransport) SendCommandWithContext(ctx context.Context, cmd byte, args []byte) ([]byte, error) {
	if !t.connected {
		return nil, errors.New("transport closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("send %#02x: %w", cmd, err)
	}

	t.CommandLog = append(t.CommandLog, CommandLogEntry{
		Cmd:       cmd,
		Args:      append([]byte(nil), args...), // Copy to avoid mutation
		Timestamp: time.Now(),
	})

	if _, err := t.sim.Write(buildFrame(cmd, args)); err != nil {
		return nil, fmt.Errorf("write frame: %w", err)
	}

	// The simulator answers synchronously; a deadline stands in for a
	// silent modem (dropped response injection).
	deadline := time.Now().Add(t.timeout)
	buf := make([]byte, int(t.sim.rpcBufferLen)+frameOverhead)
	filled := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("read frame: %w", err)
		}
		n, err := t.sim.Read(buf[filled:])
		if err != nil {
			return nil, fmt.Errorf("read frame: %w", err)
		}
		filled += n
		if complete(buf[:filled]) {
			break
		}
		if time.Now().After(deadline) {
			return nil, errors.New("response timeout")
		}
		time.Sleep(time.Millisecond)
	}

	id, payload, ok := parseFrame(buf[:filled])
	if !ok {
		return nil, errors.New("malformed response frame")
	}
	return append([]byte{id}, payload...), nil
}

// complete reports whether buf holds at least one whole frame.
func complete(buf []byte) bool {
	if len(buf) < 4 {
		return false
	}
	return len(buf) >= int(binary.LittleEndian.Uint16(buf[2:]))+frameOverhead
}

// Close closes the transport.
func (t *SimulatorTransport) Close() error {
	t.connected = false
	return nil
}

// SetTimeout sets the response wait budget.
func (t *SimulatorTransport) SetTimeout(timeout time.Duration) error {
	t.timeout = timeout
	return nil
}

// IsConnected reports whether the transport is open.
func (t *SimulatorTransport) IsConnected() bool {
	return t.connected
}

// Type returns the transport type.
func (*SimulatorTransport) Type() TransportType {
	return TransportSimulator
}
