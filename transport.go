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

package fmfu

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Transport defines the interface for exchanging RPC commands with the
// modem. This can be implemented by UART, SPI or shared-memory backends.
// The returned response body is [response id][payload...].
type Transport interface {
	// SendCommand sends a command to the modem and waits for the response
	SendCommand(cmd byte, args []byte) ([]byte, error)

	// SendCommandWithContext sends a command to the modem with context support
	SendCommandWithContext(ctx context.Context, cmd byte, args []byte) ([]byte, error)

	// Close closes the transport connection
	Close() error

	// SetTimeout sets the read timeout for the transport
	SetTimeout(timeout time.Duration) error

	// IsConnected returns true if the transport is connected
	IsConnected() bool

	// Type returns the transport type
	Type() TransportType
}

// TransportType represents the type of transport
type TransportType string

const (
	// TransportUART represents UART/serial transport.
	TransportUART TransportType = "uart"
	// TransportSPI represents SPI bridge transport.
	TransportSPI TransportType = "spi"
	// TransportSHM represents shared-memory IPC transport.
	TransportSHM TransportType = "shm"
	// TransportMock represents a mock transport for testing
	TransportMock TransportType = "mock"
)

// TransportWithRetry wraps a Transport with retry capabilities
type TransportWithRetry struct {
	transport Transport
	config    *RetryConfig
}

// NewTransportWithRetry creates a new transport wrapper with retry logic
func NewTransportWithRetry(transport Transport, config *RetryConfig) *TransportWithRetry {
	if config == nil {
		config = DefaultRetryConfig()
	}
	return &TransportWithRetry{
		transport: transport,
		config:    config,
	}
}

// SendCommand sends a command with retry logic
func (t *TransportWithRetry) SendCommand(cmd byte, args []byte) ([]byte, error) {
	var result []byte
	err := RetryCommand(context.Background(), cmd, func() error {
		var err error
		result, err = t.transport.SendCommand(cmd, args)
		if err != nil {
			// Try recovery for recoverable errors
			if IsRecoverable(err) && t.attemptRecovery(cmd) == nil {
				// Recovery succeeded, retry once
				if retryResult, retryErr := t.transport.SendCommand(cmd, args); retryErr == nil {
					result = retryResult
					return nil
				}
			}
			// Wrap transport errors for better error handling
			return &TransportError{
				Op:        "SendCommand",
				Err:       err,
				Type:      GetErrorType(err),
				Retryable: IsRetryable(err),
			}
		}
		return nil
	})
	return result, err
}

// SendCommandWithContext sends a command with context support and retry logic
func (t *TransportWithRetry) SendCommandWithContext(ctx context.Context, cmd byte, args []byte) ([]byte, error) {
	var result []byte
	err := RetryCommand(ctx, cmd, func() error {
		var err error
		result, err = t.transport.SendCommandWithContext(ctx, cmd, args)
		if err != nil {
			// Try recovery for recoverable errors
			if IsRecoverable(err) && t.attemptRecoveryWithContext(ctx, cmd) == nil {
				// Recovery succeeded, retry once
				if retryResult, retryErr := t.transport.SendCommandWithContext(ctx, cmd, args); retryErr == nil {
					result = retryResult
					return nil
				}
			}
			// Wrap transport errors for better error handling
			return &TransportError{
				Op:        "SendCommandWithContext",
				Err:       err,
				Type:      GetErrorType(err),
				Retryable: IsRetryable(err),
			}
		}
		return nil
	})
	return result, err
}

// attemptRecovery attempts to resynchronize a desynced link
func (t *TransportWithRetry) attemptRecovery(originalCmd byte) error {
	return t.attemptRecoveryWithContext(context.Background(), originalCmd)
}

// attemptRecoveryWithContext attempts recovery with context support
func (t *TransportWithRetry) attemptRecoveryWithContext(
	ctx context.Context, originalCmd byte,
) error {
	// Skip recovery when the failed command was the health check itself, and
	// for bootloader chunk writes: the modem stores those in arrival order,
	// so they must never be replayed behind the caller's back.
	if originalCmd == cmdGetUUID || originalCmd == cmdInit || originalCmd == cmdWriteBootloaderChunk {
		return errors.New("recovery not applicable for this command")
	}

	// The identity query is read-only in every DFU state, which makes it a
	// safe link health check.
	if _, err := t.transport.SendCommandWithContext(ctx, cmdGetUUID, nil); err != nil {
		return fmt.Errorf("recovery health check failed: %w", err)
	}

	return nil
}

// Close closes the transport connection
func (t *TransportWithRetry) Close() error {
	if err := t.transport.Close(); err != nil {
		return fmt.Errorf("failed to close underlying transport: %w", err)
	}
	return nil
}

// SetTimeout sets the read timeout for the transport
func (t *TransportWithRetry) SetTimeout(timeout time.Duration) error {
	if err := t.transport.SetTimeout(timeout); err != nil {
		return fmt.Errorf("failed to set timeout on underlying transport: %w", err)
	}
	return nil
}

// IsConnected returns true if the transport is connected
func (t *TransportWithRetry) IsConnected() bool {
	return t.transport.IsConnected()
}

// Type returns the transport type
func (t *TransportWithRetry) Type() TransportType {
	return t.transport.Type()
}

// SetRetryConfig updates the retry configuration
func (t *TransportWithRetry) SetRetryConfig(config *RetryConfig) {
	t.config = config
}

// MockTransport provides a mock implementation of Transport for testing
type MockTransport struct {
	responses map[byte][]byte
	callCount map[byte]int
	errorMap  map[byte]error
	lastArgs  map[byte][]byte
	timeout   time.Duration
	delay     time.Duration
	mu        sync.RWMutex
	connected bool
}

// NewMockTransport creates a new mock transport
func NewMockTransport() *MockTransport {
	return &MockTransport{
		connected: true,
		timeout:   time.Second,
		responses: make(map[byte][]byte),
		callCount: make(map[byte]int),
		delay:     0,
		errorMap:  make(map[byte]error),
		lastArgs:  make(map[byte][]byte),
	}
}

// SendCommand implements Transport interface
func (m *MockTransport) SendCommand(cmd byte, args []byte) ([]byte, error) {
	m.mu.RLock()
	connected := m.connected
	delay := m.delay
	m.mu.RUnlock()

	if !connected {
		return nil, ErrTransportClosed
	}

	// Simulate hardware delay if configured
	if delay > 0 {
		time.Sleep(delay)
	}

	return m.respond(cmd, args)
}

// SendCommandWithContext implements Transport interface with context support
func (m *MockTransport) SendCommandWithContext(ctx context.Context, cmd byte, args []byte) ([]byte, error) {
	// Check context cancellation first
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	m.mu.RLock()
	connected := m.connected
	delay := m.delay
	m.mu.RUnlock()

	if !connected {
		return nil, ErrTransportClosed
	}

	// Simulate hardware delay if configured with context awareness
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return m.respond(cmd, args)
}

// respond records the call and produces the configured outcome
func (m *MockTransport) respond(cmd byte, args []byte) ([]byte, error) {
	m.mu.Lock()
	// Track call count and the payload that was sent
	m.callCount[cmd]++
	argsCopy := make([]byte, len(args))
	copy(argsCopy, args)
	m.lastArgs[cmd] = argsCopy

	// Check for injected error
	if err, exists := m.errorMap[cmd]; exists {
		m.mu.Unlock()
		return nil, err
	}

	// Return configured response
	if response, exists := m.responses[cmd]; exists {
		m.mu.Unlock()
		return response, nil
	}
	m.mu.Unlock()

	// Default response: echo the command id with an empty payload
	return []byte{cmd}, nil
}

// Close implements Transport interface
func (m *MockTransport) Close() error {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
	return nil
}

// SetTimeout implements Transport interface
func (m *MockTransport) SetTimeout(timeout time.Duration) error {
	m.mu.Lock()
	m.timeout = timeout
	m.mu.Unlock()
	return nil
}

// IsConnected implements Transport interface
func (m *MockTransport) IsConnected() bool {
	m.mu.RLock()
	connected := m.connected
	m.mu.RUnlock()
	return connected
}

// Type implements Transport interface
func (*MockTransport) Type() TransportType {
	return TransportMock
}

// Test helper methods

// SetResponse configures a response for a specific command
func (m *MockTransport) SetResponse(cmd byte, response []byte) {
	m.mu.Lock()
	m.responses[cmd] = response
	m.mu.Unlock()
}

// SetError configures an error to be returned for a specific command
func (m *MockTransport) SetError(cmd byte, err error) {
	m.mu.Lock()
	m.errorMap[cmd] = err
	m.mu.Unlock()
}

// ClearError removes error injection for a command
func (m *MockTransport) ClearError(cmd byte) {
	m.mu.Lock()
	delete(m.errorMap, cmd)
	m.mu.Unlock()
}

// SetDelay configures a delay to simulate hardware response time
func (m *MockTransport) SetDelay(delay time.Duration) {
	m.mu.Lock()
	m.delay = delay
	m.mu.Unlock()
}

// GetCallCount returns how many times a command was called
func (m *MockTransport) GetCallCount(cmd byte) int {
	m.mu.RLock()
	count := m.callCount[cmd]
	m.mu.RUnlock()
	return count
}

// GetLastArgs returns the payload most recently sent for a command
func (m *MockTransport) GetLastArgs(cmd byte) []byte {
	m.mu.RLock()
	args := m.lastArgs[cmd]
	m.mu.RUnlock()
	return args
}

// Reset clears all call counts and resets state
func (m *MockTransport) Reset() {
	m.mu.Lock()
	m.callCount = make(map[byte]int)
	m.lastArgs = make(map[byte][]byte)
	m.connected = true
	m.mu.Unlock()
}
