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
	"time"

	"github.com/OpenModemProject/go-fmfu/detection"
	"github.com/OpenModemProject/go-fmfu/internal/syncutil"
)

// ClientConfig contains configuration options for the Client
type ClientConfig struct {
	// RetryConfig configures retry behavior for transport operations
	RetryConfig *RetryConfig
	// Timeout overrides the per-command response timeouts when non-zero.
	// Leave zero to keep the per-command defaults (flash and reboot
	// commands get longer budgets than control commands).
	Timeout time.Duration
}

// DefaultClientConfig returns default client configuration
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		RetryConfig: DefaultRetryConfig(),
		Timeout:     0,
	}
}

// Client drives a full modem firmware update session over a Transport.
//
// Thread Safety: Client is safe for concurrent use. A single mutex
// serializes command exchange and state transitions, so concurrent calls
// execute one at a time. The tracked modem state mirrors the modem
// lifecycle locally and is maintained under the same mutex.
type Client struct {
	transport    Transport
	config       *ClientConfig
	mu           syncutil.Mutex
	state        ModemState
	rpcBufferLen uint32
}

// Option represents a functional option for New
type Option func(*Client) error

// WithTimeout overrides the per-command response timeouts with a single value
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) error {
		if timeout <= 0 {
			return fmt.Errorf("timeout must be positive, got %v", timeout)
		}
		c.config.Timeout = timeout
		return nil
	}
}

// WithRetryConfig sets the retry configuration used by WithTransportRetry
func WithRetryConfig(config *RetryConfig) Option {
	return func(c *Client) error {
		if config == nil {
			return errors.New("retry config must not be nil")
		}
		c.config.RetryConfig = config
		return nil
	}
}

// WithTransportRetry wraps the transport with retry logic. The core client
// imposes no retry policy of its own; this option opts in to per-command
// retry profiles at the transport boundary.
func WithTransportRetry() Option {
	return func(c *Client) error {
		c.transport = NewTransportWithRetry(c.transport, c.config.RetryConfig)
		return nil
	}
}

// New creates a new modem update client with the given transport
func New(transport Transport, opts ...Option) (*Client, error) {
	if transport == nil {
		return nil, fmt.Errorf("transport is required: %w", ErrInvalidArgument)
	}

	client := &Client{
		transport: transport,
		config:    DefaultClientConfig(),
		state:     StateUninitialized,
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(client); err != nil {
			return nil, err
		}
	}

	return client, nil
}

// TransportFactory is a function type for creating transports
type TransportFactory func(path string) (Transport, error)

// TransportFromDeviceFactory is a function type for creating transports from detected devices
type TransportFromDeviceFactory func(device detection.DeviceInfo) (Transport, error)

// ConnectOption represents a functional option for ConnectModem
type ConnectOption func(*connectConfig) error

// connectConfig holds configuration options for modem connection
type connectConfig struct {
	transportFactory       TransportFactory
	transportDeviceFactory TransportFromDeviceFactory
	deviceDetector         func(*detection.Options) ([]detection.DeviceInfo, error)
	clientOptions          []Option
	timeout                time.Duration
	autoDetect             bool
	connectionRetries      int
}

// WithAutoDetection enables automatic device detection instead of using a specific path
func WithAutoDetection() ConnectOption {
	return func(c *connectConfig) error {
		c.autoDetect = true
		return nil
	}
}

// WithClientOptions adds client-level options
func WithClientOptions(opts ...Option) ConnectOption {
	return func(c *connectConfig) error {
		c.clientOptions = append(c.clientOptions, opts...)
		return nil
	}
}

// WithConnectTimeout sets the transport read timeout applied after connecting
func WithConnectTimeout(timeout time.Duration) ConnectOption {
	return func(c *connectConfig) error {
		c.timeout = timeout
		return nil
	}
}

// WithTransportFactory sets the transport factory function
func WithTransportFactory(factory TransportFactory) ConnectOption {
	return func(c *connectConfig) error {
		c.transportFactory = factory
		return nil
	}
}

// WithTransportFromDeviceFactory sets the transport from device factory function
func WithTransportFromDeviceFactory(factory TransportFromDeviceFactory) ConnectOption {
	return func(c *connectConfig) error {
		c.transportDeviceFactory = factory
		return nil
	}
}

// WithConnectionRetries sets the number of connection retry attempts
func WithConnectionRetries(maxAttempts int) ConnectOption {
	return func(c *connectConfig) error {
		if maxAttempts < 1 {
			return fmt.Errorf("connection retries must be at least 1, got %d", maxAttempts)
		}
		c.connectionRetries = maxAttempts
		return nil
	}
}

// WithDeviceDetector sets a custom device detector function for auto-detection
func WithDeviceDetector(detector func(*detection.Options) ([]detection.DeviceInfo, error)) ConnectOption {
	return func(c *connectConfig) error {
		c.deviceDetector = detector
		return nil
	}
}

func applyConnectOptions(opts []ConnectOption) (*connectConfig, error) {
	config := &connectConfig{
		autoDetect:             false,
		clientOptions:          nil,
		timeout:                0,
		transportFactory:       nil,
		transportDeviceFactory: nil,
		connectionRetries:      DefaultConnectionRetries,
	}

	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, fmt.Errorf("failed to apply connect option: %w", err)
		}
	}

	return config, nil
}

func createTransport(path string, config *connectConfig) (Transport, error) {
	if config.autoDetect || path == "" {
		return createAutoDetectedTransport(config.transportDeviceFactory, config.deviceDetector)
	}
	return createManualTransport(path, config.transportFactory)
}

// createTransportWithRetry wraps transport creation with retry logic.
// Opening a serial device right after USB enumeration fails transiently
// often enough to be worth a few attempts.
func createTransportWithRetry(path string, config *connectConfig) (Transport, error) {
	// Auto-detection bypasses retry logic (single scan only)
	if config.autoDetect || path == "" {
		return createTransport(path, config)
	}

	retryConfig := &RetryConfig{
		MaxAttempts:       config.connectionRetries,
		InitialBackoff:    ConnectionInitialBackoff,
		MaxBackoff:        ConnectionMaxBackoff,
		BackoffMultiplier: ConnectionBackoffMultiplier,
		Jitter:            ConnectionJitter,
		RetryTimeout:      ConnectionRetryTimeout,
	}

	var transport Transport
	err := RetryWithConfig(context.Background(), retryConfig, func() error {
		var err error
		transport, err = createTransport(path, config)
		if err != nil {
			return &TransportError{
				Op:        "connect",
				Port:      path,
				Err:       err,
				Type:      ErrorTypeTransient,
				Retryable: true,
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open transport after %d attempts: %w", config.connectionRetries, err)
	}

	return transport, nil
}

// ConnectModem creates a client from a device path or auto-detection.
// This is a high-level convenience function that handles transport creation
// and client configuration. It does not call Init: entering DFU mode reboots
// the modem, so that step stays explicit.
//
// Example usage:
//
//	// Connect to specific device
//	client, err := fmfu.ConnectModem("/dev/ttyACM0", fmfu.WithTransportFactory(factory))
//
//	// Auto-detect device
//	client, err := fmfu.ConnectModem("", fmfu.WithAutoDetection(),
//	    fmfu.WithTransportFromDeviceFactory(deviceFactory))
func ConnectModem(path string, opts ...ConnectOption) (*Client, error) {
	config, err := applyConnectOptions(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to apply connect options: %w", err)
	}

	transport, err := createTransportWithRetry(path, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	client, err := New(transport, config.clientOptions...)
	if err != nil {
		_ = transport.Close()
		return nil, err
	}

	if config.timeout > 0 {
		if err := client.SetTimeout(config.timeout); err != nil {
			_ = transport.Close()
			return nil, err
		}
	}

	return client, nil
}

// createManualTransport handles creation of transport for a specific path
func createManualTransport(path string, factory TransportFactory) (Transport, error) {
	if factory == nil {
		return nil, errors.New("transport factory not provided")
	}

	transport, err := factory(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport for path %s: %w", path, err)
	}

	return transport, nil
}

// createAutoDetectedTransport handles auto-detection of modem devices
func createAutoDetectedTransport(
	factory TransportFromDeviceFactory,
	detector func(*detection.Options) ([]detection.DeviceInfo, error),
) (Transport, error) {
	opts := detection.DefaultOptions()

	var devices []detection.DeviceInfo
	var err error

	if detector != nil {
		devices, err = detector(&opts)
	} else {
		devices, err = detection.DetectAll(&opts)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to detect devices: %w", err)
	}

	if len(devices) == 0 {
		return nil, ErrDeviceNotFound
	}

	// Use the first detected device
	device := devices[0]
	if factory == nil {
		return nil, errors.New("transport device factory not provided")
	}
	return factory(device)
}

// Transport returns the underlying transport
func (c *Client) Transport() Transport {
	return c.transport
}

// State returns the tracked modem state. The client mirrors the modem
// lifecycle locally, so this performs no I/O and never fails.
func (c *Client) State() ModemState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RPCBufferLen returns the RPC buffer length the modem advertised at Init,
// or 0 before a successful Init.
func (c *Client) RPCBufferLen() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rpcBufferLen
}

// MaxChunkSize returns the largest chunk data length that fits the modem
// RPC buffer together with the frame overhead and target address. Returns 0
// before a successful Init.
func (c *Client) MaxChunkSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpcBufferLen == 0 {
		return 0
	}
	return int(c.rpcBufferLen) - frameOverhead - chunkAddrLen
}

// SetTimeout sets a single response timeout for all commands and forwards
// it to the transport
func (c *Client) SetTimeout(timeout time.Duration) error {
	c.mu.Lock()
	c.config.Timeout = timeout
	c.mu.Unlock()
	if err := c.transport.SetTimeout(timeout); err != nil {
		return fmt.Errorf("failed to set timeout on transport: %w", err)
	}
	return nil
}

// SetRetryConfig updates the retry configuration
func (c *Client) SetRetryConfig(config *RetryConfig) {
	c.mu.Lock()
	c.config.RetryConfig = config
	c.mu.Unlock()
	if tr, ok := c.transport.(*TransportWithRetry); ok {
		tr.SetRetryConfig(config)
	}
}

// Close closes the client connection
func (c *Client) Close() error {
	if c.transport != nil {
		if err := c.transport.Close(); err != nil {
			return fmt.Errorf("failed to close transport: %w", err)
		}
	}
	return nil
}

// Init puts the modem into DFU mode. See InitContext.
func (c *Client) Init() (*InitInfo, error) {
	return c.InitContext(context.Background())
}

// End finalizes the update session. See EndContext.
func (c *Client) End() error {
	return c.EndContext(context.Background())
}

// WriteMemoryChunk transmits one memory chunk. See WriteMemoryChunkContext.
func (c *Client) WriteMemoryChunk(chunk *MemoryChunk) error {
	return c.WriteMemoryChunkContext(context.Background(), chunk)
}

// TransferStart begins a segment transfer. See TransferStartContext.
func (c *Client) TransferStart() error {
	return c.TransferStartContext(context.Background())
}

// TransferEnd commits a segment transfer. See TransferEndContext.
func (c *Client) TransferEnd() error {
	return c.TransferEndContext(context.Background())
}

// GetMemoryHash reads the digest over [start, end). See GetMemoryHashContext.
func (c *Client) GetMemoryHash(start, end uint32) (Digest, error) {
	return c.GetMemoryHashContext(context.Background(), start, end)
}

// GetUUID reads the modem identity. See GetUUIDContext.
func (c *Client) GetUUID() (UUID, error) {
	return c.GetUUIDContext(context.Background())
}
