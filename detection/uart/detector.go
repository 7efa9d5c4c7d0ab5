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

// Package uart provides serial port detection for modem DFU endpoints.
package uart

import (
	"context"
	"fmt"
	"strings"
	"time"

	fmfu "github.com/OpenModemProject/go-fmfu"
	"github.com/OpenModemProject/go-fmfu/detection"
	"github.com/OpenModemProject/go-fmfu/transport/uart"
	"go.bug.st/serial/enumerator"
)

// detector implements the Detector interface for UART devices.
type detector struct{}

// New creates a new UART detector
func New() detection.Detector {
	return &detector{}
}

// init registers the detector on package import
func init() {
	detection.RegisterDetector(New())
}

// Transport returns the transport type
func (*detector) Transport() string {
	return "uart"
}

// Detect searches for modem DFU endpoints on serial ports
func (d *detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	ports, err := enumeratePorts()
	if err != nil {
		return nil, err
	}

	filteredPorts := d.filterPorts(ports, opts)
	devices := d.processPortsToDevices(ctx, filteredPorts, opts)

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}

	return devices, nil
}

// serialPort represents a serial port with metadata
type serialPort struct {
	Path         string
	Name         string
	VIDPID       string
	Product      string
	SerialNumber string
}

// enumeratePorts gets the list of available serial ports with USB
// metadata.
func enumeratePorts() ([]serialPort, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}
	if len(details) == 0 {
		return nil, detection.ErrNoDevicesFound
	}

	ports := make([]serialPort, 0, len(details))
	for _, pd := range details {
		port := serialPort{
			Path: pd.Name,
			Name: pd.Name,
		}
		if pd.IsUSB {
			port.VIDPID = strings.ToUpper(pd.VID + ":" + pd.PID)
			port.Product = pd.Product
			port.SerialNumber = pd.SerialNumber
		}
		ports = append(ports, port)
	}
	return ports, nil
}

// filterPorts removes blocked and ignored devices from the port list
func (*detector) filterPorts(ports []serialPort, opts *detection.Options) []serialPort {
	var filtered []serialPort
	for _, port := range ports {
		if port.VIDPID != "" && detection.IsBlocked(port.VIDPID, opts.Blocklist) {
			continue
		}
		if detection.IsPathIgnored(port.Path, opts.IgnorePaths) {
			continue
		}
		filtered = append(filtered, port)
	}
	return filtered
}

// processPortsToDevices converts ports to device infos with probing
func (d *detector) processPortsToDevices(ctx context.Context, ports []serialPort,
	opts *detection.Options,
) []detection.DeviceInfo {
	var devices []detection.DeviceInfo

	for i := range ports {
		// Check context cancellation
		select {
		case <-ctx.Done():
			return devices
		default:
		}

		device, shouldInclude := d.processPort(ctx, &ports[i], opts)
		if shouldInclude {
			devices = append(devices, device)
		}
	}

	return devices
}

// processPort handles a single port's detection logic
func (d *detector) processPort(ctx context.Context, port *serialPort,
	opts *detection.Options,
) (detection.DeviceInfo, bool) {
	confidence, shouldProbe := determinePortHandling(port, opts.Mode)

	// Skip port entirely if passive mode and not a likely modem
	if opts.Mode == detection.Passive && confidence == 0 {
		return detection.DeviceInfo{}, false
	}

	device := createDeviceInfo(port, confidence)

	if shouldProbe {
		probeSuccess := probePortWithTimeout(ctx, port.Path, opts.Mode)
		if probeSuccess {
			device.Confidence = detection.High
		} else if opts.Mode == detection.Safe && !isLikelyModem(port) {
			// In safe mode, skip unlikely devices that don't respond
			return detection.DeviceInfo{}, false
		}
	}

	return device, true
}

// determinePortHandling decides confidence level and whether to probe based on mode
func determinePortHandling(port *serialPort, mode detection.Mode) (detection.Confidence, bool) {
	switch mode {
	case detection.Passive:
		if isLikelyModem(port) {
			return detection.Medium, false
		}
		return 0, false // Signal to skip this port

	case detection.Safe:
		if isLikelyModem(port) {
			return detection.Medium, true
		}
		return detection.Low, true

	case detection.Full:
		return detection.Low, true

	default:
		return detection.Low, false
	}
}

// createDeviceInfo builds a DeviceInfo struct from port data
func createDeviceInfo(port *serialPort, confidence detection.Confidence) detection.DeviceInfo {
	device := detection.DeviceInfo{
		Transport:  "uart",
		Path:       port.Path,
		Name:       port.Name,
		Confidence: confidence,
		Metadata:   make(map[string]string),
	}

	if port.VIDPID != "" {
		device.Metadata["vidpid"] = port.VIDPID
	}
	if port.Product != "" {
		device.Metadata["product"] = port.Product
	}
	if port.SerialNumber != "" {
		device.Metadata["serial"] = port.SerialNumber
	}
	return device
}

// isLikelyModem checks if a serial port is likely a modem DFU endpoint
func isLikelyModem(port *serialPort) bool {
	// Known VID:PIDs for cellular modules exposing a DFU serial endpoint
	knownModems := []string{
		"1915:520F", // Nordic Semiconductor
		"1915:9100", // Nordic Semiconductor (cellular devkits)
		"1366:1059", // SEGGER J-Link CDC (devkit passthrough)
		"2C7C:0125", // Quectel
		"1BC7:1201", // Telit
		"1546:1102", // u-blox
	}

	upperVIDPID := strings.ToUpper(port.VIDPID)
	for _, known := range knownModems {
		if upperVIDPID == known {
			return true
		}
	}

	// Check product strings
	lowerProduct := strings.ToLower(port.Product)
	modemKeywords := []string{"modem", "dfu", "bootloader", "cellular", "wwan"}
	for _, keyword := range modemKeywords {
		if strings.Contains(lowerProduct, keyword) {
			return true
		}
	}

	return false
}

// probePortWithTimeout performs device probing with timeout
func probePortWithTimeout(ctx context.Context, path string, mode detection.Mode) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	return probeDevice(probeCtx, path, mode)
}

// probeIdentityCmd is the identity read used for safe probing. Any
// well-formed response frame, including a not-in-DFU-mode error,
// proves a modem endpoint is listening.
const probeIdentityCmd = 0x07

// probeDevice attempts to communicate with a device to verify it
// speaks the modem RPC protocol.
//
// NO RETRY POLICY: This function intentionally performs only a single
// attempt per device. Retrying failed connections during auto-detection
// could stress devices that are not modems, delay detection, and
// exhaust busy or restricted ports. Connection retries are handled at
// the client level for known modem paths, not during auto-detection.
func probeDevice(ctx context.Context, path string, mode detection.Mode) bool {
	// Try to open the port (single attempt only)
	transport, err := uart.New(path)
	if err != nil {
		return false
	}
	defer func() { _ = transport.Close() }()

	switch mode {
	case detection.Passive:
		// Passive mode doesn't probe
		return false

	case detection.Safe:
		// A framed identity read answers in any DFU phase and does
		// not reboot the modem.
		_, err := transport.SendCommandWithContext(ctx, probeIdentityCmd, nil)
		return err == nil

	case detection.Full:
		// Full verification enters and leaves DFU mode. This reboots
		// the modem.
		client, err := fmfu.New(transport)
		if err != nil {
			return false
		}
		if _, err := client.InitContext(ctx); err != nil {
			return false
		}
		return client.EndContext(ctx) == nil

	default:
		return false
	}
}
