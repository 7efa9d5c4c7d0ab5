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

// Package spi provides SPI bridge detection for modem DFU endpoints.
// SPI buses cannot be probed blindly, so detection relies on explicit
// configuration (file or environment) plus a scan of the standard
// Linux spidev paths.
package spi

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/OpenModemProject/go-fmfu/detection"
	"github.com/OpenModemProject/go-fmfu/transport/spi"
)

// Config represents SPI device configuration
type Config struct {
	// Additional metadata
	Metadata map[string]string `json:"metadata,omitempty"`
	// Device path (e.g., "/dev/spidev0.0")
	Device string `json:"device"`
	// Human-readable name
	Name string `json:"name,omitempty"`
}

// detector implements the Detector interface for SPI devices
type detector struct{}

// New creates a new SPI detector
func New() detection.Detector {
	return &detector{}
}

// init registers the detector on package import
func init() {
	detection.RegisterDetector(New())
}

// Transport returns the transport type
func (*detector) Transport() string {
	return "spi"
}

// Detect searches for modem DFU endpoints on SPI buses
func (*detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	configs := gatherConfigs()
	if len(configs) == 0 {
		return nil, detection.ErrNoDevicesFound
	}

	var devices []detection.DeviceInfo

	for _, config := range configs {
		select {
		case <-ctx.Done():
			return devices, detection.ErrDetectionTimeout
		default:
		}

		if detection.IsPathIgnored(config.Device, opts.IgnorePaths) {
			continue
		}

		device := createDeviceInfo(config)

		if probeAndUpdateDevice(ctx, config, &device, opts) {
			devices = append(devices, device)
		}
	}

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}

	return devices, nil
}

// gatherConfigs collects SPI configurations from all sources
func gatherConfigs() []Config {
	var configs []Config

	// 1. Load from config file
	if fileConfigs := loadConfigFile(); fileConfigs != nil {
		configs = append(configs, fileConfigs...)
	}

	// 2. Check environment variable
	if envConfig := loadEnvConfig(); envConfig != nil {
		configs = append(configs, *envConfig)
	}

	// 3. Common SPI device paths (Linux)
	if runtime.GOOS == "linux" {
		configs = append(configs, detectLinuxSPIDevices()...)
	}

	return deduplicateConfigs(configs)
}

// loadConfigFile loads SPI configurations from a JSON file
func loadConfigFile() []Config {
	// Check multiple possible config locations
	configPaths := []string{
		"fmfu-spi.json",
		".fmfu-spi.json",
		filepath.Join(os.Getenv("HOME"), ".config", "fmfu", "spi.json"),
		"/etc/fmfu/spi.json",
	}

	for _, path := range configPaths {
		// #nosec G304 -- paths are hardcoded above, not user input
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		var configs []Config
		if err := json.Unmarshal(data, &configs); err != nil {
			// Try single config format
			var config Config
			if err := json.Unmarshal(data, &config); err == nil {
				return []Config{config}
			}
			continue
		}

		return configs
	}

	return nil
}

// loadEnvConfig loads SPI configuration from environment variable
func loadEnvConfig() *Config {
	device := os.Getenv("FMFU_SPI_DEVICE")
	if device == "" {
		return nil
	}

	return &Config{
		Device: device,
		Name:   "SPI device from environment",
	}
}

// detectLinuxSPIDevices returns common Linux SPI device paths
func detectLinuxSPIDevices() []Config {
	var configs []Config

	matches, err := filepath.Glob("/dev/spidev*")
	if err != nil {
		return configs
	}

	for _, path := range matches {
		if _, err := os.Stat(path); err == nil {
			configs = append(configs, Config{
				Device: path,
				Name:   fmt.Sprintf("SPI device %s", filepath.Base(path)),
			})
		}
	}

	return configs
}

// deduplicateConfigs removes duplicate SPI configurations
func deduplicateConfigs(configs []Config) []Config {
	seen := make(map[string]bool)
	var unique []Config

	for _, config := range configs {
		if !seen[config.Device] {
			seen[config.Device] = true
			unique = append(unique, config)
		}
	}

	return unique
}

// createDeviceInfo creates a DeviceInfo from a Config
func createDeviceInfo(config Config) detection.DeviceInfo {
	device := detection.DeviceInfo{
		Transport:  "spi",
		Path:       config.Device,
		Name:       config.Name,
		Confidence: detection.Low, // Start with low confidence
		Metadata:   make(map[string]string),
	}

	for k, v := range config.Metadata {
		device.Metadata[k] = v
	}

	if device.Name == "" {
		device.Name = fmt.Sprintf("SPI device at %s", config.Device)
	}

	return device
}

// probeAndUpdateDevice probes a device and updates its confidence if successful
func probeAndUpdateDevice(
	ctx context.Context,
	config Config,
	device *detection.DeviceInfo,
	opts *detection.Options,
) bool {
	if opts.Mode == detection.Passive {
		return true
	}

	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if probeSPIDevice(probeCtx, config) {
		device.Confidence = detection.High
		return true
	}

	return false
}

// probeIdentityCmd is the identity read used for probing. Any
// well-formed response frame, including a not-in-DFU-mode error,
// proves a modem endpoint behind the bridge.
const probeIdentityCmd = 0x07

// probeSPIDevice attempts to verify an SPI device is a modem bridge
func probeSPIDevice(ctx context.Context, config Config) bool {
	transport, err := spi.New(config.Device)
	if err != nil {
		return false
	}
	defer func() { _ = transport.Close() }()

	_, err = transport.SendCommandWithContext(ctx, probeIdentityCmd, nil)
	return err == nil
}
