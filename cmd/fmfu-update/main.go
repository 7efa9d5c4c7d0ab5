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

// Command fmfu-update flashes a modem firmware package over UART, SPI or
// shared memory. Exit codes mirror the library return codes: 0 success,
// 1 IPC fault, 2 unexpected response, 3 command failed, 4 command fault,
// 5 timeout, 6 invalid argument, 7 invalid operation.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	fmfu "github.com/OpenModemProject/go-fmfu"
	"github.com/OpenModemProject/go-fmfu/detection"
	_ "github.com/OpenModemProject/go-fmfu/detection/spi"
	_ "github.com/OpenModemProject/go-fmfu/detection/uart"
	"github.com/OpenModemProject/go-fmfu/firmware"
	"github.com/OpenModemProject/go-fmfu/transport/spi"
	"github.com/OpenModemProject/go-fmfu/transport/uart"
	"github.com/OpenModemProject/go-fmfu/update"
	"github.com/sirupsen/logrus"
)

var log = logrus.New()

type config struct {
	packagePath string
	devicePath  string
	transport   string
	baudRate    int
	timeout     time.Duration
	verify      bool
	debug       bool
	showUUID    bool
}

// Package-level flag variables
var (
	flagPackage   string
	flagDevice    string
	flagTransport string
	flagBaud      int
	flagTimeout   time.Duration
	flagVerify    bool
	flagDebug     bool
	flagUUID      bool
)

func init() {
	flag.StringVar(&flagPackage, "package", "", "Firmware package zip to flash")
	flag.StringVar(&flagDevice, "device", "", "Device path (auto-detect if empty)")
	flag.StringVar(&flagTransport, "transport", "auto", "Transport type: auto, uart, spi or shm")
	flag.IntVar(&flagBaud, "baud", uart.DefaultBaudRate, "UART baud rate")
	flag.DurationVar(&flagTimeout, "timeout", 0, "Per-command response timeout (library default if zero)")
	flag.BoolVar(&flagVerify, "verify", true, "Verify written segments against their digests")
	flag.BoolVar(&flagDebug, "debug", false, "Enable debug output")
	flag.BoolVar(&flagUUID, "uuid", false, "Print the modem UUID and exit without flashing")
}

func parseConfig() *config {
	cfg := &config{
		packagePath: flagPackage,
		devicePath:  flagDevice,
		transport:   strings.ToLower(flagTransport),
		baudRate:    flagBaud,
		timeout:     flagTimeout,
		verify:      flagVerify,
		debug:       flagDebug,
		showUUID:    flagUUID,
	}

	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if cfg.debug {
		log.SetLevel(logrus.DebugLevel)
		fmfu.SetDebugEnabled(true)
	}

	return cfg
}

// newTransportFromDevice creates a transport from a detected device.
func newTransportFromDevice(device detection.DeviceInfo) (fmfu.Transport, error) {
	switch strings.ToLower(device.Transport) {
	case "uart":
		transport, err := uart.NewWithBaudRate(device.Path, flagBaud)
		if err != nil {
			return nil, fmt.Errorf("failed to create UART transport: %w", err)
		}
		return transport, nil
	case "spi":
		transport, err := spi.New(device.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to create SPI transport: %w", err)
		}
		return transport, nil
	case "shm":
		return newSHMTransport(device.Path)
	default:
		return nil, fmt.Errorf("unsupported transport type: %s", device.Transport)
	}
}

// newTransport creates a transport from a device path, honoring the
// -transport flag and falling back to path heuristics on "auto".
func newTransport(path string) (fmfu.Transport, error) {
	if path == "" {
		return nil, errors.New("empty device path")
	}

	switch resolveTransportKind(path, flagTransport) {
	case "uart":
		transport, err := uart.NewWithBaudRate(path, flagBaud)
		if err != nil {
			return nil, fmt.Errorf("failed to create UART transport for %s: %w", path, err)
		}
		return transport, nil
	case "spi":
		transport, err := spi.New(path)
		if err != nil {
			return nil, fmt.Errorf("failed to create SPI transport for %s: %w", path, err)
		}
		return transport, nil
	case "shm":
		return newSHMTransport(path)
	default:
		return nil, fmt.Errorf("unsupported transport type: %s", flagTransport)
	}
}

// resolveTransportKind maps the -transport flag and path heuristics onto
// a concrete transport kind.
func resolveTransportKind(path, kind string) string {
	kind = strings.ToLower(kind)
	if kind != "" && kind != "auto" {
		return kind
	}
	pathLower := strings.ToLower(path)
	switch {
	case strings.Contains(pathLower, "spi"):
		return "spi"
	case strings.Contains(pathLower, "shm"):
		return "shm"
	default:
		return "uart"
	}
}

func connectModem(cfg *config) (*fmfu.Client, error) {
	var connectOpts []fmfu.ConnectOption

	if cfg.devicePath == "" {
		connectOpts = append(connectOpts,
			fmfu.WithAutoDetection(),
			fmfu.WithTransportFromDeviceFactory(newTransportFromDevice),
			fmfu.WithDeviceDetector(detection.DetectAll))
		log.Debug("auto-detecting modem devices")
	} else {
		connectOpts = append(connectOpts, fmfu.WithTransportFactory(newTransport))
		log.Debugf("opening device %s", cfg.devicePath)
	}

	connectOpts = append(connectOpts, fmfu.WithConnectTimeout(5*time.Second))
	if cfg.timeout > 0 {
		connectOpts = append(connectOpts,
			fmfu.WithClientOptions(fmfu.WithTimeout(cfg.timeout)))
	}

	client, err := fmfu.ConnectModem(cfg.devicePath, connectOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to modem: %w", err)
	}
	return client, nil
}

// runIdentityMode enters DFU mode just long enough to read the modem
// UUID, then restarts the modem.
func runIdentityMode(ctx context.Context, client *fmfu.Client) error {
	if _, err := client.InitContext(ctx); err != nil {
		return fmt.Errorf("failed to enter DFU mode: %w", err)
	}
	defer func() {
		if err := client.End(); err != nil {
			log.Errorf("failed to restart modem: %v", err)
		}
	}()

	uuid, err := client.GetUUIDContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to read modem UUID: %w", err)
	}
	fmt.Println(uuid)
	return nil
}

// progressPrinter logs phase changes and every tenth of transfer progress.
func progressPrinter() update.ProgressFunc {
	var lastPhase update.Phase
	var lastDecile int
	return func(p update.Progress) {
		if p.Phase != lastPhase {
			lastPhase = p.Phase
			log.WithFields(logrus.Fields{
				"phase":   p.Phase.String(),
				"segment": p.Segment,
			}).Info("update phase")
		}
		if decile := int(p.Percent()) / 10; decile > lastDecile {
			lastDecile = decile
			log.Infof("transferred %d/%d bytes (%.0f%%)",
				p.BytesWritten, p.TotalBytes, p.Percent())
		}
	}
}

func runUpdate(ctx context.Context, client *fmfu.Client, cfg *config) error {
	pkg, err := firmware.LoadPackage(cfg.packagePath)
	if err != nil {
		return fmt.Errorf("failed to load package: %w", err)
	}
	log.WithFields(logrus.Fields{
		"version":  pkg.Version,
		"segments": len(pkg.Segments),
		"bytes":    pkg.TotalBytes(),
	}).Info("package loaded")

	updater := update.New(client,
		update.WithLogger(log),
		update.WithVerify(cfg.verify),
		update.WithProgress(progressPrinter()),
	)
	if err := updater.Run(ctx, pkg); err != nil {
		return fmt.Errorf("update failed: %w", err)
	}
	return nil
}

func run(ctx context.Context, cfg *config) error {
	if !cfg.showUUID && cfg.packagePath == "" {
		flag.Usage()
		return errors.New("a firmware package is required (-package)")
	}

	client, err := connectModem(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Close(); err != nil {
			log.Errorf("failed to close client: %v", err)
		}
	}()

	if cfg.showUUID {
		return runIdentityMode(ctx, client)
	}
	return runUpdate(ctx, client, cfg)
}

func main() {
	flag.Parse()
	os.Exit(mainWithExitCode())
}

func mainWithExitCode() int {
	cfg := parseConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("shutting down")
		cancel()
	}()

	if err := run(ctx, cfg); err != nil {
		if errors.Is(err, context.Canceled) {
			return 0
		}
		log.Errorf("%v", err)
		return int(-fmfu.Code(err))
	}
	return 0
}
