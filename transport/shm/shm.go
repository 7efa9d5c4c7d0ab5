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

//go:build linux

// Package shm provides the modem transport over shared-memory IPC.
//
// On application processors that host the modem on-die, the bootloader
// RPC channel is a shared memory region exposed through a device file.
// The region holds a control block with doorbell counters, a command
// slot and a response slot:
//
//	+0   command doorbell (host increments to submit)
//	+4   command length
//	+8   response doorbell (modem increments to answer)
//	+12  response length
//	+16  fault word (nonzero reason raised by the modem)
//	+32  command slot
//	+32+slot  response slot
//
// Frames keep their wire framing inside the slots so the CRC still
// covers the payload end to end.
package shm

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	fmfu "github.com/OpenModemProject/go-fmfu"
	"github.com/OpenModemProject/go-fmfu/internal/rpc"
	"golang.org/x/sys/unix"
)

// Control block word offsets.
const (
	offCmdDoorbell = 0
	offCmdLen      = 4
	offRspDoorbell = 8
	offRspLen      = 12
	offFault       = 16

	ctrlBlockLen = 32

	// SlotLen is the size of each message slot, enough for a maximum
	// frame.
	SlotLen = rpc.MaxFrameLen

	// RegionLen is the total mapping size.
	RegionLen = ctrlBlockLen + 2*SlotLen
)

// Transport implements the fmfu.Transport interface over a shared
// memory region.
type Transport struct {
	mem      []byte
	path     string
	mu       sync.Mutex
	timeout  time.Duration
	fd       int
	lastRsp  uint32
	attached bool
}

// New maps the shared memory region behind the given device path.
func New(path string) (*Transport, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC|unix.O_NOFOLLOW, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open shm device %s: %w", path, err)
	}

	mem, err := unix.Mmap(fd, 0, RegionLen, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("failed to map shm device %s: %w", path, err)
	}

	t := &Transport{
		mem:      mem,
		path:     path,
		fd:       fd,
		timeout:  time.Second,
		attached: true,
	}
	t.lastRsp = t.loadWord(offRspDoorbell)
	return t, nil
}

// loadWord atomically reads a control block word.
func (t *Transport) loadWord(off int) uint32 {
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(&t.mem[off])))
}

// storeWord atomically writes a control block word.
func (t *Transport) storeWord(off int, v uint32) {
	atomic.StoreUint32((*uint32)(unsafe.Pointer(&t.mem[off])), v)
}

// SendCommand writes one command frame into the command slot, rings
// the doorbell and waits for the response doorbell. The returned slice
// carries the response id followed by the payload.
func (t *Transport) SendCommand(cmd byte, args []byte) ([]byte, error) {
	return t.SendCommandWithContext(context.Background(), cmd, args)
}

// SendCommandWithContext is SendCommand with cancellation support.
func (t *Transport) SendCommandWithContext(ctx context.Context, cmd byte, args []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.attached {
		return nil, fmfu.NewTransportError("sendCommand", t.path, fmfu.ErrTransportClosed, fmfu.ErrorTypePermanent)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("shm send %#02x: %w", cmd, err)
	}

	frm, err := rpc.Build(cmd, args)
	if err != nil {
		return nil, fmt.Errorf("shm build frame: %w", err)
	}
	if len(frm) > SlotLen {
		return nil, fmfu.NewDataTooLargeError("sendCommand", t.path)
	}

	// Stage the command and ring the doorbell.
	copy(t.mem[ctrlBlockLen:], frm)
	t.storeWord(offCmdLen, uint32(len(frm)))
	t.storeWord(offCmdDoorbell, t.loadWord(offCmdDoorbell)+1)

	return t.awaitResponse(ctx)
}

// awaitResponse polls the response doorbell until the modem answers,
// the fault word trips, or the budget runs out.
func (t *Transport) awaitResponse(ctx context.Context) ([]byte, error) {
	deadline := time.Now().Add(t.timeout)
	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("shm await response: %w", err)
		}
		if reason := t.loadWord(offFault); reason != 0 {
			t.storeWord(offFault, 0)
			return nil, fmt.Errorf("modem fault word raised (reason %d): %w", reason, fmfu.ErrIPCFault)
		}
		if rsp := t.loadWord(offRspDoorbell); rsp != t.lastRsp {
			t.lastRsp = rsp
			return t.readResponse()
		}
		if time.Now().After(deadline) {
			return nil, fmfu.NewTimeoutError("awaitResponse", t.path)
		}
		time.Sleep(100 * time.Microsecond)
	}
}

// readResponse validates and unpacks the frame in the response slot.
func (t *Transport) readResponse() ([]byte, error) {
	n := t.loadWord(offRspLen)
	if n == 0 || n > SlotLen {
		return nil, fmfu.NewInvalidResponseError("readResponse", t.path)
	}

	frm := make([]byte, n)
	copy(frm, t.mem[ctrlBlockLen+SlotLen:ctrlBlockLen+SlotLen+int(n)])

	id, payload, err := rpc.Parse(frm)
	if err != nil {
		return nil, fmt.Errorf("shm response frame: %w", err)
	}
	return append([]byte{id}, payload...), nil
}

// SetTimeout sets the response wait budget.
func (t *Transport) SetTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timeout = timeout
	return nil
}

// Close unmaps the region and closes the device.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.attached {
		return nil
	}
	t.attached = false
	if err := unix.Munmap(t.mem); err != nil {
		_ = unix.Close(t.fd)
		return fmt.Errorf("shm unmap failed: %w", err)
	}
	if err := unix.Close(t.fd); err != nil {
		return fmt.Errorf("shm close failed: %w", err)
	}
	return nil
}

// IsConnected returns true if the region is mapped.
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attached
}

// Type returns the transport type.
func (*Transport) Type() fmfu.TransportType {
	return fmfu.TransportSHM
}
