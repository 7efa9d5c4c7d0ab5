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

package fmfu_test

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"testing"
	"time"

	fmfu "github.com/OpenModemProject/go-fmfu"
	"github.com/OpenModemProject/go-fmfu/firmware"
	testutil "github.com/OpenModemProject/go-fmfu/internal/testing"
	"github.com/OpenModemProject/go-fmfu/update"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// simTransport adapts the wire-level simulator to the Transport
// interface. The embedded transport's Type returns the simulator's own
// transport kind, so it is shadowed here.
type simTransport struct {
	*testutil.SimulatorTransport
}

func (*simTransport) Type() fmfu.TransportType { return fmfu.TransportMock }

// newSimClient wires a client to a fresh virtual modem through the full
// frame codec.
func newSimClient(t *testing.T, opts ...fmfu.Option) (*fmfu.Client, *testutil.VirtualModem) {
	t.Helper()
	sim := testutil.NewVirtualModem()
	client, err := fmfu.New(&simTransport{testutil.NewSimulatorTransport(sim)}, opts...)
	require.NoError(t, err)
	return client, sim
}

// buildPackageArchive assembles an in-memory update package with one
// bootloader and one firmware segment.
func buildPackageArchive(t *testing.T, bootloader, fw []byte, fwAddr uint32, fwDigest string) []byte {
	t.Helper()

	seg := map[string]any{"file": "modem.bin", "type": "firmware", "address": fwAddr}
	if fwDigest != "" {
		seg["digest"] = fwDigest
	}
	manifest, err := json.Marshal(map[string]any{
		"manifest": map[string]any{
			"version": "1.3.2",
			"segments": []map[string]any{
				{"file": "bl.bin", "type": "bootloader"},
				seg,
			},
		},
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, contents := range map[string][]byte{
		"manifest.json": manifest,
		"bl.bin":        bootloader,
		"modem.bin":     fw,
	} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(contents)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func parseTestPackage(t *testing.T, raw []byte) *firmware.Package {
	t.Helper()
	pkg, err := firmware.Parse(bytes.NewReader(raw), int64(len(raw)))
	require.NoError(t, err)
	return pkg
}

func patternBytes(n int, seed byte) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = seed + byte(i%251)
	}
	return data
}

// TestSimulatorFullSessionByHand drives every protocol operation through
// the real frame codec against the virtual modem.
func TestSimulatorFullSessionByHand(t *testing.T) {
	t.Parallel()
	client, sim := newSimClient(t)
	ctx := context.Background()

	info, err := client.InitContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(testutil.DefaultRPCBufferLen), info.RPCBufferLen)
	assert.Equal(t, fmfu.StateWaitingForBootloader, client.State())
	assert.Equal(t, testutil.PhaseWaitBootloader, sim.Phase())

	// The simulator seeds its root key digest with a recognizable pattern.
	for i, b := range info.RootKeyDigest {
		require.Equal(t, byte(i), b)
	}

	uuid, err := client.GetUUIDContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, testutil.DefaultUUID, uuid.String())

	// Bootloader upload in MaxChunkSize pieces, then the hand-off.
	bootloader := patternBytes(client.MaxChunkSize()+128, 0x10)
	require.NoError(t, client.TransferStartContext(ctx))
	for off := 0; off < len(bootloader); off += client.MaxChunkSize() {
		end := min(off+client.MaxChunkSize(), len(bootloader))
		require.NoError(t, client.WriteMemoryChunkContext(ctx, &fmfu.MemoryChunk{Data: bootloader[off:end]}))
	}
	require.NoError(t, client.TransferEndContext(ctx))
	assert.Equal(t, fmfu.StateReadyForIPCCommands, client.State())
	assert.Equal(t, testutil.PhaseReady, sim.Phase())
	assert.Equal(t, bootloader, sim.BootloaderImage())

	// Addressed firmware write.
	const base = uint32(0x10000)
	fw := patternBytes(512, 0x40)
	require.NoError(t, client.TransferStartContext(ctx))
	require.NoError(t, client.WriteMemoryChunkContext(ctx, &fmfu.MemoryChunk{TargetAddress: base, Data: fw}))
	require.NoError(t, client.TransferEndContext(ctx))
	assert.Equal(t, fw, sim.FlashRange(base, base+uint32(len(fw))))

	digest, err := client.GetMemoryHashContext(ctx, base, base+uint32(len(fw)))
	require.NoError(t, err)
	assert.Equal(t, fmfu.Digest(sha256.Sum256(fw)), digest)

	require.NoError(t, client.EndContext(ctx))
	assert.Equal(t, fmfu.StateUninitialized, client.State())
	assert.Equal(t, testutil.PhaseNormal, sim.Phase())
}

func TestSimulatorUpdaterRun(t *testing.T) {
	t.Parallel()
	client, sim := newSimClient(t)

	const fwAddr = uint32(0x20000)
	bootloader := patternBytes(3000, 0x01)
	fw := patternBytes(5000, 0x80)
	sum := sha256.Sum256(fw)
	raw := buildPackageArchive(t, bootloader, fw, fwAddr, hex.EncodeToString(sum[:]))
	pkg := parseTestPackage(t, raw)

	var phases []update.Phase
	updater := update.New(client, update.WithProgress(func(p update.Progress) {
		phases = append(phases, p.Phase)
	}))

	require.NoError(t, updater.Run(context.Background(), pkg))

	assert.Equal(t, bootloader, sim.BootloaderImage())
	assert.Equal(t, fw, sim.FlashRange(fwAddr, fwAddr+uint32(len(fw))))
	assert.Equal(t, testutil.PhaseNormal, sim.Phase())
	require.NotEmpty(t, phases)
	assert.Equal(t, update.PhaseInit, phases[0])
	assert.Equal(t, update.PhaseDone, phases[len(phases)-1])
}

func TestSimulatorUpdaterVerifyMismatch(t *testing.T) {
	t.Parallel()
	client, sim := newSimClient(t)

	wrong := sha256.Sum256([]byte("not the payload"))
	raw := buildPackageArchive(t, patternBytes(256, 0x01), patternBytes(512, 0x80),
		0x20000, hex.EncodeToString(wrong[:]))
	pkg := parseTestPackage(t, raw)

	err := update.New(client).Run(context.Background(), pkg)
	require.Error(t, err)
	assert.True(t, update.IsDigestMismatch(err))

	// Verification failed before the finalize step, so the modem is
	// still in DFU mode.
	assert.Equal(t, testutil.PhaseReady, sim.Phase())
}

func TestSimulatorCommandRefusal(t *testing.T) {
	t.Parallel()
	client, sim := newSimClient(t)
	ctx := context.Background()

	_, err := client.InitContext(ctx)
	require.NoError(t, err)

	sim.FailNextCommand(testutil.CmdTransferStart, testutil.ReasonTransferActive)
	err = client.TransferStartContext(ctx)
	require.ErrorIs(t, err, fmfu.ErrCommandFailed)

	var modemErr *fmfu.ModemError
	require.ErrorAs(t, err, &modemErr)
	assert.Equal(t, byte(testutil.ReasonTransferActive), modemErr.Reason)

	// A coherent refusal does not degrade the session.
	assert.Equal(t, fmfu.StateWaitingForBootloader, client.State())
	require.NoError(t, client.TransferStartContext(ctx))
}

func TestSimulatorFaultDegradesSessionAndInitRecovers(t *testing.T) {
	t.Parallel()
	client, sim := newSimClient(t)
	ctx := context.Background()

	_, err := client.InitContext(ctx)
	require.NoError(t, err)

	sim.RaiseFaultOnNextCommand()
	err = client.TransferStartContext(ctx)
	require.ErrorIs(t, err, fmfu.ErrIPCFault)
	assert.True(t, fmfu.IsModemFault(err))
	assert.Equal(t, fmfu.StateBad, client.State())

	// Only a fresh init leaves the bad state.
	require.ErrorIs(t, client.TransferStartContext(ctx), fmfu.ErrInvalidOperation)
	_, err = client.InitContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, fmfu.StateWaitingForBootloader, client.State())
}

func TestSimulatorDroppedResponseTimesOut(t *testing.T) {
	t.Parallel()
	client, sim := newSimClient(t, fmfu.WithTimeout(100*time.Millisecond))
	ctx := context.Background()

	_, err := client.InitContext(ctx)
	require.NoError(t, err)

	sim.DropNextResponse()
	err = client.TransferStartContext(ctx)
	require.Error(t, err)
	assert.Equal(t, fmfu.RetTimeout, fmfu.Code(err))
	assert.Equal(t, fmfu.StateBad, client.State())
}

func TestSimulatorCorruptResponseDegradesSession(t *testing.T) {
	t.Parallel()
	client, sim := newSimClient(t)
	ctx := context.Background()

	_, err := client.InitContext(ctx)
	require.NoError(t, err)

	// A garbled frame leaves the link in an unknown condition: the command
	// may or may not have been applied on the modem side.
	sim.CorruptNextResponse()
	require.Error(t, client.TransferStartContext(ctx))
	assert.Equal(t, fmfu.StateBad, client.State())

	// Everything is refused until a fresh init re-establishes the session.
	_, err = client.GetUUIDContext(ctx)
	require.ErrorIs(t, err, fmfu.ErrInvalidOperation)

	_, err = client.InitContext(ctx)
	require.NoError(t, err)
	uuid, err := client.GetUUIDContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, testutil.DefaultUUID, uuid.String())
}
