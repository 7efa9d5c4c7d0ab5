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

// Package update runs complete modem firmware updates.
//
// An Updater drives a fmfu.Client through a whole session: enter DFU
// mode, stream the bootloader, transfer each addressed firmware segment,
// verify the written ranges against their digests and restart the modem.
// Addressed segments are retried on transient failures; the bootloader
// stream is not, because the modem consumes it in arrival order.
package update

import (
	"context"
	"errors"
	"fmt"
	"time"

	fmfu "github.com/OpenModemProject/go-fmfu"
	"github.com/OpenModemProject/go-fmfu/firmware"
)

// Phase identifies the stage of an update run.
type Phase int

const (
	// PhaseInit - entering DFU mode
	PhaseInit Phase = iota + 1
	// PhaseBootloader - streaming the bootloader image
	PhaseBootloader
	// PhaseFirmware - transferring addressed firmware segments
	PhaseFirmware
	// PhaseVerify - reading back memory hashes
	PhaseVerify
	// PhaseFinalize - restarting the modem into the new firmware
	PhaseFinalize
	// PhaseDone - update complete
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "init"
	case PhaseBootloader:
		return "bootloader"
	case PhaseFirmware:
		return "firmware"
	case PhaseVerify:
		return "verify"
	case PhaseFinalize:
		return "finalize"
	case PhaseDone:
		return "done"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Progress is a point-in-time snapshot of an update run.
type Progress struct {
	// Phase is the current stage.
	Phase Phase
	// Segment names the segment being transferred, when one is.
	Segment string
	// SegmentIndex counts segments from 1 across the whole package.
	SegmentIndex int
	// TotalSegments is the package segment count, bootloader included.
	TotalSegments int
	// BytesWritten counts payload bytes acknowledged by the modem.
	BytesWritten int
	// TotalBytes is the package payload size.
	TotalBytes int
	// Elapsed is the time since Run started.
	Elapsed time.Duration
}

// Percent returns the completed fraction as 0..100.
func (p Progress) Percent() float64 {
	if p.TotalBytes == 0 {
		return 0
	}
	return float64(p.BytesWritten) / float64(p.TotalBytes) * 100
}

// ProgressFunc receives progress snapshots during Run. It is called
// synchronously and must not block.
type ProgressFunc func(Progress)

// Logger receives update run diagnostics. The interface matches what
// logrus and the standard structured loggers can back trivially.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Errorf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any) {}
func (nopLogger) Infof(string, ...any)  {}
func (nopLogger) Errorf(string, ...any) {}

// DigestMismatchError reports a verification failure: the modem hash over
// a segment's address range differs from the expected digest.
type DigestMismatchError struct {
	Segment string
	Want    fmfu.Digest
	Got     fmfu.Digest
}

func (e *DigestMismatchError) Error() string {
	return fmt.Sprintf("segment %q digest mismatch: modem reported %s, want %s",
		e.Segment, e.Got, e.Want)
}

// Option configures an Updater.
type Option func(*Updater)

// WithProgress registers a progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(u *Updater) { u.progress = fn }
}

// WithLogger sets the run logger. The default discards everything.
func WithLogger(log Logger) Option {
	return func(u *Updater) {
		if log != nil {
			u.log = log
		}
	}
}

// WithVerify controls post-transfer hash verification. Enabled by default.
func WithVerify(verify bool) Option {
	return func(u *Updater) { u.verify = verify }
}

// WithChunkRetries overrides the per-chunk retry budget for addressed
// writes. Zero keeps the default.
func WithChunkRetries(n int) Option {
	return func(u *Updater) { u.chunkRetries = n }
}

// WithSegmentRetries overrides how many times a whole addressed segment
// transfer is restarted. Zero keeps the default.
func WithSegmentRetries(n int) Option {
	return func(u *Updater) { u.segmentRetries = n }
}

// Updater drives full update sessions on one client.
type Updater struct {
	client         *fmfu.Client
	progress       ProgressFunc
	log            Logger
	verify         bool
	chunkRetries   int
	segmentRetries int
}

// New creates an Updater for the given client.
func New(client *fmfu.Client, opts ...Option) *Updater {
	u := &Updater{
		client: client,
		log:    nopLogger{},
		verify: true,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Run performs a complete update with the given package. On success the
// modem is restarting into the new firmware when Run returns. On failure
// the session is left as-is; the caller may inspect the client state and
// retry from Init.
func (u *Updater) Run(ctx context.Context, pkg *firmware.Package) error {
	if pkg == nil || len(pkg.Segments) == 0 {
		return fmt.Errorf("update: empty package: %w", fmfu.ErrInvalidArgument)
	}

	s := &session{
		u:       u,
		pkg:     pkg,
		started: time.Now(),
		total:   pkg.TotalBytes(),
	}

	s.emit(PhaseInit, "", 0)
	info, err := u.client.InitContext(ctx)
	if err != nil {
		return fmt.Errorf("update: enter DFU mode: %w", err)
	}
	u.log.Infof("DFU mode entered: RPC buffer %d bytes, root key digest %s",
		info.RPCBufferLen, info.RootKeyDigest)

	if err := s.streamBootloader(ctx); err != nil {
		return err
	}

	for i, seg := range pkg.FirmwareSegments() {
		if err := s.transferSegment(ctx, i+2, &seg); err != nil {
			return err
		}
	}

	if u.verify {
		if err := s.verifySegments(ctx); err != nil {
			return err
		}
	}

	s.emit(PhaseFinalize, "", len(pkg.Segments))
	if err := u.client.EndContext(ctx); err != nil {
		return fmt.Errorf("update: finalize: %w", err)
	}

	s.emit(PhaseDone, "", len(pkg.Segments))
	u.log.Infof("update complete: %d bytes in %d segments, %s elapsed",
		s.total, len(pkg.Segments), time.Since(s.started).Round(time.Millisecond))
	return nil
}

// session holds the mutable state of one Run.
type session struct {
	u       *Updater
	pkg     *firmware.Package
	started time.Time
	total   int
	written int
	segIdx  int
	segName string
	phase   Phase
}

func (s *session) emit(phase Phase, segment string, segIdx int) {
	s.phase = phase
	s.segName = segment
	s.segIdx = segIdx
	if s.u.progress == nil {
		return
	}
	s.u.progress(Progress{
		Phase:         phase,
		Segment:       segment,
		SegmentIndex:  segIdx,
		TotalSegments: len(s.pkg.Segments),
		BytesWritten:  s.written,
		TotalBytes:    s.total,
		Elapsed:       time.Since(s.started),
	})
}

// streamBootloader uploads the bootloader image. The chunks must arrive
// in order, so failures abort rather than retry; the caller can only
// recover by restarting the whole session from Init.
func (s *session) streamBootloader(ctx context.Context) error {
	bl := s.pkg.Bootloader()
	chunks, err := bl.Chunks(s.u.client.MaxChunkSize())
	if err != nil {
		return fmt.Errorf("update: split bootloader %q: %w", bl.Name, err)
	}

	s.u.log.Infof("streaming bootloader %q: %d bytes in %d chunks",
		bl.Name, len(bl.Data), len(chunks))
	s.emit(PhaseBootloader, bl.Name, 1)

	if err := s.u.client.TransferStartContext(ctx); err != nil {
		return fmt.Errorf("update: start bootloader transfer: %w", err)
	}
	for i := range chunks {
		if err := s.u.client.WriteMemoryChunkContext(ctx, &chunks[i]); err != nil {
			s.u.log.Errorf("bootloader chunk %d/%d failed: %v", i+1, len(chunks), err)
			return fmt.Errorf("update: bootloader chunk %d/%d: %w", i+1, len(chunks), err)
		}
		s.written += len(chunks[i].Data)
		s.emit(PhaseBootloader, bl.Name, 1)
	}
	if err := s.u.client.TransferEndContext(ctx); err != nil {
		return fmt.Errorf("update: commit bootloader: %w", err)
	}

	s.u.log.Debugf("bootloader committed, modem ready for IPC commands")
	return nil
}

// transferSegment writes one addressed segment, restarting the whole
// transfer on transient failures. Restarts rewrite the same flash range,
// so the byte counter rolls back to the segment start on each attempt.
func (s *session) transferSegment(ctx context.Context, segIdx int, seg *firmware.Segment) error {
	chunks, err := seg.Chunks(s.u.client.MaxChunkSize())
	if err != nil {
		return fmt.Errorf("update: split segment %q: %w", seg.Name, err)
	}

	s.u.log.Infof("transferring %q: %d bytes at 0x%08X in %d chunks",
		seg.Name, len(seg.Data), seg.Address, len(chunks))
	s.emit(PhaseFirmware, seg.Name, segIdx)

	base := s.written
	transfer := func(ctx context.Context) error {
		s.written = base
		if err := s.u.client.TransferStartContext(ctx); err != nil {
			return err
		}
		for i := range chunks {
			chunk := &chunks[i]
			write := func(ctx context.Context) error {
				return s.u.client.WriteMemoryChunkContext(ctx, chunk)
			}
			if err := fmfu.WriteChunkWithRetry(ctx, write, s.u.chunkRetries, seg.Name); err != nil {
				return err
			}
			s.written += len(chunk.Data)
			s.emit(PhaseFirmware, seg.Name, segIdx)
		}
		return s.u.client.TransferEndContext(ctx)
	}

	if err := fmfu.TransferSegmentWithRetry(ctx, transfer, s.u.segmentRetries, seg.Name); err != nil {
		return fmt.Errorf("update: segment %q: %w", seg.Name, err)
	}
	return nil
}

// verifySegments compares the modem hash over each addressed segment's
// range with the expected digest. The manifest digest wins when present;
// otherwise the digest of the flattened payload is used. The bootloader
// has no address range and cannot be hashed.
func (s *session) verifySegments(ctx context.Context) error {
	for i, seg := range s.pkg.FirmwareSegments() {
		s.emit(PhaseVerify, seg.Name, i+2)

		want := seg.Digest()
		if seg.ExpectedDigest != nil {
			want = *seg.ExpectedDigest
		}

		got, err := s.u.client.GetMemoryHashContext(ctx, seg.Address, seg.EndAddress())
		if err != nil {
			return fmt.Errorf("update: hash segment %q: %w", seg.Name, err)
		}
		if got != want {
			err := &DigestMismatchError{Segment: seg.Name, Want: want, Got: got}
			s.u.log.Errorf("%v", err)
			return err
		}
		s.u.log.Debugf("segment %q verified: %s", seg.Name, got)
	}
	return nil
}

// IsDigestMismatch reports whether err is a verification failure.
func IsDigestMismatch(err error) bool {
	var mismatch *DigestMismatchError
	return errors.As(err, &mismatch)
}
