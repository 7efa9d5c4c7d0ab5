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
	"fmt"
	"time"
)

// ChunkWriteFunc defines a function that writes one memory chunk
type ChunkWriteFunc func(ctx context.Context) error

// SegmentFunc defines a function that performs one complete segment transfer
type SegmentFunc func(ctx context.Context) error

// WriteChunkWithRetry wraps an addressed chunk write with retry logic.
// Addressed writes are idempotent (the chunk rewrites the same flash range),
// so replaying a failed write is safe. Never use this for bootloader chunks.
func WriteChunkWithRetry(ctx context.Context, writeFunc ChunkWriteFunc, maxRetries int, label string) error {
	if maxRetries <= 0 {
		maxRetries = ChunkWriteRetries
	}

	// Short initial delays: most chunk failures are a single corrupted
	// exchange, not a stuck modem
	retryDelays := []time.Duration{
		50 * time.Millisecond,
		100 * time.Millisecond,
		250 * time.Millisecond,
	}

	var lastErr error
	for i := range maxRetries {
		// Check context before each attempt
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := writeFunc(ctx)
		if err == nil {
			if i > 0 {
				Debugf("%s chunk write successful on attempt %d", label, i+1)
			}
			return nil
		}

		lastErr = err

		// Check if error is retryable
		if !IsRetryable(err) {
			Debugf("%s chunk write failed with non-retryable error: %v", label, err)
			return err
		}

		// Don't retry on last attempt
		if i >= maxRetries-1 {
			break
		}

		Debugf("%s chunk write attempt %d failed (retrying): %v", label, i+1, err)

		// Wait before retry with exponential backoff
		// Use the last delay value if we've exceeded the array length
		delay := retryDelays[len(retryDelays)-1]
		if i < len(retryDelays) {
			delay = retryDelays[i]
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("failed to write %s chunk after %d retries: %w", label, maxRetries, lastErr)
}

// TransferSegmentWithRetry retries a whole segment transfer from its
// TransferStart. Restarting an addressed segment rewrites the same flash
// range, so a clean restart is always coherent. Bootloader segments must
// not go through this helper.
func TransferSegmentWithRetry(ctx context.Context, transferFunc SegmentFunc, maxRetries int, label string) error {
	if maxRetries <= 0 {
		maxRetries = SegmentTransferRetries
	}

	var lastErr error
	for i := range maxRetries {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := transferFunc(ctx)
		if err == nil {
			if i > 0 {
				Debugf("%s segment transfer successful on attempt %d", label, i+1)
			}
			return nil
		}

		lastErr = err

		if !IsRetryable(err) {
			Debugf("%s segment transfer failed with non-retryable error: %v", label, err)
			return err
		}

		if i >= maxRetries-1 {
			break
		}

		Debugf("%s segment transfer attempt %d failed (restarting segment): %v", label, i+1, err)

		// Give the modem a moment to discard the aborted transfer
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}

	return fmt.Errorf("failed to transfer %s segment after %d attempts: %w", label, maxRetries, lastErr)
}
