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
	"fmt"
	"os"
	"time"
)

// debugEnabled gates console debug output. The session log, once
// initialized, receives debug lines regardless.
var debugEnabled = false

func init() {
	if os.Getenv("FMFU_DEBUG") != "" || os.Getenv("DEBUG") != "" {
		debugEnabled = true
	}
}

// debugWrite routes one debug line: timestamped into the session log
// when one is open, and to the console when debug mode is on.
func debugWrite(message string) {
	if sessionLogWriter != nil {
		timestamp := time.Now().Format("15:04:05.000")
		_, _ = fmt.Fprintf(sessionLogWriter, "%s DEBUG: %s\n", timestamp, message)
	}
	if debugEnabled {
		_, _ = fmt.Printf("DEBUG: %s\n", message)
	}
}

// Debugf prints formatted debug information.
func Debugf(format string, args ...any) {
	debugWrite(fmt.Sprintf(format, args...))
}

// Debugln prints debug information.
func Debugln(args ...any) {
	debugWrite(fmt.Sprint(args...))
}

// SetDebugEnabled toggles console debug output programmatically, for
// tests and debug CLI flags.
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}
