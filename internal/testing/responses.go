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

package testing

import "encoding/binary"

// Response body builders for tests driving a mock transport directly.
// Bodies are in transport form: response id followed by the payload,
// without wire framing.

// BuildInitResponse creates an init response carrying the root key
// digest and the advertised RPC buffer length.
func BuildInitResponse(rootKeyDigest [32]byte, rpcBufferLen uint32) []byte {
	body := make([]byte, 0, 1+digestLen+4)
	body = append(body, CmdInit)
	body = append(body, rootKeyDigest[:]...)
	body = binary.LittleEndian.AppendUint32(body, rpcBufferLen)
	return body
}

// BuildDefaultInitResponse creates an init response with the same
// values a fresh VirtualModem advertises.
func BuildDefaultInitResponse() []byte {
	var digest [32]byte
	for i := range digest {
		digest[i] = byte(i)
	}
	return BuildInitResponse(digest, DefaultRPCBufferLen)
}

// BuildMemoryHashResponse creates a memory hash response carrying the
// given 32-byte digest.
func BuildMemoryHashResponse(digest [32]byte) []byte {
	return append([]byte{CmdGetMemoryHash}, digest[:]...)
}

// BuildUUIDResponse creates a UUID response. The text is truncated or
// zero padded to the 36-byte wire size.
func BuildUUIDResponse(uuid string) []byte {
	body := make([]byte, 1+uuidLen)
	body[0] = CmdGetUUID
	copy(body[1:], uuid)
	return body
}

// BuildEmptyResponse creates the success response for commands that
// return no payload (chunk writes, transfer bracketing, end).
func BuildEmptyResponse(cmd byte) []byte {
	return []byte{cmd}
}

// BuildCommandErrorResponse creates a command-error response with a
// reason code.
func BuildCommandErrorResponse(reason byte) []byte {
	return []byte{RespCmdError, reason}
}

// BuildFaultResponse creates an unsolicited fault event response.
func BuildFaultResponse(reason byte) []byte {
	return []byte{RespFault, reason}
}

// BuildUnknownCommandResponse creates the response to an unrecognized
// command id.
func BuildUnknownCommandResponse() []byte {
	return []byte{RespUnknownCmd, ReasonUnspecified}
}
