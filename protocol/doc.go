// Package protocol implements the Magstim stimulator serial communication protocol.
//
// This package provides functions to build command frames and decode response
// frames for Magstim 200-series, BiStim and Rapid transcranial magnetic
// stimulators.
//
// # Protocol Overview
//
// The protocol is ASCII based. Every frame ends with a one-byte checksum:
//
//	Command:  [CODE][FIELD...][CHECKSUM]
//	Response: [ECHO][STATUS][STATUS2?][FIELD...][CHECKSUM]
//
// Where:
//   - CODE = single ASCII command code (e.g. 'Q', 'E', '@')
//   - FIELD = zero-padded ASCII numeric fields in device units
//   - ECHO = the command code repeated by the device
//   - STATUS = bit-encoded instrument status (Rapid systems add a second byte)
//   - CHECKSUM = bitwise inverse of the 8-bit sum of all preceding bytes
//
// Two reply shapes break the pattern: a lone '?' means the command code was
// not recognised, and an echo followed by '?' or 'S' means the data field was
// rejected or conflicted with the current settings. Version replies ('N') are
// NUL-terminated rather than fixed length.
//
// # Command Builders
//
// Use the Build* functions to create Command values, which carry the framed
// bytes together with the expected reply shape:
//
//	cmd := protocol.BuildArmCmd()
//	cmd, err := protocol.BuildSetPowerCmd(protocol.CmdSetPower, 65)
//	// ... etc
//
// # Response Decoding
//
// Decode validates a raw reply against the originating Command before any
// field is interpreted: the checksum is verified first, then the echo byte,
// then the fields. A corrupted frame is reported as *ChecksumMismatchError,
// never as data.
//
//	resp, err := protocol.Decode(cmd, raw)
//	if err != nil { ... }
//	if resp.Status.Ready { ... }
package protocol
