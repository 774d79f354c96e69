// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package cdr implements the Common Data Representation encoding used for
// ROS 2 message payloads.
//
// A CDR buffer begins with a 4-byte encapsulation header. The second byte of
// the header selects the byte order of the remainder of the buffer: 0 for big
// endian, 1 for little endian. Everything after the header is the payload.
//
// Payload rules:
//
//   - Every primitive starts at an offset, relative to the start of the
//     payload, that is a multiple of its own size (1, 2, 4 or 8 bytes).
//     Padding bytes are zero on write and ignored on read.
//   - Booleans occupy a single byte.
//   - Strings are a 4-byte length, counting a trailing NUL, followed by the
//     UTF-8 bytes and the NUL.
//   - Variable-length sequences are a 4-byte element count followed by the
//     elements. Fixed-length arrays have no count.
//   - Structures are their fields, in declaration order. A structure with no
//     fields is serialized as a single placeholder byte.
//
// Decoder and Encoder expose the primitive operations. Registry layers a
// data-driven schema catalog on top of them: message types are registered as
// ".msg" definitions and then encoded or decoded generically as Struct values.
package cdr
