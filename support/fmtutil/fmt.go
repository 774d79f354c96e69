// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package fmtutil contains formatting helpers for the command line tools.
package fmtutil

import (
	"encoding/hex"
	"fmt"
	"time"
)

// Hex is a byte slice that renders as a hex-dumped string.
//
// It can be used for easy lazy hex dumping.
type Hex []byte

func (h Hex) String() string { return hex.Dump([]byte(h)) }

// Size is a byte count that renders with a binary unit suffix.
//
// Output as: "1.5 KiB"
type Size int64

func (s Size) String() string {
	const unit = 1024
	if s < unit {
		return fmt.Sprintf("%d B", int64(s))
	}

	div, exp := int64(unit), 0
	for n := int64(s) / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(s)/float64(div), "KMGTPE"[exp])
}

// Timestamp is a time in nanoseconds since the epoch. It renders in UTC with
// its raw value.
//
// Output as: "2021-01-02T03:04:05.000000006Z (1609556645000000006)"
type Timestamp int64

func (ts Timestamp) String() string {
	return fmt.Sprintf("%s (%d)", time.Unix(0, int64(ts)).UTC().Format(time.RFC3339Nano), int64(ts))
}
