// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package baginfo defines the logic for the "baginfo" tool, which prints a
// bag's metadata.
package baginfo

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/danjacques/gorosbag/bag"
	"github.com/danjacques/gorosbag/support/fmtutil"
	"github.com/danjacques/gorosbag/tools/toolcfg"
)

// Main is the main entry point.
func Main() {
	toolcfg.Exit("baginfo", Run(os.Args[1:], os.Stdout, os.Stderr))
}

// Run runs baginfo with args, writing the report to stdout and logs to
// stderr.
func Run(args []string, stdout, stderr io.Writer) error {
	t := toolcfg.New("baginfo", "<bag>", false)
	t.SetOutput(stderr)
	if err := t.Parse(args); err != nil {
		return err
	}
	pos, err := t.ExpectArgs(1)
	if err != nil {
		return err
	}

	cfg, err := t.Config(t.Logger(stderr))
	if err != nil {
		return err
	}
	r, err := cfg.Open(pos[0])
	if err != nil {
		return err
	}
	defer r.Close()

	return Print(stdout, r.Path(), r.Metadata())
}

// Print writes a report on md, the metadata of the bag at path, to w.
func Print(w io.Writer, path string, md *bag.Metadata) error {
	var b strings.Builder
	line := func(key, format string, args ...interface{}) {
		if key != "" {
			key += ":"
		}
		fmt.Fprintf(&b, "%-20s", key)
		fmt.Fprintf(&b, format, args...)
		b.WriteByte('\n')
	}

	line("Files", "%s", strings.Join(md.RelativeFilePaths, ", "))
	line("Bag size", "%s", fmtutil.Size(bagSize(path, md)))
	line("Storage id", "%s", md.StorageIdentifier)
	line("Version", "%d", md.Version)
	if md.ROSDistro != "" {
		line("ROS distro", "%s", md.ROSDistro)
	}
	if md.CompressionMode != bag.CompressionNone {
		line("Compression", "%s (%s)", md.CompressionFormat, md.CompressionMode)
	}
	line("Duration", "%s", time.Duration(md.Duration))
	if md.MessageCount > 0 {
		line("Start", "%s", fmtutil.Timestamp(md.StartingTime))
		line("End", "%s", fmtutil.Timestamp(md.StartingTime+md.Duration))
	}
	line("Messages", "%d", md.MessageCount)

	for i, t := range md.Topics {
		key := ""
		if i == 0 {
			key = "Topic information"
		}
		line(key, "Topic: %s | Type: %s | Count: %d | Serialization Format: %s",
			t.Topic, t.MessageType, t.MessageCount, t.SerializationFormat)
	}

	if len(md.CustomData) > 0 {
		b.WriteString("Custom data:\n")
		for _, k := range sortedKeys(md.CustomData) {
			fmt.Fprintf(&b, "  %s: %s\n", k, md.CustomData[k])
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// bagSize returns the size of the bag's storage files on disk.
func bagSize(path string, md *bag.Metadata) (size int64) {
	st, err := os.Stat(path)
	if err != nil {
		return 0
	}
	if !st.IsDir() {
		return st.Size()
	}

	for _, rel := range md.RelativeFilePaths {
		if st, err := os.Stat(filepath.Join(path, rel)); err == nil {
			size += st.Size()
		}
	}
	return
}
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
