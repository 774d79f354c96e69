// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package rosbag

import (
	"github.com/danjacques/gorosbag/storage/mcap"
	"github.com/danjacques/gorosbag/storage/sqlite3"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	bagsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gorosbag_bags_created",
		Help: "Count of bags created for writing.",
	})

	storageFilesCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gorosbag_storage_files_created",
		Help: "Count of storage files created, including split files.",
	})

	messagesWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gorosbag_messages_written",
		Help: "Count of messages written to bags.",
	})

	bytesWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gorosbag_bytes_written",
		Help: "Count of uncompressed payload bytes written to bags.",
	})

	bagsOpened = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gorosbag_bags_opened",
		Help: "Count of bags opened for reading.",
	})

	filesDecompressed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gorosbag_files_decompressed",
		Help: "Count of compressed storage files staged for reading.",
	})

	messagesRead = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gorosbag_messages_read",
		Help: "Count of messages read from bags.",
	})

	readErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gorosbag_read_errors",
		Help: "Count of per-item errors returned while reading bags.",
	})

	copyErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gorosbag_copy_skipped",
		Help: "Count of unreadable items skipped while copying bags.",
	})

	bagsRebuilt = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gorosbag_bags_rebuilt",
		Help: "Count of bags whose metadata was rebuilt.",
	})
)

// RegisterMonitoring registers all of this package's monitoring metrics,
// along with those of the storage backends.
func RegisterMonitoring(reg prometheus.Registerer) {
	reg.MustRegister(
		// Writer
		bagsCreated,
		storageFilesCreated,
		messagesWritten,
		bytesWritten,

		// Reader
		bagsOpened,
		filesDecompressed,
		messagesRead,
		readErrors,

		// Maintenance
		copyErrors,
		bagsRebuilt,
	)

	sqlite3.RegisterMonitoring(reg)
	mcap.RegisterMonitoring(reg)
}
