// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package mcap

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	messagesWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gorosbag_mcap_messages_written",
		Help: "Count of messages written to MCAP storage files.",
	})

	chunksWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gorosbag_mcap_chunks_written",
		Help: "Count of chunks written to MCAP storage files.",
	})

	bytesWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gorosbag_mcap_bytes_written",
		Help: "Count of chunk bytes written to MCAP storage files, after compression.",
	})

	messagesRead = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gorosbag_mcap_messages_read",
		Help: "Count of messages read from MCAP storage files.",
	})

	chunksRead = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gorosbag_mcap_chunks_read",
		Help: "Count of chunks loaded from MCAP storage files.",
	})

	readErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gorosbag_mcap_read_errors",
		Help: "Count of errors encountered while reading messages.",
	}, []string{"type"})
)

// RegisterMonitoring registers all of this package's monitoring metrics.
func RegisterMonitoring(reg prometheus.Registerer) {
	reg.MustRegister(
		// Writer
		messagesWritten,
		chunksWritten,
		bytesWritten,

		// Reader
		messagesRead,
		chunksRead,
		readErrors,
	)
}
