// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package sqlite3

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	messagesWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gorosbag_sqlite3_messages_written",
		Help: "Count of messages inserted into SQLite storage files.",
	})

	bytesWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gorosbag_sqlite3_bytes_written",
		Help: "Count of blob bytes inserted into SQLite storage files.",
	})

	transactionsCommitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gorosbag_sqlite3_transactions",
		Help: "Count of write transactions committed.",
	})

	messagesRead = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gorosbag_sqlite3_messages_read",
		Help: "Count of messages read from SQLite storage files.",
	})

	readErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gorosbag_sqlite3_read_errors",
		Help: "Count of errors encountered while reading messages.",
	}, []string{"type"})
)

// RegisterMonitoring registers all of this package's monitoring metrics.
func RegisterMonitoring(reg prometheus.Registerer) {
	reg.MustRegister(
		// Writer
		messagesWritten,
		bytesWritten,
		transactionsCommitted,

		// Reader
		messagesRead,
		readErrors,
	)
}
