// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package rosbag

import (
	"github.com/danjacques/gorosbag/bag"
	"github.com/danjacques/gorosbag/cdr"
	"github.com/danjacques/gorosbag/storage"
	"github.com/danjacques/gorosbag/storage/mcap"
	"github.com/danjacques/gorosbag/storage/sqlite3"
	"github.com/danjacques/gorosbag/support/logging"

	"github.com/pkg/errors"
)

// DefaultStorage is the backend used when Config.Storage is empty.
const DefaultStorage = bag.StorageSQLite3

// Config configures bag readers and writers.
//
// The zero value is a valid configuration.
type Config struct {
	// Storage is the backend used to write bags.
	Storage bag.StorageID

	// CompressionMode and CompressionFormat control compression of written
	// bags. If CompressionMode is set and CompressionFormat is not, zstd is
	// used.
	CompressionMode   bag.CompressionMode
	CompressionFormat bag.CompressionFormat
	// CompressionLevel is the zstd level. Zero selects the default.
	CompressionLevel int

	// ChunkSize is the MCAP chunk threshold, in bytes.
	ChunkSize int
	// BatchMessages and BatchBytes bound SQLite write transactions.
	BatchMessages int
	BatchBytes    int

	// MaxFileSize, if positive, starts a new storage file once the current
	// one holds at least this many bytes.
	MaxFileSize int64

	// ROSDistro is recorded in written bags.
	ROSDistro string

	// Definitions, if not nil, supplies message definitions for connections
	// created by Writer.Write.
	Definitions *cdr.Registry

	// TempDir is the directory used to stage decompressed files and copies.
	// If empty, the system default is used.
	TempDir string

	// Logger, if not nil, receives diagnostics.
	Logger logging.L
}

func (cfg *Config) logger() logging.L { return logging.Must(cfg.Logger) }

func (cfg *Config) storageID() bag.StorageID {
	if cfg.Storage == "" {
		return DefaultStorage
	}
	return cfg.Storage
}

func (cfg *Config) compression() (bag.CompressionFormat, bag.CompressionMode) {
	if cfg.CompressionMode == bag.CompressionNone {
		return bag.CompressionFormatNone, bag.CompressionNone
	}
	if cfg.CompressionFormat == bag.CompressionFormatNone {
		return bag.CompressionFormatZstd, cfg.CompressionMode
	}
	return cfg.CompressionFormat, cfg.CompressionMode
}

func (cfg *Config) rosDistro() string {
	if cfg.ROSDistro == "" {
		return bag.DefaultROSDistro
	}
	return cfg.ROSDistro
}

// writeOptions returns the backend options for writing.
func (cfg *Config) writeOptions() storage.Options {
	format, mode := cfg.compression()
	return storage.Options{
		CompressionMode:   mode,
		CompressionFormat: format,
		CompressionLevel:  cfg.CompressionLevel,
		ChunkSize:         cfg.ChunkSize,
		BatchMessages:     cfg.BatchMessages,
		BatchBytes:        cfg.BatchBytes,
		ROSDistro:         cfg.rosDistro(),
		Logger:            cfg.Logger,
	}
}

// createStorage creates a storage file for backend id.
func createStorage(id bag.StorageID, path string, opts storage.Options) (storage.Writer, error) {
	var (
		w   storage.Writer
		err error
	)
	switch id {
	case bag.StorageSQLite3:
		w, err = sqlite3.Create(path, opts)
	case bag.StorageMCAP:
		w, err = mcap.Create(path, opts)
	default:
		return nil, bag.NewError(bag.KindUsage, path, errors.Errorf("unknown storage identifier %q", id))
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}

// openStorage opens a storage file for backend id.
func openStorage(id bag.StorageID, path string, opts storage.Options) (storage.Reader, error) {
	var (
		r   storage.Reader
		err error
	)
	switch id {
	case bag.StorageSQLite3:
		r, err = sqlite3.Open(path, opts)
	case bag.StorageMCAP:
		r, err = mcap.Open(path, opts)
	default:
		return nil, bag.NewError(bag.KindStorage, path, errors.Errorf("unknown storage identifier %q", id))
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}
